package mdlink

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/otpedge/internal/md"
	"github.com/udisondev/otpedge/internal/mdproto"
	"github.com/udisondev/otpedge/internal/otpchannel"
)

func startServer(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := md.NewServer(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		ln.Close()
	})
	return ln
}

func mustDial(t *testing.T, ln net.Listener) *Link {
	t.Helper()
	link, err := Dial(ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })
	return link
}

func TestSetChannelThenRouteDelivers(t *testing.T) {
	ln := startServer(t)

	receiver := mustDial(t, ln)
	sender := mustDial(t, ln)

	require.NoError(t, receiver.SetChannel(3000))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, sender.Send(mdproto.Datagram{
		Recipients: []otpchannel.Channel{3000},
		Sender:     4000,
		MsgType:    1,
		Payload:    []byte("hi"),
	}))

	receiver.conn.SetReadDeadline(time.Now().Add(time.Second))
	got, err := receiver.Recv()
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), got.Payload)
	require.EqualValues(t, 4000, got.Sender)
}

func TestRemoveChannelStopsDelivery(t *testing.T) {
	ln := startServer(t)

	receiver := mustDial(t, ln)
	sender := mustDial(t, ln)

	require.NoError(t, receiver.SetChannel(3001))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, receiver.RemoveChannel(3001))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, sender.Send(mdproto.Datagram{
		Recipients: []otpchannel.Channel{3001},
		Sender:     1,
		MsgType:    1,
	}))

	receiver.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err := receiver.Recv()
	require.Error(t, err)
}

func TestAddPostRemoveFiresOnDisconnect(t *testing.T) {
	ln := startServer(t)

	victim := mustDial(t, ln)
	observer := mustDial(t, ln)
	require.NoError(t, observer.SetChannel(3002))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, victim.AddPostRemove(9000, mdproto.Datagram{
		Recipients: []otpchannel.Channel{3002},
		Sender:     9000,
		MsgType:    1,
		Payload:    []byte("bye"),
	}))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, victim.Close())

	observer.conn.SetReadDeadline(time.Now().Add(time.Second))
	got, err := observer.Recv()
	require.NoError(t, err)
	require.Equal(t, []byte("bye"), got.Payload)
}

func TestClearPostRemoveSuppressesQueuedDatagram(t *testing.T) {
	ln := startServer(t)

	victim := mustDial(t, ln)
	observer := mustDial(t, ln)
	require.NoError(t, observer.SetChannel(3003))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, victim.AddPostRemove(9001, mdproto.Datagram{
		Recipients: []otpchannel.Channel{3003},
		Sender:     9001,
		MsgType:    1,
		Payload:    []byte("should-not-arrive"),
	}))
	require.NoError(t, victim.ClearPostRemove(9001))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, victim.Close())

	observer.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err := observer.Recv()
	require.Error(t, err)
}
