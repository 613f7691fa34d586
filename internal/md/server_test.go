package md

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/otpedge/internal/mdproto"
	"github.com/udisondev/otpedge/internal/otpchannel"
)

// testParticipant dials the MD server and gives the test a thin client to
// subscribe/send/receive datagrams.
type testParticipant struct {
	t    *testing.T
	conn net.Conn
}

func dial(t *testing.T, ln net.Listener) *testParticipant {
	t.Helper()
	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testParticipant{t: t, conn: conn}
}

func (p *testParticipant) setChannel(ch otpchannel.Channel) {
	p.t.Helper()
	dg := mdproto.NewControl(ch, mdproto.ControlSetChannel, mdproto.EncodeChannel(ch))
	require.NoError(p.t, mdproto.WriteFrame(p.conn, dg))
}

func (p *testParticipant) removeChannel(ch otpchannel.Channel) {
	p.t.Helper()
	dg := mdproto.NewControl(ch, mdproto.ControlRemoveChannel, mdproto.EncodeChannel(ch))
	require.NoError(p.t, mdproto.WriteFrame(p.conn, dg))
}

func (p *testParticipant) addPostRemove(nested mdproto.Datagram) {
	p.t.Helper()
	body, err := mdproto.Encode(nested)
	require.NoError(p.t, err)
	dg := mdproto.NewControl(nested.Sender, mdproto.ControlAddPostRemove, body)
	require.NoError(p.t, mdproto.WriteFrame(p.conn, dg))
}

func (p *testParticipant) send(dg mdproto.Datagram) {
	p.t.Helper()
	require.NoError(p.t, mdproto.WriteFrame(p.conn, dg))
}

func (p *testParticipant) recv(timeout time.Duration) (mdproto.Datagram, error) {
	p.conn.SetReadDeadline(time.Now().Add(timeout))
	return mdproto.ReadFrame(p.conn)
}

func startServer(t *testing.T) (*Server, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx, ln)
	t.Cleanup(func() {
		cancel()
		ln.Close()
	})
	return srv, ln
}

func TestRouteDatagramToOwner(t *testing.T) {
	_, ln := startServer(t)

	sender := dial(t, ln)
	receiver := dial(t, ln)

	receiver.setChannel(2000)
	time.Sleep(20 * time.Millisecond) // let the server process the control frame

	sender.send(mdproto.Datagram{
		Recipients: []otpchannel.Channel{2000},
		Sender:     otpchannel.Channel(9999),
		MsgType:    55,
		Payload:    []byte("hello"),
	})

	got, err := receiver.recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, []otpchannel.Channel{2000}, got.Recipients)
	require.EqualValues(t, 9999, got.Sender)
	require.Equal(t, []byte("hello"), got.Payload)
}

func TestUnknownRecipientDropsSilently(t *testing.T) {
	_, ln := startServer(t)
	sender := dial(t, ln)

	sender.send(mdproto.Datagram{
		Recipients: []otpchannel.Channel{424242},
		Sender:     otpchannel.Channel(1),
		MsgType:    1,
	})

	// Server must not disconnect sender for this; a subsequent control
	// frame on the same connection should still be processed normally.
	sender.setChannel(5)
	time.Sleep(20 * time.Millisecond)

	sender.send(mdproto.Datagram{Recipients: []otpchannel.Channel{5}, Sender: 1, MsgType: 1, Payload: []byte("ok")})
	got, err := sender.recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), got.Payload)
}

func TestChannelOwnershipIsExclusive(t *testing.T) {
	_, ln := startServer(t)

	a := dial(t, ln)
	b := dial(t, ln)

	a.setChannel(42)
	time.Sleep(20 * time.Millisecond)
	b.setChannel(42) // must be rejected; a keeps ownership
	time.Sleep(20 * time.Millisecond)

	// Only a, the original owner, should receive traffic addressed to 42.
	a.send(mdproto.Datagram{Recipients: []otpchannel.Channel{42}, Sender: 1, MsgType: 1, Payload: []byte("mine")})
	got, err := a.recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte("mine"), got.Payload)

	_, err = b.recv(200 * time.Millisecond)
	require.Error(t, err, "b must not have received the channel-42 datagram it was rejected for")
}

func TestRemoveChannelIsNoopIfNotOwner(t *testing.T) {
	srv, ln := startServer(t)
	a := dial(t, ln)
	b := dial(t, ln)

	a.setChannel(7)
	time.Sleep(20 * time.Millisecond)
	b.removeChannel(7) // b never owned 7; must be a no-op
	time.Sleep(20 * time.Millisecond)

	srv.mu.Lock()
	_, ok := srv.channelToOwner[7]
	srv.mu.Unlock()
	require.True(t, ok, "channel 7 should still be owned by a")
}

func TestPostRemoveFiresInFIFOOrderOnDisconnect(t *testing.T) {
	_, ln := startServer(t)

	victim := dial(t, ln)
	observer := dial(t, ln)

	observer.setChannel(111)
	time.Sleep(20 * time.Millisecond)

	victim.addPostRemove(mdproto.Datagram{
		Recipients: []otpchannel.Channel{111},
		Sender:     otpchannel.Channel(10000),
		MsgType:    1,
		Payload:    []byte("first"),
	})
	victim.addPostRemove(mdproto.Datagram{
		Recipients: []otpchannel.Channel{111},
		Sender:     otpchannel.Channel(10000),
		MsgType:    2,
		Payload:    []byte("second"),
	})
	time.Sleep(20 * time.Millisecond)

	victim.conn.Close()

	first, err := observer.recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), first.Payload)

	second, err := observer.recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), second.Payload)
}

func TestClearPostRemoveEmptiesQueue(t *testing.T) {
	_, ln := startServer(t)

	victim := dial(t, ln)
	observer := dial(t, ln)
	observer.setChannel(222)
	time.Sleep(20 * time.Millisecond)

	victim.addPostRemove(mdproto.Datagram{
		Recipients: []otpchannel.Channel{222},
		Sender:     otpchannel.Channel(1),
		MsgType:    1,
		Payload:    []byte("should-not-arrive"),
	})
	dg := mdproto.NewControl(10000, mdproto.ControlClearPostRemove, nil)
	require.NoError(t, mdproto.WriteFrame(victim.conn, dg))
	time.Sleep(20 * time.Millisecond)

	victim.conn.Close()

	_, err := observer.recv(200 * time.Millisecond)
	require.Error(t, err, "no post-remove datagram should have arrived")
}

func TestMalformedDatagramDisconnectsOnlyOffender(t *testing.T) {
	_, ln := startServer(t)

	bad := dial(t, ln)
	good := dial(t, ln)

	// Write garbage that will fail to decode as a datagram body.
	bad.conn.Write([]byte{1, 0, 0xFF})

	good.setChannel(99)
	time.Sleep(30 * time.Millisecond)

	// good connection must still be alive and usable.
	good.send(mdproto.Datagram{Recipients: []otpchannel.Channel{99}, Sender: 1, MsgType: 1, Payload: []byte("ok")})
	got, err := good.recv(time.Second)
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), got.Payload)
}
