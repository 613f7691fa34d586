package dbiface

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/otpedge/internal/dcschema"
	"github.com/udisondev/otpedge/internal/md"
	"github.com/udisondev/otpedge/internal/mdlink"
	"github.com/udisondev/otpedge/internal/mdproto"
	"github.com/udisondev/otpedge/internal/otpchannel"
	"github.com/udisondev/otpedge/internal/wire"
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

// fakeDBServer stands in for the reference Database Server, answering
// CREATE_OBJECT and OBJECT_GET_ALL requests addressed to otpchannel.Database.
func fakeDBServer(t *testing.T, ln net.Listener) *mdlink.Link {
	t.Helper()
	link, err := mdlink.Dial(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, link.SetChannel(otpchannel.Database))
	t.Cleanup(func() { link.Close() })

	go func() {
		for {
			dg, err := link.Recv()
			if err != nil {
				return
			}
			r := wire.NewReader(dg.Payload)
			ctxID, err := r.Uint32()
			if err != nil {
				continue
			}
			switch dg.MsgType {
			case MsgCreateObject:
				w := wire.NewWriter()
				w.PutUint32(ctxID)
				w.PutUint32(42)
				link.Send(mdproto.Datagram{
					Recipients: []otpchannel.Channel{dg.Sender},
					Sender:     otpchannel.Database,
					MsgType:    MsgCreateObjectResp,
					Payload:    w.Bytes(),
				})
			case MsgObjectGetAll:
				w := wire.NewWriter()
				w.PutUint32(ctxID)
				w.PutString("Account")
				w.PutUint16(1)
				w.PutString("BLAST_NAME")
				nv := wire.NewWriter()
				nv.PutString("Alice")
				nameVal := nv.Bytes()
				w.PutUint16(uint16(len(nameVal)))
				w.PutBytes(nameVal)
				link.Send(mdproto.Datagram{
					Recipients: []otpchannel.Channel{dg.Sender},
					Sender:     otpchannel.Database,
					MsgType:    MsgObjectGetAllResp,
					Payload:    w.Bytes(),
				})
			}
		}
	}()
	return link
}

func TestCreateObjectRoundTrip(t *testing.T) {
	ln := startServer(t)
	fakeDBServer(t, ln)

	link, err := mdlink.Dial(ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })

	client, err := New(link, otpchannel.ClientAgent, time.Second)
	require.NoError(t, err)
	go client.Run(context.Background())

	class := dcschema.NewClass("Account", []dcschema.Field{
		{Index: 0, Name: "BLAST_NAME", Codec: dcschema.StringCodec},
	})
	names, fields, err := Pack(class, map[string]any{"BLAST_NAME": "Alice"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	doID, err := client.CreateObject(ctx, "Account", names, fields)
	require.NoError(t, err)
	require.EqualValues(t, 42, doID)
}

func TestGetAllRoundTrip(t *testing.T) {
	ln := startServer(t)
	fakeDBServer(t, ln)

	link, err := mdlink.Dial(ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })

	client, err := New(link, otpchannel.ClientAgent, time.Second)
	require.NoError(t, err)
	go client.Run(context.Background())

	class := dcschema.NewClass("Account", []dcschema.Field{
		{Index: 0, Name: "BLAST_NAME", Codec: dcschema.StringCodec},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	gotClass, fields, err := client.GetAll(ctx, 42)
	require.NoError(t, err)
	require.Equal(t, "Account", gotClass)

	values, err := Unpack(class, fields)
	require.NoError(t, err)
	require.Equal(t, "Alice", values["BLAST_NAME"])
}

func TestCreateObjectTimesOutWhenNoResponse(t *testing.T) {
	ln := startServer(t)
	// No fake DB server subscribed to otpchannel.Database: every request
	// is silently dropped by the MD as an unknown recipient.

	link, err := mdlink.Dial(ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })

	client, err := New(link, otpchannel.ClientAgent, 50*time.Millisecond)
	require.NoError(t, err)
	go client.Run(context.Background())

	class := dcschema.NewClass("Account", []dcschema.Field{
		{Index: 0, Name: "BLAST_NAME", Codec: dcschema.StringCodec},
	})
	names, fields, err := Pack(class, map[string]any{"BLAST_NAME": "Alice"})
	require.NoError(t, err)

	_, err = client.CreateObject(context.Background(), "Account", names, fields)
	require.ErrorIs(t, err, ErrTimeout)

	client.mu.Lock()
	defer client.mu.Unlock()
	require.Empty(t, client.pending, "timed-out context must not be left dangling")
}

func TestSetFieldsIsFireAndForget(t *testing.T) {
	ln := startServer(t)
	dbLink := fakeDBServer(t, ln)
	_ = dbLink

	link, err := mdlink.Dial(ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })

	client, err := New(link, otpchannel.ClientAgent, time.Second)
	require.NoError(t, err)
	go client.Run(context.Background())

	class := dcschema.NewClass("Account", []dcschema.Field{
		{Index: 0, Name: "BLAST_NAME", Codec: dcschema.StringCodec},
	})
	names, fields, err := Pack(class, map[string]any{"BLAST_NAME": "Bob"})
	require.NoError(t, err)

	require.NoError(t, client.SetFields(42, "Account", names, fields))
}
