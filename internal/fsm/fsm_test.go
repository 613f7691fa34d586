package fsm

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/otpedge/internal/dbiface"
	"github.com/udisondev/otpedge/internal/dcschema"
	"github.com/udisondev/otpedge/internal/kvstore"
	"github.com/udisondev/otpedge/internal/md"
	"github.com/udisondev/otpedge/internal/mdlink"
	"github.com/udisondev/otpedge/internal/mdproto"
	"github.com/udisondev/otpedge/internal/otpchannel"
	"github.com/udisondev/otpedge/internal/wire"
)

// fakeDatabase is an in-memory stand-in for the Database Server: enough
// of CREATE_OBJECT/OBJECT_GET_ALL/OBJECT_SET_FIELDS to exercise the FSMs
// against real object state across multiple requests.
type fakeDatabase struct {
	mu      sync.Mutex
	nextID  uint32
	classOf map[uint32]string
	fields  map[uint32]map[string][]byte
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{nextID: 1, classOf: make(map[uint32]string), fields: make(map[uint32]map[string][]byte)}
}

func (f *fakeDatabase) serve(link *mdlink.Link) {
	for {
		dg, err := link.Recv()
		if err != nil {
			return
		}
		r := wire.NewReader(dg.Payload)
		switch dg.MsgType {
		case dbiface.MsgCreateObject:
			ctxID, _ := r.Uint32()
			class, _ := r.String()
			count, _ := r.Uint16()
			values := make(map[string][]byte, count)
			for i := uint16(0); i < count; i++ {
				name, _ := r.String()
				n, _ := r.Uint16()
				val, _ := r.Bytes(int(n))
				values[name] = append([]byte(nil), val...)
			}
			f.mu.Lock()
			id := f.nextID
			f.nextID++
			f.classOf[id] = class
			f.fields[id] = values
			f.mu.Unlock()

			w := wire.NewWriter()
			w.PutUint32(ctxID)
			w.PutUint32(id)
			link.Send(mdproto.Datagram{
				Recipients: []otpchannel.Channel{dg.Sender},
				Sender:     otpchannel.Database,
				MsgType:    dbiface.MsgCreateObjectResp,
				Payload:    w.Bytes(),
			})
		case dbiface.MsgObjectGetAll:
			ctxID, _ := r.Uint32()
			doID, _ := r.Uint32()
			f.mu.Lock()
			class := f.classOf[doID]
			values := f.fields[doID]
			f.mu.Unlock()

			w := wire.NewWriter()
			w.PutUint32(ctxID)
			w.PutString(class)
			w.PutUint16(uint16(len(values)))
			for name, val := range values {
				w.PutString(name)
				w.PutUint16(uint16(len(val)))
				w.PutBytes(val)
			}
			link.Send(mdproto.Datagram{
				Recipients: []otpchannel.Channel{dg.Sender},
				Sender:     otpchannel.Database,
				MsgType:    dbiface.MsgObjectGetAllResp,
				Payload:    w.Bytes(),
			})
		case dbiface.MsgObjectSetFields:
			doID, _ := r.Uint32()
			_, _ = r.String() // class, unused: the fake trusts the caller
			count, _ := r.Uint16()
			f.mu.Lock()
			if f.fields[doID] == nil {
				f.fields[doID] = make(map[string][]byte)
			}
			for i := uint16(0); i < count; i++ {
				name, _ := r.String()
				n, _ := r.Uint16()
				val, _ := r.Bytes(int(n))
				f.fields[doID][name] = append([]byte(nil), val...)
			}
			f.mu.Unlock()
		}
	}
}

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

func newTestClient(t *testing.T, ln net.Listener, self otpchannel.Channel) *dbiface.Client {
	t.Helper()
	dbLink, err := mdlink.Dial(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, dbLink.SetChannel(otpchannel.Database))
	t.Cleanup(func() { dbLink.Close() })
	go newFakeDatabase().serve(dbLink)

	link, err := mdlink.Dial(ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { link.Close() })

	client, err := dbiface.New(link, self, time.Second)
	require.NoError(t, err)
	go client.Run(context.Background())
	return client
}

func TestLoadAccountFSMCreatesOnFirstToken(t *testing.T) {
	ln := startServer(t)
	client := newTestClient(t, ln, otpchannel.ClientAgent)
	schema := dcschema.NewDefaultSchema()
	kv, err := kvstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	ctx := context.Background()
	result, err := LoadAccountFSM(ctx, client, kv, schema, "tok-a", 1000)
	require.NoError(t, err)
	require.True(t, result.Created)
	require.NotZero(t, result.AccountID)

	again, err := LoadAccountFSM(ctx, client, kv, schema, "tok-a", 1000)
	require.NoError(t, err)
	require.False(t, again.Created)
	require.Equal(t, result.AccountID, again.AccountID)
}

func TestCreateRetrieveDeleteAvatarFSMs(t *testing.T) {
	ln := startServer(t)
	client := newTestClient(t, ln, otpchannel.ClientAgent+1)
	schema := dcschema.NewDefaultSchema()
	kv, err := kvstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	ctx := context.Background()
	acc, err := LoadAccountFSM(ctx, client, kv, schema, "tok-b", 1000)
	require.NoError(t, err)

	avatarID, err := CreateAvatarFSM(ctx, client, schema, acc.AccountID, []byte{1, 2, 3}, 2)
	require.NoError(t, err)
	require.NotZero(t, avatarID)

	avatars, err := RetrieveAvatarsFSM(ctx, client, schema, acc.AccountID)
	require.NoError(t, err)
	require.Len(t, avatars, 1)
	require.Equal(t, avatarID, avatars[0].DoID)
	require.Equal(t, "Toon", avatars[0].NameList[0])
	require.EqualValues(t, 2, avatars[0].Pos)

	set, err := DeleteAvatarFSM(ctx, client, schema, acc.AccountID, avatarID)
	require.NoError(t, err)
	require.EqualValues(t, 0, set[2])

	remaining, err := RetrieveAvatarsFSM(ctx, client, schema, acc.AccountID)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestSetNameAndSetNamePatternFSMs(t *testing.T) {
	ln := startServer(t)
	client := newTestClient(t, ln, otpchannel.ClientAgent+2)
	schema := dcschema.NewDefaultSchema()
	kv, err := kvstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	ctx := context.Background()
	acc, err := LoadAccountFSM(ctx, client, kv, schema, "tok-c", 1000)
	require.NoError(t, err)
	avatarID, err := CreateAvatarFSM(ctx, client, schema, acc.AccountID, []byte{9}, 0)
	require.NoError(t, err)

	require.NoError(t, SetNameFSM(ctx, client, schema, avatarID, "Custom Name"))
	_, fields, err := GetAvatarDetailsFSM(ctx, client, schema, avatarID)
	require.NoError(t, err)
	toon, _ := schema.Class("DistributedToon")
	values, err := dbiface.Unpack(toon, fields)
	require.NoError(t, err)
	require.Equal(t, "Custom Name", values["setName"])

	name, err := SetNamePatternFSM(ctx, client, schema, avatarID, [4]NamePart{
		{Text: "silly", Capitalize: true},
		{Text: "goose", Capitalize: true},
		{Text: "Quack", Capitalize: false},
		{Text: "ers", Capitalize: false},
	})
	require.NoError(t, err)
	require.Equal(t, "Silly Goose Quackers", name)
}

func TestSetAvatarZonesFSMAppendsHoodOnce(t *testing.T) {
	ln := startServer(t)
	client := newTestClient(t, ln, otpchannel.ClientAgent+3)
	schema := dcschema.NewDefaultSchema()
	kv, err := kvstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	ctx := context.Background()
	acc, err := LoadAccountFSM(ctx, client, kv, schema, "tok-d", 1000)
	require.NoError(t, err)
	avatarID, err := CreateAvatarFSM(ctx, client, schema, acc.AccountID, nil, 0)
	require.NoError(t, err)

	require.NoError(t, SetAvatarZonesFSM(ctx, client, schema, avatarID, 2000, 2200))
	require.NoError(t, SetAvatarZonesFSM(ctx, client, schema, avatarID, 2000, 2300))

	toon, _ := schema.Class("DistributedToon")
	_, fields, err := GetAvatarDetailsFSM(ctx, client, schema, avatarID)
	require.NoError(t, err)
	values, err := dbiface.Unpack(toon, fields)
	require.NoError(t, err)
	visited := values["setHoodsVisited"].([]uint32)
	require.Equal(t, []uint32{2000}, visited, "hood must not be appended twice")
	require.EqualValues(t, 2000, values["setLastHood"])
	require.EqualValues(t, 2300, values["setDefaultZone"])
}

type fakePresence struct{ online map[otpchannel.Channel]bool }

func (f *fakePresence) IsOnline(ch otpchannel.Channel) bool { return f.online[ch] }

func TestLoadFriendsListFSMNotifiesOnlineFriends(t *testing.T) {
	ln := startServer(t)
	client := newTestClient(t, ln, otpchannel.ClientAgent+4)
	schema := dcschema.NewDefaultSchema()
	kv, err := kvstore.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	ctx := context.Background()
	acc, err := LoadAccountFSM(ctx, client, kv, schema, "tok-e", 1000)
	require.NoError(t, err)
	avatarID, err := CreateAvatarFSM(ctx, client, schema, acc.AccountID, nil, 0)
	require.NoError(t, err)

	toon, _ := schema.Class("DistributedToon")
	names, fields, err := dbiface.Pack(toon, map[string]any{"setFriendsList": []uint32{111, 222}})
	require.NoError(t, err)
	require.NoError(t, client.SetFields(avatarID, "DistributedToon", names, fields))

	friendLink, err := mdlink.Dial(ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { friendLink.Close() })
	require.NoError(t, friendLink.SetChannel(otpchannel.PuppetChannel(111)))

	notifierLink, err := mdlink.Dial(ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { notifierLink.Close() })

	presence := &fakePresence{online: map[otpchannel.Channel]bool{otpchannel.PuppetChannel(111): true}}
	online, err := LoadFriendsListFSM(ctx, client, schema, notifierLink, avatarID, presence)
	require.NoError(t, err)
	require.Equal(t, []uint32{111}, online)

	friendLink.SetReadDeadline(time.Now().Add(time.Second))
	got, err := friendLink.Recv()
	require.NoError(t, err)
	require.Equal(t, MsgFriendOnlineNotify, got.MsgType)
	notifiedID, err := DecodeFriendNotify(got.Payload)
	require.NoError(t, err)
	require.Equal(t, avatarID, notifiedID)
}

func TestManagerRejectsConcurrentOperationOnSameChannel(t *testing.T) {
	m := NewManager()
	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		Run(m, otpchannel.Channel(1), "slow-op", func() (struct{}, error) {
			close(started)
			<-release
			return struct{}{}, nil
		})
	}()
	<-started

	_, err := Run(m, otpchannel.Channel(1), "second-op", func() (struct{}, error) {
		return struct{}{}, nil
	})
	require.ErrorIs(t, err, ErrBusy)
	close(release)
}
