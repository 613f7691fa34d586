package fsm

import (
	"context"
	"fmt"

	"github.com/udisondev/otpedge/internal/dbiface"
	"github.com/udisondev/otpedge/internal/dcschema"
	"github.com/udisondev/otpedge/internal/mdlink"
	"github.com/udisondev/otpedge/internal/mdproto"
	"github.com/udisondev/otpedge/internal/otpchannel"
	"github.com/udisondev/otpedge/internal/wire"
)

// Internal-bus notifications a Client Agent sends directly to a friend's
// puppet channel, so that friend's own CA session can update its view of
// who is online (spec.md §4.7).
const (
	MsgFriendOnlineNotify  uint16 = 5001
	MsgFriendOfflineNotify uint16 = 5002
)

// PresenceChecker reports whether a given puppet channel currently has a
// live, playing client behind it. The Client Agent process answers this
// from its own session table; it is not a database query.
type PresenceChecker interface {
	IsOnline(puppet otpchannel.Channel) bool
}

func encodeFriendNotify(friendAvatarID uint32) []byte {
	w := wire.NewWriter()
	w.PutUint32(friendAvatarID)
	return w.Bytes()
}

// DecodeFriendNotify reads the avatar id out of a friend online/offline
// notification payload.
func DecodeFriendNotify(payload []byte) (uint32, error) {
	r := wire.NewReader(payload)
	return r.Uint32()
}

// LoadFriendsListFSM queries avatarID's friends list, classifies each
// friend as online or offline via presence, tells online friends about
// this avatar (with a post-remove to tell them when it leaves), and
// returns the subset currently online so the caller can emit FRIEND_ONLINE
// to the client (spec.md §4.7).
func LoadFriendsListFSM(ctx context.Context, db *dbiface.Client, schema *dcschema.Schema, link *mdlink.Link, avatarID uint32, presence PresenceChecker) ([]uint32, error) {
	toon, err := toonClass(schema)
	if err != nil {
		return nil, err
	}

	_, fields, err := db.GetAll(ctx, avatarID)
	if err != nil {
		return nil, fmt.Errorf("fsm: LoadFriendsListFSM: querying avatar %d: %w", avatarID, err)
	}
	values, err := dbiface.Unpack(toon, fields)
	if err != nil {
		return nil, fmt.Errorf("fsm: LoadFriendsListFSM: unpacking avatar %d: %w", avatarID, err)
	}
	friends, _ := values["setFriendsList"].([]uint32)

	self := otpchannel.PuppetChannel(avatarID)
	var online []uint32
	for _, friendID := range friends {
		friendPuppet := otpchannel.PuppetChannel(friendID)
		if !presence.IsOnline(friendPuppet) {
			continue
		}
		online = append(online, friendID)

		notify := mdproto.Datagram{
			Recipients: []otpchannel.Channel{friendPuppet},
			Sender:     self,
			MsgType:    MsgFriendOnlineNotify,
			Payload:    encodeFriendNotify(avatarID),
		}
		if err := link.Send(notify); err != nil {
			return nil, fmt.Errorf("fsm: LoadFriendsListFSM: notifying friend %d online: %w", friendID, err)
		}

		offline := mdproto.Datagram{
			Recipients: []otpchannel.Channel{friendPuppet},
			Sender:     self,
			MsgType:    MsgFriendOfflineNotify,
			Payload:    encodeFriendNotify(avatarID),
		}
		if err := link.AddPostRemove(self, offline); err != nil {
			return nil, fmt.Errorf("fsm: LoadFriendsListFSM: scheduling offline notice for friend %d: %w", friendID, err)
		}
	}
	return online, nil
}
