package clientagent

import (
	"context"
	"fmt"

	"github.com/udisondev/otpedge/internal/clientwire"
	"github.com/udisondev/otpedge/internal/dbiface"
	"github.com/udisondev/otpedge/internal/fsm"
	"github.com/udisondev/otpedge/internal/mdproto"
	"github.com/udisondev/otpedge/internal/otpchannel"
	"github.com/udisondev/otpedge/internal/stateproto"
)

func avatarSummaries(in []fsm.ClientAvatarData) []clientwire.AvatarSummary {
	out := make([]clientwire.AvatarSummary, len(in))
	for i, a := range in {
		out[i] = clientwire.AvatarSummary{
			DoID:      a.DoID,
			NameList:  a.NameList,
			DNA:       a.DNA,
			Pos:       a.Pos,
			NameIndex: a.NameIndex,
		}
	}
	return out
}

func (s *Session) handleGetAvatars(ctx context.Context, body []byte) error {
	avatars, err := fsm.RetrieveAvatarsFSM(ctx, s.agent.db, s.agent.schema, s.getAccountID())
	if err != nil {
		return fmt.Errorf("clientagent: RetrieveAvatarsFSM: %w", err)
	}
	return s.writeClientFrame(clientwire.MsgGetAvatarsResp, clientwire.EncodeAvatarList(avatarSummaries(avatars)))
}

func (s *Session) handleCreateAvatar(ctx context.Context, body []byte) error {
	req, err := clientwire.DecodeCreateAvatarRequest(body)
	if err != nil {
		return s.sendDisconnect(clientwire.DisconnectTruncatedDatagram, "malformed CREATE_AVATAR")
	}

	accountID := s.getAccountID()
	avatarID, err := fsm.Run(s.agent.ops, s.channel, "CreateAvatar", func() (uint32, error) {
		return fsm.CreateAvatarFSM(ctx, s.agent.db, s.agent.schema, accountID, req.DNA, int(req.Index))
	})
	if err != nil {
		code := uint8(2)
		if err == fsm.ErrBusy {
			code = 1
		}
		return s.writeClientFrame(clientwire.MsgCreateAvatarResp, clientwire.EncodeCreateAvatarResp(req.Echo, code, 0))
	}
	return s.writeClientFrame(clientwire.MsgCreateAvatarResp, clientwire.EncodeCreateAvatarResp(req.Echo, 0, avatarID))
}

func (s *Session) handleDeleteAvatar(ctx context.Context, body []byte) error {
	avatarID, err := clientwire.DecodeAvatarIDRequest(body)
	if err != nil {
		return s.sendDisconnect(clientwire.DisconnectTruncatedDatagram, "malformed DELETE_AVATAR")
	}

	accountID := s.getAccountID()
	_, err = fsm.Run(s.agent.ops, s.channel, "DeleteAvatar", func() (struct{}, error) {
		_, err := fsm.DeleteAvatarFSM(ctx, s.agent.db, s.agent.schema, accountID, avatarID)
		return struct{}{}, err
	})
	if err != nil {
		return fmt.Errorf("clientagent: DeleteAvatarFSM: %w", err)
	}

	avatars, err := fsm.RetrieveAvatarsFSM(ctx, s.agent.db, s.agent.schema, accountID)
	if err != nil {
		return fmt.Errorf("clientagent: RetrieveAvatarsFSM after delete: %w", err)
	}
	return s.writeClientFrame(clientwire.MsgDeleteAvatarResp, clientwire.EncodeAvatarList(avatarSummaries(avatars)))
}

func (s *Session) handleGetAvatarDetails(ctx context.Context, body []byte) error {
	avatarID, err := clientwire.DecodeAvatarIDRequest(body)
	if err != nil {
		return s.sendDisconnect(clientwire.DisconnectTruncatedDatagram, "malformed GET_AVATAR_DETAILS")
	}
	names, fields, err := fsm.GetAvatarDetailsFSM(ctx, s.agent.db, s.agent.schema, avatarID)
	if err != nil {
		return fmt.Errorf("clientagent: GetAvatarDetailsFSM: %w", err)
	}
	entries := make([]clientwire.FieldEntry, len(names))
	for i, n := range names {
		entries[i] = clientwire.FieldEntry{Name: n, Value: fields[n]}
	}
	return s.writeClientFrame(clientwire.MsgGetAvatarDetailsResp, clientwire.EncodeAvatarDetailsResp(avatarID, entries))
}

func (s *Session) handleSetWishname(ctx context.Context, body []byte) error {
	req, err := clientwire.DecodeSetWishnameRequest(body)
	if err != nil {
		return s.sendDisconnect(clientwire.DisconnectTruncatedDatagram, "malformed SET_WISHNAME")
	}
	if err := fsm.SetNameFSM(ctx, s.agent.db, s.agent.schema, req.AvatarID, req.Name); err != nil {
		return fmt.Errorf("clientagent: SetNameFSM: %w", err)
	}
	return s.writeClientFrame(clientwire.MsgSetWishnameResp, clientwire.EncodeSetWishnameResp(0, req.Name))
}

func (s *Session) handleSetNamePattern(ctx context.Context, body []byte) error {
	req, err := clientwire.DecodeSetNamePatternRequest(body)
	if err != nil {
		return s.sendDisconnect(clientwire.DisconnectTruncatedDatagram, "malformed SET_NAME_PATTERN")
	}
	var parts [4]fsm.NamePart
	for i, p := range req.Parts {
		parts[i] = fsm.NamePart{Text: p.Text, Capitalize: p.Capitalize != 0}
	}
	name, err := fsm.SetNamePatternFSM(ctx, s.agent.db, s.agent.schema, req.AvatarID, parts)
	if err != nil {
		return fmt.Errorf("clientagent: SetNamePatternFSM: %w", err)
	}
	return s.writeClientFrame(clientwire.MsgSetNamePatternResp, clientwire.EncodeSetNamePatternResp(0, name))
}

func (s *Session) handleGetFriendList(ctx context.Context, body []byte) error {
	avatarID := s.getAvatarID()
	if avatarID == 0 {
		return nil
	}
	online, err := fsm.LoadFriendsListFSM(ctx, s.agent.db, s.agent.schema, s.link, avatarID, s.agent)
	if err != nil {
		return fmt.Errorf("clientagent: LoadFriendsListFSM: %w", err)
	}
	return s.writeClientFrame(clientwire.MsgGetFriendListResp, clientwire.EncodeFriendListResp(online))
}

func (s *Session) handleGetShardList(ctx context.Context, body []byte) error {
	ctxID := s.allocContext()
	return s.link.Send(mdproto.Datagram{
		Recipients: []otpchannel.Channel{otpchannel.StateServer},
		Sender:     s.getSenderChannel(),
		MsgType:    stateproto.MsgGetShardAll,
		Payload:    stateproto.EncodeGetShardAll(ctxID),
	})
}

// handleSetShard and handleSetZone are accepted but currently no-ops: this
// deployment runs a single shard, so shard/district selection has nothing
// to route to (Open Question (a)).
func (s *Session) handleSetShard(ctx context.Context, body []byte) error {
	return nil
}

func (s *Session) handleSetZone(ctx context.Context, body []byte) error {
	return nil
}

// handleSetAvatar enters the Playing phase: it grants this session's MD
// channel ownership of the chosen avatar's puppet object and asks the
// State Server to generate it (spec.md §4.6 "Set-avatar"). The client only
// receives CREATE_OBJECT_REQUIRED_OTHER once the State Server (simulated
// in tests, internal/dbserver-adjacent in a real deployment) replies with
// ENTER_OWNER_WITH_REQUIRED_OTHER on the newly-owned channels.
func (s *Session) handleSetAvatar(ctx context.Context, body []byte) error {
	avatarID, err := clientwire.DecodeAvatarIDRequest(body)
	if err != nil {
		return s.sendDisconnect(clientwire.DisconnectTruncatedDatagram, "malformed SET_AVATAR")
	}

	toon, ok := s.agent.schema.Class("DistributedToon")
	if !ok {
		return fmt.Errorf("clientagent: schema has no DistributedToon class")
	}
	_, fields, err := s.agent.db.GetAll(ctx, avatarID)
	if err != nil {
		return fmt.Errorf("clientagent: querying avatar %d: %w", avatarID, err)
	}
	required, err := stateproto.RequiredFieldsFromClass(toon, fields)
	if err != nil {
		return fmt.Errorf("clientagent: ordering required fields: %w", err)
	}

	values, err := dbiface.Unpack(toon, fields)
	if err != nil {
		return fmt.Errorf("clientagent: unpacking avatar %d: %w", avatarID, err)
	}
	zone, _ := values["setDefaultZone"].(uint32)

	accountID := s.getAccountID()
	avatarChannel := otpchannel.AvatarChannel(accountID, avatarID)
	puppetChannel := otpchannel.PuppetChannel(avatarID)

	if err := s.link.SetChannel(avatarChannel); err != nil {
		return fmt.Errorf("clientagent: subscribing avatar channel: %w", err)
	}
	if err := s.link.SetChannel(puppetChannel); err != nil {
		return fmt.Errorf("clientagent: subscribing puppet channel: %w", err)
	}

	s.mu.Lock()
	s.phase = phasePlaying
	s.avatarID = avatarID
	s.senderChannel = avatarChannel
	s.mu.Unlock()

	s.ops.AddOwnedObject(avatarID)
	s.agent.registerPuppet(puppetChannel, s)

	deleteOnDisconnect := mdproto.Datagram{
		Recipients: []otpchannel.Channel{otpchannel.StateServer},
		Sender:     avatarChannel,
		MsgType:    stateproto.MsgObjectDeleteRAM,
		Payload:    stateproto.EncodeObjectDeleteRAM(avatarID),
	}
	if err := s.link.AddPostRemove(avatarChannel, deleteOnDisconnect); err != nil {
		return fmt.Errorf("clientagent: scheduling avatar delete-on-disconnect: %w", err)
	}

	if err := s.link.Send(mdproto.Datagram{
		Recipients: []otpchannel.Channel{otpchannel.StateServer},
		Sender:     avatarChannel,
		MsgType:    stateproto.MsgGenerateWithRequiredOther,
		Payload: stateproto.EncodeGenerate(stateproto.Generate{
			DoID:     avatarID,
			DClass:   "DistributedToon",
			Parent:   0,
			Zone:     zone,
			Required: required,
		}),
	}); err != nil {
		return fmt.Errorf("clientagent: sending GENERATE_WITH_REQUIRED_OTHER: %w", err)
	}

	return s.link.Send(mdproto.Datagram{
		Recipients: []otpchannel.Channel{otpchannel.StateServer},
		Sender:     avatarChannel,
		MsgType:    stateproto.MsgSetOwner,
		Payload:    stateproto.EncodeSetOwner(avatarID, uint64(s.channel)),
	})
}
