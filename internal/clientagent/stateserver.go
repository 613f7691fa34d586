package clientagent

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/udisondev/otpedge/internal/clientwire"
	"github.com/udisondev/otpedge/internal/fsm"
	"github.com/udisondev/otpedge/internal/mdproto"
	"github.com/udisondev/otpedge/internal/stateproto"
	"github.com/udisondev/otpedge/internal/visgroup"
)

func requiredToClient(in []stateproto.RequiredField) []clientwire.FieldEntry {
	out := make([]clientwire.FieldEntry, len(in))
	for i, f := range in {
		out[i] = clientwire.FieldEntry{Name: f.Name, Value: f.Value}
	}
	return out
}

func otherToClient(in []stateproto.OtherField) []clientwire.FieldEntry {
	out := make([]clientwire.FieldEntry, len(in))
	for i, f := range in {
		out[i] = clientwire.FieldEntry{Name: fieldNumberName(f.Number), Value: f.Value}
	}
	return out
}

func fieldNumberName(n uint16) string {
	return "#" + strconv.Itoa(int(n))
}

func (s *Session) contextForInterest(id uint16) (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctxID, ok := s.interestContext[id]
	return ctxID, ok
}

// runStateServer reads the State Server's half of the wire contract off
// this session's own MD link until it errors (connection closed or the
// session's own conn dropped), forwarding object data down to the client
// and feeding the interest manager (spec.md §4.5, §4.6).
func (s *Session) runStateServer(ctx context.Context) {
	for {
		dg, err := s.link.Recv()
		if err != nil {
			return
		}
		if err := s.dispatchStateServer(ctx, dg); err != nil {
			slog.Warn("clientagent: handling State Server datagram failed", "msgType", dg.MsgType, "err", err)
		}
	}
}

func (s *Session) dispatchStateServer(ctx context.Context, dg mdproto.Datagram) error {
	switch dg.MsgType {
	case stateproto.MsgEnterOwnerWithRequired, stateproto.MsgEnterOwnerWithRequiredOther:
		return s.handleEnterOwner(dg)

	case stateproto.MsgEnterLocationWithRequired, stateproto.MsgEnterLocationWithRequiredOther:
		return s.handleEnterLocation(dg)

	case stateproto.MsgGetZonesObjects2Resp:
		return s.handleCoverageResp(dg)

	case stateproto.MsgObjectDeleteRAM:
		doID, err := stateproto.DecodeObjectDeleteRAM(dg.Payload)
		if err != nil {
			return err
		}
		if s.ops.ObjectDeleted(doID) {
			return s.writeClientFrame(clientwire.MsgObjectDeleteResp, clientwire.EncodeObjectDeleteResp(doID))
		}
		return nil

	case stateproto.MsgObjectLocationAck:
		return s.handleLocationAck(ctx, dg)

	case stateproto.MsgObjectUpdateField:
		u, err := stateproto.DecodeObjectUpdateField(dg.Payload)
		if err != nil {
			return err
		}
		return s.writeClientFrame(clientwire.MsgObjectUpdateField, clientwire.EncodeObjectUpdateFieldRequest(clientwire.ObjectUpdateFieldRequest{
			DoID: u.DoID, Field: u.Field, Value: u.Value,
		}))

	case stateproto.MsgGetShardAllResp:
		_, shards, err := stateproto.DecodeGetShardAllResp(dg.Payload)
		if err != nil {
			return err
		}
		out := make([]clientwire.ShardSummary, len(shards))
		for i, sh := range shards {
			available := uint8(0)
			if sh.Available {
				available = 1
			}
			out[i] = clientwire.ShardSummary{ShardID: sh.ShardID, Name: sh.Name, Population: sh.Population, Available: available}
		}
		return s.writeClientFrame(clientwire.MsgGetShardListResp, clientwire.EncodeShardListResp(out))

	default:
		return nil
	}
}

func (s *Session) handleEnterOwner(dg mdproto.Datagram) error {
	e, err := stateproto.DecodeEnterLocation(dg.Payload)
	if err != nil {
		return err
	}
	s.ops.AddOwnedObject(e.DoID)
	hasOther := dg.MsgType == stateproto.MsgEnterOwnerWithRequiredOther
	return s.sendCreateObject(e, hasOther)
}

func (s *Session) handleEnterLocation(dg mdproto.Datagram) error {
	e, err := stateproto.DecodeEnterLocation(dg.Payload)
	if err != nil {
		return err
	}
	shouldForward, completed := s.ops.ObjectEntered(e.DoID, e.Zone)
	if shouldForward {
		hasOther := dg.MsgType == stateproto.MsgEnterLocationWithRequiredOther
		if err := s.sendCreateObject(e, hasOther); err != nil {
			return err
		}
	}
	for _, id := range completed {
		if err := s.finishInterestIfDone(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) sendCreateObject(e stateproto.EnterLocation, hasOther bool) error {
	msgType := clientwire.MsgCreateObjectRequired
	other := []clientwire.FieldEntry(nil)
	if hasOther {
		msgType = clientwire.MsgCreateObjectRequiredOther
		other = otherToClient(e.Other)
	}
	return s.writeClientFrame(msgType, clientwire.EncodeCreateObjectRequired(clientwire.CreateObjectRequired{
		DoID:     e.DoID,
		DClass:   e.DClass,
		Parent:   e.Parent,
		Zone:     e.Zone,
		Required: requiredToClient(e.Required),
		Other:    other,
	}))
}

func (s *Session) handleCoverageResp(dg mdproto.Datagram) error {
	resp, err := stateproto.DecodeGetZonesObjects2Resp(dg.Payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	interestID, ok := s.pendingCoverage[resp.Context]
	delete(s.pendingCoverage, resp.Context)
	s.mu.Unlock()
	if !ok {
		return nil
	}

	s.ops.PendingObjects(interestID, resp.DoIDs)
	return s.finishInterestIfDone(interestID)
}

// finishInterestIfDone emits DONE_INTEREST_RESP once Interest id has no
// pending objects left (spec.md §4.5 step 7).
func (s *Session) finishInterestIfDone(id uint16) error {
	if !s.ops.InterestDone(id) {
		return nil
	}
	ctxID, ok := s.contextForInterest(id)
	if !ok {
		return nil
	}
	return s.writeClientFrame(clientwire.MsgDoneInterestResp, clientwire.EncodeDoneInterestResp(id, ctxID))
}

func (s *Session) handleLocationAck(ctx context.Context, dg mdproto.Datagram) error {
	ctxID, ok, err := stateproto.DecodeObjectLocationAck(dg.Payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	pending, found := s.pendingLocation[ctxID]
	delete(s.pendingLocation, ctxID)
	s.mu.Unlock()
	if !found || !ok {
		return nil
	}

	avatarID := s.getAvatarID()
	if avatarID == 0 {
		return nil
	}
	hood := visgroup.BranchZone(pending.zone)
	return fsm.SetAvatarZonesFSM(ctx, s.agent.db, s.agent.schema, avatarID, hood, pending.zone)
}
