package clientagent

import (
	"context"

	"github.com/udisondev/otpedge/internal/clientwire"
	"github.com/udisondev/otpedge/internal/interest"
	"github.com/udisondev/otpedge/internal/mdproto"
	"github.com/udisondev/otpedge/internal/otpchannel"
	"github.com/udisondev/otpedge/internal/stateproto"
)

// killCells sends STATE_SERVER_CLEAR_WATCH for each cell the client no
// longer watches and emits OBJECT_DELETE_RESP for every previously-seen,
// non-owned object it had there (spec.md §4.5 steps 3-4). Objects in a
// perma-zone are kept.
func (s *Session) killCells(cells []interest.Cell) error {
	sender := s.getSenderChannel()
	for _, cell := range cells {
		if err := s.link.Send(mdproto.Datagram{
			Recipients: []otpchannel.Channel{otpchannel.StateServer},
			Sender:     sender,
			MsgType:    stateproto.MsgClearWatch,
			Payload:    stateproto.EncodeClearWatch(cell.Parent, cell.Zone),
		}); err != nil {
			return err
		}
		for _, doID := range s.ops.ObjectsInZone(cell.Zone) {
			if s.ops.OwnsObject(doID) || interest.IsPermaZone(cell.Zone) {
				continue
			}
			s.ops.ObjectDeleted(doID)
			if err := s.writeClientFrame(clientwire.MsgObjectDeleteResp, clientwire.EncodeObjectDeleteResp(doID)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) handleAddInterest(ctx context.Context, body []byte) error {
	req, err := clientwire.DecodeAddInterestRequest(body)
	if err != nil {
		return s.sendDisconnect(clientwire.DisconnectTruncatedDatagram, "malformed ADD_INTEREST")
	}

	ctxID := s.allocContext()
	delta, err := s.ops.AddInterest(req.ID, ctxID, req.Parent, req.Zones)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.interestContext[req.ID] = ctxID
	s.mu.Unlock()

	if err := s.killCells(delta.KilledCells); err != nil {
		return err
	}

	if delta.Immediate {
		return s.writeClientFrame(clientwire.MsgDoneInterestResp, clientwire.EncodeDoneInterestResp(req.ID, ctxID))
	}

	s.mu.Lock()
	s.pendingCoverage[ctxID] = req.ID
	s.mu.Unlock()

	return s.link.Send(mdproto.Datagram{
		Recipients: []otpchannel.Channel{otpchannel.StateServer},
		Sender:     s.getSenderChannel(),
		MsgType:    stateproto.MsgGetZonesObjects2,
		Payload:    stateproto.EncodeGetZonesObjects2(ctxID, delta.Parent, delta.NewCoverage),
	})
}

func (s *Session) handleRemoveInterest(ctx context.Context, body []byte) error {
	id, err := clientwire.DecodeRemoveInterestRequest(body)
	if err != nil {
		return s.sendDisconnect(clientwire.DisconnectTruncatedDatagram, "malformed REMOVE_INTEREST")
	}
	delta, ok := s.ops.RemoveInterest(id)
	if !ok {
		return nil
	}
	s.mu.Lock()
	ctxID := s.interestContext[id]
	delete(s.interestContext, id)
	s.mu.Unlock()

	if err := s.killCells(delta.KilledCells); err != nil {
		return err
	}

	// spec.md §4.5 REMOVE_INTEREST: "...remove the Interest, then emit
	// DONE_INTEREST_RESP".
	return s.writeClientFrame(clientwire.MsgDoneInterestResp, clientwire.EncodeDoneInterestResp(id, ctxID))
}

func (s *Session) handleObjectLocation(ctx context.Context, body []byte) error {
	req, err := clientwire.DecodeObjectLocationRequest(body)
	if err != nil {
		return s.sendDisconnect(clientwire.DisconnectTruncatedDatagram, "malformed OBJECT_LOCATION")
	}

	ctxID := s.allocContext()
	s.mu.Lock()
	s.pendingLocation[ctxID] = locationAck{zone: req.Zone}
	s.mu.Unlock()

	// The AI repository that owns req.Parent listens one channel below its
	// own object's channel (spec.md §4.6 "Location change").
	recipient := otpchannel.Channel(uint64(req.Parent) - 1)
	return s.link.Send(mdproto.Datagram{
		Recipients: []otpchannel.Channel{recipient},
		Sender:     s.getSenderChannel(),
		MsgType:    stateproto.MsgObjectSetAI,
		Payload:    stateproto.EncodeObjectSetAI(ctxID, req.Zone),
	})
}

func (s *Session) handleObjectUpdateField(ctx context.Context, body []byte) error {
	req, err := clientwire.DecodeObjectUpdateFieldRequest(body)
	if err != nil {
		return s.sendDisconnect(clientwire.DisconnectTruncatedDatagram, "malformed OBJECT_UPDATE_FIELD")
	}
	return s.link.Send(mdproto.Datagram{
		Recipients: []otpchannel.Channel{otpchannel.StateServer},
		Sender:     s.getSenderChannel(),
		MsgType:    stateproto.MsgObjectUpdateField,
		Payload:    stateproto.EncodeObjectUpdateField(req.DoID, req.Field, req.Value),
	})
}
