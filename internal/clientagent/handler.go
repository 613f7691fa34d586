package clientagent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/udisondev/otpedge/internal/clientwire"
)

func (s *Session) heartbeatTimeout() time.Duration {
	seconds := s.agent.cfg.HeartbeatSeconds
	if seconds <= 0 {
		seconds = 15
	}
	return time.Duration(seconds) * time.Second
}

// writeClientFrame sends one frame to the client socket.
func (s *Session) writeClientFrame(msgType uint16, body []byte) error {
	return clientwire.WriteFrame(s.conn, msgType, body)
}

// sendDisconnect writes a GO_GET_LOST frame. The caller still must return
// from the dispatch loop so the connection actually closes (spec.md §8
// scenario 6: one disconnect frame, then the socket closes).
func (s *Session) sendDisconnect(code uint16, reason string) error {
	if err := s.writeClientFrame(clientwire.MsgGoGetLost, clientwire.GoGetLost(code, reason)); err != nil {
		return err
	}
	return errDisconnect
}

// errDisconnect is a sentinel the dispatch loop recognizes as "stop
// reading, the disconnect frame is already on the wire" rather than an
// I/O failure worth logging.
var errDisconnect = fmt.Errorf("clientagent: session disconnected")

// run drives one client session end to end: the State Server receive
// loop in its own goroutine, the client frame loop on the calling
// goroutine, and teardown of both on exit (spec.md §4.7 supplemental:
// avatar delete and friends-offline notices ride the MD's own
// post-remove path, fired when this session's link disconnects).
func (s *Session) run(ctx context.Context) {
	go s.runStateServer(ctx)

	defer func() {
		if puppet := s.puppetChannel(); puppet != 0 {
			s.agent.unregisterPuppet(puppet)
		}
		if s.getPhase() != phasePreAuth && s.agent.metrics != nil {
			s.agent.metrics.AuthenticatedGauge.Dec()
		}
	}()

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.heartbeatTimeout())); err != nil {
			return
		}
		frame, err := clientwire.ReadFrame(s.conn)
		if err != nil {
			if isTimeout(err) {
				s.sendDisconnect(clientwire.DisconnectNoHeartbeat, "no heartbeat")
				if s.agent.metrics != nil {
					s.agent.metrics.Disconnects.WithLabelValues("no_heartbeat").Inc()
				}
			}
			return
		}

		if err := s.dispatchClientFrame(ctx, frame); err != nil {
			if err == errDisconnect {
				return
			}
			slog.Warn("clientagent: handling client frame failed", "msgType", frame.Type, "err", err)
			return
		}
	}
}

func isTimeout(err error) bool {
	type timeoutErr interface{ Timeout() bool }
	te, ok := err.(timeoutErr)
	return ok && te.Timeout()
}

func (s *Session) dispatchClientFrame(ctx context.Context, frame clientwire.Frame) error {
	if frame.Type == clientwire.MsgHeartbeat {
		return nil
	}
	if frame.Type == clientwire.MsgDisconnect {
		return errDisconnect
	}

	phase := s.getPhase()

	switch frame.Type {
	case clientwire.MsgLogin2:
		return s.handleLogin2(ctx, frame.Body)
	case clientwire.MsgLoginToontown:
		return s.handleLoginToontown(ctx, frame.Body)
	}

	if phase == phasePreAuth {
		return s.sendDisconnect(clientwire.DisconnectAnonymousViolation, "login required")
	}

	switch frame.Type {
	case clientwire.MsgGetAvatars:
		return s.handleGetAvatars(ctx, frame.Body)
	case clientwire.MsgCreateAvatar:
		return s.handleCreateAvatar(ctx, frame.Body)
	case clientwire.MsgDeleteAvatar:
		return s.handleDeleteAvatar(ctx, frame.Body)
	case clientwire.MsgGetAvatarDetails:
		return s.handleGetAvatarDetails(ctx, frame.Body)
	case clientwire.MsgSetAvatar:
		return s.handleSetAvatar(ctx, frame.Body)
	case clientwire.MsgSetWishname:
		return s.handleSetWishname(ctx, frame.Body)
	case clientwire.MsgSetNamePattern:
		return s.handleSetNamePattern(ctx, frame.Body)
	case clientwire.MsgGetFriendList:
		return s.handleGetFriendList(ctx, frame.Body)
	case clientwire.MsgGetShardList:
		return s.handleGetShardList(ctx, frame.Body)
	case clientwire.MsgSetShard:
		return s.handleSetShard(ctx, frame.Body)
	case clientwire.MsgSetZone:
		return s.handleSetZone(ctx, frame.Body)
	}

	if phase != phasePlaying {
		return s.sendDisconnect(clientwire.DisconnectAnonymousViolation, "avatar required")
	}

	switch frame.Type {
	case clientwire.MsgAddInterest:
		return s.handleAddInterest(ctx, frame.Body)
	case clientwire.MsgRemoveInterest:
		return s.handleRemoveInterest(ctx, frame.Body)
	case clientwire.MsgObjectLocation:
		return s.handleObjectLocation(ctx, frame.Body)
	case clientwire.MsgObjectUpdateField:
		return s.handleObjectUpdateField(ctx, frame.Body)
	}

	return s.sendDisconnect(clientwire.DisconnectInvalidMsgType, "unknown message type")
}
