// Package md implements the Message Director: a single-process,
// channel-addressed datagram router (spec.md §4.3). Participants connect
// once over TCP and stay connected; they subscribe to channels with
// control messages, and any other datagram is routed to the participant
// that owns each recipient channel.
package md

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/udisondev/otpedge/internal/mdmetrics"
	"github.com/udisondev/otpedge/internal/mdproto"
	"github.com/udisondev/otpedge/internal/otpchannel"
)

// Server is the MD router. The zero value is not usable; use NewServer.
type Server struct {
	metrics *mdmetrics.Metrics

	mu             sync.Mutex
	participants   map[*participant]struct{}
	channelToOwner map[otpchannel.Channel]*participant
}

// NewServer creates an MD router. metrics may be nil to disable
// instrumentation (tests commonly pass nil).
func NewServer(metrics *mdmetrics.Metrics) *Server {
	return &Server{
		metrics:        metrics,
		participants:   make(map[*participant]struct{}),
		channelToOwner: make(map[otpchannel.Channel]*participant),
	}
}

// Serve accepts participant connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("md: accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleParticipant(conn)
		}()
	}
}

func (s *Server) handleParticipant(conn net.Conn) {
	p := newParticipant(conn)
	s.register(p)
	defer s.unregister(p)
	defer conn.Close()

	for {
		dg, err := mdproto.ReadFrame(conn)
		if err != nil {
			slog.Info("md: participant disconnected", "remote", conn.RemoteAddr(), "reason", err)
			return
		}
		if err := s.handleDatagram(p, dg); err != nil {
			slog.Warn("md: malformed datagram, disconnecting participant", "remote", conn.RemoteAddr(), "err", err)
			return
		}
	}
}

func (s *Server) register(p *participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p] = struct{}{}
	if s.metrics != nil {
		s.metrics.ActiveParticipants.Set(float64(len(s.participants)))
	}
}

func (s *Server) unregister(p *participant) {
	// Fire post-removes before releasing channels, per spec.md §4.3:
	// "emit each queued post-remove datagram in FIFO order through the
	// normal routing path" then "release all subscribed channels".
	for _, dg := range p.drainPostRemove() {
		if err := s.route(dg); err != nil {
			slog.Warn("md: post-remove dispatch failed", "err", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, p)
	for _, ch := range p.ownedChannels() {
		if s.channelToOwner[ch] == p {
			delete(s.channelToOwner, ch)
		}
	}
	if s.metrics != nil {
		s.metrics.ActiveParticipants.Set(float64(len(s.participants)))
		s.metrics.SubscribedChannels.Set(float64(len(s.channelToOwner)))
	}
}

func (s *Server) handleDatagram(p *participant, dg mdproto.Datagram) error {
	if len(dg.Recipients) == 1 && dg.Recipients[0] == otpchannel.ControlChannel {
		return s.handleControl(p, dg)
	}
	return s.route(dg)
}

func (s *Server) handleControl(p *participant, dg mdproto.Datagram) error {
	switch dg.MsgType {
	case mdproto.ControlSetChannel:
		ch, err := decodeChannelPayload(dg.Payload)
		if err != nil {
			return fmt.Errorf("md: CONTROL_SET_CHANNEL: %w", err)
		}
		s.setChannel(p, ch)
		return nil
	case mdproto.ControlRemoveChannel:
		ch, err := decodeChannelPayload(dg.Payload)
		if err != nil {
			return fmt.Errorf("md: CONTROL_REMOVE_CHANNEL: %w", err)
		}
		s.removeChannel(p, ch)
		return nil
	case mdproto.ControlAddPostRemove:
		nested, err := mdproto.Decode(dg.Payload)
		if err != nil {
			return fmt.Errorf("md: CONTROL_ADD_POST_REMOVE: %w", err)
		}
		p.addPostRemove(nested)
		return nil
	case mdproto.ControlClearPostRemove:
		p.clearPostRemove()
		return nil
	default:
		return fmt.Errorf("md: unknown control sub-type %d", dg.MsgType)
	}
}

// setChannel subscribes p to ch. Per spec.md §4.3/§9(c): register iff the
// channel is not already owned by a *different* participant; re-claiming a
// channel this same participant already owns is a no-op.
func (s *Server) setChannel(p *participant, ch otpchannel.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.channelToOwner[ch]; ok {
		if owner == p {
			return
		}
		slog.Warn("md: channel already owned by a different participant", "channel", ch)
		return
	}
	s.channelToOwner[ch] = p
	p.addChannel(ch)
	if s.metrics != nil {
		s.metrics.SubscribedChannels.Set(float64(len(s.channelToOwner)))
	}
}

// removeChannel unsubscribes p from ch. No-op if p does not own ch.
func (s *Server) removeChannel(p *participant, ch otpchannel.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.channelToOwner[ch] != p {
		return
	}
	delete(s.channelToOwner, ch)
	p.removeChannelLocal(ch)
	if s.metrics != nil {
		s.metrics.SubscribedChannels.Set(float64(len(s.channelToOwner)))
	}
}

// route forwards dg to the owning participant of each recipient channel.
// Unknown recipients are dropped silently but counted (spec.md §4.3).
func (s *Server) route(dg mdproto.Datagram) error {
	routed := false
	for _, recipient := range dg.Recipients {
		s.mu.Lock()
		owner, ok := s.channelToOwner[recipient]
		s.mu.Unlock()
		if !ok {
			if s.metrics != nil {
				s.metrics.DroppedDatagrams.Inc()
			}
			continue
		}
		single := dg
		single.Recipients = []otpchannel.Channel{recipient}
		if err := owner.writeFrame(single); err != nil {
			slog.Warn("md: forwarding datagram failed", "recipient", recipient, "err", err)
			continue
		}
		routed = true
	}
	if routed && s.metrics != nil {
		s.metrics.RoutedDatagrams.Inc()
	}
	return nil
}

func decodeChannelPayload(payload []byte) (otpchannel.Channel, error) {
	return mdproto.DecodeChannel(payload)
}
