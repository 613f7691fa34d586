package clientagent

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/udisondev/otpedge/internal/interest"
	"github.com/udisondev/otpedge/internal/mdlink"
	"github.com/udisondev/otpedge/internal/otpchannel"
	"github.com/udisondev/otpedge/internal/visgroup"
)

// phase is a client session's place in the state machine (spec.md §3:
// Pre-auth -> Authenticated-no-avatar -> Playing).
type phase int

const (
	phasePreAuth phase = iota
	phaseAuthenticated
	phasePlaying
)

// locationAck is what a session remembers about an in-flight
// CLIENT_OBJECT_LOCATION request while waiting for the matching
// OBJECT_LOCATION_ACK (spec.md §4.6 "Location change").
type locationAck struct {
	zone uint32
}

// Session is one client's connection: its own MD participant (own
// dedicated mdlink.Link, own allocated channel) plus the client-facing
// TCP socket (spec.md §3, §4.3 — post-remove semantics are scoped per
// MD participant, so each session must own its participant outright).
type Session struct {
	agent *Agent
	conn  net.Conn
	link  *mdlink.Link

	channel otpchannel.Channel // allocated_channel, owned for the session's whole life
	vis     *visgroup.Cache
	ops     *interest.Manager

	nextContext atomic.Uint32

	mu            sync.Mutex
	phase         phase
	accountID     uint32
	avatarID      uint32
	senderChannel otpchannel.Channel

	// interestContext correlates an Interest id to the context id used for
	// its most recent ADD_INTEREST, so a later GET_ZONES_OBJECTS_2_RESP or
	// a completed pending-set can be matched back to DONE_INTEREST_RESP.
	interestContext map[uint16]uint32
	// pendingCoverage correlates a GET_ZONES_OBJECTS_2 request's context to
	// the Interest id it was issued for.
	pendingCoverage map[uint32]uint16
	// pendingLocation correlates an OBJECT_SET_AI request's context to the
	// zone the client asked to move to.
	pendingLocation map[uint32]locationAck
}

func newSession(agent *Agent, conn net.Conn, channel otpchannel.Channel, link *mdlink.Link) *Session {
	vis := visgroup.New(agent.visLoader)
	return &Session{
		agent:           agent,
		conn:            conn,
		link:            link,
		channel:         channel,
		senderChannel:   channel,
		vis:             vis,
		ops:             interest.New(vis),
		interestContext: make(map[uint16]uint32),
		pendingCoverage: make(map[uint32]uint16),
		pendingLocation: make(map[uint32]locationAck),
	}
}

func (s *Session) allocContext() uint32 {
	return s.nextContext.Add(1)
}

func (s *Session) getPhase() phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) getAccountID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountID
}

func (s *Session) getAvatarID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avatarID
}

func (s *Session) getSenderChannel() otpchannel.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.senderChannel
}

// puppetChannel returns this session's puppet channel once it has set an
// avatar, or 0 before then.
func (s *Session) puppetChannel() otpchannel.Channel {
	avID := s.getAvatarID()
	if avID == 0 {
		return 0
	}
	return otpchannel.PuppetChannel(avID)
}
