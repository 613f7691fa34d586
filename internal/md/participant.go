package md

import (
	"net"
	"sync"

	"github.com/udisondev/otpedge/internal/mdproto"
	"github.com/udisondev/otpedge/internal/otpchannel"
)

// participant is an internal TCP connection to the MD: the socket, the
// set of channels it currently owns, and its FIFO post-remove queue
// (spec.md §3).
type participant struct {
	conn net.Conn

	writeMu sync.Mutex // serializes frame writes to conn

	mu         sync.Mutex
	channels   map[otpchannel.Channel]struct{}
	postRemove []mdproto.Datagram
}

func newParticipant(conn net.Conn) *participant {
	return &participant{
		conn:     conn,
		channels: make(map[otpchannel.Channel]struct{}),
	}
}

func (p *participant) writeFrame(dg mdproto.Datagram) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return mdproto.WriteFrame(p.conn, dg)
}

func (p *participant) addChannel(ch otpchannel.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[ch] = struct{}{}
}

func (p *participant) removeChannelLocal(ch otpchannel.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.channels, ch)
}

func (p *participant) ownsChannel(ch otpchannel.Channel) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.channels[ch]
	return ok
}

// ownedChannels returns a snapshot of every channel this participant owns.
func (p *participant) ownedChannels() []otpchannel.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]otpchannel.Channel, 0, len(p.channels))
	for ch := range p.channels {
		out = append(out, ch)
	}
	return out
}

func (p *participant) addPostRemove(dg mdproto.Datagram) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.postRemove = append(p.postRemove, dg)
}

func (p *participant) clearPostRemove() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.postRemove = nil
}

// drainPostRemove empties and returns the post-remove queue in FIFO order.
func (p *participant) drainPostRemove() []mdproto.Datagram {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.postRemove
	p.postRemove = nil
	return q
}
