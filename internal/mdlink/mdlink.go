// Package mdlink is the MD uplink used by every internal participant that
// is not the MD itself: the Client Agent, the database interface, and the
// reference database-server stub. It wraps a single TCP connection to the
// Message Director with the control-message helpers from spec.md §4.3.
package mdlink

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/udisondev/otpedge/internal/mdproto"
	"github.com/udisondev/otpedge/internal/otpchannel"
)

// Link is one participant's connection to the MD.
type Link struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// Dial connects to the MD at addr.
func Dial(addr string) (*Link, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("mdlink: dialing %s: %w", addr, err)
	}
	return &Link{conn: conn}, nil
}

// Close closes the underlying connection.
func (l *Link) Close() error {
	return l.conn.Close()
}

// SetReadDeadline sets a deadline for the next Recv call.
func (l *Link) SetReadDeadline(t time.Time) error {
	return l.conn.SetReadDeadline(t)
}

func (l *Link) writeFrame(dg mdproto.Datagram) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return mdproto.WriteFrame(l.conn, dg)
}

// SetChannel subscribes the given channel to this link (CONTROL_SET_CHANNEL).
func (l *Link) SetChannel(ch otpchannel.Channel) error {
	return l.writeFrame(mdproto.NewControl(ch, mdproto.ControlSetChannel, mdproto.EncodeChannel(ch)))
}

// RemoveChannel unsubscribes the given channel (CONTROL_REMOVE_CHANNEL).
func (l *Link) RemoveChannel(ch otpchannel.Channel) error {
	return l.writeFrame(mdproto.NewControl(ch, mdproto.ControlRemoveChannel, mdproto.EncodeChannel(ch)))
}

// AddPostRemove queues dg to be emitted by the MD if this link disconnects
// (CONTROL_ADD_POST_REMOVE). sender identifies the requesting channel.
func (l *Link) AddPostRemove(sender otpchannel.Channel, dg mdproto.Datagram) error {
	body, err := mdproto.Encode(dg)
	if err != nil {
		return fmt.Errorf("mdlink: encoding post-remove datagram: %w", err)
	}
	return l.writeFrame(mdproto.NewControl(sender, mdproto.ControlAddPostRemove, body))
}

// ClearPostRemove empties this link's post-remove queue at the MD
// (CONTROL_CLEAR_POST_REMOVE).
func (l *Link) ClearPostRemove(sender otpchannel.Channel) error {
	return l.writeFrame(mdproto.NewControl(sender, mdproto.ControlClearPostRemove, nil))
}

// Send routes an ordinary (non-control) datagram through the MD.
func (l *Link) Send(dg mdproto.Datagram) error {
	return l.writeFrame(dg)
}

// Recv blocks for the next datagram addressed to a channel this link owns.
func (l *Link) Recv() (mdproto.Datagram, error) {
	return mdproto.ReadFrame(l.conn)
}
