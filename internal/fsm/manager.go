// Package fsm implements the Client Agent's operation FSMs (spec.md
// §4.7): the sequences of database requests that back login, avatar
// lifecycle, naming, zone tracking and the friends list. Because the
// database interface (internal/dbiface) resolves one context at a time
// and blocks the caller until the response or a timeout, every FSM here
// is a plain sequential function rather than a hand-rolled continuation
// state machine — the manager's job is solely to enforce the "at most
// one FSM per channel" invariant the spec requires.
package fsm

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/udisondev/otpedge/internal/otpchannel"
)

// ErrBusy is returned when a second operation is requested on a channel
// that already has one running.
var ErrBusy = errors.New("fsm: an operation is already active on this channel")

// Manager maps allocated_channel to the name of its in-flight operation,
// rejecting a second request on the same channel while one is active
// (spec.md §4.7).
type Manager struct {
	mu     sync.Mutex
	active map[otpchannel.Channel]string
}

// NewManager returns an empty operation manager.
func NewManager() *Manager {
	return &Manager{active: make(map[otpchannel.Channel]string)}
}

func (m *Manager) begin(ch otpchannel.Channel, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, busy := m.active[ch]; busy {
		slog.Warn("fsm: rejecting operation, channel busy", "channel", ch, "requested", name, "active", existing)
		return ErrBusy
	}
	m.active[ch] = name
	return nil
}

func (m *Manager) end(ch otpchannel.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, ch)
}

// Run executes fn as the named operation on ch, rejecting it with ErrBusy
// if another operation is already active there. fn's return value is the
// FSM's completion callback payload; it fires exactly once, on return.
func Run[T any](m *Manager, ch otpchannel.Channel, name string, fn func() (T, error)) (T, error) {
	var zero T
	if err := m.begin(ch, name); err != nil {
		return zero, err
	}
	defer m.end(ch)
	return fn()
}
