// Package clientagent implements the Client Agent (spec.md §3, §4.5-§4.7):
// the per-client session state machine that gates login, brokers avatar
// lifecycle and naming against the database interface, and runs the
// interest manager against the (out-of-scope) State Server.
package clientagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/udisondev/otpedge/internal/cametrics"
	"github.com/udisondev/otpedge/internal/chanalloc"
	"github.com/udisondev/otpedge/internal/config"
	"github.com/udisondev/otpedge/internal/dbiface"
	"github.com/udisondev/otpedge/internal/dcschema"
	"github.com/udisondev/otpedge/internal/fsm"
	"github.com/udisondev/otpedge/internal/kvstore"
	"github.com/udisondev/otpedge/internal/mdlink"
	"github.com/udisondev/otpedge/internal/otpchannel"
	"github.com/udisondev/otpedge/internal/visgroup"
)

// Agent is the Client Agent process: it accepts client TCP connections and
// runs one Session per connection, each wired to its own MD participant.
type Agent struct {
	cfg       config.ClientAgent
	mdAddr    string
	db        *dbiface.Client
	kv        *kvstore.Store
	schema    *dcschema.Schema
	alloc     *chanalloc.Allocator
	visLoader visgroup.Loader
	ops       *fsm.Manager
	metrics   *cametrics.Metrics

	mu       sync.Mutex
	byPuppet map[otpchannel.Channel]*Session
}

// New builds a Client Agent. mdAddr is the "host:port" the MD listens on;
// every session dials its own connection there.
func New(cfg config.ClientAgent, mdAddr string, db *dbiface.Client, kv *kvstore.Store, schema *dcschema.Schema, visLoader visgroup.Loader, metrics *cametrics.Metrics) (*Agent, error) {
	alloc, err := chanalloc.New(cfg.MinChannel, cfg.MaxChannel)
	if err != nil {
		return nil, fmt.Errorf("clientagent: building channel allocator: %w", err)
	}
	return &Agent{
		cfg:       cfg,
		mdAddr:    mdAddr,
		db:        db,
		kv:        kv,
		schema:    schema,
		alloc:     alloc,
		visLoader: visLoader,
		ops:       fsm.NewManager(),
		metrics:   metrics,
		byPuppet:  make(map[otpchannel.Channel]*Session),
	}, nil
}

// IsOnline implements fsm.PresenceChecker: whether a playing session
// currently owns puppet.
func (a *Agent) IsOnline(puppet otpchannel.Channel) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.byPuppet[puppet]
	return ok
}

func (a *Agent) registerPuppet(puppet otpchannel.Channel, s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byPuppet[puppet] = s
}

func (a *Agent) unregisterPuppet(puppet otpchannel.Channel) {
	if puppet == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byPuppet, puppet)
}

// Serve accepts client connections on ln until ctx is cancelled, running
// one Session per connection (spec.md §4.3 bootstrap pattern, mirrored
// from internal/md.Server.Serve).
func (a *Agent) Serve(ctx context.Context, ln net.Listener) error {
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
			return fmt.Errorf("clientagent: accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.handleConn(ctx, conn)
		}()
	}
}

func (a *Agent) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	channel, err := a.alloc.Allocate()
	if err != nil {
		slog.Warn("clientagent: rejecting connection, channel range exhausted", "remote", conn.RemoteAddr())
		return
	}
	defer a.alloc.Free(channel)

	link, err := mdlink.Dial(a.mdAddr)
	if err != nil {
		slog.Warn("clientagent: dialing MD failed", "err", err)
		return
	}
	defer link.Close()

	if err := link.SetChannel(channel); err != nil {
		slog.Warn("clientagent: subscribing allocated channel failed", "channel", channel, "err", err)
		return
	}

	s := newSession(a, conn, channel, link)
	if a.metrics != nil {
		a.metrics.ActiveSessions.Inc()
		defer a.metrics.ActiveSessions.Dec()
	}

	s.run(ctx)
}
