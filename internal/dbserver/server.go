// Package dbserver is the reference implementation of the external
// Database Server's wire contract (spec.md §6, internal/dbiface): an MD
// participant that owns otpchannel.Database and backs CREATE_OBJECT,
// OBJECT_GET_ALL, and OBJECT_SET_FIELDS with a PostgreSQL object store.
// The real Database Server's own persistence model is out of scope
// (spec.md §1); this is a working stand-in for integration tests and
// local development, not a production implementation.
package dbserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/udisondev/otpedge/internal/dbiface"
	"github.com/udisondev/otpedge/internal/mdlink"
	"github.com/udisondev/otpedge/internal/mdproto"
	"github.com/udisondev/otpedge/internal/otpchannel"
	"github.com/udisondev/otpedge/internal/wire"
)

// Server dispatches the database wire contract against a Store.
type Server struct {
	link  *mdlink.Link
	store *Store
}

// New dials the MD at mdAddr, subscribes otpchannel.Database, and returns
// a Server ready to Run.
func New(mdAddr string, store *Store) (*Server, error) {
	link, err := mdlink.Dial(mdAddr)
	if err != nil {
		return nil, fmt.Errorf("dbserver: dialing MD: %w", err)
	}
	if err := link.SetChannel(otpchannel.Database); err != nil {
		link.Close()
		return nil, fmt.Errorf("dbserver: subscribing database channel: %w", err)
	}
	return &Server{link: link, store: store}, nil
}

// Close closes the MD link.
func (s *Server) Close() error {
	return s.link.Close()
}

// Run reads datagrams until ctx is cancelled or the link errors.
func (s *Server) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.link.Close()
		close(done)
	}()

	for {
		dg, err := s.link.Recv()
		if err != nil {
			select {
			case <-done:
				return ctx.Err()
			default:
				return err
			}
		}
		if err := s.dispatch(ctx, dg); err != nil {
			slog.Warn("dbserver: handling datagram failed", "msgType", dg.MsgType, "err", err)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, dg mdproto.Datagram) error {
	switch dg.MsgType {
	case dbiface.MsgCreateObject:
		return s.handleCreateObject(ctx, dg)
	case dbiface.MsgObjectGetAll:
		return s.handleGetAll(ctx, dg)
	case dbiface.MsgObjectSetFields:
		return s.handleSetFields(ctx, dg)
	default:
		return nil
	}
}

func decodeFieldList(r *wire.Reader) ([]string, map[string][]byte, error) {
	count, err := r.Uint16()
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, count)
	values := make(map[string][]byte, count)
	for i := uint16(0); i < count; i++ {
		name, err := r.String()
		if err != nil {
			return nil, nil, err
		}
		n, err := r.Uint16()
		if err != nil {
			return nil, nil, err
		}
		val, err := r.Bytes(int(n))
		if err != nil {
			return nil, nil, err
		}
		names[i] = name
		values[name] = append([]byte(nil), val...)
	}
	return names, values, nil
}

func (s *Server) handleCreateObject(ctx context.Context, dg mdproto.Datagram) error {
	r := wire.NewReader(dg.Payload)
	ctxID, err := r.Uint32()
	if err != nil {
		return err
	}
	class, err := r.String()
	if err != nil {
		return err
	}
	names, values, err := decodeFieldList(r)
	if err != nil {
		return err
	}

	doID, err := s.store.CreateObject(ctx, class, names, values)
	if err != nil {
		return fmt.Errorf("dbserver: CREATE_OBJECT: %w", err)
	}

	w := wire.NewWriter()
	w.PutUint32(ctxID)
	w.PutUint32(doID)
	return s.link.Send(mdproto.Datagram{
		Recipients: []otpchannel.Channel{dg.Sender},
		Sender:     otpchannel.Database,
		MsgType:    dbiface.MsgCreateObjectResp,
		Payload:    w.Bytes(),
	})
}

func (s *Server) handleGetAll(ctx context.Context, dg mdproto.Datagram) error {
	r := wire.NewReader(dg.Payload)
	ctxID, err := r.Uint32()
	if err != nil {
		return err
	}
	doID, err := r.Uint32()
	if err != nil {
		return err
	}

	class, fields, err := s.store.GetAll(ctx, doID)
	if err != nil {
		return fmt.Errorf("dbserver: OBJECT_GET_ALL %d: %w", doID, err)
	}

	w := wire.NewWriter()
	w.PutUint32(ctxID)
	w.PutString(class)
	w.PutUint16(uint16(len(fields)))
	for name, val := range fields {
		w.PutString(name)
		w.PutUint16(uint16(len(val)))
		w.PutBytes(val)
	}
	return s.link.Send(mdproto.Datagram{
		Recipients: []otpchannel.Channel{dg.Sender},
		Sender:     otpchannel.Database,
		MsgType:    dbiface.MsgObjectGetAllResp,
		Payload:    w.Bytes(),
	})
}

// handleSetFields is fire-and-forget, matching internal/dbiface.Client.SetFields:
// the wire contract defines no response (spec.md §4.4).
func (s *Server) handleSetFields(ctx context.Context, dg mdproto.Datagram) error {
	r := wire.NewReader(dg.Payload)
	doID, err := r.Uint32()
	if err != nil {
		return err
	}
	if _, err := r.String(); err != nil { // class, unused: fields are already keyed by do_id
		return err
	}
	names, values, err := decodeFieldList(r)
	if err != nil {
		return err
	}
	if err := s.store.SetFields(ctx, doID, names, values); err != nil {
		return fmt.Errorf("dbserver: OBJECT_SET_FIELDS %d: %w", doID, err)
	}
	return nil
}
