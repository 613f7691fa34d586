// Package dbiface is the database interface described in spec.md §4.4: a
// context-correlated async request/response client layered over the MD
// uplink. Every request carries a fresh per-process context (uint32); the
// matching response is dispatched back to the waiting caller, and a context
// that never gets a response is resolved with an empty-data timeout after
// 5 seconds by default so no caller is left dangling.
package dbiface

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/otpedge/internal/dcschema"
	"github.com/udisondev/otpedge/internal/mdlink"
	"github.com/udisondev/otpedge/internal/mdproto"
	"github.com/udisondev/otpedge/internal/otpchannel"
	"github.com/udisondev/otpedge/internal/wire"
)

// Message types for the database wire contract (spec.md §6). These travel
// as ordinary MD datagrams addressed to otpchannel.Database.
const (
	MsgCreateObject     uint16 = 3001
	MsgCreateObjectResp uint16 = 3002
	MsgObjectGetAll     uint16 = 3003
	MsgObjectGetAllResp uint16 = 3004
	MsgObjectSetFields  uint16 = 3005
)

// ErrTimeout is returned when a context expires before a response arrives.
var ErrTimeout = errors.New("dbiface: request timed out")

// DefaultTimeout is the per-request correlation timeout (spec.md §4.4).
const DefaultTimeout = 5 * time.Second

// Fields maps field name to its already-packed wire value.
type Fields map[string][]byte

// Pack packs a set of named values against a class's field codecs,
// returning the class's fields sorted by DC index (spec.md §4.4, §9).
func Pack(class *dcschema.Class, values map[string]any) ([]string, Fields, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sorted, err := class.SortFieldNamesByIndex(names)
	if err != nil {
		return nil, nil, err
	}
	out := make(Fields, len(sorted))
	for _, name := range sorted {
		f, _ := class.Field(name)
		b, err := f.Codec.Pack(values[name])
		if err != nil {
			return nil, nil, fmt.Errorf("dbiface: packing field %s: %w", name, err)
		}
		out[name] = b
	}
	return sorted, out, nil
}

// Unpack decodes a Fields map into named Go values using class's codecs.
func Unpack(class *dcschema.Class, fields Fields) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for name, raw := range fields {
		f, ok := class.Field(name)
		if !ok {
			return nil, fmt.Errorf("dbiface: class %s has no field %q", class.Name, name)
		}
		v, err := f.Codec.Unpack(raw)
		if err != nil {
			return nil, fmt.Errorf("dbiface: unpacking field %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

type pendingReq struct {
	msgType uint16
	payload []byte
}

// Client is the CA process's single handle onto the Database Server. It
// multiplexes every outstanding request across all client sessions onto
// one MD subscription (otpchannel.ClientAgent), keyed by context.
type Client struct {
	link    *mdlink.Link
	self    otpchannel.Channel
	timeout time.Duration

	nextContext atomic.Uint32

	mu      sync.Mutex
	pending map[uint32]chan pendingReq
}

// New wraps link, subscribing self (typically otpchannel.ClientAgent) to
// receive database responses. Call Run in its own goroutine to start
// dispatching them.
func New(link *mdlink.Link, self otpchannel.Channel, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := link.SetChannel(self); err != nil {
		return nil, fmt.Errorf("dbiface: subscribing reply channel: %w", err)
	}
	return &Client{
		link:    link,
		self:    self,
		timeout: timeout,
		pending: make(map[uint32]chan pendingReq),
	}, nil
}

// Run reads datagrams from the link until it errors (connection closed or
// ctx cancelled) and dispatches responses to their waiting callers.
func (c *Client) Run(ctx context.Context) error {
	for {
		dg, err := c.link.Recv()
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		c.dispatch(dg)
	}
}

func (c *Client) dispatch(dg mdproto.Datagram) {
	r := wire.NewReader(dg.Payload)
	ctxID, err := r.Uint32()
	if err != nil {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[ctxID]
	if ok {
		delete(c.pending, ctxID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	ch <- pendingReq{msgType: dg.MsgType, payload: r.Remainder()}
}

func (c *Client) allocContext() uint32 {
	return c.nextContext.Add(1)
}

func (c *Client) awaitResponse(ctx context.Context, ctxID uint32) (pendingReq, error) {
	ch := make(chan pendingReq, 1)
	c.mu.Lock()
	c.pending[ctxID] = ch
	c.mu.Unlock()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		c.mu.Lock()
		delete(c.pending, ctxID)
		c.mu.Unlock()
		return pendingReq{}, ErrTimeout
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, ctxID)
		c.mu.Unlock()
		return pendingReq{}, ctx.Err()
	}
}

// CreateObject asks the Database Server to create a new object of the
// given class with the given fields, already sorted by index (use Pack).
func (c *Client) CreateObject(ctx context.Context, class string, fieldNames []string, fields Fields) (uint32, error) {
	ctxID := c.allocContext()

	w := wire.NewWriter()
	w.PutUint32(ctxID)
	w.PutString(class)
	w.PutUint16(uint16(len(fieldNames)))
	for _, name := range fieldNames {
		w.PutString(name)
		val := fields[name]
		w.PutUint16(uint16(len(val)))
		w.PutBytes(val)
	}

	if err := c.link.Send(mdproto.Datagram{
		Recipients: []otpchannel.Channel{otpchannel.Database},
		Sender:     c.self,
		MsgType:    MsgCreateObject,
		Payload:    w.Bytes(),
	}); err != nil {
		return 0, fmt.Errorf("dbiface: sending CREATE_OBJECT: %w", err)
	}

	resp, err := c.awaitResponse(ctx, ctxID)
	if err != nil {
		return 0, err
	}
	if resp.msgType != MsgCreateObjectResp {
		return 0, fmt.Errorf("dbiface: unexpected response type %d for CREATE_OBJECT", resp.msgType)
	}
	r := wire.NewReader(resp.payload)
	doID, err := r.Uint32()
	if err != nil {
		return 0, fmt.Errorf("dbiface: decoding CREATE_OBJECT_RESP: %w", err)
	}
	return doID, nil
}

// GetAll asks the Database Server for every field of doID.
func (c *Client) GetAll(ctx context.Context, doID uint32) (class string, fields Fields, err error) {
	ctxID := c.allocContext()

	w := wire.NewWriter()
	w.PutUint32(ctxID)
	w.PutUint32(doID)

	if err := c.link.Send(mdproto.Datagram{
		Recipients: []otpchannel.Channel{otpchannel.Database},
		Sender:     c.self,
		MsgType:    MsgObjectGetAll,
		Payload:    w.Bytes(),
	}); err != nil {
		return "", nil, fmt.Errorf("dbiface: sending OBJECT_GET_ALL: %w", err)
	}

	resp, err := c.awaitResponse(ctx, ctxID)
	if err != nil {
		return "", nil, err
	}
	if resp.msgType != MsgObjectGetAllResp {
		return "", nil, fmt.Errorf("dbiface: unexpected response type %d for OBJECT_GET_ALL", resp.msgType)
	}
	r := wire.NewReader(resp.payload)
	class, err = r.String()
	if err != nil {
		return "", nil, fmt.Errorf("dbiface: decoding OBJECT_GET_ALL_RESP class: %w", err)
	}
	count, err := r.Uint16()
	if err != nil {
		return "", nil, fmt.Errorf("dbiface: decoding OBJECT_GET_ALL_RESP field count: %w", err)
	}
	fields = make(Fields, count)
	for i := uint16(0); i < count; i++ {
		name, err := r.String()
		if err != nil {
			return "", nil, fmt.Errorf("dbiface: decoding OBJECT_GET_ALL_RESP field %d name: %w", i, err)
		}
		n, err := r.Uint16()
		if err != nil {
			return "", nil, fmt.Errorf("dbiface: decoding OBJECT_GET_ALL_RESP field %d length: %w", i, err)
		}
		val, err := r.Bytes(int(n))
		if err != nil {
			return "", nil, fmt.Errorf("dbiface: decoding OBJECT_GET_ALL_RESP field %d value: %w", i, err)
		}
		fields[name] = append([]byte(nil), val...)
	}
	return class, fields, nil
}

// SetFields asks the Database Server to overwrite the given fields on
// doID. This is fire-and-forget: the wire contract defines no response
// (spec.md §4.4), so there is nothing to correlate.
func (c *Client) SetFields(doID uint32, class string, fieldNames []string, fields Fields) error {
	w := wire.NewWriter()
	w.PutUint32(doID)
	w.PutString(class)
	w.PutUint16(uint16(len(fieldNames)))
	for _, name := range fieldNames {
		w.PutString(name)
		val := fields[name]
		w.PutUint16(uint16(len(val)))
		w.PutBytes(val)
	}

	if err := c.link.Send(mdproto.Datagram{
		Recipients: []otpchannel.Channel{otpchannel.Database},
		Sender:     c.self,
		MsgType:    MsgObjectSetFields,
		Payload:    w.Bytes(),
	}); err != nil {
		return fmt.Errorf("dbiface: sending OBJECT_SET_FIELDS: %w", err)
	}
	return nil
}
