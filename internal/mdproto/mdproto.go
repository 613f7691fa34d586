// Package mdproto implements the internal-bus datagram format and framing
// used between MD participants (spec.md §4.1, §6): a uint16-length-prefixed
// frame whose body is `uint8 recipient_count, recipient_count x uint64
// recipients, uint64 sender, uint16 message_type, payload`. Control
// messages address the reserved recipient channel 1 and carry their own
// sub-type in message_type.
package mdproto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/udisondev/otpedge/internal/otpchannel"
	"github.com/udisondev/otpedge/internal/wire"
)

// Control sub-types (spec.md §6).
const (
	ControlSetChannel      uint16 = 2002
	ControlRemoveChannel   uint16 = 2003
	ControlAddPostRemove   uint16 = 2008
	ControlClearPostRemove uint16 = 2009
)

// MaxFrameSize bounds a single frame's body (length header is uint16).
const MaxFrameSize = 1 << 16

// Datagram is one message on the internal bus: zero or more recipients,
// a sender, a message type and an opaque payload.
type Datagram struct {
	Recipients []otpchannel.Channel
	Sender     otpchannel.Channel
	MsgType    uint16
	Payload    []byte
}

// EncodeChannel encodes a bare channel as a CONTROL_SET_CHANNEL /
// CONTROL_REMOVE_CHANNEL payload.
func EncodeChannel(ch otpchannel.Channel) []byte {
	w := wire.NewWriter()
	w.PutUint64(uint64(ch))
	return w.Bytes()
}

// DecodeChannel decodes a CONTROL_SET_CHANNEL / CONTROL_REMOVE_CHANNEL payload.
func DecodeChannel(payload []byte) (otpchannel.Channel, error) {
	r := wire.NewReader(payload)
	ch, err := r.Uint64()
	if err != nil {
		return 0, fmt.Errorf("mdproto: decoding channel payload: %w", err)
	}
	return otpchannel.Channel(ch), nil
}

// NewControl builds a control datagram addressed to the reserved control
// channel, sent by sender with the given control sub-type and payload.
func NewControl(sender otpchannel.Channel, subtype uint16, payload []byte) Datagram {
	return Datagram{
		Recipients: []otpchannel.Channel{otpchannel.ControlChannel},
		Sender:     sender,
		MsgType:    subtype,
		Payload:    payload,
	}
}

// Encode serializes dg into its wire body (without the length prefix).
func Encode(dg Datagram) ([]byte, error) {
	if len(dg.Recipients) > 0xFF {
		return nil, fmt.Errorf("mdproto: too many recipients (%d)", len(dg.Recipients))
	}
	w := wire.NewWriter()
	w.PutUint8(uint8(len(dg.Recipients)))
	for _, r := range dg.Recipients {
		w.PutUint64(uint64(r))
	}
	w.PutUint64(uint64(dg.Sender))
	w.PutUint16(dg.MsgType)
	w.PutBytes(dg.Payload)
	return w.Bytes(), nil
}

// Decode parses a datagram body as produced by Encode.
func Decode(body []byte) (Datagram, error) {
	r := wire.NewReader(body)

	count, err := r.Uint8()
	if err != nil {
		return Datagram{}, fmt.Errorf("mdproto: decoding recipient count: %w", err)
	}
	recipients := make([]otpchannel.Channel, count)
	for i := range recipients {
		v, err := r.Uint64()
		if err != nil {
			return Datagram{}, fmt.Errorf("mdproto: decoding recipient %d: %w", i, err)
		}
		recipients[i] = otpchannel.Channel(v)
	}

	sender, err := r.Uint64()
	if err != nil {
		return Datagram{}, fmt.Errorf("mdproto: decoding sender: %w", err)
	}
	msgType, err := r.Uint16()
	if err != nil {
		return Datagram{}, fmt.Errorf("mdproto: decoding message type: %w", err)
	}

	return Datagram{
		Recipients: recipients,
		Sender:     otpchannel.Channel(sender),
		MsgType:    msgType,
		Payload:    r.Remainder(),
	}, nil
}

// WriteFrame writes dg as a length-prefixed frame to w.
func WriteFrame(w io.Writer, dg Datagram) error {
	body, err := Encode(dg)
	if err != nil {
		return err
	}
	if len(body) > MaxFrameSize-2 {
		return fmt.Errorf("mdproto: frame body too large (%d bytes)", len(body))
	}
	var header [2]byte
	binary.LittleEndian.PutUint16(header[:], uint16(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("mdproto: writing frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("mdproto: writing frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r and decodes it.
func ReadFrame(r io.Reader) (Datagram, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Datagram{}, err
	}
	length := binary.LittleEndian.Uint16(header[:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Datagram{}, fmt.Errorf("mdproto: reading frame body: %w", err)
	}
	return Decode(body)
}
