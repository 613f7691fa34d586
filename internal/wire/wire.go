// Package wire implements the append-style writer and forward-only reader
// shared by the internal-bus codec (mdproto) and the client wire codec
// (clientwire), per spec.md §4.1: little-endian multi-byte integers,
// uint16-length-prefixed strings.
package wire

import (
	"encoding/binary"
	"errors"
	"unicode/utf16"
)

// ErrTruncated is returned by every Reader method when the buffer ends
// mid-field (spec.md §4.1).
var ErrTruncated = errors.New("wire: truncated datagram")

// Writer appends little-endian fields to an in-memory buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer with a 64-byte initial capacity.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) PutUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *Writer) PutUint16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutUint64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) PutInt32(v int32) { w.PutUint32(uint32(v)) }

// PutString appends a uint16-length-prefixed string (spec.md §4.1).
func (w *Writer) PutString(s string) {
	w.PutUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// PutUTF16String appends a UTF-16LE, null-terminated string. The message
// codecs encode names with PutString, not with this.
func (w *Writer) PutUTF16String(s string) {
	for _, r := range utf16.Encode([]rune(s)) {
		w.PutUint16(r)
	}
	w.PutUint16(0)
}

// PutBytes appends raw bytes verbatim.
func (w *Writer) PutBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// Reader consumes little-endian fields from a fixed buffer in order.
type Reader struct {
	data []byte
	pos  int
}

// NewReader wraps data for sequential reading.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// Position returns the current read offset.
func (r *Reader) Position() int { return r.pos }

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.data) {
		return ErrTruncated
	}
	return nil
}

func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.data[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

// String reads a uint16-length-prefixed string.
func (r *Reader) String() (string, error) {
	n, err := r.Uint16()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// UTF16String reads a UTF-16LE null-terminated string.
func (r *Reader) UTF16String() (string, error) {
	var units []uint16
	for {
		if err := r.need(2); err != nil {
			return "", err
		}
		u := binary.LittleEndian.Uint16(r.data[r.pos:])
		r.pos += 2
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units)), nil
}

// Bytes reads n raw bytes (zero-copy: caller must not mutate).
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Remainder returns every unread byte (zero-copy).
func (r *Reader) Remainder() []byte {
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}
