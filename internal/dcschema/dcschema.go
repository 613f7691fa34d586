// Package dcschema models the compiled result of the (out-of-scope) DC
// schema loader: each field is a (number, name, codec) triple, and a class
// is an ordered-by-index field list (spec.md §4.4, §9 "Dynamic dispatch
// and open fields"). The loader itself is an external collaborator; this
// package only needs to hold its output and apply it.
package dcschema

import (
	"fmt"
	"sort"

	"github.com/udisondev/otpedge/internal/wire"
)

// Codec packs and unpacks one field's Go value to/from its wire
// representation.
type Codec interface {
	Pack(v any) ([]byte, error)
	Unpack(b []byte) (any, error)
}

// Field is one DC-class field: a stable numeric index, a name, and a codec.
type Field struct {
	Index uint16
	Name  string
	Codec Codec
}

// Class is an ordered-by-index list of fields belonging to one distributed
// class.
type Class struct {
	Name   string
	byName map[string]Field
	sorted []Field // ascending by Index
}

// NewClass builds a Class from an unordered field list, sorting by index.
func NewClass(name string, fields []Field) *Class {
	c := &Class{Name: name, byName: make(map[string]Field, len(fields))}
	sorted := append([]Field(nil), fields...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })
	c.sorted = sorted
	for _, f := range sorted {
		c.byName[f.Name] = f
	}
	return c
}

// Field looks up a field by name.
func (c *Class) Field(name string) (Field, bool) {
	f, ok := c.byName[name]
	return f, ok
}

// SortFieldNamesByIndex returns names (a subset of the class's fields),
// reordered ascending by their DC field index. This is the ordering the
// database interface and avatar-generate path apply before emitting fields
// to the State Server (spec.md §4.4, §9).
func (c *Class) SortFieldNamesByIndex(names []string) ([]string, error) {
	type indexed struct {
		name  string
		index uint16
	}
	items := make([]indexed, 0, len(names))
	for _, n := range names {
		f, ok := c.byName[n]
		if !ok {
			return nil, fmt.Errorf("dcschema: class %s has no field %q", c.Name, n)
		}
		items = append(items, indexed{n, f.Index})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].index < items[j].index })
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.name
	}
	return out, nil
}

// Schema is a registry of compiled classes, built once at startup.
type Schema struct {
	classes map[string]*Class
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{classes: make(map[string]*Class)}
}

// Register adds a class to the schema.
func (s *Schema) Register(c *Class) {
	s.classes[c.Name] = c
}

// Class looks up a registered class by name.
func (s *Schema) Class(name string) (*Class, bool) {
	c, ok := s.classes[name]
	return c, ok
}

// --- Stock codecs ---

type uint32Codec struct{}

func (uint32Codec) Pack(v any) ([]byte, error) {
	u, ok := v.(uint32)
	if !ok {
		return nil, fmt.Errorf("dcschema: expected uint32, got %T", v)
	}
	w := wire.NewWriter()
	w.PutUint32(u)
	return w.Bytes(), nil
}

func (uint32Codec) Unpack(b []byte) (any, error) {
	r := wire.NewReader(b)
	return r.Uint32()
}

// Uint32Codec packs a single uint32.
var Uint32Codec Codec = uint32Codec{}

type stringCodec struct{}

func (stringCodec) Pack(v any) ([]byte, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("dcschema: expected string, got %T", v)
	}
	w := wire.NewWriter()
	w.PutString(s)
	return w.Bytes(), nil
}

func (stringCodec) Unpack(b []byte) (any, error) {
	r := wire.NewReader(b)
	return r.String()
}

// StringCodec packs a uint16-length-prefixed string.
var StringCodec Codec = stringCodec{}

type uint32ArrayCodec struct{ n int }

// Uint32ArrayCodec packs a fixed-length []uint32 (e.g. the 6-slot
// ACCOUNT_AV_SET, spec.md §4.7).
func Uint32ArrayCodec(n int) Codec { return uint32ArrayCodec{n} }

func (c uint32ArrayCodec) Pack(v any) ([]byte, error) {
	arr, ok := v.([]uint32)
	if !ok {
		return nil, fmt.Errorf("dcschema: expected []uint32, got %T", v)
	}
	if len(arr) != c.n {
		return nil, fmt.Errorf("dcschema: expected %d elements, got %d", c.n, len(arr))
	}
	w := wire.NewWriter()
	for _, u := range arr {
		w.PutUint32(u)
	}
	return w.Bytes(), nil
}

func (c uint32ArrayCodec) Unpack(b []byte) (any, error) {
	r := wire.NewReader(b)
	out := make([]uint32, c.n)
	for i := range out {
		v, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type uint32ListCodec struct{}

func (uint32ListCodec) Pack(v any) ([]byte, error) {
	list, ok := v.([]uint32)
	if !ok {
		return nil, fmt.Errorf("dcschema: expected []uint32, got %T", v)
	}
	w := wire.NewWriter()
	w.PutUint16(uint16(len(list)))
	for _, u := range list {
		w.PutUint32(u)
	}
	return w.Bytes(), nil
}

func (uint32ListCodec) Unpack(b []byte) (any, error) {
	r := wire.NewReader(b)
	n, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		v, err := r.Uint32()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Uint32ListCodec packs a uint16-count-prefixed list of uint32s (used for
// setHoodsVisited and setFriendsList, spec.md §4.7).
var Uint32ListCodec Codec = uint32ListCodec{}

type stringListCodec struct{}

func (stringListCodec) Pack(v any) ([]byte, error) {
	list, ok := v.([]string)
	if !ok {
		return nil, fmt.Errorf("dcschema: expected []string, got %T", v)
	}
	w := wire.NewWriter()
	w.PutUint16(uint16(len(list)))
	for _, s := range list {
		w.PutString(s)
	}
	return w.Bytes(), nil
}

func (stringListCodec) Unpack(b []byte) (any, error) {
	r := wire.NewReader(b)
	n, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := r.String()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

// StringListCodec packs a uint16-count-prefixed list of strings. No field
// of the default schema uses it.
var StringListCodec Codec = stringListCodec{}

type blobCodec struct{}

func (blobCodec) Pack(v any) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("dcschema: expected []byte, got %T", v)
	}
	return append([]byte(nil), b...), nil
}

func (blobCodec) Unpack(b []byte) (any, error) {
	return append([]byte(nil), b...), nil
}

// BlobCodec passes raw bytes through verbatim (used for DNA strings).
var BlobCodec Codec = blobCodec{}
