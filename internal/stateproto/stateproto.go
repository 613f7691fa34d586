// Package stateproto is the Client Agent's half of the State Server wire
// contract (spec.md §6): object generate/enter/delete, zone watch
// subscription, ownership grant, AI location and shard listing. The State
// Server's internals are out of scope (spec.md §1); this package only
// encodes and decodes the datagrams the CA sends and receives across that
// boundary, the way internal/dbiface does for the Database Server.
package stateproto

import (
	"fmt"

	"github.com/udisondev/otpedge/internal/dbiface"
	"github.com/udisondev/otpedge/internal/dcschema"
	"github.com/udisondev/otpedge/internal/wire"
)

// Message types for the State Server wire contract (spec.md §6). These
// travel as ordinary MD datagrams, mostly addressed to otpchannel.StateServer
// or to an object's own channel.
const (
	MsgGenerateWithRequiredOther uint16 = 4001
	MsgObjectUpdateField         uint16 = 4002
	MsgObjectDeleteRAM           uint16 = 4003
	MsgObjectSetAI               uint16 = 4004
	MsgObjectLocationAck         uint16 = 4005
	MsgGetZonesObjects2          uint16 = 4006
	MsgGetZonesObjects2Resp      uint16 = 4007
	MsgClearWatch                uint16 = 4008
	MsgEnterLocationWithRequired      uint16 = 4009
	MsgEnterLocationWithRequiredOther uint16 = 4010
	MsgEnterOwnerWithRequired         uint16 = 4011
	MsgEnterOwnerWithRequiredOther    uint16 = 4012
	MsgSetOwner                  uint16 = 4013
	MsgGetShardAll               uint16 = 4014
	MsgGetShardAllResp           uint16 = 4015
)

// RequiredField is one already-packed, index-ordered field of an object's
// required block.
type RequiredField struct {
	Name  string
	Value []byte
}

// OtherField is one already-packed field of an object's "other" block,
// self-describing by field number since, unlike the required block, the
// receiver cannot assume a fixed order (spec.md §9 "Ordering of required
// vs other fields").
type OtherField struct {
	Number uint16
	Value  []byte
}

// RequiredFieldsFromClass orders a packed field set per the class's
// required block (spec.md §4.4, §9: "required fields by index before
// emitting them for generate messages").
func RequiredFieldsFromClass(class *dcschema.Class, fields dbiface.Fields) ([]RequiredField, error) {
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sorted, err := class.SortFieldNamesByIndex(names)
	if err != nil {
		return nil, fmt.Errorf("stateproto: ordering required fields: %w", err)
	}
	out := make([]RequiredField, 0, len(sorted))
	for _, n := range sorted {
		out = append(out, RequiredField{Name: n, Value: fields[n]})
	}
	return out, nil
}

func putRequired(w *wire.Writer, fields []RequiredField) {
	w.PutUint16(uint16(len(fields)))
	for _, f := range fields {
		w.PutString(f.Name)
		w.PutUint16(uint16(len(f.Value)))
		w.PutBytes(f.Value)
	}
}

func getRequired(r *wire.Reader) ([]RequiredField, error) {
	n, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	out := make([]RequiredField, n)
	for i := range out {
		name, err := r.String()
		if err != nil {
			return nil, err
		}
		ln, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		val, err := r.Bytes(int(ln))
		if err != nil {
			return nil, err
		}
		out[i] = RequiredField{Name: name, Value: append([]byte(nil), val...)}
	}
	return out, nil
}

func putOther(w *wire.Writer, fields []OtherField) {
	w.PutUint16(uint16(len(fields)))
	for _, f := range fields {
		w.PutUint16(f.Number)
		w.PutUint16(uint16(len(f.Value)))
		w.PutBytes(f.Value)
	}
}

func getOther(r *wire.Reader) ([]OtherField, error) {
	n, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	out := make([]OtherField, n)
	for i := range out {
		num, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		ln, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		val, err := r.Bytes(int(ln))
		if err != nil {
			return nil, err
		}
		out[i] = OtherField{Number: num, Value: append([]byte(nil), val...)}
	}
	return out, nil
}

// Generate is the payload of GENERATE_WITH_REQUIRED_OTHER (spec.md §4.6
// "Set-avatar"): a do_id's class, location and its required+other fields,
// required ordered by index, other self-describing by field number.
type Generate struct {
	DoID     uint32
	DClass   string
	Parent   uint32
	Zone     uint32
	Required []RequiredField
	Other    []OtherField
}

// EncodeGenerate builds a GENERATE_WITH_REQUIRED_OTHER payload.
func EncodeGenerate(g Generate) []byte {
	w := wire.NewWriter()
	w.PutUint32(g.DoID)
	w.PutString(g.DClass)
	w.PutUint32(g.Parent)
	w.PutUint32(g.Zone)
	putRequired(w, g.Required)
	putOther(w, g.Other)
	return w.Bytes()
}

// DecodeGenerate parses a GENERATE_WITH_REQUIRED_OTHER payload.
func DecodeGenerate(payload []byte) (Generate, error) {
	r := wire.NewReader(payload)
	var g Generate
	var err error
	if g.DoID, err = r.Uint32(); err != nil {
		return g, err
	}
	if g.DClass, err = r.String(); err != nil {
		return g, err
	}
	if g.Parent, err = r.Uint32(); err != nil {
		return g, err
	}
	if g.Zone, err = r.Uint32(); err != nil {
		return g, err
	}
	if g.Required, err = getRequired(r); err != nil {
		return g, err
	}
	if g.Other, err = getOther(r); err != nil {
		return g, err
	}
	return g, nil
}

// EncodeObjectDeleteRAM builds an OBJECT_DELETE_RAM payload.
func EncodeObjectDeleteRAM(doID uint32) []byte {
	w := wire.NewWriter()
	w.PutUint32(doID)
	return w.Bytes()
}

// DecodeObjectDeleteRAM reads an OBJECT_DELETE_RAM payload.
func DecodeObjectDeleteRAM(payload []byte) (doID uint32, err error) {
	return wire.NewReader(payload).Uint32()
}

// EncodeObjectUpdateField builds an OBJECT_UPDATE_FIELD payload.
func EncodeObjectUpdateField(doID uint32, fieldName string, value []byte) []byte {
	w := wire.NewWriter()
	w.PutUint32(doID)
	w.PutString(fieldName)
	w.PutUint16(uint16(len(value)))
	w.PutBytes(value)
	return w.Bytes()
}

// ObjectUpdateField is a decoded OBJECT_UPDATE_FIELD.
type ObjectUpdateField struct {
	DoID  uint32
	Field string
	Value []byte
}

// DecodeObjectUpdateField parses an OBJECT_UPDATE_FIELD payload.
func DecodeObjectUpdateField(payload []byte) (ObjectUpdateField, error) {
	r := wire.NewReader(payload)
	var u ObjectUpdateField
	var err error
	if u.DoID, err = r.Uint32(); err != nil {
		return u, err
	}
	if u.Field, err = r.String(); err != nil {
		return u, err
	}
	ln, err := r.Uint16()
	if err != nil {
		return u, err
	}
	val, err := r.Bytes(int(ln))
	if err != nil {
		return u, err
	}
	u.Value = append([]byte(nil), val...)
	return u, nil
}

// EncodeObjectSetAI builds an OBJECT_SET_AI payload (spec.md §4.6
// "Location change"): the fresh context to correlate the LOCATION_ACK and
// the destination zone.
func EncodeObjectSetAI(context, zone uint32) []byte {
	w := wire.NewWriter()
	w.PutUint32(context)
	w.PutUint32(zone)
	return w.Bytes()
}

// ObjectSetAI is a decoded OBJECT_SET_AI.
type ObjectSetAI struct {
	Context uint32
	Zone    uint32
}

// DecodeObjectSetAI parses an OBJECT_SET_AI payload.
func DecodeObjectSetAI(payload []byte) (ObjectSetAI, error) {
	r := wire.NewReader(payload)
	var s ObjectSetAI
	var err error
	if s.Context, err = r.Uint32(); err != nil {
		return s, err
	}
	if s.Zone, err = r.Uint32(); err != nil {
		return s, err
	}
	return s, nil
}

// EncodeObjectLocationAck builds an OBJECT_LOCATION_ACK payload.
func EncodeObjectLocationAck(context uint32, ok bool) []byte {
	w := wire.NewWriter()
	w.PutUint32(context)
	if ok {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
	return w.Bytes()
}

// DecodeObjectLocationAck parses an OBJECT_LOCATION_ACK payload.
func DecodeObjectLocationAck(payload []byte) (context uint32, ok bool, err error) {
	r := wire.NewReader(payload)
	if context, err = r.Uint32(); err != nil {
		return 0, false, err
	}
	flag, err := r.Uint8()
	if err != nil {
		return 0, false, err
	}
	return context, flag != 0, nil
}

// EncodeGetZonesObjects2 builds a GET_ZONES_OBJECTS_2 request payload
// (spec.md §4.5 step 6).
func EncodeGetZonesObjects2(context, parent uint32, zones []uint32) []byte {
	w := wire.NewWriter()
	w.PutUint32(context)
	w.PutUint32(parent)
	w.PutUint16(uint16(len(zones)))
	for _, z := range zones {
		w.PutUint32(z)
	}
	return w.Bytes()
}

// GetZonesObjects2Resp is the decoded State Server reply naming the
// do_ids the client should expect via enter-location messages (spec.md
// §4.5 step 7).
type GetZonesObjects2Resp struct {
	Context uint32
	DoIDs   []uint32
}

// EncodeGetZonesObjects2Resp builds the RESP payload.
func EncodeGetZonesObjects2Resp(r GetZonesObjects2Resp) []byte {
	w := wire.NewWriter()
	w.PutUint32(r.Context)
	w.PutUint16(uint16(len(r.DoIDs)))
	for _, id := range r.DoIDs {
		w.PutUint32(id)
	}
	return w.Bytes()
}

// DecodeGetZonesObjects2Resp parses a GET_ZONES_OBJECTS_2 RESP payload.
func DecodeGetZonesObjects2Resp(payload []byte) (GetZonesObjects2Resp, error) {
	r := wire.NewReader(payload)
	var resp GetZonesObjects2Resp
	ctxID, err := r.Uint32()
	if err != nil {
		return resp, err
	}
	n, err := r.Uint16()
	if err != nil {
		return resp, err
	}
	ids := make([]uint32, n)
	for i := range ids {
		v, err := r.Uint32()
		if err != nil {
			return resp, err
		}
		ids[i] = v
	}
	return GetZonesObjects2Resp{Context: ctxID, DoIDs: ids}, nil
}

// EncodeClearWatch builds a CLEAR_WATCH payload (spec.md §4.5 step 4).
func EncodeClearWatch(parent, zone uint32) []byte {
	w := wire.NewWriter()
	w.PutUint32(parent)
	w.PutUint32(zone)
	return w.Bytes()
}

// DecodeClearWatch parses a CLEAR_WATCH payload.
func DecodeClearWatch(payload []byte) (parent, zone uint32, err error) {
	r := wire.NewReader(payload)
	if parent, err = r.Uint32(); err != nil {
		return 0, 0, err
	}
	if zone, err = r.Uint32(); err != nil {
		return 0, 0, err
	}
	return parent, zone, nil
}

// EnterLocation is the decoded payload common to
// ENTER_LOCATION_WITH_REQUIRED[_OTHER] and
// ENTER_OWNER_WITH_REQUIRED[_OTHER] (spec.md §4.5 "Object enter").
type EnterLocation struct {
	DoID     uint32
	DClass   string
	Parent   uint32
	Zone     uint32
	Required []RequiredField
	Other    []OtherField // empty unless the _OTHER variant was used
}

// EncodeEnterLocation builds an ENTER_LOCATION_WITH_REQUIRED[_OTHER]
// payload; pass a nil Other to mean the non-_OTHER variant.
func EncodeEnterLocation(e EnterLocation) []byte {
	w := wire.NewWriter()
	w.PutUint32(e.DoID)
	w.PutString(e.DClass)
	w.PutUint32(e.Parent)
	w.PutUint32(e.Zone)
	putRequired(w, e.Required)
	putOther(w, e.Other)
	return w.Bytes()
}

// DecodeEnterLocation parses an ENTER_LOCATION_WITH_REQUIRED[_OTHER] /
// ENTER_OWNER_WITH_REQUIRED[_OTHER] payload.
func DecodeEnterLocation(payload []byte) (EnterLocation, error) {
	r := wire.NewReader(payload)
	var e EnterLocation
	var err error
	if e.DoID, err = r.Uint32(); err != nil {
		return e, err
	}
	if e.DClass, err = r.String(); err != nil {
		return e, err
	}
	if e.Parent, err = r.Uint32(); err != nil {
		return e, err
	}
	if e.Zone, err = r.Uint32(); err != nil {
		return e, err
	}
	if e.Required, err = getRequired(r); err != nil {
		return e, err
	}
	if e.Other, err = getOther(r); err != nil {
		return e, err
	}
	return e, nil
}

// EncodeSetOwner builds an OBJECT_SET_OWNER payload granting ownership of
// doID to the given client channel (spec.md §4.6 "grants ownership via
// OBJECT_SET_OWNER").
func EncodeSetOwner(doID uint32, owner uint64) []byte {
	w := wire.NewWriter()
	w.PutUint32(doID)
	w.PutUint64(owner)
	return w.Bytes()
}

// DecodeSetOwner parses an OBJECT_SET_OWNER payload.
func DecodeSetOwner(payload []byte) (doID uint32, owner uint64, err error) {
	r := wire.NewReader(payload)
	if doID, err = r.Uint32(); err != nil {
		return 0, 0, err
	}
	if owner, err = r.Uint64(); err != nil {
		return 0, 0, err
	}
	return doID, owner, nil
}

// Shard is one entry in a GET_SHARD_ALL response.
type Shard struct {
	ShardID    uint32
	Name       string
	Population uint32
	Available  bool
}

// EncodeGetShardAllResp builds a GET_SHARD_ALL RESP payload.
func EncodeGetShardAllResp(context uint32, shards []Shard) []byte {
	w := wire.NewWriter()
	w.PutUint32(context)
	w.PutUint16(uint16(len(shards)))
	for _, s := range shards {
		w.PutUint32(s.ShardID)
		w.PutString(s.Name)
		w.PutUint32(s.Population)
		if s.Available {
			w.PutUint8(1)
		} else {
			w.PutUint8(0)
		}
	}
	return w.Bytes()
}

// DecodeGetShardAllResp parses a GET_SHARD_ALL RESP payload.
func DecodeGetShardAllResp(payload []byte) (uint32, []Shard, error) {
	r := wire.NewReader(payload)
	ctxID, err := r.Uint32()
	if err != nil {
		return 0, nil, err
	}
	n, err := r.Uint16()
	if err != nil {
		return 0, nil, err
	}
	out := make([]Shard, n)
	for i := range out {
		id, err := r.Uint32()
		if err != nil {
			return 0, nil, err
		}
		name, err := r.String()
		if err != nil {
			return 0, nil, err
		}
		pop, err := r.Uint32()
		if err != nil {
			return 0, nil, err
		}
		avail, err := r.Uint8()
		if err != nil {
			return 0, nil, err
		}
		out[i] = Shard{ShardID: id, Name: name, Population: pop, Available: avail != 0}
	}
	return ctxID, out, nil
}

// EncodeGetShardAll builds a GET_SHARD_ALL request payload.
func EncodeGetShardAll(context uint32) []byte {
	w := wire.NewWriter()
	w.PutUint32(context)
	return w.Bytes()
}

// DecodeGetShardAll parses a GET_SHARD_ALL request payload.
func DecodeGetShardAll(payload []byte) (uint32, error) {
	return wire.NewReader(payload).Uint32()
}
