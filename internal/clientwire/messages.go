package clientwire

import "github.com/udisondev/otpedge/internal/wire"

// Client/server message bodies (spec.md §6, §8). Every multi-byte integer
// is little-endian; every string is uint16-length-prefixed (spec.md §4.1).

// Login2Request is the decoded LOGIN_2 body.
type Login2Request struct {
	PlayToken     string
	ServerVersion string
	HashVal       uint32
	TokenType     uint8
}

// DecodeLogin2Request parses a LOGIN_2 body.
func DecodeLogin2Request(body []byte) (Login2Request, error) {
	r := wire.NewReader(body)
	var req Login2Request
	var err error
	if req.PlayToken, err = r.String(); err != nil {
		return req, err
	}
	if req.ServerVersion, err = r.String(); err != nil {
		return req, err
	}
	if req.HashVal, err = r.Uint32(); err != nil {
		return req, err
	}
	tt, err := r.Uint8()
	if err != nil {
		return req, err
	}
	req.TokenType = tt
	return req, nil
}

// EncodeLogin2Request builds a LOGIN_2 body (used by test clients).
func EncodeLogin2Request(req Login2Request) []byte {
	w := wire.NewWriter()
	w.PutString(req.PlayToken)
	w.PutString(req.ServerVersion)
	w.PutUint32(req.HashVal)
	w.PutUint8(req.TokenType)
	return w.Bytes()
}

// Login2Resp is the literal LOGIN_2_RESP payload (spec.md §6, §8 scenario 1).
type Login2Resp struct {
	ReturnCode           uint8
	Message              string
	PlayToken            string
	AccountNameApproved  uint8
	EpochSeconds         uint32
	Usec                 uint32
	OpenChat             uint8
	AccountDays          int32
}

// EncodeLogin2Resp builds a LOGIN_2_RESP body.
func EncodeLogin2Resp(r Login2Resp) []byte {
	w := wire.NewWriter()
	w.PutUint8(r.ReturnCode)
	w.PutString(r.Message)
	w.PutString(r.PlayToken)
	w.PutUint8(r.AccountNameApproved)
	w.PutUint32(r.EpochSeconds)
	w.PutUint32(r.Usec)
	w.PutUint8(r.OpenChat)
	w.PutInt32(r.AccountDays)
	return w.Bytes()
}

// DecodeLogin2Resp parses a LOGIN_2_RESP body (used by test clients).
func DecodeLogin2Resp(body []byte) (Login2Resp, error) {
	r := wire.NewReader(body)
	var resp Login2Resp
	var err error
	if resp.ReturnCode, err = r.Uint8(); err != nil {
		return resp, err
	}
	if resp.Message, err = r.String(); err != nil {
		return resp, err
	}
	if resp.PlayToken, err = r.String(); err != nil {
		return resp, err
	}
	if resp.AccountNameApproved, err = r.Uint8(); err != nil {
		return resp, err
	}
	if resp.EpochSeconds, err = r.Uint32(); err != nil {
		return resp, err
	}
	if resp.Usec, err = r.Uint32(); err != nil {
		return resp, err
	}
	if resp.OpenChat, err = r.Uint8(); err != nil {
		return resp, err
	}
	if resp.AccountDays, err = r.Int32(); err != nil {
		return resp, err
	}
	return resp, nil
}

// LoginToontownResp is the richer LOGIN_TOONTOWN_RESP payload (spec.md §6).
type LoginToontownResp struct {
	ReturnCode          uint8
	Message             string
	AccountNumber       uint32
	AccountName         string
	AccessLevel         uint8
	WhitelistChatEnabled uint8
	IsPaid              uint8
	AccountDaysLeft     uint32
	OpenChatEnabled     uint8
	EpochSeconds        uint32
	Usec                uint32
	AccountNameApproved uint8
}

// EncodeLoginToontownResp builds a LOGIN_TOONTOWN_RESP body.
func EncodeLoginToontownResp(r LoginToontownResp) []byte {
	w := wire.NewWriter()
	w.PutUint8(r.ReturnCode)
	w.PutString(r.Message)
	w.PutUint32(r.AccountNumber)
	w.PutString(r.AccountName)
	w.PutUint8(r.AccessLevel)
	w.PutUint8(r.WhitelistChatEnabled)
	w.PutUint8(r.IsPaid)
	w.PutUint32(r.AccountDaysLeft)
	w.PutUint8(r.OpenChatEnabled)
	w.PutUint32(r.EpochSeconds)
	w.PutUint32(r.Usec)
	w.PutUint8(r.AccountNameApproved)
	return w.Bytes()
}

// AvatarSummary is one entry of a GET_AVATARS_RESP / DELETE_AVATAR_RESP
// avatar list (spec.md §4.7 ClientAvatarData).
type AvatarSummary struct {
	DoID      uint32
	NameList  [4]string
	DNA       []byte
	Pos       uint32
	NameIndex uint32
}

// EncodeAvatarList builds the shared GET_AVATARS_RESP/DELETE_AVATAR_RESP
// body: both share message type 5 (spec.md §6).
func EncodeAvatarList(avatars []AvatarSummary) []byte {
	w := wire.NewWriter()
	w.PutUint16(uint16(len(avatars)))
	for _, a := range avatars {
		w.PutUint32(a.DoID)
		for _, n := range a.NameList {
			w.PutString(n)
		}
		w.PutUint16(uint16(len(a.DNA)))
		w.PutBytes(a.DNA)
		w.PutUint32(a.Pos)
		w.PutUint32(a.NameIndex)
	}
	return w.Bytes()
}

// DecodeAvatarList parses a GET_AVATARS_RESP/DELETE_AVATAR_RESP body
// (used by test clients).
func DecodeAvatarList(body []byte) ([]AvatarSummary, error) {
	r := wire.NewReader(body)
	n, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	out := make([]AvatarSummary, n)
	for i := range out {
		a := &out[i]
		if a.DoID, err = r.Uint32(); err != nil {
			return nil, err
		}
		for j := range a.NameList {
			if a.NameList[j], err = r.String(); err != nil {
				return nil, err
			}
		}
		ln, err := r.Uint16()
		if err != nil {
			return nil, err
		}
		if a.DNA, err = r.Bytes(int(ln)); err != nil {
			return nil, err
		}
		a.DNA = append([]byte(nil), a.DNA...)
		if a.Pos, err = r.Uint32(); err != nil {
			return nil, err
		}
		if a.NameIndex, err = r.Uint32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CreateAvatarRequest is the decoded CREATE_AVATAR body.
type CreateAvatarRequest struct {
	Echo  uint16
	DNA   []byte
	Index uint8
}

// DecodeCreateAvatarRequest parses a CREATE_AVATAR body.
func DecodeCreateAvatarRequest(body []byte) (CreateAvatarRequest, error) {
	r := wire.NewReader(body)
	var req CreateAvatarRequest
	var err error
	if req.Echo, err = r.Uint16(); err != nil {
		return req, err
	}
	ln, err := r.Uint16()
	if err != nil {
		return req, err
	}
	dna, err := r.Bytes(int(ln))
	if err != nil {
		return req, err
	}
	req.DNA = append([]byte(nil), dna...)
	if req.Index, err = r.Uint8(); err != nil {
		return req, err
	}
	return req, nil
}

// EncodeCreateAvatarRequest builds a CREATE_AVATAR body (test clients).
func EncodeCreateAvatarRequest(req CreateAvatarRequest) []byte {
	w := wire.NewWriter()
	w.PutUint16(req.Echo)
	w.PutUint16(uint16(len(req.DNA)))
	w.PutBytes(req.DNA)
	w.PutUint8(req.Index)
	return w.Bytes()
}

// EncodeCreateAvatarResp builds a CREATE_AVATAR_RESP body.
func EncodeCreateAvatarResp(echo uint16, returnCode uint8, avatarID uint32) []byte {
	w := wire.NewWriter()
	w.PutUint16(echo)
	w.PutUint8(returnCode)
	w.PutUint32(avatarID)
	return w.Bytes()
}

// DecodeCreateAvatarResp parses a CREATE_AVATAR_RESP body (test clients).
func DecodeCreateAvatarResp(body []byte) (echo uint16, returnCode uint8, avatarID uint32, err error) {
	r := wire.NewReader(body)
	if echo, err = r.Uint16(); err != nil {
		return
	}
	if returnCode, err = r.Uint8(); err != nil {
		return
	}
	avatarID, err = r.Uint32()
	return
}

// DecodeAvatarIDRequest parses the common "just an avatar id" body shape
// used by DELETE_AVATAR, GET_AVATAR_DETAILS and SET_AVATAR.
func DecodeAvatarIDRequest(body []byte) (uint32, error) {
	return wire.NewReader(body).Uint32()
}

// EncodeAvatarIDRequest builds the common "just an avatar id" body
// (test clients).
func EncodeAvatarIDRequest(avatarID uint32) []byte {
	w := wire.NewWriter()
	w.PutUint32(avatarID)
	return w.Bytes()
}

// FieldEntry is one named, already-packed field (GET_AVATAR_DETAILS_RESP,
// OBJECT_UPDATE_FIELD).
type FieldEntry struct {
	Name  string
	Value []byte
}

// EncodeAvatarDetailsResp builds a GET_AVATAR_DETAILS_RESP body: the
// avatar id followed by its fields sorted by DC index.
func EncodeAvatarDetailsResp(avatarID uint32, fields []FieldEntry) []byte {
	w := wire.NewWriter()
	w.PutUint32(avatarID)
	w.PutUint16(uint16(len(fields)))
	for _, f := range fields {
		w.PutString(f.Name)
		w.PutUint16(uint16(len(f.Value)))
		w.PutBytes(f.Value)
	}
	return w.Bytes()
}

// DecodeAvatarDetailsResp parses a GET_AVATAR_DETAILS_RESP body (test
// clients).
func DecodeAvatarDetailsResp(body []byte) (uint32, []FieldEntry, error) {
	r := wire.NewReader(body)
	avatarID, err := r.Uint32()
	if err != nil {
		return 0, nil, err
	}
	n, err := r.Uint16()
	if err != nil {
		return 0, nil, err
	}
	out := make([]FieldEntry, n)
	for i := range out {
		name, err := r.String()
		if err != nil {
			return 0, nil, err
		}
		ln, err := r.Uint16()
		if err != nil {
			return 0, nil, err
		}
		val, err := r.Bytes(int(ln))
		if err != nil {
			return 0, nil, err
		}
		out[i] = FieldEntry{Name: name, Value: append([]byte(nil), val...)}
	}
	return avatarID, out, nil
}

// SetWishnameRequest is the decoded SET_WISHNAME body.
type SetWishnameRequest struct {
	AvatarID uint32
	Name     string
}

// DecodeSetWishnameRequest parses a SET_WISHNAME body.
func DecodeSetWishnameRequest(body []byte) (SetWishnameRequest, error) {
	r := wire.NewReader(body)
	var req SetWishnameRequest
	var err error
	if req.AvatarID, err = r.Uint32(); err != nil {
		return req, err
	}
	req.Name, err = r.String()
	return req, err
}

// EncodeSetWishnameResp builds a SET_WISHNAME_RESP body.
func EncodeSetWishnameResp(returnCode uint8, name string) []byte {
	w := wire.NewWriter()
	w.PutUint8(returnCode)
	w.PutString(name)
	return w.Bytes()
}

// NamePatternPart is one of the four dictionary-resolved parts a
// SET_NAME_PATTERN request carries (spec.md §4.7 NamePart).
type NamePatternPart struct {
	Text       string
	Capitalize uint8
}

// SetNamePatternRequest is the decoded SET_NAME_PATTERN body.
type SetNamePatternRequest struct {
	AvatarID uint32
	Parts    [4]NamePatternPart
}

// DecodeSetNamePatternRequest parses a SET_NAME_PATTERN body.
func DecodeSetNamePatternRequest(body []byte) (SetNamePatternRequest, error) {
	r := wire.NewReader(body)
	var req SetNamePatternRequest
	var err error
	if req.AvatarID, err = r.Uint32(); err != nil {
		return req, err
	}
	for i := range req.Parts {
		if req.Parts[i].Text, err = r.String(); err != nil {
			return req, err
		}
		if req.Parts[i].Capitalize, err = r.Uint8(); err != nil {
			return req, err
		}
	}
	return req, nil
}

// EncodeSetNamePatternResp builds a SET_NAME_PATTERN_RESP body.
func EncodeSetNamePatternResp(returnCode uint8, name string) []byte {
	w := wire.NewWriter()
	w.PutUint8(returnCode)
	w.PutString(name)
	return w.Bytes()
}

// EncodeFriendListResp builds a GET_FRIEND_LIST_RESP body: the online
// subset of the avatar's friends (spec.md §4.7 LoadFriendsListFSM).
func EncodeFriendListResp(onlineFriends []uint32) []byte {
	w := wire.NewWriter()
	w.PutUint16(uint16(len(onlineFriends)))
	for _, id := range onlineFriends {
		w.PutUint32(id)
	}
	return w.Bytes()
}

// EncodeFriendNotify builds a FRIEND_ONLINE/FRIEND_OFFLINE body: the
// friend's avatar id.
func EncodeFriendNotify(avatarID uint32) []byte {
	w := wire.NewWriter()
	w.PutUint32(avatarID)
	return w.Bytes()
}

// DecodeFriendNotify parses a FRIEND_ONLINE/FRIEND_OFFLINE body (test
// clients).
func DecodeFriendNotify(body []byte) (uint32, error) {
	return wire.NewReader(body).Uint32()
}

// ShardSummary is one entry of a GET_SHARD_LIST_RESP.
type ShardSummary struct {
	ShardID    uint32
	Name       string
	Population uint32
	Available  uint8
}

// EncodeShardListResp builds a GET_SHARD_LIST_RESP body.
func EncodeShardListResp(shards []ShardSummary) []byte {
	w := wire.NewWriter()
	w.PutUint16(uint16(len(shards)))
	for _, s := range shards {
		w.PutUint32(s.ShardID)
		w.PutString(s.Name)
		w.PutUint32(s.Population)
		w.PutUint8(s.Available)
	}
	return w.Bytes()
}

// DecodeShardListResp parses a GET_SHARD_LIST_RESP body (test clients).
func DecodeShardListResp(body []byte) ([]ShardSummary, error) {
	r := wire.NewReader(body)
	n, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	out := make([]ShardSummary, n)
	for i := range out {
		if out[i].ShardID, err = r.Uint32(); err != nil {
			return nil, err
		}
		if out[i].Name, err = r.String(); err != nil {
			return nil, err
		}
		if out[i].Population, err = r.Uint32(); err != nil {
			return nil, err
		}
		if out[i].Available, err = r.Uint8(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// AddInterestRequest is the decoded ADD_INTEREST body (spec.md §4.5/§6).
type AddInterestRequest struct {
	ID      uint16
	Context uint32
	Parent  uint32
	Zones   []uint32
}

// DecodeAddInterestRequest parses an ADD_INTEREST body.
func DecodeAddInterestRequest(body []byte) (AddInterestRequest, error) {
	r := wire.NewReader(body)
	var req AddInterestRequest
	var err error
	if req.ID, err = r.Uint16(); err != nil {
		return req, err
	}
	if req.Context, err = r.Uint32(); err != nil {
		return req, err
	}
	if req.Parent, err = r.Uint32(); err != nil {
		return req, err
	}
	n, err := r.Uint16()
	if err != nil {
		return req, err
	}
	req.Zones = make([]uint32, n)
	for i := range req.Zones {
		if req.Zones[i], err = r.Uint32(); err != nil {
			return req, err
		}
	}
	return req, nil
}

// EncodeAddInterestRequest builds an ADD_INTEREST body (test clients).
func EncodeAddInterestRequest(req AddInterestRequest) []byte {
	w := wire.NewWriter()
	w.PutUint16(req.ID)
	w.PutUint32(req.Context)
	w.PutUint32(req.Parent)
	w.PutUint16(uint16(len(req.Zones)))
	for _, z := range req.Zones {
		w.PutUint32(z)
	}
	return w.Bytes()
}

// DecodeRemoveInterestRequest parses a REMOVE_INTEREST body: the
// Interest id to drop.
func DecodeRemoveInterestRequest(body []byte) (uint16, error) {
	return wire.NewReader(body).Uint16()
}

// EncodeRemoveInterestRequest builds a REMOVE_INTEREST body (test clients).
func EncodeRemoveInterestRequest(id uint16) []byte {
	w := wire.NewWriter()
	w.PutUint16(id)
	return w.Bytes()
}

// EncodeDoneInterestResp builds a DONE_INTEREST_RESP body.
func EncodeDoneInterestResp(id uint16, context uint32) []byte {
	w := wire.NewWriter()
	w.PutUint16(id)
	w.PutUint32(context)
	return w.Bytes()
}

// DecodeDoneInterestResp parses a DONE_INTEREST_RESP body (test clients).
func DecodeDoneInterestResp(body []byte) (id uint16, context uint32, err error) {
	r := wire.NewReader(body)
	if id, err = r.Uint16(); err != nil {
		return
	}
	context, err = r.Uint32()
	return
}

// ObjectLocationRequest is the decoded OBJECT_LOCATION (CLIENT_OBJECT_LOCATION)
// body (spec.md §4.6 "Location change").
type ObjectLocationRequest struct {
	DoID   uint32
	Parent uint32
	Zone   uint32
}

// DecodeObjectLocationRequest parses an OBJECT_LOCATION body.
func DecodeObjectLocationRequest(body []byte) (ObjectLocationRequest, error) {
	r := wire.NewReader(body)
	var req ObjectLocationRequest
	var err error
	if req.DoID, err = r.Uint32(); err != nil {
		return req, err
	}
	if req.Parent, err = r.Uint32(); err != nil {
		return req, err
	}
	req.Zone, err = r.Uint32()
	return req, err
}

// EncodeObjectLocationRequest builds an OBJECT_LOCATION body (test clients).
func EncodeObjectLocationRequest(req ObjectLocationRequest) []byte {
	w := wire.NewWriter()
	w.PutUint32(req.DoID)
	w.PutUint32(req.Parent)
	w.PutUint32(req.Zone)
	return w.Bytes()
}

// ObjectUpdateFieldRequest is the decoded OBJECT_UPDATE_FIELD body, used
// both client->CA and, on the return path, CA->client (spec.md §4.6).
type ObjectUpdateFieldRequest struct {
	DoID  uint32
	Field string
	Value []byte
}

// DecodeObjectUpdateFieldRequest parses an OBJECT_UPDATE_FIELD body.
func DecodeObjectUpdateFieldRequest(body []byte) (ObjectUpdateFieldRequest, error) {
	r := wire.NewReader(body)
	var req ObjectUpdateFieldRequest
	var err error
	if req.DoID, err = r.Uint32(); err != nil {
		return req, err
	}
	if req.Field, err = r.String(); err != nil {
		return req, err
	}
	ln, err := r.Uint16()
	if err != nil {
		return req, err
	}
	val, err := r.Bytes(int(ln))
	if err != nil {
		return req, err
	}
	req.Value = append([]byte(nil), val...)
	return req, nil
}

// EncodeObjectUpdateFieldRequest builds an OBJECT_UPDATE_FIELD body.
func EncodeObjectUpdateFieldRequest(req ObjectUpdateFieldRequest) []byte {
	w := wire.NewWriter()
	w.PutUint32(req.DoID)
	w.PutString(req.Field)
	w.PutUint16(uint16(len(req.Value)))
	w.PutBytes(req.Value)
	return w.Bytes()
}

// CreateObjectRequired is the decoded CREATE_OBJECT_REQUIRED[_OTHER] body
// sent to the client on object enter (spec.md §4.5 "Object enter").
type CreateObjectRequired struct {
	DoID     uint32
	DClass   string
	Parent   uint32
	Zone     uint32
	Required []FieldEntry
	Other    []FieldEntry // empty unless the _OTHER variant is used
}

// EncodeCreateObjectRequired builds the client-facing
// CREATE_OBJECT_REQUIRED[_OTHER] body.
func EncodeCreateObjectRequired(c CreateObjectRequired) []byte {
	w := wire.NewWriter()
	w.PutUint32(c.DoID)
	w.PutString(c.DClass)
	w.PutUint32(c.Parent)
	w.PutUint32(c.Zone)
	w.PutUint16(uint16(len(c.Required)))
	for _, f := range c.Required {
		w.PutString(f.Name)
		w.PutUint16(uint16(len(f.Value)))
		w.PutBytes(f.Value)
	}
	if len(c.Other) > 0 {
		w.PutUint16(uint16(len(c.Other)))
		for _, f := range c.Other {
			w.PutString(f.Name)
			w.PutUint16(uint16(len(f.Value)))
			w.PutBytes(f.Value)
		}
	}
	return w.Bytes()
}

// DecodeCreateObjectRequired parses a CREATE_OBJECT_REQUIRED[_OTHER] body;
// hasOther selects which variant's trailing block to read (test clients).
func DecodeCreateObjectRequired(body []byte, hasOther bool) (CreateObjectRequired, error) {
	r := wire.NewReader(body)
	var c CreateObjectRequired
	var err error
	if c.DoID, err = r.Uint32(); err != nil {
		return c, err
	}
	if c.DClass, err = r.String(); err != nil {
		return c, err
	}
	if c.Parent, err = r.Uint32(); err != nil {
		return c, err
	}
	if c.Zone, err = r.Uint32(); err != nil {
		return c, err
	}
	n, err := r.Uint16()
	if err != nil {
		return c, err
	}
	c.Required = make([]FieldEntry, n)
	for i := range c.Required {
		if c.Required[i].Name, err = r.String(); err != nil {
			return c, err
		}
		ln, err := r.Uint16()
		if err != nil {
			return c, err
		}
		val, err := r.Bytes(int(ln))
		if err != nil {
			return c, err
		}
		c.Required[i].Value = append([]byte(nil), val...)
	}
	if hasOther {
		on, err := r.Uint16()
		if err != nil {
			return c, err
		}
		c.Other = make([]FieldEntry, on)
		for i := range c.Other {
			if c.Other[i].Name, err = r.String(); err != nil {
				return c, err
			}
			ln, err := r.Uint16()
			if err != nil {
				return c, err
			}
			val, err := r.Bytes(int(ln))
			if err != nil {
				return c, err
			}
			c.Other[i].Value = append([]byte(nil), val...)
		}
	}
	return c, nil
}

// EncodeObjectDeleteResp builds the client-facing OBJECT_DELETE_RESP body.
func EncodeObjectDeleteResp(doID uint32) []byte {
	w := wire.NewWriter()
	w.PutUint32(doID)
	return w.Bytes()
}

// DecodeObjectDeleteResp parses an OBJECT_DELETE_RESP body (test clients).
func DecodeObjectDeleteResp(body []byte) (uint32, error) {
	return wire.NewReader(body).Uint32()
}
