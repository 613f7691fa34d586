// Package clientwire implements the client-facing TCP wire protocol:
// length-prefixed frames, a leading uint16 message type, and the message
// and disconnect codes that are a boundary-stable contract with the game
// client (spec.md §4.1, §6).
package clientwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/udisondev/otpedge/internal/wire"
)

// MaxFrameSize bounds a single client frame's body.
const MaxFrameSize = 1 << 16

// Message types (spec.md §6). Codes are boundary-stable and must be
// preserved bit-exact.
const (
	MsgHeartbeat             uint16 = 52
	MsgLogin2                uint16 = 16
	MsgLogin2Resp            uint16 = 17
	MsgLoginToontown         uint16 = 125
	MsgLoginToontownResp     uint16 = 126
	MsgGoGetLost             uint16 = 4
	MsgGetAvatars            uint16 = 3
	MsgGetAvatarsResp        uint16 = 5
	MsgCreateAvatar          uint16 = 6
	MsgCreateAvatarResp      uint16 = 7
	MsgDeleteAvatar          uint16 = 49
	MsgDeleteAvatarResp      uint16 = 5
	MsgGetAvatarDetails      uint16 = 14
	MsgGetAvatarDetailsResp  uint16 = 15
	MsgSetAvatar             uint16 = 32
	MsgSetWishname           uint16 = 70
	MsgSetWishnameResp       uint16 = 71
	MsgSetNamePattern        uint16 = 67
	MsgSetNamePatternResp    uint16 = 68
	MsgGetFriendList         uint16 = 10
	MsgGetFriendListResp     uint16 = 11
	MsgFriendOnline          uint16 = 53
	MsgFriendOffline         uint16 = 54
	MsgGetShardList          uint16 = 8
	MsgGetShardListResp      uint16 = 9
	MsgSetShard              uint16 = 31
	MsgSetZone               uint16 = 29
	MsgAddInterest           uint16 = 97
	MsgRemoveInterest        uint16 = 99
	MsgDoneInterestResp      uint16 = 48
	MsgObjectLocation        uint16 = 102
	MsgObjectUpdateField     uint16 = 24
	MsgCreateObjectRequired      uint16 = 34
	MsgCreateObjectRequiredOther uint16 = 35
	MsgObjectDeleteResp      uint16 = 27
	MsgDisconnect            uint16 = 37
)

// Disconnect codes (spec.md §6). Sent in a GO_GET_LOST frame before the
// socket is closed.
const (
	DisconnectInvalidMsgType      uint16 = 108
	DisconnectTruncatedDatagram   uint16 = 109
	DisconnectAnonymousViolation  uint16 = 113
	DisconnectShardClosed         uint16 = 114
	DisconnectBadVersion          uint16 = 124
	DisconnectBadDCHash           uint16 = 125
	DisconnectInvalidPlayTokenType uint16 = 284
	DisconnectNoHeartbeat         uint16 = 345
	DisconnectAlreadyLoggedIn     uint16 = 346
)

// Frame is one decoded client message: a type and its type-specific body.
type Frame struct {
	Type uint16
	Body []byte
}

// WriteFrame writes a length-prefixed client frame: uint16 length, uint16
// message type, body.
func WriteFrame(w io.Writer, msgType uint16, body []byte) error {
	total := 2 + len(body)
	if total > MaxFrameSize {
		return fmt.Errorf("clientwire: frame too large (%d bytes)", total)
	}
	buf := make([]byte, 2+total)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(total))
	binary.LittleEndian.PutUint16(buf[2:4], msgType)
	copy(buf[4:], body)
	_, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("clientwire: writing frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed client frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	total := binary.LittleEndian.Uint16(header[:])
	if total < 2 {
		return Frame{}, fmt.Errorf("clientwire: invalid frame length %d", total)
	}
	rest := make([]byte, total)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Frame{}, fmt.Errorf("clientwire: reading frame body: %w", err)
	}
	msgType := binary.LittleEndian.Uint16(rest[0:2])
	return Frame{Type: msgType, Body: rest[2:]}, nil
}

// GoGetLost builds the single disconnect frame sent just before the socket
// closes (spec.md §8 scenario 6): uint16 code, string reason.
func GoGetLost(code uint16, reason string) []byte {
	w := wire.NewWriter()
	w.PutUint16(code)
	w.PutString(reason)
	return w.Bytes()
}
