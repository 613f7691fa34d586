package clientwire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/otpedge/internal/wire"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, MsgHeartbeat, nil))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, MsgHeartbeat, frame.Type)
	require.Empty(t, frame.Body)
}

func TestWriteReadFrameWithBody(t *testing.T) {
	var buf bytes.Buffer
	w := wire.NewWriter()
	w.PutString("alice")
	require.NoError(t, WriteFrame(&buf, MsgLogin2, w.Bytes()))

	frame, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, MsgLogin2, frame.Type)

	r := wire.NewReader(frame.Body)
	s, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "alice", s)
}

func TestGoGetLostEncodesCodeAndReason(t *testing.T) {
	body := GoGetLost(DisconnectBadVersion, "bad version")
	r := wire.NewReader(body)
	code, err := r.Uint16()
	require.NoError(t, err)
	require.Equal(t, DisconnectBadVersion, code)
	reason, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "bad version", reason)
}

func TestReadFrameTruncatedFails(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{5, 0, 1}))
	require.Error(t, err)
}
