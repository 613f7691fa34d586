package mdproto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/otpedge/internal/otpchannel"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	dg := Datagram{
		Recipients: []otpchannel.Channel{1001, 1_000_000_001},
		Sender:     otpchannel.Channel(5000),
		MsgType:    42,
		Payload:    []byte("payload-bytes"),
	}

	body, err := Encode(dg)
	require.NoError(t, err)

	got, err := Decode(body)
	require.NoError(t, err)
	require.Equal(t, dg.Recipients, got.Recipients)
	require.Equal(t, dg.Sender, got.Sender)
	require.Equal(t, dg.MsgType, got.MsgType)
	require.Equal(t, dg.Payload, got.Payload)
}

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	dg := Datagram{
		Recipients: []otpchannel.Channel{otpchannel.StateServer},
		Sender:     otpchannel.ClientAgent,
		MsgType:    7,
		Payload:    []byte{0xAA, 0xBB},
	}
	require.NoError(t, WriteFrame(&buf, dg))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, dg, got)
}

func TestControlDatagramAddressesControlChannel(t *testing.T) {
	dg := NewControl(otpchannel.Channel(123), ControlSetChannel, []byte{1})
	require.Equal(t, []otpchannel.Channel{otpchannel.ControlChannel}, dg.Recipients)
	require.Equal(t, ControlSetChannel, dg.MsgType)
}

func TestDecodeTruncatedFails(t *testing.T) {
	_, err := Decode([]byte{2, 1, 2, 3}) // recipient_count=2 but not enough data
	require.Error(t, err)
}

func TestReadFrameTruncatedHeaderFails(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1}))
	require.Error(t, err)
}
