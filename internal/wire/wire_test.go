package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripScalars(t *testing.T) {
	w := NewWriter()
	w.PutUint8(7)
	w.PutUint16(1234)
	w.PutUint32(0xDEADBEEF)
	w.PutUint64(0x0102030405060708)
	w.PutString("alice")
	w.PutBytes([]byte{1, 2, 3})

	r := NewReader(w.Bytes())

	u8, err := r.Uint8()
	require.NoError(t, err)
	require.EqualValues(t, 7, u8)

	u16, err := r.Uint16()
	require.NoError(t, err)
	require.EqualValues(t, 1234, u16)

	u32, err := r.Uint32()
	require.NoError(t, err)
	require.EqualValues(t, 0xDEADBEEF, u32)

	u64, err := r.Uint64()
	require.NoError(t, err)
	require.EqualValues(t, 0x0102030405060708, u64)

	s, err := r.String()
	require.NoError(t, err)
	require.Equal(t, "alice", s)

	b, err := r.Bytes(3)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, b)

	require.Zero(t, r.Remaining())
}

func TestUTF16StringRoundTrip(t *testing.T) {
	w := NewWriter()
	w.PutUTF16String("Toon")
	r := NewReader(w.Bytes())
	s, err := r.UTF16String()
	require.NoError(t, err)
	require.Equal(t, "Toon", s)
}

func TestTruncatedFailsWithSentinel(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, err := r.Uint32()
	require.ErrorIs(t, err, ErrTruncated)

	r2 := NewReader([]byte{3, 0, 'a', 'b'}) // length says 3 but only 2 bytes follow
	_, err = r2.String()
	require.ErrorIs(t, err, ErrTruncated)
}

func TestRemainderConsumesRestAndIsZeroCopy(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4})
	_, _ = r.Uint8()
	rest := r.Remainder()
	require.Equal(t, []byte{2, 3, 4}, rest)
	require.Zero(t, r.Remaining())
}
