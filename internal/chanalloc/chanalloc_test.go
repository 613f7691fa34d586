package chanalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateSequential(t *testing.T) {
	a, err := New(100, 103)
	require.NoError(t, err)

	for i := uint64(100); i <= 103; i++ {
		ch, err := a.Allocate()
		require.NoError(t, err)
		require.EqualValues(t, i, ch)
	}

	_, err = a.Allocate()
	require.ErrorIs(t, err, ErrExhausted)
}

func TestFreeListPreferredOverHighWaterMark(t *testing.T) {
	a, err := New(100, 110)
	require.NoError(t, err)

	first, err := a.Allocate()
	require.NoError(t, err)
	second, err := a.Allocate()
	require.NoError(t, err)

	a.Free(first)

	reused, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, first, reused, "freed id should be reused before advancing high-water mark")

	next, err := a.Allocate()
	require.NoError(t, err)
	require.NotEqual(t, second, next)
}

func TestFreeIsIdempotent(t *testing.T) {
	a, err := New(0, 9)
	require.NoError(t, err)

	ch, err := a.Allocate()
	require.NoError(t, err)
	a.Free(ch)
	a.Free(ch) // must not panic or double-queue
	a.Free(ch)

	require.False(t, a.IsAllocated(ch))

	// Reallocating must hand the same id back out exactly once.
	seen := map[uint64]bool{}
	for i := 0; i < 10; i++ {
		id, err := a.Allocate()
		require.NoError(t, err)
		require.False(t, seen[uint64(id)], "id %d allocated twice", id)
		seen[uint64(id)] = true
	}
}

func TestFreeOutOfRangeIsNoop(t *testing.T) {
	a, err := New(5, 9)
	require.NoError(t, err)
	a.Free(0)
	a.Free(1000)
	ch, err := a.Allocate()
	require.NoError(t, err)
	require.EqualValues(t, 5, ch)
}

func TestIsAllocated(t *testing.T) {
	a, err := New(0, 2)
	require.NoError(t, err)
	ch, err := a.Allocate()
	require.NoError(t, err)
	require.True(t, a.IsAllocated(ch))
	a.Free(ch)
	require.False(t, a.IsAllocated(ch))
}
