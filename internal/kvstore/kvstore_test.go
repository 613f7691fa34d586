package kvstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreAndLookupRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, found, err := store.Lookup("tok-1")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, store.Store("tok-1", 777))

	accountID, found, err := store.Lookup("tok-1")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 777, accountID)
}

func TestStoreOverwritesExistingMapping(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Store("tok-2", 1))
	require.NoError(t, store.Store("tok-2", 2))

	accountID, found, err := store.Lookup("tok-2")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 2, accountID)
}

func TestLookupUnknownTokenIsNotFound(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	_, found, err := store.Lookup("nope")
	require.NoError(t, err)
	require.False(t, found)
}
