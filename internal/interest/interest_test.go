package interest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/otpedge/internal/visgroup"
)

type fakeLoader struct {
	table map[uint32]map[uint32][]uint32
}

func (f *fakeLoader) Load(branch uint32) (map[uint32][]uint32, error) {
	return f.table[branch], nil
}

func newTestManager() *Manager {
	loader := &fakeLoader{table: map[uint32]map[uint32][]uint32{
		2100: {2134: {2135, 2136}},
	}}
	return New(visgroup.New(loader))
}

func TestAddInterestFreshCoversAllZones(t *testing.T) {
	m := newTestManager()
	delta, err := m.AddInterest(1, 5, 9000, []uint32{2000, 2001})
	require.NoError(t, err)
	require.False(t, delta.Immediate)
	require.ElementsMatch(t, []uint32{2000, 2001}, delta.NewCoverage)
	require.Empty(t, delta.KilledCells)
}

func TestAddInterestExpandsStreetZoneVisibility(t *testing.T) {
	m := newTestManager()
	delta, err := m.AddInterest(1, 5, 9000, []uint32{2134})
	require.NoError(t, err)
	require.ElementsMatch(t, []uint32{2134, 2135, 2136}, delta.NewCoverage)
}

func TestAddInterestSingleZoneSubsetIsImmediateNoop(t *testing.T) {
	m := newTestManager()
	_, err := m.AddInterest(1, 5, 9000, []uint32{2000, 2001})
	require.NoError(t, err)

	delta, err := m.AddInterest(2, 6, 9000, []uint32{2000})
	require.NoError(t, err)
	require.True(t, delta.Immediate)
	require.Empty(t, delta.NewCoverage)

	// The prior interest must be untouched.
	require.True(t, m.HasParentAndZone(9000, 2000, false))
	require.True(t, m.HasParentAndZone(9000, 2001, false))
}

func TestAddInterestUpdateKillsZonesNoLongerShared(t *testing.T) {
	m := newTestManager()
	_, err := m.AddInterest(1, 5, 9000, []uint32{2000, 2001})
	require.NoError(t, err)

	delta, err := m.AddInterest(1, 6, 9000, []uint32{2002})
	require.NoError(t, err)
	require.ElementsMatch(t, []Cell{{Parent: 9000, Zone: 2000}, {Parent: 9000, Zone: 2001}}, delta.KilledCells)
	require.ElementsMatch(t, []uint32{2002}, delta.NewCoverage)
}

func TestAddInterestUpdateDoesNotKillZoneSharedByOtherInterest(t *testing.T) {
	m := newTestManager()
	_, err := m.AddInterest(1, 5, 9000, []uint32{2000, 2001})
	require.NoError(t, err)
	_, err = m.AddInterest(2, 6, 9000, []uint32{2001})
	require.NoError(t, err)

	delta, err := m.AddInterest(1, 7, 9000, []uint32{2002})
	require.NoError(t, err)
	require.ElementsMatch(t, []Cell{{Parent: 9000, Zone: 2000}}, delta.KilledCells)
}

func TestRemoveInterestKillsSoleCoverage(t *testing.T) {
	m := newTestManager()
	_, err := m.AddInterest(1, 5, 9000, []uint32{2000})
	require.NoError(t, err)

	delta, ok := m.RemoveInterest(1)
	require.True(t, ok)
	require.ElementsMatch(t, []Cell{{Parent: 9000, Zone: 2000}}, delta.KilledCells)
	require.False(t, m.HasParentAndZone(9000, 2000, true))
}

func TestRemoveInterestPreservesZoneStillHeldByAnother(t *testing.T) {
	m := newTestManager()
	_, err := m.AddInterest(1, 5, 9000, []uint32{2000})
	require.NoError(t, err)
	_, err = m.AddInterest(2, 6, 9000, []uint32{2000})
	require.NoError(t, err)

	delta, ok := m.RemoveInterest(1)
	require.True(t, ok)
	require.Empty(t, delta.KilledCells)
	require.True(t, m.HasParentAndZone(9000, 2000, false))
}

func TestRemoveInterestUnknownIDReturnsFalse(t *testing.T) {
	m := newTestManager()
	_, ok := m.RemoveInterest(99)
	require.False(t, ok)
}

func TestObjectEnteredForwardsAndTracksSeen(t *testing.T) {
	m := newTestManager()
	_, err := m.AddInterest(1, 5, 9000, []uint32{2000})
	require.NoError(t, err)
	m.PendingObjects(1, []uint32{500})

	forward, completed := m.ObjectEntered(500, 2000)
	require.True(t, forward)
	require.Equal(t, []uint16{1}, completed)

	// Duplicate enter for the same object must not be re-forwarded.
	forward2, _ := m.ObjectEntered(500, 2000)
	require.False(t, forward2)
}

func TestObjectEnteredSkipsOwnedObjects(t *testing.T) {
	m := newTestManager()
	m.AddOwnedObject(501)
	forward, _ := m.ObjectEntered(501, 2000)
	require.False(t, forward)
}

func TestObjectEnteredSkipsUncoveredZone(t *testing.T) {
	m := newTestManager()
	forward, _ := m.ObjectEntered(502, 2000)
	require.False(t, forward)
}

func TestObjectDeletedReportsPriorVisibility(t *testing.T) {
	m := newTestManager()
	_, err := m.AddInterest(1, 5, 9000, []uint32{2000})
	require.NoError(t, err)
	m.ObjectEntered(503, 2000)

	require.True(t, m.ObjectDeleted(503))
	require.False(t, m.ObjectDeleted(503), "deleting an already-removed object reports not-seen")
}

func TestAddThenRemoveInterestDropsZoneCoverage(t *testing.T) {
	m := newTestManager()
	_, err := m.AddInterest(1, 5, 9000, []uint32{2000})
	require.NoError(t, err)
	m.ObjectEntered(504, 2000)
	require.True(t, m.HasZoneAnywhere(2000))

	_, ok := m.RemoveInterest(1)
	require.True(t, ok)
	require.False(t, m.HasZoneAnywhere(2000))
}
