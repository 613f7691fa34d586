// Package interest implements the per-client interest manager (spec.md
// §4.5): the set of zone windows a client has declared, the bookkeeping
// that tracks which objects it has been told about, and the mutation
// algorithms that run on ADD_INTEREST/REMOVE_INTEREST and object
// enter/delete events.
package interest

import (
	"github.com/udisondev/otpedge/internal/visgroup"
)

// Perma-zone IDs (spec.md §4.5 "A client observes an object iff ... or it
// sits in a perma-zone"): objects here persist across interest changes
// without ever being deleted to the client.
const (
	ZoneOldQuietZone  uint32 = 1
	ZoneDistricts     uint32 = 2
	ZoneDistrictsStat uint32 = 3
	ZoneManagement    uint32 = 4
)

// IsPermaZone reports whether zone is one of the perma-zones.
func IsPermaZone(zone uint32) bool {
	switch zone {
	case ZoneOldQuietZone, ZoneDistricts, ZoneDistrictsStat, ZoneManagement:
		return true
	default:
		return false
	}
}

// Interest is one client-declared window (spec.md §4.5).
type Interest struct {
	ID       uint16
	Context  uint32
	Parent   uint32
	Zones    map[uint32]struct{}
	VisZones map[uint32]struct{}

	// streetZones is the subset of Zones that are street zones: exactly
	// the set this Interest has an outstanding visgroup.Cache reference
	// for. Tracked separately so Acquire/Release calls stay 1:1.
	streetZones map[uint32]struct{}
}

func newInterest(id uint16, ctxID uint32, parent uint32, zones []uint32) *Interest {
	zset := make(map[uint32]struct{}, len(zones))
	for _, z := range zones {
		zset[z] = struct{}{}
	}
	return &Interest{
		ID: id, Context: ctxID, Parent: parent,
		Zones: zset, VisZones: make(map[uint32]struct{}),
		streetZones: make(map[uint32]struct{}),
	}
}

func (i *Interest) coversCell(parent, zone uint32) bool {
	if i.Parent != parent {
		return false
	}
	if _, ok := i.Zones[zone]; ok {
		return true
	}
	_, ok := i.VisZones[zone]
	return ok
}

// Delta describes the effect an ADD_INTEREST/REMOVE_INTEREST mutation had
// on State Server subscriptions, for the caller to act on.
type Delta struct {
	// KilledCells lists (parent, zone) the client no longer watches: the
	// caller must send STATE_SERVER_CLEAR_WATCH for each and emit
	// OBJECT_DELETE_RESP for every previously-seen non-owned object there,
	// except in perma-zones.
	KilledCells []Cell
	// NewCoverage lists every zone (direct + vis-expanded) the Interest
	// now covers that it did not cover before: the caller must send
	// GET_ZONES_OBJECTS_2 for these against Parent.
	NewCoverage []uint32
	Parent      uint32
	// Immediate reports that the caller should emit DONE_INTEREST_RESP
	// right away without waiting on any State Server reply (the
	// subset-of-existing-coverage edge case, spec.md §4.5 step 1).
	Immediate bool
}

// Cell identifies one (parent, zone) pair.
type Cell struct {
	Parent uint32
	Zone   uint32
}

// Manager owns one client's interests and object-visibility bookkeeping.
type Manager struct {
	vis *visgroup.Cache

	interests map[uint16]*Interest

	ownedObjects map[uint32]struct{}            // do_id set, generated as owner
	seenObjects  map[uint32]map[uint32]struct{} // zone -> do_id set
	objectZone   map[uint32]uint32              // do_id -> zone, to locate on delete

	// pendingObjects tracks, per Interest id, the do_ids the State Server
	// promised but that have not yet arrived via an enter-location message.
	pendingObjects map[uint16]map[uint32]struct{}
}

// New returns an empty interest manager backed by vis for DNA expansion.
func New(vis *visgroup.Cache) *Manager {
	return &Manager{
		vis:            vis,
		interests:      make(map[uint16]*Interest),
		ownedObjects:   make(map[uint32]struct{}),
		seenObjects:    make(map[uint32]map[uint32]struct{}),
		objectZone:     make(map[uint32]uint32),
		pendingObjects: make(map[uint16]map[uint32]struct{}),
	}
}

// Lookup returns every Interest covering (parent, zone), directly or via
// vis-zone expansion.
func (m *Manager) Lookup(parent, zone uint32) []*Interest {
	var out []*Interest
	for _, i := range m.interests {
		if i.coversCell(parent, zone) {
			out = append(out, i)
		}
	}
	return out
}

// HasParentAndZone reports whether any Interest covers (parent, zone).
// When includeVis is false, only direct zone membership counts.
func (m *Manager) HasParentAndZone(parent, zone uint32, includeVis bool) bool {
	for _, i := range m.interests {
		if i.Parent != parent {
			continue
		}
		if _, ok := i.Zones[zone]; ok {
			return true
		}
		if includeVis {
			if _, ok := i.VisZones[zone]; ok {
				return true
			}
		}
	}
	return false
}

// HasZoneAnywhere reports whether any Interest (regardless of parent)
// covers zone; used on object-enter to decide whether to forward an
// object to the client.
func (m *Manager) HasZoneAnywhere(zone uint32) bool {
	for _, i := range m.interests {
		if _, ok := i.Zones[zone]; ok {
			return true
		}
		if _, ok := i.VisZones[zone]; ok {
			return true
		}
	}
	return false
}

// AddOwnedObject marks do_id as owned by this client (it was generated to
// it as the owner, independent of interest coverage).
func (m *Manager) AddOwnedObject(doID uint32) {
	m.ownedObjects[doID] = struct{}{}
}

// OwnsObject reports whether do_id is owned by this client.
func (m *Manager) OwnsObject(doID uint32) bool {
	_, ok := m.ownedObjects[doID]
	return ok
}

// AddInterest runs the ADD_INTEREST algorithm (spec.md §4.5 steps 1-7) and
// returns the Delta the caller must act on.
func (m *Manager) AddInterest(id uint16, ctxID uint32, parent uint32, zones []uint32) (Delta, error) {
	old, updating := m.interests[id]

	// Step 1: new_zones are zones not already covered by any existing
	// Interest on this client.
	var newZones []uint32
	for _, z := range zones {
		if m.HasParentAndZone(parent, z, true) {
			continue
		}
		newZones = append(newZones, z)
	}

	// Edge case: a new Interest that names exactly one zone already covered
	// by another Interest is registered, but needs no State Server query
	// and completes immediately (spec.md §4.5 step 1 edge case).
	if !updating && len(zones) == 1 && len(newZones) == 0 {
		m.interests[id] = newInterest(id, ctxID, parent, zones)
		return Delta{Immediate: true, Parent: parent}, nil
	}

	// Step 2: vis-zone expansion for street zones among new_zones. Each
	// newly-acquired street zone gets exactly one visgroup.Cache
	// reference, released exactly once when it later leaves this
	// Interest's zone set (update or full removal).
	newStreetZones := make(map[uint32]struct{})
	for _, z := range newZones {
		if visgroup.IsStreetZone(z) {
			newStreetZones[z] = struct{}{}
		}
	}
	newVis, err := m.vis.Expand(keys(newStreetZones))
	if err != nil {
		return Delta{}, err
	}

	finalZones := make(map[uint32]struct{})
	for _, z := range zones {
		finalZones[z] = struct{}{}
	}

	finalStreetZones := make(map[uint32]struct{})
	if updating {
		for z := range old.streetZones {
			if _, keep := finalZones[z]; keep {
				finalStreetZones[z] = struct{}{}
			}
		}
	}
	for z := range newStreetZones {
		finalStreetZones[z] = struct{}{}
	}

	finalVis := make(map[uint32]struct{})
	if updating {
		for z := range old.VisZones {
			finalVis[z] = struct{}{}
		}
	}
	for _, z := range newVis {
		finalVis[z] = struct{}{}
	}

	var killedCells []Cell
	var newCoverage []uint32
	coveredAlready := func(z uint32) bool { return m.HasParentAndZone(parent, z, true) }

	if updating {
		// Step 3: killed = zones this Interest alone covered that it no
		// longer names, plus vis zones it alone covered that are gone.
		for z := range old.Zones {
			if _, keep := finalZones[z]; keep {
				continue
			}
			if len(m.Lookup(parent, z)) == 1 {
				killedCells = append(killedCells, Cell{Parent: parent, Zone: z})
			}
		}
		for z := range old.streetZones {
			if _, keep := finalStreetZones[z]; keep {
				continue
			}
			m.vis.Release(z)
		}
		for z := range old.VisZones {
			if _, keep := finalVis[z]; keep {
				continue
			}
			if len(m.Lookup(parent, z)) == 1 {
				killedCells = append(killedCells, Cell{Parent: parent, Zone: z})
			}
		}
		for z := range finalVis {
			if _, had := old.VisZones[z]; had {
				continue
			}
			if !coveredAlready(z) {
				newCoverage = append(newCoverage, z)
			}
		}
		for _, z := range newZones {
			newCoverage = append(newCoverage, z)
		}
	} else {
		for _, z := range newZones {
			newCoverage = append(newCoverage, z)
		}
		for z := range finalVis {
			newCoverage = append(newCoverage, z)
		}
	}

	interest := newInterest(id, ctxID, parent, keys(finalZones))
	interest.VisZones = finalVis
	interest.streetZones = finalStreetZones
	m.interests[id] = interest

	if len(newCoverage) == 0 {
		return Delta{Immediate: true, Parent: parent, KilledCells: killedCells}, nil
	}

	return Delta{Parent: parent, KilledCells: killedCells, NewCoverage: dedupe(newCoverage)}, nil
}

// PendingObjects records do_ids the State Server promised for Interest id
// (spec.md §4.5 step 7). Call ObjectEntered as each one arrives.
func (m *Manager) PendingObjects(id uint16, doIDs []uint32) {
	set := make(map[uint32]struct{}, len(doIDs))
	for _, d := range doIDs {
		set[d] = struct{}{}
	}
	m.pendingObjects[id] = set
}

// InterestDone reports whether Interest id has no pending objects left
// (step 7's completion condition). An id with no pending set tracked
// counts as done.
func (m *Manager) InterestDone(id uint16) bool {
	set, ok := m.pendingObjects[id]
	if !ok {
		return true
	}
	return len(set) == 0
}

// RemoveInterest runs the REMOVE_INTEREST algorithm (spec.md §4.5) and
// returns the cells to kill.
func (m *Manager) RemoveInterest(id uint16) (Delta, bool) {
	old, ok := m.interests[id]
	if !ok {
		return Delta{}, false
	}

	var killed []Cell
	for z := range old.Zones {
		if len(m.lookupExcluding(old.Parent, z, id)) == 0 {
			killed = append(killed, Cell{Parent: old.Parent, Zone: z})
		}
	}
	for z := range old.VisZones {
		if len(m.lookupExcluding(old.Parent, z, id)) == 0 {
			killed = append(killed, Cell{Parent: old.Parent, Zone: z})
		}
	}
	for z := range old.streetZones {
		m.vis.Release(z)
	}

	delete(m.interests, id)
	delete(m.pendingObjects, id)
	return Delta{Parent: old.Parent, KilledCells: killed}, true
}

func (m *Manager) lookupExcluding(parent, zone uint32, excludeID uint16) []*Interest {
	var out []*Interest
	for id, i := range m.interests {
		if id == excludeID {
			continue
		}
		if i.coversCell(parent, zone) {
			out = append(out, i)
		}
	}
	return out
}

// ObjectEntered implements the "Object enter" algorithm (spec.md §4.5):
// returns shouldForward (emit CREATE_OBJECT_REQUIRED[_OTHER] to the
// client) and completedInterests (Interest ids whose pending set just
// emptied, so the caller should emit DONE_INTEREST_RESP for each).
func (m *Manager) ObjectEntered(doID, zone uint32) (shouldForward bool, completedInterests []uint16) {
	if m.OwnsObject(doID) {
		return false, m.drainPending(doID)
	}
	if set, ok := m.seenObjects[zone]; ok {
		if _, dup := set[doID]; dup {
			return false, m.drainPending(doID)
		}
	}
	if !m.HasZoneAnywhere(zone) {
		return false, m.drainPending(doID)
	}

	if m.seenObjects[zone] == nil {
		m.seenObjects[zone] = make(map[uint32]struct{})
	}
	m.seenObjects[zone][doID] = struct{}{}
	m.objectZone[doID] = zone

	return true, m.drainPending(doID)
}

// drainPending removes doID from every Interest's pending set (spec.md
// §4.5 "Additionally, if the object was on pending_objects, remove it")
// and returns the ids whose pending set just became empty.
func (m *Manager) drainPending(doID uint32) []uint16 {
	var completed []uint16
	for id, set := range m.pendingObjects {
		if _, ok := set[doID]; !ok {
			continue
		}
		delete(set, doID)
		if len(set) == 0 {
			completed = append(completed, id)
		}
	}
	return completed
}

// ObjectDeleted implements the "Object delete" algorithm (spec.md §4.5):
// returns whether OBJECT_DELETE_RESP should be emitted to the client (it
// had previously been generated to it).
func (m *Manager) ObjectDeleted(doID uint32) bool {
	delete(m.ownedObjects, doID)
	zone, hadZone := m.objectZone[doID]
	wasSeen := false
	if hadZone {
		if set, ok := m.seenObjects[zone]; ok {
			if _, ok := set[doID]; ok {
				wasSeen = true
				delete(set, doID)
			}
		}
		delete(m.objectZone, doID)
	}
	for _, set := range m.seenObjects {
		delete(set, doID)
	}
	return wasSeen
}

// ObjectsInZone returns the do_ids this client has been shown in zone,
// for the caller to emit OBJECT_DELETE_RESP against when the zone is
// killed by an ADD_INTEREST/REMOVE_INTEREST mutation (spec.md §4.5: "emit
// OBJECT_DELETE_RESP for every previously-seen non-owned object there").
// Owned objects are never recorded in seenObjects, so the result already
// excludes them.
func (m *Manager) ObjectsInZone(zone uint32) []uint32 {
	set, ok := m.seenObjects[zone]
	if !ok {
		return nil
	}
	return keys(set)
}

func keys(m map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func dedupe(zones []uint32) []uint32 {
	seen := make(map[uint32]struct{}, len(zones))
	out := make([]uint32, 0, len(zones))
	for _, z := range zones {
		if _, ok := seen[z]; ok {
			continue
		}
		seen[z] = struct{}{}
		out = append(out, z)
	}
	return out
}
