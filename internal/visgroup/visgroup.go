// Package visgroup resolves street-zone visibility-group expansion
// (spec.md §4.5 "Zone expansion"). The DNA file parser itself is an
// out-of-scope external collaborator (spec.md §1); this package only
// consumes the per-branch visibility lists it produces and caches them
// per client, evicting a branch once nothing references it anymore.
package visgroup

import (
	"fmt"
	"sync"
)

// Loader loads the visibility-group table for one branch zone: a map from
// each zone under that branch to the list of zones visible from it. This
// is the seam the (out-of-scope) DNA file parser fills in.
type Loader interface {
	Load(branchZone uint32) (map[uint32][]uint32, error)
}

// BranchZone returns the 100-multiple root zone that zone sits under
// (spec.md §4.5).
func BranchZone(zone uint32) uint32 {
	return zone - (zone % 100)
}

// IsStreetZone reports whether zone is a street zone: one that sits under
// a branch but is not itself the branch root (spec.md §4.5).
func IsStreetZone(zone uint32) bool {
	return zone%100 != 0
}

type branchEntry struct {
	visDict map[uint32][]uint32
	refs    int
}

// Cache is a per-client cache of loaded branch DNA, keyed by branch zone
// and refcounted by the Interests that reference it (spec.md §4.5, §7
// "Per-client DNA cache").
type Cache struct {
	loader Loader

	mu      sync.Mutex
	entries map[uint32]*branchEntry
}

// New returns an empty cache backed by loader.
func New(loader Loader) *Cache {
	return &Cache{loader: loader, entries: make(map[uint32]*branchEntry)}
}

// Acquire returns the visible-zone list for zone, loading (and caching)
// its branch on first reference. Call Release with the same zone when the
// Interest that requested it goes away.
func (c *Cache) Acquire(zone uint32) ([]uint32, error) {
	branch := BranchZone(zone)

	c.mu.Lock()
	entry, ok := c.entries[branch]
	c.mu.Unlock()

	if !ok {
		visDict, err := c.loader.Load(branch)
		if err != nil {
			return nil, fmt.Errorf("visgroup: loading branch %d: %w", branch, err)
		}
		c.mu.Lock()
		entry, ok = c.entries[branch]
		if !ok {
			entry = &branchEntry{visDict: visDict}
			c.entries[branch] = entry
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	entry.refs++
	c.mu.Unlock()

	return entry.visDict[zone], nil
}

// Release drops one reference to zone's branch, evicting the branch's
// cached DNA once nothing references it (spec.md §4.5).
func (c *Cache) Release(zone uint32) {
	branch := BranchZone(zone)

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[branch]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(c.entries, branch)
	}
}

// Expand accumulates the visible-zone set for every street zone in zones,
// per the ADD_INTEREST algorithm's step 2 (spec.md §4.5). Non-street zones
// contribute nothing. The returned set has no duplicates.
func (c *Cache) Expand(zones []uint32) ([]uint32, error) {
	seen := make(map[uint32]struct{})
	var out []uint32
	for _, z := range zones {
		if !IsStreetZone(z) {
			continue
		}
		vis, err := c.Acquire(z)
		if err != nil {
			return nil, err
		}
		for _, v := range vis {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out, nil
}

// ReleaseAll releases one reference for every zone in zones (used when an
// Interest that acquired them is removed).
func (c *Cache) ReleaseAll(zones []uint32) {
	for _, z := range zones {
		if IsStreetZone(z) {
			c.Release(z)
		}
	}
}
