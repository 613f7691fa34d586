// Package chanalloc implements the interval-based channel allocator
// described in spec.md §4.2: a free-list-preferring allocator over a
// contiguous [min, max] range of channels.
package chanalloc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/udisondev/otpedge/internal/otpchannel"
)

// ErrExhausted is returned by Allocate when no channel remains free.
var ErrExhausted = errors.New("chanalloc: range exhausted")

// Allocator hands out unique channels from [min, max]. Freed channels are
// reused FIFO in preference to advancing the high-water mark, so that IDs
// stay small and a stale post-remove delivered against a reused channel can
// be detected by the caller (spec.md §4.2).
type Allocator struct {
	mu        sync.Mutex
	min, max  uint64
	highWater uint64 // next never-allocated offset from min
	freed     []uint64
	allocated *bitset.BitSet
}

// New creates an Allocator over the inclusive range [min, max].
func New(min, max uint64) (*Allocator, error) {
	if max < min {
		return nil, fmt.Errorf("chanalloc: invalid range [%d, %d]", min, max)
	}
	size := max - min + 1
	return &Allocator{
		min:       min,
		max:       max,
		allocated: bitset.New(uint(size)),
	}, nil
}

// Allocate returns the first free channel, preferring the FIFO free-list
// over the high-water mark. Returns ErrExhausted when the range is full.
func (a *Allocator) Allocate() (otpchannel.Channel, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.freed); n > 0 {
		id := a.freed[0]
		a.freed = a.freed[1:]
		a.allocated.Set(uint(id - a.min))
		return otpchannel.Channel(id), nil
	}

	if a.highWater > a.max-a.min {
		return 0, ErrExhausted
	}
	id := a.min + a.highWater
	a.highWater++
	a.allocated.Set(uint(id - a.min))
	return otpchannel.Channel(id), nil
}

// Free returns id to the pool. Freeing an id that is not currently
// allocated (including a never-allocated or already-freed id within range)
// is a no-op, making allocate/free idempotent-safe (spec.md §8).
func (a *Allocator) Free(id otpchannel.Channel) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u := uint64(id)
	if u < a.min || u > a.max {
		return
	}
	idx := uint(u - a.min)
	if !a.allocated.Test(idx) {
		return
	}
	a.allocated.Clear(idx)
	a.freed = append(a.freed, u)
}

// IsAllocated reports whether id is currently allocated. Exposed for
// detecting stale post-remove delivery against a reused channel.
func (a *Allocator) IsAllocated(id otpchannel.Channel) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	u := uint64(id)
	if u < a.min || u > a.max {
		return false
	}
	return a.allocated.Test(uint(u - a.min))
}

// Capacity returns the total number of channels in the managed range.
func (a *Allocator) Capacity() uint64 {
	return a.max - a.min + 1
}
