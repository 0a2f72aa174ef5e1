// Package segment implements the fixed-capacity element pages the
// storage engine allocates from, plus the bounded free-slot cache that
// amortizes the cost of finding an insertion site across segments.
//
// Segments provide per-slot locking and slot-occupancy bookkeeping;
// they know nothing about the graph shape above them (incidence lists,
// arc splicing), that is Storage's job. This separation mirrors the
// teacher's split between an allocator/arena layer and the engine that
// gives allocated memory graph semantics.
package segment

import (
	"sync/atomic"

	"github.com/latticegraph/lattice/pkg/element"
)

// Capacity is the fixed number of slots per segment.
const Capacity = 4096

// slot pairs one element with its own spinlock. Kept as a single
// struct (rather than parallel arrays) so that lock and payload stay
// on the same cache line for the common case of one goroutine touching
// one slot at a time.
type slot struct {
	lock element.Spinlock
	el   element.Element
}

// Segment is a fixed-capacity page of element slots, numbered by its
// position in Storage's segment array.
type Segment struct {
	num   uint32
	slots []slot // len == Capacity, allocated once in New
	// occupied is a lock-free heuristic: it may race with concurrent
	// erase/allocate but must never report the segment full when it is
	// actually empty (HasEmptySlot's contract).
	occupied atomic.Int64
}

// New allocates a fresh, empty Segment numbered num.
func New(num uint32) *Segment {
	return &Segment{
		num:   num,
		slots: make([]slot, Capacity),
	}
}

// Num returns the segment's position in the owning segment array.
func (s *Segment) Num() uint32 {
	return s.num
}

// LockElement acquires the per-slot lock at offset, spinning until
// held, and returns a pointer to the (now locked) element. The pointer
// is invalidated by any call that reallocates the segment's slot
// slice, which never happens after New, slots are stable for the
// segment's lifetime.
func (s *Segment) LockElement(ctxID uint32, offset uint32) *element.Element {
	sl := &s.slots[offset]
	sl.lock.Lock(ctxID)
	return &sl.el
}

// LockElementTry attempts to acquire the lock at offset within
// maxAttempts spins. It returns nil without side effects on failure.
func (s *Segment) LockElementTry(ctxID uint32, offset uint32, maxAttempts int) *element.Element {
	sl := &s.slots[offset]
	if !sl.lock.TryLock(ctxID, maxAttempts) {
		return nil
	}
	return &sl.el
}

// UnlockElement releases the lock at offset. It panics if ctxID is not
// the current holder.
func (s *Segment) UnlockElement(ctxID uint32, offset uint32) {
	s.slots[offset].lock.Unlock(ctxID)
}

// LockEmptyElement scans for the first empty (Type == 0) slot, locks
// it, and returns its offset and element pointer. It reports false if
// no empty slot could be locked in one pass.
//
// The scan itself is not atomic with respect to the lock acquisition:
// another goroutine may win the race for the slot this goroutine
// noticed as empty. When that happens the caller (Storage's allocator)
// simply retries via the segment cache, so a benign miss here is not a
// correctness problem, only a wasted scan.
func (s *Segment) LockEmptyElement(ctxID uint32) (offset uint32, el *element.Element, ok bool) {
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.el.Type != 0 {
			continue
		}
		if !sl.lock.TryLock(ctxID, 1) {
			continue
		}
		if sl.el.Type != 0 {
			// Lost the race after locking; someone else filled it
			// between our peek and our lock.
			sl.lock.Unlock(ctxID)
			continue
		}
		s.occupied.Add(1)
		return uint32(i), &sl.el, true
	}
	return 0, nil, false
}

// EraseElement zeroes the slot's type, freeing it for reuse. The
// caller must already hold the slot's lock (the normal case) or be
// running during Storage shutdown, when no other goroutine can be
// touching the segment.
func (s *Segment) EraseElement(offset uint32) {
	s.slots[offset].el.Reset()
	s.occupied.Add(-1)
}

// HasEmptySlot is a lock-free heuristic used by the segment cache to
// decide whether a segment is worth appending: it may race with
// concurrent allocation/erase, but must never report false when the
// segment is in fact empty. Since occupied only increases on a
// successful LockEmptyElement and decreases on EraseElement, and
// both are monotonic single-slot transitions, a freshly-created
// segment's occupied count of 0 always yields true here.
func (s *Segment) HasEmptySlot() bool {
	return s.occupied.Load() < int64(len(s.slots))
}

// Stat accumulates per-element-kind counts for GetElementsStat.
type Stat struct {
	Nodes int64
	Links int64
	Arcs  int64
}

// Add merges other into s.
func (s *Stat) Add(other Stat) {
	s.Nodes += other.Nodes
	s.Links += other.Links
	s.Arcs += other.Arcs
}

// CollectLive locks each live slot in turn and passes its offset and a
// copy of its element to fn, used by Storage.Shutdown to flush a
// segment's contents through Persistence without holding any lock for
// longer than a single slot visit.
func (s *Segment) CollectLive(ctxID uint32, fn func(offset uint32, el element.Element)) {
	for i := range s.slots {
		sl := &s.slots[i]
		sl.lock.Lock(ctxID)
		if sl.el.Type != 0 {
			fn(uint32(i), sl.el)
		}
		sl.lock.Unlock(ctxID)
	}
}

// CollectStat performs a coarse-locked scan of the segment, adding
// per-kind counts into stat. It locks each slot briefly rather than
// holding a segment-wide lock, so it may observe a mutating graph as a
// mix of before/after states across slots, acceptable for a
// best-effort statistics call.
func (s *Segment) CollectStat(ctxID uint32, stat *Stat) {
	for i := range s.slots {
		sl := &s.slots[i]
		if !sl.lock.TryLock(ctxID, 8) {
			continue
		}
		switch {
		case sl.el.Type == 0:
			// free slot
		case sl.el.Type.IsArc():
			stat.Arcs++
		case sl.el.Type.IsLink():
			stat.Links++
		case sl.el.Type.IsNode():
			stat.Nodes++
		}
		sl.lock.Unlock(ctxID)
	}
}
