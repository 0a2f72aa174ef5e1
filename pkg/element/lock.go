package element

import "sync/atomic"

// Spinlock is a per-slot mutual-exclusion lock tagged with the id of
// the context currently holding it. Unlike sync.Mutex it never parks
// the goroutine, callers spin, either unbounded (Lock) or for a
// bounded number of attempts (TryLock), which is the contract
// Storage.ArcNew needs to convert deadlock risk into livelock risk
// during its ordered multi-lock acquisition.
//
// The zero value is an unlocked Spinlock, safe for immediate use as
// part of a zero-valued Element slot.
type Spinlock struct {
	// owner is 0 when unlocked, or (ctxID+1) when held, the +1 lets
	// context id 0 hold the lock without colliding with "unlocked".
	owner atomic.Uint32
}

// Lock spins until the lock is acquired by ctxID.
func (s *Spinlock) Lock(ctxID uint32) {
	tag := ctxID + 1
	for !s.owner.CompareAndSwap(0, tag) {
		// busy-wait: segments are sharded and contention on a single
		// slot is expected to be rare.
	}
}

// TryLock attempts to acquire the lock for ctxID, spinning at most
// maxAttempts times before giving up. It reports whether the lock was
// acquired; on failure it has no side effects.
func (s *Spinlock) TryLock(ctxID uint32, maxAttempts int) bool {
	tag := ctxID + 1
	for i := 0; i < maxAttempts; i++ {
		if s.owner.CompareAndSwap(0, tag) {
			return true
		}
	}
	return false
}

// Unlock releases the lock. It panics if ctxID does not currently hold
// it.
func (s *Spinlock) Unlock(ctxID uint32) {
	tag := ctxID + 1
	if !s.owner.CompareAndSwap(tag, 0) {
		panic("element: unlock by non-owning context")
	}
}

// HeldBy reports whether ctxID currently holds the lock. Intended for
// assertions and tests, not for synchronization decisions.
func (s *Spinlock) HeldBy(ctxID uint32) bool {
	return s.owner.Load() == ctxID+1
}
