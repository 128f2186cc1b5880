package overlay

import "sync/atomic"

// Latch is the global corruption latch: once either bit trips, the
// Manager must refuse all further Apply/Remove calls because the live
// tree's consistency with its own edit history can no longer be trusted.
//
// Every other piece of shared state in this codebase is guarded by a
// mutex (its own, or the Manager's). The latch is the one deliberate
// exception: it is read on
// the hot path of every single Apply/Remove call, it is only ever set,
// never cleared, and the two bits are independent of each other, so a
// pair of atomic.Bool values gives the same correctness as a mutex with
// less contention and no risk of the latch check itself taking a lock
// that a corrupted code path might already be holding.
type Latch struct {
	applyFail  atomic.Bool
	revertFail atomic.Bool
}

// NewLatch returns a latch with both bits clear.
func NewLatch() *Latch {
	return &Latch{}
}

// SetApplyFail trips the latch because an internal revert-after-apply-
// failure itself failed.
func (l *Latch) SetApplyFail() {
	l.applyFail.Store(true)
}

// SetRevertFail trips the latch because an internal re-apply-after-
// revert-failure itself failed.
func (l *Latch) SetRevertFail() {
	l.revertFail.Store(true)
}

// IsSet reports whether either bit has tripped.
func (l *Latch) IsSet() bool {
	return l.applyFail.Load() || l.revertFail.Load()
}
