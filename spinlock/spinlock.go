// Package spinlock implements the spin lock with per-CPU interrupt-nesting
// described in spec.md §4.3. It never blocks its caller: Acquire spins
// with a bounded backoff instead of sleeping, which is also why a holder
// may not call sleep (spec.md §4.4, §5).
//
// Grounded on biscuit/src/vm/as.go's Vm_t, which embeds sync.Mutex as the
// "spin lock protecting this structure's fields" and on
// biscuit/src/fs/blk.go's Bdev_block_t doing the same for buffer data;
// this package makes that pattern an explicit, reusable type instead of
// embedding sync.Mutex directly, so it can also own the push_off/pop_off
// nesting spec.md requires and a debug name/owner for double-acquire
// detection (spec.md invariant I5, "a hart must not re-acquire a lock it
// already holds").
package spinlock

import (
	"runtime"
	"sync/atomic"

	"rv6/cpu"
)

// Spinlock_t is a busy-wait mutex whose holder runs with interrupts
// disabled (spec.md §3 "Spin lock").
type Spinlock_t struct {
	Name   string
	locked atomic.Bool
	owner  atomic.Int64 // hart id of current holder, -1 if unlocked
}

// MkSpinlock constructs a named, initially-unlocked spin lock.
func MkSpinlock(name string) *Spinlock_t {
	sl := &Spinlock_t{Name: name}
	sl.owner.Store(-1)
	return sl
}

// Holding reports whether hart c currently holds the lock, the check
// spec.md's invariant I5 requires before a hart may re-acquire.
func (sl *Spinlock_t) Holding(c *cpu.CPU) bool {
	return sl.locked.Load() && sl.owner.Load() == int64(c.ID)
}

// Acquire disables interrupts via push_off, then spins on compare-and-swap
// until it owns the lock (spec.md §4.3).
func (sl *Spinlock_t) Acquire(c *cpu.CPU) {
	c.PushOff()
	if sl.Holding(c) {
		panic("spinlock: " + sl.Name + ": already held by this hart")
	}
	spins := 0
	for !sl.locked.CompareAndSwap(false, true) {
		spins++
		if spins%64 == 0 {
			runtime.Gosched()
		}
	}
	sl.owner.Store(int64(c.ID))
}

// Release clears ownership, unlocks, then pop_offs interrupts back on if
// this was the outermost acquire (spec.md §4.3).
func (sl *Spinlock_t) Release(c *cpu.CPU) {
	if !sl.Holding(c) {
		panic("spinlock: " + sl.Name + ": release by non-owner")
	}
	sl.owner.Store(-1)
	sl.locked.Store(false)
	c.PopOff()
}
