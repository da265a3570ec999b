// Package sleeplock implements a lock that blocks the caller's process
// rather than spinning, for critical sections long enough to cross a
// disk I/O (the buffer cache, the inode cache).
package sleeplock

import (
	"context"

	"rv6/cpu"
	"rv6/proc"
	"rv6/spinlock"
)

// Sleeplock_t is held across operations that may block, unlike
// spinlock.Spinlock_t which must never be held across a blocking call.
// Grounded on the same need fs/blk.go's Bdev_block_t met with an
// embedded sync.Mutex, rewired onto the scheduler's own Sleep/WakeUp so a
// contending process yields its hart instead of parking a whole OS
// thread the way a plain mutex would.
type Sleeplock_t struct {
	Name   string
	guard  *spinlock.Spinlock_t
	locked bool
	holder int // pid, for diagnostics only
}

func MkSleeplock(name string) *Sleeplock_t {
	return &Sleeplock_t{Name: name, guard: spinlock.MkSpinlock(name + ".guard")}
}

// Acquire blocks the current process until the lock is free, then takes
// it. ctx must carry both the current hart and the current process,
// since contention sleeps on the lock itself as the wait channel.
func (l *Sleeplock_t) Acquire(ctx context.Context) context.Context {
	hart := cpu.FromContext(ctx)
	l.guard.Acquire(hart)
	for l.locked {
		ctx = proc.Sleep(ctx, l, l.guard)
		hart = cpu.FromContext(ctx)
	}
	l.locked = true
	l.guard.Release(hart)
	return ctx
}

// Release frees the lock and wakes any process sleeping on it.
func (l *Sleeplock_t) Release(ctx context.Context) {
	hart := cpu.FromContext(ctx)
	l.guard.Acquire(hart)
	l.locked = false
	l.guard.Release(hart)
	proc.WakeUp(ctx, l)
}

// Holding reports whether the lock is currently taken (used by
// assertions, not for synchronization).
func (l *Sleeplock_t) Holding() bool { return l.locked }
