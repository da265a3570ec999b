package proc

import (
	"context"
	"runtime"
	"time"

	"rv6/cpu"
	"rv6/stats"
)

// Scheduler runs the per-hart round-robin loop of spec.md §4.5. One
// Scheduler.Run goroutine is started per hart at boot (spec.md §9).
type Scheduler struct {
	Table *Table
}

// Run is "scheduler loop (per hart, forever)" from spec.md §4.5. It never
// returns; callers start it with `go sched.Run(ctx, hart)` once per hart.
func (s *Scheduler) Run(base context.Context, hart *cpu.CPU) {
	for {
		hart.SetIntEnabled(true)

		ran := false
		for _, p := range s.Table.All() {
			p.Lock.Acquire(hart)
			if p.State != RUNNABLE {
				p.Lock.Release(hart)
				continue
			}
			p.State = RUNNING
			hart.SetProc(p)
			p.Lock.Release(hart)

			ctx := cpu.WithCPU(base, hart)
			ctx = WithProcess(ctx, p)
			p.turnCh <- ctx
			<-p.yieldedCh
			stats.Global.SchedSwitch.Inc()

			hart.SetProc(nil)
			ran = true
		}

		if !ran {
			// "wait-for-interrupt": nothing runnable, don't spin the host CPU.
			time.Sleep(time.Millisecond)
		} else {
			runtime.Gosched()
		}
	}
}

// Yield is called from the time-slice path (spec.md §4.5 "yield_self()"):
// mark self RUNNABLE and switch back to the scheduler. Returns the
// context to use after being rescheduled, which may carry a different
// hart than the one this call started on.
func Yield(ctx context.Context) context.Context {
	p := Current(ctx)
	hart := cpu.FromContext(ctx)
	p.Lock.Acquire(hart)
	p.State = RUNNABLE
	p.Lock.Release(hart)
	p.yieldedCh <- struct{}{}
	return <-p.turnCh
}

// Sleep is spec.md §4.5's sleep(chan, spin_guard): the process lock is
// acquired before the caller's guard is released, so a wake_up racing
// with this call either happens before the release (and this sleeper
// will simply never be marked SLEEPING under that channel) or after it
// (and finds the process already SLEEPING) -- no wakeup is lost (spec.md
// §8 "No-lost-wakeup").
func Sleep(ctx context.Context, chanKey any, guard Guard) context.Context {
	p := Current(ctx)
	hart := cpu.FromContext(ctx)

	p.Lock.Acquire(hart)
	guard.Release(hart)
	p.State = SLEEPING
	p.Chan = chanKey
	p.Lock.Release(hart)

	p.yieldedCh <- struct{}{}
	newCtx := <-p.turnCh
	newHart := cpu.FromContext(newCtx)

	p.Lock.Acquire(newHart)
	p.Chan = nil
	p.Lock.Release(newHart)
	guard.Acquire(newHart)
	return newCtx
}

// WakeUp scans the process table and marks every SLEEPING process whose
// channel matches chanKey as RUNNABLE (spec.md §4.5 "wake_up(chan)").
func WakeUp(ctx context.Context, chanKey any) {
	wakeUpOn(cpu.FromContext(ctx), chanKey)
}

// wakeUpOn is WakeUp's body, usable by callers (Exit, reparenting) that
// already hold a *cpu.CPU and have no context.Context to extract it from.
func wakeUpOn(hart *cpu.CPU, chanKey any) {
	for _, p := range globalTable.All() {
		p.Lock.Acquire(hart)
		if p.State == SLEEPING && p.Chan == chanKey {
			p.State = RUNNABLE
		}
		p.Lock.Release(hart)
	}
}

// globalTable is the process-wide singleton table (spec.md §9): WakeUp
// must be reachable from any blocking call site (buffer cache, log,
// inode cache, virtio) without threading the table through every one of
// them individually.
var globalTable *Table

// Bind records t as the table WakeUp scans. Boot calls this once, right
// after NewTable, before starting any hart.
func Bind(t *Table) { globalTable = t }
