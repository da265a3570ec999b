package proc

import (
	"context"

	"rv6/cpu"
	"rv6/defs"
	"rv6/spinlock"
)

// waitLock is xv6's dedicated wait_lock (spec.md §4.6/§9): Wait's guard
// while it scans for a ZOMBIE child and sleeps on the parent's own
// identity as the wait channel. It is deliberately a lock distinct from
// any single process's p.Lock -- Wait needs a guard it can hold across a
// scan that acquires and releases many different processes' own locks,
// and Sleep's contract requires releasing that guard only after the
// sleeper's own p.Lock is held, which is impossible if the guard passed
// in *is* p.Lock (releasing a process's own lock to "guard" its own
// sleep reenters Release on a lock Sleep itself just acquired, and
// leaves no lock held across the scan-then-sleep window at all). Exit
// takes the same lock before reparenting children and waking the
// parent, so a child's exit can never signal between a parent's "no
// zombie yet" scan and the parent actually reaching SLEEPING.
var waitLock = spinlock.MkSpinlock("wait_lock")

// RefCounted is implemented by whatever concrete type a package above
// proc uses for Ofile entries and Cwd (file.File, fs.Inode). Fork calls
// IncRef on every live handle it duplicates into the child so the
// underlying resource's own refcount stays correct without proc needing
// to import those packages.
type RefCounted interface {
	IncRef()
}

// Closer is implemented by Ofile entries and Cwd so Exit can release
// them without proc importing file/fs.
type Closer interface {
	Close(ctx context.Context) defs.Err_t
}

// Fork creates a new process sharing the calling process's address space
// contents (copied, not shared) and open files, and schedules it to run.
//
// Go gives no way for two goroutines to "return from the same call" the
// way a forked process resumes at its parent's saved program counter, so
// rather than resuming the parent's own Body in the child, the child's
// future execution is given explicitly as childBody. Address-space
// duplication, trapframe copy, fd-table and cwd refcounting, marking the
// child RUNNABLE, and returning its pid to the parent otherwise follow
// the real fork exactly (see DESIGN.md's Open Question decisions).
func Fork(ctx context.Context, table *Table, childBody Body) (int, defs.Err_t) {
	parent := Current(ctx)
	hart := cpu.FromContext(ctx)

	child := table.Alloc(hart, parent.Name, childBody)
	if child == nil {
		return -1, defs.ENOMEM
	}

	pt, ok := parent.Pagetable.NewSibling()
	if !ok {
		failAlloc(hart, child)
		return -1, defs.ENOMEM
	}
	if err := parent.Pagetable.CopyUVM(pt, parent.Sz); err != nil {
		pt.Free()
		failAlloc(hart, child)
		return -1, defs.ENOMEM
	}
	child.Pagetable = pt
	child.Sz = parent.Sz

	if parent.Trapframe != nil {
		tf := *parent.Trapframe
		tf.A0 = 0 // child's fork() return value is 0
		child.Trapframe = &tf
	}

	for i, f := range parent.Ofile {
		if f == nil {
			continue
		}
		if rc, ok := f.(RefCounted); ok {
			rc.IncRef()
		}
		child.Ofile[i] = f
	}
	if parent.Cwd != nil {
		if rc, ok := parent.Cwd.(RefCounted); ok {
			rc.IncRef()
		}
		child.Cwd = parent.Cwd
	}

	child.Lock.Acquire(hart)
	child.Parent = parent
	child.Lock.Release(hart)

	table.MakeRunnable(hart, child)
	return child.Pid, 0
}

func failAlloc(hart *cpu.CPU, p *Process) {
	p.Lock.Acquire(hart)
	p.State = UNUSED
	p.Lock.Release(hart)
}

// Exit closes every open file and the current directory, reparents any
// children to init, wakes init and the caller's parent, and marks the
// process a ZOMBIE for its parent's Wait to reap. It hands the hart back
// to the scheduler one last time and then returns to its caller; the
// process is never scheduled again, so any code after the call runs
// without a hart.
func Exit(ctx context.Context, code int) {
	p := Current(ctx)
	hart := cpu.FromContext(ctx)

	for i, f := range p.Ofile {
		if f == nil {
			continue
		}
		if c, ok := f.(Closer); ok {
			c.Close(ctx)
		}
		p.Ofile[i] = nil
	}
	if p.Cwd != nil {
		if c, ok := p.Cwd.(Closer); ok {
			c.Close(ctx)
		}
		p.Cwd = nil
	}

	waitLock.Acquire(hart)
	initProc := globalTable.procs[0]
	reparentChildren(hart, p, initProc)
	wakeUpOn(hart, initProc)
	if p.Parent != nil {
		wakeUpOn(hart, p.Parent)
	}
	waitLock.Release(hart)

	p.Lock.Acquire(hart)
	p.ExitCode = code
	p.State = ZOMBIE
	p.Lock.Release(hart)

	p.yieldedCh <- struct{}{}
	// p's goroutine returns from here back into Process.run, which
	// returns in turn; the slot stays ZOMBIE until Wait reaps it.
}

func reparentChildren(hart *cpu.CPU, dead, init *Process) {
	for _, c := range globalTable.All() {
		c.Lock.Acquire(hart)
		if c.Parent == dead {
			c.Parent = init
		}
		c.Lock.Release(hart)
	}
}

// Wait blocks until a child exits, reaps its table slot, and returns its
// pid and exit code. Returns ECHILD immediately if the caller has no
// children.
func Wait(ctx context.Context) (int, int, defs.Err_t) {
	p := Current(ctx)
	hart := cpu.FromContext(ctx)

	waitLock.Acquire(hart)
	for {
		haveChildren := false
		for _, c := range globalTable.All() {
			if c == p {
				continue
			}
			c.Lock.Acquire(hart)
			if c.Parent != p {
				c.Lock.Release(hart)
				continue
			}
			haveChildren = true
			if c.State != ZOMBIE {
				c.Lock.Release(hart)
				continue
			}
			pid, code := c.Pid, c.ExitCode
			if c.Pagetable != nil {
				c.Pagetable.Free()
				c.Pagetable = nil
			}
			c.Parent = nil
			c.Pid = 0
			c.Name = ""
			c.ExitCode = 0
			c.Trapframe = nil
			c.State = UNUSED
			c.rearm()
			c.Lock.Release(hart)
			waitLock.Release(hart)
			return pid, code, 0
		}
		if !haveChildren {
			waitLock.Release(hart)
			return -1, 0, defs.ECHILD
		}

		p.Lock.Acquire(hart)
		if p.Killed {
			p.Lock.Release(hart)
			waitLock.Release(hart)
			return -1, 0, defs.ECHILD
		}
		p.Lock.Release(hart)

		ctx = Sleep(ctx, p, waitLock)
		hart = cpu.FromContext(ctx)
	}
}

// Kill marks pid killed and, if it is sleeping, wakes it so it notices
// at its next blocking-call boundary.
func Kill(ctx context.Context, pid int) defs.Err_t {
	hart := cpu.FromContext(ctx)
	for _, p := range globalTable.All() {
		p.Lock.Acquire(hart)
		if p.Pid == pid {
			p.Killed = true
			if p.State == SLEEPING {
				p.State = RUNNABLE
			}
			p.Lock.Release(hart)
			return 0
		}
		p.Lock.Release(hart)
	}
	return defs.ENOENT
}
