// Package proc implements the process table, the context-carried
// scheduler, and fork/exec/wait/exit (spec.md §3 "Process", §4.5, §4.6).
//
// It deliberately knows nothing about file descriptors or inodes: spec.md
// puts the file table and fd layer, and the inode cache, in separate
// components layered *above* the process table (spec.md §2 lists them
// after proc in dependency order only because they use it, not because
// proc uses them). To keep that a real Go import direction rather than
// just a comment, Process.Ofile and Process.Cwd are stored as `any` and
// type-asserted by the file/fs packages that actually own those types —
// the same technique cpu.CPU uses for its current-process pointer.
//
// Grounded on original_source/bin/xv6_rust/src/process/process_manager.rs
// (the closest retrieved analog; biscuit's own proc package directory
// was empty in the retrieval pack) and on biscuit/src/vm/as.go's
// lock-guards-these-fields layout for the public/private field split.
package proc

import (
	"context"
	"fmt"
	"sync"

	"rv6/cpu"
	"rv6/limits"
	"rv6/mem"
	"rv6/spinlock"
)

// State is a process's scheduling state (spec.md §3).
type State int

const (
	UNUSED State = iota
	SLEEPING
	RUNNABLE
	RUNNING
	ZOMBIE
)

func (s State) String() string {
	switch s {
	case UNUSED:
		return "unused"
	case SLEEPING:
		return "sleeping"
	case RUNNABLE:
		return "runnable"
	case RUNNING:
		return "running"
	case ZOMBIE:
		return "zombie"
	default:
		return "?"
	}
}

// Guard is satisfied by any lock sleep can release-then-reacquire around
// a blocking wait: spinlock.Spinlock_t and sleeplock's inner spin lock
// both already have this shape (spec.md §4.4, §4.5).
type Guard interface {
	Acquire(c *cpu.CPU)
	Release(c *cpu.CPU)
}

// Body is the "user program" a process runs. Since this repository has
// no RISC-V ISA to execute (SPEC_FULL.md §0), a process's user-mode
// execution is a Go closure that calls back into the kernel through the
// ordinary exported functions (the trap package's syscall dispatch, or
// directly for tests) instead of issuing an `ecall`. It returns the
// process's exit code.
type Body func(ctx context.Context, p *Process) int

// Process is one slot of the fixed process table (spec.md §3).
type Process struct {
	// --- private: touched only by the hart that owns this process, or
	// during setup before it is made RUNNABLE (spec.md §3) ---
	KStackVA  mem.Va_t
	Sz        int
	Pagetable *mem.Pagetable_t
	Trapframe *Trapframe_t
	Name      string
	Cwd       any // *fs.Inode, type-asserted by fs/file
	Ofile     [limits.NOFILE]any // *file.File, type-asserted by the file package

	// --- public: guarded by Lock (spec.md §3) ---
	Lock     *spinlock.Spinlock_t
	State    State
	Pid      int
	Chan     any // wait channel key while SLEEPING
	ExitCode int
	Parent   *Process
	Killed   bool

	body      Body
	turnCh    chan context.Context // scheduler -> process: your turn, with hart attached
	yieldedCh chan struct{}        // process -> scheduler: I've stopped running
	startOnce sync.Once
}

// rearm clears startOnce so a reaped slot's next MakeRunnable starts a
// fresh run() goroutine. Without this, a recycled slot's startOnce.Do
// would be a permanent no-op (its one-shot goroutine already returned
// when the previous occupant exited), and the scheduler's turnCh send
// would block that hart forever the first time the slot is rescheduled.
// Called by Wait only while c.Lock is held and c.State is being driven
// back to UNUSED, so the next Alloc of this slot always observes a
// freshly zeroed Once.
func (p *Process) rearm() {
	p.startOnce = sync.Once{}
}

type procCtxKey struct{}

// WithProcess attaches the current process to ctx.
func WithProcess(ctx context.Context, p *Process) context.Context {
	return context.WithValue(ctx, procCtxKey{}, p)
}

// Current returns the process attached to ctx. Panics outside of a
// scheduled process's call graph, mirroring my_proc()'s precondition
// that interrupts are off and a process is actually running (spec.md
// §4.5).
func Current(ctx context.Context) *Process {
	p, ok := ctx.Value(procCtxKey{}).(*Process)
	if !ok {
		panic("proc: Current: no process on context")
	}
	return p
}

// Table is the fixed-size process table (spec.md §3 "slot in a fixed
// table") plus the registry of harts that schedule it. It is a
// process-wide singleton (spec.md §9).
type Table struct {
	mu         sync.Mutex
	procs      [limits.NPROC]*Process
	next       int
	pidCounter int
	harts      *cpu.Registry
}

// NewTable allocates an empty process table bound to the given hart
// registry.
func NewTable(harts *cpu.Registry) *Table {
	t := &Table{harts: harts}
	for i := range t.procs {
		t.procs[i] = &Process{
			Lock:      spinlock.MkSpinlock(fmt.Sprintf("proc[%d]", i)),
			turnCh:    make(chan context.Context),
			yieldedCh: make(chan struct{}),
		}
	}
	return t
}

// All returns every slot in table order, for the scheduler's round-robin
// scan and for wake_up's linear search (spec.md §4.5).
func (t *Table) All() []*Process {
	return t.procs[:]
}

// Alloc finds an UNUSED slot, assigns it a pid, and returns it not yet
// runnable; the caller finishes initializing it and then calls
// MakeRunnable. Returns nil
// if the table is full (spec.md §7 OutOfMemory).
func (t *Table) Alloc(hart *cpu.CPU, name string, body Body) *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < limits.NPROC; i++ {
		p := t.procs[(t.next+i)%limits.NPROC]
		p.Lock.Acquire(hart)
		if p.State == UNUSED {
			t.next = (t.next + i + 1) % limits.NPROC
			t.pidCounter++
			p.Pid = t.pidCounter
			p.Name = name
			p.body = body
			p.State = SLEEPING // not runnable until caller calls MakeRunnable
			p.Lock.Release(hart)
			return p
		}
		p.Lock.Release(hart)
	}
	return nil
}

// MakeRunnable marks p RUNNABLE once its caller (Fork, or boot's first
// "init" process) has finished populating its private fields and is
// ready for the scheduler to pick it up.
func (t *Table) MakeRunnable(hart *cpu.CPU, p *Process) {
	p.Lock.Acquire(hart)
	p.State = RUNNABLE
	p.Lock.Release(hart)
	p.startOnce.Do(func() {
		go p.run()
	})
}

// run is the goroutine backing one process slot for its entire lifetime
// in the table: it blocks for its turn, executes its Body once given
// one, and on return files the process as a ZOMBIE without ever waking
// itself again (spec.md §4.6 "exit... switch to scheduler and never
// return").
func (p *Process) run() {
	ctx := <-p.turnCh
	hart := cpu.FromContext(ctx)
	code := p.body(ctx, p)
	_ = code // Exit (called from within Body, or here as a fallback) sets ExitCode
	if p.State != ZOMBIE {
		Exit(ctx, code)
		return
	}
	_ = hart
}
