package trap

import (
	"context"

	"rv6/defs"
	"rv6/mem"
	"rv6/proc"
	"rv6/vm"
)

func init() {
	register(defs.SYS_WAIT, sysWait)
	register(defs.SYS_KILL, sysKill)
	register(defs.SYS_SBRK, sysSbrk)
	register(defs.SYS_FORK, sysForkViaEcall)
	register(defs.SYS_EXEC, sysForkViaEcall)
}

// sysForkViaEcall answers a generic Ecall dispatched to SYS_FORK or
// SYS_EXEC: both require the caller to supply a proc.Body Go can't smuggle
// through a trapframe register, so a Body that wants to fork or exec must
// call trap.Fork/trap.Exec directly rather than through Ecall. This
// handler only exists so that mistake fails loudly instead of looking
// like an unrecognized syscall id.
func sysForkViaEcall(ctx context.Context, k *Kernel, p *proc.Process) int64 {
	return int64(defs.EINVAL)
}

// sysWait implements spec.md §4.6 wait: a0, if non-zero, is the user VA
// of an int the reaped child's exit code is copied into.
func sysWait(ctx context.Context, k *Kernel, p *proc.Process) int64 {
	pid, code, err := proc.Wait(ctx)
	if err != 0 {
		return int64(err)
	}
	if va := p.Trapframe.A0; va != 0 {
		var raw [4]byte
		putLe32(raw[:], uint32(int32(code)))
		if cerr := vm.CopyOut(p.Pagetable, mem.Va_t(va), raw[:]); cerr != 0 {
			return int64(cerr)
		}
	}
	return int64(pid)
}

func sysKill(ctx context.Context, k *Kernel, p *proc.Process) int64 {
	return int64(proc.Kill(ctx, int(p.Trapframe.A0)))
}

// sysSbrk implements spec.md §4.8 growth-only heap adjustment: a0 is the
// byte delta. Shrinking is rejected (returns the unchanged size) since
// this teaching kernel never needs to give frames back mid-run.
func sysSbrk(ctx context.Context, k *Kernel, p *proc.Process) int64 {
	oldSz := p.Sz
	n := int(int64(p.Trapframe.A0))
	if n < 0 {
		return int64(oldSz)
	}
	newSz := oldSz + n
	for va := mem.PageRoundUp(mem.Va_t(oldSz)); va < mem.Va_t(newSz); va += mem.PGSIZE {
		pa, ok := p.Pagetable.Alloc()
		if !ok {
			return int64(defs.ENOMEM)
		}
		if err := p.Pagetable.Map(va, pa, mem.PTE_V|mem.PTE_R|mem.PTE_W|mem.PTE_U); err != nil {
			return int64(defs.ENOMEM)
		}
	}
	p.Sz = newSz
	return int64(oldSz)
}

// Fork is spec.md §4.6 fork, called directly by a process's Body instead
// of through Ecall: unlike every other syscall, fork hands the *child* a
// brand-new continuation (childBody) rather than producing a value to
// write into a0, and Go has no way to express "resume the parent's own
// call stack in a second goroutine" generically enough to route through
// the int64-returning dispatch table (see DESIGN.md's Open Question
// decision on proc.Fork's signature). SYS_FORK is still registered in
// this package's table, but only to a handler that fails with EINVAL, so
// a fork through Ecall reports -1.
func Fork(ctx context.Context, k *Kernel, childBody proc.Body) (int, defs.Err_t) {
	return proc.Fork(ctx, k.Procs, childBody)
}

// Exec is spec.md §4.13, called directly for the same reason Fork is:
// on success the calling process's remaining execution is the *new*
// program. Process.body is private to package proc (deliberately — see
// proc.go's package doc on the dependency direction), and Go gives no
// way to replace a goroutine's call stack mid-flight regardless, so Exec
// installs the new address space and hands back newBody for the caller's
// own Body closure to tail-call: `return trap.Exec(ctx, k, next, sz)`
// becomes, in the caller, `nb, err := trap.Exec(...); if err == 0 {
// return nb(ctx, p) }`. Failure leaves the old address space untouched
// (spec.md's "the old address space is preserved").
func Exec(ctx context.Context, k *Kernel, newBody proc.Body, argSz int) (proc.Body, defs.Err_t) {
	p := proc.Current(ctx)
	pt, ok := p.Pagetable.NewSibling()
	if !ok {
		return nil, defs.ENOMEM
	}
	for va := mem.Va_t(0); va < mem.Va_t(argSz); va += mem.PGSIZE {
		pa, aok := pt.Alloc()
		if !aok {
			pt.Free()
			return nil, defs.ENOMEM
		}
		if err := pt.Map(va, pa, mem.PTE_V|mem.PTE_R|mem.PTE_W|mem.PTE_U); err != nil {
			pt.Free()
			return nil, defs.ENOMEM
		}
	}
	old := p.Pagetable
	p.Pagetable = pt
	p.Sz = argSz
	old.Free()
	return newBody, 0
}
