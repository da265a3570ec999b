package proc

// Trapframe_t is the fixed register-save area spec.md §3 describes: "a
// fixed 35-slot register save area living in its own frame, mapped at the
// per-process virtual address TRAPFRAME." The first five slots are
// reserved for the kernel-return bookkeeping the trampoline needs; the
// rest hold the user integer registers, named the way the RISC-V calling
// convention names them (a0-a7 for syscall args/return, sp/ra for the
// stack, epc for the saved program counter).
//
// This repository never executes a real uservec/trampoline (SPEC_FULL.md
// §0), but every syscall handler still reads its arguments out of this
// struct and writes its result into A0, so the data shape spec.md names
// is exactly preserved; only the mechanism that would populate it from a
// hardware trap is simulated away.
type Trapframe_t struct {
	// Reserved kernel-return slots, populated by the trap-return path
	// before jumping into user mode (spec.md §4.7).
	KernelSatp   uint64
	KernelSp     uint64
	KernelTrap   uint64
	Epc          uint64
	KernelHartid uint64

	// User integer registers (RISC-V ABI names).
	Ra, Sp, Gp, Tp             uint64
	T0, T1, T2                 uint64
	S0, S1                     uint64
	A0, A1, A2, A3, A4, A5, A6, A7 uint64
	S2, S3, S4, S5, S6, S7, S8, S9, S10, S11 uint64
	T3, T4, T5, T6             uint64
}
