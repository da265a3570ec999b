// Package vm copies bytes between the host arena and a process's own
// page table, the one place syscall handlers cross from kernel slices
// into user virtual addresses and back. Grounded on biscuit's
// Userbuf_t (biscuit/src/vm/userbuf.go), simplified: no page-fault
// handling to restart mid-copy since every frame a user pagetable
// points at is already resident in this simulation.
package vm

import (
	"rv6/defs"
	"rv6/mem"
)

// CopyOut writes src into the address space pt starting at user virtual
// address va, one page at a time, translating each page through pt
// rather than assuming the range is contiguous in the backing arena.
func CopyOut(pt *mem.Pagetable_t, va mem.Va_t, src []byte) defs.Err_t {
	for len(src) > 0 {
		pa, ok := pt.Translate(va)
		if !ok {
			return defs.EINVAL
		}
		page := pt.Bytes(pa - mem.Pa_t(uintptr(pa)%mem.PGSIZE))
		off := int(uintptr(pa) % mem.PGSIZE)
		n := copy(page[off:], src)
		src = src[n:]
		va += mem.Va_t(n)
	}
	return 0
}

// CopyIn reads len(dst) bytes out of pt starting at va into dst.
func CopyIn(pt *mem.Pagetable_t, va mem.Va_t, dst []byte) defs.Err_t {
	for len(dst) > 0 {
		pa, ok := pt.Translate(va)
		if !ok {
			return defs.EINVAL
		}
		page := pt.Bytes(pa - mem.Pa_t(uintptr(pa)%mem.PGSIZE))
		off := int(uintptr(pa) % mem.PGSIZE)
		n := copy(dst, page[off:])
		dst = dst[n:]
		va += mem.Va_t(n)
	}
	return 0
}

// CopyInString reads a NUL-terminated string out of pt at va, up to max
// bytes, and returns it without the terminator.
func CopyInString(pt *mem.Pagetable_t, va mem.Va_t, max int) (string, defs.Err_t) {
	buf := make([]byte, 0, max)
	for i := 0; i < max; i++ {
		var b [1]byte
		if err := CopyIn(pt, va+mem.Va_t(i), b[:]); err != 0 {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), 0
		}
		buf = append(buf, b[0])
	}
	return "", defs.E2BIG
}
