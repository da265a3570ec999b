// Package mem implements the physical frame allocator and the Sv39-shaped
// page table (spec.md §4.1, §4.2), grounded on biscuit/src/mem/mem.go's
// Physmem_t free-list allocator and biscuit/src/mem/dmap.go's bit-field
// helpers for virtual-address decomposition.
//
// This repository runs hosted (SPEC_FULL.md §0): "physical memory" is a
// single arena []byte allocated once at boot, and Pa_t is an offset into
// that arena rather than a bus address. Everything built on top of Pa_t —
// ownership, the free list, the page-table tree — matches spec.md exactly.
package mem

import (
	"fmt"
	"sync"

	"rv6/util"
)

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT = 12

// PGSIZE is the size of a single frame in bytes (spec.md §3 "Frame").
const PGSIZE = 1 << PGSHIFT

// PGOFFSET masks the in-page offset of an address.
const PGOFFSET = PGSIZE - 1

// PTE flag bits. Sv39 leaf entries carry all eight; inner entries only
// ever carry V (spec.md §3 "PageTable").
const (
	PTE_V = 1 << 0 // valid
	PTE_R = 1 << 1 // readable
	PTE_W = 1 << 2 // writable
	PTE_X = 1 << 3 // executable
	PTE_U = 1 << 4 // user-accessible
	PTE_G = 1 << 5 // global
	PTE_A = 1 << 6 // accessed
	PTE_D = 1 << 7 // dirty
)

// Pa_t is a physical address: a byte offset into the arena.
type Pa_t uintptr

// Va_t is a virtual address, in the simulated process's address space.
type Va_t uintptr

// PageRoundDown / PageRoundUp align addresses to frame boundaries.
func PageRoundDown[T ~uintptr](a T) T { return util.Rounddown(a, T(PGSIZE)) }
func PageRoundUp[T ~uintptr](a T) T   { return util.Roundup(a, T(PGSIZE)) }

// ErrOOM is returned by the page-table paths (Map, CopyUVM) when the
// frame free list is exhausted; Alloc itself reports that case as a
// false ok.
var ErrOOM = fmt.Errorf("mem: out of physical frames")

// frame is one slot of the free list; frames are singly owned, so no
// refcount lives here (spec.md §4.1 "No reference counting here").
type frame struct {
	next int32 // index of next free frame, -1 if last
}

// Allocator is the physical frame allocator: a free list of PGSIZE frames
// carved out of a single arena. One Allocator is a process-wide singleton
// (spec.md §9 "Plain global singletons"), protected by its own spin lock
// field (sync.Mutex stands in for Spinlock_t here exactly as
// biscuit/src/vm.Vm_t embeds sync.Mutex for what spec.md calls a spin
// lock: both never block the caller for long, and the allocator must
// never sleep per spec.md §4.1).
type Allocator struct {
	mu     sync.Mutex
	Arena  []byte
	frames []frame
	freeHd int32 // index of first free frame, -1 if none
	start  Pa_t  // first frame's address (end of kernel image)
	nframe int32
}

// NewAllocator carves an arena of nframes*PGSIZE bytes and freelists all
// of it, simulating the range [end_of_kernel, PHY_STOP) from spec.md §4.1.
func NewAllocator(nframes int) *Allocator {
	a := &Allocator{
		Arena:  make([]byte, nframes*PGSIZE),
		frames: make([]frame, nframes),
		nframe: int32(nframes),
	}
	for i := 0; i < nframes; i++ {
		if i == nframes-1 {
			a.frames[i].next = -1
		} else {
			a.frames[i].next = int32(i + 1)
		}
	}
	a.freeHd = 0
	return a
}

func (a *Allocator) idx(pa Pa_t) int32 { return int32(pa / PGSIZE) }

// Alloc removes one frame from the free list and returns its address,
// zeroed. Reports ok=false (spec.md's NONE) when the list is empty.
func (a *Allocator) Alloc() (Pa_t, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.freeHd < 0 {
		return 0, false
	}
	i := a.freeHd
	a.freeHd = a.frames[i].next
	pa := Pa_t(i) * PGSIZE
	clear(a.Arena[pa : pa+PGSIZE])
	return pa, true
}

// Free returns a frame to the list. pa must be page-aligned and must lie
// within the arena (spec.md §4.1).
func (a *Allocator) Free(pa Pa_t) {
	if pa%PGSIZE != 0 {
		panic("mem: Free of unaligned address")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	i := a.idx(pa)
	if i < 0 || i >= a.nframe {
		panic("mem: Free of out-of-range address")
	}
	a.frames[i].next = a.freeHd
	a.freeHd = i
}

// Bytes returns the PGSIZE-byte slice backing the frame at pa.
func (a *Allocator) Bytes(pa Pa_t) []byte {
	return a.Arena[pa : pa+PGSIZE]
}
