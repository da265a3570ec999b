package mem

import "fmt"

// Pagetable_t is a three-level, 512-entry-per-level Sv39-shaped page
// table (spec.md §3 "PageTable", §4.2). Each inner entry owns the
// next-level table's frame; each leaf entry records a frame and the flag
// byte. Dropping a page table frees every frame it owns.
//
// Grounded on biscuit/src/mem/dmap.go's pgbits/mkpg virtual-address
// decomposition and biscuit/src/vm/as.go's Vm_t (which wraps exactly this
// tree); the three-level walk itself follows spec.md §4.2 directly since
// biscuit's own x86-64 four-level walker was filtered from the retrieval.
type Pagetable_t struct {
	alloc *Allocator
	Root  Pa_t // physical address of the top-level table frame
}

const entries = 512 // entries per level

// vpn returns the 9-bit index into level l (0 = leaf level) of va.
func vpn(va Va_t, l int) uintptr {
	shift := uintptr(PGSHIFT + 9*l)
	return (uintptr(va) >> shift) & 0x1ff
}

// NewPagetable allocates a fresh, empty top-level table.
func NewPagetable(a *Allocator) (*Pagetable_t, bool) {
	root, ok := a.Alloc()
	if !ok {
		return nil, false
	}
	return &Pagetable_t{alloc: a, Root: root}, true
}

func (pt *Pagetable_t) entries(tbl Pa_t) []uint64 {
	b := pt.alloc.Bytes(tbl)
	out := make([]uint64, entries)
	for i := range out {
		out[i] = leBytesToU64(b[i*8 : i*8+8])
	}
	return out
}

func (pt *Pagetable_t) setEntry(tbl Pa_t, i int, pte uint64) {
	b := pt.alloc.Bytes(tbl)
	u64ToLeBytes(b[i*8:i*8+8], pte)
}

func (pt *Pagetable_t) getEntry(tbl Pa_t, i int) uint64 {
	b := pt.alloc.Bytes(tbl)
	return leBytesToU64(b[i*8 : i*8+8])
}

func leBytesToU64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func u64ToLeBytes(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

func pteValid(pte uint64) bool   { return pte&PTE_V != 0 }
func pteAddr(pte uint64) Pa_t    { return Pa_t(pte &^ 0xfff) }
func pteFlags(pte uint64) uint64 { return pte & 0xfff }

// walk returns the address of the leaf-level PTE slot for va, allocating
// missing inner tables along the way when alloc is true. Matches
// spec.md's "creates missing inner tables using the allocator; new
// entries zero-initialized."
func (pt *Pagetable_t) walk(va Va_t, alloc bool) (tbl Pa_t, idx int, ok bool) {
	tbl = pt.Root
	for l := 2; l > 0; l-- {
		i := int(vpn(va, l))
		pte := pt.getEntry(tbl, i)
		if !pteValid(pte) {
			if !alloc {
				return 0, 0, false
			}
			next, got := pt.alloc.Alloc()
			if !got {
				return 0, 0, false
			}
			pt.setEntry(tbl, i, uint64(next)|PTE_V)
			tbl = next
		} else {
			tbl = pteAddr(pte)
		}
	}
	return tbl, int(vpn(va, 0)), true
}

// Translate returns the physical address corresponding to va (preserving
// the low-order offset), or ok=false if any level is invalid or the leaf
// has no frame (spec.md §4.2 "translate(va) -> Option<pa>").
func (pt *Pagetable_t) Translate(va Va_t) (Pa_t, bool) {
	tbl, idx, ok := pt.walk(va, false)
	if !ok {
		return 0, false
	}
	pte := pt.getEntry(tbl, idx)
	if !pteValid(pte) {
		return 0, false
	}
	off := Pa_t(uintptr(va) & PGOFFSET)
	return pteAddr(pte) + off, true
}

// Map installs a mapping from the page containing va to frame pa with the
// given flags. Fails if the leaf slot is already present (spec.md §4.2).
func (pt *Pagetable_t) Map(va Va_t, pa Pa_t, flags uint64) error {
	if uintptr(va)%PGSIZE != 0 || uintptr(pa)%PGSIZE != 0 {
		return fmt.Errorf("mem: Map requires page-aligned va/pa")
	}
	tbl, idx, ok := pt.walk(va, true)
	if !ok {
		return ErrOOM
	}
	if pteValid(pt.getEntry(tbl, idx)) {
		return fmt.Errorf("mem: Map: va %#x already mapped", va)
	}
	pt.setEntry(tbl, idx, uint64(pa)|flags|PTE_V)
	return nil
}

// Unmap removes the mapping for va and frees its frame. The mapping must
// exist (spec.md §4.2).
func (pt *Pagetable_t) Unmap(va Va_t) {
	tbl, idx, ok := pt.walk(va, false)
	if !ok || !pteValid(pt.getEntry(tbl, idx)) {
		panic("mem: Unmap of unmapped page")
	}
	pa := pteAddr(pt.getEntry(tbl, idx))
	pt.setEntry(tbl, idx, 0)
	pt.alloc.Free(pa)
}

// MapPages maps size bytes (rounded up) starting at va to pa, page by page.
func (pt *Pagetable_t) MapPages(va Va_t, pa Pa_t, size int, flags uint64) error {
	sz := PageRoundUp(Va_t(size))
	for off := Va_t(0); off < sz; off += PGSIZE {
		if err := pt.Map(va+off, pa+Pa_t(off), flags); err != nil {
			return err
		}
	}
	return nil
}

// UnmapPages unmaps size bytes (rounded up) starting at va.
func (pt *Pagetable_t) UnmapPages(va Va_t, size int) {
	sz := PageRoundUp(Va_t(size))
	for off := Va_t(0); off < sz; off += PGSIZE {
		pt.Unmap(va + off)
	}
}

// Free recursively frees every inner table frame this page table owns.
// Leaf frames must already have been unmapped by the caller (spec.md
// §4.2 "free() ... leaf frames have already been unmapped").
func (pt *Pagetable_t) Free() {
	pt.freeLevel(pt.Root, 2)
}

func (pt *Pagetable_t) freeLevel(tbl Pa_t, level int) {
	if level > 0 {
		for i := 0; i < entries; i++ {
			pte := pt.getEntry(tbl, i)
			if pteValid(pte) {
				pt.freeLevel(pteAddr(pte), level-1)
			}
		}
	}
	pt.alloc.Free(tbl)
}

// Bytes exposes the PGSIZE-byte slice backing frame pa, for callers (the
// user-copy routines) that need direct access once they
// already hold a translated address.
func (pt *Pagetable_t) Bytes(pa Pa_t) []byte { return pt.alloc.Bytes(pa) }

// Alloc draws one frame from the same allocator backing this page table,
// for callers (sbrk growing a user image) that need a frame to Map
// themselves rather than through CopyUVM.
func (pt *Pagetable_t) Alloc() (Pa_t, bool) { return pt.alloc.Alloc() }

// NewSibling allocates a fresh, empty page table that draws frames from
// the same allocator as pt, for fork's child address space.
func (pt *Pagetable_t) NewSibling() (*Pagetable_t, bool) {
	return NewPagetable(pt.alloc)
}

// CopyUVM duplicates every mapped page below sz into dst, allocating a
// fresh frame and copying its bytes for each one (spec.md §4.6 fork:
// "each mapped user frame is duplicated into a new frame").
func (pt *Pagetable_t) CopyUVM(dst *Pagetable_t, sz int) error {
	for va := Va_t(0); va < Va_t(sz); va += PGSIZE {
		pa, ok := pt.Translate(va)
		if !ok {
			continue
		}
		tbl, idx, _ := pt.walk(va, false)
		flags := pteFlags(pt.getEntry(tbl, idx))
		npa, ok := dst.alloc.Alloc()
		if !ok {
			return ErrOOM
		}
		copy(dst.alloc.Bytes(npa), pt.alloc.Bytes(pa))
		if err := dst.Map(va, npa, flags); err != nil {
			dst.alloc.Free(npa)
			return err
		}
	}
	return nil
}
