package mem_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rv6/mem"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	a := mem.NewAllocator(4)
	pa, ok := a.Alloc()
	require.True(t, ok)
	require.Zero(t, uintptr(pa)%mem.PGSIZE, "frames must come back page-aligned")

	a.Bytes(pa)[0] = 0x42
	a.Free(pa)

	pa2, ok := a.Alloc()
	require.True(t, ok)
	require.Equal(t, pa, pa2, "the free list is LIFO: the frame just freed is handed out first")
	require.Zero(t, a.Bytes(pa2)[0], "Alloc must hand back a zeroed frame")
}

func TestAllocExhaustion(t *testing.T) {
	a := mem.NewAllocator(2)
	_, ok1 := a.Alloc()
	_, ok2 := a.Alloc()
	_, ok3 := a.Alloc()
	require.True(t, ok1)
	require.True(t, ok2)
	require.False(t, ok3, "a third Alloc past a 2-frame arena must report NONE, not panic")
}

func TestFreeRejectsUnaligned(t *testing.T) {
	a := mem.NewAllocator(2)
	require.Panics(t, func() { a.Free(mem.Pa_t(1)) })
}

func TestMapTranslateUnmap(t *testing.T) {
	a := mem.NewAllocator(64)
	pt, ok := mem.NewPagetable(a)
	require.True(t, ok)

	frame, ok := a.Alloc()
	require.True(t, ok)
	require.NoError(t, pt.Map(0, frame, mem.PTE_R|mem.PTE_W|mem.PTE_U))

	pa, ok := pt.Translate(5)
	require.True(t, ok, "page 0 of user VA must translate once mapped")
	require.Equal(t, frame+5, pa, "Translate preserves the low-order offset")

	_, ok = pt.Translate(mem.Va_t(mem.PGSIZE))
	require.False(t, ok, "an unmapped VA must translate to NONE")

	pt.Unmap(0)
	_, ok = pt.Translate(0)
	require.False(t, ok, "Unmap must remove the mapping")
}

func TestMapRejectsDoubleMap(t *testing.T) {
	a := mem.NewAllocator(64)
	pt, _ := mem.NewPagetable(a)
	f1, _ := a.Alloc()
	f2, _ := a.Alloc()
	require.NoError(t, pt.Map(0, f1, mem.PTE_R))
	require.Error(t, pt.Map(0, f2, mem.PTE_R), "mapping an already-present leaf must fail")
}

func TestUnmapOfUnmappedPanics(t *testing.T) {
	a := mem.NewAllocator(64)
	pt, _ := mem.NewPagetable(a)
	require.Panics(t, func() { pt.Unmap(0) })
}

func TestMapPagesAndFree(t *testing.T) {
	a := mem.NewAllocator(64)
	pt, _ := mem.NewPagetable(a)

	size := 3 * mem.PGSIZE
	for va := mem.Va_t(0); va < mem.Va_t(size); va += mem.PGSIZE {
		f, ok := a.Alloc()
		require.True(t, ok)
		require.NoError(t, pt.Map(va, f, mem.PTE_R|mem.PTE_W|mem.PTE_U))
	}
	for va := mem.Va_t(0); va < mem.Va_t(size); va += mem.PGSIZE {
		_, ok := pt.Translate(va)
		require.True(t, ok)
	}
	pt.UnmapPages(0, size)
	for va := mem.Va_t(0); va < mem.Va_t(size); va += mem.PGSIZE {
		_, ok := pt.Translate(va)
		require.False(t, ok)
	}
	pt.Free() // must not panic once every leaf is already unmapped
}

func TestCopyUVMDuplicatesContent(t *testing.T) {
	a := mem.NewAllocator(64)
	src, _ := mem.NewPagetable(a)
	dst, _ := mem.NewPagetable(a)

	f, _ := a.Alloc()
	require.NoError(t, src.Map(0, f, mem.PTE_R|mem.PTE_W|mem.PTE_U))
	src.Bytes(f)[0] = 0xAB

	require.NoError(t, src.CopyUVM(dst, mem.PGSIZE))

	pa, ok := dst.Translate(0)
	require.True(t, ok)
	require.Equal(t, byte(0xAB), dst.Bytes(pa-mem.Pa_t(uintptr(pa)%mem.PGSIZE))[0])
	require.NotEqual(t, f, pa-mem.Pa_t(uintptr(pa)%mem.PGSIZE), "fork must duplicate into a fresh frame, not alias the parent's")
}
