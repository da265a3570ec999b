package file

import (
	"testing"

	"github.com/stretchr/testify/require"

	"rv6/cpu"
)

func testHart() *cpu.CPU { return cpu.NewCPU(0) }

// TestTableAllocReturnsDistinctRefcountedSlots is the testable property
// "open; dup; close leaves the file table's live-slot count unchanged,
// and two opens never alias the same slot" -- the alloc half of it.
func TestTableAllocReturnsDistinctRefcountedSlots(t *testing.T) {
	table := NewTable(nil, NewRegistry())
	hart := testHart()

	a := table.Alloc(hart)
	require.NotNil(t, a)
	require.EqualValues(t, 1, a.refCount.Load())

	b := table.Alloc(hart)
	require.NotNil(t, b)
	require.NotSame(t, a, b)
	require.EqualValues(t, 1, b.refCount.Load())
}

// TestTableAllocExhaustionAndReuse drives every slot full, confirms the
// table reports full rather than panicking or aliasing, and confirms a
// freed slot (refCount back to zero) is picked up by the next Alloc.
func TestTableAllocExhaustionAndReuse(t *testing.T) {
	table := NewTable(nil, NewRegistry())
	hart := testHart()

	var got []*File
	for {
		f := table.Alloc(hart)
		if f == nil {
			break
		}
		got = append(got, f)
	}
	require.Len(t, got, len(table.slots), "Alloc must hand out exactly the table's fixed slot count before reporting full")
	require.Nil(t, table.Alloc(hart), "an exhausted table must return nil, not panic or alias a live slot")

	got[0].refCount.Store(0)
	reused := table.Alloc(hart)
	require.NotNil(t, reused)
	require.Same(t, got[0], reused)
}

// TestFileDupIncrementsRefCount is the other half of the refcount
// property: Dup shares the same handle and bumps its count rather than
// allocating a new slot.
func TestFileDupIncrementsRefCount(t *testing.T) {
	table := NewTable(nil, NewRegistry())
	hart := testHart()

	f := table.Alloc(hart)
	require.EqualValues(t, 1, f.refCount.Load())

	dup := f.Dup()
	require.Same(t, f, dup)
	require.EqualValues(t, 2, f.refCount.Load())
}
