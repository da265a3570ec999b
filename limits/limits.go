// Package limits collects the kernel's fixed-size-table constants and a
// small atomically-decremented budget type used to enforce them.
//
// Grounded on biscuit/src/limits/limits.go's Syslimit_t/Sysatomic_t
// pattern, repurposed: biscuit's fields size a networked multi-user
// system (sockets, futexes, ARP/route tables) that spec.md §1 puts out of
// scope; this file instead sizes the fixed tables spec.md's data model
// names directly (process table, buffer cache, inode cache, log).
package limits

import (
	"sync/atomic"
	"unsafe"
)

const (
	// BSIZE is the on-disk block size (spec.md §6, glossary "Block").
	BSIZE = 1024

	// NPROC is the size of the fixed process table (spec.md §3 "Process").
	NPROC = 64

	// NOFILE is the length of a process's open-file table (spec.md §3).
	NOFILE = 16

	// MAX_FILE_NUMBER is the size of the global file table (spec.md §4.11).
	MAX_FILE_NUMBER = 100

	// BUFFER_SIZE is the number of slots in the block buffer cache
	// (spec.md §4.8).
	BUFFER_SIZE = 30

	// MAX_INODE_NUMBER is the size of the in-memory inode cache
	// (spec.md §4.10).
	MAX_INODE_NUMBER = 50

	// LOG_SIZE is the number of data blocks the write-ahead log can hold
	// (spec.md §4.9).
	LOG_SIZE = 30

	// MAX_OP_BLOCKS bounds how many distinct blocks a single syscall-level
	// transaction may dirty; used by the log's Begin admission check.
	MAX_OP_BLOCKS = 10

	// MAX_ARG is the maximum argument count accepted by exec (spec.md §4.6).
	MAX_ARG = 32

	// DIRECT_COUNT is the number of direct block addresses an inode holds
	// (spec.md §4.10).
	DIRECT_COUNT = 12

	// INDIRECT_COUNT = BLOCK_SIZE / size_of<u32>. spec.md §9 resolves the
	// source branches' disagreement over this bound in favor of 256.
	INDIRECT_COUNT = BSIZE / 4

	// DIRECTORY_SIZE is the maximum representable directory-entry name
	// length, including the implicit terminating NUL when the name is
	// shorter than this (spec.md §6 Dirent, §8 boundary behavior).
	DIRECTORY_SIZE = 14

	// KSTACK_PAGES is the number of guard-separated frames making up a
	// process's kernel stack (spec.md §4.2).
	KSTACK_PAGES = 2

	// PGSIZE is the frame size (spec.md §3 "Frame").
	PGSIZE = 4096
)

// Sysatomic_t is a numeric limit that can be atomically updated, grounded
// on limits.Syslimit_t's Sysatomic_t. No other package uses it; the
// pipe, file and log layers bound their resources with fixed-size arrays.
type Sysatomic_t int64

func (s *Sysatomic_t) aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64(s.aptr(), int64(n))
}

// Taken tries to decrement the limit by the provided amount, returning
// true on success and leaving the limit unchanged on failure.
func (s *Sysatomic_t) Taken(n uint) bool {
	v := int64(n)
	g := atomic.AddInt64(s.aptr(), -v)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s.aptr(), v)
	return false
}

// Take decrements the limit by one, reporting success.
func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

// Give increments the limit by one.
func (s *Sysatomic_t) Give() { s.Given(1) }

// Load returns the current value.
func (s *Sysatomic_t) Load() int64 {
	return atomic.LoadInt64(s.aptr())
}
