package file

import (
	"rv6/cpu"
	"rv6/fs"
	"rv6/limits"
	"rv6/spinlock"
)

// Table is the single global file table: every inode- or device-backed
// File a running process can hold an fd for lives in one of its
// limits.MAX_FILE_NUMBER slots, found by scanning for refCount==0.
type Table struct {
	mu    *spinlock.Spinlock_t
	slots [limits.MAX_FILE_NUMBER]File
	fs    *fs.Fs
	devs  *Registry
}

// NewTable returns an empty file table bound to a mounted filesystem and
// its device registry, both needed by every File this table hands out.
func NewTable(fsys *fs.Fs, devs *Registry) *Table {
	return &Table{mu: spinlock.MkSpinlock("filetable"), fs: fsys, devs: devs}
}

// Alloc claims the first unused slot, marks it live with a single
// reference, and returns it. Returns nil if the table is full.
func (t *Table) Alloc(hart *cpu.CPU) *File {
	t.mu.Acquire(hart)
	defer t.mu.Release(hart)

	for i := range t.slots {
		f := &t.slots[i]
		if f.refCount.Load() == 0 {
			*f = File{fsRef: t.fs, devs: t.devs}
			f.refCount.Store(1)
			return f
		}
	}
	return nil
}

// AllocPipe wires up a pipe and returns its two ends. Pipe ends own their
// own backing storage rather than living in t.slots: unlike an inode or
// device File, a pipe's lifetime is exactly its two fds' lifetime, so
// there's no cache/eviction role for the fixed-size table to play here.
func (t *Table) AllocPipe() (*File, *File) {
	_, rf, wf := NewPipe()
	rf.fsRef, rf.devs = t.fs, t.devs
	wf.fsRef, wf.devs = t.fs, t.devs
	return rf, wf
}
