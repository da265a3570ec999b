// Package file implements the open-file table and fd-level read/write/
// close/stat operations that sit above the pipe and filesystem layers.
// Grounded on biscuit/src/fd/fd.go's Fd_t (permission bits, Copyfd) and
// spec.md §4.11's dispatch-by-type file table.
package file

import (
	"context"
	"sync/atomic"

	"rv6/cpu"
	"rv6/defs"
	"rv6/fs"
)

// Ftype_t mirrors defs.Ftype_t; re-declared as a local alias so callers
// can write file.FD_PIPE etc. without importing defs for this alone.
type Ftype_t = defs.Ftype_t

const (
	FD_NONE   = defs.FD_NONE
	FD_PIPE   = defs.FD_PIPE
	FD_INODE  = defs.FD_INODE
	FD_DEVICE = defs.FD_DEVICE
)

// Device_i is implemented by device drivers registered under a major
// number (console, /dev/null, /dev/stat).
type Device_i interface {
	Read(ctx context.Context, dst []byte) (int, defs.Err_t)
	Write(ctx context.Context, src []byte) (int, defs.Err_t)
}

// Registry maps device major numbers to their driver, consulted by
// File.Read/Write for FD_DEVICE handles.
type Registry struct {
	byMajor map[uint16]Device_i
}

func NewRegistry() *Registry { return &Registry{byMajor: map[uint16]Device_i{}} }

func (r *Registry) Register(major uint16, d Device_i) { r.byMajor[major] = d }

// File is a reference-counted open-file handle: exactly the union
// spec.md §3 describes (PIPE xor INODE/DEVICE), plus the bookkeeping a
// read/write/close needs to dispatch correctly.
type File struct {
	Type      Ftype_t
	Readable  bool
	Writable  bool
	refCount  atomic.Int32
	Pipe      *Pipe
	Ino       *fs.Inode
	Major     uint16
	off       int
	fsRef     *fs.Fs
	devs      *Registry
}

// IncRef implements proc.RefCounted, for Fork duplicating an fd table.
func (f *File) IncRef() { f.refCount.Add(1) }

// Dup increments f's reference count and returns f (the fd-layer dup
// syscall just copies the pointer into another slot).
func (f *File) Dup() *File {
	f.refCount.Add(1)
	return f
}

// Close implements proc.Closer: decrement, and on the last reference,
// release the pipe end or (inside a log transaction) the inode.
func (f *File) Close(ctx context.Context) defs.Err_t {
	if f.refCount.Add(-1) > 0 {
		return 0
	}
	switch f.Type {
	case FD_PIPE:
		f.Pipe.CloseEnd(ctx, f.Writable)
	case FD_INODE, FD_DEVICE:
		ctx = f.fsRef.BeginOp(ctx)
		f.fsRef.Put(cpu.FromContext(ctx), f.Ino)
		f.fsRef.EndOp(ctx)
	}
	return 0
}

// Read dispatches by type: pipe, device (by major), or inode (locked,
// read at the current offset, offset advanced).
func (f *File) Read(ctx context.Context, dst []byte) (int, defs.Err_t) {
	if !f.Readable {
		return 0, defs.EPERM
	}
	switch f.Type {
	case FD_PIPE:
		return f.Pipe.Read(ctx, dst)
	case FD_DEVICE:
		dev, ok := f.devs.byMajor[f.Major]
		if !ok {
			return 0, defs.ENOENT
		}
		return dev.Read(ctx, dst)
	case FD_INODE:
		ctx = f.fsRef.Lock(ctx, f.Ino)
		n := f.fsRef.ReadAt(ctx, f.Ino, dst, f.off)
		f.off += n
		f.fsRef.Unlock(ctx, f.Ino)
		return n, 0
	default:
		return 0, defs.EINVAL
	}
}

// Write dispatches the same way as Read; inode writes go through the
// log and split into chunks no larger than fs.maxWriteChunk internally.
func (f *File) Write(ctx context.Context, src []byte) (int, defs.Err_t) {
	if !f.Writable {
		return 0, defs.EPERM
	}
	switch f.Type {
	case FD_PIPE:
		return f.Pipe.Write(ctx, src)
	case FD_DEVICE:
		dev, ok := f.devs.byMajor[f.Major]
		if !ok {
			return 0, defs.ENOENT
		}
		return dev.Write(ctx, src)
	case FD_INODE:
		// WriteAt brackets each maxWriteChunk piece in its own log
		// transaction internally, so only the inode lock needs holding here.
		ctx = f.fsRef.Lock(ctx, f.Ino)
		n, err := f.fsRef.WriteAt(ctx, f.Ino, src, f.off)
		f.off += n
		f.fsRef.Unlock(ctx, f.Ino)
		return n, err
	default:
		return 0, defs.EINVAL
	}
}

// Stat fills a defs.Stat_t for an INODE or DEVICE file.
func (f *File) Stat(ctx context.Context) (defs.Stat_t, defs.Err_t) {
	if f.Type != FD_INODE && f.Type != FD_DEVICE {
		return defs.Stat_t{}, defs.EINVAL
	}
	ctx = f.fsRef.Lock(ctx, f.Ino)
	st := fs.Stat(f.Ino)
	f.fsRef.Unlock(ctx, f.Ino)
	return st, 0
}
