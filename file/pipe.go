package file

import (
	"context"

	"rv6/cpu"
	"rv6/defs"
	"rv6/proc"
	"rv6/spinlock"
)

// pipeSize is the capacity of a pipe's ring buffer in bytes. Grounded on
// biscuit/src/circbuf/circbuf.go's single-page-backed ring, sized down
// since this filesystem has no paging concept for pipe storage.
const pipeSize = 512

// Pipe is an in-memory byte ring shared between a read and a write fd.
// A full ring blocks the writer; an empty ring with the write end still
// open blocks the reader; a write to a pipe with no open read end fails.
type Pipe struct {
	mu         *spinlock.Spinlock_t
	buf        [pipeSize]byte
	nread      int
	nwrite     int
	readOpen   bool
	writeOpen  bool
}

// NewPipe returns a pipe and its read/write File handles, both with a
// single reference.
func NewPipe() (*Pipe, *File, *File) {
	p := &Pipe{mu: spinlock.MkSpinlock("pipe"), readOpen: true, writeOpen: true}
	rf := &File{Type: FD_PIPE, Readable: true, Pipe: p}
	wf := &File{Type: FD_PIPE, Writable: true, Pipe: p}
	rf.refCount.Store(1)
	wf.refCount.Store(1)
	return p, rf, wf
}

// Write copies src into the ring one byte at a time, blocking while
// full. A blocked reader is woken each time the ring fills (just before
// the writer sleeps) and once more after the last byte is copied.
func (p *Pipe) Write(ctx context.Context, src []byte) (int, defs.Err_t) {
	hart := cpu.FromContext(ctx)
	p.mu.Acquire(hart)
	n := 0
	for n < len(src) {
		if !p.readOpen || proc.Current(ctx).Killed {
			p.mu.Release(hart)
			return n, defs.EPIPE
		}
		if p.nwrite == p.nread+pipeSize {
			proc.WakeUp(ctx, &p.nread)
			ctx = proc.Sleep(ctx, &p.nwrite, p.mu)
			hart = cpu.FromContext(ctx)
			continue
		}
		p.buf[p.nwrite%pipeSize] = src[n]
		p.nwrite++
		n++
	}
	proc.WakeUp(ctx, &p.nread)
	p.mu.Release(hart)
	return n, 0
}

// Read copies up to len(dst) available bytes out of the ring, blocking
// only while the ring is empty and a writer is still attached.
func (p *Pipe) Read(ctx context.Context, dst []byte) (int, defs.Err_t) {
	hart := cpu.FromContext(ctx)
	p.mu.Acquire(hart)
	for p.nread == p.nwrite && p.writeOpen {
		if proc.Current(ctx).Killed {
			p.mu.Release(hart)
			return 0, defs.EINVAL
		}
		ctx = proc.Sleep(ctx, &p.nread, p.mu)
		hart = cpu.FromContext(ctx)
	}
	n := 0
	for n < len(dst) && p.nread < p.nwrite {
		dst[n] = p.buf[p.nread%pipeSize]
		p.nread++
		n++
	}
	proc.WakeUp(ctx, &p.nwrite)
	p.mu.Release(hart)
	return n, 0
}

// CloseEnd marks whichever end is closing as closed and wakes the other
// side so it notices (a blocked writer sees readOpen go false, a blocked
// reader sees writeOpen go false).
func (p *Pipe) CloseEnd(ctx context.Context, wasWriter bool) {
	hart := cpu.FromContext(ctx)
	p.mu.Acquire(hart)
	if wasWriter {
		p.writeOpen = false
		proc.WakeUp(ctx, &p.nread)
	} else {
		p.readOpen = false
		proc.WakeUp(ctx, &p.nwrite)
	}
	p.mu.Release(hart)
}
