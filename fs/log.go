package fs

import (
	"context"

	"rv6/cpu"
	"rv6/limits"
	"rv6/proc"
	"rv6/spinlock"
	"rv6/stats"
)

// Log is the write-ahead log: one header block followed by up to
// limits.LOG_SIZE data blocks on disk, group-committing every
// transaction that closes while none remain outstanding.
type Log struct {
	mu          *spinlock.Spinlock_t
	cache       *Cache
	dev         int
	start       int // first log block (the header)
	size        int // number of data blocks the log region holds
	outstanding int
	committing  bool
	blocks      []int // destination block numbers currently logged
	pinned      []*Buf
}

func NewLog(cache *Cache, dev, start, size int) *Log {
	return &Log{mu: spinlock.MkSpinlock("log"), cache: cache, dev: dev, start: start, size: size}
}

// Recover replays a log left behind by a crash: read the header, and if
// it records any blocks, install them at their destinations, then zero
// the header. Called once at boot before any transaction begins.
func (l *Log) Recover(ctx context.Context) {
	hart := cpu.FromContext(ctx)
	ctx, hdr := l.cache.Read(ctx, l.dev, l.start)
	n, dests := decodeHeader(hdr, l.size)
	if n > 0 {
		for i, dst := range dests {
			ctx2, logBuf := l.cache.Read(ctx, l.dev, l.start+1+i)
			ctx2, dstBuf := l.cache.Read(ctx2, l.dev, dst)
			dstBuf.Data = logBuf.Data
			l.cache.Write(dstBuf)
			l.cache.Release(ctx2, dstBuf)
			l.cache.Release(ctx2, logBuf)
			ctx = ctx2
		}
		encodeHeader(hdr, 0, nil)
		l.cache.Write(hdr)
	}
	l.cache.Release(ctx, hdr)
	_ = hart
}

// Begin starts a transaction, blocking while a commit is in flight or
// while admitting this transaction's worst-case limits.MAX_OP_BLOCKS
// writes would overflow the log region.
func (l *Log) Begin(ctx context.Context) context.Context {
	hart := cpu.FromContext(ctx)
	l.mu.Acquire(hart)
	for l.committing || len(l.blocks)+(l.outstanding+1)*limits.MAX_OP_BLOCKS > l.size {
		ctx = proc.Sleep(ctx, l, l.mu)
		hart = cpu.FromContext(ctx)
	}
	l.outstanding++
	l.mu.Release(hart)
	return ctx
}

// Write records that b was modified inside the current transaction. If
// b's block is already pinned to a log slot the existing slot absorbs
// this write; otherwise a new slot is taken and the buffer is pinned so
// it cannot be evicted before commit.
func (l *Log) Write(hart *cpu.CPU, b *Buf) {
	l.mu.Acquire(hart)
	defer l.mu.Release(hart)

	for _, dst := range l.blocks {
		if dst == b.Block {
			return
		}
	}
	if len(l.blocks) >= l.size {
		panic("fs: log overflow")
	}
	l.blocks = append(l.blocks, b.Block)
	l.pinned = append(l.pinned, b)
	l.cache.Pin(hart, b)
}

// End closes a transaction. The last outstanding transaction to close
// runs the commit; everyone else just wakes any waiter admitted by Begin.
func (l *Log) End(ctx context.Context) {
	hart := cpu.FromContext(ctx)
	l.mu.Acquire(hart)
	l.outstanding--
	doCommit := false
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	}
	l.mu.Release(hart)

	if doCommit {
		l.commit(hart)
		l.mu.Acquire(hart)
		l.committing = false
		l.mu.Release(hart)
	}
	proc.WakeUp(ctx, l)
}

// commit implements spec.md's four-step, crash-safe commit: write data
// blocks to their log slots, write the header (the commit point), copy
// log slots to their destinations, then zero the header. A crash before
// the header write leaves n=0 so recovery does nothing; a crash at or
// after the header write is recovered by replaying the idempotent
// install-and-zero steps.
func (l *Log) commit(hart *cpu.CPU) {
	if len(l.blocks) == 0 {
		return
	}

	for i, dst := range l.blocks {
		_, logBuf := l.cache.Get(bgCtx(hart), l.dev, l.start+1+i)
		logBuf.Data = l.pinned[i].Data
		l.cache.Write(logBuf)
		logBuf.Lock.Release(bgCtx(hart))
		l.cache.Unpin(hart, logBuf)
		_ = dst
	}

	_, hdr := l.cache.Get(bgCtx(hart), l.dev, l.start)
	encodeHeader(hdr, len(l.blocks), l.blocks)
	l.cache.Write(hdr)
	hdr.Lock.Release(bgCtx(hart))

	for i, dst := range l.blocks {
		_, logBuf := l.cache.Read(bgCtx(hart), l.dev, l.start+1+i)
		_, dstBuf := l.cache.Get(bgCtx(hart), l.dev, dst)
		dstBuf.Data = logBuf.Data
		l.cache.Write(dstBuf)
		dstBuf.Lock.Release(bgCtx(hart))
		logBuf.Lock.Release(bgCtx(hart))
		l.cache.Unpin(hart, dstBuf)
		l.cache.Unpin(hart, l.pinned[i])
	}

	_, hdr2 := l.cache.Get(bgCtx(hart), l.dev, l.start)
	encodeHeader(hdr2, 0, nil)
	l.cache.Write(hdr2)
	hdr2.Lock.Release(bgCtx(hart))

	l.blocks = nil
	l.pinned = nil
	stats.Global.LogCommits.Inc()
}

// bgCtx hands commit a minimal context carrying only the hart, since
// commit runs with no process lock semantics beyond what the buffer
// cache's own sleep locks already provide.
func bgCtx(hart *cpu.CPU) context.Context {
	return cpu.WithCPU(context.Background(), hart)
}

func decodeHeader(hdr *Buf, logSize int) (int, []int) {
	n := int(int32(leU32(hdr.Data[0:4])))
	if n <= 0 || n > logSize {
		return 0, nil
	}
	dests := make([]int, n)
	for i := 0; i < n; i++ {
		dests[i] = int(leU32(hdr.Data[4+4*i : 8+4*i]))
	}
	return n, dests
}

func encodeHeader(hdr *Buf, n int, blocks []int) {
	putLeU32(hdr.Data[0:4], uint32(n))
	for i, b := range blocks {
		putLeU32(hdr.Data[4+4*i:8+4*i], uint32(b))
	}
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLeU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
