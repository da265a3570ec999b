package fs

import (
	"context"

	"rv6/cpu"
	"rv6/defs"
	"rv6/limits"
	"rv6/sleeplock"
	"rv6/spinlock"
	"sync/atomic"
)

// DinodeSize is the on-disk size, in bytes, of one inode record: type,
// major/minor (used only by I_DEV), nlink, size, then DIRECT_COUNT
// direct block numbers plus one indirect block number.
const DinodeSize = 2 + 2 + 2 + 2 + 4 + (limits.DIRECT_COUNT+1)*4

// Inode is a cached copy of an on-disk inode, its sleep lock held across
// any operation that reads or writes the underlying blocks.
type Inode struct {
	Dev  int
	Inum int
	Lock *sleeplock.Sleeplock_t

	refCount atomic.Int32
	valid    bool
	fsRef    *Fs

	Type  defs.Itype_t
	Major uint16
	Minor uint16
	Nlink uint16
	Size  uint32
	Addrs [limits.DIRECT_COUNT]uint32
	Indir uint32
}

// InodeCache is the fixed-size array of cached inodes (limits.MAX_INODE_NUMBER
// entries) guarded by one spin lock for lookup and eviction, per
// spec.md §4.10.
type InodeCache struct {
	mu    *spinlock.Spinlock_t
	slots [limits.MAX_INODE_NUMBER]*Inode
	fs    *Fs
}

func newInodeCache(fs *Fs) *InodeCache {
	c := &InodeCache{mu: spinlock.MkSpinlock("icache"), fs: fs}
	for i := range c.slots {
		c.slots[i] = &Inode{Lock: sleeplock.MkSleeplock("inode"), fsRef: fs}
	}
	return c
}

// IncRef bumps ip's reference count with no lock held, for proc.Fork
// duplicating a parent's cwd into its child. Safe unguarded because every
// caller already holds at least one reference, so the count can only
// move away from zero here.
func (ip *Inode) IncRef() {
	ip.refCount.Add(1)
}

// Close implements proc.Closer for an inode used as a process's current
// directory: lock, then the ordinary unlock-and-put path, inside its own
// transaction since this may be the inode's last reference.
func (ip *Inode) Close(ctx context.Context) defs.Err_t {
	ctx = ip.fsRef.BeginOp(ctx)
	ctx = ip.fsRef.Lock(ctx, ip)
	ip.fsRef.UnlockPut(ctx, ip)
	ip.fsRef.EndOp(ctx)
	return 0
}

// Get returns the cached entry for (dev,inum), bumping its ref count, or
// evicts a ref_count==0 entry and installs this identity. Does not take
// the inode's own sleep lock or read it from disk.
func (c *InodeCache) Get(hart *cpu.CPU, dev, inum int) *Inode {
	c.mu.Acquire(hart)
	defer c.mu.Release(hart)

	var empty *Inode
	for _, ip := range c.slots {
		if ip.refCount.Load() > 0 && ip.Dev == dev && ip.Inum == inum {
			ip.refCount.Add(1)
			return ip
		}
		if empty == nil && ip.refCount.Load() == 0 {
			empty = ip
		}
	}
	if empty == nil {
		panic("fs: inode cache exhausted")
	}
	empty.Dev = dev
	empty.Inum = inum
	empty.valid = false
	empty.refCount.Store(1)
	return empty
}

// Lock takes ip's sleep lock and, the first time since it was cached,
// reads its contents from disk.
func (c *InodeCache) Lock(ctx context.Context, ip *Inode) context.Context {
	ctx = ip.Lock.Acquire(ctx)
	if !ip.valid {
		c.readDinode(ctx, ip)
		ip.valid = true
	}
	return ctx
}

// Unlock releases ip's sleep lock.
func (c *InodeCache) Unlock(ctx context.Context, ip *Inode) {
	ip.Lock.Release(ctx)
}

// Put decrements ip's ref count.
func (c *InodeCache) Put(hart *cpu.CPU, ip *Inode) {
	c.mu.Acquire(hart)
	ip.refCount.Add(-1)
	c.mu.Release(hart)
}

// UnlockPut drops ip's sleep lock and decrements its ref count; if this
// was the last reference, the inode is valid, and its link count is
// zero, its contents are truncated and the on-disk inode is freed. Must
// be called inside a log transaction (spec.md §4.10).
func (c *InodeCache) UnlockPut(ctx context.Context, ip *Inode) {
	hart := cpu.FromContext(ctx)
	c.mu.Acquire(hart)
	last := ip.refCount.Load() == 1 && ip.valid && ip.Nlink == 0
	c.mu.Release(hart)

	if last {
		c.truncate(ctx, ip)
		ip.Type = defs.I_UNUSED
		c.writeDinode(ctx, ip)
		ip.valid = false
	}
	c.Unlock(ctx, ip)
	c.Put(hart, ip)
}

func (c *InodeCache) readDinode(ctx context.Context, ip *Inode) {
	blk := c.fs.super.inodeBlock(ip.Inum)
	off := (ip.Inum % InodesPerBlock) * DinodeSize
	ctx2, b := c.fs.cache.Read(ctx, ip.Dev, blk)
	d := b.Data[off : off+DinodeSize]
	ip.Type = defs.Itype_t(leU16(d[0:2]))
	ip.Major = leU16(d[2:4])
	ip.Minor = leU16(d[4:6])
	ip.Nlink = leU16(d[6:8])
	ip.Size = leU32(d[8:12])
	for i := 0; i < limits.DIRECT_COUNT; i++ {
		ip.Addrs[i] = leU32(d[12+4*i : 16+4*i])
	}
	ip.Indir = leU32(d[12+4*limits.DIRECT_COUNT : 16+4*limits.DIRECT_COUNT])
	c.fs.cache.Release(ctx2, b)
}

func (c *InodeCache) writeDinode(ctx context.Context, ip *Inode) {
	hart := cpu.FromContext(ctx)
	blk := c.fs.super.inodeBlock(ip.Inum)
	off := (ip.Inum % InodesPerBlock) * DinodeSize
	ctx2, b := c.fs.cache.Read(ctx, ip.Dev, blk)
	d := b.Data[off : off+DinodeSize]
	putLeU16(d[0:2], uint16(ip.Type))
	putLeU16(d[2:4], ip.Major)
	putLeU16(d[4:6], ip.Minor)
	putLeU16(d[6:8], ip.Nlink)
	putLeU32(d[8:12], ip.Size)
	for i := 0; i < limits.DIRECT_COUNT; i++ {
		putLeU32(d[12+4*i:16+4*i], ip.Addrs[i])
	}
	putLeU32(d[12+4*limits.DIRECT_COUNT:16+4*limits.DIRECT_COUNT], ip.Indir)
	c.fs.log.Write(hart, b)
	c.fs.cache.Release(ctx2, b)
}

// AllocInode scans the inode region for a free (type==I_UNUSED) slot,
// marks it used with the given type, and returns it cached and unlocked.
func (c *InodeCache) AllocInode(ctx context.Context, dev int, typ defs.Itype_t) (*Inode, defs.Err_t) {
	hart := cpu.FromContext(ctx)
	for inum := 1; inum < c.fs.super.Ninodes; inum++ {
		blk := c.fs.super.inodeBlock(inum)
		ctx2, b := c.fs.cache.Read(ctx, dev, blk)
		off := (inum % InodesPerBlock) * DinodeSize
		if leU16(b.Data[off:off+2]) == 0 {
			putLeU16(b.Data[off:off+2], uint16(typ))
			c.fs.log.Write(hart, b)
			c.fs.cache.Release(ctx2, b)
			ip := c.Get(hart, dev, inum)
			return ip, 0
		}
		c.fs.cache.Release(ctx2, b)
	}
	return nil, defs.ENOSPC
}

// bmap returns the block number holding logical block n of ip's
// contents, allocating it (and the indirect block, if needed) on first
// write. Direct slots cover limits.DIRECT_COUNT blocks; one indirect
// block addresses the next limits.INDIRECT_COUNT.
func (c *InodeCache) bmap(ctx context.Context, ip *Inode, n int) uint32 {
	hart := cpu.FromContext(ctx)
	if n < limits.DIRECT_COUNT {
		if ip.Addrs[n] == 0 {
			ip.Addrs[n] = c.balloc(ctx, ip.Dev)
		}
		return ip.Addrs[n]
	}
	n -= limits.DIRECT_COUNT
	if n >= limits.INDIRECT_COUNT {
		panic("fs: block index beyond indirect range")
	}
	if ip.Indir == 0 {
		ip.Indir = c.balloc(ctx, ip.Dev)
	}
	ctx2, ib := c.fs.cache.Read(ctx, ip.Dev, int(ip.Indir))
	addr := leU32(ib.Data[4*n : 4*n+4])
	if addr == 0 {
		addr = c.balloc(ctx, ip.Dev)
		putLeU32(ib.Data[4*n:4*n+4], addr)
		c.fs.log.Write(hart, ib)
	}
	c.fs.cache.Release(ctx2, ib)
	return addr
}

// truncate frees every block (direct and indirect) an inode owns and
// resets its size to zero.
func (c *InodeCache) truncate(ctx context.Context, ip *Inode) {
	hart := cpu.FromContext(ctx)
	for i := 0; i < limits.DIRECT_COUNT; i++ {
		if ip.Addrs[i] != 0 {
			c.bfree(hart, ip.Dev, ip.Addrs[i])
			ip.Addrs[i] = 0
		}
	}
	if ip.Indir != 0 {
		ctx2, ib := c.fs.cache.Read(ctx, ip.Dev, int(ip.Indir))
		for i := 0; i < limits.INDIRECT_COUNT; i++ {
			a := leU32(ib.Data[4*i : 4*i+4])
			if a != 0 {
				c.bfree(hart, ip.Dev, a)
			}
		}
		c.fs.cache.Release(ctx2, ib)
		c.bfree(hart, ip.Dev, ip.Indir)
		ip.Indir = 0
	}
	ip.Size = 0
	c.writeDinode(ctx, ip)
}

// balloc allocates the first zero bit in the free-block bitmap.
func (c *InodeCache) balloc(ctx context.Context, dev int) uint32 {
	hart := cpu.FromContext(ctx)
	for b := 0; b < c.fs.super.Size; b++ {
		bmBlk := c.fs.super.bitmapBlockFor(b)
		ctx2, buf := c.fs.cache.Read(ctx, dev, bmBlk)
		byteIdx := (b % (BSIZE * 8)) / 8
		bit := byte(1) << uint((b%(BSIZE*8))%8)
		if buf.Data[byteIdx]&bit == 0 {
			buf.Data[byteIdx] |= bit
			c.fs.log.Write(hart, buf)
			c.fs.cache.Release(ctx2, buf)
			zeroBlock(ctx, c.fs, dev, b)
			return uint32(b)
		}
		c.fs.cache.Release(ctx2, buf)
	}
	panic("fs: out of disk blocks")
}

func (c *InodeCache) bfree(hart *cpu.CPU, dev int, b uint32) {
	bmBlk := c.fs.super.bitmapBlockFor(int(b))
	ctx := bgCtx(hart)
	ctx2, buf := c.fs.cache.Read(ctx, dev, bmBlk)
	byteIdx := (int(b) % (BSIZE * 8)) / 8
	bit := byte(1) << uint((int(b)%(BSIZE*8))%8)
	buf.Data[byteIdx] &^= bit
	c.fs.log.Write(hart, buf)
	c.fs.cache.Release(ctx2, buf)
}

func zeroBlock(ctx context.Context, fs *Fs, dev, block int) {
	hart := cpu.FromContext(ctx)
	ctx2, b := fs.cache.Read(ctx, dev, block)
	b.Data = [BSIZE]byte{}
	fs.log.Write(hart, b)
	fs.cache.Release(ctx2, b)
}

func leU16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func putLeU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
