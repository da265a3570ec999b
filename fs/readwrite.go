package fs

import (
	"context"

	"rv6/cpu"
	"rv6/defs"
	"rv6/limits"
	"rv6/util"
)

// readiBytes reads len(dst) bytes of ip's content starting at off into
// dst, blockful at a time through the buffer cache. Reads past Size are
// truncated to what exists, matching spec.md's "read up to current size
// returns what exists".
func (fs *Fs) readiBytes(ctx context.Context, ip *Inode, dst []byte, off int) int {
	if off >= int(ip.Size) {
		return 0
	}
	n := len(dst)
	if off+n > int(ip.Size) {
		n = int(ip.Size) - off
	}
	total := 0
	for total < n {
		blkIdx := (off + total) / BSIZE
		blkOff := (off + total) % BSIZE
		blk := fs.icache.bmap(ctx, ip, blkIdx)
		ctx2, b := fs.cache.Read(ctx, ip.Dev, int(blk))
		c := BSIZE - blkOff
		if c > n-total {
			c = n - total
		}
		copy(dst[total:total+c], b.Data[blkOff:blkOff+c])
		fs.cache.Release(ctx2, b)
		total += c
	}
	return total
}

// maxWriteChunk bounds a single inode write so it never needs more log
// blocks than one transaction can hold: spec.md's
// ((LOG_SIZE-1-1-2)/2) blocks' worth of data.
const maxWriteChunk = ((limits.LOG_SIZE - 1 - 1 - 2) / 2) * BSIZE

// writeiBytes writes src into ip's content at off, extending Size and
// allocating blocks as needed. Each maxWriteChunk-sized piece commits as
// its own log transaction (spec.md §4.11 "split into chunks so no single
// log transaction exceeds cap blocks"): a write larger than one
// transaction's worth of log capacity would otherwise panic in
// Log.Write once the in-flight transaction's block list fills up.
func (fs *Fs) writeiBytes(ctx context.Context, ip *Inode, src []byte, off int) (int, defs.Err_t) {
	total := 0
	for total < len(src) {
		chunk := len(src) - total
		if chunk > maxWriteChunk {
			chunk = maxWriteChunk
		}
		ctx = fs.BeginOp(ctx)
		hart := cpu.FromContext(ctx)
		written := 0
		for written < chunk {
			blkIdx := (off + total + written) / BSIZE
			blkOff := (off + total + written) % BSIZE
			blk := fs.icache.bmap(ctx, ip, blkIdx)
			ctx2, b := fs.cache.Read(ctx, ip.Dev, int(blk))
			c := BSIZE - blkOff
			if c > chunk-written {
				c = chunk - written
			}
			copy(b.Data[blkOff:blkOff+c], src[total+written:total+written+c])
			fs.log.Write(hart, b)
			fs.cache.Release(ctx2, b)
			written += c
		}
		total += chunk
		ip.Size = uint32(util.Max(int(ip.Size), off+total))
		fs.icache.writeDinode(ctx, ip)
		fs.EndOp(ctx)
	}
	return total, 0
}
