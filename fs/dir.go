package fs

import (
	"context"

	"rv6/cpu"
	"rv6/defs"
	"rv6/limits"
	"rv6/ustr"
)

// direntSize is the on-disk size of one directory entry: a 16-bit inode
// number followed by a fixed-width, NUL-padded name.
const direntSize = 2 + limits.DIRECTORY_SIZE

func direntName(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

// DirLookup scans dir's dirents for name and returns the referenced
// inode (unlocked, ref taken) and the byte offset of the entry within
// dir, or ENOENT.
func (fs *Fs) DirLookup(ctx context.Context, dir *Inode, name ustr.Ustr) (*Inode, int, defs.Err_t) {
	if dir.Type != defs.I_DIR {
		return nil, 0, defs.ENOTDIR
	}
	n := string(name)
	buf := make([]byte, direntSize)
	for off := 0; off < int(dir.Size); off += direntSize {
		fs.readiBytes(ctx, dir, buf, off)
		inum := int(leU16(buf[0:2]))
		if inum == 0 {
			continue
		}
		if direntName(buf[2:]) == n {
			ip := fs.icache.Get(cpu.FromContext(ctx), dir.Dev, inum)
			return ip, off, 0
		}
	}
	return nil, 0, defs.ENOENT
}

// DirLink writes a new dirent (name -> inum) into dir, reusing the first
// free slot (inum==0) or appending. Fails if name already exists.
func (fs *Fs) DirLink(ctx context.Context, dir *Inode, name ustr.Ustr, inum int) defs.Err_t {
	if len(name) > limits.DIRECTORY_SIZE {
		return defs.EINVAL
	}
	if existing, _, err := fs.DirLookup(ctx, dir, name); err == 0 {
		fs.icache.Put(cpu.FromContext(ctx), existing)
		return defs.EEXIST
	}

	buf := make([]byte, direntSize)
	off := 0
	for ; off < int(dir.Size); off += direntSize {
		fs.readiBytes(ctx, dir, buf, off)
		if leU16(buf[0:2]) == 0 {
			break
		}
	}

	entry := make([]byte, direntSize)
	putLeU16(entry[0:2], uint16(inum))
	copy(entry[2:], name)
	n, err := fs.writeiBytes(ctx, dir, entry, off)
	if err != 0 || n != direntSize {
		if err == 0 {
			err = defs.EIO
		}
		return err
	}
	return 0
}
