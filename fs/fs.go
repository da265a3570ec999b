package fs

import (
	"context"

	"rv6/cpu"
	"rv6/defs"
	"rv6/ustr"
)

// Fs ties the buffer cache, the log and the inode cache to one mounted
// device, and exposes the path-based operations the file-descriptor
// layer and syscall dispatch call into. Grounded on the shape of
// biscuit's Ufs_t (biscuit/src/ufs/ufs.go) — a thin façade over the real
// filesystem internals — but calling directly into this package's own
// Cache/Log/InodeCache instead of wrapping a separate fs.Fs_t, since
// that indirection served a cross-package split this retrieval pack
// doesn't carry.
type Fs struct {
	dev      int
	rootInum int
	super    Super
	cache    *Cache
	log      *Log
	icache   *InodeCache
}

// Mount reads the super block from disk, replays the log, and returns a
// ready-to-use filesystem. rootInum is always 1, matching mkfs's layout.
// Panics if the super block's magic doesn't match SuperMagic: an
// unrecognized disk image is a programming/usage error, not a recoverable
// runtime condition (spec.md §7 "Invariant violation ... panic").
func Mount(ctx context.Context, disk Disk_i, dev int) *Fs {
	fs := &Fs{dev: dev, rootInum: 1, cache: NewCache(disk)}
	_, sb := fs.cache.Read(ctx, dev, 1)
	fs.super.decode(sb)
	fs.cache.Release(ctx, sb)
	if fs.super.Magic != SuperMagic {
		panic("fs: Mount: bad super block magic")
	}

	fs.log = NewLog(fs.cache, dev, fs.super.LogStart, fs.super.Nlog-1)
	fs.log.Recover(ctx)
	fs.icache = newInodeCache(fs)
	return fs
}

// BeginOp/EndOp bracket a filesystem-modifying operation in a log
// transaction; callers (the file package, syscall handlers) wrap every
// create/write/unlink/rename between a matched pair.
func (fs *Fs) BeginOp(ctx context.Context) context.Context { return fs.log.Begin(ctx) }
func (fs *Fs) EndOp(ctx context.Context)                   { fs.log.End(ctx) }

// Open resolves path under cwd; with O_CREATE it creates a plain file if
// absent. Returns the inode locked, matching the teacher's Fs_open
// contract of handing back a ready-to-use reference.
func (fs *Fs) Open(ctx context.Context, path ustr.Ustr, flags int, cwd *Inode) (context.Context, *Inode, defs.Err_t) {
	if flags&defs.O_CREATE == 0 {
		ip, err := fs.FindInode(ctx, path, cwd)
		if err != 0 {
			return ctx, nil, err
		}
		ctx = fs.icache.Lock(ctx, ip)
		if ip.Type == defs.I_DIR && flags != defs.O_RDONLY {
			fs.icache.UnlockPut(ctx, ip)
			return ctx, nil, defs.EISDIR
		}
		return ctx, ip, 0
	}

	dir, name, err := fs.FindInodeParent(ctx, path, cwd)
	if err != 0 {
		return ctx, nil, err
	}
	ctx = fs.icache.Lock(ctx, dir)
	if existing, _, lookErr := fs.DirLookup(ctx, dir, name); lookErr == 0 {
		fs.icache.UnlockPut(ctx, dir)
		ctx = fs.icache.Lock(ctx, existing)
		if existing.Type == defs.I_DIR {
			fs.icache.UnlockPut(ctx, existing)
			return ctx, nil, defs.EISDIR
		}
		if flags&defs.O_TRUNC != 0 && existing.Type == defs.I_FILE {
			fs.icache.truncate(ctx, existing)
		}
		return ctx, existing, 0
	}

	ip, aerr := fs.icache.AllocInode(ctx, fs.dev, defs.I_FILE)
	if aerr != 0 {
		fs.icache.UnlockPut(ctx, dir)
		return ctx, nil, aerr
	}
	ctx = fs.icache.Lock(ctx, ip)
	ip.Nlink = 1
	fs.icache.writeDinode(ctx, ip)

	if derr := fs.DirLink(ctx, dir, name, ip.Inum); derr != 0 {
		fs.icache.UnlockPut(ctx, ip)
		fs.icache.UnlockPut(ctx, dir)
		return ctx, nil, derr
	}
	fs.icache.UnlockPut(ctx, dir)
	return ctx, ip, 0
}

// Mkdir creates an empty directory at path (with "." and ".." dirents)
// under cwd.
func (fs *Fs) Mkdir(ctx context.Context, path ustr.Ustr, cwd *Inode) defs.Err_t {
	dir, name, err := fs.FindInodeParent(ctx, path, cwd)
	if err != 0 {
		return err
	}
	hart := cpu.FromContext(ctx)
	ctx = fs.icache.Lock(ctx, dir)
	defer fs.icache.UnlockPut(ctx, dir)

	if _, _, lookErr := fs.DirLookup(ctx, dir, name); lookErr == 0 {
		return defs.EEXIST
	}

	ip, aerr := fs.icache.AllocInode(ctx, fs.dev, defs.I_DIR)
	if aerr != 0 {
		return aerr
	}
	ctx = fs.icache.Lock(ctx, ip)
	ip.Nlink = 1
	fs.icache.writeDinode(ctx, ip)

	if derr := fs.DirLink(ctx, ip, ustr.MkUstrDot(), ip.Inum); derr != 0 {
		fs.icache.UnlockPut(ctx, ip)
		return derr
	}
	if derr := fs.DirLink(ctx, ip, ustr.DotDot, dir.Inum); derr != 0 {
		fs.icache.UnlockPut(ctx, ip)
		return derr
	}
	if derr := fs.DirLink(ctx, dir, name, ip.Inum); derr != 0 {
		fs.icache.UnlockPut(ctx, ip)
		return derr
	}
	fs.icache.UnlockPut(ctx, ip)
	_ = hart
	return 0
}

// Mknod creates a device-file dirent at path pointing at (major,minor),
// the same transaction shape as Open's create path but for I_DEV.
func (fs *Fs) Mknod(ctx context.Context, path ustr.Ustr, major, minor uint16, cwd *Inode) defs.Err_t {
	dir, name, err := fs.FindInodeParent(ctx, path, cwd)
	if err != 0 {
		return err
	}
	ctx = fs.icache.Lock(ctx, dir)
	if _, _, lookErr := fs.DirLookup(ctx, dir, name); lookErr == 0 {
		fs.icache.UnlockPut(ctx, dir)
		return defs.EEXIST
	}

	ip, aerr := fs.icache.AllocInode(ctx, fs.dev, defs.I_DEV)
	if aerr != 0 {
		fs.icache.UnlockPut(ctx, dir)
		return aerr
	}
	ctx = fs.icache.Lock(ctx, ip)
	ip.Nlink = 1
	ip.Major = major
	ip.Minor = minor
	fs.icache.writeDinode(ctx, ip)
	fs.icache.UnlockPut(ctx, ip)

	derr := fs.DirLink(ctx, dir, name, ip.Inum)
	fs.icache.UnlockPut(ctx, dir)
	return derr
}

// DevNumbers reads back the (major,minor) an I_DEV inode was created with.
func DevNumbers(ip *Inode) (uint16, uint16) {
	return ip.Major, ip.Minor
}

// Stat fills out a defs.Stat_t describing ip. Caller must hold ip's lock.
func Stat(ip *Inode) defs.Stat_t {
	return defs.Stat_t{Dev: uint32(ip.Dev), Ino: uint32(ip.Inum), Type: ip.Type, Nlink: ip.Nlink, Size: uint64(ip.Size)}
}

// ReadAt/WriteAt let the file package read and write an already-locked
// inode's content without reaching into fs's unexported helpers
// directly.
func (fs *Fs) ReadAt(ctx context.Context, ip *Inode, dst []byte, off int) int {
	return fs.readiBytes(ctx, ip, dst, off)
}

func (fs *Fs) WriteAt(ctx context.Context, ip *Inode, src []byte, off int) (int, defs.Err_t) {
	return fs.writeiBytes(ctx, ip, src, off)
}

func (fs *Fs) Lock(ctx context.Context, ip *Inode) context.Context   { return fs.icache.Lock(ctx, ip) }
func (fs *Fs) Unlock(ctx context.Context, ip *Inode)                 { fs.icache.Unlock(ctx, ip) }
func (fs *Fs) UnlockPut(ctx context.Context, ip *Inode)              { fs.icache.UnlockPut(ctx, ip) }
func (fs *Fs) Dup(hart *cpu.CPU, ip *Inode) *Inode {
	ip.refCount.Add(1)
	return ip
}
func (fs *Fs) Put(hart *cpu.CPU, ip *Inode) { fs.icache.Put(hart, ip) }

func (fs *Fs) RootInode(ctx context.Context) *Inode {
	return fs.icache.Get(cpu.FromContext(ctx), fs.dev, fs.rootInum)
}
