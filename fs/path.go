package fs

import (
	"context"

	"rv6/cpu"
	"rv6/defs"
	"rv6/ustr"
)

// resolve walks path one '/'-separated component at a time starting
// from the root inode (absolute paths) or cwd (relative paths),
// stopping one component short and returning (parent, lastName) when
// parentOnly is set, or resolving all the way through and returning the
// final inode otherwise.
func (fs *Fs) resolve(ctx context.Context, path ustr.Ustr, cwd *Inode, parentOnly bool) (*Inode, ustr.Ustr, defs.Err_t) {
	hart := cpu.FromContext(ctx)

	var ip *Inode
	if path.IsAbsolute() {
		ip = fs.icache.Get(hart, fs.dev, fs.rootInum)
	} else {
		if cwd == nil {
			return nil, nil, defs.ENOENT
		}
		cwd.refCount.Add(1)
		ip = cwd
	}

	comps := path.Components()
	if len(comps) == 0 {
		if parentOnly {
			fs.icache.Put(hart, ip)
			return nil, nil, defs.ENOENT
		}
		return ip, nil, 0
	}

	for i, comp := range comps {
		ctx = fs.icache.Lock(ctx, ip)
		if ip.Type != defs.I_DIR {
			fs.icache.UnlockPut(ctx, ip)
			return nil, nil, defs.ENOTDIR
		}
		if parentOnly && i == len(comps)-1 {
			fs.icache.Unlock(ctx, ip)
			return ip, comp, 0
		}
		next, _, err := fs.DirLookup(ctx, ip, comp)
		fs.icache.UnlockPut(ctx, ip)
		if err != 0 {
			return nil, nil, err
		}
		ip = next
	}
	return ip, nil, 0
}

// FindInode resolves path to its inode, unlocked, with a reference held.
func (fs *Fs) FindInode(ctx context.Context, path ustr.Ustr, cwd *Inode) (*Inode, defs.Err_t) {
	ip, _, err := fs.resolve(ctx, path, cwd, false)
	return ip, err
}

// FindInodeParent resolves path one component short, returning the
// parent directory (unlocked, ref held) and the final path component.
func (fs *Fs) FindInodeParent(ctx context.Context, path ustr.Ustr, cwd *Inode) (*Inode, ustr.Ustr, defs.Err_t) {
	return fs.resolve(ctx, path, cwd, true)
}
