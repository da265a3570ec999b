package trap

import (
	"context"

	"rv6/cpu"
	"rv6/defs"
	"rv6/file"
	"rv6/mem"
	"rv6/proc"
	"rv6/ustr"
	"rv6/vm"
)

// mkva reinterprets a trapframe register as the user virtual address it
// names, the host-simulation analog of a real kernel reading a pointer
// argument straight out of a0-a5 (spec.md §4.7).
func mkva(reg uint64) mem.Va_t { return mem.Va_t(reg) }

const maxPath = 128

func init() {
	register(defs.SYS_OPEN, sysOpen)
	register(defs.SYS_READ, sysRead)
	register(defs.SYS_WRITE, sysWrite)
	register(defs.SYS_CLOSE, sysClose)
	register(defs.SYS_FSTAT, sysFstat)
	register(defs.SYS_CHDIR, sysChdir)
	register(defs.SYS_DUP, sysDup)
	register(defs.SYS_MKDIR, sysMkdir)
	register(defs.SYS_MKNOD, sysMknod)
	register(defs.SYS_PIPE, sysPipe)
}

// sysOpen implements spec.md §4.11's open: a0 = path VA, a1 = flags.
// O_CREATE creates a plain file if the path is absent; opening a
// directory for anything but O_RDONLY is rejected.
func sysOpen(ctx context.Context, k *Kernel, p *proc.Process) int64 {
	path, err := vm.CopyInString(p.Pagetable, mkva(p.Trapframe.A0), maxPath)
	if err != 0 {
		return int64(err)
	}
	flags := int(p.Trapframe.A1)

	ctx = k.FS.BeginOp(ctx)
	defer k.FS.EndOp(ctx)

	ctx, ip, oerr := k.FS.Open(ctx, ustr.Ustr(path), flags, cwd(p))
	if oerr != 0 {
		return int64(oerr)
	}

	f := k.Files.Alloc(cpu.FromContext(ctx))
	if f == nil {
		k.FS.UnlockPut(ctx, ip)
		return int64(defs.EMFILE)
	}
	fd, ferr := allocFD(p, f)
	if ferr != 0 {
		f.Close(ctx)
		k.FS.UnlockPut(ctx, ip)
		return int64(ferr)
	}

	f.Type = file.FD_INODE
	f.Readable = flags&defs.O_WRONLY == 0
	f.Writable = flags&defs.O_WRONLY != 0 || flags&defs.O_RDWR != 0
	f.Ino = ip
	if ip.Type == defs.I_DEV {
		f.Type = file.FD_DEVICE
		f.Major = ip.Major
	}
	k.FS.Unlock(ctx, ip)
	return int64(fd)
}

func sysRead(ctx context.Context, k *Kernel, p *proc.Process) int64 {
	f, err := fdOf(p, int(p.Trapframe.A0))
	if err != 0 {
		return int64(err)
	}
	n := int(p.Trapframe.A2)
	buf := make([]byte, n)
	got, rerr := f.Read(ctx, buf)
	if rerr != 0 {
		return int64(rerr)
	}
	if cerr := vm.CopyOut(p.Pagetable, mkva(p.Trapframe.A1), buf[:got]); cerr != 0 {
		return int64(cerr)
	}
	return int64(got)
}

func sysWrite(ctx context.Context, k *Kernel, p *proc.Process) int64 {
	f, err := fdOf(p, int(p.Trapframe.A0))
	if err != 0 {
		return int64(err)
	}
	n := int(p.Trapframe.A2)
	buf := make([]byte, n)
	if cerr := vm.CopyIn(p.Pagetable, mkva(p.Trapframe.A1), buf); cerr != 0 {
		return int64(cerr)
	}
	got, werr := f.Write(ctx, buf)
	if werr != 0 {
		return int64(werr)
	}
	return int64(got)
}

func sysClose(ctx context.Context, k *Kernel, p *proc.Process) int64 {
	fd := int(p.Trapframe.A0)
	f, err := fdOf(p, fd)
	if err != 0 {
		return int64(err)
	}
	p.Ofile[fd] = nil
	return int64(f.Close(ctx))
}

func sysFstat(ctx context.Context, k *Kernel, p *proc.Process) int64 {
	f, err := fdOf(p, int(p.Trapframe.A0))
	if err != 0 {
		return int64(err)
	}
	st, serr := f.Stat(ctx)
	if serr != 0 {
		return int64(serr)
	}
	raw := encodeStat(st)
	if cerr := vm.CopyOut(p.Pagetable, mkva(p.Trapframe.A1), raw); cerr != 0 {
		return int64(cerr)
	}
	return 0
}

func sysChdir(ctx context.Context, k *Kernel, p *proc.Process) int64 {
	path, err := vm.CopyInString(p.Pagetable, mkva(p.Trapframe.A0), maxPath)
	if err != 0 {
		return int64(err)
	}
	ctx = k.FS.BeginOp(ctx)
	defer k.FS.EndOp(ctx)

	ip, ferr := k.FS.FindInode(ctx, ustr.Ustr(path), cwd(p))
	if ferr != 0 {
		return int64(ferr)
	}
	ctx = k.FS.Lock(ctx, ip)
	if ip.Type != defs.I_DIR {
		k.FS.UnlockPut(ctx, ip)
		return int64(defs.ENOTDIR)
	}
	k.FS.Unlock(ctx, ip)

	if old := cwd(p); old != nil {
		old.Close(ctx)
	}
	p.Cwd = ip
	return 0
}

func sysDup(ctx context.Context, k *Kernel, p *proc.Process) int64 {
	f, err := fdOf(p, int(p.Trapframe.A0))
	if err != 0 {
		return int64(err)
	}
	fd, ferr := allocFD(p, f.Dup())
	if ferr != 0 {
		return int64(ferr)
	}
	return int64(fd)
}

func sysMkdir(ctx context.Context, k *Kernel, p *proc.Process) int64 {
	path, err := vm.CopyInString(p.Pagetable, mkva(p.Trapframe.A0), maxPath)
	if err != 0 {
		return int64(err)
	}
	ctx = k.FS.BeginOp(ctx)
	defer k.FS.EndOp(ctx)
	return int64(k.FS.Mkdir(ctx, ustr.Ustr(path), cwd(p)))
}

func sysMknod(ctx context.Context, k *Kernel, p *proc.Process) int64 {
	path, err := vm.CopyInString(p.Pagetable, mkva(p.Trapframe.A0), maxPath)
	if err != 0 {
		return int64(err)
	}
	major := uint16(p.Trapframe.A1)
	minor := uint16(p.Trapframe.A2)
	ctx = k.FS.BeginOp(ctx)
	defer k.FS.EndOp(ctx)
	return int64(k.FS.Mknod(ctx, ustr.Ustr(path), major, minor, cwd(p)))
}

// sysPipe implements spec.md §9's assigned free id for pipe: a0 = VA of
// a two-int array the kernel fills with {read fd, write fd}.
func sysPipe(ctx context.Context, k *Kernel, p *proc.Process) int64 {
	rf, wf := k.Files.AllocPipe()
	rfd, err := allocFD(p, rf)
	if err != 0 {
		rf.Close(ctx)
		wf.Close(ctx)
		return int64(err)
	}
	wfd, err2 := allocFD(p, wf)
	if err2 != 0 {
		p.Ofile[rfd] = nil
		rf.Close(ctx)
		wf.Close(ctx)
		return int64(err2)
	}
	var raw [8]byte
	putLe32(raw[0:4], uint32(rfd))
	putLe32(raw[4:8], uint32(wfd))
	if cerr := vm.CopyOut(p.Pagetable, mkva(p.Trapframe.A0), raw[:]); cerr != 0 {
		return int64(cerr)
	}
	return 0
}

