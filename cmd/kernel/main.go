// Command kernel boots the hosted simulation: mounts an image built by
// mkfs, wires every process-wide singleton spec.md §9 names, starts one
// scheduler goroutine per hart, and runs a tiny embedded init/sh pair
// far enough to drive a shell pipeline end to end.
//
// Grounded on biscuit/src/mkfs/mkfs.go for the CLI shape (cobra, same as
// cmd/mkfs) and on original_source/bin/user/src/bin/{init,sh}.rs for the
// boot-time process tree this file's initBody/shBody/lsBody/catBody
// closures reproduce through the syscall gate instead of a real ecall.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"rv6/console"
	"rv6/cpu"
	"rv6/defs"
	"rv6/file"
	"rv6/fs"
	"rv6/klog"
	"rv6/mem"
	"rv6/proc"
	"rv6/stats"
	"rv6/trap"
	"rv6/virtio"
	"rv6/vm"
)

// framesTotal sizes the arena mem.NewAllocator carves: enough frames for
// a handful of small process images plus the kernel's own page-table
// bookkeeping, matching DefaultLayout's scale in cmd/mkfs.
const framesTotal = 8192

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kernel:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{Use: "kernel"}
	root.AddCommand(runCmd())
	return root
}

func runCmd() *cobra.Command {
	var (
		image    string
		harts    int
		logLevel string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot the simulated kernel against a disk image",
		RunE: func(cmd *cobra.Command, args []string) error {
			return boot(image, harts, logLevel)
		},
	}
	cmd.Flags().StringVar(&image, "image", "disk.img", "path to a disk image built by mkfs")
	cmd.Flags().IntVar(&harts, "harts", 1, "number of simulated harts")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "debug or info")
	cmd.SilenceUsage = true
	return cmd
}

func boot(imagePath string, nharts int, logLevel string) error {
	klog.SetVerbose(logLevel == "debug")

	disk, err := virtio.Open(imagePath)
	if err != nil {
		return err
	}
	defer disk.Close()

	allocator := mem.NewAllocator(framesTotal)
	harts := cpu.NewRegistry(nharts)
	table := proc.NewTable(harts)
	proc.Bind(table)

	bootCtx := cpu.WithCPU(context.Background(), harts.Hart(0))
	fsys := fs.Mount(bootCtx, disk, 0)

	devs := file.NewRegistry()
	con := console.New(os.Stdin, os.Stdout)
	defer con.Restore()
	devs.Register(uint16(defs.D_CONSOLE), con)
	devs.Register(uint16(defs.D_STAT), stats.Device{})
	devs.Register(uint16(defs.D_RAWDISK), virtio.NewRawDisk(disk))
	devs.Register(uint16(defs.D_DEVNULL), virtio.DevNull{})

	files := file.NewTable(fsys, devs)
	k := &trap.Kernel{Procs: table, Files: files, Devs: devs, FS: fsys}

	initProc := table.Alloc(harts.Hart(0), "init", initBody(k))
	if initProc == nil {
		return fmt.Errorf("boot: process table full before boot")
	}
	pt, ok := mem.NewPagetable(allocator)
	if !ok {
		return fmt.Errorf("boot: out of memory allocating init's page table")
	}
	initProc.Pagetable = pt
	initProc.Trapframe = &proc.Trapframe_t{}
	initProc.Cwd = fsys.RootInode(bootCtx)
	table.MakeRunnable(harts.Hart(0), initProc)

	for i := 0; i < harts.Count(); i++ {
		sched := &proc.Scheduler{Table: table}
		go sched.Run(context.Background(), harts.Hart(i))
	}

	klog.Info("boot complete", "image", imagePath, "harts", nharts)
	select {} // a real kernel's boot command never returns either
}

// --- a minimal syscall-gate wrapper, for init/sh/ls/cat to drive the
// real trap.Ecall dispatch the way user code would instead of calling
// fs/file methods directly (SPEC_FULL.md §9's "embedded init/sh pair
// ... far enough to drive S5"). ---

// scratchPage grows p's address space by one page and returns its VA,
// mapped read/write/user, for passing short syscall arguments (paths,
// stat buffers, pipe fd pairs) the way a real user stack would.
func scratchPage(p *proc.Process) (mem.Va_t, defs.Err_t) {
	va := mem.PageRoundUp(mem.Va_t(p.Sz))
	pa, ok := p.Pagetable.Alloc()
	if !ok {
		return 0, defs.ENOMEM
	}
	if err := p.Pagetable.Map(va, pa, mem.PTE_V|mem.PTE_R|mem.PTE_W|mem.PTE_U); err != nil {
		return 0, defs.ENOMEM
	}
	p.Sz = int(va) + mem.PGSIZE
	return va, 0
}

func ecall(ctx context.Context, k *trap.Kernel, p *proc.Process, id int, a0, a1, a2, a3 uint64) int64 {
	p.Trapframe.A7 = uint64(id)
	p.Trapframe.A0, p.Trapframe.A1, p.Trapframe.A2, p.Trapframe.A3 = a0, a1, a2, a3
	return trap.Ecall(ctx, k)
}

func pushString(ctx context.Context, p *proc.Process, s string) (mem.Va_t, defs.Err_t) {
	va, err := scratchPage(p)
	if err != 0 {
		return 0, err
	}
	return va, vm.CopyOut(p.Pagetable, va, append([]byte(s), 0))
}

func sysOpen(ctx context.Context, k *trap.Kernel, p *proc.Process, path string, flags int) int64 {
	va, err := pushString(ctx, p, path)
	if err != 0 {
		return int64(err)
	}
	return ecall(ctx, k, p, defs.SYS_OPEN, uint64(va), uint64(flags), 0, 0)
}

func sysMknod(ctx context.Context, k *trap.Kernel, p *proc.Process, path string, major, minor uint16) int64 {
	va, err := pushString(ctx, p, path)
	if err != 0 {
		return int64(err)
	}
	return ecall(ctx, k, p, defs.SYS_MKNOD, uint64(va), uint64(major), uint64(minor), 0)
}

func sysClose(ctx context.Context, k *trap.Kernel, p *proc.Process, fd int) int64 {
	return ecall(ctx, k, p, defs.SYS_CLOSE, uint64(fd), 0, 0, 0)
}

func sysDup(ctx context.Context, k *trap.Kernel, p *proc.Process, fd int) int64 {
	return ecall(ctx, k, p, defs.SYS_DUP, uint64(fd), 0, 0, 0)
}

func sysRead(ctx context.Context, k *trap.Kernel, p *proc.Process, fd int, n int) ([]byte, int64) {
	va, err := scratchPage(p)
	if err != 0 {
		return nil, int64(err)
	}
	ret := ecall(ctx, k, p, defs.SYS_READ, uint64(fd), uint64(va), uint64(n), 0)
	if ret < 0 {
		return nil, ret
	}
	buf := make([]byte, ret)
	if cerr := vm.CopyIn(p.Pagetable, va, buf); cerr != 0 {
		return nil, int64(cerr)
	}
	return buf, ret
}

func sysWrite(ctx context.Context, k *trap.Kernel, p *proc.Process, fd int, data []byte) int64 {
	va, err := scratchPage(p)
	if err != 0 {
		return int64(err)
	}
	if cerr := vm.CopyOut(p.Pagetable, va, data); cerr != 0 {
		return int64(cerr)
	}
	return ecall(ctx, k, p, defs.SYS_WRITE, uint64(fd), uint64(va), uint64(len(data)), 0)
}

func sysPipe(ctx context.Context, k *trap.Kernel, p *proc.Process) (rfd, wfd int, err int64) {
	va, serr := scratchPage(p)
	if serr != 0 {
		return 0, 0, int64(serr)
	}
	if ret := ecall(ctx, k, p, defs.SYS_PIPE, uint64(va), 0, 0, 0); ret != 0 {
		return 0, 0, ret
	}
	var raw [8]byte
	if cerr := vm.CopyIn(p.Pagetable, va, raw[:]); cerr != 0 {
		return 0, 0, int64(cerr)
	}
	rfd = int(int32(leU32(raw[0:4])))
	wfd = int(int32(leU32(raw[4:8])))
	return rfd, wfd, 0
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func sysWait(ctx context.Context, k *trap.Kernel, p *proc.Process) int64 {
	return ecall(ctx, k, p, defs.SYS_WAIT, 0, 0, 0, 0)
}

// --- the embedded process tree itself ---

// initBody is the first process: it creates /console if needed, wires
// it to fds 0-2, then respawns sh forever, reaping any reparented
// orphans along the way, mirroring original_source's init.rs loop.
func initBody(k *trap.Kernel) proc.Body {
	return func(ctx context.Context, p *proc.Process) int {
		if ret := sysOpen(ctx, k, p, "/console", defs.O_RDWR); ret < 0 {
			if mret := sysMknod(ctx, k, p, "/console", uint16(defs.D_CONSOLE), 0); mret < 0 {
				klog.Error("init: mknod /console failed", "err", mret)
				return 1
			}
			if ret := sysOpen(ctx, k, p, "/console", defs.O_RDWR); ret < 0 {
				klog.Error("init: open /console failed", "err", ret)
				return 1
			}
		}
		sysDup(ctx, k, p, 0) // stdout
		sysDup(ctx, k, p, 0) // stderr

		for {
			pid, err := trap.Fork(ctx, k, shBody(k))
			if err != 0 {
				klog.Error("init: fork sh failed", "err", err)
				return 1
			}
			for {
				if sysWait(ctx, k, p) == int64(pid) {
					break
				}
			}
		}
	}
}

// shBody runs the one pipeline S5 (spec.md §8) names: `ls | cat`, reaping
// both children before exiting, grounded on sh.rs's PipeCMD case.
func shBody(k *trap.Kernel) proc.Body {
	return func(ctx context.Context, p *proc.Process) int {
		rfd, wfd, err := sysPipe(ctx, k, p)
		if err != 0 {
			klog.Error("sh: pipe failed", "err", err)
			return 1
		}

		lsPid, lerr := trap.Fork(ctx, k, pipeChild(k, 1, wfd, rfd, lsBody(k)))
		if lerr != 0 {
			return 1
		}
		catPid, cerr := trap.Fork(ctx, k, pipeChild(k, 0, rfd, wfd, catBody(k)))
		if cerr != 0 {
			return 1
		}

		sysClose(ctx, k, p, rfd)
		sysClose(ctx, k, p, wfd)

		reaped := 0
		for reaped < 2 {
			pid := sysWait(ctx, k, p)
			if pid == int64(lsPid) || pid == int64(catPid) {
				reaped++
			} else if pid < 0 {
				break
			}
		}
		return 0
	}
}

// pipeChild wraps a leaf body (ls/cat) with the close-dup-close dance
// that installs one pipe end at targetFd before running, the same
// pattern sh.rs's PipeCMD case performs in each forked child.
func pipeChild(k *trap.Kernel, targetFd, installFd, otherFd int, leaf proc.Body) proc.Body {
	return func(ctx context.Context, p *proc.Process) int {
		sysClose(ctx, k, p, targetFd)
		sysDup(ctx, k, p, installFd) // lands at targetFd, now free
		sysClose(ctx, k, p, installFd)
		sysClose(ctx, k, p, otherFd)
		return leaf(ctx, p)
	}
}

const direntSize = 2 + 14

// lsBody lists the current directory's non-empty dirents to fd 1, the
// minimal fstat-free rendition of xv6's ls.c this embedded shell needs.
func lsBody(k *trap.Kernel) proc.Body {
	return func(ctx context.Context, p *proc.Process) int {
		ret := sysOpen(ctx, k, p, ".", defs.O_RDONLY)
		if ret < 0 {
			return 1
		}
		fd := int(ret)
		for {
			buf, n := sysRead(ctx, k, p, fd, direntSize)
			if n < direntSize {
				break
			}
			inum := uint16(buf[0]) | uint16(buf[1])<<8
			if inum == 0 {
				continue
			}
			name := direntName(buf[2:])
			sysWrite(ctx, k, p, 1, []byte(name+"\n"))
		}
		sysClose(ctx, k, p, fd)
		return 0
	}
}

func direntName(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

// catBody copies fd 0 to fd 1 until EOF, same shape as xv6's cat.c.
func catBody(k *trap.Kernel) proc.Body {
	return func(ctx context.Context, p *proc.Process) int {
		for {
			buf, n := sysRead(ctx, k, p, 0, 512)
			if n <= 0 {
				break
			}
			sysWrite(ctx, k, p, 1, buf)
		}
		return 0
	}
}
