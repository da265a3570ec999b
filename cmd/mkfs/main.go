// Command mkfs formats a fresh filesystem image and populates it with
// host files, spec.md §6's `mkfs image [file_specs...]`. Grounded on
// biscuit/src/mkfs/mkfs.go's copydata/addfiles shape (Cobra replaces the
// teacher's bare os.Args parsing, per SPEC_FULL.md's CLI-everywhere
// ambient stack), generalized from the teacher's fixed
// nlogblks/ninodeblks/ndatablks constants to fs.DefaultLayout.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"rv6/cpu"
	"rv6/defs"
	"rv6/fs"
	"rv6/ustr"
	"rv6/virtio"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mkfs:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mkfs image [file_specs...]",
		Short: "Format a filesystem image and seed it with host files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1:])
		},
	}
	cmd.SilenceUsage = true
	return cmd
}

// fileSpec is one of mkfs's positional arguments: "name" or "name:/a/b",
// where /a/b is the in-image directory name is placed under (spec.md §6).
type fileSpec struct {
	hostPath string
	imageDir string
}

func parseFileSpec(s string) fileSpec {
	if i := strings.IndexByte(s, ':'); i >= 0 {
		return fileSpec{hostPath: s[:i], imageDir: s[i+1:]}
	}
	return fileSpec{hostPath: s}
}

func run(imagePath string, specs []string) error {
	disk, err := virtio.Open(imagePath)
	if err != nil {
		return err
	}
	defer disk.Close()

	harts := cpu.NewRegistry(1)
	ctx := cpu.WithCPU(context.Background(), harts.Hart(0))

	ctx, fsys, ferr := fs.MkfsImage(ctx, disk, 0, fs.DefaultLayout)
	if ferr != 0 {
		return fmt.Errorf("format: %v", ferr)
	}

	for _, raw := range specs {
		spec := parseFileSpec(raw)
		if err := addFile(ctx, fsys, spec); err != nil {
			return err
		}
	}
	return nil
}

// addFile creates spec.imageDir (if any, one component at a time) and
// spec.hostPath's basename inside the image, then copies its contents
// BSIZE bytes at a time, matching the teacher's copydata/MkDir+MkFile
// split.
func addFile(ctx context.Context, fsys *fs.Fs, spec fileSpec) error {
	if spec.imageDir != "" {
		if err := mkdirAll(ctx, fsys, spec.imageDir); err != nil {
			return err
		}
	}
	name := path.Base(spec.hostPath)
	dst := path.Join("/", spec.imageDir, name)

	src, err := os.Open(spec.hostPath)
	if err != nil {
		return err
	}
	defer src.Close()

	ctx = fsys.BeginOp(ctx)
	ctx, ip, operr := fsys.Open(ctx, ustr.Ustr(dst), defs.O_WRONLY|defs.O_CREATE, fsys.RootInode(ctx))
	if operr != 0 {
		fsys.EndOp(ctx)
		return fmt.Errorf("create %s: %v", dst, operr)
	}
	fsys.Unlock(ctx, ip)
	fsys.EndOp(ctx)

	buf := make([]byte, fs.BSIZE)
	off := 0
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			ctx = fsys.BeginOp(ctx)
			ctx = fsys.Lock(ctx, ip)
			if _, werr := fsys.WriteAt(ctx, ip, buf[:n], off); werr != 0 {
				fsys.Unlock(ctx, ip)
				fsys.EndOp(ctx)
				return fmt.Errorf("write %s: %v", dst, werr)
			}
			fsys.Unlock(ctx, ip)
			fsys.EndOp(ctx)
			off += n
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return rerr
		}
	}

	ctx = fsys.BeginOp(ctx)
	fsys.UnlockPut(fsys.Lock(ctx, ip), ip)
	fsys.EndOp(ctx)
	return nil
}

func mkdirAll(ctx context.Context, fsys *fs.Fs, dir string) error {
	built := ""
	for _, comp := range strings.Split(strings.Trim(dir, "/"), "/") {
		if comp == "" {
			continue
		}
		built = built + "/" + comp
		ctx = fsys.BeginOp(ctx)
		err := fsys.Mkdir(ctx, ustr.Ustr(built), fsys.RootInode(ctx))
		fsys.EndOp(ctx)
		if err != 0 && err != defs.EEXIST {
			return fmt.Errorf("mkdir %s: %v", built, err)
		}
	}
	return nil
}
