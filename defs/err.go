package defs

// Err_t is the kernel's internal error representation: zero means success,
// negative values name a kind from spec.md §7's taxonomy. Syscalls collapse
// any non-zero Err_t to the single user-visible value -1 (spec.md §7,
// "all syscalls return a0 = -1 on failure"); Err_t itself stays granular so
// kernel-internal callers can distinguish kinds, the way biscuit/src/fd's
// functions return defs.Err_t rather than bare bool.
type Err_t int

const (
	// OutOfMemory: no frame, no slot in a fixed-size table.
	ENOMEM Err_t = -1
	// NotFound: path/name absent, unknown syscall id.
	ENOENT Err_t = -2
	// BadArgument: invalid fd, bad mode, name too long, wrong inode type.
	EINVAL Err_t = -3
	// IoError: virtio reported a non-zero status.
	EIO Err_t = -4
	// name already exists where dir_link requires it be absent.
	EEXIST Err_t = -5
	// operation not permitted on this inode/file type.
	EPERM Err_t = -6
	// no child to wait for.
	ECHILD Err_t = -7
	// too many open files / processes / other fixed-size table full.
	EMFILE Err_t = -8
	// not a directory where one was required.
	ENOTDIR Err_t = -9
	// is a directory where a non-directory was required.
	EISDIR Err_t = -10
	// argument list (argv) too large for MAX_ARG.
	E2BIG Err_t = -11
	// free-block bitmap or inode region exhausted.
	ENOSPC Err_t = -12
	// write end of a pipe with no reader left, or vice versa.
	EPIPE Err_t = -13
)

// String renders an Err_t for diagnostics. The kernel has no errno; this
// exists only for klog and test failure messages (spec.md §7).
func (e Err_t) String() string {
	switch e {
	case 0:
		return "ok"
	case ENOMEM:
		return "out of memory"
	case ENOENT:
		return "not found"
	case EINVAL:
		return "bad argument"
	case EIO:
		return "i/o error"
	case EEXIST:
		return "already exists"
	case EPERM:
		return "not permitted"
	case ECHILD:
		return "no child"
	case EMFILE:
		return "too many open files"
	case ENOTDIR:
		return "not a directory"
	case EISDIR:
		return "is a directory"
	case E2BIG:
		return "argument list too big"
	case ENOSPC:
		return "disk full"
	case EPIPE:
		return "broken pipe"
	default:
		return "unknown error"
	}
}

// Ok reports whether e represents success.
func (e Err_t) Ok() bool { return e == 0 }
