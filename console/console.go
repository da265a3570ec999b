// Package console adapts the host terminal into the one character
// device every booted instance of this kernel registers at
// defs.D_CONSOLE: reads return bytes typed at the host's stdin,
// writes go to host stdout. Grounded on
// smoynes-elsie/internal/tty/tty.go's Console, trimmed to the read/write
// shape file.Device_i needs: raw-mode keyboard and display device fan-out
// aren't meaningful here since nothing in this kernel simulates a
// separate keyboard/display device pair.
package console

import (
	"bufio"
	"context"
	"io"
	"os"

	"golang.org/x/term"

	"rv6/defs"
)

// Console is a character device backed by the process's own stdin/stdout.
// When stdin is a real terminal it is switched to raw mode so reads
// return one byte at a time without waiting for a newline, matching
// xv6's console driver; otherwise reads fall back to ordinary buffered
// input (useful for piping test input).
type Console struct {
	in    *bufio.Reader
	out   io.Writer
	raw   *term.State
	fd    int
}

// New opens a console over the given streams. Call Restore before the
// process exits if the terminal was put into raw mode.
func New(in *os.File, out io.Writer) *Console {
	c := &Console{in: bufio.NewReader(in), out: out, fd: int(in.Fd())}
	if term.IsTerminal(c.fd) {
		if st, err := term.MakeRaw(c.fd); err == nil {
			c.raw = st
		}
	}
	return c
}

// Restore returns a raw-mode terminal to its original state. A no-op if
// stdin wasn't a terminal.
func (c *Console) Restore() {
	if c.raw != nil {
		_ = term.Restore(c.fd, c.raw)
	}
}

// Read satisfies file.Device_i: blocks for at least one byte, then
// returns whatever is already buffered without blocking further.
func (c *Console) Read(ctx context.Context, dst []byte) (int, defs.Err_t) {
	if len(dst) == 0 {
		return 0, 0
	}
	b, err := c.in.ReadByte()
	if err != nil {
		return 0, defs.EIO
	}
	dst[0] = b
	n := 1
	for n < len(dst) && c.in.Buffered() > 0 {
		b, err := c.in.ReadByte()
		if err != nil {
			break
		}
		dst[n] = b
		n++
	}
	return n, 0
}

// Write satisfies file.Device_i: writes src to the host's stdout.
func (c *Console) Write(ctx context.Context, src []byte) (int, defs.Err_t) {
	n, err := c.out.Write(src)
	if err != nil {
		return n, defs.EIO
	}
	return n, 0
}
