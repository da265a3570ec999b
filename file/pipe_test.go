package file_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rv6/cpu"
	"rv6/defs"
	"rv6/file"
	"rv6/proc"
)

// pipeHarness is the minimal scheduled-process setup Pipe's Write/Read
// need: both call proc.Current(ctx).Killed on every iteration, so they
// can only run inside a context a real Scheduler.Run goroutine produced,
// never a bare cpu.WithCPU context.
type pipeHarness struct {
	table *proc.Table
	harts *cpu.Registry
}

func newPipeHarness(t *testing.T, nharts int) *pipeHarness {
	t.Helper()
	harts := cpu.NewRegistry(nharts)
	table := proc.NewTable(harts)
	proc.Bind(table)
	for i := 0; i < nharts; i++ {
		sched := &proc.Scheduler{Table: table}
		go sched.Run(context.Background(), harts.Hart(i))
	}
	return &pipeHarness{table: table, harts: harts}
}

func (h *pipeHarness) spawn(t *testing.T, name string, body proc.Body) *proc.Process {
	t.Helper()
	hart0 := h.harts.Hart(0)
	p := h.table.Alloc(hart0, name, body)
	require.NotNil(t, p)
	h.table.MakeRunnable(hart0, p)
	return p
}

// opResult carries a Write/Read outcome back to the test's own
// goroutine: Body closures run on goroutines Scheduler.Run started, and
// testify's FailNow must run on the goroutine *testing.T belongs to, so
// none of these bodies call require directly.
type opResult struct {
	n   int
	err defs.Err_t
}

// TestPipeFullBufferBlocksWriterUntilReaderDrains writes more than the
// ring's capacity and checks the writer only finishes once the reader has
// consumed enough to make room -- the blocking half of the pipe's
// bounded-buffer invariant.
func TestPipeFullBufferBlocksWriterUntilReaderDrains(t *testing.T) {
	h := newPipeHarness(t, 2)
	p, _, _ := file.NewPipe()

	const total = 600 // bigger than pipeSize (512), forces the writer to block mid-write
	payload := make([]byte, total)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	writeDone := make(chan opResult, 1)
	writerBody := func(ctx context.Context, _ *proc.Process) int {
		n, err := p.Write(ctx, payload)
		proc.Exit(ctx, 0)
		writeDone <- opResult{n: n, err: err}
		return 0
	}

	readDone := make(chan []byte, 1)
	readerBody := func(ctx context.Context, _ *proc.Process) int {
		var got []byte
		for len(got) < total {
			buf := make([]byte, 128)
			n, err := p.Read(ctx, buf)
			if err != 0 || n == 0 {
				break
			}
			got = append(got, buf[:n]...)
		}
		proc.Exit(ctx, 0)
		readDone <- got
		return 0
	}

	h.spawn(t, "writer", writerBody)

	select {
	case <-writeDone:
		t.Fatal("writer must not finish before the reader has drained enough of a full ring")
	case <-time.After(100 * time.Millisecond):
	}

	h.spawn(t, "reader", readerBody)

	select {
	case res := <-writeDone:
		require.Zero(t, res.err)
		require.Equal(t, total, res.n)
	case <-time.After(5 * time.Second):
		t.Fatal("writer never unblocked once a reader started draining")
	}
	select {
	case got := <-readDone:
		require.Equal(t, payload, got)
	case <-time.After(5 * time.Second):
		t.Fatal("reader never finished")
	}
}

// TestPipeReadBlocksUntilWriteEndCloses checks the empty-ring-with-writer-
// attached half: a reader blocks until either data arrives or the last
// write end closes, at which point it sees EOF (n==0, no error).
func TestPipeReadBlocksUntilWriteEndCloses(t *testing.T) {
	h := newPipeHarness(t, 2)
	p, _, _ := file.NewPipe()

	eofCh := make(chan opResult, 1)
	readerBody := func(ctx context.Context, _ *proc.Process) int {
		buf := make([]byte, 16)
		n, err := p.Read(ctx, buf)
		proc.Exit(ctx, 0)
		eofCh <- opResult{n: n, err: err}
		return 0
	}
	h.spawn(t, "reader", readerBody)

	select {
	case <-eofCh:
		t.Fatal("reader must not return before the write end closes")
	case <-time.After(100 * time.Millisecond):
	}

	closerBody := func(ctx context.Context, _ *proc.Process) int {
		p.CloseEnd(ctx, true)
		proc.Exit(ctx, 0)
		return 0
	}
	h.spawn(t, "closer", closerBody)

	select {
	case res := <-eofCh:
		require.Zero(t, res.err)
		require.Zero(t, res.n, "a closed write end with nothing buffered must read as EOF")
	case <-time.After(5 * time.Second):
		t.Fatal("closing the write end never woke the blocked reader")
	}
}

// TestPipeWriteToClosedReadEndReturnsEPIPE checks the write side of the
// broken-pipe invariant: once every read end has closed, a blocked or
// fresh write fails with EPIPE instead of hanging.
func TestPipeWriteToClosedReadEndReturnsEPIPE(t *testing.T) {
	h := newPipeHarness(t, 1)
	p, _, _ := file.NewPipe()

	closeCtx := cpu.WithCPU(context.Background(), cpu.NewCPU(99))
	p.CloseEnd(closeCtx, false)

	resultCh := make(chan opResult, 1)
	writerBody := func(ctx context.Context, _ *proc.Process) int {
		n, err := p.Write(ctx, []byte("x"))
		proc.Exit(ctx, 0)
		resultCh <- opResult{n: n, err: err}
		return 0
	}
	h.spawn(t, "writer", writerBody)

	select {
	case res := <-resultCh:
		require.Equal(t, defs.EPIPE, res.err)
	case <-time.After(5 * time.Second):
		t.Fatal("write to a pipe with no open read end must return promptly with EPIPE")
	}
}
