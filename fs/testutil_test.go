package fs

import "sync"

// MemDisk is an in-memory Disk_i backing store for tests: a fixed-size
// slice of BSIZE-byte blocks standing in for virtio.Disk's host file, so
// filesystem tests never touch the filesystem under test's own host.
type MemDisk struct {
	mu     sync.Mutex
	blocks [][]byte
}

// NewMemDisk returns an empty disk; Truncate must be called (directly, or
// via MkfsImage) before it holds any blocks.
func NewMemDisk() *MemDisk { return &MemDisk{} }

func (d *MemDisk) Truncate(nblocks int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	blocks := make([][]byte, nblocks)
	for i := range blocks {
		if i < len(d.blocks) {
			blocks[i] = d.blocks[i]
		} else {
			blocks[i] = make([]byte, BSIZE)
		}
	}
	d.blocks = blocks
	return nil
}

func (d *MemDisk) ReadBlock(block int, dst []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(dst, d.blocks[block])
}

func (d *MemDisk) WriteBlock(block int, src []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	copy(d.blocks[block], src)
}

// Snapshot copies every block's current bytes out, for crash-simulation
// tests that need to save disk state at a precise point and compare
// against it later.
func (d *MemDisk) Snapshot() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.blocks))
	for i, b := range d.blocks {
		cp := make([]byte, len(b))
		copy(cp, b)
		out[i] = cp
	}
	return out
}
