package fs

// Super is the on-disk super block: block 1 of every filesystem image,
// laid out as eight little-endian uint32 fields. Grounded on the
// teacher's own Superblock_t (biscuit/src/fs/super.go), trimmed to the
// xv6-shaped field set this filesystem actually needs (no orphan-inode
// list; orphan cleanup is not a goal here).
type Super struct {
	Magic      uint32 // must equal SuperMagic
	Size       int    // total blocks in the filesystem image
	Nblocks    int    // data blocks
	Ninodes    int    // number of inodes
	Nlog       int    // blocks reserved for the log, including its header
	LogStart   int    // block number of the log's header block
	InodeStart int    // block number of the first inode block
	BmapStart  int    // block number of the free-block bitmap
}

// SuperMagic identifies a block as a valid super block (spec.md §6).
const SuperMagic = 0x10203040

func (s *Super) decode(b *Buf) {
	s.Magic = leU32(b.Data[0:4])
	s.Size = int(leU32(b.Data[4:8]))
	s.Nblocks = int(leU32(b.Data[8:12]))
	s.Ninodes = int(leU32(b.Data[12:16]))
	s.Nlog = int(leU32(b.Data[16:20]))
	s.LogStart = int(leU32(b.Data[20:24]))
	s.InodeStart = int(leU32(b.Data[24:28]))
	s.BmapStart = int(leU32(b.Data[28:32]))
}

func (s *Super) encode(b *Buf) {
	putLeU32(b.Data[0:4], s.Magic)
	putLeU32(b.Data[4:8], uint32(s.Size))
	putLeU32(b.Data[8:12], uint32(s.Nblocks))
	putLeU32(b.Data[12:16], uint32(s.Ninodes))
	putLeU32(b.Data[16:20], uint32(s.Nlog))
	putLeU32(b.Data[20:24], uint32(s.LogStart))
	putLeU32(b.Data[24:28], uint32(s.InodeStart))
	putLeU32(b.Data[28:32], uint32(s.BmapStart))
}

// InodesPerBlock is how many on-disk inode records (each DinodeSize
// bytes) fit in one BSIZE block.
const InodesPerBlock = BSIZE / DinodeSize

func (s *Super) inodeBlock(inum int) int {
	return s.InodeStart + inum/InodesPerBlock
}

func (s *Super) bitmapBlockFor(block int) int {
	return s.BmapStart + block/(BSIZE*8)
}
