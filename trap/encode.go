package trap

import "rv6/defs"

// statSize is the wire size of defs.Stat_t as copied to user memory:
// dev(4) + ino(4) + type(2) + nlink(2) + size(8).
const statSize = 4 + 4 + 2 + 2 + 8

func putLe32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putLe16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putLe64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// encodeStat serializes st in the same field order defs.Stat_t declares
// it, for the fstat syscall's CopyOut.
func encodeStat(st defs.Stat_t) []byte {
	b := make([]byte, statSize)
	putLe32(b[0:4], st.Dev)
	putLe32(b[4:8], st.Ino)
	putLe16(b[8:10], uint16(st.Type))
	putLe16(b[10:12], st.Nlink)
	putLe64(b[12:20], st.Size)
	return b
}
