// Package pageid defines the opaque page identifier shared by every
// tier of the buffer manager.
package pageid

import "math"

// PageID packs a heap-file index into the high 32 bits and a page
// offset within that file into the low 32 bits.
type PageID uint64

// Invalid is the sentinel denoting "no page".
const Invalid PageID = math.MaxUint64

func New(fileNo, offsetInFile uint32) PageID {
	return PageID(uint64(fileNo)<<32 | uint64(offsetInFile))
}

func (p PageID) FileNo() uint32 {
	return uint32(uint64(p) >> 32)
}

func (p PageID) OffsetInFile() uint32 {
	return uint32(uint64(p) & 0xffffffff)
}

func (p PageID) Valid() bool { return p != Invalid }

// ShardHash spreads pids across the mapping table's shards with a
// 64-bit finalizer mix over the whole id, so the file and offset
// halves are mixed together and adjacent pids land far apart.
func (p PageID) ShardHash() uint64 {
	x := uint64(p)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return x
}
