// Package ktfs implements the on-disk filesystem this kernel mounts over
// a cache.Cache: a flat root directory, a fixed-size inode table, and
// direct/indirect/double-indirect block mapping, matching the wire format
// a host-side image builder produces.
package ktfs

import (
	"encoding/binary"
)

// BlockSize is the filesystem's block size; it must match cache.BlockSize.
const BlockSize = 512

// InodeSize is the on-disk size of one inode record.
const InodeSize = 32

// DirEntSize is the on-disk size of one directory entry.
const DirEntSize = 16

// MaxNameLen is the longest name a directory entry can hold, excluding
// the trailing NUL.
const MaxNameLen = 13

const (
	NumDirect    = 4
	NumIndirect  = 1
	NumDindirect = 2
)

// entriesPerBlock is how many uint32 block indices fit in one block.
const entriesPerBlock = BlockSize / 4

// MaxFileSize is the largest file this layout can address: direct blocks,
// plus one indirect block's worth, plus two double-indirect blocks' worth.
const MaxFileSize = NumDirect*BlockSize +
	NumIndirect*entriesPerBlock*BlockSize +
	NumDindirect*entriesPerBlock*entriesPerBlock*BlockSize

// inodesPerBlock is how many packed inode records fit in one block.
const inodesPerBlock = BlockSize / InodeSize

// Superblock is the filesystem's first block: layout parameters plus the
// root directory's inode number.
type Superblock struct {
	BlockCount            uint32
	InodeBitmapBlockCount uint32
	BitmapBlockCount      uint32
	InodeBlockCount       uint32
	RootDirectoryInode    uint16
}

// EncodeSuperblock packs sb into a fresh, zero-padded block.
func EncodeSuperblock(sb *Superblock) [BlockSize]byte {
	var buf [BlockSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], sb.BlockCount)
	binary.LittleEndian.PutUint32(buf[4:8], sb.InodeBitmapBlockCount)
	binary.LittleEndian.PutUint32(buf[8:12], sb.BitmapBlockCount)
	binary.LittleEndian.PutUint32(buf[12:16], sb.InodeBlockCount)
	binary.LittleEndian.PutUint16(buf[16:18], sb.RootDirectoryInode)
	return buf
}

// DecodeSuperblock unpacks a Superblock from the first bytes of buf.
func DecodeSuperblock(buf []byte) Superblock {
	return Superblock{
		BlockCount:            binary.LittleEndian.Uint32(buf[0:4]),
		InodeBitmapBlockCount: binary.LittleEndian.Uint32(buf[4:8]),
		BitmapBlockCount:      binary.LittleEndian.Uint32(buf[8:12]),
		InodeBlockCount:       binary.LittleEndian.Uint32(buf[12:16]),
		RootDirectoryInode:    binary.LittleEndian.Uint16(buf[16:18]),
	}
}

// layout holds the absolute block anchors derived from a superblock.
type layout struct {
	inodeBitmapStart uint32
	dataBitmapStart  uint32
	inodeTableStart  uint32
	dataStart        uint32
}

func computeLayout(sb *Superblock) layout {
	l := layout{inodeBitmapStart: 1}
	l.dataBitmapStart = l.inodeBitmapStart + sb.InodeBitmapBlockCount
	l.inodeTableStart = l.dataBitmapStart + sb.BitmapBlockCount
	l.dataStart = l.inodeTableStart + sb.InodeBlockCount
	return l
}
