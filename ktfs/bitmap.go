package ktfs

import "github.com/garvkuiuc/riscv-unix-kernel/defs"

type bitmapKind int

const (
	bitmapInode bitmapKind = iota
	bitmapData
)

// bitmapBounds returns the absolute block where kind's bitmap begins, the
// number of blocks it spans, and the total number of addressable bits.
func (m *Mount) bitmapBounds(kind bitmapKind) (start uint32, blocks uint32, totalBits uint32) {
	switch kind {
	case bitmapInode:
		return m.l.inodeBitmapStart, m.sb.InodeBitmapBlockCount, m.sb.InodeBlockCount * inodesPerBlock
	default:
		return m.l.dataBitmapStart, m.sb.BitmapBlockCount, m.sb.BitmapBlockCount * BlockSize * 8
	}
}

// findFree performs a first-fit bit scan for a free (zero) bit, skipping
// metadata-region bits in the data bitmap (bits below dataStart name
// blocks that are never data blocks). Returns -ENODATABLKS/-ENOINODEBLKS
// if none is free.
func (m *Mount) findFree(kind bitmapKind) (uint32, defs.Err_t) {
	start, blocks, totalBits := m.bitmapBounds(kind)
	firstBit := uint32(0)
	if kind == bitmapData {
		firstBit = m.l.dataStart
	}

	for blk := uint32(0); blk < blocks; blk++ {
		blockBase := blk * BlockSize * 8
		if blockBase+BlockSize*8 <= firstBit {
			continue
		}
		buf, err := m.cache.GetBlock(uint64(start+blk) * BlockSize)
		if err != 0 {
			return 0, err
		}
		for byteIdx := 0; byteIdx < BlockSize; byteIdx++ {
			base := blockBase + uint32(byteIdx)*8
			if base+8 <= firstBit {
				continue
			}
			b := buf[byteIdx]
			for bit := 0; bit < 8; bit++ {
				idx := base + uint32(bit)
				if idx < firstBit || idx >= totalBits {
					continue
				}
				if b&(1<<uint(bit)) == 0 {
					m.cache.ReleaseBlock(buf, false)
					return idx, 0
				}
			}
		}
		m.cache.ReleaseBlock(buf, false)
	}
	if kind == bitmapInode {
		return 0, defs.ENOINODEBLKS
	}
	return 0, defs.ENODATABLKS
}

// setBit sets or clears bit idx of kind's bitmap, writing through the
// cache with the block marked dirty.
func (m *Mount) setBit(kind bitmapKind, idx uint32, set bool) defs.Err_t {
	start, _, _ := m.bitmapBounds(kind)
	blk := idx / (BlockSize * 8)
	byteIdx := (idx % (BlockSize * 8)) / 8
	bit := idx % 8

	buf, err := m.cache.GetBlock(uint64(start+blk) * BlockSize)
	if err != 0 {
		return err
	}
	if set {
		buf[byteIdx] |= 1 << uint(bit)
	} else {
		buf[byteIdx] &^= 1 << uint(bit)
	}
	m.cache.ReleaseBlock(buf, true)
	return 0
}

func (m *Mount) mark(kind bitmapKind, idx uint32) defs.Err_t   { return m.setBit(kind, idx, true) }
func (m *Mount) unmark(kind bitmapKind, idx uint32) defs.Err_t { return m.setBit(kind, idx, false) }
