package ktfs

import (
	"encoding/binary"

	"github.com/garvkuiuc/riscv-unix-kernel/defs"
)

// Stored block indices are biased by one so that zero unambiguously means
// "hole": index 0 in any table never needs to represent the very first
// data block, even though relative indices (abs - dataStart) otherwise
// start at zero for that block. storedFromAbs/absFromStored convert
// between the two.
func (m *Mount) storedFromAbs(abs uint32) uint32    { return abs - m.l.dataStart + 1 }
func (m *Mount) absFromStored(stored uint32) uint32 { return m.l.dataStart + stored - 1 }

// mapBlock translates a logical block number within a file to an
// absolute disk block, without allocating. Returns ENOENT for a hole.
func (m *Mount) mapBlock(ino *Inode, lbn uint32) (uint32, defs.Err_t) {
	if lbn < NumDirect {
		stored := ino.Block[lbn]
		if stored == 0 {
			return 0, defs.ENOENT
		}
		return m.absFromStored(stored), 0
	}
	lbn -= NumDirect

	if lbn < entriesPerBlock {
		if ino.Indirect == 0 {
			return 0, defs.ENOENT
		}
		stored, err := m.readTableEntry(ino.Indirect, lbn)
		if err != 0 {
			return 0, err
		}
		if stored == 0 {
			return 0, defs.ENOENT
		}
		return m.absFromStored(stored), 0
	}
	lbn -= entriesPerBlock

	width := uint32(entriesPerBlock) * entriesPerBlock
	for i := 0; i < NumDindirect; i++ {
		if lbn < width {
			if ino.Dindirect[i] == 0 {
				return 0, defs.ENOENT
			}
			l1idx := lbn / entriesPerBlock
			l2idx := lbn % entriesPerBlock
			l1entry, err := m.readTableEntry(ino.Dindirect[i], l1idx)
			if err != 0 {
				return 0, err
			}
			if l1entry == 0 {
				return 0, defs.ENOENT
			}
			l2entry, err := m.readTableEntry(l1entry, l2idx)
			if err != 0 {
				return 0, err
			}
			if l2entry == 0 {
				return 0, defs.ENOENT
			}
			return m.absFromStored(l2entry), 0
		}
		lbn -= width
	}
	return 0, defs.ENOENT
}

// readTableEntry reads entry idx of the indirect/dindirect table block
// whose stored (biased) index is tableStored.
func (m *Mount) readTableEntry(tableStored uint32, idx uint32) (uint32, defs.Err_t) {
	abs := m.absFromStored(tableStored)
	buf, err := m.cache.GetBlock(uint64(abs) * BlockSize)
	if err != 0 {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(buf[idx*4 : idx*4+4])
	m.cache.ReleaseBlock(buf, false)
	return v, 0
}

func (m *Mount) writeTableEntry(tableStored uint32, idx uint32, val uint32) defs.Err_t {
	abs := m.absFromStored(tableStored)
	buf, err := m.cache.GetBlock(uint64(abs) * BlockSize)
	if err != 0 {
		return err
	}
	binary.LittleEndian.PutUint32(buf[idx*4:idx*4+4], val)
	m.cache.ReleaseBlock(buf, true)
	return 0
}

// allocDataBlock finds a free data block, marks it in use, zero-fills it,
// and returns its stored (biased) index.
func (m *Mount) allocDataBlock() (uint32, defs.Err_t) {
	abs, err := m.findFree(bitmapData)
	if err != 0 {
		return 0, err
	}
	if err := m.mark(bitmapData, abs); err != 0 {
		return 0, err
	}
	buf, err := m.cache.GetBlock(uint64(abs) * BlockSize)
	if err != 0 {
		return 0, err
	}
	for i := range buf {
		buf[i] = 0
	}
	m.cache.ReleaseBlock(buf, true)
	return m.storedFromAbs(abs), 0
}

// mapOrAllocate is mapBlock's allocating counterpart: it chains table
// allocations from the top down, writing zero-initialized table blocks
// and storing biased relative indices, and never produces a hole.
// ino is mutated in place (Block/Indirect/Dindirect); the caller persists
// it afterward.
func (m *Mount) mapOrAllocate(ino *Inode, lbn uint32) (uint32, defs.Err_t) {
	if lbn < NumDirect {
		if ino.Block[lbn] == 0 {
			stored, err := m.allocDataBlock()
			if err != 0 {
				return 0, err
			}
			ino.Block[lbn] = stored
		}
		return m.absFromStored(ino.Block[lbn]), 0
	}
	lbn -= NumDirect

	if lbn < entriesPerBlock {
		if ino.Indirect == 0 {
			stored, err := m.allocDataBlock()
			if err != 0 {
				return 0, err
			}
			ino.Indirect = stored
		}
		entry, err := m.readTableEntry(ino.Indirect, lbn)
		if err != 0 {
			return 0, err
		}
		if entry == 0 {
			dataStored, err := m.allocDataBlock()
			if err != 0 {
				return 0, err
			}
			if err := m.writeTableEntry(ino.Indirect, lbn, dataStored); err != 0 {
				return 0, err
			}
			entry = dataStored
		}
		return m.absFromStored(entry), 0
	}
	lbn -= entriesPerBlock

	width := uint32(entriesPerBlock) * entriesPerBlock
	for i := 0; i < NumDindirect; i++ {
		if lbn < width {
			if ino.Dindirect[i] == 0 {
				stored, err := m.allocDataBlock()
				if err != 0 {
					return 0, err
				}
				ino.Dindirect[i] = stored
			}
			l1idx := lbn / entriesPerBlock
			l2idx := lbn % entriesPerBlock

			l1entry, err := m.readTableEntry(ino.Dindirect[i], l1idx)
			if err != 0 {
				return 0, err
			}
			if l1entry == 0 {
				stored, err := m.allocDataBlock()
				if err != 0 {
					return 0, err
				}
				if err := m.writeTableEntry(ino.Dindirect[i], l1idx, stored); err != 0 {
					return 0, err
				}
				l1entry = stored
			}

			l2entry, err := m.readTableEntry(l1entry, l2idx)
			if err != 0 {
				return 0, err
			}
			if l2entry == 0 {
				stored, err := m.allocDataBlock()
				if err != 0 {
					return 0, err
				}
				if err := m.writeTableEntry(l1entry, l2idx, stored); err != 0 {
					return 0, err
				}
				l2entry = stored
			}
			return m.absFromStored(l2entry), 0
		}
		lbn -= width
	}
	return 0, defs.EINVAL
}

// freeInodeBlocks releases every data block an inode reaches: its direct
// blocks, the blocks an indirect table points at plus the table block
// itself, and the same two levels for each double-indirect table.
func (m *Mount) freeInodeBlocks(ino *Inode) defs.Err_t {
	for _, stored := range ino.Block {
		if stored != 0 {
			if err := m.unmark(bitmapData, m.absFromStored(stored)); err != 0 {
				return err
			}
		}
	}
	if ino.Indirect != 0 {
		if err := m.freeTable(ino.Indirect, 0); err != 0 {
			return err
		}
	}
	for _, d := range ino.Dindirect {
		if d == 0 {
			continue
		}
		abs := m.absFromStored(d)
		buf, err := m.cache.GetBlock(uint64(abs) * BlockSize)
		if err != 0 {
			return err
		}
		l1entries := make([]uint32, entriesPerBlock)
		for i := range l1entries {
			l1entries[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
		}
		m.cache.ReleaseBlock(buf, false)

		for _, l1 := range l1entries {
			if l1 == 0 {
				continue
			}
			if err := m.freeTable(l1, 0); err != 0 {
				return err
			}
		}
		if err := m.unmark(bitmapData, abs); err != 0 {
			return err
		}
	}
	return 0
}

// freeTable frees every data block a single indirect table (stored index
// tableStored) points at, then the table block itself.
func (m *Mount) freeTable(tableStored uint32, _ int) defs.Err_t {
	abs := m.absFromStored(tableStored)
	buf, err := m.cache.GetBlock(uint64(abs) * BlockSize)
	if err != 0 {
		return err
	}
	entries := make([]uint32, entriesPerBlock)
	for i := range entries {
		entries[i] = binary.LittleEndian.Uint32(buf[i*4 : i*4+4])
	}
	m.cache.ReleaseBlock(buf, false)

	for _, e := range entries {
		if e == 0 {
			continue
		}
		if err := m.unmark(bitmapData, m.absFromStored(e)); err != 0 {
			return err
		}
	}
	return m.unmark(bitmapData, abs)
}
