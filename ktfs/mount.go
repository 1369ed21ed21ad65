package ktfs

import (
	"github.com/garvkuiuc/riscv-unix-kernel/cache"
	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/thread"
	"github.com/garvkuiuc/riscv-unix-kernel/uio"
)

// dirEntriesPerBlock is how many directory entries pack into one block of
// the root directory's data.
const dirEntriesPerBlock = BlockSize / DirEntSize

// Mount is a mounted filesystem: a superblock, its derived layout, and the
// cache it reads and writes through. mountLock serializes every operation
// that touches the root directory or either bitmap, since those are shared
// mutable structures with no per-entry locking of their own. Where an
// operation needs both mountLock and a FileUio's own fileLock, mountLock is
// always taken first — lock order is mount-before-file.
type Mount struct {
	mgr   *thread.Manager
	cache *cache.Cache

	mountLock *thread.Lock
	sb        Superblock
	l         layout
}

// NewMount reads the superblock from block 0 of c and returns a Mount
// ready to serve Open/Create/Delete.
func NewMount(mgr *thread.Manager, c *cache.Cache) (*Mount, defs.Err_t) {
	buf, err := c.GetBlock(0)
	if err != 0 {
		return nil, err
	}
	sb := DecodeSuperblock(buf[:])
	c.ReleaseBlock(buf, false)

	m := &Mount{
		mgr:       mgr,
		cache:     c,
		mountLock: thread.NewLock(),
		sb:        sb,
		l:         computeLayout(&sb),
	}
	return m, 0
}

func (m *Mount) readInode(ino uint16) (Inode, defs.Err_t) {
	blk := uint32(ino) / inodesPerBlock
	off := (uint32(ino) % inodesPerBlock) * InodeSize

	buf, err := m.cache.GetBlock(uint64(m.l.inodeTableStart+blk) * BlockSize)
	if err != 0 {
		return Inode{}, err
	}
	in := DecodeInode(buf[off : off+InodeSize])
	m.cache.ReleaseBlock(buf, false)
	return in, 0
}

func (m *Mount) writeInode(ino uint16, in *Inode) defs.Err_t {
	blk := uint32(ino) / inodesPerBlock
	off := (uint32(ino) % inodesPerBlock) * InodeSize

	buf, err := m.cache.GetBlock(uint64(m.l.inodeTableStart+blk) * BlockSize)
	if err != 0 {
		return err
	}
	enc := EncodeInode(in)
	copy(buf[off:off+InodeSize], enc[:])
	m.cache.ReleaseBlock(buf, true)
	return 0
}

// readDirEntry reads logical entry idx of rootIno's directory data. A hole
// (never-allocated block) reads back as the zero entry, i.e. an unused slot.
func (m *Mount) readDirEntry(rootIno *Inode, idx uint32) (DirEntry, defs.Err_t) {
	lbn := idx / dirEntriesPerBlock
	off := (idx % dirEntriesPerBlock) * DirEntSize

	abs, err := m.mapBlock(rootIno, lbn)
	if err == defs.ENOENT {
		return DirEntry{}, 0
	}
	if err != 0 {
		return DirEntry{}, err
	}
	buf, err := m.cache.GetBlock(uint64(abs) * BlockSize)
	if err != 0 {
		return DirEntry{}, err
	}
	de := DecodeDirEntry(buf[off : off+DirEntSize])
	m.cache.ReleaseBlock(buf, false)
	return de, 0
}

// writeDirEntry writes logical entry idx of rootIno's directory data,
// allocating a block if idx falls in a hole. rootIno is mutated in place by
// the underlying allocation; the caller persists it afterward.
func (m *Mount) writeDirEntry(rootIno *Inode, idx uint32, de DirEntry) defs.Err_t {
	lbn := idx / dirEntriesPerBlock
	off := (idx % dirEntriesPerBlock) * DirEntSize

	abs, err := m.mapOrAllocate(rootIno, lbn)
	if err != 0 {
		return err
	}
	buf, err := m.cache.GetBlock(uint64(abs) * BlockSize)
	if err != 0 {
		return err
	}
	enc := EncodeDirEntry(&de)
	copy(buf[off:off+DirEntSize], enc[:])
	m.cache.ReleaseBlock(buf, true)
	return 0
}

// Open resolves name against the root directory. The empty name or "/"
// opens a listing of every live entry instead of a file.
func (m *Mount) Open(name string) (uio.Uio, defs.Err_t) {
	if len(name) > MaxNameLen {
		return nil, defs.ENAMETOOLONG
	}
	if name == "" || name == "/" {
		return newDirListing(m)
	}

	m.mgr.Acquire(m.mountLock)
	defer m.mgr.Release(m.mountLock)

	rootIno, err := m.readInode(m.sb.RootDirectoryInode)
	if err != 0 {
		return nil, err
	}
	numEntries := rootIno.Size / DirEntSize
	for i := uint32(0); i < numEntries; i++ {
		de, err := m.readDirEntry(&rootIno, i)
		if err != 0 {
			return nil, err
		}
		if de.Inode != 0 && de.nameString() == name {
			return &FileUio{m: m, ino: de.Inode, fileLock: thread.NewLock()}, 0
		}
	}
	return nil, defs.ENOENT
}

// Create adds a fresh, empty file named name to the root directory. It
// fails with EEXIST if the name is already taken, reusing a vacated
// directory entry slot where one exists before growing the directory.
func (m *Mount) Create(name string) defs.Err_t {
	if name == "" || len(name) > MaxNameLen {
		return defs.ENAMETOOLONG
	}
	m.mgr.Acquire(m.mountLock)
	defer m.mgr.Release(m.mountLock)

	rootIno, err := m.readInode(m.sb.RootDirectoryInode)
	if err != 0 {
		return err
	}
	numEntries := rootIno.Size / DirEntSize

	freeIdx := numEntries
	for i := uint32(0); i < numEntries; i++ {
		de, err := m.readDirEntry(&rootIno, i)
		if err != 0 {
			return err
		}
		if de.Inode == 0 {
			if freeIdx == numEntries {
				freeIdx = i
			}
			continue
		}
		if de.nameString() == name {
			return defs.EEXIST
		}
	}

	inoIdx, err := m.findFree(bitmapInode)
	if err != 0 {
		return err
	}
	if err := m.mark(bitmapInode, inoIdx); err != 0 {
		return err
	}
	var blank Inode
	if err := m.writeInode(uint16(inoIdx), &blank); err != 0 {
		return err
	}

	if err := m.writeDirEntry(&rootIno, freeIdx, makeDirEntry(uint16(inoIdx), name)); err != 0 {
		return err
	}
	if freeIdx == numEntries {
		rootIno.Size += DirEntSize
	}
	return m.writeInode(m.sb.RootDirectoryInode, &rootIno)
}

// Delete removes name from the root directory, releasing its inode and
// every data block it reaches. The directory is kept dense by swapping the
// last live entry into the vacated slot and shrinking by one entry.
func (m *Mount) Delete(name string) defs.Err_t {
	if name == "" || len(name) > MaxNameLen {
		return defs.ENAMETOOLONG
	}
	m.mgr.Acquire(m.mountLock)
	defer m.mgr.Release(m.mountLock)

	rootIno, err := m.readInode(m.sb.RootDirectoryInode)
	if err != 0 {
		return err
	}
	numEntries := rootIno.Size / DirEntSize

	foundIdx := numEntries
	var foundDe DirEntry
	for i := uint32(0); i < numEntries; i++ {
		de, err := m.readDirEntry(&rootIno, i)
		if err != 0 {
			return err
		}
		if de.Inode != 0 && de.nameString() == name {
			foundIdx = i
			foundDe = de
			break
		}
	}
	if foundIdx == numEntries {
		return defs.ENOENT
	}

	targetIno, err := m.readInode(foundDe.Inode)
	if err != 0 {
		return err
	}
	if err := m.freeInodeBlocks(&targetIno); err != 0 {
		return err
	}
	if err := m.unmark(bitmapInode, uint32(foundDe.Inode)); err != 0 {
		return err
	}
	var blank Inode
	if err := m.writeInode(foundDe.Inode, &blank); err != 0 {
		return err
	}

	lastIdx := numEntries - 1
	if foundIdx != lastIdx {
		lastDe, err := m.readDirEntry(&rootIno, lastIdx)
		if err != 0 {
			return err
		}
		if err := m.writeDirEntry(&rootIno, foundIdx, lastDe); err != 0 {
			return err
		}
	}
	rootIno.Size -= DirEntSize
	return m.writeInode(m.sb.RootDirectoryInode, &rootIno)
}

// read implements FileUio.Read: clamp to the inode's size, zero-fill holes,
// and advance f.pos by the number of bytes actually produced. Called with
// only f's own fileLock held — a read never touches the root directory or
// either bitmap, so it has no business serializing against them.
func (m *Mount) read(f *FileUio, buf []byte) (int, defs.Err_t) {
	ino, err := m.readInode(f.ino)
	if err != 0 {
		return 0, err
	}
	if f.pos >= uint64(ino.Size) {
		return 0, 0
	}

	remaining := uint64(ino.Size) - f.pos
	n := uint64(len(buf))
	if n > remaining {
		n = remaining
	}

	written := uint64(0)
	for written < n {
		lbn := uint32((f.pos + written) / BlockSize)
		off := (f.pos + written) % BlockSize
		count := uint64(BlockSize) - off
		if count > n-written {
			count = n - written
		}

		abs, err := m.mapBlock(&ino, lbn)
		switch {
		case err == defs.ENOENT:
			for i := uint64(0); i < count; i++ {
				buf[written+i] = 0
			}
		case err != 0:
			return int(written), err
		default:
			blk, err := m.cache.GetBlock(uint64(abs) * BlockSize)
			if err != 0 {
				return int(written), err
			}
			copy(buf[written:written+count], blk[off:off+count])
			m.cache.ReleaseBlock(blk, false)
		}
		written += count
	}
	f.pos += written
	return int(written), 0
}

// write implements FileUio.Write: clamp to MaxFileSize, allocate through
// holes, and grow the inode's recorded size when the write extends it.
// Called with the mount's mountLock already held (before f's fileLock, per
// the mount-before-file lock order), since allocating through a hole
// mutates the shared data bitmap.
func (m *Mount) write(f *FileUio, buf []byte) (int, defs.Err_t) {
	ino, err := m.readInode(f.ino)
	if err != 0 {
		return 0, err
	}
	if f.pos >= uint64(MaxFileSize) {
		return 0, 0
	}

	remaining := uint64(MaxFileSize) - f.pos
	n := uint64(len(buf))
	if n > remaining {
		n = remaining
	}

	written := uint64(0)
	for written < n {
		lbn := uint32((f.pos + written) / BlockSize)
		off := (f.pos + written) % BlockSize
		count := uint64(BlockSize) - off
		if count > n-written {
			count = n - written
		}

		abs, err := m.mapOrAllocate(&ino, lbn)
		if err != 0 {
			return int(written), err
		}
		blk, err := m.cache.GetBlock(uint64(abs) * BlockSize)
		if err != 0 {
			return int(written), err
		}
		copy(blk[off:off+count], buf[written:written+count])
		m.cache.ReleaseBlock(blk, true)
		written += count
	}
	f.pos += written
	if f.pos > uint64(ino.Size) {
		ino.Size = uint32(f.pos)
	}
	if err := m.writeInode(f.ino, &ino); err != 0 {
		return int(written), err
	}
	return int(written), 0
}

// Flush writes every dirty cached block back to storage.
func (m *Mount) Flush() defs.Err_t {
	return m.cache.Flush()
}
