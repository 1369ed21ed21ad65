package ktfs

import (
	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/thread"
)

// FileUio is an open regular file: a cursor into one inode's data, guarded
// by its own lock so concurrent readers/writers on the same open instance
// don't race on pos.
type FileUio struct {
	m        *Mount
	ino      uint16
	fileLock *thread.Lock
	pos      uint64
}

func (f *FileUio) Read(buf []byte) (int, defs.Err_t) {
	f.m.mgr.Acquire(f.fileLock)
	defer f.m.mgr.Release(f.fileLock)
	return f.m.read(f, buf)
}

// Write takes the mount's lock before the file's own, mount-before-file,
// since a write that allocates through a hole mutates the shared data
// bitmap and must serialize against every other mount operation that
// touches it.
func (f *FileUio) Write(buf []byte) (int, defs.Err_t) {
	f.m.mgr.Acquire(f.m.mountLock)
	defer f.m.mgr.Release(f.m.mountLock)
	f.m.mgr.Acquire(f.fileLock)
	defer f.m.mgr.Release(f.fileLock)
	return f.m.write(f, buf)
}

// Cntl implements the FCNTL_GET/SETEND and GET/SETPOS family. SETEND only
// ever changes the recorded size; a grow reads back as holes (zero-filled)
// the same way a sparse write would, so no blocks are allocated until
// something is actually written into the new range.
func (f *FileUio) Cntl(op int, arg uint64) (uint64, defs.Err_t) {
	f.m.mgr.Acquire(f.fileLock)
	defer f.m.mgr.Release(f.fileLock)

	switch op {
	case defs.FCNTL_GETEND:
		ino, err := f.m.readInode(f.ino)
		if err != 0 {
			return 0, err
		}
		return uint64(ino.Size), 0
	case defs.FCNTL_SETEND:
		if arg > uint64(MaxFileSize) {
			return 0, defs.EINVAL
		}
		ino, err := f.m.readInode(f.ino)
		if err != 0 {
			return 0, err
		}
		ino.Size = uint32(arg)
		if err := f.m.writeInode(f.ino, &ino); err != 0 {
			return 0, err
		}
		return 0, 0
	case defs.FCNTL_GETPOS:
		return f.pos, 0
	case defs.FCNTL_SETPOS:
		f.pos = arg
		return 0, 0
	default:
		return 0, defs.ENOTSUP
	}
}

func (f *FileUio) Close() defs.Err_t { return 0 }

// dirListing is a snapshot, taken at open time, of every live entry's name
// in the root directory. A read copies one name at a time into buf; the
// snapshot means entries created or deleted after open don't perturb an
// in-progress walk.
type dirListing struct {
	names []string
	idx   int
}

func newDirListing(m *Mount) (*dirListing, defs.Err_t) {
	m.mgr.Acquire(m.mountLock)
	defer m.mgr.Release(m.mountLock)

	rootIno, err := m.readInode(m.sb.RootDirectoryInode)
	if err != 0 {
		return nil, err
	}
	numEntries := rootIno.Size / DirEntSize
	names := make([]string, 0, numEntries)
	for i := uint32(0); i < numEntries; i++ {
		de, err := m.readDirEntry(&rootIno, i)
		if err != 0 {
			return nil, err
		}
		if de.Inode != 0 {
			names = append(names, de.nameString())
		}
	}
	return &dirListing{names: names}, 0
}

// Read copies the next live name into buf and advances past it. It returns
// (0, 0) once every name has been returned.
func (d *dirListing) Read(buf []byte) (int, defs.Err_t) {
	if d.idx >= len(d.names) {
		return 0, 0
	}
	n := copy(buf, d.names[d.idx])
	d.idx++
	return n, 0
}

func (d *dirListing) Write(buf []byte) (int, defs.Err_t) { return 0, defs.ENOTSUP }

// Cntl answers GETPOS/SETPOS/GETEND against the walk's own idx, the same
// way a regular file answers them against its byte offset/size — a
// listing can be fstat'd mid-walk. SETEND has no meaning for a fixed
// snapshot and is not supported.
func (d *dirListing) Cntl(op int, arg uint64) (uint64, defs.Err_t) {
	switch op {
	case defs.FCNTL_GETEND:
		return uint64(len(d.names)), 0
	case defs.FCNTL_GETPOS:
		return uint64(d.idx), 0
	case defs.FCNTL_SETPOS:
		if arg > uint64(len(d.names)) {
			return 0, defs.EINVAL
		}
		d.idx = int(arg)
		return 0, 0
	default:
		return 0, defs.ENOTSUP
	}
}

func (d *dirListing) Close() defs.Err_t { return 0 }
