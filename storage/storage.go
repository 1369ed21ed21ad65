// Package storage defines the block-device contract the cache reads and
// writes through, plus a minimal file-backed implementation that stands
// in for a VirtIO-blk device: no real kernel can run this module without
// real hardware, so a host file plays the role of the backing disk.
package storage

import (
	"io"
	"os"
	"sync"

	"github.com/garvkuiuc/riscv-unix-kernel/defs"
)

// Cntl operation codes, shared with the uio fcntl surface where a storage
// is exposed directly as a device uio.
const (
	CntlGetSize = 0
)

// Storage is the block device contract: block-aligned, block-sized
// transfers only. Fetch/Store return bytes transferred, or a negative
// error; a short transfer is reported as EIO.
type Storage interface {
	BlockSize() int
	Open() defs.Err_t
	Close() defs.Err_t
	Fetch(pos uint64, buf []byte) (int, defs.Err_t)
	Store(pos uint64, buf []byte) (int, defs.Err_t)
	Cntl(op int, arg uint64) (uint64, defs.Err_t)
}

// FileStorage backs a Storage with a host file, opened once and kept
// open for the lifetime of the mount.
type FileStorage struct {
	blksz int
	path  string

	mu   sync.Mutex
	file *os.File
}

// NewFileStorage returns a FileStorage over path with the given block
// size. The file is not opened until Open is called.
func NewFileStorage(path string, blksz int) *FileStorage {
	return &FileStorage{blksz: blksz, path: path}
}

func (s *FileStorage) BlockSize() int { return s.blksz }

// Open opens the backing file for read/write, creating it if absent.
func (s *FileStorage) Open() defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return defs.EBUSY
	}
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return defs.EIO
	}
	s.file = f
	return 0
}

func (s *FileStorage) Close() defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return 0
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return defs.EIO
	}
	return 0
}

func (s *FileStorage) checkAligned(pos uint64, n int) defs.Err_t {
	if s.blksz == 0 || pos%uint64(s.blksz) != 0 || n%s.blksz != 0 {
		return defs.EINVAL
	}
	return 0
}

// Fetch reads len(buf) bytes starting at pos, both multiples of the
// block size. Reading past EOF is treated as a hole and zero-filled,
// since a freshly-created image is sized by Cntl(GETEND) rather than by
// every block having been written.
func (s *FileStorage) Fetch(pos uint64, buf []byte) (int, defs.Err_t) {
	if err := s.checkAligned(pos, len(buf)); err != 0 {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return 0, defs.ENOTSUP
	}
	n, err := s.file.ReadAt(buf, int64(pos))
	if err != nil && err != io.EOF {
		return n, defs.EIO
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return len(buf), 0
}

// Store writes len(buf) bytes at pos, both multiples of the block size.
func (s *FileStorage) Store(pos uint64, buf []byte) (int, defs.Err_t) {
	if err := s.checkAligned(pos, len(buf)); err != 0 {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return 0, defs.ENOTSUP
	}
	n, err := s.file.WriteAt(buf, int64(pos))
	if err != nil {
		return n, defs.EIO
	}
	if n != len(buf) {
		return n, defs.EIO
	}
	return n, 0
}

// Cntl implements CntlGetSize (current file size in bytes); any other op
// is not supported by this backend.
func (s *FileStorage) Cntl(op int, arg uint64) (uint64, defs.Err_t) {
	switch op {
	case CntlGetSize:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.file == nil {
			return 0, defs.ENOTSUP
		}
		info, err := s.file.Stat()
		if err != nil {
			return 0, defs.EIO
		}
		return uint64(info.Size()), 0
	default:
		return 0, defs.ENOTSUP
	}
}
