package storage

import "github.com/garvkuiuc/riscv-unix-kernel/defs"

// MemStorage is an in-memory Storage, used by tests that exercise the
// cache and filesystem layers without touching a host file.
type MemStorage struct {
	blksz int
	data  []byte
}

// NewMemStorage returns a MemStorage of nblocks blocks, each sized blksz,
// zero-filled.
func NewMemStorage(nblocks, blksz int) *MemStorage {
	return &MemStorage{blksz: blksz, data: make([]byte, nblocks*blksz)}
}

func (s *MemStorage) BlockSize() int    { return s.blksz }
func (s *MemStorage) Open() defs.Err_t  { return 0 }
func (s *MemStorage) Close() defs.Err_t { return 0 }

func (s *MemStorage) checkAligned(pos uint64, n int) defs.Err_t {
	if s.blksz == 0 || pos%uint64(s.blksz) != 0 || n%s.blksz != 0 {
		return defs.EINVAL
	}
	return 0
}

func (s *MemStorage) Fetch(pos uint64, buf []byte) (int, defs.Err_t) {
	if err := s.checkAligned(pos, len(buf)); err != 0 {
		return 0, err
	}
	if int(pos)+len(buf) > len(s.data) {
		return 0, defs.EINVAL
	}
	copy(buf, s.data[pos:int(pos)+len(buf)])
	return len(buf), 0
}

func (s *MemStorage) Store(pos uint64, buf []byte) (int, defs.Err_t) {
	if err := s.checkAligned(pos, len(buf)); err != 0 {
		return 0, err
	}
	if int(pos)+len(buf) > len(s.data) {
		return 0, defs.EINVAL
	}
	copy(s.data[pos:int(pos)+len(buf)], buf)
	return len(buf), 0
}

func (s *MemStorage) Cntl(op int, arg uint64) (uint64, defs.Err_t) {
	switch op {
	case CntlGetSize:
		return uint64(len(s.data)), 0
	default:
		return 0, defs.ENOTSUP
	}
}
