package vm

import (
	"github.com/garvkuiuc/riscv-unix-kernel/defs"
)

// MaxUserString bounds validate_vstr's NUL search, guarding against a
// malicious or buggy program handing the kernel an unterminated string.
const MaxUserString = 4096

// ValidateVptr walks every page in [vp, vp+len) and returns EACCESS if any
// page is missing, non-leaf, or lacks any bit in flags. It returns EINVAL
// on a malformed range (negative length) or one that overflows the
// canonical address space.
func (as *AddrSpace) ValidateVptr(vp Va_t, length int, flags uint64) defs.Err_t {
	if length < 0 {
		return defs.EINVAL
	}
	if length == 0 {
		return 0
	}
	end := vp + Va_t(length)
	if end < vp || !canonical(vp) || !canonical(end-1) {
		return defs.EINVAL
	}
	first := alignDown(vp)
	last := alignDown(vp + Va_t(length) - 1)
	for pg := first; ; pg += PageSize {
		if err := as.checkPage(pg, flags); err != 0 {
			return err
		}
		if pg == last {
			break
		}
	}
	return 0
}

// ValidateVstr walks the same way as ValidateVptr, but discovers the
// length by reading the already-validated page for a NUL terminator,
// re-validating each new page before touching it. It returns the string's
// byte length (excluding the NUL) on success.
func (as *AddrSpace) ValidateVstr(vs Va_t, flags uint64) (int, defs.Err_t) {
	if !canonical(vs) {
		return 0, defs.EINVAL
	}
	n := 0
	pg := alignDown(vs)
	for {
		if err := as.checkPage(pg, flags); err != 0 {
			return 0, err
		}
		data := as.pageBytes(pg)
		start := 0
		if pg == alignDown(vs) {
			start = int(vs - pg)
		}
		for i := start; i < len(data); i++ {
			if data[i] == 0 {
				return n, 0
			}
			n++
			if n > MaxUserString {
				return 0, defs.EINVAL
			}
		}
		pg += PageSize
	}
}

func alignDown(va Va_t) Va_t {
	return va &^ (PageSize - 1)
}

func (as *AddrSpace) checkPage(pg Va_t, flags uint64) defs.Err_t {
	pte := as.walk(pg, false)
	if pte == nil || !pte.valid() || !pte.leaf() {
		return defs.EACCESS
	}
	if pte.flags()&flags != flags {
		return defs.EACCESS
	}
	return 0
}

func (as *AddrSpace) pageBytes(pg Va_t) []byte {
	pte := as.walk(pg, false)
	return as.mgr.pool.Bytes(pte.pa(), 1)
}

// CopyOut copies src into user memory starting at uva. Every touched page
// is validated for U|W before the copy.
func (as *AddrSpace) CopyOut(uva Va_t, src []byte) defs.Err_t {
	if err := as.ValidateVptr(uva, len(src), PTE_U|PTE_W); err != 0 {
		return err
	}
	off := 0
	for off < len(src) {
		va := uva + Va_t(off)
		pg := alignDown(va)
		data := as.pageBytes(pg)
		pgoff := int(va - pg)
		n := len(data) - pgoff
		if n > len(src)-off {
			n = len(src) - off
		}
		copy(data[pgoff:pgoff+n], src[off:off+n])
		off += n
	}
	return 0
}

// CopyIn copies len(dst) bytes from user memory at uva into dst. Every
// touched page is validated for U|R before the copy.
func (as *AddrSpace) CopyIn(dst []byte, uva Va_t) defs.Err_t {
	if err := as.ValidateVptr(uva, len(dst), PTE_U|PTE_R); err != 0 {
		return err
	}
	off := 0
	for off < len(dst) {
		va := uva + Va_t(off)
		pg := alignDown(va)
		data := as.pageBytes(pg)
		pgoff := int(va - pg)
		n := len(data) - pgoff
		if n > len(dst)-off {
			n = len(dst) - off
		}
		copy(dst[off:off+n], data[pgoff:pgoff+n])
		off += n
	}
	return 0
}

// CopyInString validates and copies a NUL-terminated user string at uva,
// returning it without the terminator.
func (as *AddrSpace) CopyInString(uva Va_t) (string, defs.Err_t) {
	n, err := as.ValidateVstr(uva, PTE_U|PTE_R)
	if err != 0 {
		return "", err
	}
	buf := make([]byte, n)
	if err := as.CopyIn(buf, uva); err != 0 {
		return "", err
	}
	return string(buf), 0
}
