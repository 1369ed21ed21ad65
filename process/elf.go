package process

import (
	"debug/elf"
	"io"

	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/vm"
)

// uioReaderAt adapts a uio.Uio (positioned, sequential) to io/debug/elf's
// io.ReaderAt requirement by repositioning before every read via the
// GETPOS/SETPOS fcntl every uio answers. Reads are not safe to interleave
// from multiple goroutines against the same Ref; elf_load only ever drives
// one sequentially.
type uioReaderAt struct {
	r interface {
		Read([]byte) (int, defs.Err_t)
		Cntl(int, uint64) (uint64, defs.Err_t)
	}
}

func (u uioReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := u.r.Cntl(defs.FCNTL_SETPOS, uint64(off)); err != 0 {
		return 0, err
	}
	n, err := u.r.Read(p)
	if err != 0 {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// loadELF reads a little-endian RV64 executable from exe and maps every
// PT_LOAD segment into as at the file's own virtual addresses, which must
// already fall inside [UmemStartVMA, UmemEndVMA) — the program is expected
// to have been linked for that range, the same assumption elf_load makes
// about its input. It returns the entry point.
func loadELF(as *vm.AddrSpace, exe uioReaderAt) (vm.Va_t, defs.Err_t) {
	ef, err := elf.NewFile(exe)
	if err != nil {
		return 0, defs.EBADFMT
	}
	if ef.Class != elf.ELFCLASS64 || ef.Data != elf.ELFDATA2LSB ||
		ef.Type != elf.ET_EXEC || ef.Machine != elf.EM_RISCV {
		return 0, defs.EBADFMT
	}

	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		vma := vm.Va_t(prog.Vaddr)
		if vma < UmemStartVMA || vma+vm.Va_t(prog.Memsz) > UmemEndVMA {
			return 0, defs.EBADFMT
		}
		flags := uint64(vm.PTE_U)
		if prog.Flags&elf.PF_R != 0 {
			flags |= vm.PTE_R
		}
		if prog.Flags&elf.PF_W != 0 {
			flags |= vm.PTE_W
		}
		if prog.Flags&elf.PF_X != 0 {
			flags |= vm.PTE_X
		}

		// Mapped writable for the duration of the copy regardless of the
		// segment's own permissions, since CopyOut requires PTE_W on every
		// page it touches; a read-only or executable-only text segment
		// would otherwise fail validation before a single byte is loaded.
		// The segment's real flags are restored once the copy is done.
		as.AllocAndMapRange(vma, int(prog.Memsz), flags|vm.PTE_W)

		buf := make([]byte, prog.Filesz)
		if len(buf) > 0 {
			sr := io.NewSectionReader(exe, int64(prog.Off), int64(prog.Filesz))
			if _, err := io.ReadFull(sr, buf); err != nil {
				return 0, defs.EBADFMT
			}
			if err := as.CopyOut(vma, buf); err != 0 {
				return 0, err
			}
		}

		if flags&vm.PTE_W == 0 {
			if err := as.SetRangeFlags(vma, int(prog.Memsz), flags); err != 0 {
				return 0, err
			}
		}
	}

	return vm.Va_t(ef.Entry), 0
}
