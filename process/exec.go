package process

import (
	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/trap"
	"github.com/garvkuiuc/riscv-unix-kernel/uio"
	"github.com/garvkuiuc/riscv-unix-kernel/util"
	"github.com/garvkuiuc/riscv-unix-kernel/vm"
)

// stackPointerWords is the per-argument slot width on the initial stack:
// one 8-byte pointer per argv entry plus the trailing NULL, matching
// build_stack's (argc+1)*sizeof(char*).
const stackPointerWords = 8

// Exec replaces the calling process's image with the one read from exe:
// copy argv into a private buffer, discard the old address space, load
// the new ELF, build the initial stack, and install a trap frame ready to
// resume in user mode at the new entry point. Exec never closes exe or
// otherwise touches the descriptor table, so every fd — including the one
// exe itself was opened at — stays open at the same number across exec,
// the simplest reading of what survives an exec call.
//
// On failure the calling process has no address space left to return to
// (reset happens before the image is known to load), so a failed Exec
// exits the process rather than returning an error to resume into; Exit
// is what closes exe in that case, along with everything else still open.
func (m *Manager) Exec(exe *uio.Ref, argv []string) {
	p := m.Current()

	m.vmm.ResetActiveMspace()

	as := p.as.AddrSpace
	entry, err := loadELF(as, uioReaderAt{r: exe})
	if err != 0 {
		m.Exit()
		return
	}

	stksz, stackBuf, buildErr := buildStack(argv)
	if buildErr != 0 {
		m.Exit()
		return
	}
	stackVA := UmemEndVMA - vm.PageSize
	sp := uint64(stackVA) + vm.PageSize - uint64(stksz)
	as.AllocAndMapRange(stackVA, vm.PageSize, vm.PTE_U|vm.PTE_R|vm.PTE_W)
	if err := as.CopyOut(vm.Va_t(sp), stackBuf); err != 0 {
		m.Exit()
		return
	}

	p.Tfr = &trap.Frame{
		Sepc:    uint64(entry),
		Sp:      sp,
		A0:      uint64(len(argv)),
		A1:      sp,
		Sstatus: sstatusSPIE,
	}
}

// sstatusSPIE is the single bit process_exec sets in a fresh trap frame's
// sstatus: supervisor previous interrupt enable, so interrupts stay
// enabled once the process traps back into the kernel.
const sstatusSPIE = 1 << 5

// buildStack lays out argv on a single page the way build_stack does:
// the pointer vector first (argc entries plus a trailing NULL), then the
// NUL-terminated strings themselves, sized and rounded up to 16 bytes.
// Pointers in the vector are written as the address the stack page will
// have once mapped at UmemEndVMA-PageSize, not as offsets into buf.
func buildStack(argv []string) (stksz int, buf []byte, err defs.Err_t) {
	argc := len(argv)
	if (vm.PageSize/stackPointerWords)-1 < argc {
		return 0, nil, defs.ENOMEM
	}

	size := (argc + 1) * stackPointerWords
	for _, a := range argv {
		size += len(a) + 1
	}
	if size > vm.PageSize {
		return 0, nil, defs.ENOMEM
	}
	size = util.Roundup(size, 16)

	page := make([]byte, vm.PageSize)
	stackVA := UmemEndVMA - vm.PageSize
	base := vm.PageSize - size

	strOff := base + (argc+1)*stackPointerWords
	for i, a := range argv {
		strVA := uint64(stackVA) + uint64(strOff)
		util.Writen(page, 8, base+i*stackPointerWords, strVA)
		copy(page[strOff:], a)
		page[strOff+len(a)] = 0
		strOff += len(a) + 1
	}
	util.Writen(page, 8, base+argc*stackPointerWords, 0)

	return size, page[base:], 0
}
