package process

import "github.com/garvkuiuc/riscv-unix-kernel/vm"

// UmemStartVMA and UmemEndVMA bound the virtual address range a process's
// image and stack are laid out in: the ELF's PT_LOAD segments load
// starting at UmemStartVMA, and the single stack page sits at the top of
// the range, UmemEndVMA-PageSize, the same placement build_stack in the
// original process manager assumes. Both fall in the Sv39 canonical low
// half (bits 63:38 all zero), well clear of the kernel's own mappings.
const (
	UmemStartVMA = vm.Va_t(0x10000)
	UmemEndVMA   = vm.Va_t(0x80000000)
)

// procAddrSpace adapts *vm.AddrSpace to thread.AddrSpaceRef: vm.AddrSpace's
// Mtag method returns the named type vm.Mtag_t, but thread.AddrSpaceRef
// requires a plain uint64 so that the thread package never has to import
// vm. The adapter is the only place that conversion happens.
type procAddrSpace struct {
	*vm.AddrSpace
}

func (p *procAddrSpace) Mtag() uint64 { return uint64(p.AddrSpace.Mtag()) }
