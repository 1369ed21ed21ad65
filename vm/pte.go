// Package vm implements the Sv39 three-level page tables: map/unmap/clone/
// reset/discard of address spaces, and the page-fault-safe user pointer/
// string validators every syscall handler uses before touching user memory.
//
// There is no real SATP register to program in a hosted Go process, so an
// AddrSpace's "active" state is tracked in this package directly rather
// than through a CSR write — see ActiveMspace/SwitchMspace. Physical page
// contents (both page-table pages and leaf data pages) live in a
// phys.Pool, the same arena PhysAlloc serves pages from, and are
// reinterpreted in place via unsafe rather than copied through an encoder.
package vm

import (
	"unsafe"

	"github.com/garvkuiuc/riscv-unix-kernel/phys"
)

// PageSize matches phys.PageSize; Sv39 pages are 4 KiB.
const PageSize = phys.PageSize

// Va_t is a user or kernel virtual address.
type Va_t uint64

// Pa_t is a physical address, shared with the phys package's address space.
type Pa_t = phys.Pa_t

// PTE is a single Sv39 page table entry: flags(8) rsw(2) ppn(44)
// reserved(7) pbmt(2) n(1).
type PTE uint64

// Leaf/valid/global flag bits, occupying the low 8 bits of a PTE.
const (
	PTE_V uint64 = 1 << 0 // valid
	PTE_R uint64 = 1 << 1 // readable
	PTE_W uint64 = 1 << 2 // writable
	PTE_X uint64 = 1 << 3 // executable
	PTE_U uint64 = 1 << 4 // user-accessible
	PTE_G uint64 = 1 << 5 // global
	PTE_A uint64 = 1 << 6 // accessed
	PTE_D uint64 = 1 << 7 // dirty
)

// rwxugFlags is the mask set_range_flags is allowed to overwrite; A, D, V,
// and G beyond the caller's explicit request are always preserved.
const rwxugFlags = PTE_R | PTE_W | PTE_X | PTE_U | PTE_G

const (
	ppnShift = 10
	ppnBits  = 44
	ppnMask  = (uint64(1) << ppnBits) - 1
)

func mkLeafPTE(pa Pa_t, flags uint64) PTE {
	return PTE((uint64(pa/PageSize)&ppnMask)<<ppnShift | (flags & 0xff) | PTE_V)
}

func mkTablePTE(pa Pa_t, flags uint64) PTE {
	// A table (non-leaf) entry: valid, no R/W/X, optionally global.
	return PTE((uint64(pa/PageSize)&ppnMask)<<ppnShift | PTE_V | (flags & PTE_G))
}

func (e PTE) valid() bool  { return uint64(e)&PTE_V != 0 }
func (e PTE) leaf() bool   { return uint64(e)&(PTE_R|PTE_W|PTE_X) != 0 }
func (e PTE) global() bool { return uint64(e)&PTE_G != 0 }
func (e PTE) flags() uint64 {
	return uint64(e) & 0xff
}
func (e PTE) pa() Pa_t {
	return Pa_t(((uint64(e) >> ppnShift) & ppnMask) * PageSize)
}

// table is one level of the three-level page table: 512 entries, 8 bytes
// each, exactly one page.
type table [512]PTE

func tableAt(pool *phys.Pool, pa Pa_t) *table {
	b := pool.Bytes(pa, 1)
	return (*table)(unsafe.Pointer(&b[0]))
}

// vpn extracts the 9-bit virtual page number for the given table level (0 =
// innermost/L0, 2 = outermost/L2) from a canonical virtual address.
func vpn(va Va_t, level int) uint64 {
	return (uint64(va) >> (12 + 9*level)) & 0x1ff
}

// canonical reports whether bits 63:38 of va are all 0 or all 1, the Sv39
// canonical-address requirement.
func canonical(va Va_t) bool {
	top := uint64(va) >> 38
	return top == 0 || top == (uint64(1)<<26)-1
}
