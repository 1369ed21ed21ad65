package vm

import (
	"fmt"
	"sync"

	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/phys"
)

// Mtag_t is an encoded SATP value naming an address space: mode | ASID | PPN.
type Mtag_t uint64

const satpModeSv39 = 8

func mkMtag(root Pa_t, asid uint16) Mtag_t {
	return Mtag_t(uint64(satpModeSv39)<<60 | uint64(asid)<<44 | (uint64(root/PageSize) & ppnMask))
}

// Root returns the physical address of the root page table named by a mtag.
func (m Mtag_t) Root() Pa_t {
	return Pa_t((uint64(m) & ppnMask) * PageSize)
}

// Manager owns the physical pool backing every address space's page tables
// and data pages, plus the statically-allocated kernel root. The root table
// of the main/kernel address space must never be freed: it draws the same
// boundary between the static kernel pmap and per-process arena-allocated
// ones that a page-table pointer aliasing scheme relies on.
type Manager struct {
	pool     *phys.Pool
	mainRoot Pa_t

	mu      sync.Mutex
	current *AddrSpace
}

// NewManager allocates the kernel's main root table from pool and returns a
// Manager ready to create per-process address spaces.
func NewManager(pool *phys.Pool) *Manager {
	root := pool.AllocPages(1)
	pool.Zero(root, 1)
	m := &Manager{pool: pool, mainRoot: root}
	main := &AddrSpace{mgr: m, root: root, asid: 0, isMain: true}
	m.current = main
	return m
}

// Main returns the statically-allocated kernel address space.
func (m *Manager) Main() *AddrSpace {
	return &AddrSpace{mgr: m, root: m.mainRoot, asid: 0, isMain: true}
}

// Pool exposes the backing physical pool, for callers that need to
// read/write page contents directly.
func (m *Manager) Pool() *phys.Pool { return m.pool }

// AddrSpace is one address space's root page table, referenced by a mtag.
type AddrSpace struct {
	mgr    *Manager
	root   Pa_t
	asid   uint16
	isMain bool
}

// Mtag returns the encoded SATP value naming this address space.
func (as *AddrSpace) Mtag() Mtag_t { return mkMtag(as.root, as.asid) }

// NewAddrSpace allocates a fresh, empty root table for a new process.
func (m *Manager) NewAddrSpace() *AddrSpace {
	root := m.pool.AllocPages(1)
	m.pool.Zero(root, 1)
	return &AddrSpace{mgr: m, root: root, asid: 0}
}

// ActiveMspace returns the mtag of the currently active address space.
func (m *Manager) ActiveMspace() Mtag_t {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Mtag()
}

// SwitchMspace installs the address space named by mtag as active. A real
// SATP write issues an SFENCE.VMA after every write; there is no TLB here,
// but switching still "fences" by updating the package's notion of current.
func (m *Manager) SwitchMspace(mtag Mtag_t) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root := mtag.Root()
	if root == m.mainRoot {
		m.current = m.Main()
		return
	}
	m.current = &AddrSpace{mgr: m, root: root, asid: uint16((uint64(mtag) >> 44) & 0xffff)}
}

// CurrentAddrSpace returns the handle for the active address space.
func (m *Manager) CurrentAddrSpace() *AddrSpace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (as *AddrSpace) walk(va Va_t, alloc bool) *PTE {
	pool := as.mgr.pool
	t := tableAt(pool, as.root)
	for level := 2; level > 0; level-- {
		idx := vpn(va, level)
		e := t[idx]
		if !e.valid() {
			if !alloc {
				return nil
			}
			np := pool.AllocPages(1)
			pool.Zero(np, 1)
			t[idx] = mkTablePTE(np, 0)
			e = t[idx]
		} else if e.leaf() {
			panic(fmt.Sprintf("vm: non-leaf-over-leaf at level %d va %#x", level, va))
		}
		t = tableAt(pool, e.pa())
	}
	idx := vpn(va, 0)
	return &t[idx]
}

// MapPage inserts a leaf PTE at vma mapping physical page pp with flags.
// Intermediate tables are allocated on demand. If an existing non-global
// leaf is replaced, its backing page is freed. Mapping a non-leaf entry as
// if it were replaceable by a leaf is a programming error and panics.
func (as *AddrSpace) MapPage(vma Va_t, pp Pa_t, flags uint64) {
	if !canonical(vma) || vma%PageSize != 0 {
		panic("vm: MapPage on non-canonical or unaligned vma")
	}
	pte := as.walk(vma, true)
	if pte.valid() {
		if !pte.leaf() {
			panic("vm: MapPage would replace a non-leaf entry")
		}
		if !pte.global() {
			as.mgr.pool.FreePages(pte.pa(), 1)
		}
	}
	*pte = mkLeafPTE(pp, flags)
}

// MapRange maps nbytes (rounded up to PageSize) of physical memory starting
// at pp into the address space starting at vma.
func (as *AddrSpace) MapRange(vma Va_t, pp Pa_t, nbytes int, flags uint64) {
	n := phys.RoundPages(nbytes)
	for i := 0; i < n; i++ {
		as.MapPage(vma+Va_t(i*PageSize), pp+Pa_t(i*PageSize), flags)
	}
}

// AllocAndMapRange allocates n fresh, zeroed pages and maps them at vma.
func (as *AddrSpace) AllocAndMapRange(vma Va_t, nbytes int, flags uint64) {
	n := phys.RoundPages(nbytes)
	for i := 0; i < n; i++ {
		pp := as.mgr.pool.AllocPages(1)
		as.mgr.pool.Zero(pp, 1)
		as.MapPage(vma+Va_t(i*PageSize), pp, flags)
	}
}

// SetRangeFlags overwrites R|W|X|U on every mapped page in the range from
// the caller's mask, preserving A|D|V and any G bit already set; a G in the
// mask sets G.
func (as *AddrSpace) SetRangeFlags(vma Va_t, nbytes int, flags uint64) defs.Err_t {
	n := phys.RoundPages(nbytes)
	for i := 0; i < n; i++ {
		pte := as.walk(vma+Va_t(i*PageSize), false)
		if pte == nil || !pte.valid() || !pte.leaf() {
			return defs.EACCESS
		}
		preserved := uint64(*pte) &^ (rwxugFlags &^ PTE_G)
		*pte = PTE(preserved | (flags & rwxugFlags))
	}
	return 0
}

// UnmapAndFreeRange unmaps nbytes starting at vma and frees the backing
// pages of every non-global leaf found.
func (as *AddrSpace) UnmapAndFreeRange(vma Va_t, nbytes int) {
	n := phys.RoundPages(nbytes)
	for i := 0; i < n; i++ {
		va := vma + Va_t(i*PageSize)
		pte := as.walk(va, false)
		if pte == nil || !pte.valid() {
			continue
		}
		if pte.leaf() && !pte.global() {
			as.mgr.pool.FreePages(pte.pa(), 1)
		}
		*pte = 0
	}
}

// CloneActiveMspace produces a deep copy of the active address space: every
// global entry is copied verbatim (shared backing page); every non-global
// leaf gets a fresh physical page with the source's 4 KiB copied in; every
// non-global internal table is recursively cloned.
func (m *Manager) CloneActiveMspace() *AddrSpace {
	src := m.CurrentAddrSpace()
	dstRoot := m.pool.AllocPages(1)
	m.pool.Zero(dstRoot, 1)
	m.cloneTable(src.root, dstRoot, 2)
	return &AddrSpace{mgr: m, root: dstRoot}
}

func (m *Manager) cloneTable(srcPa, dstPa Pa_t, level int) {
	st := tableAt(m.pool, srcPa)
	dt := tableAt(m.pool, dstPa)
	for i, e := range st {
		if !e.valid() {
			continue
		}
		if e.global() {
			dt[i] = e
			continue
		}
		if e.leaf() {
			np := m.pool.AllocPages(1)
			copy(m.pool.Bytes(np, 1), m.pool.Bytes(e.pa(), 1))
			dt[i] = mkLeafPTE(np, e.flags()&rwxugFlags)
			continue
		}
		// Non-global internal table: recurse.
		np := m.pool.AllocPages(1)
		m.pool.Zero(np, 1)
		m.cloneTable(e.pa(), np, level-1)
		dt[i] = mkTablePTE(np, e.flags()&PTE_G)
	}
}

// ResetActiveMspace walks the active root, freeing every non-global leaf's
// backing page and recursively freeing non-global internal tables, then
// clears every entry. The main kernel root is never freed by Reset itself
// (its entries are cleared just the same, but its root page is untouched);
// Discard is what frees a non-main root.
func (m *Manager) ResetActiveMspace() {
	as := m.CurrentAddrSpace()
	m.resetTable(as.root, 2)
}

func (m *Manager) resetTable(pa Pa_t, level int) {
	t := tableAt(m.pool, pa)
	for i, e := range t {
		if !e.valid() || e.global() {
			continue
		}
		if e.leaf() {
			m.pool.FreePages(e.pa(), 1)
		} else {
			m.resetTable(e.pa(), level-1)
			m.pool.FreePages(e.pa(), 1)
		}
		t[i] = 0
	}
}

// DiscardActiveMspace resets the active address space and, unless it is the
// main kernel root, frees the root table itself and switches back to main.
func (m *Manager) DiscardActiveMspace() {
	as := m.CurrentAddrSpace()
	m.ResetActiveMspace()
	if as.isMain || as.root == m.mainRoot {
		return
	}
	m.pool.FreePages(as.root, 1)
	m.mu.Lock()
	m.current = m.Main()
	m.mu.Unlock()
}

// HandlePageFault is the page-fault hook consulted by the trap dispatcher.
// This kernel does no demand paging: every fault in user mode is
// unhandled, and the caller kills the faulting process.
func HandlePageFault(as *AddrSpace, va Va_t, flags uint64) defs.Err_t {
	return defs.EACCESS
}
