// Package phys is the physical page allocator. It manages a single
// contiguous region of byte-addressable "RAM" — the free page pool — as a
// sorted, singly linked list of chunks: each free chunk's header lives in
// the first bytes of the region it describes, so freeing a region means
// writing into that memory before it goes back on the list.
//
// There is no real MMU backing this in a hosted Go process, so Pool doubles
// as the kernel's "physical memory": every allocated page is a slice into
// Pool's backing array, and vm reads and writes page contents through
// Pool.Bytes. This mirrors how other software RISC-V implementations in the
// retrieval pack (e.g. a bare CPU/MMU core modeling RAM as a flat byte
// array) model memory without real hardware underneath.
package phys

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/garvkuiuc/riscv-unix-kernel/util"
)

// PageSize is the fixed page size.
const PageSize = 4096

// Pa_t is a physical address within a Pool.
type Pa_t uint64

const noNext Pa_t = 0

// chunkHeader is the in-place free-chunk header: a (pagecnt, next) pair
// placed at the first byte of the free region it describes.
type chunkHeader struct {
	pagecnt uint64
	next    Pa_t
}

// Pool is the free page pool for one contiguous region of physical RAM.
// Base must be nonzero: chunk list termination uses address 0 as the "no
// next" sentinel, which is safe because 0 never falls inside [base, base+n*PageSize).
type Pool struct {
	mu    sync.Mutex
	base  Pa_t
	ram   []byte
	npage int
	head  Pa_t // address of first free chunk, or noNext if the list is empty
}

// New creates a pool of npage pages starting at the page-aligned physical
// address base. The entire region starts out free, as a single chunk.
func New(base Pa_t, npage int) *Pool {
	if base == 0 {
		panic("phys: pool base must be nonzero")
	}
	if base%PageSize != 0 {
		panic("phys: pool base must be page-aligned")
	}
	if npage <= 0 {
		panic("phys: pool must have at least one page")
	}
	p := &Pool{
		base:  base,
		ram:   make([]byte, npage*PageSize),
		npage: npage,
		head:  base,
	}
	p.writeHeader(base, chunkHeader{pagecnt: uint64(npage), next: noNext})
	return p
}

func (p *Pool) offset(pa Pa_t) int {
	if pa < p.base || pa >= p.base+Pa_t(p.npage*PageSize) {
		panic(fmt.Sprintf("phys: address %#x out of pool range", pa))
	}
	return int(pa - p.base)
}

func (p *Pool) headerAt(pa Pa_t) *chunkHeader {
	off := p.offset(pa)
	return (*chunkHeader)(unsafe.Pointer(&p.ram[off]))
}

func (p *Pool) readHeader(pa Pa_t) chunkHeader {
	return *p.headerAt(pa)
}

func (p *Pool) writeHeader(pa Pa_t, h chunkHeader) {
	*p.headerAt(pa) = h
}

// Bytes returns a slice over n pages of physical memory starting at pa. The
// slice aliases the pool's backing array; callers (vm) use it to read
// and write page contents directly.
func (p *Pool) Bytes(pa Pa_t, n int) []byte {
	off := p.offset(pa)
	end := off + n*PageSize
	if end > len(p.ram) {
		panic("phys: range exceeds pool")
	}
	return p.ram[off:end]
}

// Base reports the first physical address in the pool.
func (p *Pool) Base() Pa_t { return p.base }

// NumPages reports the total page count managed by the pool (free + in use).
func (p *Pool) NumPages() int { return p.npage }

// AllocPages returns a pointer to n contiguous page-aligned pages, or panics
// if no chunk can satisfy n. Policy is smallest-fit over the sorted free
// list: an exact-size match is unlinked outright; otherwise n pages are
// carved from the high end of the chosen chunk and the chunk is shrunk in
// place. n == 0 returns 0 (no page).
func (p *Pool) AllocPages(n int) Pa_t {
	if n == 0 {
		return 0
	}
	if n < 0 {
		panic("phys: negative page count")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var prev Pa_t = noNext
	best := noNext
	var bestPrev Pa_t = noNext
	bestCnt := uint64(0)

	for cur := p.head; cur != noNext; {
		h := p.readHeader(cur)
		if h.pagecnt >= uint64(n) && (best == noNext || h.pagecnt < bestCnt) {
			best = cur
			bestPrev = prev
			bestCnt = h.pagecnt
			if h.pagecnt == uint64(n) {
				break
			}
		}
		prev = cur
		cur = h.next
	}

	if best == noNext {
		panic(fmt.Sprintf("phys: out of memory allocating %d pages", n))
	}

	h := p.readHeader(best)
	if h.pagecnt == uint64(n) {
		// Exact fit: unlink the chunk entirely.
		p.unlink(bestPrev, best, h.next)
		return best
	}

	// Carve n pages from the high end and shrink the chunk in place.
	h.pagecnt -= uint64(n)
	p.writeHeader(best, h)
	return best + Pa_t(h.pagecnt)*PageSize
}

func (p *Pool) unlink(prev, node, next Pa_t) {
	if prev == noNext {
		p.head = next
		return
	}
	ph := p.readHeader(prev)
	ph.next = next
	p.writeHeader(prev, ph)
}

// FreePages returns the n pages at p_pg to the free list, inserted at their
// sorted position. It panics if the region overlaps an existing free chunk.
// Adjacent free chunks are never coalesced: callers rely on freed regions
// keeping exactly the shape they were allocated in.
func (p *Pool) FreePages(p_pg Pa_t, n int) {
	if n <= 0 {
		panic("phys: free of non-positive page count")
	}
	if p_pg%PageSize != 0 {
		panic("phys: free of unaligned address")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	lo, hi := p_pg, p_pg+Pa_t(n)*PageSize

	var prev Pa_t = noNext
	cur := p.head
	for cur != noNext {
		h := p.readHeader(cur)
		curHi := cur + Pa_t(h.pagecnt)*PageSize
		if overlap(lo, hi, cur, curHi) {
			panic(fmt.Sprintf("phys: free of [%#x,%#x) overlaps chunk [%#x,%#x)", lo, hi, cur, curHi))
		}
		if cur >= hi {
			break
		}
		prev = cur
		cur = h.next
	}

	p.writeHeader(p_pg, chunkHeader{pagecnt: uint64(n), next: cur})
	if prev == noNext {
		p.head = p_pg
	} else {
		ph := p.readHeader(prev)
		ph.next = p_pg
		p.writeHeader(prev, ph)
	}
}

func overlap(lo, hi, lo2, hi2 Pa_t) bool {
	return lo < hi2 && lo2 < hi
}

// FreePageCount returns the total page count across all free chunks.
func (p *Pool) FreePageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := uint64(0)
	for cur := p.head; cur != noNext; {
		h := p.readHeader(cur)
		total += h.pagecnt
		cur = h.next
	}
	return int(total)
}

// Zero fills n pages at pa with zero bytes, used after allocation for
// caller-visible memory (e.g. user pages, fresh page tables).
func (p *Pool) Zero(pa Pa_t, n int) {
	b := p.Bytes(pa, n)
	for i := range b {
		b[i] = 0
	}
}

// RoundPages converts a byte size to a page count, rounding up.
func RoundPages(nbytes int) int {
	return int(util.Roundup(nbytes, PageSize) / PageSize)
}
