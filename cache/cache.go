// Package cache implements a fixed-capacity, write-back LRU cache of
// fixed-size disk blocks sitting in front of a storage.Storage. It is the
// only thing in this tree that ever issues a Fetch/Store against the
// backing device; everything above it (ktfs) only ever sees in-memory
// block contents.
package cache

import (
	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/storage"
	"github.com/garvkuiuc/riscv-unix-kernel/thread"
)

// NEntries is the fixed number of cache slots.
const NEntries = 64

// BlockSize is the fixed block size in bytes.
const BlockSize = 512

type entry struct {
	blockNo    uint64
	data       [BlockSize]byte
	valid      bool
	dirty      bool
	inUse      bool
	ownerTid   int
	accessTime uint64
}

// Cache is the block cache: a single thread.Lock guards all 64 entries,
// and a single thread.Condition wakes every waiter whenever any entry's
// pin or validity changes.
type Cache struct {
	mgr     *thread.Manager
	storage storage.Storage

	mu       *thread.Lock
	entries  [NEntries]entry
	clock    uint64
	lastUsed int // index pinned by the most recent caller, or -1
	shared   *thread.Condition
}

const noEntry = -1

// New returns a Cache over storage, empty (every entry invalid).
func New(mgr *thread.Manager, s storage.Storage) *Cache {
	c := &Cache{
		mgr:      mgr,
		storage:  s,
		mu:       thread.NewLock(),
		lastUsed: noEntry,
		shared:   thread.NewCondition("cache.shared"),
	}
	for i := range c.entries {
		c.entries[i].ownerTid = noEntry
	}
	return c
}

func (c *Cache) lock()   { c.mgr.Acquire(c.mu) }
func (c *Cache) unlock() { c.mgr.Release(c.mu) }

// GetBlock pins the block at pos (a multiple of BlockSize) for the
// calling thread, returning a pointer to its in-cache contents. A thread
// may hold at most one pin at a time: calling GetBlock again from the
// same thread implicitly releases its previous pin (clean) before
// scanning for (or fetching) the new one.
func (c *Cache) GetBlock(pos uint64) (*[BlockSize]byte, defs.Err_t) {
	if pos%BlockSize != 0 {
		return nil, defs.EINVAL
	}
	blockNo := pos / BlockSize
	tid := c.mgr.Current().ID()

	c.lock()
	defer c.unlock()

	if c.lastUsed != noEntry {
		e := &c.entries[c.lastUsed]
		if e.inUse && e.ownerTid == tid {
			e.inUse = false
			e.ownerTid = noEntry
			c.mgr.Broadcast(c.shared)
		}
	}

	for {
		idx := c.find(blockNo)
		if idx >= 0 {
			e := &c.entries[idx]
			for e.inUse {
				// Wait does not take a lock to release/reacquire the way a
				// Mesa-style condition_wait(cv, lock) does, so the cache's
				// own lock has to be dropped by hand around the park. Only
				// one thread ever actually runs at a time in this model, so
				// nothing touches the entry table between unlock and park.
				c.unlock()
				c.mgr.Wait(c.shared)
				c.lock()
				// Re-check: the entry could have been evicted while we
				// waited in a pathological case; re-scan from scratch.
				idx = c.find(blockNo)
				if idx < 0 {
					break
				}
				e = &c.entries[idx]
			}
			if idx >= 0 {
				e.inUse = true
				e.ownerTid = tid
				c.clock++
				e.accessTime = c.clock
				c.lastUsed = idx
				return &e.data, 0
			}
			continue
		}

		victim, err := c.selectVictim()
		if err != 0 {
			return nil, err
		}
		e := &c.entries[victim]
		if e.valid && e.dirty {
			if err := c.writeback(e); err != 0 {
				return nil, err
			}
		}
		buf := make([]byte, BlockSize)
		n, err := c.storage.Fetch(blockNo*BlockSize, buf)
		if err != 0 {
			return nil, err
		}
		if n != BlockSize {
			return nil, defs.EIO
		}
		copy(e.data[:], buf)
		e.blockNo = blockNo
		e.valid = true
		e.dirty = false
		e.inUse = true
		e.ownerTid = tid
		c.clock++
		e.accessTime = c.clock
		c.lastUsed = victim
		return &e.data, 0
	}
}

func (c *Cache) find(blockNo uint64) int {
	for i := range c.entries {
		if c.entries[i].valid && c.entries[i].blockNo == blockNo {
			return i
		}
	}
	return -1
}

// selectVictim picks the first invalid-and-unpinned slot, else the
// valid-and-unpinned slot with the smallest access_time. EBUSY if every
// slot is pinned.
func (c *Cache) selectVictim() (int, defs.Err_t) {
	best := -1
	bestTime := uint64(0)
	for i := range c.entries {
		e := &c.entries[i]
		if e.inUse {
			continue
		}
		if !e.valid {
			return i, 0
		}
		if best == -1 || e.accessTime < bestTime {
			best = i
			bestTime = e.accessTime
		}
	}
	if best == -1 {
		return 0, defs.EBUSY
	}
	return best, 0
}

func (c *Cache) writeback(e *entry) defs.Err_t {
	n, err := c.storage.Store(e.blockNo*BlockSize, e.data[:])
	if err != 0 {
		return err
	}
	if n != BlockSize {
		return defs.EIO
	}
	e.dirty = false
	return 0
}

// ReleaseBlock finds the entry whose data pointer is p and unpins it,
// ORing dirtyFlag into its dirty bit. Unpinning is idempotent with the
// implicit release on the owner's next GetBlock — whichever happens
// first wins.
func (c *Cache) ReleaseBlock(p *[BlockSize]byte, dirtyFlag bool) {
	c.lock()
	defer c.unlock()
	for i := range c.entries {
		if &c.entries[i].data == p {
			e := &c.entries[i]
			e.dirty = e.dirty || dirtyFlag
			e.inUse = false
			e.ownerTid = noEntry
			c.mgr.Broadcast(c.shared)
			return
		}
	}
}

// Flush writes every valid, dirty block back to storage and marks it
// clean, stopping at the first error.
func (c *Cache) Flush() defs.Err_t {
	c.lock()
	defer c.unlock()
	for i := range c.entries {
		e := &c.entries[i]
		if e.valid && e.dirty {
			if err := c.writeback(e); err != 0 {
				return err
			}
		}
	}
	return 0
}
