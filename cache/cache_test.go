package cache

import (
	"testing"

	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/storage"
	"github.com/garvkuiuc/riscv-unix-kernel/thread"
)

func newTestCache(nblocks int) (*Cache, *thread.Manager) {
	mgr := thread.NewManager(nil)
	s := storage.NewMemStorage(nblocks, BlockSize)
	return New(mgr, s), mgr
}

func TestGetBlockReadsThroughOnMiss(t *testing.T) {
	c, _ := newTestCache(4)
	buf, err := c.GetBlock(0)
	if err != 0 {
		t.Fatalf("GetBlock failed: %v", err)
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatalf("fresh block should be zero-filled")
		}
	}
}

func TestWriteBackOnFlush(t *testing.T) {
	c, _ := newTestCache(4)
	buf, err := c.GetBlock(BlockSize)
	if err != 0 {
		t.Fatalf("GetBlock failed: %v", err)
	}
	buf[0] = 0xAB
	c.ReleaseBlock(buf, true)

	if err := c.Flush(); err != 0 {
		t.Fatalf("Flush failed: %v", err)
	}

	// A fresh cache over the same storage should see the written byte.
	c2 := New(c.mgr, c.storage)
	buf2, err := c2.GetBlock(BlockSize)
	if err != 0 {
		t.Fatalf("GetBlock after flush failed: %v", err)
	}
	if buf2[0] != 0xAB {
		t.Fatalf("buf2[0] = %#x, want 0xab", buf2[0])
	}
}

func TestImplicitReleaseOnNextGetBlock(t *testing.T) {
	c, _ := newTestCache(4)
	buf1, err := c.GetBlock(0)
	if err != 0 {
		t.Fatalf("GetBlock(0) failed: %v", err)
	}
	buf1[0] = 1

	// The same thread asking for a different block implicitly releases
	// its pin on the first one without needing an explicit ReleaseBlock.
	if _, err := c.GetBlock(BlockSize); err != 0 {
		t.Fatalf("GetBlock(BlockSize) failed: %v", err)
	}

	idx := c.find(0)
	if idx < 0 {
		t.Fatalf("block 0 evicted unexpectedly")
	}
	if c.entries[idx].inUse {
		t.Fatalf("block 0 should have been implicitly released")
	}
}

func TestAllPinnedReturnsEbusy(t *testing.T) {
	c, _ := newTestCache(NEntries + 1)

	// A thread holds at most one pin through GetBlock, and the thread
	// table has far fewer than NEntries slots, so each block is pinned
	// through GetBlock and its pin then handed to another thread id. The
	// next GetBlock therefore does not implicitly release it.
	for i := uint64(0); i < NEntries; i++ {
		if _, err := c.GetBlock(i * BlockSize); err != 0 {
			t.Fatalf("GetBlock(%d) failed: %v", i*BlockSize, err)
		}
		c.entries[c.lastUsed].ownerTid = thread.MainTID + 1
	}

	if _, err := c.GetBlock(NEntries * BlockSize); err != defs.EBUSY {
		t.Fatalf("GetBlock with all slots pinned = %v, want EBUSY", err)
	}
}

func TestDirtyBlockWrittenBackBeforeEviction(t *testing.T) {
	c, _ := newTestCache(NEntries + 1)
	buf, _ := c.GetBlock(0)
	buf[0] = 0x42
	c.ReleaseBlock(buf, true)

	// Filling the other NEntries slots and then asking for one more block
	// forces eviction of block 0, the least recently used, which is dirty
	// and must be written back first.
	for i := uint64(1); i <= NEntries; i++ {
		if _, err := c.GetBlock(i * BlockSize); err != 0 {
			t.Fatalf("GetBlock(%d) failed: %v", i*BlockSize, err)
		}
	}
	if c.find(0) >= 0 {
		t.Fatalf("block 0 still cached; eviction did not happen")
	}

	buf0, err := c.GetBlock(0)
	if err != 0 {
		t.Fatalf("GetBlock(0) after eviction failed: %v", err)
	}
	if buf0[0] != 0x42 {
		t.Fatalf("dirty block lost on eviction: buf0[0] = %#x, want 0x42", buf0[0])
	}
}

func TestGetBlockRejectsUnalignedPos(t *testing.T) {
	c, _ := newTestCache(2)
	if _, err := c.GetBlock(1); err != defs.EINVAL {
		t.Fatalf("GetBlock(1) = %v, want EINVAL", err)
	}
}
