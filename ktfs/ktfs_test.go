package ktfs

import (
	"testing"

	"github.com/garvkuiuc/riscv-unix-kernel/cache"
	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/storage"
	"github.com/garvkuiuc/riscv-unix-kernel/thread"
	"github.com/garvkuiuc/riscv-unix-kernel/uio"
)

// newTestMount builds a small image in memory: one inode bitmap block, one
// data bitmap block (sized to cover every block the data bitmap itself can
// ever address, so a MemStorage out-of-range never surfaces), two inode
// table blocks, and a zeroed root directory at inode 0.
func newTestMount(t *testing.T) (*Mount, *thread.Manager) {
	t.Helper()
	sb := Superblock{
		BlockCount:            0,
		InodeBitmapBlockCount: 1,
		BitmapBlockCount:      1,
		InodeBlockCount:       2,
		RootDirectoryInode:    0,
	}
	l := computeLayout(&sb)
	nblocks := int(l.dataStart) + int(sb.BitmapBlockCount)*BlockSize*8
	sb.BlockCount = uint32(nblocks)

	mgr := thread.NewManager(nil)
	st := storage.NewMemStorage(nblocks, BlockSize)
	c := cache.New(mgr, st)

	m, err := Format(mgr, c, sb)
	if err != 0 {
		t.Fatalf("Format: %v", err)
	}
	return m, mgr
}

func mustCreate(t *testing.T, m *Mount, name string) {
	t.Helper()
	if err := m.Create(name); err != 0 {
		t.Fatalf("Create(%q): %v", name, err)
	}
}

func mustOpen(t *testing.T, m *Mount, name string) uio.Uio {
	t.Helper()
	f, err := m.Open(name)
	if err != 0 {
		t.Fatalf("Open(%q): %v", name, err)
	}
	return f
}

func TestCreateOpenWriteReadRoundTrip(t *testing.T) {
	m, _ := newTestMount(t)
	mustCreate(t, m, "greeting")
	f := mustOpen(t, m, "greeting")

	want := []byte("hello, ktfs")
	n, err := f.Write(want)
	if err != 0 || n != len(want) {
		t.Fatalf("Write = (%d, %v), want (%d, 0)", n, err, len(want))
	}

	if _, err := f.Cntl(defs.FCNTL_SETPOS, 0); err != 0 {
		t.Fatalf("Cntl SETPOS: %v", err)
	}
	got := make([]byte, len(want))
	n, err = f.Read(got)
	if err != 0 || n != len(want) || string(got) != string(want) {
		t.Fatalf("Read = (%d, %q, %v), want (%d, %q, 0)", n, got[:n], err, len(want), want)
	}
}

func TestCreateDuplicateNameIsEexist(t *testing.T) {
	m, _ := newTestMount(t)
	mustCreate(t, m, "dup")
	if err := m.Create("dup"); err != defs.EEXIST {
		t.Fatalf("second Create = %v, want EEXIST", err)
	}
}

func TestOpenMissingNameIsEnoent(t *testing.T) {
	m, _ := newTestMount(t)
	if _, err := m.Open("nope"); err != defs.ENOENT {
		t.Fatalf("Open(missing) = %v, want ENOENT", err)
	}
}

func TestSparseSetEndReadsZeroes(t *testing.T) {
	m, _ := newTestMount(t)
	mustCreate(t, m, "sparse")
	f := mustOpen(t, m, "sparse")

	if _, err := f.Cntl(defs.FCNTL_SETEND, BlockSize*3); err != 0 {
		t.Fatalf("Cntl SETEND: %v", err)
	}
	buf := make([]byte, BlockSize*3)
	n, err := f.Read(buf)
	if err != 0 || n != len(buf) {
		t.Fatalf("Read = (%d, %v), want (%d, 0)", n, err, len(buf))
	}
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0 (hole)", i, b)
		}
	}
}

func TestWriteCrossesDirectIntoIndirectRange(t *testing.T) {
	m, _ := newTestMount(t)
	mustCreate(t, m, "spanning")
	f := mustOpen(t, m, "spanning")

	// NumDirect direct blocks, then a few blocks into the single-indirect
	// range: a write spanning this boundary touches both mapOrAllocate
	// branches in one call.
	size := (NumDirect + 2) * BlockSize
	want := make([]byte, size)
	for i := range want {
		want[i] = byte(i)
	}
	n, err := f.Write(want)
	if err != 0 || n != size {
		t.Fatalf("Write = (%d, %v), want (%d, 0)", n, err, size)
	}

	f2 := mustOpen(t, m, "spanning")
	got := make([]byte, size)
	n, err = f2.Read(got)
	if err != 0 || n != size {
		t.Fatalf("Read = (%d, %v), want (%d, 0)", n, err, size)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestWriteReachesDoubleIndirectRange(t *testing.T) {
	m, _ := newTestMount(t)
	mustCreate(t, m, "deep")
	f := mustOpen(t, m, "deep")

	pos := uint64(NumDirect+entriesPerBlock) * BlockSize
	if _, err := f.Cntl(defs.FCNTL_SETPOS, pos); err != 0 {
		t.Fatalf("Cntl SETPOS: %v", err)
	}
	want := []byte("double-indirect")
	n, err := f.Write(want)
	if err != 0 || n != len(want) {
		t.Fatalf("Write = (%d, %v), want (%d, 0)", n, err, len(want))
	}

	if _, err := f.Cntl(defs.FCNTL_SETPOS, pos); err != 0 {
		t.Fatalf("Cntl SETPOS: %v", err)
	}
	got := make([]byte, len(want))
	n, err = f.Read(got)
	if err != 0 || n != len(want) || string(got) != string(want) {
		t.Fatalf("Read = (%d, %q, %v), want (%d, %q, 0)", n, got[:n], err, len(want), want)
	}
}

func TestDeleteFreesInodeAndShrinksDirectory(t *testing.T) {
	m, _ := newTestMount(t)
	mustCreate(t, m, "a")
	mustCreate(t, m, "b")

	fa := mustOpen(t, m, "a")
	fa.Write([]byte("some data that needs a real block"))

	if err := m.Delete("a"); err != 0 {
		t.Fatalf("Delete(a): %v", err)
	}
	if _, err := m.Open("a"); err != defs.ENOENT {
		t.Fatalf("Open(a) after delete = %v, want ENOENT", err)
	}
	if _, err := m.Open("b"); err != 0 {
		t.Fatalf("Open(b) after deleting a: %v", err)
	}

	// The freed inode slot and directory slot must both be reusable.
	if err := m.Create("a"); err != 0 {
		t.Fatalf("recreate a: %v", err)
	}
}

func TestDeleteMissingNameIsEnoent(t *testing.T) {
	m, _ := newTestMount(t)
	if err := m.Delete("ghost"); err != defs.ENOENT {
		t.Fatalf("Delete(missing) = %v, want ENOENT", err)
	}
}

func TestListingWalksLiveEntriesThenEof(t *testing.T) {
	m, _ := newTestMount(t)
	mustCreate(t, m, "one")
	mustCreate(t, m, "two")

	listing := mustOpen(t, m, "")
	seen := map[string]bool{}
	buf := make([]byte, MaxNameLen+1)
	for i := 0; i < 2; i++ {
		n, err := listing.Read(buf)
		if err != 0 || n == 0 {
			t.Fatalf("Read %d = (%d, %v)", i, n, err)
		}
		seen[string(buf[:n])] = true
	}
	if !seen["one"] || !seen["two"] {
		t.Fatalf("listing saw %v, want both one and two", seen)
	}
	n, err := listing.Read(buf)
	if err != 0 || n != 0 {
		t.Fatalf("Read at EOF = (%d, %v), want (0, 0)", n, err)
	}
}

func TestFlushIsIdempotent(t *testing.T) {
	m, _ := newTestMount(t)
	mustCreate(t, m, "flushed")
	f := mustOpen(t, m, "flushed")
	f.Write([]byte("data"))

	if err := m.Flush(); err != 0 {
		t.Fatalf("first Flush: %v", err)
	}
	if err := m.Flush(); err != 0 {
		t.Fatalf("second Flush: %v", err)
	}
}
