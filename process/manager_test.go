package process

import (
	"testing"

	"github.com/garvkuiuc/riscv-unix-kernel/cache"
	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/ktfs"
	"github.com/garvkuiuc/riscv-unix-kernel/phys"
	"github.com/garvkuiuc/riscv-unix-kernel/storage"
	"github.com/garvkuiuc/riscv-unix-kernel/vm"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	pool := phys.New(0x80000000, 4096)
	vmm := vm.NewManager(pool)
	return NewManager(vmm)
}

// newTestMount formats a tiny filesystem image in memory and returns a
// *ktfs.Mount ready to attach to a Manager via Mount.
func newTestMount(t *testing.T, m *Manager) *ktfs.Mount {
	t.Helper()
	sb := ktfs.Superblock{
		InodeBitmapBlockCount: 1,
		BitmapBlockCount:      1,
		InodeBlockCount:       2,
		RootDirectoryInode:    0,
	}
	const nblocks = 256
	sb.BlockCount = nblocks
	st := storage.NewMemStorage(nblocks, ktfs.BlockSize)
	c := cache.New(m.Threads(), st)
	fs, err := ktfs.Format(m.Threads(), c, sb)
	if err != 0 {
		t.Fatalf("ktfs.Format: %v", err)
	}
	return fs
}

func TestParsePathSplitsMountAndName(t *testing.T) {
	cases := []struct {
		path, mount, name string
		err               defs.Err_t
	}{
		{"fs/file", "fs", "file", 0},
		{"/fs/file", "fs", "file", 0},
		{"//fs/file", "fs", "file", 0},
		{"fs/sub/file", "fs", "sub/file", 0},
		{"fs", "", "", defs.EINVAL},
		{"/fs/", "", "", defs.EINVAL},
		{"", "", "", defs.EINVAL},
		{"/", "", "", defs.EINVAL},
	}
	for _, c := range cases {
		mount, name, err := parsePath(c.path)
		if err != c.err {
			t.Fatalf("parsePath(%q) err = %v, want %v", c.path, err, c.err)
		}
		if err == 0 && (mount != c.mount || name != c.name) {
			t.Fatalf("parsePath(%q) = (%q, %q), want (%q, %q)", c.path, mount, name, c.mount, c.name)
		}
	}
}

func TestMountDuplicateNameIsEexist(t *testing.T) {
	m := newTestManager(t)
	fs := newTestMount(t, m)
	if err := m.Mount("fs", fs); err != 0 {
		t.Fatalf("first Mount: %v", err)
	}
	if err := m.Mount("fs", fs); err != defs.EEXIST {
		t.Fatalf("duplicate Mount = %v, want EEXIST", err)
	}
}

func TestCreateOpenDeleteRoundTripThroughMountTable(t *testing.T) {
	m := newTestManager(t)
	fs := newTestMount(t, m)
	if err := m.Mount("fs", fs); err != 0 {
		t.Fatalf("Mount: %v", err)
	}

	if err := m.createPath("fs/hello"); err != 0 {
		t.Fatalf("createPath: %v", err)
	}
	if err := m.createPath("fs/hello"); err != defs.EEXIST {
		t.Fatalf("duplicate createPath = %v, want EEXIST", err)
	}

	u, err := m.openPath("fs/hello")
	if err != 0 {
		t.Fatalf("openPath: %v", err)
	}
	if _, err := u.Write([]byte("hi")); err != 0 {
		t.Fatalf("write: %v", err)
	}

	if err := m.deletePath("fs/hello"); err != 0 {
		t.Fatalf("deletePath: %v", err)
	}
	if _, err := m.openPath("fs/hello"); err != defs.ENOENT {
		t.Fatalf("openPath after delete = %v, want ENOENT", err)
	}
}

func TestOpenPathUnknownMountIsEnoent(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.openPath("nope/file"); err != defs.ENOENT {
		t.Fatalf("openPath on unknown mount = %v, want ENOENT", err)
	}
}
