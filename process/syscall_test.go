package process

import (
	"bytes"
	"testing"

	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/klog"
	"github.com/garvkuiuc/riscv-unix-kernel/trap"
	"github.com/garvkuiuc/riscv-unix-kernel/vm"
)

// scratchVA is a fixed one-page scratch region mapped into a test's
// process address space for passing syscall arguments (paths, buffers,
// out-parameters) the way a real user stack or heap page would.
const scratchVA = vm.Va_t(0x20000)

func mapScratch(t *testing.T, m *Manager) {
	t.Helper()
	as := m.addrSpace()
	as.AllocAndMapRange(scratchVA, vm.PageSize, vm.PTE_U|vm.PTE_R|vm.PTE_W)
}

func putString(t *testing.T, m *Manager, va vm.Va_t, s string) {
	t.Helper()
	as := m.addrSpace()
	if err := as.CopyOut(va, append([]byte(s), 0)); err != 0 {
		t.Fatalf("CopyOut string: %v", err)
	}
}

func frame(a7 uint64, args ...uint64) *trap.Frame {
	f := &trap.Frame{A7: a7}
	slots := [3]*uint64{&f.A0, &f.A1, &f.A2}
	for i, v := range args {
		*slots[i] = v
	}
	return f
}

func mountFS(t *testing.T, m *Manager, name string) {
	t.Helper()
	fs := newTestMount(t, m)
	if err := m.Mount(name, fs); err != 0 {
		t.Fatalf("Mount(%q): %v", name, err)
	}
}

func TestSysPrintWritesMessageToKlogSink(t *testing.T) {
	m := newTestManager(t)
	mapScratch(t, m)
	putString(t, m, scratchVA, "hello from ring 3")

	var buf bytes.Buffer
	old := klog.Sink
	klog.Sink = &buf
	defer func() { klog.Sink = old }()

	f := frame(defs.SYS_PRINT, uint64(scratchVA))
	m.HandleSyscall(f)

	if f.A0 != 0 {
		t.Fatalf("sysprint A0 = %d, want 0", f.A0)
	}
	if f.Sepc != 4 {
		t.Fatalf("sysprint Sepc = %d, want 4", f.Sepc)
	}
	if buf.String() != "hello from ring 3" {
		t.Fatalf("klog.Sink = %q, want %q", buf.String(), "hello from ring 3")
	}
}

func TestSysFsCreateOpenWriteReadClose(t *testing.T) {
	m := newTestManager(t)
	mountFS(t, m, "fs")
	mapScratch(t, m)

	pathVA := scratchVA
	putString(t, m, pathVA, "fs/greeting")

	f := frame(defs.SYS_FSCREATE, uint64(pathVA))
	m.HandleSyscall(f)
	if int64(f.A0) != 0 {
		t.Fatalf("fscreate = %d, want 0", int64(f.A0))
	}

	f = frame(defs.SYS_OPEN, negOne(), uint64(pathVA))
	m.HandleSyscall(f)
	fd := int64(f.A0)
	if fd < 0 {
		t.Fatalf("open = %d, want a non-negative fd", fd)
	}

	bufVA := scratchVA + 256
	putString(t, m, bufVA, "payload")
	f = frame(defs.SYS_WRITE, uint64(fd), uint64(bufVA), 7)
	m.HandleSyscall(f)
	if int64(f.A0) != 7 {
		t.Fatalf("write = %d, want 7", int64(f.A0))
	}

	f = frame(defs.SYS_FCNTL, uint64(fd), uint64(defs.FCNTL_SETPOS), 0)
	m.HandleSyscall(f)
	if int64(f.A0) != 0 {
		t.Fatalf("fcntl setpos = %d, want 0", int64(f.A0))
	}

	readVA := scratchVA + 384
	f = frame(defs.SYS_READ, uint64(fd), uint64(readVA), 7)
	m.HandleSyscall(f)
	if int64(f.A0) != 7 {
		t.Fatalf("read = %d, want 7", int64(f.A0))
	}
	as := m.addrSpace()
	got := make([]byte, 7)
	if err := as.CopyIn(got, readVA); err != 0 {
		t.Fatalf("CopyIn: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("read back %q, want %q", got, "payload")
	}

	f = frame(defs.SYS_CLOSE, uint64(fd))
	m.HandleSyscall(f)
	if int64(f.A0) != 0 {
		t.Fatalf("close = %d, want 0", int64(f.A0))
	}

	f = frame(defs.SYS_CLOSE, uint64(fd))
	m.HandleSyscall(f)
	if int64(f.A0) != int64(defs.EBADFD) {
		t.Fatalf("second close = %d, want EBADFD", int64(f.A0))
	}

	f = frame(defs.SYS_FSDELETE, uint64(pathVA))
	m.HandleSyscall(f)
	if int64(f.A0) != 0 {
		t.Fatalf("fsdelete = %d, want 0", int64(f.A0))
	}
}

func TestSysOpenRequestedFdTaken(t *testing.T) {
	m := newTestManager(t)
	mountFS(t, m, "fs")
	mapScratch(t, m)
	putString(t, m, scratchVA, "fs/a")

	f := frame(defs.SYS_FSCREATE, uint64(scratchVA))
	m.HandleSyscall(f)

	f = frame(defs.SYS_OPEN, 3, uint64(scratchVA))
	m.HandleSyscall(f)
	if int64(f.A0) != 3 {
		t.Fatalf("open requesting fd 3 = %d, want 3", int64(f.A0))
	}

	f = frame(defs.SYS_OPEN, 3, uint64(scratchVA))
	m.HandleSyscall(f)
	if int64(f.A0) != int64(defs.EBADFD) {
		t.Fatalf("open of already-taken fd 3 = %d, want EBADFD", int64(f.A0))
	}
}

func TestSysReadWriteBadFdIsEbadfd(t *testing.T) {
	m := newTestManager(t)
	mapScratch(t, m)

	f := frame(defs.SYS_READ, 9, uint64(scratchVA), 4)
	m.HandleSyscall(f)
	if int64(f.A0) != int64(defs.EBADFD) {
		t.Fatalf("read on closed fd = %d, want EBADFD", int64(f.A0))
	}

	f = frame(defs.SYS_WRITE, 9, uint64(scratchVA), 4)
	m.HandleSyscall(f)
	if int64(f.A0) != int64(defs.EBADFD) {
		t.Fatalf("write on closed fd = %d, want EBADFD", int64(f.A0))
	}
}

func TestSysPipeRoundTrip(t *testing.T) {
	m := newTestManager(t)
	mapScratch(t, m)

	wfdVA := scratchVA
	rfdVA := scratchVA + 4
	as := m.addrSpace()
	if err := as.CopyOut(wfdVA, encode32(negOne())); err != 0 {
		t.Fatalf("CopyOut wfd: %v", err)
	}
	if err := as.CopyOut(rfdVA, encode32(negOne())); err != 0 {
		t.Fatalf("CopyOut rfd: %v", err)
	}

	f := frame(defs.SYS_PIPE, uint64(wfdVA), uint64(rfdVA))
	m.HandleSyscall(f)
	if int64(f.A0) != 0 {
		t.Fatalf("pipe = %d, want 0", int64(f.A0))
	}

	var wbuf, rbuf [4]byte
	if err := as.CopyIn(wbuf[:], wfdVA); err != 0 {
		t.Fatalf("CopyIn wfd: %v", err)
	}
	if err := as.CopyIn(rbuf[:], rfdVA); err != 0 {
		t.Fatalf("CopyIn rfd: %v", err)
	}
	wfd := int32(uint32(wbuf[0]) | uint32(wbuf[1])<<8 | uint32(wbuf[2])<<16 | uint32(wbuf[3])<<24)
	rfd := int32(uint32(rbuf[0]) | uint32(rbuf[1])<<8 | uint32(rbuf[2])<<16 | uint32(rbuf[3])<<24)
	if wfd == rfd {
		t.Fatalf("pipe handed back the same fd for both ends: %d", wfd)
	}

	payloadVA := scratchVA + 16
	putString(t, m, payloadVA, "pipeline")
	wf := frame(defs.SYS_WRITE, uint64(wfd), uint64(payloadVA), 8)
	m.HandleSyscall(wf)
	if int64(wf.A0) != 8 {
		t.Fatalf("pipe write = %d, want 8", int64(wf.A0))
	}

	readVA := scratchVA + 64
	rf := frame(defs.SYS_READ, uint64(rfd), uint64(readVA), 8)
	m.HandleSyscall(rf)
	if int64(rf.A0) != 8 {
		t.Fatalf("pipe read = %d, want 8", int64(rf.A0))
	}
	got := make([]byte, 8)
	if err := as.CopyIn(got, readVA); err != 0 {
		t.Fatalf("CopyIn: %v", err)
	}
	if string(got) != "pipeline" {
		t.Fatalf("pipe round trip = %q, want %q", got, "pipeline")
	}
}

func TestSysUioDupSharesUnderlyingRef(t *testing.T) {
	m := newTestManager(t)
	mountFS(t, m, "fs")
	mapScratch(t, m)
	putString(t, m, scratchVA, "fs/dup")

	f := frame(defs.SYS_FSCREATE, uint64(scratchVA))
	m.HandleSyscall(f)
	f = frame(defs.SYS_OPEN, negOne(), uint64(scratchVA))
	m.HandleSyscall(f)
	orig := int64(f.A0)

	f = frame(defs.SYS_UIODUP, uint64(orig), negOne())
	m.HandleSyscall(f)
	dup := int64(f.A0)
	if dup < 0 || dup == orig {
		t.Fatalf("uiodup = %d, want a fresh non-negative fd", dup)
	}

	f = frame(defs.SYS_CLOSE, uint64(orig))
	m.HandleSyscall(f)
	if int64(f.A0) != 0 {
		t.Fatalf("close orig = %d, want 0", int64(f.A0))
	}

	payloadVA := scratchVA + 128
	putString(t, m, payloadVA, "still open")
	wf := frame(defs.SYS_WRITE, uint64(dup), uint64(payloadVA), 10)
	m.HandleSyscall(wf)
	if int64(wf.A0) != 10 {
		t.Fatalf("write through dup after orig closed = %d, want 10", int64(wf.A0))
	}
}

func TestSysWaitJoinsSpawnedChild(t *testing.T) {
	m := newTestManager(t)
	tid, err := m.Threads().SpawnThread("helper", func() {})
	if err != 0 {
		t.Fatalf("SpawnThread: %v", err)
	}

	f := frame(defs.SYS_WAIT, uint64(tid))
	m.HandleSyscall(f)
	if int64(f.A0) != int64(tid) {
		t.Fatalf("wait = %d, want %d", int64(f.A0), tid)
	}
}

// negOne is -1 sign-extended into the low 32 bits of a uint64 syscall
// argument register, the "pick any free slot" sentinel every fd-allocating
// call accepts.
func negOne() uint64 {
	v := int64(-1)
	return uint64(v)
}

func encode32(v uint64) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}
