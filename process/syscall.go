package process

import (
	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/klog"
	"github.com/garvkuiuc/riscv-unix-kernel/thread"
	"github.com/garvkuiuc/riscv-unix-kernel/trap"
	"github.com/garvkuiuc/riscv-unix-kernel/uio"
	"github.com/garvkuiuc/riscv-unix-kernel/util"
	"github.com/garvkuiuc/riscv-unix-kernel/vm"
)

// HandleSyscall is the Syscall hook a trap.Dispatcher calls on an ecall
// from user mode. f is the trapping process's own frame (Current().Tfr),
// mutated in place the way handle_syscall mutates tfr: a7 selects the
// call, a0..a5 carry its arguments, and on return a0 carries the result
// and sepc advances past the ecall so the process resumes after it.
//
// exit and exec are handled separately: exit ends the thread before
// there is a frame left to write a result into, and a successful exec
// installs a fresh entry frame as the process's Tfr rather than returning
// a value into f, which it leaves untouched. Every other call goes
// through dispatch's ordinary value-returning path.
func (m *Manager) HandleSyscall(f *trap.Frame) {
	switch f.A7 {
	case defs.SYS_EXIT:
		m.sysExit()
	case defs.SYS_EXEC:
		m.sysExecTrap(f)
	default:
		ret := m.dispatch(f)
		f.A0 = uint64(ret)
		f.Sepc += 4
	}
}

func (m *Manager) dispatch(f *trap.Frame) int64 {
	switch f.A7 {
	case defs.SYS_FORK:
		tid, err := m.Fork(f)
		if err != 0 {
			return int64(err)
		}
		return int64(tid)
	case defs.SYS_WAIT:
		return int64(m.sysWait(int(f.A0)))
	case defs.SYS_PRINT:
		return int64(m.sysPrint(vm.Va_t(f.A0)))
	case defs.SYS_USLEEP:
		return int64(m.sysUsleep(f.A0))
	case defs.SYS_FSCREATE:
		return int64(m.sysFsCreate(vm.Va_t(f.A0)))
	case defs.SYS_FSDELETE:
		return int64(m.sysFsDelete(vm.Va_t(f.A0)))
	case defs.SYS_OPEN:
		return int64(m.sysOpen(int(f.A0), vm.Va_t(f.A1)))
	case defs.SYS_CLOSE:
		return int64(m.sysClose(int(f.A0)))
	case defs.SYS_READ:
		return int64(m.sysRead(int(f.A0), vm.Va_t(f.A1), int(f.A2)))
	case defs.SYS_WRITE:
		return int64(m.sysWrite(int(f.A0), vm.Va_t(f.A1), int(f.A2)))
	case defs.SYS_FCNTL:
		return int64(m.sysFcntl(int(f.A0), int(f.A1), vm.Va_t(f.A2)))
	case defs.SYS_PIPE:
		return int64(m.sysPipe(vm.Va_t(f.A0), vm.Va_t(f.A1)))
	case defs.SYS_UIODUP:
		return int64(m.sysUioDup(int(f.A0), int(f.A1)))
	default:
		return int64(defs.ENOTSUP)
	}
}

// addrSpace returns the address space the calling process's user pointers
// resolve against.
func (m *Manager) addrSpace() *vm.AddrSpace {
	return m.Current().as.AddrSpace
}

// fdLookup returns the uiotab entry at fd, or EBADFD if fd is out of
// range or the slot is empty, mirroring every handler's opening
// "(unsigned)fd >= 16" / NULL check.
func (m *Manager) fdLookup(p *Process, fd int) (*uio.Ref, defs.Err_t) {
	if fd < 0 || fd >= UioMax {
		return nil, defs.EBADFD
	}
	m.thr.Acquire(p.uioLock)
	r := p.uiotab[fd]
	m.thr.Release(p.uioLock)
	if r == nil {
		return nil, defs.EBADFD
	}
	return r, 0
}

// fdAlloc picks a slot for a new descriptor: with want >= 0, that slot if
// it is below UioMax and free, else EBADFD; with want < 0, the lowest free
// slot. This is the "caller may request a specific fd, or -1 for the first
// free one" pattern sysopen, syspipe, and sysuiodup all share. avoid, if >= 0, is excluded even when
// free (syspipe must not hand the same slot to both ends).
func (m *Manager) fdAlloc(p *Process, want, avoid int) (int, defs.Err_t) {
	m.thr.Acquire(p.uioLock)
	defer m.thr.Release(p.uioLock)
	if want >= 0 {
		if want >= UioMax || p.uiotab[want] != nil || want == avoid {
			return 0, defs.EBADFD
		}
		return want, 0
	}
	for i := 0; i < UioMax; i++ {
		if p.uiotab[i] == nil && i != avoid {
			return i, 0
		}
	}
	return 0, defs.EMFILE
}

func (m *Manager) sysExit() {
	m.Exit()
}

// sysExecTrap validates fd and argv against f (the trapping process's own
// frame) and, once validated, hands off to Exec. Validation failures write
// an ordinary negative result into f and advance its sepc, the same as any
// other failed syscall; a validated exec attempt never touches f again,
// since Exec either replaces the process's frame outright or kills it.
func (m *Manager) sysExecTrap(f *trap.Frame) {
	fail := func(err defs.Err_t) {
		f.A0 = uint64(err)
		f.Sepc += 4
	}

	fd := int(f.A0)
	argc := int(f.A1)
	argvVA := vm.Va_t(f.A2)

	if fd < 0 || fd >= UioMax {
		fail(defs.EBADFD)
		return
	}
	if argc < 0 {
		fail(defs.EINVAL)
		return
	}
	p := m.Current()
	ref, err := m.fdLookup(p, fd)
	if err != 0 {
		fail(err)
		return
	}

	as := p.as.AddrSpace
	argv := make([]string, argc)
	if argc > 0 {
		if err := as.ValidateVptr(argvVA, (argc+1)*8, vm.PTE_U|vm.PTE_R); err != 0 {
			fail(err)
			return
		}
		for i := 0; i < argc; i++ {
			var ptr [8]byte
			if err := as.CopyIn(ptr[:], argvVA+vm.Va_t(i*8)); err != 0 {
				fail(err)
				return
			}
			s, err := as.CopyInString(vm.Va_t(util.Readn(ptr[:], 8, 0)))
			if err != 0 {
				fail(err)
				return
			}
			argv[i] = s
		}
	}

	// ref stays installed at fd: Exec does not close or otherwise touch
	// the descriptor table, so the executable's own uio survives into the
	// new image at the same fd number it was opened at.
	m.Exec(ref, argv)
}

func (m *Manager) sysWait(tid int) int {
	r, err := m.thr.ThreadJoin(tid)
	if err != 0 {
		return int(err)
	}
	return r
}

func (m *Manager) sysPrint(msgVA vm.Va_t) defs.Err_t {
	as := m.addrSpace()
	if _, err := as.ValidateVstr(msgVA, vm.PTE_U|vm.PTE_R); err != 0 {
		return err
	}
	msg, err := as.CopyInString(msgVA)
	if err != 0 {
		return err
	}
	klog.Printf("%s", msg)
	return 0
}

func (m *Manager) sysUsleep(us uint64) defs.Err_t {
	alarm := thread.NewAlarm()
	m.thr.Sleep(alarm, us)
	return 0
}

func (m *Manager) sysFsCreate(pathVA vm.Va_t) defs.Err_t {
	path, err := m.copyInPath(pathVA)
	if err != 0 {
		return err
	}
	return m.createPath(path)
}

func (m *Manager) sysFsDelete(pathVA vm.Va_t) defs.Err_t {
	path, err := m.copyInPath(pathVA)
	if err != 0 {
		return err
	}
	return m.deletePath(path)
}

func (m *Manager) sysOpen(fd int, pathVA vm.Va_t) int {
	path, err := m.copyInPath(pathVA)
	if err != 0 {
		return int(err)
	}
	p := m.Current()
	slot, err := m.fdAlloc(p, fd, -1)
	if err != 0 {
		return int(err)
	}
	u, err := m.openPath(path)
	if err != 0 {
		return int(err)
	}
	m.thr.Acquire(p.uioLock)
	p.uiotab[slot] = uio.NewRef(m.thr, u)
	m.thr.Release(p.uioLock)
	return slot
}

func (m *Manager) sysClose(fd int) defs.Err_t {
	p := m.Current()
	ref, err := m.fdLookup(p, fd)
	if err != 0 {
		return err
	}
	m.thr.Acquire(p.uioLock)
	p.uiotab[fd] = nil
	m.thr.Release(p.uioLock)
	return ref.Close()
}

func (m *Manager) sysRead(fd int, bufVA vm.Va_t, bufsz int) int {
	if bufsz == 0 {
		return 0
	}
	p := m.Current()
	ref, err := m.fdLookup(p, fd)
	if err != 0 {
		return int(err)
	}
	as := p.as.AddrSpace
	if err := as.ValidateVptr(bufVA, bufsz, vm.PTE_U|vm.PTE_W); err != 0 {
		return int(err)
	}
	buf := make([]byte, bufsz)
	n, err := ref.Read(buf)
	if err != 0 {
		return int(err)
	}
	if err := as.CopyOut(bufVA, buf[:n]); err != 0 {
		return int(err)
	}
	return n
}

func (m *Manager) sysWrite(fd int, bufVA vm.Va_t, length int) int {
	if length <= 0 {
		return 0
	}
	p := m.Current()
	ref, err := m.fdLookup(p, fd)
	if err != 0 {
		return int(err)
	}
	as := p.as.AddrSpace
	if err := as.ValidateVptr(bufVA, length, vm.PTE_U|vm.PTE_R); err != 0 {
		return int(err)
	}
	buf := make([]byte, length)
	if err := as.CopyIn(buf, bufVA); err != 0 {
		return int(err)
	}
	n, err := ref.Write(buf)
	if err != 0 {
		return int(err)
	}
	return n
}

func (m *Manager) sysFcntl(fd, cmd int, argVA vm.Va_t) int {
	p := m.Current()
	ref, err := m.fdLookup(p, fd)
	if err != 0 {
		return int(err)
	}
	as := p.as.AddrSpace
	var arg uint64
	if argVA != 0 {
		if err := as.ValidateVptr(argVA, 8, vm.PTE_U|vm.PTE_R|vm.PTE_W); err != 0 {
			return int(err)
		}
		var buf [8]byte
		if err := as.CopyIn(buf[:], argVA); err != 0 {
			return int(err)
		}
		arg = util.Readn(buf[:], 8, 0)
	}
	ret, err := ref.Cntl(cmd, arg)
	if err != 0 {
		return int(err)
	}
	if argVA != 0 {
		var buf [8]byte
		util.Writen(buf[:], 8, 0, ret)
		if err := as.CopyOut(argVA, buf[:]); err != 0 {
			return int(err)
		}
	}
	return 0
}

func (m *Manager) sysPipe(wfdVA, rfdVA vm.Va_t) defs.Err_t {
	as := m.addrSpace()
	if err := as.ValidateVptr(wfdVA, 4, vm.PTE_U|vm.PTE_R|vm.PTE_W); err != 0 {
		return err
	}
	if err := as.ValidateVptr(rfdVA, 4, vm.PTE_U|vm.PTE_R|vm.PTE_W); err != 0 {
		return err
	}
	var wbuf, rbuf [4]byte
	if err := as.CopyIn(wbuf[:], wfdVA); err != 0 {
		return err
	}
	if err := as.CopyIn(rbuf[:], rfdVA); err != 0 {
		return err
	}
	wantW := int(int32(util.Readn(wbuf[:], 4, 0)))
	wantR := int(int32(util.Readn(rbuf[:], 4, 0)))

	p := m.Current()
	wfd, err := m.fdAlloc(p, wantW, -1)
	if err != 0 {
		return err
	}
	rfd, err := m.fdAlloc(p, wantR, wfd)
	if err != 0 {
		return err
	}

	rio, wio := uio.NewPipe(m.thr)
	m.thr.Acquire(p.uioLock)
	p.uiotab[wfd] = uio.NewRef(m.thr, wio)
	p.uiotab[rfd] = uio.NewRef(m.thr, rio)
	m.thr.Release(p.uioLock)

	util.Writen(wbuf[:], 4, 0, uint64(wfd))
	util.Writen(rbuf[:], 4, 0, uint64(rfd))
	if err := as.CopyOut(wfdVA, wbuf[:]); err != 0 {
		return err
	}
	if err := as.CopyOut(rfdVA, rbuf[:]); err != 0 {
		return err
	}
	return 0
}

func (m *Manager) sysUioDup(oldfd, newfd int) int {
	p := m.Current()
	ref, err := m.fdLookup(p, oldfd)
	if err != 0 {
		return int(err)
	}
	slot, err := m.fdAlloc(p, newfd, -1)
	if err != 0 {
		return int(err)
	}
	ref.Dup()
	m.thr.Acquire(p.uioLock)
	p.uiotab[slot] = ref
	m.thr.Release(p.uioLock)
	return slot
}

// copyInPath validates and copies a path string out of user memory into a
// Go string, the counterpart of every handler's "validate_vstr then copy
// into a fixed kernel buffer" preamble before parse_path runs on it.
func (m *Manager) copyInPath(pathVA vm.Va_t) (string, defs.Err_t) {
	as := m.addrSpace()
	if _, err := as.ValidateVstr(pathVA, vm.PTE_U|vm.PTE_R); err != 0 {
		return "", err
	}
	return as.CopyInString(pathVA)
}
