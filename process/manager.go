// Package process implements process-level state on top of threads,
// address spaces, and descriptor tables: exec/fork/exit, the mount table a
// path resolves against, and the syscall dispatch table a trap hands
// control to.
package process

import (
	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/ktfs"
	"github.com/garvkuiuc/riscv-unix-kernel/thread"
	"github.com/garvkuiuc/riscv-unix-kernel/trap"
	"github.com/garvkuiuc/riscv-unix-kernel/uio"
	"github.com/garvkuiuc/riscv-unix-kernel/vm"
)

// UioMax is the size of a process's descriptor table, mirroring
// PROCESS_UIOMAX.
const UioMax = 16

// Process is one user process: the thread running it, the address space
// it executes in, and its open descriptors. Tfr holds the trap frame
// built by Exec or Fork — the artifact a real trap_frame_jump would
// consume to resume this process in user mode. There is no instruction
// interpreter here to actually execute past that jump, so Tfr is left for
// inspection (by tests, or by a future interpreter) rather than consumed.
type Process struct {
	tid int
	as  *procAddrSpace

	uioLock *thread.Lock
	uiotab  [UioMax]*uio.Ref

	Tfr *trap.Frame
}

// Tid returns the id of the thread running this process.
func (p *Process) Tid() int { return p.tid }

// Manager owns every live process, the mount table paths resolve against,
// and the thread/address-space managers everything else is built on.
type Manager struct {
	thr *thread.Manager
	vmm *vm.Manager

	procByTid [thread.NTHR]*Process

	mountLock *thread.Lock
	mounts    map[string]*ktfs.Mount

	ticks uint64
}

// NewManager wires a fresh thread manager to vmm's SwitchMspace so that
// scheduling a thread also installs whatever address space its process
// last set via SetProc, and returns a Manager with process 0 (the calling
// goroutine, main thread) installed in the kernel's main address space.
func NewManager(vmm *vm.Manager) *Manager {
	m := &Manager{
		vmm:       vmm,
		mountLock: thread.NewLock(),
		mounts:    make(map[string]*ktfs.Mount),
	}
	m.thr = thread.NewManager(func(mtag uint64) {
		vmm.SwitchMspace(vm.Mtag_t(mtag))
	})

	main := &Process{
		tid:     thread.MainTID,
		as:      &procAddrSpace{vmm.Main()},
		uioLock: thread.NewLock(),
	}
	for fd := 0; fd < 3; fd++ {
		main.uiotab[fd] = uio.NewRef(m.thr, console{})
	}
	m.procByTid[thread.MainTID] = main
	m.thr.Thread(thread.MainTID).SetProc(main.as)
	return m
}

// Threads exposes the underlying thread manager, for callers (the trap
// dispatcher's Yield hook, tests) that need to suspend/resume threads
// directly rather than through a process operation.
func (m *Manager) Threads() *thread.Manager { return m.thr }

// Current returns the process owning the calling goroutine's thread.
func (m *Manager) Current() *Process {
	return m.procByTid[m.thr.Current().ID()]
}

// Mount attaches fs at name, the mount point a path's first component
// selects. Returns EEXIST if name is already mounted, mirroring
// attach_filesystem.
func (m *Manager) Mount(name string, fs *ktfs.Mount) defs.Err_t {
	m.thr.Acquire(m.mountLock)
	defer m.thr.Release(m.mountLock)
	if _, ok := m.mounts[name]; ok {
		return defs.EEXIST
	}
	m.mounts[name] = fs
	return 0
}

func (m *Manager) getfs(name string) *ktfs.Mount {
	m.thr.Acquire(m.mountLock)
	defer m.thr.Release(m.mountLock)
	return m.mounts[name]
}

// parsePath splits "mount/name" into its two non-empty components,
// skipping any leading slashes first. Mirrors parse_path: both halves
// must be present and non-empty, and there must be exactly one slash
// boundary between them (the remainder of name after the first slash is
// kept verbatim, so "mount/sub/name" yields flname "sub/name" — KTFS's
// flat namespace then rejects it on its own terms).
func parsePath(path string) (mount, name string, err defs.Err_t) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	path = path[i:]
	if path == "" {
		return "", "", defs.EINVAL
	}
	slash := -1
	for i := 0; i < len(path); i++ {
		if path[i] == '/' {
			slash = i
			break
		}
	}
	if slash < 0 {
		return "", "", defs.EINVAL
	}
	mount, name = path[:slash], path[slash+1:]
	if mount == "" || name == "" {
		return "", "", defs.EINVAL
	}
	return mount, name, 0
}

// openPath resolves path against the mount table and opens it, the Go
// counterpart of open_file.
func (m *Manager) openPath(path string) (uio.Uio, defs.Err_t) {
	mount, name, err := parsePath(path)
	if err != 0 {
		return nil, err
	}
	fs := m.getfs(mount)
	if fs == nil {
		return nil, defs.ENOENT
	}
	return fs.Open(name)
}

func (m *Manager) createPath(path string) defs.Err_t {
	mount, name, err := parsePath(path)
	if err != 0 {
		return err
	}
	fs := m.getfs(mount)
	if fs == nil {
		return defs.ENOENT
	}
	return fs.Create(name)
}

func (m *Manager) deletePath(path string) defs.Err_t {
	mount, name, err := parsePath(path)
	if err != 0 {
		return err
	}
	fs := m.getfs(mount)
	if fs == nil {
		return defs.ENOENT
	}
	return fs.Delete(name)
}
