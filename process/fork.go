package process

import (
	"github.com/garvkuiuc/riscv-unix-kernel/defs"
	"github.com/garvkuiuc/riscv-unix-kernel/thread"
	"github.com/garvkuiuc/riscv-unix-kernel/trap"
)

// Fork creates a child process that is a copy of the calling one: a deep
// clone of its address space and a shallow copy (ref-counted) of its open
// descriptors. parentTfr is the trap frame the syscall layer trapped in
// on, unmodified; Fork derives the child's own frame from it (A0 zeroed,
// Sepc advanced past the ecall) rather than mutating the caller's.
//
// The child thread is spawned and parked immediately rather than run:
// there is no instruction interpreter to execute the user code its trap
// frame describes, so "resuming in user mode" has nothing to resume into.
// The park stands in for that missing execution — the child exists, owns
// its address space and descriptors, and is inspectable via Tfr, but will
// never reach Exit on its own. A caller driving it further (a test, or a
// future interpreter) would replace the park with an actual dispatch loop.
//
// Fork returns the child's tid to the parent, mirroring process_fork's
// return value becoming the parent's syscall result.
func (m *Manager) Fork(parentTfr *trap.Frame) (int, defs.Err_t) {
	p := m.Current()

	childAS := &procAddrSpace{m.vmm.CloneActiveMspace()}

	childTfr := *parentTfr
	childTfr.A0 = 0
	childTfr.Sepc += 4

	child := &Process{as: childAS, uioLock: thread.NewLock(), Tfr: &childTfr}

	done := thread.NewCondition("fork.done")
	parked := thread.NewCondition("fork.parked")
	tid, err := m.thr.SpawnThread("forked_child", func() {
		m.thr.Broadcast(done)
		m.thr.Wait(parked)
	})
	if err != 0 {
		m.discardAddrSpace(childAS)
		return 0, defs.ENOMEM
	}
	child.tid = tid
	m.procByTid[tid] = child
	m.thr.Thread(tid).SetProc(childAS)

	m.thr.Acquire(p.uioLock)
	for i, r := range p.uiotab {
		if r != nil {
			r.Dup()
			child.uiotab[i] = r
		}
	}
	m.thr.Release(p.uioLock)

	m.thr.Wait(done)

	return tid, 0
}

// discardAddrSpace frees as's root table and every page it reaches, the
// same switch-discard-switch-back sequence process_fork falls back on
// when it must tear down a freshly cloned address space that never got a
// thread to own it.
func (m *Manager) discardAddrSpace(as *procAddrSpace) {
	saved := m.vmm.ActiveMspace()
	m.vmm.SwitchMspace(as.AddrSpace.Mtag())
	m.vmm.DiscardActiveMspace()
	m.vmm.SwitchMspace(saved)
}
