package process

import "github.com/garvkuiuc/riscv-unix-kernel/thread"

// Exit tears down the calling process: close every open descriptor,
// discard its address space, drop it from the process table (unless it
// is the main process), and exit the underlying thread. Mirrors
// process_exit's teardown, in that order.
func (m *Manager) Exit() {
	p := m.Current()

	m.thr.Acquire(p.uioLock)
	for i, r := range p.uiotab {
		if r != nil {
			r.Close()
			p.uiotab[i] = nil
		}
	}
	m.thr.Release(p.uioLock)

	m.vmm.DiscardActiveMspace()

	if p.tid != thread.MainTID {
		m.procByTid[p.tid] = nil
	}

	m.thr.RunningThreadExit()
}
