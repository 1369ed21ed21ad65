package process

import (
	"github.com/garvkuiuc/riscv-unix-kernel/trap"
	"github.com/garvkuiuc/riscv-unix-kernel/vm"
)

// NewDispatcher wires m's syscall, page-fault, and scheduling operations
// into a fresh trap.Dispatcher — the glue a hart-entry trampoline installs
// once at boot so that every trap it decodes ends up calling back into
// process state without process importing trap's exception-classification
// code, or trap importing process's address-space/thread machinery.
//
// The preemption interval is one timer tick: "the timer tick computes
// whether a preemption interval has elapsed" (the dispatcher's own
// contract) collapses to "always" here, since there is no second, coarser
// counter layered on top of the tick rate itself in this design.
func NewDispatcher(m *Manager) *trap.Dispatcher {
	d := trap.NewDispatcher()
	d.Syscall = m.HandleSyscall
	d.PageFault = func(f *trap.Frame, cause trap.Cause, stval uint64) int {
		as := m.addrSpace()
		return int(vm.HandlePageFault(as, vm.Va_t(stval), pageFaultFlags(cause)))
	}
	d.Kill = func(f *trap.Frame, cause trap.Cause, stval uint64) {
		m.Exit()
	}
	d.TimerTick = func() {
		m.ticks++
		m.thr.Tick(m.ticks)
	}
	d.TimerPreemptionDue = func() bool { return true }
	d.Yield = m.thr.RunningThreadYield
	return d
}

// pageFaultFlags maps a page-fault cause to the access flags the faulting
// instruction needed, mirroring handle_umode_page_fault's cause-to-PTE
// translation.
func pageFaultFlags(cause trap.Cause) uint64 {
	switch cause {
	case trap.CauseInstrPageFault:
		return vm.PTE_U | vm.PTE_X
	case trap.CauseStorePageFault:
		return vm.PTE_U | vm.PTE_W
	default:
		return vm.PTE_U | vm.PTE_R
	}
}
