package trap

import "github.com/garvkuiuc/riscv-unix-kernel/klog"

// Dispatcher routes decoded traps to whatever owns process and address
// space state, without importing that package: every outcome that needs
// process-level knowledge is an injected hook instead of a direct call.
// This keeps trap a leaf package that process depends on, not the other
// way around, mirroring how excp.c only forward-declares handle_syscall
// and leaves it defined elsewhere.
type Dispatcher struct {
	// Syscall handles an ecall from u-mode. It must set Frame.A0 to the
	// return value itself; HandleUmodeException does not touch A0.
	Syscall func(f *Frame)

	// PageFault handles a page fault taken from u-mode. It returns 0 if
	// the fault was resolved and the frame can simply be resumed, or a
	// defs.Err_t-shaped nonzero value if the access was never valid and
	// the calling thread should be killed.
	PageFault func(f *Frame, cause Cause, stval uint64) int

	// Kill is called when a u-mode trap can't be resolved: an
	// unhandled page fault, or any other uncaught exception. It should
	// not return.
	Kill func(f *Frame, cause Cause, stval uint64)

	// TimerTick runs on every supervisor timer interrupt, before the
	// preemption check.
	TimerTick func()

	// TimerPreemptionDue reports whether the tick that just ran should
	// force a yield back to the scheduler.
	TimerPreemptionDue func() bool

	// Yield runs when a timer interrupt preempts a u-mode thread.
	Yield func()

	isrtab map[int]func(srcno int)
}

// NewDispatcher returns a Dispatcher with no hooks and no registered ISRs.
// Every hook must be set before use; a nil hook dispatched to panics, the
// same way excp.c panics when handle_umode_page_fault falls through
// unhandled and there is nothing left to do but log and die.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{isrtab: make(map[int]func(srcno int))}
}

// RegisterISR installs the handler for external interrupts claimed from
// source srcno, the hosted stand-in for a PLIC's per-IRQ vector. There is
// no real PLIC here: handleExternInterrupt just looks srcno up directly
// instead of claiming it from a controller.
func (d *Dispatcher) RegisterISR(srcno int, isr func(srcno int)) {
	d.isrtab[srcno] = isr
}

// HandleSmodeException mirrors handle_smode_exception: a trap taken while
// already in the kernel is always fatal, since an S-mode exception means
// the kernel itself did something it shouldn't have.
func (d *Dispatcher) HandleSmodeException(f *Frame, cause Cause, stval uint64) {
	if cause.faultingAddr() {
		klog.Panicf("fatal s-mode exception: %s at sepc=%#x stval=%#x", cause, f.Sepc, stval)
	}
	klog.Panicf("fatal s-mode exception: %s at sepc=%#x", cause, f.Sepc)
}

// HandleUmodeException mirrors handle_umode_exception: an ecall dispatches
// to the syscall hook, a page fault gets one chance at the page fault
// hook, and anything else (or a page fault the hook declines) kills the
// faulting thread.
func (d *Dispatcher) HandleUmodeException(f *Frame, cause Cause, stval uint64) {
	if cause == CauseEcallFromUmode {
		d.Syscall(f)
		return
	}
	if cause.IsPageFault() {
		if d.PageFault(f, cause, stval) == 0 {
			return
		}
	}
	klog.Printf("killing thread: %s at sepc=%#x stval=%#x", cause, f.Sepc, stval)
	d.Kill(f, cause, stval)
}

// HandleInterrupt mirrors handle_interrupt: a timer interrupt always ticks
// the clock, then yields back to the scheduler only if the tick was due
// for preemption and the trapped frame came from u-mode (fromUmode mirrors
// intr.c's SSTATUS.SPP == 0 check). An external interrupt dispatches
// through the ISR table, panicking if nothing claimed the source, the same
// as handle_extern_interrupt does for an unregistered IRQ. srcno is only
// meaningful for CauseSEI: there is no PLIC here to claim it, so the
// caller must supply whatever claimed the interrupt.
func (d *Dispatcher) HandleInterrupt(cause Cause, fromUmode bool, srcno int) {
	switch cause {
	case CauseSTI:
		d.TimerTick()
		if d.TimerPreemptionDue() && fromUmode {
			d.Yield()
		}
	case CauseSEI:
		d.handleExternInterrupt(srcno)
	default:
		klog.Panicf("unexpected interrupt cause %s", cause)
	}
}

// handleExternInterrupt looks up the ISR registered for srcno, the hosted
// stand-in for a PLIC claim register telling the handler which source
// fired.
func (d *Dispatcher) handleExternInterrupt(srcno int) {
	isr, ok := d.isrtab[srcno]
	if !ok {
		klog.Panicf("external interrupt from unregistered source %d", srcno)
	}
	isr(srcno)
}
