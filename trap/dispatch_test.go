package trap

import "testing"

func TestHandleUmodeExceptionEcallCallsSyscall(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.Syscall = func(f *Frame) { called = true; f.A0 = 42 }
	f := &Frame{}
	d.HandleUmodeException(f, CauseEcallFromUmode, 0)
	if !called {
		t.Fatal("Syscall hook not called")
	}
	if f.A0 != 42 {
		t.Fatalf("A0 = %d, want 42", f.A0)
	}
}

func TestHandleUmodeExceptionResolvedPageFaultDoesNotKill(t *testing.T) {
	d := NewDispatcher()
	d.PageFault = func(f *Frame, cause Cause, stval uint64) int { return 0 }
	killed := false
	d.Kill = func(f *Frame, cause Cause, stval uint64) { killed = true }
	d.HandleUmodeException(&Frame{}, CauseLoadPageFault, 0x1000)
	if killed {
		t.Fatal("Kill called after page fault resolved")
	}
}

func TestHandleUmodeExceptionUnresolvedPageFaultKills(t *testing.T) {
	d := NewDispatcher()
	d.PageFault = func(f *Frame, cause Cause, stval uint64) int { return -1 }
	var gotCause Cause
	var gotStval uint64
	d.Kill = func(f *Frame, cause Cause, stval uint64) { gotCause, gotStval = cause, stval }
	d.HandleUmodeException(&Frame{}, CauseStorePageFault, 0x2000)
	if gotCause != CauseStorePageFault || gotStval != 0x2000 {
		t.Fatalf("Kill got (%v, %#x), want (%v, 0x2000)", gotCause, gotStval, CauseStorePageFault)
	}
}

func TestHandleUmodeExceptionOtherCauseKills(t *testing.T) {
	d := NewDispatcher()
	killed := false
	d.Kill = func(f *Frame, cause Cause, stval uint64) { killed = true }
	d.HandleUmodeException(&Frame{}, CauseIllegalInstr, 0)
	if !killed {
		t.Fatal("Kill not called for illegal instruction")
	}
}

func TestHandleSmodeExceptionPanics(t *testing.T) {
	d := NewDispatcher()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	d.HandleSmodeException(&Frame{Sepc: 0x8000}, CauseIllegalInstr, 0)
}

func TestHandleInterruptTimerYieldsOnlyWhenDueAndFromUmode(t *testing.T) {
	tests := []struct {
		due       bool
		fromUmode bool
		wantYield bool
	}{
		{true, true, true},
		{true, false, false},
		{false, true, false},
		{false, false, false},
	}
	for _, tt := range tests {
		ticked := false
		yielded := false
		d := NewDispatcher()
		d.TimerTick = func() { ticked = true }
		d.TimerPreemptionDue = func() bool { return tt.due }
		d.Yield = func() { yielded = true }
		d.HandleInterrupt(CauseSTI, tt.fromUmode, 0)
		if !ticked {
			t.Fatal("TimerTick not called")
		}
		if yielded != tt.wantYield {
			t.Fatalf("due=%v fromUmode=%v: yielded=%v, want %v", tt.due, tt.fromUmode, yielded, tt.wantYield)
		}
	}
}

func TestHandleInterruptExternDispatchesRegisteredISR(t *testing.T) {
	d := NewDispatcher()
	var gotSrc int
	d.RegisterISR(3, func(srcno int) { gotSrc = srcno })
	d.HandleInterrupt(CauseSEI, false, 3)
	if gotSrc != 3 {
		t.Fatalf("gotSrc = %d, want 3", gotSrc)
	}
}

func TestHandleInterruptExternUnregisteredPanics(t *testing.T) {
	d := NewDispatcher()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	d.HandleInterrupt(CauseSEI, false, 7)
}

func TestCauseStringKnownAndUnknown(t *testing.T) {
	if got := CauseIllegalInstr.String(); got != "illegal instruction" {
		t.Fatalf("String() = %q", got)
	}
	if got := Cause(999).String(); got != "unknown cause" {
		t.Fatalf("String() = %q, want unknown cause", got)
	}
}
