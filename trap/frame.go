// Package trap models the machine state that crosses the user/supervisor
// boundary: the saved register frame, the exception/interrupt causes RISC-V
// reports in scause, and the dispatch hooks that route a trap to whatever
// owns process and memory state.
//
// There is no real hart here, so nothing in this package executes RISC-V
// instructions. Frame is the artifact a real trap_frame_jump would consume
// to resume a user thread; callers that want to model "running" user code
// construct a Frame and inspect it instead of jumping to it.
package trap

// Frame mirrors struct trap_frame: every register a trap handler must save
// before touching anything else and restore before returning to user mode.
// Field order has no significance here since there is no assembly save/
// restore sequence walking it positionally.
type Frame struct {
	A0, A1, A2, A3, A4, A5, A6, A7 uint64
	T0, T1, T2, T3, T4, T5, T6     uint64
	S1, S2, S3, S4, S5, S6, S7     uint64
	S8, S9, S10, S11               uint64

	Ra, Sp, Gp, Tp uint64

	Sstatus uint64
	Instret uint64

	Fp   uint64
	Sepc uint64
}

// Cause is a decoded scause value: the mode bit stripped off, interrupt and
// exception causes kept in separate namespaces the way intr.c and excp.c
// branch on them.
type Cause int

// Exception causes, named the way excp_names labels them in a panic message.
const (
	CauseInstrAddrMisaligned Cause = 0
	CauseInstrAccessFault    Cause = 1
	CauseIllegalInstr        Cause = 2
	CauseBreakpoint          Cause = 3
	CauseLoadAddrMisaligned  Cause = 4
	CauseLoadAccessFault     Cause = 5
	CauseStoreAddrMisaligned Cause = 6
	CauseStoreAccessFault    Cause = 7
	CauseEcallFromUmode      Cause = 8
	CauseEcallFromSmode      Cause = 9
	CauseInstrPageFault      Cause = 12
	CauseLoadPageFault       Cause = 13
	CauseStorePageFault      Cause = 15
)

// Interrupt causes, reported via scause with the interrupt bit already
// stripped off by the caller.
const (
	CauseSTI Cause = 5 // supervisor timer interrupt
	CauseSEI Cause = 9 // supervisor external interrupt
)

var excpNames = map[Cause]string{
	CauseInstrAddrMisaligned: "instruction address misaligned",
	CauseInstrAccessFault:    "instruction access fault",
	CauseIllegalInstr:        "illegal instruction",
	CauseBreakpoint:          "breakpoint",
	CauseLoadAddrMisaligned:  "load address misaligned",
	CauseLoadAccessFault:     "load access fault",
	CauseStoreAddrMisaligned: "store address misaligned",
	CauseStoreAccessFault:    "store access fault",
	CauseEcallFromUmode:      "ecall from u-mode",
	CauseEcallFromSmode:      "ecall from s-mode",
	CauseInstrPageFault:      "instruction page fault",
	CauseLoadPageFault:       "load page fault",
	CauseStorePageFault:      "store page fault",
}

// String names a cause the way a panic message would report it, returning
// "unknown cause" for anything not in the table.
func (c Cause) String() string {
	if s, ok := excpNames[c]; ok {
		return s
	}
	return "unknown cause"
}

// faultingAddr reports whether a cause's handler should also print stval,
// mirroring excp.c's choice to include the faulting address for page
// faults, access faults, and misaligned accesses but not for others.
func (c Cause) faultingAddr() bool {
	switch c {
	case CauseInstrAddrMisaligned, CauseInstrAccessFault,
		CauseLoadAddrMisaligned, CauseLoadAccessFault,
		CauseStoreAddrMisaligned, CauseStoreAccessFault,
		CauseInstrPageFault, CauseLoadPageFault, CauseStorePageFault:
		return true
	default:
		return false
	}
}

// IsPageFault reports whether c is one of the three page fault causes.
func (c Cause) IsPageFault() bool {
	switch c {
	case CauseInstrPageFault, CauseLoadPageFault, CauseStorePageFault:
		return true
	default:
		return false
	}
}
