// Package thread implements the fixed-size thread table, the ready-list
// scheduler, and the blocking primitives (conditions, recursive locks,
// alarms) every other kernel package parks on.
//
// There is no tp register to stash a *Thread in, and no assembly context
// switch to write in a hosted Go process. Each thread body still runs as
// an independent goroutine, the way a real thread runs as an independent
// hardware context, but handing control from one to the next is done with
// a per-thread rendezvous channel instead of a register save/restore: the
// scheduler signals the next thread's channel and then, unless the caller
// is exiting, blocks on its own until it is scheduled again. Because
// exactly one thread is ever in the SELF state at a time, "the running
// thread" is a single package-level pointer rather than a per-goroutine
// lookup.
package thread

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/garvkuiuc/riscv-unix-kernel/defs"
)

// NTHR is the size of the thread table. Slot 0 is always the main thread;
// slot NTHR-1 is always the idle thread.
const NTHR = 16

const (
	MainTID = 0
	IdleTID = NTHR - 1
)

// State is a thread's scheduling state.
type State int

const (
	Uninitialized State = iota
	Waiting
	Self
	Ready
	Exited
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Waiting:
		return "WAITING"
	case Self:
		return "SELF"
	case Ready:
		return "READY"
	case Exited:
		return "EXITED"
	default:
		return "UNDEFINED"
	}
}

// AddrSpaceRef is the minimal view of a process a thread needs in order to
// have its address space installed when scheduled. Satisfied by
// *vm.AddrSpace through a small adapter in the process package; kept as an
// interface here so thread has no dependency on vm.
type AddrSpaceRef interface {
	Mtag() uint64
}

// Thread is one entry in the thread table.
type Thread struct {
	id    int
	state State
	name  string

	proc   AddrSpaceRef
	parent *Thread

	waitCond  *Condition
	childExit Condition
	lockList  *Lock

	turn chan struct{}
	entry func()
}

// ID returns the thread's slot index in the table.
func (t *Thread) ID() int { return t.id }

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name }

// State returns the thread's current scheduling state.
func (t *Thread) State() State { return t.state }

// SetProc installs the address space to switch to when this thread is
// scheduled. A nil proc means "no address space switch" (the thread runs
// in whatever address space was last active, as the main/idle threads do).
func (t *Thread) SetProc(p AddrSpaceRef) { t.proc = p }

// Proc returns the address space reference installed by SetProc.
func (t *Thread) Proc() AddrSpaceRef { return t.proc }

// Manager owns the thread table, the ready list, and the currently running
// thread. All of its bookkeeping is protected by a single mutex, standing
// in for the disable_interrupts()/restore_interrupts() pairs guarding
// thread-list manipulation.
type Manager struct {
	mu        sync.Mutex
	readyCond *sync.Cond
	threads   [NTHR]*Thread
	readyList *list.List // of *Thread

	switchHook func(mtag uint64)

	clock    uint64
	sleeping *Alarm

	running atomic.Pointer[Thread]
}

// NewManager creates a thread table with the main thread occupying the
// calling goroutine and an idle thread ready to run as the scheduling
// fallback. switchHook, if non-nil, is called with the mtag of a thread's
// installed address space whenever that thread is scheduled.
func NewManager(switchHook func(mtag uint64)) *Manager {
	m := &Manager{
		readyList:  list.New(),
		switchHook: switchHook,
	}
	m.readyCond = sync.NewCond(&m.mu)
	main := &Thread{id: MainTID, name: "main", state: Self, turn: make(chan struct{}, 1)}
	main.childExit = newCondition("main.child_exit")
	m.threads[MainTID] = main
	m.running.Store(main)

	idle := &Thread{id: IdleTID, name: "idle", state: Ready, parent: main, turn: make(chan struct{}, 1)}
	idle.childExit = newCondition("idle.child_exit")
	m.threads[IdleTID] = idle
	idle.entry = func() { m.idleLoop(idle) }
	go m.runBody(idle)

	return m
}

// Current returns the thread presently in the SELF state.
func (m *Manager) Current() *Thread {
	return m.running.Load()
}

// idleLoop stands in for the wfi-based idle loop: instead of spinning, it
// parks on readyCond, the analogue of the race-free disable-interrupts-
// then-wfi dance the original does around checking the ready list.
func (m *Manager) idleLoop(self *Thread) {
	for {
		m.mu.Lock()
		for m.readyList.Len() == 0 {
			m.readyCond.Wait()
		}
		m.mu.Unlock()
		m.RunningThreadYield()
	}
}

// runBody is the goroutine trampoline for every spawned thread: it blocks
// until first scheduled, runs entry, then exits on return.
func (m *Manager) runBody(t *Thread) {
	<-t.turn
	t.entry()
	m.RunningThreadExit()
}

// SpawnThread creates a new thread running entry in its own goroutine,
// places it on the ready list, and returns its ID. It returns EMTHR if the
// thread table is full.
func (m *Manager) SpawnThread(name string, entry func()) (int, defs.Err_t) {
	m.mu.Lock()
	tid := 0
	for i := 1; i < NTHR; i++ {
		if m.threads[i] == nil {
			tid = i
			break
		}
	}
	if tid == 0 {
		m.mu.Unlock()
		return 0, defs.EMTHR
	}
	child := &Thread{
		id:        tid,
		name:      name,
		state:     Ready,
		parent:    m.running.Load(),
		turn:      make(chan struct{}, 1),
		entry:     entry,
		childExit: newCondition(name + ".child_exit"),
	}
	m.threads[tid] = child
	m.readyList.PushBack(child)
	m.readyCond.Broadcast()
	m.mu.Unlock()

	go m.runBody(child)
	return tid, 0
}

// RunningThreadSuspend suspends the calling thread and switches to the
// next ready thread, falling back to idle if none is ready. If the caller
// is in the SELF state it is requeued as READY first (this is exactly
// what RunningThreadYield does). RunningThreadSuspend does not return
// until the calling thread is scheduled again; it never returns at all if
// the calling thread has exited.
func (m *Manager) RunningThreadSuspend() {
	m.mu.Lock()
	self := m.running.Load()

	if self.state == Self {
		self.state = Ready
		m.readyList.PushBack(self)
	}

	var next *Thread
	if front := m.readyList.Front(); front != nil {
		next = m.readyList.Remove(front).(*Thread)
	} else {
		next = m.threads[IdleTID]
	}

	next.state = Self
	m.running.Store(next)
	if next.proc != nil && m.switchHook != nil {
		m.switchHook(next.proc.Mtag())
	}
	m.mu.Unlock()

	if next == self {
		return
	}
	next.turn <- struct{}{}
	if self.state != Exited {
		<-self.turn
	}
}

// RunningThreadYield is an alias for RunningThreadSuspend, named for call
// sites that suspend voluntarily rather than to block on a condition.
func (m *Manager) RunningThreadYield() {
	m.RunningThreadSuspend()
}

// RunningThreadExit terminates the calling thread. If it is the main
// thread this instead signals system shutdown via halt. Otherwise the
// thread is marked EXITED, its parent's child_exit condition is
// broadcast, and the scheduler switches away permanently.
func (m *Manager) RunningThreadExit() {
	m.mu.Lock()
	self := m.running.Load()
	if self.id == MainTID {
		m.mu.Unlock()
		m.halt()
		return
	}
	self.state = Exited
	parent := self.parent
	m.mu.Unlock()

	if parent != nil {
		m.broadcast(&parent.childExit)
	}
	// RunningThreadSuspend returns immediately for an EXITED thread rather
	// than parking; the goroutine simply ends here.
	m.RunningThreadSuspend()
}

var haltHook = func() {}

// SetHaltHook installs the function called when the main thread exits.
// The default is a no-op.
func SetHaltHook(f func()) { haltHook = f }

func (m *Manager) halt() { haltHook() }

// ThreadJoin waits for a child thread to exit and reclaims its slot.
// tid == 0 waits for any child; otherwise it waits for that specific
// child, which must already exist and be owned by the caller.
func (m *Manager) ThreadJoin(tid int) (int, defs.Err_t) {
	m.mu.Lock()
	self := m.running.Load()

	if tid != 0 {
		if tid < 0 || tid >= NTHR {
			m.mu.Unlock()
			return 0, defs.EINVAL
		}
		child := m.threads[tid]
		if child == nil || child.parent != self {
			m.mu.Unlock()
			return 0, defs.EINVAL
		}
		for {
			if child.state == Exited {
				m.reclaim(tid)
				m.mu.Unlock()
				return tid, 0
			}
			self.state = Waiting
			self.childExit.waitList.PushBack(self)
			m.suspendLocked()
			m.mu.Lock()
		}
	}

	hasChild := false
	for i := 1; i < NTHR; i++ {
		c := m.threads[i]
		if c == nil || c.parent != self {
			continue
		}
		hasChild = true
		if c.state == Exited {
			id := c.id
			m.reclaim(id)
			m.mu.Unlock()
			return id, 0
		}
	}
	if !hasChild {
		m.mu.Unlock()
		return 0, defs.EINVAL
	}
	for {
		self.state = Waiting
		self.childExit.waitList.PushBack(self)
		m.suspendLocked()
		m.mu.Lock()
		for i := 1; i < NTHR; i++ {
			c := m.threads[i]
			if c != nil && c.parent == self && c.state == Exited {
				id := c.id
				m.reclaim(id)
				m.mu.Unlock()
				return id, 0
			}
		}
	}
}

// reclaim frees tid's slot, reparenting its children to its own parent.
// Caller must hold m.mu.
func (m *Manager) reclaim(tid int) {
	thr := m.threads[tid]
	for i := 1; i < NTHR; i++ {
		if m.threads[i] != nil && m.threads[i].parent == thr {
			m.threads[i].parent = thr.parent
		}
	}
	m.threads[tid] = nil
}

// suspendLocked performs the bookkeeping half of RunningThreadSuspend
// while m.mu is already held (used by callers that just moved the
// current thread onto a wait list of their own), then releases the lock
// before the actual handoff/park. The caller must not touch m.mu again
// until suspendLocked returns.
func (m *Manager) suspendLocked() {
	self := m.running.Load()

	var next *Thread
	if front := m.readyList.Front(); front != nil {
		next = m.readyList.Remove(front).(*Thread)
	} else {
		next = m.threads[IdleTID]
	}

	next.state = Self
	m.running.Store(next)
	if next.proc != nil && m.switchHook != nil {
		m.switchHook(next.proc.Mtag())
	}
	m.mu.Unlock()

	if next == self {
		return
	}
	next.turn <- struct{}{}
	if self.state != Exited {
		<-self.turn
	}
}

// broadcast moves every thread on cond's wait list to the ready list.
func (m *Manager) broadcast(cond *Condition) {
	m.mu.Lock()
	for e := cond.waitList.Front(); e != nil; {
		t := e.Value.(*Thread)
		next := e.Next()
		cond.waitList.Remove(e)
		t.state = Ready
		t.waitCond = nil
		m.readyList.PushBack(t)
		e = next
	}
	m.readyCond.Broadcast()
	m.mu.Unlock()
}

// Thread returns the table entry for tid, or nil if the slot is unused.
func (m *Manager) Thread(tid int) *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.threads[tid]
}
