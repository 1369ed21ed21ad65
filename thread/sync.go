package thread

import "container/list"

// Condition is a wait queue of blocked threads. Mesa semantics: a woken
// thread is moved to READY, not guaranteed the condition it waited for
// still holds, so callers always re-check their predicate in a loop
// around Wait (see ThreadJoin and Lock.Acquire for the pattern).
type Condition struct {
	name     string
	waitList *list.List
}

func newCondition(name string) Condition {
	return Condition{name: name, waitList: list.New()}
}

// NewCondition returns a Condition ready for Wait/Broadcast, for use by
// callers (cache, uio) that need a standalone condition not attached to
// a thread's child_exit slot.
func NewCondition(name string) *Condition {
	c := newCondition(name)
	return &c
}

// Wait parks the calling thread on cond until a Broadcast moves it back
// to the ready list. The caller must already be the running thread.
func (m *Manager) Wait(cond *Condition) {
	m.mu.Lock()
	self := m.running.Load()
	self.state = Waiting
	self.waitCond = cond
	cond.waitList.PushBack(self)
	m.suspendLocked()
}

// Broadcast wakes every thread waiting on cond.
func (m *Manager) Broadcast(cond *Condition) {
	m.broadcast(cond)
}

// Lock is a recursive mutex: the owning thread may acquire it repeatedly,
// and must release it the same number of times before another thread can
// acquire it.
type Lock struct {
	owner   *Thread
	cnt     int
	release Condition
	next    *Lock // next lock in owner's held-lock list
}

// NewLock returns a Lock ready for Acquire/Release.
func NewLock() *Lock {
	return &Lock{release: newCondition("lock_release")}
}

// Acquire takes lk, blocking until any other owner releases it. Acquiring
// a lock the calling thread already owns just increments its hold count.
func (m *Manager) Acquire(lk *Lock) {
	m.mu.Lock()
	self := m.running.Load()
	if lk.owner == self {
		lk.cnt++
		m.mu.Unlock()
		return
	}
	for lk.owner != nil {
		self.state = Waiting
		self.waitCond = &lk.release
		lk.release.waitList.PushBack(self)
		m.suspendLocked()
		m.mu.Lock()
	}
	lk.owner = self
	lk.cnt = 1
	lk.next = self.lockList
	self.lockList = lk
	m.mu.Unlock()
}

// Release gives up one hold on lk. Panics if the calling thread does not
// hold it. The last release wakes every thread waiting to acquire it.
func (m *Manager) Release(lk *Lock) {
	m.mu.Lock()
	self := m.running.Load()
	if lk.owner != self {
		m.mu.Unlock()
		panic("thread: Release of lock not held by calling thread")
	}
	lk.cnt--
	if lk.cnt != 0 {
		m.mu.Unlock()
		return
	}
	unlinkLock(self, lk)
	lk.owner = nil
	for e := lk.release.waitList.Front(); e != nil; {
		t := e.Value.(*Thread)
		next := e.Next()
		lk.release.waitList.Remove(e)
		t.state = Ready
		t.waitCond = nil
		m.readyList.PushBack(t)
		e = next
	}
	m.readyCond.Broadcast()
	m.mu.Unlock()
}

func unlinkLock(owner *Thread, lk *Lock) {
	hptr := &owner.lockList
	for *hptr != nil && *hptr != lk {
		hptr = &(*hptr).next
	}
	if *hptr == nil {
		panic("thread: lock not found in owner's held-lock list")
	}
	*hptr = (*hptr).next
	lk.next = nil
}
