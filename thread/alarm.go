package thread

// Alarm is a sleep timer: a thread calls Sleep to block until at least n
// ticks of kernel time have passed. All outstanding alarms are linked
// into a single list off the Manager, kept sorted by wake time, so the
// tick handler only ever has to look at the head to decide what (if
// anything) has come due.
type Alarm struct {
	cond  Condition
	twake uint64
	next  *Alarm
}

// NewAlarm returns an alarm ready for Sleep.
func NewAlarm() *Alarm {
	return &Alarm{cond: newCondition("alarm")}
}

// Sleep blocks the calling thread until at least ticks kernel ticks have
// elapsed, as measured by the Manager's own clock (advanced by Tick).
func (m *Manager) Sleep(a *Alarm, ticks uint64) {
	m.mu.Lock()
	a.twake = m.clock + ticks
	m.insertAlarmLocked(a)

	self := m.running.Load()
	self.state = Waiting
	self.waitCond = &a.cond
	a.cond.waitList.PushBack(self)
	m.suspendLocked()
}

func (m *Manager) insertAlarmLocked(a *Alarm) {
	if m.sleeping == nil || a.twake < m.sleeping.twake {
		a.next = m.sleeping
		m.sleeping = a
		return
	}
	cur := m.sleeping
	for cur.next != nil && cur.next.twake <= a.twake {
		cur = cur.next
	}
	a.next = cur.next
	cur.next = a
}

// Tick advances the Manager's clock to now and wakes every alarm whose
// wake time has passed. It returns the number of ticks elapsed since the
// previous call, for callers (trap) implementing preemption on top of it.
func (m *Manager) Tick(now uint64) uint64 {
	m.mu.Lock()
	elapsed := now - m.clock
	m.clock = now
	woke := false
	for m.sleeping != nil && m.sleeping.twake <= now {
		a := m.sleeping
		m.sleeping = a.next
		a.next = nil
		for e := a.cond.waitList.Front(); e != nil; {
			t := e.Value.(*Thread)
			nxt := e.Next()
			a.cond.waitList.Remove(e)
			t.state = Ready
			t.waitCond = nil
			m.readyList.PushBack(t)
			woke = true
			e = nxt
		}
	}
	if woke {
		m.readyCond.Broadcast()
	}
	m.mu.Unlock()
	return elapsed
}

// Clock returns the Manager's current notion of kernel time in ticks.
func (m *Manager) Clock() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock
}
