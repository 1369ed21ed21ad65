package thread

import (
	"sync/atomic"
	"testing"

	"github.com/garvkuiuc/riscv-unix-kernel/defs"
)

func TestSpawnAndJoinSpecific(t *testing.T) {
	mgr := NewManager(nil)
	var ran int32
	tid, err := mgr.SpawnThread("child", func() {
		atomic.AddInt32(&ran, 1)
	})
	if err != 0 {
		t.Fatalf("SpawnThread failed: %v", err)
	}

	got, err := mgr.ThreadJoin(tid)
	if err != 0 {
		t.Fatalf("ThreadJoin failed: %v", err)
	}
	if got != tid {
		t.Fatalf("ThreadJoin = %d, want %d", got, tid)
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("child body did not run")
	}
	if mgr.Thread(tid) != nil {
		t.Fatalf("slot %d should have been reclaimed", tid)
	}
}

func TestJoinUnknownChildIsEinval(t *testing.T) {
	mgr := NewManager(nil)
	if _, err := mgr.ThreadJoin(5); err != defs.EINVAL {
		t.Fatalf("ThreadJoin of nonexistent child = %v, want EINVAL", err)
	}
}

func TestJoinAnyChild(t *testing.T) {
	mgr := NewManager(nil)
	done := make(chan struct{})
	tid, _ := mgr.SpawnThread("worker", func() { close(done) })

	got, err := mgr.ThreadJoin(0)
	if err != 0 {
		t.Fatalf("ThreadJoin(0) failed: %v", err)
	}
	if got != tid {
		t.Fatalf("ThreadJoin(0) = %d, want %d", got, tid)
	}
	<-done
}

func TestRecursiveLock(t *testing.T) {
	mgr := NewManager(nil)
	lk := NewLock()
	mgr.Acquire(lk)
	mgr.Acquire(lk) // same thread, should not deadlock
	mgr.Release(lk)
	mgr.Release(lk)

	// A fresh acquire after full release must succeed without blocking.
	mgr.Acquire(lk)
	mgr.Release(lk)
}

func TestLockExcludesConcurrentThreads(t *testing.T) {
	mgr := NewManager(nil)
	lk := NewLock()
	counter := 0
	const n = 50
	const workers = 4

	tids := make([]int, 0, workers)
	for i := 0; i < workers; i++ {
		tid, err := mgr.SpawnThread("worker", func() {
			for j := 0; j < n; j++ {
				mgr.Acquire(lk)
				counter++
				mgr.RunningThreadYield()
				counter++
				mgr.Release(lk)
			}
		})
		if err != 0 {
			t.Fatalf("SpawnThread failed: %v", err)
		}
		tids = append(tids, tid)
	}

	for _, tid := range tids {
		if _, err := mgr.ThreadJoin(tid); err != 0 {
			t.Fatalf("ThreadJoin(%d) failed: %v", tid, err)
		}
	}

	if want := workers * n * 2; counter != want {
		t.Fatalf("counter = %d, want %d", counter, want)
	}
}

func TestConditionWaitBroadcast(t *testing.T) {
	mgr := NewManager(nil)
	cond := NewCondition("test")
	var woke int32

	tid, _ := mgr.SpawnThread("waiter", func() {
		mgr.Wait(cond)
		atomic.AddInt32(&woke, 1)
	})

	// Give the waiter a chance to park before broadcasting. Yielding
	// repeatedly lets the cooperative scheduler run it to the Wait call.
	for i := 0; i < 4; i++ {
		mgr.RunningThreadYield()
	}
	mgr.Broadcast(cond)

	if _, err := mgr.ThreadJoin(tid); err != 0 {
		t.Fatalf("ThreadJoin failed: %v", err)
	}
	if atomic.LoadInt32(&woke) != 1 {
		t.Fatalf("waiter was not woken by Broadcast")
	}
}

func TestAlarmSleepWakesOnTick(t *testing.T) {
	mgr := NewManager(nil)
	alarm := NewAlarm()
	var awake int32

	tid, _ := mgr.SpawnThread("sleeper", func() {
		mgr.Sleep(alarm, 10)
		atomic.AddInt32(&awake, 1)
	})

	for i := 0; i < 4; i++ {
		mgr.RunningThreadYield()
	}
	if atomic.LoadInt32(&awake) != 0 {
		t.Fatalf("sleeper woke before its deadline")
	}

	mgr.Tick(5)
	if atomic.LoadInt32(&awake) != 0 {
		t.Fatalf("sleeper woke early at tick 5")
	}

	mgr.Tick(10)
	if _, err := mgr.ThreadJoin(tid); err != 0 {
		t.Fatalf("ThreadJoin failed: %v", err)
	}
	if atomic.LoadInt32(&awake) != 1 {
		t.Fatalf("sleeper did not wake after its deadline ticked past")
	}
}
