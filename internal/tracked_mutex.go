// trackedMutex is a sync.Locker that reports its acquisitions to the debug
// lock-order tracker (lock_order.go), so a sync.Cond built on it stays
// visible to BeforeLock/AfterUnlock across the Lock/Unlock pairs Cond.Wait
// performs internally.

package tasksched_internal

import "sync"

type trackedMutex struct {
	name string
	mu   sync.Mutex
}

func newTrackedMutex(name string) *trackedMutex {
	return &trackedMutex{name: name}
}

func (t *trackedMutex) Lock() {
	BeforeLock(t.name)
	t.mu.Lock()
}

func (t *trackedMutex) Unlock() {
	t.mu.Unlock()
	AfterUnlock(t.name)
}
