// DelayedTaskManager: holds tasks whose ready time is in the future and
// releases them to their poster's callback once it arrives (spec §4.9).

package tasksched_internal

import (
	"container/heap"
	"sync"
	"time"
)

type delayedEntry struct {
	task      *Task
	readyTime time.Time
	release   func(*Task)
	index     int
}

type delayedHeap []*delayedEntry

func (h delayedHeap) Len() int            { return len(h) }
func (h delayedHeap) Less(i, j int) bool  { return h[i].readyTime.Before(h[j].readyTime) }
func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *delayedHeap) Push(x any) {
	e := x.(*delayedEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// DelayedTaskManager is the scheduler's one timer: it wakes for the nearest
// ready_time in its min-heap and hands each expired task to the release
// callback its poster supplied (a closure that pushes the task onto the
// poster's Sequence and reschedules it, see task_runner.go).
type DelayedTaskManager struct {
	mu      sync.Mutex
	h       delayedHeap
	timer   *time.Timer
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func NewDelayedTaskManager() *DelayedTaskManager {
	dtm := &DelayedTaskManager{
		h:    delayedHeap{},
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go dtm.loop()
	return dtm
}

// AddDelayedTask schedules task to be handed to release after delay elapses.
func (dtm *DelayedTaskManager) AddDelayedTask(task *Task, delay time.Duration, release func(*Task)) {
	readyTime := time.Now().Add(delay)
	task.readyTime = readyTime

	dtm.mu.Lock()
	heap.Push(&dtm.h, &delayedEntry{task: task, readyTime: readyTime, release: release})
	dtm.mu.Unlock()

	select {
	case dtm.wake <- struct{}{}:
	default:
	}
}

func (dtm *DelayedTaskManager) loop() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		dtm.mu.Lock()
		var wait time.Duration
		if len(dtm.h) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(dtm.h[0].readyTime)
			if wait < 0 {
				wait = 0
			}
		}
		dtm.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
			dtm.releaseExpired()
		case <-dtm.wake:
		case <-dtm.done:
			return
		}
	}
}

func (dtm *DelayedTaskManager) releaseExpired() {
	now := time.Now()
	var expired []*delayedEntry
	dtm.mu.Lock()
	for len(dtm.h) > 0 && !dtm.h[0].readyTime.After(now) {
		e := heap.Pop(&dtm.h).(*delayedEntry)
		expired = append(expired, e)
	}
	dtm.mu.Unlock()

	for _, e := range expired {
		e.release(e.task)
	}
}

// Stop terminates the manager's loop goroutine. Any still-pending delayed
// tasks are dropped without running, matching Shutdown's treatment of
// not-yet-ready delayed tasks (spec §4.9 edge case).
func (dtm *DelayedTaskManager) Stop() {
	dtm.mu.Lock()
	if dtm.stopped {
		dtm.mu.Unlock()
		return
	}
	dtm.stopped = true
	dtm.mu.Unlock()
	close(dtm.done)
}

func (dtm *DelayedTaskManager) NumPending() int {
	dtm.mu.Lock()
	defer dtm.mu.Unlock()
	return len(dtm.h)
}
