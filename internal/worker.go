// Worker: the per-goroutine run loop a WorkerPool spins up lazily and parks
// on an idle stack between sequences (spec §4.4). Go goroutines are cheap
// compared to OS threads, but the pool still caps how many run concurrently
// via max_tasks -- Worker just hosts the loop that enforces that cap.

package tasksched_internal

import (
	"sync"
	"sync/atomic"
	"time"
)

// WorkerDelegate supplies a Worker with work and learns about its lifecycle.
// WorkerPool implements this; tests may supply a fake.
type WorkerDelegate interface {
	// OnMainEntry is called once before the loop starts.
	OnMainEntry(w *Worker)
	// GetWork returns the next sequence to run a task from, or nil if the
	// worker should go idle (and possibly detach).
	GetWork(w *Worker) *Sequence
	// DidRunTask is handed each sequence GetWork returned; the delegate runs
	// the sequence's front task in it and reschedules/requeues the sequence.
	DidRunTask(w *Worker, ranSeq *Sequence)
	// CanCleanUp reports whether the worker may exit instead of waiting.
	CanCleanUp(w *Worker) bool
	// OnMainExit is called once just before the loop's goroutine returns.
	OnMainExit(w *Worker)
	// OnBeforeWait is called when the worker is about to block waiting for
	// work, with how many tasks it ran since its last wait.
	OnBeforeWait(w *Worker, tasksSinceWait int)
}

// Worker runs GetWork/run/DidRunTask in a loop on its own goroutine until its
// delegate tells it to clean up or Terminate is called.
type Worker struct {
	id       int
	delegate WorkerDelegate

	wakeCh chan struct{}
	done   chan struct{}

	mu           sync.Mutex
	lastUsedTime time.Time
	numTasksRun  int

	// lastUsedNanos mirrors lastUsedTime as a lock-free snapshot (unix nanos)
	// so callers already holding the pool lock can read it without nesting
	// w.mu inside that lock (spec §5: worker locks are never acquired while
	// holding the pool lock).
	lastUsedNanos atomic.Int64

	// currentPriority is the priority of the task this worker is presently
	// running, or -1 when idle: a read-only, per-worker value nested posts
	// can inspect, with no propagation policy attached (spec §9 Open
	// Questions).
	currentPriority int32

	wg sync.WaitGroup
}

// noPriority is the sentinel currentPriority holds while the worker is idle
// or running a task whose priority hasn't been recorded yet.
const noPriority int32 = -1

func NewWorker(id int, delegate WorkerDelegate) *Worker {
	return &Worker{
		id:              id,
		delegate:        delegate,
		wakeCh:          make(chan struct{}, 1),
		done:            make(chan struct{}),
		currentPriority: noPriority,
	}
}

func (w *Worker) ID() int { return w.id }

// Start launches the worker's goroutine. Must be called at most once.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.mainLoop()
}

// WakeUp signals the worker that new work may be available; a no-op if a
// wake is already pending (the channel's buffer of one models an
// auto-reset wake event: multiple wakes while one is outstanding collapse
// into a single wakeup).
func (w *Worker) WakeUp() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

// Terminate requests the worker's loop exit at its next opportunity and
// blocks until it does.
func (w *Worker) Terminate() {
	close(w.done)
	w.wg.Wait()
}

func (w *Worker) LastUsedTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUsedTime
}

// LastUsedTimeAtomic returns the same value as LastUsedTime without taking
// w.mu, so callers that already hold the pool lock (e.g. cleanupIdleWorkers)
// can read it without nesting locks.
func (w *Worker) LastUsedTimeAtomic() time.Time {
	nanos := w.lastUsedNanos.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

func (w *Worker) NumTasksRun() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.numTasksRun
}

// SetCurrentPriority records the priority of the task this worker is about
// to run, or clears it (pass -1) once the task finishes. Delegates call this
// around DidRunTask's body; it is otherwise read-only.
func (w *Worker) SetCurrentPriority(p Priority) {
	atomic.StoreInt32(&w.currentPriority, int32(p))
}

func (w *Worker) ClearCurrentPriority() {
	atomic.StoreInt32(&w.currentPriority, noPriority)
}

// CurrentPriority reports the priority of the task this worker is presently
// running, and whether one is in fact running.
func (w *Worker) CurrentPriority() (Priority, bool) {
	v := atomic.LoadInt32(&w.currentPriority)
	if v == noPriority {
		return 0, false
	}
	return Priority(v), true
}

func (w *Worker) mainLoop() {
	defer w.wg.Done()
	w.delegate.OnMainEntry(w)
	defer w.delegate.OnMainExit(w)

	tasksSinceWait := 0
	for {
		seq := w.delegate.GetWork(w)
		if seq == nil {
			if w.delegate.CanCleanUp(w) {
				return
			}
			w.delegate.OnBeforeWait(w, tasksSinceWait)
			tasksSinceWait = 0
			select {
			case <-w.wakeCh:
				continue
			case <-w.done:
				return
			}
		}

		now := time.Now()
		w.mu.Lock()
		w.numTasksRun++
		w.lastUsedTime = now
		w.mu.Unlock()
		w.lastUsedNanos.Store(now.UnixNano())
		tasksSinceWait++

		w.delegate.DidRunTask(w, seq)

		select {
		case <-w.done:
			return
		default:
		}
	}
}
