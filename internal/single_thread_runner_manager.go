// SingleThreadRunnerManager: DEDICATED and SHARED single-thread runners,
// each pinned to one worker goroutine that runs its sequence's tasks in
// strict post order (spec §4.7). COM-initialized variants are Windows-only
// and out of scope here; callers needing a similarly constrained environment
// can wrap a DEDICATED runner's goroutine setup themselves (spec §1
// "platform thread/COM primitives ... characterized only by the interfaces
// the core uses").
package tasksched_internal

import (
	"fmt"
	"sync"
)

// SingleThreadMode selects how a single-thread runner's goroutine is shared.
type SingleThreadMode int

const (
	// Dedicated gives the runner its own goroutine. The goroutine runs until
	// SingleThreadRunnerManager.JoinForTesting; dropping the runner does not
	// stop it.
	Dedicated SingleThreadMode = iota
	// Shared multiplexes runners of the same traits onto one goroutine pool
	// member: every SingleThreadTaskRunner requesting SHARED semantics for a
	// given traits equivalence class runs on the same underlying goroutine.
	Shared
)

// singleThreadWorker pins one goroutine to a FIFO of sequences, each
// belonging to a different SingleThreadTaskRunner sharing this worker.
type singleThreadWorker struct {
	worker  *Worker
	tracker *TaskTracker
	label   string

	mu    sync.Mutex
	ready []*Sequence
}

func newSingleThreadWorker(id int, tracker *TaskTracker, label string) *singleThreadWorker {
	stw := &singleThreadWorker{tracker: tracker, label: label}
	stw.worker = NewWorker(id, stw)
	return stw
}

// ScheduleSequence still runs the sequence through TaskTracker's best-effort
// admission gate with this worker as the observer, per spec §4.7: a
// single-thread runner bypasses the pool's priority queue, not best-effort
// preemption accounting.
func (stw *singleThreadWorker) ScheduleSequence(seq *Sequence, traits TaskTraits) {
	if !stw.tracker.WillScheduleSequence(stw.label, seq, stw) {
		return
	}
	stw.mu.Lock()
	stw.ready = append(stw.ready, seq)
	stw.mu.Unlock()
	stw.worker.WakeUp()
}

// OnCanScheduleSequence implements CanScheduleSequenceObserver: invoked once a
// best-effort sequence this worker tried to schedule was preempted and later
// freed up.
func (stw *singleThreadWorker) OnCanScheduleSequence(seq *Sequence) {
	stw.mu.Lock()
	stw.ready = append(stw.ready, seq)
	stw.mu.Unlock()
	stw.worker.WakeUp()
}

func (stw *singleThreadWorker) GetWork(w *Worker) *Sequence {
	stw.mu.Lock()
	defer stw.mu.Unlock()
	if len(stw.ready) == 0 {
		return nil
	}
	seq := stw.ready[0]
	stw.ready = stw.ready[1:]
	return seq
}

func (stw *singleThreadWorker) DidRunTask(w *Worker, seq *Sequence) {
	txn := seq.BeginTransaction()
	task := txn.Front()
	txn.End()
	w.SetCurrentPriority(task.traits.priority)
	bindExecContext(nil, seq)
	next := stw.tracker.RunAndPopNextTask(stw.label, seq, stw)
	unbindExecContext()
	w.ClearCurrentPriority()
	if next != nil {
		stw.mu.Lock()
		stw.ready = append(stw.ready, next)
		stw.mu.Unlock()
	}
}

func (stw *singleThreadWorker) CanCleanUp(w *Worker) bool { return false }
func (stw *singleThreadWorker) OnMainEntry(w *Worker)     {}
func (stw *singleThreadWorker) OnMainExit(w *Worker)      {}
func (stw *singleThreadWorker) OnBeforeWait(w *Worker, tasksSinceWait int) {}

var _ WorkerDelegate = (*singleThreadWorker)(nil)
var _ CanScheduleSequenceObserver = (*singleThreadWorker)(nil)
var _ SequenceScheduler = (*singleThreadWorker)(nil)

// SingleThreadRunnerManager hands out SingleThreadTaskRunners, each backed
// by a dedicated goroutine or multiplexed onto a shared one per traits key.
type SingleThreadRunnerManager struct {
	tracker *TaskTracker

	mu          sync.Mutex
	nextID      int
	dedicated   []*singleThreadWorker
	sharedByKey map[string]*singleThreadWorker
}

func NewSingleThreadRunnerManager(tracker *TaskTracker) *SingleThreadRunnerManager {
	return &SingleThreadRunnerManager{
		tracker:     tracker,
		sharedByKey: make(map[string]*singleThreadWorker),
	}
}

// sharedWorkerKey identifies a SHARED single-thread worker's equivalence
// class: spec §4.6 keys SHARED workers by (environment × continue-on-
// shutdown?), so two runners that differ only in shutdown behavior must not
// be multiplexed onto the same goroutine or TaskTracker pool label.
func sharedWorkerKey(traits TaskTraits) string {
	return fmt.Sprintf("%s/%v/%v/%s", traits.priority, traits.mayBlock, traits.withBaseSyncPrimitives, traits.shutdownBehavior)
}

// NewSingleThreadTaskRunner creates a runner per mode: Dedicated gets a
// fresh goroutine, Shared reuses (or creates) the goroutine registered for
// traits's equivalence class.
func (m *SingleThreadRunnerManager) NewSingleThreadTaskRunner(label string, traits TaskTraits, mode SingleThreadMode) *SingleThreadTaskRunner {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stw *singleThreadWorker
	switch mode {
	case Dedicated:
		m.nextID++
		stw = newSingleThreadWorker(m.nextID, m.tracker, label)
		stw.worker.Start()
		m.dedicated = append(m.dedicated, stw)
	case Shared:
		key := sharedWorkerKey(traits)
		existing, ok := m.sharedByKey[key]
		if ok {
			stw = existing
		} else {
			m.nextID++
			stw = newSingleThreadWorker(m.nextID, m.tracker, label)
			stw.worker.Start()
			m.sharedByKey[key] = stw
		}
	}
	return newSingleThreadTaskRunner(label, traits, stw, m.tracker)
}

// JoinForTesting terminates every dedicated and shared worker goroutine.
func (m *SingleThreadRunnerManager) JoinForTesting() {
	m.mu.Lock()
	workers := append([]*singleThreadWorker(nil), m.dedicated...)
	for _, w := range m.sharedByKey {
		workers = append(workers, w)
	}
	m.mu.Unlock()
	for _, w := range workers {
		w.worker.Terminate()
	}
}
