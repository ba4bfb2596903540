// TaskTracker: admission/run gating, shutdown quiescence and best-effort
// preemption accounting shared by every pool (spec §3, §4.3).

package tasksched_internal

import (
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"
)

var taskTrackerLog = NewCompLogger("tasktracker")

// CanScheduleSequenceObserver is notified when a previously-preempted
// best-effort sequence may be (re)scheduled.
type CanScheduleSequenceObserver interface {
	OnCanScheduleSequence(seq *Sequence)
}

// shutdownStartedBit packs the "has shutdown started" flag into the top bit
// of the blocking-task counter so both fields move together atomically, per
// spec §3 ("(num_tasks_blocking_shutdown, shutdown_has_started) pair encoded
// so that both fields update atomically").
const shutdownStartedBit = uint64(1) << 63

type shutdownPackedState struct {
	v atomic.Uint64
}

func (s *shutdownPackedState) load() (count uint64, started bool) {
	raw := s.v.Load()
	return raw &^ shutdownStartedBit, raw&shutdownStartedBit != 0
}

// adjust adds delta (may be negative) to the count via CAS retry loop and
// returns the post-adjustment count and started flag.
func (s *shutdownPackedState) adjust(delta int64) (count uint64, started bool) {
	for {
		raw := s.v.Load()
		c := raw &^ shutdownStartedBit
		started = raw&shutdownStartedBit != 0
		newC := uint64(int64(c) + delta)
		newRaw := newC
		if started {
			newRaw |= shutdownStartedBit
		}
		if s.v.CAS(raw, newRaw) {
			return newC, started
		}
	}
}

// begin flips the started bit; returns the count already accumulated at that
// point.
func (s *shutdownPackedState) begin() (count uint64) {
	for {
		raw := s.v.Load()
		c := raw &^ shutdownStartedBit
		newRaw := c | shutdownStartedBit
		if s.v.CAS(raw, newRaw) {
			return c
		}
	}
}

// preemptedEntry pairs a preempted best-effort sequence with the observer to
// notify once it can be scheduled.
type preemptedEntry struct {
	seq      *Sequence
	sortKey  SequenceSortKey
	observer CanScheduleSequenceObserver
}

type preemptedHeap []*preemptedEntry

func (h preemptedHeap) Len() int            { return len(h) }
func (h preemptedHeap) Less(i, j int) bool  { return h[j].sortKey.Less(h[i].sortKey) }
func (h preemptedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *preemptedHeap) Push(x any)         { *h = append(*h, x.(*preemptedEntry)) }
func (h *preemptedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// bestEffortGate is the per-pool admission gate for BEST_EFFORT sequences:
// at most maxBestEffort may be scheduled concurrently; the rest queue in a
// preempted-heap until a slot frees up.
type bestEffortGate struct {
	maxBestEffort int
	numScheduled  int
	preempted     preemptedHeap
}

// TaskTracker is process-wide (one instance serves every pool), matching the
// original's single TaskTracker shared by all WorkerPools.
type TaskTracker struct {
	shutdownState shutdownPackedState
	shutdownMu    *trackedMutex
	shutdownCond  *sync.Cond
	shutdownComplete atomic.Bool

	numIncompleteUndelayedTasks atomic.Int64
	flushMu                     *trackedMutex
	flushCond                   *sync.Cond
	flushGroup                  singleflight.Group

	bestEffortMu *trackedMutex
	bestEffort   map[string]*bestEffortGate

	metrics MetricsSink
	trace   TraceHook
}

func NewTaskTracker(metrics MetricsSink, trace TraceHook) *TaskTracker {
	if metrics == nil {
		metrics = NoopMetricsSink{}
	}
	if trace == nil {
		trace = NoopTraceHook{}
	}
	tt := &TaskTracker{
		bestEffort:   make(map[string]*bestEffortGate),
		shutdownMu:   newTrackedMutex("shutdown"),
		flushMu:      newTrackedMutex("flush"),
		bestEffortMu: newTrackedMutex("besteffort"),
		metrics:      metrics,
		trace:        trace,
	}
	tt.shutdownCond = sync.NewCond(tt.shutdownMu)
	tt.flushCond = sync.NewCond(tt.flushMu)
	return tt
}

// RegisterPool installs a best-effort admission cap for poolLabel. Must be
// called before any sequence from that pool is scheduled.
func (tt *TaskTracker) RegisterPool(poolLabel string, maxBestEffort int) {
	tt.bestEffortMu.Lock()
	defer tt.bestEffortMu.Unlock()
	tt.bestEffort[poolLabel] = &bestEffortGate{maxBestEffort: maxBestEffort}
}

// WillPostTask tags task with its posted time (its debug ID is assigned by
// NewTask), demotes a
// delayed BLOCK_SHUTDOWN task to SKIP_ON_SHUTDOWN, and gates admission per
// spec §4.3's state diagram. Returns false if the task must be rejected.
func (tt *TaskTracker) WillPostTask(task *Task) bool {
	task.postedTime = time.Now()

	sb := task.traits.shutdownBehavior
	if task.delay > 0 && sb == BlockShutdown {
		sb = SkipOnShutdown
	}
	task.effectiveShutdownBehavior = sb

	count, started := tt.shutdownState.load()
	_ = count
	if started {
		switch sb {
		case BlockShutdown:
			tt.shutdownState.adjust(1)
			tt.metrics.IncNumBlockShutdownTasksPostedDuringShutdown()
		case ContinueOnShutdown, SkipOnShutdown:
			return false
		}
	} else {
		if sb == BlockShutdown {
			tt.shutdownState.adjust(1)
		}
	}

	if task.delay == 0 {
		tt.numIncompleteUndelayedTasks.Inc()
	}
	return true
}

// WillScheduleSequence applies best-effort admission control: non-best-effort
// sequences may always schedule; best-effort sequences are admitted up to
// the pool's cap and preempted (queued for later, via observer) beyond it.
// It opens and closes its own transaction on seq.
func (tt *TaskTracker) WillScheduleSequence(poolLabel string, seq *Sequence, observer CanScheduleSequenceObserver) bool {
	txn := seq.BeginTransaction()
	front := txn.Front()
	if front == nil || front.traits.priority != BestEffort {
		txn.End()
		return true
	}
	sortKey := txn.SortKey()
	txn.End()

	tt.bestEffortMu.Lock()
	defer tt.bestEffortMu.Unlock()
	gate := tt.bestEffort[poolLabel]
	if gate == nil {
		gate = &bestEffortGate{maxBestEffort: 1}
		tt.bestEffort[poolLabel] = gate
	}
	if gate.numScheduled < gate.maxBestEffort {
		gate.numScheduled++
		return true
	}
	entry := &preemptedEntry{seq: seq, sortKey: sortKey, observer: observer}
	gate.preempted = append(gate.preempted, entry)
	heapFix(&gate.preempted)
	return false
}

// heapFix moves the entry with the greatest sort key to index 0; the rest of
// the slice is left unordered. popBestEffortTop and popBestEffortTopIfGreater
// scan the whole slice for the top entry, so they do not rely on this order.
func heapFix(h *preemptedHeap) {
	s := *h
	for i := len(s) - 1; i > 0; i-- {
		maxIdx := 0
		for j := 1; j <= i; j++ {
			if s[maxIdx].sortKey.Less(s[j].sortKey) {
				maxIdx = j
			}
		}
		s[0], s[maxIdx] = s[maxIdx], s[0]
	}
}

func popBestEffortTop(h *preemptedHeap) *preemptedEntry {
	s := *h
	if len(s) == 0 {
		return nil
	}
	topIdx := 0
	for i := 1; i < len(s); i++ {
		if s[topIdx].sortKey.Less(s[i].sortKey) {
			topIdx = i
		}
	}
	top := s[topIdx]
	*h = append(s[:topIdx], s[topIdx+1:]...)
	return top
}

// beforeRunTask gates execution per spec §4.3 step 2.
func (tt *TaskTracker) beforeRunTask(sb ShutdownBehavior) bool {
	switch sb {
	case ContinueOnShutdown:
		return !tt.shutdownComplete.Load()
	case SkipOnShutdown:
		_, started := tt.shutdownState.load()
		return !started
	case BlockShutdown:
		return true
	}
	return true
}

func (tt *TaskTracker) afterRunTask(sb ShutdownBehavior) {
	if sb != BlockShutdown {
		return
	}
	count, started := tt.shutdownState.adjust(-1)
	if started && count == 0 {
		tt.shutdownMu.Lock()
		tt.shutdownCond.Broadcast()
		tt.shutdownMu.Unlock()
	}
}

func (tt *TaskTracker) completeUndelayedTask() {
	n := tt.numIncompleteUndelayedTasks.Dec()
	if n == 0 {
		tt.flushMu.Lock()
		tt.flushCond.Broadcast()
		tt.flushMu.Unlock()
	}
}

// runFrontTask applies the BeforeRunTask/run/AfterRunTask gating shared by
// every runner kind, tracing and observing it along the way.
func (tt *TaskTracker) runFrontTask(poolLabel string, task *Task) {
	sb := task.effectiveShutdownBehavior
	if tt.beforeRunTask(sb) {
		end := tt.trace.StartSpan(task, poolLabel)
		startedAt := time.Now()
		task.run(func(r any) {
			taskTrackerLog.Errorf("task %s at %s panicked: %v", task.debugID, task.location, r)
		})
		latency := startedAt.Sub(task.postedTime)
		tt.metrics.ObserveTaskLatency(poolLabel, task.traits.priority, task.traits.mayBlock, latency)
		tt.metrics.ObserveNumTasksRunWhileQueuing(poolLabel, task.traits.priority, task.traits.mayBlock, task.numQueuedAhead)
		end()
	}
	tt.afterRunTask(sb)
	if task.delay == 0 {
		tt.completeUndelayedTask()
	}
}

// RunAndPopNextTask runs the front task of seq (if admission allows),
// decrements bookkeeping, pops the slot, and applies best-effort preemption:
// it returns the sequence to immediately reschedule, or nil if the caller
// has nothing further to do for seq right now (either it's empty, or it was
// put in the preempted heap in favor of a preempted best-effort sequence
// with a greater sort key, which is handed to its observer).
func (tt *TaskTracker) RunAndPopNextTask(poolLabel string, seq *Sequence, observer CanScheduleSequenceObserver) *Sequence {
	txn := seq.BeginTransaction()
	task := txn.Front()
	isBestEffort := task.traits.priority == BestEffort

	tt.runFrontTask(poolLabel, task)

	txn.TakeFront()

	if txn.IsEmpty() {
		txn.End()
		if isBestEffort {
			tt.releaseBestEffortSlot(poolLabel)
		}
		return nil
	}

	newKey := txn.SortKey()
	txn.End()

	if !isBestEffort {
		return seq
	}

	tt.bestEffortMu.Lock()
	gate := tt.bestEffort[poolLabel]
	var top *preemptedEntry
	if gate != nil {
		top = popBestEffortTopIfGreater(gate, newKey)
		if top != nil {
			gate.preempted = append(gate.preempted, &preemptedEntry{seq: seq, sortKey: newKey, observer: observer})
		}
	}
	tt.bestEffortMu.Unlock()

	if top != nil {
		top.observer.OnCanScheduleSequence(top.seq)
		return nil
	}
	return seq
}

// popBestEffortTopIfGreater pops and returns the preempted heap's top entry
// if its sort key is greater than candidateKey, leaving gate.numScheduled
// unchanged (the caller's slot transfers to the popped entry).
func popBestEffortTopIfGreater(gate *bestEffortGate, candidateKey SequenceSortKey) *preemptedEntry {
	if len(gate.preempted) == 0 {
		return nil
	}
	topIdx := 0
	for i := 1; i < len(gate.preempted); i++ {
		if gate.preempted[topIdx].sortKey.Less(gate.preempted[i].sortKey) {
			topIdx = i
		}
	}
	top := gate.preempted[topIdx]
	if !candidateKey.Less(top.sortKey) {
		return nil
	}
	gate.preempted = append(gate.preempted[:topIdx], gate.preempted[topIdx+1:]...)
	return top
}

func (tt *TaskTracker) releaseBestEffortSlot(poolLabel string) {
	tt.bestEffortMu.Lock()
	defer tt.bestEffortMu.Unlock()
	gate := tt.bestEffort[poolLabel]
	if gate == nil {
		return
	}
	gate.numScheduled--
	if top := popBestEffortTop(&gate.preempted); top != nil {
		gate.numScheduled++
		go top.observer.OnCanScheduleSequence(top.seq)
	}
}

// Shutdown is single-use: it blocks admission of non-BLOCK_SHUTDOWN tasks,
// waits for in-flight BLOCK_SHUTDOWN work to finish, then marks shutdown
// complete.
func (tt *TaskTracker) Shutdown() {
	count := tt.shutdownState.begin()

	tt.shutdownMu.Lock()
	for {
		c, _ := tt.shutdownState.load()
		if c == 0 {
			break
		}
		_ = count
		tt.shutdownCond.Wait()
	}
	tt.shutdownMu.Unlock()

	tt.shutdownComplete.Store(true)
	tt.shutdownMu.Lock()
	tt.shutdownCond.Broadcast()
	tt.shutdownMu.Unlock()
}

func (tt *TaskTracker) IsShutdownComplete() bool { return tt.shutdownComplete.Load() }

// FlushForTesting blocks until every posted undelayed task has completed, or
// shutdown has completed, whichever comes first.
func (tt *TaskTracker) FlushForTesting() {
	tt.flushMu.Lock()
	defer tt.flushMu.Unlock()
	for tt.numIncompleteUndelayedTasks.Load() != 0 && !tt.shutdownComplete.Load() {
		tt.flushCond.Wait()
	}
}

// FlushAsyncForTesting invokes onFlushed once the flush condition is met.
// Concurrent callers collapse onto a single in-flight flush via singleflight,
// per spec §4.3 "only one async flush may be in flight".
func (tt *TaskTracker) FlushAsyncForTesting(onFlushed func()) {
	go func() {
		tt.flushGroup.Do("flush", func() (any, error) {
			tt.FlushForTesting()
			return nil, nil
		})
		if onFlushed != nil {
			onFlushed()
		}
	}()
}

func (tt *TaskTracker) NumIncompleteUndelayedTasks() int64 {
	return tt.numIncompleteUndelayedTasks.Load()
}
