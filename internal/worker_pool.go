// WorkerPool: a named group of Workers sharing one PriorityQueue and one
// dynamic max_tasks ceiling (spec §4.2, §4.4, §4.5). This is the largest
// single component in the core: a dispatch loop per worker, backed by one
// ready queue and one growable/shrinkable capacity ceiling shared by the
// whole group.

package tasksched_internal

import (
	"sync"
	"time"

	units "github.com/docker/go-units"
)

var workerPoolLog = NewCompLogger("workerpool")

// WorkerPoolConfig holds the knobs a Scheduler derives per environment (spec
// §5 "Configuration").
type WorkerPoolConfig struct {
	// Label identifies the pool in metrics/logs/tracing, e.g. "foreground".
	Label string
	// InitialMaxTasks is max_tasks before any MAY_BLOCK task is running.
	InitialMaxTasks int
	// MaxBestEffortTasks caps concurrently scheduled BEST_EFFORT sequences.
	MaxBestEffortTasks int
	// SuggestedReclaimTime is how long an idle worker may sit before the
	// pool's periodic cleanup detaches it.
	SuggestedReclaimTime time.Duration
	// MayBlockThreshold is how long a MAY_BLOCK task may run before the pool
	// treats it as if it had announced WILL_BLOCK, growing max_tasks (spec
	// §4.5 "a task that takes too long without announcing may still grow the
	// pool").
	MayBlockThreshold time.Duration
}

// defaultInitialMaxTasks sizes a pool's starting capacity off the process's
// available CPU count rather than a fixed constant, with a floor of 2 so a
// single-core host still gets room for a blocked task plus a runnable one.
func defaultInitialMaxTasks() int {
	if n := GetAvailableCPUCount(); n > 2 {
		return n
	}
	return 2
}

func DefaultWorkerPoolConfig(label string) WorkerPoolConfig {
	return WorkerPoolConfig{
		Label:                label,
		InitialMaxTasks:      defaultInitialMaxTasks(),
		MaxBestEffortTasks:   2,
		SuggestedReclaimTime: 30 * time.Second,
		MayBlockThreshold:    1 * time.Second,
	}
}

// WorkerPool owns a ready PriorityQueue, a dynamically-sized worker roster,
// and the max_tasks ceiling that roster is grown/shrunk against.
type WorkerPool struct {
	cfg     WorkerPoolConfig
	tracker *TaskTracker
	metrics MetricsSink
	detach  *detachTracker

	mu          sync.Mutex
	ready       *PriorityQueue
	workers     []*Worker
	idleStack   []*Worker
	nextWorkerID int

	maxTasks        int
	numRunningTasks int

	joined      bool
	cleanupTick *time.Ticker
	stopCleanup chan struct{}
}

// lock/unlock bracket every p.mu acquisition with the debug lock-order
// tracker (spec §5: PriorityQueue lock is a predecessor of the pool lock).
func (p *WorkerPool) lock() {
	BeforeLock("pool")
	p.mu.Lock()
}

func (p *WorkerPool) unlock() {
	p.mu.Unlock()
	AfterUnlock("pool")
}

func NewWorkerPool(cfg WorkerPoolConfig, tracker *TaskTracker, metrics MetricsSink) *WorkerPool {
	if metrics == nil {
		metrics = NoopMetricsSink{}
	}
	p := &WorkerPool{
		cfg:       cfg,
		tracker:   tracker,
		metrics:   metrics,
		detach:    newDetachTracker(),
		ready:     NewPriorityQueue(),
		maxTasks:  cfg.InitialMaxTasks,
		stopCleanup: make(chan struct{}),
	}
	tracker.RegisterPool(cfg.Label, cfg.MaxBestEffortTasks)
	return p
}

// Start launches the pool's periodic idle-worker cleanup tick. The pool
// itself creates workers lazily as work arrives, per spec §4.4.
func (p *WorkerPool) Start() {
	p.cleanupTick = time.NewTicker(p.cfg.SuggestedReclaimTime / 2)
	go p.cleanupLoop()
	workerPoolLog.Infof("pool %q started, initial_max_tasks=%d, reclaim after %s",
		p.cfg.Label, p.cfg.InitialMaxTasks, units.HumanDuration(p.cfg.SuggestedReclaimTime))
}

func (p *WorkerPool) cleanupLoop() {
	for {
		select {
		case <-p.cleanupTick.C:
			p.cleanupIdleWorkers()
		case <-p.stopCleanup:
			return
		}
	}
}

func (p *WorkerPool) cleanupIdleWorkers() {
	p.lock()
	deadline := time.Now().Add(-p.cfg.SuggestedReclaimTime)
	var toDetach []*Worker
	var keep []*Worker
	for _, w := range p.idleStack {
		if len(p.workers) > 1 && w.LastUsedTimeAtomic().Before(deadline) {
			toDetach = append(toDetach, w)
		} else {
			keep = append(keep, w)
		}
	}
	p.idleStack = keep
	for _, w := range toDetach {
		p.removeWorkerLocked(w)
	}
	p.metrics.SetNumWorkers(p.cfg.Label, len(p.workers))
	p.unlock()

	for _, w := range toDetach {
		p.detach.recordDetach(p.cfg.Label, p.metrics)
		p.metrics.ObserveNumTasksBeforeDetach(p.cfg.Label, w.NumTasksRun())
		w.Terminate()
	}
}

func (p *WorkerPool) removeWorkerLocked(w *Worker) {
	for i, have := range p.workers {
		if have == w {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			return
		}
	}
}

// ScheduleSequence implements SequenceScheduler: it's called whenever a
// sequence transitions from empty to non-empty. Sequences TaskTracker hands
// back for immediate rescheduling are pushed by DidRunTask instead.
func (p *WorkerPool) ScheduleSequence(seq *Sequence, traits TaskTraits) {
	txn := seq.BeginTransaction()
	if txn.IsEmpty() {
		txn.End()
		return
	}
	key := txn.SortKey()
	txn.End()

	obs := canScheduleObserver{pool: p}
	if !p.tracker.WillScheduleSequence(p.cfg.Label, seq, obs) {
		return
	}
	p.ready.Push(seq, key)
	p.wakeOneOrGrow()
}

// canScheduleObserver re-enters ScheduleSequence once a preempted
// best-effort sequence is released by TaskTracker.
type canScheduleObserver struct{ pool *WorkerPool }

func (o canScheduleObserver) OnCanScheduleSequence(seq *Sequence) {
	txn := seq.BeginTransaction()
	key := txn.SortKey()
	txn.End()
	o.pool.ready.Push(seq, key)
	o.pool.wakeOneOrGrow()
}

// wakeOneOrGrow wakes an idle worker if one exists, otherwise grows the
// roster up to maxTasks.
func (p *WorkerPool) wakeOneOrGrow() {
	p.lock()
	if len(p.idleStack) > 0 {
		w := p.idleStack[len(p.idleStack)-1]
		p.idleStack = p.idleStack[:len(p.idleStack)-1]
		p.unlock()
		w.WakeUp()
		return
	}
	if len(p.workers) < p.maxTasks {
		w := p.newWorkerLocked()
		p.unlock()
		w.Start()
		return
	}
	p.unlock()
}

func (p *WorkerPool) newWorkerLocked() *Worker {
	p.nextWorkerID++
	w := NewWorker(p.nextWorkerID, p)
	p.workers = append(p.workers, w)
	p.metrics.SetNumWorkers(p.cfg.Label, len(p.workers))
	return w
}

// GetWork implements WorkerDelegate: pop the highest-priority ready
// sequence, if any.
func (p *WorkerPool) GetWork(w *Worker) *Sequence {
	seq, ok := p.ready.TryPopHighest()
	if !ok {
		return nil
	}
	p.lock()
	p.numRunningTasks++
	p.metrics.SetNumActiveWorkers(p.cfg.Label, p.numRunningTasks)
	p.unlock()
	return seq
}

// DidRunTask implements WorkerDelegate: run the sequence's front task via
// TaskTracker, and if it yields a sequence to reschedule, push it back.
func (p *WorkerPool) DidRunTask(w *Worker, seq *Sequence) {
	traits := seq.Traits()

	var watcher *mayBlockWatcher
	if traits.mayBlock {
		watcher = p.armMayBlockWatcher()
	}

	w.SetCurrentPriority(traits.priority)
	bindExecContext(p, seq)
	next := p.tracker.RunAndPopNextTask(p.cfg.Label, seq, canScheduleObserver{pool: p})
	unbindExecContext()
	w.ClearCurrentPriority()

	if watcher != nil {
		watcher.disarm(p)
	}

	p.lock()
	p.numRunningTasks--
	p.metrics.SetNumActiveWorkers(p.cfg.Label, p.numRunningTasks)
	p.unlock()

	if next != nil {
		txn := next.BeginTransaction()
		if !txn.IsEmpty() {
			key := txn.SortKey()
			txn.End()
			p.ready.Push(next, key)
		} else {
			txn.End()
		}
	}
}

// mayBlockWatcher models ScopedBlockingCall: armed when a MAY_BLOCK task
// starts, it grows the pool's max_tasks if the task is still running after
// MayBlockThreshold, exactly as if WILL_BLOCK had been declared up front
// (spec §4.5). It fires from its own timer goroutine, independent of the
// worker goroutine that's busy running the blocking task.
type mayBlockWatcher struct {
	timer   *time.Timer
	grown   bool
	mu      sync.Mutex
}

func (p *WorkerPool) armMayBlockWatcher() *mayBlockWatcher {
	w := &mayBlockWatcher{}
	w.timer = time.AfterFunc(p.cfg.MayBlockThreshold, func() {
		readyEmpty := p.ready.IsEmpty()
		p.lock()
		w.mu.Lock()
		w.grown = true
		w.mu.Unlock()
		p.maxTasks++
		p.wakeOrGrowForNewCapacityLocked(readyEmpty)
		p.unlock()
	})
	return w
}

// disarm cancels the watcher's timer (no-op if it already fired) and, if it
// had fired and grown the pool, shrinks max_tasks back down now that the
// MAY_BLOCK task finished.
func (w *mayBlockWatcher) disarm(p *WorkerPool) {
	w.timer.Stop()
	w.mu.Lock()
	grown := w.grown
	w.mu.Unlock()
	if !grown {
		return
	}
	p.lock()
	if p.maxTasks > p.cfg.InitialMaxTasks {
		p.maxTasks--
	}
	p.unlock()
}

// wakeOrGrowForNewCapacityLocked spins up a worker for newly available
// capacity if there's ready work waiting. Caller holds p.mu and passes
// whether the ready queue was empty, read before taking p.mu so the
// priority-queue lock is never acquired under the pool lock.
func (p *WorkerPool) wakeOrGrowForNewCapacityLocked(readyEmpty bool) {
	if readyEmpty {
		return
	}
	if len(p.idleStack) > 0 {
		w := p.idleStack[len(p.idleStack)-1]
		p.idleStack = p.idleStack[:len(p.idleStack)-1]
		go w.WakeUp()
		return
	}
	if len(p.workers) < p.maxTasks {
		w := p.newWorkerLocked()
		go w.Start()
	}
}

// CanCleanUp implements WorkerDelegate: a worker past the idle cap may exit;
// the periodic cleanupLoop is the primary detach path, this is a fallback
// for pools shrinking under MAY_BLOCK contraction.
func (p *WorkerPool) CanCleanUp(w *Worker) bool {
	p.lock()
	defer p.unlock()
	return len(p.workers) > p.maxTasks && len(p.workers) > 1
}

func (p *WorkerPool) OnMainEntry(w *Worker) {}

func (p *WorkerPool) OnMainExit(w *Worker) {
	p.lock()
	p.removeWorkerLocked(w)
	p.metrics.SetNumWorkers(p.cfg.Label, len(p.workers))
	p.unlock()
}

func (p *WorkerPool) OnBeforeWait(w *Worker, tasksSinceWait int) {
	p.metrics.ObserveNumTasksBetweenWaits(p.cfg.Label, tasksSinceWait)
	p.lock()
	p.idleStack = append(p.idleStack, w)
	p.unlock()
}

// AdjustMaxTasks allows an external tick (e.g. the service thread's periodic
// probe) to recompute capacity, e.g. after a config reload. Grows/shrinks
// toward newMax and wakes workers for any slack it creates.
func (p *WorkerPool) AdjustMaxTasks(newMax int) {
	readyEmpty := p.ready.IsEmpty()
	p.lock()
	p.maxTasks = newMax
	p.wakeOrGrowForNewCapacityLocked(readyEmpty)
	p.unlock()
}

// Label returns the pool's name, e.g. "foreground_blocking".
func (p *WorkerPool) Label() string { return p.cfg.Label }

func (p *WorkerPool) NumWorkers() int {
	p.lock()
	defer p.unlock()
	return len(p.workers)
}

func (p *WorkerPool) MaxTasks() int {
	p.lock()
	defer p.unlock()
	return p.maxTasks
}

// JoinForTesting terminates every worker and stops the cleanup loop. Must
// only be called after Shutdown and once no further work will be posted.
func (p *WorkerPool) JoinForTesting() {
	p.lock()
	if p.joined {
		p.unlock()
		return
	}
	p.joined = true
	workers := append([]*Worker(nil), p.workers...)
	p.unlock()

	if p.cleanupTick != nil {
		p.cleanupTick.Stop()
	}
	close(p.stopCleanup)
	for _, w := range workers {
		w.Terminate()
	}
}

var _ WorkerDelegate = (*WorkerPool)(nil)
var _ SequenceScheduler = (*WorkerPool)(nil)
