// Scheduler: the façade tying one TaskTracker to four WorkerPools, a
// DelayedTaskManager and a SingleThreadRunnerManager (spec §4.8). Routing a
// task to a pool is a two-way split: priority picks foreground vs.
// best-effort, and MAY_BLOCK/WITH_BASE_SYNC_PRIMITIVES picks the blocking
// variant of that pool.

package tasksched_internal

import "sync"

type SchedulerState int

const (
	SchedulerStateCreated SchedulerState = iota
	SchedulerStateRunning
	SchedulerStateStopped
)

var schedulerStateNames = map[SchedulerState]string{
	SchedulerStateCreated: "Created",
	SchedulerStateRunning: "Running",
	SchedulerStateStopped: "Stopped",
}

func (s SchedulerState) String() string {
	if name, ok := schedulerStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// environmentIndex enumerates the four pools a Scheduler maintains.
type environmentIndex int

const (
	envForeground environmentIndex = iota
	envForegroundBlocking
	envBestEffort
	envBestEffortBlocking
	numEnvironments
)

var envLabels = [numEnvironments]string{
	envForeground:         "foreground",
	envForegroundBlocking: "foreground_blocking",
	envBestEffort:         "best_effort",
	envBestEffortBlocking: "best_effort_blocking",
}

// getEnvironmentIndexForTraits implements spec §4.8's routing formula:
// BEST_EFFORT goes to the best-effort pools, everything else (USER_VISIBLE,
// USER_BLOCKING) to the foreground pools; MAY_BLOCK or
// WITH_BASE_SYNC_PRIMITIVES selects the blocking variant within that pair.
func getEnvironmentIndexForTraits(traits TaskTraits) environmentIndex {
	blocking := traits.routesToBlockingPool()
	if traits.priority == BestEffort {
		if blocking {
			return envBestEffortBlocking
		}
		return envBestEffort
	}
	if blocking {
		return envForegroundBlocking
	}
	return envForeground
}

var schedulerLog = NewCompLogger("scheduler")

// Scheduler owns the process-wide scheduling primitives. One Scheduler
// normally exists per process; tests may create several in isolation since
// nothing here reaches for global state.
type Scheduler struct {
	cfg *SchedulerConfig

	mu    sync.Mutex
	state SchedulerState

	tracker    *TaskTracker
	pools      [numEnvironments]*WorkerPool
	dtm        *DelayedTaskManager
	strManager *SingleThreadRunnerManager
	heartbeat  *heartbeatRunner

	metrics MetricsSink
	trace   TraceHook
}

// NewScheduler builds a Scheduler from cfg (nil selects defaults), wiring
// metrics/trace collaborators that default to no-ops when nil (spec §1
// "characterized only by the interfaces the core uses").
func NewScheduler(cfg *SchedulerConfig, metrics MetricsSink, trace TraceHook) *Scheduler {
	if cfg == nil {
		cfg = DefaultSchedulerConfig()
	}
	if metrics == nil {
		metrics = NoopMetricsSink{}
	}
	if trace == nil {
		trace = NoopTraceHook{}
	}

	tracker := NewTaskTracker(metrics, trace)
	s := &Scheduler{
		cfg:     cfg,
		tracker: tracker,
		metrics: metrics,
		trace:   trace,
	}

	poolCfgs := [numEnvironments]PoolConfig{
		envForeground:         cfg.Foreground,
		envForegroundBlocking: cfg.ForegroundBlocking,
		envBestEffort:         cfg.BestEffort,
		envBestEffortBlocking: cfg.BestEffortBlocking,
	}
	for i := environmentIndex(0); i < numEnvironments; i++ {
		s.pools[i] = NewWorkerPool(poolCfgs[i].toWorkerPoolConfig(envLabels[i]), tracker, metrics)
	}
	s.dtm = NewDelayedTaskManager()
	s.strManager = NewSingleThreadRunnerManager(tracker)
	s.heartbeat = newHeartbeatRunner(s, cfg.Heartbeat.Interval)
	return s
}

// Start launches every pool's cleanup loop. Must be called before posting
// work.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SchedulerStateCreated {
		return
	}
	for _, p := range s.pools {
		p.Start()
	}
	s.heartbeat.start()
	s.state = SchedulerStateRunning
	schedulerLog.Info("scheduler started")
}

// effectiveTraits applies AllTasksUserBlocking if configured (spec §4.8
// diagnostic override).
func (s *Scheduler) effectiveTraits(traits TaskTraits) TaskTraits {
	if s.cfg.AllTasksUserBlocking {
		traits = traits.WithPriority(UserBlocking)
	}
	return traits
}

// poolFor returns the pool that should run traits-tagged work.
func (s *Scheduler) poolFor(traits TaskTraits) *WorkerPool {
	return s.pools[getEnvironmentIndexForTraits(traits)]
}

// CreateParallelTaskRunner returns a runner whose posted tasks may run
// concurrently with each other.
func (s *Scheduler) CreateParallelTaskRunner(label string, traits TaskTraits) *ParallelTaskRunner {
	traits = s.effectiveTraits(traits)
	return NewParallelTaskRunner(label, s.poolFor(traits), s.tracker)
}

// CreateSequencedTaskRunner returns a runner whose posted tasks run one at a
// time, in post order.
func (s *Scheduler) CreateSequencedTaskRunner(label string, traits TaskTraits) *SequencedTaskRunner {
	traits = s.effectiveTraits(traits)
	return NewSequencedTaskRunner(label, traits, s.poolFor(traits), s.tracker)
}

// CreateSingleThreadTaskRunner returns a runner pinned to one goroutine,
// per mode (Dedicated/Shared).
func (s *Scheduler) CreateSingleThreadTaskRunner(label string, traits TaskTraits, mode SingleThreadMode) *SingleThreadTaskRunner {
	traits = s.effectiveTraits(traits)
	return s.strManager.NewSingleThreadTaskRunner(label, traits, mode)
}

// DelayedTaskManager exposes the scheduler's single timer so runners can
// post delayed tasks.
func (s *Scheduler) DelayedTaskManager() *DelayedTaskManager { return s.dtm }

// Tracker exposes the scheduler's TaskTracker, e.g. for FlushForTesting.
func (s *Scheduler) Tracker() *TaskTracker { return s.tracker }

// Pool returns one of the four environments, for tests inspecting pool
// internals directly (NumWorkers, MaxTasks).
func (s *Scheduler) Pool(label string) *WorkerPool {
	for i, l := range envLabels {
		if l == label {
			return s.pools[i]
		}
	}
	return nil
}

// Shutdown marks the scheduler as shutting down: admission of
// non-BLOCK_SHUTDOWN tasks stops and the call blocks until in-flight
// BLOCK_SHUTDOWN tasks complete.
func (s *Scheduler) Shutdown() {
	s.tracker.Shutdown()
}

// JoinForTesting stops every pool's workers and the delayed task manager.
// Must be called after Shutdown, from tests only.
func (s *Scheduler) JoinForTesting() {
	s.mu.Lock()
	if s.state == SchedulerStateStopped {
		s.mu.Unlock()
		return
	}
	s.state = SchedulerStateStopped
	s.mu.Unlock()

	// Order matters (spec §4.8 "JoinForTesting"): stop the service thread
	// (DelayedTaskManager) before the single-thread manager, and that before
	// the pools, so nothing is left trying to post into an already-joined
	// pool.
	s.heartbeat.stop()
	s.dtm.Stop()
	s.strManager.JoinForTesting()
	for _, p := range s.pools {
		p.JoinForTesting()
	}
	schedulerLog.Info("scheduler joined")
}

// FlushForTesting blocks until every posted undelayed task has run.
func (s *Scheduler) FlushForTesting() { s.tracker.FlushForTesting() }

// FlushAsyncForTesting is the non-blocking counterpart of FlushForTesting.
func (s *Scheduler) FlushAsyncForTesting(onFlushed func()) {
	s.tracker.FlushAsyncForTesting(onFlushed)
}
