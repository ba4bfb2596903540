package tasksched_internal

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	testutils "github.com/taskpool/tasksched/testutils"
)

func testSchedulerConfig() *SchedulerConfig {
	cfg := DefaultSchedulerConfig()
	fast := WorkerPoolConfig{
		InitialMaxTasks:      4,
		MaxBestEffortTasks:   2,
		SuggestedReclaimTime: 200 * time.Millisecond,
		MayBlockThreshold:    100 * time.Millisecond,
	}
	for _, pc := range []*PoolConfig{&cfg.Foreground, &cfg.ForegroundBlocking, &cfg.BestEffort, &cfg.BestEffortBlocking} {
		pc.InitialMaxTasks = fast.InitialMaxTasks
		pc.MaxBestEffortTasks = fast.MaxBestEffortTasks
		pc.SuggestedReclaimTime = fast.SuggestedReclaimTime
		pc.MayBlockThreshold = fast.MayBlockThreshold
	}
	cfg.Heartbeat.Interval = 0 // disabled; scenarios don't need probe noise
	return cfg
}

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := NewScheduler(testSchedulerConfig(), nil, nil)
	s.Start()
	t.Cleanup(s.JoinForTesting)
	return s
}

// S1 - PostPairOrdering: a sequenced runner posts T1 then T2; after Flush
// both have run, in post order.
func TestScenarioS1PostPairOrdering(t *testing.T) {
	s := newTestScheduler(t)
	runner := s.CreateSequencedTaskRunner("s1", DefaultTaskTraits())

	var mu sync.Mutex
	var log []string
	runner.PostTask(func() { mu.Lock(); log = append(log, "a"); mu.Unlock() })
	runner.PostTask(func() { mu.Lock(); log = append(log, "b"); mu.Unlock() })

	s.FlushForTesting()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "b"}, log)
}

// S2 - DelayLowerBound: a task posted with a 50ms delay must observe an
// elapsed time >= 50ms when it runs.
func TestScenarioS2DelayLowerBound(t *testing.T) {
	s := newTestScheduler(t)
	runner := s.CreateParallelTaskRunner("s2", DefaultTaskTraits())

	start := time.Now()
	delay := 50 * time.Millisecond
	var observed time.Duration
	done := make(chan struct{})
	runner.PostDelayedTask(func() {
		observed = time.Since(start)
		close(done)
	}, DefaultTaskTraits(), delay, s.DelayedTaskManager())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delayed task never ran")
	}
	require.GreaterOrEqual(t, observed, delay)
}

// S4 - ShutdownSkipsContinue: 100 CONTINUE_ON_SHUTDOWN tasks that each sleep
// 1s are posted, then Shutdown is called immediately. Shutdown must return
// quickly and most of the 100 must never run.
func TestScenarioS4ShutdownSkipsContinue(t *testing.T) {
	s := NewScheduler(testSchedulerConfig(), nil, nil)
	s.Start()

	var started int32
	var mu sync.Mutex
	runner := s.CreateParallelTaskRunner("s4", DefaultTaskTraits().WithShutdownBehavior(ContinueOnShutdown))
	for i := 0; i < 100; i++ {
		runner.PostTask(func() {
			mu.Lock()
			started++
			mu.Unlock()
			time.Sleep(time.Second)
		}, DefaultTaskTraits().WithShutdownBehavior(ContinueOnShutdown))
	}

	shutdownStart := time.Now()
	s.Shutdown()
	elapsed := time.Since(shutdownStart)

	require.Less(t, elapsed, 500*time.Millisecond, "Shutdown should return quickly without waiting for CONTINUE_ON_SHUTDOWN work")

	mu.Lock()
	n := started
	mu.Unlock()
	require.Less(t, int(n), 50, "most of the 100 tasks should never have started given the pool's bounded worker count")

	s.JoinForTesting()
}

// S5 - ShutdownBlocks: a BLOCK_SHUTDOWN task sleeping 300ms is posted, then
// Shutdown is called. Shutdown must not return before the task completes.
func TestScenarioS5ShutdownBlocks(t *testing.T) {
	s := NewScheduler(testSchedulerConfig(), nil, nil)
	s.Start()

	runner := s.CreateParallelTaskRunner("s5", DefaultTaskTraits().WithShutdownBehavior(BlockShutdown))
	sleepFor := 300 * time.Millisecond
	var completed bool
	var mu sync.Mutex
	runner.PostTask(func() {
		time.Sleep(sleepFor)
		mu.Lock()
		completed = true
		mu.Unlock()
	}, DefaultTaskTraits().WithShutdownBehavior(BlockShutdown))

	start := time.Now()
	s.Shutdown()
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, sleepFor-20*time.Millisecond, "Shutdown must wait for the BLOCK_SHUTDOWN task")
	mu.Lock()
	defer mu.Unlock()
	require.True(t, completed, "the BLOCK_SHUTDOWN task must have completed before Shutdown returned")

	s.JoinForTesting()
}

func TestSchedulerRoutesTraitsToExpectedEnvironment(t *testing.T) {
	require.Equal(t, envForeground, getEnvironmentIndexForTraits(DefaultTaskTraits()))
	require.Equal(t, envForegroundBlocking, getEnvironmentIndexForTraits(DefaultTaskTraits().WithMayBlock()))
	require.Equal(t, envBestEffort, getEnvironmentIndexForTraits(DefaultTaskTraits().WithPriority(BestEffort)))
	require.Equal(t, envBestEffortBlocking, getEnvironmentIndexForTraits(
		DefaultTaskTraits().WithPriority(BestEffort).WithBaseSyncPrimitives()))
}

func TestSchedulerAllTasksUserBlockingOverride(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.AllTasksUserBlocking = true
	s := NewScheduler(cfg, nil, nil)
	s.Start()
	t.Cleanup(s.JoinForTesting)

	// With the override on, even BEST_EFFORT-tagged traits must route to
	// the foreground pool rather than best_effort (spec §4.8 diagnostic
	// override, applied in effectiveTraits before pool selection).
	runner := s.CreateParallelTaskRunner("override", DefaultTaskTraits().WithPriority(BestEffort))
	require.Same(t, s.pools[envForeground], runner.scheduler)
}

// TestSchedulerPublishesExpectedMetricSeries drives a scenario through a
// scheduler wired to a private Prometheus registry and asserts the expected
// series show up, using testutils' registry/assertion helpers instead of a
// hand-rolled gather loop.
func TestSchedulerPublishesExpectedMetricSeries(t *testing.T) {
	reg := testutils.NewTestRegistry()
	sink := NewPrometheusMetricsSink(reg)

	s := NewScheduler(testSchedulerConfig(), sink, nil)
	s.Start()
	t.Cleanup(s.JoinForTesting)

	runner := s.CreateParallelTaskRunner("metrics", DefaultTaskTraits())
	for i := 0; i < 5; i++ {
		runner.PostTask(func() {}, DefaultTaskTraits())
	}
	s.FlushForTesting()

	require.NoError(t, testutils.ExpectMetricNames(reg, []string{
		"tasksched_task_latency_seconds",
		"tasksched_num_workers",
	}, false))

	n, err := testutils.CountMetricFamily(reg, "tasksched_num_workers")
	require.NoError(t, err)
	require.Greater(t, n, 0, "expected at least one pool to report tasksched_num_workers")
}

// TestSchedulerLogsCapturedDuringScenario runs a scenario with the root
// logger's output redirected into t.Log via testutils.TestLogCollector,
// confirming the collector can be dropped into a live scenario test rather
// than only exercised standalone.
func TestSchedulerLogsCapturedDuringScenario(t *testing.T) {
	tlc := testutils.NewTestLogCollector(t, RootLogger, nil)
	defer tlc.RestoreLog()

	s := newTestScheduler(t)
	runner := s.CreateSequencedTaskRunner("logcapture", DefaultTaskTraits())
	runner.PostTask(func() {})
	s.FlushForTesting()
}

// TestLoadYamlFileDecodesPoolConfigFixture exercises testutils.LoadYamlFile
// against a PoolConfig fixture written to a temp file, independent of
// LoadConfig's own file handling.
func TestLoadYamlFileDecodesPoolConfigFixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	data := []byte("initial_max_tasks: 7\nmax_best_effort_tasks: 3\nsuggested_reclaim_time: 60000000000\nmay_block_threshold: 2000000000\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	var pc PoolConfig
	require.NoError(t, testutils.LoadYamlFile(path, &pc))

	require.Equal(t, 7, pc.InitialMaxTasks)
	require.Equal(t, 3, pc.MaxBestEffortTasks)
	require.Equal(t, time.Minute, pc.SuggestedReclaimTime)
	require.Equal(t, 2*time.Second, pc.MayBlockThreshold)
}
