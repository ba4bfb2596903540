// Package tasksched is the public face of the task scheduler for its users.
// The actual implementation lives in the internal package; this file only
// re-exports the types and constructors callers need.
package tasksched

import (
	"time"

	"github.com/sirupsen/logrus"

	tasksched_internal "github.com/taskpool/tasksched/internal"
)

type (
	Priority         = tasksched_internal.Priority
	ShutdownBehavior = tasksched_internal.ShutdownBehavior
	TaskTraits       = tasksched_internal.TaskTraits
	SingleThreadMode = tasksched_internal.SingleThreadMode

	MetricsSink             = tasksched_internal.MetricsSink
	TraceHook                = tasksched_internal.TraceHook
	PrometheusMetricsSink    = tasksched_internal.PrometheusMetricsSink
	OtelTraceHook            = tasksched_internal.OtelTraceHook

	SchedulerConfig = tasksched_internal.SchedulerConfig
	PoolConfig      = tasksched_internal.PoolConfig
	LoggerConfig    = tasksched_internal.LoggerConfig
	TaskSchedConfig = tasksched_internal.TaskSchedConfig

	Scheduler             = tasksched_internal.Scheduler
	ParallelTaskRunner     = tasksched_internal.ParallelTaskRunner
	SequencedTaskRunner    = tasksched_internal.SequencedTaskRunner
	SingleThreadTaskRunner = tasksched_internal.SingleThreadTaskRunner
	DelayedTaskManager     = tasksched_internal.DelayedTaskManager
)

const (
	BestEffort   = tasksched_internal.BestEffort
	UserVisible  = tasksched_internal.UserVisible
	UserBlocking = tasksched_internal.UserBlocking

	ContinueOnShutdown = tasksched_internal.ContinueOnShutdown
	SkipOnShutdown     = tasksched_internal.SkipOnShutdown
	BlockShutdown      = tasksched_internal.BlockShutdown

	Dedicated = tasksched_internal.Dedicated
	Shared    = tasksched_internal.Shared
)

// DefaultTaskTraits returns USER_VISIBLE/SKIP_ON_SHUTDOWN traits with
// neither MAY_BLOCK nor WITH_BASE_SYNC_PRIMITIVES set.
func DefaultTaskTraits() TaskTraits { return tasksched_internal.DefaultTaskTraits() }

// DefaultSchedulerConfig returns a SchedulerConfig with the library's
// built-in per-pool defaults.
func DefaultSchedulerConfig() *SchedulerConfig { return tasksched_internal.DefaultSchedulerConfig() }

// LoadConfig reads cfgFile (or buf, for testing) as a YAML document with a
// scheduler_config and a log_config section, applying a TASKSCHED_*
// environment overlay on top.
func LoadConfig(cfgFile string, buf []byte) (*TaskSchedConfig, error) {
	return tasksched_internal.LoadConfig(cfgFile, buf)
}

// SetLogger applies cfg to the package's root logger.
func SetLogger(cfg *LoggerConfig) error { return tasksched_internal.SetLogger(cfg) }

// NewCompLogger creates a component logger, the way the core's own
// components do.
func NewCompLogger(component string) *logrus.Entry {
	return tasksched_internal.NewCompLogger(component)
}

// GetRootLogger exposes the root logger for tests that need to swap its
// output (see testutils.NewTestLogCollector); its concrete type is
// deliberately obscured here.
func GetRootLogger() any { return tasksched_internal.RootLogger }

// NewPrometheusMetricsSink and NewOtelTraceHook are re-exported so callers
// can wire the shipped collaborator implementations without importing the
// internal package directly.
var (
	NewPrometheusMetricsSink = tasksched_internal.NewPrometheusMetricsSink
	NewOtelTraceHook         = tasksched_internal.NewOtelTraceHook
)

// NewScheduler builds a Scheduler from cfg (nil selects defaults) and the
// given metrics/trace collaborators (nil selects no-op implementations).
func NewScheduler(cfg *SchedulerConfig, metrics MetricsSink, trace TraceHook) *Scheduler {
	return tasksched_internal.NewScheduler(cfg, metrics, trace)
}

// PostTask posts fn to a fresh single-task Sequence on the scheduler's
// parallel pool for traits, running concurrently with any other posted
// task. It's a convenience wrapper around a one-off ParallelTaskRunner; for
// repeated posting prefer creating a runner once via
// Scheduler.CreateParallelTaskRunner.
func PostTask(s *Scheduler, label string, fn func(), traits TaskTraits) bool {
	return s.CreateParallelTaskRunner(label, traits).PostTask(fn, traits)
}

// PostDelayedTask posts fn to run after delay elapses, via a fresh
// ParallelTaskRunner.
func PostDelayedTask(s *Scheduler, label string, fn func(), traits TaskTraits, delay time.Duration) bool {
	return s.CreateParallelTaskRunner(label, traits).PostDelayedTask(fn, traits, delay, s.DelayedTaskManager())
}
