// Task and TaskTraits: the immutable metadata attached to every posted
// closure (spec §3 Data Model).

package tasksched_internal

import (
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// Priority governs a task's position in the PriorityQueue sort order: higher
// numeric value sorts first.
type Priority int

const (
	BestEffort Priority = iota
	UserVisible
	UserBlocking
)

var priorityNames = map[Priority]string{
	BestEffort:   "BEST_EFFORT",
	UserVisible:  "USER_VISIBLE",
	UserBlocking: "USER_BLOCKING",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// ShutdownBehavior governs what happens to a not-yet-run task when Shutdown
// is called.
type ShutdownBehavior int

const (
	ContinueOnShutdown ShutdownBehavior = iota
	SkipOnShutdown
	BlockShutdown
)

var shutdownBehaviorNames = map[ShutdownBehavior]string{
	ContinueOnShutdown: "CONTINUE_ON_SHUTDOWN",
	SkipOnShutdown:     "SKIP_ON_SHUTDOWN",
	BlockShutdown:      "BLOCK_SHUTDOWN",
}

func (sb ShutdownBehavior) String() string {
	if name, ok := shutdownBehaviorNames[sb]; ok {
		return name
	}
	return fmt.Sprintf("ShutdownBehavior(%d)", int(sb))
}

// TaskTraits is an immutable record of scheduling hints for a task. The zero
// value is BEST_EFFORT/CONTINUE_ON_SHUTDOWN with neither may_block nor
// with_base_sync_primitives; DefaultTaskTraits() returns
// USER_VISIBLE/SKIP_ON_SHUTDOWN instead.
type TaskTraits struct {
	priority         Priority
	shutdownBehavior ShutdownBehavior

	mayBlock               bool
	withBaseSyncPrimitives bool

	prioritySetExplicitly         bool
	shutdownBehaviorSetExplicitly bool
}

func DefaultTaskTraits() TaskTraits {
	return TaskTraits{
		priority:         UserVisible,
		shutdownBehavior: SkipOnShutdown,
	}
}

// WithPriority returns a copy of t with priority overridden explicitly.
func (t TaskTraits) WithPriority(p Priority) TaskTraits {
	t.priority = p
	t.prioritySetExplicitly = true
	return t
}

// WithShutdownBehavior returns a copy of t with shutdown behavior overridden
// explicitly.
func (t TaskTraits) WithShutdownBehavior(sb ShutdownBehavior) TaskTraits {
	t.shutdownBehavior = sb
	t.shutdownBehaviorSetExplicitly = true
	return t
}

// WithMayBlock marks the task as possibly entering a blocking region that
// isn't expected to be long (MAY_BLOCK in spec terms).
func (t TaskTraits) WithMayBlock() TaskTraits {
	t.mayBlock = true
	return t
}

// WithBaseSyncPrimitives marks the task as using condition
// variables/semaphores directly, which also routes it to a blocking-capable
// pool.
func (t TaskTraits) WithBaseSyncPrimitives() TaskTraits {
	t.withBaseSyncPrimitives = true
	return t
}

func (t TaskTraits) Priority() Priority                 { return t.priority }
func (t TaskTraits) ShutdownBehavior() ShutdownBehavior { return t.shutdownBehavior }
func (t TaskTraits) MayBlock() bool                     { return t.mayBlock }
func (t TaskTraits) WithBaseSyncPrimitivesSet() bool     { return t.withBaseSyncPrimitives }
func (t TaskTraits) PrioritySetExplicitly() bool         { return t.prioritySetExplicitly }
func (t TaskTraits) ShutdownBehaviorSetExplicitly() bool { return t.shutdownBehaviorSetExplicitly }

// routesToBlockingPool reports whether traits require a *_BLOCKING pool
// variant per spec §4.8.
func (t TaskTraits) routesToBlockingPool() bool {
	return t.mayBlock || t.withBaseSyncPrimitives
}

// Task is a closure plus the bookkeeping metadata the scheduler needs to
// order, trace and account for it. Tasks are destroyed after they run or are
// skipped; nothing holds on to one past that point.
type Task struct {
	fn       func()
	location string

	traits TaskTraits
	// effectiveShutdownBehavior is traits.shutdownBehavior, demoted to
	// SkipOnShutdown at post time if this is a delayed BLOCK_SHUTDOWN task
	// (spec §4.3 edge case).
	effectiveShutdownBehavior ShutdownBehavior

	postedTime    time.Time
	delay         time.Duration
	readyTime     time.Time // non-zero only for delayed tasks
	sequencedTime time.Time // set when the task becomes the front of its sequence

	debugID string

	// runner is the owning sequenced/single-thread runner, nil for parallel
	// tasks. It is read-only metadata (source-location style tracing, nested
	// post detection); Go's garbage collector reclaims the
	// Sequence<->Task<->Runner reference cycle on its own, so unlike the
	// C++ original this field needs no manual breaking -- it is simply
	// cleared after the task runs so a finished task doesn't keep its runner
	// artificially reachable.
	runner Runner

	// numQueuedAhead is sampled at push time: how many tasks were already
	// queued in front of this one. Feeds the NumTasksRunWhileQueuing metric.
	numQueuedAhead int
}

// NewTask wraps fn with the given traits. location is set to the caller's
// file:line.
func NewTask(fn func(), traits TaskTraits, runner Runner) *Task {
	loc := "unknown"
	if _, file, line, ok := runtime.Caller(1); ok {
		loc = fmt.Sprintf("%s:%d", file, line)
	}
	return &Task{
		fn:                        fn,
		location:                  loc,
		traits:                    traits,
		effectiveShutdownBehavior: traits.shutdownBehavior,
		runner:                    runner,
		debugID:                   uuid.NewString(),
	}
}

func (t *Task) Location() string   { return t.location }
func (t *Task) DebugID() string    { return t.debugID }
func (t *Task) Traits() TaskTraits { return t.traits }

// run invokes the task's closure, recovering a panic so the worker loop and
// shutdown counters stay consistent (spec §7 "User task panic").
func (t *Task) run(onPanic func(any)) {
	defer func() {
		if r := recover(); r != nil {
			if onPanic != nil {
				onPanic(r)
			}
		}
		t.runner = nil
	}()
	t.fn()
}
