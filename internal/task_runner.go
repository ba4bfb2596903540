// TaskRunner adapters: PostTask entry points that route a Task into a
// Sequence and the Sequence into a pool (spec §4.6).

package tasksched_internal

import "time"

// Runner is the narrow interface Task holds a back-reference to: enough for
// tracing/debugging without pulling the whole TaskRunner surface into
// task_traits.go.
type Runner interface {
	// Label identifies the runner for tracing (e.g. "sequenced:<id>").
	Label() string
}

// SequenceScheduler is implemented by whatever owns scheduling decisions for
// a sequence once it transitions from empty to non-empty: a WorkerPool (for
// parallel/sequenced runners) or a SingleThreadRunnerManager worker (for
// single-thread runners).
type SequenceScheduler interface {
	// ScheduleSequence is called with a newly non-empty sequence. A sequence
	// returned by TaskTracker.RunAndPopNextTask for immediate rescheduling
	// does not come through here: the worker that ran it requeues it
	// directly.
	ScheduleSequence(seq *Sequence, traits TaskTraits)
}

// baseRunner centralizes PostTask bookkeeping shared by every adapter:
// posting into a sequence and, if the sequence was empty, handing it to the
// scheduler.
type baseRunner struct {
	label     string
	scheduler SequenceScheduler
	tracker   *TaskTracker
}

func (r *baseRunner) Label() string { return r.label }

// postToSequence runs WillPostTask, and if admitted, pushes task onto seq and
// schedules seq when it transitions from empty to non-empty.
func (r *baseRunner) postToSequence(seq *Sequence, task *Task) bool {
	if !r.tracker.WillPostTask(task) {
		return false
	}
	txn := seq.BeginTransaction()
	wasEmpty := txn.Push(task)
	traits := txn.Sequence().Traits()
	txn.End()
	if wasEmpty {
		r.scheduler.ScheduleSequence(seq, traits)
	}
	return true
}

// ParallelTaskRunner gives every posted task its own single-task Sequence:
// posted tasks may run concurrently with each other (spec §4.6).
type ParallelTaskRunner struct {
	baseRunner
}

func NewParallelTaskRunner(label string, scheduler SequenceScheduler, tracker *TaskTracker) *ParallelTaskRunner {
	return &ParallelTaskRunner{baseRunner{label: label, scheduler: scheduler, tracker: tracker}}
}

func (r *ParallelTaskRunner) PostTask(fn func(), traits TaskTraits) bool {
	seq := NewSequence(traits)
	task := NewTask(fn, traits, nil)
	return r.postToSequence(seq, task)
}

// RunsTasksInCurrentSequence reports whether the calling goroutine is
// currently running a task posted through this pool (parallel tasks don't
// share a single Sequence with each other, so the check is against the
// pool binding rather than sequence identity, per spec §6).
func (r *ParallelTaskRunner) RunsTasksInCurrentSequence() bool {
	ctx, ok := currentExecContext()
	if !ok {
		return false
	}
	pool, isPool := r.scheduler.(*WorkerPool)
	return isPool && ctx.pool == pool
}

func (r *ParallelTaskRunner) PostDelayedTask(fn func(), traits TaskTraits, delay time.Duration, dtm *DelayedTaskManager) bool {
	seq := NewSequence(traits)
	task := NewTask(fn, traits, nil)
	task.delay = delay
	if !r.tracker.WillPostTask(task) {
		return false
	}
	dtm.AddDelayedTask(task, delay, func(t *Task) {
		seqTxn := seq.BeginTransaction()
		wasEmpty := seqTxn.Push(t)
		tr := seqTxn.Sequence().Traits()
		seqTxn.End()
		if wasEmpty {
			r.scheduler.ScheduleSequence(seq, tr)
		}
	})
	return true
}

// SequencedTaskRunner posts every task into one shared Sequence: tasks run
// one at a time, in post order, never concurrently with each other (spec
// §4.6).
type SequencedTaskRunner struct {
	baseRunner
	seq *Sequence
}

func NewSequencedTaskRunner(label string, traits TaskTraits, scheduler SequenceScheduler, tracker *TaskTracker) *SequencedTaskRunner {
	return &SequencedTaskRunner{
		baseRunner: baseRunner{label: label, scheduler: scheduler, tracker: tracker},
		seq:        NewSequence(traits),
	}
}

func (r *SequencedTaskRunner) PostTask(fn func()) bool {
	task := NewTask(fn, r.seq.Traits(), r)
	return r.postToSequence(r.seq, task)
}

func (r *SequencedTaskRunner) PostDelayedTask(fn func(), delay time.Duration, dtm *DelayedTaskManager) bool {
	task := NewTask(fn, r.seq.Traits(), r)
	task.delay = delay
	if !r.tracker.WillPostTask(task) {
		return false
	}
	dtm.AddDelayedTask(task, delay, func(t *Task) {
		txn := r.seq.BeginTransaction()
		wasEmpty := txn.Push(t)
		tr := txn.Sequence().Traits()
		txn.End()
		if wasEmpty {
			r.scheduler.ScheduleSequence(r.seq, tr)
		}
	})
	return true
}

// RunsTasksInCurrentSequence reports whether the calling goroutine is
// currently running a task belonging to r's sequence.
func (r *SequencedTaskRunner) RunsTasksInCurrentSequence() bool {
	ctx, ok := currentExecContext()
	return ok && ctx.seq == r.seq
}

// SingleThreadTaskRunner posts into one Sequence whose tasks all run on the
// same dedicated or shared worker goroutine, in post order (spec §4.7). The
// scheduler here is always a *singleThreadWorker.
type SingleThreadTaskRunner struct {
	baseRunner
	seq *Sequence
}

func newSingleThreadTaskRunner(label string, traits TaskTraits, scheduler SequenceScheduler, tracker *TaskTracker) *SingleThreadTaskRunner {
	return &SingleThreadTaskRunner{
		baseRunner: baseRunner{label: label, scheduler: scheduler, tracker: tracker},
		seq:        NewSequence(traits),
	}
}

func (r *SingleThreadTaskRunner) PostTask(fn func()) bool {
	task := NewTask(fn, r.seq.Traits(), r)
	return r.postToSequence(r.seq, task)
}

// PostDelayedTask posts fn to run after delay, on the same dedicated/shared
// goroutine every other task posted through r runs on.
func (r *SingleThreadTaskRunner) PostDelayedTask(fn func(), delay time.Duration, dtm *DelayedTaskManager) bool {
	task := NewTask(fn, r.seq.Traits(), r)
	task.delay = delay
	if !r.tracker.WillPostTask(task) {
		return false
	}
	dtm.AddDelayedTask(task, delay, func(t *Task) {
		txn := r.seq.BeginTransaction()
		wasEmpty := txn.Push(t)
		tr := txn.Sequence().Traits()
		txn.End()
		if wasEmpty {
			r.scheduler.ScheduleSequence(r.seq, tr)
		}
	})
	return true
}

// RunsTasksInCurrentSequence reports whether the calling goroutine is
// currently running a task belonging to r's sequence. Only one goroutine
// ever drains a given single-thread sequence, so this also proves the
// calling goroutine is r's dedicated or shared worker goroutine (spec §8
// Testable Property #3, "single-thread binding").
func (r *SingleThreadTaskRunner) RunsTasksInCurrentSequence() bool {
	ctx, ok := currentExecContext()
	return ok && ctx.seq == r.seq
}
