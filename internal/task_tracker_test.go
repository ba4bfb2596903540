package tasksched_internal

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWillPostTaskAdmitsBeforeShutdown(t *testing.T) {
	tt := NewTaskTracker(nil, nil)
	task := NewTask(func() {}, DefaultTaskTraits(), nil)
	require.True(t, tt.WillPostTask(task))
	require.Equal(t, int64(1), tt.NumIncompleteUndelayedTasks())
}

func TestWillPostTaskRejectsNonBlockShutdownAfterShutdownStarted(t *testing.T) {
	tt := NewTaskTracker(nil, nil)
	go tt.Shutdown()
	// Give Shutdown a moment to flip shutdown_has_started (no BLOCK_SHUTDOWN
	// tasks are in flight so it returns almost immediately).
	time.Sleep(20 * time.Millisecond)

	continueTask := NewTask(func() {}, DefaultTaskTraits().WithShutdownBehavior(ContinueOnShutdown), nil)
	require.False(t, tt.WillPostTask(continueTask))

	skipTask := NewTask(func() {}, DefaultTaskTraits().WithShutdownBehavior(SkipOnShutdown), nil)
	require.False(t, tt.WillPostTask(skipTask))
}

func TestWillPostTaskAcceptsBlockShutdownDuringShutdown(t *testing.T) {
	tt := NewTaskTracker(nil, nil)

	blocker := NewTask(func() {}, DefaultTaskTraits().WithShutdownBehavior(BlockShutdown), nil)
	require.True(t, tt.WillPostTask(blocker))

	done := make(chan struct{})
	go func() {
		tt.Shutdown()
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)

	lateBlocker := NewTask(func() {}, DefaultTaskTraits().WithShutdownBehavior(BlockShutdown), nil)
	require.True(t, tt.WillPostTask(lateBlocker), "BLOCK_SHUTDOWN tasks are admitted even after shutdown begins")

	// Finish both in-flight BLOCK_SHUTDOWN tasks so Shutdown can return.
	tt.runFrontTask("test", blocker)
	tt.runFrontTask("test", lateBlocker)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return after its BLOCK_SHUTDOWN tasks completed")
	}
}

func TestDelayedBlockShutdownTaskDemotedToSkipOnShutdown(t *testing.T) {
	tt := NewTaskTracker(nil, nil)
	task := NewTask(func() {}, DefaultTaskTraits().WithShutdownBehavior(BlockShutdown), nil)
	task.delay = 50 * time.Millisecond
	require.True(t, tt.WillPostTask(task))
	require.Equal(t, SkipOnShutdown, task.effectiveShutdownBehavior)
}

func TestFlushForTestingWaitsForIncompleteTasks(t *testing.T) {
	tt := NewTaskTracker(nil, nil)
	task := NewTask(func() {}, DefaultTaskTraits(), nil)
	require.True(t, tt.WillPostTask(task))

	flushed := make(chan struct{})
	go func() {
		tt.FlushForTesting()
		close(flushed)
	}()

	select {
	case <-flushed:
		t.Fatal("FlushForTesting returned before the incomplete task completed")
	case <-time.After(50 * time.Millisecond):
	}

	tt.runFrontTask("test", task)

	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("FlushForTesting did not return once its task completed")
	}
}

func TestFlushAsyncForTestingCollapsesConcurrentCallers(t *testing.T) {
	tt := NewTaskTracker(nil, nil)
	task := NewTask(func() {}, DefaultTaskTraits(), nil)
	require.True(t, tt.WillPostTask(task))

	var numCallbacks int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		tt.FlushAsyncForTesting(func() {
			atomic.AddInt32(&numCallbacks, 1)
			wg.Done()
		})
	}

	tt.runFrontTask("test", task)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("not all FlushAsyncForTesting callbacks fired")
	}
	require.Equal(t, int32(5), atomic.LoadInt32(&numCallbacks))
}

type fakeScheduleObserver struct {
	mu       sync.Mutex
	released []*Sequence
}

func (o *fakeScheduleObserver) OnCanScheduleSequence(seq *Sequence) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.released = append(o.released, seq)
}

func (o *fakeScheduleObserver) releasedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.released)
}

func TestWillScheduleSequenceCapsBestEffortAndPreempts(t *testing.T) {
	tt := NewTaskTracker(nil, nil)
	tt.RegisterPool("pool", 1)

	seq1 := NewSequence(DefaultTaskTraits().WithPriority(BestEffort))
	pushTask(seq1, NewTask(func() {}, DefaultTaskTraits().WithPriority(BestEffort), nil))
	obs1 := &fakeScheduleObserver{}
	require.True(t, tt.WillScheduleSequence("pool", seq1, obs1), "first best-effort sequence is admitted under the cap")

	seq2 := NewSequence(DefaultTaskTraits().WithPriority(BestEffort))
	pushTask(seq2, NewTask(func() {}, DefaultTaskTraits().WithPriority(BestEffort), nil))
	obs2 := &fakeScheduleObserver{}
	require.False(t, tt.WillScheduleSequence("pool", seq2, obs2), "second best-effort sequence exceeds the cap of 1 and is preempted")
	require.Equal(t, 0, obs2.releasedCount())

	// Non-best-effort sequences are never gated.
	seq3 := NewSequence(DefaultTaskTraits().WithPriority(UserVisible))
	pushTask(seq3, NewTask(func() {}, DefaultTaskTraits().WithPriority(UserVisible), nil))
	require.True(t, tt.WillScheduleSequence("pool", seq3, &fakeScheduleObserver{}))

	// Running seq1 to completion frees its best-effort slot, which should
	// release seq2 via its observer.
	result := tt.RunAndPopNextTask("pool", seq1, obs1)
	require.Nil(t, result, "seq1 had exactly one task; it's empty and not rescheduled")

	require.Eventually(t, func() bool { return obs2.releasedCount() == 1 }, time.Second, time.Millisecond,
		"preempted seq2 should be released once seq1's slot frees up")
}

func pushTask(seq *Sequence, task *Task) {
	txn := seq.BeginTransaction()
	txn.Push(task)
	txn.End()
}
