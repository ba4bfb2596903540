package tasksched_internal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultTaskTraits(t *testing.T) {
	traits := DefaultTaskTraits()
	require.Equal(t, UserVisible, traits.Priority())
	require.Equal(t, SkipOnShutdown, traits.ShutdownBehavior())
	require.False(t, traits.MayBlock())
	require.False(t, traits.prioritySetExplicitly)
	require.False(t, traits.shutdownBehaviorSetExplicitly)
}

func TestTaskTraitsBuilders(t *testing.T) {
	traits := DefaultTaskTraits().
		WithPriority(BestEffort).
		WithShutdownBehavior(BlockShutdown).
		WithMayBlock()

	require.Equal(t, BestEffort, traits.Priority())
	require.Equal(t, BlockShutdown, traits.ShutdownBehavior())
	require.True(t, traits.MayBlock())
	require.True(t, traits.PrioritySetExplicitly())
	require.True(t, traits.ShutdownBehaviorSetExplicitly())
	require.True(t, traits.routesToBlockingPool())
}

func TestPriorityAndShutdownBehaviorStrings(t *testing.T) {
	require.Equal(t, "BEST_EFFORT", BestEffort.String())
	require.Equal(t, "USER_VISIBLE", UserVisible.String())
	require.Equal(t, "USER_BLOCKING", UserBlocking.String())
	require.Equal(t, "CONTINUE_ON_SHUTDOWN", ContinueOnShutdown.String())
	require.Equal(t, "SKIP_ON_SHUTDOWN", SkipOnShutdown.String())
	require.Equal(t, "BLOCK_SHUTDOWN", BlockShutdown.String())
}

func TestNewTaskDebugIDsAreUnique(t *testing.T) {
	t1 := NewTask(func() {}, DefaultTaskTraits(), nil)
	t2 := NewTask(func() {}, DefaultTaskTraits(), nil)
	require.NotEqual(t, t1.DebugID(), t2.DebugID())
	require.Contains(t, t1.Location(), "task_traits_test.go")
}

func TestTaskRunRecoversPanic(t *testing.T) {
	task := NewTask(func() { panic("boom") }, DefaultTaskTraits(), nil)
	var recovered any
	task.run(func(r any) { recovered = r })
	require.Equal(t, "boom", recovered)
}

func TestTaskRunClearsRunnerAfterExecution(t *testing.T) {
	fake := &fakeRunner{label: "fake"}
	task := NewTask(func() {}, DefaultTaskTraits(), fake)
	require.Equal(t, Runner(fake), task.runner)
	task.run(nil)
	require.Nil(t, task.runner)
}

type fakeRunner struct{ label string }

func (r *fakeRunner) Label() string { return r.label }
