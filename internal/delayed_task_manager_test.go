package tasksched_internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayedTaskManagerReleasesAfterDelay(t *testing.T) {
	dtm := NewDelayedTaskManager()
	t.Cleanup(dtm.Stop)

	start := time.Now()
	delay := 50 * time.Millisecond
	released := make(chan time.Time, 1)

	task := NewTask(func() {}, DefaultTaskTraits(), nil)
	dtm.AddDelayedTask(task, delay, func(tk *Task) {
		released <- time.Now()
	})

	select {
	case when := <-released:
		// S2 from spec §8: observed start time >= post time + delay.
		require.GreaterOrEqual(t, when.Sub(start), delay)
	case <-time.After(time.Second):
		t.Fatal("delayed task was never released")
	}
}

func TestDelayedTaskManagerReleasesInReadyTimeOrder(t *testing.T) {
	dtm := NewDelayedTaskManager()
	t.Cleanup(dtm.Stop)

	order := make(chan int, 3)

	post := func(id int, delay time.Duration) {
		task := NewTask(func() {}, DefaultTaskTraits(), nil)
		dtm.AddDelayedTask(task, delay, func(*Task) { order <- id })
	}
	// Post out of delay order to confirm release respects ready_time, not
	// post order.
	post(2, 60*time.Millisecond)
	post(0, 10*time.Millisecond)
	post(1, 30*time.Millisecond)

	var got []int
	for i := 0; i < 3; i++ {
		select {
		case id := <-order:
			got = append(got, id)
		case <-time.After(time.Second):
			t.Fatal("not all delayed tasks were released")
		}
	}
	require.Equal(t, []int{0, 1, 2}, got, "tasks release in ready_time order")
}

func TestDelayedTaskManagerStopDropsPending(t *testing.T) {
	dtm := NewDelayedTaskManager()
	task := NewTask(func() {}, DefaultTaskTraits(), nil)
	released := make(chan struct{}, 1)
	dtm.AddDelayedTask(task, time.Hour, func(*Task) { released <- struct{}{} })
	require.Equal(t, 1, dtm.NumPending())

	dtm.Stop()

	select {
	case <-released:
		t.Fatal("Stop must not run pending delayed tasks")
	case <-time.After(50 * time.Millisecond):
	}
}
