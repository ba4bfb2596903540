package tasksched_internal

import (
	"fmt"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// currentGoroutineIDForTest parses the running goroutine's id out of its own
// stack trace header, enough to assert "these tasks ran on the same
// goroutine" without pulling in a third-party goroutine-id package.
func currentGoroutineIDForTest() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id int64
	fmt.Sscanf(string(buf[:n]), "goroutine %d", &id)
	return id
}

func TestSingleThreadRunnerManagerDedicatedRunsOnOneGoroutine(t *testing.T) {
	tracker := NewTaskTracker(nil, nil)
	mgr := NewSingleThreadRunnerManager(tracker)
	t.Cleanup(mgr.JoinForTesting)

	runner := mgr.NewSingleThreadTaskRunner("dedicated", DefaultTaskTraits(), Dedicated)

	var mu sync.Mutex
	var goroutineIDs []int64
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		i := i
		runner.PostTask(func() {
			defer wg.Done()
			mu.Lock()
			order = append(order, i)
			goroutineIDs = append(goroutineIDs, currentGoroutineIDForTest())
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("single-thread runner tasks never completed")
	}

	require.Equal(t, []int{0, 1, 2, 3, 4}, order, "dedicated single-thread runner preserves post order")
	for _, id := range goroutineIDs[1:] {
		require.Equal(t, goroutineIDs[0], id, "every task ran on the same goroutine")
	}
}

func TestSingleThreadRunnerManagerSharedReusesWorkerForSameTraits(t *testing.T) {
	tracker := NewTaskTracker(nil, nil)
	mgr := NewSingleThreadRunnerManager(tracker)
	t.Cleanup(mgr.JoinForTesting)

	r1 := mgr.NewSingleThreadTaskRunner("shared-1", DefaultTaskTraits(), Shared)
	r2 := mgr.NewSingleThreadTaskRunner("shared-2", DefaultTaskTraits(), Shared)

	var mu sync.Mutex
	ids := map[int64]bool{}
	var wg sync.WaitGroup
	record := func() {
		defer wg.Done()
		mu.Lock()
		ids[currentGoroutineIDForTest()] = true
		mu.Unlock()
	}
	wg.Add(2)
	r1.PostTask(record)
	r2.PostTask(record)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shared single-thread runners never ran their tasks")
	}

	require.Len(t, ids, 1, "runners sharing the same traits reuse the same worker goroutine")
}

func TestSingleThreadRunnerManagerDedicatedGetsDistinctWorkers(t *testing.T) {
	tracker := NewTaskTracker(nil, nil)
	mgr := NewSingleThreadRunnerManager(tracker)
	t.Cleanup(mgr.JoinForTesting)

	r1 := mgr.NewSingleThreadTaskRunner("dedicated-1", DefaultTaskTraits(), Dedicated)
	r2 := mgr.NewSingleThreadTaskRunner("dedicated-2", DefaultTaskTraits(), Dedicated)

	var mu sync.Mutex
	ids := map[int64]bool{}
	var wg sync.WaitGroup
	record := func() {
		defer wg.Done()
		mu.Lock()
		ids[currentGoroutineIDForTest()] = true
		mu.Unlock()
	}
	wg.Add(2)
	r1.PostTask(record)
	r2.PostTask(record)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dedicated single-thread runners never ran their tasks")
	}

	require.Len(t, ids, 2, "dedicated runners each get their own worker goroutine")
}
