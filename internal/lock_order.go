//go:build tasksched_debuglocks

// Debug-only lock-order tracker: records, per goroutine, the stack of named
// locks currently held, and panics if the same pair of locks is ever
// observed being acquired in opposite order (spec §9
// "Supplemented Features" lock-order checking). Compiled out of normal
// builds; enable with -tags tasksched_debuglocks.

package tasksched_internal

import (
	"fmt"
	"runtime"
	"sync"
)

type lockOrderTrackerT struct {
	mu sync.Mutex
	// heldBy maps goroutine id (best-effort, parsed from runtime.Stack) to
	// the ordered list of lock names it currently holds.
	heldBy map[int64][]string
	// observedOrder[a][b] is set once some goroutine has been seen to
	// acquire lock b while already holding lock a.
	observedOrder map[string]map[string]bool
}

var lockOrderTracker = &lockOrderTrackerT{
	heldBy:        make(map[int64][]string),
	observedOrder: make(map[string]map[string]bool),
}

func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id int64
	fmt.Sscanf(string(buf[:n]), "goroutine %d", &id)
	return id
}

// BeforeLock is called immediately before acquiring the lock named name.
// Panics if this acquisition would contradict a previously observed order.
func BeforeLock(name string) {
	gid := goroutineID()

	lockOrderTracker.mu.Lock()
	defer lockOrderTracker.mu.Unlock()

	held := lockOrderTracker.heldBy[gid]
	for _, already := range held {
		if already == name {
			continue
		}
		if lockOrderTracker.observedOrder[name] != nil && lockOrderTracker.observedOrder[name][already] {
			panic(fmt.Sprintf("lock order violation: %q acquired after %q, but %q->%q was observed previously", name, already, name, already))
		}
		if lockOrderTracker.observedOrder[already] == nil {
			lockOrderTracker.observedOrder[already] = make(map[string]bool)
		}
		lockOrderTracker.observedOrder[already][name] = true
	}
	lockOrderTracker.heldBy[gid] = append(held, name)
}

// AfterUnlock is called immediately after releasing the lock named name.
func AfterUnlock(name string) {
	gid := goroutineID()

	lockOrderTracker.mu.Lock()
	defer lockOrderTracker.mu.Unlock()

	held := lockOrderTracker.heldBy[gid]
	for i := len(held) - 1; i >= 0; i-- {
		if held[i] == name {
			lockOrderTracker.heldBy[gid] = append(held[:i], held[i+1:]...)
			return
		}
	}
}
