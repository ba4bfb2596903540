// execContext binds the sequence and (for pool-backed runners) the pool a
// goroutine is currently running a task for, keyed by goroutine id. This is
// the production counterpart of currentPriority (worker.go): a slot set at
// task entry and cleared at exit, read by RunsTasksInCurrentSequence from
// whatever goroutine happens to call it (spec §6, §9 Design Notes).

package tasksched_internal

import (
	"fmt"
	"runtime"
	"sync"
)

// currentGoroutineID parses the calling goroutine's id out of its own stack
// trace header. Best-effort; used only to key the execContext map, never for
// correctness-critical synchronization.
func currentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id int64
	fmt.Sscanf(string(buf[:n]), "goroutine %d", &id)
	return id
}

type execContext struct {
	pool *WorkerPool
	seq  *Sequence
}

var (
	execContextMu sync.Mutex
	execContexts  = make(map[int64]execContext)
)

// bindExecContext records that the calling goroutine is now running a task
// from seq, scheduled by pool (nil for single-thread workers, which have no
// WorkerPool).
func bindExecContext(pool *WorkerPool, seq *Sequence) {
	gid := currentGoroutineID()
	execContextMu.Lock()
	execContexts[gid] = execContext{pool: pool, seq: seq}
	execContextMu.Unlock()
}

// unbindExecContext clears the calling goroutine's binding.
func unbindExecContext() {
	gid := currentGoroutineID()
	execContextMu.Lock()
	delete(execContexts, gid)
	execContextMu.Unlock()
}

// currentExecContext returns the calling goroutine's binding, if any.
func currentExecContext() (execContext, bool) {
	gid := currentGoroutineID()
	execContextMu.Lock()
	ctx, ok := execContexts[gid]
	execContextMu.Unlock()
	return ctx, ok
}
