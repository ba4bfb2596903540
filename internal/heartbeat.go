// Heartbeat: a periodic self-probe posted once per (priority, may-block)
// combination, the source's way of sampling end-to-end scheduling latency
// even when no application work is flowing (spec §9 Open Question; spec §6
// "HeartbeatLatency.<label>.<priority>[.MayBlock]").

package tasksched_internal

import (
	"sync"
	"time"
)

var heartbeatLog = NewCompLogger("heartbeat")

// heartbeatRunner owns the service-thread-style ticker that fires one round
// of probe tasks per interval. It is started by Scheduler.Start and stopped
// by Scheduler.JoinForTesting.
type heartbeatRunner struct {
	sched    *Scheduler
	interval time.Duration

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

func newHeartbeatRunner(s *Scheduler, interval time.Duration) *heartbeatRunner {
	return &heartbeatRunner{sched: s, interval: interval}
}

// heartbeatCombos enumerates the six probes emitted each round: one per
// priority crossed with may-block.
var heartbeatCombos = []struct {
	priority Priority
	mayBlock bool
}{
	{BestEffort, false}, {BestEffort, true},
	{UserVisible, false}, {UserVisible, true},
	{UserBlocking, false}, {UserBlocking, true},
}

func (h *heartbeatRunner) start() {
	if h.interval <= 0 {
		return
	}
	h.mu.Lock()
	if h.done != nil {
		h.mu.Unlock()
		return
	}
	h.done = make(chan struct{})
	h.mu.Unlock()

	h.wg.Add(1)
	go h.loop()
}

func (h *heartbeatRunner) loop() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.fireRound()
		case <-h.done:
			return
		}
	}
}

// fireRound posts one probe task per combo; each probe's traits route it to
// the pool that combo describes, and the closure records the elapsed time
// from post to run as HeartbeatLatency.
func (h *heartbeatRunner) fireRound() {
	for _, combo := range heartbeatCombos {
		traits := DefaultTaskTraits().
			WithPriority(combo.priority).
			WithShutdownBehavior(ContinueOnShutdown)
		if combo.mayBlock {
			traits = traits.WithMayBlock()
		}

		pool := h.sched.poolFor(traits)
		runner := NewParallelTaskRunner(pool.Label()+".heartbeat", pool, h.sched.tracker)
		postedAt := time.Now()
		posted := runner.PostTask(func() {
			h.sched.metrics.ObserveHeartbeatLatency(pool.Label(), combo.priority, combo.mayBlock, time.Since(postedAt))
		}, traits)
		if !posted {
			heartbeatLog.Debugf("heartbeat probe for %s/%s dropped (scheduler shutting down)", pool.Label(), combo.priority)
		}
	}
}

func (h *heartbeatRunner) stop() {
	h.mu.Lock()
	done := h.done
	h.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	default:
		close(done)
	}
	h.wg.Wait()
}
