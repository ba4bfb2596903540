// MetricsSink: the interface the core calls into for every series listed in
// spec §6. The core ships a no-op default and a Prometheus-backed adapter;
// callers may supply their own.

package tasksched_internal

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink receives scheduler observations. All methods must be safe for
// concurrent use and must not block the caller meaningfully (Prometheus
// client operations are in-memory and effectively non-blocking).
type MetricsSink interface {
	// ObserveTaskLatency records now-posted_time for a task that just ran.
	ObserveTaskLatency(poolLabel string, priority Priority, mayBlock bool, latency time.Duration)
	// ObserveHeartbeatLatency records a periodic self-probe's latency.
	ObserveHeartbeatLatency(poolLabel string, priority Priority, mayBlock bool, latency time.Duration)
	// ObserveNumTasksRunWhileQueuing records how many tasks were already
	// queued ahead of a task when it was posted.
	ObserveNumTasksRunWhileQueuing(poolLabel string, priority Priority, mayBlock bool, n int)
	// SetNumWorkers/SetNumActiveWorkers sample pool gauges.
	SetNumWorkers(poolLabel string, n int)
	SetNumActiveWorkers(poolLabel string, n int)
	// ObserveDetachDuration records the time between two consecutive worker
	// cleanups in a pool.
	ObserveDetachDuration(poolLabel string, d time.Duration)
	// ObserveNumTasksBeforeDetach records how many tasks a worker ran before
	// being cleaned up.
	ObserveNumTasksBeforeDetach(poolLabel string, n int)
	// ObserveNumTasksBetweenWaits records how many tasks a worker ran in one
	// wake cycle before going back to sleep.
	ObserveNumTasksBetweenWaits(poolLabel string, n int)
	// IncNumBlockShutdownTasksPostedDuringShutdown counts BLOCK_SHUTDOWN
	// tasks admitted after Shutdown() began.
	IncNumBlockShutdownTasksPostedDuringShutdown()
}

// NoopMetricsSink discards everything; it is the default so the core never
// requires a metrics backend to function.
type NoopMetricsSink struct{}

func (NoopMetricsSink) ObserveTaskLatency(string, Priority, bool, time.Duration)             {}
func (NoopMetricsSink) ObserveHeartbeatLatency(string, Priority, bool, time.Duration)         {}
func (NoopMetricsSink) ObserveNumTasksRunWhileQueuing(string, Priority, bool, int)            {}
func (NoopMetricsSink) SetNumWorkers(string, int)                                             {}
func (NoopMetricsSink) SetNumActiveWorkers(string, int)                                        {}
func (NoopMetricsSink) ObserveDetachDuration(string, time.Duration)                            {}
func (NoopMetricsSink) ObserveNumTasksBeforeDetach(string, int)                                 {}
func (NoopMetricsSink) ObserveNumTasksBetweenWaits(string, int)                                {}
func (NoopMetricsSink) IncNumBlockShutdownTasksPostedDuringShutdown()                          {}

var _ MetricsSink = NoopMetricsSink{}

// PrometheusMetricsSink implements MetricsSink with the series named in spec
// §6, labeled by pool and priority (plus a may_block suffix folded into the
// priority label, matching the "<label>.<priority>[.MayBlock]" naming
// scheme).
type PrometheusMetricsSink struct {
	taskLatency             *prometheus.HistogramVec
	heartbeatLatency        *prometheus.HistogramVec
	numTasksRunWhileQueuing *prometheus.HistogramVec
	numWorkers              *prometheus.GaugeVec
	numActiveWorkers        *prometheus.GaugeVec
	detachDuration          *prometheus.HistogramVec
	numTasksBeforeDetach    *prometheus.HistogramVec
	numTasksBetweenWaits    *prometheus.HistogramVec
	blockShutdownDuringShutdown prometheus.Counter
}

func priorityLabel(p Priority, mayBlock bool) string {
	if mayBlock {
		return p.String() + ".MayBlock"
	}
	return p.String()
}

// NewPrometheusMetricsSink registers its collectors with reg (pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry).
func NewPrometheusMetricsSink(reg prometheus.Registerer) *PrometheusMetricsSink {
	s := &PrometheusMetricsSink{
		taskLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tasksched_task_latency_seconds",
			Help:    "Time from post to run start for a task.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pool", "priority"}),
		heartbeatLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tasksched_heartbeat_latency_seconds",
			Help:    "Self-probe latency per pool/priority.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pool", "priority"}),
		numTasksRunWhileQueuing: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tasksched_num_tasks_run_while_queuing",
			Help:    "How many tasks were queued ahead of a task at post time.",
			Buckets: prometheus.LinearBuckets(0, 2, 10),
		}, []string{"pool", "priority"}),
		numWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tasksched_num_workers",
			Help: "Current number of workers in a pool.",
		}, []string{"pool"}),
		numActiveWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tasksched_num_active_workers",
			Help: "Current number of non-idle workers in a pool.",
		}, []string{"pool"}),
		detachDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tasksched_detach_duration_seconds",
			Help:    "Time between consecutive worker cleanups in a pool.",
			Buckets: prometheus.DefBuckets,
		}, []string{"pool"}),
		numTasksBeforeDetach: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tasksched_num_tasks_before_detach",
			Help:    "How many tasks a worker ran before being cleaned up.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"pool"}),
		numTasksBetweenWaits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tasksched_num_tasks_between_waits",
			Help:    "How many tasks a worker ran per wake cycle.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"pool"}),
		blockShutdownDuringShutdown: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tasksched_num_block_shutdown_tasks_posted_during_shutdown",
			Help: "BLOCK_SHUTDOWN tasks admitted after Shutdown() began.",
		}),
	}
	reg.MustRegister(
		s.taskLatency, s.heartbeatLatency, s.numTasksRunWhileQueuing,
		s.numWorkers, s.numActiveWorkers, s.detachDuration,
		s.numTasksBeforeDetach, s.numTasksBetweenWaits, s.blockShutdownDuringShutdown,
	)
	return s
}

func (s *PrometheusMetricsSink) ObserveTaskLatency(pool string, p Priority, mayBlock bool, d time.Duration) {
	s.taskLatency.WithLabelValues(pool, priorityLabel(p, mayBlock)).Observe(d.Seconds())
}

func (s *PrometheusMetricsSink) ObserveHeartbeatLatency(pool string, p Priority, mayBlock bool, d time.Duration) {
	s.heartbeatLatency.WithLabelValues(pool, priorityLabel(p, mayBlock)).Observe(d.Seconds())
}

func (s *PrometheusMetricsSink) ObserveNumTasksRunWhileQueuing(pool string, p Priority, mayBlock bool, n int) {
	s.numTasksRunWhileQueuing.WithLabelValues(pool, priorityLabel(p, mayBlock)).Observe(float64(n))
}

func (s *PrometheusMetricsSink) SetNumWorkers(pool string, n int) {
	s.numWorkers.WithLabelValues(pool).Set(float64(n))
}

func (s *PrometheusMetricsSink) SetNumActiveWorkers(pool string, n int) {
	s.numActiveWorkers.WithLabelValues(pool).Set(float64(n))
}

func (s *PrometheusMetricsSink) ObserveDetachDuration(pool string, d time.Duration) {
	s.detachDuration.WithLabelValues(pool).Observe(d.Seconds())
}

func (s *PrometheusMetricsSink) ObserveNumTasksBeforeDetach(pool string, n int) {
	s.numTasksBeforeDetach.WithLabelValues(pool).Observe(float64(n))
}

func (s *PrometheusMetricsSink) ObserveNumTasksBetweenWaits(pool string, n int) {
	s.numTasksBetweenWaits.WithLabelValues(pool).Observe(float64(n))
}

func (s *PrometheusMetricsSink) IncNumBlockShutdownTasksPostedDuringShutdown() {
	s.blockShutdownDuringShutdown.Inc()
}

var _ MetricsSink = (*PrometheusMetricsSink)(nil)

// detachTracker tracks, per pool label, the last time a worker was cleaned up,
// so ObserveDetachDuration can be derived from two SnapStats-style samples
// without the pool itself needing a clock dependency.
type detachTracker struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func newDetachTracker() *detachTracker { return &detachTracker{last: make(map[string]time.Time)} }

func (d *detachTracker) recordDetach(pool string, sink MetricsSink) {
	now := time.Now()
	d.mu.Lock()
	prev, had := d.last[pool]
	d.last[pool] = now
	d.mu.Unlock()
	if had {
		sink.ObserveDetachDuration(pool, now.Sub(prev))
	}
}
