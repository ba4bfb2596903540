// Utils for asserting on a PrometheusMetricsSink's collected series in
// tests, built on Prometheus's own testutil package since this scheduler's
// MetricsSink is Prometheus-backed.

package tasksched_testutils

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// NewTestRegistry returns a fresh prometheus.Registry, suitable for passing
// to tasksched.NewPrometheusMetricsSink in tests so assertions don't collide
// with the global default registry or other tests' series.
func NewTestRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// CountMetricFamily returns how many series (label combinations) reg
// currently holds under metricName, for presence/shape assertions without pulling in a full
// golden-text comparison.
func CountMetricFamily(reg *prometheus.Registry, metricName string) (int, error) {
	families, err := reg.Gather()
	if err != nil {
		return 0, err
	}
	for _, f := range families {
		if f.GetName() == metricName {
			return len(f.GetMetric()), nil
		}
	}
	return 0, nil
}

// ExpectMetricNames reports an error listing any of wantNames absent from
// reg's current gather, and any unexpected extra series if reportExtra is
// set.
func ExpectMetricNames(reg *prometheus.Registry, wantNames []string, reportExtra bool) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	got := make(map[string]bool, len(families))
	for _, f := range families {
		got[f.GetName()] = true
	}

	var missing, extra []string
	want := make(map[string]bool, len(wantNames))
	for _, name := range wantNames {
		want[name] = true
		if !got[name] {
			missing = append(missing, name)
		}
	}
	if reportExtra {
		for name := range got {
			if !want[name] {
				extra = append(extra, name)
			}
		}
	}

	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	var sb strings.Builder
	for _, name := range missing {
		fmt.Fprintf(&sb, "\nmissing metric: %s", name)
	}
	for _, name := range extra {
		fmt.Fprintf(&sb, "\nunexpected metric: %s", name)
	}
	return fmt.Errorf("%s", sb.String())
}

// CollectAndCount is a thin re-export of testutil.CollectAndCount for
// callers that already have a prometheus.Collector in hand (e.g. a single
// HistogramVec) rather than a whole registry.
func CollectAndCount(c prometheus.Collector, metricNames ...string) int {
	return testutil.CollectAndCount(c, metricNames...)
}
