// Collectable log, (*testing.T).Log style.
//
// If the test is not running in verbose mode, route the scheduler's log
// output through t.Log, which go test prints only for failing tests, so a
// failing test shows its logs without every passing test spamming stdout.

package tasksched_testutils

import (
	"io"
	"testing"
)

// CollectableLog is the interface a logger must satisfy to be collected;
// tasksched_internal.CollectableLogger implements it.
type CollectableLog interface {
	GetLevel() any
	SetLevel(level any)
	GetOutput() io.Writer
	SetOutput(out io.Writer)
}

// TestLogCollector redirects a CollectableLog's output into t.Log for the
// lifetime of a test, restoring it on RestoreLog.
type TestLogCollector struct {
	log        CollectableLog
	savedOut   io.Writer
	savedLevel any
	t          *testing.T
}

// NewTestLogCollector wraps log (typically tasksched.GetRootLogger()'s
// return value) so its output is captured into t.Log instead of printed
// directly, unless tests are run with -v. level, if non-nil, temporarily
// overrides the logger's level (e.g. logrus.DebugLevel) for the test.
func NewTestLogCollector(t *testing.T, log any, level any) *TestLogCollector {
	tlc := &TestLogCollector{t: t}
	if collectable, ok := log.(CollectableLog); ok && collectable != nil {
		tlc.log = collectable
		if !testing.Verbose() {
			tlc.savedOut = collectable.GetOutput()
			collectable.SetOutput(tlc)
		}
		if level != nil {
			tlc.savedLevel = collectable.GetLevel()
			collectable.SetLevel(level)
		}
	}
	return tlc
}

func (tlc *TestLogCollector) Write(buf []byte) (int, error) {
	n := len(buf)
	if n > 0 && buf[n-1] == '\n' {
		buf = buf[:n-1]
	}
	tlc.t.Log(string(buf))
	return n, nil
}

// RestoreLog undoes the output/level swap. Call via defer right after
// NewTestLogCollector.
func (tlc *TestLogCollector) RestoreLog() {
	if tlc.log != nil {
		if tlc.savedOut != nil {
			tlc.log.SetOutput(tlc.savedOut)
		}
		if tlc.savedLevel != nil {
			tlc.log.SetLevel(tlc.savedLevel)
		}
	}
}
