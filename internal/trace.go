// TraceHook: the interface TaskTracker uses to open one span per task
// execution. When no hook is supplied, NoopTraceHook is used, so the core
// never requires a configured exporter to function (spec §1 "tracing sinks ...
// characterized only by the interfaces the core uses").

package tasksched_internal

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TraceHook brackets a task's execution.
type TraceHook interface {
	// StartSpan is called immediately before a task's closure runs. The
	// returned func must be called immediately after, regardless of panic.
	StartSpan(task *Task, poolLabel string) func()
}

// OtelTraceHook opens a span named after the task's source location, tagged
// with its debug ID, priority and pool.
type OtelTraceHook struct {
	tracer trace.Tracer
}

// NewOtelTraceHook wraps an otel.Tracer obtained from the given name; pass
// otel.Tracer("tasksched") for the default global provider, which is a no-op
// until the caller installs a real TracerProvider.
func NewOtelTraceHook(tracerName string) *OtelTraceHook {
	return &OtelTraceHook{tracer: otel.Tracer(tracerName)}
}

func (h *OtelTraceHook) StartSpan(task *Task, poolLabel string) func() {
	_, span := h.tracer.Start(context.Background(), task.location,
		trace.WithAttributes(
			attribute.String("tasksched.debug_id", task.debugID),
			attribute.String("tasksched.priority", task.traits.priority.String()),
			attribute.String("tasksched.pool", poolLabel),
		),
	)
	return func() { span.End() }
}

var _ TraceHook = (*OtelTraceHook)(nil)

// NoopTraceHook does nothing; used when tracing isn't configured.
type NoopTraceHook struct{}

func (NoopTraceHook) StartSpan(*Task, string) func() { return func() {} }

var _ TraceHook = NoopTraceHook{}
