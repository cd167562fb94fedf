package hooks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Metrics receives outcome counters from the dispatcher and the permission
// evaluator. Gauges (pool active/waiting) are polled off the pool directly.
type Metrics interface {
	IncrCounter(name string, tags map[string]string)
}

// ScriptResolver resolves the enabled scripts bound to a hook, ordered by
// ascending ordinal.
type ScriptResolver interface {
	ResolveBindings(ctx context.Context, hookName string) ([]ResolvedScript, error)
}

// ResolvedScript is a bound script joined to its current source. Bindings
// reference sources by ID, so an edit to a ScriptSource is picked up by every
// binding on the next dispatch.
type ResolvedScript struct {
	ScriptID uuid.UUID
	Name     string
	Source   string
	Ordinal  int
}

// SecretResolver resolves a secret value by name. Implemented by Secrets;
// scripts reach it through the sandbox's secret(name) accessor.
type SecretResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// TraceRecorder persists one trace per dispatch and one span per script
// execution. Implementations must be safe for concurrent use; async hook
// executions record spans from their own goroutines.
type TraceRecorder interface {
	StartTrace(ctx context.Context, hookName, triggerEvent string) (uuid.UUID, error)
	RecordSpan(ctx context.Context, span SpanRecord) error
	EndTrace(ctx context.Context, traceID uuid.UUID, outcome string) error
}

// SpanRecord carries a single script execution into the trace store.
type SpanRecord struct {
	TraceID    uuid.UUID
	ScriptID   uuid.UUID
	Input      map[string]any
	Output     map[string]any
	Error      string
	DurationMs int64
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] HOOKS "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] HOOKS "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] HOOKS "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] HOOKS "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

type noopMetrics struct{}

func (noopMetrics) IncrCounter(string, map[string]string) {}

func normalizeMetrics(m Metrics) Metrics {
	if m == nil {
		return noopMetrics{}
	}
	return m
}

type noopTraceRecorder struct{}

func (noopTraceRecorder) StartTrace(context.Context, string, string) (uuid.UUID, error) {
	return uuid.New(), nil
}

func (noopTraceRecorder) RecordSpan(context.Context, SpanRecord) error { return nil }

func (noopTraceRecorder) EndTrace(context.Context, uuid.UUID, string) error { return nil }

func normalizeTraceRecorder(t TraceRecorder) TraceRecorder {
	if t == nil {
		return noopTraceRecorder{}
	}
	return t
}
