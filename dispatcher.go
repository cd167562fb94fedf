package hooks

import (
	"context"
	"errors"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// HookResult is the normalized outcome of a dispatch.
type HookResult struct {
	Allowed bool           `json:"allowed"`
	Error   string         `json:"error,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Dispatcher resolves the scripts bound to a hook and executes them through
// the interpreter pool per the hook's execution mode.
type Dispatcher struct {
	resolver ScriptResolver
	pool     *InterpreterPool
	sandbox  *Sandbox
	tracer   TraceRecorder
	metrics  Metrics
	logger   Logger
	secrets  SecretResolver
}

// DispatcherOption customizes dispatcher construction.
type DispatcherOption func(*Dispatcher)

// WithDispatcherTracer wires the trace recorder. Defaults to a noop.
func WithDispatcherTracer(tracer TraceRecorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.tracer = normalizeTraceRecorder(tracer)
	}
}

// WithDispatcherMetrics wires the outcome counter sink. Defaults to a noop.
func WithDispatcherMetrics(metrics Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = normalizeMetrics(metrics)
	}
}

// WithDispatcherLogger overrides the dispatcher logger.
func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithDispatcherSecrets wires the resolver exposed to scripts as
// secret(name).
func WithDispatcherSecrets(resolver SecretResolver) DispatcherOption {
	return func(d *Dispatcher) {
		if resolver != nil {
			d.secrets = resolver
		}
	}
}

// NewDispatcher builds a dispatcher over the given bindings resolver and
// interpreter pool. The sandbox is constructed from cfg and the configured
// secret resolver.
func NewDispatcher(resolver ScriptResolver, pool *InterpreterPool, cfg Config, opts ...DispatcherOption) *Dispatcher {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	dispatcher := &Dispatcher{
		resolver: resolver,
		pool:     pool,
		tracer:   noopTraceRecorder{},
		metrics:  noopMetrics{},
		logger:   defLogger{},
		secrets:  noSecrets{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(dispatcher)
		}
	}

	dispatcher.sandbox = NewSandbox(cfg,
		WithSandboxSecrets(dispatcher.secrets),
		WithSandboxLogger(dispatcher.logger),
	)

	return dispatcher
}

// Dispatch validates input against the hook's contract, resolves its bound
// scripts, and executes them per the hook's mode. With no bound scripts the
// mode's neutral result is returned without touching the pool.
//
// Blocking and enrichment failures surface as a denial; async failures are
// logged only. ErrPoolExhausted propagates to the caller as a transient,
// retryable error.
func (d *Dispatcher) Dispatch(ctx context.Context, hookName string, input map[string]any) (*HookResult, error) {
	def, err := GetHookDefinition(hookName)
	if err != nil {
		return nil, err
	}

	if err := def.ValidateInput(input); err != nil {
		return nil, err
	}

	scripts, err := d.resolver.ResolveBindings(ctx, hookName)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resolve hook bindings")
	}

	if len(scripts) == 0 {
		return &HookResult{Allowed: true}, nil
	}

	traceID := d.startTrace(ctx, hookName, input)

	if def.Mode == HookModeAsync {
		result := d.runAsync(traceID, hookName, scripts, input)
		d.count(hookName, TraceOutcomeAllowed)
		return result, nil
	}

	var result *HookResult
	var outcome string

	switch def.Mode {
	case HookModeBlocking:
		result, outcome, err = d.runBlocking(ctx, traceID, scripts, input)
	case HookModeEnrichment:
		result, outcome, err = d.runEnrichment(ctx, traceID, scripts, input)
	}

	d.endTrace(ctx, traceID, outcome)
	d.count(hookName, outcome)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// runBlocking executes scripts sequentially in ordinal order, stopping at
// the first allowed=false. Later scripts never run.
func (d *Dispatcher) runBlocking(ctx context.Context, traceID uuid.UUID, scripts []ResolvedScript, input map[string]any) (*HookResult, string, error) {
	for _, script := range scripts {
		result, err := d.execute(ctx, traceID, script, input)
		if err != nil {
			if isPoolError(err) {
				return nil, TraceOutcomeError, err
			}
			return &HookResult{Allowed: false, Error: err.Error()}, TraceOutcomeError, nil
		}
		if !result.Allowed {
			return &HookResult{Allowed: false, Error: result.Error}, TraceOutcomeDenied, nil
		}
	}
	return &HookResult{Allowed: true}, TraceOutcomeAllowed, nil
}

// runEnrichment executes scripts sequentially, shallow-merging each script's
// data last-write-wins. A denial discards everything accumulated so far.
func (d *Dispatcher) runEnrichment(ctx context.Context, traceID uuid.UUID, scripts []ResolvedScript, input map[string]any) (*HookResult, string, error) {
	merged := map[string]any{}

	for _, script := range scripts {
		result, err := d.execute(ctx, traceID, script, input)
		if err != nil {
			if isPoolError(err) {
				return nil, TraceOutcomeError, err
			}
			return &HookResult{Allowed: false, Error: err.Error()}, TraceOutcomeError, nil
		}
		if !result.Allowed {
			return &HookResult{Allowed: false, Error: result.Error}, TraceOutcomeDenied, nil
		}
		for key, value := range result.Data {
			merged[key] = value
		}
	}

	return &HookResult{Allowed: true, Data: merged}, TraceOutcomeAllowed, nil
}

// runAsync schedules each script for independent background execution and
// returns immediately. Script outcomes never reach the caller; ordering
// between scripts is not guaranteed. Work runs on a background context so
// caller cancellation does not abort fire-and-forget tasks.
func (d *Dispatcher) runAsync(traceID uuid.UUID, hookName string, scripts []ResolvedScript, input map[string]any) *HookResult {
	var wg sync.WaitGroup

	for _, script := range scripts {
		wg.Add(1)
		go func(script ResolvedScript) {
			defer wg.Done()
			if _, err := d.execute(context.Background(), traceID, script, input); err != nil {
				d.logger.Warn("async hook %s script %s failed: %v", hookName, script.Name, err)
				d.metrics.IncrCounter("hooks.async.error", map[string]string{"hook": hookName})
			}
		}(script)
	}

	go func() {
		wg.Wait()
		d.endTrace(context.Background(), traceID, TraceOutcomeAllowed)
	}()

	return &HookResult{Allowed: true}
}

// execute borrows an interpreter, runs one script, and records its span.
func (d *Dispatcher) execute(ctx context.Context, traceID uuid.UUID, script ResolvedScript, input map[string]any) (*ScriptResult, error) {
	handle, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer d.pool.Release(handle)

	start := time.Now()
	result, execErr := d.sandbox.Execute(ctx, handle, script.Source, input)
	duration := time.Since(start)

	span := SpanRecord{
		TraceID:    traceID,
		ScriptID:   script.ScriptID,
		Input:      input,
		DurationMs: duration.Milliseconds(),
	}
	if execErr != nil {
		span.Error = execErr.Error()
	} else {
		span.Output = map[string]any{
			"allowed": result.Allowed,
		}
		if result.Error != "" {
			span.Output["error"] = result.Error
		}
		if result.Data != nil {
			span.Output["data"] = result.Data
		}
	}
	d.recordSpan(ctx, span)

	return result, execErr
}

func (d *Dispatcher) startTrace(ctx context.Context, hookName string, input map[string]any) uuid.UUID {
	trigger, _ := input["trigger_event"].(string)
	traceID, err := d.tracer.StartTrace(ctx, hookName, trigger)
	if err != nil {
		d.logger.Warn("failed to start trace for hook %s: %v", hookName, err)
	}
	return traceID
}

func (d *Dispatcher) recordSpan(ctx context.Context, span SpanRecord) {
	if err := d.tracer.RecordSpan(ctx, span); err != nil {
		d.logger.Warn("failed to record span for trace %s: %v", span.TraceID, err)
	}
}

func (d *Dispatcher) endTrace(ctx context.Context, traceID uuid.UUID, outcome string) {
	if err := d.tracer.EndTrace(ctx, traceID, outcome); err != nil {
		d.logger.Warn("failed to end trace %s: %v", traceID, err)
	}
}

func (d *Dispatcher) count(hookName, outcome string) {
	d.metrics.IncrCounter("hooks.dispatch."+outcome, map[string]string{"hook": hookName})
}

func isPoolError(err error) bool {
	return errors.Is(err, ErrPoolExhausted) || errors.Is(err, ErrPoolClosed)
}
