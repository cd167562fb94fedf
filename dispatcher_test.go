package hooks_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-hooks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func resolvedScripts(sources ...string) []hooks.ResolvedScript {
	scripts := make([]hooks.ResolvedScript, 0, len(sources))
	for i, source := range sources {
		scripts = append(scripts, hooks.ResolvedScript{
			ScriptID: uuid.New(),
			Name:     "script",
			Source:   source,
			Ordinal:  i,
		})
	}
	return scripts
}

func TestDispatchUnknownHook(t *testing.T) {
	resolver := &MockScriptResolver{}
	pool := newTestPool(t, nil)
	dispatcher := hooks.NewDispatcher(resolver, pool, nil)

	_, err := dispatcher.Dispatch(context.Background(), "no_such_hook", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, hooks.ErrHookNotFound))
	resolver.AssertNotCalled(t, "ResolveBindings")
}

func TestDispatchInvalidInput(t *testing.T) {
	resolver := &MockScriptResolver{}
	pool := newTestPool(t, nil)
	dispatcher := hooks.NewDispatcher(resolver, pool, nil)

	_, err := dispatcher.Dispatch(context.Background(), hooks.HookBeforeSignup, map[string]any{
		"email": "not-an-email",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, hooks.ErrInvalidInput))
	resolver.AssertNotCalled(t, "ResolveBindings")
}

func TestDispatchNoBindings(t *testing.T) {
	resolver := &MockScriptResolver{}
	resolver.On("ResolveBindings", mock.Anything, hooks.HookBeforeSignup).
		Return([]hooks.ResolvedScript{}, nil)

	tracer := &MockTraceRecorder{}
	pool := newTestPool(t, nil)
	dispatcher := hooks.NewDispatcher(resolver, pool, nil,
		hooks.WithDispatcherTracer(tracer))

	result, err := dispatcher.Dispatch(context.Background(), hooks.HookBeforeSignup, map[string]any{
		"email": "user@example.com",
	})
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	// With nothing bound there is nothing to trace.
	tracer.AssertNotCalled(t, "StartTrace")
	assert.Equal(t, 0, pool.Active())
}

func TestDispatchBlockingAllowed(t *testing.T) {
	resolver := &MockScriptResolver{}
	resolver.On("ResolveBindings", mock.Anything, hooks.HookBeforeSignup).
		Return(resolvedScripts(
			`return { allowed = true }`,
			`return { allowed = true }`,
		), nil)

	metrics := newRecordingMetrics()
	pool := newTestPool(t, nil)
	dispatcher := hooks.NewDispatcher(resolver, pool, nil,
		hooks.WithDispatcherMetrics(metrics))

	result, err := dispatcher.Dispatch(context.Background(), hooks.HookBeforeSignup, map[string]any{
		"email": "user@example.com",
	})
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, metrics.Count("hooks.dispatch.allowed"))
}

func TestDispatchBlockingDenied(t *testing.T) {
	resolver := &MockScriptResolver{}
	resolver.On("ResolveBindings", mock.Anything, hooks.HookBeforeSignup).
		Return(resolvedScripts(`
			local i = string.find(context.email, "@competitor.example", 1, true)
			if i then
				return { allowed = false, error = "signups from this domain are not accepted" }
			end
			return { allowed = true }
		`), nil)

	pool := newTestPool(t, nil)
	dispatcher := hooks.NewDispatcher(resolver, pool, nil)

	result, err := dispatcher.Dispatch(context.Background(), hooks.HookBeforeSignup, map[string]any{
		"email": "eve@competitor.example",
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "signups from this domain are not accepted", result.Error)
}

func TestDispatchBlockingShortCircuits(t *testing.T) {
	tracer := &MockTraceRecorder{}
	traceID := uuid.New()
	tracer.On("StartTrace", mock.Anything, hooks.HookBeforeSignin, mock.Anything).
		Return(traceID, nil)
	tracer.On("RecordSpan", mock.Anything, mock.Anything).Return(nil)
	tracer.On("EndTrace", mock.Anything, traceID, "denied").Return(nil)

	resolver := &MockScriptResolver{}
	resolver.On("ResolveBindings", mock.Anything, hooks.HookBeforeSignin).
		Return(resolvedScripts(
			`return { allowed = false, error = "account locked" }`,
			`error("must never run")`,
		), nil)

	pool := newTestPool(t, nil)
	dispatcher := hooks.NewDispatcher(resolver, pool, nil,
		hooks.WithDispatcherTracer(tracer))

	result, err := dispatcher.Dispatch(context.Background(), hooks.HookBeforeSignin, map[string]any{
		"email": "user@example.com",
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "account locked", result.Error)

	// Only the denying script produced a span.
	tracer.AssertNumberOfCalls(t, "RecordSpan", 1)
	tracer.AssertExpectations(t)
}

func TestDispatchBlockingScriptErrorDenies(t *testing.T) {
	resolver := &MockScriptResolver{}
	resolver.On("ResolveBindings", mock.Anything, hooks.HookBeforeSignup).
		Return(resolvedScripts(`error("backend unreachable")`), nil)

	pool := newTestPool(t, nil)
	dispatcher := hooks.NewDispatcher(resolver, pool, nil)

	result, err := dispatcher.Dispatch(context.Background(), hooks.HookBeforeSignup, map[string]any{
		"email": "user@example.com",
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Contains(t, result.Error, "backend unreachable")
}

func TestDispatchEnrichmentMerges(t *testing.T) {
	resolver := &MockScriptResolver{}
	resolver.On("ResolveBindings", mock.Anything, hooks.HookTokenClaims).
		Return(resolvedScripts(
			`return { allowed = true, data = { tier = "free", region = "eu" } }`,
			`return { allowed = true, data = { tier = "pro" } }`,
		), nil)

	pool := newTestPool(t, nil)
	dispatcher := hooks.NewDispatcher(resolver, pool, nil)

	result, err := dispatcher.Dispatch(context.Background(), hooks.HookTokenClaims, map[string]any{
		"user_id": "user-1",
	})
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, "pro", result.Data["tier"], "later scripts win on conflicting keys")
	assert.Equal(t, "eu", result.Data["region"])
}

func TestDispatchEnrichmentDenyDiscardsData(t *testing.T) {
	resolver := &MockScriptResolver{}
	resolver.On("ResolveBindings", mock.Anything, hooks.HookTokenClaims).
		Return(resolvedScripts(
			`return { allowed = true, data = { tier = "pro" } }`,
			`return { allowed = false, error = "issuance blocked" }`,
		), nil)

	pool := newTestPool(t, nil)
	dispatcher := hooks.NewDispatcher(resolver, pool, nil)

	result, err := dispatcher.Dispatch(context.Background(), hooks.HookTokenClaims, map[string]any{
		"user_id": "user-1",
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, "issuance blocked", result.Error)
	assert.Nil(t, result.Data)
}

func TestDispatchAsyncReturnsImmediately(t *testing.T) {
	tracer := &MockTraceRecorder{}
	traceID := uuid.New()
	started := make(chan struct{})
	tracer.On("StartTrace", mock.Anything, hooks.HookAfterSignup, mock.Anything).
		Return(traceID, nil)
	tracer.On("RecordSpan", mock.Anything, mock.Anything).Return(nil)
	tracer.On("EndTrace", mock.Anything, traceID, "allowed").
		Run(func(mock.Arguments) { close(started) }).
		Return(nil)

	resolver := &MockScriptResolver{}
	resolver.On("ResolveBindings", mock.Anything, hooks.HookAfterSignup).
		Return(resolvedScripts(`return { allowed = true }`), nil)

	pool := newTestPool(t, nil)
	dispatcher := hooks.NewDispatcher(resolver, pool, nil,
		hooks.WithDispatcherTracer(tracer))

	result, err := dispatcher.Dispatch(context.Background(), hooks.HookAfterSignup, map[string]any{
		"user_id": "user-1",
		"email":   "user@example.com",
	})
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("async execution never completed")
	}
	tracer.AssertExpectations(t)
}

func TestDispatchAsyncFailureDoesNotAffectCaller(t *testing.T) {
	resolver := &MockScriptResolver{}
	resolver.On("ResolveBindings", mock.Anything, hooks.HookAfterSignin).
		Return(resolvedScripts(`error("notification endpoint down")`), nil)

	metrics := newRecordingMetrics()
	logger := &captureLogger{}
	pool := newTestPool(t, nil)
	dispatcher := hooks.NewDispatcher(resolver, pool, nil,
		hooks.WithDispatcherMetrics(metrics),
		hooks.WithDispatcherLogger(logger))

	result, err := dispatcher.Dispatch(context.Background(), hooks.HookAfterSignin, map[string]any{
		"user_id": "user-1",
	})
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	require.Eventually(t, func() bool {
		return metrics.Count("hooks.async.error") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatchPoolExhaustedPropagates(t *testing.T) {
	resolver := &MockScriptResolver{}
	resolver.On("ResolveBindings", mock.Anything, hooks.HookBeforeSignup).
		Return(resolvedScripts(`return { allowed = true }`), nil)

	cfg := &hooks.SimpleConfig{
		MaxPoolSize:    1,
		AcquireTimeout: 50 * time.Millisecond,
	}
	pool := newTestPool(t, cfg)

	// Hold the only interpreter so dispatch has nothing to borrow.
	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(held)

	dispatcher := hooks.NewDispatcher(resolver, pool, cfg)

	_, err = dispatcher.Dispatch(context.Background(), hooks.HookBeforeSignup, map[string]any{
		"email": "user@example.com",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, hooks.ErrPoolExhausted))
	assert.True(t, hooks.IsTransient(err))
}

func TestDispatchResolverError(t *testing.T) {
	resolver := &MockScriptResolver{}
	resolver.On("ResolveBindings", mock.Anything, hooks.HookBeforeSignup).
		Return(nil, errors.New("db offline"))

	pool := newTestPool(t, nil)
	dispatcher := hooks.NewDispatcher(resolver, pool, nil)

	_, err := dispatcher.Dispatch(context.Background(), hooks.HookBeforeSignup, map[string]any{
		"email": "user@example.com",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to resolve hook bindings")
}
