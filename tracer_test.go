package hooks_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-hooks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceStoreLifecycle(t *testing.T) {
	db := setupTestDB(t)
	store := hooks.NewTraceStore(db, nil)
	ctx := context.Background()

	traceID, err := store.StartTrace(ctx, hooks.HookBeforeSignup, "signup_attempt")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, traceID)

	scriptID := uuid.New()
	err = store.RecordSpan(ctx, hooks.SpanRecord{
		TraceID:    traceID,
		ScriptID:   scriptID,
		Input:      map[string]any{"email": "user@example.com"},
		Output:     map[string]any{"allowed": true},
		DurationMs: 12,
	})
	require.NoError(t, err)

	require.NoError(t, store.EndTrace(ctx, traceID, hooks.TraceOutcomeAllowed))

	trace := &hooks.HookTrace{}
	err = db.NewSelect().Model(trace).Where("id = ?", traceID).Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, hooks.TraceOutcomeAllowed, trace.Outcome)
	assert.Equal(t, "signup_attempt", trace.TriggerEvent)
	require.NotNil(t, trace.EndedAt)

	var spans []hooks.HookSpan
	err = db.NewSelect().Model(&spans).Where("trace_id = ?", traceID).Scan(ctx)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, scriptID, spans[0].ScriptID)
	assert.Contains(t, spans[0].Input, "user@example.com")
	assert.Equal(t, int64(12), spans[0].DurationMs)
}

func TestTraceStoreTruncatesPayloads(t *testing.T) {
	db := setupTestDB(t)
	store := hooks.NewTraceStore(db, &hooks.SimpleConfig{SpanTruncateBytes: 64})
	ctx := context.Background()

	traceID, err := store.StartTrace(ctx, hooks.HookBeforeSignup, "")
	require.NoError(t, err)

	err = store.RecordSpan(ctx, hooks.SpanRecord{
		TraceID:  traceID,
		ScriptID: uuid.New(),
		Input:    map[string]any{"blob": strings.Repeat("x", 4096)},
	})
	require.NoError(t, err)

	span := &hooks.HookSpan{}
	err = db.NewSelect().Model(span).Where("trace_id = ?", traceID).Scan(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(span.Input), 64)
}

func TestTraceStoreCleanup(t *testing.T) {
	db := setupTestDB(t)

	now := time.Now()
	clock := now
	store := hooks.NewTraceStore(db, &hooks.SimpleConfig{RetentionWindow: 24 * time.Hour},
		hooks.WithTraceStoreClock(func() time.Time { return clock }))
	ctx := context.Background()

	// Old trace with an old span: both swept.
	clock = now.Add(-48 * time.Hour)
	oldTrace, err := store.StartTrace(ctx, hooks.HookBeforeSignup, "")
	require.NoError(t, err)
	require.NoError(t, store.RecordSpan(ctx, hooks.SpanRecord{TraceID: oldTrace, ScriptID: uuid.New()}))

	// Recent trace: retained along with its span.
	clock = now.Add(-time.Hour)
	newTrace, err := store.StartTrace(ctx, hooks.HookBeforeSignup, "")
	require.NoError(t, err)
	require.NoError(t, store.RecordSpan(ctx, hooks.SpanRecord{TraceID: newTrace, ScriptID: uuid.New()}))

	clock = now
	result, err := store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.DeletedSpans)
	assert.Equal(t, int64(1), result.DeletedTraces)

	count, err := db.NewSelect().Model((*hooks.HookTrace)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = db.NewSelect().Model((*hooks.HookSpan)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTraceStoreCleanupKeepsParentOfLiveSpans(t *testing.T) {
	db := setupTestDB(t)

	now := time.Now()
	clock := now
	store := hooks.NewTraceStore(db, nil,
		hooks.WithTraceStoreClock(func() time.Time { return clock }))
	ctx := context.Background()

	// Old trace that still has a recent span keeps its parent row.
	clock = now.Add(-48 * time.Hour)
	traceID, err := store.StartTrace(ctx, hooks.HookBeforeSignup, "")
	require.NoError(t, err)

	clock = now.Add(-time.Hour)
	require.NoError(t, store.RecordSpan(ctx, hooks.SpanRecord{TraceID: traceID, ScriptID: uuid.New()}))

	clock = now
	result, err := store.Cleanup(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.DeletedSpans)
	assert.Equal(t, int64(0), result.DeletedTraces, "a trace with surviving spans is never orphaned")

	count, err := db.NewSelect().Model((*hooks.HookTrace)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestTraceStoreCleanupSweepsExpiredSpanKeepsRecentTrace(t *testing.T) {
	db := setupTestDB(t)

	now := time.Now()
	clock := now
	store := hooks.NewTraceStore(db, nil,
		hooks.WithTraceStoreClock(func() time.Time { return clock }))
	ctx := context.Background()

	// Recent trace whose only span is past the cutoff: the span goes,
	// the trace stays.
	clock = now.Add(-time.Hour)
	traceID, err := store.StartTrace(ctx, hooks.HookBeforeSignup, "")
	require.NoError(t, err)

	clock = now.Add(-48 * time.Hour)
	require.NoError(t, store.RecordSpan(ctx, hooks.SpanRecord{TraceID: traceID, ScriptID: uuid.New()}))

	clock = now
	result, err := store.Cleanup(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.DeletedSpans)
	assert.Equal(t, int64(0), result.DeletedTraces, "a trace inside the retention window outlives its expired spans")

	count, err := db.NewSelect().Model((*hooks.HookTrace)(nil)).Where("id = ?", traceID).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = db.NewSelect().Model((*hooks.HookSpan)(nil)).Where("trace_id = ?", traceID).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDispatcherWithTraceStore(t *testing.T) {
	db := setupTestDB(t)
	scripts := hooks.NewScriptsRepository(db)
	store := hooks.NewTraceStore(db, nil)
	ctx := context.Background()

	source := createScript(t, scripts, "gate", `return { allowed = false, error = "blocked" }`)
	_, err := scripts.Bind(ctx, hooks.HookBeforeSignup, source.ID, 0)
	require.NoError(t, err)

	pool := newTestPool(t, nil)
	dispatcher := hooks.NewDispatcher(scripts, pool, nil,
		hooks.WithDispatcherTracer(store))

	result, err := dispatcher.Dispatch(ctx, hooks.HookBeforeSignup, map[string]any{
		"email":         "user@example.com",
		"trigger_event": "signup_attempt",
	})
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	trace := &hooks.HookTrace{}
	err = db.NewSelect().Model(trace).Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, hooks.HookBeforeSignup, trace.HookName)
	assert.Equal(t, "signup_attempt", trace.TriggerEvent)
	assert.Equal(t, hooks.TraceOutcomeDenied, trace.Outcome)

	var spans []hooks.HookSpan
	err = db.NewSelect().Model(&spans).Where("trace_id = ?", trace.ID).Scan(ctx)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, source.ID, spans[0].ScriptID)
}
