package hooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// CleanupResult reports what a retention sweep removed.
type CleanupResult struct {
	DeletedSpans  int64
	DeletedTraces int64
}

// TraceStore is the bun-backed TraceRecorder. Span input/output are stored
// as JSON truncated to the configured byte budget. Retention cleanup deletes
// spans before their parent trace so no intermediate state leaves an
// orphaned span behind.
type TraceStore struct {
	db        *bun.DB
	truncate  int
	retention time.Duration
	logger    Logger
	now       func() time.Time
}

var _ TraceRecorder = (*TraceStore)(nil)

// TraceStoreOption customizes the trace store.
type TraceStoreOption func(*TraceStore)

// WithTraceStoreLogger overrides the store logger.
func WithTraceStoreLogger(logger Logger) TraceStoreOption {
	return func(t *TraceStore) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTraceStoreClock injects a custom clock (useful for tests).
func WithTraceStoreClock(clock func() time.Time) TraceStoreOption {
	return func(t *TraceStore) {
		if clock != nil {
			t.now = clock
		}
	}
}

// NewTraceStore builds a trace store with the truncation budget and
// retention window from cfg.
func NewTraceStore(db *bun.DB, cfg Config, opts ...TraceStoreOption) *TraceStore {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	store := &TraceStore{
		db:        db,
		truncate:  cfg.GetSpanTruncateBytes(),
		retention: cfg.GetRetentionWindow(),
		logger:    defLogger{},
		now:       time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}

	return store
}

// StartTrace opens a trace for one hook dispatch.
func (t *TraceStore) StartTrace(ctx context.Context, hookName, triggerEvent string) (uuid.UUID, error) {
	trace := &HookTrace{
		ID:           uuid.New(),
		HookName:     hookName,
		TriggerEvent: triggerEvent,
		StartedAt:    t.now(),
	}

	if _, err := t.db.NewInsert().Model(trace).Exec(ctx); err != nil {
		return uuid.Nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to insert trace")
	}
	return trace.ID, nil
}

// RecordSpan persists one script execution under its trace.
func (t *TraceStore) RecordSpan(ctx context.Context, record SpanRecord) error {
	now := t.now()
	span := &HookSpan{
		ID:         uuid.New(),
		TraceID:    record.TraceID,
		ScriptID:   record.ScriptID,
		StartedAt:  now.Add(-time.Duration(record.DurationMs) * time.Millisecond),
		EndedAt:    now,
		Input:      t.truncateJSON(record.Input),
		Output:     t.truncateJSON(record.Output),
		Error:      record.Error,
		DurationMs: record.DurationMs,
		CreatedAt:  now,
	}

	if _, err := t.db.NewInsert().Model(span).Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to insert span")
	}
	return nil
}

// EndTrace closes a trace with its outcome.
func (t *TraceStore) EndTrace(ctx context.Context, traceID uuid.UUID, outcome string) error {
	now := t.now()
	_, err := t.db.NewUpdate().
		Model((*HookTrace)(nil)).
		Set("ended_at = ?", now).
		Set("outcome = ?", outcome).
		Where("id = ?", traceID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to end trace")
	}
	return nil
}

// Cleanup deletes spans recorded before cutoff, then traces that both
// started before cutoff and have no remaining spans. A trace newer than the
// cutoff is retained even when every one of its spans was deleted.
func (t *TraceStore) Cleanup(ctx context.Context, cutoff time.Time) (CleanupResult, error) {
	var result CleanupResult

	err := t.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewRaw(
			`DELETE FROM hook_spans WHERE created_at < ?`, cutoff,
		).Exec(ctx)
		if err != nil {
			return err
		}
		if res != nil {
			result.DeletedSpans, _ = res.RowsAffected()
		}

		res, err = tx.NewRaw(
			`DELETE FROM hook_traces WHERE started_at < ?
			AND NOT EXISTS (SELECT 1 FROM hook_spans WHERE hook_spans.trace_id = hook_traces.id)`,
			cutoff,
		).Exec(ctx)
		if err != nil {
			return err
		}
		if res != nil {
			result.DeletedTraces, _ = res.RowsAffected()
		}

		return nil
	})
	if err != nil {
		return CleanupResult{}, goerrors.Wrap(err, goerrors.CategoryInternal, "trace cleanup failed")
	}

	return result, nil
}

// CleanupExpired sweeps everything past the configured retention window.
// Driven by an external scheduler; the store does not self-schedule.
func (t *TraceStore) CleanupExpired(ctx context.Context) (CleanupResult, error) {
	return t.Cleanup(ctx, t.now().Add(-t.retention))
}

func (t *TraceStore) truncateJSON(value map[string]any) string {
	if len(value) == 0 {
		return ""
	}

	raw, err := json.Marshal(value)
	if err != nil {
		t.logger.Warn("failed to marshal span payload: %v", err)
		return ""
	}

	if len(raw) > t.truncate {
		raw = raw[:t.truncate]
	}
	return string(raw)
}
