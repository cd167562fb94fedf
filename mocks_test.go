package hooks_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"github.com/goliatone/go-hooks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// MockScriptResolver implements hooks.ScriptResolver
type MockScriptResolver struct {
	mock.Mock
}

func (m *MockScriptResolver) ResolveBindings(ctx context.Context, hookName string) ([]hooks.ResolvedScript, error) {
	args := m.Called(ctx, hookName)
	if scripts, ok := args.Get(0).([]hooks.ResolvedScript); ok {
		return scripts, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockTraceRecorder implements hooks.TraceRecorder
type MockTraceRecorder struct {
	mock.Mock
}

func (m *MockTraceRecorder) StartTrace(ctx context.Context, hookName, triggerEvent string) (uuid.UUID, error) {
	args := m.Called(ctx, hookName, triggerEvent)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func (m *MockTraceRecorder) RecordSpan(ctx context.Context, span hooks.SpanRecord) error {
	args := m.Called(ctx, span)
	return args.Error(0)
}

func (m *MockTraceRecorder) EndTrace(ctx context.Context, traceID uuid.UUID, outcome string) error {
	args := m.Called(ctx, traceID, outcome)
	return args.Error(0)
}

// MockSecretResolver implements hooks.SecretResolver
type MockSecretResolver struct {
	mock.Mock
}

func (m *MockSecretResolver) Resolve(ctx context.Context, name string) (string, error) {
	args := m.Called(ctx, name)
	return args.String(0), args.Error(1)
}

// recordingAuditSink captures every audit entry it receives.
type recordingAuditSink struct {
	mu      sync.Mutex
	entries []hooks.AuditLogEntry
}

func (s *recordingAuditSink) Record(_ context.Context, entry hooks.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingAuditSink) Entries() []hooks.AuditLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]hooks.AuditLogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

// recordingMetrics counts counter increments by name.
type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: map[string]int{}}
}

func (m *recordingMetrics) IncrCounter(name string, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[name]++
}

func (m *recordingMetrics) Count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[name]
}

// captureLogger collects formatted log lines.
type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) log(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, level+" "+fmt.Sprintf(format, args...))
}

func (l *captureLogger) Debug(format string, args ...any) { l.log("DBG", format, args...) }
func (l *captureLogger) Info(format string, args ...any)  { l.log("INF", format, args...) }
func (l *captureLogger) Warn(format string, args ...any)  { l.log("WRN", format, args...) }
func (l *captureLogger) Error(format string, args ...any) { l.log("ERR", format, args...) }

func (l *captureLogger) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	bunDB := bun.NewDB(db, sqlitedialect.New())

	_, err = bunDB.Exec("PRAGMA foreign_keys = ON;")
	require.NoError(t, err)

	require.NoError(t, hooks.CreateSchema(context.Background(), bunDB))

	t.Cleanup(func() {
		_ = bunDB.Close()
		_ = db.Close()
	})

	return bunDB
}

func newTestPool(t *testing.T, cfg hooks.Config) *hooks.InterpreterPool {
	t.Helper()

	pool := hooks.NewInterpreterPool(cfg)
	t.Cleanup(pool.Close)
	return pool
}
