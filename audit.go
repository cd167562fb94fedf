package hooks

import "context"

// AuditSink consumes permission-evaluation audit entries. Sinks run
// best-effort: a sink failure is logged and never fails the check it
// describes.
type AuditSink interface {
	Record(ctx context.Context, entry AuditLogEntry) error
}

// AuditSinkFunc adapts a function to the AuditSink interface.
type AuditSinkFunc func(ctx context.Context, entry AuditLogEntry) error

// Record implements AuditSink.
func (f AuditSinkFunc) Record(ctx context.Context, entry AuditLogEntry) error {
	if f == nil {
		return nil
	}
	return f(ctx, entry)
}

type noopAuditSink struct{}

func (noopAuditSink) Record(context.Context, AuditLogEntry) error {
	return nil
}

func normalizeAuditSink(s AuditSink) AuditSink {
	if s == nil {
		return noopAuditSink{}
	}
	return s
}
