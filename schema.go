package hooks

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

// CreateSchema creates every table and index the engine needs. Safe to call
// repeatedly; existing tables are left alone.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*ScriptSource)(nil),
		(*BoundScript)(nil),
		(*Secret)(nil),
		(*HookTrace)(nil),
		(*HookSpan)(nil),
		(*Tuple)(nil),
		(*AuthorizationModel)(nil),
		(*PolicyVersion)(nil),
		(*AuditLogEntry)(nil),
	}

	for _, model := range models {
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create schema")
		}
	}

	// Idempotent tuple creation relies on this key being unique.
	_, err := db.NewCreateIndex().
		Model((*Tuple)(nil)).
		Index("ux_relation_tuples_key").
		Unique().
		IfNotExists().
		Column("entity_type", "entity_id", "relation", "subject_type", "subject_id").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create tuple index")
	}

	indexes := []struct {
		name    string
		model   any
		columns []string
	}{
		{"ix_bound_scripts_hook", (*BoundScript)(nil), []string{"hook_name", "enabled", "ordinal"}},
		{"ix_hook_spans_trace", (*HookSpan)(nil), []string{"trace_id"}},
		{"ix_relation_tuples_entity_type_id", (*Tuple)(nil), []string{"entity_type_id"}},
		{"ix_policy_versions_key", (*PolicyVersion)(nil), []string{"entity_type", "permission", "policy_level"}},
	}

	for _, idx := range indexes {
		_, err := db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			IfNotExists().
			Column(idx.columns...).
			Exec(ctx)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create index")
		}
	}

	return nil
}
