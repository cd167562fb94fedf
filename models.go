package hooks

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ScriptSource is an administrator-owned script. Bindings reference it by ID
// so an edit takes effect for every binding on the next dispatch.
type ScriptSource struct {
	bun.BaseModel `bun:"table:script_sources,alias:scr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name          string     `bun:"name,notnull,unique" json:"name,omitempty"`
	Source        string     `bun:"source,notnull" json:"source,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt     *time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// BoundScript attaches a ScriptSource to a hook point. Execution order
// within a hook is ascending ordinal and stable.
type BoundScript struct {
	bun.BaseModel `bun:"table:bound_scripts,alias:bnd"`
	ID            uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	HookName      string        `bun:"hook_name,notnull" json:"hook_name,omitempty"`
	ScriptID      uuid.UUID     `bun:"script_id,notnull,type:uuid" json:"script_id,omitempty"`
	Script        *ScriptSource `bun:"rel:has-one,join:script_id=id" json:"script,omitempty"`
	Ordinal       int           `bun:"ordinal,notnull" json:"ordinal"`
	Enabled       bool          `bun:"enabled,notnull" json:"enabled"`
	CreatedAt     *time.Time    `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time    `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Secret is an operator-managed value. The plaintext is never stored and
// never re-displayed after creation, only replaceable.
type Secret struct {
	bun.BaseModel  `bun:"table:secrets,alias:sec"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Name           string     `bun:"name,notnull,unique" json:"name,omitempty"`
	EncryptedValue []byte     `bun:"encrypted_value,notnull" json:"-"`
	Description    string     `bun:"description" json:"description,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Trace outcome values.
const (
	TraceOutcomeAllowed = "allowed"
	TraceOutcomeDenied  = "denied"
	TraceOutcomeError   = "error"
)

// HookTrace groups the spans produced by one hook dispatch.
type HookTrace struct {
	bun.BaseModel `bun:"table:hook_traces,alias:trc"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	HookName      string     `bun:"hook_name,notnull" json:"hook_name,omitempty"`
	TriggerEvent  string     `bun:"trigger_event" json:"trigger_event,omitempty"`
	StartedAt     time.Time  `bun:"started_at,notnull" json:"started_at"`
	EndedAt       *time.Time `bun:"ended_at,nullzero" json:"ended_at,omitempty"`
	Outcome       string     `bun:"outcome" json:"outcome,omitempty"`
}

// HookSpan records a single script execution. Spans form a flat list per
// trace ordered by start time; input/output are truncated JSON.
type HookSpan struct {
	bun.BaseModel `bun:"table:hook_spans,alias:spn"`
	ID            uuid.UUID `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	TraceID       uuid.UUID `bun:"trace_id,notnull,type:uuid" json:"trace_id,omitempty"`
	ScriptID      uuid.UUID `bun:"script_id,notnull,type:uuid" json:"script_id,omitempty"`
	StartedAt     time.Time `bun:"started_at,notnull" json:"started_at"`
	EndedAt       time.Time `bun:"ended_at,notnull" json:"ended_at"`
	Input         string    `bun:"input" json:"input,omitempty"`
	Output        string    `bun:"output" json:"output,omitempty"`
	Error         string    `bun:"error" json:"error,omitempty"`
	DurationMs    int64     `bun:"duration_ms,notnull" json:"duration_ms"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}
