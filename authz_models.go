package hooks

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WildcardEntityID grants a relation over every instance of an entity type.
const WildcardEntityID = "*"

// Tuple is a stored relationship grant. The key
// (entityType, entityID, relation, subjectType, subjectID) is unique;
// creation is idempotent. EntityTypeID is a stable reference that survives
// entity-type renames.
type Tuple struct {
	bun.BaseModel `bun:"table:relation_tuples,alias:tpl"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	EntityType    string     `bun:"entity_type,notnull" json:"entity_type,omitempty"`
	EntityTypeID  uuid.UUID  `bun:"entity_type_id,notnull,type:uuid" json:"entity_type_id,omitempty"`
	EntityID      string     `bun:"entity_id,notnull" json:"entity_id,omitempty"`
	Relation      string     `bun:"relation,notnull" json:"relation,omitempty"`
	SubjectType   string     `bun:"subject_type,notnull" json:"subject_type,omitempty"`
	SubjectID     string     `bun:"subject_id,notnull" json:"subject_id,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Key returns the tuple's unique key, also used to derive its deterministic ID.
func (t *Tuple) Key() string {
	return strings.Join([]string{
		t.EntityType, t.EntityID, t.Relation, t.SubjectType, t.SubjectID,
	}, ":")
}

// PermissionSpec maps a permission to the minimum relation that grants it,
// optionally gated by an attribute policy script.
type PermissionSpec struct {
	Relation     string `json:"relation"`
	PolicyScript string `json:"policy_script,omitempty"`
	PolicyEngine string `json:"policy_engine,omitempty"`
}

// AuthorizationModel describes relation inheritance and permission mapping
// for one entity type. Relations maps a relation to the relations that imply
// it; the graph must be acyclic and is validated at write time. Closure is
// the precomputed transitive closure (relation -> every relation satisfying
// it), recomputed on every write so permission checks never walk the graph.
type AuthorizationModel struct {
	bun.BaseModel `bun:"table:authorization_models,alias:azm"`
	ID            uuid.UUID                 `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	EntityType    string                    `bun:"entity_type,notnull,unique" json:"entity_type,omitempty"`
	Relations     map[string][]string       `bun:"relations" json:"relations,omitempty"`
	Permissions   map[string]PermissionSpec `bun:"permissions" json:"permissions,omitempty"`
	Closure       map[string][]string       `bun:"closure" json:"closure,omitempty"`
	CreatedAt     *time.Time                `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time                `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// PolicyLevel identifies where a policy script is attached.
type PolicyLevel = string

const (
	PolicyLevelPermission PolicyLevel = "permission"
	PolicyLevelTuple      PolicyLevel = "tuple"
)

// PolicyVersion is an append-only record of a policy script change. Version
// numbers are monotonic per (entityType, permission, level, tupleID) and
// never reused.
type PolicyVersion struct {
	bun.BaseModel `bun:"table:policy_versions,alias:pv"`
	ID            uuid.UUID   `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	EntityType    string      `bun:"entity_type,notnull" json:"entity_type,omitempty"`
	Permission    string      `bun:"permission,notnull" json:"permission,omitempty"`
	PolicyLevel   PolicyLevel `bun:"policy_level,notnull" json:"policy_level,omitempty"`
	TupleID       *uuid.UUID  `bun:"tuple_id,nullzero,type:uuid" json:"tuple_id,omitempty"`
	Source        string      `bun:"source,notnull" json:"source,omitempty"`
	Version       int         `bun:"version,notnull" json:"version"`
	ChangedBy     string      `bun:"changed_by" json:"changed_by,omitempty"`
	Reason        string      `bun:"reason" json:"reason,omitempty"`
	CreatedAt     *time.Time  `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

// Audit result values.
const (
	AuditResultAllowed = "allowed"
	AuditResultDenied  = "denied"
	AuditResultError   = "error"
)

// Audit policy sources.
const (
	PolicySourceTuple      = "tuple"
	PolicySourcePermission = "permission"
)

// AuditLogEntry records one permission evaluation. Append-only, best-effort:
// a logging failure must never fail the check it describes.
type AuditLogEntry struct {
	bun.BaseModel   `bun:"table:authorization_audit_log,alias:aud"`
	ID              uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	EntityType      string         `bun:"entity_type,notnull" json:"entity_type,omitempty"`
	EntityID        string         `bun:"entity_id,notnull" json:"entity_id,omitempty"`
	Permission      string         `bun:"permission,notnull" json:"permission,omitempty"`
	SubjectType     string         `bun:"subject_type,notnull" json:"subject_type,omitempty"`
	SubjectID       string         `bun:"subject_id,notnull" json:"subject_id,omitempty"`
	PolicySource    string         `bun:"policy_source" json:"policy_source,omitempty"`
	Result          string         `bun:"result,notnull" json:"result,omitempty"`
	ErrorMessage    string         `bun:"error_message" json:"error_message,omitempty"`
	ContextSnapshot map[string]any `bun:"context_snapshot" json:"context_snapshot,omitempty"`
	ExecutionTimeMs int64          `bun:"execution_time_ms" json:"execution_time_ms"`
	CreatedAt       *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}
