package hooks

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuthorizationModels persists per-entity-type authorization models. Every
// write path revalidates the relation graph and recomputes the stored
// transitive closure; reads never pay for graph traversal.
type AuthorizationModels interface {
	repository.Repository[*AuthorizationModel]

	GetModel(ctx context.Context, entityType string) (*AuthorizationModel, error)
	SaveModel(ctx context.Context, record *AuthorizationModel) (*AuthorizationModel, error)
	RenameEntityType(ctx context.Context, oldName, newName string) (*AuthorizationModel, int64, error)
}

type authorizationModels struct {
	repository.Repository[*AuthorizationModel]
	db     *bun.DB
	tuples Tuples
}

var (
	_ AuthorizationModels = (*authorizationModels)(nil)
	_ ModelSource         = (*authorizationModels)(nil)
)

// NewAuthorizationModelsRepository builds the model repository. The tuple
// repository is used by RenameEntityType's denormalized-name migration pass.
func NewAuthorizationModelsRepository(db *bun.DB, tuples Tuples) AuthorizationModels {
	repo := repository.NewRepository[*AuthorizationModel](db, repository.ModelHandlers[*AuthorizationModel]{
		NewRecord: func() *AuthorizationModel { return &AuthorizationModel{} },
		GetID: func(m *AuthorizationModel) uuid.UUID {
			if m == nil {
				return uuid.Nil
			}
			return m.ID
		},
		SetID: func(m *AuthorizationModel, id uuid.UUID) {
			if m != nil {
				m.ID = id
			}
		},
		GetIdentifier: func() string {
			return "entity_type"
		},
	})

	return &authorizationModels{
		Repository: repo,
		db:         db,
		tuples:     tuples,
	}
}

func (r *authorizationModels) GetModel(ctx context.Context, entityType string) (*AuthorizationModel, error) {
	record := &AuthorizationModel{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.entity_type = ?", entityType).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrModelNotFound.WithMetadata(map[string]any{
				"entity_type": entityType,
			})
		}
		return nil, err
	}
	return record, nil
}

// SaveModel validates the relation graph, recomputes the closure, and
// upserts the model by entity type. Cyclic inheritance and undefined
// relation references are rejected here, never at read time.
func (r *authorizationModels) SaveModel(ctx context.Context, record *AuthorizationModel) (*AuthorizationModel, error) {
	if err := ValidateModel(record); err != nil {
		return nil, err
	}

	existing, err := r.GetModel(ctx, record.EntityType)
	if err == nil {
		record.ID = existing.ID
		now := time.Now()
		record.UpdatedAt = &now
		_, err = r.db.NewUpdate().Model(record).WherePK().Exec(ctx)
		if err != nil {
			return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not update authorization model")
		}
		return record, nil
	}

	if !errors.Is(err, ErrModelNotFound) {
		return nil, err
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if _, err := r.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create authorization model")
	}
	return record, nil
}

// RenameEntityType updates the model row and immediately refreshes the
// denormalized entity-type name on every tuple referencing the stable model
// ID. Returns the model and the number of refreshed tuples.
func (r *authorizationModels) RenameEntityType(ctx context.Context, oldName, newName string) (*AuthorizationModel, int64, error) {
	record, err := r.GetModel(ctx, oldName)
	if err != nil {
		return nil, 0, err
	}

	now := time.Now()
	record.EntityType = newName
	record.UpdatedAt = &now
	if _, err := r.db.NewUpdate().Model(record).WherePK().Exec(ctx); err != nil {
		return nil, 0, goerrors.Wrap(err, goerrors.CategoryConflict, "could not rename entity type")
	}

	refreshed, err := r.tuples.RefreshEntityTypeNames(ctx, record.ID, newName)
	if err != nil {
		return nil, 0, err
	}

	return record, refreshed, nil
}

// PolicyVersions is the append-only history of policy script changes.
type PolicyVersions interface {
	repository.Repository[*PolicyVersion]

	Append(ctx context.Context, record *PolicyVersion) (*PolicyVersion, error)
	Latest(ctx context.Context, entityType, permission string, level PolicyLevel, tupleID *uuid.UUID) (*PolicyVersion, error)
}

type policyVersions struct {
	repository.Repository[*PolicyVersion]
	db *bun.DB
}

var _ PolicyVersions = (*policyVersions)(nil)

// NewPolicyVersionsRepository builds the policy version repository.
func NewPolicyVersionsRepository(db *bun.DB) PolicyVersions {
	repo := repository.NewRepository[*PolicyVersion](db, repository.ModelHandlers[*PolicyVersion]{
		NewRecord: func() *PolicyVersion { return &PolicyVersion{} },
		GetID: func(v *PolicyVersion) uuid.UUID {
			if v == nil {
				return uuid.Nil
			}
			return v.ID
		},
		SetID: func(v *PolicyVersion, id uuid.UUID) {
			if v != nil {
				v.ID = id
			}
		},
	})

	return &policyVersions{
		Repository: repo,
		db:         db,
	}
}

// Append stores a new version with the next monotonic number for its key.
// Versions are never reused or rewritten.
func (r *policyVersions) Append(ctx context.Context, record *PolicyVersion) (*PolicyVersion, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	err := r.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var maxVersion int
		query := tx.NewSelect().
			Model((*PolicyVersion)(nil)).
			ColumnExpr("COALESCE(MAX(version), 0)").
			Where("?TableAlias.entity_type = ?", record.EntityType).
			Where("?TableAlias.permission = ?", record.Permission).
			Where("?TableAlias.policy_level = ?", record.PolicyLevel)
		query = wherePolicyTuple(query, record.TupleID)

		if err := query.Scan(ctx, &maxVersion); err != nil {
			return err
		}

		record.Version = maxVersion + 1
		_, err := tx.NewInsert().Model(record).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not append policy version")
	}

	return record, nil
}

// Latest returns the newest version for a key.
func (r *policyVersions) Latest(ctx context.Context, entityType, permission string, level PolicyLevel, tupleID *uuid.UUID) (*PolicyVersion, error) {
	record := &PolicyVersion{}
	query := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.entity_type = ?", entityType).
		Where("?TableAlias.permission = ?", permission).
		Where("?TableAlias.policy_level = ?", level).
		Order("version DESC").
		Limit(1)
	query = wherePolicyTuple(query, tupleID)

	if err := query.Scan(ctx); err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"entity_type": entityType,
					"permission":  permission,
				})
		}
		return nil, err
	}
	return record, nil
}

func wherePolicyTuple(query *bun.SelectQuery, tupleID *uuid.UUID) *bun.SelectQuery {
	if tupleID == nil {
		return query.Where("?TableAlias.tuple_id IS NULL")
	}
	return query.Where("?TableAlias.tuple_id = ?", *tupleID)
}

// AuditLog is the append-only permission-evaluation log.
type AuditLog interface {
	repository.Repository[*AuditLogEntry]

	Append(ctx context.Context, entry *AuditLogEntry) (*AuditLogEntry, error)
	Sink() AuditSink
}

type auditLog struct {
	repository.Repository[*AuditLogEntry]
	db *bun.DB
}

var _ AuditLog = (*auditLog)(nil)

// NewAuditLogRepository builds the audit log repository.
func NewAuditLogRepository(db *bun.DB) AuditLog {
	repo := repository.NewRepository[*AuditLogEntry](db, repository.ModelHandlers[*AuditLogEntry]{
		NewRecord: func() *AuditLogEntry { return &AuditLogEntry{} },
		GetID: func(e *AuditLogEntry) uuid.UUID {
			if e == nil {
				return uuid.Nil
			}
			return e.ID
		},
		SetID: func(e *AuditLogEntry, id uuid.UUID) {
			if e != nil {
				e.ID = id
			}
		},
	})

	return &auditLog{
		Repository: repo,
		db:         db,
	}
}

func (r *auditLog) Append(ctx context.Context, entry *AuditLogEntry) (*AuditLogEntry, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if _, err := r.db.NewInsert().Model(entry).Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not append audit entry")
	}
	return entry, nil
}

// Sink adapts the repository into the evaluator's best-effort AuditSink.
func (r *auditLog) Sink() AuditSink {
	return AuditSinkFunc(func(ctx context.Context, entry AuditLogEntry) error {
		_, err := r.Append(ctx, &entry)
		return err
	})
}
