package hooks

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Tuples persists relationship grants.
type Tuples interface {
	repository.Repository[*Tuple]

	CreateIfNotExists(ctx context.Context, record *Tuple) (*Tuple, error)
	CreateIfNotExistsTx(ctx context.Context, tx bun.IDB, record *Tuple) (*Tuple, error)
	DeleteTuple(ctx context.Context, id uuid.UUID) error
	ExistsGrant(ctx context.Context, entityType, entityID string, relations []string, subjectType, subjectID string) (bool, error)
	RefreshEntityTypeNames(ctx context.Context, entityTypeID uuid.UUID, entityType string) (int64, error)
}

type tuples struct {
	repository.Repository[*Tuple]
	db *bun.DB
}

var (
	_ Tuples       = (*tuples)(nil)
	_ GrantChecker = (*tuples)(nil)
)

// NewTuplesRepository builds the tuple repository.
func NewTuplesRepository(db *bun.DB) Tuples {
	repo := repository.NewRepository[*Tuple](db, repository.ModelHandlers[*Tuple]{
		NewRecord: func() *Tuple { return &Tuple{} },
		GetID: func(t *Tuple) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *Tuple, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
	})

	return &tuples{
		Repository: repo,
		db:         db,
	}
}

func (r *tuples) CreateIfNotExists(ctx context.Context, record *Tuple) (*Tuple, error) {
	return r.CreateIfNotExistsTx(ctx, r.db, record)
}

// CreateIfNotExistsTx inserts the grant unless its unique key already
// exists. The tuple ID is derived deterministically from the key, so
// concurrent identical creations converge on a single stored row.
func (r *tuples) CreateIfNotExistsTx(ctx context.Context, tx bun.IDB, record *Tuple) (*Tuple, error) {
	if record.ID == uuid.Nil {
		if id, err := hashid.NewUUID(record.Key()); err == nil {
			record.ID = id
		} else {
			record.ID = uuid.New()
		}
	}

	_, err := tx.NewInsert().
		Model(record).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create tuple")
	}

	stored := &Tuple{}
	err = tx.NewSelect().
		Model(stored).
		Where("?TableAlias.entity_type = ?", record.EntityType).
		Where("?TableAlias.entity_id = ?", record.EntityID).
		Where("?TableAlias.relation = ?", record.Relation).
		Where("?TableAlias.subject_type = ?", record.SubjectType).
		Where("?TableAlias.subject_id = ?", record.SubjectID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not read back tuple")
	}

	return stored, nil
}

func (r *tuples) DeleteTuple(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*Tuple)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not delete tuple")
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}
	return nil
}

// ExistsGrant reports whether any tuple grants one of the relations to the
// subject, matching the exact entity ID or the platform-wide wildcard.
func (r *tuples) ExistsGrant(ctx context.Context, entityType, entityID string, relations []string, subjectType, subjectID string) (bool, error) {
	if len(relations) == 0 {
		return false, nil
	}

	return r.db.NewSelect().
		Model((*Tuple)(nil)).
		Where("?TableAlias.entity_type = ?", entityType).
		Where("?TableAlias.entity_id IN (?)", bun.In([]string{entityID, WildcardEntityID})).
		Where("?TableAlias.relation IN (?)", bun.In(relations)).
		Where("?TableAlias.subject_type = ?", subjectType).
		Where("?TableAlias.subject_id = ?", subjectID).
		Exists(ctx)
}

// RefreshEntityTypeNames rewrites the denormalized entity-type name on every
// tuple referencing the stable model ID. Run as an explicit migration step
// after an entity-type rename.
func (r *tuples) RefreshEntityTypeNames(ctx context.Context, entityTypeID uuid.UUID, entityType string) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*Tuple)(nil)).
		Set("entity_type = ?", entityType).
		Where("entity_type_id = ?", entityTypeID).
		Exec(ctx)
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "could not refresh tuple entity types")
	}

	affected, _ := res.RowsAffected()
	return affected, nil
}
