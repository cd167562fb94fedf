package hooks

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SecretStore persists sealed secret records. The engine only reads by
// name, never lists or bulk-exports values.
type SecretStore interface {
	repository.Repository[*Secret]

	GetByName(ctx context.Context, name string) (*Secret, error)
	UpdateValue(ctx context.Context, name string, encrypted []byte) error
	DeleteByName(ctx context.Context, name string) error
}

type secretStore struct {
	repository.Repository[*Secret]
	db *bun.DB
}

var _ SecretStore = (*secretStore)(nil)

// NewSecretStore builds the secret repository.
func NewSecretStore(db *bun.DB) SecretStore {
	repo := repository.NewRepository[*Secret](db, repository.ModelHandlers[*Secret]{
		NewRecord: func() *Secret { return &Secret{} },
		GetID: func(s *Secret) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *Secret, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
		GetIdentifier: func() string {
			return "name"
		},
	})

	return &secretStore{
		Repository: repo,
		db:         db,
	}
}

func (r *secretStore) GetByName(ctx context.Context, name string) (*Secret, error) {
	record := &Secret{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrSecretNotFound.WithMetadata(map[string]any{
				"name": name,
			})
		}
		return nil, err
	}
	return record, nil
}

func (r *secretStore) UpdateValue(ctx context.Context, name string, encrypted []byte) error {
	now := time.Now()
	res, err := r.db.NewUpdate().
		Model((*Secret)(nil)).
		Set("encrypted_value = ?", encrypted).
		Set("updated_at = ?", now).
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not replace secret value")
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrSecretNotFound.WithMetadata(map[string]any{
			"name": name,
		})
	}
	return nil
}

func (r *secretStore) DeleteByName(ctx context.Context, name string) error {
	res, err := r.db.NewDelete().
		Model((*Secret)(nil)).
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not delete secret")
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrSecretNotFound.WithMetadata(map[string]any{
			"name": name,
		})
	}
	return nil
}
