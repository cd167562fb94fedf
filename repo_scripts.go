package hooks

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Scripts manages script sources and their hook bindings.
type Scripts interface {
	repository.Repository[*ScriptSource]

	Bind(ctx context.Context, hookName string, scriptID uuid.UUID, ordinal int) (*BoundScript, error)
	BindTx(ctx context.Context, tx bun.IDB, hookName string, scriptID uuid.UUID, ordinal int) (*BoundScript, error)
	Unbind(ctx context.Context, bindingID uuid.UUID) error
	SetBindingEnabled(ctx context.Context, bindingID uuid.UUID, enabled bool) error
	ResolveBindings(ctx context.Context, hookName string) ([]ResolvedScript, error)
}

type scripts struct {
	repository.Repository[*ScriptSource]
	db *bun.DB
}

var (
	_ Scripts        = (*scripts)(nil)
	_ ScriptResolver = (*scripts)(nil)
)

// NewScriptsRepository builds the scripts repository.
func NewScriptsRepository(db *bun.DB) Scripts {
	repo := repository.NewRepository[*ScriptSource](db, repository.ModelHandlers[*ScriptSource]{
		NewRecord: func() *ScriptSource { return &ScriptSource{} },
		GetID: func(s *ScriptSource) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *ScriptSource, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
		GetIdentifier: func() string {
			return "name"
		},
	})

	return &scripts{
		Repository: repo,
		db:         db,
	}
}

func (r *scripts) Bind(ctx context.Context, hookName string, scriptID uuid.UUID, ordinal int) (*BoundScript, error) {
	return r.BindTx(ctx, r.db, hookName, scriptID, ordinal)
}

func (r *scripts) BindTx(ctx context.Context, tx bun.IDB, hookName string, scriptID uuid.UUID, ordinal int) (*BoundScript, error) {
	if _, err := GetHookDefinition(hookName); err != nil {
		return nil, err
	}

	binding := &BoundScript{
		ID:       uuid.New(),
		HookName: hookName,
		ScriptID: scriptID,
		Ordinal:  ordinal,
		Enabled:  true,
	}

	if _, err := tx.NewInsert().Model(binding).Exec(ctx); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not bind script to hook")
	}
	return binding, nil
}

func (r *scripts) Unbind(ctx context.Context, bindingID uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*BoundScript)(nil)).
		Where("id = ?", bindingID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not unbind script")
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"binding_id": bindingID.String(),
			})
	}
	return nil
}

func (r *scripts) SetBindingEnabled(ctx context.Context, bindingID uuid.UUID, enabled bool) error {
	now := time.Now()
	res, err := r.db.NewUpdate().
		Model((*BoundScript)(nil)).
		Set("enabled = ?", enabled).
		Set("updated_at = ?", now).
		Where("id = ?", bindingID).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not update binding")
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"binding_id": bindingID.String(),
			})
	}
	return nil
}

// ResolveBindings returns the enabled scripts bound to a hook in ascending
// ordinal order, joined to their current sources.
func (r *scripts) ResolveBindings(ctx context.Context, hookName string) ([]ResolvedScript, error) {
	var bindings []BoundScript
	err := r.db.NewSelect().
		Model(&bindings).
		Where("?TableAlias.hook_name = ?", hookName).
		Where("?TableAlias.enabled = ?", true).
		Order("ordinal ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	if len(bindings) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(bindings))
	for _, binding := range bindings {
		ids = append(ids, binding.ScriptID)
	}

	var sources []ScriptSource
	err = r.db.NewSelect().
		Model(&sources).
		Where("?TableAlias.id IN (?)", bun.In(ids)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*ScriptSource, len(sources))
	for i := range sources {
		byID[sources[i].ID] = &sources[i]
	}

	resolved := make([]ResolvedScript, 0, len(bindings))
	for _, binding := range bindings {
		source, ok := byID[binding.ScriptID]
		if !ok {
			// Binding outlived its script; skip rather than fail the hook.
			continue
		}
		resolved = append(resolved, ResolvedScript{
			ScriptID: source.ID,
			Name:     source.Name,
			Source:   source.Source,
			Ordinal:  binding.Ordinal,
		})
	}

	return resolved, nil
}
