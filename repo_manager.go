package hooks

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Scripts() Scripts
	Secrets() SecretStore
	Tuples() Tuples
	AuthorizationModels() AuthorizationModels
	PolicyVersions() PolicyVersions
	AuditLog() AuditLog
}

type mngr struct {
	db             *bun.DB
	scripts        Scripts
	secrets        SecretStore
	tuples         Tuples
	models         AuthorizationModels
	policyVersions PolicyVersions
	auditLog       AuditLog
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	tuples := NewTuplesRepository(db)
	return &mngr{
		db:             db,
		scripts:        NewScriptsRepository(db),
		secrets:        NewSecretStore(db),
		tuples:         tuples,
		models:         NewAuthorizationModelsRepository(db, tuples),
		policyVersions: NewPolicyVersionsRepository(db),
		auditLog:       NewAuditLogRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.scripts == nil {
		return errors.New("repository scripts should be initialized")
	}

	if m.secrets == nil {
		return errors.New("repository secrets should be initialized")
	}

	if m.tuples == nil {
		return errors.New("repository tuples should be initialized")
	}

	if m.models == nil {
		return errors.New("repository models should be initialized")
	}

	if m.policyVersions == nil {
		return errors.New("repository policyVersions should be initialized")
	}

	if m.auditLog == nil {
		return errors.New("repository auditLog should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Scripts() Scripts {
	return m.scripts
}

func (m mngr) Secrets() SecretStore {
	return m.secrets
}

func (m mngr) Tuples() Tuples {
	return m.tuples
}

func (m mngr) AuthorizationModels() AuthorizationModels {
	return m.models
}

func (m mngr) PolicyVersions() PolicyVersions {
	return m.policyVersions
}

func (m mngr) AuditLog() AuditLog {
	return m.auditLog
}
