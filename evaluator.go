package hooks

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// ModelSource loads the authorization model for an entity type.
type ModelSource interface {
	GetModel(ctx context.Context, entityType string) (*AuthorizationModel, error)
}

// GrantChecker tests whether a grant exists for any relation in the set,
// matching the exact entity ID or the platform-wide wildcard.
type GrantChecker interface {
	ExistsGrant(ctx context.Context, entityType, entityID string, relations []string, subjectType, subjectID string) (bool, error)
}

// Evaluator computes whether a subject holds a permission on an entity by
// consulting the precomputed relation closure and, when the permission
// carries a policy script, the script's verdict. Every evaluation emits
// exactly one audit entry and fails closed on internal errors.
type Evaluator struct {
	models  ModelSource
	grants  GrantChecker
	pool    *InterpreterPool
	sandbox *Sandbox
	audit   AuditSink
	metrics Metrics
	logger  Logger
	secrets SecretResolver
	now     func() time.Time
}

// EvaluatorOption customizes evaluator construction.
type EvaluatorOption func(*Evaluator)

// WithEvaluatorAuditSink sets the sink receiving audit entries.
func WithEvaluatorAuditSink(sink AuditSink) EvaluatorOption {
	return func(e *Evaluator) {
		e.audit = normalizeAuditSink(sink)
	}
}

// WithEvaluatorMetrics wires the outcome counter sink.
func WithEvaluatorMetrics(metrics Metrics) EvaluatorOption {
	return func(e *Evaluator) {
		e.metrics = normalizeMetrics(metrics)
	}
}

// WithEvaluatorLogger overrides the evaluator logger.
func WithEvaluatorLogger(logger Logger) EvaluatorOption {
	return func(e *Evaluator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEvaluatorSecrets wires the secret resolver available to policy scripts.
func WithEvaluatorSecrets(resolver SecretResolver) EvaluatorOption {
	return func(e *Evaluator) {
		if resolver != nil {
			e.secrets = resolver
		}
	}
}

// WithEvaluatorClock injects a custom clock (useful for tests).
func WithEvaluatorClock(clock func() time.Time) EvaluatorOption {
	return func(e *Evaluator) {
		if clock != nil {
			e.now = clock
		}
	}
}

// NewEvaluator builds a permission evaluator. Policy scripts execute through
// the same interpreter pool as hook scripts.
func NewEvaluator(models ModelSource, grants GrantChecker, pool *InterpreterPool, cfg Config, opts ...EvaluatorOption) *Evaluator {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	evaluator := &Evaluator{
		models:  models,
		grants:  grants,
		pool:    pool,
		audit:   noopAuditSink{},
		metrics: noopMetrics{},
		logger:  defLogger{},
		secrets: noSecrets{},
		now:     time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(evaluator)
		}
	}

	evaluator.sandbox = NewSandbox(cfg,
		WithSandboxSecrets(evaluator.secrets),
		WithSandboxLogger(evaluator.logger),
	)

	return evaluator
}

// CheckOption customizes a single permission check.
type CheckOption func(*checkOptions)

type checkOptions struct {
	attributes map[string]any
}

// WithCheckAttributes attaches subject/entity attributes to the context
// snapshot handed to policy scripts.
func WithCheckAttributes(attributes map[string]any) CheckOption {
	return func(o *checkOptions) {
		if len(attributes) == 0 {
			return
		}
		if o.attributes == nil {
			o.attributes = make(map[string]any, len(attributes))
		}
		for k, v := range attributes {
			o.attributes[k] = v
		}
	}
}

// CheckPermission reports whether the subject holds the permission on the
// entity. Internal errors of any kind resolve to a denial (fail closed);
// callers surface a generic "not authorized" without policy internals.
func (e *Evaluator) CheckPermission(ctx context.Context, subjectType, subjectID, entityType, entityID, permission string, opts ...CheckOption) bool {
	options := &checkOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}

	snapshot := map[string]any{
		"subject_type": subjectType,
		"subject_id":   subjectID,
		"entity_type":  entityType,
		"entity_id":    entityID,
		"permission":   permission,
	}
	if options.attributes != nil {
		snapshot["attributes"] = options.attributes
	}

	start := e.now()
	allowed, policySource, err := e.check(ctx, subjectType, subjectID, entityType, entityID, permission, snapshot)
	elapsed := e.now().Sub(start)

	entry := AuditLogEntry{
		EntityType:      entityType,
		EntityID:        entityID,
		Permission:      permission,
		SubjectType:     subjectType,
		SubjectID:       subjectID,
		PolicySource:    policySource,
		ContextSnapshot: snapshot,
		ExecutionTimeMs: elapsed.Milliseconds(),
	}

	switch {
	case err != nil:
		allowed = false
		entry.Result = AuditResultError
		entry.ErrorMessage = err.Error()
		e.logger.Warn("permission check failed closed: %v", err)
	case allowed:
		entry.Result = AuditResultAllowed
	default:
		entry.Result = AuditResultDenied
	}

	e.recordAudit(ctx, entry)
	e.metrics.IncrCounter("authz.check."+entry.Result, map[string]string{
		"entity_type": entityType,
		"permission":  permission,
	})

	return allowed
}

// check runs the relation gate and, when present, the permission's policy
// script. The relation check is necessary but not sufficient once a script
// is attached.
func (e *Evaluator) check(ctx context.Context, subjectType, subjectID, entityType, entityID, permission string, snapshot map[string]any) (bool, string, error) {
	model, err := e.models.GetModel(ctx, entityType)
	if err != nil {
		return false, PolicySourceTuple, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load authorization model")
	}

	spec, ok := model.Permissions[permission]
	if !ok {
		return false, PolicySourceTuple, goerrors.New("permission not defined for entity type", goerrors.CategoryNotFound).
			WithMetadata(map[string]any{
				"entity_type": entityType,
				"permission":  permission,
			})
	}

	closure := model.Closure[spec.Relation]
	if len(closure) == 0 {
		closure = []string{spec.Relation}
	}

	granted, err := e.grants.ExistsGrant(ctx, entityType, entityID, closure, subjectType, subjectID)
	if err != nil {
		return false, PolicySourceTuple, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to query relation grants")
	}
	if !granted {
		return false, PolicySourceTuple, nil
	}

	if spec.PolicyScript == "" {
		return true, PolicySourceTuple, nil
	}

	handle, err := e.pool.Acquire(ctx)
	if err != nil {
		return false, PolicySourcePermission, err
	}
	defer e.pool.Release(handle)

	result, err := e.sandbox.Execute(ctx, handle, spec.PolicyScript, snapshot)
	if err != nil {
		return false, PolicySourcePermission, err
	}

	return result.Allowed, PolicySourcePermission, nil
}

func (e *Evaluator) recordAudit(ctx context.Context, entry AuditLogEntry) {
	if err := e.audit.Record(ctx, entry); err != nil {
		e.logger.Warn("audit sink error: %v", err)
	}
}
