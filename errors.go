package hooks

import (
	"errors"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	textCodeHookNotFound    = "HOOK_NOT_FOUND"
	textCodeInvalidInput    = "HOOK_INVALID_INPUT"
	textCodePoolExhausted   = "POOL_EXHAUSTED"
	textCodePoolClosed      = "POOL_CLOSED"
	textCodeScriptTimeout   = "SCRIPT_TIMEOUT"
	textCodeScriptError     = "SCRIPT_ERROR"
	textCodeMalformedResult = "SCRIPT_MALFORMED_RESULT"
	textCodeModelCycle      = "AUTHZ_MODEL_CYCLE"
	textCodeUnknownRelation = "AUTHZ_UNKNOWN_RELATION"
	textCodeModelNotFound   = "AUTHZ_MODEL_NOT_FOUND"
	textCodeSecretName      = "SECRET_INVALID_NAME"
	textCodeSecretNotFound  = "SECRET_NOT_FOUND"
)

// ErrHookNotFound is returned when dispatching to an unregistered hook name.
var ErrHookNotFound = goerrors.New("hook not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeHookNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidInput is returned when dispatch input fails the hook's schema.
// It is the caller's fault and never reaches a script.
var ErrInvalidInput = goerrors.New("hook input failed validation", goerrors.CategoryBadInput).
	WithTextCode(textCodeInvalidInput).
	WithCode(goerrors.CodeBadRequest)

// ErrPoolExhausted is returned when no interpreter becomes available within
// the acquire timeout. Transient; the dispatch may be retried.
var ErrPoolExhausted = goerrors.New("interpreter pool exhausted", goerrors.CategoryRateLimit).
	WithTextCode(textCodePoolExhausted).
	WithCode(http.StatusServiceUnavailable)

// ErrPoolClosed is returned for acquisitions against a closed pool.
var ErrPoolClosed = goerrors.New("interpreter pool closed", goerrors.CategoryOperation).
	WithTextCode(textCodePoolClosed)

// ErrScriptTimeout is returned when a script exceeds its wall-clock budget.
var ErrScriptTimeout = goerrors.New("script execution timed out", goerrors.CategoryOperation).
	WithTextCode(textCodeScriptTimeout)

// ErrScriptFailed is returned when a script raises instead of returning a
// result table.
var ErrScriptFailed = goerrors.New("script raised an error", goerrors.CategoryOperation).
	WithTextCode(textCodeScriptError)

// ErrMalformedResult is returned when a script completes without returning
// the declared output shape.
var ErrMalformedResult = goerrors.New("script returned a malformed result", goerrors.CategoryOperation).
	WithTextCode(textCodeMalformedResult)

// ErrModelCycle is returned when an authorization model defines a relation
// that transitively inherits from itself. Rejected at write time.
var ErrModelCycle = goerrors.New("relation inheritance contains a cycle", goerrors.CategoryValidation).
	WithTextCode(textCodeModelCycle).
	WithCode(goerrors.CodeConflict)

// ErrUnknownRelation is returned when a model references an undefined relation.
var ErrUnknownRelation = goerrors.New("model references an undefined relation", goerrors.CategoryValidation).
	WithTextCode(textCodeUnknownRelation).
	WithCode(goerrors.CodeBadRequest)

// ErrModelNotFound is returned when no authorization model exists for an
// entity type.
var ErrModelNotFound = goerrors.New("authorization model not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeModelNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrInvalidSecretName is returned for secret names outside the
// uppercase/underscore charset.
var ErrInvalidSecretName = goerrors.New("secret name must match ^[A-Z][A-Z0-9_]*$", goerrors.CategoryValidation).
	WithTextCode(textCodeSecretName).
	WithCode(goerrors.CodeBadRequest)

// ErrSecretNotFound is returned when resolving an undefined secret. Inside
// the sandbox this surfaces as a script-level error, never a process fault.
var ErrSecretNotFound = goerrors.New("secret not found", goerrors.CategoryNotFound).
	WithTextCode(textCodeSecretNotFound).
	WithCode(goerrors.CodeNotFound)

// IsTransient reports whether the error is worth retrying (pool pressure
// rather than a deterministic failure).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrPoolExhausted)
}
