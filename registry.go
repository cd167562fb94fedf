package hooks

import (
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// HookMode is a hook's execution semantics.
type HookMode string

const (
	// HookModeBlocking runs scripts sequentially on the calling path; the
	// first allowed=false aborts the triggering operation.
	HookModeBlocking HookMode = "blocking"
	// HookModeAsync schedules scripts in the background; the caller is never
	// affected by their outcome.
	HookModeAsync HookMode = "async"
	// HookModeEnrichment runs scripts sequentially and shallow-merges their
	// data into a caller-supplied target.
	HookModeEnrichment HookMode = "enrichment"
)

// The 16 recognized hook points.
const (
	HookBeforeSignup  = "before_signup"
	HookAfterSignup   = "after_signup"
	HookBeforeSignin  = "before_signin"
	HookAfterSignin   = "after_signin"
	HookBeforeSignout = "before_signout"
	HookTokenClaims   = "token_claims"

	HookAPIKeyBeforeCreate   = "apikey_before_create"
	HookAPIKeyAfterCreate    = "apikey_after_create"
	HookAPIKeyBeforeExchange = "apikey_before_exchange"
	HookAPIKeyAfterExchange  = "apikey_after_exchange"
	HookAPIKeyBeforeRevoke   = "apikey_before_revoke"
	HookAPIKeyAfterRevoke    = "apikey_after_revoke"

	HookClientBeforeRegister  = "client_before_register"
	HookClientAfterRegister   = "client_after_register"
	HookClientBeforeAuthorize = "client_before_authorize"
	HookClientAccessChanged   = "client_access_changed"
)

// FieldRule validates one input field of a hook payload.
type FieldRule struct {
	Name     string
	Required bool
	Rules    []validation.Rule
}

// HookDefinition declares a hook point's execution mode and input contract.
// Definitions are immutable and registered at process start.
type HookDefinition struct {
	Name        string
	Mode        HookMode
	Description string
	Fields      []FieldRule
}

// ValidateInput checks the payload against the hook's field rules. A
// mismatch is the caller's fault and never reaches a script.
func (d HookDefinition) ValidateInput(input map[string]any) error {
	for _, field := range d.Fields {
		value, ok := input[field.Name]
		if !ok || value == nil {
			if field.Required {
				return ErrInvalidInput.WithMetadata(map[string]any{
					"hook":   d.Name,
					"field":  field.Name,
					"reason": "required field missing",
				})
			}
			continue
		}

		if err := validation.Validate(value, field.Rules...); err != nil {
			return ErrInvalidInput.WithMetadata(map[string]any{
				"hook":   d.Name,
				"field":  field.Name,
				"reason": err.Error(),
			})
		}
	}
	return nil
}

var emailField = FieldRule{
	Name:     "email",
	Required: true,
	Rules:    []validation.Rule{validation.Length(3, 254), is.Email},
}

var userIDField = FieldRule{
	Name:     "user_id",
	Required: true,
	Rules:    []validation.Rule{validation.Length(1, 64)},
}

var keyIDField = FieldRule{
	Name:     "key_id",
	Required: true,
	Rules:    []validation.Rule{validation.Length(1, 64)},
}

var clientIDField = FieldRule{
	Name:     "client_id",
	Required: true,
	Rules:    []validation.Rule{validation.Length(1, 64)},
}

var hookRegistry = map[string]HookDefinition{
	HookBeforeSignup: {
		Name:        HookBeforeSignup,
		Mode:        HookModeBlocking,
		Description: "Gate a sign-up attempt before the account is created",
		Fields:      []FieldRule{emailField},
	},
	HookAfterSignup: {
		Name:        HookAfterSignup,
		Mode:        HookModeAsync,
		Description: "React to a completed sign-up",
		Fields:      []FieldRule{userIDField, emailField},
	},
	HookBeforeSignin: {
		Name:        HookBeforeSignin,
		Mode:        HookModeBlocking,
		Description: "Gate a sign-in attempt before credentials are accepted",
		Fields:      []FieldRule{emailField},
	},
	HookAfterSignin: {
		Name:        HookAfterSignin,
		Mode:        HookModeAsync,
		Description: "React to a completed sign-in",
		Fields:      []FieldRule{userIDField},
	},
	HookBeforeSignout: {
		Name:        HookBeforeSignout,
		Mode:        HookModeBlocking,
		Description: "Gate a sign-out (e.g. to persist session state first)",
		Fields:      []FieldRule{userIDField},
	},
	HookTokenClaims: {
		Name:        HookTokenClaims,
		Mode:        HookModeEnrichment,
		Description: "Enrich token claims at issuance time",
		Fields:      []FieldRule{userIDField},
	},

	HookAPIKeyBeforeCreate: {
		Name:        HookAPIKeyBeforeCreate,
		Mode:        HookModeBlocking,
		Description: "Gate API key creation",
		Fields:      []FieldRule{userIDField},
	},
	HookAPIKeyAfterCreate: {
		Name:        HookAPIKeyAfterCreate,
		Mode:        HookModeAsync,
		Description: "React to API key creation",
		Fields:      []FieldRule{userIDField, keyIDField},
	},
	HookAPIKeyBeforeExchange: {
		Name:        HookAPIKeyBeforeExchange,
		Mode:        HookModeBlocking,
		Description: "Gate an API key exchange for a session token",
		Fields:      []FieldRule{keyIDField},
	},
	HookAPIKeyAfterExchange: {
		Name:        HookAPIKeyAfterExchange,
		Mode:        HookModeAsync,
		Description: "React to an API key exchange",
		Fields:      []FieldRule{keyIDField},
	},
	HookAPIKeyBeforeRevoke: {
		Name:        HookAPIKeyBeforeRevoke,
		Mode:        HookModeBlocking,
		Description: "Gate API key revocation",
		Fields:      []FieldRule{keyIDField},
	},
	HookAPIKeyAfterRevoke: {
		Name:        HookAPIKeyAfterRevoke,
		Mode:        HookModeAsync,
		Description: "React to API key revocation",
		Fields:      []FieldRule{keyIDField},
	},

	HookClientBeforeRegister: {
		Name:        HookClientBeforeRegister,
		Mode:        HookModeBlocking,
		Description: "Gate OAuth client registration",
		Fields:      []FieldRule{userIDField},
	},
	HookClientAfterRegister: {
		Name:        HookClientAfterRegister,
		Mode:        HookModeAsync,
		Description: "React to OAuth client registration",
		Fields:      []FieldRule{clientIDField},
	},
	HookClientBeforeAuthorize: {
		Name:        HookClientBeforeAuthorize,
		Mode:        HookModeBlocking,
		Description: "Gate an OAuth authorization request",
		Fields:      []FieldRule{clientIDField, userIDField},
	},
	HookClientAccessChanged: {
		Name:        HookClientAccessChanged,
		Mode:        HookModeAsync,
		Description: "React to an OAuth client access change",
		Fields:      []FieldRule{clientIDField},
	},
}

// GetHookDefinition returns the definition for a registered hook name.
func GetHookDefinition(name string) (HookDefinition, error) {
	def, ok := hookRegistry[name]
	if !ok {
		return HookDefinition{}, ErrHookNotFound.WithMetadata(map[string]any{
			"hook": name,
		})
	}
	return def, nil
}

// HookNames returns every registered hook name, sorted.
func HookNames() []string {
	names := make([]string, 0, len(hookRegistry))
	for name := range hookRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
