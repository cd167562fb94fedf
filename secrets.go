package hooks

import (
	"context"
	"crypto/rand"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/chacha20poly1305"
)

var secretNameRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// ValidateSecretName enforces the immutable uppercase/underscore charset.
func ValidateSecretName(name string) error {
	if err := validation.Validate(name,
		validation.Required,
		validation.Length(1, 128),
		validation.Match(secretNameRe),
	); err != nil {
		return ErrInvalidSecretName.WithMetadata(map[string]any{
			"name": name,
		})
	}
	return nil
}

// SecretCipher seals and opens secret values with ChaCha20-Poly1305. The
// nonce is prepended to the sealed payload.
type SecretCipher struct {
	key []byte
}

// NewSecretCipher builds a cipher from a 32-byte key.
func NewSecretCipher(key []byte) (*SecretCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, goerrors.New("secret key must be 32 bytes", goerrors.CategoryValidation).
			WithMetadata(map[string]any{
				"length": len(key),
			})
	}
	return &SecretCipher{key: key}, nil
}

// Seal encrypts a plaintext value for storage.
func (c *SecretCipher) Seal(plaintext string) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize cipher")
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate nonce")
	}

	return aead.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// Open decrypts a sealed value.
func (c *SecretCipher) Open(sealed []byte) (string, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize cipher")
	}

	if len(sealed) < aead.NonceSize() {
		return "", goerrors.New("sealed value is too short", goerrors.CategoryBadInput)
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open sealed value")
	}

	return string(plaintext), nil
}

// Secrets is the operator-facing secret service. Values are AEAD-sealed at
// rest and resolved by name only; Resolve reads through the store on every
// call so a deleted secret invalidates in-flight and future lookups
// immediately.
type Secrets struct {
	store  SecretStore
	cipher *SecretCipher
	logger Logger
}

var _ SecretResolver = (*Secrets)(nil)

// SecretsOption customizes the secret service.
type SecretsOption func(*Secrets)

// WithSecretsLogger overrides the service logger.
func WithSecretsLogger(logger Logger) SecretsOption {
	return func(s *Secrets) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSecrets builds the secret service over a store and cipher.
func NewSecrets(store SecretStore, cipher *SecretCipher, opts ...SecretsOption) *Secrets {
	secrets := &Secrets{
		store:  store,
		cipher: cipher,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(secrets)
		}
	}

	return secrets
}

// Create stores a new named secret. The plaintext is sealed immediately and
// never re-displayed.
func (s *Secrets) Create(ctx context.Context, name, value, description string) (*Secret, error) {
	if err := ValidateSecretName(name); err != nil {
		return nil, err
	}

	sealed, err := s.cipher.Seal(value)
	if err != nil {
		return nil, err
	}

	return s.store.Create(ctx, &Secret{
		Name:           name,
		EncryptedValue: sealed,
		Description:    description,
	})
}

// ReplaceValue swaps the sealed value of an existing secret. The name and
// identity are immutable.
func (s *Secrets) ReplaceValue(ctx context.Context, name, value string) error {
	sealed, err := s.cipher.Seal(value)
	if err != nil {
		return err
	}
	return s.store.UpdateValue(ctx, name, sealed)
}

// Delete removes a secret; lookups fail from this point on.
func (s *Secrets) Delete(ctx context.Context, name string) error {
	return s.store.DeleteByName(ctx, name)
}

// Resolve returns the plaintext value for a defined secret name. Unknown
// names resolve to ErrSecretNotFound, which the sandbox surfaces as a
// script-level error.
func (s *Secrets) Resolve(ctx context.Context, name string) (string, error) {
	record, err := s.store.GetByName(ctx, name)
	if err != nil {
		return "", err
	}
	return s.cipher.Open(record.EncryptedValue)
}
