package cryptox

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// MinSecretBytes is the minimum accepted length of the configured signing
	// secret. HS256 keys shorter than the hash output weaken the MAC.
	MinSecretBytes = 32

	// SigningKeyBytes is the length of the derived HMAC key.
	SigningKeyBytes = 32
)

// ErrSecretTooShort is returned when the configured secret has fewer than
// MinSecretBytes bytes.
var ErrSecretTooShort = errors.New("cryptox: signing secret too short")

// SigningKeyProvider holds the immutable HMAC key used to sign and verify
// every token the service produces. The key is derived once at construction
// and read-only thereafter; there is no rotation protocol.
type SigningKeyProvider struct {
	key []byte
}

// NewSigningKeyProvider derives the signing key from the configured secret
// string. The secret is stretched through HKDF-SHA256 so the resulting key
// material is a uniform 256 bits regardless of how the secret was
// provisioned (password manager string, base64 blob, hex dump).
//
// Both the session token service and the proof service read the same key,
// so a proof's signature and its bound access token's signature verify
// against identical material.
func NewSigningKeyProvider(secret string) (*SigningKeyProvider, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < MinSecretBytes {
		return nil, fmt.Errorf("%w: need at least %d bytes, got %d",
			ErrSecretTooShort, MinSecretBytes, len(secret))
	}

	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("trustd token signing v1"))
	key := make([]byte, SigningKeyBytes)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("cryptox: key derivation failed: %w", err)
	}

	return &SigningKeyProvider{key: key}, nil
}

// NewSigningKeyProviderFromFile reads the secret from a file. Trailing
// whitespace (a newline from `echo` or an editor) is stripped before length
// validation.
func NewSigningKeyProviderFromFile(path string) (*SigningKeyProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cryptox: reading secret file: %w", err)
	}
	return NewSigningKeyProvider(string(raw))
}

// Key returns the derived HMAC signing key. Callers must not mutate the
// returned slice.
func (p *SigningKeyProvider) Key() []byte { return p.key }
