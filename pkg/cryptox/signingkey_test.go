package cryptox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSigningKeyProvider(t *testing.T) {
	secret := "a-sufficiently-long-shared-signing-secret"

	p1, err := NewSigningKeyProvider(secret)
	require.NoError(t, err)
	require.Len(t, p1.Key(), SigningKeyBytes)

	// Derivation is deterministic: same secret, same key.
	p2, err := NewSigningKeyProvider(secret)
	require.NoError(t, err)
	require.Equal(t, p1.Key(), p2.Key())

	// Different secrets derive different keys.
	p3, err := NewSigningKeyProvider("another-sufficiently-long-shared-secret!")
	require.NoError(t, err)
	require.NotEqual(t, p1.Key(), p3.Key())

	// The derived key is never the raw secret.
	require.NotEqual(t, []byte(secret)[:SigningKeyBytes], p1.Key())
}

func TestNewSigningKeyProvider_RejectsShortSecret(t *testing.T) {
	_, err := NewSigningKeyProvider("too-short")
	require.ErrorIs(t, err, ErrSecretTooShort)

	// Padding with whitespace doesn't help: length is checked after trimming.
	_, err = NewSigningKeyProvider("too-short                               ")
	require.ErrorIs(t, err, ErrSecretTooShort)
}

func TestNewSigningKeyProviderFromFile(t *testing.T) {
	secret := "a-sufficiently-long-shared-signing-secret"

	path := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(path, []byte(secret+"\n"), 0o600))

	fromFile, err := NewSigningKeyProviderFromFile(path)
	require.NoError(t, err)

	// The trailing newline is stripped, so the file and the literal secret
	// derive the same key.
	direct, err := NewSigningKeyProvider(secret)
	require.NoError(t, err)
	require.Equal(t, direct.Key(), fromFile.Key())
}

func TestNewSigningKeyProviderFromFile_Missing(t *testing.T) {
	_, err := NewSigningKeyProviderFromFile(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}
