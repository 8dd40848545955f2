package keys

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrGenerate_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "keys", "signing")
	pubPath := filepath.Join(dir, "keys", "signing.pub")

	kp, err := LoadOrGenerate(privPath, pubPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(kp.KeyID, "SHA256:"))

	info, err := os.Stat(privPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	pubData, err := os.ReadFile(pubPath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pubData), "ssh-ed25519 "))

	again, err := LoadOrGenerate(privPath, pubPath)
	require.NoError(t, err)
	assert.Equal(t, kp.KeyID, again.KeyID)
	assert.Equal(t, kp.PrivateKey, again.PrivateKey)

	fp, err := Fingerprint(pubData)
	require.NoError(t, err)
	assert.Equal(t, kp.KeyID, fp)
}

func TestLoadOrGenerate_MismatchedPublicKey(t *testing.T) {
	dir := t.TempDir()
	a, err := LoadOrGenerate(filepath.Join(dir, "a"), filepath.Join(dir, "a.pub"))
	require.NoError(t, err)
	_, err = LoadOrGenerate(filepath.Join(dir, "b"), filepath.Join(dir, "b.pub"))
	require.NoError(t, err)

	_, err = LoadOrGenerate(filepath.Join(dir, "a"), filepath.Join(dir, "b.pub"))
	assert.ErrorContains(t, err, "does not match")

	// a missing public key is rewritten from the private key
	require.NoError(t, os.Remove(filepath.Join(dir, "a.pub")))
	kp, err := LoadOrGenerate(filepath.Join(dir, "a"), filepath.Join(dir, "a.pub"))
	require.NoError(t, err)
	assert.Equal(t, a.KeyID, kp.KeyID)
}

func TestLoadOrGenerate_GarbageKey(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "signing")
	require.NoError(t, os.WriteFile(privPath, []byte("not a key"), 0o600))

	_, err := LoadOrGenerate(privPath, filepath.Join(dir, "signing.pub"))
	assert.Error(t, err)
}
