package credential

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gatekey/crypto"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "key.json"))
}

func TestWriteThenHasValid(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.Write(Payload{Valid: true, IssuedAt: time.Now()}))
	assert.True(t, s.HasValid(time.Hour))

	// File must be an envelope, not plaintext.
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var env crypto.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.NotEmpty(t, env.IV)
	assert.NotEmpty(t, env.Tag)
	assert.NotEmpty(t, env.Data)
	assert.NotContains(t, string(data), "valid", "plaintext must never touch disk")
}

func TestHasValidMissingFile(t *testing.T) {
	s := newStore(t)
	assert.False(t, s.HasValid(time.Hour))
}

func TestHasValidMalformedFile(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte("not json"), 0o600))
	assert.False(t, s.HasValid(time.Hour))
}

func TestHasValidTamperedFile(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write(Payload{Valid: true, IssuedAt: time.Now()}))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var env crypto.Envelope
	require.NoError(t, json.Unmarshal(data, &env))

	// Flip one byte of ciphertext.
	if strings.HasPrefix(env.Data, "f") {
		env.Data = "0" + env.Data[1:]
	} else {
		env.Data = "f" + env.Data[1:]
	}
	tampered, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(s.Path(), tampered, 0o600))

	assert.False(t, s.HasValid(time.Hour))
}

func TestHasValidFlagUnset(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write(Payload{Valid: false, IssuedAt: time.Now()}))
	assert.False(t, s.HasValid(time.Hour))
}

func TestHasValidExpired(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write(Payload{Valid: true, IssuedAt: time.Now().Add(-2 * time.Hour)}))
	assert.False(t, s.HasValid(time.Hour))
	assert.True(t, s.HasValid(3*time.Hour))
}

func TestHasValidZeroMaxAge(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write(Payload{Valid: true, IssuedAt: time.Now().Add(-time.Second)}))
	assert.False(t, s.HasValid(0))
}

func TestHasValidTokenExpiry(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write(Payload{
		Valid:     true,
		IssuedAt:  time.Now(),
		Token:     "tok",
		ExpiresAt: time.Now().Add(-time.Minute),
	}))
	assert.False(t, s.HasValid(time.Hour), "provider-supplied expiry must be honored")
}

func TestWriteOverwrites(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write(Payload{Valid: true, IssuedAt: time.Now().Add(-2 * time.Hour)}))
	require.NoError(t, s.Write(Payload{Valid: true, IssuedAt: time.Now()}))
	assert.True(t, s.HasValid(time.Hour))
}

func TestWriteLeavesNoTempFiles(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write(Payload{Valid: true, IssuedAt: time.Now()}))

	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, filepath.Base(s.Path()), entries[0].Name())
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write(Payload{Valid: true, IssuedAt: time.Now()}))
	require.NoError(t, s.Delete())
	assert.False(t, s.HasValid(time.Hour))
	assert.NoError(t, s.Delete(), "deleting a missing file is not an error")
}

func TestRevalidatorRemovesStaleCredential(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write(Payload{Valid: true, IssuedAt: time.Now().Add(-2 * time.Hour)}))

	rv := NewRevalidator(s, time.Hour, 10*time.Millisecond, nil)
	rv.Start()
	defer rv.Stop()

	assert.Eventually(t, func() bool {
		_, err := os.Stat(s.Path())
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond, "stale credential should be deleted")
}

func TestRevalidatorKeepsValidCredential(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write(Payload{Valid: true, IssuedAt: time.Now()}))

	rv := NewRevalidator(s, time.Hour, 10*time.Millisecond, nil)
	rv.Start()
	time.Sleep(100 * time.Millisecond)
	rv.Stop()

	_, err := os.Stat(s.Path())
	assert.NoError(t, err, "valid credential must survive revalidation")
}

func TestRevalidatorStopIsIdempotent(t *testing.T) {
	s := newStore(t)
	rv := NewRevalidator(s, time.Hour, time.Minute, nil)
	rv.Start()
	rv.Stop()
	rv.Stop()
}
