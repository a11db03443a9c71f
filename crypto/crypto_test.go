package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	// sha256("abc")
	assert.Equal(t,
		"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		Hash([]byte("abc")))
}

func TestExpectedCode(t *testing.T) {
	code := ExpectedCode("session-1", []byte("s"))
	assert.Equal(t, Hash([]byte("session-1s")), code)
	assert.NotEqual(t, code, ExpectedCode("session-2", []byte("s")))
	assert.NotEqual(t, code, ExpectedCode("session-1", []byte("other")))
}

func TestCodesEqual(t *testing.T) {
	assert.True(t, CodesEqual("abc", "abc"))
	assert.False(t, CodesEqual("abc", "abd"))
	assert.False(t, CodesEqual("abc", "abcd"))
}

func TestFingerprintMachineKeyDeterministic(t *testing.T) {
	fp := Fingerprint{Hostname: "box", OS: "linux", Arch: "amd64", Username: "alice"}

	k1, err := fp.MachineKey()
	require.NoError(t, err)
	k2, err := fp.MachineKey()
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Fingerprint{Hostname: "box", OS: "linux", Arch: "amd64", Username: "alice"}
	baseKey, err := base.MachineKey()
	require.NoError(t, err)

	for name, fp := range map[string]Fingerprint{
		"hostname": {Hostname: "other", OS: "linux", Arch: "amd64", Username: "alice"},
		"os":       {Hostname: "box", OS: "darwin", Arch: "amd64", Username: "alice"},
		"arch":     {Hostname: "box", OS: "linux", Arch: "arm64", Username: "alice"},
		"username": {Hostname: "box", OS: "linux", Arch: "amd64", Username: "bob"},
	} {
		k, err := fp.MachineKey()
		require.NoError(t, err)
		assert.NotEqual(t, baseKey, k, "changing %s must change the machine key", name)
	}
}

func TestFingerprintUnicodeNormalization(t *testing.T) {
	a := Fingerprint{Hostname: "café", OS: "linux", Arch: "amd64", Username: "alice"}
	b := Fingerprint{Hostname: "café", OS: "linux", Arch: "amd64", Username: "alice"}

	ka, err := a.MachineKey()
	require.NoError(t, err)
	kb, err := b.MachineKey()
	require.NoError(t, err)
	assert.Equal(t, ka, kb)
}

func TestHostFingerprint(t *testing.T) {
	fp, err := HostFingerprint()
	require.NoError(t, err)
	assert.NotEmpty(t, fp.Hostname)
	assert.NotEmpty(t, fp.OS)

	key, err := DeriveMachineKey()
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

type payload struct {
	Valid    bool   `json:"valid"`
	IssuedAt int64  `json:"issuedAt"`
	Token    string `json:"token,omitempty"`
}

func TestEnvelopeRoundTrip(t *testing.T) {
	fp := Fingerprint{Hostname: "box", OS: "linux", Arch: "amd64", Username: "alice"}
	key, err := fp.MachineKey()
	require.NoError(t, err)

	in := payload{Valid: true, IssuedAt: 1700000000, Token: "tok"}
	env, err := Seal(in, key)
	require.NoError(t, err)
	assert.NotEmpty(t, env.IV)
	assert.NotEmpty(t, env.Tag)
	assert.NotEmpty(t, env.Data)

	var out payload
	require.NoError(t, Open(env, key, &out))
	assert.Equal(t, in, out)
}

func TestEnvelopeMachineBinding(t *testing.T) {
	keyA, err := Fingerprint{Hostname: "box-a", OS: "linux", Arch: "amd64", Username: "alice"}.MachineKey()
	require.NoError(t, err)
	keyB, err := Fingerprint{Hostname: "box-b", OS: "linux", Arch: "amd64", Username: "alice"}.MachineKey()
	require.NoError(t, err)

	env, err := Seal(payload{Valid: true}, keyA)
	require.NoError(t, err)

	var out payload
	err = Open(env, keyB, &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.False(t, out.Valid, "no data may leak from a foreign-machine envelope")
}

func TestEnvelopeTamperDetection(t *testing.T) {
	key, err := Fingerprint{Hostname: "box", OS: "linux", Arch: "amd64", Username: "alice"}.MachineKey()
	require.NoError(t, err)

	env, err := Seal(payload{Valid: true}, key)
	require.NoError(t, err)

	flip := func(hexStr string) string {
		b := []byte(hexStr)
		if b[0] == 'f' {
			b[0] = '0'
		} else {
			b[0] = 'f'
		}
		return string(b)
	}

	var out payload

	tampered := *env
	tampered.Data = flip(env.Data)
	assert.ErrorIs(t, Open(&tampered, key, &out), ErrIntegrity)

	tampered = *env
	tampered.Tag = flip(env.Tag)
	assert.ErrorIs(t, Open(&tampered, key, &out), ErrIntegrity)

	tampered = *env
	tampered.IV = "zz" + env.IV[2:]
	assert.ErrorIs(t, Open(&tampered, key, &out), ErrIntegrity)
}
