package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key, err := RandomBytes(AESKeySize)
	require.NoError(t, err)

	plain := []byte(`{"valid":true}`)
	nonce, tag, cipherText, err := SealAESGCM(plain, key)
	require.NoError(t, err)
	assert.Len(t, nonce, GCMNonceSize)
	assert.Len(t, tag, GCMTagSize)
	assert.NotEqual(t, plain, cipherText)

	got, err := OpenAESGCM(nonce, tag, cipherText, key)
	require.NoError(t, err)
	assert.Equal(t, plain, got)
}

func TestOpenRejectsWrongKey(t *testing.T) {
	key, err := RandomBytes(AESKeySize)
	require.NoError(t, err)
	otherKey, err := RandomBytes(AESKeySize)
	require.NoError(t, err)

	nonce, tag, cipherText, err := SealAESGCM([]byte("secret"), key)
	require.NoError(t, err)

	_, err = OpenAESGCM(nonce, tag, cipherText, otherKey)
	assert.Error(t, err, "decryption under a different key must fail")
}

func TestOpenRejectsTamperedData(t *testing.T) {
	key, err := RandomBytes(AESKeySize)
	require.NoError(t, err)

	nonce, tag, cipherText, err := SealAESGCM([]byte("secret"), key)
	require.NoError(t, err)

	for name, mutate := range map[string][]byte{
		"ciphertext": cipherText,
		"tag":        tag,
		"nonce":      nonce,
	} {
		mutate[0] ^= 0x01
		_, err := OpenAESGCM(nonce, tag, cipherText, key)
		assert.Error(t, err, "flipped byte in %s must fail authentication", name)
		mutate[0] ^= 0x01
	}
}

func TestSealRejectsBadKeySize(t *testing.T) {
	_, _, _, err := SealAESGCM([]byte("x"), make([]byte, 16))
	assert.Error(t, err)
}

func TestHKDFDeterministic(t *testing.T) {
	seed := []byte("machine attributes")
	info := []byte("gatekey:machine:v1")

	k1, err := HKDF(seed, nil, info)
	require.NoError(t, err)
	k2, err := HKDF(seed, nil, info)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, HKDFKeyLength)

	k3, err := HKDF([]byte("other machine"), nil, info)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestHexRoundTrip(t *testing.T) {
	b := []byte{0x00, 0xde, 0xad, 0xbe, 0xef}
	s := HexEncode(b)
	got, err := HexDecode(s)
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestNormalize(t *testing.T) {
	// NFKD decomposes the precomposed form; both inputs normalize equal.
	assert.Equal(t, Normalize("café"), Normalize("café"))
}

func TestRandomHexLength(t *testing.T) {
	s, err := RandomHex(16)
	require.NoError(t, err)
	assert.Len(t, s, 32)
}
