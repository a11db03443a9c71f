package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	AESKeySize = 32
	// GCMNonceSize is the standard 96-bit GCM nonce length.
	GCMNonceSize = 12
	// GCMTagSize is the 128-bit GCM authentication tag length.
	GCMTagSize = 16
)

// SealAESGCM encrypts plainText under rawKey with AES-256-GCM and a fresh
// random nonce. The nonce, authentication tag, and ciphertext are returned
// separately so callers can persist them as distinct fields.
func SealAESGCM(plainText, rawKey []byte) (nonce, tag, cipherText []byte, err error) {
	if len(rawKey) != AESKeySize {
		return nil, nil, nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating GCM: %w", err)
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plainText, nil)

	// gcm.Seal appends the tag after the ciphertext.
	split := len(sealed) - gcm.Overhead()
	cipherText = sealed[:split]
	tag = sealed[split:]

	return nonce, tag, cipherText, nil
}

// OpenAESGCM decrypts ciphertext produced by SealAESGCM. Authentication
// failure (tampered data or a key derived on a different machine) surfaces
// as an error from gcm.Open; the two cases are indistinguishable.
func OpenAESGCM(nonce, tag, cipherText, rawKey []byte) ([]byte, error) {
	if len(rawKey) != AESKeySize {
		return nil, fmt.Errorf("invalid AES key size: got %d, want %d", len(rawKey), AESKeySize)
	}

	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(nonce), gcm.NonceSize())
	}
	if len(tag) != gcm.Overhead() {
		return nil, fmt.Errorf("invalid tag size: got %d, want %d", len(tag), gcm.Overhead())
	}

	sealed := make([]byte, 0, len(cipherText)+len(tag))
	sealed = append(sealed, cipherText...)
	sealed = append(sealed, tag...)

	plainText, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}

	return plainText, nil
}
