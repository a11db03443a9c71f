// Package credential persists the machine-bound proof-of-completion key on
// disk and answers whether a previously issued key is still acceptable.
package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmcleod/gatekey/crypto"
)

// Payload is the plaintext credential sealed into the on-disk envelope.
type Payload struct {
	Valid    bool      `json:"valid"`
	IssuedAt time.Time `json:"issuedAt"`
	// Token and ExpiresAt are set when the credential was issued against an
	// external provider token.
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Store reads and writes the encrypted credential file. The machine key is
// re-derived on every operation and never kept on the struct.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the credential file location.
func (s *Store) Path() string {
	return s.path
}

// HasValid reports whether a usable credential exists. Every failure mode —
// missing file, malformed JSON, integrity failure, valid flag unset, or age
// beyond maxAge — collapses to false. Callers cannot distinguish a tampered
// credential from an absent one.
func (s *Store) HasValid(maxAge time.Duration) bool {
	payload, err := s.read()
	if err != nil {
		return false
	}
	if !payload.Valid {
		return false
	}
	if time.Since(payload.IssuedAt) > maxAge {
		return false
	}
	if !payload.ExpiresAt.IsZero() && time.Now().After(payload.ExpiresAt) {
		return false
	}
	return true
}

// Write seals the payload under the current machine key and persists it,
// replacing any existing credential. The write is atomic: the envelope is
// written to a temp file in the same directory and renamed into place.
func (s *Store) Write(payload Payload) error {
	machineKey, err := crypto.DeriveMachineKey()
	if err != nil {
		return fmt.Errorf("deriving machine key: %w", err)
	}

	env, err := crypto.Seal(payload, machineKey)
	if err != nil {
		return fmt.Errorf("sealing credential: %w", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".gatekey-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp credential file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing credential file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing credential file: %w", err)
	}
	return nil
}

// Delete removes the credential file. A missing file is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing credential file: %w", err)
	}
	return nil
}

func (s *Store) read() (Payload, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Payload{}, fmt.Errorf("reading credential file: %w", err)
	}

	var env crypto.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Payload{}, fmt.Errorf("unmarshaling envelope: %w", err)
	}

	machineKey, err := crypto.DeriveMachineKey()
	if err != nil {
		return Payload{}, fmt.Errorf("deriving machine key: %w", err)
	}

	var payload Payload
	if err := crypto.Open(&env, machineKey, &payload); err != nil {
		return Payload{}, err
	}
	return payload, nil
}
