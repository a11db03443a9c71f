package crypto

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmcleod/gatekey/internal/util"
)

// ErrIntegrity indicates the envelope failed authentication: the data was
// tampered with, or it was sealed under a different machine key. The two
// cases are deliberately indistinguishable.
var ErrIntegrity = errors.New("envelope integrity check failed")

// Envelope is a sealed record containing AES-256-GCM encrypted data, with
// the nonce, tag and ciphertext stored as separate hex fields.
type Envelope struct {
	IV   string `json:"iv"`
	Tag  string `json:"tag"`
	Data string `json:"data"`
}

// Seal JSON-serializes v and encrypts it under the given machine key.
func Seal(v any, machineKey []byte) (*Envelope, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}

	nonce, tag, cipherText, err := util.SealAESGCM(plain, machineKey)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		IV:   util.HexEncode(nonce),
		Tag:  util.HexEncode(tag),
		Data: util.HexEncode(cipherText),
	}, nil
}

// Open decrypts the envelope under the given machine key and unmarshals the
// plaintext into out. Any authentication failure collapses to ErrIntegrity.
func Open(env *Envelope, machineKey []byte, out any) error {
	nonce, err := util.HexDecode(env.IV)
	if err != nil {
		return fmt.Errorf("%w: bad iv encoding", ErrIntegrity)
	}
	tag, err := util.HexDecode(env.Tag)
	if err != nil {
		return fmt.Errorf("%w: bad tag encoding", ErrIntegrity)
	}
	cipherText, err := util.HexDecode(env.Data)
	if err != nil {
		return fmt.Errorf("%w: bad data encoding", ErrIntegrity)
	}

	plain, err := util.OpenAESGCM(nonce, tag, cipherText, machineKey)
	if err != nil {
		return ErrIntegrity
	}

	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("%w: plaintext is not valid JSON", ErrIntegrity)
	}
	return nil
}
