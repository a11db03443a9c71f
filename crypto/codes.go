package crypto

import (
	"crypto/sha256"
	"crypto/subtle"

	"github.com/jmcleod/gatekey/internal/util"
)

// Hash returns the lowercase hex SHA-256 digest of input.
func Hash(input []byte) string {
	sum := sha256.Sum256(input)
	return util.HexEncode(sum[:])
}

// ExpectedCode derives the validation code for a session as
// Hash(sessionID || secret). Only a party that knows the shared secret can
// produce it for a given session.
func ExpectedCode(sessionID string, secret []byte) string {
	input := make([]byte, 0, len(sessionID)+len(secret))
	input = append(input, sessionID...)
	input = append(input, secret...)
	return Hash(input)
}

// CodesEqual compares two codes in constant time.
func CodesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
