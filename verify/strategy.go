// Package verify decides whether a validation attempt is genuine. Two
// strategies exist: comparing a hash code derived from the shared secret, or
// confirming a one-time token with the external task provider's API. A
// deployment selects exactly one.
package verify

import (
	"context"
	"errors"

	"github.com/jmcleod/gatekey/crypto"
)

var (
	// ErrBadCode indicates the supplied code does not match the expected one.
	ErrBadCode = errors.New("validation code mismatch")
	// ErrInvalidToken indicates the provider rejected the token.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired indicates the provider-supplied expiry has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrAPIUnavailable indicates the provider API could not be reached or
	// answered with a server error.
	ErrAPIUnavailable = errors.New("verification API unavailable")
	// ErrMalformedResponse indicates the provider answered with a body that
	// could not be interpreted.
	ErrMalformedResponse = errors.New("malformed verification response")
	// ErrIPMismatch indicates the token was issued to a different address.
	// Only returned when mismatch rejection is enabled.
	ErrIPMismatch = errors.New("token issued to a different address")
)

// Attempt carries everything a strategy may need to judge a validation call.
type Attempt struct {
	SessionID    string
	ExpectedCode string
	Code         string
	Token        string
	CallerIP     string
}

// Strategy is a pluggable verification backend.
type Strategy interface {
	Verify(ctx context.Context, a Attempt) error
}

// CodeStrategy accepts an attempt when the supplied code equals the
// session's expected code. No network traffic is involved.
type CodeStrategy struct{}

var _ Strategy = CodeStrategy{}

func (CodeStrategy) Verify(_ context.Context, a Attempt) error {
	if a.Code == "" || !crypto.CodesEqual(a.Code, a.ExpectedCode) {
		return ErrBadCode
	}
	return nil
}
