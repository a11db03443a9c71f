package gate

import (
	"fmt"
	"net/url"
	"time"
)

// Strategy selects how /validate attempts are verified.
type Strategy string

const (
	// StrategyCode compares a hash code derived from the shared secret.
	StrategyCode Strategy = "code"
	// StrategyToken confirms a one-time token with the task provider's API.
	StrategyToken Strategy = "token"
)

// Defaults applied by Config.normalized.
const (
	DefaultPort           = 4173
	DefaultKeyPath        = "key.json"
	DefaultKeyMaxAge      = 24 * time.Hour
	DefaultMinDwell       = 15 * time.Second
	DefaultSessionTimeout = 10 * time.Minute
	DefaultIdleTimeout    = 15 * time.Minute
)

// ConfigError reports a missing or unusable configuration field. It is the
// only fatal error class in the system; everything else degrades to
// "validation not yet successful".
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("config field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("missing required config field %q", e.Field)
}

// Config holds every recognized gate option.
type Config struct {
	// Secret is the shared secret validation codes are derived from. Required.
	Secret string
	// GateURL is the external adwall page presented to the user. Required.
	GateURL string
	// TaskURL is the third-party task provider page. Required.
	TaskURL string
	// VerifyURL is the provider's token verification endpoint. Required for
	// StrategyToken.
	VerifyURL string
	// Strategy picks the verification backend. Defaults to StrategyToken
	// when VerifyURL is set, StrategyCode otherwise.
	Strategy Strategy

	// Port binds the loopback gate server. Default 4173.
	Port int
	// KeyPath is the credential file location. Default "key.json".
	KeyPath string
	// KeyMaxAge bounds the credential lifetime. Default 24h.
	KeyMaxAge time.Duration
	// MinDwell is the minimum time between session start and validation.
	// Default 15s.
	MinDwell time.Duration
	// SessionTimeout is the absolute session expiry. Default 10m; negative
	// disables it.
	SessionTimeout time.Duration
	// IdleTimeout stops the server when no validation succeeds. Default 15m.
	IdleTimeout time.Duration

	// RateLimit and RateWindow bound successful validations per network
	// identity. Zero values select the ledger defaults (1 per hour).
	RateLimit  int
	RateWindow time.Duration
	// LedgerPath, when set, persists the rate-limit ledger in a bbolt file
	// so the budget survives restarts.
	LedgerPath string

	// RejectIPMismatch makes a token/caller IP mismatch a hard failure.
	// Off by default to tolerate proxies and VPNs.
	RejectIPMismatch bool

	// Revalidate starts a background check that deletes the credential once
	// it stops validating. RevalidateInterval defaults to 7m.
	Revalidate         bool
	RevalidateInterval time.Duration
}

// Validate checks the required fields and fails fast with a descriptive
// error naming the first missing one.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return &ConfigError{Field: "secret"}
	}
	if c.GateURL == "" {
		return &ConfigError{Field: "gateUrl"}
	}
	if _, err := url.ParseRequestURI(c.GateURL); err != nil {
		return &ConfigError{Field: "gateUrl", Reason: err.Error()}
	}
	if c.TaskURL == "" {
		return &ConfigError{Field: "taskUrl"}
	}
	if c.effectiveStrategy() == StrategyToken && c.VerifyURL == "" {
		return &ConfigError{Field: "verifyUrl", Reason: "required for the token strategy"}
	}
	switch c.effectiveStrategy() {
	case StrategyCode, StrategyToken:
	default:
		return &ConfigError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", c.Strategy)}
	}
	return nil
}

func (c *Config) effectiveStrategy() Strategy {
	if c.Strategy != "" {
		return c.Strategy
	}
	if c.VerifyURL != "" {
		return StrategyToken
	}
	return StrategyCode
}

// normalized returns a copy with defaults applied.
func (c Config) normalized() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.KeyPath == "" {
		c.KeyPath = DefaultKeyPath
	}
	if c.KeyMaxAge == 0 {
		c.KeyMaxAge = DefaultKeyMaxAge
	}
	if c.MinDwell == 0 {
		c.MinDwell = DefaultMinDwell
	}
	switch {
	case c.SessionTimeout == 0:
		c.SessionTimeout = DefaultSessionTimeout
	case c.SessionTimeout < 0:
		c.SessionTimeout = 0
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	c.Strategy = c.effectiveStrategy()
	return c
}
