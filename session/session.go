// Package session tracks in-flight gate attempts. Sessions live only in
// process memory and are single-use: the first successful validation claims
// the session, every later attempt is rejected.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/jmcleod/gatekey/crypto"
	"github.com/jmcleod/gatekey/internal/util"
)

var (
	// ErrNotFound indicates the session id is unknown.
	ErrNotFound = errors.New("unknown session")
	// ErrExpired indicates the session's absolute timeout has passed.
	ErrExpired = errors.New("session expired")
	// ErrConsumed indicates the session was already validated or terminally failed.
	ErrConsumed = errors.New("session already consumed")
)

// State is the lifecycle position of a session.
type State int

const (
	StatePending State = iota
	StateValidated
	StateFailed
)

// Session is one gate attempt.
type Session struct {
	ID           string
	ExpectedCode string
	StartedAt    time.Time
	MinDwell     time.Duration
	Timeout      time.Duration // 0 disables the absolute expiry

	state State
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// expired reports whether the absolute timeout has passed at now.
func (s *Session) expired(now time.Time) bool {
	return s.Timeout > 0 && now.Sub(s.StartedAt) > s.Timeout
}

// RemainingDwell returns how long until the minimum dwell is satisfied at
// now. Zero or negative means the dwell requirement is met.
func (s *Session) RemainingDwell(now time.Time) time.Duration {
	return s.MinDwell - now.Sub(s.StartedAt)
}

// Manager owns the session table. Safe for concurrent use; instantiate one
// per gate server so tests never share state.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	secret   *memguard.Enclave
}

// NewManager creates a manager whose expected codes are derived from the
// given shared secret. The secret is held in an encrypted memory enclave and
// only opened while deriving a code.
func NewManager(secret []byte) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		secret:   memguard.NewEnclave(util.CopyBytes(secret)),
	}
}

// Create starts a new session with a random unguessable id and an expected
// code bound to the shared secret.
func (m *Manager) Create(minDwell, timeout time.Duration) (*Session, error) {
	id := uuid.NewString()

	code, err := m.deriveCode(id)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:           id,
		ExpectedCode: code,
		StartedAt:    time.Now(),
		MinDwell:     minDwell,
		Timeout:      timeout,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	return s, nil
}

func (m *Manager) deriveCode(id string) (string, error) {
	buf, err := m.secret.Open()
	if err != nil {
		return "", err
	}
	defer buf.Destroy()
	return crypto.ExpectedCode(id, buf.Bytes()), nil
}

// Lookup returns a snapshot of the session, or ErrNotFound/ErrExpired.
func (m *Manager) Lookup(id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.expired(time.Now()) {
		return Session{}, ErrExpired
	}
	return *s, nil
}

// Claim atomically transitions a pending session to StateValidated. Exactly
// one caller wins when concurrent validations race; all others receive
// ErrConsumed. This is the single-use invariant.
func (m *Manager) Claim(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if s.expired(time.Now()) {
		return ErrExpired
	}
	if s.state != StatePending {
		return ErrConsumed
	}
	s.state = StateValidated
	return nil
}

// Fail marks a session terminally failed (e.g. after a referrer mismatch).
// Further validation attempts on it are rejected. Already-consumed sessions
// are left untouched.
func (m *Manager) Fail(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok && s.state == StatePending {
		s.state = StateFailed
	}
}

// Len reports the number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
