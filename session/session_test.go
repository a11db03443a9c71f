package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gatekey/crypto"
)

func TestCreateAndLookup(t *testing.T) {
	m := NewManager([]byte("s"))

	s, err := m.Create(15*time.Second, time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, crypto.ExpectedCode(s.ID, []byte("s")), s.ExpectedCode)
	assert.Equal(t, StatePending, s.State())

	got, err := m.Lookup(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestSessionIDsAreUnique(t *testing.T) {
	m := NewManager([]byte("s"))
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		s, err := m.Create(0, 0)
		require.NoError(t, err)
		assert.False(t, seen[s.ID])
		seen[s.ID] = true
	}
}

func TestLookupUnknown(t *testing.T) {
	m := NewManager([]byte("s"))
	_, err := m.Lookup("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupExpired(t *testing.T) {
	m := NewManager([]byte("s"))
	s, err := m.Create(0, 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = m.Lookup(s.ID)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestClaimSingleUse(t *testing.T) {
	m := NewManager([]byte("s"))
	s, err := m.Create(0, 0)
	require.NoError(t, err)

	require.NoError(t, m.Claim(s.ID))
	assert.ErrorIs(t, m.Claim(s.ID), ErrConsumed)
}

func TestClaimRace(t *testing.T) {
	m := NewManager([]byte("s"))
	s, err := m.Create(0, 0)
	require.NoError(t, err)

	const n = 32
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Claim(s.ID) == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one concurrent claim may win")
}

func TestFailBlocksClaim(t *testing.T) {
	m := NewManager([]byte("s"))
	s, err := m.Create(0, 0)
	require.NoError(t, err)

	m.Fail(s.ID)
	assert.ErrorIs(t, m.Claim(s.ID), ErrConsumed)

	got, err := m.Lookup(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State())
}

func TestFailDoesNotDowngradeValidated(t *testing.T) {
	m := NewManager([]byte("s"))
	s, err := m.Create(0, 0)
	require.NoError(t, err)

	require.NoError(t, m.Claim(s.ID))
	m.Fail(s.ID)

	got, err := m.Lookup(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateValidated, got.State())
}

func TestRemainingDwell(t *testing.T) {
	s := Session{StartedAt: time.Now(), MinDwell: 15 * time.Second}
	assert.Greater(t, s.RemainingDwell(time.Now()), 14*time.Second)
	assert.LessOrEqual(t, s.RemainingDwell(s.StartedAt.Add(15*time.Second)), time.Duration(0))
}

func TestManagersAreIsolated(t *testing.T) {
	a := NewManager([]byte("s"))
	b := NewManager([]byte("s"))

	s, err := a.Create(0, 0)
	require.NoError(t, err)

	_, err = b.Lookup(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, b.Len())
}
