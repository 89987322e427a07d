package session

import (
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func sampleSession() *Session {
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Session{
		Token:     "tok_123",
		User:      User{ID: "usr_1", Role: RoleUser, DisplayName: "alice"},
		ExpiresAt: &exp,
	}
}

func TestStore_SetAndCurrent(t *testing.T) {
	s := NewStore(nil, testLogger())
	require.Nil(t, s.Current())

	s.Set(sampleSession())
	got := s.Current()
	require.NotNil(t, got)
	assert.Equal(t, "tok_123", got.Token)

	// Current returns a copy, not the live session.
	got.Token = "mutated"
	assert.Equal(t, "tok_123", s.Current().Token)
}

func TestStore_ClearIsIdempotent(t *testing.T) {
	s := NewStore(nil, testLogger())

	var clears int
	s.OnClear(func() { clears++ })

	s.Set(sampleSession())
	s.Clear()
	s.Clear()
	s.Clear()

	assert.Nil(t, s.Current())
	assert.Equal(t, 1, clears, "hooks fire only when a live session was removed")
}

func TestStore_ClearWithoutSessionDoesNothing(t *testing.T) {
	s := NewStore(nil, testLogger())
	var clears int
	s.OnClear(func() { clears++ })

	s.Clear() // must not panic, must not fire hooks
	assert.Equal(t, 0, clears)
}

func TestStore_PersistsThroughRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	p, err := NewFilePersister(path)
	require.NoError(t, err)

	s := NewStore(p, testLogger())
	s.Set(sampleSession())

	// A new store over the same file pre-fills from disk.
	s2 := NewStore(p, testLogger())
	got := s2.Current()
	require.NotNil(t, got)
	assert.Equal(t, "tok_123", got.Token)
	assert.Equal(t, "usr_1", got.User.ID)
	require.NotNil(t, got.ExpiresAt)
}

func TestStore_ClearRemovesPersistedSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	p, err := NewFilePersister(path)
	require.NoError(t, err)

	s := NewStore(p, testLogger())
	s.Set(sampleSession())
	s.Clear()

	s2 := NewStore(p, testLogger())
	assert.Nil(t, s2.Current())
}

func TestMemoryPersister_RoundTrip(t *testing.T) {
	p := NewMemoryPersister()

	sess, err := p.Load()
	require.NoError(t, err)
	assert.Nil(t, sess)

	require.NoError(t, p.Save(sampleSession()))
	sess, err = p.Load()
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "tok_123", sess.Token)

	require.NoError(t, p.Delete())
	sess, err = p.Load()
	require.NoError(t, err)
	assert.Nil(t, sess)
}

type failingPersister struct{}

func (failingPersister) Save(*Session) error   { return errors.New("disk full") }
func (failingPersister) Load() (*Session, error) { return nil, nil }
func (failingPersister) Delete() error         { return errors.New("disk full") }

func TestStore_PersistFailureIsNonFatal(t *testing.T) {
	s := NewStore(failingPersister{}, testLogger())
	s.Set(sampleSession())

	// In-memory session stays authoritative despite the write failure.
	require.NotNil(t, s.Current())
	s.Clear()
	assert.Nil(t, s.Current())
}

func TestFilePersister_LoadMissingFile(t *testing.T) {
	p, err := NewFilePersister(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	sess, err := p.Load()
	require.NoError(t, err)
	assert.Nil(t, sess)
}

func TestSession_Expired(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, (&Session{}).Expired(now), "no expiry means never expired")

	past := now.Add(-time.Hour)
	assert.True(t, (&Session{ExpiresAt: &past}).Expired(now))

	future := now.Add(time.Hour)
	assert.False(t, (&Session{ExpiresAt: &future}).Expired(now))
}
