package session

import (
	"log/slog"
	"sync"
)

// Persister durably saves the session between runs. Persistence is
// best-effort: a write failure never invalidates the in-memory session.
type Persister interface {
	Save(sess *Session) error
	Load() (*Session, error)
	Delete() error
}

// Store holds the live session. It is the exclusive owner: Set replaces the
// session wholesale, Clear destroys it and signals dependents to tear down.
type Store struct {
	mu      sync.RWMutex
	current *Session
	persist Persister // may be nil (no durable storage)
	logger  *slog.Logger
	onClear []func()
}

// NewStore creates a session store. persist may be nil.
func NewStore(persist Persister, logger *slog.Logger) *Store {
	s := &Store{persist: persist, logger: logger}
	if persist != nil {
		// Re-read persisted state at startup so the UI can pre-fill before
		// revalidation completes.
		sess, err := persist.Load()
		if err != nil {
			logger.Warn("failed to load persisted session", "error", err)
		} else if sess != nil && sess.Token != "" {
			s.current = sess
		}
	}
	return s
}

// Current returns the live session, or nil if none.
func (s *Store) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	return &cp
}

// Set replaces the live session and persists it.
func (s *Store) Set(sess *Session) {
	s.mu.Lock()
	cp := *sess
	s.current = &cp
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Save(sess); err != nil {
			// Non-fatal: the in-memory session remains authoritative.
			s.logger.Warn("failed to persist session", "error", err)
		}
	}
}

// Clear removes the session and fires teardown hooks. Safe to call multiple
// times; hooks fire only when a live session was actually removed.
func (s *Store) Clear() {
	s.mu.Lock()
	had := s.current != nil
	s.current = nil
	hooks := s.onClear
	s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.Delete(); err != nil {
			s.logger.Warn("failed to delete persisted session", "error", err)
		}
	}

	if !had {
		return
	}
	for _, fn := range hooks {
		fn()
	}
}

// OnClear registers a hook invoked whenever a live session is cleared.
func (s *Store) OnClear(fn func()) {
	s.mu.Lock()
	s.onClear = append(s.onClear, fn)
	s.mu.Unlock()
}
