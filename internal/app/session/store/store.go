// Package store provides the in-memory per-user session store.
package store

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/voicetube/internal/domain/session"
)

var (
	ErrEmptyUserID     = errors.New("user id is empty")
	ErrSessionNotFound = errors.New("session not found")
)

// Store manages user sessions with thread-safe access.
// Sessions are created lazily and live for the process lifetime.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New creates a new empty store.
func New() *Store {
	return &Store{
		sessions: make(map[string]*session.Session),
	}
}

// Get returns the session for userID, creating it on first access.
func (s *Store) Get(userID string) (*session.Session, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	s.mu.RLock()
	sess, ok := s.sessions[userID]
	s.mu.RUnlock()
	if ok {
		return sess, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another request may have created it while we waited for the lock
	if sess, ok := s.sessions[userID]; ok {
		return sess, nil
	}
	sess = session.New(userID)
	s.sessions[userID] = sess
	return sess, nil
}

// Lookup returns an existing session without creating one.
func (s *Store) Lookup(userID string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return nil, errors.Wrapf(ErrSessionNotFound, "user %s", userID)
	}
	return sess, nil
}

// All returns all sessions ordered by user id.
func (s *Store) All() []*session.Session {
	s.mu.RLock()
	result := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		result = append(result, sess)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].UserID() < result[j].UserID()
	})
	return result
}

// Count returns the number of sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
