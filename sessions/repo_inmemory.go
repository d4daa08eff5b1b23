package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
)

var _ Store = (*InMemoryStore)(nil)

// InMemoryStore is a process-local Store. Expired records are dropped lazily
// when read; there is no background sweeper.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Record
	now      func() time.Time
}

type InMemoryOption func(*InMemoryStore)

// WithClock overrides the clock used for expiry checks
func WithClock(now func() time.Time) InMemoryOption {
	return func(s *InMemoryStore) {
		s.now = now
	}
}

// NewInMemoryStore creates a new in-memory session store
func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		sessions: make(map[string]*Record),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put creates or replaces the record stored under sessionID
func (s *InMemoryStore) Put(_ context.Context, sessionID string, record *Record) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	if record == nil {
		return fmt.Errorf("record is required")
	}

	// Store a copy to avoid external modifications
	c := record.Clone()
	c.ID = sessionID

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = c
	return nil
}

// Get retrieves a copy of the record stored under sessionID
func (s *InMemoryStore) Get(_ context.Context, sessionID string) (*Record, error) {
	if sessionID == "" {
		return nil, gateerrors.ErrSessionNotFound
	}

	s.mu.RLock()
	record, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, gateerrors.ErrSessionNotFound
	}

	if record.Expired(s.now()) {
		s.mu.Lock()
		// Only drop the entry we saw; a concurrent Put may have replaced it
		if current, ok := s.sessions[sessionID]; ok && current == record {
			delete(s.sessions, sessionID)
		}
		s.mu.Unlock()
		return nil, gateerrors.ErrSessionNotFound
	}

	return record.Clone(), nil
}

// Delete removes a record. Deleting an unknown session is not an error.
func (s *InMemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Len returns the number of stored records, expired ones included
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
