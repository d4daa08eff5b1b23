package authflow

import (
	"context"
	"errors"
	"sync"
	"time"

	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface.
// Expired entries are pruned whenever a new login is stored.
type InMemoryRepo struct {
	mu     sync.Mutex
	states map[string]Pending
	now    func() time.Time
}

// NewInMemoryRepo creates a new in-memory pending login repository
func NewInMemoryRepo(now func() time.Time) *InMemoryRepo {
	if now == nil {
		now = time.Now
	}
	return &InMemoryRepo{
		states: make(map[string]Pending),
		now:    now,
	}
}

// Put stores a pending login under its state
func (r *InMemoryRepo) Put(_ context.Context, pending *Pending) error {
	if pending == nil {
		return errors.New("pending cannot be nil")
	}
	if pending.State == "" {
		return errors.New("state cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for state, p := range r.states {
		if p.Expired(now) {
			delete(r.states, state)
		}
	}

	// Store a copy to prevent external modifications
	r.states[pending.State] = *pending
	return nil
}

// Take removes and returns the pending login for state
func (r *InMemoryRepo) Take(_ context.Context, state string) (*Pending, error) {
	if state == "" {
		return nil, gateerrors.ErrStateNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.states[state]
	if !exists {
		return nil, gateerrors.ErrStateNotFound
	}
	delete(r.states, state)

	if p.Expired(r.now()) {
		return nil, gateerrors.ErrStateNotFound
	}
	return &p, nil
}

// Len returns the number of held entries
func (r *InMemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}
