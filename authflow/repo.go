// Package authflow holds logins that were started but whose callback has not
// arrived yet, keyed by the state correlation value.
package authflow

import (
	"context"
	"time"
)

type Pending struct {
	State     string    `json:"state"`
	ReturnTo  string    `json:"return_to"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (p *Pending) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Repo stores pending logins. Take is single use: a state can complete at most
// one callback. Unknown, consumed and expired states return errors.ErrStateNotFound.
type Repo interface {
	Put(ctx context.Context, pending *Pending) error
	Take(ctx context.Context, state string) (*Pending, error)
}
