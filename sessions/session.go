package sessions

import (
	"encoding/json"
	"maps"
	"slices"
	"time"

	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
)

// Claims are the verified identity attributes returned by the identity provider.
type Claims struct {
	Subject   string         `json:"sub"`
	Email     string         `json:"email,omitempty"`
	Name      string         `json:"name,omitempty"`
	Picture   string         `json:"picture,omitempty"`
	ExpiresAt time.Time      `json:"expires_at"` // ID token expiry, zero when the provider sent none
	Extra     map[string]any `json:"extra,omitempty"`
}

// Record is the server-side state of an authenticated browser session.
// A Record without Claims.Subject is never an authenticated session.
type Record struct {
	ID        string          `json:"id"`
	IssuedAt  time.Time       `json:"issued_at"`
	ExpiresAt time.Time       `json:"expires_at"` // zero means no expiry
	Claims    Claims          `json:"claims"`
	RawToken  json.RawMessage `json:"raw_token,omitempty"`
}

// Validate reports whether the record may be treated as authenticated at now.
func (r *Record) Validate(now time.Time) error {
	if r == nil {
		return gateerrors.ErrSessionNotFound
	}
	if r.Claims.Subject == "" {
		return gateerrors.Wrapf(gateerrors.ErrMissingClaim, "session %s: sub", r.ID)
	}
	if r.Expired(now) {
		return gateerrors.ErrSessionExpired
	}
	return nil
}

func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// TTL returns the remaining lifetime; 0 when the record never expires.
func (r *Record) TTL(now time.Time) time.Duration {
	if r.ExpiresAt.IsZero() {
		return 0
	}
	return r.ExpiresAt.Sub(now)
}

// Clone returns a copy that shares no mutable state with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Claims.Extra = maps.Clone(r.Claims.Extra)
	c.RawToken = slices.Clone(r.RawToken)
	return &c
}
