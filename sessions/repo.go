package sessions

import (
	"context"
)

// Store persists session records by opaque session ID. It holds no
// authentication logic: validity is decided by the caller on every read.
//
// Get returns errors.ErrSessionNotFound when nothing is stored under the ID.
// Failures of the backing store are returned as *errors.StoreError.
type Store interface {
	Put(ctx context.Context, sessionID string, record *Record) error
	Get(ctx context.Context, sessionID string) (*Record, error)
	Delete(ctx context.Context, sessionID string) error
}
