package sessions_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/jrsteele09/go-oidc-gate/sessions"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRecord(subject string) *sessions.Record {
	return &sessions.Record{
		IssuedAt:  baseTime,
		ExpiresAt: baseTime.Add(time.Hour),
		Claims: sessions.Claims{
			Subject: subject,
			Email:   "jane@example.com",
			Name:    "Jane Doe",
			Extra:   map[string]any{"locale": "en"},
		},
		RawToken: []byte(`{"access_token":"at"}`),
	}
}

func TestRecord_Validate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		require.NoError(t, testRecord("user-123").Validate(baseTime))
	})

	t.Run("missing subject", func(t *testing.T) {
		err := testRecord("").Validate(baseTime)
		require.ErrorIs(t, err, gateerrors.ErrMissingClaim)
	})

	t.Run("expired", func(t *testing.T) {
		err := testRecord("user-123").Validate(baseTime.Add(time.Hour))
		require.ErrorIs(t, err, gateerrors.ErrSessionExpired)
	})

	t.Run("no expiry", func(t *testing.T) {
		r := testRecord("user-123")
		r.ExpiresAt = time.Time{}
		require.NoError(t, r.Validate(baseTime.Add(1000*time.Hour)))
		require.Equal(t, time.Duration(0), r.TTL(baseTime))
	})

	t.Run("nil record", func(t *testing.T) {
		var r *sessions.Record
		require.ErrorIs(t, r.Validate(baseTime), gateerrors.ErrSessionNotFound)
	})
}

func TestRecord_Clone(t *testing.T) {
	r := testRecord("user-123")
	c := r.Clone()

	c.Claims.Extra["locale"] = "fr"
	c.RawToken[0] = 'X'

	require.Equal(t, "en", r.Claims.Extra["locale"])
	require.Equal(t, byte('{'), r.RawToken[0])
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := baseTime
	store := sessions.NewInMemoryStore(sessions.WithClock(func() time.Time { return now }))

	t.Run("get unknown", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		require.ErrorIs(t, err, gateerrors.ErrSessionNotFound)

		_, err = store.Get(ctx, "")
		require.ErrorIs(t, err, gateerrors.ErrSessionNotFound)
	})

	t.Run("put get delete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "s1", testRecord("user-123")))

		got, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, "s1", got.ID)
		require.Equal(t, "user-123", got.Claims.Subject)

		require.NoError(t, store.Delete(ctx, "s1"))
		_, err = store.Get(ctx, "s1")
		require.ErrorIs(t, err, gateerrors.ErrSessionNotFound)

		// idempotent
		require.NoError(t, store.Delete(ctx, "s1"))
	})

	t.Run("records are copied", func(t *testing.T) {
		r := testRecord("user-123")
		require.NoError(t, store.Put(ctx, "s2", r))
		r.Claims.Subject = "mutated"

		got, err := store.Get(ctx, "s2")
		require.NoError(t, err)
		require.Equal(t, "user-123", got.Claims.Subject)

		got.Claims.Subject = "mutated again"
		again, err := store.Get(ctx, "s2")
		require.NoError(t, err)
		require.Equal(t, "user-123", again.Claims.Subject)
	})

	t.Run("expired records are dropped on read", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "s3", testRecord("user-123")))
		before := store.Len()

		now = baseTime.Add(2 * time.Hour)
		t.Cleanup(func() { now = baseTime })

		_, err := store.Get(ctx, "s3")
		require.ErrorIs(t, err, gateerrors.ErrSessionNotFound)
		require.Less(t, store.Len(), before)
	})

	t.Run("invalid arguments", func(t *testing.T) {
		require.Error(t, store.Put(ctx, "", testRecord("user-123")))
		require.Error(t, store.Put(ctx, "s4", nil))
	})
}

func TestInMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := sessions.NewInMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", i)
			subject := fmt.Sprintf("user-%d", i)
			r := testRecord(subject)
			r.ExpiresAt = time.Time{}

			require.NoError(t, store.Put(ctx, id, r))
			got, err := store.Get(ctx, id)
			require.NoError(t, err)
			require.Equal(t, subject, got.Claims.Subject)
			require.NoError(t, store.Delete(ctx, id))
		}(i)
	}
	wg.Wait()
	require.Zero(t, store.Len())
}
