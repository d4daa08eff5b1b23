package sessions_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/jrsteele09/go-oidc-gate/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupRedisStore(t *testing.T) (*sessions.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return sessions.NewRedisStore(client, "test:"), mr
}

func liveRecord(subject string) *sessions.Record {
	now := time.Now().UTC().Truncate(time.Second)
	return &sessions.Record{
		IssuedAt:  now,
		ExpiresAt: now.Add(time.Hour),
		Claims: sessions.Claims{
			Subject: subject,
			Email:   "jane@example.com",
			Extra:   map[string]any{"locale": "en"},
		},
		RawToken: []byte(`{"access_token":"at"}`),
	}
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	t.Run("put get delete", func(t *testing.T) {
		store, mr := setupRedisStore(t)
		record := liveRecord("user-123")

		require.NoError(t, store.Put(ctx, "s1", record))
		require.True(t, mr.Exists("test:session:s1"))

		ttl := mr.TTL("test:session:s1")
		require.Greater(t, ttl, 59*time.Minute)
		require.LessOrEqual(t, ttl, time.Hour)

		got, err := store.Get(ctx, "s1")
		require.NoError(t, err)
		require.Equal(t, "s1", got.ID)
		require.Equal(t, "user-123", got.Claims.Subject)
		require.Equal(t, "en", got.Claims.Extra["locale"])
		require.True(t, record.IssuedAt.Equal(got.IssuedAt))
		require.JSONEq(t, `{"access_token":"at"}`, string(got.RawToken))

		require.NoError(t, store.Delete(ctx, "s1"))
		_, err = store.Get(ctx, "s1")
		require.ErrorIs(t, err, gateerrors.ErrSessionNotFound)
	})

	t.Run("unknown session", func(t *testing.T) {
		store, _ := setupRedisStore(t)
		_, err := store.Get(ctx, "never-put")
		require.ErrorIs(t, err, gateerrors.ErrSessionNotFound)
		require.NotErrorIs(t, err, gateerrors.ErrStore)
	})

	t.Run("key ttl expires the session", func(t *testing.T) {
		store, mr := setupRedisStore(t)
		require.NoError(t, store.Put(ctx, "s2", liveRecord("user-123")))

		mr.FastForward(2 * time.Hour)

		_, err := store.Get(ctx, "s2")
		require.ErrorIs(t, err, gateerrors.ErrSessionNotFound)
	})

	t.Run("already expired record is not stored", func(t *testing.T) {
		store, mr := setupRedisStore(t)
		record := liveRecord("user-123")
		record.ExpiresAt = time.Now().Add(-time.Minute)

		require.NoError(t, store.Put(ctx, "s3", record))
		require.False(t, mr.Exists("test:session:s3"))
	})

	t.Run("no expiry means no key ttl", func(t *testing.T) {
		store, mr := setupRedisStore(t)
		record := liveRecord("user-123")
		record.ExpiresAt = time.Time{}

		require.NoError(t, store.Put(ctx, "s4", record))
		require.Equal(t, time.Duration(0), mr.TTL("test:session:s4"))
	})

	t.Run("corrupt value is a store error", func(t *testing.T) {
		store, mr := setupRedisStore(t)
		require.NoError(t, mr.Set("test:session:bad", "{not json"))

		_, err := store.Get(ctx, "bad")
		require.ErrorIs(t, err, gateerrors.ErrStore)
	})

	t.Run("unreachable backend is a store error, not unauthenticated", func(t *testing.T) {
		store, mr := setupRedisStore(t)
		mr.Close()

		_, err := store.Get(ctx, "s1")
		require.ErrorIs(t, err, gateerrors.ErrStore)
		require.NotErrorIs(t, err, gateerrors.ErrSessionNotFound)

		require.ErrorIs(t, store.Put(ctx, "s1", liveRecord("user-123")), gateerrors.ErrStore)
		require.ErrorIs(t, store.Delete(ctx, "s1"), gateerrors.ErrStore)
	})
}
