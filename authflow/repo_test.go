package authflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-oidc-gate/authflow"
	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRepos(t *testing.T) {
	repos := map[string]func(t *testing.T) (authflow.Repo, func(time.Duration)){
		"in-memory": func(t *testing.T) (authflow.Repo, func(time.Duration)) {
			now := time.Now()
			repo := authflow.NewInMemoryRepo(func() time.Time { return now })
			return repo, func(d time.Duration) { now = now.Add(d) }
		},
		"redis": func(t *testing.T) (authflow.Repo, func(time.Duration)) {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return authflow.NewRedisRepo(client, "test:"), mr.FastForward
		},
	}

	for name, setup := range repos {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("take is single use", func(t *testing.T) {
				repo, _ := setup(t)
				require.NoError(t, repo.Put(ctx, &authflow.Pending{
					State:     "state-1",
					ReturnTo:  "/protected",
					CreatedAt: time.Now(),
					ExpiresAt: time.Now().Add(10 * time.Minute),
				}))

				p, err := repo.Take(ctx, "state-1")
				require.NoError(t, err)
				require.Equal(t, "/protected", p.ReturnTo)

				_, err = repo.Take(ctx, "state-1")
				require.ErrorIs(t, err, gateerrors.ErrStateNotFound)
			})

			t.Run("unknown and empty state", func(t *testing.T) {
				repo, _ := setup(t)
				_, err := repo.Take(ctx, "nope")
				require.ErrorIs(t, err, gateerrors.ErrStateNotFound)
				_, err = repo.Take(ctx, "")
				require.ErrorIs(t, err, gateerrors.ErrStateNotFound)
			})

			t.Run("expired state", func(t *testing.T) {
				repo, advance := setup(t)
				require.NoError(t, repo.Put(ctx, &authflow.Pending{
					State:     "state-2",
					ExpiresAt: time.Now().Add(time.Minute),
				}))

				advance(2 * time.Minute)

				_, err := repo.Take(ctx, "state-2")
				require.ErrorIs(t, err, gateerrors.ErrStateNotFound)
			})

			t.Run("invalid input", func(t *testing.T) {
				repo, _ := setup(t)
				require.Error(t, repo.Put(ctx, nil))
				require.Error(t, repo.Put(ctx, &authflow.Pending{}))
			})
		})
	}
}

func TestInMemoryRepo_PrunesExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	repo := authflow.NewInMemoryRepo(func() time.Time { return now })

	require.NoError(t, repo.Put(ctx, &authflow.Pending{State: "old", ExpiresAt: now.Add(time.Minute)}))
	now = now.Add(time.Hour)
	require.NoError(t, repo.Put(ctx, &authflow.Pending{State: "new", ExpiresAt: now.Add(time.Minute)}))

	require.Equal(t, 1, repo.Len())
}
