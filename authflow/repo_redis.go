package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/redis/go-redis/v9"
)

var _ Repo = (*RedisRepo)(nil)

// RedisRepo shares pending logins between instances. GETDEL makes Take
// single use across all of them.
type RedisRepo struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisRepo(client redis.UniversalClient, keyPrefix string) *RedisRepo {
	return &RedisRepo{client: client, prefix: keyPrefix, now: time.Now}
}

func (r *RedisRepo) key(state string) string {
	return fmt.Sprintf("%sstate:%s", r.prefix, state)
}

func (r *RedisRepo) Put(ctx context.Context, pending *Pending) error {
	if pending == nil {
		return errors.New("pending cannot be nil")
	}
	if pending.State == "" {
		return errors.New("state cannot be empty")
	}

	var ttl time.Duration
	if !pending.ExpiresAt.IsZero() {
		ttl = pending.ExpiresAt.Sub(r.now())
		if ttl <= 0 {
			return nil
		}
	}

	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("[authflow RedisRepo Put] encode: %w", err)
	}
	if err := r.client.Set(ctx, r.key(pending.State), data, ttl).Err(); err != nil {
		return gateerrors.NewStoreError("put state", err)
	}
	return nil
}

func (r *RedisRepo) Take(ctx context.Context, state string) (*Pending, error) {
	if state == "" {
		return nil, gateerrors.ErrStateNotFound
	}

	data, err := r.client.GetDel(ctx, r.key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gateerrors.ErrStateNotFound
	}
	if err != nil {
		return nil, gateerrors.NewStoreError("take state", err)
	}

	var p Pending
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, gateerrors.NewStoreError("decode state", err)
	}
	if p.Expired(r.now()) {
		return nil, gateerrors.ErrStateNotFound
	}
	return &p, nil
}
