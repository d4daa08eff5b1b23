package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps JSON encoded records in Redis so that several server
// instances can share sessions. Record expiry is mapped onto the key TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store on top of an existing client.
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{client: client, prefix: keyPrefix, now: time.Now}
}

func (s *RedisStore) key(sessionID string) string {
	return fmt.Sprintf("%ssession:%s", s.prefix, sessionID)
}

func (s *RedisStore) Put(ctx context.Context, sessionID string, record *Record) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}
	if record == nil {
		return fmt.Errorf("record is required")
	}

	c := record.Clone()
	c.ID = sessionID

	var ttl time.Duration
	if !c.ExpiresAt.IsZero() {
		ttl = c.TTL(s.now())
		if ttl <= 0 {
			// Already expired: make sure nothing stale is left behind
			return s.Delete(ctx, sessionID)
		}
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("[RedisStore Put] encode: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), data, ttl).Err(); err != nil {
		return gateerrors.NewStoreError("put", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	if sessionID == "" {
		return nil, gateerrors.ErrSessionNotFound
	}

	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gateerrors.ErrSessionNotFound
	}
	if err != nil {
		return nil, gateerrors.NewStoreError("get", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, gateerrors.NewStoreError("decode", err)
	}
	if record.Expired(s.now()) {
		return nil, gateerrors.ErrSessionNotFound
	}
	return &record, nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return gateerrors.NewStoreError("delete", err)
	}
	return nil
}
