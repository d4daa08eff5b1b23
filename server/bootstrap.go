package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/jrsteele09/go-oidc-gate/activity"
	"github.com/jrsteele09/go-oidc-gate/authflow"
	"github.com/jrsteele09/go-oidc-gate/gate"
	"github.com/jrsteele09/go-oidc-gate/idp"
	"github.com/jrsteele09/go-oidc-gate/internal/config"
	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/jrsteele09/go-oidc-gate/sessions"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	redisPingTimeout = 3 * time.Second
	// activity lines queued ahead of a slow activityOut before dropping
	activityBufferSize = 1024
)

// Stores holds the session and pending-login backends selected by configuration
type Stores struct {
	Sessions sessions.Store
	Pending  authflow.Repo
	closer   io.Closer
}

// Close releases the shared backend client, if any
func (s Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// NewStores builds the stores for SESSION_STORE. Both redis stores share one client.
func NewStores(ctx context.Context, cfg config.StoreConfig) (Stores, error) {
	switch cfg.GetSessionBackend() {
	case config.BackendMemory:
		return Stores{
			Sessions: sessions.NewInMemoryStore(),
			Pending:  authflow.NewInMemoryRepo(nil),
		}, nil

	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return Stores{}, gateerrors.NewStoreError("connect", fmt.Errorf("redis %s: %w", cfg.GetRedisAddr(), err))
		}
		prefix := cfg.GetRedisKeyPrefix()
		return Stores{
			Sessions: sessions.NewRedisStore(client, prefix),
			Pending:  authflow.NewRedisRepo(client, prefix),
			closer:   client,
		}, nil

	default:
		return Stores{}, fmt.Errorf("%w: unknown session backend %q", gateerrors.ErrInvalidConfig, cfg.GetSessionBackend())
	}
}

// Bootstrap wires the server from configuration: stores, identity provider,
// activity log (JSON lines on activityOut, written asynchronously) and the
// gate. The returned func flushes the activity log and releases backend
// clients; calling it more than once is safe.
func Bootstrap(ctx context.Context, cfg config.Config, activityOut io.Writer) (*Server, func() error, error) {
	stores, err := NewStores(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("[server Bootstrap] failed to create stores: %w", err)
	}

	provider, err := idp.New(idp.Config{
		Issuer:       cfg.GetIssuer(),
		ClientID:     cfg.GetClientID(),
		ClientSecret: cfg.GetClientSecret(),
		RedirectURL:  cfg.GetCallbackURL(),
		Scopes:       cfg.GetScopes(),
		SecretKey:    cfg.GetAppSecretKey(),
	})
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("[server Bootstrap] failed to create identity provider client: %w", err), stores.Close())
	}

	activitySink := activity.NewAsyncZerologSink(activityOut, activityBufferSize)
	logger := activity.New(activity.WithSink(activitySink))
	release := sync.OnceValue(func() error {
		return errors.Join(activitySink.Close(), stores.Close())
	})

	g, err := gate.New(provider, stores.Sessions, stores.Pending, logger,
		gate.WithSessionTTL(cfg.GetSessionTTL()),
		gate.WithPendingTTL(cfg.GetPendingLoginTTL()),
		gate.WithLogoutReturnURL(cfg.GetLogoutReturnURL()),
	)
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("[server Bootstrap] failed to create gate: %w", err), release())
	}

	s, err := New(cfg, g)
	if err != nil {
		return nil, nil, errors.Join(err, release())
	}

	log.Info().
		Str("issuer", cfg.GetIssuer()).
		Str("callback", cfg.GetCallbackURL()).
		Str("session_store", cfg.GetSessionBackend()).
		Dur("session_ttl", cfg.GetSessionTTL()).
		Msg("server bootstrapped")

	return s, release, nil
}
