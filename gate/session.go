package gate

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrsteele09/go-oidc-gate/activity"
	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/jrsteele09/go-oidc-gate/sessions"
	"github.com/rs/zerolog/log"
)

// RequireSession returns the record for sessionID when it is a valid,
// unexpired session and errors.ErrUnauthenticated otherwise. A store failure
// is returned as a *errors.StoreError, never as unauthenticated.
func (g *Gate) RequireSession(ctx context.Context, info RequestInfo, sessionID string) (_ *sessions.Record, err error) {
	ctx, span := g.tracer.Start(ctx, "gate.RequireSession")
	defer func() { endSpan(span, err) }()

	record, err := g.lookup(ctx, sessionID)
	switch {
	case err == nil:
		g.record(ctx, info, activity.EventProtectedAccess, &record.Claims, nil)
		return record, nil
	case errors.Is(err, gateerrors.ErrUnauthenticated):
		g.record(ctx, info, activity.EventUnauthorizedAccess, nil, map[string]string{"reason": unauthenticatedReason(err)})
		return nil, err
	default:
		return nil, err
	}
}

// Session is RequireSession without activity events, for pages that only
// render differently for a logged in user and grant nothing.
func (g *Gate) Session(ctx context.Context, sessionID string) (*sessions.Record, error) {
	return g.lookup(ctx, sessionID)
}

func (g *Gate) lookup(ctx context.Context, sessionID string) (*sessions.Record, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: no session", gateerrors.ErrUnauthenticated)
	}

	record, err := g.store.Get(ctx, sessionID)
	if errors.Is(err, gateerrors.ErrSessionNotFound) {
		return nil, fmt.Errorf("%w: %w", gateerrors.ErrUnauthenticated, err)
	}
	if err != nil {
		return nil, asStoreError("get", err)
	}

	// Claims are checked on every read, not only when the record was written
	if err := record.Validate(g.now()); err != nil {
		if delErr := g.store.Delete(ctx, sessionID); delErr != nil {
			log.Warn().Err(delErr).Msg("gate: failed to drop invalid session")
		}
		return nil, fmt.Errorf("%w: %w", gateerrors.ErrUnauthenticated, err)
	}
	return record, nil
}

func unauthenticatedReason(err error) string {
	switch {
	case errors.Is(err, gateerrors.ErrSessionExpired):
		return "expired"
	case errors.Is(err, gateerrors.ErrMissingClaim):
		return "invalid"
	case errors.Is(err, gateerrors.ErrSessionNotFound):
		return "unknown_session"
	default:
		return "no_session"
	}
}

// Logout ends sessionID and returns the provider end-session redirect. It is
// safe to call without a session; the browser is still sent through the
// provider logout.
func (g *Gate) Logout(ctx context.Context, info RequestInfo, sessionID string) (_ LogoutTarget, err error) {
	ctx, span := g.tracer.Start(ctx, "gate.Logout")
	defer func() { endSpan(span, err) }()

	var record *sessions.Record
	if sessionID != "" {
		record, err = g.store.Get(ctx, sessionID)
		if err != nil && !errors.Is(err, gateerrors.ErrSessionNotFound) {
			return LogoutTarget{}, asStoreError("get", err)
		}
	}

	var claims *sessions.Claims
	var rawToken []byte
	if record != nil {
		claims = &record.Claims
		rawToken = record.RawToken
	}
	g.record(ctx, info, activity.EventLogout, claims, nil)

	if sessionID != "" {
		if err := g.store.Delete(ctx, sessionID); err != nil {
			return LogoutTarget{}, asStoreError("delete", err)
		}
	}

	target, err := g.provider.EndSessionRedirect(ctx, g.logoutReturnURL, rawToken)
	if err != nil {
		log.Warn().Err(err).Msg("gate: no end-session redirect, returning locally")
		return LogoutTarget{RedirectURL: g.logoutReturnURL}, nil
	}
	return LogoutTarget{RedirectURL: target}, nil
}
