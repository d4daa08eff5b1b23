package gate

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/jrsteele09/go-oidc-gate/activity"
	"github.com/jrsteele09/go-oidc-gate/authflow"
	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/jrsteele09/go-oidc-gate/sessions"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StartLogin creates a pending login for returnTo and returns the provider
// redirect. The session store is not touched.
func (g *Gate) StartLogin(ctx context.Context, info RequestInfo, returnTo string) (_ *LoginStart, err error) {
	ctx, span := g.tracer.Start(ctx, "gate.StartLogin")
	defer func() { endSpan(span, err) }()

	state, err := g.newID()
	if err != nil {
		return nil, gateerrors.Wrapf(err, "[gate StartLogin] generate state")
	}

	redirectURL, err := g.provider.AuthorizationRedirect(ctx, state)
	if err != nil {
		authErr := gateerrors.NewAuthError(gateerrors.ReasonProviderError, err)
		g.record(ctx, info, activity.EventLoginFailure, nil, failureDetail(authErr))
		return nil, authErr
	}

	now := g.now().UTC()
	pending := &authflow.Pending{
		State:     state,
		ReturnTo:  returnTo,
		CreatedAt: now,
		ExpiresAt: now.Add(g.pendingTTL),
	}
	if err := g.pending.Put(ctx, pending); err != nil {
		return nil, asStoreError("put state", err)
	}

	g.record(ctx, info, activity.EventLoginAttempt, nil, map[string]string{"return_to": returnTo})
	return &LoginStart{RedirectURL: redirectURL, State: state, ExpiresAt: pending.ExpiresAt}, nil
}

// CompleteLogin turns a provider callback into a session. Any failure emits
// a login failure event and leaves no session behind; rejected callbacks are
// *errors.AuthError, backing store failures are *errors.StoreError.
func (g *Gate) CompleteLogin(ctx context.Context, info RequestInfo, params CallbackParams) (_ *LoginResult, err error) {
	ctx, span := g.tracer.Start(ctx, "gate.CompleteLogin")
	defer func() { endSpan(span, err) }()

	result, claims, err := g.completeLogin(ctx, span, params)
	if err != nil {
		g.record(ctx, info, activity.EventLoginFailure, claims, failureDetail(err))
		return nil, err
	}

	g.record(ctx, info, activity.EventLoginSuccess, &result.Session.Claims, map[string]string{"return_to": result.ReturnTo})
	return result, nil
}

func (g *Gate) completeLogin(ctx context.Context, span trace.Span, params CallbackParams) (*LoginResult, *sessions.Claims, error) {
	if params.State == "" {
		return nil, nil, gateerrors.NewAuthError(gateerrors.ReasonStateMissing, gateerrors.ErrStateNotFound)
	}
	if subtle.ConstantTimeCompare([]byte(params.State), []byte(params.ExpectedState)) != 1 {
		return nil, nil, gateerrors.NewAuthError(gateerrors.ReasonStateMismatch, gateerrors.ErrStateMismatch)
	}

	// Consume the state before anything else so it cannot be replayed
	pending, err := g.pending.Take(ctx, params.State)
	if errors.Is(err, gateerrors.ErrStateNotFound) {
		return nil, nil, gateerrors.NewAuthError(gateerrors.ReasonStateMismatch, err)
	}
	if err != nil {
		return nil, nil, asStoreError("take state", err)
	}

	if params.Error != "" {
		return nil, nil, gateerrors.NewAuthError(gateerrors.ReasonProviderError,
			errors.New(params.Error+": "+params.ErrorDescription))
	}

	tokens, err := g.provider.ExchangeCode(ctx, params.Code, params.State)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, gateerrors.NewAuthError(gateerrors.ReasonCancelled, errors.Join(ctx.Err(), err))
		}
		var authErr *gateerrors.AuthError
		if gateerrors.As(err, &authErr) {
			return nil, nil, authErr
		}
		return nil, nil, gateerrors.NewAuthError(gateerrors.ReasonExchangeFailed, err)
	}
	claims := tokens.Claims
	span.SetAttributes(attribute.String("session.subject", claims.Subject))

	sessionID, err := g.newID()
	if err != nil {
		return nil, &claims, gateerrors.Wrapf(err, "[gate CompleteLogin] generate session id")
	}

	now := g.now().UTC()
	record := &sessions.Record{
		ID:        sessionID,
		IssuedAt:  now,
		ExpiresAt: g.sessionExpiry(now, claims),
		Claims:    claims,
		RawToken:  tokens.Raw,
	}
	if err := record.Validate(now); err != nil {
		reason := gateerrors.ReasonExchangeFailed
		if errors.Is(err, gateerrors.ErrMissingClaim) {
			reason = gateerrors.ReasonMissingClaim
		}
		return nil, &claims, gateerrors.NewAuthError(reason, err)
	}

	// A caller that gave up during the exchange gets no session
	if ctx.Err() != nil {
		return nil, &claims, gateerrors.NewAuthError(gateerrors.ReasonCancelled, ctx.Err())
	}
	if err := g.store.Put(ctx, sessionID, record); err != nil {
		return nil, &claims, asStoreError("put", err)
	}

	return &LoginResult{Session: record, ReturnTo: pending.ReturnTo}, &claims, nil
}

// sessionExpiry is the earlier of the session TTL and the ID token expiry
func (g *Gate) sessionExpiry(issuedAt time.Time, claims sessions.Claims) time.Time {
	var expiresAt time.Time
	if g.sessionTTL > 0 {
		expiresAt = issuedAt.Add(g.sessionTTL)
	}
	if !claims.ExpiresAt.IsZero() && (expiresAt.IsZero() || claims.ExpiresAt.Before(expiresAt)) {
		expiresAt = claims.ExpiresAt.UTC()
	}
	return expiresAt
}

func failureDetail(err error) map[string]string {
	extra := map[string]string{"error": err.Error()}
	switch {
	case gateerrors.Reason(err) != "":
		extra["reason"] = string(gateerrors.Reason(err))
	case errors.Is(err, gateerrors.ErrStore):
		extra["reason"] = "store_unavailable"
	default:
		extra["reason"] = "internal_error"
	}
	return extra
}

// asStoreError keeps a backing store failure distinguishable from an
// unauthenticated caller even when the store returned a bare error.
func asStoreError(op string, err error) error {
	if errors.Is(err, gateerrors.ErrStore) {
		return err
	}
	log.Debug().Err(err).Str("op", op).Msg("gate: store returned an untyped error")
	return gateerrors.NewStoreError(op, err)
}
