// Package gate decides whether a request is authenticated and drives the
// login, callback and logout transitions of a browser session.
//
// A session moves Anonymous -> PendingCallback (StartLogin) -> Authenticated
// (CompleteLogin) -> Anonymous (Logout or expiry). A failed callback returns
// to Anonymous without creating anything. RequireSession is the only place
// that grants access.
package gate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-oidc-gate/activity"
	"github.com/jrsteele09/go-oidc-gate/authflow"
	"github.com/jrsteele09/go-oidc-gate/idp"
	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/jrsteele09/go-oidc-gate/internal/utils"
	"github.com/jrsteele09/go-oidc-gate/sessions"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultSessionTTL = 8 * time.Hour
	DefaultPendingTTL = 10 * time.Minute
)

// IdentityProvider is the OpenID Connect client the gate delegates to.
// Protocol details (PKCE, nonce, discovery caching) are its concern.
type IdentityProvider interface {
	AuthorizationRedirect(ctx context.Context, state string) (string, error)
	ExchangeCode(ctx context.Context, code, state string) (idp.Tokens, error)
	EndSessionRedirect(ctx context.Context, returnURI string, rawToken json.RawMessage) (string, error)
}

// RequestInfo enriches the activity events of a call
type RequestInfo struct {
	SourceIP  string
	UserAgent string
	Path      string
}

type LoginStart struct {
	RedirectURL string
	State       string
	ExpiresAt   time.Time
}

// CallbackParams is what the provider sent back plus the state bound to the
// browser when the login started.
type CallbackParams struct {
	Code             string
	State            string
	ExpectedState    string
	Error            string
	ErrorDescription string
}

type LoginResult struct {
	Session  *sessions.Record
	ReturnTo string
}

type LogoutTarget struct {
	RedirectURL string
}

type Gate struct {
	provider IdentityProvider
	store    sessions.Store
	pending  authflow.Repo
	activity *activity.Logger
	tracer   trace.Tracer

	now             func() time.Time
	newID           func() (string, error)
	sessionTTL      time.Duration
	pendingTTL      time.Duration
	logoutReturnURL string
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// WithIDGenerator overrides how states and session IDs are generated
func WithIDGenerator(newID func() (string, error)) Option {
	return func(g *Gate) {
		g.newID = newID
	}
}

// WithSessionTTL caps session lifetime; 0 keeps sessions until the ID token expires or logout.
func WithSessionTTL(ttl time.Duration) Option {
	return func(g *Gate) {
		g.sessionTTL = ttl
	}
}

func WithPendingTTL(ttl time.Duration) Option {
	return func(g *Gate) {
		g.pendingTTL = ttl
	}
}

// WithLogoutReturnURL sets where the provider sends the browser after logout
func WithLogoutReturnURL(url string) Option {
	return func(g *Gate) {
		g.logoutReturnURL = url
	}
}

func New(provider IdentityProvider, store sessions.Store, pending authflow.Repo, logger *activity.Logger, opts ...Option) (*Gate, error) {
	if provider == nil {
		return nil, errors.New("[gate New] identity provider is required")
	}
	if store == nil {
		return nil, errors.New("[gate New] session store is required")
	}
	if pending == nil {
		return nil, errors.New("[gate New] pending login repo is required")
	}

	g := &Gate{
		provider:        provider,
		store:           store,
		pending:         pending,
		activity:        logger,
		tracer:          otel.Tracer("github.com/jrsteele09/go-oidc-gate/gate"),
		now:             time.Now,
		newID:           randomID,
		sessionTTL:      DefaultSessionTTL,
		pendingTTL:      DefaultPendingTTL,
		logoutReturnURL: "/",
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.pendingTTL <= 0 {
		return nil, fmt.Errorf("[gate New] %w: pending login TTL must be positive", gateerrors.ErrInvalidConfig)
	}
	if g.sessionTTL < 0 {
		return nil, fmt.Errorf("[gate New] %w: session TTL must not be negative", gateerrors.ErrInvalidConfig)
	}
	return g, nil
}

func randomID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (g *Gate) record(ctx context.Context, info RequestInfo, t activity.EventType, claims *sessions.Claims, extra map[string]string) {
	event := activity.Event{
		Type:      t,
		Timestamp: g.now().UTC(),
		SourceIP:  info.SourceIP,
		UserAgent: info.UserAgent,
		Path:      info.Path,
		Extra:     extra,
	}
	if claims != nil {
		event.Subject = utils.NonZeroPtr(claims.Subject)
		event.Email = claims.Email
	}
	g.activity.Record(ctx, event)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
