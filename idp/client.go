// Package idp is the OpenID Connect relying party side of the login flow:
// discovery, authorization redirects, code exchange and ID token verification.
package idp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/jrsteele09/go-oidc-gate/sessions"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/oauth2"
)

// Tokens is the result of a successful code exchange. Raw is opaque to
// callers and is handed back to EndSessionRedirect on logout.
type Tokens struct {
	Claims sessions.Claims
	Raw    json.RawMessage
}

type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string // registered callback, sent on authorize and on exchange
	Scopes       []string
	SecretKey    []byte       // key material for PKCE verifiers and nonces
	HTTPClient   *http.Client // optional
}

type OidcConfig struct {
	OidcProvider       *oidc.Provider
	OAuth2Config       *oauth2.Config
	OidcVerifier       *oidc.IDTokenVerifier
	EndSessionEndpoint string
}

// OIDCClient talks to one identity provider. Discovery happens on first use
// and is cached; a failed discovery is retried on the next call.
type OIDCClient struct {
	cfg     Config
	flowKey []byte

	oidcConfig *OidcConfig
	oidcLock   sync.RWMutex
}

func New(cfg Config) (*OIDCClient, error) {
	switch {
	case cfg.Issuer == "":
		return nil, fmt.Errorf("[idp New] %w: issuer is required", gateerrors.ErrInvalidConfig)
	case cfg.ClientID == "":
		return nil, fmt.Errorf("[idp New] %w: client id is required", gateerrors.ErrInvalidConfig)
	case cfg.RedirectURL == "":
		return nil, fmt.Errorf("[idp New] %w: redirect url is required", gateerrors.ErrInvalidConfig)
	case len(cfg.SecretKey) == 0:
		return nil, fmt.Errorf("[idp New] %w: secret key is required", gateerrors.ErrInvalidConfig)
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	flowKey := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, cfg.SecretKey, nil, []byte("oidc-gate/flow")), flowKey); err != nil {
		return nil, fmt.Errorf("[idp New] derive flow key: %w", err)
	}
	return &OIDCClient{cfg: cfg, flowKey: flowKey}, nil
}

func (c *OIDCClient) withHTTPClient(ctx context.Context) context.Context {
	if c.cfg.HTTPClient == nil {
		return ctx
	}
	return oidc.ClientContext(ctx, c.cfg.HTTPClient)
}

func (c *OIDCClient) getOidcConfig(ctx context.Context) (*OidcConfig, error) {
	c.oidcLock.RLock()
	config := c.oidcConfig
	c.oidcLock.RUnlock()
	if config != nil {
		return config, nil
	}

	provider, err := oidc.NewProvider(c.withHTTPClient(ctx), c.cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	var metadata struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&metadata); err != nil {
		return nil, fmt.Errorf("failed to read provider metadata: %w", err)
	}

	config = &OidcConfig{
		OidcProvider: provider,
		OAuth2Config: &oauth2.Config{
			ClientID:     c.cfg.ClientID,
			ClientSecret: c.cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  c.cfg.RedirectURL,
			Scopes:       c.cfg.Scopes,
		},
		OidcVerifier: provider.Verifier(&oidc.Config{
			ClientID: c.cfg.ClientID,
		}),
		EndSessionEndpoint: metadata.EndSessionEndpoint,
	}

	c.oidcLock.Lock()
	if c.oidcConfig == nil {
		c.oidcConfig = config
	}
	config = c.oidcConfig
	c.oidcLock.Unlock()

	return config, nil
}

// flowValue derives a per-state secret. The PKCE verifier and the nonce are
// recomputed at callback time instead of being stored.
func (c *OIDCClient) flowValue(purpose, state string) string {
	mac := hmac.New(sha256.New, c.flowKey)
	mac.Write([]byte(purpose))
	mac.Write([]byte{0})
	mac.Write([]byte(state))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// AuthorizationRedirect returns the provider URL that starts the login for state.
func (c *OIDCClient) AuthorizationRedirect(ctx context.Context, state string) (string, error) {
	if state == "" {
		return "", errors.New("[idp AuthorizationRedirect] state is required")
	}
	config, err := c.getOidcConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("[idp AuthorizationRedirect] %w", err)
	}

	return config.OAuth2Config.AuthCodeURL(
		state,
		oauth2.S256ChallengeOption(c.flowValue("pkce", state)),
		oidc.Nonce(c.flowValue("nonce", state)),
	), nil
}

// ExchangeCode redeems an authorization code and verifies the returned ID token.
// Every failure is an *errors.AuthError.
func (c *OIDCClient) ExchangeCode(ctx context.Context, code, state string) (Tokens, error) {
	if code == "" {
		return Tokens{}, gateerrors.NewAuthError(gateerrors.ReasonMissingCode, nil)
	}
	config, err := c.getOidcConfig(ctx)
	if err != nil {
		return Tokens{}, exchangeError(ctx, err)
	}

	oauth2Token, err := config.OAuth2Config.Exchange(
		c.withHTTPClient(ctx),
		code,
		oauth2.VerifierOption(c.flowValue("pkce", state)),
	)
	if err != nil {
		return Tokens{}, exchangeError(ctx, fmt.Errorf("token exchange failed: %w", err))
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Tokens{}, exchangeError(ctx, errors.New("no id_token in token response"))
	}

	idToken, err := config.OidcVerifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Tokens{}, exchangeError(ctx, fmt.Errorf("id token verification failed: %w", err))
	}

	var claims struct {
		Nonce   string `json:"nonce"`
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return Tokens{}, exchangeError(ctx, fmt.Errorf("failed to extract claims: %w", err))
	}

	// Validate nonce to prevent replay attacks
	if !hmac.Equal([]byte(claims.Nonce), []byte(c.flowValue("nonce", state))) {
		return Tokens{}, gateerrors.NewAuthError(gateerrors.ReasonExchangeFailed, gateerrors.ErrNonceMismatch)
	}
	if claims.Sub == "" {
		return Tokens{}, gateerrors.NewAuthError(gateerrors.ReasonMissingClaim, gateerrors.Wrapf(gateerrors.ErrMissingClaim, "id token: sub"))
	}

	var all map[string]any
	if err := idToken.Claims(&all); err != nil {
		return Tokens{}, exchangeError(ctx, fmt.Errorf("failed to extract claims: %w", err))
	}

	raw, err := json.Marshal(tokenSet{
		AccessToken:  oauth2Token.AccessToken,
		TokenType:    oauth2Token.TokenType,
		RefreshToken: oauth2Token.RefreshToken,
		Expiry:       oauth2Token.Expiry,
		IDToken:      rawIDToken,
	})
	if err != nil {
		return Tokens{}, exchangeError(ctx, fmt.Errorf("encode tokens: %w", err))
	}

	return Tokens{
		Claims: sessions.Claims{
			Subject:   claims.Sub,
			Email:     claims.Email,
			Name:      claims.Name,
			Picture:   claims.Picture,
			ExpiresAt: idToken.Expiry,
			Extra:     extraClaims(all),
		},
		Raw: raw,
	}, nil
}

// EndSessionRedirect returns where the browser goes to end the provider
// session. Without a discovered end_session_endpoint it falls back to the
// Auth0 logout URL: <issuer>/v2/logout?returnTo=..&client_id=..
func (c *OIDCClient) EndSessionRedirect(ctx context.Context, returnURI string, rawToken json.RawMessage) (string, error) {
	endpoint := ""
	if config, err := c.getOidcConfig(ctx); err != nil {
		log.Warn().Err(err).Msg("idp: discovery failed, using fallback logout url")
	} else {
		endpoint = config.EndSessionEndpoint
	}

	if endpoint == "" {
		q := url.Values{}
		q.Set("returnTo", returnURI)
		q.Set("client_id", c.cfg.ClientID)
		return strings.TrimSuffix(c.cfg.Issuer, "/") + "/v2/logout?" + q.Encode(), nil
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("[idp EndSessionRedirect] invalid end_session_endpoint: %w", err)
	}
	q := u.Query()
	q.Set("post_logout_redirect_uri", returnURI)
	q.Set("client_id", c.cfg.ClientID)
	if hint := idTokenHint(rawToken); hint != "" {
		q.Set("id_token_hint", hint)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type tokenSet struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	IDToken      string    `json:"id_token"`
}

func idTokenHint(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var ts tokenSet
	if err := json.Unmarshal(raw, &ts); err != nil {
		return ""
	}
	return ts.IDToken
}

// Registered claims already carried by sessions.Claims or meaningless after verification
var skippedClaims = map[string]struct{}{
	"sub": {}, "email": {}, "name": {}, "picture": {}, "nonce": {},
	"iss": {}, "aud": {}, "exp": {}, "iat": {}, "nbf": {}, "azp": {}, "at_hash": {}, "c_hash": {}, "sid": {},
}

func extraClaims(all map[string]any) map[string]any {
	extra := make(map[string]any)
	for k, v := range all {
		if _, skip := skippedClaims[k]; !skip {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

func exchangeError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return gateerrors.NewAuthError(gateerrors.ReasonCancelled, errors.Join(ctx.Err(), err))
	}
	return gateerrors.NewAuthError(gateerrors.ReasonExchangeFailed, err)
}
