// Package oidctest runs an in-process OpenID Connect provider for tests. It
// serves discovery, JWKS and a token endpoint, and signs ID tokens with RS256.
package oidctest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const keyID = "oidctest-key"

// Identity is what the provider asserts for an authorization code
type Identity struct {
	Subject string
	Email   string
	Name    string
	Extra   map[string]any
}

type Provider struct {
	ClientID     string
	ClientSecret string

	server *httptest.Server
	key    *rsa.PrivateKey

	mu              sync.Mutex
	codes           map[string]issuedCode
	withEndSession  bool
	nonceOverride   *string
	tokenExpiry     time.Duration
	discoveries     int
	tokenRequests   int
	lastTokenParams url.Values
}

type issuedCode struct {
	identity      Identity
	nonce         string
	codeChallenge string
}

// New starts a provider; it is shut down by t.Cleanup.
func New(t testing.TB, withEndSession bool) *Provider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("oidctest: generate key: %v", err)
	}

	p := &Provider{
		ClientID:       "test-client",
		ClientSecret:   "test-secret",
		key:            key,
		codes:          make(map[string]issuedCode),
		withEndSession: withEndSession,
		tokenExpiry:    time.Hour,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", p.discovery)
	mux.HandleFunc("GET /jwks", p.jwks)
	mux.HandleFunc("POST /oauth/token", p.token)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)

	return p
}

// Issuer is the provider base URL, as it appears in discovery and in tokens
func (p *Provider) Issuer() string {
	return p.server.URL
}

// Authorize plays the provider's login page: it takes an authorization URL
// built by the client and issues code for identity. It returns the state.
func (p *Provider) Authorize(authURL, code string, identity Identity) (string, error) {
	u, err := url.Parse(authURL)
	if err != nil {
		return "", err
	}
	q := u.Query()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes[code] = issuedCode{
		identity:      identity,
		nonce:         q.Get("nonce"),
		codeChallenge: q.Get("code_challenge"),
	}
	return q.Get("state"), nil
}

// OverrideNonce makes following ID tokens carry nonce instead of the requested one
func (p *Provider) OverrideNonce(nonce string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonceOverride = &nonce
}

func (p *Provider) Discoveries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveries
}

func (p *Provider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

func (p *Provider) LastTokenParams() url.Values {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastTokenParams
}

func (p *Provider) discovery(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	p.discoveries++
	p.mu.Unlock()

	doc := map[string]any{
		"issuer":                                p.Issuer(),
		"authorization_endpoint":                p.Issuer() + "/authorize",
		"token_endpoint":                        p.Issuer() + "/oauth/token",
		"jwks_uri":                              p.Issuer() + "/jwks",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
	}
	if p.withEndSession {
		doc["end_session_endpoint"] = p.Issuer() + "/logout"
	}
	writeJSON(w, http.StatusOK, doc)
}

func (p *Provider) jwks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": keyID,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(p.key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(p.key.E)).Bytes()),
		}},
	})
}

func (p *Provider) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	p.mu.Lock()
	p.tokenRequests++
	p.lastTokenParams = r.PostForm
	issued, ok := p.codes[r.PostForm.Get("code")]
	delete(p.codes, r.PostForm.Get("code"))
	nonceOverride := p.nonceOverride
	p.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
		return
	}
	if !p.clientAuthenticated(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}
	if !verifierMatches(r.PostForm.Get("code_verifier"), issued.codeChallenge) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "pkce"})
		return
	}

	nonce := issued.nonce
	if nonceOverride != nil {
		nonce = *nonceOverride
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":   p.Issuer(),
		"aud":   p.ClientID,
		"iat":   now.Unix(),
		"exp":   now.Add(p.tokenExpiry).Unix(),
		"nonce": nonce,
	}
	if issued.identity.Subject != "" {
		claims["sub"] = issued.identity.Subject
	}
	if issued.identity.Email != "" {
		claims["email"] = issued.identity.Email
	}
	if issued.identity.Name != "" {
		claims["name"] = issued.identity.Name
	}
	for k, v := range issued.identity.Extra {
		claims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	idToken, err := token.SignedString(p.key)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  "access-" + issued.identity.Subject,
		"token_type":    "Bearer",
		"expires_in":    int(p.tokenExpiry.Seconds()),
		"refresh_token": "refresh-" + issued.identity.Subject,
		"id_token":      idToken,
	})
}

func (p *Provider) clientAuthenticated(r *http.Request) bool {
	if id, secret, ok := r.BasicAuth(); ok {
		id, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(secret)
		return id == p.ClientID && secret == p.ClientSecret
	}
	return r.PostForm.Get("client_id") == p.ClientID && r.PostForm.Get("client_secret") == p.ClientSecret
}

func verifierMatches(verifier, challenge string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]) == challenge
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
