package server

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-oidc-gate/gate"
	"github.com/jrsteele09/go-oidc-gate/sessions"
	"golang.org/x/crypto/hkdf"
)

const (
	// sessionCookieName carries the signed session ID of a logged in browser
	sessionCookieName = "gate_session"
	// stateCookieName binds a pending login's state to the browser that started it
	stateCookieName = "gate_login_state"

	cookiePurposeSession = "session"
	cookiePurposeState   = "state"
)

var errCookiePurpose = errors.New("cookie purpose mismatch")

// cookieCodec signs cookie values as HS256 JWTs under a key derived from the
// application secret.
type cookieCodec struct {
	key []byte
}

type cookieClaims struct {
	Value   string `json:"v"`
	Purpose string `json:"typ"`
	jwt.RegisteredClaims
}

func newCookieCodec(secret []byte) (*cookieCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret is required")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("oidc-gate/cookie")), key); err != nil {
		return nil, fmt.Errorf("derive cookie key: %w", err)
	}
	return &cookieCodec{key: key}, nil
}

func (c *cookieCodec) encode(purpose, value string, now, expiresAt time.Time) (string, error) {
	claims := cookieClaims{
		Value:   value,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if !expiresAt.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(expiresAt)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
}

func (c *cookieCodec) decode(purpose, raw string, now time.Time) (string, error) {
	var claims cookieClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return "", err
	}
	if claims.Purpose != purpose {
		return "", errCookiePurpose
	}
	return claims.Value, nil
}

func (s *Server) setSignedCookie(w http.ResponseWriter, r *http.Request, name, purpose, value string, expiresAt time.Time, sameSite http.SameSite) error {
	now := s.now()
	signed, err := s.cookies.encode(purpose, value, now, expiresAt)
	if err != nil {
		return err
	}

	cookie := &http.Cookie{
		Name:     name,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: sameSite,
	}
	if !expiresAt.IsZero() {
		cookie.MaxAge = max(int(expiresAt.Sub(now).Seconds()), 1)
	}
	http.SetCookie(w, cookie)
	return nil
}

// readSignedCookie returns "" for a missing, tampered or expired cookie
func (s *Server) readSignedCookie(r *http.Request, name, purpose string) string {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return ""
	}
	value, err := s.cookies.decode(purpose, cookie.Value, s.now())
	if err != nil {
		return ""
	}
	return value
}

func clearCookie(w http.ResponseWriter, r *http.Request, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   getScheme(r) == "https",
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func (s *Server) SetLoginSessionCookie(w http.ResponseWriter, r *http.Request, record *sessions.Record) error {
	return s.setSignedCookie(w, r, sessionCookieName, cookiePurposeSession, record.ID, record.ExpiresAt, http.SameSiteLaxMode)
}

// SetLoginStateCookie binds the pending state to the browser. Over https it
// is SameSite=None so that the provider's cross-site form_post to /callback
// carries it; browsers drop None cookies that are not Secure, so plain http
// (local development) falls back to Lax and supports the query response mode only.
func (s *Server) SetLoginStateCookie(w http.ResponseWriter, r *http.Request, start *gate.LoginStart) error {
	return s.setSignedCookie(w, r, stateCookieName, cookiePurposeState, start.State, start.ExpiresAt, stateCookieSameSite(r))
}

func stateCookieSameSite(r *http.Request) http.SameSite {
	if getScheme(r) == "https" {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (s *Server) sessionID(r *http.Request) string {
	return s.readSignedCookie(r, sessionCookieName, cookiePurposeSession)
}

func (s *Server) loginState(r *http.Request) string {
	return s.readSignedCookie(r, stateCookieName, cookiePurposeState)
}

// sourceIP is the client address as seen through the configured trusted
// proxies. See clientIP.
func (s *Server) sourceIP(r *http.Request) string {
	return clientIP(r, s.trustedProxies)
}

// clientIP returns the connection peer unless the peer is a trusted proxy.
// Then X-Forwarded-For is walked from the right and the first hop that is
// not itself trusted is the client. Hops further left are caller supplied
// and never used.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil {
		return host
	}
	peer = peer.Unmap()
	if !isTrusted(peer, trusted) {
		return peer.String()
	}

	client := peer
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		client = hop.Unmap()
		if !isTrusted(client, trusted) {
			break
		}
	}
	return client.String()
}

func isTrusted(addr netip.Addr, trusted []netip.Prefix) bool {
	for _, prefix := range trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func (s *Server) requestInfo(r *http.Request) gate.RequestInfo {
	return gate.RequestInfo{
		SourceIP:  s.sourceIP(r),
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
	}
}

// sanitizeReturnTo only accepts local absolute paths, so a login can never
// be bounced to another site.
func sanitizeReturnTo(raw string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return RouteHome
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return RouteHome
	}
	return u.RequestURI()
}

// redirectSuccess helper for htmx-aware success redirects
func redirectSuccess(w http.ResponseWriter, r *http.Request, path string) {
	if isHTMXRequest(r) {
		w.Header().Set("HX-Redirect", path)
		w.WriteHeader(http.StatusNoContent) // 204 - no content, just redirect instruction
		return
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// redirectWithError helper for htmx-aware error redirects
func redirectWithError(w http.ResponseWriter, r *http.Request, path, errorMsg string) {
	redirectSuccess(w, r, path+"?error="+url.QueryEscape(errorMsg))
}

// isHTMXRequest checks if the request was initiated by HTMX
func isHTMXRequest(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
