package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-oidc-gate/idp/oidctest"
	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/jrsteele09/go-oidc-gate/server"
	"github.com/jrsteele09/go-oidc-gate/sessions"
	"github.com/stretchr/testify/require"
)

func TestNewStores(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := testConfig(t, nil)
		stores, err := server.NewStores(ctx, cfg)
		require.NoError(t, err)
		require.IsType(t, &sessions.InMemoryStore{}, stores.Sessions)
		require.NoError(t, stores.Close())
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig(t, map[string]string{
			"SESSION_STORE":    "redis",
			"REDIS_ADDR":       mr.Addr(),
			"REDIS_KEY_PREFIX": "test:",
		})
		stores, err := server.NewStores(ctx, cfg)
		require.NoError(t, err)
		defer func() { require.NoError(t, stores.Close()) }()

		record := &sessions.Record{
			ID:        "sid",
			IssuedAt:  time.Now(),
			ExpiresAt: time.Now().Add(time.Hour),
			Claims:    sessions.Claims{Subject: "user-123"},
		}
		require.NoError(t, stores.Sessions.Put(ctx, "sid", record))
		got, err := stores.Sessions.Get(ctx, "sid")
		require.NoError(t, err)
		require.Equal(t, "user-123", got.Claims.Subject)

		keys := mr.Keys()
		require.Len(t, keys, 1)
		require.Contains(t, keys[0], "test:")
	})

	t.Run("redis unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		cfg := testConfig(t, map[string]string{"SESSION_STORE": "redis", "REDIS_ADDR": addr})
		_, err := server.NewStores(ctx, cfg)
		require.ErrorIs(t, err, gateerrors.ErrStore)
	})
}

func TestBootstrap_EndToEnd(t *testing.T) {
	provider := oidctest.New(t, true)
	cfg := testConfig(t, map[string]string{
		"OIDC_ISSUER":        provider.Issuer(),
		"OIDC_CLIENT_ID":     provider.ClientID,
		"OIDC_CLIENT_SECRET": provider.ClientSecret,
	})

	var activityLog bytes.Buffer
	s, closeStores, err := server.Bootstrap(context.Background(), cfg, &activityLog)
	require.NoError(t, err)
	defer func() { require.NoError(t, closeStores()) }()

	serve := func(req *http.Request, cookies ...*http.Cookie) *http.Response {
		for _, c := range cookies {
			req.AddCookie(c)
		}
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		return rec.Result()
	}

	resp := serve(httptest.NewRequest(http.MethodGet, "/login?return_to=/api/me", nil))
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	stateCookie := cookieNamed(resp, "gate_login_state")
	require.NotNil(t, stateCookie)

	state, err := provider.Authorize(resp.Header.Get("Location"), "auth-code", oidctest.Identity{
		Subject: "auth0|42",
		Email:   "jane@example.com",
		Name:    "Jane Doe",
	})
	require.NoError(t, err)

	resp = serve(httptest.NewRequest(http.MethodGet, "/callback?code=auth-code&state="+url.QueryEscape(state), nil), stateCookie)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/api/me", resp.Header.Get("Location"))
	session := cookieNamed(resp, "gate_session")
	require.NotNil(t, session)
	require.Equal(t, "http://localhost:3000/callback", provider.LastTokenParams().Get("redirect_uri"))

	resp = serve(httptest.NewRequest(http.MethodGet, "/api/me", nil), session)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	require.Equal(t, "auth0|42", me["sub"])
	require.Equal(t, "Jane Doe", me["name"])

	resp = serve(httptest.NewRequest(http.MethodGet, "/logout", nil), session)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	logoutURL, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "http://localhost:3000/", logoutURL.Query().Get("post_logout_redirect_uri"))
	require.NotEmpty(t, logoutURL.Query().Get("id_token_hint"))

	resp = serve(httptest.NewRequest(http.MethodGet, "/api/me", nil), session)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Flushes the async activity sink
	require.NoError(t, closeStores())

	var types []string
	scanner := bufio.NewScanner(&activityLog)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		types = append(types, line["event"].(string))
	}
	require.Equal(t, []string{
		"login_attempt",
		"user_login_success",
		"protected_access",
		"logout",
		"unauthorized_access_attempt",
	}, types)
}
