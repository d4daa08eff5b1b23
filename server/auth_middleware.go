package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/jrsteele09/go-oidc-gate/sessions"
	"github.com/rs/zerolog/log"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeySession stores the *sessions.Record granted by the gate
	ContextKeySession ContextKey = "session"
	// ContextKeyUserID stores the authenticated subject
	ContextKeyUserID ContextKey = "user_id"
)

// RequireSessionAuth asks the gate for the session of the request and only
// calls next with a valid record in the context.
func (s *Server) RequireSessionAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			record, err := s.gate.RequireSession(r.Context(), s.requestInfo(r), s.sessionID(r))
			if err != nil {
				if gateerrors.Is(err, gateerrors.ErrUnauthenticated) {
					clearCookie(w, r, sessionCookieName)
				}
				s.handleGateError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySession, record)
			ctx = context.WithValue(ctx, ContextKeyUserID, record.Claims.Subject)
			next(w, r.WithContext(ctx))
		}
	}
}

// sessionFromContext returns the record injected by RequireSessionAuth
func sessionFromContext(ctx context.Context) (*sessions.Record, bool) {
	record, ok := ctx.Value(ContextKeySession).(*sessions.Record)
	return record, ok && record != nil
}

func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") || strings.Contains(r.Header.Get("Accept"), "application/json")
}

// handleGateError maps gate error kinds onto responses. Nothing on these
// paths renders protected content.
func (s *Server) handleGateError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case gateerrors.Is(err, gateerrors.ErrUnauthenticated):
		if wantsJSON(r) {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Login required")
			return
		}
		redirectSuccess(w, r, RouteLogin+"?return_to="+url.QueryEscape(r.URL.RequestURI()))

	case gateerrors.Is(err, gateerrors.ErrAuth):
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("login rejected")
		redirectWithError(w, r, RouteHome, string(gateerrors.Reason(err)))

	case gateerrors.Is(err, gateerrors.ErrStore):
		log.Error().Err(err).Str("path", r.URL.Path).Msg("session store unavailable")
		if wantsJSON(r) {
			writeJSONError(w, http.StatusServiceUnavailable, "unavailable", "Session store unavailable")
			return
		}
		http.Error(w, "Session store unavailable, please retry", http.StatusServiceUnavailable)

	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		if wantsJSON(r) {
			writeJSONError(w, http.StatusInternalServerError, "server_error", "Internal server error")
			return
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write json response")
	}
}

func writeJSONError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, map[string]string{"error": code, "error_description": description})
}
