package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/jrsteele09/go-oidc-gate/sessions"
	"github.com/rs/zerolog/log"
)

// HomePageData is rendered by home.html
type HomePageData struct {
	AppName  string
	LoggedIn bool
	Claims   sessions.Claims
	Pretty   string
	Error    string
}

// HomeHandler renders the home page. It shows the session claims when there
// is a session but never grants access, so it uses the silent lookup.
func (s *Server) HomeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := HomePageData{
			AppName: s.config.GetAppName(),
			Error:   r.URL.Query().Get("error"),
		}

		record, err := s.gate.Session(r.Context(), s.sessionID(r))
		switch {
		case err == nil:
			data.LoggedIn = true
			data.Claims = record.Claims
			data.Pretty = prettyClaims(record.Claims)
		case gateerrors.Is(err, gateerrors.ErrUnauthenticated):
			// anonymous visitor
		default:
			s.handleGateError(w, r, err)
			return
		}

		s.render(w, "home.html", data)
	}
}

// ProtectedPageData is rendered by protected.html
type ProtectedPageData struct {
	AppName          string
	Claims           sessions.Claims
	SessionExpiresAt time.Time
}

// ProtectedHandler renders the session claims. It is only reachable through
// RequireSessionAuth.
func (s *Server) ProtectedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, ok := sessionFromContext(r.Context())
		if !ok {
			s.handleGateError(w, r, gateerrors.ErrUnauthenticated)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		s.render(w, "protected.html", ProtectedPageData{
			AppName:          s.config.GetAppName(),
			Claims:           record.Claims,
			SessionExpiresAt: record.ExpiresAt,
		})
	}
}

type meResponse struct {
	Subject          string         `json:"sub"`
	Email            string         `json:"email,omitempty"`
	Name             string         `json:"name,omitempty"`
	Picture          string         `json:"picture,omitempty"`
	ExpiresAt        *time.Time     `json:"expires_at,omitempty"`
	SessionExpiresAt *time.Time     `json:"session_expires_at,omitempty"`
	Extra            map[string]any `json:"extra,omitempty"`
}

// APIMeHandler returns the claims of the current session as JSON
func (s *Server) APIMeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		record, ok := sessionFromContext(r.Context())
		if !ok {
			s.handleGateError(w, r, gateerrors.ErrUnauthenticated)
			return
		}

		writeJSON(w, http.StatusOK, meResponse{
			Subject:          record.Claims.Subject,
			Email:            record.Claims.Email,
			Name:             record.Claims.Name,
			Picture:          record.Claims.Picture,
			ExpiresAt:        timeOrNil(record.Claims.ExpiresAt),
			SessionExpiresAt: timeOrNil(record.ExpiresAt),
			Extra:            record.Claims.Extra,
		})
	}
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Service   string `json:"service"`
}

// HealthHandler needs no session and has no side effects
func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Status:    "healthy",
			Timestamp: s.now().UTC().Format(time.RFC3339),
			Service:   s.config.GetAppName(),
		})
	}
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		log.Error().Err(err).Str("template", name).Msg("failed to render template")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func prettyClaims(claims sessions.Claims) string {
	pretty, err := json.MarshalIndent(claims, "", "    ")
	if err != nil {
		return ""
	}
	return string(pretty)
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
