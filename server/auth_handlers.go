package server

import (
	"net/http"

	"github.com/rs/zerolog/log"
)

// LoginHandler starts a login and sends the browser to the identity provider.
// An optional ?return_to= local path is where the callback lands afterwards.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		returnTo := sanitizeReturnTo(r.URL.Query().Get("return_to"))

		start, err := s.gate.StartLogin(r.Context(), s.requestInfo(r), returnTo)
		if err != nil {
			s.handleGateError(w, r, err)
			return
		}

		if err := s.SetLoginStateCookie(w, r, start); err != nil {
			log.Error().Err(err).Msg("failed to sign login state cookie")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		redirectSuccess(w, r, start.RedirectURL)
	}
}

// LogoutHandler ends the local session and sends the browser through the
// provider's logout.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := s.gate.Logout(r.Context(), s.requestInfo(r), s.sessionID(r))
		clearCookie(w, r, sessionCookieName)
		if err != nil {
			s.handleGateError(w, r, err)
			return
		}
		redirectSuccess(w, r, target.RedirectURL)
	}
}
