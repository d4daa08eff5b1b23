package server

import (
	"net/http"

	"github.com/jrsteele09/go-oidc-gate/gate"
	"github.com/rs/zerolog/log"
)

func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// r.FormValue works for both query params and POST form data (form_post response mode)
		params := gate.CallbackParams{
			Code:             r.FormValue("code"),
			State:            r.FormValue("state"),
			ExpectedState:    s.loginState(r),
			Error:            r.FormValue("error"),
			ErrorDescription: r.FormValue("error_description"),
		}

		// The state cookie is single use whatever the outcome
		clearCookie(w, r, stateCookieName)

		result, err := s.gate.CompleteLogin(r.Context(), s.requestInfo(r), params)
		if err != nil {
			s.handleGateError(w, r, err)
			return
		}

		if err := s.SetLoginSessionCookie(w, r, result.Session); err != nil {
			log.Error().Err(err).Msg("failed to sign session cookie")
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		redirectSuccess(w, r, sanitizeReturnTo(result.ReturnTo))
	}
}
