package config

import (
	"strings"
)

type OIDCConfig interface {
	GetIssuer() string
	GetClientID() string
	GetClientSecret() string
	GetCallbackURL() string
	GetLogoutReturnURL() string
	GetScopes() []string
}

// OIDC holds the relying party registration with the identity provider.
// The AUTH0_* variables are accepted as fallbacks for the OIDC_* ones.
type OIDC struct {
	Issuer            string   `env:"OIDC_ISSUER"`
	Auth0Domain       string   `env:"AUTH0_DOMAIN"`
	ClientID          string   `env:"OIDC_CLIENT_ID"`
	Auth0ClientID     string   `env:"AUTH0_CLIENT_ID"`
	ClientSecret      string   `env:"OIDC_CLIENT_SECRET"`
	Auth0ClientSecret string   `env:"AUTH0_CLIENT_SECRET"`
	CallbackURL       string   `env:"OIDC_CALLBACK_URL"`
	LogoutReturnURL   string   `env:"OIDC_LOGOUT_RETURN_URL"`
	Scopes            []string `env:"OIDC_SCOPES" envSeparator:"," envDefault:"openid,profile,email"`

	baseURL string
}

var _ OIDCConfig = OIDC{}

// GetIssuer returns OIDC_ISSUER, or the Auth0 tenant issuer "https://<domain>/".
func (o OIDC) GetIssuer() string {
	if o.Issuer != "" {
		return o.Issuer
	}
	if o.Auth0Domain == "" {
		return ""
	}
	domain := strings.TrimSuffix(strings.TrimPrefix(o.Auth0Domain, "https://"), "/")
	return "https://" + domain + "/"
}

func (o OIDC) GetClientID() string {
	return firstNonEmpty(o.ClientID, o.Auth0ClientID)
}

func (o OIDC) GetClientSecret() string {
	return firstNonEmpty(o.ClientSecret, o.Auth0ClientSecret)
}

func (o OIDC) GetCallbackURL() string {
	return firstNonEmpty(o.CallbackURL, o.baseURL+"/callback")
}

func (o OIDC) GetLogoutReturnURL() string {
	return firstNonEmpty(o.LogoutReturnURL, o.baseURL+"/")
}

func (o OIDC) GetScopes() []string {
	scopes := make([]string, 0, len(o.Scopes))
	for _, s := range o.Scopes {
		if s = strings.TrimSpace(s); s != "" {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
