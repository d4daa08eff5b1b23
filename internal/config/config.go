package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
)

type Config interface {
	EnvConfig
	CorsConfig
	OIDCConfig
	SecurityConfig
	StoreConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetBaseURL() string
	GetLogLevel() string
	GetLogFormat() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	OIDC
	Security
	Store
}

// New reads the configuration from the process environment.
func New() (Config, error) {
	return parse(env.Options{})
}

// NewFromMap reads the configuration from vars instead of the process
// environment. Variables absent from vars are treated as unset.
func NewFromMap(vars map[string]string) (Config, error) {
	if vars == nil {
		vars = map[string]string{}
	}
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var c mainConfig
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return nil, fmt.Errorf("%w: %v", gateerrors.ErrInvalidConfig, err)
	}
	c.OIDC.baseURL = c.EnvVars.GetBaseURL()
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c mainConfig) validate() error {
	var missing []string
	if c.GetClientID() == "" {
		missing = append(missing, "OIDC_CLIENT_ID")
	}
	if c.GetClientSecret() == "" {
		missing = append(missing, "OIDC_CLIENT_SECRET")
	}
	if c.GetIssuer() == "" {
		missing = append(missing, "OIDC_ISSUER or AUTH0_DOMAIN")
	}
	if c.AppSecretKey == "" {
		missing = append(missing, "APP_SECRET_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", gateerrors.ErrInvalidConfig, strings.Join(missing, ", "))
	}

	if len(c.AppSecretKey) < minSecretKeyLength {
		return fmt.Errorf("%w: APP_SECRET_KEY must be at least %d bytes", gateerrors.ErrInvalidConfig, minSecretKeyLength)
	}
	switch c.GetSessionBackend() {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("%w: unknown SESSION_STORE %q", gateerrors.ErrInvalidConfig, c.Backend)
	}
	if c.GetSessionTTL() <= 0 {
		return fmt.Errorf("%w: SESSION_TTL must be positive", gateerrors.ErrInvalidConfig)
	}
	if c.GetPendingLoginTTL() <= 0 {
		return fmt.Errorf("%w: PENDING_LOGIN_TTL must be positive", gateerrors.ErrInvalidConfig)
	}
	if _, err := parseTrustedProxies(c.TrustedProxies); err != nil {
		return fmt.Errorf("%w: %v", gateerrors.ErrInvalidConfig, err)
	}
	return nil
}
