package config

import (
	"fmt"
	"strings"
)

type EnvVars struct {
	Port      string `env:"PORT" envDefault:"3000"`
	AppName   string `env:"APP_NAME" envDefault:"OIDC Login Gate"`
	Env       string `env:"ENV" envDefault:"DEV"`
	BaseURL   string `env:"BASE_URL"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT"`
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetPort() string {
	port := e.Port
	if port == "" {
		port = "3000"
	}
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (e EnvVars) GetAppName() string {
	return e.AppName
}

func (e EnvVars) GetEnv() string {
	if e.Env == "" {
		return "DEV"
	}
	return e.Env
}

// GetBaseURL returns the external URL of this service (e.g., "https://app.example.com").
// Callback and logout return URLs default to paths under it.
func (e EnvVars) GetBaseURL() string {
	if e.BaseURL == "" {
		return "http://localhost" + e.GetPort()
	}
	return strings.TrimSuffix(e.BaseURL, "/")
}

func (e EnvVars) GetLogLevel() string {
	return e.LogLevel
}

// GetLogFormat is "console" in DEV and "json" elsewhere unless LOG_FORMAT is set.
func (e EnvVars) GetLogFormat() string {
	if e.LogFormat != "" {
		return e.LogFormat
	}
	if e.GetEnv() == "DEV" {
		return "console"
	}
	return "json"
}
