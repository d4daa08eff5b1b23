package server

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/jrsteele09/go-oidc-gate/gate"
	"github.com/jrsteele09/go-oidc-gate/internal/config"
	"github.com/rs/zerolog/log"
)

type Server struct {
	env       string // Environment (e.g., "DEV", "PROD")
	mux       *http.ServeMux
	routes    []string
	config    config.Config
	gate      *gate.Gate
	cookies   *cookieCodec
	limiter   *ipRateLimiter
	templates *template.Template
	now       func() time.Time

	// peers allowed to set X-Forwarded-For
	trustedProxies []netip.Prefix
}

type Option func(*Server)

// WithClock overrides the clock used for cookies and the health timestamp
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

func New(cfg config.Config, g *gate.Gate, opts ...Option) (*Server, error) {
	if g == nil {
		return nil, errors.New("[Server New] gate is required")
	}

	cookies, err := newCookieCodec(cfg.GetAppSecretKey())
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to create cookie codec: %w", err)
	}

	templates, err := ParseTemplates()
	if err != nil {
		return nil, fmt.Errorf("[Server New] failed to parse templates: %w", err)
	}

	s := &Server{
		env:       cfg.GetEnv(),
		mux:       http.NewServeMux(),
		config:    cfg,
		gate:      g,
		cookies:   cookies,
		templates: templates,
		now:       time.Now,

		trustedProxies: cfg.GetTrustedProxies(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = newIPRateLimiter(cfg.GetLoginRatePerMinute(), cfg.GetLoginRateBurst(), s.now)

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

var methodColors = map[string]string{
	"GET":  "\033[32m",
	"POST": "\033[34m",
}

const (
	grayColor  = "\033[90m"
	resetColor = "\033[0m"
)

func logRoute(method, path string) {
	color, ok := methodColors[method]
	if !ok {
		color = grayColor
	}
	log.Info().Msgf("[%s %-7s%s] %s", color, method, resetColor, path)
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
