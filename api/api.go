// Package api serves mikoproxy's local HTTP surface: the auth endpoints,
// diagnostics, and the authenticating reverse proxy in front of the ERP.
package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/mikoworkspace/mikoproxy/httpclient"
	"github.com/mikoworkspace/mikoproxy/session"
)

const (
	// ServerName is reported by /health.
	ServerName = "mikoproxy"

	defaultMaxBodyBytes = 256 << 20
)

// Version is reported by /health. Overridden at build time.
var Version = "1.0.0"

// API holds the dependencies needed by the HTTP handlers.
type API struct {
	sessions *session.Store
	targets  *Targets
	upstream string

	client      *http.Client
	proxyClient *http.Client

	maxBodyBytes int64
	ipc          http.Handler

	logger *slog.Logger
	audit  *auditLogger
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request and audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithClient sets the outbound HTTP client. Defaults to httpclient.New with
// the default configuration.
func WithClient(c *http.Client) Option {
	return func(a *API) {
		a.client = c
	}
}

// WithMaxBodyBytes caps inbound bodies read by the proxy.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

// WithIPC mounts h at GET /ipc.
func WithIPC(h http.Handler) Option {
	return func(a *API) {
		a.ipc = h
	}
}

// New creates a new API instance. upstream is the ERP base URL used for
// login and token validation; targets drives the proxy.
func New(sessions *session.Store, targets *Targets, upstream string, opts ...Option) *API {
	a := &API{
		sessions:     sessions,
		targets:      targets,
		upstream:     upstream,
		maxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.client == nil {
		a.client = httpclient.New(httpclient.DefaultConfig())
	}
	a.proxyClient = httpclient.WithoutRedirects(a.client)
	a.audit = newAuditLogger(a.logger)
	a.logger = a.logger.With("component", "api")
	return a
}

// Router returns a chi.Router with every route mounted. Any path not
// matched by a named route goes to the proxy.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(CORS)
	r.Use(a.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Get("/health", a.Health)

	r.Post("/auth/login", a.Login)
	r.Post("/auth/logout", a.Logout)
	r.Get("/auth/status", a.Status)
	r.Get("/auth/validate", a.Validate)
	r.Get("/sessions", a.Sessions)

	if a.ipc != nil {
		r.Method(http.MethodGet, "/ipc", a.ipc)
	}

	r.HandleFunc("/*", a.Proxy)

	return r
}
