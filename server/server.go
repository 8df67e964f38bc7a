// Package server exposes the subscription lifecycle over HTTP.
package server

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"

	"x-notify/pkg/notifier"
)

//go:embed tmpl/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "tmpl/*.tmpl"))

// Lifecycle runs subscription transitions.
type Lifecycle interface {
	Subscribe(ctx context.Context, email, topicID string) notifier.Redirect
	Confirm(ctx context.Context, email, code string) notifier.Redirect
	Unsubscribe(ctx context.Context, email, code string) notifier.Redirect
	FlushCaches(code, code2 string) bool
}

// Config holds server configuration.
type Config struct {
	Lifecycle    Lifecycle
	Metrics      http.Handler // Served at /metrics when set
	Logger       *slog.Logger
	Now          func() time.Time
	KeySalt      string
	ErrorPage    string
	ValidHosts   []string
	RatePerHour  int // Subscribe requests per client IP; 0 disables
	EnableTestUI bool
}

// Server handles HTTP requests.
type Server struct {
	lifecycle    Lifecycle
	metrics      http.Handler
	logger       *slog.Logger
	keys         *keyIssuer
	limiter      *rateLimiter
	errorPage    string
	validHosts   []string
	enableTestUI bool
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	return &Server{
		lifecycle:    cfg.Lifecycle,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		keys:         newKeyIssuer(cfg.KeySalt, cfg.Now),
		limiter:      newRateLimiter(cfg.RatePerHour),
		errorPage:    cfg.ErrorPage,
		validHosts:   cfg.ValidHosts,
		enableTestUI: cfg.EnableTestUI,
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverPanics, s.logRequests)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/api/v0.1/subs", func(r chi.Router) {
		r.Get("/getKey", s.handleGetKey)
		r.Post("/email/add", s.handleAddEmail)
		r.Get("/flush-cache/{accessCode}/{topicId}", s.handleFlushCache)
		if s.enableTestUI {
			r.Get("/test/add", s.handleTestAdd)
		}
	})

	r.Get("/subs/confirm/{subscode}/{email}", s.handleConfirm)
	r.Get("/subs/remove/{subscode}/{email}", s.handleRemove)

	return r
}

// HTTPServer wraps Routes in an http.Server listening on port.
func (s *Server) HTTPServer(port string) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           s.Routes(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) validHost(host string) bool {
	return slices.Contains(s.validHosts, host)
}

// redirect sends the caller to r.URL, falling back to the error page.
func (s *Server) redirect(w http.ResponseWriter, req *http.Request, r notifier.Redirect) {
	target := r.URL
	if target == "" {
		target = s.errorPage
	}
	http.Redirect(w, req, target, http.StatusFound)
}
