// Package web provides the HTTP server: a JSON API over topics and runs,
// streamed CSV downloads, and a small HTML catalog browser.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/openpdi/internal/config"
	"github.com/JonMunkholm/openpdi/internal/logging"
	"github.com/JonMunkholm/openpdi/internal/service"
	mw "github.com/JonMunkholm/openpdi/internal/web/middleware"
)

// Options configure a Server. Zero values select defaults.
type Options struct {
	Server             config.ServerConfig
	Rate               config.RateLimitConfig
	Security           config.SecurityConfig
	DefaultDestination string            // Export destination when a request names none
	Destinations       map[string]string // Export destinations a request may name
}

// Server is the HTTP server.
type Server struct {
	service   *service.Service
	scheduler *service.Scheduler // nil when no jobs are configured
	opts      Options
	router    *chi.Mux
	server    *http.Server
	limiter   *rateLimiter
}

// NewServer creates a Server. scheduler may be nil.
func NewServer(svc *service.Service, scheduler *service.Scheduler, opts Options) *Server {
	if opts.Server.RequestTimeout <= 0 {
		opts.Server.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		service:   svc,
		scheduler: scheduler,
		opts:      opts,
		router:    chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.opts.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	if s.opts.Rate.Enabled && s.opts.Rate.RequestsPerMinute > 0 {
		s.limiter = newRateLimiter(s.opts.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(s.limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
//
// Downloads and exports are bounded by the run timeout, not the request
// timeout, so they sit outside the timeout group.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.Server.RequestTimeout))
		r.Use(middleware.Compress(5))

		// Pages
		r.Get("/", s.handleDashboard)
		r.Get("/topics/{topic}", s.handleTopicPage)

		r.Route("/api", func(r chi.Router) {
			r.Get("/topics", s.handleListTopics)
			r.Get("/topics/{topic}", s.handleDataset)
			r.Get("/topics/{topic}/coverage", s.handleCoverage)
			r.Get("/topics/{topic}/links", s.handleLinks)
			r.Get("/topics/{topic}/preview", s.handlePreview)

			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{id}", s.handleGetRun)
			r.Get("/status", s.handleStatus)
			r.Get("/schedule", s.handleListJobs)
		})
	})

	s.router.Get("/api/topics/{topic}/download", s.handleDownload)

	s.router.Group(func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.opts.Security))
		r.Post("/api/topics/{topic}/export", s.handleExport)
		r.Post("/api/schedule/{name}/run", s.handleRunJob)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.Server.ReadTimeout,
		WriteTimeout: s.opts.Server.WriteTimeout,
		IdleTimeout:  s.opts.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.stop()
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON and writes it to w.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("json encode error", "error", err)
	}
}
