// Package web provides the HTTP API for reviewing deduplicated datasets.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/dedupeit/internal/config"
	"github.com/JonMunkholm/dedupeit/internal/core"
	"github.com/JonMunkholm/dedupeit/internal/web/middleware"
)

// Server is the HTTP server for the dedupe review API.
type Server struct {
	cfg        *config.Config
	orch       *core.Orchestrator
	history    core.RunLister
	expansions *ExpansionStore
	router     *chi.Mux
	server     *http.Server
}

// NewServer creates a Server. history may be nil when no database is configured.
func NewServer(cfg *config.Config, orch *core.Orchestrator, history core.RunLister) *Server {
	s := &Server{
		cfg:        cfg,
		orch:       orch,
		history:    history,
		expansions: NewExpansionStore(cfg.View.ExpansionTTL, cfg.View.CleanupInterval),
		router:     chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	// Security hardening
	s.router.Use(s.securityHeaders)

	// Rate limiting: requests per minute per IP
	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, s.cfg.Rate.Burst)
		s.router.Use(limiter.middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Health check (no auth)
	s.router.Get("/health", s.handleHealth)

	// API routes
	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))

		// Event stream is long-lived and must not sit behind the request timeout
		r.Get("/dataset/events", s.handleDatasetEvents)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))

			// Upload gets its own, stricter limit
			upload := r.With()
			if s.cfg.Rate.Enabled {
				uploadLimiter := newRateLimiter(s.cfg.Rate.UploadLimit, 1)
				upload = r.With(uploadLimiter.middleware)
			}
			upload.Post("/datasets", s.handleSubmitDataset)

			// Current dataset
			r.Get("/dataset", s.handleGetDataset)

			// Table view
			r.Get("/dataset/rows", s.handleRows)
			r.Post("/dataset/groups/{groupID}/toggle", s.handleToggleGroup)
			r.Get("/dataset/records/{recordID}/cells/{column}", s.handleCell)
			// Summary and export
			r.Get("/dataset/summary", s.handleSummary)
			r.Get("/dataset/export", s.handleExport)

			// Run history
			r.Get("/runs", s.handleRuns)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	sc := s.cfg.Server
	s.server = &http.Server{
		Addr:         sc.Addr(),
		Handler:      s.router,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout, // 0 keeps SSE streams open
		IdleTimeout:  sc.IdleTimeout,
	}

	slog.Info("starting server", "addr", sc.Addr())
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if ds := s.orch.Current(); ds != nil {
		resp["dataset_status"] = ds.Status
	}
	writeJSON(w, http.StatusOK, resp)
}

// securityHeaders adds security headers to all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent MIME type sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Control referrer information
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		// Content Security Policy - the API serves no documents
		if s.cfg.Security.EnableCSP {
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
