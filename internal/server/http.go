package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/windfall/prosody_service/internal/config"
	httphandler "github.com/windfall/prosody_service/internal/handler/http"
	"github.com/windfall/prosody_service/internal/metrics"
	"github.com/windfall/prosody_service/internal/middleware"
	"github.com/windfall/prosody_service/pkg/response"
)

// HTTPOptions are the optional HTTP collaborators.
type HTTPOptions struct {
	// Validator enables bearer auth on /api/v1 when set.
	Validator middleware.TokenValidator
	// Limiter enables rate limiting on the analysis routes when set.
	Limiter middleware.Limiter
	Metrics *metrics.Metrics
}

// HTTPServer represents the HTTP server.
type HTTPServer struct {
	server *http.Server
	log    zerolog.Logger
}

// NewHTTPServer creates a new HTTP server.
func NewHTTPServer(
	cfg *config.Config,
	log zerolog.Logger,
	healthHandler *httphandler.HealthHandler,
	prosodyHandler *httphandler.ProsodyHandler,
	opts HTTPOptions,
) *HTTPServer {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   cfg.CORSAllowedMethods,
		AllowedHeaders:   cfg.CORSAllowedHeaders,
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.MethodNotAllowed(w, "method not allowed")
	})

	// Health endpoints (public)
	r.Get("/", healthHandler.Root)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/live", healthHandler.Live)
	r.Handle("/metrics", opts.Metrics.Handler())

	limit := func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(middleware.RateLimit(opts.Limiter, opts.Metrics, log))
		}
	}

	// Bare analysis documents, as served before the v1 API
	r.Route("/prosody", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(cfg.RequestTimeout))
		limit(r)
		r.Post("/analyze", prosodyHandler.LegacyAnalyze)
		r.Post("/compare", prosodyHandler.LegacyCompare)
	})

	// API routes
	r.Route("/api/v1/prosody", func(r chi.Router) {
		r.Get("/analyze", prosodyHandler.Describe)

		r.Group(func(r chi.Router) {
			if opts.Validator != nil {
				r.Use(middleware.Auth(opts.Validator))
			}
			r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

			r.Get("/attempts", prosodyHandler.ListAttempts)
			r.Get("/attempts/{id}", prosodyHandler.GetAttempt)

			r.Group(func(r chi.Router) {
				limit(r)
				r.Post("/analyze", prosodyHandler.Analyze)
				r.Post("/compare", prosodyHandler.Compare)
			})
		})
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddress(),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &HTTPServer{
		server: server,
		log:    log,
	}
}

// Handler returns the router.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
