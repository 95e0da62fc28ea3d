// Package api exposes the threat service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lvonguyen/threatpulse/internal/config"
	"github.com/lvonguyen/threatpulse/internal/observability"
	"github.com/lvonguyen/threatpulse/internal/scoring"
	"github.com/lvonguyen/threatpulse/internal/service"
)

// Backend answers the queries the API serves. *service.Service implements it.
type Backend interface {
	Threat(ctx context.Context, req service.ThreatRequest) (*service.ThreatResponse, error)
	Matrix(ctx context.Context, target string) (*service.MatrixResponse, error)
	Protests(ctx context.Context, days int) (*service.ProtestResponse, error)
	Quota(ctx context.Context) (*service.QuotaResponse, error)
	Targets() []string
}

// Pinger reports whether a backing dependency is reachable.
type Pinger func(ctx context.Context) error

// Options are the optional collaborators of a Server.
type Options struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	// Ready is checked by /ready. Nil means always ready.
	Ready   Pinger
	Version string
}

// Server is the HTTP boundary.
type Server struct {
	backend  Backend
	config   config.ServerConfig
	logger   *zap.Logger
	metrics  *observability.Metrics
	ready    Pinger
	version  string
	validate *validator.Validate
	limiter  *RateLimiter
}

// NewServer creates a server over backend.
func NewServer(backend Backend, cfg config.ServerConfig, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &Server{
		backend: backend,
		config:  cfg,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		ready:   opts.Ready,
		version: opts.Version,
	}
	s.validate = newValidator(backend.Targets())
	if cfg.RateLimit.Enabled {
		s.limiter = NewRateLimiter(cfg.RateLimit, opts.Logger.Named("ratelimit"))
	}
	return s
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.config.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.RequestTimeout))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Get("/targets", s.handleTargets)
		r.Get("/threat/{target}", s.handleThreat)
		r.Get("/matrix/{target}", s.handleMatrix)
		r.Get("/protests", s.handleProtests)
		r.Get("/quota", s.handleQuota)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// requestLogger logs and measures every request by its route pattern.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.metrics.ObserveRequest(r.Method, route, status, elapsed)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("remote", r.RemoteAddr),
		}
		switch {
		case status >= 500:
			s.logger.Error("Request failed", fields...)
		case status >= 400:
			s.logger.Warn("Request rejected", fields...)
		default:
			s.logger.Info("Request served", fields...)
		}
	})
}

// newValidator registers the target and window rules used by request
// parameters.
func newValidator(targets []string) *validator.Validate {
	known := make(map[string]bool, len(targets))
	for _, t := range targets {
		known[t] = true
	}
	v := validator.New()
	_ = v.RegisterValidation("target", func(fl validator.FieldLevel) bool {
		return known[fl.Field().String()]
	})
	_ = v.RegisterValidation("window", func(fl validator.FieldLevel) bool {
		return scoring.ValidWindow(int(fl.Field().Int()))
	})
	return v
}

type errorBody struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
