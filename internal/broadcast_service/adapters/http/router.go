package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries everything NewRouter wires together.
type RouterConfig struct {
	Broadcasts     BroadcastService
	Blacklist      BlacklistService
	JWTSecret      string
	OptOutLimiter  *IPRateLimiter
	RequestTimeout time.Duration
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Only enable it behind a proxy that overwrites those headers,
	// otherwise clients can pick their own opt-out rate limit key.
	TrustProxyHeaders bool
	Logger            *slog.Logger
}

// NewRouter builds the HTTP surface: management API under /api/v1 (bearer JWT),
// public opt-out, health and metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	validate := validator.New()
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.OptOutLimiter == nil {
		cfg.OptOutLimiter = NewIPRateLimiter(0, 0, cfg.Logger)
	}

	broadcastHandler := NewBroadcastHandler(cfg.Broadcasts, cfg.Logger, validate)
	blacklistHandler := NewBlacklistHandler(cfg.Blacklist, cfg.Logger, validate)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(PrometheusMetricsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.With(cfg.OptOutLimiter.Middleware, middleware.Timeout(cfg.RequestTimeout)).
		Post("/public/opt-out", blacklistHandler.OptOut)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(JWTAuthMiddleware(cfg.JWTSecret, cfg.Logger))

		r.Route("/broadcasts", func(r chi.Router) {
			r.Post("/", broadcastHandler.Submit)
			r.Get("/", broadcastHandler.List)
			r.Post("/preview", broadcastHandler.Preview)
			r.Get("/{id}", broadcastHandler.Get)
			r.Put("/{id}", broadcastHandler.Edit)
			r.Post("/{id}/cancel", broadcastHandler.Cancel)
		})

		r.Route("/blacklist", func(r chi.Router) {
			r.Get("/", blacklistHandler.List)
			r.Post("/", blacklistHandler.Add)
			r.Get("/check", blacklistHandler.Check)
			r.Delete("/{number}", blacklistHandler.Remove)
		})
	})

	return r
}
