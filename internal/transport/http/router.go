package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"popwatch/internal/middleware"
)

// RouterOptions wires the router's collaborators.
type RouterOptions struct {
	Handler     *LicenseHandler
	Logger      *slog.Logger
	RateLimiter *middleware.IPRateLimiter // nil disables rate limiting
	Registry    *prometheus.Registry      // nil disables /metrics
}

// NewRouter assembles the license server's HTTP surface.
func NewRouter(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredLogger(opts.Logger))
	r.Use(middleware.Recoverer(opts.Logger))
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/healthz", opts.Handler.Health)
	if opts.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Handler)
		}
		r.Post("/verify", opts.Handler.Verify)
		// Kept for older clients that activate and verify as separate calls;
		// the server treats both identically.
		r.Post("/activate", opts.Handler.Verify)
	})

	return r
}
