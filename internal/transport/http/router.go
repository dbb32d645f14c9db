// Package httptransport assembles the public HTTP surface: shared middleware,
// operational endpoints and the domain route groups.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"civicledger/internal/platform/metrics"
	"civicledger/internal/platform/middleware"
	dErrors "civicledger/pkg/domain-errors"
	"civicledger/pkg/platform/httputil"
)

// RouteRegistrar is implemented by every domain handler.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Options configures the router.
type Options struct {
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	Validator      middleware.JWTValidator
	RequestTimeout time.Duration
	HealthChecks   map[string]HealthCheck

	// WriteLimiter, when set, guards the domain routes.
	WriteLimiter func(http.Handler) http.Handler
}

// NewRouter wires the middleware chain, /healthz, /metrics and the given
// route groups. Domain routes run with the caller's session in context.
func NewRouter(opts Options, groups ...RouteRegistrar) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.LatencyMiddleware(opts.Metrics))

	r.Get("/healthz", healthHandler(opts.HealthChecks, logger))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(opts.RequestTimeout))
		}
		if opts.WriteLimiter != nil {
			r.Use(opts.WriteLimiter)
		}
		r.Use(middleware.CurrentSession(opts.Validator, logger))
		for _, g := range groups {
			g.Register(r)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "route not found"))
	})
	return r
}

func healthHandler(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{}
		healthy := true
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				logger.WarnContext(r.Context(), "health check failed",
					"request_id", middleware.GetRequestID(r.Context()),
					"dependency", name,
					"error", err,
				)
				status[name] = "down"
				healthy = false
				continue
			}
			status[name] = "up"
		}

		code := http.StatusOK
		state := "ok"
		if !healthy {
			code = http.StatusServiceUnavailable
			state = "degraded"
		}
		httputil.WriteJSON(w, code, map[string]any{
			"status":       state,
			"dependencies": status,
		})
	}
}
