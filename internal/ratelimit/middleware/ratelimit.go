package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	platformmw "civicledger/internal/platform/middleware"
	"civicledger/internal/ratelimit/metrics"
	"civicledger/internal/ratelimit/models"
	"civicledger/pkg/platform/httputil"
)

// BucketStore checks and records one request against a key.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}

type Middleware struct {
	store   BucketStore
	policy  models.Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type Option func(*Middleware)

func WithMetrics(m *metrics.Metrics) Option {
	return func(mw *Middleware) {
		mw.metrics = m
	}
}

// New creates the write limiter. A policy with no limit disables it.
func New(store BucketStore, policy models.Policy, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		store:  store,
		policy: policy,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if !policy.Enabled() {
		logger.Info("rate limiting disabled")
	}
	return m
}

// LimitWrites limits state-changing requests per client IP. Reads pass
// through. A failing store lets the request through.
func (m *Middleware) LimitWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.policy.Enabled() || isRead(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		ip := platformmw.GetClientIP(ctx)
		if ip == "" {
			ip = platformmw.ClientIPFromRequest(r)
		}

		result, err := m.store.Allow(ctx, models.Key("ip", ip), m.policy.Limit, m.policy.Window)
		if err != nil {
			m.metrics.IncrementCheckErrors()
			m.logger.ErrorContext(ctx, "failed to check rate limit",
				"request_id", platformmw.GetRequestID(ctx),
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		addRateLimitHeaders(w, result)
		if !result.Allowed {
			m.metrics.IncrementRejections()
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"request_id", platformmw.GetRequestID(ctx),
				"path", r.URL.Path,
			)
			writeRateLimitExceeded(w, result)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isRead(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.ExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "Too many requests from this address. Please try again later.",
		RetryAfter: result.RetryAfter,
	})
}
