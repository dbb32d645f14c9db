package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicledger/internal/platform/middleware"
	"civicledger/pkg/requestcontext"
)

type echoSession struct{}

func (echoSession) Register(r chi.Router) {
	r.Get("/whoami", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, requestcontext.SessionID(r.Context()))
	})
}

func newTestRouter(checks map[string]HealthCheck) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(Options{Logger: logger, HealthChecks: checks}, echoSession{})
}

func TestRouterSessionHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(middleware.SessionHeader, "session-42")
	rr := httptest.NewRecorder()

	newTestRouter(nil).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "session-42", rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get(middleware.RequestIDHeader))
}

func TestRouterRejectsBearerWithoutValidator(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer something")
	rr := httptest.NewRecorder()

	newTestRouter(nil).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouterNotFound(t *testing.T) {
	rr := httptest.NewRecorder()
	newTestRouter(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "not_found", body["error"])
}

func TestHealthz(t *testing.T) {
	t.Run("all dependencies up", func(t *testing.T) {
		router := newTestRouter(map[string]HealthCheck{
			"ledger": func(context.Context) error { return nil },
		})
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"ledger":"up"`)
	})

	t.Run("dependency down", func(t *testing.T) {
		router := newTestRouter(map[string]HealthCheck{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		})
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Contains(t, rr.Body.String(), `"redis":"down"`)
		assert.Contains(t, rr.Body.String(), `"status":"degraded"`)
	})
}

func TestRouterWriteLimiter(t *testing.T) {
	blocked := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
	}
	router := NewRouter(Options{
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		WriteLimiter: blocked,
	}, echoSession{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code, "operational endpoints bypass the limiter")
}
