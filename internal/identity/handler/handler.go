package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"civicledger/internal/identity"
	jwttoken "civicledger/internal/jwt_token"
	"civicledger/internal/notify"
	dErrors "civicledger/pkg/domain-errors"
	"civicledger/pkg/platform/httputil"
	"civicledger/pkg/requestcontext"
)

// Service defines the identity operations the handler needs.
type Service interface {
	Connect(ctx context.Context, sessionID string) (string, error)
	Verify(ctx context.Context, sessionID, region string) error
	State(ctx context.Context, sessionID string) (identity.State, error)
}

// TokenIssuer mints session tokens. Optional.
type TokenIssuer interface {
	GenerateSessionToken(name string, expiresIn time.Duration) (string, *jwttoken.Claims, error)
}

// NotificationSource hands back pending notifications for a session.
type NotificationSource interface {
	Drain(sessionID string) []notify.Notification
}

// Handler serves session and identity endpoints.
type Handler struct {
	identity      Service
	tokens        TokenIssuer
	notifications NotificationSource
	tokenTTL      time.Duration
	logger        *slog.Logger
}

// New creates an identity Handler. tokens and notifications may be nil.
func New(svc Service, tokens TokenIssuer, notifications NotificationSource, tokenTTL time.Duration, logger *slog.Logger) *Handler {
	return &Handler{
		identity:      svc,
		tokens:        tokens,
		notifications: notifications,
		tokenTTL:      tokenTTL,
		logger:        logger,
	}
}

// Register registers the identity routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/session", h.handleStartSession)
	r.Post("/wallet/connect", h.handleConnectWallet)
	r.Post("/identity/verify", h.handleVerify)
	r.Get("/identity", h.handleGetIdentity)
	r.Get("/notifications", h.handleNotifications)
}

type startSessionRequest struct {
	Name string `json:"name"`
}

func (req *startSessionRequest) Validate() error {
	req.Name = strings.TrimSpace(req.Name)
	if len(req.Name) > 100 {
		return dErrors.New(dErrors.CodeValidation, "name must be at most 100 characters")
	}
	return nil
}

type startSessionResponse struct {
	SessionID string `json:"session_id"`
	Token     string `json:"token,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// handleStartSession opens a new session. With token auth enabled the
// response carries a bearer token whose user id is the session id; otherwise
// the client sends session_id back in X-Session-ID.
func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req := &startSessionRequest{}
	if r.ContentLength != 0 {
		var ok bool
		req, ok = httputil.DecodeAndPrepare[startSessionRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
	}

	if h.tokens == nil {
		httputil.WriteJSON(w, http.StatusCreated, startSessionResponse{SessionID: uuid.NewString()})
		return
	}
	token, claims, err := h.tokens.GenerateSessionToken(req.Name, h.tokenTTL)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to issue session token",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "failed to start session"))
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, startSessionResponse{
		SessionID: claims.UserID,
		Token:     token,
		ExpiresAt: claims.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) handleConnectWallet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	addr, err := h.identity.Connect(ctx, requestcontext.SessionID(ctx))
	if err != nil {
		h.fail(ctx, w, "connect wallet", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"address": addr})
}

type verifyRequest struct {
	Region string `json:"region"`
}

func (req *verifyRequest) Validate() error {
	req.Region = strings.TrimSpace(req.Region)
	if len(req.Region) > 120 {
		return dErrors.New(dErrors.CodeValidation, "region must be at most 120 characters")
	}
	return nil
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req := &verifyRequest{}
	if r.ContentLength != 0 {
		var ok bool
		req, ok = httputil.DecodeAndPrepare[verifyRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
	}
	if err := h.identity.Verify(ctx, requestcontext.SessionID(ctx), req.Region); err != nil {
		h.fail(ctx, w, "verify identity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := h.identity.State(ctx, requestcontext.SessionID(ctx))
	if err != nil {
		h.fail(ctx, w, "read identity", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"verified": state.Verified,
		"region":   state.Region,
		"address":  state.Address,
	})
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := requestcontext.SessionID(ctx)
	if sessionID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "session is required"))
		return
	}
	items := []notify.Notification{}
	if h.notifications != nil {
		if drained := h.notifications.Drain(sessionID); drained != nil {
			items = drained
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"session_id", requestcontext.SessionID(ctx),
		"error", err,
	}
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, "failed to "+op, attrs...)
	} else {
		h.logger.WarnContext(ctx, "failed to "+op, attrs...)
	}
	httputil.WriteError(w, err)
}
