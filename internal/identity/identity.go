// Package identity owns the per-session wallet binding and verification flag
// that the vote pipeline reads. State lives in a keyed store as independent
// values so a damaged entry never takes the others (or the ledger) with it.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"civicledger/internal/notify"
	dErrors "civicledger/pkg/domain-errors"
	"civicledger/pkg/platform/sentinel"
)

// Keys of the three session values. They keep the names the browser demo
// used for its local storage entries.
const (
	KeyVerified = "vop-verified"
	KeyRegion   = "vop-region"
	KeyWallet   = "vop-wallet"
)

// KV is the keyed storage the session values live in. Get returns
// sentinel.ErrNotFound for absent keys.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// AddressMinter produces wallet-shaped addresses for the connect stub.
type AddressMinter interface {
	NewAddress() (string, error)
}

// State is an immutable snapshot of a session, handed to the pipeline as an
// explicit argument.
type State struct {
	Verified bool   `json:"verified"`
	Region   string `json:"region,omitempty"`
	Address  string `json:"address,omitempty"`
}

// Service hands out sessions bound to a KV namespace.
type Service struct {
	kv       KV
	minter   AddressMinter
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewService constructs an identity Service. A nil notifier discards messages.
func NewService(kv KV, minter AddressMinter, notifier notify.Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return &Service{kv: kv, minter: minter, notifier: notifier, logger: logger}
}

// Session returns the handle for sessionID. Sessions are created lazily: an
// unknown ID reads as empty state.
func (s *Service) Session(sessionID string) (*Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "session is required")
	}
	return &Session{id: sessionID, svc: s}, nil
}

// Connect binds a fresh wallet address to sessionID.
func (s *Service) Connect(ctx context.Context, sessionID string) (string, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return "", err
	}
	return sess.Connect(ctx)
}

// Verify marks sessionID verified in region.
func (s *Service) Verify(ctx context.Context, sessionID, region string) error {
	sess, err := s.Session(sessionID)
	if err != nil {
		return err
	}
	return sess.Verify(ctx, region)
}

// State returns a snapshot of sessionID.
func (s *Service) State(ctx context.Context, sessionID string) (State, error) {
	sess, err := s.Session(sessionID)
	if err != nil {
		return State{}, err
	}
	return sess.Snapshot(ctx), nil
}

// Session is a single actor's identity state.
type Session struct {
	id  string
	svc *Service
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) key(name string) string {
	return "session:" + s.id + ":" + name
}

// Connect binds a fresh address to the session, replacing any previous one.
func (s *Session) Connect(ctx context.Context) (string, error) {
	addr, err := s.svc.minter.NewAddress()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to create wallet address")
	}
	if err := s.svc.kv.Set(ctx, s.key(KeyWallet), addr); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to bind wallet")
	}
	s.svc.notifier.Notify(ctx, notify.Notification{
		SessionID:   s.id,
		Title:       "Wallet connected",
		Description: fmt.Sprintf("%s… connected (demo).", prefix(addr, 10)),
		Severity:    notify.SeverityInfo,
	})
	return addr, nil
}

// Verify marks the session verified. A non-empty region replaces the stored
// one; an empty region leaves it as is.
func (s *Session) Verify(ctx context.Context, region string) error {
	if err := s.svc.kv.Set(ctx, s.key(KeyVerified), "true"); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record verification")
	}
	if region = strings.TrimSpace(region); region != "" {
		if err := s.svc.kv.Set(ctx, s.key(KeyRegion), region); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record region")
		}
	}
	s.svc.notifier.Notify(ctx, notify.Notification{
		SessionID:   s.id,
		Title:       "Identity verified",
		Description: "Demo verification complete.",
		Severity:    notify.SeverityInfo,
	})
	return nil
}

// IsVerified reports whether verification has succeeded for this session.
func (s *Session) IsVerified(ctx context.Context) bool {
	return s.read(ctx, KeyVerified) == "true"
}

// Address returns the bound wallet address, or "".
func (s *Session) Address(ctx context.Context) string {
	return s.read(ctx, KeyWallet)
}

// Region returns the region set at verification, or "".
func (s *Session) Region(ctx context.Context) string {
	return s.read(ctx, KeyRegion)
}

// Snapshot reads all three values at once.
func (s *Session) Snapshot(ctx context.Context) State {
	return State{
		Verified: s.IsVerified(ctx),
		Region:   s.Region(ctx),
		Address:  s.Address(ctx),
	}
}

// read degrades unreadable values to absent.
func (s *Session) read(ctx context.Context, name string) string {
	v, err := s.svc.kv.Get(ctx, s.key(name))
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) && s.svc.logger != nil {
			s.svc.logger.WarnContext(ctx, "session value unreadable, treating as absent",
				"session_id", s.id,
				"key", name,
				"error", err,
			)
		}
		return ""
	}
	return v
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
