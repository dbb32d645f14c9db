// Package service runs the vote submission pipeline: eligibility checks, the
// duplicate check, signing and the append, in that order.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"civicledger/internal/identity"
	"civicledger/internal/ledger/events"
	ledgermetrics "civicledger/internal/ledger/metrics"
	"civicledger/internal/ledger/models"
	"civicledger/internal/ledger/store"
	"civicledger/internal/notify"
	"civicledger/internal/signing"
	dErrors "civicledger/pkg/domain-errors"
	"civicledger/pkg/platform/sentinel"
	"civicledger/pkg/requestcontext"
)

// maxSubjectLen bounds subject ids accepted from clients.
const maxSubjectLen = 200

// Service accepts votes from a session's identity state and appends them to
// the ledger.
type Service struct {
	tx        store.Tx
	signer    signing.Signer
	notifier  notify.Notifier
	metrics   *ledgermetrics.Metrics
	publisher events.Publisher
	tracer    trace.Tracer
	logger    *slog.Logger
}

func NewService(tx store.Tx, signer signing.Signer, opts ...Option) *Service {
	cfg := &serviceConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	s := &Service{
		tx:        tx,
		signer:    signer,
		notifier:  cfg.notifier,
		metrics:   cfg.metrics,
		publisher: cfg.publisher,
		tracer:    cfg.tracer,
		logger:    cfg.logger,
	}
	if s.notifier == nil {
		s.notifier = notify.Discard{}
	}
	if s.publisher == nil {
		s.publisher = events.Discard{}
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("civicledger/ledger")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// SubmitVote records voteType on subjectID for the session described by
// state. Verification is checked before the wallet, and both before the
// ledger is read. The returned record is the one that was appended.
func (s *Service) SubmitVote(ctx context.Context, state identity.State, subjectID string, voteType models.VoteType) (*models.VoteRecord, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ledger.SubmitVote",
		trace.WithAttributes(
			attribute.String("subject.id", subjectID),
			attribute.String("vote.type", string(voteType)),
		))
	defer span.End()

	rec, err := s.submit(ctx, state, subjectID, voteType)
	s.metrics.ObserveSubmitLatency(time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.reject(ctx, err, voteType)
		return nil, err
	}

	span.SetAttributes(attribute.String("record.id", rec.ID))
	span.SetStatus(codes.Ok, "vote recorded")
	s.metrics.IncrementSubmission(ledgermetrics.OutcomeRecorded, string(rec.VoteType))
	s.logger.InfoContext(ctx, "vote recorded",
		"request_id", requestcontext.RequestID(ctx),
		"record_id", rec.ID,
		"subject_id", rec.SubjectID,
		"vote_type", string(rec.VoteType),
	)
	s.notifier.Notify(ctx, notify.Notification{
		SessionID:   requestcontext.SessionID(ctx),
		Title:       "Vote recorded: " + strings.ToUpper(string(rec.VoteType)),
		Description: fmt.Sprintf("Tx: %s… • token minted to %s…", abbreviate(rec.ReceiptHash, 18), abbreviate(rec.VoterAddress, 10)),
		Severity:    notify.SeverityInfo,
	})
	if err := s.publisher.Publish(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "ledger event not published",
			"request_id", requestcontext.RequestID(ctx),
			"record_id", rec.ID,
			"error", err,
		)
	}
	return rec, nil
}

func (s *Service) submit(ctx context.Context, state identity.State, subjectID string, voteType models.VoteType) (*models.VoteRecord, error) {
	if !state.Verified {
		return nil, dErrors.New(dErrors.CodeNotVerified, "Please verify your identity to vote.")
	}
	if state.Address == "" {
		return nil, dErrors.New(dErrors.CodeWalletRequired, "Connect your wallet to receive the non-transferable CivicVoteToken.")
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "subject_id is required")
	}
	if len(subjectID) > maxSubjectLen {
		return nil, dErrors.New(dErrors.CodeValidation, "subject_id must be at most 200 characters")
	}
	if !voteType.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "vote_type must be one of yes, no, abstain")
	}

	identityHash := s.signer.IdentityHash(state.Address, state.Verified)
	now := requestcontext.Now(ctx)

	var appended *models.VoteRecord
	err := s.tx.RunInTx(ctx, models.Key(subjectID, identityHash), func(st store.Store) error {
		_, err := st.FindBySubjectAndVoterHash(ctx, subjectID, identityHash)
		if err == nil {
			return dErrors.New(dErrors.CodeAlreadyVoted, "You have already voted on this law.")
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read ledger")
		}

		rec, err := s.buildRecord(ctx, state, subjectID, voteType, identityHash, now)
		if err != nil {
			return err
		}
		if err := st.Append(ctx, rec); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to append vote")
		}
		appended = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return appended, nil
}

func (s *Service) buildRecord(ctx context.Context, state identity.State, subjectID string, voteType models.VoteType, identityHash string, now time.Time) (*models.VoteRecord, error) {
	intent := models.Intent{
		SubjectID:    subjectID,
		VoteType:     voteType,
		Timestamp:    now.UnixMilli(),
		IdentityHash: identityHash,
	}
	signature, err := s.signer.SignIntent(intent)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign vote intent")
	}
	// The signature is not part of the record.
	s.logger.DebugContext(ctx, "vote intent signed",
		"request_id", requestcontext.RequestID(ctx),
		"subject_id", subjectID,
		"signature", signature,
	)

	receipt, err := s.signer.NewReceipt()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate receipt")
	}
	id, err := s.signer.NewRecordID()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate record id")
	}
	return &models.VoteRecord{
		ID:           id,
		SubjectID:    subjectID,
		VoteType:     voteType,
		VoterHash:    identityHash,
		Region:       state.Region,
		Timestamp:    intent.Timestamp,
		ReceiptHash:  receipt,
		VoterAddress: state.Address,
	}, nil
}

// reject logs, counts and notifies a failed submission. Eligibility and
// duplicate rejections are expected user outcomes and log at warn.
func (s *Service) reject(ctx context.Context, err error, voteType models.VoteType) {
	code := dErrors.CodeOf(err)
	n := notify.Notification{
		SessionID: requestcontext.SessionID(ctx),
		Severity:  notify.SeverityDestructive,
	}
	outcome := ledgermetrics.OutcomeFailed
	switch code {
	case dErrors.CodeNotVerified:
		outcome = ledgermetrics.OutcomeNotVerified
		n.Title, n.Description = "Verification required", "Please verify your identity to vote."
	case dErrors.CodeWalletRequired:
		outcome = ledgermetrics.OutcomeWalletRequired
		n.Title, n.Description = "Wallet required", "Connect your wallet to receive the non-transferable CivicVoteToken."
	default:
		if code == dErrors.CodeAlreadyVoted {
			outcome = ledgermetrics.OutcomeAlreadyVoted
		} else if code == dErrors.CodeValidation {
			outcome = ledgermetrics.OutcomeInvalid
		}
		n.Title, n.Description = "Vote failed", userMessage(err)
	}
	s.metrics.IncrementSubmission(outcome, string(voteType))

	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"code", string(code),
		"error", err,
	}
	if code == dErrors.CodeInternal || code == dErrors.CodeTimeout {
		s.logger.ErrorContext(ctx, "vote submission failed", attrs...)
	} else {
		s.logger.WarnContext(ctx, "vote submission rejected", attrs...)
	}
	s.notifier.Notify(ctx, n)
}

func userMessage(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return "Unknown error"
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
