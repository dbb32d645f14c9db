// Package query reads the ledger back: filtering, per-subject tallies and the
// dashboard summary.
package query

import (
	"context"
	"log/slog"

	ledgermetrics "civicledger/internal/ledger/metrics"
	"civicledger/internal/ledger/models"
	"civicledger/internal/ledger/store"
	"civicledger/pkg/requestcontext"
)

// Service answers ledger queries from a store.
type Service struct {
	store   store.Store
	metrics *ledgermetrics.Metrics
	logger  *slog.Logger
}

func NewService(st store.Store, metrics *ledgermetrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, metrics: metrics, logger: logger}
}

// Query returns the records matching f in insertion order. An unreadable
// ledger reads as empty.
func (s *Service) Query(ctx context.Context, f Filter) []*models.VoteRecord {
	all, err := s.store.All(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "ledger unreadable, returning empty result",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		s.metrics.ObserveQueryResults(0)
		return []*models.VoteRecord{}
	}
	matched := Apply(all, f)
	s.metrics.ObserveQueryResults(len(matched))
	return matched
}
