package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Submission outcomes.
const (
	OutcomeRecorded       = "recorded"
	OutcomeNotVerified    = "not_verified"
	OutcomeWalletRequired = "wallet_required"
	OutcomeAlreadyVoted   = "already_voted"
	OutcomeInvalid        = "invalid"
	OutcomeFailed         = "failed"
)

// Metrics provides observability for the ledger module.
type Metrics struct {
	// Submissions by outcome and vote type
	Submissions *prometheus.CounterVec

	SubmitLatency prometheus.Histogram

	// Rows returned by ledger queries
	QueryResults prometheus.Histogram

	// Exports by format: "csv", "report"
	Exports *prometheus.CounterVec
}

// New creates a new Metrics instance with all ledger metrics registered.
func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_ledger_submissions_total",
			Help: "Vote submissions by outcome and vote type",
		}, []string{"outcome", "vote_type"}),

		SubmitLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "civic_ledger_submit_duration_seconds",
			Help:    "Duration of the vote submission pipeline including the append",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		QueryResults: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "civic_ledger_query_results",
			Help:    "Number of records returned by ledger queries",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),

		Exports: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "civic_ledger_exports_total",
			Help: "Ledger exports by format",
		}, []string{"format"}),
	}
}

func (m *Metrics) IncrementSubmission(outcome, voteType string) {
	if m != nil {
		m.Submissions.WithLabelValues(outcome, voteType).Inc()
	}
}

func (m *Metrics) ObserveSubmitLatency(d time.Duration) {
	if m != nil {
		m.SubmitLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveQueryResults(n int) {
	if m != nil {
		m.QueryResults.Observe(float64(n))
	}
}

func (m *Metrics) IncrementExport(format string) {
	if m != nil {
		m.Exports.WithLabelValues(format).Inc()
	}
}
