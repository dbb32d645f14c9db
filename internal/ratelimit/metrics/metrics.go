package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Rejections  prometheus.Counter
	CheckErrors prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Rejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civic_ledger_ratelimit_rejections_total",
			Help: "Write requests rejected by the rate limiter",
		}),
		CheckErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "civic_ledger_ratelimit_check_errors_total",
			Help: "Rate limit checks that failed and let the request through",
		}),
	}
}

func (m *Metrics) IncrementRejections() {
	if m == nil {
		return
	}
	m.Rejections.Inc()
}

func (m *Metrics) IncrementCheckErrors() {
	if m == nil {
		return
	}
	m.CheckErrors.Inc()
}
