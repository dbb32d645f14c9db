package service

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"civicledger/internal/ledger/events"
	ledgermetrics "civicledger/internal/ledger/metrics"
	"civicledger/internal/notify"
)

type serviceConfig struct {
	logger    *slog.Logger
	notifier  notify.Notifier
	metrics   *ledgermetrics.Metrics
	publisher events.Publisher
	tracer    trace.Tracer
}

// Option configures the submission Service.
type Option func(*serviceConfig)

func WithLogger(logger *slog.Logger) Option {
	return func(c *serviceConfig) {
		c.logger = logger
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(c *serviceConfig) {
		c.notifier = n
	}
}

func WithMetrics(m *ledgermetrics.Metrics) Option {
	return func(c *serviceConfig) {
		c.metrics = m
	}
}

// WithPublisher sets the sink appended records are handed to after commit.
func WithPublisher(p events.Publisher) Option {
	return func(c *serviceConfig) {
		c.publisher = p
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *serviceConfig) {
		c.tracer = t
	}
}
