package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"civicledger/internal/ledger/models"
	"civicledger/pkg/platform/circuit"
	"civicledger/pkg/platform/sentinel"
	"civicledger/pkg/requestcontext"
)

var publishedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "civic_ledger_events_published_total",
	Help: "Ledger events handed to Kafka, by outcome",
}, []string{"outcome"})

// producer is the slice of *kgo.Client the publisher needs.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher writes one record per appended vote, keyed by subject so a
// subject's events stay ordered within a partition. A circuit breaker stops
// the pipeline from waiting on an unreachable broker.
type KafkaPublisher struct {
	client   *kgo.Client
	producer producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
}

// KafkaOption configures a KafkaPublisher.
type KafkaOption func(*KafkaPublisher)

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) KafkaOption {
	return func(p *KafkaPublisher) {
		if b != nil {
			p.breaker = b
		}
	}
}

// NewKafkaPublisher connects to brokers. The client is lazy; connection
// errors surface on the first publish.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger, opts ...KafkaOption) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProduceRequestTimeout(5*time.Second),
		kgo.RecordDeliveryTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	p := newKafkaPublisher(client, topic, logger, opts...)
	p.client = client
	return p, nil
}

func newKafkaPublisher(prod producer, topic string, logger *slog.Logger, opts ...KafkaOption) *KafkaPublisher {
	p := &KafkaPublisher{
		producer: prod,
		topic:    topic,
		breaker:  circuit.New("kafka-ledger-events", circuit.WithFailureThreshold(3)),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureTopic creates the topic if it does not exist yet.
func (p *KafkaPublisher) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	if p.client == nil {
		return nil
	}
	adm := kadm.NewClient(p.client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, rec *models.VoteRecord) error {
	if !p.breaker.Allow() {
		publishedEvents.WithLabelValues("dropped").Inc()
		return fmt.Errorf("kafka circuit open: %w", sentinel.ErrUnavailable)
	}

	value, err := FromRecord(rec, requestcontext.RequestID(ctx)).Encode()
	if err != nil {
		return err
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(rec.SubjectID),
		Value: value,
	}
	if err := p.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		publishedEvents.WithLabelValues("failed").Inc()
		if _, change := p.breaker.RecordFailure(); change.Opened {
			p.logger.Warn("kafka publisher circuit opened", "topic", p.topic, "error", err)
		}
		return fmt.Errorf("publish ledger event: %w", err)
	}
	publishedEvents.WithLabelValues("ok").Inc()
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.logger.Info("kafka publisher circuit closed", "topic", p.topic)
	}
	return nil
}

// Close releases the broker connections.
func (p *KafkaPublisher) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
