package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"civicledger/internal/identity"
	identityhandler "civicledger/internal/identity/handler"
	jwttoken "civicledger/internal/jwt_token"
	"civicledger/internal/ledger/events"
	ledgerhandler "civicledger/internal/ledger/handler"
	ledgermetrics "civicledger/internal/ledger/metrics"
	"civicledger/internal/ledger/query"
	ledgerservice "civicledger/internal/ledger/service"
	"civicledger/internal/notify"
	"civicledger/internal/platform/config"
	"civicledger/internal/platform/httpserver"
	"civicledger/internal/platform/logger"
	"civicledger/internal/platform/metrics"
	"civicledger/internal/platform/middleware"
	"civicledger/internal/platform/telemetry"
	ratelimitmetrics "civicledger/internal/ratelimit/metrics"
	ratelimitmw "civicledger/internal/ratelimit/middleware"
	ratelimitmodels "civicledger/internal/ratelimit/models"
	"civicledger/internal/ratelimit/store/bucket"
	"civicledger/internal/signing"
	httptransport "civicledger/internal/transport/http"
	"civicledger/pkg/platform/circuit"
)

const tokenAudience = "civic-ledger"

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, logCloser := logger.New(logger.Options{
		Format:    cfg.Log.Format,
		Level:     cfg.Log.Level,
		File:      cfg.Log.File,
		MaxSizeMB: cfg.Log.MaxSizeMB,
	})
	defer logCloser.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "civic-ledger",
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Warn("flushing traces", "error", err)
		}
	}()

	storage, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(); err != nil {
			log.Error("closing storage", "error", err)
		}
	}()

	publisher, closePublisher := newPublisher(ctx, cfg, log)
	defer closePublisher()

	signer := signing.NewMockSigner()
	recorder := notify.NewRecorder(cfg.Ledger.NotificationKeep)
	notifier := notify.Fanout{notify.NewLogNotifier(log), recorder}
	ledgerMetrics := ledgermetrics.New()

	identitySvc := identity.NewService(storage.kv, signer, notifier, log)
	voteSvc := ledgerservice.NewService(storage.tx, signer,
		ledgerservice.WithLogger(log),
		ledgerservice.WithNotifier(notifier),
		ledgerservice.WithMetrics(ledgerMetrics),
		ledgerservice.WithPublisher(publisher),
	)
	querySvc := query.NewService(storage.store, ledgerMetrics, log)

	var (
		tokens    identityhandler.TokenIssuer
		validator middleware.JWTValidator
	)
	if cfg.TokensEnabled() {
		jwtSvc := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, tokenAudience)
		tokens = jwtSvc
		validator = jwttoken.NewJWTServiceAdapter(jwtSvc)
	}

	router := httptransport.NewRouter(httptransport.Options{
		Logger:         log,
		Metrics:        metrics.New(),
		Validator:      validator,
		RequestTimeout: cfg.Server.RequestTimeout,
		HealthChecks:   storage.health,
		WriteLimiter:   newWriteLimiter(cfg, storage, log).LimitWrites,
	},
		identityhandler.New(identitySvc, tokens, recorder, cfg.Server.SessionTTL, log),
		ledgerhandler.New(voteSvc, querySvc, identitySvc, ledgerMetrics, cfg.Server.ExportKeyHash, log),
	)
	srv := httpserver.New(cfg.Server.Addr, otelhttp.NewHandler(router, "civic-ledger"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting civic ledger",
			"addr", cfg.Server.Addr,
			"backend", cfg.Ledger.Backend,
			"events", cfg.KafkaEnabled(),
			"tokens", cfg.TokensEnabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// newWriteLimiter shares buckets through Redis when the deployment has one.
func newWriteLimiter(cfg config.Config, storage *backend, log *slog.Logger) *ratelimitmw.Middleware {
	var buckets ratelimitmw.BucketStore = bucket.NewInMemoryBucketStore()
	if storage.redis != nil {
		buckets = bucket.NewRedisBucketStore(storage.redis.Client)
	}
	policy := ratelimitmodels.Policy{Limit: cfg.Limits.Writes, Window: cfg.Limits.Window}
	return ratelimitmw.New(buckets, policy, log, ratelimitmw.WithMetrics(ratelimitmetrics.New()))
}

// newPublisher returns the Kafka publisher when brokers are configured.
// Votes are still recorded when the broker is down; only the event is lost.
func newPublisher(ctx context.Context, cfg config.Config, log *slog.Logger) (events.Publisher, func()) {
	if !cfg.KafkaEnabled() {
		return events.Discard{}, func() {}
	}
	publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log,
		events.WithBreaker(circuit.New("kafka", circuit.WithCooldown(15*time.Second))),
	)
	if err != nil {
		log.Warn("kafka publisher disabled", "error", err)
		return events.Discard{}, func() {}
	}

	topicCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := publisher.EnsureTopic(topicCtx, 1, 1); err != nil {
		log.Warn("ensuring ledger topic", "topic", cfg.Kafka.Topic, "error", err)
	}
	return publisher, publisher.Close
}
