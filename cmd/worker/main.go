package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/user/error-pipeline/internal/adapter/metrics"
	"github.com/user/error-pipeline/internal/adapter/notifier"
	"github.com/user/error-pipeline/internal/adapter/queue/kafkaqueue"
	"github.com/user/error-pipeline/internal/adapter/queue/redisqueue"
	"github.com/user/error-pipeline/internal/adapter/repository/postgres"
	"github.com/user/error-pipeline/internal/adapter/repository/tenantcache"
	"github.com/user/error-pipeline/internal/domain"
	"github.com/user/error-pipeline/internal/fingerprint"
	"github.com/user/error-pipeline/internal/pkg/config"
	"github.com/user/error-pipeline/internal/pkg/logger"
	"github.com/user/error-pipeline/internal/retention"
	"github.com/user/error-pipeline/internal/usecase"
	"github.com/user/error-pipeline/internal/worker"

	_ "github.com/lib/pq" // postgres driver
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("starting worker pool")

	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Metrics server ---
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminServer := &http.Server{Addr: cfg.AdminServerAddr, Handler: adminMux}
	go func() {
		log.Info("starting metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", "error", err)
		}
	}()

	// --- Database ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	log.Info("connected to postgres")

	// --- Stores ---
	eventStore := postgres.NewEventStore(db, log)
	groupStore := postgres.NewGroupStore(db, log)
	alertStateStore := postgres.NewAlertStateStore(db, log)
	tenantStore := postgres.NewTenantStore(db, log, cfg.APIKeyCacheTTL, tenantDefaults(cfg))
	tenants, err := tenantcache.New(tenantStore, cfg.TenantCacheTTL)
	if err != nil {
		log.Error("failed to initialize tenant cache", "error", err)
		os.Exit(1)
	}

	// --- Queue ---
	queue, cleanup, err := buildQueue(cfg, log)
	if err != nil {
		log.Error("failed to initialize queue", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// --- Pipeline components ---
	fingerprinter := fingerprint.New(fingerprint.NewDefaultRegistry())
	grouper := usecase.NewGrouper(groupStore, cfg.IdentityWindow, m, log)

	var notify domain.Notifier
	if cfg.NotifyWebhookURL != "" {
		notify = notifier.NewWebhookNotifier(cfg.NotifyWebhookURL, &http.Client{Timeout: cfg.NotifyTimeout}, log)
	} else {
		log.Warn("no notification webhook configured, alerts go to stdout")
		notify = notifier.NewStdoutNotifier()
	}
	alertEngine := usecase.NewAlertEngine(alertStateStore, tenants, notify,
		cfg.SinkTimeout, cfg.NotifyTimeout, cfg.NotifyRetries, m, log)

	processor := usecase.NewProcessor(queue, fingerprinter, grouper, eventStore,
		alertEngine, cfg.SinkTimeout, m, log)

	// --- Retention hook ---
	ret := retention.NewRunner(groupStore, m, log)
	if err := ret.Start(cfg.RetentionSchedule); err != nil {
		log.Error("failed to start retention scheduler", "error", err)
		os.Exit(1)
	}

	// --- Run until shutdown ---
	pool := worker.NewPool(queue, processor, cfg.WorkerCount, log)
	log.Info("worker pool running", "consumers", cfg.WorkerCount, "backend", cfg.QueueBackend)
	pool.Run(ctx)

	ret.Stop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server shutdown failed", "error", err)
	}

	log.Info("worker shut down gracefully")
}

func tenantDefaults(cfg *config.Config) domain.TenantConfig {
	severity, ok := domain.ParseSeverity(cfg.DefaultCriticalSeverity)
	if !ok {
		severity = domain.SeverityError
	}
	return domain.TenantConfig{
		CriticalSeverity:  severity,
		SuppressionWindow: cfg.DefaultSuppressionWindow,
		RuleVersion:       cfg.DefaultRuleVersion,
		RedeliveryCeiling: cfg.DefaultRedeliveryCeiling,
	}
}

func buildQueue(cfg *config.Config, log *slog.Logger) (domain.Queue, func(), error) {
	switch cfg.QueueBackend {
	case "kafka":
		q := kafkaqueue.New(kafkaqueue.Config{
			Brokers:        cfg.KafkaBrokers,
			Topic:          cfg.KafkaTopic,
			RetryTopic:     cfg.KafkaRetry,
			DLQTopic:       cfg.KafkaDLQ,
			ConsumerGroup:  cfg.ConsumerGroup,
			DefaultCeiling: cfg.DefaultRedeliveryCeiling,
			RetryBackoff:   cfg.NackBackoff,
		}, log)
		return q, func() { _ = q.Close() }, nil
	default:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(opts)
		consumer, err := os.Hostname()
		if err != nil {
			consumer = "worker-default"
		}
		q := redisqueue.New(client, cfg.RedisStream, cfg.RedisDLQStream,
			cfg.ConsumerGroup, consumer, cfg.DefaultRedeliveryCeiling,
			cfg.NackBackoff, log)
		return q, func() { _ = client.Close() }, nil
	}
}
