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
	"golang.org/x/time/rate"

	"github.com/user/error-pipeline/internal/adapter/api"
	"github.com/user/error-pipeline/internal/adapter/metrics"
	"github.com/user/error-pipeline/internal/adapter/queue/kafkaqueue"
	"github.com/user/error-pipeline/internal/adapter/queue/redisqueue"
	"github.com/user/error-pipeline/internal/adapter/repository/postgres"
	"github.com/user/error-pipeline/internal/adapter/repository/tenantcache"
	"github.com/user/error-pipeline/internal/domain"
	"github.com/user/error-pipeline/internal/pkg/config"
	"github.com/user/error-pipeline/internal/pkg/logger"
	"github.com/user/error-pipeline/internal/usecase"

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

	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Admin and metrics server ---
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	adminServer := &http.Server{Addr: cfg.AdminServerAddr, Handler: adminMux}
	go func() {
		log.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin & metrics server failed", "error", err)
		}
	}()

	// --- Database ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Error("failed to open postgres connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	defaults := tenantDefaults(cfg)
	tenantStore := postgres.NewTenantStore(db, log, cfg.APIKeyCacheTTL, defaults)
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

	// --- Ingest server ---
	ingestUseCase := usecase.NewIngestUseCase(queue, tenants, m, log)
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst)
	router := api.NewRouter(log, tenants, ingestUseCase, limiter, cfg.MaxBodyBytes)

	ingestServer := &http.Server{
		Addr:         cfg.IngestServerAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		log.Info("starting ingest server", "addr", ingestServer.Addr)
		if err := ingestServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ingest server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down servers...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := ingestServer.Shutdown(shutdownCtx); err != nil {
		log.Error("ingest server shutdown failed", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown failed", "error", err)
	}

	log.Info("servers shut down gracefully")
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
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "ingest-default"
		}
		q := redisqueue.New(client, cfg.RedisStream, cfg.RedisDLQStream,
			cfg.ConsumerGroup, hostname, cfg.DefaultRedeliveryCeiling,
			cfg.NackBackoff, log)
		return q, func() { _ = client.Close() }, nil
	}
}
