package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	IngestServerAddr string `env:"INGEST_SERVER_ADDR" envDefault:":8080"`
	AdminServerAddr  string `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`
	MaxBodyBytes     int64  `env:"MAX_BODY_BYTES" envDefault:"5242880"` // 5MB per batch
	RateLimitPerSec  int    `env:"RATE_LIMIT_PER_SEC" envDefault:"500"`
	RateLimitBurst   int    `env:"RATE_LIMIT_BURST" envDefault:"1000"`

	QueueBackend   string        `env:"QUEUE_BACKEND" envDefault:"redis"` // redis | kafka
	RedisURL       string        `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	RedisStream    string        `env:"REDIS_STREAM" envDefault:"error_events"`
	RedisDLQStream string        `env:"REDIS_DLQ_STREAM" envDefault:"error_events_dlq"`
	ConsumerGroup  string        `env:"CONSUMER_GROUP" envDefault:"event-processors"`
	KafkaBrokers   []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic     string        `env:"KAFKA_TOPIC" envDefault:"error-events"`
	KafkaRetry     string        `env:"KAFKA_RETRY_TOPIC" envDefault:"error-events-retry"`
	KafkaDLQ       string        `env:"KAFKA_DLQ_TOPIC" envDefault:"error-events-dlq"`
	NackBackoff    time.Duration `env:"NACK_BACKOFF" envDefault:"5s"`

	PostgresURL    string        `env:"POSTGRES_URL,required"`
	SinkTimeout    time.Duration `env:"SINK_TIMEOUT" envDefault:"5s"`
	APIKeyCacheTTL time.Duration `env:"API_KEY_CACHE_TTL" envDefault:"5m"`
	TenantCacheTTL time.Duration `env:"TENANT_CACHE_TTL" envDefault:"1m"`

	WorkerCount int `env:"WORKER_COUNT" envDefault:"8"`

	// Per-tenant defaults, applied when the tenants table has no row or
	// leaves a field unset.
	DefaultCriticalSeverity  string        `env:"DEFAULT_CRITICAL_SEVERITY" envDefault:"error"`
	DefaultSuppressionWindow time.Duration `env:"DEFAULT_SUPPRESSION_WINDOW" envDefault:"10m"`
	DefaultRuleVersion       int           `env:"DEFAULT_RULE_VERSION" envDefault:"1"`
	DefaultRedeliveryCeiling int           `env:"DEFAULT_REDELIVERY_CEILING" envDefault:"5"`

	// IdentityWindow is the idempotency-record retention; it must cover
	// the queue's maximum redelivery window.
	IdentityWindow    time.Duration `env:"IDENTITY_WINDOW" envDefault:"24h"`
	RetentionSchedule string        `env:"RETENTION_SCHEDULE" envDefault:"@every 1h"`

	NotifyWebhookURL string        `env:"NOTIFY_WEBHOOK_URL"`
	NotifyTimeout    time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
	NotifyRetries    int           `env:"NOTIFY_RETRIES" envDefault:"2"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
