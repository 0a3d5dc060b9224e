// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Event transports supported by the worker.
const (
	TransportKafka = "kafka"
	TransportAMQP  = "amqp"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8081).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health server; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DBMaxOpenConns caps the connection pool shared by database/sql and gorm.
	DBMaxOpenConns int `mapstructure:"DB_MAX_OPEN_CONNS"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`

	// RedisURL enables the profile cache and event dedup when set (redis://host:6379/0 or host:port).
	RedisURL string `mapstructure:"REDIS_URL"`
	// ProfileCacheTTL is how long a cached profile lives (e.g. "10m").
	ProfileCacheTTL string `mapstructure:"PROFILE_CACHE_TTL"`
	// EventDedupTTL is how long a processed event id is remembered (e.g. "24h").
	EventDedupTTL string `mapstructure:"EVENT_DEDUP_TTL"`

	// AuthServiceURL is the base URL of the Auth Service REST API.
	AuthServiceURL string `mapstructure:"AUTH_SERVICE_URL"`
	// AuthServiceTimeout bounds every Auth Service call (e.g. "5s").
	AuthServiceTimeout string `mapstructure:"AUTH_SERVICE_TIMEOUT"`

	// GatewayValidation requires X-Internal-Auth and X-Forwarded-By on protected paths.
	GatewayValidation bool `mapstructure:"GATEWAY_VALIDATION_ENABLED"`
	// GatewaySignatureValidation requires a fresh HMAC signature on protected paths.
	GatewaySignatureValidation bool `mapstructure:"GATEWAY_SIGNATURE_VALIDATION_ENABLED"`
	// GatewayInternalSecret is the shared X-Internal-Auth token. Never logged.
	GatewayInternalSecret string `mapstructure:"GATEWAY_INTERNAL_SECRET"`
	// GatewaySigningSecret is the HMAC-SHA256 key for X-Gateway-Signature. Never logged.
	GatewaySigningSecret string `mapstructure:"GATEWAY_SIGNING_SECRET"`
	// GatewayForwardedBy is the expected X-Forwarded-By marker.
	GatewayForwardedBy string `mapstructure:"GATEWAY_FORWARDED_BY"`
	// GatewayMaxSkewSeconds is the allowed clock skew for X-Gateway-Timestamp, in either direction.
	GatewayMaxSkewSeconds int `mapstructure:"GATEWAY_MAX_SKEW_SECONDS"`

	// EventTransport selects the broker the worker consumes from: kafka or amqp.
	EventTransport string `mapstructure:"EVENT_TRANSPORT"`
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// KafkaGroupID is the consumer group ID for the event worker.
	KafkaGroupID             string `mapstructure:"KAFKA_GROUP_ID"`
	KafkaTopicUserRegistered string `mapstructure:"KAFKA_TOPIC_USER_REGISTERED"`
	KafkaTopicEmailVerified  string `mapstructure:"KAFKA_TOPIC_EMAIL_VERIFIED"`
	KafkaTopicEmailChanged   string `mapstructure:"KAFKA_TOPIC_EMAIL_CHANGED"`
	KafkaDLQTopic            string `mapstructure:"KAFKA_DLQ_TOPIC"`
	AMQPURL                  string `mapstructure:"AMQP_URL"`
	AMQPQueueUserRegistered  string `mapstructure:"AMQP_QUEUE_USER_REGISTERED"`
	AMQPQueueEmailVerified   string `mapstructure:"AMQP_QUEUE_EMAIL_VERIFIED"`
	AMQPQueueEmailChanged    string `mapstructure:"AMQP_QUEUE_EMAIL_CHANGED"`
	// EventMaxAttempts is how many times a retryable event failure is retried before dead-lettering.
	EventMaxAttempts int `mapstructure:"EVENT_MAX_ATTEMPTS"`

	// ReconcileCron is the cron expression for the scheduled reconciliation; empty disables it.
	ReconcileCron        string `mapstructure:"RECONCILE_CRON"`
	ReconcileBatchSize   int    `mapstructure:"RECONCILE_BATCH_SIZE"`
	ReconcileConcurrency int    `mapstructure:"RECONCILE_CONCURRENCY"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty uses no-op providers.
	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8081")
	v.SetDefault("GRPC_ADDR", ":9091")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("PROFILE_CACHE_TTL", "10m")
	v.SetDefault("EVENT_DEDUP_TTL", "24h")
	v.SetDefault("AUTH_SERVICE_URL", "http://auth-service:8082")
	v.SetDefault("AUTH_SERVICE_TIMEOUT", "5s")
	v.SetDefault("GATEWAY_VALIDATION_ENABLED", true)
	v.SetDefault("GATEWAY_SIGNATURE_VALIDATION_ENABLED", true)
	v.SetDefault("GATEWAY_INTERNAL_SECRET", "")
	v.SetDefault("GATEWAY_SIGNING_SECRET", "")
	v.SetDefault("GATEWAY_FORWARDED_BY", "SmartDrive-Gateway")
	v.SetDefault("GATEWAY_MAX_SKEW_SECONDS", 300)
	v.SetDefault("EVENT_TRANSPORT", TransportKafka)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_GROUP_ID", "user-service")
	v.SetDefault("KAFKA_TOPIC_USER_REGISTERED", "user.registered")
	v.SetDefault("KAFKA_TOPIC_EMAIL_VERIFIED", "user.email-verified")
	v.SetDefault("KAFKA_TOPIC_EMAIL_CHANGED", "user.email-changed")
	v.SetDefault("KAFKA_DLQ_TOPIC", "user-service.dlq")
	v.SetDefault("AMQP_URL", "")
	v.SetDefault("AMQP_QUEUE_USER_REGISTERED", "smartdrive-user-registered-queue")
	v.SetDefault("AMQP_QUEUE_EMAIL_VERIFIED", "smartdrive-email-verified-queue")
	v.SetDefault("AMQP_QUEUE_EMAIL_CHANGED", "smartdrive-email-changed-queue")
	v.SetDefault("EVENT_MAX_ATTEMPTS", 5)
	v.SetDefault("RECONCILE_CRON", "0 2 * * *")
	v.SetDefault("RECONCILE_BATCH_SIZE", 100)
	v.SetDefault("RECONCILE_CONCURRENCY", 4)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "user-service")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	cfg.EventTransport = strings.ToLower(strings.TrimSpace(cfg.EventTransport))
	if cfg.EventTransport != TransportKafka && cfg.EventTransport != TransportAMQP {
		return nil, errors.New("config: EVENT_TRANSPORT must be kafka or amqp")
	}
	if cfg.GatewayMaxSkewSeconds <= 0 {
		return nil, errors.New("config: GATEWAY_MAX_SKEW_SECONDS must be positive")
	}
	if cfg.Env == "production" {
		if cfg.GatewayValidation && cfg.GatewayInternalSecret == "" {
			return nil, errors.New("config: GATEWAY_INTERNAL_SECRET is required when APP_ENV=production")
		}
		if cfg.GatewaySignatureValidation && cfg.GatewaySigningSecret == "" {
			return nil, errors.New("config: GATEWAY_SIGNING_SECRET is required when APP_ENV=production")
		}
	}
	if cfg.ReconcileConcurrency < 1 {
		return nil, errors.New("config: RECONCILE_CONCURRENCY must be at least 1")
	}
	if cfg.ReconcileBatchSize <= 0 {
		cfg.ReconcileBatchSize = 100
	}
	if cfg.EventMaxAttempts <= 0 {
		cfg.EventMaxAttempts = 5
	}

	return &cfg, nil
}

// GatewayMaxSkew returns the signature timestamp window as a duration.
func (c *Config) GatewayMaxSkew() time.Duration {
	return time.Duration(c.GatewayMaxSkewSeconds) * time.Second
}

// AuthTimeout parses AuthServiceTimeout. Returns 5s if unset or invalid.
func (c *Config) AuthTimeout() time.Duration {
	return parseDurationOr(c.AuthServiceTimeout, 5*time.Second)
}

// CacheTTL parses ProfileCacheTTL. Returns 10m if unset or invalid.
func (c *Config) CacheTTL() time.Duration {
	return parseDurationOr(c.ProfileCacheTTL, 10*time.Minute)
}

// DedupTTL parses EventDedupTTL. Returns 24h if unset or invalid.
func (c *Config) DedupTTL() time.Duration {
	return parseDurationOr(c.EventDedupTTL, 24*time.Hour)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EventChannels names the topic or queue for each event kind.
type EventChannels struct {
	UserRegistered string
	EmailVerified  string
	EmailChanged   string
}

// KafkaTopics returns the configured Kafka topic names.
func (c *Config) KafkaTopics() EventChannels {
	return EventChannels{
		UserRegistered: c.KafkaTopicUserRegistered,
		EmailVerified:  c.KafkaTopicEmailVerified,
		EmailChanged:   c.KafkaTopicEmailChanged,
	}
}

// AMQPQueues returns the configured RabbitMQ queue names.
func (c *Config) AMQPQueues() EventChannels {
	return EventChannels{
		UserRegistered: c.AMQPQueueUserRegistered,
		EmailVerified:  c.AMQPQueueEmailVerified,
		EmailChanged:   c.AMQPQueueEmailChanged,
	}
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
