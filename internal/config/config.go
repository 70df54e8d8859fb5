package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Delivery    DeliveryConfig    `yaml:"delivery"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Suppression SuppressionConfig `yaml:"suppression"`
	Transport   TransportConfig   `yaml:"transport"`
	Notify      NotifyConfig      `yaml:"notify"`
	Reports     ReportsConfig     `yaml:"reports"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int      `yaml:"port"`
	Host        string   `yaml:"host"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the Postgres connection settings
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the configured lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds Redis connection settings. When disabled the worker
// uses the in-memory queue and the PG advisory lock fallback.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// Rate limiter backends.
const (
	LimiterLocal = "local"
	LimiterRedis = "redis"
)

// DeliveryConfig holds the worker pool and queue settings
type DeliveryConfig struct {
	Concurrency              int    `yaml:"concurrency"`
	RateLimitPerMinute       int    `yaml:"rate_limit_per_minute"` // 0 disables the limiter
	RateLimiter              string `yaml:"rate_limiter"`          // "local" or "redis"
	MaxAttempts              int    `yaml:"max_attempts"`
	BackoffBaseSeconds       int    `yaml:"backoff_base_seconds"`
	BackoffMaxSeconds        int    `yaml:"backoff_max_seconds"`
	SendTimeoutSeconds       int    `yaml:"send_timeout_seconds"`
	PollIntervalMillis       int    `yaml:"poll_interval_ms"`
	VisibilityTimeoutSeconds int    `yaml:"visibility_timeout_seconds"`
	QueueName                string `yaml:"queue_name"`
}

// SendTimeout returns the per-job transport timeout
func (c DeliveryConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// BackoffBase returns the first retry delay
func (c DeliveryConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// BackoffMax returns the retry delay ceiling
func (c DeliveryConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSeconds) * time.Second
}

// PollInterval returns how long an idle worker blocks waiting for a job
func (c DeliveryConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// VisibilityTimeout returns how long a claimed job may run before it is reclaimed
func (c DeliveryConfig) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutSeconds) * time.Second
}

// TrackingConfig holds public tracking endpoint settings
type TrackingConfig struct {
	BaseURL         string `yaml:"base_url"`
	TokenExpiryDays int    `yaml:"token_expiry_days"` // 0 = never expire
	Port            int    `yaml:"port"`
}

// TokenExpiry returns the expiry window, zero meaning none
func (c TrackingConfig) TokenExpiry() time.Duration {
	return time.Duration(c.TokenExpiryDays) * 24 * time.Hour
}

// SchedulerConfig holds the promote/finalize loop settings
type SchedulerConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	LockTTLSeconds  int `yaml:"lock_ttl_seconds"`
	BatchSize       int `yaml:"batch_size"`
}

// Interval returns the tick interval as a duration
func (c SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// LockTTL returns the per-campaign lock TTL
func (c SchedulerConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// SuppressionConfig holds the frequency cap
type SuppressionConfig struct {
	FrequencyCapPerDay int `yaml:"frequency_cap_per_day"` // 0 disables the cap
}

// Transport kinds.
const (
	TransportSES = "ses"
	TransportLog = "log"
)

// TransportConfig selects and configures the mail transport
type TransportConfig struct {
	Kind               string    `yaml:"kind"`
	DefaultFromName    string    `yaml:"default_from_name"`
	DefaultFromEmail   string    `yaml:"default_from_email"`
	ReplyTo            string    `yaml:"reply_to"` // used when a template sets none
	UnsubscribeBaseURL string    `yaml:"unsubscribe_base_url"`
	SES                SESConfig `yaml:"ses"`
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// Notification bus kinds.
const (
	BusInProcess = "inprocess"
	BusSQS       = "sqs"
)

// NotifyConfig holds the completion webhook settings
type NotifyConfig struct {
	WebhookURL            string `yaml:"webhook_url"`
	Bus                   string `yaml:"bus"`
	SQSQueueURL           string `yaml:"sqs_queue_url"`
	BufferSize            int    `yaml:"buffer_size"`
	WebhookTimeoutSeconds int    `yaml:"webhook_timeout_seconds"`
	WebhookMaxRetries     int    `yaml:"webhook_max_retries"`
}

// WebhookTimeout returns the per-request webhook timeout
func (c NotifyConfig) WebhookTimeout() time.Duration {
	return time.Duration(c.WebhookTimeoutSeconds) * time.Second
}

// ReportsConfig holds the CSV export destination
type ReportsConfig struct {
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
	S3Prefix string `yaml:"s3_prefix"`
}

// MetricsConfig holds the Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Delivery.Concurrency == 0 {
		cfg.Delivery.Concurrency = 5
	}
	if cfg.Delivery.RateLimiter == "" {
		cfg.Delivery.RateLimiter = LimiterLocal
	}
	if cfg.Delivery.MaxAttempts == 0 {
		cfg.Delivery.MaxAttempts = 5
	}
	if cfg.Delivery.BackoffBaseSeconds == 0 {
		cfg.Delivery.BackoffBaseSeconds = 2
	}
	if cfg.Delivery.BackoffMaxSeconds == 0 {
		cfg.Delivery.BackoffMaxSeconds = 300
	}
	if cfg.Delivery.SendTimeoutSeconds == 0 {
		cfg.Delivery.SendTimeoutSeconds = 30
	}
	if cfg.Delivery.PollIntervalMillis == 0 {
		cfg.Delivery.PollIntervalMillis = 1000
	}
	if cfg.Delivery.VisibilityTimeoutSeconds == 0 {
		cfg.Delivery.VisibilityTimeoutSeconds = 300
	}
	if cfg.Delivery.QueueName == "" {
		cfg.Delivery.QueueName = "campaign-sends"
	}
	if cfg.Tracking.BaseURL == "" {
		cfg.Tracking.BaseURL = "http://localhost:8080/t"
	}
	if cfg.Tracking.Port == 0 {
		cfg.Tracking.Port = 8081
	}
	if cfg.Scheduler.IntervalSeconds == 0 {
		cfg.Scheduler.IntervalSeconds = 60
	}
	if cfg.Scheduler.LockTTLSeconds == 0 {
		cfg.Scheduler.LockTTLSeconds = 120
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 100
	}
	if cfg.Transport.Kind == "" {
		cfg.Transport.Kind = TransportLog
	}
	if cfg.Transport.SES.Region == "" {
		cfg.Transport.SES.Region = "us-west-2"
	}
	if cfg.Notify.Bus == "" {
		cfg.Notify.Bus = BusInProcess
	}
	if cfg.Notify.BufferSize == 0 {
		cfg.Notify.BufferSize = 256
	}
	if cfg.Notify.WebhookTimeoutSeconds == 0 {
		cfg.Notify.WebhookTimeoutSeconds = 10
	}
	if cfg.Notify.WebhookMaxRetries == 0 {
		cfg.Notify.WebhookMaxRetries = 3
	}
	if cfg.Reports.S3Region == "" {
		cfg.Reports.S3Region = cfg.Transport.SES.Region
	}
	if cfg.Reports.S3Prefix == "" {
		cfg.Reports.S3Prefix = "campaign-reports"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate rejects settings the engine cannot run with.
func (cfg *Config) Validate() error {
	if cfg.Delivery.Concurrency < 0 {
		return fmt.Errorf("delivery.concurrency must be >= 0, got %d", cfg.Delivery.Concurrency)
	}
	if cfg.Delivery.RateLimitPerMinute < 0 {
		return fmt.Errorf("delivery.rate_limit_per_minute must be >= 0, got %d", cfg.Delivery.RateLimitPerMinute)
	}
	if cfg.Delivery.MaxAttempts < 1 {
		return fmt.Errorf("delivery.max_attempts must be >= 1, got %d", cfg.Delivery.MaxAttempts)
	}
	if cfg.Suppression.FrequencyCapPerDay < 0 {
		return fmt.Errorf("suppression.frequency_cap_per_day must be >= 0, got %d", cfg.Suppression.FrequencyCapPerDay)
	}
	if cfg.Tracking.TokenExpiryDays < 0 {
		return fmt.Errorf("tracking.token_expiry_days must be >= 0, got %d", cfg.Tracking.TokenExpiryDays)
	}
	switch cfg.Delivery.RateLimiter {
	case LimiterLocal, LimiterRedis:
	default:
		return fmt.Errorf("delivery.rate_limiter: unknown value %q", cfg.Delivery.RateLimiter)
	}
	switch cfg.Transport.Kind {
	case TransportSES, TransportLog:
	default:
		return fmt.Errorf("transport.kind: unknown value %q", cfg.Transport.Kind)
	}
	switch cfg.Notify.Bus {
	case BusInProcess:
	case BusSQS:
		if cfg.Notify.SQSQueueURL == "" {
			return fmt.Errorf("notify.sqs_queue_url is required when notify.bus is sqs")
		}
	default:
		return fmt.Errorf("notify.bus: unknown value %q", cfg.Notify.Bus)
	}
	return nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("SQS_NOTIFY_QUEUE_URL"); v != "" {
		cfg.Notify.SQSQueueURL = v
		cfg.Notify.Bus = BusSQS
	}
	if v := os.Getenv("TRANSPORT_REPLY_TO"); v != "" {
		cfg.Transport.ReplyTo = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Transport.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Transport.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Transport.SES.Region = v
	}
	if v := os.Getenv("REPORTS_S3_BUCKET"); v != "" {
		cfg.Reports.S3Bucket = v
	}
	if v := os.Getenv("DELIVERY_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Delivery.Concurrency = n
		}
	}
	if v := os.Getenv("DELIVERY_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Delivery.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}
