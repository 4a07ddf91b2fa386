// pkg/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. One process hosts the HTTP
// dispatcher and all four queue consumers, so there is a single Config for
// the whole binary rather than one per service.
type Config struct {
	App         AppConfig         `koanf:"app"`
	HTTP        HTTPConfig        `koanf:"http"`
	Log         LogConfig         `koanf:"log"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Tracing     TracingConfig     `koanf:"tracing"`
	Database    DatabaseConfig    `koanf:"database"`
	Cache       CacheConfig       `koanf:"cache"`
	Queue       QueueConfig       `koanf:"queue"`
	ObjectStore ObjectStoreConfig `koanf:"object_store"`
	Retry       RetryConfig       `koanf:"retry"`
	OCR         OCRConfig         `koanf:"ocr"`
	Analysis    AnalysisConfig    `koanf:"analysis"`
	Webhook     WebhookConfig     `koanf:"webhook"`
}

// AppConfig holds process-wide identity settings.
type AppConfig struct {
	Name        string `koanf:"name"`
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"` // development, staging, production
	Debug       bool   `koanf:"debug"`
}

// HTTPConfig configures the crawl-dispatcher HTTP server (C4).
type HTTPConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LogConfig configures the slog-based logger.
type LogConfig struct {
	Level      string `koanf:"level"`       // debug, info, warn, error
	Format     string `koanf:"format"`      // json, text
	Output     string `koanf:"output"`      // stdout, stderr, file
	FilePath   string `koanf:"file_path"`   // path to the log file
	MaxSize    int    `koanf:"max_size"`    // MB
	MaxBackups int    `koanf:"max_backups"` // retained rotated files
	MaxAge     int    `koanf:"max_age"`     // days
	Compress   bool   `koanf:"compress"`
}

// MetricsConfig configures the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Port      int    `koanf:"port"`
	Path      string `koanf:"path"`
	Namespace string `koanf:"namespace"`
	Subsystem string `koanf:"subsystem"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// DatabaseConfig configures the Postgres connection pool backing the
// registry, OCR store, and analysis store.
type DatabaseConfig struct {
	Driver          string        `koanf:"driver"` // postgres
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Database        string        `koanf:"database"`
	Username        string        `koanf:"username"`
	Password        string        `koanf:"password"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
	MigrationsPath  string        `koanf:"migrations_path"`
	AutoMigrate     bool          `koanf:"auto_migrate"`
}

// DSN returns the connection string for the configured driver.
func (d DatabaseConfig) DSN() string {
	switch strings.ToLower(d.Driver) {
	case "postgres", "postgresql":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode,
		)
	default:
		return ""
	}
}

// CacheConfig configures the OCR/analysis KV cache (fast tier).
type CacheConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Driver     string        `koanf:"driver"` // redis, memory
	Host       string        `koanf:"host"`
	Port       int           `koanf:"port"`
	Password   string        `koanf:"password"`
	DB         int           `koanf:"db"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
	MaxEntries int           `koanf:"max_entries"` // in-memory backend only
}

// Address returns host:port for the cache backend.
func (c CacheConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// QueueConfig configures the durable queue backing the four pipeline stages.
type QueueConfig struct {
	Driver              string        `koanf:"driver"` // redis, memory
	Host                string        `koanf:"host"`
	Port                int           `koanf:"port"`
	Password            string        `koanf:"password"`
	DB                  int           `koanf:"db"`
	ConsumerGroup       string        `koanf:"consumer_group"`
	ConsumerName        string        `koanf:"consumer_name"`
	VisibilityTimeout   time.Duration `koanf:"visibility_timeout"`
	MaxDeliveryAttempts int           `koanf:"max_delivery_attempts"`
	BlockDuration        time.Duration `koanf:"block_duration"`
	ReclaimInterval      time.Duration `koanf:"reclaim_interval"`
	CrawlBatchSize       int           `koanf:"crawl_batch_size"` // dispatcher batch-enqueue size
}

// Address returns host:port for the queue backend.
func (q QueueConfig) Address() string {
	return fmt.Sprintf("%s:%d", q.Host, q.Port)
}

// ObjectStoreConfig configures the S3/R2-compatible PDF archive.
type ObjectStoreConfig struct {
	Enabled         bool   `koanf:"enabled"`
	Endpoint        string `koanf:"endpoint"`
	Region          string `koanf:"region"`
	Bucket          string `koanf:"bucket"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	PublicBaseURL   string `koanf:"public_base_url"` // e.g. https://pub-xxxx.r2.dev
	UsePathStyle    bool   `koanf:"use_path_style"`
}

// RetryConfig is the generic attempt/backoff policy for pkg/httpclient.
// The process-wide value drives URL-resolution redirects; the webhook and
// OCR HTTP clients are built with a single attempt instead.
type RetryConfig struct {
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialBackoff    time.Duration `koanf:"initial_backoff"`
	MaxBackoff        time.Duration `koanf:"max_backoff"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// OCRConfig configures the external OCR call and URL-resolution contract.
type OCRConfig struct {
	APIBaseURL        string        `koanf:"api_base_url"`
	APIKey            string        `koanf:"api_key"`
	Model             string        `koanf:"model"`
	Timeout           time.Duration `koanf:"timeout"`
	RedirectHopTimeout time.Duration `koanf:"redirect_hop_timeout"`
	MaxRedirects      int           `koanf:"max_redirects"`
	MetaRefreshPeekKB int           `koanf:"meta_refresh_peek_kb"`
	CacheTTL          time.Duration `koanf:"cache_ttl"`
	BreakerMaxFailures uint32       `koanf:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

// AnalysisConfig configures the analyzer pipeline.
type AnalysisConfig struct {
	Version                  string        `koanf:"version"`
	EnabledAnalyzers         []string      `koanf:"enabled_analyzers"`
	CustomKeywords           []string      `koanf:"custom_keywords"`
	ConcursoProximityWindow  int           `koanf:"concurso_proximity_window"`
	HighConfidenceThreshold  float64       `koanf:"high_confidence_threshold"`
	CacheTTL                 time.Duration `koanf:"cache_ttl"`
	AIModel                  string        `koanf:"ai_model"`
	AIAPIKey                 string        `koanf:"ai_api_key"`
	AITimeout                time.Duration `koanf:"ai_timeout"`
}

// WebhookConfig configures webhook delivery defaults.
type WebhookConfig struct {
	DeliveryTimeout    time.Duration `koanf:"delivery_timeout"`
	DefaultMaxAttempts int           `koanf:"default_max_attempts"`
	DefaultBackoff     time.Duration `koanf:"default_backoff"`
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

// Validate checks invariants the rest of the pipeline assumes hold.
func (c *Config) Validate() error {
	var errs []string

	if c.App.Name == "" {
		errs = append(errs, "app.name is required")
	}

	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port must be between 1 and 65535, got %d", c.HTTP.Port))
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log.level must be one of: debug, info, warn, error, got %s", c.Log.Level))
	}

	if c.Queue.MaxDeliveryAttempts <= 0 {
		errs = append(errs, "queue.max_delivery_attempts must be positive")
	}

	if c.OCR.MaxRedirects <= 0 {
		errs = append(errs, "ocr.max_redirects must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsDevelopment reports whether the process runs in a development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "dev"
}

// IsProduction reports whether the process runs in a production environment.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production" || c.App.Environment == "prod"
}
