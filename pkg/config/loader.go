// pkg/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix    = "DIARIO_"
	configEnvVar = "CONFIG_PATH"
)

// Loader loads configuration from layered sources.
type Loader struct {
	k           *koanf.Koanf
	configPaths []string
	envPrefix   string
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		k: koanf.New("."),
		configPaths: []string{
			"config.yaml",
			"config/config.yaml",
			"/etc/diario-pipeline/config.yaml",
		},
		envPrefix: envPrefix,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigPaths sets the config file search paths.
func WithConfigPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.configPaths = paths
	}
}

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) LoaderOption {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// Load loads configuration with priority, lowest to highest:
// 1. Defaults
// 2. Config file (yaml)
// 3. Environment variables
func (l *Loader) Load() (*Config, error) {
	if err := l.loadDefaults(); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if err := l.loadConfigFile(); err != nil {
		fmt.Printf("Warning: %v\n", err)
	}

	if err := l.loadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}

	var cfg Config
	if err := l.k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadDefaults loads the default configuration values.
func (l *Loader) loadDefaults() error {
	defaults := map[string]any{
		// App
		"app.name":        "diario-pipeline",
		"app.version":     "1.0.0",
		"app.environment": "development",
		"app.debug":       false,

		// HTTP dispatcher
		"http.port":             8080,
		"http.read_timeout":     30 * time.Second,
		"http.write_timeout":    30 * time.Second,
		"http.shutdown_timeout": 10 * time.Second,

		// Log
		"log.level":       "info",
		"log.format":      "json",
		"log.output":      "stdout",
		"log.max_size":    100,
		"log.max_backups": 3,
		"log.max_age":     7,
		"log.compress":    true,

		// Metrics
		"metrics.enabled":   true,
		"metrics.port":      9090,
		"metrics.path":      "/metrics",
		"metrics.namespace": "diario",
		"metrics.subsystem": "pipeline",

		// Tracing
		"tracing.enabled":      false,
		"tracing.endpoint":     "localhost:4317",
		"tracing.service_name": "diario-pipeline",
		"tracing.sample_rate":  0.1,

		// Database
		"database.driver":             "postgres",
		"database.host":               "localhost",
		"database.port":               5432,
		"database.database":           "diario",
		"database.username":           "postgres",
		"database.password":           "",
		"database.ssl_mode":           "disable",
		"database.max_open_conns":     25,
		"database.max_idle_conns":     5,
		"database.conn_max_lifetime":  5 * time.Minute,
		"database.conn_max_idle_time": 5 * time.Minute,
		"database.migrations_path":    "migrations",
		"database.auto_migrate":       true,

		// Cache (OCR/analysis KV cache)
		"cache.enabled":     true,
		"cache.driver":      "redis",
		"cache.host":        "localhost",
		"cache.port":        6379,
		"cache.db":          0,
		"cache.default_ttl": 24 * time.Hour,
		"cache.max_entries": 10000,

		// Queue (Redis Streams + consumer groups, four pipeline stages)
		"queue.driver":                "redis",
		"queue.host":                  "localhost",
		"queue.port":                  6379,
		"queue.db":                    1,
		"queue.consumer_group":        "diario-pipeline",
		"queue.consumer_name":         "",
		"queue.visibility_timeout":    5 * time.Minute,
		"queue.max_delivery_attempts": 5,
		"queue.block_duration":        5 * time.Second,
		"queue.reclaim_interval":      30 * time.Second,
		"queue.crawl_batch_size":      100,

		// Object store (S3/R2-compatible PDF archive)
		"object_store.enabled":        true,
		"object_store.endpoint":       "",
		"object_store.region":         "auto",
		"object_store.bucket":         "diario-gazettes",
		"object_store.access_key_id":  "",
		"object_store.secret_access_key": "",
		"object_store.public_base_url": "",
		"object_store.use_path_style": true,

		// Retry (URL-resolution client; webhook/OCR clients make a single attempt)
		"retry.max_attempts":       3,
		"retry.initial_backoff":    500 * time.Millisecond,
		"retry.max_backoff":        10 * time.Second,
		"retry.backoff_multiplier": 2.0,

		// OCR
		"ocr.api_base_url":          "",
		"ocr.api_key":               "",
		"ocr.model":                 "mistral-ocr-latest",
		"ocr.timeout":               120 * time.Second,
		"ocr.redirect_hop_timeout":  15 * time.Second,
		"ocr.max_redirects":         10,
		"ocr.meta_refresh_peek_kb":  50,
		"ocr.cache_ttl":             30 * 24 * time.Hour,
		"ocr.breaker_max_failures":  5,
		"ocr.breaker_open_timeout":  30 * time.Second,

		// Analysis
		"analysis.version":                    "v1",
		"analysis.enabled_analyzers":           []string{"keyword", "concurso", "entity", "ai"},
		"analysis.custom_keywords":             []string{},
		"analysis.concurso_proximity_window":   100,
		"analysis.high_confidence_threshold":   0.8,
		"analysis.cache_ttl":                   30 * 24 * time.Hour,
		"analysis.ai_model":                    "claude-sonnet-4-5",
		"analysis.ai_api_key":                  "",
		"analysis.ai_timeout":                  60 * time.Second,

		// Webhook
		"webhook.delivery_timeout":     15 * time.Second,
		"webhook.default_max_attempts": 3,
		"webhook.default_backoff":      1 * time.Second,
		"webhook.breaker_max_failures": 5,
		"webhook.breaker_open_timeout": 30 * time.Second,
	}

	return l.k.Load(confmap.Provider(defaults, "."), nil)
}

// loadConfigFile loads configuration from a yaml file.
func (l *Loader) loadConfigFile() error {
	if configPath := os.Getenv(configEnvVar); configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return l.k.Load(file.Provider(configPath), yaml.Parser())
		}
	}

	for _, path := range l.configPaths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		if _, err := os.Stat(absPath); err == nil {
			return l.k.Load(file.Provider(absPath), yaml.Parser())
		}
	}

	return fmt.Errorf("config file not found in paths: %v", l.configPaths)
}

// loadEnv loads configuration from environment variables.
func (l *Loader) loadEnv() error {
	return l.k.Load(env.Provider(l.envPrefix, ".", func(s string) string {
		// DIARIO_QUEUE_HOST -> queue.host
		return strings.ReplaceAll(
			strings.ToLower(
				strings.TrimPrefix(s, l.envPrefix),
			),
			"_", ".",
		)
	}), nil)
}

// MustLoad loads configuration or panics.
func MustLoad(opts ...LoaderOption) *Config {
	cfg, err := NewLoader(opts...).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load is a convenience function that loads configuration with defaults.
func Load() (*Config, error) {
	return NewLoader().Load()
}
