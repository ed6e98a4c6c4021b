// Package config loads the service configuration. Values are layered with
// koanf: built-in defaults, configs/base.yaml, configs/<profile>.yaml, a .env
// file and finally APP_* environment variables. Validate checks the result
// with go-playground/validator before anything starts.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultTaskWorkers is used when the submit queue is enabled without a
// worker count.
const DefaultTaskWorkers = 1

// Storage drivers.
const (
	StorageDriverSQLite = "sqlite"
	StorageDriverMemory = "memory"
)

// Config is the root configuration structure.
type Config struct {
	App       AppConfig       `koanf:"app"       validate:"required"`
	Server    ServerConfig    `koanf:"server"    validate:"required"`
	Log       LogConfig       `koanf:"log"       validate:"required"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Client    ClientConfig    `koanf:"client"    validate:"required"`
	Services  ServicesConfig  `koanf:"services"  validate:"required"`
	Storage   StorageConfig   `koanf:"storage"   validate:"required"`
	Sync      SyncConfig      `koanf:"sync"      validate:"required"`
	Quotes    QuotesConfig    `koanf:"quotes"`
	Tasks     TasksConfig     `koanf:"tasks"`
	Session   SessionConfig   `koanf:"session"   validate:"required"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `koanf:"name"        validate:"required"`
	Version     string `koanf:"version"     validate:"required"`
	Environment string `koanf:"environment" validate:"required,oneof=local dev qa prod test"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"             validate:"required,min=1,max=65535"`
	Host            string        `koanf:"host"             validate:"required"`
	ReadTimeout     time.Duration `koanf:"read_timeout"     validate:"required,min=1s"`
	WriteTimeout    time.Duration `koanf:"write_timeout"    validate:"required,min=1s"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"     validate:"required,min=1s"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"required,min=1s"`
	MaxRequestSize  int64         `koanf:"max_request_size" validate:"required,min=1"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string        `koanf:"level"  validate:"required,oneof=trace debug info warn error"`
	Format string        `koanf:"format" validate:"required,oneof=json text pretty"`
	File   LogFileConfig `koanf:"file"`
}

// LogFileConfig contains rolling log file settings.
type LogFileConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"        validate:"required_if=Enabled true"`
	MaxSizeMB  int    `koanf:"max_size"    validate:"omitempty,min=1,max=1024"`
	MaxBackups int    `koanf:"max_backups" validate:"omitempty,min=0,max=100"`
	MaxAgeDays int    `koanf:"max_age"     validate:"omitempty,min=0,max=365"`
	Compress   bool   `koanf:"compress"`
}

// TelemetryConfig contains OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"      validate:"required_if=Enabled true,omitempty,url"`
	ServiceName  string  `koanf:"service_name"  validate:"required_if=Enabled true"`
	SamplingRate float64 `koanf:"sampling_rate" validate:"min=0,max=1"`
}

// ClientConfig contains default HTTP client settings.
type ClientConfig struct {
	Timeout        time.Duration        `koanf:"timeout"         validate:"required,min=1s"`
	Retry          RetryConfig          `koanf:"retry"           validate:"required"`
	CircuitBreaker CircuitBreakerConfig `koanf:"circuit_breaker" validate:"required"`
	Transport      TransportConfig      `koanf:"transport"       validate:"required"`
}

// RetryConfig contains retry settings for HTTP clients.
type RetryConfig struct {
	MaxAttempts     int           `koanf:"max_attempts"     validate:"required,min=1,max=10"`
	InitialInterval time.Duration `koanf:"initial_interval" validate:"required,min=10ms"`
	MaxInterval     time.Duration `koanf:"max_interval"     validate:"required,min=100ms,gtefield=InitialInterval"`
	Multiplier      float64       `koanf:"multiplier"       validate:"required,min=1.1,max=10"`
	JitterFactor    float64       `koanf:"jitter_factor"    validate:"min=0,max=1"`
}

// CircuitBreakerConfig contains circuit breaker settings for HTTP clients.
type CircuitBreakerConfig struct {
	MaxFailures   int           `koanf:"max_failures"    validate:"required,min=1"`
	Timeout       time.Duration `koanf:"timeout"         validate:"required,min=1s"`
	HalfOpenLimit int           `koanf:"half_open_limit" validate:"required,min=1"`
}

// TransportConfig contains HTTP transport pool settings.
type TransportConfig struct {
	MaxIdleConns        int           `koanf:"max_idle_conns"          validate:"required,min=1"`
	MaxIdleConnsPerHost int           `koanf:"max_idle_conns_per_host" validate:"required,min=1"`
	IdleConnTimeout     time.Duration `koanf:"idle_conn_timeout"       validate:"required,min=1s"`
}

// ServicesConfig contains configuration for downstream services.
type ServicesConfig struct {
	QuoteSource QuoteSourceConfig `koanf:"quote_source" validate:"required"`
}

// QuoteSourceConfig describes the remote quote source.
type QuoteSourceConfig struct {
	BaseURL    string `koanf:"base_url"    validate:"required,url"`
	Name       string `koanf:"name"        validate:"required"`
	FetchPath  string `koanf:"fetch_path"  validate:"required,startswith=/"`
	FetchLimit int    `koanf:"fetch_limit" validate:"required,min=1,max=100"`
	Category   string `koanf:"category"    validate:"required"`
	SubmitPath string `koanf:"submit_path" validate:"required,startswith=/"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `koanf:"driver" validate:"required,oneof=sqlite memory"`
	Path   string `koanf:"path"   validate:"required_if=Driver sqlite"`
}

// SyncConfig contains periodic sync settings.
type SyncConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Schedule     string        `koanf:"schedule"      validate:"required_if=Enabled true,omitempty,schedule"`
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"required,min=100ms"`
	OnStart      bool          `koanf:"on_start"`
}

// QuotesConfig contains manual-edit behaviour.
type QuotesConfig struct {
	RejectDuplicates bool `koanf:"reject_duplicates"`
	PublishNew       bool `koanf:"publish_new"`
}

// TasksConfig contains the upstream submit queue settings.
type TasksConfig struct {
	Enabled bool   `koanf:"enabled"`
	Workers int    `koanf:"workers" validate:"required_if=Enabled true,omitempty,min=1,max=16"`
	DBPath  string `koanf:"db_path" validate:"required_if=Enabled true"`

	// ReleaseAfter hands a stuck task back to the queue.
	ReleaseAfter time.Duration `koanf:"release_after" validate:"required_if=Enabled true"`

	// CleanupInterval controls how often finished tasks are purged. Zero disables cleanup.
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
}

// SessionConfig contains the browser session settings for the last-viewed slot.
type SessionConfig struct {
	Lifetime   time.Duration `koanf:"lifetime"    validate:"required,min=1m"`
	CookieName string        `koanf:"cookie_name" validate:"required"`
}

// defaults returns the default configuration values.
func defaults() map[string]any {
	return map[string]any{
		"app.name":        "quotekeeper",
		"app.version":     "dev",
		"app.environment": "local",

		"server.port":             8080,
		"server.host":             "0.0.0.0",
		"server.read_timeout":     "30s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "120s",
		"server.shutdown_timeout": "10s",
		"server.max_request_size": 1 << 20,

		"log.level":            "info",
		"log.format":           "json",
		"log.file.enabled":     false,
		"log.file.path":        "./logs/quotekeeper.log",
		"log.file.max_size":    100,
		"log.file.max_backups": 3,
		"log.file.max_age":     28,
		"log.file.compress":    true,

		"telemetry.enabled":       false,
		"telemetry.endpoint":      "",
		"telemetry.service_name":  "quotekeeper",
		"telemetry.sampling_rate": 1.0,

		"client.timeout":                           "5s",
		"client.retry.max_attempts":                3,
		"client.retry.initial_interval":            "100ms",
		"client.retry.max_interval":                "2s",
		"client.retry.multiplier":                  2.0,
		"client.retry.jitter_factor":               0.25,
		"client.circuit_breaker.max_failures":      5,
		"client.circuit_breaker.timeout":           "30s",
		"client.circuit_breaker.half_open_limit":   3,
		"client.transport.max_idle_conns":          100,
		"client.transport.max_idle_conns_per_host": 10,
		"client.transport.idle_conn_timeout":       "90s",

		"services.quote_source.base_url":    "https://jsonplaceholder.typicode.com",
		"services.quote_source.name":        "quote-source",
		"services.quote_source.fetch_path":  "/posts",
		"services.quote_source.fetch_limit": 3,
		"services.quote_source.category":    "Server",
		"services.quote_source.submit_path": "/posts",

		"storage.driver": StorageDriverSQLite,
		"storage.path":   "./data/quotekeeper.db",

		"sync.enabled":       true,
		"sync.schedule":      "@every 30s",
		"sync.fetch_timeout": "10s",
		"sync.on_start":      true,

		"quotes.reject_duplicates": true,
		"quotes.publish_new":       false,

		"tasks.enabled":          false,
		"tasks.workers":          DefaultTaskWorkers,
		"tasks.db_path":          "./data/tasks.db",
		"tasks.release_after":    "5m",
		"tasks.cleanup_interval": "1h",

		"session.lifetime":    "24h",
		"session.cookie_name": "quotekeeper_session",
	}
}

// Load reads the configuration for profile relative to the working directory.
// Later layers win: defaults, configs/base.yaml, configs/<profile>.yaml, then
// APP_* variables, which a .env file may supply but never overrides.
func Load(profile string) (*Config, error) {
	return LoadFrom(".", profile)
}

// layer is one configuration source, applied in order.
type layer struct {
	name string
	load func(*koanf.Koanf) error
}

// LoadFrom is Load with config files and .env resolved relative to dir.
func LoadFrom(dir, profile string) (*Config, error) {
	layers := []layer{
		{"defaults", func(k *koanf.Koanf) error {
			return k.Load(confmap.Provider(defaults(), "."), nil)
		}},
		{"base config", yamlLayer(filepath.Join(dir, "configs", "base.yaml"))},
	}

	if profile != "" {
		layers = append(layers, layer{
			fmt.Sprintf("profile config %q", profile),
			yamlLayer(filepath.Join(dir, "configs", profile+".yaml")),
		})
	}

	layers = append(layers, layer{"environment", func(k *koanf.Koanf) error {
		if err := loadDotEnv(filepath.Join(dir, ".env")); err != nil {
			return fmt.Errorf(".env: %w", err)
		}

		return k.Load(env.Provider("APP_", ".", envKeyMapper(k.Keys())), nil)
	}})

	k := koanf.New(".")
	for _, l := range layers {
		if err := l.load(k); err != nil {
			return nil, fmt.Errorf("loading %s: %w", l.name, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	return &cfg, nil
}

// envKeyMapper maps APP_SYNC_FETCH_TIMEOUT to sync.fetch_timeout by matching
// against the known keys. Unknown variables fall back to one level per underscore.
func envKeyMapper(known []string) func(string) string {
	byEnv := make(map[string]string, len(known))
	for _, key := range known {
		byEnv[strings.ReplaceAll(key, ".", "_")] = key
	}

	return func(s string) string {
		name := strings.ToLower(strings.TrimPrefix(s, "APP_"))
		if key, ok := byEnv[name]; ok {
			return key
		}

		return strings.ReplaceAll(name, "_", ".")
	}
}

// yamlLayer loads path when it exists. A missing file is not an error.
func yamlLayer(path string) func(*koanf.Koanf) error {
	return func(k *koanf.Koanf) error {
		if !exists(path) {
			return nil
		}

		return k.Load(file.Provider(path), yaml.Parser())
	}
}

// loadDotEnv exports variables from path into the process environment
// without replacing ones already set.
func loadDotEnv(path string) error {
	if !exists(path) {
		return nil
	}

	return godotenv.Load(path)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
