// Package config resolves the runtime configuration of the filer in
// priority order: defaults, then an optional YAML file, then FILER_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"entityfiler/internal/blob"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FILER_"

// Config is the resolved runtime configuration.
type Config struct {
	ServiceID  string           `yaml:"service_id" env:"SERVICE_ID"`
	LogLevel   string           `yaml:"log_level" env:"LOG_LEVEL"`
	Store      StoreConfig      `yaml:"store" envPrefix:"STORE_"`
	Blob       blob.Config      `yaml:"blob" envPrefix:"BLOB_"`
	Queue      QueueConfig      `yaml:"queue" envPrefix:"QUEUE_"`
	Identifier IdentifierConfig `yaml:"identifier" envPrefix:"IDENTIFIER_"`
	Services   ServicesConfig   `yaml:"services" envPrefix:"SERVICES_"`
	Retry      RetryConfig      `yaml:"retry" envPrefix:"RETRY_"`
	Cascade    CascadeConfig    `yaml:"cascade" envPrefix:"CASCADE_"`
	Ops        OpsConfig        `yaml:"ops" envPrefix:"OPS_"`
	Tracing    TracingConfig    `yaml:"tracing" envPrefix:"TRACING_"`
}

// StoreConfig selects the entity store. Driver is memory, sqlite or postgres.
type StoreConfig struct {
	Driver       string `yaml:"driver" env:"DRIVER"`
	DSN          string `yaml:"dsn" env:"DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
}

// QueueConfig selects the broker and its topics. Driver is kafka or memory.
type QueueConfig struct {
	Driver          string   `yaml:"driver" env:"DRIVER"`
	Brokers         []string `yaml:"brokers" env:"BROKERS" envSeparator:","`
	Group           string   `yaml:"group" env:"GROUP"`
	FilingTopic     string   `yaml:"filing_topic" env:"FILING_TOPIC"`
	EmailTopic      string   `yaml:"email_topic" env:"EMAIL_TOPIC"`
	EventTopic      string   `yaml:"event_topic" env:"EVENT_TOPIC"`
	DeadLetterTopic string   `yaml:"dead_letter_topic" env:"DEAD_LETTER_TOPIC"`
}

// IdentifierConfig selects the identifier sequence backend. Driver is memory
// or redis.
type IdentifierConfig struct {
	Driver    string `yaml:"driver" env:"DRIVER"`
	RedisURL  string `yaml:"redis_url" env:"REDIS_URL"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// ServicesConfig addresses the external registry services.
type ServicesConfig struct {
	AccountURL     string        `yaml:"account_url" env:"ACCOUNT_URL"`
	NameRequestURL string        `yaml:"name_request_url" env:"NAME_REQUEST_URL"`
	Token          string        `yaml:"token" env:"TOKEN"`
	APIBase        string        `yaml:"api_base" env:"API_BASE"`
	Timeout        time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RetryConfig bounds redelivery of a failing message.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	Backoff     time.Duration `yaml:"backoff" env:"BACKOFF"`
}

// CascadeConfig bounds each post-commit effect.
type CascadeConfig struct {
	EffectTimeout time.Duration `yaml:"effect_timeout" env:"EFFECT_TIMEOUT"`
}

// OpsConfig is the health and metrics listener.
type OpsConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// TracingConfig points at an OTLP/HTTP collector. Without an endpoint,
// JSONLines writes finished spans to stderr instead.
type TracingConfig struct {
	Endpoint  string `yaml:"endpoint" env:"ENDPOINT"`
	JSONLines bool   `yaml:"json_lines" env:"JSON_LINES"`
}

// Default returns the built-in configuration: in-memory store, queue and
// identifiers, filesystem documents.
func Default() Config {
	return Config{
		ServiceID: "entity-filer",
		LogLevel:  "info",
		Store:     StoreConfig{Driver: "memory", MaxOpenConns: 10},
		Blob:      blob.Config{Driver: "fs", Root: "./documents"},
		Queue: QueueConfig{
			Driver:      "memory",
			Group:       "entity-filer",
			FilingTopic: "filer",
			EmailTopic:  "entity.email",
			EventTopic:  "entity.events",
		},
		Identifier: IdentifierConfig{Driver: "memory"},
		Services:   ServicesConfig{Timeout: 10 * time.Second},
		Retry:      RetryConfig{MaxAttempts: 5, Backoff: time.Second},
		Cascade:    CascadeConfig{EffectTimeout: 30 * time.Second},
		Ops:        OpsConfig{Addr: ":8080"},
	}
}

// Load resolves the configuration from path (optional) and the process
// environment.
func Load(path string) (Config, error) {
	return load(path, nil)
}

func load(path string, environ map[string]string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects incomplete driver settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Store.DSN) == "" {
			errs = append(errs, fmt.Errorf("store: %s driver requires a dsn", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}
	switch c.Queue.Driver {
	case "memory":
	case "kafka":
		if len(c.Queue.Brokers) == 0 {
			errs = append(errs, errors.New("queue: kafka driver requires brokers"))
		}
		if c.Queue.Group == "" {
			errs = append(errs, errors.New("queue: kafka driver requires a consumer group"))
		}
	default:
		errs = append(errs, fmt.Errorf("queue: unknown driver %q", c.Queue.Driver))
	}
	if c.Queue.FilingTopic == "" {
		errs = append(errs, errors.New("queue: filing topic is required"))
	}
	switch c.Identifier.Driver {
	case "memory":
	case "redis":
		if c.Identifier.RedisURL == "" {
			errs = append(errs, errors.New("identifier: redis driver requires a url"))
		}
	default:
		errs = append(errs, fmt.Errorf("identifier: unknown driver %q", c.Identifier.Driver))
	}
	if c.Blob.Driver == "s3" && c.Blob.S3.Bucket == "" {
		errs = append(errs, errors.New("blob: s3 driver requires a bucket"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry: max attempts must be positive, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.Backoff < 0 {
		errs = append(errs, errors.New("retry: backoff must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
