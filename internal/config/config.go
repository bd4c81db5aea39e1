package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config models bountyline.yml.
type Config struct {
	Storage   Storage   `yaml:"storage" json:"storage"`
	Server    Server    `yaml:"server" json:"server"`
	Payout    Payout    `yaml:"payout" json:"payout"`
	Lifecycle Lifecycle `yaml:"lifecycle" json:"lifecycle"`
	Log       Log       `yaml:"log" json:"log"`
}

type Storage struct {
	// Driver is "sqlite" or "pgx".
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"-"`
	// RetryMaxElapsed bounds retries of transient storage errors (busy, serialization).
	RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed" json:"retry_max_elapsed"`
}

type Server struct {
	Addr         string `yaml:"addr" json:"addr"`
	BasePath     string `yaml:"base_path" json:"base_path"`
	JWTSecretEnv string `yaml:"jwt_secret_env" json:"jwt_secret_env"`
}

type Payout struct {
	WebhookURL     string        `yaml:"webhook_url" json:"webhook_url,omitempty"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout" json:"webhook_timeout"`
	// TriggerTimeout bounds the payout call made after an approving
	// transition commits. Anything slower is left to reconciliation.
	TriggerTimeout time.Duration `yaml:"trigger_timeout" json:"trigger_timeout"`
	RedisAddr      string        `yaml:"redis_addr" json:"redis_addr,omitempty"`
	RedisKey       string        `yaml:"redis_key" json:"redis_key,omitempty"`
	// ReconcileSchedule is a cron spec for retrying failed payouts; empty disables it.
	ReconcileSchedule string `yaml:"reconcile_schedule" json:"reconcile_schedule,omitempty"`
	ReconcileBatch    int    `yaml:"reconcile_batch" json:"reconcile_batch"`
}

type Lifecycle struct {
	MinPitchLength   int `yaml:"min_pitch_length" json:"min_pitch_length"`
	MaxExtensionDays int `yaml:"max_extension_days" json:"max_extension_days"`
}

type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
	case "pgx":
		if c.Storage.DSN == "" {
			return fmt.Errorf("config.storage.dsn is required for driver pgx")
		}
	default:
		return fmt.Errorf("config.storage.driver must be 'sqlite' or 'pgx', got %q", c.Storage.Driver)
	}
	if c.Storage.RetryMaxElapsed < 0 {
		return fmt.Errorf("config.storage.retry_max_elapsed must not be negative")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Payout.RedisAddr != "" && c.Payout.RedisKey == "" {
		return fmt.Errorf("config.payout.redis_key is required when redis_addr is set")
	}
	if c.Payout.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(c.Payout.ReconcileSchedule); err != nil {
			return fmt.Errorf("config.payout.reconcile_schedule: %w", err)
		}
	}
	if c.Payout.TriggerTimeout < 0 {
		return fmt.Errorf("config.payout.trigger_timeout must not be negative")
	}
	if c.Payout.ReconcileBatch <= 0 {
		return fmt.Errorf("config.payout.reconcile_batch must be positive")
	}
	if c.Lifecycle.MinPitchLength < 0 {
		return fmt.Errorf("config.lifecycle.min_pitch_length must not be negative")
	}
	if c.Lifecycle.MaxExtensionDays < 0 {
		return fmt.Errorf("config.lifecycle.max_extension_days must not be negative")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be 'text' or 'json'")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "bountyline.yml")
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from
// data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `storage:
  driver: sqlite
  retry_max_elapsed: 5s

server:
  addr: 127.0.0.1:8080
  base_path: /v1
  jwt_secret_env: BOUNTYLINE_JWT_SECRET

payout:
  webhook_timeout: 5s
  trigger_timeout: 10s
  reconcile_schedule: "*/5 * * * *"
  reconcile_batch: 50

lifecycle:
  min_pitch_length: 10
  max_extension_days: 30

log:
  level: info
  format: text
`
