// Package config loads studytrack's settings from a YAML file and then from
// STUDYTRACK_* environment variables, which win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/studytrack/internal/metrics"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "STUDYTRACK_"

// Storage backends and remote kinds.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"

	RemoteNone  = "none"
	RemoteGRPC  = "grpc"
	RemoteKafka = "kafka"
	RemoteSQL   = "sql"
)

// #region types

// Config represents the studytrack configuration.
type Config struct {
	Storage    StorageConfig    `yaml:"storage" envPrefix:"STORAGE_"`
	Remote     RemoteConfig     `yaml:"remote" envPrefix:"REMOTE_"`
	Sync       SyncConfig       `yaml:"sync" envPrefix:"SYNC_"`
	Derivation DerivationConfig `yaml:"derivation" envPrefix:"DERIVATION_"`
	Log        LogConfig        `yaml:"log" envPrefix:"LOG_"`
	Export     ExportConfig     `yaml:"export" envPrefix:"EXPORT_"`
}

// StorageConfig selects the local durable store.
type StorageConfig struct {
	Backend string `yaml:"backend" env:"BACKEND"` // sqlite, bolt or memory
	Path    string `yaml:"path" env:"PATH"`       // database file for sqlite and bolt
}

// RemoteConfig selects where records are persisted remotely.
type RemoteConfig struct {
	Kind        string   `yaml:"kind" env:"KIND"`                        // none, grpc, kafka or sql
	Addr        string   `yaml:"addr" env:"ADDR"`                        // grpc target
	Brokers     []string `yaml:"brokers" env:"BROKERS" envSeparator:","` // kafka brokers
	TopicPrefix string   `yaml:"topic_prefix" env:"TOPIC_PREFIX"`        // kafka topic prefix
	SQLPath     string   `yaml:"sql_path" env:"SQL_PATH"`                // sql database file
	TimeoutMs   int      `yaml:"timeout_ms" env:"TIMEOUT_MS"`            // per-insert timeout, 0 = none
	ListenAddr  string   `yaml:"listen_addr" env:"LISTEN_ADDR"`          // address the sink serves on
}

// SyncConfig paces fallback sync.
type SyncConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second" env:"RATE_PER_SECOND"` // 0 = unlimited
	Burst         int     `yaml:"burst" env:"BURST"`
}

// DerivationConfig mirrors metrics.Config in file-friendly units.
type DerivationConfig struct {
	LivesSavedCap          float64 `yaml:"lives_saved_cap" env:"LIVES_SAVED_CAP"`
	CasualtiesCap          float64 `yaml:"casualties_cap" env:"CASUALTIES_CAP"`
	DefaultDecisionSeconds float64 `yaml:"default_decision_seconds" env:"DEFAULT_DECISION_SECONDS"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL"` // debug, info, warn, error
	File  string `yaml:"file" env:"FILE"`   // empty logs to stderr
}

// ExportConfig configures the read-only HTTP surface.
type ExportConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

// #endregion types

// #region defaults

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	d := metrics.DefaultConfig()
	return &Config{
		Storage: StorageConfig{
			Backend: BackendSQLite,
			Path:    "studytrack.db",
		},
		Remote: RemoteConfig{
			Kind:        RemoteNone,
			Addr:        "localhost:50551",
			TopicPrefix: "studytrack",
			SQLPath:     "studytrack-remote.db",
			ListenAddr:  ":50551",
		},
		Sync: SyncConfig{
			RatePerSecond: 0,
			Burst:         1,
		},
		Derivation: DerivationConfig{
			LivesSavedCap:          d.LivesSavedCap,
			CasualtiesCap:          d.CasualtiesCap,
			DefaultDecisionSeconds: d.DefaultDecisionTime.Seconds(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Export: ExportConfig{
			Addr: ":8089",
		},
	}
}

// #endregion defaults

// #region load

// LoadFromFile loads configuration from path. A missing file yields the
// defaults. Environment overrides are applied after the file.
func LoadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides overwrites fields whose STUDYTRACK_* variable is set.
func (c *Config) ApplyEnvOverrides() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// SaveToFile writes the configuration as YAML.
func (c *Config) SaveToFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// #endregion load

// #region validate

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite, BackendBolt:
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be sqlite, bolt, or memory (got: %s)", c.Storage.Backend)
	}

	switch c.Remote.Kind {
	case RemoteNone:
	case RemoteGRPC:
		if c.Remote.Addr == "" {
			return errors.New("remote.addr is required for grpc")
		}
	case RemoteKafka:
		if len(c.Remote.Brokers) == 0 {
			return errors.New("remote.brokers is required for kafka")
		}
		if c.Remote.TopicPrefix == "" {
			return errors.New("remote.topic_prefix is required for kafka")
		}
	case RemoteSQL:
		if c.Remote.SQLPath == "" {
			return errors.New("remote.sql_path is required for sql")
		}
	default:
		return fmt.Errorf("remote.kind must be none, grpc, kafka, or sql (got: %s)", c.Remote.Kind)
	}
	if c.Remote.TimeoutMs < 0 {
		return errors.New("remote.timeout_ms must be >= 0")
	}

	if c.Sync.RatePerSecond < 0 {
		return errors.New("sync.rate_per_second must be >= 0")
	}
	if c.Sync.Burst < 1 {
		return errors.New("sync.burst must be >= 1")
	}

	if err := c.Derivation.Metrics().Validate(); err != nil {
		return fmt.Errorf("derivation: %w", err)
	}

	if !isValidLogLevel(c.Log.Level) {
		return fmt.Errorf("log.level must be debug, info, warn, or error (got: %s)", c.Log.Level)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// #endregion validate

// #region conversions

// Metrics converts to the derivation engine's configuration.
func (d DerivationConfig) Metrics() metrics.Config {
	return metrics.Config{
		LivesSavedCap:       d.LivesSavedCap,
		CasualtiesCap:       d.CasualtiesCap,
		DefaultDecisionTime: time.Duration(d.DefaultDecisionSeconds * float64(time.Second)),
	}
}

// Limiter builds the sync rate limiter. A zero rate means unlimited.
func (s SyncConfig) Limiter() *rate.Limiter {
	if s.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, max(1, s.Burst))
	}
	return rate.NewLimiter(rate.Limit(s.RatePerSecond), max(1, s.Burst))
}

// Timeout is the per-insert timeout, zero for none.
func (r RemoteConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// #endregion conversions
