// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Scraper ScraperConfig `mapstructure:"scraper"`
	Dataset DatasetConfig `mapstructure:"dataset"`
	Store   StoreConfig   `mapstructure:"store"`
	DB      DBConfig      `mapstructure:"db"`
	Blob    BlobConfig    `mapstructure:"blob"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownSeconds int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs worker process launch and supervision.
type ScraperConfig struct {
	Command            string `mapstructure:"command"`
	MergeCommand       string `mapstructure:"merge_command"`
	OutputDir          string `mapstructure:"output_dir"`
	FlushIntervalMs    int    `mapstructure:"flush_interval_ms"`
	CancelGraceSeconds int    `mapstructure:"cancel_grace_seconds"`
	MergeTimeoutSec    int    `mapstructure:"merge_timeout_seconds"`
}

// DatasetConfig sets paths and matching behavior for the master dataset.
type DatasetConfig struct {
	MasterPath      string  `mapstructure:"master_path"`
	ToleranceMeters float64 `mapstructure:"tolerance_meters"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "postgres".
	Backend string `mapstructure:"backend"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeSec int    `mapstructure:"conn_lifetime_seconds"`
}

// BlobConfig selects where result files are archived.
type BlobConfig struct {
	// Backend is "none", "local" or "gcs".
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STORESCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("scraper.command", "universal_scraper")
	v.SetDefault("scraper.output_dir", "data/out")
	v.SetDefault("scraper.flush_interval_ms", 500)
	v.SetDefault("scraper.cancel_grace_seconds", 5)
	v.SetDefault("scraper.merge_timeout_seconds", 300)
	v.SetDefault("dataset.master_path", "data/master.csv")
	v.SetDefault("dataset.tolerance_meters", 50.0)
	v.SetDefault("store.backend", "memory")
	v.SetDefault("blob.backend", "none")
	v.SetDefault("pubsub.topic_name", "scrape-events")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Command == "" {
		return fmt.Errorf("scraper.command is required")
	}
	if c.Scraper.FlushIntervalMs <= 0 {
		return fmt.Errorf("scraper.flush_interval_ms must be > 0")
	}
	if c.Scraper.CancelGraceSeconds <= 0 {
		return fmt.Errorf("scraper.cancel_grace_seconds must be > 0")
	}
	if c.Dataset.MasterPath == "" {
		return fmt.Errorf("dataset.master_path is required")
	}
	switch c.Store.Backend {
	case "memory":
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set when store.backend is postgres")
		}
	default:
		return fmt.Errorf("store.backend must be memory or postgres")
	}
	switch c.Blob.Backend {
	case "none":
	case "local":
		if c.Blob.BaseDir == "" {
			return fmt.Errorf("blob.base_dir must be set when blob.backend is local")
		}
	case "gcs":
		if c.Blob.GCSBucket == "" {
			return fmt.Errorf("blob.gcs_bucket must be set when blob.backend is gcs")
		}
	default:
		return fmt.Errorf("blob.backend must be none, local or gcs")
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FlushInterval returns the log flush throttle as a duration.
func (c Config) FlushInterval() time.Duration {
	return time.Duration(c.Scraper.FlushIntervalMs) * time.Millisecond
}

// CancelGrace returns the termination grace period as a duration.
func (c Config) CancelGrace() time.Duration {
	return time.Duration(c.Scraper.CancelGraceSeconds) * time.Second
}

// MergeTimeout returns the merge worker deadline as a duration.
func (c Config) MergeTimeout() time.Duration {
	return time.Duration(c.Scraper.MergeTimeoutSec) * time.Second
}

// ShutdownTimeout returns the HTTP server drain window as a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}
