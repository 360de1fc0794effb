// Package config loads service configuration from a YAML file with
// environment overrides for deployment-varying fields.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/wxarchive/goes-recovery/internal/epoch"
)

// Config is the full service configuration.
type Config struct {
	Archive  ArchiveConfig      `yaml:"archive"`
	Mirror   MirrorConfig       `yaml:"mirror"`
	Recovery RecoveryConfig     `yaml:"recovery"`
	Status   StatusConfig       `yaml:"status"`
	Logging  LoggingConfig      `yaml:"logging"`
	Metrics  MetricsConfig      `yaml:"metrics"`
	Epochs   []epoch.Assignment `yaml:"epochs"`
}

// ArchiveConfig configures the local weekly-bundle archive tier.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Root    string `yaml:"root"`
}

// MirrorConfig configures the object-storage mirror tier.
type MirrorConfig struct {
	Enabled           bool   `yaml:"enabled"`
	BucketURL         string `yaml:"bucket_url"` // explicit override; empty derives from epochs
	Endpoint          string `yaml:"endpoint"`
	Region            string `yaml:"region"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
	ReadTimeoutSec    int    `yaml:"read_timeout_sec"`
	RetryAttempts     int    `yaml:"retry_attempts"`
	RetryBackoffSec   int    `yaml:"retry_backoff_sec"`
	Workers           int    `yaml:"workers"`
}

// RecoveryConfig configures the orchestrator.
type RecoveryConfig struct {
	DownloadDir       string   `yaml:"download_dir"`
	Workers           int      `yaml:"workers"`
	ProcessTimeoutSec int      `yaml:"process_timeout_sec"`
	Products          []string `yaml:"products"` // catalog backing the ALL wildcard
}

// StatusConfig configures the query status store.
type StatusConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Archive: ArchiveConfig{
			Enabled: true,
			Root:    "/data/goes",
		},
		Mirror: MirrorConfig{
			Enabled:           true,
			Region:            "us-east-1",
			ConnectTimeoutSec: 10,
			ReadTimeoutSec:    30,
			RetryAttempts:     3,
			RetryBackoffSec:   2,
			Workers:           4,
		},
		Recovery: RecoveryConfig{
			DownloadDir:       "/data/tmp",
			Workers:           4,
			ProcessTimeoutSec: 120,
			Products:          []string{"CMIP", "ACHA", "ACTP", "CMI", "RGBT", "Rainfall"},
		},
		Status: StatusConfig{
			Enabled: true,
			Path:    "consultas.db",
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Address: ":9090",
		},
	}
}

// Load reads configuration from an optional YAML file and applies
// environment overrides. Validation happens once here; downstream
// constructors assume a sound config.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad loads configuration or exits.
func MustLoad(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

func applyEnv(cfg *Config) {
	cfg.Archive.Root = getenvDefault("ARCHIVE_ROOT", cfg.Archive.Root)
	cfg.Recovery.DownloadDir = getenvDefault("DOWNLOAD_DIR", cfg.Recovery.DownloadDir)
	cfg.Status.Path = getenvDefault("STATUS_DB_PATH", cfg.Status.Path)
	cfg.Logging.Level = getenvDefault("LOG_LEVEL", cfg.Logging.Level)

	if v := os.Getenv("ARCHIVE_ENABLED"); v != "" {
		cfg.Archive.Enabled = v == "true"
	}
	if v := os.Getenv("MIRROR_ENABLED"); v != "" {
		cfg.Mirror.Enabled = v == "true"
	}
	if v := os.Getenv("RECOVERY_WORKERS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Recovery.Workers = parsed
		}
	}
}

func (c Config) validate() error {
	if !c.Archive.Enabled && !c.Mirror.Enabled {
		return fmt.Errorf("at least one of archive or mirror must be enabled")
	}
	if c.Archive.Enabled && c.Archive.Root == "" {
		return fmt.Errorf("archive.root required when the local archive is enabled")
	}
	if c.Recovery.DownloadDir == "" {
		return fmt.Errorf("recovery.download_dir required")
	}
	if c.Recovery.Workers < 1 {
		return fmt.Errorf("recovery.workers must be at least 1")
	}
	if c.Mirror.RetryAttempts < 1 {
		return fmt.Errorf("mirror.retry_attempts must be at least 1")
	}
	return nil
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// EpochTable builds the immutable satellite assignment table, falling
// back to the built-in operational history when none is configured.
func (c Config) EpochTable() (*epoch.Table, error) {
	if len(c.Epochs) == 0 {
		return epoch.Default(), nil
	}
	return epoch.NewTable(c.Epochs)
}
