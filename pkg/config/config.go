package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the engine configuration
type Config struct {
	// WorkspaceRoot is the directory holding the agents/ tree
	WorkspaceRoot string `yaml:"workspace_root"`

	// DataDir holds the embedded task store
	DataDir string `yaml:"data_dir"`

	Log     LogConfig     `yaml:"log"`
	Monitor MonitorConfig `yaml:"monitor"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LogConfig controls structured logging output
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`

	// JSON switches from console to JSON output
	JSON bool `yaml:"json"`
}

// MonitorConfig tunes the periodic sweeps
type MonitorConfig struct {
	Interval          time.Duration `yaml:"interval"`
	ArchiveAfterDays  int           `yaml:"archive_after_days"`
	CompressAfterDays int           `yaml:"compress_after_days"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Default returns the standard configuration
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".burrow")
	return &Config{
		WorkspaceRoot: filepath.Join(base, "workspace"),
		DataDir:       filepath.Join(base, "data"),
		Log: LogConfig{
			Level: "info",
		},
		Monitor: MonitorConfig{
			Interval:          time.Hour,
			ArchiveAfterDays:  7,
			CompressAfterDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  ":9109",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing path returns
// the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges
func (c *Config) Validate() error {
	if c.WorkspaceRoot == "" {
		return fmt.Errorf("workspace_root must be set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	if c.Monitor.ArchiveAfterDays < 0 || c.Monitor.CompressAfterDays < 0 {
		return fmt.Errorf("sweep windows must be non-negative")
	}
	return nil
}

// ArchiveAfter returns the archival window as a duration
func (c *Config) ArchiveAfter() time.Duration {
	return time.Duration(c.Monitor.ArchiveAfterDays) * 24 * time.Hour
}

// CompressAfter returns the compaction window as a duration
func (c *Config) CompressAfter() time.Duration {
	return time.Duration(c.Monitor.CompressAfterDays) * 24 * time.Hour
}
