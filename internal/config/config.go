package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rzbill/flo-dispatcher/pkg/log"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	Log log.Config `json:"log" yaml:"log"`
	// LimitUpdateIntervalMs is how often the conductor recomputes publisher
	// limits.
	LimitUpdateIntervalMs int                `json:"limitUpdateIntervalMs" yaml:"limitUpdateIntervalMs"`
	Dispatchers           []DispatcherConfig `json:"dispatchers" yaml:"dispatchers"`
	Export                ExportConfig       `json:"export" yaml:"export"`
	// MetricsAddr serves Prometheus metrics when set, e.g. ":9464".
	MetricsAddr string `json:"metricsAddr" yaml:"metricsAddr"`
}

// DispatcherConfig describes one named dispatcher. Zero sizes fall back to
// the dispatcher defaults.
type DispatcherConfig struct {
	Name               string `json:"name" yaml:"name"`
	BufferSize         Size   `json:"bufferSize" yaml:"bufferSize"`
	Partitions         int    `json:"partitions" yaml:"partitions"`
	WindowLength       Size   `json:"windowLength" yaml:"windowLength"`
	MaxFrameLength     Size   `json:"maxFrameLength" yaml:"maxFrameLength"`
	InitialPartitionID int32  `json:"initialPartitionId" yaml:"initialPartitionId"`
	// Export attaches a Pebble exporter subscription to this dispatcher.
	Export bool `json:"export" yaml:"export"`
}

// ExportConfig configures the Pebble export store.
type ExportConfig struct {
	DataDir         string `json:"dataDir" yaml:"dataDir"`
	Fsync           string `json:"fsync" yaml:"fsync"` // always | interval | never
	FsyncIntervalMs int    `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`
	BatchSize       int    `json:"batchSize" yaml:"batchSize"`
	RetentionBytes  Size   `json:"retentionBytes" yaml:"retentionBytes"`
}

// DefaultExportDir is the export store location when DataDir is empty:
// $XDG_DATA_HOME/flo-dispatcher/export, otherwise the per-user data
// directory of the host OS, otherwise ./data/export.
func DefaultExportDir() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return filepath.Join("data", "export")
		}
		switch goruntime.GOOS {
		case "darwin":
			base = filepath.Join(home, "Library", "Application Support")
		case "windows":
			if base = os.Getenv("LOCALAPPDATA"); base == "" {
				base = filepath.Join(home, "AppData", "Local")
			}
		default:
			base = filepath.Join(home, ".local", "share")
		}
	}
	return filepath.Join(base, "flo-dispatcher", "export")
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		Log:                   log.Config{Level: "info", Format: "text"},
		LimitUpdateIntervalMs: 1,
		Dispatchers: []DispatcherConfig{{
			Name:       "default",
			BufferSize: 4 << 20,
			Partitions: 3,
		}},
		Export: ExportConfig{
			DataDir:         DefaultExportDir(),
			Fsync:           "interval",
			FsyncIntervalMs: 5,
			BatchSize:       256,
		},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path
// is empty, returns defaults. Fields missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks constraints that do not depend on the dispatcher layout.
// Layout errors surface when the dispatcher is built.
func (c Config) Validate() error {
	if c.LimitUpdateIntervalMs <= 0 {
		return fmt.Errorf("config: limitUpdateIntervalMs must be positive, got %d", c.LimitUpdateIntervalMs)
	}
	seen := make(map[string]struct{}, len(c.Dispatchers))
	for _, d := range c.Dispatchers {
		if d.Name == "" {
			return fmt.Errorf("config: dispatcher without name")
		}
		if _, dup := seen[d.Name]; dup {
			return fmt.Errorf("config: duplicate dispatcher %q", d.Name)
		}
		seen[d.Name] = struct{}{}
	}
	return nil
}

// Dispatcher returns the config of the named dispatcher.
func (c Config) Dispatcher(name string) (DispatcherConfig, bool) {
	for _, d := range c.Dispatchers {
		if d.Name == name {
			return d, true
		}
	}
	return DispatcherConfig{}, false
}
