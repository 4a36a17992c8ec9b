package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays FLO_* environment variables onto cfg. Dispatcher
// overrides apply to the first configured dispatcher, creating it when the
// list is empty. Malformed values are ignored.
func FromEnv(cfg *Config) {
	if v := os.Getenv("FLO_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("FLO_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("FLO_LIMIT_UPDATE_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LimitUpdateIntervalMs = n
		}
	}
	if v := os.Getenv("FLO_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	first := func() *DispatcherConfig {
		if len(cfg.Dispatchers) == 0 {
			cfg.Dispatchers = append(cfg.Dispatchers, DispatcherConfig{Name: "default"})
		}
		return &cfg.Dispatchers[0]
	}
	if v := os.Getenv("FLO_DISPATCHER_NAME"); v != "" {
		first().Name = v
	}
	if v := os.Getenv("FLO_DISPATCHER_BUFFER_SIZE"); v != "" {
		if n, err := ParseSize(v); err == nil {
			first().BufferSize = n
		}
	}
	if v := os.Getenv("FLO_DISPATCHER_PARTITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			first().Partitions = n
		}
	}
	if v := os.Getenv("FLO_DISPATCHER_WINDOW_LENGTH"); v != "" {
		if n, err := ParseSize(v); err == nil {
			first().WindowLength = n
		}
	}
	if v := os.Getenv("FLO_DISPATCHER_MAX_FRAME_LENGTH"); v != "" {
		if n, err := ParseSize(v); err == nil {
			first().MaxFrameLength = n
		}
	}
	if v := os.Getenv("FLO_DISPATCHER_EXPORT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			first().Export = b
		}
	}

	if v := os.Getenv("FLO_EXPORT_DATA_DIR"); v != "" {
		cfg.Export.DataDir = v
	}
	if v := os.Getenv("FLO_EXPORT_FSYNC"); v != "" {
		cfg.Export.Fsync = strings.ToLower(v)
	}
	if v := os.Getenv("FLO_EXPORT_FSYNC_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Export.FsyncIntervalMs = n
		}
	}
	if v := os.Getenv("FLO_EXPORT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Export.BatchSize = n
		}
	}
	if v := os.Getenv("FLO_EXPORT_RETENTION_BYTES"); v != "" {
		if n, err := ParseSize(v); err == nil {
			cfg.Export.RetentionBytes = n
		}
	}
}
