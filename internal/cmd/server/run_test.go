package serverrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/flo-dispatcher/internal/config"
	logpkg "github.com/rzbill/flo-dispatcher/pkg/log"
)

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flo.yaml")
	body := `
limitUpdateIntervalMs: 3
dispatchers:
  - name: orders
    bufferSize: 3M
    partitions: 3
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("FLO_LOG_LEVEL", "debug")

	cfg, err := LoadConfig(Options{ConfigPath: path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LimitUpdateIntervalMs != 3 || len(cfg.Dispatchers) != 1 || cfg.Dispatchers[0].BufferSize != 3<<20 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("env must override the file, level %q", cfg.Log.Level)
	}
}

func TestLoadConfigExplicitWins(t *testing.T) {
	explicit := cfgpkg.Default()
	explicit.LimitUpdateIntervalMs = 42
	cfg, err := LoadConfig(Options{ConfigPath: "/does/not/exist.json", Config: &explicit})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LimitUpdateIntervalMs != 42 {
		t.Fatalf("explicit config must be used as-is")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(Options{ConfigPath: filepath.Join(t.TempDir(), "missing.json")}); err == nil {
		t.Fatalf("missing file must fail")
	}
}

// TestRunIntegration starts the full process loop on an ephemeral port and
// stops it through the context.
func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	cfg := cfgpkg.Default()
	cfg.Dispatchers = []cfgpkg.DispatcherConfig{{Name: "orders", BufferSize: 3 * 1024, Export: true}}
	cfg.Export.DataDir = t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err := Run(ctx, Options{Config: &cfg, HTTPAddr: "127.0.0.1:0", Logger: logpkg.NewNopLogger()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Dispatchers = []cfgpkg.DispatcherConfig{{Name: "a", BufferSize: 1024, Partitions: 2}}
	err := Run(context.Background(), Options{Config: &cfg, Logger: logpkg.NewNopLogger()})
	if err == nil {
		t.Fatalf("two partitions must be rejected")
	}
}
