package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.LimitUpdateIntervalMs != 1 {
		t.Fatalf("limit interval default %d", cfg.LimitUpdateIntervalMs)
	}
	d, ok := cfg.Dispatcher("default")
	if !ok || d.BufferSize != 4<<20 || d.Partitions != 3 {
		t.Fatalf("default dispatcher %+v", d)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	file := filepath.Join(t.TempDir(), "flo.json")
	data := []byte(`{"limitUpdateIntervalMs":5,"dispatchers":[{"name":"in","bufferSize":"12K","partitions":4,"windowLength":512}],"export":{"fsync":"always"}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d, ok := cfg.Dispatcher("in")
	if !ok || d.BufferSize != 12<<10 || d.Partitions != 4 || d.WindowLength != 512 {
		t.Fatalf("dispatcher %+v", d)
	}
	if cfg.LimitUpdateIntervalMs != 5 || cfg.Export.Fsync != "always" {
		t.Fatalf("unexpected %+v", cfg)
	}
	if cfg.Export.BatchSize != 256 {
		t.Fatalf("unset fields must keep defaults, batch=%d", cfg.Export.BatchSize)
	}
}

func TestLoadYAML(t *testing.T) {
	file := filepath.Join(t.TempDir(), "flo.yaml")
	data := []byte(`
log:
  level: debug
  format: json
dispatchers:
  - name: inbound
    bufferSize: 3M
    export: true
  - name: outbound
    bufferSize: 98304
export:
  retentionBytes: 1G
`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("log %+v", cfg.Log)
	}
	if len(cfg.Dispatchers) != 2 || cfg.Dispatchers[0].BufferSize != 3<<20 || !cfg.Dispatchers[0].Export {
		t.Fatalf("dispatchers %+v", cfg.Dispatchers)
	}
	if cfg.Dispatchers[1].BufferSize != 98304 {
		t.Fatalf("plain size %d", cfg.Dispatchers[1].BufferSize)
	}
	if cfg.Export.RetentionBytes != 1<<30 {
		t.Fatalf("retention %d", cfg.Export.RetentionBytes)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"dup.json":  `{"dispatchers":[{"name":"a"},{"name":"a"}]}`,
		"size.json": `{"dispatchers":[{"name":"a","bufferSize":"lots"}]}`,
		"bad.yaml":  "dispatchers: [",
	}
	for name, body := range cases {
		file := filepath.Join(dir, name)
		if err := os.WriteFile(file, []byte(body), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(file); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestParseSize(t *testing.T) {
	cases := map[string]Size{"": 0, "1024": 1024, "16M": 16 << 20, "4KB": 4 << 10, "2GiB": 2 << 30}
	for in, want := range cases {
		got, err := ParseSize(in)
		if err != nil || got != want {
			t.Fatalf("%q: got %d %v", in, got, err)
		}
	}
	if _, err := ParseSize("-1"); err == nil {
		t.Fatalf("negative size accepted")
	}
	if Size(16<<20).String() != "16M" {
		t.Fatalf("format %s", Size(16<<20).String())
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("FLO_LIMIT_UPDATE_INTERVAL_MS", "10")
	t.Setenv("FLO_DISPATCHER_NAME", "staging")
	t.Setenv("FLO_DISPATCHER_BUFFER_SIZE", "48K")
	t.Setenv("FLO_DISPATCHER_PARTITIONS", "not-a-number")
	t.Setenv("FLO_EXPORT_FSYNC", "NEVER")
	FromEnv(&cfg)
	if cfg.LimitUpdateIntervalMs != 10 {
		t.Fatalf("env override interval")
	}
	d := cfg.Dispatchers[0]
	if d.Name != "staging" || d.BufferSize != 48<<10 || d.Partitions != 3 {
		t.Fatalf("env override dispatcher %+v", d)
	}
	if cfg.Export.Fsync != "never" {
		t.Fatalf("env override fsync %q", cfg.Export.Fsync)
	}

	empty := Config{}
	FromEnv(&empty)
	if len(empty.Dispatchers) != 1 || empty.Dispatchers[0].Name != "staging" {
		t.Fatalf("env should create a dispatcher entry: %+v", empty.Dispatchers)
	}
}

func TestDefaultExportDir(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got := DefaultExportDir(); got != filepath.Join("/custom/data", "flo-dispatcher", "export") {
		t.Fatalf("xdg: got %s", got)
	}

	t.Setenv("XDG_DATA_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	got := DefaultExportDir()
	if !filepath.IsAbs(got) || filepath.Base(got) != "export" || filepath.Base(filepath.Dir(got)) != "flo-dispatcher" {
		t.Fatalf("home: got %s", got)
	}
	if Default().Export.DataDir != got {
		t.Fatalf("defaults must use the export dir, got %s", Default().Export.DataDir)
	}
}
