package bench

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rzbill/flo-dispatcher/internal/exporter"
	pebblestore "github.com/rzbill/flo-dispatcher/internal/storage/pebble"
	"github.com/rzbill/flo-dispatcher/pkg/log"
)

func testOptions() Options {
	return Options{
		Producers:   2,
		Subscribers: 2,
		Messages:    500,
		MessageSize: 24,
		BufferSize:  3 * 4 << 10,
		Partitions:  3,
		Timeout:     30 * time.Second,
	}
}

func TestRunDeliversEverything(t *testing.T) {
	for _, block := range []bool{false, true} {
		opts := testOptions()
		opts.Block = block
		res, err := Run(context.Background(), opts, log.NewNopLogger())
		if err != nil {
			t.Fatalf("block=%v: run: %v", block, err)
		}
		want := int64(opts.Producers * opts.Messages)
		if res.Produced != want {
			t.Fatalf("block=%v: produced %d, want %d", block, res.Produced, want)
		}
		if res.Consumed != want*int64(opts.Subscribers) {
			t.Fatalf("block=%v: consumed %d", block, res.Consumed)
		}
		if res.Rollovers == 0 {
			t.Fatalf("block=%v: a 4K partition must roll over", block)
		}
	}
}

func TestRunFilter(t *testing.T) {
	opts := testOptions()
	opts.Subscribers = 1
	opts.Filter = "stream_id == 0"
	res, err := Run(context.Background(), opts, log.NewNopLogger())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Delivered != int64(opts.Messages) {
		t.Fatalf("only producer 0 must pass the filter, delivered %d", res.Delivered)
	}
	if res.Consumed != int64(opts.Producers*opts.Messages) {
		t.Fatalf("filtered fragments are still consumed, got %d", res.Consumed)
	}
}

func TestRunExports(t *testing.T) {
	opts := testOptions()
	opts.ExportDir = t.TempDir()
	if _, err := Run(context.Background(), opts, log.NewNopLogger()); err != nil {
		t.Fatalf("run: %v", err)
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.ExportDir})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()
	items, _, err := exporter.Read(db, dispatcherName, exporter.ReadOptions{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(items) != opts.Producers*opts.Messages {
		t.Fatalf("exported %d records", len(items))
	}
}

func TestRunRejectsBadOptions(t *testing.T) {
	opts := testOptions()
	opts.Producers = 0
	if _, err := Run(context.Background(), opts, log.NewNopLogger()); err == nil {
		t.Fatalf("zero producers must fail")
	}
	opts = testOptions()
	opts.Filter = "size +"
	if _, err := Run(context.Background(), opts, log.NewNopLogger()); err == nil {
		t.Fatalf("bad filter must fail")
	}
}

func TestBenchCommand(t *testing.T) {
	cmd := NewBenchCommand(log.NewNopLogger)
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--producers", "1", "--messages", "100", "--buffer-size", "12K", "--mode", "block"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "produced:   100 msgs") || !strings.Contains(out, "throughput:") {
		t.Fatalf("unexpected output:\n%s", out)
	}

	cmd = NewBenchCommand(log.NewNopLogger)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--mode", "sideways"})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("invalid mode must fail")
	}
}
