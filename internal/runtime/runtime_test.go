package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	cfgpkg "github.com/rzbill/flo-dispatcher/internal/config"
	"github.com/rzbill/flo-dispatcher/internal/dispatcher"
	"github.com/rzbill/flo-dispatcher/internal/logbuffer"
	"github.com/rzbill/flo-dispatcher/internal/metrics"
)

func testConfig(t *testing.T) cfgpkg.Config {
	t.Helper()
	cfg := cfgpkg.Default()
	cfg.Dispatchers = []cfgpkg.DispatcherConfig{
		{Name: "plain", BufferSize: 3 * 1024},
		{Name: "exported", BufferSize: 3 * 1024, Export: true},
	}
	cfg.Export.DataDir = t.TempDir()
	cfg.Export.Fsync = "always"
	return cfg
}

func TestOpenCloseHealth(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(t), Metrics: metrics.New()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
	if names := rt.Names(); len(names) != 2 || names[0] != "exported" || names[1] != "plain" {
		t.Fatalf("names %v", names)
	}
	if _, err := rt.Dispatcher("missing"); !errors.Is(err, ErrUnknownDispatcher) {
		t.Fatalf("missing dispatcher: %v", err)
	}
	if _, ok := rt.Exporter("plain"); ok {
		t.Fatalf("plain dispatcher must not export")
	}
	if rt.DB() == nil {
		t.Fatalf("export store not opened")
	}
}

func TestOpenRejectsBadLayout(t *testing.T) {
	cfg := cfgpkg.Default()
	cfg.Dispatchers = []cfgpkg.DispatcherConfig{{Name: "bad", BufferSize: 3 * 1024, Partitions: 2}}
	if _, err := Open(Options{Config: cfg}); !errors.Is(err, dispatcher.ErrInvalidOptions) {
		t.Fatalf("want ErrInvalidOptions, got %v", err)
	}
}

func TestConductorReleasesProducers(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(t)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	d, _ := rt.Dispatcher("plain")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	// 40 frames of 64 bytes need several windows and rollovers.
	deadline := time.Now().Add(5 * time.Second)
	for accepted := 0; accepted < 40; {
		pos, err := d.Offer(make([]byte, 52), 0)
		if err != nil {
			t.Fatalf("offer: %v", err)
		}
		if pos >= 0 {
			accepted++
			continue
		}
		if time.Now().After(deadline) {
			t.Fatalf("producer stuck after %d frames, limit %d", accepted, d.PublisherLimit())
		}
		time.Sleep(100 * time.Microsecond)
	}
	if logbuffer.PartitionID(d.PublisherPosition()) == 0 {
		t.Fatalf("expected a rollover")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestExporterRunsUnderRuntime(t *testing.T) {
	rt, err := Open(Options{Config: testConfig(t)})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	d, _ := rt.Dispatcher("exported")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	for i := 0; i < 3; i++ {
		if _, err := d.Offer([]byte("rec"), 1); err != nil {
			t.Fatalf("offer: %v", err)
		}
	}
	exp, _ := rt.Exporter("exported")
	deadline := time.Now().Add(5 * time.Second)
	for exp.NextSeq() != 4 {
		if time.Now().After(deadline) {
			t.Fatalf("exported %d records", exp.NextSeq()-1)
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestExportCursorAdvancesAcrossRuntimes(t *testing.T) {
	cfg := testConfig(t)
	exportOnce := func(payload string) int64 {
		t.Helper()
		rt, err := Open(Options{Config: cfg})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer rt.Close()
		d, _ := rt.Dispatcher("exported")
		exp, _ := rt.Exporter("exported")
		before := exp.NextSeq()
		if _, err := d.Offer([]byte(payload), 1); err != nil {
			t.Fatalf("offer: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- rt.Run(ctx) }()
		deadline := time.Now().Add(5 * time.Second)
		for exp.NextSeq() != before+1 {
			if time.Now().After(deadline) {
				t.Fatalf("record not exported")
			}
			time.Sleep(time.Millisecond)
		}
		cancel()
		if err := <-done; err != nil {
			t.Fatalf("run: %v", err)
		}
		if exp.Position() != d.PublisherPosition() {
			t.Fatalf("export cursor %d, publisher %d", exp.Position(), d.PublisherPosition())
		}
		return exp.Position()
	}

	first := exportOnce("one")
	second := exportOnce("two")
	if second <= first {
		t.Fatalf("cursor did not advance across restarts: %d then %d", first, second)
	}
	if logbuffer.PartitionID(second) != logbuffer.PartitionID(first)+1 {
		t.Fatalf("second run must start after the restored partition, got %d", logbuffer.PartitionID(second))
	}
}
