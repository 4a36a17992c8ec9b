// Package bench contains the `bench` command: N producers against M
// subscriptions on one in-process dispatcher.
package bench

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/flo-dispatcher/internal/config"
	"github.com/rzbill/flo-dispatcher/internal/dispatcher"
	"github.com/rzbill/flo-dispatcher/internal/filter"
	"github.com/rzbill/flo-dispatcher/internal/metrics"
	rt "github.com/rzbill/flo-dispatcher/internal/runtime"
	"github.com/rzbill/flo-dispatcher/pkg/log"
)

const dispatcherName = "bench"

// Options are the bench parameters.
type Options struct {
	Producers       int
	Subscribers     int
	Messages        int // per producer
	MessageSize     int
	BufferSize      cfgpkg.Size
	Partitions      int
	WindowLength    cfgpkg.Size
	Block           bool
	StreamAware     bool
	Filter          string
	ExportDir       string
	MetricsAddr     string
	LimitIntervalMs int
	Timeout         time.Duration
}

// Result summarizes a run.
type Result struct {
	Produced  int64
	Rejected  int64
	Rollovers int64
	// Delivered counts fragments handed to subscriber code, after filtering.
	Delivered int64
	Consumed  int64
	Elapsed   time.Duration
	Bytes     int64
}

// Run executes one bench run.
func Run(ctx context.Context, opts Options, logger log.Logger) (Result, error) {
	if opts.Producers <= 0 || opts.Subscribers < 0 || opts.Messages <= 0 {
		return Result{}, errors.New("bench: producers and messages must be positive")
	}
	if opts.MessageSize < 8 {
		opts.MessageSize = 8
	}
	f, err := filter.Compile(opts.Filter)
	if err != nil {
		return Result{}, err
	}

	cfg := cfgpkg.Default()
	if opts.LimitIntervalMs > 0 {
		cfg.LimitUpdateIntervalMs = opts.LimitIntervalMs
	}
	cfg.Dispatchers = []cfgpkg.DispatcherConfig{{
		Name:         dispatcherName,
		BufferSize:   opts.BufferSize,
		Partitions:   opts.Partitions,
		WindowLength: opts.WindowLength,
		Export:       opts.ExportDir != "",
	}}
	cfg.Export.DataDir = opts.ExportDir

	m := metrics.New()
	r, err := rt.Open(rt.Options{Config: cfg, Logger: logger, Metrics: m})
	if err != nil {
		return Result{}, err
	}
	defer r.Close()
	d, err := r.Dispatcher(dispatcherName)
	if err != nil {
		return Result{}, err
	}
	subs := make([]*dispatcher.Subscription, opts.Subscribers)
	for i := range subs {
		if subs[i], err = d.OpenSubscription(fmt.Sprintf("sub-%d", i)); err != nil {
			return Result{}, err
		}
	}

	if opts.MetricsAddr != "" {
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: m.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server", log.Err(err))
			}
		}()
		defer srv.Close()
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	runCtx, stopRuntime := context.WithCancel(ctx)
	defer stopRuntime()
	runtimeDone := make(chan error, 1)
	go func() { runtimeDone <- r.Run(runCtx) }()
	exp, exporting := r.Exporter(dispatcherName)
	var startSeq uint64
	if exporting {
		startSeq = exp.NextSeq()
	}

	var res Result
	total := int64(opts.Producers) * int64(opts.Messages)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < opts.Producers; p++ {
		p := p
		g.Go(func() error { return produce(gctx, d, p, opts, &res) })
	}
	for _, sub := range subs {
		sub := sub
		g.Go(func() error { return consume(gctx, sub, total, opts, f, &res) })
	}
	err = g.Wait()
	res.Elapsed = time.Since(start)

	if exporting && err == nil {
		// Let the exporter drain before the runtime stops.
		for int64(exp.NextSeq()-startSeq) < res.Produced && ctx.Err() == nil && exp.Err() == nil {
			time.Sleep(time.Millisecond)
		}
	}
	stopRuntime()
	if rerr := <-runtimeDone; err == nil {
		err = rerr
	}
	logger.Info("bench finished",
		log.Int64("produced", res.Produced),
		log.Int64("consumed", res.Consumed),
		log.Int64("rejected", res.Rejected),
		log.Duration("elapsed", res.Elapsed))
	return res, err
}

func produce(ctx context.Context, d *dispatcher.Dispatcher, id int, opts Options, res *Result) error {
	payload := make([]byte, opts.MessageSize)
	binary.LittleEndian.PutUint32(payload[0:], uint32(id))
	for seq := 0; seq < opts.Messages; {
		binary.LittleEndian.PutUint32(payload[4:], uint32(seq))
		pos, err := d.Offer(payload, int32(id))
		if err != nil {
			return err
		}
		switch pos {
		case dispatcher.PositionRejected:
			atomic.AddInt64(&res.Rejected, 1)
			if err := ctx.Err(); err != nil {
				return err
			}
			runtime.Gosched()
		case dispatcher.PositionRollover:
			atomic.AddInt64(&res.Rollovers, 1)
		default:
			atomic.AddInt64(&res.Produced, 1)
			atomic.AddInt64(&res.Bytes, int64(len(payload)))
			seq++
		}
	}
	return nil
}

func consume(ctx context.Context, sub *dispatcher.Subscription, total int64, opts Options, f *filter.Filter, res *Result) error {
	var consumed int64
	count := func() { consumed++; atomic.AddInt64(&res.Consumed, 1) }
	var h dispatcher.FragmentHandler = dispatcher.FragmentHandlerFunc(func([]byte, int32, bool) dispatcher.FragmentResult {
		atomic.AddInt64(&res.Delivered, 1)
		return dispatcher.Consume
	})
	h = filter.Wrap(f, h)
	counted := dispatcher.FragmentHandlerFunc(func(p []byte, stream int32, failed bool) dispatcher.FragmentResult {
		r := h.OnFragment(p, stream, failed)
		if r == dispatcher.Consume {
			count()
		}
		return r
	})
	block := dispatcher.BlockHandlerFunc(func(buf []byte, offset, length int, _ int32, _ int64) {
		dispatcher.Fragments(buf, offset, length, func(_ int, p []byte, stream int32, failed bool) bool {
			counted.OnFragment(p, stream, failed)
			return true
		})
	})

	for consumed < total {
		if err := ctx.Err(); err != nil {
			return err
		}
		var n int
		if opts.Block {
			n = sub.PollBlock(block, 256, opts.StreamAware)
		} else {
			n = sub.PollFragments(counted, 256, opts.StreamAware)
		}
		if n == 0 {
			runtime.Gosched()
		}
	}
	return nil
}

// Print writes a human summary of res.
func Print(w io.Writer, res Result, subscribers int) {
	secs := res.Elapsed.Seconds()
	if secs == 0 {
		secs = 1e-9
	}
	fmt.Fprintf(w, "produced:   %d msgs in %s\n", res.Produced, res.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "throughput: %.0f msgs/s, %s/s\n", float64(res.Produced)/secs, bytefmt.ByteSize(uint64(float64(res.Bytes)/secs)))
	fmt.Fprintf(w, "rejected:   %d  rollovers: %d\n", res.Rejected, res.Rollovers)
	fmt.Fprintf(w, "consumed:   %d across %d subscriptions, %d delivered after filter\n", res.Consumed, subscribers, res.Delivered)
}

// NewBenchCommand constructs the `bench` command.
func NewBenchCommand(logger func() log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run producers and subscriptions against one in-process dispatcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opts Options
			var err error
			fl := cmd.Flags()
			opts.Producers, _ = fl.GetInt("producers")
			opts.Subscribers, _ = fl.GetInt("subscribers")
			opts.Messages, _ = fl.GetInt("messages")
			opts.MessageSize, _ = fl.GetInt("size")
			opts.Partitions, _ = fl.GetInt("partitions")
			opts.StreamAware, _ = fl.GetBool("stream-aware")
			opts.Filter, _ = fl.GetString("filter")
			opts.ExportDir, _ = fl.GetString("export-dir")
			opts.MetricsAddr, _ = fl.GetString("metrics-addr")
			opts.LimitIntervalMs, _ = fl.GetInt("limit-interval-ms")
			opts.Timeout, _ = fl.GetDuration("timeout")
			mode, _ := fl.GetString("mode")
			switch mode {
			case "fragment":
			case "block":
				opts.Block = true
			default:
				return fmt.Errorf("invalid --mode %q; use fragment|block", mode)
			}
			bufSize, _ := fl.GetString("buffer-size")
			if opts.BufferSize, err = cfgpkg.ParseSize(bufSize); err != nil {
				return err
			}
			window, _ := fl.GetString("window")
			if opts.WindowLength, err = cfgpkg.ParseSize(window); err != nil {
				return err
			}

			res, err := Run(cmd.Context(), opts, logger())
			if err != nil {
				return err
			}
			Print(cmd.OutOrStdout(), res, opts.Subscribers)
			return nil
		},
	}
	cmd.Flags().Int("producers", 4, "Concurrent producers")
	cmd.Flags().Int("subscribers", 1, "Subscriptions, each polled by its own goroutine")
	cmd.Flags().Int("messages", 100000, "Messages per producer")
	cmd.Flags().Int("size", 64, "Payload size in bytes (min 8)")
	cmd.Flags().String("buffer-size", "12M", "Log buffer size, e.g. 12M")
	cmd.Flags().Int("partitions", 3, "Partition count (min 3)")
	cmd.Flags().String("window", "", "Publisher window; default a quarter partition")
	cmd.Flags().String("mode", "fragment", "Poll mode: fragment|block")
	cmd.Flags().Bool("stream-aware", false, "Stop polls at stream changes")
	cmd.Flags().String("filter", "", "CEL filter applied by subscribers")
	cmd.Flags().String("export-dir", "", "Export everything to a Pebble store in this directory")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	cmd.Flags().Int("limit-interval-ms", 1, "Publisher limit update interval")
	cmd.Flags().Duration("timeout", time.Minute, "Abort the run after this long")
	return cmd
}
