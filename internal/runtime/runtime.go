package runtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/flo-dispatcher/internal/config"
	"github.com/rzbill/flo-dispatcher/internal/dispatcher"
	"github.com/rzbill/flo-dispatcher/internal/exporter"
	"github.com/rzbill/flo-dispatcher/internal/metrics"
	pebblestore "github.com/rzbill/flo-dispatcher/internal/storage/pebble"
	"github.com/rzbill/flo-dispatcher/pkg/log"
)

// ExportSubscription is the subscription name used by exporters.
const ExportSubscription = "export"

// ErrUnknownDispatcher is returned for names that were never created.
var ErrUnknownDispatcher = errors.New("runtime: unknown dispatcher")

// Options for building the Runtime.
type Options struct {
	Config  cfgpkg.Config
	Logger  log.Logger
	Metrics *metrics.Metrics // optional
}

type export struct {
	exp *exporter.Exporter
	sub *dispatcher.Subscription
}

// Runtime owns named dispatchers, their exporters and the conductor that
// keeps publisher limits current.
type Runtime struct {
	config  cfgpkg.Config
	logger  log.Logger
	metrics *metrics.Metrics

	mu          sync.RWMutex
	db          *pebblestore.DB
	dispatchers map[string]*dispatcher.Dispatcher
	exports     map[string]export
}

// Open builds every dispatcher listed in opts.Config.
func Open(opts Options) (*Runtime, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	r := &Runtime{
		config:      opts.Config,
		logger:      logger.With(log.Component("runtime")),
		metrics:     opts.Metrics,
		dispatchers: make(map[string]*dispatcher.Dispatcher),
		exports:     make(map[string]export),
	}
	for _, dc := range opts.Config.Dispatchers {
		if _, err := r.CreateDispatcher(dc); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	return r, nil
}

// CreateDispatcher builds and registers a dispatcher, attaching an exporter
// when dc.Export is set.
func (r *Runtime) CreateDispatcher(dc cfgpkg.DispatcherConfig) (*dispatcher.Dispatcher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.dispatchers[dc.Name]; exists {
		return nil, fmt.Errorf("runtime: dispatcher %q already exists", dc.Name)
	}

	opts := dispatcher.Options{
		Name:               dc.Name,
		BufferSize:         dc.BufferSize.Int(),
		PartitionCount:     dc.Partitions,
		WindowLength:       dc.WindowLength.Int(),
		MaxFrameLength:     dc.MaxFrameLength.Int(),
		InitialPartitionID: dc.InitialPartitionID,
		Logger:             r.logger,
	}
	if r.metrics != nil {
		opts.Metrics = r.metrics
	}

	var exp *exporter.Exporter
	if dc.Export {
		var err error
		if exp, err = r.openExporter(dc.Name); err != nil {
			return nil, err
		}
		resume, err := exp.ResumePartitionID()
		if err != nil {
			return nil, err
		}
		if resume > opts.InitialPartitionID {
			r.logger.Info("resuming after exported cursor", log.Str("dispatcher", dc.Name), log.Int32("initialPartitionID", resume))
			opts.InitialPartitionID = resume
		}
	}

	d, err := dispatcher.New(opts)
	if err != nil {
		return nil, fmt.Errorf("runtime: dispatcher %q: %w", dc.Name, err)
	}
	if exp != nil {
		sub, err := d.OpenSubscription(ExportSubscription)
		if err != nil {
			_ = d.Close()
			return nil, err
		}
		r.exports[dc.Name] = export{exp: exp, sub: sub}
	}
	r.dispatchers[dc.Name] = d
	return d, nil
}

// openExporter opens the exporter for name on the shared store, opening the
// store on first use.
func (r *Runtime) openExporter(name string) (*exporter.Exporter, error) {
	if r.db == nil {
		db, err := r.openStore()
		if err != nil {
			return nil, err
		}
		r.db = db
	}
	return exporter.Open(r.db, exporter.Options{
		Name:           name,
		BatchSize:      r.config.Export.BatchSize,
		RetentionBytes: int64(r.config.Export.RetentionBytes),
		Logger:         r.logger,
	})
}

func (r *Runtime) openStore() (*pebblestore.DB, error) {
	ec := r.config.Export
	mode, err := pebblestore.ParseFsyncMode(ec.Fsync)
	if err != nil {
		return nil, err
	}
	dir := ec.DataDir
	if dir == "" {
		dir = cfgpkg.DefaultExportDir()
	}
	opts := pebblestore.Options{
		DataDir:       dir,
		Fsync:         mode,
		FsyncInterval: time.Duration(ec.FsyncIntervalMs) * time.Millisecond,
	}
	if r.metrics != nil {
		opts.Metrics = r.metrics
	}
	r.logger.Info("opening export store", log.Str("dir", dir), log.Str("fsync", mode.String()))
	return pebblestore.Open(opts)
}

// Dispatcher returns the named dispatcher.
func (r *Runtime) Dispatcher(name string) (*dispatcher.Dispatcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dispatchers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDispatcher, name)
	}
	return d, nil
}

// Exporter returns the exporter attached to the named dispatcher.
func (r *Runtime) Exporter(name string) (*exporter.Exporter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.exports[name]
	return e.exp, ok
}

// Names lists dispatcher names in sorted order.
func (r *Runtime) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dispatchers))
	for name := range r.dispatchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateLimits runs one conductor pass over every dispatcher.
func (r *Runtime) UpdateLimits() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.dispatchers {
		d.UpdatePublisherLimit()
	}
}

// Run drives the conductor and every exporter until ctx is cancelled or an
// exporter fails.
func (r *Runtime) Run(ctx context.Context) error {
	interval := time.Duration(r.config.LimitUpdateIntervalMs) * time.Millisecond
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				r.UpdateLimits()
			}
		}
	})

	r.mu.RLock()
	for name, e := range r.exports {
		name, e := name, e
		g.Go(func() error {
			if err := e.exp.Run(ctx, e.sub); err != nil {
				r.logger.Error("exporter stopped", log.Str("dispatcher", name), log.Err(err))
				return err
			}
			return nil
		})
	}
	r.mu.RUnlock()

	r.logger.Info("runtime started", log.Int("dispatchers", len(r.Names())), log.Duration("limitInterval", interval))
	return g.Wait()
}

// CheckHealth reports exporter failures and store availability.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, e := range r.exports {
		if err := e.exp.Err(); err != nil {
			return fmt.Errorf("runtime: exporter %q: %w", name, err)
		}
	}
	if r.db == nil {
		return nil
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// DB exposes the export store, nil when no dispatcher exports.
func (r *Runtime) DB() *pebblestore.DB {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.db
}

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }

// Close closes every dispatcher and the export store.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.dispatchers {
		_ = d.Close()
	}
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}
