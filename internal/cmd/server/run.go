package serverrun

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/flo-dispatcher/internal/config"
	"github.com/rzbill/flo-dispatcher/internal/metrics"
	"github.com/rzbill/flo-dispatcher/internal/runtime"
	httpserver "github.com/rzbill/flo-dispatcher/internal/server/http"
	logpkg "github.com/rzbill/flo-dispatcher/pkg/log"
)

type Options struct {
	// ConfigPath is a JSON or YAML file; empty means defaults.
	ConfigPath string
	// Config is used as-is when set, skipping ConfigPath.
	Config *cfgpkg.Config
	// HTTPAddr overrides the configured metrics address when non-empty.
	HTTPAddr string
	// Logger overrides the logger built from the config.
	Logger logpkg.Logger
}

// LoadConfig resolves the effective configuration: file (or defaults), then
// FLO_* environment overrides.
func LoadConfig(opts Options) (cfgpkg.Config, error) {
	if opts.Config != nil {
		return *opts.Config, nil
	}
	cfg := cfgpkg.Default()
	if opts.ConfigPath != "" {
		c, err := cfgpkg.Load(opts.ConfigPath)
		if err != nil {
			return cfgpkg.Config{}, err
		}
		cfg = c
	}
	cfgpkg.FromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfgpkg.Config{}, err
	}
	return cfg, nil
}

// Run opens the runtime, drives its conductor and exporters and serves the
// ops endpoint until ctx is cancelled or a signal arrives.
func Run(ctx context.Context, opts Options) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := LoadConfig(opts)
	if err != nil {
		return err
	}

	procLogger := opts.Logger
	if procLogger == nil {
		procLogger, err = logpkg.ApplyConfig(&cfg.Log)
		if err != nil {
			lvl := logpkg.InfoLevel
			if l, e := logpkg.ParseLevel(cfg.Log.Level); e == nil {
				lvl = l
			}
			procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
		}
		// Pebble logs through the standard library logger.
		logpkg.RedirectStdLog(procLogger)
	}

	m := metrics.New()
	rt, err := runtime.Open(runtime.Options{Config: cfg, Logger: procLogger, Metrics: m})
	if err != nil {
		return err
	}
	defer rt.Close()

	addr := cfg.MetricsAddr
	if opts.HTTPAddr != "" {
		addr = opts.HTTPAddr
	}
	procLogger.Info("starting flo-dispatcher",
		logpkg.Int("dispatchers", len(cfg.Dispatchers)),
		logpkg.Str("http", addr),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Int("limit_interval_ms", cfg.LimitUpdateIntervalMs),
	)

	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return rt.Run(gctx) })
	if addr != "" {
		hsrv := httpserver.New(rt, m, procLogger)
		g.Go(func() error {
			defer hsrv.Close()
			return hsrv.ListenAndServe(gctx, addr)
		})
	}
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	procLogger.Info("flo-dispatcher stopped")
	return err
}
