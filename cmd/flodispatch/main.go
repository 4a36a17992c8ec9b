package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	benchcmd "github.com/rzbill/flo-dispatcher/internal/cmd/bench"
	replaycmd "github.com/rzbill/flo-dispatcher/internal/cmd/replay"
	serverrun "github.com/rzbill/flo-dispatcher/internal/cmd/server"
	logpkg "github.com/rzbill/flo-dispatcher/pkg/log"
)

func main() {
	// initialize logger for CLI
	// Respect FLO_LOG_LEVEL for both CLI and bench output
	level := os.Getenv("FLO_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.WarnLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	// Redirect standard library logs (used by Pebble) to our logger
	logpkg.RedirectStdLog(logger)

	rootCmd := &cobra.Command{
		Use:   "flodispatch",
		Short: "In-process log-buffer dispatcher",
		Long:  "flodispatch runs named dispatchers with optional Pebble export, benchmarks them and replays exported fragments.",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the dispatchers from config until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			httpAddr, _ := cmd.Flags().GetString("http")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := serverrun.Run(ctx, serverrun.Options{ConfigPath: configPath, HTTPAddr: httpAddr}); err != nil {
				return fmt.Errorf("run error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	runCmd.Flags().String("config", os.Getenv("FLO_CONFIG"), "Config file (.json, .yaml or .yml)")
	runCmd.Flags().String("http", "", "Ops listen address for /v1/healthz, /v1/dispatchers and /metrics (overrides metricsAddr)")
	rootCmd.AddCommand(runCmd)

	rootCmd.AddCommand(
		benchcmd.NewBenchCommand(func() logpkg.Logger { return logger }),
		replaycmd.NewReplayCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
