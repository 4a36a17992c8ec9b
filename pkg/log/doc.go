// Package log provides the structured logging facade used across the
// dispatcher runtime.
//
// # Overview
//
// The package exposes a small Logger interface with leveled methods and a
// Field type for structured context. Records flow through log/slog via a
// bridge handler into a Formatter and one or more Outputs.
//
// Quick start
//
//	l := log.NewLogger(
//	    log.WithLevel(log.InfoLevel),
//	    log.WithFormatter(&log.TextFormatter{}),
//	    log.WithOutput(log.NewConsoleOutput()),
//	)
//	l = l.With(log.Component("dispatcher"), log.Str("name", "inbound"))
//	l.Info("dispatcher created", log.Int("partitions", 3))
//
// # Configuration
//
// ApplyConfig builds a logger from a declarative Config. Sampling keeps
// hot-path messages such as back-pressure warnings from flooding the output.
//
// # Interop
//
// RedirectStdLog routes the standard library logger (used by Pebble) through
// a Logger.
package log
