// Package config loads the dispatcher runtime configuration: built-in
// defaults, an optional JSON or YAML file, then FLO_* environment overrides.
// Sizes accept plain byte counts or human quantities like "16M".
//
// Example:
//
//	cfg, err := config.Load("/etc/flo/dispatch.yaml")
//	if err != nil { /* handle */ }
//	config.FromEnv(&cfg)
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
package config
