// Package runtime wires config, dispatchers, exporters and metrics into one
// process. Run drives the conductor, which recomputes every dispatcher's
// publisher limit on a fixed interval, and every exporter's poll loop.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	d, _ := rt.Dispatcher("default")
//	go rt.Run(ctx)
//	_, _ = d.Offer([]byte("hello"), 0)
package runtime
