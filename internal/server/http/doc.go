// Package httpserver is the operations endpoint of a running dispatcher
// process: health, per-dispatcher positions and Prometheus metrics. It has
// no data path; offers and polls stay in-process.
//
// Example:
//
//	s := httpserver.New(rt, m, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = s.ListenAndServe(ctx, ":9090")
package httpserver
