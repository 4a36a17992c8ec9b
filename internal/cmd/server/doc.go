// Package serverrun exposes the shared Run entrypoint behind `flodispatch
// run`: load config, open the runtime, serve the ops endpoint and shut down
// on signal.
//
// Example:
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	_ = serverrun.Run(ctx, serverrun.Options{ConfigPath: "flo.yaml"})
package serverrun
