// Package pebblestore is the Pebble wrapper behind the exporter: fsync
// policy, batches, range helpers and a metrics hook.
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./export",
//	    Fsync:   pebblestore.FsyncModeInterval,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(ctx, b)
//	b.Close()
package pebblestore
