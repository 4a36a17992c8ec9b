package exporter

import (
	"context"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/flo-dispatcher/pkg/log"
)

// TrimToMaxBytes deletes the oldest records until the stored values total
// at most maxBytes, committing up to batchLimit deletes per batch. It
// returns the number of deleted records.
func (e *Exporter) TrimToMaxBytes(ctx context.Context, maxBytes int64, batchLimit int) (int, error) {
	if batchLimit <= 0 {
		batchLimit = 1024
	}
	if maxBytes < 0 {
		return 0, nil
	}

	lower, upper := recordBounds(e.opts.Name)
	iter, err := e.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var total int64
	for ok := iter.First(); ok; ok = iter.Next() {
		total += int64(len(iter.Value()))
	}
	if total <= maxBytes {
		return 0, nil
	}

	deleted := 0
	for ok := iter.First(); ok && total > maxBytes; {
		b := e.db.NewBatch()
		n := 0
		for ok && n < batchLimit && total > maxBytes {
			total -= int64(len(iter.Value()))
			if err := b.Delete(iter.Key(), nil); err != nil {
				b.Close()
				return deleted, err
			}
			n++
			ok = iter.Next()
		}
		if err := e.db.CommitBatch(ctx, b); err != nil {
			b.Close()
			return deleted, err
		}
		b.Close()
		deleted += n
	}
	e.logger.Debug("retention trimmed", log.Int("deleted", deleted), log.Int64("maxBytes", maxBytes))
	return deleted, nil
}
