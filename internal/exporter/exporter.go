package exporter

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/rzbill/flo-dispatcher/internal/dispatcher"
	"github.com/rzbill/flo-dispatcher/internal/logbuffer"
	pebblestore "github.com/rzbill/flo-dispatcher/internal/storage/pebble"
	"github.com/rzbill/flo-dispatcher/pkg/log"
)

// Defaults applied by Open.
const (
	DefaultBatchSize    = 256
	DefaultPollInterval = time.Millisecond
	retentionInterval   = time.Second
)

// Options configures an Exporter.
type Options struct {
	// Name scopes the keyspace, usually the dispatcher name.
	Name string
	// BatchSize caps the fragments taken per PollBlock.
	BatchSize int
	// PollInterval is the idle wait when nothing was read.
	PollInterval time.Duration
	// RetentionBytes trims the oldest records once the stored values exceed
	// it. Zero keeps everything.
	RetentionBytes int64
	Logger         log.Logger
}

// Exporter writes blocks delivered by a subscription into Pebble.
type Exporter struct {
	db   *pebblestore.DB
	opts Options

	mu       sync.Mutex
	nextSeq  uint64
	position int64
	err      error

	logger log.Logger
}

// Open restores the cursor and sequence of opts.Name from db.
func Open(db *pebblestore.DB, opts Options) (*Exporter, error) {
	if opts.Name == "" || strings.ContainsRune(opts.Name, '/') {
		return nil, fmt.Errorf("exporter: invalid name %q", opts.Name)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	e := &Exporter{db: db, opts: opts, nextSeq: 1, position: -1, logger: logger.With(log.Component("exporter"), log.Str("name", opts.Name))}
	lower, upper := recordBounds(opts.Name)
	last, err := db.LastKey(lower, upper)
	if err != nil {
		return nil, fmt.Errorf("exporter: restore sequence: %w", err)
	}
	if last != nil {
		e.nextSeq = seqFromKey(last) + 1
	}
	if pos, _, ok := e.loadCursor(); ok {
		e.position = pos
	}
	e.logger.Info("exporter opened", log.F("nextSeq", e.nextSeq), log.Int64("position", e.position))
	return e, nil
}

// OnBlock implements dispatcher.BlockHandler. One block is one batch.
func (e *Exporter) OnBlock(buf []byte, offset, length int, _ int32, position int64) {
	partition := logbuffer.PartitionID(position)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return
	}

	b := e.db.NewBatch()
	defer b.Close()
	seq := e.nextSeq
	end := position
	var werr error
	dispatcher.Fragments(buf, offset, length, func(frame int, payload []byte, streamID int32, failed bool) bool {
		end = logbuffer.Position(partition, int32(frame+logbuffer.AlignedLength(len(payload))))
		var flags byte
		if failed {
			flags = logbuffer.FlagFailed
		}
		rec := EncodeRecord(encodeFragmentHeader(streamID, flags, end), payload)
		if werr = b.Set(KeyRecord(e.opts.Name, seq), rec, nil); werr != nil {
			return false
		}
		seq++
		return true
	})
	if werr == nil && end > e.position {
		werr = b.Set(KeyCursor(e.opts.Name), encodeCursor(end, seq-1), nil)
	}
	if werr == nil {
		werr = e.db.CommitBatch(context.Background(), b)
	}
	if werr != nil {
		e.err = fmt.Errorf("exporter: commit block at %d: %w", position, werr)
		e.logger.Error("export failed", log.Err(werr), log.Int64("position", position))
		return
	}
	e.nextSeq = seq
	if end > e.position {
		e.position = end
	}
}

// Err returns the first storage error. Once set, further blocks are dropped.
func (e *Exporter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Position is the dispatcher position after the last exported fragment, or
// -1 when nothing was exported yet.
func (e *Exporter) Position() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// ResumePartitionID is the lowest initial partition id a dispatcher feeding
// this exporter may start from. Positions of a fresh dispatcher restart at
// its initial partition, so starting after the restored cursor keeps the
// cursor moving forward across restarts.
func (e *Exporter) ResumePartitionID() (int32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.position < 0 {
		return 0, nil
	}
	id := logbuffer.PartitionID(e.position)
	if id >= logbuffer.MaxPartitionID {
		return 0, fmt.Errorf("exporter: cursor partition %d at the id ceiling", id)
	}
	return id + 1, nil
}

// NextSeq is the sequence the next record will get.
func (e *Exporter) NextSeq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextSeq
}

// Run polls sub until ctx is done or a write fails. Retention is enforced
// about once per second when configured.
func (e *Exporter) Run(ctx context.Context, sub *dispatcher.Subscription) error {
	idle := time.NewTicker(e.opts.PollInterval)
	defer idle.Stop()
	lastTrim := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		n := sub.PollBlock(e, e.opts.BatchSize, false)
		if err := e.Err(); err != nil {
			return err
		}
		if e.opts.RetentionBytes > 0 && time.Since(lastTrim) >= retentionInterval {
			if _, err := e.TrimToMaxBytes(ctx, e.opts.RetentionBytes, 0); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			lastTrim = time.Now()
		}
		if n > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-idle.C:
		}
	}
}

func encodeCursor(position int64, seq uint64) []byte {
	b := make([]byte, 0, 16)
	b = binary.BigEndian.AppendUint64(b, uint64(position))
	return binary.BigEndian.AppendUint64(b, seq)
}

func (e *Exporter) loadCursor() (int64, uint64, bool) {
	cur, err := e.db.Get(KeyCursor(e.opts.Name))
	if err != nil || len(cur) < 16 {
		if err != nil && !errors.Is(err, pebble.ErrNotFound) {
			e.logger.Warn("cursor unreadable", log.Err(err))
		}
		return 0, 0, false
	}
	return int64(binary.BigEndian.Uint64(cur[:8])), binary.BigEndian.Uint64(cur[8:16]), true
}
