package exporter

import (
	"github.com/cockroachdb/pebble"
)

// ReadOptions selects records by sequence.
type ReadOptions struct {
	Start uint64 // first sequence, inclusive; zero begins at the first record
	Limit int    // zero means no limit
}

// Item is one exported fragment.
type Item struct {
	Seq      uint64
	StreamID int32
	Failed   bool
	// Position is the dispatcher position right after the fragment.
	Position int64
	Payload  []byte
}

// Read returns up to Limit items starting at Start and the sequence to
// resume from, which is zero when the scan reached the end.
func (e *Exporter) Read(opts ReadOptions) ([]Item, uint64, error) {
	return Read(e.db, e.opts.Name, opts)
}

// Read scans the records of name without an Exporter, for offline tools.
func Read(db interface {
	NewIter(*pebble.IterOptions) (*pebble.Iterator, error)
}, name string, opts ReadOptions) ([]Item, uint64, error) {
	lower, upper := recordBounds(name)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, 0, err
	}
	defer iter.Close()

	items := make([]Item, 0, max(1, opts.Limit))
	var ok bool
	if opts.Start == 0 {
		ok = iter.First()
	} else {
		ok = iter.SeekGE(KeyRecord(name, opts.Start))
	}
	for ; ok && (opts.Limit == 0 || len(items) < opts.Limit); ok = iter.Next() {
		dec, valid := DecodeRecord(iter.Value())
		if !valid {
			continue
		}
		streamID, flags, position, valid := decodeFragmentHeader(dec.Header)
		if !valid {
			continue
		}
		items = append(items, Item{
			Seq:      seqFromKey(iter.Key()),
			StreamID: streamID,
			Failed:   flags != 0,
			Position: position,
			Payload:  dec.Payload,
		})
	}
	var next uint64
	if ok {
		next = seqFromKey(iter.Key())
	}
	return items, next, iter.Error()
}
