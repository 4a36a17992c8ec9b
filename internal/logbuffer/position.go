package logbuffer

import "sync/atomic"

// Position encodes a partition id (high 32 bits) and a partition offset (low
// 32 bits). Ordering by numeric value follows use order as long as partition
// ids only grow.
func Position(partitionID, partitionOffset int32) int64 {
	return int64(partitionID)<<32 | int64(uint32(partitionOffset))
}

// PartitionID decodes the partition id of a position.
func PartitionID(position int64) int32 { return int32(position >> 32) }

// PartitionOffset decodes the intra-partition offset of a position.
func PartitionOffset(position int64) int32 { return int32(uint32(position)) }

// AtomicPosition is a position cell with a single writer and any number of
// readers. Loads and stores are atomic, which in Go also gives the
// acquire/release ordering readers rely on.
type AtomicPosition struct {
	v atomic.Int64
}

// NewAtomicPosition returns a cell holding initial.
func NewAtomicPosition(initial int64) *AtomicPosition {
	p := &AtomicPosition{}
	p.v.Store(initial)
	return p
}

// Get returns the current value. Owners and readers use the same atomic load.
func (p *AtomicPosition) Get() int64 { return p.v.Load() }

// GetVolatile is an alias of Get kept for call sites that cross goroutines.
func (p *AtomicPosition) GetVolatile() int64 { return p.v.Load() }

// SetOrdered publishes v.
func (p *AtomicPosition) SetOrdered(v int64) { p.v.Store(v) }

// ProposeMaxOrdered moves the cell to v only if v is greater than the
// current value. It reports whether the value changed.
func (p *AtomicPosition) ProposeMaxOrdered(v int64) bool {
	for {
		cur := p.v.Load()
		if v <= cur {
			return false
		}
		if p.v.CompareAndSwap(cur, v) {
			return true
		}
	}
}
