package logbuffer

import "sync/atomic"

const cacheLinePad = 64

// Partition is one fixed-capacity segment of a LogBuffer. Its data slice is
// a window into the buffer's backing region, so block readers can hand it on
// without copying.
type Partition struct {
	tail atomic.Int32
	_    [cacheLinePad - 4]byte

	data  []byte
	base  int
	index int
}

func newPartition(raw []byte, index, size int) *Partition {
	base := index * size
	return &Partition{
		data:  raw[base : base+size : base+size],
		base:  base,
		index: index,
	}
}

// TailCounterVolatile returns the number of bytes reserved so far.
func (p *Partition) TailCounterVolatile() int32 { return p.tail.Load() }

// CASTailCounter moves the tail from expected to updated. It is the only way
// producers reserve space.
func (p *Partition) CASTailCounter(expected, updated int32) bool {
	return p.tail.CompareAndSwap(expected, updated)
}

// Capacity returns the size of the data region in bytes.
func (p *Partition) Capacity() int32 { return int32(len(p.data)) }

// Data returns the partition's data region.
func (p *Partition) Data() []byte { return p.data }

// BaseOffset returns where the data region starts inside the buffer's raw region.
func (p *Partition) BaseOffset() int { return p.base }

// Index returns the physical slot of the partition.
func (p *Partition) Index() int { return p.index }

// clean zeroes the data region and resets the tail for reuse under a new id.
// No producer or reader may be inside the partition while it runs.
func (p *Partition) clean() {
	clear(p.data)
	p.tail.Store(0)
}
