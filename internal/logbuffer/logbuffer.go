package logbuffer

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"
)

const (
	// MinPartitionCount keeps one partition free between the slowest reader
	// and the partition being cleaned.
	MinPartitionCount = 3
	// MaxPartitionSize keeps offsets inside the low 32 bits of a position.
	MaxPartitionSize = 1 << 30
	// MaxPartitionID is the last id that may roll over. Ids only grow, so a
	// buffer whose active id passes it stops rolling and offers keep
	// returning rollover.
	MaxPartitionID = math.MaxInt32 - 2
)

var ErrInvalidLayout = errors.New("logbuffer: invalid layout")

// LogBuffer owns a fixed set of partitions and the id of the active one.
type LogBuffer struct {
	raw                []byte
	partitions         []*Partition
	partitionSize      int32
	initialPartitionID int32

	activePartitionID atomic.Int32
}

// New allocates partitionCount partitions of partitionSize bytes each.
// initialPartitionID becomes the first active partition.
func New(partitionCount, partitionSize int, initialPartitionID int32) (*LogBuffer, error) {
	if partitionCount < MinPartitionCount {
		return nil, fmt.Errorf("%w: partition count %d below %d", ErrInvalidLayout, partitionCount, MinPartitionCount)
	}
	if partitionSize <= 0 || partitionSize > MaxPartitionSize {
		return nil, fmt.Errorf("%w: partition size %d out of range", ErrInvalidLayout, partitionSize)
	}
	if partitionSize%FrameAlignment != 0 {
		return nil, fmt.Errorf("%w: partition size %d not a multiple of %d", ErrInvalidLayout, partitionSize, FrameAlignment)
	}
	if initialPartitionID < 0 || initialPartitionID > MaxPartitionID {
		return nil, fmt.Errorf("%w: initial partition id %d out of range", ErrInvalidLayout, initialPartitionID)
	}

	raw := allocAligned(partitionCount * partitionSize)
	b := &LogBuffer{
		raw:                raw,
		partitions:         make([]*Partition, partitionCount),
		partitionSize:      int32(partitionSize),
		initialPartitionID: initialPartitionID,
	}
	for i := range b.partitions {
		b.partitions[i] = newPartition(raw, i, partitionSize)
	}
	b.activePartitionID.Store(initialPartitionID)
	return b, nil
}

// allocAligned returns a zeroed byte region whose first byte is 8-byte aligned,
// so every frame length word can be accessed atomically.
func allocAligned(size int) []byte {
	words := make([]uint64, (size+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size)
}

// ActivePartitionIDVolatile returns the id producers currently append to.
func (b *LogBuffer) ActivePartitionIDVolatile() int32 { return b.activePartitionID.Load() }

// ActivePartition returns the partition behind the active id.
func (b *LogBuffer) ActivePartition() *Partition {
	return b.Partition(b.ActivePartitionIDVolatile())
}

// Partition maps a logical partition id to its physical slot.
func (b *LogBuffer) Partition(id int32) *Partition {
	return b.partitions[int(uint32(id))%len(b.partitions)]
}

// PartitionCount returns the number of physical partitions.
func (b *LogBuffer) PartitionCount() int { return len(b.partitions) }

// PartitionSize returns the capacity of each partition.
func (b *LogBuffer) PartitionSize() int32 { return b.partitionSize }

// InitialPartitionID returns the id the buffer started from.
func (b *LogBuffer) InitialPartitionID() int32 { return b.initialPartitionID }

// Capacity returns the total size of the backing region.
func (b *LogBuffer) Capacity() int { return len(b.raw) }

// RawBuffer returns the backing region shared by all partitions.
func (b *LogBuffer) RawBuffer() []byte { return b.raw }

// OnActivePartitionFilled is called by the producer that moved partition
// filledID's tail to its capacity. It prepares the partition after the next
// one for reuse and then advances the active id. Only the first call for a
// given id has an effect; it reports whether this call advanced the id.
func (b *LogBuffer) OnActivePartitionFilled(filledID int32) bool {
	if filledID > MaxPartitionID || b.activePartitionID.Load() != filledID {
		return false
	}
	b.Partition(filledID + 2).clean()
	return b.activePartitionID.CompareAndSwap(filledID, filledID+1)
}
