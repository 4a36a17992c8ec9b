package logbuffer

// Appender result codes. Non-negative results are the new partition tail.
const (
	// ResultInsufficientSpace means the partition was already full; nothing
	// was written and the caller should move on to the next partition.
	ResultInsufficientSpace int32 = -1
	// ResultRollover means this call filled the partition with padding. The
	// caller owns the rollover and must advance the active partition.
	ResultRollover int32 = -2
	// ResultContended means another producer moved the tail first.
	ResultContended int32 = -3
)

// Appender implements the reserve-then-write algorithm over a Partition.
// It holds no state and is safe for concurrent use.
type Appender struct{}

// Append writes payload as one MESSAGE frame at offset, which must be the
// tail the caller just read. The frame is committed before Append returns.
func (a *Appender) Append(p *Partition, offset int32, payload []byte, streamID int32, flags byte) int32 {
	framed := FramedLength(len(payload))
	result, ok := a.reserve(p, offset, AlignedLength(len(payload)))
	if !ok {
		return result
	}

	buf := p.data
	frame := int(offset)
	FramePutLengthOrdered(buf, frame, int32(-framed))
	putHeader(buf, frame, TypeMessage, streamID, flags)
	copy(buf[MessageOffset(frame):frame+framed], payload)
	FramePutLengthOrdered(buf, frame, int32(framed))
	return result
}

// Claim reserves a MESSAGE frame of length payload bytes at offset and points
// claimed at it. The frame stays invisible to readers until claimed is
// committed or aborted. A claim that is never completed blocks every reader
// at that offset for the rest of the partition's lifetime.
func (a *Appender) Claim(p *Partition, offset int32, claimed *ClaimedFragment, length int, streamID int32) int32 {
	framed := FramedLength(length)
	result, ok := a.reserve(p, offset, AlignedLength(length))
	if !ok {
		return result
	}

	buf := p.data
	frame := int(offset)
	FramePutLengthOrdered(buf, frame, int32(-framed))
	putHeader(buf, frame, TypeMessage, streamID, 0)
	claimed.wrap(buf, frame, framed)
	return result
}

// reserve decides how a frame of alignedLength bytes at offset is handled.
// It returns the new tail and true when the caller may write the frame.
func (a *Appender) reserve(p *Partition, offset int32, alignedLength int) (int32, bool) {
	capacity := p.Capacity()
	if offset >= capacity {
		return ResultInsufficientSpace, false
	}

	newTail := int64(offset) + int64(alignedLength)
	if newTail <= int64(capacity) {
		if !p.CASTailCounter(offset, int32(newTail)) {
			return ResultContended, false
		}
		return int32(newTail), true
	}

	// Does not fit: take the rest of the partition and pad it out.
	if !p.CASTailCounter(offset, capacity) {
		return ResultContended, false
	}
	a.writePadding(p, offset)
	return ResultRollover, false
}

// writePadding fills [offset, capacity) with one PADDING frame. A remainder
// smaller than a header is left blank; readers treat it as end of partition.
func (a *Appender) writePadding(p *Partition, offset int32) {
	padLength := p.Capacity() - offset
	if padLength < HeaderLength {
		return
	}
	buf := p.data
	frame := int(offset)
	FramePutLengthOrdered(buf, frame, -padLength)
	putHeader(buf, frame, TypePadding, 0, 0)
	FramePutLengthOrdered(buf, frame, padLength)
}
