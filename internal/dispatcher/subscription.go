package dispatcher

import (
	"sync/atomic"

	"github.com/rzbill/flo-dispatcher/internal/logbuffer"
)

// Subscription reads frames in write order. It is owned by one goroutine:
// concurrent polls on the same Subscription are not supported.
type Subscription struct {
	name       string
	dispatcher *Dispatcher
	position   *logbuffer.AtomicPosition
	closed     atomic.Bool
}

// Name returns the subscription name.
func (s *Subscription) Name() string { return s.name }

// Position is the position of the next frame to read.
func (s *Subscription) Position() int64 { return s.position.GetVolatile() }

// Close removes the subscription from its dispatcher.
func (s *Subscription) Close() { s.dispatcher.CloseSubscription(s) }

// IsClosed reports whether the subscription was closed.
func (s *Subscription) IsClosed() bool { return s.closed.Load() }

// cursor is the traversal state of one poll.
type cursor struct {
	id       int32
	offset   int
	data     []byte
	capacity int
}

func (s *Subscription) begin() (cursor, bool) {
	if s.closed.Load() {
		return cursor{}, false
	}
	pos := s.position.Get()
	if s.dispatcher.publisherPosition.GetVolatile() <= pos {
		return cursor{}, false
	}
	id := logbuffer.PartitionID(pos)
	p := s.dispatcher.buf.Partition(id)
	return cursor{
		id:       id,
		offset:   int(logbuffer.PartitionOffset(pos)),
		data:     p.Data(),
		capacity: int(p.Capacity()),
	}, true
}

// atEnd reports whether no frame can start at the cursor offset.
func (c *cursor) atEnd() bool { return c.capacity-c.offset < logbuffer.HeaderLength }

func (c *cursor) nextPartition() {
	c.id++
	c.offset = 0
}

func (c *cursor) position() int64 {
	if c.atEnd() {
		return logbuffer.Position(c.id+1, 0)
	}
	return logbuffer.Position(c.id, int32(c.offset))
}

// PollFragments hands up to maxCount fragments to h and returns how many
// were consumed. It stops at an uncommitted frame, at the end of the
// partition, or when h returns Postpone. With streamAware it also stops at
// the first fragment whose stream differs from the first one delivered.
func (s *Subscription) PollFragments(h FragmentHandler, maxCount int, streamAware bool) int {
	if maxCount <= 0 {
		return 0
	}
	c, ok := s.begin()
	if !ok {
		return 0
	}

	count, bytes := 0, 0
	var stream int32
	for count < maxCount && !c.atEnd() {
		length := int(logbuffer.FrameLengthVolatile(c.data, c.offset))
		if length <= 0 {
			break
		}
		aligned := logbuffer.Align(length, logbuffer.FrameAlignment)
		if logbuffer.FrameType(c.data, c.offset) == logbuffer.TypePadding {
			c.offset += aligned
			if c.atEnd() {
				c.nextPartition()
				break
			}
			continue
		}

		streamID := logbuffer.FrameStreamID(c.data, c.offset)
		if streamAware {
			if count == 0 {
				stream = streamID
			} else if streamID != stream {
				break
			}
		}
		failed := logbuffer.IsFailed(logbuffer.FrameFlags(c.data, c.offset))
		payload := c.data[logbuffer.MessageOffset(c.offset):c.offset+length]
		if h.OnFragment(payload, streamID, failed) == Postpone {
			break
		}
		count++
		bytes += length - logbuffer.HeaderLength
		c.offset += aligned
	}

	s.position.SetOrdered(c.position())
	if count > 0 {
		s.dispatcher.metrics.ObservePoll(s.dispatcher.name, s.name, count, bytes)
	}
	return count
}

// PollBlock hands h one run of up to maxCount contiguous messages and
// returns the run length. Padding ends a run. With streamAware the run only
// holds frames of the first frame's stream; otherwise h receives stream -1.
func (s *Subscription) PollBlock(h BlockHandler, maxCount int, streamAware bool) int {
	if maxCount <= 0 {
		return 0
	}
	c, ok := s.begin()
	if !ok {
		return 0
	}

	count, start := 0, 0
	var stream int32
	for count < maxCount && !c.atEnd() {
		length := int(logbuffer.FrameLengthVolatile(c.data, c.offset))
		if length <= 0 {
			break
		}
		aligned := logbuffer.Align(length, logbuffer.FrameAlignment)
		if logbuffer.FrameType(c.data, c.offset) == logbuffer.TypePadding {
			if count > 0 {
				break
			}
			c.offset += aligned
			if c.atEnd() {
				c.nextPartition()
				break
			}
			continue
		}

		streamID := logbuffer.FrameStreamID(c.data, c.offset)
		if count == 0 {
			start = c.offset
			stream = streamID
		} else if streamAware && streamID != stream {
			break
		}
		count++
		c.offset += aligned
	}

	if count > 0 {
		if !streamAware {
			stream = -1
		}
		length := c.offset - start
		h.OnBlock(c.data, start, length, stream, logbuffer.Position(c.id, int32(start)))
		s.dispatcher.metrics.ObservePoll(s.dispatcher.name, s.name, count, length)
	}
	s.position.SetOrdered(c.position())
	return count
}

// Fragments walks the frames of a block delivered to a BlockHandler and
// calls fn with the partition offset of each message frame and its payload.
// Padding frames are skipped. fn returning false stops the walk.
func Fragments(buf []byte, offset, length int, fn func(frameOffset int, payload []byte, streamID int32, failed bool) bool) {
	end := offset + length
	for offset+logbuffer.HeaderLength <= end {
		framed := int(logbuffer.FrameLengthVolatile(buf, offset))
		if framed <= 0 {
			return
		}
		if logbuffer.FrameType(buf, offset) == logbuffer.TypeMessage {
			payload := buf[logbuffer.MessageOffset(offset) : offset+framed]
			failed := logbuffer.IsFailed(logbuffer.FrameFlags(buf, offset))
			if !fn(offset, payload, logbuffer.FrameStreamID(buf, offset), failed) {
				return
			}
		}
		offset += logbuffer.Align(framed, logbuffer.FrameAlignment)
	}
}
