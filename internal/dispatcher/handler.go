package dispatcher

// FragmentResult is returned by a FragmentHandler.
type FragmentResult int

const (
	// Consume advances past the fragment.
	Consume FragmentResult = iota
	// Postpone stops the poll without advancing. The same fragment is
	// delivered again on the next poll.
	Postpone
)

func (r FragmentResult) String() string {
	switch r {
	case Consume:
		return "consume"
	case Postpone:
		return "postpone"
	default:
		return "unknown"
	}
}

// FragmentHandler receives one fragment at a time. payload aliases the log
// buffer and is only valid for the duration of the call.
type FragmentHandler interface {
	OnFragment(payload []byte, streamID int32, failed bool) FragmentResult
}

// FragmentHandlerFunc adapts a function to FragmentHandler.
type FragmentHandlerFunc func(payload []byte, streamID int32, failed bool) FragmentResult

func (f FragmentHandlerFunc) OnFragment(payload []byte, streamID int32, failed bool) FragmentResult {
	return f(payload, streamID, failed)
}

// BlockHandler receives a run of contiguous frames. buf[offset:offset+length]
// holds the raw frames, headers included. streamID is -1 when the block may
// mix streams. position is the subscriber position at the start of the
// block. The whole block is always consumed.
type BlockHandler interface {
	OnBlock(buf []byte, offset, length int, streamID int32, position int64)
}

// BlockHandlerFunc adapts a function to BlockHandler.
type BlockHandlerFunc func(buf []byte, offset, length int, streamID int32, position int64)

func (f BlockHandlerFunc) OnBlock(buf []byte, offset, length int, streamID int32, position int64) {
	f(buf, offset, length, streamID, position)
}
