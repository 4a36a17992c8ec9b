package dispatcher

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rzbill/flo-dispatcher/internal/logbuffer"
	"github.com/rzbill/flo-dispatcher/pkg/log"
)

// Offer and Claim sentinels. Successful calls return the position right
// after the written frame, which is never negative.
const (
	// PositionRejected means the write position reached the publisher limit.
	PositionRejected int64 = -1
	// PositionRollover means the active partition was full. Retrying right
	// away targets the next partition.
	PositionRollover int64 = -2
)

// Default layout values used when Options leaves them zero.
const (
	DefaultBufferSize     = 4 << 20
	DefaultPartitionCount = logbuffer.MinPartitionCount
)

var (
	// ErrFrameTooLarge is returned for messages that can never fit a partition.
	ErrFrameTooLarge = errors.New("dispatcher: frame too large")
	// ErrDispatcherClosed is returned by operations on a closed dispatcher.
	ErrDispatcherClosed = errors.New("dispatcher: closed")
	// ErrSubscriptionExists is returned when a subscription name is taken.
	ErrSubscriptionExists = errors.New("dispatcher: subscription exists")
	// ErrInvalidOptions wraps option validation failures.
	ErrInvalidOptions = errors.New("dispatcher: invalid options")
)

// ClaimedFragment is a reserved frame waiting for Commit or Abort.
type ClaimedFragment = logbuffer.ClaimedFragment

// Options configures a Dispatcher.
type Options struct {
	Name string
	// BufferSize is the total size of the log buffer. It is split evenly
	// between partitions and rounded down to the frame alignment.
	BufferSize     int
	PartitionCount int
	// WindowLength is how far producers may run ahead of the slowest
	// subscriber. Defaults to a quarter of a partition.
	WindowLength int
	// MaxFrameLength caps the aligned frame length, header included.
	// Defaults to partition size minus WindowLength.
	MaxFrameLength     int
	InitialPartitionID int32
	Logger             log.Logger
	Metrics            MetricsHook
}

// Dispatcher fans messages from many producers out to its subscriptions.
type Dispatcher struct {
	name           string
	buf            *logbuffer.LogBuffer
	appender       logbuffer.Appender
	windowLength   int32
	maxFrameLength int

	publisherPosition *logbuffer.AtomicPosition
	publisherLimit    *logbuffer.AtomicPosition

	mu   sync.Mutex
	subs atomic.Pointer[[]*Subscription]

	closed  atomic.Bool
	logger  log.Logger
	metrics MetricsHook
}

// New validates opts and allocates the log buffer.
func New(opts Options) (*Dispatcher, error) {
	if opts.BufferSize == 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.PartitionCount == 0 {
		opts.PartitionCount = DefaultPartitionCount
	}
	if opts.PartitionCount < logbuffer.MinPartitionCount {
		return nil, fmt.Errorf("%w: partition count %d below %d", ErrInvalidOptions, opts.PartitionCount, logbuffer.MinPartitionCount)
	}
	if opts.InitialPartitionID < 0 {
		return nil, fmt.Errorf("%w: negative initial partition id %d", ErrInvalidOptions, opts.InitialPartitionID)
	}
	partitionSize := (opts.BufferSize / opts.PartitionCount) &^ (logbuffer.FrameAlignment - 1)
	if opts.WindowLength == 0 {
		opts.WindowLength = partitionSize / 4
	}
	if opts.MaxFrameLength == 0 {
		opts.MaxFrameLength = partitionSize - opts.WindowLength
	}
	if opts.WindowLength <= 0 || opts.MaxFrameLength < logbuffer.HeaderLength {
		return nil, fmt.Errorf("%w: window %d, max frame %d", ErrInvalidOptions, opts.WindowLength, opts.MaxFrameLength)
	}
	if opts.WindowLength+opts.MaxFrameLength > partitionSize {
		return nil, fmt.Errorf("%w: window %d plus max frame %d exceeds partition size %d",
			ErrInvalidOptions, opts.WindowLength, opts.MaxFrameLength, partitionSize)
	}

	buf, err := logbuffer.New(opts.PartitionCount, partitionSize, opts.InitialPartitionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	logger = logger.With(log.Component("dispatcher"), log.Str("dispatcher", opts.Name))
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NoopMetrics{}
	}

	start := logbuffer.Position(opts.InitialPartitionID, 0)
	d := &Dispatcher{
		name:              opts.Name,
		buf:               buf,
		windowLength:      int32(opts.WindowLength),
		maxFrameLength:    opts.MaxFrameLength,
		publisherPosition: logbuffer.NewAtomicPosition(start),
		publisherLimit:    logbuffer.NewAtomicPosition(start),
		logger:            logger,
		metrics:           metrics,
	}
	d.subs.Store(&[]*Subscription{})
	d.UpdatePublisherLimit()

	logger.Info("dispatcher created",
		log.Int("partitions", opts.PartitionCount),
		log.Int("partitionSize", partitionSize),
		log.Int("window", opts.WindowLength),
		log.Int("maxFrame", opts.MaxFrameLength))
	return d, nil
}

// Name returns the dispatcher name.
func (d *Dispatcher) Name() string { return d.name }

// MaxMessageLength is the largest payload Offer and Claim accept.
func (d *Dispatcher) MaxMessageLength() int {
	return d.maxFrameLength&^(logbuffer.FrameAlignment-1) - logbuffer.HeaderLength
}

// LogBuffer exposes the underlying buffer.
func (d *Dispatcher) LogBuffer() *logbuffer.LogBuffer { return d.buf }

// Offer appends payload as one message on streamID.
func (d *Dispatcher) Offer(payload []byte, streamID int32) (int64, error) {
	return d.OfferWithFlags(payload, streamID, 0)
}

// OfferWithFlags appends payload with the given frame flags. Producers
// re-publishing a message after a failed attempt pass logbuffer.FlagFailed.
func (d *Dispatcher) OfferWithFlags(payload []byte, streamID int32, flags byte) (int64, error) {
	if err := d.admit(len(payload)); err != nil {
		return PositionRejected, err
	}
	for {
		id, p, tail, ok := d.writeTarget()
		if !ok {
			return PositionRejected, nil
		}
		switch result := d.appender.Append(p, tail, payload, streamID, flags); result {
		case logbuffer.ResultContended:
			continue
		case logbuffer.ResultRollover:
			d.rolledOver(id, p)
			return PositionRollover, nil
		case logbuffer.ResultInsufficientSpace:
			return PositionRollover, nil
		default:
			d.metrics.ObserveOffer(d.name, len(payload))
			return d.published(id, p, result), nil
		}
	}
}

// Claim reserves length payload bytes on streamID and wraps claimed around
// them. On success the caller must write claimed.Buffer() and then call
// exactly one of Commit, CommitFailed or Abort. A claim that is never
// completed blocks every subscription at that frame for good.
func (d *Dispatcher) Claim(claimed *ClaimedFragment, length int, streamID int32) (int64, error) {
	if length < 0 {
		return PositionRejected, fmt.Errorf("dispatcher: negative claim length %d", length)
	}
	if err := d.admit(length); err != nil {
		return PositionRejected, err
	}
	for {
		id, p, tail, ok := d.writeTarget()
		if !ok {
			return PositionRejected, nil
		}
		switch result := d.appender.Claim(p, tail, claimed, length, streamID); result {
		case logbuffer.ResultContended:
			continue
		case logbuffer.ResultRollover:
			d.rolledOver(id, p)
			return PositionRollover, nil
		case logbuffer.ResultInsufficientSpace:
			return PositionRollover, nil
		default:
			d.metrics.ObserveOffer(d.name, length)
			return d.published(id, p, result), nil
		}
	}
}

func (d *Dispatcher) admit(length int) error {
	if d.closed.Load() {
		return ErrDispatcherClosed
	}
	if logbuffer.AlignedLength(length) > d.maxFrameLength {
		return fmt.Errorf("%w: %d bytes, max %d", ErrFrameTooLarge, length, d.MaxMessageLength())
	}
	return nil
}

// writeTarget reads the active partition and its tail. ok is false when the
// resulting position is at or beyond the publisher limit.
func (d *Dispatcher) writeTarget() (int32, *logbuffer.Partition, int32, bool) {
	for {
		id := d.buf.ActivePartitionIDVolatile()
		p := d.buf.Partition(id)
		tail := p.TailCounterVolatile()
		if d.buf.ActivePartitionIDVolatile() != id {
			// Rolled while reading; the tail may belong to a recycled partition.
			continue
		}
		if logbuffer.Position(id, tail) >= d.publisherLimit.GetVolatile() {
			d.metrics.ObserveReject(d.name)
			return id, p, tail, false
		}
		return id, p, tail, true
	}
}

func (d *Dispatcher) published(id int32, p *logbuffer.Partition, newTail int32) int64 {
	pos := logbuffer.Position(id, newTail)
	d.publisherPosition.ProposeMaxOrdered(pos)
	if newTail == p.Capacity() {
		// Exact fit: this writer moved the tail to capacity, so it rolls.
		d.rolledOver(id, p)
	}
	return pos
}

func (d *Dispatcher) rolledOver(id int32, p *logbuffer.Partition) {
	d.publisherPosition.ProposeMaxOrdered(logbuffer.Position(id, p.Capacity()))
	if d.buf.OnActivePartitionFilled(id) {
		d.metrics.ObserveRollover(d.name, id+1)
		d.logger.Debug("partition rollover", log.Int32("filled", id), log.Int32("active", id+1))
	}
}

// UpdatePublisherLimit recomputes the limit from the slowest subscription,
// or from the publisher position when there is none, and returns it. The
// limit never moves backward. Call it on a schedule; the runtime conductor
// does.
func (d *Dispatcher) UpdatePublisherLimit() int64 {
	subs := *d.subs.Load()
	publisher := d.publisherPosition.GetVolatile()
	slowest := publisher
	if len(subs) > 0 {
		slowest = subs[0].position.GetVolatile()
		for _, s := range subs[1:] {
			if pos := s.position.GetVolatile(); pos < slowest {
				slowest = pos
			}
		}
	}

	d.publisherLimit.ProposeMaxOrdered(d.limitFor(slowest))
	limit := d.publisherLimit.GetVolatile()
	d.metrics.ObserveLimit(d.name, publisher, limit)
	return limit
}

// limitFor returns the furthest write position allowed with the slowest
// reader at pos. A window that would cross the partition end is granted in
// the next partition instead.
func (d *Dispatcher) limitFor(pos int64) int64 {
	id := logbuffer.PartitionID(pos)
	offset := logbuffer.PartitionOffset(pos)
	if int64(offset)+int64(d.windowLength) >= int64(d.buf.PartitionSize()) {
		return logbuffer.Position(id+1, d.windowLength)
	}
	return logbuffer.Position(id, offset+d.windowLength)
}

// PublisherPosition is the highest position written so far.
func (d *Dispatcher) PublisherPosition() int64 { return d.publisherPosition.GetVolatile() }

// PublisherLimit is the position producers may not reach.
func (d *Dispatcher) PublisherLimit() int64 { return d.publisherLimit.GetVolatile() }

// OpenSubscription registers a subscription starting at the current
// publisher position.
func (d *Dispatcher) OpenSubscription(name string) (*Subscription, error) {
	if d.closed.Load() {
		return nil, ErrDispatcherClosed
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty subscription name", ErrInvalidOptions)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	current := *d.subs.Load()
	for _, s := range current {
		if s.name == name {
			return nil, fmt.Errorf("%w: %q", ErrSubscriptionExists, name)
		}
	}

	// Normalize so a subscription never starts in the blank tail of a
	// partition that has already been filled.
	start := d.publisherPosition.GetVolatile()
	id, offset := logbuffer.PartitionID(start), logbuffer.PartitionOffset(start)
	if d.buf.PartitionSize()-offset < logbuffer.HeaderLength {
		start = logbuffer.Position(id+1, 0)
	}

	s := &Subscription{
		name:       name,
		dispatcher: d,
		position:   logbuffer.NewAtomicPosition(start),
	}
	next := make([]*Subscription, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, s)
	d.subs.Store(&next)

	d.logger.Info("subscription opened", log.Str("subscription", name), log.Int64("position", start))
	return s, nil
}

// CloseSubscription removes s from the limit calculation. It is a no-op for
// a subscription that is already closed.
func (d *Dispatcher) CloseSubscription(s *Subscription) {
	if s == nil || s.dispatcher != d || !s.closed.CompareAndSwap(false, true) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	current := *d.subs.Load()
	next := make([]*Subscription, 0, len(current))
	for _, other := range current {
		if other != s {
			next = append(next, other)
		}
	}
	d.subs.Store(&next)
	d.logger.Info("subscription closed", log.Str("subscription", s.name), log.Int64("position", s.Position()))
}

// Subscriptions returns a snapshot of the open subscriptions.
func (d *Dispatcher) Subscriptions() []*Subscription {
	current := *d.subs.Load()
	out := make([]*Subscription, len(current))
	copy(out, current)
	return out
}

// Close rejects further offers, claims and new subscriptions. Open
// subscriptions may keep draining what was written.
func (d *Dispatcher) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return nil
	}
	d.logger.Info("dispatcher closed", log.Int64("publisherPosition", d.PublisherPosition()))
	return nil
}

// IsClosed reports whether Close was called.
func (d *Dispatcher) IsClosed() bool { return d.closed.Load() }
