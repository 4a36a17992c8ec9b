package dispatcher

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rzbill/flo-dispatcher/internal/logbuffer"
)

// 3 partitions of 1024 bytes, window 256, max frame 768.
func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	d, err := New(Options{Name: "test", BufferSize: 3 * 1024})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

// payload of n bytes whose frame aligns to 64.
func msg(fill byte) []byte { return bytes.Repeat([]byte{fill}, 52) }

func mustOffer(t *testing.T, d *Dispatcher, payload []byte, stream int32) int64 {
	t.Helper()
	pos, err := d.Offer(payload, stream)
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if pos < 0 {
		t.Fatalf("offer returned sentinel %d", pos)
	}
	return pos
}

func TestNewValidatesOptions(t *testing.T) {
	cases := []struct {
		name string
		opts Options
	}{
		{"too few partitions", Options{BufferSize: 2048, PartitionCount: 2}},
		{"window plus frame too big", Options{BufferSize: 3 * 1024, WindowLength: 512, MaxFrameLength: 768}},
		{"tiny frame", Options{BufferSize: 3 * 1024, WindowLength: 256, MaxFrameLength: 4}},
		{"negative initial id", Options{BufferSize: 3 * 1024, InitialPartitionID: -1}},
	}
	for _, tc := range cases {
		if _, err := New(tc.opts); !errors.Is(err, ErrInvalidOptions) {
			t.Fatalf("%s: want ErrInvalidOptions, got %v", tc.name, err)
		}
	}

	d := newTestDispatcher(t)
	if d.LogBuffer().PartitionSize() != 1024 || d.LogBuffer().PartitionCount() != 3 {
		t.Fatalf("layout: size=%d count=%d", d.LogBuffer().PartitionSize(), d.LogBuffer().PartitionCount())
	}
	if d.PublisherLimit() != logbuffer.Position(0, 256) {
		t.Fatalf("initial limit %d", d.PublisherLimit())
	}
	if d.MaxMessageLength() != 768-logbuffer.HeaderLength {
		t.Fatalf("max message length %d", d.MaxMessageLength())
	}
}

func TestOfferRejectedAtLimitBoundary(t *testing.T) {
	d := newTestDispatcher(t)
	for i := 0; i < 4; i++ {
		pos := mustOffer(t, d, msg(byte(i)), 0)
		if want := logbuffer.Position(0, int32(64*(i+1))); pos != want {
			t.Fatalf("offer %d: want position %d, got %d", i, want, pos)
		}
	}
	// Write position (0,256) equals the limit.
	pos, err := d.Offer(msg(9), 0)
	if err != nil || pos != PositionRejected {
		t.Fatalf("at limit: want rejected, got %d %v", pos, err)
	}

	// One byte below the limit is accepted.
	d.publisherLimit.SetOrdered(logbuffer.Position(0, 257))
	if pos := mustOffer(t, d, msg(9), 0); pos != logbuffer.Position(0, 320) {
		t.Fatalf("below limit: position %d", pos)
	}
	d.publisherLimit.SetOrdered(logbuffer.Position(0, 320))
	if pos, _ := d.Offer(msg(9), 0); pos != PositionRejected {
		t.Fatalf("at limit again: want rejected, got %d", pos)
	}
}

func TestOfferFrameTooLarge(t *testing.T) {
	d := newTestDispatcher(t)
	pos, err := d.Offer(make([]byte, d.MaxMessageLength()+1), 0)
	if !errors.Is(err, ErrFrameTooLarge) || pos != PositionRejected {
		t.Fatalf("want ErrFrameTooLarge, got %d %v", pos, err)
	}
	var claimed ClaimedFragment
	if _, err := d.Claim(&claimed, d.MaxMessageLength()+1, 0); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("claim: want ErrFrameTooLarge, got %v", err)
	}
	// The largest message still fits an empty partition.
	if pos := mustOffer(t, d, make([]byte, d.MaxMessageLength()), 0); pos != logbuffer.Position(0, 768) {
		t.Fatalf("max message position %d", pos)
	}
}

func TestOfferRollover(t *testing.T) {
	d := newTestDispatcher(t)
	mustOffer(t, d, make([]byte, 500), 0) // tail 512
	d.UpdatePublisherLimit()
	if d.PublisherLimit() != logbuffer.Position(0, 768) {
		t.Fatalf("limit %d", d.PublisherLimit())
	}

	pos, err := d.Offer(make([]byte, 600), 0)
	if err != nil || pos != PositionRollover {
		t.Fatalf("want rollover, got %d %v", pos, err)
	}
	if got := d.LogBuffer().ActivePartitionIDVolatile(); got != 1 {
		t.Fatalf("active partition %d", got)
	}
	data := d.LogBuffer().Partition(0).Data()
	if logbuffer.FrameType(data, 512) != logbuffer.TypePadding || logbuffer.FrameLengthVolatile(data, 512) != 512 {
		t.Fatalf("padding frame not written")
	}
	if d.PublisherPosition() != logbuffer.Position(0, 1024) {
		t.Fatalf("publisher position %d", d.PublisherPosition())
	}

	d.UpdatePublisherLimit()
	if d.PublisherLimit() != logbuffer.Position(1, 256) {
		t.Fatalf("limit after rollover %d", d.PublisherLimit())
	}
	if pos := mustOffer(t, d, make([]byte, 600), 0); pos != logbuffer.Position(1, 616) {
		t.Fatalf("retry position %d", pos)
	}
}

func TestOfferExactFitRollsOver(t *testing.T) {
	d := newTestDispatcher(t)
	mustOffer(t, d, make([]byte, 500), 0)
	d.UpdatePublisherLimit()
	if pos := mustOffer(t, d, make([]byte, 500), 0); pos != logbuffer.Position(0, 1024) {
		t.Fatalf("exact fit position %d", pos)
	}
	if got := d.LogBuffer().ActivePartitionIDVolatile(); got != 1 {
		t.Fatalf("exact fit should advance active partition, got %d", got)
	}
}

func TestLimitFollowsSlowestSubscriber(t *testing.T) {
	d := newTestDispatcher(t)
	fast, _ := d.OpenSubscription("fast")
	slow, _ := d.OpenSubscription("slow")
	for i := 0; i < 3; i++ {
		mustOffer(t, d, msg(byte(i)), 0)
	}
	consume := FragmentHandlerFunc(func([]byte, int32, bool) FragmentResult { return Consume })
	if n := fast.PollFragments(consume, 10, false); n != 3 {
		t.Fatalf("fast polled %d", n)
	}
	if limit := d.UpdatePublisherLimit(); limit != logbuffer.Position(0, 256) {
		t.Fatalf("limit pinned by slow subscriber: %d", limit)
	}
	if n := slow.PollFragments(consume, 10, false); n != 3 {
		t.Fatalf("slow polled %d", n)
	}
	if limit := d.UpdatePublisherLimit(); limit != logbuffer.Position(0, 192+256) {
		t.Fatalf("limit after slow caught up: %d", limit)
	}

	// Closing a lagging subscription releases the limit.
	lag, _ := d.OpenSubscription("lag")
	for i := 0; i < 4; i++ {
		mustOffer(t, d, msg(byte(i)), 0)
	}
	fast.PollFragments(consume, 10, false)
	slow.PollFragments(consume, 10, false)
	if limit := d.UpdatePublisherLimit(); limit != logbuffer.Position(0, 448) {
		t.Fatalf("limit with lagging subscriber: %d", limit)
	}
	lag.Close()
	if limit := d.UpdatePublisherLimit(); limit != logbuffer.Position(0, 448+256) {
		t.Fatalf("limit after close: %d", limit)
	}
}

func TestLimitCrossesPartitionEnd(t *testing.T) {
	d := newTestDispatcher(t)
	if got := d.limitFor(logbuffer.Position(4, 767)); got != logbuffer.Position(4, 1023) {
		t.Fatalf("inside partition: %d", got)
	}
	if got := d.limitFor(logbuffer.Position(4, 768)); got != logbuffer.Position(5, 256) {
		t.Fatalf("window reaching end: %d", got)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	d := newTestDispatcher(t)
	s, err := d.OpenSubscription("a")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := d.OpenSubscription("a"); !errors.Is(err, ErrSubscriptionExists) {
		t.Fatalf("duplicate: %v", err)
	}
	if _, err := d.OpenSubscription(""); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("empty name: %v", err)
	}
	s.Close()
	s.Close()
	if !s.IsClosed() || len(d.Subscriptions()) != 0 {
		t.Fatalf("subscription not removed")
	}
	if _, err := d.OpenSubscription("a"); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}

	mustOffer(t, d, msg(1), 0)
	late, _ := d.OpenSubscription("late")
	if late.Position() != d.PublisherPosition() {
		t.Fatalf("new subscription should start at publisher position")
	}

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := d.Offer(msg(1), 0); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("offer after close: %v", err)
	}
	if _, err := d.OpenSubscription("b"); !errors.Is(err, ErrDispatcherClosed) {
		t.Fatalf("open after close: %v", err)
	}
}

func TestClaimCommit(t *testing.T) {
	d := newTestDispatcher(t)
	var claimed ClaimedFragment
	pos, err := d.Claim(&claimed, 5, 2)
	if err != nil || pos != logbuffer.Position(0, 24) {
		t.Fatalf("claim: %d %v", pos, err)
	}
	copy(claimed.Buffer(), "hello")
	claimed.Commit()
	if claimed.IsOpen() {
		t.Fatalf("claim still open after commit")
	}
	data := d.LogBuffer().Partition(0).Data()
	if logbuffer.FrameLengthVolatile(data, 0) != 17 || logbuffer.FrameStreamID(data, 0) != 2 {
		t.Fatalf("committed header mismatch")
	}
}
