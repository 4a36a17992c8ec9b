// Package dispatcher is the lock-free, in-memory message hub built on
// internal/logbuffer.
//
// Any number of goroutines may Offer or Claim concurrently. Each
// Subscription is polled by one goroutine at a time. Nothing blocks:
// back-pressure shows up as PositionRejected and a partition switch as
// PositionRollover, and callers decide whether and when to retry.
//
//	d, _ := dispatcher.New(dispatcher.Options{Name: "inbound", BufferSize: 4 << 20})
//	sub, _ := d.OpenSubscription("exporter")
//
//	pos, err := d.Offer([]byte("hello"), 1)
//	if err == nil && pos == dispatcher.PositionRollover {
//	    pos, err = d.Offer([]byte("hello"), 1)
//	}
//
//	d.UpdatePublisherLimit()
//	sub.PollFragments(dispatcher.FragmentHandlerFunc(func(p []byte, stream int32, failed bool) dispatcher.FragmentResult {
//	    return dispatcher.Consume
//	}), 16, false)
//
// A subscriber's position only moves forward, and it is always stored with
// release semantics so UpdatePublisherLimit never observes a torn value. The
// limit keeps producers at most WindowLength bytes ahead of the slowest
// subscriber, so bytes are never overwritten before every open subscription
// has read them.
package dispatcher
