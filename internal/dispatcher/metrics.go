package dispatcher

// MetricsHook observes dispatcher activity. Implementations must be safe for
// concurrent use and must not block.
type MetricsHook interface {
	ObserveOffer(dispatcher string, bytes int)
	ObserveReject(dispatcher string)
	ObserveRollover(dispatcher string, partitionID int32)
	ObservePoll(dispatcher, subscription string, fragments, bytes int)
	ObserveLimit(dispatcher string, publisherPosition, publisherLimit int64)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveOffer(string, int)             {}
func (NoopMetrics) ObserveReject(string)                 {}
func (NoopMetrics) ObserveRollover(string, int32)        {}
func (NoopMetrics) ObservePoll(string, string, int, int) {}
func (NoopMetrics) ObserveLimit(string, int64, int64)    {}
