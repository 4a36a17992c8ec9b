// Package metrics exports dispatcher and storage observations to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rzbill/flo-dispatcher/internal/dispatcher"
	"github.com/rzbill/flo-dispatcher/internal/logbuffer"
	pebblestore "github.com/rzbill/flo-dispatcher/internal/storage/pebble"
)

const namespace = "flo_dispatcher"

// Metrics implements dispatcher.MetricsHook and pebblestore.MetricsHook.
type Metrics struct {
	registry *prometheus.Registry

	offered        *prometheus.CounterVec
	offeredBytes   *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	rollovers      *prometheus.CounterVec
	activePart     *prometheus.GaugeVec
	polled         *prometheus.CounterVec
	polledBytes    *prometheus.CounterVec
	limitHeadroom  *prometheus.GaugeVec
	storeReadBytes prometheus.Counter
	storeCommit    prometheus.Histogram
	storeOps       prometheus.Counter
}

var (
	_ dispatcher.MetricsHook  = (*Metrics)(nil)
	_ pebblestore.MetricsHook = (*Metrics)(nil)
)

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		offered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "offered_total",
			Help: "Frames accepted by Offer or Claim.",
		}, []string{"dispatcher"}),
		offeredBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "offered_bytes_total",
			Help: "Payload bytes accepted by Offer or Claim.",
		}, []string{"dispatcher"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejected_total",
			Help: "Offers rejected by the publisher limit.",
		}, []string{"dispatcher"}),
		rollovers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rollovers_total",
			Help: "Active partition switches.",
		}, []string{"dispatcher"}),
		activePart: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "active_partition_id",
			Help: "Id of the active partition.",
		}, []string{"dispatcher"}),
		polled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "polled_fragments_total",
			Help: "Fragments consumed per subscription.",
		}, []string{"dispatcher", "subscription"}),
		polledBytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "polled_bytes_total",
			Help: "Bytes consumed per subscription.",
		}, []string{"dispatcher", "subscription"}),
		limitHeadroom: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "limit_headroom_bytes",
			Help: "Bytes producers may still write in the publisher's partition, zero when the limit is in a later one.",
		}, []string{"dispatcher"}),
		storeReadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "read_bytes_total",
			Help: "Bytes read from the export store.",
		}),
		storeCommit: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "store", Name: "commit_seconds",
			Help:    "Export batch commit latency.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		storeOps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "committed_ops_total",
			Help: "Operations committed to the export store.",
		}),
	}
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveOffer(d string, bytes int) {
	m.offered.WithLabelValues(d).Inc()
	m.offeredBytes.WithLabelValues(d).Add(float64(bytes))
}

func (m *Metrics) ObserveReject(d string) { m.rejected.WithLabelValues(d).Inc() }

func (m *Metrics) ObserveRollover(d string, partitionID int32) {
	m.rollovers.WithLabelValues(d).Inc()
	m.activePart.WithLabelValues(d).Set(float64(partitionID))
}

func (m *Metrics) ObservePoll(d, subscription string, fragments, bytes int) {
	m.polled.WithLabelValues(d, subscription).Add(float64(fragments))
	m.polledBytes.WithLabelValues(d, subscription).Add(float64(bytes))
}

func (m *Metrics) ObserveLimit(d string, publisherPosition, publisherLimit int64) {
	headroom := 0.0
	if logbuffer.PartitionID(publisherPosition) == logbuffer.PartitionID(publisherLimit) {
		headroom = float64(logbuffer.PartitionOffset(publisherLimit) - logbuffer.PartitionOffset(publisherPosition))
	}
	m.limitHeadroom.WithLabelValues(d).Set(headroom)
}

func (m *Metrics) ObserveRead(_ time.Duration, bytes int) {
	m.storeReadBytes.Add(float64(bytes))
}

func (m *Metrics) ObserveBatchCommit(elapsed time.Duration, numOps int, _ int) {
	m.storeCommit.Observe(elapsed.Seconds())
	m.storeOps.Add(float64(numOps))
}
