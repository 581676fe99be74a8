package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// People-counting pipeline metrics. Labels are kept low-cardinality
// (channel/zone/type, never track_id or person_id).

var (
	EventsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_emitted_total",
			Help: "Total counted enter/exit events emitted to the sink",
		},
		[]string{"channel", "zone", "type"},
	)

	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detections_total",
			Help: "Total person detections received per channel",
		},
		[]string{"channel"},
	)

	KVErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kv_errors_total",
			Help: "Total KV store call failures across all channels",
		},
	)

	SinkErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sink_errors_total",
			Help: "Total event sink batch write failures",
		},
	)

	EventsLostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "events_lost_total",
			Help: "Total events dropped from the sink's overflow buffer",
		},
	)

	FrameLatencyMS = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "frame_latency_ms",
			Help:    "End-to-end per-frame pipeline latency in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	KVCallMS = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kv_call_ms",
			Help:    "KV store call latency in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	ActiveTracks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "active_tracks",
			Help: "Currently live tracks per channel",
		},
		[]string{"channel"},
	)

	DisappearedTracks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "disappeared_tracks",
			Help: "Tracks currently pending rescue or eviction per channel",
		},
		[]string{"channel"},
	)

	KVDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kv_degraded",
			Help: "1 when the identity/daily-counter KV store is unreachable and the process has fallen back to per-process state",
		},
	)
)

// RecordEventEmitted increments the emitted-event counter for one
// (channel, zone, type) triple.
func RecordEventEmitted(channel, zone, eventType string) {
	EventsEmittedTotal.WithLabelValues(channel, zone, eventType).Inc()
}

// RecordDetections adds n detections to a channel's running total.
func RecordDetections(channel string, n int) {
	DetectionsTotal.WithLabelValues(channel).Add(float64(n))
}

// RecordKVError increments the KV failure counter. The degraded gauge the
// dashboard banner reads is set separately, by SetKVDegraded.
func RecordKVError() {
	KVErrorsTotal.Inc()
}

// SetKVDegraded flips the kv_degraded banner metric.
func SetKVDegraded(degraded bool) {
	if degraded {
		KVDegraded.Set(1)
	} else {
		KVDegraded.Set(0)
	}
}

// RecordSinkError increments the sink failure counter.
func RecordSinkError() {
	SinkErrorsTotal.Inc()
}

// RecordEventsLost adds n to the sink overflow loss counter.
func RecordEventsLost(n int) {
	EventsLostTotal.Add(float64(n))
}

// SetActiveTracks and SetDisappearedTracks publish a channel's current
// track-pool sizes.
func SetActiveTracks(channel string, n int) {
	ActiveTracks.WithLabelValues(channel).Set(float64(n))
}

func SetDisappearedTracks(channel string, n int) {
	DisappearedTracks.WithLabelValues(channel).Set(float64(n))
}

// Handler exposes the default Prometheus registry's /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
