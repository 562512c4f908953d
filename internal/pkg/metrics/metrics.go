package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every metric the agent exports. It is separate from the
// global default registry so tests can gather it in isolation.
var Registry = prometheus.NewRegistry()

var (
	// CyclesTotal counts upload cycles by outcome.
	// result: skipped, busy, save_failed, failed, completed
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpeer_video_upload_cycles_total",
			Help: "Total number of upload cycles by result.",
		},
		[]string{"result"},
	)

	// UploadsTotal counts per-file upload attempts.
	// result: uploaded, conflict, failed, reconciled
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cpeer_video_upload_files_total",
			Help: "Total number of local artifacts processed by result.",
		},
		[]string{"result"},
	)

	// UploadedBytes sums the size of committed uploads.
	UploadedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cpeer_video_upload_bytes_total",
			Help: "Total bytes of artifacts uploaded and removed locally.",
		},
	)

	// CycleDuration observes whole-cycle latency, skipped cycles excluded.
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cpeer_video_upload_cycle_duration_seconds",
			Help:    "Duration of upload cycles that issued a save command.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	// SaveLatency observes the round trip of the device save command.
	SaveLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cpeer_video_upload_save_latency_seconds",
			Help:    "Latency of the save command sent to the video store.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"}, // success/failed
	)

	// VideoStoreConnected is 1 while the MQTT session to the broker is up.
	VideoStoreConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cpeer_video_upload_video_store_connected",
			Help: "Connectivity to the video-store broker (1=connected, 0=disconnected).",
		},
	)
)

func init() {
	Registry.MustRegister(
		CyclesTotal,
		UploadsTotal,
		UploadedBytes,
		CycleDuration,
		SaveLatency,
		VideoStoreConnected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
