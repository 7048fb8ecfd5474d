package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the counters of one volaudit run. All methods are safe on a
// nil receiver so library code can be used without metrics.
type Metrics struct {
	registry *prometheus.Registry

	ImagesScannedTotal     *prometheus.CounterVec
	ImagesResampledTotal   prometheus.Counter
	ThumbnailsWrittenTotal prometheus.Counter
	BytesWrittenTotal      prometheus.Counter
	CheckResultsTotal      *prometheus.CounterVec
	ResampleDuration       prometheus.Histogram
}

// NewMetrics creates the metrics on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ImagesScannedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volaudit_images_scanned_total",
				Help: "Image headers read, by format",
			},
			[]string{"kind"},
		),

		ImagesResampledTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "volaudit_images_resampled_total",
				Help: "Images resampled",
			},
		),

		ThumbnailsWrittenTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "volaudit_thumbnails_written_total",
				Help: "PNG thumbnails written",
			},
		),

		BytesWrittenTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "volaudit_bytes_written_total",
				Help: "Bytes of resampled images written",
			},
		),

		CheckResultsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volaudit_check_results_total",
				Help: "Checker verdicts",
			},
			[]string{"check", "verdict"},
		),

		ResampleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "volaudit_resample_duration_seconds",
				Help:    "Time to resample and write one image",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordScan counts one header read.
func (m *Metrics) RecordScan(kind string) {
	if m == nil {
		return
	}
	m.ImagesScannedTotal.WithLabelValues(kind).Inc()
}

// RecordResample counts one resampled image.
func (m *Metrics) RecordResample(bytesWritten int64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ImagesResampledTotal.Inc()
	m.BytesWrittenTotal.Add(float64(bytesWritten))
	m.ResampleDuration.Observe(elapsed.Seconds())
}

// RecordThumbnail counts one thumbnail.
func (m *Metrics) RecordThumbnail() {
	if m == nil {
		return
	}
	m.ThumbnailsWrittenTotal.Inc()
}

// RecordCheck counts one checker verdict.
func (m *Metrics) RecordCheck(check string, passed bool) {
	if m == nil {
		return
	}
	verdict := "failed"
	if passed {
		verdict = "passed"
	}
	m.CheckResultsTotal.WithLabelValues(check, verdict).Inc()
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
