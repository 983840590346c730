package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	Uploads       *prometheus.CounterVec
	Edits         *prometheus.CounterVec
	Exports       *prometheus.CounterVec
	ParseDuration prometheus.Histogram
	UploadBytes   prometheus.Histogram
	Pruned        prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pem",
			Name:      "uploads_total",
			Help:      "Uploaded files by result.",
		}, []string{"result"}),
		Edits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pem",
			Name:      "edits_total",
			Help:      "Edit operations by operation and result.",
		}, []string{"op", "result"}),
		Exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pem",
			Name:      "exports_total",
			Help:      "Exports by destination.",
		}, []string{"destination"}),
		ParseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pem",
			Name:      "parse_duration_seconds",
			Help:      "Time spent parsing PEM text.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		UploadBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pem",
			Name:      "upload_bytes",
			Help:      "Size of uploaded files.",
			Buckets:   prometheus.ExponentialBuckets(4096, 4, 8),
		}),
		Pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pem",
			Name:      "revisions_pruned_total",
			Help:      "Revisions removed by the prune job.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Uploads, m.Edits, m.Exports, m.ParseDuration, m.UploadBytes, m.Pruned)
	}
	return m
}

// RegisterLimiter exposes the limiter's slot usage as gauges.
func RegisterLimiter(reg prometheus.Registerer, l *UploadLimiter) {
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "pem",
			Name:      "active_uploads",
			Help:      "Uploads and edits currently holding a slot.",
		}, func() float64 { return float64(l.ActiveCount()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "pem",
			Name:      "rejected_uploads_total",
			Help:      "Requests that timed out waiting for a slot.",
		}, func() float64 { return float64(l.Status().Rejected) }),
	)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
