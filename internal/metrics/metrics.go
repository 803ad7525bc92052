// Package metrics defines the Prometheus collectors shared by the tracker's
// long-running units.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "boat_tracker"

// Metrics groups every collector the tracker exports.
type Metrics struct {
	BusMessages     *prometheus.CounterVec // result: applied|malformed
	SamplerCycles   *prometheus.CounterVec // outcome: written|skipped|error
	SamplesWritten  *prometheus.CounterVec // reason: bootstrap|motion|heartbeat
	SamplerSkips    *prometheus.CounterVec // reason: no_fix|unknown_tz|no_change
	UploadBatches   *prometheus.CounterVec // result: ok|failed|mark_failed
	UploadAttempts  prometheus.Counter
	SamplesUploaded prometheus.Counter
	Backlog         prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests so runs do not collide.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BusMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "messages_total",
			Help:      "Bus messages received, by result.",
		}, []string{"result"}),
		SamplerCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "cycles_total",
			Help:      "Sampler polling cycles, by outcome.",
		}, []string{"outcome"}),
		SamplesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "samples_written_total",
			Help:      "Samples appended to the local store, by trigger.",
		}, []string{"reason"}),
		SamplerSkips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "skips_total",
			Help:      "Cycles that wrote nothing, by reason.",
		}, []string{"reason"}),
		UploadBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uploader",
			Name:      "batches_total",
			Help:      "Upload batches, by result.",
		}, []string{"result"}),
		UploadAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uploader",
			Name:      "attempts_total",
			Help:      "Remote submissions, including retries.",
		}),
		SamplesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uploader",
			Name:      "samples_uploaded_total",
			Help:      "Samples marked sent after remote acceptance.",
		}),
		Backlog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "uploader",
			Name:      "backlog",
			Help:      "Unsent samples in the local store after the last upload pass.",
		}),
	}
	reg.MustRegister(
		m.BusMessages,
		m.SamplerCycles,
		m.SamplesWritten,
		m.SamplerSkips,
		m.UploadBatches,
		m.UploadAttempts,
		m.SamplesUploaded,
		m.Backlog,
	)
	return m
}
