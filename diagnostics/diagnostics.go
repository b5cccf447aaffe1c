// Package diagnostics provides Prometheus instrumentation for the SDK.
//
// All metrics are registered in a custom [prometheus.Registry] (not the
// global default) so that host applications choose whether and where to
// expose them.
package diagnostics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink receives operational telemetry from the data sources and the client.
type Sink interface {
	// RecordStreamInit records one streaming connection attempt: when it
	// started, whether it failed before delivering data, and how long it
	// lasted.
	RecordStreamInit(start time.Time, failed bool, duration time.Duration)
	// RecordEvaluation records one flag evaluation by reason kind.
	RecordEvaluation(reasonKind string)
	// SetStoreItemCount records the current number of live items in a
	// store namespace.
	SetStoreItemCount(namespace string, count int)
}

// NoopSink discards all telemetry. It is used when diagnostics are opted
// out.
type NoopSink struct{}

func (NoopSink) RecordStreamInit(time.Time, bool, time.Duration) {}
func (NoopSink) RecordEvaluation(string)                         {}
func (NoopSink) SetStoreItemCount(string, int)                   {}

// Prometheus is the default Sink, backed by a fresh registry.
type Prometheus struct {
	Registry *prometheus.Registry

	StreamInitsTotal   *prometheus.CounterVec
	StreamInitDuration prometheus.Histogram
	EvaluationsTotal   *prometheus.CounterVec
	StoreItems         *prometheus.GaugeVec
}

var _ Sink = (*Prometheus)(nil)

// NewPrometheus creates and registers all SDK metrics in a fresh registry.
// instanceID distinguishes multiple clients within one process.
func NewPrometheus(instanceID string) *Prometheus {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"instance_id": instanceID}

	p := &Prometheus{
		Registry: reg,

		StreamInitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lightswitch_stream_inits_total",
			Help:        "Total number of streaming connection attempts.",
			ConstLabels: labels,
		}, []string{"failed"}),

		StreamInitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "lightswitch_stream_init_duration_seconds",
			Help:        "Duration of streaming connections in seconds.",
			Buckets:     prometheus.ExponentialBuckets(0.05, 4, 10),
			ConstLabels: labels,
		}),

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lightswitch_evaluations_total",
			Help:        "Total number of flag evaluations by reason kind.",
			ConstLabels: labels,
		}, []string{"reason"}),

		StoreItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "lightswitch_store_items",
			Help:        "Number of live items in the local data store.",
			ConstLabels: labels,
		}, []string{"namespace"}),
	}

	reg.MustRegister(
		p.StreamInitsTotal,
		p.StreamInitDuration,
		p.EvaluationsTotal,
		p.StoreItems,
	)
	return p
}

// RecordStreamInit implements Sink.
func (p *Prometheus) RecordStreamInit(_ time.Time, failed bool, duration time.Duration) {
	label := "false"
	if failed {
		label = "true"
	}
	p.StreamInitsTotal.WithLabelValues(label).Inc()
	p.StreamInitDuration.Observe(duration.Seconds())
}

// RecordEvaluation implements Sink.
func (p *Prometheus) RecordEvaluation(reasonKind string) {
	p.EvaluationsTotal.WithLabelValues(reasonKind).Inc()
}

// SetStoreItemCount implements Sink.
func (p *Prometheus) SetStoreItemCount(namespace string, count int) {
	p.StoreItems.WithLabelValues(namespace).Set(float64(count))
}
