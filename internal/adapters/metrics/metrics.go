// Package metrics collects operational counters for the stream
// compressor on a private prometheus registry. Collection is always on
// and cheap; the HTTP exposition endpoint is only started when a listen
// address is configured.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all counters recorded by the record loop and the
// rotation path.
type Metrics struct {
	// RecordsTotal counts records fully consumed by the engine.
	RecordsTotal prometheus.Counter

	// AcksTotal counts OK tokens emitted on the control channel,
	// including the initial readiness token.
	AcksTotal prometheus.Counter

	// BytesInTotal counts raw record bytes fed to the engine.
	BytesInTotal prometheus.Counter

	// BytesOutTotal counts compressed bytes written to the sink.
	BytesOutTotal prometheus.Counter

	// RotationsTotal counts completed output file rotations.
	RotationsTotal prometheus.Counter

	// ErrorsTotal counts failures by category.
	ErrorsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates the metrics set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registerer := prometheus.WrapRegistererWith(prometheus.Labels{"service": "zpipe"}, registry)

	return &Metrics{
		registry: registry,
		RecordsTotal: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Name: "zpipe_records_total",
			Help: "Records fully consumed by the compression engine",
		}),
		AcksTotal: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Name: "zpipe_acks_total",
			Help: "Acknowledgment tokens written to the control channel",
		}),
		BytesInTotal: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Name: "zpipe_bytes_in_total",
			Help: "Raw record bytes fed to the compression engine",
		}),
		BytesOutTotal: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Name: "zpipe_bytes_out_total",
			Help: "Compressed bytes written to the output sink",
		}),
		RotationsTotal: promauto.With(registerer).NewCounter(prometheus.CounterOpts{
			Name: "zpipe_rotations_total",
			Help: "Completed output file rotations",
		}),
		ErrorsTotal: promauto.With(registerer).NewCounterVec(prometheus.CounterOpts{
			Name: "zpipe_errors_total",
			Help: "Failures by category",
		}, []string{"category"}),
	}
}

// Handler returns the exposition handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
