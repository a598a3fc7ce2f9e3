package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dicebastion"

// Resolution outcomes.
const (
	OutcomeOccurrence = "occurrence"
	OutcomeEnded      = "ended"
	OutcomeInvalid    = "invalid"
)

// Refresh results.
const (
	RefreshOK      = "ok"
	RefreshPartial = "partial"
	RefreshFailed  = "failed"
)

// Metrics owns a private registry so tests can build as many as they like.
// All methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	resolutions    *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	invalidRecords *prometheus.CounterVec
	sourceEvents   *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Next-occurrence resolutions by outcome.",
		}, []string{"outcome"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Source refreshes by result.",
		}, []string{"result"}),
		invalidRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_records_total",
			Help:      "Upstream event records rejected during decoding.",
		}, []string{"source"}),
		sourceEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_events",
			Help:      "Events loaded from each source in the last refresh.",
		}, []string{"source"}),
	}
	m.registry.MustRegister(
		m.resolutions,
		m.refreshes,
		m.invalidRecords,
		m.sourceEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveResolution records the result of one NextOccurrence call.
func (m *Metrics) ObserveResolution(occ *time.Time, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.resolutions.WithLabelValues(OutcomeInvalid).Inc()
	case occ == nil:
		m.resolutions.WithLabelValues(OutcomeEnded).Inc()
	default:
		m.resolutions.WithLabelValues(OutcomeOccurrence).Inc()
	}
}

func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSource(source string, events, invalid int) {
	if m == nil {
		return
	}
	m.sourceEvents.WithLabelValues(source).Set(float64(events))
	if invalid > 0 {
		m.invalidRecords.WithLabelValues(source).Add(float64(invalid))
	}
}
