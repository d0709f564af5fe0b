// Package metrics holds the Prometheus collectors of the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "prosody"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Requests          *prometheus.CounterVec
	ExtractionSeconds *prometheus.HistogramVec
	RecordingSeconds  prometheus.Histogram
	BandEstimates     *prometheus.CounterVec
	CacheLookups      *prometheus.CounterVec
	RateLimited       prometheus.Counter
}

// New registers every collector on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Analyses and comparisons by outcome code.",
		}, []string{"operation", "outcome"}),
		ExtractionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_duration_seconds",
			Help:      "Time spent decoding and extracting features from one recording.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"media_type"}),
		RecordingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_duration_seconds",
			Help:      "Duration of analysed recordings.",
			Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180},
		}),
		BandEstimates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "band_estimates_total",
			Help:      "Band estimates handed out.",
		}, []string{"band"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Analysis cache lookups by result.",
		}, []string{"result"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Requests,
		m.ExtractionSeconds,
		m.RecordingSeconds,
		m.BandEstimates,
		m.CacheLookups,
		m.RateLimited,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest counts one analysis or comparison outcome.
func (m *Metrics) ObserveRequest(operation, outcome string) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(operation, outcome).Inc()
}

// ExtractionTimer starts a timer for one extraction.
func (m *Metrics) ExtractionTimer(mediaType string) *prometheus.Timer {
	if m == nil {
		return prometheus.NewTimer(prometheus.ObserverFunc(func(float64) {}))
	}
	return prometheus.NewTimer(m.ExtractionSeconds.WithLabelValues(mediaType))
}

// ObserveAnalysis records the recording length and band of a result.
func (m *Metrics) ObserveAnalysis(durationSeconds float64, band string) {
	if m == nil {
		return
	}
	m.RecordingSeconds.Observe(durationSeconds)
	m.BandEstimates.WithLabelValues(band).Inc()
}

// ObserveCache counts a cache hit or miss.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveRateLimited counts one rejected request.
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}
