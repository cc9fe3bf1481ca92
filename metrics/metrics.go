package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "placefinder"

// Metrics exposes counters/histograms for caching, provider calls and location detection.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	cacheLookups     *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	staleDiscards    prometheus.Counter
	fallbacks        *prometheus.CounterVec
	detections       *prometheus.CounterVec
	phases           *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Keyed cache lookups by cache name and result",
		}, []string{"cache", "result"}),
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Remote provider requests by operation and status",
		}, []string{"operation", "status"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Latency of remote provider requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		staleDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "stale_discards_total",
			Help:      "Search responses dropped because a newer query superseded them",
		}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "fallbacks_total",
			Help:      "Searches answered from the bundled locality dataset",
		}, []string{"reason"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "geolocation",
			Name:      "detections_total",
			Help:      "Device location detection attempts by outcome",
		}, []string{"outcome"}),
		phases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "establishment",
			Name:      "searches_total",
			Help:      "Two-phase establishment searches by the phases that ran",
		}, []string{"phases"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.cacheLookups, m.providerRequests, m.providerLatency, m.staleDiscards, m.fallbacks, m.detections, m.phases)
	return m
}

func (m *Metrics) ObserveCacheLookup(cache, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) ObserveProviderRequest(operation, status string, seconds float64) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(operation, status).Inc()
	m.providerLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *Metrics) ObserveStaleDiscard() {
	if m == nil {
		return
	}
	m.staleDiscards.Inc()
}

func (m *Metrics) ObserveFallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveDetection(outcome string) {
	if m == nil {
		return
	}
	m.detections.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveEstablishmentSearch(phases string) {
	if m == nil {
		return
	}
	m.phases.WithLabelValues(phases).Inc()
}
