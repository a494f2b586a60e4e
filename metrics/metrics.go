// Package metrics bundles the Prometheus collectors shared by every stage.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the scraper.
type Metrics struct {
	Registry            *prometheus.Registry
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     prometheus.Histogram
	ItemsScrapedTotal   prometheus.Counter
	ParseErrorsTotal    prometheus.Counter
	RetriesTotal        prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
	ResolutionsTotal    *prometheus.CounterVec
	ResolutionsInFlight prometheus.Gauge
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_requests_total",
			Help: "Total HTTP requests issued by the scraper.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scraper_request_duration_seconds",
			Help:    "HTTP request latency for scraper requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	itemsScraped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_items_scraped_total",
			Help: "Total number of bestseller rows sent to the pipeline.",
		},
	)
	parseErrors := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_parse_errors_total",
			Help: "Total number of listing items skipped as malformed.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scraper_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Total number of scraper errors by type.",
		},
		[]string{"error_type"},
	)
	resolutions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_category_resolutions_total",
			Help: "Detail category resolutions by outcome.",
		},
		[]string{"outcome"},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scraper_category_resolutions_in_flight",
			Help: "Detail category resolutions currently running.",
		},
	)

	registry.MustRegister(requests, requestDuration, itemsScraped, parseErrors, retries, errorsTotal, resolutions, inFlight)

	return &Metrics{
		Registry:            registry,
		RequestsTotal:       requests,
		RequestDuration:     requestDuration,
		ItemsScrapedTotal:   itemsScraped,
		ParseErrorsTotal:    parseErrors,
		RetriesTotal:        retries,
		ErrorsTotal:         errorsTotal,
		ResolutionsTotal:    resolutions,
		ResolutionsInFlight: inFlight,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddItems increments the items scraped counter by n.
func (m *Metrics) AddItems(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsScrapedTotal.Add(float64(n))
}

// AddParseErrors increments the parse error counter by n.
func (m *Metrics) AddParseErrors(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ParseErrorsTotal.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncResolution counts one finished resolution (resolved, unresolved, cached, panic).
func (m *Metrics) IncResolution(outcome string) {
	if m == nil {
		return
	}
	m.ResolutionsTotal.WithLabelValues(outcome).Inc()
}

// TrackInFlight adjusts the in-flight gauge by delta.
func (m *Metrics) TrackInFlight(delta int) {
	if m == nil {
		return
	}
	m.ResolutionsInFlight.Add(float64(delta))
}
