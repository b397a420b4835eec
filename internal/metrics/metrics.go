// Package metrics exposes Prometheus collectors for the extraction service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal          prometheus.Counter
	fetchErrorsTotal           prometheus.Counter
	emailsRecordedTotal        prometheus.Counter
	domainsTotal               *prometheus.CounterVec
	searchesTotal              *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	claimsTotal                *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "extractor_pages_fetched_total",
			Help: "Total number of pages fetched successfully.",
		})

		fetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "extractor_fetch_errors_total",
			Help: "Total number of page fetches that failed.",
		})

		emailsRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "extractor_emails_recorded_total",
			Help: "Total number of new email addresses recorded.",
		})

		domainsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_domains_total",
				Help: "Total number of domain items released, labeled by status.",
			},
			[]string{"status"},
		)

		searchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_searches_total",
				Help: "Total number of search transitions, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
			Name: "extractor_active_workers",
			Help: "Number of workers currently crawling a domain.",
		})

		claimsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "extractor_claims_total",
				Help: "Total number of claim attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncPagesFetched increments the successful fetch counter.
func IncPagesFetched() {
	if pagesFetchedTotal != nil {
		pagesFetchedTotal.Inc()
	}
}

// IncFetchErrors increments the failed fetch counter.
func IncFetchErrors() {
	if fetchErrorsTotal != nil {
		fetchErrorsTotal.Inc()
	}
}

// IncEmailsRecorded increments the recorded email counter.
func IncEmailsRecorded() {
	if emailsRecordedTotal != nil {
		emailsRecordedTotal.Inc()
	}
}

// ObserveDomainReleased increments the domain counter for a terminal status.
func ObserveDomainReleased(status string) {
	if domainsTotal != nil {
		domainsTotal.WithLabelValues(status).Inc()
	}
}

// ObserveSearchTransition increments the search transition counter.
func ObserveSearchTransition(status string) {
	if searchesTotal != nil {
		searchesTotal.WithLabelValues(status).Inc()
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// ObserveClaim increments the claim counter for an outcome
// ("claimed", "no_work", "error").
func ObserveClaim(outcome string) {
	if claimsTotal != nil {
		claimsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
