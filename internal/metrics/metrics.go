// Package metrics exposes Prometheus collectors for pipeline runs.
package metrics

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	searchRequestsTotal    *prometheus.CounterVec
	recordsFoundTotal      prometheus.Counter
	enrichTotal            *prometheus.CounterVec
	imagesTotal            *prometheus.CounterVec
	publishTotal           *prometheus.CounterVec
	ledgerResetsTotal      prometheus.Counter
	runDurationSeconds     *prometheus.HistogramVec
	rateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fallen_search_requests_total",
				Help: "Search page requests, labeled by outcome (ok, blocked, error).",
			},
			[]string{"outcome"},
		)

		recordsFoundTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fallen_records_found_total",
				Help: "Listing records with an image surfaced by searches.",
			},
		)

		enrichTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fallen_enrich_total",
				Help: "Profile enrichment attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		imagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fallen_images_total",
				Help: "Image downloads and normalizations, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		publishTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fallen_publish_total",
				Help: "Publish attempts, labeled by terminal state.",
			},
			[]string{"state"},
		)

		ledgerResetsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fallen_ledger_resets_total",
				Help: "Times the posted ledger was exhausted and reset.",
			},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fallen_run_duration_seconds",
				Help:    "Wall time of a pipeline run, labeled by mode.",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"mode"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fallen_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveSearch counts one search page request.
func ObserveSearch(outcome string) {
	Init()
	searchRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRecordsFound adds to the found-records counter.
func ObserveRecordsFound(n int) {
	Init()
	if n > 0 {
		recordsFoundTotal.Add(float64(n))
	}
}

// ObserveEnrich counts one enrichment attempt.
func ObserveEnrich(outcome string) {
	Init()
	enrichTotal.WithLabelValues(outcome).Inc()
}

// ObserveImage counts one image download/normalize outcome.
func ObserveImage(outcome string) {
	Init()
	imagesTotal.WithLabelValues(outcome).Inc()
}

// ObservePublish counts one publish attempt by its terminal state.
func ObservePublish(state string) {
	Init()
	publishTotal.WithLabelValues(state).Inc()
}

// ObserveLedgerReset counts a ledger reset.
func ObserveLedgerReset() {
	Init()
	ledgerResetsTotal.Inc()
}

// ObserveRun records the wall time of a run.
func ObserveRun(mode string, duration time.Duration) {
	Init()
	runDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}

// Push sends the default registry to a Prometheus Pushgateway.
func Push(ctx context.Context, gatewayURL, job string) error {
	if gatewayURL == "" {
		return nil
	}
	if job == "" {
		job = "honor_the_fallen"
	}
	if err := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
