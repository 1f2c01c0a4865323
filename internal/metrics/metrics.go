// Package metrics exposes Prometheus collectors for the cover pipeline and
// pushes them to a Pushgateway at the end of a run.
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

// Stage item results.
const (
	ResultOK      = "ok"
	ResultSkipped = "skipped"
	ResultFlagged = "flagged"
)

var (
	fetchRequestsTotal     *prometheus.CounterVec
	fetchBytesTotal        *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	stageItemsTotal        *prometheus.CounterVec
	stageDurationSeconds   *prometheus.HistogramVec
	encodeQuality          *prometheus.HistogramVec
	activeWorkers          prometheus.Gauge
	rateLimitDelaysSeconds *prometheus.HistogramVec
	metadataCacheHitsTotal prometheus.Counter
	robotsDisallowedTotal  *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covers_fetch_requests_total",
				Help: "Total upstream requests, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covers_fetch_bytes_total",
				Help: "Total bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "covers_fetch_duration_seconds",
				Help:    "Histogram of upstream request latencies, labeled by site.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"site"},
		)

		stageItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covers_stage_items_total",
				Help: "Items processed per pipeline stage, labeled by result.",
			},
			[]string{"stage", "result"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "covers_stage_duration_seconds",
				Help:    "Wall time of each pipeline stage.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800},
			},
			[]string{"stage"},
		)

		encodeQuality = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "covers_encode_quality",
				Help:    "JPEG quality chosen by the encoder ladder.",
				Buckets: []float64{50, 60, 65, 70, 75, 80, 85, 90, 95},
			},
			[]string{"stage"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "covers_active_workers",
				Help: "Number of workers currently processing an item.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "covers_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		metadataCacheHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "covers_metadata_cache_hits_total",
				Help: "Metadata lookups answered from the per-year cache.",
			},
		)

		robotsDisallowedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "covers_robots_disallowed_total",
				Help: "Requests skipped because robots.txt disallowed them.",
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

// ObserveFetch records one upstream request.
func ObserveFetch(rawURL, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	fetchRequestsTotal.WithLabelValues(site, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveStageItem counts one item leaving a stage.
func ObserveStageItem(stage, result string) {
	Init()
	stageItemsTotal.WithLabelValues(stage, result).Inc()
}

// ObserveStage records how long a stage ran.
func ObserveStage(stage string, duration time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveQuality records the JPEG quality chosen for an output.
func ObserveQuality(stage string, quality int) {
	Init()
	encodeQuality.WithLabelValues(stage).Observe(float64(quality))
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveMetadataCacheHit counts a cached metadata lookup.
func ObserveMetadataCacheHit() {
	Init()
	metadataCacheHitsTotal.Inc()
}

// ObserveRobotsDisallowed counts a request blocked by robots.txt.
func ObserveRobotsDisallowed(rawURL string) {
	Init()
	robotsDisallowedTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// Push sends every registered collector to a Prometheus Pushgateway under job.
func Push(ctx context.Context, gatewayURL, job string) error {
	Init()
	pusher := push.New(gatewayURL, job).Gatherer(prometheus.DefaultGatherer)
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
