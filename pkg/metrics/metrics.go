// Copyright 2025 Jinn Network
//
// Package metrics exposes Prometheus counters and histograms for the claim
// loop and execution pipeline (SPEC_FULL.md DOMAIN STACK). Grounded on
// pkg/metrics/metrics.go's package-level-vars-plus-init-registration shape
// and its Timer helper, carried over unchanged in idiom.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Claim loop metrics.
	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jinn_claims_total",
			Help: "Total number of claim transactions submitted, by outcome",
		},
		[]string{"outcome"},
	)

	IdleCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jinn_idle_cycles_total",
			Help: "Total number of claim-loop ticks that found no eligible request",
		},
	)

	EligibleRequestsObserved = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jinn_eligible_requests_observed",
			Help:    "Number of eligible requests found per claim-loop tick",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		},
	)

	// Pipeline metrics.
	PipelineStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jinn_pipeline_stage_duration_seconds",
			Help:    "Time spent in each execution-pipeline stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	PipelineOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jinn_pipeline_outcomes_total",
			Help: "Total number of pipeline runs, by terminal status",
		},
		[]string{"status"},
	)

	// Delivery metrics.
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jinn_deliveries_total",
			Help: "Total number of on-chain delivery submissions, by outcome",
		},
		[]string{"outcome"},
	)

	DeliveryRetries = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jinn_delivery_retries",
			Help:    "Number of retry attempts before a delivery submission settled",
			Buckets: prometheus.LinearBuckets(0, 1, 6),
		},
	)

	FollowUpsScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jinn_followups_scheduled_total",
			Help: "Total number of lineage follow-up dispatches, by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(ClaimsTotal)
	prometheus.MustRegister(IdleCyclesTotal)
	prometheus.MustRegister(EligibleRequestsObserved)
	prometheus.MustRegister(PipelineStageDuration)
	prometheus.MustRegister(PipelineOutcomesTotal)
	prometheus.MustRegister(DeliveriesTotal)
	prometheus.MustRegister(DeliveryRetries)
	prometheus.MustRegister(FollowUpsScheduled)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times a single operation against one of the histograms above.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDurationVec records the elapsed time to a labeled histogram, e.g.
// PipelineStageDuration.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// ObserveDuration records the elapsed time to an unlabeled histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
