// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"matchflow/platform/orchestrator/cache"
	"matchflow/platform/orchestrator/circuitbreaker"
	"matchflow/platform/orchestrator/match"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchflow_requests_total",
			Help: "Total number of match requests by outcome",
		},
		[]string{"status"},
	)
	promRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matchflow_request_duration_milliseconds",
			Help:    "Match request duration in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
		},
	)
	promAlgorithmCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchflow_algorithm_calls_total",
			Help: "Algorithm attempts by outcome",
		},
		[]string{"algorithm", "outcome"},
	)
	promAlgorithmDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "matchflow_algorithm_call_duration_milliseconds",
			Help:    "Algorithm attempt duration in milliseconds",
			Buckets: []float64{1, 5, 10, 50, 100, 200, 500, 1000, 2000, 5000},
		},
		[]string{"algorithm", "outcome"},
	)
	promCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matchflow_cache_lookups_total",
			Help: "Cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)
	promCompressionRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "matchflow_cache_compression_ratio",
			Help: "Uncompressed over stored bytes for compressed shared cache entries",
		},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promAlgorithmCalls)
	prometheus.MustRegister(promAlgorithmDuration)
	prometheus.MustRegister(promCacheLookups)
	prometheus.MustRegister(promCompressionRatio)
}

func observeRequest(status string, durationMs float64) {
	promRequestsTotal.WithLabelValues(status).Inc()
	promRequestDuration.Observe(durationMs)
}

func observeAttempt(algorithm match.Algorithm, outcome string, d time.Duration) {
	promAlgorithmCalls.WithLabelValues(string(algorithm), outcome).Inc()
	promAlgorithmDuration.WithLabelValues(string(algorithm), outcome).Observe(match.Elapsed(d))
}

func observeCacheLookup(tier cache.Tier, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	promCacheLookups.WithLabelValues(string(tier), result).Inc()
}

func observeCompressionRatio(ratio float64) {
	promCompressionRatio.Set(ratio)
}

// statusCollector exposes the live /health data at scrape time. Each Service
// owns one, registered on its own registry.
type statusCollector struct {
	service *Service

	healthy         *prometheus.Desc
	configured      *prometheus.Desc
	successRate     *prometheus.Desc
	avgLatency      *prometheus.Desc
	totalCalls      *prometheus.Desc
	circuitState    *prometheus.Desc
	circuitFailures *prometheus.Desc
	circuitLimit    *prometheus.Desc
	sharedEnabled   *prometheus.Desc
	sharedHealthy   *prometheus.Desc
	localEntries    *prometheus.Desc
	auditHealthy    *prometheus.Desc
}

func newStatusCollector(s *Service) *statusCollector {
	algo := []string{"algorithm"}
	return &statusCollector{
		service:         s,
		healthy:         prometheus.NewDesc("matchflow_healthy", "1 when the service is healthy, 0 when degraded", nil, nil),
		configured:      prometheus.NewDesc("matchflow_algorithm_configured", "1 when the algorithm is deployed", algo, nil),
		successRate:     prometheus.NewDesc("matchflow_algorithm_success_rate", "Share of successful attempts", algo, nil),
		avgLatency:      prometheus.NewDesc("matchflow_algorithm_avg_latency_milliseconds", "Smoothed attempt latency", algo, nil),
		totalCalls:      prometheus.NewDesc("matchflow_algorithm_attempts", "Attempts recorded in the metrics store", algo, nil),
		circuitState:    prometheus.NewDesc("matchflow_circuit_state", "Circuit breaker state per algorithm (0 closed, 1 half-open, 2 open)", algo, nil),
		circuitFailures: prometheus.NewDesc("matchflow_circuit_failure_count", "Net failures counted by the breaker", algo, nil),
		circuitLimit:    prometheus.NewDesc("matchflow_circuit_effective_threshold", "Open threshold after adaptation", algo, nil),
		sharedEnabled:   prometheus.NewDesc("matchflow_cache_shared_enabled", "1 when a shared cache tier is configured", nil, nil),
		sharedHealthy:   prometheus.NewDesc("matchflow_cache_shared_healthy", "1 when the last shared cache operation succeeded", nil, nil),
		localEntries:    prometheus.NewDesc("matchflow_cache_local_entries", "Entries in the local cache tier", nil, nil),
		auditHealthy:    prometheus.NewDesc("matchflow_audit_healthy", "1 when the audit writer is healthy", nil, nil),
	}
}

func (c *statusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.healthy, c.configured, c.successRate, c.avgLatency, c.totalCalls,
		c.circuitState, c.circuitFailures, c.circuitLimit,
		c.sharedEnabled, c.sharedHealthy, c.localEntries, c.auditHealthy,
	} {
		ch <- d
	}
}

func (c *statusCollector) Collect(ch chan<- prometheus.Metric) {
	algorithms := c.service.Algorithms()
	stats := c.service.cache.Stats()
	auditHealthy := c.service.audit.IsHealthy()
	cacheUp := !stats.SharedEnabled || stats.SharedHealthy

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	gauge(c.healthy, boolValue(overallStatus(cacheUp, auditHealthy, algorithms) == "healthy"))
	for _, a := range algorithms {
		name := string(a.Algorithm)
		gauge(c.configured, boolValue(a.Configured), name)
		gauge(c.successRate, a.Metrics.SuccessRate, name)
		gauge(c.avgLatency, a.Metrics.AvgLatencyMs, name)
		gauge(c.totalCalls, float64(a.Metrics.TotalCalls), name)
		if !a.Algorithm.IsRemote() {
			continue
		}
		state, failures, limit := circuitbreaker.StateClosed, 0, c.service.breakers.Config().FailureThreshold
		if a.Circuit != nil {
			state = circuitbreaker.ParseState(a.Circuit.State)
			failures, limit = a.Circuit.FailureCount, a.Circuit.EffectiveThreshold
		}
		gauge(c.circuitState, float64(state), name)
		gauge(c.circuitFailures, float64(failures), name)
		gauge(c.circuitLimit, float64(limit), name)
	}
	gauge(c.sharedEnabled, boolValue(stats.SharedEnabled))
	gauge(c.sharedHealthy, boolValue(stats.SharedHealthy))
	gauge(c.localEntries, float64(stats.LocalEntries))
	gauge(c.auditHealthy, boolValue(auditHealthy))
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
