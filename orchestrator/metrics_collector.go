// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"sort"
	"sync"
	"time"

	"matchflow/platform/orchestrator/match"
)

// latencyWindow is how many execution times are kept for percentiles.
const latencyWindow = 1000

// MetricsCollector aggregates orchestration statistics for /api/v2/stats.
type MetricsCollector struct {
	mu      sync.RWMutex
	stats   *collectorState
	started time.Time
	now     func() time.Time
}

type collectorState struct {
	totalRequests    int64
	cacheHits        int64
	coalesced        int64
	fallbacksUsed    int64
	allFailed        int64
	validationErrors int64
	executionTimes   []float64
	usage            map[match.Algorithm]*usageState
	lastReset        time.Time
}

type usageState struct {
	count int64
	times []float64
}

// OrchestrationStats is a copy of the collector state with derived values.
type OrchestrationStats struct {
	TotalRequests    int64                     `json:"total_requests"`
	CacheHits        int64                     `json:"cache_hits"`
	CacheHitRate     float64                   `json:"cache_hit_rate"`
	Coalesced        int64                     `json:"coalesced"`
	FallbacksUsed    int64                     `json:"fallbacks_used"`
	AllFailed        int64                     `json:"all_failed"`
	ValidationErrors int64                     `json:"validation_errors"`
	Latency          LatencySummary            `json:"latency"`
	AlgorithmUsage   map[string]AlgorithmUsage `json:"algorithm_usage"`
	UptimeSeconds    int64                     `json:"uptime_seconds"`
	LastResetTime    time.Time                 `json:"last_reset_time"`
}

// LatencySummary describes execution times in milliseconds.
type LatencySummary struct {
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// AlgorithmUsage is how often an algorithm answered and how fast.
type AlgorithmUsage struct {
	Count   int64          `json:"count"`
	Share   float64        `json:"share"`
	Latency LatencySummary `json:"latency"`
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	now := time.Now()
	return &MetricsCollector{
		stats:   newCollectorState(now),
		started: now,
		now:     time.Now,
	}
}

func newCollectorState(now time.Time) *collectorState {
	return &collectorState{
		executionTimes: make([]float64, 0, latencyWindow),
		usage:          make(map[match.Algorithm]*usageState),
		lastReset:      now,
	}
}

// RecordResponse records one served response.
func (c *MetricsCollector) RecordResponse(resp *match.Response, cacheHit, coalesced, fallbackUsed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.totalRequests++
	if cacheHit {
		s.cacheHits++
	}
	if coalesced {
		s.coalesced++
	}
	if fallbackUsed {
		s.fallbacksUsed++
	}
	if resp.AlgorithmUsed == match.AlgorithmAllFailed {
		s.allFailed++
	}
	s.executionTimes = appendWindow(s.executionTimes, resp.ExecutionTimeMs)

	if cacheHit || coalesced {
		return
	}
	u, ok := s.usage[resp.AlgorithmUsed]
	if !ok {
		u = &usageState{times: make([]float64, 0, 64)}
		s.usage[resp.AlgorithmUsed] = u
	}
	u.count++
	u.times = appendWindow(u.times, resp.ExecutionTimeMs)
}

// RecordValidationError counts a rejected request.
func (c *MetricsCollector) RecordValidationError() {
	c.mu.Lock()
	c.stats.validationErrors++
	c.mu.Unlock()
}

// GetStats returns a copy of the current statistics.
func (c *MetricsCollector) GetStats() OrchestrationStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	out := OrchestrationStats{
		TotalRequests:    s.totalRequests,
		CacheHits:        s.cacheHits,
		Coalesced:        s.coalesced,
		FallbacksUsed:    s.fallbacksUsed,
		AllFailed:        s.allFailed,
		ValidationErrors: s.validationErrors,
		Latency:          summarize(s.executionTimes),
		AlgorithmUsage:   make(map[string]AlgorithmUsage, len(s.usage)),
		UptimeSeconds:    int64(c.now().Sub(c.started).Seconds()),
		LastResetTime:    s.lastReset,
	}
	if s.totalRequests > 0 {
		out.CacheHitRate = float64(s.cacheHits) / float64(s.totalRequests)
	}

	var executed int64
	for _, u := range s.usage {
		executed += u.count
	}
	for a, u := range s.usage {
		usage := AlgorithmUsage{Count: u.count, Latency: summarize(u.times)}
		if executed > 0 {
			usage.Share = float64(u.count) / float64(executed)
		}
		out.AlgorithmUsage[string(a)] = usage
	}
	return out
}

// ResetMetrics clears everything except the start time.
func (c *MetricsCollector) ResetMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = newCollectorState(c.now())
}

func appendWindow(times []float64, v float64) []float64 {
	times = append(times, v)
	if len(times) > latencyWindow {
		times = append(times[:0], times[len(times)-latencyWindow:]...)
	}
	return times
}

func summarize(times []float64) LatencySummary {
	if len(times) == 0 {
		return LatencySummary{}
	}
	sorted := append([]float64(nil), times...)
	sort.Float64s(sorted)

	var total float64
	for _, t := range sorted {
		total += t
	}
	return LatencySummary{
		AvgMs: total / float64(len(sorted)),
		P50Ms: calculatePercentile(sorted, 50),
		P95Ms: calculatePercentile(sorted, 95),
		P99Ms: calculatePercentile(sorted, 99),
	}
}

// calculatePercentile returns the nth percentile of sorted times.
func calculatePercentile(sorted []float64, percentile int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	index := (len(sorted) * percentile) / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
