// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"math"
	"sort"
	"sync/atomic"
	"time"

	"matchflow/platform/orchestrator/match"
)

// latencySmoothing is the EWMA weight of the newest sample.
const latencySmoothing = 0.2

// algorithmMetrics is the lock-free state of one algorithm.
type algorithmMetrics struct {
	total       atomic.Int64
	success     atomic.Int64
	failure     atomic.Int64
	avgLatency  atomic.Uint64 // float64 bits, milliseconds; NaN until the first sample
	lastSuccess atomic.Int64  // unix nanos
	lastFailure atomic.Int64  // unix nanos
	circuitOpen atomic.Bool
}

// AlgorithmMetrics is a snapshot of one algorithm's counters.
type AlgorithmMetrics struct {
	Algorithm          match.Algorithm `json:"algorithm"`
	TotalCalls         int64           `json:"total_calls"`
	SuccessCount       int64           `json:"success_count"`
	FailureCount       int64           `json:"failure_count"`
	SuccessRate        float64         `json:"success_rate"`
	AvgLatencyMs       float64         `json:"avg_latency_ms"`
	LastSuccess        *time.Time      `json:"last_success,omitempty"`
	LastFailure        *time.Time      `json:"last_failure,omitempty"`
	CircuitBreakerOpen bool            `json:"circuit_breaker_open"`
}

// MetricsStore holds one entry per known algorithm, created up front and
// never removed. All updates are atomic.
type MetricsStore struct {
	entries map[match.Algorithm]*algorithmMetrics
	now     func() time.Time
}

// NewMetricsStore creates entries for every known algorithm.
func NewMetricsStore(now func() time.Time) *MetricsStore {
	if now == nil {
		now = time.Now
	}
	s := &MetricsStore{
		entries: make(map[match.Algorithm]*algorithmMetrics, len(match.KnownAlgorithms)),
		now:     now,
	}
	for _, a := range match.KnownAlgorithms {
		m := &algorithmMetrics{}
		m.avgLatency.Store(math.Float64bits(math.NaN()))
		s.entries[a] = m
	}
	return s
}

// Record adds one attempt outcome. Unknown algorithms are ignored.
func (s *MetricsStore) Record(algorithm match.Algorithm, success bool, latency time.Duration) {
	m, ok := s.entries[algorithm]
	if !ok {
		return
	}
	m.total.Add(1)
	now := s.now().UnixNano()
	if success {
		m.success.Add(1)
		m.lastSuccess.Store(now)
	} else {
		m.failure.Add(1)
		m.lastFailure.Store(now)
	}
	updateEWMA(&m.avgLatency, match.Elapsed(latency))
}

// SetCircuitOpen mirrors the breaker state.
func (s *MetricsStore) SetCircuitOpen(algorithm match.Algorithm, open bool) {
	if m, ok := s.entries[algorithm]; ok {
		m.circuitOpen.Store(open)
	}
}

// Get returns a snapshot for algorithm.
func (s *MetricsStore) Get(algorithm match.Algorithm) (AlgorithmMetrics, bool) {
	m, ok := s.entries[algorithm]
	if !ok {
		return AlgorithmMetrics{}, false
	}

	out := AlgorithmMetrics{
		Algorithm:          algorithm,
		TotalCalls:         m.total.Load(),
		SuccessCount:       m.success.Load(),
		FailureCount:       m.failure.Load(),
		CircuitBreakerOpen: m.circuitOpen.Load(),
	}
	if avg := math.Float64frombits(m.avgLatency.Load()); !math.IsNaN(avg) {
		out.AvgLatencyMs = avg
	}
	if done := out.SuccessCount + out.FailureCount; done > 0 {
		out.SuccessRate = float64(out.SuccessCount) / float64(done)
	}
	if ts := m.lastSuccess.Load(); ts != 0 {
		t := time.Unix(0, ts).UTC()
		out.LastSuccess = &t
	}
	if ts := m.lastFailure.Load(); ts != 0 {
		t := time.Unix(0, ts).UTC()
		out.LastFailure = &t
	}
	return out, true
}

// All returns snapshots for every known algorithm, ordered by name.
func (s *MetricsStore) All() []AlgorithmMetrics {
	out := make([]AlgorithmMetrics, 0, len(s.entries))
	for a := range s.entries {
		m, _ := s.Get(a)
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Algorithm < out[j].Algorithm })
	return out
}

// updateEWMA folds sample into the float64 stored in bits with a CAS loop.
// A NaN value means no sample has been recorded yet.
func updateEWMA(bits *atomic.Uint64, sample float64) {
	for {
		old := bits.Load()
		next := sample
		if prev := math.Float64frombits(old); !math.IsNaN(prev) {
			next = prev + latencySmoothing*(sample-prev)
		}
		if bits.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}
