// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchflow/platform/orchestrator/match"
)

func TestMetricsStore_Record(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	s := NewMetricsStore(func() time.Time { return now })

	s.Record(match.AlgorithmML, true, 100*time.Millisecond)
	s.Record(match.AlgorithmML, false, 200*time.Millisecond)
	s.Record(match.AlgorithmML, true, 100*time.Millisecond)

	m, ok := s.Get(match.AlgorithmML)
	require.True(t, ok)
	assert.Equal(t, int64(3), m.TotalCalls)
	assert.Equal(t, int64(2), m.SuccessCount)
	assert.Equal(t, int64(1), m.FailureCount)
	assert.InDelta(t, 2.0/3.0, m.SuccessRate, 1e-9)
	// 100, then 100+0.2*(200-100)=120, then 120+0.2*(100-120)=116
	assert.InDelta(t, 116.0, m.AvgLatencyMs, 1e-9)
	require.NotNil(t, m.LastSuccess)
	require.NotNil(t, m.LastFailure)
	assert.True(t, m.LastSuccess.Equal(now))
}

func TestMetricsStore_UnknownAlgorithm(t *testing.T) {
	s := NewMetricsStore(nil)
	s.Record("quantum", true, time.Millisecond)
	s.SetCircuitOpen("quantum", true)

	_, ok := s.Get("quantum")
	assert.False(t, ok)
	assert.Len(t, s.All(), len(match.KnownAlgorithms))
}

func TestMetricsStore_Empty(t *testing.T) {
	s := NewMetricsStore(nil)
	m, ok := s.Get(match.AlgorithmSemantic)
	require.True(t, ok)
	assert.Zero(t, m.TotalCalls)
	assert.Zero(t, m.SuccessRate)
	assert.Nil(t, m.LastSuccess)
	assert.False(t, m.CircuitBreakerOpen)

	s.SetCircuitOpen(match.AlgorithmSemantic, true)
	m, _ = s.Get(match.AlgorithmSemantic)
	assert.True(t, m.CircuitBreakerOpen)
}

func TestMetricsStore_ConcurrentUpdates(t *testing.T) {
	s := NewMetricsStore(nil)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Record(match.AlgorithmEnhanced, (i+j)%2 == 0, 10*time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	m, _ := s.Get(match.AlgorithmEnhanced)
	assert.Equal(t, int64(3200), m.TotalCalls)
	assert.Equal(t, m.TotalCalls, m.SuccessCount+m.FailureCount)
	assert.InDelta(t, 10.0, m.AvgLatencyMs, 1e-9)
}

func TestMetricsStore_AllIsSorted(t *testing.T) {
	all := NewMetricsStore(nil).All()
	for i := 1; i < len(all); i++ {
		assert.Less(t, string(all[i-1].Algorithm), string(all[i].Algorithm))
	}
}

func TestUpdateEWMA_FirstSampleSeedsAverage(t *testing.T) {
	var bits atomic.Uint64
	bits.Store(math.Float64bits(math.NaN()))

	updateEWMA(&bits, 250)
	assert.Equal(t, 250.0, math.Float64frombits(bits.Load()))

	updateEWMA(&bits, 50)
	assert.InDelta(t, 210.0, math.Float64frombits(bits.Load()), 1e-9)
}

func TestMetricsStore_ConcurrentFirstSamples(t *testing.T) {
	for round := 0; round < 20; round++ {
		s := NewMetricsStore(nil)
		start := make(chan struct{})
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				s.Record(match.AlgorithmML, true, 40*time.Millisecond)
			}()
		}
		close(start)
		wg.Wait()

		m, _ := s.Get(match.AlgorithmML)
		require.InDelta(t, 40.0, m.AvgLatencyMs, 1e-9, "round %d", round)
	}
}
