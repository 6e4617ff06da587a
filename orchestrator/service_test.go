// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matchflow/platform/orchestrator/adapter"
	"matchflow/platform/orchestrator/backend"
	"matchflow/platform/orchestrator/cache"
	"matchflow/platform/orchestrator/circuitbreaker"
	"matchflow/platform/orchestrator/match"
	"matchflow/platform/shared/logger"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.CircuitBreaker = staticBreakerConfig(5)
	return cfg
}

// newTestService builds a service whose remote algorithms are served by
// clients. No Redis and no audit database are configured.
func newTestService(t *testing.T, cfg *Config, clients map[match.Algorithm]backend.Client, opts ...ServiceOption) *Service {
	t.Helper()
	opts = append([]ServiceOption{
		WithLogger(logger.NewWithWriter("test", io.Discard)),
		WithBackendSetup(func(reg *backend.Registry) {
			for algo, c := range clients {
				a, ok := adapter.For(algo)
				require.True(t, ok)
				reg.Register(&backend.Backend{
					Algorithm: algo,
					Adapter:   a,
					Breaker:   reg.Breakers().Get(string(algo)),
					Client:    c,
				})
			}
		}),
	}, opts...)

	s, err := NewService(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMatch_BasicOnlyDeployment(t *testing.T) {
	s := newTestService(t, testConfig(), nil)

	req := pythonRequest()
	req.RequestID = ""
	resp := s.Match(context.Background(), req)

	assert.True(t, resp.Success)
	assert.Equal(t, match.AlgorithmBasic, resp.AlgorithmUsed)
	assert.Contains(t, resp.SelectionReason, "fallback hierarchy: ml")
	require.Len(t, resp.Matches, 2)
	assert.Equal(t, "backend", resp.Matches[0].OfferID)

	for _, key := range []string{
		"cache_hit", "cache_key", "fallback_used", "coalesced", "selected_algorithm",
		"attempts", "circuit_breakers", "context", "request_id",
	} {
		assert.Contains(t, resp.Metadata, key)
	}
	assert.Equal(t, false, resp.Metadata["cache_hit"])
	assert.Equal(t, true, resp.Metadata["fallback_used"])
	assert.Equal(t, "ml", resp.Metadata["selected_algorithm"])
	assert.NotEmpty(t, resp.Metadata["request_id"])
	assert.Empty(t, req.RequestID, "caller request must not be modified")
}

func TestMatch_SecondIdenticalRequestHitsCache(t *testing.T) {
	ml := okClient(`{"matches":[{"offer_id":"backend","score":0.91},{"offer_id":"frontend","score":0.12}]}`)
	s := newTestService(t, testConfig(), map[match.Algorithm]backend.Client{match.AlgorithmML: ml})

	first := s.Match(context.Background(), pythonRequest())
	second := s.Match(context.Background(), pythonRequest())

	assert.Equal(t, match.AlgorithmML, first.AlgorithmUsed)
	assert.Equal(t, false, first.Metadata["cache_hit"])
	assert.Equal(t, true, second.Metadata["cache_hit"])
	assert.Equal(t, "local", second.Metadata["cache_tier"])
	assert.Equal(t, first.Matches, second.Matches)
	assert.Equal(t, first.Metadata["cache_key"], second.Metadata["cache_key"])
	assert.Equal(t, int64(1), ml.calls.Load())

	stats := s.Stats()
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.AlgorithmUsage["ml"].Count)
}

func TestMatch_OfferOrderSharesCacheEntry(t *testing.T) {
	s := newTestService(t, testConfig(), nil)

	req := pythonRequest()
	s.Match(context.Background(), req)

	reordered := pythonRequest()
	reordered.Offers[0], reordered.Offers[1] = reordered.Offers[1], reordered.Offers[0]
	resp := s.Match(context.Background(), reordered)

	assert.Equal(t, true, resp.Metadata["cache_hit"])
}

func TestMatch_AllFailedIsNotCached(t *testing.T) {
	s := newTestService(t, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	failed := s.Match(ctx, pythonRequest())

	assert.True(t, failed.Success)
	assert.Equal(t, match.AlgorithmAllFailed, failed.AlgorithmUsed)
	assert.Empty(t, failed.Matches)
	assert.Equal(t, true, failed.Metadata["fallback_used"])

	next := s.Match(context.Background(), pythonRequest())
	assert.Equal(t, false, next.Metadata["cache_hit"])
	assert.Equal(t, match.AlgorithmBasic, next.AlgorithmUsed)
	assert.Equal(t, int64(1), s.Stats().AllFailed)
}

func TestMatch_ExplicitAlgorithm(t *testing.T) {
	semantic := okClient(`{"results":[{"job_id":"backend","similarity":0.7,"matched_skills":["python"]}]}`)
	s := newTestService(t, testConfig(), map[match.Algorithm]backend.Client{match.AlgorithmSemantic: semantic})

	req := pythonRequest()
	req.Algorithm = "semantic"
	resp := s.Match(context.Background(), req)

	assert.Equal(t, match.AlgorithmSemantic, resp.AlgorithmUsed)
	assert.Equal(t, "explicit request for semantic", resp.SelectionReason)
	assert.Equal(t, false, resp.Metadata["fallback_used"])
}

func TestMatch_TrafficSplit(t *testing.T) {
	cfg := testConfig()
	cfg.Experiment = ExperimentConfig{Algorithm: "semantic", Percent: 100}
	semantic := okClient(`[{"job_id":"backend","similarity":0.7}]`)
	s := newTestService(t, cfg, map[match.Algorithm]backend.Client{match.AlgorithmSemantic: semantic})

	resp := s.Match(context.Background(), pythonRequest())
	assert.Equal(t, match.AlgorithmSemantic, resp.AlgorithmUsed)
	assert.Contains(t, resp.SelectionReason, "traffic split (bucket ")
	assert.Contains(t, resp.SelectionReason, "explicit request for semantic")

	explicit := pythonRequest()
	explicit.Algorithm = "basic"
	resp = s.Match(context.Background(), explicit)
	assert.Equal(t, match.AlgorithmBasic, resp.AlgorithmUsed)
	assert.NotContains(t, resp.SelectionReason, "traffic split")
}

func TestExperimentBucket(t *testing.T) {
	for _, id := range []string{"", "anonymous", "u-1", "someone@example.com"} {
		b := ExperimentBucket(id)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 100)
		assert.Equal(t, b, ExperimentBucket(id))
	}
}

func TestMatch_ConcurrentMissesAreCoalesced(t *testing.T) {
	release := make(chan struct{})
	ml := &fakeClient{post: func(ctx context.Context) ([]byte, error) {
		<-release
		return []byte(`[{"offer_id":"backend","score":0.8}]`), nil
	}}
	s := newTestService(t, testConfig(), map[match.Algorithm]backend.Client{match.AlgorithmML: ml})

	const callers = 8
	responses := make([]*match.Response, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i] = s.Match(context.Background(), pythonRequest())
		}(i)
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), ml.calls.Load())
	leaders := 0
	for _, r := range responses {
		require.NotNil(t, r)
		assert.Equal(t, match.AlgorithmML, r.AlgorithmUsed)
		if r.Metadata["coalesced"] == false && r.Metadata["cache_hit"] == false {
			leaders++
		}
	}
	assert.Equal(t, 1, leaders)

	responses[0].Matches[0].Score = -1
	responses[0].Metadata["request_id"] = "mutated"
	assert.Equal(t, 0.8, responses[1].Matches[0].Score)
	assert.NotEqual(t, "mutated", responses[1].Metadata["request_id"])
}

func TestMatch_SharedTierAcrossReplicas(t *testing.T) {
	mr := miniredis.RunT(t)
	newStore := func() cache.SharedStore {
		return cache.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	}

	first := newTestService(t, testConfig(), nil, WithSharedStore(newStore()))
	second := newTestService(t, testConfig(), nil, WithSharedStore(newStore()))

	resp := first.Match(context.Background(), pythonRequest())
	first.cache.Wait()

	hit := second.Match(context.Background(), pythonRequest())
	assert.Equal(t, true, hit.Metadata["cache_hit"])
	assert.Equal(t, "shared", hit.Metadata["cache_tier"])
	assert.Equal(t, resp.Matches, hit.Matches)
}

func TestMatch_SharedTierOutageDegradesToLocal(t *testing.T) {
	mr := miniredis.RunT(t)
	store := cache.NewRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	s := newTestService(t, testConfig(), nil, WithSharedStore(store))
	mr.Close()

	resp := s.Match(context.Background(), pythonRequest())
	assert.Equal(t, match.AlgorithmBasic, resp.AlgorithmUsed)

	again := s.Match(context.Background(), pythonRequest())
	assert.Equal(t, true, again.Metadata["cache_hit"])
	assert.Equal(t, "local", again.Metadata["cache_tier"])
	assert.Equal(t, "degraded", s.Health(context.Background()).Status)
}

func TestHealth_ReportsOpenCircuit(t *testing.T) {
	ml := failingClient(backend.ErrBadStatus)
	cfg := testConfig()
	cfg.CircuitBreaker = staticBreakerConfig(1)
	s := newTestService(t, cfg, map[match.Algorithm]backend.Client{match.AlgorithmML: ml})

	assert.Equal(t, "healthy", s.Health(context.Background()).Status)

	req := pythonRequest()
	req.Algorithm = "ml"
	s.Match(context.Background(), req)

	report := s.Health(context.Background())
	assert.Equal(t, "degraded", report.Status)
	assert.Equal(t, circuitbreaker.StateOpen.String(), report.CircuitBreakers["ml"].State)

	var mlStatus AlgorithmStatus
	for _, a := range report.Algorithms {
		if a.Algorithm == match.AlgorithmML {
			mlStatus = a
		}
	}
	assert.True(t, mlStatus.Configured)
	assert.True(t, mlStatus.Metrics.CircuitBreakerOpen)
	assert.Equal(t, int64(1), mlStatus.Metrics.FailureCount)
}

func TestMatch_OpenCircuitSteersSelection(t *testing.T) {
	ml := failingClient(backend.ErrTimeout)
	enhanced := okClient(`[{"offer_id":"backend","score":0.6}]`)
	cfg := testConfig()
	cfg.CircuitBreaker = staticBreakerConfig(1)
	s := newTestService(t, cfg, map[match.Algorithm]backend.Client{
		match.AlgorithmML:       ml,
		match.AlgorithmEnhanced: enhanced,
	})

	req := pythonRequest()
	req.Candidate.Questionnaire = questionnaire(10, 0)
	first := s.Match(context.Background(), req)
	assert.Equal(t, match.AlgorithmEnhanced, first.AlgorithmUsed)
	assert.Equal(t, "ml", first.Metadata["selected_algorithm"])

	s.cache.Invalidate(context.Background(), first.Metadata["cache_key"].(string))
	second := s.Match(context.Background(), req)
	assert.Equal(t, "enhanced", second.Metadata["selected_algorithm"])
	assert.Contains(t, second.SelectionReason, "ml circuit open")
	assert.Equal(t, int64(1), ml.calls.Load())
}

func TestMatch_OpenCircuitRecoversWhileFallbacksServe(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	var healthy atomic.Bool
	ml := &fakeClient{post: func(context.Context) ([]byte, error) {
		if healthy.Load() {
			return []byte(`{"matches":[{"offer_id":"backend","score":0.9}]}`), nil
		}
		return nil, backend.ErrTimeout
	}}
	enhanced := okClient(`[{"offer_id":"backend","score":0.6}]`)
	s := newTestService(t, testConfig(), map[match.Algorithm]backend.Client{
		match.AlgorithmML:       ml,
		match.AlgorithmEnhanced: enhanced,
	}, WithBreakerOptions(circuitbreaker.WithClock(clock)))

	serve := func(i int) *match.Response {
		req := pythonRequest()
		req.RequestID = ""
		req.Candidate.Questionnaire = questionnaire(10, 0)
		req.Offers[0].ID = fmt.Sprintf("frontend-%d", i)
		return s.Match(context.Background(), req)
	}

	for i := 0; i < 5; i++ {
		assert.Equal(t, match.AlgorithmEnhanced, serve(i).AlgorithmUsed)
	}
	require.Equal(t, circuitbreaker.StateOpen, s.Breakers().Get("ml").State())
	assert.Equal(t, "degraded", s.Health(context.Background()).Status)

	resp := serve(5)
	assert.Equal(t, "enhanced", resp.Metadata["selected_algorithm"])
	assert.Equal(t, int64(5), ml.calls.Load(), "open circuit is not called")

	mu.Lock()
	now = now.Add(10 * time.Minute)
	mu.Unlock()
	healthy.Store(true)

	for i := 6; i < 9; i++ {
		resp := serve(i)
		assert.Equal(t, "ml", resp.Metadata["selected_algorithm"], "request %d", i)
		assert.Equal(t, match.AlgorithmML, resp.AlgorithmUsed, "request %d", i)
	}
	assert.Equal(t, circuitbreaker.StateClosed, s.Breakers().Get("ml").State())

	report := s.Health(context.Background())
	assert.Equal(t, "healthy", report.Status)
	for _, a := range report.Algorithms {
		assert.False(t, a.Metrics.CircuitBreakerOpen, a.Algorithm)
	}
}

func TestResettable(t *testing.T) {
	s := newTestService(t, testConfig(), nil)
	assert.True(t, s.Resettable("ml"))
	assert.True(t, s.Resettable("ML"))
	assert.False(t, s.Resettable("basic"))
	assert.True(t, s.Resettable("unknown"))
}
