// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package backend

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"matchflow/platform/orchestrator/adapter"
	"matchflow/platform/orchestrator/circuitbreaker"
	"matchflow/platform/orchestrator/match"
)

func testRequest() *match.Request {
	return &match.Request{
		Candidate: match.CandidateProfile{Skills: []string{"Go"}},
		Offers:    []match.JobOffer{{ID: "o1", RequiredSkills: []string{"Go"}}},
	}
}

func testBreakerConfig() circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig()
	cfg.Adaptive = false
	cfg.FailureThreshold = 2
	return cfg
}

func newBackend(t *testing.T, algo match.Algorithm, url string, timeout time.Duration) *Backend {
	t.Helper()
	a, ok := adapter.For(algo)
	require.True(t, ok)
	return &Backend{
		Algorithm: algo,
		Adapter:   a,
		Breaker:   circuitbreaker.New(string(algo), testBreakerConfig()),
		Client:    NewHTTPClient(algo, url, timeout),
	}
}

func TestBackendCall_Success(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"matches":[{"offer_id":"o1","score":0.9,"confidence":0.8}]}`))
	}))
	defer srv.Close()

	b := newBackend(t, match.AlgorithmML, srv.URL, time.Second)
	results, err := b.Call(context.Background(), testRequest())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0.9, results[0].Score)
	assert.Equal(t, "ml", gjson.Get(received, "algorithm").String())
	assert.Equal(t, circuitbreaker.StateClosed, b.Breaker.State())
}

func TestBackendCall_Failures(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		timeout    time.Duration
		wantErr    error
		wantStatus int
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			timeout:    time.Second,
			wantErr:    ErrBadStatus,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(500 * time.Millisecond):
				case <-r.Context().Done():
				}
			},
			timeout: 50 * time.Millisecond,
			wantErr: ErrTimeout,
		},
		{
			name: "error envelope",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"error":"model not loaded"}`))
			},
			timeout: time.Second,
			wantErr: ErrMalformedPayload,
		},
		{
			name: "malformed payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`not json`))
			},
			timeout: time.Second,
			wantErr: ErrMalformedPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			b := newBackend(t, match.AlgorithmSmart, srv.URL, tt.timeout)
			_, err := b.Call(context.Background(), testRequest())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var callErr *CallError
			require.True(t, errors.As(err, &callErr))
			assert.Equal(t, match.AlgorithmSmart, callErr.Algorithm)
			assert.Equal(t, tt.wantStatus, callErr.StatusCode)
			assert.Equal(t, 1, b.Breaker.Snapshot().FailureCount)
		})
	}
}

func TestBackendCall_OpenCircuitSkipsNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := newBackend(t, match.AlgorithmEnhanced, srv.URL, time.Second)
	for i := 0; i < 2; i++ {
		_, err := b.Call(context.Background(), testRequest())
		require.ErrorIs(t, err, ErrBadStatus)
	}
	require.Equal(t, circuitbreaker.StateOpen, b.Breaker.State())

	_, err := b.Call(context.Background(), testRequest())
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestBackendCall_CallerCancellation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		close(started)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	b := newBackend(t, match.AlgorithmSemantic, srv.URL, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := b.Call(ctx, testRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, b.Breaker.Snapshot().FailureCount)
}

func TestRegistry(t *testing.T) {
	breakers := circuitbreaker.NewRegistry(testBreakerConfig())
	r := NewRegistry(map[match.Algorithm]Endpoint{
		match.AlgorithmML:    {URL: "http://ml:5000/match"},
		match.AlgorithmSmart: {URL: ""},
	}, breakers)

	assert.True(t, r.Configured(match.AlgorithmML))
	assert.True(t, r.Configured(match.AlgorithmBasic))
	assert.False(t, r.Configured(match.AlgorithmSmart))

	b, err := r.Get(match.AlgorithmML)
	require.NoError(t, err)
	assert.Same(t, breakers.Get("ml"), b.Breaker)
	assert.Equal(t, "http://ml:5000/match", b.Client.(*HTTPClient).Endpoint())

	_, err = r.Get(match.AlgorithmSemantic)
	assert.True(t, IsNotConfigured(err))

	_, err = r.Get(match.AlgorithmBasic)
	assert.Error(t, err)
	assert.False(t, IsNotConfigured(err))

	// Breakers exist for every remote algorithm, configured or not.
	assert.ElementsMatch(t, []string{"enhanced", "ml", "semantic", "smart"}, breakers.Names())
}
