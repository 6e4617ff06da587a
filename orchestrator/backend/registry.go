// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"matchflow/platform/orchestrator/adapter"
	"matchflow/platform/orchestrator/circuitbreaker"
	"matchflow/platform/orchestrator/match"
)

// Backend binds a remote algorithm to its adapter, breaker and client.
type Backend struct {
	Algorithm match.Algorithm
	Adapter   adapter.Adapter
	Breaker   *circuitbreaker.Breaker
	Client    Client
}

// Call runs one gated attempt. A rejected breaker returns the
// *circuitbreaker.OpenError without touching the network. Every other
// failure, including a caller cancellation, counts against the breaker.
func (b *Backend) Call(ctx context.Context, req *match.Request) ([]match.Result, error) {
	if err := b.Breaker.Allow(); err != nil {
		return nil, err
	}

	body, err := b.Client.Post(ctx, b.Adapter.EncodeRequest(req))
	if err != nil {
		b.Breaker.RecordFailure()
		return nil, err
	}

	results, err := b.Adapter.DecodeResponse(body)
	if err != nil {
		b.Breaker.RecordFailure()
		return nil, &CallError{Algorithm: b.Algorithm, Err: err}
	}

	b.Breaker.RecordSuccess()
	return results, nil
}

// Endpoint is the deployment of one remote algorithm.
type Endpoint struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Registry maps algorithm identifiers to configured backends. Algorithms
// without an endpoint are known but not configured.
type Registry struct {
	backends map[match.Algorithm]*Backend
	breakers *circuitbreaker.Registry
}

// NewRegistry creates backends for every remote algorithm with a non-empty
// URL. Each gets the breaker named after it.
func NewRegistry(endpoints map[match.Algorithm]Endpoint, breakers *circuitbreaker.Registry) *Registry {
	logger := log.New(os.Stdout, "[MATCH_BACKENDS] ", log.LstdFlags)
	r := &Registry{
		backends: make(map[match.Algorithm]*Backend),
		breakers: breakers,
	}

	for _, algo := range match.RemoteAlgorithms {
		breakers.Get(string(algo))

		ep, ok := endpoints[algo]
		if !ok || ep.URL == "" {
			logger.Printf("%s: no endpoint configured, skipping", algo)
			continue
		}
		timeout := ep.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		a, _ := adapter.For(algo)
		r.Register(&Backend{
			Algorithm: algo,
			Adapter:   a,
			Breaker:   breakers.Get(string(algo)),
			Client:    NewHTTPClient(algo, ep.URL, timeout),
		})
		logger.Printf("%s: %s (timeout %s)", algo, ep.URL, timeout)
	}
	return r
}

// Register adds or replaces a backend.
func (r *Registry) Register(b *Backend) {
	r.backends[b.Algorithm] = b
}

// Get returns the backend for algorithm.
func (r *Registry) Get(algorithm match.Algorithm) (*Backend, error) {
	if !algorithm.IsRemote() {
		return nil, fmt.Errorf("%s is not a remote algorithm", algorithm)
	}
	b, ok := r.backends[algorithm]
	if !ok {
		return nil, &CallError{Algorithm: algorithm, Err: ErrNotConfigured}
	}
	return b, nil
}

// Configured reports whether algorithm can be called. The built-in basic
// algorithm is always available.
func (r *Registry) Configured(algorithm match.Algorithm) bool {
	if algorithm == match.AlgorithmBasic {
		return true
	}
	_, ok := r.backends[algorithm]
	return ok
}

// Breakers returns the breaker registry.
func (r *Registry) Breakers() *circuitbreaker.Registry {
	return r.breakers
}

// IsNotConfigured reports whether err comes from an undeployed algorithm.
func IsNotConfigured(err error) bool {
	return errors.Is(err, ErrNotConfigured)
}
