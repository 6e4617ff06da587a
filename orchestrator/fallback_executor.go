// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"errors"
	"time"

	"matchflow/platform/orchestrator/backend"
	"matchflow/platform/orchestrator/circuitbreaker"
	"matchflow/platform/orchestrator/match"
	"matchflow/platform/shared/logger"
)

// Attempt outcomes reported in response metadata.
const (
	OutcomeSuccess       = "success"
	OutcomeFailure       = "failure"
	OutcomeCircuitOpen   = "circuit_open"
	OutcomeNotConfigured = "not_configured"
	OutcomeCancelled     = "cancelled"
)

// Attempt records one candidate tried by the executor.
type Attempt struct {
	Algorithm  match.Algorithm `json:"algorithm"`
	Outcome    string          `json:"outcome"`
	DurationMs float64         `json:"duration_ms"`
	Error      string          `json:"error,omitempty"`
}

// Execution is the result of running the candidate chain.
type Execution struct {
	Algorithm    match.Algorithm
	Results      []match.Result
	Attempts     []Attempt
	FallbackUsed bool
}

// BackendSource resolves remote algorithms to backends.
type BackendSource interface {
	Get(algorithm match.Algorithm) (*backend.Backend, error)
}

// AttemptObserver is notified after every attempt.
type AttemptObserver func(algorithm match.Algorithm, outcome string, d time.Duration)

// FallbackExecutor tries candidates sequentially until one succeeds.
type FallbackExecutor struct {
	backends BackendSource
	metrics  *MetricsStore
	observe  AttemptObserver
	log      *logger.Logger
}

// NewFallbackExecutor creates an executor. observe may be nil.
func NewFallbackExecutor(backends BackendSource, metrics *MetricsStore, observe AttemptObserver, log *logger.Logger) *FallbackExecutor {
	if observe == nil {
		observe = func(match.Algorithm, string, time.Duration) {}
	}
	return &FallbackExecutor{backends: backends, metrics: metrics, observe: observe, log: log}
}

// Candidates returns primary followed by the fallback hierarchy, without
// repeats. The list always contains basic.
func Candidates(primary match.Algorithm) []match.Algorithm {
	out := make([]match.Algorithm, 0, len(match.FallbackHierarchy)+1)
	seen := make(map[match.Algorithm]bool, len(match.FallbackHierarchy)+1)
	add := func(a match.Algorithm) {
		if a == "" || seen[a] {
			return
		}
		if _, ok := match.ParseAlgorithm(string(a)); !ok {
			return
		}
		seen[a] = true
		out = append(out, a)
	}
	add(primary)
	for _, a := range match.FallbackHierarchy {
		add(a)
	}
	return out
}

// Execute runs the chain for req starting at primary. It never returns an
// error: when nothing succeeds the execution is tagged all_failed. A
// cancelled ctx stops the chain and marks the untried candidates.
func (e *FallbackExecutor) Execute(ctx context.Context, req *match.Request, primary match.Algorithm) Execution {
	candidates := Candidates(primary)
	exec := Execution{Attempts: make([]Attempt, 0, len(candidates))}

	for i, algo := range candidates {
		if ctx.Err() != nil {
			exec.Attempts = append(exec.Attempts, cancelled(candidates[i:])...)
			break
		}

		start := time.Now()
		results, outcome, err := e.try(ctx, req, algo)
		elapsed := time.Since(start)

		attempt := Attempt{Algorithm: algo, Outcome: outcome, DurationMs: match.Elapsed(elapsed)}
		if err != nil {
			attempt.Error = err.Error()
		}
		exec.Attempts = append(exec.Attempts, attempt)
		e.observe(algo, outcome, elapsed)

		if outcome == OutcomeSuccess {
			exec.Algorithm = algo
			exec.Results = results
			exec.FallbackUsed = algo != candidates[0]
			return exec
		}

		if e.log != nil {
			e.log.Warn(req.UserID, req.RequestID, "algorithm attempt failed, falling back", map[string]interface{}{
				"algorithm": string(algo),
				"outcome":   outcome,
				"error":     attempt.Error,
			})
		}

		if ctx.Err() != nil {
			exec.Attempts = append(exec.Attempts, cancelled(candidates[i+1:])...)
			break
		}
	}

	exec.Algorithm = match.AlgorithmAllFailed
	exec.Results = []match.Result{}
	exec.FallbackUsed = true
	return exec
}

// try runs one candidate and updates its metrics.
func (e *FallbackExecutor) try(ctx context.Context, req *match.Request, algo match.Algorithm) ([]match.Result, string, error) {
	start := time.Now()

	if algo == match.AlgorithmBasic {
		results := match.BasicMatch(req)
		e.metrics.Record(algo, true, time.Since(start))
		return results, OutcomeSuccess, nil
	}

	b, err := e.backends.Get(algo)
	if err != nil {
		return nil, OutcomeNotConfigured, err
	}

	results, err := b.Call(ctx, req)
	e.metrics.Record(algo, err == nil, time.Since(start))
	e.metrics.SetCircuitOpen(algo, b.Breaker.IsOpen())

	switch {
	case err == nil:
		return results, OutcomeSuccess, nil
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return nil, OutcomeCircuitOpen, err
	default:
		return nil, OutcomeFailure, err
	}
}

func cancelled(rest []match.Algorithm) []Attempt {
	out := make([]Attempt, 0, len(rest))
	for _, a := range rest {
		out = append(out, Attempt{Algorithm: a, Outcome: OutcomeCancelled})
	}
	return out
}
