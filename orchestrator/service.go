// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"matchflow/platform/orchestrator/backend"
	"matchflow/platform/orchestrator/cache"
	"matchflow/platform/orchestrator/circuitbreaker"
	"matchflow/platform/orchestrator/match"
	"matchflow/platform/shared/logger"
)

// Request status labels for matchflow_requests_total.
const (
	statusCacheHit  = "cache_hit"
	statusSuccess   = "success"
	statusFallback  = "fallback"
	statusAllFailed = "all_failed"
)

// Service runs the orchestration pipeline: cache lookup, context analysis,
// selection, fallback execution and cache store.
type Service struct {
	cfg       *Config
	analyzer  *ContextAnalyzer
	selector  *AlgorithmSelector
	executor  *FallbackExecutor
	backends  *backend.Registry
	breakers  *circuitbreaker.Registry
	metrics   *MetricsStore
	cache     *cache.TieredCache
	collector *MetricsCollector
	audit     *AuditLogger
	group     singleflight.Group
	registry  *prometheus.Registry
	log       *logger.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	cache        *cache.TieredCache
	audit        *AuditLogger
	logger       *logger.Logger
	breakerOpts  []circuitbreaker.Option
	sharedStore  cache.SharedStore
	backendSetup func(*backend.Registry)
}

// WithCache uses c instead of building one from the configuration.
func WithCache(c *cache.TieredCache) ServiceOption {
	return func(o *serviceOptions) { o.cache = c }
}

// WithSharedStore uses store as the shared cache tier.
func WithSharedStore(store cache.SharedStore) ServiceOption {
	return func(o *serviceOptions) { o.sharedStore = store }
}

// WithAuditLogger uses a instead of connecting to the audit database.
func WithAuditLogger(a *AuditLogger) ServiceOption {
	return func(o *serviceOptions) { o.audit = a }
}

// WithLogger replaces the structured logger.
func WithLogger(l *logger.Logger) ServiceOption {
	return func(o *serviceOptions) { o.logger = l }
}

// WithBreakerOptions passes options to every circuit breaker.
func WithBreakerOptions(opts ...circuitbreaker.Option) ServiceOption {
	return func(o *serviceOptions) { o.breakerOpts = append(o.breakerOpts, opts...) }
}

// WithBackendSetup runs fn on the backend registry after it is built, for
// registering custom clients.
func WithBackendSetup(fn func(*backend.Registry)) ServiceOption {
	return func(o *serviceOptions) { o.backendSetup = fn }
}

// NewService wires every component from cfg.
func NewService(cfg *Config, opts ...ServiceOption) (*Service, error) {
	var o serviceOptions
	for _, opt := range opts {
		opt(&o)
	}

	structured := o.logger
	if structured == nil {
		structured = logger.New("orchestrator")
	}
	startup := log.New(os.Stdout, "[MATCH_ORCHESTRATOR] ", log.LstdFlags)

	metrics := NewMetricsStore(nil)
	breakerOpts := append([]circuitbreaker.Option{
		circuitbreaker.WithStateChange(func(name string, from, to circuitbreaker.State) {
			metrics.SetCircuitOpen(match.Algorithm(name), to == circuitbreaker.StateOpen)
			structured.Warn("", "", "circuit state changed", map[string]interface{}{
				"algorithm": name,
				"from":      from.String(),
				"to":        to.String(),
			})
		}),
	}, o.breakerOpts...)
	breakers := circuitbreaker.NewRegistry(cfg.CircuitBreaker, breakerOpts...)

	backends := backend.NewRegistry(cfg.Endpoints(), breakers)
	if o.backendSetup != nil {
		o.backendSetup(backends)
	}

	tiered := o.cache
	if tiered == nil {
		store := o.sharedStore
		if store == nil && cfg.Cache.RedisURL != "" {
			rs, err := cache.NewRedisStore(cfg.Cache.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("failed to configure shared cache: %w", err)
			}
			store = rs
		}
		cacheOpts := cfg.CacheOptions()
		cacheOpts.OnLookup = observeCacheLookup
		c, err := cache.New(store, cacheOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to create cache: %w", err)
		}
		tiered = c

		if store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := tiered.Health(ctx); err != nil {
				startup.Printf("Shared cache unreachable, starting with local tier only: %v", err)
			} else {
				startup.Println("Shared cache connected")
			}
			cancel()
		}
	}

	audit := o.audit
	if audit == nil {
		audit = NewAuditLogger(cfg.Audit.DatabaseURL, cfg.Audit.BatchSize)
	}

	for _, a := range match.KnownAlgorithms {
		startup.Printf("algorithm %-9s configured=%t", a, backends.Configured(a))
	}
	if cfg.Experiment.Algorithm != "" && cfg.Experiment.Percent > 0 {
		startup.Printf("traffic split: %d%% of auto requests to %s", cfg.Experiment.Percent, cfg.Experiment.Algorithm)
	}

	s := &Service{
		cfg:       cfg,
		analyzer:  NewContextAnalyzer(cfg.AnalyzerConfig()),
		selector:  NewAlgorithmSelector(cfg.Selector.QuestionnaireThreshold),
		executor:  NewFallbackExecutor(backends, metrics, observeAttempt, structured),
		backends:  backends,
		breakers:  breakers,
		metrics:   metrics,
		cache:     tiered,
		collector: NewMetricsCollector(),
		audit:     audit,
		registry:  prometheus.NewRegistry(),
		log:       structured,
	}
	s.registry.MustRegister(newStatusCollector(s))
	return s, nil
}

// orchestration is the shared outcome of one pipeline run.
type orchestration struct {
	resp     *match.Response
	selected match.Algorithm
	attempts []Attempt
	fallback bool
}

// Match serves req. It always returns a well-formed response; backend
// failures are reported in metadata, never as errors.
func (s *Service) Match(ctx context.Context, req *match.Request) *match.Response {
	start := time.Now()
	if s.cfg.Server.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Server.RequestTimeout)
		defer cancel()
	}

	effective, splitReason := s.prepare(req)
	key := cache.Key(effective)

	if cached, tier, ok := s.cache.Get(ctx, key); ok {
		cached.ExecutionTimeMs = match.Elapsed(time.Since(start))
		if cached.Metadata == nil {
			cached.Metadata = make(map[string]interface{})
		}
		cached.Metadata["cache_hit"] = true
		cached.Metadata["cache_tier"] = string(tier)
		cached.Metadata["cache_key"] = key
		cached.Metadata["coalesced"] = false
		cached.Metadata["request_id"] = effective.RequestID
		s.finish(effective, cached, key, true, false, &orchestration{
			selected: cached.AlgorithmUsed,
		})
		return cached
	}

	ran := false
	v, _, _ := s.group.Do(key, func() (interface{}, error) {
		ran = true
		return s.orchestrate(ctx, effective, key, splitReason), nil
	})
	out := v.(*orchestration)
	coalesced := !ran

	// A follower must not inherit a leader's cancellation.
	if coalesced && out.resp.AlgorithmUsed == match.AlgorithmAllFailed && ctx.Err() == nil {
		out = s.orchestrate(ctx, effective, key, splitReason)
		coalesced = false
	}

	resp := out.resp.Clone()
	resp.ExecutionTimeMs = match.Elapsed(time.Since(start))
	resp.Metadata["cache_hit"] = false
	resp.Metadata["cache_key"] = key
	resp.Metadata["coalesced"] = coalesced
	resp.Metadata["request_id"] = effective.RequestID
	s.finish(effective, resp, key, false, coalesced, out)
	return resp
}

// prepare fills defaults and applies the traffic split. The caller's
// request is not modified.
func (s *Service) prepare(req *match.Request) (*match.Request, string) {
	effective := *req
	if effective.RequestID == "" {
		effective.RequestID = uuid.New().String()
	}
	if effective.UserID == "" {
		effective.UserID = "anonymous"
	}

	exp := s.cfg.Experiment
	if exp.Algorithm == "" || exp.Percent <= 0 {
		return &effective, ""
	}
	if _, explicit := effective.RequestedAlgorithm(); explicit {
		return &effective, ""
	}
	bucket := ExperimentBucket(effective.UserID)
	if bucket >= exp.Percent {
		return &effective, ""
	}
	effective.Algorithm = exp.Algorithm
	return &effective, fmt.Sprintf("traffic split (bucket %d): ", bucket)
}

// ExperimentBucket maps a caller id onto 0-99.
func ExperimentBucket(userID string) int {
	return int(xxhash.Sum64String(userID) % 100)
}

func (s *Service) orchestrate(ctx context.Context, req *match.Request, key, reasonPrefix string) *orchestration {
	mc := s.analyzer.Analyze(req)
	circuits := s.circuitStates()
	sel := s.selector.Select(req.Algorithm, mc, circuits)

	exec := s.executor.Execute(ctx, req, sel.Algorithm)
	for i := range exec.Results {
		exec.Results[i].Normalize()
	}

	resp := &match.Response{
		Success:         true,
		Matches:         exec.Results,
		AlgorithmUsed:   exec.Algorithm,
		SelectionReason: reasonPrefix + sel.Reason,
		Metadata: map[string]interface{}{
			"selected_algorithm": string(sel.Algorithm),
			"fallback_used":      exec.FallbackUsed,
			"attempts":           exec.Attempts,
			"circuit_breakers":   s.circuitStates().Names(),
			"context":            mc,
		},
	}

	if exec.Algorithm != match.AlgorithmAllFailed {
		s.cache.Put(key, resp, s.cache.Policy().TTL(req, exec.Algorithm))
		observeCompressionRatio(s.cache.CompressionRatio())
	}

	return &orchestration{
		resp:     resp,
		selected: sel.Algorithm,
		attempts: exec.Attempts,
		fallback: exec.FallbackUsed,
	}
}

// finish records statistics and the audit entry for a served response.
func (s *Service) finish(req *match.Request, resp *match.Response, key string, cacheHit, coalesced bool, out *orchestration) {
	status := statusSuccess
	switch {
	case cacheHit:
		status = statusCacheHit
	case resp.AlgorithmUsed == match.AlgorithmAllFailed:
		status = statusAllFailed
	case out.fallback:
		status = statusFallback
	}
	observeRequest(status, resp.ExecutionTimeMs)
	s.collector.RecordResponse(resp, cacheHit, coalesced, out.fallback && !cacheHit)

	s.audit.Log(NewAuditEntry(req, resp, key, out.selected, cacheHit, out.fallback, out.attempts))

	s.log.InfoWithDuration(req.UserID, req.RequestID, "match served", resp.ExecutionTimeMs, map[string]interface{}{
		"algorithm_used": string(resp.AlgorithmUsed),
		"status":         status,
		"matches":        len(resp.Matches),
		"offers":         len(req.Offers),
		"coalesced":      coalesced,
	})
}

func (s *Service) circuitStates() CircuitStates {
	states := s.breakers.States()
	out := make(CircuitStates, len(states))
	for name, st := range states {
		out[match.Algorithm(name)] = st
	}
	return out
}

// AlgorithmStatus describes one algorithm for the status endpoints.
type AlgorithmStatus struct {
	Algorithm  match.Algorithm          `json:"algorithm"`
	Configured bool                     `json:"configured"`
	Metrics    AlgorithmMetrics         `json:"metrics"`
	Circuit    *circuitbreaker.Snapshot `json:"circuit,omitempty"`
}

// Algorithms returns the status of every known algorithm.
func (s *Service) Algorithms() []AlgorithmStatus {
	snapshots := s.breakers.Snapshot()
	out := make([]AlgorithmStatus, 0, len(match.KnownAlgorithms))
	for _, a := range match.KnownAlgorithms {
		if snap, ok := snapshots[string(a)]; ok {
			s.metrics.SetCircuitOpen(a, snap.State == circuitbreaker.StateOpen.String())
		}
		m, _ := s.metrics.Get(a)
		st := AlgorithmStatus{Algorithm: a, Configured: s.backends.Configured(a), Metrics: m}
		if snap, ok := snapshots[string(a)]; ok {
			snap := snap
			st.Circuit = &snap
		}
		out = append(out, st)
	}
	return out
}

// HealthReport is the body of GET /health.
type HealthReport struct {
	Status          string                             `json:"status"`
	Timestamp       time.Time                          `json:"timestamp"`
	Algorithms      []AlgorithmStatus                  `json:"algorithms"`
	CircuitBreakers map[string]circuitbreaker.Snapshot `json:"circuit_breakers"`
	Cache           cache.Stats                        `json:"cache"`
	AuditEnabled    bool                               `json:"audit_enabled"`
	AuditHealthy    bool                               `json:"audit_healthy"`
}

// Health reports aggregate status. The service is degraded when a
// configured backend is quarantined or the shared cache is down; it is
// never unhealthy because basic is always available.
func (s *Service) Health(ctx context.Context) HealthReport {
	cacheErr := s.cache.Health(ctx)
	report := HealthReport{
		Timestamp:       time.Now().UTC(),
		Algorithms:      s.Algorithms(),
		CircuitBreakers: s.breakers.Snapshot(),
		Cache:           s.cache.Stats(),
		AuditEnabled:    s.audit.Enabled(),
		AuditHealthy:    s.audit.IsHealthy(),
	}
	report.Status = overallStatus(cacheErr == nil, report.AuditHealthy, report.Algorithms)
	return report
}

// overallStatus is "degraded" when the shared cache or the audit writer is
// down, or a configured algorithm's circuit is OPEN.
func overallStatus(cacheUp, auditHealthy bool, algorithms []AlgorithmStatus) string {
	if !cacheUp || !auditHealthy {
		return "degraded"
	}
	for _, a := range algorithms {
		if a.Configured && a.Circuit != nil && a.Circuit.State == circuitbreaker.StateOpen.String() {
			return "degraded"
		}
	}
	return "healthy"
}

// Gatherer returns the per-service Prometheus registry holding the live
// status series.
func (s *Service) Gatherer() prometheus.Gatherer {
	return s.registry
}

// ServiceStats is the body of GET /api/v2/stats.
type ServiceStats struct {
	OrchestrationStats
	Cache cache.Stats `json:"cache"`
}

// Stats returns aggregate statistics.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{OrchestrationStats: s.collector.GetStats(), Cache: s.cache.Stats()}
}

// RecordValidationError counts a request rejected before orchestration.
func (s *Service) RecordValidationError() {
	s.collector.RecordValidationError()
	promRequestsTotal.WithLabelValues("invalid").Inc()
}

// Breakers returns the breaker registry.
func (s *Service) Breakers() *circuitbreaker.Registry {
	return s.breakers
}

// Audit returns the audit logger.
func (s *Service) Audit() *AuditLogger {
	return s.audit
}

// Resettable reports whether name has a breaker that may be reset over the
// API. basic has none.
func (s *Service) Resettable(name string) bool {
	a, ok := match.ParseAlgorithm(name)
	if !ok {
		return true // unknown names are reported as 404 by the handler
	}
	return a.IsRemote()
}

// Close flushes background work.
func (s *Service) Close() error {
	s.audit.Close()
	return s.cache.Close()
}
