// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"matchflow/platform/orchestrator/backend"
	"matchflow/platform/orchestrator/cache"
	"matchflow/platform/orchestrator/circuitbreaker"
	"matchflow/platform/orchestrator/match"
)

// Config is the full service configuration.
type Config struct {
	Server         ServerConfig                `yaml:"server"`
	Backends       map[string]backend.Endpoint `yaml:"backends"`
	CircuitBreaker circuitbreaker.Config       `yaml:"circuit_breaker"`
	Cache          CacheConfig                 `yaml:"cache"`
	Selector       SelectorConfig              `yaml:"selector"`
	Experiment     ExperimentConfig            `yaml:"experiment"`
	Audit          AuditConfig                 `yaml:"audit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// CacheConfig configures both cache tiers.
type CacheConfig struct {
	LocalCapacity        int           `yaml:"local_capacity"`
	SharedTimeout        time.Duration `yaml:"shared_timeout"`
	CompressionThreshold int           `yaml:"compression_threshold"`
	RedisURL             string        `yaml:"redis_url"`
	cache.TTLPolicy      `yaml:",inline"`
}

// SelectorConfig holds the context analyzer and selector thresholds.
type SelectorConfig struct {
	ExpectedQuestionnaireFields int     `yaml:"expected_questionnaire_fields"`
	QuestionnaireThreshold      float64 `yaml:"questionnaire_threshold"`
	SeniorYears                 float64 `yaml:"senior_years"`
	ComplexSkillsThreshold      float64 `yaml:"complex_skills_threshold"`
}

// ExperimentConfig routes a share of auto requests to one algorithm.
type ExperimentConfig struct {
	Algorithm string `yaml:"algorithm"`
	Percent   int    `yaml:"percent"`
}

// AuditConfig configures the decision audit trail.
type AuditConfig struct {
	DatabaseURL string `yaml:"database_url"`
	BatchSize   int    `yaml:"batch_size"`
}

// DefaultConfig returns the production defaults. No backend is deployed.
func DefaultConfig() *Config {
	backends := make(map[string]backend.Endpoint, len(match.RemoteAlgorithms))
	for _, a := range match.RemoteAlgorithms {
		backends[string(a)] = backend.Endpoint{Timeout: 5 * time.Second}
	}
	return &Config{
		Server:         ServerConfig{Port: "8085", RequestTimeout: 10 * time.Second},
		Backends:       backends,
		CircuitBreaker: circuitbreaker.DefaultConfig(),
		Cache: CacheConfig{
			LocalCapacity:        1000,
			SharedTimeout:        250 * time.Millisecond,
			CompressionThreshold: 1024,
			TTLPolicy:            cache.DefaultTTLPolicy(),
		},
		Selector: SelectorConfig{
			ExpectedQuestionnaireFields: 10,
			QuestionnaireThreshold:      0.8,
			SeniorYears:                 7,
			ComplexSkillsThreshold:      0.7,
		},
		Audit: AuditConfig{BatchSize: 100},
	}
}

// LoadConfig reads .env (if present), the YAML file named by
// MATCH_CONFIG_PATH (if set) and then environment overrides.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path := os.Getenv("MATCH_CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := cfg.merge(data); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML over the defaults without reading the
// environment.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.merge(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) merge(data []byte) error {
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	for name, ep := range c.Backends {
		if ep.Timeout <= 0 {
			ep.Timeout = 5 * time.Second
			c.Backends[name] = ep
		}
	}
	return nil
}

// applyEnv applies the 12-factor overrides.
func (c *Config) applyEnv() error {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Cache.RedisURL = getEnv("REDIS_URL", c.Cache.RedisURL)
	c.Audit.DatabaseURL = getEnv("DATABASE_URL", c.Audit.DatabaseURL)

	urlVars := map[match.Algorithm]string{
		match.AlgorithmML:       "ML_MATCHER_URL",
		match.AlgorithmSmart:    "SMART_MATCHER_URL",
		match.AlgorithmEnhanced: "ENHANCED_MATCHER_URL",
		match.AlgorithmSemantic: "SEMANTIC_MATCHER_URL",
	}
	for algo, key := range urlVars {
		ep := c.Backends[string(algo)]
		ep.URL = getEnv(key, ep.URL)
		c.Backends[string(algo)] = ep
	}

	if v := os.Getenv("BACKEND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid BACKEND_TIMEOUT %q: %w", v, err)
		}
		for name, ep := range c.Backends {
			ep.Timeout = d
			c.Backends[name] = ep
		}
	}
	if v := os.Getenv("CACHE_BASE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CACHE_BASE_TTL %q: %w", v, err)
		}
		c.Cache.Base = d
	}
	if v := os.Getenv("CB_FAILURE_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CB_FAILURE_THRESHOLD %q: %w", v, err)
		}
		c.CircuitBreaker.FailureThreshold = n
	}
	if v := os.Getenv("CB_RECOVERY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CB_RECOVERY_TIMEOUT %q: %w", v, err)
		}
		c.CircuitBreaker.RecoveryTimeout = d
	}
	return nil
}

// Validate rejects unusable settings.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive, got %s", c.Server.RequestTimeout)
	}
	for name, ep := range c.Backends {
		a, ok := match.ParseAlgorithm(name)
		if !ok || !a.IsRemote() {
			return fmt.Errorf("backends: unknown remote algorithm %q", name)
		}
		if ep.Timeout <= 0 {
			return fmt.Errorf("backends.%s.timeout must be positive, got %s", name, ep.Timeout)
		}
	}
	if err := c.CircuitBreaker.Validate(); err != nil {
		return fmt.Errorf("circuit_breaker: %w", err)
	}
	if c.Cache.LocalCapacity <= 0 {
		return fmt.Errorf("cache.local_capacity must be positive, got %d", c.Cache.LocalCapacity)
	}
	if c.Cache.SharedTimeout <= 0 {
		return fmt.Errorf("cache.shared_timeout must be positive, got %s", c.Cache.SharedTimeout)
	}
	if err := c.Cache.TTLPolicy.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if c.Selector.ExpectedQuestionnaireFields <= 0 {
		return fmt.Errorf("selector.expected_questionnaire_fields must be positive")
	}
	if c.Selector.QuestionnaireThreshold <= 0 || c.Selector.QuestionnaireThreshold > 1 {
		return fmt.Errorf("selector.questionnaire_threshold must be in (0, 1], got %.2f", c.Selector.QuestionnaireThreshold)
	}
	if c.Experiment.Algorithm != "" {
		if _, ok := match.ParseAlgorithm(c.Experiment.Algorithm); !ok {
			return fmt.Errorf("experiment.algorithm: unknown algorithm %q", c.Experiment.Algorithm)
		}
		if c.Experiment.Percent < 0 || c.Experiment.Percent > 100 {
			return fmt.Errorf("experiment.percent must be in [0, 100], got %d", c.Experiment.Percent)
		}
	}
	return nil
}

// Endpoints returns the backend endpoints keyed by algorithm.
func (c *Config) Endpoints() map[match.Algorithm]backend.Endpoint {
	out := make(map[match.Algorithm]backend.Endpoint, len(c.Backends))
	for name, ep := range c.Backends {
		if a, ok := match.ParseAlgorithm(name); ok {
			out[a] = ep
		}
	}
	return out
}

// CacheOptions converts the cache section.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		LocalCapacity:        c.Cache.LocalCapacity,
		SharedTimeout:        c.Cache.SharedTimeout,
		CompressionThreshold: c.Cache.CompressionThreshold,
		TTL:                  c.Cache.TTLPolicy,
	}
}

// AnalyzerConfig converts the selector section for the context analyzer.
func (c *Config) AnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		ExpectedQuestionnaireFields: c.Selector.ExpectedQuestionnaireFields,
		SeniorYears:                 c.Selector.SeniorYears,
		ComplexSkillsThreshold:      c.Selector.ComplexSkillsThreshold,
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}
