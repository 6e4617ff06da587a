// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"fmt"
	"time"

	"matchflow/platform/orchestrator/match"
)

// TTLPolicy computes per-entry expiry from stability signals. Each signal
// multiplies the base TTL; the product is capped at MaxMultiplier.
type TTLPolicy struct {
	Base                 time.Duration `yaml:"base_ttl"`
	MaxMultiplier        float64       `yaml:"max_multiplier"`
	MLMultiplier         float64       `yaml:"ml_multiplier"`
	SeniorMultiplier     float64       `yaml:"senior_multiplier"`
	SeniorYears          float64       `yaml:"senior_years"`
	BulkOffersMultiplier float64       `yaml:"bulk_offers_multiplier"`
	BulkOffers           int           `yaml:"bulk_offers"`
}

// DefaultTTLPolicy returns the production defaults.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Base:                 time.Hour,
		MaxMultiplier:        2.0,
		MLMultiplier:         1.5,
		SeniorMultiplier:     1.2,
		SeniorYears:          5,
		BulkOffersMultiplier: 1.2,
		BulkOffers:           10,
	}
}

// Validate rejects policies that could shorten the base TTL or disable it.
func (p TTLPolicy) Validate() error {
	if p.Base <= 0 {
		return fmt.Errorf("base_ttl must be positive, got %s", p.Base)
	}
	for name, m := range map[string]float64{
		"max_multiplier":         p.MaxMultiplier,
		"ml_multiplier":          p.MLMultiplier,
		"senior_multiplier":      p.SeniorMultiplier,
		"bulk_offers_multiplier": p.BulkOffersMultiplier,
	} {
		if m < 1 {
			return fmt.Errorf("%s must be >= 1, got %.2f", name, m)
		}
	}
	return nil
}

// Multiplier returns the capped multiplier for a request answered by
// algorithm.
func (p TTLPolicy) Multiplier(req *match.Request, algorithm match.Algorithm) float64 {
	m := 1.0
	if algorithm == match.AlgorithmML {
		m *= p.MLMultiplier
	}
	if req.Candidate.ExperienceYears() >= p.SeniorYears {
		m *= p.SeniorMultiplier
	}
	if p.BulkOffers > 0 && len(req.Offers) >= p.BulkOffers {
		m *= p.BulkOffersMultiplier
	}
	if m > p.MaxMultiplier {
		m = p.MaxMultiplier
	}
	if m < 1 {
		m = 1
	}
	return m
}

// TTL returns the expiry for a request answered by algorithm.
func (p TTLPolicy) TTL(req *match.Request, algorithm match.Algorithm) time.Duration {
	return time.Duration(float64(p.Base) * p.Multiplier(req, algorithm))
}
