// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package cache

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"matchflow/platform/orchestrator/match"
)

// SchemaVersion is folded into every key. Bump it when the cached response
// shape changes.
const SchemaVersion = "v2"

const keyPrefix = "match:" + SchemaVersion + ":"

// keyProjection is the subset of a request that influences the result.
// Field order in the JSON encoding is fixed by the struct; maps are encoded
// with sorted keys.
type keyProjection struct {
	Version         string                 `json:"v"`
	Algorithm       string                 `json:"a"`
	Skills          []string               `json:"s"`
	ExperienceYears float64                `json:"e"`
	Location        string                 `json:"l"`
	Questionnaire   map[string]interface{} `json:"q,omitempty"`
	Offers          []offerProjection      `json:"o"`
}

type offerProjection struct {
	ID            string                 `json:"i"`
	Skills        []string               `json:"s"`
	Location      string                 `json:"l"`
	Questionnaire map[string]interface{} `json:"q,omitempty"`
}

// Key returns the cache key for req. Requests that differ only in field
// ordering, offer ordering, skill casing, request id, user id or titles
// produce the same key.
func Key(req *match.Request) string {
	algorithm := string(match.AlgorithmAuto)
	if a, ok := req.RequestedAlgorithm(); ok {
		algorithm = string(a)
	}

	p := keyProjection{
		Version:         SchemaVersion,
		Algorithm:       algorithm,
		Skills:          normalizedSkills(req.Candidate.Skills),
		ExperienceYears: math.Round(req.Candidate.ExperienceYears()*10) / 10,
		Location:        normalizeText(req.Candidate.Location),
		Questionnaire:   nonEmpty(req.Candidate.Questionnaire),
		Offers:          make([]offerProjection, 0, len(req.Offers)),
	}

	for _, o := range req.Offers {
		p.Offers = append(p.Offers, offerProjection{
			ID:            strings.TrimSpace(o.ID),
			Skills:        normalizedSkills(o.RequiredSkills),
			Location:      normalizeText(o.Location),
			Questionnaire: nonEmpty(o.Questionnaire),
		})
	}
	sort.Slice(p.Offers, func(i, j int) bool {
		a, b := p.Offers[i], p.Offers[j]
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		if sa, sb := strings.Join(a.Skills, ","), strings.Join(b.Skills, ","); sa != sb {
			return sa < sb
		}
		return a.Location < b.Location
	})

	payload, err := json.Marshal(p)
	if err != nil {
		// Questionnaire values that cannot be encoded still need a stable key.
		p.Questionnaire = nil
		for i := range p.Offers {
			p.Offers[i].Questionnaire = nil
		}
		payload, _ = json.Marshal(p)
	}
	return fmt.Sprintf("%s%016x", keyPrefix, xxhash.Sum64(payload))
}

func normalizedSkills(skills []string) []string {
	seen := make(map[string]bool, len(skills))
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		n := match.NormalizeSkill(s)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func nonEmpty(m map[string]interface{}) map[string]interface{} {
	if len(m) == 0 {
		return nil
	}
	return m
}
