// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"fmt"
	"strings"

	"matchflow/platform/orchestrator/circuitbreaker"
	"matchflow/platform/orchestrator/match"
)

// CircuitStates is a point-in-time view of breaker states. Algorithms
// missing from the map are treated as CLOSED.
type CircuitStates map[match.Algorithm]circuitbreaker.State

// Open reports whether algorithm's circuit is OPEN.
func (c CircuitStates) Open(algorithm match.Algorithm) bool {
	return c[algorithm] == circuitbreaker.StateOpen
}

// Names returns the states keyed by algorithm name, for metadata.
func (c CircuitStates) Names() map[string]string {
	out := make(map[string]string, len(c))
	for a, s := range c {
		out[string(a)] = s.String()
	}
	return out
}

// Selection is the outcome of algorithm selection.
type Selection struct {
	Algorithm match.Algorithm `json:"algorithm"`
	Reason    string          `json:"reason"`
}

// AlgorithmSelector picks the algorithm for a request.
type AlgorithmSelector struct {
	questionnaireThreshold float64
}

// NewAlgorithmSelector creates a selector that prefers ML above the given
// questionnaire completeness.
func NewAlgorithmSelector(questionnaireThreshold float64) *AlgorithmSelector {
	if questionnaireThreshold <= 0 {
		questionnaireThreshold = 0.8
	}
	return &AlgorithmSelector{questionnaireThreshold: questionnaireThreshold}
}

// Select applies the selection rules in order. Every rule is skipped when
// its algorithm's circuit is OPEN. The result depends only on the
// arguments.
func (s *AlgorithmSelector) Select(explicit string, mc MatchContext, circuits CircuitStates) Selection {
	var notes []string
	choose := func(a match.Algorithm, reason string) (Selection, bool) {
		if circuits.Open(a) {
			notes = append(notes, fmt.Sprintf("%s circuit open", a))
			return Selection{}, false
		}
		if len(notes) > 0 {
			reason = reason + " (" + strings.Join(notes, "; ") + ")"
		}
		return Selection{Algorithm: a, Reason: reason}, true
	}

	if name := strings.TrimSpace(explicit); name != "" && !strings.EqualFold(name, string(match.AlgorithmAuto)) {
		if a, ok := match.ParseAlgorithm(name); ok {
			if sel, ok := choose(a, fmt.Sprintf("explicit request for %s", a)); ok {
				return sel
			}
		} else {
			notes = append(notes, fmt.Sprintf("unknown algorithm %q ignored", name))
		}
	}

	if mc.QuestionnaireCompleteness > s.questionnaireThreshold {
		reason := fmt.Sprintf("questionnaire completeness %.0f%% above %.0f%%: ml has the richest signal",
			mc.QuestionnaireCompleteness*100, s.questionnaireThreshold*100)
		if sel, ok := choose(match.AlgorithmML, reason); ok {
			return sel
		}
	}

	if mc.HasLocationConstraints && mc.MobilityMentioned {
		if sel, ok := choose(match.AlgorithmSmart, "location constraints with mobility mentioned: geography-aware matching"); ok {
			return sel
		}
	}

	if mc.IsSeniorProfile {
		reason := fmt.Sprintf("senior profile (%.1f years experience): seniority-weighted matching", mc.ExperienceYears)
		if sel, ok := choose(match.AlgorithmEnhanced, reason); ok {
			return sel
		}
	}

	if mc.ComplexSkillsDetected {
		reason := fmt.Sprintf("complex skills detected (score %.2f): semantic matching", mc.SkillsComplexityScore)
		if sel, ok := choose(match.AlgorithmSemantic, reason); ok {
			return sel
		}
	}

	for _, a := range match.FallbackHierarchy {
		if a == match.AlgorithmBasic {
			break
		}
		if !circuits.Open(a) {
			sel, _ := choose(a, fmt.Sprintf("fallback hierarchy: %s is the first available algorithm", a))
			return sel
		}
	}

	reason := "total degradation: every remote circuit is open, using basic"
	if len(notes) > 0 {
		reason += " (" + strings.Join(notes, "; ") + ")"
	}
	return Selection{Algorithm: match.AlgorithmBasic, Reason: reason}
}
