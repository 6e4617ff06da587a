// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package match

import (
	"math"
	"strings"
	"time"
)

// Algorithm identifies a scoring algorithm. The set is closed: every value
// the orchestrator can dispatch to is declared below.
type Algorithm string

const (
	// AlgorithmAuto asks the selector to choose.
	AlgorithmAuto Algorithm = "auto"

	// AlgorithmML is the learned matcher. Richest signal when the
	// questionnaire is well filled.
	AlgorithmML Algorithm = "ml"

	// AlgorithmSmart is the geography-aware matcher.
	AlgorithmSmart Algorithm = "smart"

	// AlgorithmEnhanced is the seniority-weighted matcher.
	AlgorithmEnhanced Algorithm = "enhanced"

	// AlgorithmSemantic is the semantic skills matcher.
	AlgorithmSemantic Algorithm = "semantic"

	// AlgorithmBasic is computed in-process and is always available.
	AlgorithmBasic Algorithm = "basic"

	// AlgorithmAllFailed marks a response where no algorithm produced results.
	// It is never selectable.
	AlgorithmAllFailed Algorithm = "all_failed"
)

// FallbackHierarchy is the fixed order used when the preferred algorithm is
// unavailable.
var FallbackHierarchy = []Algorithm{
	AlgorithmML,
	AlgorithmEnhanced,
	AlgorithmSmart,
	AlgorithmSemantic,
	AlgorithmBasic,
}

// RemoteAlgorithms are the algorithms served by external backends.
var RemoteAlgorithms = []Algorithm{
	AlgorithmML,
	AlgorithmSmart,
	AlgorithmEnhanced,
	AlgorithmSemantic,
}

// KnownAlgorithms lists every selectable algorithm.
var KnownAlgorithms = append(append([]Algorithm{}, RemoteAlgorithms...), AlgorithmBasic)

// ParseAlgorithm maps a caller-supplied name onto a known algorithm.
// The second return value is false for empty, "auto" or unknown names.
func ParseAlgorithm(s string) (Algorithm, bool) {
	name := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	for _, a := range KnownAlgorithms {
		if a == name {
			return a, true
		}
	}
	return "", false
}

// IsRemote reports whether the algorithm is served by an external backend.
func (a Algorithm) IsRemote() bool {
	for _, r := range RemoteAlgorithms {
		if r == a {
			return true
		}
	}
	return false
}

func (a Algorithm) String() string { return string(a) }

// ExperienceEntry is one position in the candidate's history.
type ExperienceEntry struct {
	Title          string `json:"title,omitempty"`
	DurationMonths int    `json:"duration_months"`
}

// CandidateProfile is the candidate side of a match request.
type CandidateProfile struct {
	Skills        []string               `json:"skills"`
	Experience    []ExperienceEntry      `json:"experience"`
	Location      string                 `json:"location,omitempty"`
	Questionnaire map[string]interface{} `json:"questionnaire,omitempty"`
}

// ExperienceMonths sums the durations of all experience entries, ignoring
// negative values.
func (c CandidateProfile) ExperienceMonths() int {
	total := 0
	for _, e := range c.Experience {
		if e.DurationMonths > 0 {
			total += e.DurationMonths
		}
	}
	return total
}

// ExperienceYears converts ExperienceMonths to years.
func (c CandidateProfile) ExperienceYears() float64 {
	return float64(c.ExperienceMonths()) / 12.0
}

// JobOffer is one offer the candidate is scored against.
type JobOffer struct {
	ID             string                 `json:"id"`
	Title          string                 `json:"title,omitempty"`
	RequiredSkills []string               `json:"required_skills"`
	Location       string                 `json:"location,omitempty"`
	Questionnaire  map[string]interface{} `json:"questionnaire,omitempty"`
}

// Request is the canonical match request. It is built once per call and
// treated as read-only afterwards.
type Request struct {
	RequestID string                 `json:"request_id"`
	Candidate CandidateProfile       `json:"candidate"`
	Offers    []JobOffer             `json:"offers"`
	Algorithm string                 `json:"algorithm"`
	UserID    string                 `json:"user_id"`
	Config    map[string]interface{} `json:"config,omitempty"`
}

// RequestedAlgorithm returns the explicit algorithm asked for, if any.
func (r *Request) RequestedAlgorithm() (Algorithm, bool) {
	return ParseAlgorithm(r.Algorithm)
}

// Result is the score of one offer.
type Result struct {
	OfferID         string   `json:"offer_id"`
	Score           float64  `json:"score"`
	Confidence      float64  `json:"confidence"`
	SkillScore      float64  `json:"skill_score"`
	ExperienceScore float64  `json:"experience_score"`
	LocationScore   float64  `json:"location_score"`
	CultureScore    float64  `json:"culture_score"`
	Insights        []string `json:"insights"`
	Explanation     string   `json:"explanation"`
}

// Normalize clamps every score into [0, 1] and replaces nil insights.
func (r *Result) Normalize() {
	r.Score = Clamp01(r.Score)
	r.Confidence = Clamp01(r.Confidence)
	r.SkillScore = Clamp01(r.SkillScore)
	r.ExperienceScore = Clamp01(r.ExperienceScore)
	r.LocationScore = Clamp01(r.LocationScore)
	r.CultureScore = Clamp01(r.CultureScore)
	if r.Insights == nil {
		r.Insights = []string{}
	}
}

// Response aggregates the results of one orchestration run.
type Response struct {
	Success         bool                   `json:"success"`
	Matches         []Result               `json:"matches"`
	AlgorithmUsed   Algorithm              `json:"algorithm_used"`
	ExecutionTimeMs float64                `json:"execution_time_ms"`
	SelectionReason string                 `json:"selection_reason"`
	Metadata        map[string]interface{} `json:"metadata"`
}

// Clone returns a copy that shares no mutable state with r.
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	out.Matches = make([]Result, len(r.Matches))
	for i, m := range r.Matches {
		m.Insights = append([]string{}, m.Insights...)
		out.Matches[i] = m
	}
	out.Metadata = make(map[string]interface{}, len(r.Metadata))
	for k, v := range r.Metadata {
		out.Metadata[k] = v
	}
	return &out
}

// Elapsed converts a duration to fractional milliseconds.
func Elapsed(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

// Clamp01 bounds v to [0, 1]. NaN becomes 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
