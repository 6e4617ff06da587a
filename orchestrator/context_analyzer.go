// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package orchestrator

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"matchflow/platform/orchestrator/match"
)

// MatchContext is the feature record the selector decides on.
type MatchContext struct {
	QuestionnaireCompleteness float64 `json:"questionnaire_completeness"`
	HasLocationConstraints    bool    `json:"has_location_constraints"`
	MobilityMentioned         bool    `json:"mobility_mentioned"`
	ExperienceYears           float64 `json:"experience_years"`
	IsSeniorProfile           bool    `json:"is_senior_profile"`
	SkillsComplexityScore     float64 `json:"skills_complexity_score"`
	ComplexSkillsDetected     bool    `json:"complex_skills_detected"`
	OffersCount               int     `json:"offers_count"`
}

// AnalyzerConfig holds the analyzer thresholds.
type AnalyzerConfig struct {
	ExpectedQuestionnaireFields int     `yaml:"expected_questionnaire_fields"`
	SeniorYears                 float64 `yaml:"senior_years"`
	ComplexSkillsThreshold      float64 `yaml:"complex_skills_threshold"`
}

// DefaultAnalyzerConfig returns the production thresholds.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		ExpectedQuestionnaireFields: 10,
		SeniorYears:                 7,
		ComplexSkillsThreshold:      0.7,
	}
}

// complexSkillKeywords mark skills that benefit from semantic matching.
var complexSkillKeywords = []string{
	"machine learning", "deep learning", "nlp", "natural language",
	"computer vision", "tensorflow", "pytorch", "reinforcement learning",
	"llm", "data science", "big data", "spark", "hadoop",
	"cloud architecture", "kubernetes", "aws", "azure", "gcp",
	"distributed systems", "microservices", "blockchain",
}

// mobilityKeys are questionnaire flags that express mobility directly.
var mobilityKeys = []string{
	"mobility", "mobile", "relocation", "willing_to_relocate",
	"open_to_relocation", "remote", "travel",
}

// mobilityKeywords are word prefixes searched for in free-text answers.
var mobilityKeywords = []string{
	"relocat", "mobil", "remote", "travel",
}

// negations cancel a mobility keyword when they appear within
// negationWindow words before it.
var negations = map[string]bool{
	"not": true, "no": true, "never": true, "without": true, "cannot": true,
	"can't": true, "cant": true, "don't": true, "dont": true, "won't": true,
	"wont": true, "unwilling": true, "non": true,
}

const negationWindow = 3

// ContextAnalyzer derives a MatchContext from a request.
type ContextAnalyzer struct {
	cfg AnalyzerConfig
}

// NewContextAnalyzer creates an analyzer. Non-positive settings fall back to
// defaults.
func NewContextAnalyzer(cfg AnalyzerConfig) *ContextAnalyzer {
	def := DefaultAnalyzerConfig()
	if cfg.ExpectedQuestionnaireFields <= 0 {
		cfg.ExpectedQuestionnaireFields = def.ExpectedQuestionnaireFields
	}
	if cfg.SeniorYears <= 0 {
		cfg.SeniorYears = def.SeniorYears
	}
	if cfg.ComplexSkillsThreshold <= 0 {
		cfg.ComplexSkillsThreshold = def.ComplexSkillsThreshold
	}
	return &ContextAnalyzer{cfg: cfg}
}

// Analyze is pure: the same request always yields the same context.
func (a *ContextAnalyzer) Analyze(req *match.Request) MatchContext {
	years := req.Candidate.ExperienceYears()
	complexity := skillsComplexity(req.Candidate.Skills)

	return MatchContext{
		QuestionnaireCompleteness: a.completeness(req.Candidate.Questionnaire),
		HasLocationConstraints:    hasLocationConstraints(req),
		MobilityMentioned:         requestMentionsMobility(req),
		ExperienceYears:           years,
		IsSeniorProfile:           years >= a.cfg.SeniorYears,
		SkillsComplexityScore:     complexity,
		ComplexSkillsDetected:     complexity > a.cfg.ComplexSkillsThreshold,
		OffersCount:               len(req.Offers),
	}
}

func (a *ContextAnalyzer) completeness(q map[string]interface{}) float64 {
	populated := 0
	for _, v := range q {
		if isPopulated(v) {
			populated++
		}
	}
	ratio := float64(populated) / float64(a.cfg.ExpectedQuestionnaireFields)
	if ratio > 1 {
		return 1
	}
	return ratio
}

// isPopulated treats nil, blank strings and empty collections as missing.
// false and 0 are answers.
func isPopulated(v interface{}) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	}
	return true
}

func hasLocationConstraints(req *match.Request) bool {
	if strings.TrimSpace(req.Candidate.Location) != "" {
		return true
	}
	for _, o := range req.Offers {
		if strings.TrimSpace(o.Location) != "" {
			return true
		}
	}
	return false
}

// requestMentionsMobility looks at the candidate questionnaire and every
// offer questionnaire.
func requestMentionsMobility(req *match.Request) bool {
	if mobilityMentioned(req.Candidate.Questionnaire) {
		return true
	}
	for _, o := range req.Offers {
		if mobilityMentioned(o.Questionnaire) {
			return true
		}
	}
	return false
}

func mobilityMentioned(q map[string]interface{}) bool {
	for key, v := range q {
		k := strings.ToLower(key)
		for _, mk := range mobilityKeys {
			if k == mk && truthy(v) {
				return true
			}
		}
		if s, ok := v.(string); ok && textMentionsMobility(s) {
			return true
		}
	}
	return false
}

// textMentionsMobility reports a mobility keyword that is not negated, so
// "open to remote work" counts and "not remote" does not.
func textMentionsMobility(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	for i := range words {
		if mobilityWordAt(words, i) && !negatedAt(words, i) {
			return true
		}
	}
	return false
}

func mobilityWordAt(words []string, i int) bool {
	for _, kw := range mobilityKeywords {
		if strings.HasPrefix(words[i], kw) {
			return true
		}
	}
	return words[i] == "move" && i+1 < len(words) && words[i+1] == "to"
}

func negatedAt(words []string, i int) bool {
	for j := i - 1; j >= 0 && j >= i-negationWindow; j-- {
		if negations[words[j]] {
			return true
		}
	}
	return false
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "no", "false", "0", "none", "non":
			return false
		}
		return true
	case float64:
		return t != 0
	case int:
		return t != 0
	case nil:
		return false
	default:
		return isPopulated(fmt.Sprint(t))
	}
}

// skillsComplexity is the share of distinct candidate skills that contain a
// complex keyword.
func skillsComplexity(skills []string) float64 {
	seen := make(map[string]bool, len(skills))
	total, hits := 0, 0
	for _, s := range skills {
		n := match.NormalizeSkill(s)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		total++
		for _, kw := range complexSkillKeywords {
			if strings.Contains(n, kw) {
				hits++
				break
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
