// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package adapter

import (
	"github.com/tidwall/gjson"

	"matchflow/platform/orchestrator/match"
)

// MLAdapter speaks the canonical protocol: the body mirrors the public
// request and the response carries canonical result objects.
type MLAdapter struct{}

type mlRequest struct {
	Candidate match.CandidateProfile `json:"candidate"`
	Offers    []match.JobOffer       `json:"offers"`
	Algorithm string                 `json:"algorithm"`
	Config    map[string]interface{} `json:"config,omitempty"`
}

func (MLAdapter) Algorithm() match.Algorithm { return match.AlgorithmML }

func (MLAdapter) EncodeRequest(req *match.Request) interface{} {
	return mlRequest{
		Candidate: req.Candidate,
		Offers:    req.Offers,
		Algorithm: string(match.AlgorithmML),
		Config:    req.Config,
	}
}

func (MLAdapter) DecodeResponse(body []byte) ([]match.Result, error) {
	return decodeScored(body, "matches", "predictions", "results")
}

// SmartAdapter speaks the legacy protocol to the geography-aware matcher.
// Location and questionnaire data are forwarded so the backend can weigh
// mobility.
type SmartAdapter struct{}

func (SmartAdapter) Algorithm() match.Algorithm { return match.AlgorithmSmart }

func (SmartAdapter) EncodeRequest(req *match.Request) interface{} {
	return NewLegacyRequest(req, match.AlgorithmSmart)
}

func (SmartAdapter) DecodeResponse(body []byte) ([]match.Result, error) {
	return decodeScored(body, "matches", "results")
}

// EnhancedAdapter speaks the legacy protocol to the seniority-weighted
// matcher.
type EnhancedAdapter struct{}

func (EnhancedAdapter) Algorithm() match.Algorithm { return match.AlgorithmEnhanced }

func (EnhancedAdapter) EncodeRequest(req *match.Request) interface{} {
	return NewLegacyRequest(req, match.AlgorithmEnhanced)
}

func (EnhancedAdapter) DecodeResponse(body []byte) ([]match.Result, error) {
	return decodeScored(body, "matches", "results")
}

// decodeScored reads result objects that carry sub-scores either flat
// (skill_score) or nested under details.
func decodeScored(body []byte, listKeys ...string) ([]match.Result, error) {
	items, err := parseBody(body, listKeys...)
	if err != nil {
		return nil, err
	}

	results := make([]match.Result, 0, len(items))
	for _, item := range items {
		results = append(results, match.Result{
			OfferID:         firstOf(item, "offer_id", "id", "job_id").String(),
			Score:           Score(firstOf(item, "score", "total_score", "matching_score").Float()),
			Confidence:      Score(item.Get("confidence").Float()),
			SkillScore:      Score(firstOf(item, "skill_score", "details.skills").Float()),
			ExperienceScore: Score(firstOf(item, "experience_score", "details.experience").Float()),
			LocationScore:   Score(firstOf(item, "location_score", "details.location").Float()),
			CultureScore:    Score(firstOf(item, "culture_score", "details.culture").Float()),
			Insights:        insights(item),
			Explanation:     item.Get("explanation").String(),
		})
	}
	return finish(results), nil
}

func insights(item gjson.Result) []string {
	v := item.Get("insights")
	if v.Type == gjson.String {
		return []string{v.String()}
	}
	return stringList(v)
}
