// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package adapter

import (
	"math"

	"matchflow/platform/orchestrator/match"
)

// LegacyCV is the candidate half of the legacy payload.
type LegacyCV struct {
	Skills          []string                `json:"skills" validate:"required,min=1,dive,required"`
	Experience      []match.ExperienceEntry `json:"experience,omitempty"`
	ExperienceYears float64                 `json:"experience_years,omitempty" validate:"gte=0"`
	Location        string                  `json:"location,omitempty"`
	Questionnaire   map[string]interface{}  `json:"questionnaire,omitempty"`
}

// LegacyJob is one offer in the legacy payload.
type LegacyJob struct {
	ID             string                 `json:"id" validate:"required"`
	Title          string                 `json:"title,omitempty"`
	RequiredSkills []string               `json:"required_skills" validate:"required"`
	Location       string                 `json:"location,omitempty"`
	Questionnaire  map[string]interface{} `json:"questionnaire,omitempty"`
}

// LegacyRequest is the {cv_data, job_data, algorithm, config} shape accepted
// by POST /match and spoken by the smart and enhanced backends.
type LegacyRequest struct {
	CVData    LegacyCV               `json:"cv_data"`
	JobData   []LegacyJob            `json:"job_data" validate:"required,min=1,dive"`
	Algorithm string                 `json:"algorithm,omitempty"`
	Config    map[string]interface{} `json:"config,omitempty"`
}

// LegacyDetails holds the sub-scores of a legacy match.
type LegacyDetails struct {
	Skills     float64 `json:"skills"`
	Experience float64 `json:"experience"`
	Location   float64 `json:"location"`
	Culture    float64 `json:"culture"`
}

// LegacyMatch is one scored offer in the legacy response.
type LegacyMatch struct {
	OfferID     string        `json:"offer_id"`
	Score       float64       `json:"score"`
	Confidence  float64       `json:"confidence"`
	Details     LegacyDetails `json:"details"`
	Insights    []string      `json:"insights"`
	Explanation string        `json:"explanation"`
}

// LegacyResponse is the response shape of POST /match.
type LegacyResponse struct {
	Matches         []LegacyMatch `json:"matches"`
	AlgorithmUsed   string        `json:"algorithm_used"`
	ExecutionTimeMs float64       `json:"execution_time_ms"`
}

// ToCanonical rewrites a legacy request. When no experience entries are
// given, experience_years becomes a single entry.
func (lr *LegacyRequest) ToCanonical() *match.Request {
	experience := lr.CVData.Experience
	if len(experience) == 0 && lr.CVData.ExperienceYears > 0 {
		experience = []match.ExperienceEntry{{
			DurationMonths: int(math.Round(lr.CVData.ExperienceYears * 12)),
		}}
	}

	req := &match.Request{
		Candidate: match.CandidateProfile{
			Skills:        lr.CVData.Skills,
			Experience:    experience,
			Location:      lr.CVData.Location,
			Questionnaire: lr.CVData.Questionnaire,
		},
		Offers:    make([]match.JobOffer, 0, len(lr.JobData)),
		Algorithm: lr.Algorithm,
		Config:    lr.Config,
	}
	for _, j := range lr.JobData {
		req.Offers = append(req.Offers, match.JobOffer{
			ID:             j.ID,
			Title:          j.Title,
			RequiredSkills: j.RequiredSkills,
			Location:       j.Location,
			Questionnaire:  j.Questionnaire,
		})
	}
	return req
}

// NewLegacyRequest builds the legacy payload for a canonical request.
func NewLegacyRequest(req *match.Request, algorithm match.Algorithm) LegacyRequest {
	lr := LegacyRequest{
		CVData: LegacyCV{
			Skills:          req.Candidate.Skills,
			Experience:      req.Candidate.Experience,
			ExperienceYears: math.Round(req.Candidate.ExperienceYears()*10) / 10,
			Location:        req.Candidate.Location,
			Questionnaire:   req.Candidate.Questionnaire,
		},
		JobData:   make([]LegacyJob, 0, len(req.Offers)),
		Algorithm: string(algorithm),
		Config:    req.Config,
	}
	for _, o := range req.Offers {
		lr.JobData = append(lr.JobData, LegacyJob{
			ID:             o.ID,
			Title:          o.Title,
			RequiredSkills: o.RequiredSkills,
			Location:       o.Location,
			Questionnaire:  o.Questionnaire,
		})
	}
	return lr
}

// NewLegacyResponse reshapes a canonical response.
func NewLegacyResponse(resp *match.Response) LegacyResponse {
	out := LegacyResponse{
		Matches:         make([]LegacyMatch, 0, len(resp.Matches)),
		AlgorithmUsed:   string(resp.AlgorithmUsed),
		ExecutionTimeMs: resp.ExecutionTimeMs,
	}
	for _, m := range resp.Matches {
		insights := m.Insights
		if insights == nil {
			insights = []string{}
		}
		out.Matches = append(out.Matches, LegacyMatch{
			OfferID:    m.OfferID,
			Score:      m.Score,
			Confidence: m.Confidence,
			Details: LegacyDetails{
				Skills:     m.SkillScore,
				Experience: m.ExperienceScore,
				Location:   m.LocationScore,
				Culture:    m.CultureScore,
			},
			Insights:    insights,
			Explanation: m.Explanation,
		})
	}
	return out
}
