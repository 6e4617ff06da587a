// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package adapter

import (
	"strings"

	"matchflow/platform/orchestrator/match"
)

// SemanticAdapter talks to the semantic skills matcher, which compares
// skill lists and reports a similarity per job.
type SemanticAdapter struct{}

type semanticJob struct {
	JobID         string                 `json:"job_id"`
	Skills        []string               `json:"skills"`
	Location      string                 `json:"location,omitempty"`
	Questionnaire map[string]interface{} `json:"questionnaire,omitempty"`
}

type semanticRequest struct {
	CVSkills        []string               `json:"cv_skills"`
	ExperienceYears float64                `json:"experience_years"`
	Location        string                 `json:"location,omitempty"`
	Questionnaire   map[string]interface{} `json:"questionnaire,omitempty"`
	Jobs            []semanticJob          `json:"jobs"`
}

func (SemanticAdapter) Algorithm() match.Algorithm { return match.AlgorithmSemantic }

func (SemanticAdapter) EncodeRequest(req *match.Request) interface{} {
	out := semanticRequest{
		CVSkills:        req.Candidate.Skills,
		ExperienceYears: req.Candidate.ExperienceYears(),
		Location:        req.Candidate.Location,
		Questionnaire:   req.Candidate.Questionnaire,
		Jobs:            make([]semanticJob, 0, len(req.Offers)),
	}
	for _, o := range req.Offers {
		out.Jobs = append(out.Jobs, semanticJob{
			JobID:         o.ID,
			Skills:        o.RequiredSkills,
			Location:      o.Location,
			Questionnaire: o.Questionnaire,
		})
	}
	return out
}

// DecodeResponse maps similarity onto score and skill score. Confidence
// defaults to the similarity when the backend omits it.
func (SemanticAdapter) DecodeResponse(body []byte) ([]match.Result, error) {
	items, err := parseBody(body, "results", "matches")
	if err != nil {
		return nil, err
	}

	results := make([]match.Result, 0, len(items))
	for _, item := range items {
		similarity := Score(firstOf(item, "similarity", "score").Float())
		confidence := similarity
		if c := item.Get("confidence"); c.Exists() {
			confidence = Score(c.Float())
		}

		var notes []string
		if matched := stringList(item.Get("matched_skills")); len(matched) > 0 {
			notes = append(notes, "Matching skills: "+strings.Join(matched, ", "))
		}
		if missing := stringList(item.Get("missing_skills")); len(missing) > 0 {
			notes = append(notes, "Missing skills: "+strings.Join(missing, ", "))
		}

		results = append(results, match.Result{
			OfferID:         firstOf(item, "job_id", "offer_id", "id").String(),
			Score:           similarity,
			Confidence:      confidence,
			SkillScore:      similarity,
			ExperienceScore: Score(item.Get("experience_score").Float()),
			LocationScore:   Score(item.Get("location_score").Float()),
			CultureScore:    Score(item.Get("culture_score").Float()),
			Insights:        notes,
			Explanation:     item.Get("explanation").String(),
		})
	}
	return finish(results), nil
}
