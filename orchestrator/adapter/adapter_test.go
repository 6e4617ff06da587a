// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package adapter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"matchflow/platform/orchestrator/match"
)

func testRequest() *match.Request {
	return &match.Request{
		Candidate: match.CandidateProfile{
			Skills:        []string{"Python", "Django"},
			Experience:    []match.ExperienceEntry{{DurationMonths: 24}, {DurationMonths: 18}},
			Location:      "Lyon",
			Questionnaire: map[string]interface{}{"remote": "yes", "mobility": true},
		},
		Offers: []match.JobOffer{
			{ID: "o1", RequiredSkills: []string{"Python", "Flask"}, Location: "Lyon",
				Questionnaire: map[string]interface{}{"team_size": 8}},
			{ID: "o2", RequiredSkills: []string{"React"}},
		},
		Config: map[string]interface{}{"max_results": 5},
	}
}

func encode(t *testing.T, a Adapter, req *match.Request) gjson.Result {
	t.Helper()
	body, err := json.Marshal(a.EncodeRequest(req))
	require.NoError(t, err)
	return gjson.ParseBytes(body)
}

func TestFor(t *testing.T) {
	for _, algo := range match.RemoteAlgorithms {
		a, ok := For(algo)
		require.True(t, ok, algo)
		assert.Equal(t, algo, a.Algorithm())
	}
	_, ok := For(match.AlgorithmBasic)
	assert.False(t, ok)
	_, ok = For(match.AlgorithmAllFailed)
	assert.False(t, ok)
}

func TestEncodeRequest_ForwardsQuestionnaires(t *testing.T) {
	req := testRequest()

	ml := encode(t, MLAdapter{}, req)
	assert.Equal(t, "ml", ml.Get("algorithm").String())
	assert.Equal(t, "yes", ml.Get("candidate.questionnaire.remote").String())
	assert.Equal(t, int64(8), ml.Get("offers.0.questionnaire.team_size").Int())
	assert.Equal(t, int64(5), ml.Get("config.max_results").Int())

	smart := encode(t, SmartAdapter{}, req)
	assert.Equal(t, "smart", smart.Get("algorithm").String())
	assert.True(t, smart.Get("cv_data.questionnaire.mobility").Bool())
	assert.Equal(t, "Lyon", smart.Get("cv_data.location").String())
	assert.Equal(t, "o1", smart.Get("job_data.0.id").String())
	assert.Equal(t, int64(8), smart.Get("job_data.0.questionnaire.team_size").Int())

	enhanced := encode(t, EnhancedAdapter{}, req)
	assert.Equal(t, "enhanced", enhanced.Get("algorithm").String())
	assert.InDelta(t, 3.5, enhanced.Get("cv_data.experience_years").Float(), 1e-9)

	semantic := encode(t, SemanticAdapter{}, req)
	assert.Equal(t, []interface{}{"Python", "Django"}, semantic.Get("cv_skills").Value())
	assert.Equal(t, "o2", semantic.Get("jobs.1.job_id").String())
	assert.Equal(t, int64(8), semantic.Get("jobs.0.questionnaire.team_size").Int())
	assert.Equal(t, "yes", semantic.Get("questionnaire.remote").String())
}

func TestDecodeScored(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, got []match.Result)
	}{
		{
			name: "flat canonical results",
			body: `{"matches":[{"offer_id":"o2","score":0.4,"confidence":0.9,"skill_score":0.5},
				{"offer_id":"o1","score":0.8,"confidence":0.7,"insights":["good fit"],"explanation":"close"}]}`,
			check: func(t *testing.T, got []match.Result) {
				require.Len(t, got, 2)
				assert.Equal(t, "o1", got[0].OfferID)
				assert.Equal(t, []string{"good fit"}, got[0].Insights)
				assert.Equal(t, "close", got[0].Explanation)
				assert.Equal(t, 0.5, got[1].SkillScore)
				assert.Equal(t, []string{}, got[1].Insights)
			},
		},
		{
			name: "legacy details and percentage scale",
			body: `{"results":[{"id":"o1","total_score":85,"confidence":"bad",
				"details":{"skills":90,"experience":0.5,"location":1,"culture":120}}]}`,
			check: func(t *testing.T, got []match.Result) {
				require.Len(t, got, 1)
				assert.InDelta(t, 0.85, got[0].Score, 1e-9)
				assert.InDelta(t, 0.9, got[0].SkillScore, 1e-9)
				assert.Equal(t, 0.5, got[0].ExperienceScore)
				assert.Equal(t, 1.0, got[0].LocationScore)
				assert.Equal(t, 1.0, got[0].CultureScore)
				assert.Equal(t, 0.0, got[0].Confidence)
			},
		},
		{
			name: "top level array and negative scores",
			body: `[{"offer_id":"o1","score":-3}]`,
			check: func(t *testing.T, got []match.Result) {
				require.Len(t, got, 1)
				assert.Equal(t, 0.0, got[0].Score)
			},
		},
		{
			name: "entries without id are dropped",
			body: `{"matches":[{"score":0.9},{"offer_id":"o1","score":0.1}]}`,
			check: func(t *testing.T, got []match.Result) {
				require.Len(t, got, 1)
				assert.Equal(t, "o1", got[0].OfferID)
			},
		},
		{
			name: "empty list is a valid answer",
			body: `{"matches":[]}`,
			check: func(t *testing.T, got []match.Result) {
				assert.Empty(t, got)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MLAdapter{}.DecodeResponse([]byte(tt.body))
			require.NoError(t, err)
			tt.check(t, got)
		})
	}
}

func TestDecodeResponse_RejectsInvalidJSON(t *testing.T) {
	for _, algo := range match.RemoteAlgorithms {
		a, _ := For(algo)
		_, err := a.DecodeResponse([]byte(`<html>502 Bad Gateway</html>`))
		assert.ErrorIs(t, err, ErrMalformedPayload, algo)
	}
}

func TestDecodeResponse_RejectsBodiesWithoutResults(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"error envelope", `{"error":"model not loaded"}`, "model not loaded"},
		{"detail envelope", `{"detail":"Internal Server Error"}`, "Internal Server Error"},
		{"object without list", `{"status":"ok"}`, "no result list"},
		{"list under wrong type", `{"matches":{"offer_id":"o1"}}`, "no result list"},
		{"scalar", `42`, "no result list"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, algo := range match.RemoteAlgorithms {
				a, _ := For(algo)
				got, err := a.DecodeResponse([]byte(tt.body))
				assert.ErrorIs(t, err, ErrMalformedPayload, algo)
				assert.Contains(t, err.Error(), tt.wantMsg, algo)
				assert.Nil(t, got, algo)
			}
		})
	}
}

func TestSemanticDecode(t *testing.T) {
	body := `{"results":[
		{"job_id":"o1","similarity":72,"matched_skills":["python"],"missing_skills":["flask"]},
		{"job_id":"o2","similarity":0.1,"confidence":0.3}]}`

	got, err := SemanticAdapter{}.DecodeResponse([]byte(body))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "o1", got[0].OfferID)
	assert.InDelta(t, 0.72, got[0].Score, 1e-9)
	assert.InDelta(t, 0.72, got[0].Confidence, 1e-9)
	assert.InDelta(t, 0.72, got[0].SkillScore, 1e-9)
	assert.Equal(t, []string{"Matching skills: python", "Missing skills: flask"}, got[0].Insights)

	assert.InDelta(t, 0.3, got[1].Confidence, 1e-9)
	assert.Equal(t, []string{}, got[1].Insights)
}

func TestLegacyRoundTrip(t *testing.T) {
	lr := LegacyRequest{
		CVData: LegacyCV{
			Skills:          []string{"Go"},
			ExperienceYears: 6.5,
			Location:        "Paris",
		},
		JobData:   []LegacyJob{{ID: "j1", RequiredSkills: []string{"Go"}}},
		Algorithm: "smart",
	}

	req := lr.ToCanonical()
	assert.Equal(t, 78, req.Candidate.ExperienceMonths())
	assert.Equal(t, "smart", req.Algorithm)
	require.Len(t, req.Offers, 1)
	assert.Equal(t, "j1", req.Offers[0].ID)

	resp := &match.Response{
		Success:         true,
		AlgorithmUsed:   match.AlgorithmSmart,
		ExecutionTimeMs: 12.5,
		Matches: []match.Result{{
			OfferID: "j1", Score: 0.9, Confidence: 0.8,
			SkillScore: 1, ExperienceScore: 0.65, LocationScore: 0.5, CultureScore: 0.5,
			Explanation: "strong",
		}},
	}
	body, err := json.Marshal(NewLegacyResponse(resp))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"matches":[{"offer_id":"j1","score":0.9,"confidence":0.8,
			"details":{"skills":1,"experience":0.65,"location":0.5,"culture":0.5},
			"insights":[],"explanation":"strong"}],
		"algorithm_used":"smart",
		"execution_time_ms":12.5}`, string(body))
}

func TestLegacyRequest_PrefersExplicitExperience(t *testing.T) {
	lr := LegacyRequest{CVData: LegacyCV{
		Skills:          []string{"Go"},
		Experience:      []match.ExperienceEntry{{DurationMonths: 12}},
		ExperienceYears: 10,
	}}
	assert.Equal(t, 12, lr.ToCanonical().Candidate.ExperienceMonths())
}

func TestScore(t *testing.T) {
	assert.Equal(t, 0.5, Score(0.5))
	assert.Equal(t, 0.5, Score(50))
	assert.Equal(t, 1.0, Score(1))
	assert.Equal(t, 1.0, Score(250))
	assert.Equal(t, 0.0, Score(-1))
}
