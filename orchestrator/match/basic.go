// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package match

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// BasicConfidenceDiscount is applied to every basic confidence; the
	// built-in matcher only sees skill overlap.
	BasicConfidenceDiscount = 0.6

	// BasicMaxResults caps the number of results returned by BasicMatch.
	BasicMaxResults = 10
)

// BasicMatch scores every offer by Jaccard overlap between the candidate's
// skills and the offer's required skills. Results are sorted by descending
// score (ties by offer id) and truncated to BasicMaxResults.
func BasicMatch(req *Request) []Result {
	candidateSkills := skillSet(req.Candidate.Skills)
	years := req.Candidate.ExperienceYears()

	results := make([]Result, 0, len(req.Offers))
	for _, offer := range req.Offers {
		offerSkills := skillSet(offer.RequiredSkills)
		score, matched := jaccard(candidateSkills, offerSkills)

		r := Result{
			OfferID:         offer.ID,
			Score:           score,
			Confidence:      (0.5 + 0.5*score) * BasicConfidenceDiscount,
			SkillScore:      score,
			ExperienceScore: years / 10.0,
			LocationScore:   locationScore(req.Candidate.Location, offer.Location),
			CultureScore:    0.5,
			Insights:        basicInsights(matched, offerSkills, candidateSkills),
			Explanation: fmt.Sprintf("Basic skill overlap: %d of %d combined skills shared",
				len(matched), unionSize(candidateSkills, offerSkills)),
		}
		r.Normalize()
		results = append(results, r)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].OfferID < results[j].OfferID
	})

	if len(results) > BasicMaxResults {
		results = results[:BasicMaxResults]
	}
	return results
}

// NormalizeSkill lowercases and trims a skill name.
func NormalizeSkill(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func skillSet(skills []string) map[string]bool {
	set := make(map[string]bool, len(skills))
	for _, s := range skills {
		if n := NormalizeSkill(s); n != "" {
			set[n] = true
		}
	}
	return set
}

// jaccard returns |a∩b| / |a∪b| and the sorted intersection.
func jaccard(a, b map[string]bool) (float64, []string) {
	union := unionSize(a, b)
	if union == 0 {
		return 0, nil
	}
	var shared []string
	for s := range a {
		if b[s] {
			shared = append(shared, s)
		}
	}
	sort.Strings(shared)
	return float64(len(shared)) / float64(union), shared
}

func unionSize(a, b map[string]bool) int {
	n := len(a)
	for s := range b {
		if !a[s] {
			n++
		}
	}
	return n
}

func locationScore(candidate, offer string) float64 {
	c := strings.ToLower(strings.TrimSpace(candidate))
	o := strings.ToLower(strings.TrimSpace(offer))
	switch {
	case c == "" || o == "":
		return 0.5
	case c == o:
		return 1
	default:
		return 0
	}
}

func basicInsights(matched []string, offerSkills, candidateSkills map[string]bool) []string {
	insights := []string{}
	if len(matched) > 0 {
		insights = append(insights, "Matching skills: "+strings.Join(matched, ", "))
	}
	var missing []string
	for s := range offerSkills {
		if !candidateSkills[s] {
			missing = append(missing, s)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		insights = append(insights, "Missing skills: "+strings.Join(missing, ", "))
	}
	return insights
}
