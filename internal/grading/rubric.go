package grading

import (
	"fmt"

	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// ScoreRubric totals per-criterion awards, clamping each to its criterion
// and the total to the rubric max.
func ScoreRubric(r model.Rubric, awarded map[string]float64) (float64, []string) {
	total := 0.0
	notes := make([]string, 0, len(r.Criteria))
	for _, c := range r.Criteria {
		v := clamp(awarded[c.Key], 0, c.MaxPoints)
		total += v
		notes = append(notes, fmt.Sprintf("%s:%.2f", c.Key, v))
	}
	if m := RubricMax(r); m > 0 && total > m {
		total = m
	}
	return total, notes
}

// RubricMax is the rubric's declared max, or the sum of its criteria.
func RubricMax(r model.Rubric) float64 {
	if r.Max > 0 {
		return r.Max
	}
	sum := 0.0
	for _, c := range r.Criteria {
		sum += c.MaxPoints
	}
	return sum
}

// rubricAwards estimates per-criterion points from keyword coverage.
// Criteria without keywords cannot be estimated and award nothing.
func rubricAwards(r model.Rubric, text string) map[string]float64 {
	awarded := make(map[string]float64, len(r.Criteria))
	for _, c := range r.Criteria {
		if found, total := keywordCoverage(text, c.Keywords); total > 0 {
			awarded[c.Key] = c.MaxPoints * float64(found) / float64(total)
		}
	}
	return awarded
}
