package grading

import (
	"math"

	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// Totals aggregates scored responses for one session.
type Totals struct {
	Score          float64
	MaxScore       float64
	Percentage     float64
	Grade          model.Grade
	RequiresReview bool
}

// Summarize totals responses and grades the percentage against th.
// Percentage is 0 when nothing was possible and always within [0,100].
func Summarize(responses []model.Response, th model.Thresholds) Totals {
	var t Totals
	for _, r := range responses {
		t.Score += r.PointsEarned
		t.MaxScore += r.PointsPossible
		if r.RequiresReview {
			t.RequiresReview = true
		}
	}
	var pct float64
	if t.MaxScore > 0 {
		pct = clamp(t.Score*100/t.MaxScore, 0, 100)
	}
	// graded unrounded; the stored percentage keeps two decimals
	t.Grade = GradeFor(pct, th)
	t.Percentage = math.Round(pct*100) / 100
	return t
}

// GradeFor returns the highest tier whose threshold pct meets. Merit and
// distinction tiers with a zero threshold are disabled.
func GradeFor(pct float64, th model.Thresholds) model.Grade {
	switch {
	case th.Distinction > 0 && pct >= th.Distinction:
		return model.GradeDistinction
	case th.Merit > 0 && pct >= th.Merit:
		return model.GradeMerit
	case pct >= th.Passing:
		return model.GradePass
	}
	return model.GradeFail
}
