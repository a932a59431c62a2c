package grading

import (
	"context"
	"fmt"
	"strings"

	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// Assessment is an assisted score for free-form text.
type Assessment struct {
	Fraction   float64 // 0..1 of the question weight
	Confidence model.Confidence
	Feedback   []string
}

// Assessor scores short answers, essays and oral transcripts. Implementations
// may call out to a model service; errors surface as SCORING_UNAVAILABLE.
type Assessor interface {
	Assess(ctx context.Context, q Q, text string) (Assessment, error)
}

// AssessorFunc adapts a function to Assessor.
type AssessorFunc func(ctx context.Context, q Q, text string) (Assessment, error)

func (f AssessorFunc) Assess(ctx context.Context, q Q, text string) (Assessment, error) {
	return f(ctx, q, text)
}

type assistedStrategy struct{ assessor Assessor }

func (s assistedStrategy) Grade(ctx context.Context, q Q, a model.Answer) (Result, error) {
	var text string
	switch v := a.(type) {
	case model.TextAnswer:
		text = v.Text
	case model.MediaAnswer:
		if strings.TrimSpace(v.Transcript) == "" {
			return Result{
				Confidence:     model.ConfidenceLow,
				RequiresReview: true,
				Feedback:       []string{"recording has no transcript"},
			}, nil
		}
		text = v.Transcript
	}
	if strings.TrimSpace(text) == "" {
		return Result{Confidence: model.ConfidenceHigh, Feedback: []string{"empty response"}}, nil
	}

	as, err := s.assessor.Assess(ctx, q, text)
	if err != nil {
		if errs.CodeOf(err) == "" {
			err = errs.Wrap(errs.CodeScoringUnavailable, "grading.assess", err)
		}
		return Result{}, err
	}
	f := clamp(as.Fraction, 0, 1)
	return Result{
		PointsEarned:   q.Points * f,
		IsCorrect:      f == 1,
		PartialCredit:  f,
		Confidence:     as.Confidence,
		RequiresReview: as.Confidence.Rank() < reviewThreshold(q.Scoring).Rank(),
		Feedback:       as.Feedback,
	}, nil
}

func reviewThreshold(sc model.ScoringConfig) model.Confidence {
	if sc.ReviewBelow.Rank() == 0 {
		return model.ConfidenceMedium
	}
	return sc.ReviewBelow
}

// HeuristicAssessor scores without an external model: exemplar match,
// edit distance, rubric keywords, then plain keyword coverage.
type HeuristicAssessor struct {
	MaxEditDistance int
	FuzzyCredit     float64
}

func (h HeuristicAssessor) Assess(_ context.Context, q Q, text string) (Assessment, error) {
	maxEdit, fuzzy := h.MaxEditDistance, h.FuzzyCredit
	if q.Scoring.MaxEditDistance > 0 {
		maxEdit = q.Scoring.MaxEditDistance
	}
	if q.Scoring.FuzzyCreditFactor > 0 {
		fuzzy = q.Scoring.FuzzyCreditFactor
	}

	resp := normalize(text)
	near := false
	for _, k := range q.Key.Accepted {
		nk := normalize(k)
		if nk == resp {
			return Assessment{Fraction: 1, Confidence: model.ConfidenceHigh}, nil
		}
		if maxEdit > 0 && levenshtein(nk, resp) <= maxEdit {
			near = true
		}
	}
	if near {
		return Assessment{
			Fraction:   fuzzy,
			Confidence: model.ConfidenceMedium,
			Feedback:   []string{"close match (fuzzy)"},
		}, nil
	}

	if q.Rubric != nil && len(q.Rubric.Criteria) > 0 {
		awarded := rubricAwards(*q.Rubric, text)
		total, notes := ScoreRubric(*q.Rubric, awarded)
		f := 0.0
		if m := RubricMax(*q.Rubric); m > 0 {
			f = total / m
		}
		return Assessment{Fraction: f, Confidence: model.ConfidenceLow, Feedback: notes}, nil
	}

	if found, total := keywordCoverage(text, q.Key.Keywords); total > 0 {
		conf := model.ConfidenceLow
		if found == total {
			conf = model.ConfidenceMedium
		}
		return Assessment{
			Fraction:   float64(found) / float64(total),
			Confidence: conf,
			Feedback:   []string{fmt.Sprintf("keyword hits: %d/%d", found, total)},
		}, nil
	}

	if len(q.Key.Accepted) > 0 {
		return Assessment{Confidence: model.ConfidenceMedium, Feedback: []string{"no accepted answer matched"}}, nil
	}
	return Assessment{Confidence: model.ConfidenceLow, Feedback: []string{"manual grading required"}}, nil
}
