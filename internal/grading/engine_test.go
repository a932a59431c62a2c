package grading_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/grading"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

func q(t model.QuestionType, pts float64, key model.AnswerKey) grading.Q {
	return grading.Q{ID: "q-" + string(t), Type: t, Points: pts, Key: key}
}

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}

/* ---------------- exact ---------------- */

func TestExactStrategies(t *testing.T) {
	g := grading.NewDefaultGrader()
	ctx := context.Background()
	tests := []struct {
		name    string
		q       grading.Q
		a       model.Answer
		want    float64
		correct bool
	}{
		{"mc correct", q(model.QuestionMultipleChoice, 2, model.AnswerKey{Choices: []string{"b"}}), model.ChoiceAnswer{Choice: "b"}, 2, true},
		{"mc wrong", q(model.QuestionMultipleChoice, 2, model.AnswerKey{Choices: []string{"b"}}), model.ChoiceAnswer{Choice: "c"}, 0, false},
		{"tf case-insensitive", q(model.QuestionTrueFalse, 1, model.AnswerKey{Choices: []string{"true"}}), model.ChoiceAnswer{Choice: "True"}, 1, true},
		{"numeric exact", q(model.QuestionNumeric, 3, model.AnswerKey{Numeric: "42"}), model.NumericAnswer{Value: "42"}, 3, true},
		{"numeric abs tol", q(model.QuestionNumeric, 3, model.AnswerKey{Numeric: "3.14159", Tolerance: "tol=0.01"}), model.NumericAnswer{Value: "3.14"}, 3, true},
		{"numeric rel tol", q(model.QuestionNumeric, 3, model.AnswerKey{Numeric: "100", Tolerance: "reltol=0.05"}), model.NumericAnswer{Value: "104 kg"}, 3, true},
		{"numeric outside tol", q(model.QuestionNumeric, 3, model.AnswerKey{Numeric: "100", Tolerance: "tol=1, reltol=0.01"}), model.NumericAnswer{Value: "102"}, 0, false},
		{"numeric not a number", q(model.QuestionNumeric, 3, model.AnswerKey{Numeric: "100"}), model.NumericAnswer{Value: "abc"}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := g.Grade(ctx, tt.q, tt.a)
			if err != nil {
				t.Fatalf("grade: %v", err)
			}
			if !approx(res.PointsEarned, tt.want) || res.IsCorrect != tt.correct {
				t.Fatalf("got %.2f correct=%v, want %.2f correct=%v", res.PointsEarned, res.IsCorrect, tt.want, tt.correct)
			}
			if res.PointsPossible != tt.q.Points {
				t.Fatalf("possible = %v, want %v", res.PointsPossible, tt.q.Points)
			}
			if res.Confidence != model.ConfidenceHigh || res.RequiresReview {
				t.Fatalf("exact scoring should be high confidence without review: %+v", res)
			}
		})
	}
}

/* ---------------- partial credit ---------------- */

func TestPartialCredit(t *testing.T) {
	g := grading.NewDefaultGrader()
	ctx := context.Background()
	on := model.ScoringConfig{PartialCredit: true}
	floor := model.ScoringConfig{PartialCredit: true, MinPartialCredit: 0.5}

	matching := model.AnswerKey{Pairs: map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"}}
	tests := []struct {
		name string
		qt   model.QuestionType
		key  model.AnswerKey
		sc   model.ScoringConfig
		a    model.Answer
		want float64
	}{
		{"matching 3 of 4", model.QuestionMatching, matching, on,
			model.MatchingAnswer{Pairs: map[string]string{"a": "1", "b": "2", "c": "3", "d": "1"}}, 7.5},
		{"matching disabled", model.QuestionMatching, matching, model.ScoringConfig{},
			model.MatchingAnswer{Pairs: map[string]string{"a": "1", "b": "2", "c": "3", "d": "1"}}, 0},
		{"matching floor", model.QuestionMatching, matching, floor,
			model.MatchingAnswer{Pairs: map[string]string{"a": "1"}}, 5},
		{"matching zero stays zero", model.QuestionMatching, matching, floor,
			model.MatchingAnswer{Pairs: map[string]string{}}, 0},
		{"fill blank normalized", model.QuestionFillBlank, model.AnswerKey{Blanks: [][]string{{"Paris"}, {"Seine", "la Seine"}}}, on,
			model.BlanksAnswer{Blanks: []string{" paris ", "La Seine!"}}, 10},
		{"fill blank half", model.QuestionFillBlank, model.AnswerKey{Blanks: [][]string{{"Paris"}, {"Seine"}}}, on,
			model.BlanksAnswer{Blanks: []string{"paris"}}, 5},
		{"ordering", model.QuestionOrdering, model.AnswerKey{Order: []string{"a", "b", "c", "d"}}, on,
			model.OrderingAnswer{Order: []string{"a", "b", "d", "c"}}, 5},
		{"multi select subset", model.QuestionMultipleSelect, model.AnswerKey{Choices: []string{"a", "b"}}, on,
			model.MultiChoiceAnswer{Choices: []string{"a"}}, 5},
		{"multi select false positive", model.QuestionMultipleSelect, model.AnswerKey{Choices: []string{"a", "b"}}, on,
			model.MultiChoiceAnswer{Choices: []string{"a", "z"}}, 0},
		{"multi select exact", model.QuestionMultipleSelect, model.AnswerKey{Choices: []string{"a", "b"}}, model.ScoringConfig{},
			model.MultiChoiceAnswer{Choices: []string{"b", "a"}}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qq := q(tt.qt, 10, tt.key)
			qq.Scoring = tt.sc
			res, err := g.Grade(ctx, qq, tt.a)
			if err != nil {
				t.Fatalf("grade: %v", err)
			}
			if !approx(res.PointsEarned, tt.want) {
				t.Fatalf("points = %.3f, want %.3f (%+v)", res.PointsEarned, tt.want, res)
			}
			if res.PointsEarned > res.PointsPossible {
				t.Fatalf("earned %.2f exceeds possible %.2f", res.PointsEarned, res.PointsPossible)
			}
		})
	}
}

/* ---------------- assisted ---------------- */

func TestAssistedHeuristics(t *testing.T) {
	g := grading.NewDefaultGrader()
	ctx := context.Background()

	short := q(model.QuestionShortAnswer, 4, model.AnswerKey{Accepted: []string{"photosynthesis"}})
	res, err := g.Grade(ctx, short, model.TextAnswer{Text: "Photosynthesis."})
	if err != nil {
		t.Fatal(err)
	}
	if res.PointsEarned != 4 || res.Confidence != model.ConfidenceHigh || res.RequiresReview {
		t.Fatalf("exact exemplar: %+v", res)
	}

	res, _ = g.Grade(ctx, short, model.TextAnswer{Text: "photosynthesys"})
	if res.PointsEarned != 2 || res.Confidence != model.ConfidenceMedium || res.RequiresReview {
		t.Fatalf("fuzzy exemplar: %+v", res)
	}

	kw := q(model.QuestionShortAnswer, 4, model.AnswerKey{Keywords: []string{"light", "chlorophyll"}})
	res, _ = g.Grade(ctx, kw, model.TextAnswer{Text: "plants use light"})
	if res.PointsEarned != 2 || res.Confidence != model.ConfidenceLow || !res.RequiresReview {
		t.Fatalf("partial keywords should need review: %+v", res)
	}

	essay := q(model.QuestionEssay, 10, model.AnswerKey{})
	essay.Rubric = &model.Rubric{Criteria: []model.Criterion{
		{Key: "thesis", MaxPoints: 4, Keywords: []string{"because"}},
		{Key: "evidence", MaxPoints: 6, Keywords: []string{"data", "study"}},
	}}
	res, _ = g.Grade(ctx, essay, model.TextAnswer{Text: "It works because the data says so."})
	if !approx(res.PointsEarned, 7) || !res.RequiresReview {
		t.Fatalf("rubric essay: %+v", res)
	}

	oral := q(model.QuestionOral, 5, model.AnswerKey{Accepted: []string{"bonjour"}})
	res, _ = g.Grade(ctx, oral, model.MediaAnswer{URI: "s3://rec/1.webm"})
	if res.PointsEarned != 0 || !res.RequiresReview {
		t.Fatalf("oral without transcript must be reviewed: %+v", res)
	}
	res, _ = g.Grade(ctx, oral, model.MediaAnswer{URI: "s3://rec/1.webm", Transcript: "Bonjour"})
	if res.PointsEarned != 5 {
		t.Fatalf("oral transcript: %+v", res)
	}
}

func TestReviewThresholdAndAlwaysReview(t *testing.T) {
	g := grading.NewDefaultGrader(grading.WithAssessor(grading.AssessorFunc(
		func(context.Context, grading.Q, string) (grading.Assessment, error) {
			return grading.Assessment{Fraction: 0.8, Confidence: model.ConfidenceMedium}, nil
		})))
	ctx := context.Background()

	qq := q(model.QuestionEssay, 10, model.AnswerKey{})
	res, _ := g.Grade(ctx, qq, model.TextAnswer{Text: "an answer"})
	if res.RequiresReview {
		t.Fatal("medium confidence meets the default threshold")
	}

	qq.Scoring.ReviewBelow = model.ConfidenceHigh
	res, _ = g.Grade(ctx, qq, model.TextAnswer{Text: "an answer"})
	if !res.RequiresReview {
		t.Fatal("medium below high threshold should need review")
	}

	mc := q(model.QuestionMultipleChoice, 1, model.AnswerKey{Choices: []string{"a"}})
	mc.AlwaysReview = true
	res, _ = g.Grade(ctx, mc, model.ChoiceAnswer{Choice: "a"})
	if !res.RequiresReview {
		t.Fatal("always-review question must require review")
	}
}

/* ---------------- errors ---------------- */

func TestScoringErrors(t *testing.T) {
	ctx := context.Background()
	g := grading.NewDefaultGrader()

	_, err := g.Grade(ctx, q(model.QuestionMultipleChoice, 1, model.AnswerKey{}), model.ChoiceAnswer{Choice: "a"})
	if !errs.Is(err, errs.CodeScoringUnavailable) {
		t.Fatalf("missing key: want SCORING_UNAVAILABLE, got %v", err)
	}

	_, err = g.Grade(ctx, q(model.QuestionMultipleChoice, 1, model.AnswerKey{Choices: []string{"a"}}), model.TextAnswer{Text: "a"})
	if !errs.Is(err, errs.CodeInvalidInput) {
		t.Fatalf("wrong answer kind: want INVALID_INPUT, got %v", err)
	}

	failing := grading.NewDefaultGrader(grading.WithAssessor(grading.AssessorFunc(
		func(context.Context, grading.Q, string) (grading.Assessment, error) {
			return grading.Assessment{}, errors.New("model offline")
		})))
	_, err = failing.Grade(ctx, q(model.QuestionEssay, 1, model.AnswerKey{}), model.TextAnswer{Text: "x"})
	if !errs.Is(err, errs.CodeScoringUnavailable) || errs.Permanent(err) {
		t.Fatalf("assessor failure should be transient SCORING_UNAVAILABLE, got %v", err)
	}

	res, err := g.Grade(ctx, q(model.QuestionMatching, 3, model.AnswerKey{}), nil)
	if err != nil || res.PointsEarned != 0 || res.PointsPossible != 3 {
		t.Fatalf("unanswered: res=%+v err=%v", res, err)
	}
}

func TestView(t *testing.T) {
	bank := model.Question{ID: "q1", Type: model.QuestionNumeric, Points: 2}
	if v := grading.View(bank, 0, model.ScoringConfig{}); v.Points != 2 {
		t.Fatalf("default points = %v", v.Points)
	}
	if v := grading.View(bank, 5, model.ScoringConfig{}); v.Points != 5 {
		t.Fatalf("weighted points = %v", v.Points)
	}
}
