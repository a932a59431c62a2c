package grading

import (
	"context"
	"fmt"
	"strings"

	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// Q is the view of a question needed for grading: the bank entry, its
// effective weight in this checkpoint and the checkpoint's scoring rules.
type Q struct {
	ID           string
	Type         model.QuestionType
	Points       float64
	Key          model.AnswerKey
	Rubric       *model.Rubric
	AlwaysReview bool
	Scoring      model.ScoringConfig
}

// View builds a Q from a bank question. A non-zero weight overrides the
// bank's default points.
func View(q model.Question, weight float64, sc model.ScoringConfig) Q {
	pts := q.Points
	if weight > 0 {
		pts = weight
	}
	return Q{
		ID:           q.ID,
		Type:         q.Type,
		Points:       pts,
		Key:          q.Key,
		Rubric:       q.Rubric,
		AlwaysReview: q.AlwaysReview,
		Scoring:      sc,
	}
}

// Result is the outcome of grading a single question response.
type Result struct {
	PointsEarned   float64
	PointsPossible float64
	IsCorrect      bool
	PartialCredit  float64 // fraction of the weight awarded, 0..1
	Confidence     model.Confidence
	RequiresReview bool
	Feedback       []string
}

// Apply copies the scoring outputs of res onto r.
func (res Result) Apply(r *model.Response) {
	r.PointsEarned = res.PointsEarned
	r.PointsPossible = res.PointsPossible
	r.IsCorrect = res.IsCorrect
	r.PartialCredit = res.PartialCredit
	r.ScoreConfidence = res.Confidence
	r.RequiresReview = res.RequiresReview
	r.Feedback = res.Feedback
	r.Scored = true
}

// Strategy grades a single question family.
type Strategy interface {
	Grade(ctx context.Context, q Q, a model.Answer) (Result, error)
}

// Grader routes by question type to the correct Strategy.
type Grader interface {
	Grade(ctx context.Context, q Q, a model.Answer) (Result, error)
}

type defaultGrader struct {
	strategies map[model.QuestionType]Strategy
}

func (g *defaultGrader) Grade(ctx context.Context, q Q, a model.Answer) (Result, error) {
	s, ok := g.strategies[q.Type]
	if !ok {
		return Result{}, errs.New(errs.CodeScoringUnavailable, "grading.grade", "no strategy for question type %q", q.Type)
	}
	if a == nil {
		// unanswered: nothing earned, nothing to review
		return Result{PointsPossible: q.Points, Confidence: model.ConfidenceHigh, RequiresReview: q.AlwaysReview}, nil
	}
	if want, _ := model.AnswerKindFor(q.Type); a.Kind() != want {
		return Result{}, errs.New(errs.CodeInvalidInput, "grading.grade", "question %s expects a %s answer, got %s", q.ID, want, a.Kind())
	}
	res, err := s.Grade(ctx, q, a)
	if err != nil {
		return Result{}, err
	}
	res.PointsPossible = q.Points
	res.PointsEarned = clamp(res.PointsEarned, 0, q.Points)
	if q.AlwaysReview {
		res.RequiresReview = true
	}
	return res, nil
}

// Engine options

type Option func(*config)

type config struct {
	MaxEditDistance   int      // default for short-answer fuzzy matching
	FuzzyCreditFactor float64  // default credit for a near match
	Assessor          Assessor // scorer for short_answer, essay and oral
}

func WithMaxEditDistance(n int) Option { return func(c *config) { c.MaxEditDistance = n } }
func WithFuzzyCredit(f float64) Option { return func(c *config) { c.FuzzyCreditFactor = f } }
func WithAssessor(a Assessor) Option   { return func(c *config) { c.Assessor = a } }

// NewDefaultGrader installs built-in strategies.
func NewDefaultGrader(opts ...Option) Grader {
	cfg := &config{
		MaxEditDistance:   1,
		FuzzyCreditFactor: 0.5,
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.Assessor == nil {
		cfg.Assessor = HeuristicAssessor{MaxEditDistance: cfg.MaxEditDistance, FuzzyCredit: cfg.FuzzyCreditFactor}
	}
	assisted := assistedStrategy{assessor: cfg.Assessor}
	return &defaultGrader{
		strategies: map[model.QuestionType]Strategy{
			model.QuestionMultipleChoice: choiceStrategy{},
			model.QuestionTrueFalse:      choiceStrategy{foldCase: true},
			model.QuestionNumeric:        numericStrategy{},
			model.QuestionMultipleSelect: multiSelectStrategy{},
			model.QuestionMatching:       matchingStrategy{},
			model.QuestionFillBlank:      blanksStrategy{},
			model.QuestionOrdering:       orderingStrategy{},
			model.QuestionShortAnswer:    assisted,
			model.QuestionEssay:          assisted,
			model.QuestionOral:           assisted,
		},
	}
}

// --- Exact strategies ---

type choiceStrategy struct{ foldCase bool }

func (s choiceStrategy) Grade(_ context.Context, q Q, a model.Answer) (Result, error) {
	if len(q.Key.Choices) == 0 {
		return Result{}, missingKey(q)
	}
	resp := strings.TrimSpace(a.(model.ChoiceAnswer).Choice)
	for _, k := range q.Key.Choices {
		k = strings.TrimSpace(k)
		if resp == k || (s.foldCase && strings.EqualFold(resp, k)) {
			return exact(q, true), nil
		}
	}
	return exact(q, false), nil
}

func exact(q Q, correct bool) Result {
	res := Result{Confidence: model.ConfidenceHigh}
	if correct {
		res.PointsEarned = q.Points
		res.PartialCredit = 1
		res.IsCorrect = true
	}
	return res
}

// --- Partial-credit strategies ---

type multiSelectStrategy struct{}

func (multiSelectStrategy) Grade(_ context.Context, q Q, a model.Answer) (Result, error) {
	if len(q.Key.Choices) == 0 {
		return Result{}, missingKey(q)
	}
	correct := toSet(q.Key.Choices)
	resp := toSet(a.(model.MultiChoiceAnswer).Choices)
	if setEqual(correct, resp) {
		return partial(q, 1), nil
	}
	// any wrong selection forfeits partial credit
	for r := range resp {
		if _, ok := correct[r]; !ok {
			return partial(q, 0), nil
		}
	}
	inter := 0
	for k := range resp {
		if _, ok := correct[k]; ok {
			inter++
		}
	}
	return partial(q, float64(inter)/float64(len(correct))), nil
}

type matchingStrategy struct{}

func (matchingStrategy) Grade(_ context.Context, q Q, a model.Answer) (Result, error) {
	if len(q.Key.Pairs) == 0 {
		return Result{}, missingKey(q)
	}
	resp := a.(model.MatchingAnswer).Pairs
	hits := 0
	for left, right := range q.Key.Pairs {
		if got, ok := resp[left]; ok && strings.TrimSpace(got) == strings.TrimSpace(right) {
			hits++
		}
	}
	return partial(q, float64(hits)/float64(len(q.Key.Pairs))), nil
}

type blanksStrategy struct{}

func (blanksStrategy) Grade(_ context.Context, q Q, a model.Answer) (Result, error) {
	if len(q.Key.Blanks) == 0 {
		return Result{}, missingKey(q)
	}
	resp := a.(model.BlanksAnswer).Blanks
	hits := 0
	for i, accepted := range q.Key.Blanks {
		if i >= len(resp) {
			break
		}
		got := normalize(resp[i])
		for _, k := range accepted {
			if got != "" && got == normalize(k) {
				hits++
				break
			}
		}
	}
	return partial(q, float64(hits)/float64(len(q.Key.Blanks))), nil
}

type orderingStrategy struct{}

func (orderingStrategy) Grade(_ context.Context, q Q, a model.Answer) (Result, error) {
	if len(q.Key.Order) == 0 {
		return Result{}, missingKey(q)
	}
	resp := a.(model.OrderingAnswer).Order
	hits := 0
	for i, want := range q.Key.Order {
		if i < len(resp) && resp[i] == want {
			hits++
		}
	}
	return partial(q, float64(hits)/float64(len(q.Key.Order))), nil
}

// partial applies the checkpoint's partial-credit rules to a raw fraction.
func partial(q Q, f float64) Result {
	f = clamp(f, 0, 1)
	res := Result{Confidence: model.ConfidenceHigh}
	switch {
	case f == 1:
		res.IsCorrect = true
	case !q.Scoring.PartialCredit:
		f = 0
	case f > 0 && f < q.Scoring.MinPartialCredit:
		f = q.Scoring.MinPartialCredit
		res.Feedback = append(res.Feedback, fmt.Sprintf("partial credit raised to floor %.2f", f))
	}
	res.PartialCredit = f
	res.PointsEarned = q.Points * f
	return res
}

// helpers

func missingKey(q Q) error {
	return &errs.Error{
		Code:   errs.CodeScoringUnavailable,
		Op:     "grading.grade",
		Entity: "question",
		Field:  "key",
		Msg:    fmt.Sprintf("question %s (%s) has no answer key", q.ID, q.Type),
	}
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[strings.TrimSpace(s)] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
