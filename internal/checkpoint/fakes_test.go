package checkpoint_test

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mind-engage/mindengage-checkpoint/internal/accommodation"
	"github.com/mind-engage/mindengage-checkpoint/internal/checkpoint"
	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/grading"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeDefs map[string]model.Definition

func (f fakeDefs) GetDefinition(_ context.Context, id string) (model.Definition, error) {
	d, ok := f[id]
	if !ok {
		return model.Definition{}, errs.New(errs.CodeNotFound, "defs", "checkpoint %s not found", id)
	}
	return d, nil
}

type fakeBank map[string]model.Question

func (f fakeBank) GetQuestions(_ context.Context, ids []string) (map[string]model.Question, error) {
	out := map[string]model.Question{}
	for _, id := range ids {
		if q, ok := f[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

type fakeProfiles map[string]accommodation.Profile

func (f fakeProfiles) GetProfile(_ context.Context, userID string) (accommodation.Profile, error) {
	p, ok := f[userID]
	if !ok {
		return accommodation.Profile{}, errs.New(errs.CodeNotFound, "profiles", "no profile for %s", userID)
	}
	return p, nil
}

type fakeIdentity struct{ proof string }

func (f fakeIdentity) Verify(_ context.Context, _ string, proof string) (bool, error) {
	return proof == f.proof, nil
}

type fakeGate struct {
	mu      sync.Mutex
	pending map[string]bool
}

func (g *fakeGate) set(id string, v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		g.pending = map[string]bool{}
	}
	g.pending[id] = v
}

func (g *fakeGate) HasPending(_ context.Context, id string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending[id], nil
}

type fakePublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *fakePublisher) Publish(_ context.Context, typ, _ string, _ any) error {
	p.mu.Lock()
	p.types = append(p.types, typ)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) has(typ string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.types {
		if t == typ {
			return true
		}
	}
	return false
}

// flakyGrader fails every call while down is set and counts the calls.
type flakyGrader struct {
	mu    sync.Mutex
	down  bool
	calls int
	next  grading.Grader
}

func (g *flakyGrader) setDown(v bool) {
	g.mu.Lock()
	g.down = v
	g.mu.Unlock()
}

func (g *flakyGrader) Grade(ctx context.Context, q grading.Q, a model.Answer) (grading.Result, error) {
	g.mu.Lock()
	down := g.down
	g.calls++
	g.mu.Unlock()
	if down {
		return grading.Result{}, errs.New(errs.CodeScoringUnavailable, "fake", "assessor offline")
	}
	return g.next.Grade(ctx, q, a)
}

func (g *flakyGrader) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func intp(v int) *int { return &v }

func bank() fakeBank {
	return fakeBank{
		"q1": {ID: "q1", Type: model.QuestionMultipleChoice, Points: 1, Key: model.AnswerKey{Choices: []string{"b"}}},
		"q2": {ID: "q2", Type: model.QuestionMultipleSelect, Points: 2, Key: model.AnswerKey{Choices: []string{"a", "c"}}},
		"q3": {ID: "q3", Type: model.QuestionNumeric, Points: 1, Key: model.AnswerKey{Numeric: "42"}},
	}
}

func timedDef() model.Definition {
	return model.Definition{
		ID:               "cp1",
		Title:            "Fractions checkpoint",
		TimeLimitSeconds: intp(1200),
		AllowPause:       true,
		Thresholds:       model.Thresholds{Passing: 60, Merit: 85, Distinction: 95},
		Accommodations: model.AccommodationPolicy{
			AllowExtendedTime: true, MaxTimeMultiplier: 1.25,
			AllowBreaks: true, MaxBreaks: 1, MaxBreakSeconds: 60,
		},
		Integrity: model.IntegritySettings{Enabled: true, MaxSuspiciousMarks: 3},
		Scoring:   model.ScoringConfig{PartialCredit: true},
		Questions: []model.QuestionRef{{QuestionID: "q1"}, {QuestionID: "q2"}, {QuestionID: "q3"}},
	}
}

type harness struct {
	svc   *checkpoint.Service
	store checkpoint.Store
	clock *fakeClock
	pub   *fakePublisher
	gate  *fakeGate
	defs  fakeDefs
}

func newHarness(extra ...checkpoint.Option) *harness {
	h := &harness{
		store: checkpoint.NewMemoryStore(),
		clock: &fakeClock{t: t0},
		pub:   &fakePublisher{},
		gate:  &fakeGate{},
	}
	open := timedDef()
	open.ID, open.TimeLimitSeconds = "open", nil
	noPause := timedDef()
	noPause.ID, noPause.AllowPause = "strict", false
	noPause.MaxAttempts = 1
	ident := timedDef()
	ident.ID, ident.RequireIdentity = "proctored", true
	h.defs = fakeDefs{"cp1": timedDef(), "open": open, "strict": noPause, "proctored": ident}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	opts := []checkpoint.Option{
		checkpoint.WithClock(h.clock.Now),
		checkpoint.WithPublisher(h.pub),
		checkpoint.WithSyncGate(h.gate),
		checkpoint.WithLogger(log),
		checkpoint.WithProfiles(fakeProfiles{
			"ext": {UserID: "ext", ExtendedTime: true, TimeMultiplier: 1.5, BreaksApproved: true, MaxBreakSeconds: 120},
		}),
		checkpoint.WithIdentity(fakeIdentity{proof: "ok"}),
	}
	h.svc = checkpoint.NewService(h.store, h.defs, bank(), append(opts, extra...)...)
	return h
}

func choice(c string) model.Payload { return model.Payload{Answer: model.ChoiceAnswer{Choice: c}} }
func choices(c ...string) model.Payload {
	return model.Payload{Answer: model.MultiChoiceAnswer{Choices: c}}
}
func numeric(v string) model.Payload { return model.Payload{Answer: model.NumericAnswer{Value: v}} }
