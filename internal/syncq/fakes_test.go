package syncq_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mind-engage/mindengage-checkpoint/internal/checkpoint"
	"github.com/mind-engage/mindengage-checkpoint/internal/checksum"
	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
	"github.com/mind-engage/mindengage-checkpoint/internal/syncq"
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

func (p *fakePublisher) count(typ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, t := range p.types {
		if t == typ {
			n++
		}
	}
	return n
}

// replayer wraps the real service to record replay order and inject
// failures.
type replayer struct {
	syncq.Replayer
	mu    sync.Mutex
	order []string
	fail  error
}

func (r *replayer) setFail(err error) {
	r.mu.Lock()
	r.fail = err
	r.mu.Unlock()
}

func (r *replayer) Snapshot(ctx context.Context, id string) (model.Session, []model.Response, error) {
	r.mu.Lock()
	err := r.fail
	r.mu.Unlock()
	if err != nil {
		return model.Session{}, nil, err
	}
	return r.Replayer.Snapshot(ctx, id)
}

func (r *replayer) Replay(ctx context.Context, in checkpoint.ReplayInput) (model.Session, error) {
	r.mu.Lock()
	r.order = append(r.order, in.ItemID)
	r.mu.Unlock()
	return r.Replayer.Replay(ctx, in)
}

// flakyStore fails the next n updates that would complete an item.
type flakyStore struct {
	*syncq.MemoryStore
	mu sync.Mutex
	n  int
}

func (f *flakyStore) UpdateItem(ctx context.Context, it model.SyncItem) error {
	f.mu.Lock()
	fail := it.Status == model.SyncCompleted && f.n > 0
	if fail {
		f.n--
	}
	f.mu.Unlock()
	if fail {
		return errors.New("disk I/O error")
	}
	return f.MemoryStore.UpdateItem(ctx, it)
}

func intp(v int) *int { return &v }

func definition() model.Definition {
	return model.Definition{
		ID:               "cp1",
		Title:            "Ratios checkpoint",
		TimeLimitSeconds: intp(1200),
		AllowPause:       true,
		Thresholds:       model.Thresholds{Passing: 60, Merit: 85, Distinction: 95},
		Scoring:          model.ScoringConfig{PartialCredit: true},
		Questions:        []model.QuestionRef{{QuestionID: "q1"}, {QuestionID: "q2"}, {QuestionID: "q3"}},
	}
}

func bank() fakeBank {
	return fakeBank{
		"q1": {ID: "q1", Type: model.QuestionMultipleChoice, Points: 1, Key: model.AnswerKey{Choices: []string{"b"}}},
		"q2": {ID: "q2", Type: model.QuestionMultipleChoice, Points: 1, Key: model.AnswerKey{Choices: []string{"c"}}},
		"q3": {ID: "q3", Type: model.QuestionNumeric, Points: 1, Key: model.AnswerKey{Numeric: "42"}},
	}
}

type harness struct {
	clock *fakeClock
	store *syncq.MemoryStore
	svc   *checkpoint.Service
	rep   *replayer
	pub   *fakePublisher
	q     *syncq.Queue
}

func newHarness(t *testing.T, opts ...syncq.Option) *harness {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	h := &harness{clock: &fakeClock{t: t0}, store: syncq.NewMemoryStore(), pub: &fakePublisher{}}
	h.svc = checkpoint.NewService(checkpoint.NewMemoryStore(), fakeDefs{"cp1": definition()}, bank(),
		checkpoint.WithClock(h.clock.Now),
		checkpoint.WithLogger(log),
		checkpoint.WithSyncGate(syncq.NewGate(h.store)))
	h.rep = &replayer{Replayer: h.svc}
	base := []syncq.Option{
		syncq.WithClock(h.clock.Now),
		syncq.WithLogger(log),
		syncq.WithPublisher(h.pub),
	}
	h.q = syncq.New(h.store, h.rep, append(base, opts...)...)
	return h
}

func choice(c string) model.Payload  { return model.Payload{Answer: model.ChoiceAnswer{Choice: c}} }
func numeric(v string) model.Payload { return model.Payload{Answer: model.NumericAnswer{Value: v}} }

func ts(d time.Duration) *time.Time {
	t := t0.Add(d)
	return &t
}

// signed builds a batch with a valid checksum.
func signed(t *testing.T, b syncq.Batch) syncq.Batch {
	t.Helper()
	sum, err := syncq.Checksum(checksum.SHA256, b.Session, b.Responses, b.Events)
	if err != nil {
		t.Fatal(err)
	}
	b.Checksum = sum
	if b.DeviceID == "" {
		b.DeviceID = "tablet-7"
	}
	if b.ClientTimestamp.IsZero() {
		b.ClientTimestamp = t0
	}
	return b
}

func wantCode(t *testing.T, err error, code errs.Code) {
	t.Helper()
	if !errs.Is(err, code) {
		t.Fatalf("err = %v, want %s", err, code)
	}
}

func drain(t *testing.T, h *harness) int {
	t.Helper()
	n, err := h.q.Drain(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return n
}
