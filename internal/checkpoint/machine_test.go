package checkpoint_test

import (
	"testing"
	"time"

	"github.com/mind-engage/mindengage-checkpoint/internal/checkpoint"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to model.Status
		ok       bool
	}{
		{model.StatusInitializing, model.StatusInProgress, true},
		{model.StatusInitializing, model.StatusSubmitted, false},
		{model.StatusInProgress, model.StatusPaused, true},
		{model.StatusInProgress, model.StatusOnBreak, true},
		{model.StatusInProgress, model.StatusSubmitted, true},
		{model.StatusInProgress, model.StatusScored, false},
		{model.StatusPaused, model.StatusInProgress, true},
		{model.StatusPaused, model.StatusSubmitted, false},
		{model.StatusOnBreak, model.StatusPaused, true},
		{model.StatusOnBreak, model.StatusTimedOut, false},
		{model.StatusSubmitted, model.StatusScored, true},
		{model.StatusTimedOut, model.StatusFlaggedForReview, true},
		{model.StatusScored, model.StatusCompleted, true},
		{model.StatusFlaggedForReview, model.StatusReviewed, true},
		{model.StatusFlaggedForReview, model.StatusCompleted, false},
		{model.StatusCompleted, model.StatusInProgress, false},
		{model.StatusAbandoned, model.StatusInProgress, false},
	}
	for _, c := range cases {
		if got := checkpoint.CanTransition(c.from, c.to); got != c.ok {
			t.Errorf("%s -> %s = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
	for _, s := range []model.Status{model.StatusCompleted, model.StatusReviewed, model.StatusAbandoned} {
		if n := len(checkpoint.Targets(s)); n != 0 {
			t.Errorf("%s has %d targets, want none", s, n)
		}
	}
}

func TestAdvancePinsElapsedToLimit(t *testing.T) {
	clock := t0
	s := model.Session{
		Status:           model.StatusPaused,
		TimeLimitSeconds: intp(60),
		ElapsedSeconds:   30,
		ClockStartedAt:   &clock,
	}
	if checkpoint.Advance(&s, t0.Add(29*time.Second)) {
		t.Fatal("advanced before the limit")
	}
	if r := checkpoint.Remaining(s, t0.Add(29*time.Second)); r != 1 {
		t.Fatalf("remaining = %d", r)
	}
	if !checkpoint.Advance(&s, t0.Add(10*time.Minute)) {
		t.Fatal("did not time out")
	}
	if s.Status != model.StatusTimedOut || s.ElapsedSeconds != 60 || s.ClockStartedAt != nil {
		t.Fatalf("after expiry: %+v", s)
	}
	if want := t0.Add(30 * time.Second); !s.SubmittedAt.Equal(want) {
		t.Fatalf("submitted at %v, want %v", s.SubmittedAt, want)
	}
	if checkpoint.Advance(&s, t0.Add(time.Hour)) {
		t.Fatal("timed out session advanced again")
	}
}

func TestUnlimitedNeverExpires(t *testing.T) {
	clock := t0
	s := model.Session{Status: model.StatusInProgress, ClockStartedAt: &clock}
	if checkpoint.Advance(&s, t0.Add(1000*time.Hour)) {
		t.Fatal("unlimited session expired")
	}
	if r := checkpoint.Remaining(s, t0); r != -1 {
		t.Fatalf("remaining = %d, want -1", r)
	}
	if e := checkpoint.Elapsed(s, t0.Add(90*time.Second+500*time.Millisecond)); e != 90 {
		t.Fatalf("elapsed = %d", e)
	}
}
