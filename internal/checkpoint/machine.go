package checkpoint

import (
	"fmt"
	"time"

	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// transitions is the closed lifecycle table. Anything not listed is rejected.
var transitions = map[model.Status][]model.Status{
	model.StatusInitializing:     {model.StatusInProgress, model.StatusAbandoned},
	model.StatusInProgress:       {model.StatusPaused, model.StatusOnBreak, model.StatusSubmitted, model.StatusTimedOut, model.StatusAbandoned},
	model.StatusPaused:           {model.StatusInProgress, model.StatusOnBreak, model.StatusTimedOut, model.StatusAbandoned},
	model.StatusOnBreak:          {model.StatusInProgress, model.StatusPaused, model.StatusAbandoned},
	model.StatusSubmitted:        {model.StatusScored, model.StatusFlaggedForReview},
	model.StatusTimedOut:         {model.StatusScored, model.StatusFlaggedForReview},
	model.StatusScored:           {model.StatusCompleted, model.StatusFlaggedForReview},
	model.StatusFlaggedForReview: {model.StatusReviewed},
}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Targets lists the states reachable from s in one step.
func Targets(s model.Status) []model.Status {
	return append([]model.Status(nil), transitions[s]...)
}

func invalidTransition(op string, from, to model.Status) error {
	return &errs.Error{
		Code:   errs.CodeInvalidTransition,
		Op:     op,
		Entity: "session",
		Field:  "status",
		Msg:    fmt.Sprintf("cannot move from %s to %s", from, to),
	}
}

// transition moves s to the target status, keeping the session clock
// consistent: time runs while in_progress or paused and stops otherwise.
func transition(op string, s *model.Session, to model.Status, now time.Time) error {
	if !CanTransition(s.Status, to) {
		return invalidTransition(op, s.Status, to)
	}
	foldClock(s, now)
	switch to {
	case model.StatusInProgress, model.StatusPaused:
		if s.ClockStartedAt == nil {
			t := now
			s.ClockStartedAt = &t
		}
		if s.StartedAt == nil {
			t := now
			s.StartedAt = &t
		}
	default:
		s.ClockStartedAt = nil
	}
	s.Status = to
	return nil
}

// foldClock moves whole elapsed seconds from the running clock into
// ElapsedSeconds. The sub-second remainder stays on the clock.
func foldClock(s *model.Session, now time.Time) {
	if s.ClockStartedAt == nil || !now.After(*s.ClockStartedAt) {
		return
	}
	secs := int(now.Sub(*s.ClockStartedAt) / time.Second)
	if secs <= 0 {
		return
	}
	s.ElapsedSeconds += secs
	t := s.ClockStartedAt.Add(time.Duration(secs) * time.Second)
	s.ClockStartedAt = &t
}

// Elapsed returns the session's elapsed seconds as of now without mutating s.
func Elapsed(s model.Session, now time.Time) int {
	e := s.ElapsedSeconds
	if s.ClockStartedAt != nil && now.After(*s.ClockStartedAt) {
		e += int(now.Sub(*s.ClockStartedAt) / time.Second)
	}
	return e
}

// Remaining returns the seconds left before expiry, or -1 when unlimited.
func Remaining(s model.Session, now time.Time) int {
	if s.TimeLimitSeconds == nil {
		return -1
	}
	return max(*s.TimeLimitSeconds-Elapsed(s, now), 0)
}

// Advance applies time-driven transitions lazily: a break that outlived its
// cap is ended at the cap (the overrun runs on the session clock), and a
// session whose elapsed time reached its limit is timed out with elapsed
// pinned to the limit. It reports whether s changed.
func Advance(s *model.Session, now time.Time) bool {
	changed := false
	if s.Status == model.StatusOnBreak && s.BreakStartedAt != nil && s.Breaks.MaxBreakSeconds > 0 {
		capAt := s.BreakStartedAt.Add(time.Duration(s.Breaks.MaxBreakSeconds) * time.Second)
		if !now.Before(capAt) {
			endBreak(s, capAt)
			s.Status = model.StatusInProgress
			s.ClockStartedAt = &capAt
			changed = true
		}
	}
	if s.TimeLimitSeconds == nil || s.ClockStartedAt == nil {
		return changed
	}
	limit := *s.TimeLimitSeconds
	if Elapsed(*s, now) < limit {
		return changed
	}
	expiredAt := s.ClockStartedAt.Add(time.Duration(limit-s.ElapsedSeconds) * time.Second)
	s.ElapsedSeconds = limit
	s.ClockStartedAt = nil
	s.Status = model.StatusTimedOut
	s.SubmitReason = model.SubmitTimeExpired
	s.SubmittedAt = &expiredAt
	return true
}

// beginBreak stops the clock and records the break start.
func beginBreak(s *model.Session, now time.Time) {
	t := now
	s.BreakStartedAt = &t
	s.BreaksTaken++
}

// endBreak charges the break, capped at the per-break allowance, to
// BreakSecondsUsed and clears the break start.
func endBreak(s *model.Session, now time.Time) {
	if s.BreakStartedAt == nil {
		return
	}
	d := int(now.Sub(*s.BreakStartedAt) / time.Second)
	if d < 0 {
		d = 0
	}
	if c := s.Breaks.MaxBreakSeconds; c > 0 && d > c {
		d = c
	}
	s.BreakSecondsUsed += d
	s.BreakStartedAt = nil
}
