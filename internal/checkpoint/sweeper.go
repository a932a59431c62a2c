package checkpoint

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// SweepResult counts what one sweep changed.
type SweepResult struct {
	TimedOut  int `json:"timed_out"`
	Scored    int `json:"scored"`
	Abandoned int `json:"abandoned"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// SweepExpired applies lazy expiry to every live session and retries scoring
// for sessions closed while scoring was unavailable.
func (s *Service) SweepExpired(ctx context.Context) (SweepResult, error) {
	const op = "checkpoint.sweep_expired"
	var res SweepResult
	list, err := s.store.ListSessions(ctx, ListOpts{Statuses: []model.Status{
		model.StatusInProgress, model.StatusPaused, model.StatusOnBreak,
		model.StatusSubmitted, model.StatusTimedOut,
	}})
	if err != nil {
		return res, err
	}
	for _, sess := range list {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if s.deferSweep(ctx, sess) {
			res.Skipped++
			continue
		}
		before := sess.Status
		after, err := s.mutate(ctx, op, sess.ID, accessSync, func(u *unit) error {
			u.finalize()
			return nil
		})
		if err != nil {
			res.Failed++
			s.log.WithError(err).WithField("session_id", sess.ID).Warn("sweep: session not advanced")
			continue
		}
		if before.Live() && !after.Status.Live() {
			res.TimedOut++
		}
		if sess.ScoredAt == nil && after.ScoredAt != nil {
			res.Scored++
		}
	}
	return res, nil
}

// SweepIdle abandons sessions without activity for longer than the
// checkpoint's idle timeout, or the service default.
func (s *Service) SweepIdle(ctx context.Context) (SweepResult, error) {
	const op = "checkpoint.sweep_idle"
	var res SweepResult
	list, err := s.store.ListSessions(ctx, ListOpts{Statuses: []model.Status{
		model.StatusInitializing, model.StatusInProgress, model.StatusPaused,
	}})
	if err != nil {
		return res, err
	}
	for _, sess := range list {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if s.deferSweep(ctx, sess) {
			res.Skipped++
			continue
		}
		abandoned := false
		_, err := s.mutate(ctx, op, sess.ID, accessSync, func(u *unit) error {
			if !s.idle(u.sess, u.def, u.now) {
				return nil
			}
			switch u.sess.Status {
			case model.StatusInitializing, model.StatusInProgress, model.StatusPaused:
				abandoned = true
				return u.abandon("idle timeout")
			}
			return nil
		})
		if err != nil {
			res.Failed++
			s.log.WithError(err).WithField("session_id", sess.ID).Warn("sweep: idle check failed")
			continue
		}
		if abandoned {
			res.Abandoned++
		}
	}
	return res, nil
}

func (s *Service) idle(sess model.Session, def model.Definition, now time.Time) bool {
	timeout := s.idleTimeout
	if def.IdleTimeoutSeconds > 0 {
		timeout = time.Duration(def.IdleTimeoutSeconds) * time.Second
	}
	if timeout <= 0 {
		return false
	}
	last := sess.CreatedAt
	if sess.LastActivityAt != nil {
		last = *sess.LastActivityAt
	}
	return now.Sub(last) > timeout
}

// deferSweep reports whether sweeps must leave sess alone: offline batches
// are still queued, or the learner went offline within the grace period.
func (s *Service) deferSweep(ctx context.Context, sess model.Session) bool {
	if s.gate != nil {
		pending, err := s.gate.HasPending(ctx, sess.ID)
		if err != nil || pending {
			return true
		}
	}
	if sess.IsOffline && sess.LastActivityAt != nil && s.now().Sub(*sess.LastActivityAt) < s.offlineGrace {
		return true
	}
	return false
}

// Sweeper runs expiry and idle sweeps on a fixed interval.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	log      logrus.FieldLogger
}

func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{svc: svc, interval: interval, log: svc.log.WithField("component", "sweeper")}
}

// Run blocks until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		w.Once(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Once runs a single expiry and idle pass.
func (w *Sweeper) Once(ctx context.Context) SweepResult {
	exp, err := w.svc.SweepExpired(ctx)
	if err != nil {
		w.log.WithError(err).Error("expiry sweep failed")
	}
	idle, err := w.svc.SweepIdle(ctx)
	if err != nil {
		w.log.WithError(err).Error("idle sweep failed")
	}
	exp.Abandoned += idle.Abandoned
	exp.Skipped += idle.Skipped
	exp.Failed += idle.Failed
	if exp.TimedOut+exp.Scored+exp.Abandoned > 0 {
		w.log.WithFields(logrus.Fields{
			"timed_out": exp.TimedOut, "scored": exp.Scored, "abandoned": exp.Abandoned, "skipped": exp.Skipped,
		}).Info("sweep")
	}
	return exp
}
