package checkpoint

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/grading"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// Override replaces the score of one question. Exactly one of Points or
// Rubric is set; rubric awards are scaled to the question's points.
type Override struct {
	QuestionID string             `json:"question_id"`
	Points     *float64           `json:"points,omitempty"`
	Rubric     map[string]float64 `json:"rubric,omitempty"`
	Reason     string             `json:"reason"`
}

type ReviewInput struct {
	SessionID string     `json:"-"`
	Reviewer  string     `json:"reviewer"`
	Overrides []Override `json:"overrides,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// Review closes manual review of a flagged session. Overrides are audited,
// totals recomputed and the session moved to reviewed.
func (s *Service) Review(ctx context.Context, in ReviewInput) (model.Summary, error) {
	const op = "checkpoint.review"
	if strings.TrimSpace(in.Reviewer) == "" {
		return model.Summary{}, (&errs.Error{Code: errs.CodeInvalidInput, Op: op, Msg: "reviewer is required"}).
			WithEntity("review", "reviewer")
	}
	sess, err := s.mutate(ctx, op, in.SessionID, accessOnline, func(u *unit) error {
		if u.sess.Status != model.StatusFlaggedForReview {
			return invalidTransition(op, u.sess.Status, model.StatusReviewed)
		}
		rs, err := u.responses()
		if err != nil {
			return err
		}
		for _, o := range in.Overrides {
			r, ok := rs[o.QuestionID]
			if !ok {
				return (&errs.Error{Code: errs.CodeNotFound, Op: op, Msg: "no response for question " + o.QuestionID}).
					WithEntity("response", "question_id")
			}
			if err := u.override(&r, o, in.Reviewer); err != nil {
				return err
			}
			u.putResponse(r)
		}

		list := make([]model.Response, 0, len(u.resp))
		for _, ref := range u.def.Questions {
			r, ok := u.resp[ref.QuestionID]
			if !ok {
				continue
			}
			if r.RequiresReview {
				r.RequiresReview = false
				u.putResponse(r)
			}
			list = append(list, r)
		}
		t := grading.Summarize(list, u.def.Thresholds)
		u.sess.Score, u.sess.MaxScore = t.Score, t.MaxScore
		u.sess.ScorePercentage, u.sess.Grade = t.Percentage, t.Grade
		u.sess.RequiresReview = false
		u.sess.ReviewedBy = in.Reviewer
		if err := transition(op, &u.sess, model.StatusReviewed, u.now); err != nil {
			return err
		}
		u.sess.CompletedAt = timePtr(u.now)
		u.audit = append(u.audit, model.AuditEntry{
			ID: s.newID(), SessionID: u.sess.ID, Actor: in.Reviewer, Action: "review_completed",
			Before: string(model.StatusFlaggedForReview), After: string(model.StatusReviewed),
			Reason: in.Notes, CreatedAt: u.now,
		})
		u.dirty = true
		u.notify(NoteSessionReviewed)
		s.log.WithFields(logrus.Fields{
			"session_id": u.sess.ID, "reviewer": in.Reviewer, "overrides": len(in.Overrides), "score": u.sess.Score,
		}).Info("session reviewed")
		return nil
	})
	if err != nil {
		return model.Summary{}, err
	}
	return model.SummaryOf(sess), nil
}

func (u *unit) override(r *model.Response, o Override, reviewer string) error {
	var points float64
	switch {
	case o.Points != nil && o.Rubric == nil:
		points = *o.Points
	case o.Rubric != nil && o.Points == nil:
		q, _, _, err := u.question(o.QuestionID)
		if err != nil {
			return err
		}
		if q.Rubric == nil {
			return (&errs.Error{Code: errs.CodeInvalidInput, Op: u.op, Msg: "question " + q.ID + " has no rubric"}).
				WithEntity("override", "rubric")
		}
		total, _ := grading.ScoreRubric(*q.Rubric, o.Rubric)
		if m := grading.RubricMax(*q.Rubric); m > 0 {
			points = total / m * r.PointsPossible
		}
	default:
		return (&errs.Error{Code: errs.CodeInvalidInput, Op: u.op, Msg: "override needs exactly one of points or rubric"}).
			WithEntity("override", "points")
	}
	if points < 0 || points > r.PointsPossible {
		return (&errs.Error{
			Code: errs.CodeInvalidInput, Op: u.op,
			Msg: fmt.Sprintf("points %.2f outside 0..%.2f", points, r.PointsPossible),
		}).WithEntity("override", "points")
	}
	before := fmt.Sprintf("%.2f", r.PointsEarned)
	r.PointsEarned = points
	r.IsCorrect = r.PointsPossible > 0 && points == r.PointsPossible
	if r.PointsPossible > 0 {
		r.PartialCredit = points / r.PointsPossible
	}
	r.ScoreConfidence = model.ConfidenceHigh
	r.RequiresReview = false
	r.Scored = true
	r.OverriddenBy = reviewer
	r.OverrideReason = o.Reason
	u.audit = append(u.audit, model.AuditEntry{
		ID: u.svc.newID(), SessionID: u.sess.ID, QuestionID: o.QuestionID, Actor: reviewer,
		Action: "score_override", Before: before, After: fmt.Sprintf("%.2f", points),
		Reason: o.Reason, CreatedAt: u.now,
	})
	return nil
}

// Audit lists the override trail of a session.
func (s *Service) Audit(ctx context.Context, sessionID string) ([]model.AuditEntry, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, sessionID)
}
