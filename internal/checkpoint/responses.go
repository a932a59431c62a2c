package checkpoint

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/grading"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// AnswerInput is a learner's answer to one question.
type AnswerInput struct {
	QuestionID       string        `json:"question_id"`
	Payload          model.Payload `json:"payload"`
	Flagged          bool          `json:"flagged,omitempty"`
	TimeSpentSeconds int           `json:"time_spent_seconds,omitempty"`
}

// ViewQuestion marks a question as seen and moves the learner's cursor to it.
func (s *Service) ViewQuestion(ctx context.Context, sessionID, questionID string) (model.Response, error) {
	const op = "checkpoint.view_question"
	var out model.Response
	_, err := s.mutate(ctx, op, sessionID, accessOnline, func(u *unit) error {
		if u.sess.Status != model.StatusInProgress {
			return invalidTransition(op, u.sess.Status, model.StatusInProgress)
		}
		_, _, idx, err := u.question(questionID)
		if err != nil {
			return err
		}
		r, err := u.response(questionID)
		if err != nil {
			return err
		}
		if r.Status == model.ResponseNotViewed {
			r.Status = model.ResponseViewed
		}
		if r.ViewedAt == nil {
			r.ViewedAt = timePtr(u.now)
		}
		u.putResponse(r)
		u.sess.CurrentQuestionIndex = idx
		u.touch()
		out = r
		return u.serverEvent(model.EventQuestionViewed, model.EventData{QuestionID: questionID})
	})
	if err != nil {
		return model.Response{}, err
	}
	return s.storedResponse(ctx, sessionID, out)
}

// SubmitResponse stores an answer and scores it right away. A question that
// cannot be scored yet keeps its answer and is scored again at submission.
func (s *Service) SubmitResponse(ctx context.Context, sessionID string, in AnswerInput) (model.Response, error) {
	const op = "checkpoint.submit_response"
	if in.Payload.IsZero() {
		return model.Response{}, (&errs.Error{Code: errs.CodeInvalidInput, Op: op, Msg: "answer payload is required"}).
			WithEntity("response", "payload")
	}
	if in.TimeSpentSeconds < 0 {
		return model.Response{}, (&errs.Error{Code: errs.CodeInvalidInput, Op: op, Msg: "time spent cannot be negative"}).
			WithEntity("response", "time_spent_seconds")
	}
	var out model.Response
	_, err := s.mutate(ctx, op, sessionID, accessOnline, func(u *unit) error {
		if u.sess.Status != model.StatusInProgress {
			return invalidTransition(op, u.sess.Status, model.StatusInProgress)
		}
		r, idx, err := u.answer(in.QuestionID, in.Payload)
		if err != nil {
			return err
		}
		r.Status = model.ResponseAnswered
		if in.Flagged {
			r.Status = model.ResponseFlagged
		}
		r.AnsweredAt = timePtr(u.now)
		if r.ViewedAt == nil {
			r.ViewedAt = timePtr(u.now)
		}
		r.TimeSpentSeconds += in.TimeSpentSeconds
		u.putResponse(r)
		u.recount()
		u.sess.CurrentQuestionIndex = idx
		u.touch()
		out = u.resp[in.QuestionID]
		return u.serverEvent(model.EventAnswerSaved, model.EventData{QuestionID: in.QuestionID})
	})
	if err != nil {
		return model.Response{}, err
	}
	return s.storedResponse(ctx, sessionID, out)
}

// SkipQuestion records that the learner passed over a question. Answered
// questions cannot be skipped.
func (s *Service) SkipQuestion(ctx context.Context, sessionID, questionID string) (model.Response, error) {
	const op = "checkpoint.skip_question"
	var out model.Response
	_, err := s.mutate(ctx, op, sessionID, accessOnline, func(u *unit) error {
		if u.sess.Status != model.StatusInProgress {
			return invalidTransition(op, u.sess.Status, model.StatusInProgress)
		}
		if _, _, _, err := u.question(questionID); err != nil {
			return err
		}
		r, err := u.response(questionID)
		if err != nil {
			return err
		}
		if !r.Payload.IsZero() {
			return (&errs.Error{Code: errs.CodeInvalidInput, Op: op, Msg: "question " + questionID + " is already answered"}).
				WithEntity("response", "status")
		}
		r.Status = model.ResponseSkipped
		u.putResponse(r)
		u.recount()
		u.touch()
		out = r
		return nil
	})
	if err != nil {
		return model.Response{}, err
	}
	return s.storedResponse(ctx, sessionID, out)
}

// storedResponse re-reads a response after commit so callers see the
// persisted version.
func (s *Service) storedResponse(ctx context.Context, sessionID string, fallback model.Response) (model.Response, error) {
	rs, err := s.store.ListResponses(ctx, sessionID)
	if err != nil {
		return model.Response{}, err
	}
	for _, r := range rs {
		if r.QuestionID == fallback.QuestionID {
			return r, nil
		}
	}
	return fallback, nil
}

// response returns the current row for questionID, creating a blank one for
// sessions that predate the question list.
func (u *unit) response(questionID string) (model.Response, error) {
	rs, err := u.responses()
	if err != nil {
		return model.Response{}, err
	}
	r, ok := rs[questionID]
	if !ok {
		r = model.Response{SessionID: u.sess.ID, QuestionID: questionID, Status: model.ResponseNotViewed}
	}
	return r, nil
}

// answer validates payload against questionID and scores it. It returns the
// updated row (not yet stored) and the question's position.
func (u *unit) answer(questionID string, payload model.Payload) (model.Response, int, error) {
	q, ref, idx, err := u.question(questionID)
	if err != nil {
		return model.Response{}, idx, err
	}
	want, ok := model.AnswerKindFor(q.Type)
	if !ok {
		return model.Response{}, idx, errs.New(errs.CodeInvalidInput, u.op, "question %s has unknown type %q", q.ID, q.Type)
	}
	if payload.Answer != nil && payload.Answer.Kind() != want {
		return model.Response{}, idx, (&errs.Error{
			Code: errs.CodeInvalidInput, Op: u.op,
			Msg: "question " + q.ID + " expects a " + string(want) + " answer, got " + string(payload.Answer.Kind()),
		}).WithEntity("response", "payload")
	}
	r, err := u.response(questionID)
	if err != nil {
		return model.Response{}, idx, err
	}
	r.Payload = payload
	u.score(&r, q, ref)
	return r, idx, nil
}

// score grades r in place. When scoring is unavailable the row is left
// unscored for finalize to retry.
func (u *unit) score(r *model.Response, q model.Question, ref model.QuestionRef) {
	res, err := u.svc.grader.Grade(u.ctx, grading.View(q, ref.Weight, u.def.Scoring), r.Payload.Answer)
	if err != nil {
		u.svc.log.WithError(err).WithFields(logrus.Fields{"session_id": u.sess.ID, "question_id": q.ID}).
			Warn("answer stored unscored")
		*r = clearScore(*r)
		return
	}
	res.Apply(r)
}

// RecordEvent appends a client event to the session log and re-runs the
// integrity monitor. Replaying an event id already stored is a no-op.
func (s *Service) RecordEvent(ctx context.Context, sessionID string, ev model.Event) (model.Event, error) {
	const op = "checkpoint.record_event"
	if !ev.Type.Valid() {
		return model.Event{}, (&errs.Error{Code: errs.CodeInvalidInput, Op: op, Msg: "unknown event type " + string(ev.Type)}).
			WithEntity("event", "type")
	}
	if ev.SessionID != "" && ev.SessionID != sessionID {
		return model.Event{}, (&errs.Error{Code: errs.CodeInvalidInput, Op: op, Msg: "event belongs to another session"}).
			WithEntity("event", "session_id")
	}
	if strings.TrimSpace(ev.ID) == "" {
		ev.ID = s.newID()
	}
	ev.SessionID = sessionID
	if ev.Source == "" {
		ev.Source = model.SourceClient
	}

	stored := ev
	_, err := s.mutate(ctx, op, sessionID, accessOnline, func(u *unit) error {
		if ev.Timestamp.IsZero() {
			ev.Timestamp = u.now
		}
		if u.sess.Status.Closed() {
			return errs.New(errs.CodeInvalidTransition, op, "session %s is %s", sessionID, u.sess.Status)
		}
		fresh, err := u.recordEvents([]model.Event{ev})
		if err != nil {
			return err
		}
		if len(fresh) == 0 {
			stored = u.storedEvent(ev.ID, ev)
			return nil
		}
		stored = fresh[0]
		switch ev.Type {
		case model.EventNetworkOffline:
			u.sess.IsOffline = true
		case model.EventNetworkOnline:
			u.sess.IsOffline = false
		}
		u.touch()
		return nil
	})
	if err != nil {
		return model.Event{}, err
	}
	return stored, nil
}

func (u *unit) storedEvent(id string, fallback model.Event) model.Event {
	for _, e := range u.allEvents {
		if e.ID == id {
			return e
		}
	}
	return fallback
}

// Heartbeat refreshes last activity without logging an event.
func (s *Service) Heartbeat(ctx context.Context, sessionID string) (model.Session, error) {
	const op = "checkpoint.heartbeat"
	return s.mutate(ctx, op, sessionID, accessOnline, func(u *unit) error {
		if !u.sess.Status.Live() && u.sess.Status != model.StatusInitializing {
			return errs.New(errs.CodeInvalidTransition, op, "session %s is %s", sessionID, u.sess.Status)
		}
		u.touch()
		return nil
	})
}

func clearScore(r model.Response) model.Response {
	r.PointsEarned, r.PartialCredit, r.IsCorrect = 0, 0, false
	r.ScoreConfidence, r.RequiresReview, r.Feedback = "", false, nil
	r.Scored = false
	return r
}
