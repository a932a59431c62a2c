package checkpoint

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mind-engage/mindengage-checkpoint/internal/accommodation"
	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/grading"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// StartInput opens a session for a learner.
type StartInput struct {
	CheckpointID   string                  `json:"checkpoint_id"`
	UserID         string                  `json:"user_id"`
	CommunityID    string                  `json:"community_id,omitempty"`
	Accommodations *accommodation.Request `json:"accommodations,omitempty"`
	IdentityProof  string                  `json:"identity_proof,omitempty"`
}

var liveStatuses = []model.Status{
	model.StatusInitializing, model.StatusInProgress, model.StatusPaused, model.StatusOnBreak,
}

// StartSession creates the next attempt for in.UserID, or returns the
// learner's session that is still open. Accommodations are resolved once here
// and frozen on the session. When the checkpoint requires identity and no
// valid proof was given the session stays initializing until Begin.
func (s *Service) StartSession(ctx context.Context, in StartInput) (model.Session, error) {
	const op = "checkpoint.start"
	if strings.TrimSpace(in.CheckpointID) == "" || strings.TrimSpace(in.UserID) == "" {
		return model.Session{}, errs.New(errs.CodeInvalidInput, op, "checkpoint_id and user_id are required")
	}
	release := s.locks.Lock("start:" + in.CheckpointID + "/" + in.UserID)
	defer release()

	def, err := s.defs.GetDefinition(ctx, in.CheckpointID)
	if err != nil {
		return model.Session{}, err
	}
	open, err := s.store.ListSessions(ctx, ListOpts{Statuses: liveStatuses, CheckpointID: in.CheckpointID, UserID: in.UserID, Limit: 1})
	if err != nil {
		return model.Session{}, err
	}
	if len(open) > 0 {
		return s.GetSession(ctx, open[0].ID)
	}

	sess, err := s.newSession(ctx, op, def, in.UserID, in.CommunityID, in.Accommodations)
	if err != nil {
		return model.Session{}, err
	}
	sess.ID = s.newID()

	verified, err := s.verifyIdentity(ctx, def, in.UserID, in.IdentityProof)
	if err != nil {
		return model.Session{}, err
	}
	return s.create(ctx, op, def, sess, verified, nil)
}

// newSession resolves accommodations and attempt limits for a fresh session.
func (s *Service) newSession(ctx context.Context, op string, def model.Definition, userID, communityID string, req *accommodation.Request) (model.Session, error) {
	n, err := s.store.CountAttempts(ctx, def.ID, userID)
	if err != nil {
		return model.Session{}, err
	}
	if def.MaxAttempts > 0 && n >= def.MaxAttempts {
		return model.Session{}, errs.New(errs.CodeAttemptsExhausted, op, "user %s used %d of %d attempts", userID, n, def.MaxAttempts)
	}

	var profile accommodation.Profile
	if s.profiles != nil {
		p, err := s.profiles.GetProfile(ctx, userID)
		switch {
		case err == nil:
			profile = p
		case !errs.Is(err, errs.CodeNotFound):
			return model.Session{}, err
		}
	}
	res, err := accommodation.Resolve(def, profile, req)
	if err != nil {
		return model.Session{}, err
	}

	now := s.now()
	if communityID == "" {
		communityID = def.CommunityID
	}
	return model.Session{
		CheckpointID:     def.ID,
		UserID:           userID,
		CommunityID:      communityID,
		AttemptNumber:    n + 1,
		Status:           model.StatusInitializing,
		TimeLimitSeconds: res.TimeLimitSeconds,
		TimeMultiplier:   res.Multiplier,
		Breaks:           res.Breaks,
		Formats:          res.Formats,
		QuestionsTotal:   len(def.Questions),
		LastActivityAt:   timePtr(now),
		CreatedAt:        now,
	}, nil
}

// create persists a new session with one not_viewed response per question,
// moving it straight to in_progress when start is true.
func (s *Service) create(ctx context.Context, op string, def model.Definition, sess model.Session, start bool, seed func(u *unit) error) (model.Session, error) {
	release := s.locks.Lock(sess.ID)
	defer release()

	u := &unit{
		svc:       s,
		ctx:       ctx,
		op:        op,
		now:       s.now(),
		sess:      sess,
		def:       def,
		resp:      map[string]model.Response{},
		dirtyResp: map[string]bool{},
		loadedEvs: true,
	}
	for _, ref := range def.Questions {
		u.putResponse(model.Response{SessionID: sess.ID, QuestionID: ref.QuestionID, Status: model.ResponseNotViewed})
	}
	if start {
		if err := u.begin(); err != nil {
			return model.Session{}, err
		}
	}
	if seed != nil {
		if err := seed(u); err != nil {
			return model.Session{}, err
		}
	}
	if err := s.commit(u); err != nil {
		return model.Session{}, err
	}
	s.log.WithFields(logrus.Fields{
		"session_id": u.sess.ID, "checkpoint_id": def.ID, "user_id": sess.UserID,
		"attempt": sess.AttemptNumber, "status": u.sess.Status,
	}).Info("session created")
	return u.sess, nil
}

func (s *Service) verifyIdentity(ctx context.Context, def model.Definition, userID, proof string) (bool, error) {
	if !def.RequireIdentity {
		return true, nil
	}
	if s.identity == nil || proof == "" {
		return false, nil
	}
	return s.identity.Verify(ctx, userID, proof)
}

func (u *unit) begin() error {
	if err := transition(u.op, &u.sess, model.StatusInProgress, u.now); err != nil {
		return err
	}
	u.touch()
	u.notify(NoteSessionStarted)
	return u.serverEvent(model.EventSessionStarted, model.EventData{})
}

// Begin verifies identity for a session left initializing and starts it.
func (s *Service) Begin(ctx context.Context, id, proof string) (model.Session, error) {
	const op = "checkpoint.begin"
	return s.mutate(ctx, op, id, accessOnline, func(u *unit) error {
		if u.sess.Status != model.StatusInitializing {
			return invalidTransition(op, u.sess.Status, model.StatusInProgress)
		}
		ok, err := s.verifyIdentity(ctx, u.def, u.sess.UserID, proof)
		if err != nil {
			return err
		}
		if !ok {
			return (&errs.Error{Code: errs.CodeIdentityRequired, Op: op, Msg: "identity verification failed"}).
				WithEntity("session", "identity_proof")
		}
		return u.begin()
	})
}

// Pause stops the learner's interaction. Paused time still counts toward the
// limit; an active break is ended first.
func (s *Service) Pause(ctx context.Context, id string) (model.Session, error) {
	const op = "checkpoint.pause"
	return s.mutate(ctx, op, id, accessOnline, func(u *unit) error {
		if !u.def.AllowPause {
			return errs.New(errs.CodeInvalidTransition, op, "checkpoint %s does not allow pausing", u.def.ID)
		}
		if u.sess.Status == model.StatusOnBreak {
			endBreak(&u.sess, u.now)
		}
		if err := transition(op, &u.sess, model.StatusPaused, u.now); err != nil {
			return err
		}
		u.touch()
		return u.serverEvent(model.EventSessionPaused, model.EventData{})
	})
}

// Resume returns a paused session, or one on break, to in_progress.
func (s *Service) Resume(ctx context.Context, id string) (model.Session, error) {
	const op = "checkpoint.resume"
	return s.mutate(ctx, op, id, accessOnline, func(u *unit) error {
		typ := model.EventSessionResumed
		if u.sess.Status == model.StatusOnBreak {
			endBreak(&u.sess, u.now)
			typ = model.EventBreakEnded
		}
		if err := transition(op, &u.sess, model.StatusInProgress, u.now); err != nil {
			return err
		}
		u.touch()
		return u.serverEvent(typ, model.EventData{})
	})
}

// StartBreak stops the session clock under the learner's break allowance.
func (s *Service) StartBreak(ctx context.Context, id string) (model.Session, error) {
	const op = "checkpoint.start_break"
	return s.mutate(ctx, op, id, accessOnline, func(u *unit) error {
		if !u.sess.Breaks.Allowed {
			return (&errs.Error{Code: errs.CodeAccommodationNotApproved, Op: op, Msg: "breaks are not approved for this session"}).
				WithEntity("accommodation", "breaks")
		}
		if m := u.sess.Breaks.MaxBreaks; m > 0 && u.sess.BreaksTaken >= m {
			return errs.New(errs.CodeInvalidTransition, op, "all %d breaks used", m)
		}
		if err := transition(op, &u.sess, model.StatusOnBreak, u.now); err != nil {
			return err
		}
		beginBreak(&u.sess, u.now)
		u.touch()
		return u.serverEvent(model.EventBreakStarted, model.EventData{})
	})
}

// EndBreak restarts the clock. Time past the per-break cap has already been
// charged to the session by lazy expiry.
func (s *Service) EndBreak(ctx context.Context, id string) (model.Session, error) {
	const op = "checkpoint.end_break"
	return s.mutate(ctx, op, id, accessOnline, func(u *unit) error {
		if u.sess.Status != model.StatusOnBreak {
			return invalidTransition(op, u.sess.Status, model.StatusInProgress)
		}
		endBreak(&u.sess, u.now)
		if err := transition(op, &u.sess, model.StatusInProgress, u.now); err != nil {
			return err
		}
		u.touch()
		return u.serverEvent(model.EventBreakEnded, model.EventData{})
	})
}

// SubmitSession closes the session and scores it. Submitting an already
// scored session returns the stored summary without re-scoring. When scoring
// is unavailable the session stays submitted and SCORING_UNAVAILABLE is
// returned; a later submit or sweep retries scoring.
func (s *Service) SubmitSession(ctx context.Context, id string) (model.Summary, error) {
	const op = "checkpoint.submit"
	sess, err := s.mutate(ctx, op, id, accessOnline, func(u *unit) error {
		return u.submit(model.SubmitExplicit)
	})
	if err != nil && sess.ID == "" {
		return model.Summary{}, err
	}
	return model.SummaryOf(sess), err
}

func (u *unit) submit(reason model.SubmitReason) error {
	switch st := u.sess.Status; {
	case st.Live():
		if st == model.StatusOnBreak {
			endBreak(&u.sess, u.now)
		}
		if st != model.StatusInProgress {
			if err := transition(u.op, &u.sess, model.StatusInProgress, u.now); err != nil {
				return err
			}
		}
		if err := transition(u.op, &u.sess, model.StatusSubmitted, u.now); err != nil {
			return err
		}
		u.sess.SubmitReason = reason
		u.sess.SubmittedAt = timePtr(u.now)
		u.touch()
		if err := u.serverEvent(model.EventSessionSubmit, model.EventData{Detail: string(reason)}); err != nil {
			return err
		}
		u.notify(NoteSessionSubmitted)
		u.finalize()
		return nil
	case st.AwaitingScore():
		u.finalize()
		return nil
	case st == model.StatusScored, st == model.StatusCompleted,
		st == model.StatusFlaggedForReview, st == model.StatusReviewed:
		return nil
	default:
		return invalidTransition(u.op, st, model.StatusSubmitted)
	}
}

// finalize scores a submitted or timed-out session and routes it to
// completed or flagged_for_review. A scoring failure leaves the session
// where it is and is reported through u.after.
func (u *unit) finalize() {
	if !u.sess.Status.AwaitingScore() {
		return
	}
	totals, err := u.scoreAll()
	if err != nil {
		u.svc.log.WithError(err).WithField("session_id", u.sess.ID).Warn("scoring unavailable, session left unscored")
		u.after = err
		return
	}
	u.sess.Score = totals.Score
	u.sess.MaxScore = totals.MaxScore
	u.sess.ScorePercentage = totals.Percentage
	u.sess.Grade = totals.Grade
	u.sess.RequiresReview = totals.RequiresReview
	u.sess.ScoredAt = timePtr(u.now)
	u.dirty = true

	if u.sess.IntegrityFlagged || totals.RequiresReview {
		_ = transition(u.op, &u.sess, model.StatusFlaggedForReview, u.now)
		u.notify(NoteSessionFlagged)
		return
	}
	_ = transition(u.op, &u.sess, model.StatusScored, u.now)
	u.notify(NoteSessionScored)
	_ = transition(u.op, &u.sess, model.StatusCompleted, u.now)
	u.sess.CompletedAt = timePtr(u.now)
	u.notify(NoteSessionCompleted)
	u.svc.log.WithFields(logrus.Fields{
		"session_id": u.sess.ID, "score": u.sess.Score, "max": u.sess.MaxScore, "grade": u.sess.Grade,
	}).Info("session completed")
}

// scoreAll grades every question of the checkpoint. Reviewer overrides are
// kept as they are.
func (u *unit) scoreAll() (grading.Totals, error) {
	resp, err := u.responses()
	if err != nil {
		return grading.Totals{}, err
	}
	qs, err := u.bankQuestions()
	if err != nil {
		return grading.Totals{}, errs.Wrap(errs.CodeScoringUnavailable, u.op, err)
	}
	graded := make(map[string]model.Response, len(u.def.Questions))
	for _, ref := range u.def.Questions {
		r, ok := resp[ref.QuestionID]
		if !ok {
			r = model.Response{SessionID: u.sess.ID, QuestionID: ref.QuestionID, Status: model.ResponseNotViewed}
		}
		if r.OverriddenBy == "" {
			q, ok := qs[ref.QuestionID]
			if !ok {
				return grading.Totals{}, errs.New(errs.CodeScoringUnavailable, u.op, "question %s missing from bank", ref.QuestionID)
			}
			res, err := u.svc.grader.Grade(u.ctx, grading.View(q, ref.Weight, u.def.Scoring), r.Payload.Answer)
			if err != nil {
				return grading.Totals{}, err
			}
			res.Apply(&r)
		}
		graded[ref.QuestionID] = r
	}
	// write only once every question graded
	list := make([]model.Response, 0, len(graded))
	for _, ref := range u.def.Questions {
		r := graded[ref.QuestionID]
		u.putResponse(r)
		list = append(list, r)
	}
	return grading.Summarize(list, u.def.Thresholds), nil
}

// Abandon ends a session without scoring. It is a no-op on sessions that
// already reached a final state.
func (s *Service) Abandon(ctx context.Context, id, reason string) (model.Session, error) {
	const op = "checkpoint.abandon"
	return s.mutate(ctx, op, id, accessOnline, func(u *unit) error {
		return u.abandon(reason)
	})
}

func (u *unit) abandon(reason string) error {
	if u.sess.Status.Final() {
		return nil
	}
	if u.sess.Status == model.StatusOnBreak {
		endBreak(&u.sess, u.now)
	}
	if err := transition(u.op, &u.sess, model.StatusAbandoned, u.now); err != nil {
		return err
	}
	u.sess.CompletedAt = timePtr(u.now)
	u.dirty = true
	u.svc.log.WithFields(logrus.Fields{"session_id": u.sess.ID, "reason": reason}).Info("session abandoned")
	u.notes = append(u.notes, note{typ: NoteSessionAbandoned, payload: map[string]string{"session_id": u.sess.ID, "reason": reason}})
	return nil
}

// GetSession returns the session after applying lazy expiry.
func (s *Service) GetSession(ctx context.Context, id string) (model.Session, error) {
	return s.mutate(ctx, "checkpoint.get", id, accessRead, nil)
}

// Summary returns the scoring summary of a session.
func (s *Service) Summary(ctx context.Context, id string) (model.Summary, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return model.Summary{}, err
	}
	return model.SummaryOf(sess), nil
}

// Responses returns the response rows of a session.
func (s *Service) Responses(ctx context.Context, id string) ([]model.Response, error) {
	if _, err := s.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListResponses(ctx, id)
}

// Events returns the session's event log in analysis order.
func (s *Service) Events(ctx context.Context, id string) ([]model.Event, error) {
	if _, err := s.store.GetSession(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}
