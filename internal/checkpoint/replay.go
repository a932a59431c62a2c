package checkpoint

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// ReplayInput is an offline batch already validated and filtered by the sync
// worker. Responses listed here are applied unconditionally.
type ReplayInput struct {
	SessionID string
	ItemID    string
	DeviceID  string
	Current   bool // built on the current server copy, no staleness found
	Checksum  string
	Elapsed   *int // client clock, adopted when ahead of the server
	Submit    bool
	Abandon   bool
	Responses []model.ResponseSnapshot
	Events    []model.Event
}

// Snapshot returns the server copy of a session and its responses for
// conflict detection. It bypasses the sync gate.
func (s *Service) Snapshot(ctx context.Context, id string) (model.Session, []model.Response, error) {
	sess, err := s.mutate(ctx, "checkpoint.snapshot", id, accessSync, nil)
	if err != nil {
		return model.Session{}, nil, err
	}
	rs, err := s.store.ListResponses(ctx, id)
	if err != nil {
		return model.Session{}, nil, err
	}
	return sess, rs, nil
}

// ImportOffline creates a session the server has never seen, started on a
// device while offline. The client's session id is kept and itemID records
// the batch that created it. Identity attested by the device counts as
// verified.
func (s *Service) ImportOffline(ctx context.Context, itemID string, snap model.SessionSnapshot) (model.Session, error) {
	const op = "checkpoint.import_offline"
	if strings.TrimSpace(snap.ID) == "" || snap.CheckpointID == "" || snap.UserID == "" {
		return model.Session{}, (&errs.Error{Code: errs.CodeInvalidInput, Op: op, Msg: "snapshot needs id, checkpoint_id and user_id"}).
			WithEntity("session", "id")
	}
	release := s.locks.Lock("start:" + snap.CheckpointID + "/" + snap.UserID)
	defer release()

	def, err := s.defs.GetDefinition(ctx, snap.CheckpointID)
	if err != nil {
		return model.Session{}, err
	}
	sess, err := s.newSession(ctx, op, def, snap.UserID, snap.CommunityID, nil)
	if err != nil {
		return model.Session{}, err
	}
	sess.ID = snap.ID
	sess.StartedAt = cloneTime(snap.StartedAt)
	sess.IsOffline = true
	sess.ImportedFrom = itemID
	start := !def.RequireIdentity || snap.IdentityVerified
	return s.create(ctx, op, def, sess, start, nil)
}

// Replay applies an offline batch through the same paths as online calls:
// events feed the integrity monitor, responses are scored as they land, and
// time expiry and submission behave as if the device had been online.
func (s *Service) Replay(ctx context.Context, in ReplayInput) (model.Session, error) {
	const op = "checkpoint.replay"
	return s.mutate(ctx, op, in.SessionID, accessSync, func(u *unit) error {
		evs := make([]model.Event, 0, len(in.Events))
		for _, e := range in.Events {
			if !e.Type.Valid() {
				return (&errs.Error{Code: errs.CodeInvalidInput, Op: op, Msg: "unknown event type " + string(e.Type)}).
					WithEntity("event", "type")
			}
			if e.ID == "" {
				e.ID = s.newID()
			}
			e.SessionID = u.sess.ID
			e.Source = model.SourceSync
			if e.Timestamp.IsZero() {
				e.Timestamp = u.now
			}
			evs = append(evs, e)
		}
		if _, err := u.recordEvents(evs); err != nil {
			return err
		}

		if u.sess.Status.Live() {
			if in.Elapsed != nil {
				u.adoptElapsed(*in.Elapsed)
			}
			for _, snap := range in.Responses {
				if err := u.replayResponse(snap); err != nil {
					return err
				}
			}
			u.recount()
			u.advance()
		}
		switch {
		case in.Submit && u.sess.Status.Live():
			if err := u.submit(model.SubmitExplicit); err != nil {
				return err
			}
		case in.Abandon && u.sess.Status.Live():
			if err := u.abandon("abandoned offline"); err != nil {
				return err
			}
		}

		u.sess.SyncValidated = true
		u.sess.OfflineChecksum = in.Checksum
		u.sess.IsOffline = false
		u.sess.LastSyncItem = in.ItemID
		u.sess.LastSyncDevice = ""
		if in.Current {
			u.sess.LastSyncDevice = in.DeviceID
		}
		u.sess.LastSyncVersion = u.base + 1
		u.touch()
		s.log.WithFields(logrus.Fields{
			"session_id": u.sess.ID, "sync_item": in.ItemID, "events": len(evs),
			"responses": len(in.Responses), "status": u.sess.Status,
		}).Info("offline batch replayed")
		return nil
	})
}

// adoptElapsed takes the client's elapsed time when it is ahead of the
// server's, never beyond the limit.
func (u *unit) adoptElapsed(client int) {
	foldClock(&u.sess, u.now)
	e := max(u.sess.ElapsedSeconds, client)
	if l := u.sess.TimeLimitSeconds; l != nil && e > *l {
		e = *l
	}
	if e != u.sess.ElapsedSeconds {
		u.sess.ElapsedSeconds = e
		u.dirty = true
	}
}

func (u *unit) replayResponse(snap model.ResponseSnapshot) error {
	if snap.Payload.IsZero() {
		if _, _, _, err := u.question(snap.QuestionID); err != nil {
			return err
		}
		r, err := u.response(snap.QuestionID)
		if err != nil {
			return err
		}
		if !r.Payload.IsZero() {
			return nil
		}
		switch snap.Status {
		case model.ResponseSkipped:
			r.Status = model.ResponseSkipped
		case model.ResponseViewed:
			if r.Status == model.ResponseNotViewed {
				r.Status = model.ResponseViewed
			}
		default:
			return nil
		}
		r.Synced = true
		u.putResponse(r)
		return nil
	}

	r, _, err := u.answer(snap.QuestionID, snap.Payload)
	if err != nil {
		return err
	}
	r.Status = model.ResponseAnswered
	if snap.Status == model.ResponseFlagged {
		r.Status = model.ResponseFlagged
	}
	at := snap.AnswerTime()
	if at.IsZero() {
		at = u.now
	}
	r.AnsweredAt = timePtr(at)
	r.OfflineAnsweredAt = timePtr(at)
	if r.ViewedAt == nil {
		r.ViewedAt = timePtr(at)
	}
	r.TimeSpentSeconds = max(r.TimeSpentSeconds, snap.TimeSpentSeconds)
	r.Synced = true
	r.Checksum = snap.Checksum
	u.putResponse(r)
	return nil
}

// Resolution applies the outcome of a conflict decided after the batch was
// processed. Expected is the server version recorded for the conflict (the
// response version, or the session version the batch left); a server copy
// that moved since then is reported as SYNC_CONFLICT. A session value that
// was handed in submits the session.
type Resolution struct {
	SessionID  string
	Entity     model.ConflictEntity
	QuestionID string
	Value      model.ConflictVersion
	Expected   int64
	Actor      string
	Reason     string
}

func (s *Service) ApplyResolution(ctx context.Context, res Resolution) (model.Session, error) {
	const op = "checkpoint.apply_resolution"
	return s.mutate(ctx, op, res.SessionID, accessSync, func(u *unit) error {
		if !u.sess.Status.Live() {
			return errs.New(errs.CodeInvalidTransition, op, "session %s is %s", u.sess.ID, u.sess.Status)
		}
		switch res.Entity {
		case model.EntitySession:
			if u.sess.Version != res.Expected {
				return (&errs.Error{
					Code: errs.CodeSyncConflict, Op: op,
					Msg: fmt.Sprintf("session %s moved to version %d since detection at %d", u.sess.ID, u.sess.Version, res.Expected),
				}).WithEntity("session", "version")
			}
			before := fmt.Sprintf("status=%s elapsed=%d", u.sess.Status, u.sess.ElapsedSeconds)
			u.adoptElapsed(res.Value.ElapsedSeconds)
			u.advance()
			if res.Value.Status.HandedIn() && u.sess.Status.Live() {
				if err := u.submit(model.SubmitExplicit); err != nil {
					return err
				}
			}
			u.audit = append(u.audit, model.AuditEntry{
				ID: s.newID(), SessionID: u.sess.ID, Actor: res.Actor, Action: "sync_resolution",
				Before: before, After: fmt.Sprintf("status=%s elapsed=%d", u.sess.Status, u.sess.ElapsedSeconds),
				Reason: res.Reason, CreatedAt: u.now,
			})
			u.touch()
			return nil
		case model.EntityResponse:
			cur, err := u.response(res.QuestionID)
			if err != nil {
				return err
			}
			if cur.Version != res.Expected {
				return (&errs.Error{
					Code: errs.CodeSyncConflict, Op: op,
					Msg: fmt.Sprintf("response %s moved to version %d since detection at %d", res.QuestionID, cur.Version, res.Expected),
				}).WithEntity("response", "version")
			}
			snap := model.ResponseSnapshot{
				QuestionID:        res.QuestionID,
				Payload:           res.Value.Payload,
				Status:            res.Value.ResponseStatus,
				OfflineAnsweredAt: cloneTime(res.Value.AnsweredAt),
			}
			if err := u.replayResponse(snap); err != nil {
				return err
			}
			u.recount()
			u.audit = append(u.audit, model.AuditEntry{
				ID: s.newID(), SessionID: u.sess.ID, QuestionID: res.QuestionID, Actor: res.Actor,
				Action: "sync_resolution", Before: payloadString(cur.Payload), After: payloadString(res.Value.Payload),
				Reason: res.Reason, CreatedAt: u.now,
			})
			u.touch()
			return nil
		}
		return errs.New(errs.CodeInvalidInput, op, "unknown conflict entity %q", res.Entity)
	})
}

func payloadString(p model.Payload) string {
	b, err := p.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}
