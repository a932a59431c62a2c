// Package checkpoint runs checkpoint sessions: the lifecycle state machine,
// response capture and scoring, break and pause handling, lazy expiry and the
// replay entry points used by offline sync.
package checkpoint

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/grading"
	"github.com/mind-engage/mindengage-checkpoint/internal/integrity"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// Lifecycle notification types published to the outbox.
const (
	NoteSessionStarted   = "SessionStarted"
	NoteSessionSubmitted = "SessionSubmitted"
	NoteSessionTimedOut  = "SessionTimedOut"
	NoteSessionScored    = "SessionScored"
	NoteSessionCompleted = "SessionCompleted"
	NoteSessionFlagged   = "SessionFlaggedForReview"
	NoteSessionReviewed  = "SessionReviewed"
	NoteSessionAbandoned = "SessionAbandoned"
	NoteIntegrityFlagged = "IntegrityFlagged"
)

type Option func(*Service)

func WithProfiles(p ProfileStore) Option      { return func(s *Service) { s.profiles = p } }
func WithIdentity(v IdentityVerifier) Option  { return func(s *Service) { s.identity = v } }
func WithGrader(g grading.Grader) Option      { return func(s *Service) { s.grader = g } }
func WithPublisher(p Publisher) Option        { return func(s *Service) { s.pub = p } }
func WithSyncGate(g SyncGate) Option          { return func(s *Service) { s.gate = g } }
func WithLogger(l logrus.FieldLogger) Option  { return func(s *Service) { s.log = l } }
func WithClock(c func() time.Time) Option     { return func(s *Service) { s.clock = c } }
func WithIDs(f func() string) Option          { return func(s *Service) { s.newID = f } }
func WithCASRetries(n int) Option             { return func(s *Service) { s.casRetries = n } }
func WithIdleTimeout(d time.Duration) Option  { return func(s *Service) { s.idleTimeout = d } }
func WithOfflineGrace(d time.Duration) Option { return func(s *Service) { s.offlineGrace = d } }

// Service executes checkpoint sessions. All mutations of one session are
// serialized by a per-session lock and guarded by a version check in the
// store; a lost race is retried from a fresh read.
type Service struct {
	store    Store
	defs     DefinitionStore
	bank     QuestionBank
	profiles ProfileStore
	identity IdentityVerifier
	grader   grading.Grader
	pub      Publisher
	gate     SyncGate
	log      logrus.FieldLogger
	clock    func() time.Time
	newID    func() string

	casRetries   int
	idleTimeout  time.Duration
	offlineGrace time.Duration

	locks *keyedMutex
}

func NewService(store Store, defs DefinitionStore, bank QuestionBank, opts ...Option) *Service {
	s := &Service{
		store:        store,
		defs:         defs,
		bank:         bank,
		grader:       grading.NewDefaultGrader(),
		log:          logrus.StandardLogger(),
		clock:        time.Now,
		newID:        uuid.NewString,
		casRetries:   3,
		idleTimeout:  30 * time.Minute,
		offlineGrace: 24 * time.Hour,
		locks:        newKeyedMutex(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) now() time.Time { return s.clock().UTC() }

// access selects how a unit of work treats queued offline batches.
type access int

const (
	accessRead   access = iota // lazy expiry only
	accessOnline               // rejected while offline batches are queued
	accessSync                 // the sync worker itself
)

type note struct {
	typ     string
	payload any
}

// unit is one read-modify-write of a session aggregate.
type unit struct {
	svc  *Service
	ctx  context.Context
	op   string
	now  time.Time
	sess model.Session
	def  model.Definition
	base int64

	resp      map[string]model.Response
	dirtyResp map[string]bool
	questions map[string]model.Question
	allEvents []model.Event
	loadedEvs bool

	events []model.Event
	audit  []model.AuditEntry
	notes  []note
	dirty  bool
	after  error // reported to the caller once the write has landed
}

func (s *Service) load(ctx context.Context, op, id string) (*unit, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	def, err := s.defs.GetDefinition(ctx, sess.CheckpointID)
	if err != nil {
		return nil, err
	}
	return &unit{
		svc:       s,
		ctx:       ctx,
		op:        op,
		now:       s.now(),
		sess:      sess,
		def:       def,
		base:      sess.Version,
		dirtyResp: map[string]bool{},
	}, nil
}

// mutate loads session id, applies lazy expiry, runs fn and commits the
// result if anything changed. fn may be nil for reads.
func (s *Service) mutate(ctx context.Context, op, id string, mode access, fn func(u *unit) error) (model.Session, error) {
	release := s.locks.Lock(id)
	defer release()

	if mode == accessOnline && s.gate != nil {
		pending, err := s.gate.HasPending(ctx, id)
		if err != nil {
			return model.Session{}, err
		}
		if pending {
			return model.Session{}, errs.New(errs.CodeStaleWrite, op, "session %s has offline batches awaiting sync", id)
		}
	}

	for attempt := 0; ; attempt++ {
		u, err := s.load(ctx, op, id)
		if err != nil {
			return model.Session{}, err
		}
		if u.advance() {
			if err := s.commit(u); err != nil {
				if errs.Is(err, errs.CodeStaleWrite) && attempt < s.casRetries {
					continue
				}
				return model.Session{}, err
			}
			if u, err = s.load(ctx, op, id); err != nil {
				return model.Session{}, err
			}
		}
		if fn == nil {
			return u.sess, nil
		}
		if err := fn(u); err != nil {
			return model.Session{}, err
		}
		if !u.dirty {
			return u.sess, u.after
		}
		if err := s.commit(u); err != nil {
			if errs.Is(err, errs.CodeStaleWrite) && attempt < s.casRetries {
				s.log.WithFields(logrus.Fields{"session_id": id, "op": op, "attempt": attempt + 1}).
					Debug("version race, retrying")
				continue
			}
			return model.Session{}, err
		}
		return u.sess, u.after
	}
}

func (s *Service) commit(u *unit) error {
	u.sess.Version = u.base + 1
	u.sess.UpdatedAt = u.now
	w := Write{Session: u.sess, Expected: u.base, Events: u.events, Audit: u.audit}
	keys := make([]string, 0, len(u.dirtyResp))
	for k := range u.dirtyResp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r := u.resp[k]
		r.Version++
		r.UpdatedAt = u.now
		u.resp[k] = r
		w.Responses = append(w.Responses, r)
	}
	if err := s.store.Commit(u.ctx, w); err != nil {
		u.sess.Version = u.base
		return err
	}
	u.base = u.sess.Version
	s.publish(u)
	return nil
}

// publish forwards notes to the outbox. Delivery is best effort: the session
// write has already landed and consumers reconcile from the store.
func (s *Service) publish(u *unit) {
	if s.pub == nil {
		return
	}
	for _, n := range u.notes {
		if err := s.pub.Publish(u.ctx, n.typ, u.sess.ID, n.payload); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"session_id": u.sess.ID, "type": n.typ}).
				Warn("outbox publish failed")
		}
	}
	u.notes = nil
}

/* ---------------- unit helpers ---------------- */

func (u *unit) notify(typ string) {
	u.notes = append(u.notes, note{typ: typ, payload: model.SummaryOf(u.sess)})
}

func (u *unit) touch() {
	u.sess.LastActivityAt = timePtr(u.now)
	u.dirty = true
}

// advance applies lazy expiry and, when the session just timed out, scores
// whatever was answered.
func (u *unit) advance() bool {
	if !Advance(&u.sess, u.now) {
		return false
	}
	u.dirty = true
	if u.sess.Status == model.StatusTimedOut {
		u.svc.log.WithFields(logrus.Fields{"session_id": u.sess.ID, "elapsed": u.sess.ElapsedSeconds}).
			Info("session time expired")
		_ = u.serverEvent(model.EventSessionTimedOut, model.EventData{})
		u.notify(NoteSessionTimedOut)
		u.finalize()
	}
	return true
}

func (u *unit) responses() (map[string]model.Response, error) {
	if u.resp != nil {
		return u.resp, nil
	}
	rs, err := u.svc.store.ListResponses(u.ctx, u.sess.ID)
	if err != nil {
		return nil, err
	}
	u.resp = make(map[string]model.Response, len(rs))
	for _, r := range rs {
		u.resp[r.QuestionID] = r
	}
	return u.resp, nil
}

func (u *unit) putResponse(r model.Response) {
	u.resp[r.QuestionID] = r
	u.dirtyResp[r.QuestionID] = true
	u.dirty = true
}

func (u *unit) bankQuestions() (map[string]model.Question, error) {
	if u.questions != nil {
		return u.questions, nil
	}
	ids := make([]string, 0, len(u.def.Questions))
	for _, q := range u.def.Questions {
		ids = append(ids, q.QuestionID)
	}
	qs, err := u.svc.bank.GetQuestions(u.ctx, ids)
	if err != nil {
		return nil, err
	}
	u.questions = qs
	return qs, nil
}

// question resolves a question of this checkpoint and its position.
func (u *unit) question(id string) (model.Question, model.QuestionRef, int, error) {
	for i, ref := range u.def.Questions {
		if ref.QuestionID != id {
			continue
		}
		qs, err := u.bankQuestions()
		if err != nil {
			return model.Question{}, ref, i, err
		}
		q, ok := qs[id]
		if !ok {
			return model.Question{}, ref, i, errs.New(errs.CodeNotFound, u.op, "question %s missing from bank", id)
		}
		return q, ref, i, nil
	}
	return model.Question{}, model.QuestionRef{}, -1, (&errs.Error{
		Code: errs.CodeNotFound, Op: u.op,
		Msg: "question " + id + " is not part of checkpoint " + u.def.ID,
	}).WithEntity("response", "question_id")
}

// recount derives progress counters from the response rows.
func (u *unit) recount() {
	answered, skipped := 0, 0
	for _, r := range u.resp {
		switch {
		case r.Status == model.ResponseSkipped:
			skipped++
		case !r.Payload.IsZero():
			answered++
		}
	}
	u.sess.QuestionsAnswered = answered
	u.sess.QuestionsSkipped = skipped
}

func (u *unit) loadEvents() ([]model.Event, error) {
	if u.loadedEvs {
		return u.allEvents, nil
	}
	evs, err := u.svc.store.ListEvents(u.ctx, u.sess.ID)
	if err != nil {
		return nil, err
	}
	u.allEvents, u.loadedEvs = evs, true
	return evs, nil
}

// recordEvents appends events not seen before and re-evaluates integrity
// over the full log. It returns the stored (annotated) copies.
func (u *unit) recordEvents(evs []model.Event) ([]model.Event, error) {
	existing, err := u.loadEvents()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing)+len(evs))
	for _, e := range existing {
		seen[e.ID] = true
	}
	var fresh []model.Event
	for _, e := range evs {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	all := append(append([]model.Event(nil), existing...), fresh...)
	model.SortEvents(all)
	rep := integrity.Analyze(all, integrity.Effective(u.def.Integrity))
	fresh = integrity.Annotate(fresh, rep)
	u.allEvents = all
	u.events = append(u.events, fresh...)
	u.dirty = true

	if rep.Flagged {
		was := u.sess.IntegrityFlagged
		u.sess.IntegrityFlagged = true
		u.sess.IntegrityFlags = mergeFlags(u.sess.IntegrityFlags, rep.Flags)
		if !was {
			u.svc.log.WithFields(logrus.Fields{"session_id": u.sess.ID, "flags": u.sess.IntegrityFlags}).
				Warn("session integrity flagged")
			u.notify(NoteIntegrityFlagged)
		}
	}
	return fresh, nil
}

func (u *unit) serverEvent(typ model.EventType, data model.EventData) error {
	_, err := u.recordEvents([]model.Event{{
		ID:        u.svc.newID(),
		SessionID: u.sess.ID,
		Type:      typ,
		Data:      data,
		Timestamp: u.now,
		Source:    model.SourceServer,
	}})
	return err
}

func mergeFlags(a, b []string) []string {
	set := map[string]bool{}
	for _, f := range a {
		set[f] = true
	}
	for _, f := range b {
		set[f] = true
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
