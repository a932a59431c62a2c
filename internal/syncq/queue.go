// Package syncq is the offline sync queue: devices upload batches captured
// while offline, workers verify and replay them through the session service
// one session at a time, and disagreements with the server copy become
// conflicts that are resolved automatically or by a person.
package syncq

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mind-engage/mindengage-checkpoint/internal/checkpoint"
	"github.com/mind-engage/mindengage-checkpoint/internal/checksum"
	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// Notification types published for sync outcomes.
const (
	NoteConflictDetected = "SyncConflictDetected"
	NoteBatchFailed      = "SyncBatchFailed"
)

// Replayer is the slice of the session service the queue drives.
type Replayer interface {
	Snapshot(ctx context.Context, id string) (model.Session, []model.Response, error)
	ImportOffline(ctx context.Context, itemID string, snap model.SessionSnapshot) (model.Session, error)
	Replay(ctx context.Context, in checkpoint.ReplayInput) (model.Session, error)
	ApplyResolution(ctx context.Context, res checkpoint.Resolution) (model.Session, error)
}

type Option func(*Queue)

func WithPublisher(p checkpoint.Publisher) Option { return func(q *Queue) { q.pub = p } }
func WithLogger(l logrus.FieldLogger) Option      { return func(q *Queue) { q.log = l } }
func WithAlgorithm(a checksum.Algorithm) Option   { return func(q *Queue) { q.alg = a } }
func WithStrategies(s Strategies) Option          { return func(q *Queue) { q.strategies = s } }
func WithBackoff(b Backoff) Option                { return func(q *Queue) { q.backoff = b } }
func WithMaxRetries(n int) Option                 { return func(q *Queue) { q.maxRetries = n } }
func WithClock(c func() time.Time) Option         { return func(q *Queue) { q.clock = c } }
func WithIDs(f func() string) Option              { return func(q *Queue) { q.newID = f } }

type Queue struct {
	store      Store
	svc        Replayer
	pub        checkpoint.Publisher
	log        logrus.FieldLogger
	alg        checksum.Algorithm
	strategies Strategies
	backoff    Backoff
	maxRetries int
	clock      func() time.Time
	newID      func() string

	wake chan struct{}
}

func New(store Store, svc Replayer, opts ...Option) *Queue {
	q := &Queue{
		store:      store,
		svc:        svc,
		log:        logrus.StandardLogger(),
		alg:        checksum.SHA256,
		strategies: DefaultStrategies,
		backoff:    DefaultBackoff,
		maxRetries: 3,
		clock:      time.Now,
		newID:      uuid.NewString,
		wake:       make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(q)
	}
	q.log = q.log.WithField("component", "syncq")
	return q
}

func (q *Queue) now() time.Time { return q.clock().UTC() }

// Wake is signalled whenever new work may be available.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

/* --------------------------------- enqueue -------------------------------- */

// Batch is an offline upload as the device sends it. ID is optional and makes
// resubmission of the same upload idempotent.
type Batch struct {
	ID              string                   `json:"id,omitempty"`
	DeviceID        string                   `json:"device_id"`
	Session         model.SessionSnapshot    `json:"session"`
	Responses       []model.ResponseSnapshot `json:"responses"`
	Events          []model.Event            `json:"events"`
	Checksum        string                   `json:"checksum"`
	ClientTimestamp time.Time                `json:"client_timestamp"`
}

func invalid(op, entity, field, msg string) error {
	return (&errs.Error{Code: errs.CodeInvalidInput, Op: op, Msg: msg}).WithEntity(entity, field)
}

func validateBatch(op string, b Batch) error {
	switch {
	case strings.TrimSpace(b.DeviceID) == "":
		return invalid(op, "batch", "device_id", "device id is required")
	case strings.TrimSpace(b.Session.ID) == "":
		return invalid(op, "session", "id", "session id is required")
	case b.Session.CheckpointID == "" || b.Session.UserID == "":
		return invalid(op, "session", "checkpoint_id", "session snapshot needs checkpoint_id and user_id")
	case strings.TrimSpace(b.Checksum) == "":
		return invalid(op, "batch", "checksum", "checksum is required")
	case b.ClientTimestamp.IsZero():
		return invalid(op, "batch", "client_timestamp", "client timestamp is required")
	}
	seen := map[string]bool{}
	for _, r := range b.Responses {
		if r.QuestionID == "" {
			return invalid(op, "response", "question_id", "response without question id")
		}
		if seen[r.QuestionID] {
			return invalid(op, "response", "question_id", "duplicate response for "+r.QuestionID)
		}
		seen[r.QuestionID] = true
	}
	for _, e := range b.Events {
		if !e.Type.Valid() {
			return invalid(op, "event", "type", "unknown event type "+string(e.Type))
		}
		if e.SessionID != "" && e.SessionID != b.Session.ID {
			return invalid(op, "event", "session_id", "event "+e.ID+" belongs to another session")
		}
	}
	return nil
}

// Enqueue stores an offline batch. A batch whose checksum does not match its
// content is stored as invalid and returned together with CHECKSUM_MISMATCH;
// it is never replayed.
func (q *Queue) Enqueue(ctx context.Context, b Batch) (model.SyncItem, error) {
	const op = "syncq.enqueue"
	if err := validateBatch(op, b); err != nil {
		return model.SyncItem{}, err
	}
	if b.ID != "" {
		existing, err := q.store.GetItem(ctx, b.ID)
		switch {
		case err == nil:
			if existing.SessionID != b.Session.ID {
				return model.SyncItem{}, invalid(op, "batch", "id", "batch id reused for another session")
			}
			return existing, nil
		case !errs.Is(err, errs.CodeNotFound):
			return model.SyncItem{}, err
		}
	}

	now := q.now()
	it := model.SyncItem{
		ID:              b.ID,
		DeviceID:        b.DeviceID,
		SessionID:       b.Session.ID,
		Session:         b.Session,
		Responses:       b.Responses,
		Events:          b.Events,
		Checksum:        b.Checksum,
		ClientTimestamp: b.ClientTimestamp.UTC(),
		Status:          model.SyncPending,
		MaxRetries:      q.maxRetries,
		NextAttemptAt:   now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if it.ID == "" {
		it.ID = q.newID()
	}

	sumErr := verifyItem(q.alg, it)
	if sumErr != nil {
		it.Status = model.SyncInvalid
		it.ErrorMessage = sumErr.Error()
		it.ProcessedAt = &now
	}
	if err := q.store.InsertItem(ctx, it); err != nil {
		return model.SyncItem{}, err
	}
	log := q.log.WithFields(logrus.Fields{"sync_item": it.ID, "session_id": it.SessionID, "device_id": it.DeviceID})
	if sumErr != nil {
		log.WithError(sumErr).Warn("batch rejected: checksum mismatch")
		return it, sumErr
	}
	log.WithFields(logrus.Fields{"responses": len(it.Responses), "events": len(it.Events)}).Info("batch queued")
	q.signal()
	return it, nil
}

/* --------------------------------- process -------------------------------- */

// Process claims and handles one due item. It reports false when nothing
// was due. Failures of the item itself are recorded on the item; the
// returned error covers the queue's own storage only.
func (q *Queue) Process(ctx context.Context) (bool, error) {
	it, ok, err := q.store.Claim(ctx, q.now())
	if err != nil || !ok {
		return false, err
	}
	return true, q.handle(ctx, it)
}

// Drain processes due items until none remain and returns how many were
// handled.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		ok, err := q.Process(ctx)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// Recover returns items left mid-flight by a stopped worker to the queue.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	items, err := q.store.ListItems(ctx, "")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, it := range items {
		if !busy(it.Status) {
			continue
		}
		it.Status = model.SyncPending
		it.UpdatedAt = q.now()
		if err := q.store.UpdateItem(ctx, it); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		q.log.WithField("items", n).Warn("requeued interrupted batches")
	}
	return n, nil
}

func (q *Queue) handle(ctx context.Context, it model.SyncItem) error {
	log := q.log.WithFields(logrus.Fields{"sync_item": it.ID, "session_id": it.SessionID, "attempt": it.RetryCount + 1})

	if err := verifyItem(q.alg, it); err != nil {
		log.WithError(err).Warn("batch invalid")
		return q.finish(ctx, it, model.SyncInvalid, err)
	}
	it.Status = model.SyncValidated
	it.UpdatedAt = q.now()
	if err := q.store.UpdateItem(ctx, it); err != nil {
		return q.retry(ctx, it, err)
	}

	conflicts, err := q.apply(ctx, it)
	switch {
	case err == nil:
	case errs.Is(err, errs.CodeScoringUnavailable):
		// replay landed; the sweeper scores the session once the assessor is back
		log.WithError(err).Warn("batch replayed, scoring deferred")
		it.ErrorMessage = err.Error()
	case errs.Permanent(err):
		log.WithError(err).Warn("batch failed")
		return q.finish(ctx, it, model.SyncFailed, err)
	default:
		return q.retry(ctx, it, err)
	}

	it.ConflictCount = len(conflicts)
	if err := q.finish(ctx, it, model.SyncCompleted, nil); err != nil {
		// a rerun finds the replay already landed and only completes the item
		return q.retry(ctx, it, err)
	}
	log.WithField("conflicts", len(conflicts)).Info("batch completed")
	return nil
}

func (q *Queue) finish(ctx context.Context, it model.SyncItem, status model.SyncStatus, cause error) error {
	now := q.now()
	it.Status = status
	it.UpdatedAt = now
	it.ProcessedAt = &now
	if cause != nil {
		it.ErrorMessage = cause.Error()
	}
	if err := q.store.UpdateItem(ctx, it); err != nil {
		return err
	}
	if status == model.SyncFailed {
		q.publish(ctx, NoteBatchFailed, it.SessionID, map[string]string{"sync_item": it.ID, "error": it.ErrorMessage})
	}
	return nil
}

// retry puts the item back with exponential backoff, or fails it once its
// attempts are used up.
func (q *Queue) retry(ctx context.Context, it model.SyncItem, cause error) error {
	it.RetryCount++
	log := q.log.WithFields(logrus.Fields{"sync_item": it.ID, "session_id": it.SessionID, "retry": it.RetryCount})
	if it.RetryCount >= it.MaxRetries {
		log.WithError(cause).Error("batch failed: retries exhausted")
		return q.finish(ctx, it, model.SyncFailed, errs.Wrap(errs.CodeRetryExhausted, "syncq.process", cause))
	}
	delay := q.backoff.Delay(it.RetryCount - 1)
	it.Status = model.SyncPending
	it.ErrorMessage = cause.Error()
	it.NextAttemptAt = q.now().Add(delay)
	it.UpdatedAt = q.now()
	log.WithError(cause).WithField("delay", delay).Warn("batch will be retried")
	return q.store.UpdateItem(ctx, it)
}

// apply detects conflicts against the server copy and replays what the
// strategies allow.
func (q *Queue) apply(ctx context.Context, it model.SyncItem) ([]model.SyncConflict, error) {
	const op = "syncq.apply"
	snap := it.Session
	sess, server, err := q.svc.Snapshot(ctx, it.SessionID)
	if errs.Is(err, errs.CodeNotFound) {
		if sess, err = q.svc.ImportOffline(ctx, it.ID, snap); err != nil {
			return nil, err
		}
		server = nil
	} else if err != nil {
		return nil, err
	}
	if sess.UserID != snap.UserID || sess.CheckpointID != snap.CheckpointID {
		return nil, invalid(op, "session", "user_id", "snapshot does not match the server session")
	}

	if sess.LastSyncItem == it.ID {
		q.log.WithFields(logrus.Fields{"sync_item": it.ID, "session_id": it.SessionID}).
			Info("batch already replayed, completing")
		return q.store.ListConflicts(ctx, ConflictFilter{SessionID: it.SessionID, SyncItemID: it.ID})
	}
	if snap.BaseVersion > sess.Version {
		return nil, invalid(op, "session", "base_version", "base version is ahead of the server session")
	}

	now := q.now()
	live := sess.Status.Live()
	stale := sess.Version > snap.BaseVersion && sess.ImportedFrom != it.ID && !ownLineage(sess, it)
	in := checkpoint.ReplayInput{
		SessionID: it.SessionID, ItemID: it.ID, DeviceID: it.DeviceID, Current: !stale,
		Checksum: it.Checksum, Events: it.Events,
	}
	var conflicts []model.SyncConflict
	raise := func(entity model.ConflictEntity, entityID string, fields []string, client, srv model.ConflictVersion, d decision) {
		conflicts = append(conflicts, model.SyncConflict{
			ID: conflictID(it.ID, entity, entityID), SyncItemID: it.ID, SessionID: it.SessionID,
			Entity: entity, EntityID: entityID, Fields: fields,
			Client: client, Server: srv, Strategy: q.strategies.For(entity),
			Status: d.status, Merged: d.merged, Resolution: d.resolution,
			ResolvedBy: resolvedBy(d), ResolvedAt: resolvedAt(d, now), DetectedAt: now,
		})
	}

	// session fields
	if !stale {
		in.Elapsed = &snap.ElapsedSeconds
		in.Submit = snap.Status.HandedIn()
		in.Abandon = snap.Status == model.StatusAbandoned
	} else {
		client := model.ConflictVersion{Status: snap.Status, ElapsedSeconds: snap.ElapsedSeconds, Version: snap.BaseVersion}
		srv := model.ConflictVersion{Status: sess.Status, ElapsedSeconds: checkpoint.Elapsed(sess, now), Version: sess.Version}
		if fields := sessionFields(client, srv); len(fields) > 0 {
			d := decideSession(q.strategies.For(model.EntitySession), client, srv)
			if d.apply {
				in.Elapsed = &d.merged.ElapsedSeconds
				in.Submit = d.merged.Status == model.StatusSubmitted
			}
			raise(model.EntitySession, sess.ID, fields, client, srv, d)
		}
	}

	// responses
	byQ := make(map[string]model.Response, len(server))
	for _, r := range server {
		byQ[r.QuestionID] = r
	}
	for _, c := range it.Responses {
		srv, has := byQ[c.QuestionID]
		if c.Payload.IsZero() {
			in.Responses = append(in.Responses, c)
			continue
		}
		if has && model.SamePayload(srv.Payload, c.Payload) {
			if live && srv.Status != c.Status {
				in.Responses = append(in.Responses, c)
			}
			continue
		}
		serverAnswered := has && !srv.Payload.IsZero()
		if live && (!stale || !serverAnswered) {
			in.Responses = append(in.Responses, c)
			continue
		}
		client := model.ConflictVersion{
			Payload: c.Payload, ResponseStatus: c.Status, AnsweredAt: timeOrNil(c.AnswerTime()), Version: snap.BaseVersion,
		}
		sv := model.ConflictVersion{ResponseStatus: model.ResponseNotViewed}
		if has {
			sv = model.ConflictVersion{
				Payload: srv.Payload, ResponseStatus: srv.Status, AnsweredAt: timeOrNil(srv.LatestAnswerAt()), Version: srv.Version,
			}
		}
		d := decideResponse(q.strategies.For(model.EntityResponse), client, sv, live)
		if d.apply {
			in.Responses = append(in.Responses, c)
		}
		raise(model.EntityResponse, c.QuestionID, responseFields(client, sv), client, sv, d)
	}

	// conflicts are on record before the replay lands
	for _, c := range conflicts {
		c.Status, c.Resolution, c.Merged, c.ResolvedBy, c.ResolvedAt = model.ConflictDetected, "", nil, "", nil
		if err := q.store.SaveConflict(ctx, c); err != nil {
			return nil, err
		}
	}
	replayed, deferred := q.svc.Replay(ctx, in)
	if deferred != nil && !errs.Is(deferred, errs.CodeScoringUnavailable) {
		return nil, deferred
	}
	for i := range conflicts {
		if conflicts[i].Entity == model.EntitySession {
			conflicts[i].Server.Version = replayed.Version
		}
		if err := q.store.SaveConflict(ctx, conflicts[i]); err != nil {
			return nil, err
		}
		q.publish(ctx, NoteConflictDetected, it.SessionID, conflicts[i])
	}
	return conflicts, deferred
}

// ownLineage reports whether every version bump since the device last saw
// the session came from that device's own earlier batches.
func ownLineage(sess model.Session, it model.SyncItem) bool {
	return it.DeviceID != "" && sess.LastSyncDevice == it.DeviceID && sess.LastSyncVersion == sess.Version
}

// conflictID is stable per batch and entity so a rerun of an interrupted
// batch overwrites rather than duplicates its conflicts.
func conflictID(itemID string, entity model.ConflictEntity, entityID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(itemID+"/"+string(entity)+"/"+entityID)).String()
}

func resolvedBy(d decision) string {
	if d.status == model.ConflictResolved {
		return "system"
	}
	return ""
}

func resolvedAt(d decision, now time.Time) *time.Time {
	if d.status == model.ConflictResolved {
		return &now
	}
	return nil
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

/* --------------------------------- resolve -------------------------------- */

// ResolveInput is a person's decision on an open conflict. Merged is
// required for the merge strategy and ignored otherwise.
type ResolveInput struct {
	ConflictID string                 `json:"-"`
	Strategy   model.Strategy         `json:"strategy"`
	Merged     *model.ConflictVersion `json:"merged_value,omitempty"`
	Actor      string                 `json:"-"`
	Reason     string                 `json:"reason,omitempty"`
}

// ResolveConflict applies a decision to an open conflict. When the server
// copy moved since detection the conflict is refreshed with the current
// server value and SYNC_CONFLICT is returned so the caller can decide again.
func (q *Queue) ResolveConflict(ctx context.Context, in ResolveInput) (model.SyncConflict, error) {
	const op = "syncq.resolve_conflict"
	if !in.Strategy.Valid() || in.Strategy == model.StrategyManual {
		return model.SyncConflict{}, invalid(op, "conflict", "strategy", "strategy must be server_wins, client_wins or merge")
	}
	if strings.TrimSpace(in.Actor) == "" {
		return model.SyncConflict{}, invalid(op, "conflict", "resolved_by", "resolver is required")
	}
	c, err := q.store.GetConflict(ctx, in.ConflictID)
	if err != nil {
		return model.SyncConflict{}, err
	}
	if !c.Open() {
		return model.SyncConflict{}, errs.New(errs.CodeInvalidTransition, op, "conflict %s is already resolved", c.ID)
	}

	var value model.ConflictVersion
	switch in.Strategy {
	case model.StrategyServerWins:
		value = c.Server
	case model.StrategyClientWins:
		value = c.Client
	case model.StrategyMerge:
		if in.Merged == nil {
			return model.SyncConflict{}, invalid(op, "conflict", "merged_value", "merge needs a merged value")
		}
		value = *in.Merged
	}

	if in.Strategy != model.StrategyServerWins {
		_, err := q.svc.ApplyResolution(ctx, checkpoint.Resolution{
			SessionID:  c.SessionID,
			Entity:     c.Entity,
			QuestionID: c.EntityID,
			Value:      value,
			Expected:   c.Server.Version,
			Actor:      in.Actor,
			Reason:     in.Reason,
		})
		switch {
		case errs.Is(err, errs.CodeSyncConflict):
			if rerr := q.refresh(ctx, &c); rerr != nil {
				return model.SyncConflict{}, errors.Join(err, rerr)
			}
			return c, err
		case errs.Is(err, errs.CodeScoringUnavailable):
			q.log.WithError(err).WithField("conflict", c.ID).Warn("resolution applied, scoring deferred")
		case err != nil:
			return model.SyncConflict{}, err
		}
	}

	now := q.now()
	c.Strategy = in.Strategy
	c.Status = model.ConflictResolved
	c.Merged = &value
	c.Resolution = in.Reason
	if c.Resolution == "" {
		c.Resolution = string(in.Strategy)
	}
	c.ResolvedBy = in.Actor
	c.ResolvedAt = &now
	if err := q.store.SaveConflict(ctx, c); err != nil {
		return model.SyncConflict{}, err
	}
	q.log.WithFields(logrus.Fields{
		"conflict": c.ID, "session_id": c.SessionID, "entity": c.Entity, "strategy": c.Strategy, "resolved_by": c.ResolvedBy,
	}).Info("conflict resolved")
	return c, nil
}

// refresh replaces the server side of a conflict with the current stored
// copy.
func (q *Queue) refresh(ctx context.Context, c *model.SyncConflict) error {
	sess, rs, err := q.svc.Snapshot(ctx, c.SessionID)
	if err != nil {
		return err
	}
	if c.Entity == model.EntitySession {
		c.Server = model.ConflictVersion{Status: sess.Status, ElapsedSeconds: checkpoint.Elapsed(sess, q.now()), Version: sess.Version}
		c.Fields = sessionFields(c.Client, c.Server)
		return q.store.SaveConflict(ctx, *c)
	}
	for _, r := range rs {
		if r.QuestionID == c.EntityID {
			c.Server = model.ConflictVersion{
				Payload: r.Payload, ResponseStatus: r.Status, AnsweredAt: timeOrNil(r.LatestAnswerAt()), Version: r.Version,
			}
			c.Fields = responseFields(c.Client, c.Server)
		}
	}
	return q.store.SaveConflict(ctx, *c)
}

/* ---------------------------------- views --------------------------------- */

// Gate answers the session service's question of whether a session still
// has queued batches. It reads the store directly so the service can be
// built before the queue that replays into it.
type Gate struct {
	store Store
}

func NewGate(store Store) Gate { return Gate{store: store} }

// HasPending reports whether any batch for the session has yet to reach a
// terminal status.
func (g Gate) HasPending(ctx context.Context, sessionID string) (bool, error) {
	items, err := g.store.ListItems(ctx, sessionID)
	if err != nil {
		return false, err
	}
	for _, it := range items {
		if !it.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (q *Queue) HasPending(ctx context.Context, sessionID string) (bool, error) {
	return NewGate(q.store).HasPending(ctx, sessionID)
}

func (q *Queue) Item(ctx context.Context, id string) (model.SyncItem, error) {
	return q.store.GetItem(ctx, id)
}

func (q *Queue) Items(ctx context.Context, sessionID string) ([]model.SyncItem, error) {
	return q.store.ListItems(ctx, sessionID)
}

func (q *Queue) ListConflicts(ctx context.Context, f ConflictFilter) ([]model.SyncConflict, error) {
	return q.store.ListConflicts(ctx, f)
}

// SessionSyncStatus summarizes what a learner should see for a session:
// pending while batches are queued, conflict while any conflict is open,
// failed when a batch needs resubmission, synced once everything landed.
func (q *Queue) SessionSyncStatus(ctx context.Context, sessionID string) (model.SessionSyncView, error) {
	items, err := q.store.ListItems(ctx, sessionID)
	if err != nil {
		return model.SessionSyncView{}, err
	}
	open, err := q.store.ListConflicts(ctx, ConflictFilter{SessionID: sessionID, OpenOnly: true})
	if err != nil {
		return model.SessionSyncView{}, err
	}
	v := model.SessionSyncView{SessionID: sessionID, OpenConflicts: len(open), State: "none"}
	var completed int
	for _, it := range items {
		switch {
		case !it.Status.Terminal():
			v.PendingItems++
		case it.Status == model.SyncCompleted:
			completed++
		default:
			v.FailedItems++
			v.LastError = it.ErrorMessage
		}
	}
	switch {
	case v.PendingItems > 0:
		v.State = "pending"
	case v.OpenConflicts > 0:
		v.State = "conflict"
	case v.FailedItems > 0:
		v.State = "failed"
	case completed > 0:
		v.State = "synced"
	}
	return v, nil
}

// RetryFailed puts a failed batch back on the queue with a fresh retry
// budget. Invalid batches cannot be retried; the device must resubmit.
func (q *Queue) RetryFailed(ctx context.Context, id string) (model.SyncItem, error) {
	it, err := q.store.GetItem(ctx, id)
	if err != nil {
		return model.SyncItem{}, err
	}
	if it.Status != model.SyncFailed {
		return model.SyncItem{}, errs.New(errs.CodeInvalidTransition, "syncq.retry_failed", "sync item %s is %s", id, it.Status)
	}
	now := q.now()
	it.Status = model.SyncPending
	it.RetryCount = 0
	it.MaxRetries = q.maxRetries
	it.NextAttemptAt = now
	it.ErrorMessage = ""
	it.ProcessedAt = nil
	it.UpdatedAt = now
	if err := q.store.UpdateItem(ctx, it); err != nil {
		return model.SyncItem{}, err
	}
	q.log.WithField("sync_item", id).Info("failed batch requeued")
	q.signal()
	return it, nil
}

func (q *Queue) publish(ctx context.Context, typ, key string, payload any) {
	if q.pub == nil {
		return
	}
	if err := q.pub.Publish(ctx, typ, key, payload); err != nil {
		q.log.WithError(err).WithField("type", typ).Warn("publish failed")
	}
}
