package checkpoint

import (
	"context"

	"github.com/mind-engage/mindengage-checkpoint/internal/accommodation"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// Write is one atomic change to a session aggregate. The store applies it
// only if the stored session version still equals Expected; otherwise it
// returns STALE_WRITE and writes nothing.
type Write struct {
	Session   model.Session
	Expected  int64 // 0 creates the session
	Responses []model.Response
	Events    []model.Event // duplicate ids are ignored
	Audit     []model.AuditEntry
}

// ListOpts filters session listings for sweeps and dashboards.
type ListOpts struct {
	Statuses     []model.Status
	CheckpointID string
	UserID       string
	Limit        int
}

// Store persists sessions, responses, events and audit rows.
type Store interface {
	Commit(ctx context.Context, w Write) error
	GetSession(ctx context.Context, id string) (model.Session, error)
	ListSessions(ctx context.Context, opts ListOpts) ([]model.Session, error)
	CountAttempts(ctx context.Context, checkpointID, userID string) (int, error)
	ListResponses(ctx context.Context, sessionID string) ([]model.Response, error)
	ListEvents(ctx context.Context, sessionID string) ([]model.Event, error)
	ListAudit(ctx context.Context, sessionID string) ([]model.AuditEntry, error)
}

// DefinitionStore supplies published checkpoint definitions.
type DefinitionStore interface {
	GetDefinition(ctx context.Context, id string) (model.Definition, error)
}

// QuestionBank resolves question ids to bank entries with answer keys.
type QuestionBank interface {
	GetQuestions(ctx context.Context, ids []string) (map[string]model.Question, error)
}

// ProfileStore supplies approved accommodation profiles. A learner without a
// profile is reported as NOT_FOUND and treated as having no accommodations.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (accommodation.Profile, error)
}

// IdentityVerifier checks an identity proof presented at session start.
type IdentityVerifier interface {
	Verify(ctx context.Context, userID, proof string) (bool, error)
}

// SyncGate reports whether offline batches for a session are still queued.
type SyncGate interface {
	HasPending(ctx context.Context, sessionID string) (bool, error)
}

// Publisher receives lifecycle notifications for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, typ, key string, payload any) error
}
