package checkpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

type memoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]model.Session
	responses map[string]map[string]model.Response // session -> question -> response
	events    map[string][]model.Event
	eventIDs  map[string]struct{}
	audit     map[string][]model.AuditEntry
}

// NewMemoryStore returns a Store kept in process memory. It backs tests and
// single-node offline deployments.
func NewMemoryStore() Store {
	return &memoryStore{
		sessions:  map[string]model.Session{},
		responses: map[string]map[string]model.Response{},
		events:    map[string][]model.Event{},
		eventIDs:  map[string]struct{}{},
		audit:     map[string][]model.AuditEntry{},
	}
}

func (m *memoryStore) Commit(_ context.Context, w Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := w.Session.ID
	cur, exists := m.sessions[id]
	switch {
	case w.Expected == 0 && exists:
		return errs.New(errs.CodeStaleWrite, "store.commit", "session %s already exists", id)
	case w.Expected != 0 && !exists:
		return errs.New(errs.CodeNotFound, "store.commit", "session %s not found", id)
	case exists && cur.Version != w.Expected:
		return errs.New(errs.CodeStaleWrite, "store.commit", "session %s at version %d, expected %d", id, cur.Version, w.Expected)
	}

	m.sessions[id] = cloneSession(w.Session)
	if len(w.Responses) > 0 && m.responses[id] == nil {
		m.responses[id] = map[string]model.Response{}
	}
	for _, r := range w.Responses {
		m.responses[id][r.QuestionID] = r
	}
	for _, e := range w.Events {
		if _, dup := m.eventIDs[e.ID]; dup {
			continue
		}
		m.eventIDs[e.ID] = struct{}{}
		m.events[e.SessionID] = append(m.events[e.SessionID], e)
	}
	m.audit[id] = append(m.audit[id], w.Audit...)
	return nil
}

func (m *memoryStore) GetSession(_ context.Context, id string) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return model.Session{}, errs.New(errs.CodeNotFound, "store.get_session", "session %s not found", id)
	}
	return cloneSession(s), nil
}

func (m *memoryStore) ListSessions(_ context.Context, opts ListOpts) ([]model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	want := map[model.Status]bool{}
	for _, st := range opts.Statuses {
		want[st] = true
	}
	var out []model.Session
	for _, s := range m.sessions {
		if len(want) > 0 && !want[s.Status] {
			continue
		}
		if opts.CheckpointID != "" && s.CheckpointID != opts.CheckpointID {
			continue
		}
		if opts.UserID != "" && s.UserID != opts.UserID {
			continue
		}
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (m *memoryStore) CountAttempts(_ context.Context, checkpointID, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.CheckpointID == checkpointID && s.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) ListResponses(_ context.Context, sessionID string) ([]model.Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Response, 0, len(m.responses[sessionID]))
	for _, r := range m.responses[sessionID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (m *memoryStore) ListEvents(_ context.Context, sessionID string) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]model.Event(nil), m.events[sessionID]...)
	model.SortEvents(out)
	return out, nil
}

func (m *memoryStore) ListAudit(_ context.Context, sessionID string) ([]model.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.AuditEntry(nil), m.audit[sessionID]...), nil
}

// cloneSession copies the pointer and slice fields so callers never share
// state with the store.
func cloneSession(s model.Session) model.Session {
	s.TimeLimitSeconds = cloneInt(s.TimeLimitSeconds)
	s.StartedAt = cloneTime(s.StartedAt)
	s.ClockStartedAt = cloneTime(s.ClockStartedAt)
	s.BreakStartedAt = cloneTime(s.BreakStartedAt)
	s.LastActivityAt = cloneTime(s.LastActivityAt)
	s.SubmittedAt = cloneTime(s.SubmittedAt)
	s.ScoredAt = cloneTime(s.ScoredAt)
	s.CompletedAt = cloneTime(s.CompletedAt)
	s.Formats = append([]string(nil), s.Formats...)
	s.IntegrityFlags = append([]string(nil), s.IntegrityFlags...)
	return s
}
