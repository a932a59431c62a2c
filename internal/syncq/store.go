package syncq

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// ConflictFilter narrows conflict listings. Zero values match everything.
type ConflictFilter struct {
	SessionID  string
	SyncItemID string
	OpenOnly   bool
}

// Store persists queue items and conflicts.
//
// Claim hands out at most one item: the earliest non-terminal item of a
// session by (client timestamp, id), only when it is pending and due and no
// other item of that session is being processed. The claimed item is
// returned already marked processing.
type Store interface {
	InsertItem(ctx context.Context, it model.SyncItem) error
	UpdateItem(ctx context.Context, it model.SyncItem) error
	GetItem(ctx context.Context, id string) (model.SyncItem, error)
	ListItems(ctx context.Context, sessionID string) ([]model.SyncItem, error)
	Claim(ctx context.Context, now time.Time) (model.SyncItem, bool, error)

	SaveConflict(ctx context.Context, c model.SyncConflict) error
	GetConflict(ctx context.Context, id string) (model.SyncConflict, error)
	ListConflicts(ctx context.Context, f ConflictFilter) ([]model.SyncConflict, error)
}

// itemBefore orders items of one session for processing.
func itemBefore(a, b model.SyncItem) bool {
	if !a.ClientTimestamp.Equal(b.ClientTimestamp) {
		return a.ClientTimestamp.Before(b.ClientTimestamp)
	}
	return a.ID < b.ID
}

func busy(s model.SyncStatus) bool {
	return s == model.SyncProcessing || s == model.SyncValidated
}

/* ------------------------------- memory store ------------------------------ */

type MemoryStore struct {
	mu        sync.Mutex
	items     map[string]model.SyncItem
	conflicts map[string]model.SyncConflict
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:     map[string]model.SyncItem{},
		conflicts: map[string]model.SyncConflict{},
	}
}

func (m *MemoryStore) InsertItem(_ context.Context, it model.SyncItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[it.ID]; ok {
		return errs.New(errs.CodeStaleWrite, "syncq.insert", "sync item %s already exists", it.ID)
	}
	m.items[it.ID] = cloneItem(it)
	return nil
}

func (m *MemoryStore) UpdateItem(_ context.Context, it model.SyncItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[it.ID]; !ok {
		return errs.New(errs.CodeNotFound, "syncq.update", "sync item %s not found", it.ID)
	}
	m.items[it.ID] = cloneItem(it)
	return nil
}

func (m *MemoryStore) GetItem(_ context.Context, id string) (model.SyncItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return model.SyncItem{}, errs.New(errs.CodeNotFound, "syncq.get", "sync item %s not found", id)
	}
	return cloneItem(it), nil
}

func (m *MemoryStore) ListItems(_ context.Context, sessionID string) ([]model.SyncItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SyncItem
	for _, it := range m.items {
		if sessionID == "" || it.SessionID == sessionID {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return itemBefore(out[i], out[j]) })
	return out, nil
}

func (m *MemoryStore) Claim(_ context.Context, now time.Time) (model.SyncItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	head := map[string]model.SyncItem{}
	blocked := map[string]bool{}
	for _, it := range m.items {
		if it.Status.Terminal() {
			continue
		}
		if busy(it.Status) {
			blocked[it.SessionID] = true
		}
		if h, ok := head[it.SessionID]; !ok || itemBefore(it, h) {
			head[it.SessionID] = it
		}
	}
	var (
		pick  model.SyncItem
		found bool
	)
	for sid, it := range head {
		if blocked[sid] || it.Status != model.SyncPending || it.NextAttemptAt.After(now) {
			continue
		}
		if !found || itemBefore(it, pick) {
			pick, found = it, true
		}
	}
	if !found {
		return model.SyncItem{}, false, nil
	}
	pick.Status = model.SyncProcessing
	pick.UpdatedAt = now
	m.items[pick.ID] = pick
	return cloneItem(pick), true, nil
}

func (m *MemoryStore) SaveConflict(_ context.Context, c model.SyncConflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Fields = append([]string(nil), c.Fields...)
	m.conflicts[c.ID] = c
	return nil
}

func (m *MemoryStore) GetConflict(_ context.Context, id string) (model.SyncConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	if !ok {
		return model.SyncConflict{}, errs.New(errs.CodeNotFound, "syncq.get_conflict", "conflict %s not found", id)
	}
	return c, nil
}

func (m *MemoryStore) ListConflicts(_ context.Context, f ConflictFilter) ([]model.SyncConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.SyncConflict{}
	for _, c := range m.conflicts {
		if f.SessionID != "" && c.SessionID != f.SessionID {
			continue
		}
		if f.SyncItemID != "" && c.SyncItemID != f.SyncItemID {
			continue
		}
		if f.OpenOnly && !c.Open() {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.Before(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func cloneItem(it model.SyncItem) model.SyncItem {
	it.Responses = append([]model.ResponseSnapshot(nil), it.Responses...)
	it.Events = append([]model.Event(nil), it.Events...)
	return it
}
