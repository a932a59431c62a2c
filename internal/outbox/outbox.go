// Package outbox is the append-only lifecycle event log consumed by progress
// tracking, credentialing and notification services.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type Event struct {
	Offset    int64           `json:"offset"`
	SiteID    string          `json:"site_id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Log appends events and reads them back in offset order.
type Log interface {
	Append(ctx context.Context, e Event) (int64, error)
	Since(ctx context.Context, after int64, limit int) ([]Event, error)
}

// Publisher adapts a Log to the session service's notification hook.
type Publisher struct {
	log    Log
	siteID string
	clock  func() time.Time
}

func NewPublisher(l Log, siteID string) *Publisher {
	if siteID == "" {
		siteID = "local"
	}
	return &Publisher{log: l, siteID: siteID, clock: time.Now}
}

func (p *Publisher) Publish(ctx context.Context, typ, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("outbox: encode %s: %w", typ, err)
	}
	_, err = p.log.Append(ctx, Event{SiteID: p.siteID, Type: typ, Key: key, Data: data, CreatedAt: p.clock().UTC()})
	return err
}

/* ---------------------------------- SQL ---------------------------------- */

type SQLLog struct{ db *sql.DB }

func NewSQLLog(db *sql.DB) *SQLLog { return &SQLLog{db: db} }

func (r *SQLLog) Append(ctx context.Context, e Event) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	var seq int64
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5) RETURNING seq`,
		e.SiteID, e.Type, e.Key, string(e.Data), e.CreatedAt.UnixNano()).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("outbox: append %s: %w", e.Type, err)
	}
	return seq, nil
}

func (r *SQLLog) Since(ctx context.Context, after int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, site_id, typ, key, data, created_at FROM event_log
		 WHERE seq > $1 ORDER BY seq LIMIT $2`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Event{}
	for rows.Next() {
		var (
			e    Event
			data string
			at   int64
		)
		if err := rows.Scan(&e.Offset, &e.SiteID, &e.Type, &e.Key, &data, &at); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(data)
		e.CreatedAt = time.Unix(0, at).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

/* --------------------------------- memory -------------------------------- */

type MemoryLog struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryLog() *MemoryLog { return &MemoryLog{} }

func (m *MemoryLog) Append(_ context.Context, e Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Offset = int64(len(m.events) + 1)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.events = append(m.events, e)
	return e.Offset, nil
}

func (m *MemoryLog) Since(_ context.Context, after int64, limit int) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	out := []Event{}
	for _, e := range m.events {
		if e.Offset > after {
			out = append(out, e)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
