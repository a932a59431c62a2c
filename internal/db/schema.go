package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Migrate applies the idempotent DDL for driver. When the driver rejects a
// multi-statement script it falls back to one statement at a time.
func Migrate(ctx context.Context, conn *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	default:
		return fmt.Errorf("migrations: unsupported driver %q (expected postgres|sqlite)", driver)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		for _, stmt := range splitSQL(schema) {
			if _, e := conn.ExecContext(ctx, stmt); e != nil {
				return fmt.Errorf("migrations: failed at:\n%s\nerr: %w", firstLine(stmt), e)
			}
		}
	}
	return nil
}

/* ------------------------------ SQLITE SCHEMA ------------------------------ */

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS sessions (
  id             TEXT PRIMARY KEY,
  checkpoint_id  TEXT NOT NULL,
  user_id        TEXT NOT NULL,
  attempt_number INTEGER NOT NULL,
  status         TEXT NOT NULL,
  version        INTEGER NOT NULL,
  data           TEXT NOT NULL,                -- JSON session
  created_at     INTEGER NOT NULL,             -- unix nanos
  updated_at     INTEGER NOT NULL,
  UNIQUE (checkpoint_id, user_id, attempt_number)
);

CREATE INDEX IF NOT EXISTS sessions_status_idx ON sessions (status);

CREATE TABLE IF NOT EXISTS responses (
  session_id     TEXT NOT NULL REFERENCES sessions(id),
  question_id    TEXT NOT NULL,
  status         TEXT NOT NULL,
  version        INTEGER NOT NULL,
  data           TEXT NOT NULL,                -- JSON response
  PRIMARY KEY (session_id, question_id)
);

CREATE TABLE IF NOT EXISTS session_events (
  id             TEXT PRIMARY KEY,
  session_id     TEXT NOT NULL REFERENCES sessions(id),
  typ            TEXT NOT NULL,
  ts             INTEGER NOT NULL,             -- unix nanos
  seq            INTEGER NOT NULL DEFAULT 0,
  data           TEXT NOT NULL                 -- JSON event
);

CREATE INDEX IF NOT EXISTS session_events_session_idx ON session_events (session_id, ts, seq);

CREATE TABLE IF NOT EXISTS audit_log (
  id             TEXT PRIMARY KEY,
  session_id     TEXT NOT NULL,
  question_id    TEXT NOT NULL DEFAULT '',
  actor          TEXT NOT NULL,
  action         TEXT NOT NULL,
  data           TEXT NOT NULL,
  created_at     INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS audit_log_session_idx ON audit_log (session_id, created_at);

CREATE TABLE IF NOT EXISTS sync_items (
  id              TEXT PRIMARY KEY,
  session_id      TEXT NOT NULL,
  device_id       TEXT NOT NULL,
  status          TEXT NOT NULL,
  client_ts       INTEGER NOT NULL,            -- unix nanos
  next_attempt_at INTEGER NOT NULL,
  retry_count     INTEGER NOT NULL DEFAULT 0,
  data            TEXT NOT NULL,               -- JSON item
  created_at      INTEGER NOT NULL,
  updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS sync_items_session_idx ON sync_items (session_id, client_ts, id);
CREATE INDEX IF NOT EXISTS sync_items_status_idx ON sync_items (status, next_attempt_at);

CREATE TABLE IF NOT EXISTS sync_conflicts (
  id             TEXT PRIMARY KEY,
  sync_item_id   TEXT NOT NULL,
  session_id     TEXT NOT NULL,
  entity         TEXT NOT NULL,
  entity_id      TEXT NOT NULL,
  status         TEXT NOT NULL,
  data           TEXT NOT NULL,                -- JSON conflict
  detected_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS sync_conflicts_session_idx ON sync_conflicts (session_id, status);

CREATE TABLE IF NOT EXISTS event_log (
  seq            INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id        TEXT NOT NULL DEFAULT 'local',
  typ            TEXT NOT NULL,                -- e.g., SessionCompleted
  key            TEXT NOT NULL,                -- natural key: session id
  data           TEXT NOT NULL,                -- JSON payload
  created_at     INTEGER NOT NULL
);
`

/* ----------------------------- POSTGRES SCHEMA ----------------------------- */

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS sessions (
  id             TEXT PRIMARY KEY,
  checkpoint_id  TEXT NOT NULL,
  user_id        TEXT NOT NULL,
  attempt_number INTEGER NOT NULL,
  status         TEXT NOT NULL,
  version        BIGINT NOT NULL,
  data           TEXT NOT NULL,
  created_at     BIGINT NOT NULL,
  updated_at     BIGINT NOT NULL,
  UNIQUE (checkpoint_id, user_id, attempt_number)
);

CREATE INDEX IF NOT EXISTS sessions_status_idx ON sessions (status);

CREATE TABLE IF NOT EXISTS responses (
  session_id     TEXT NOT NULL REFERENCES sessions(id),
  question_id    TEXT NOT NULL,
  status         TEXT NOT NULL,
  version        BIGINT NOT NULL,
  data           TEXT NOT NULL,
  PRIMARY KEY (session_id, question_id)
);

CREATE TABLE IF NOT EXISTS session_events (
  id             TEXT PRIMARY KEY,
  session_id     TEXT NOT NULL REFERENCES sessions(id),
  typ            TEXT NOT NULL,
  ts             BIGINT NOT NULL,
  seq            BIGINT NOT NULL DEFAULT 0,
  data           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS session_events_session_idx ON session_events (session_id, ts, seq);

CREATE TABLE IF NOT EXISTS audit_log (
  id             TEXT PRIMARY KEY,
  session_id     TEXT NOT NULL,
  question_id    TEXT NOT NULL DEFAULT '',
  actor          TEXT NOT NULL,
  action         TEXT NOT NULL,
  data           TEXT NOT NULL,
  created_at     BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS audit_log_session_idx ON audit_log (session_id, created_at);

CREATE TABLE IF NOT EXISTS sync_items (
  id              TEXT PRIMARY KEY,
  session_id      TEXT NOT NULL,
  device_id       TEXT NOT NULL,
  status          TEXT NOT NULL,
  client_ts       BIGINT NOT NULL,
  next_attempt_at BIGINT NOT NULL,
  retry_count     INTEGER NOT NULL DEFAULT 0,
  data            TEXT NOT NULL,
  created_at      BIGINT NOT NULL,
  updated_at      BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS sync_items_session_idx ON sync_items (session_id, client_ts, id);
CREATE INDEX IF NOT EXISTS sync_items_status_idx ON sync_items (status, next_attempt_at);

CREATE TABLE IF NOT EXISTS sync_conflicts (
  id             TEXT PRIMARY KEY,
  sync_item_id   TEXT NOT NULL,
  session_id     TEXT NOT NULL,
  entity         TEXT NOT NULL,
  entity_id      TEXT NOT NULL,
  status         TEXT NOT NULL,
  data           TEXT NOT NULL,
  detected_at    BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS sync_conflicts_session_idx ON sync_conflicts (session_id, status);

CREATE TABLE IF NOT EXISTS event_log (
  seq            BIGSERIAL PRIMARY KEY,
  site_id        TEXT NOT NULL DEFAULT 'local',
  typ            TEXT NOT NULL,
  key            TEXT NOT NULL,
  data           TEXT NOT NULL,
  created_at     BIGINT NOT NULL
);
`

// splitSQL splits on ';' boundaries; enough for plain DDL.
func splitSQL(s string) []string {
	raw := strings.Split(s, ";")
	out := make([]string, 0, len(raw))
	for _, part := range raw {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part+";")
	}
	return out
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
