package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mind-engage/mindengage-checkpoint/internal/db"
	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// SQLStore keeps sessions in the sessions/responses/session_events/audit_log
// tables. Typed values are stored as JSON next to the indexed columns.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(conn *sql.DB) *SQLStore {
	return &SQLStore{db: conn}
}

func (s *SQLStore) Commit(ctx context.Context, w Write) error {
	const op = "store.commit"
	sj, err := json.Marshal(w.Session)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		sess := w.Session
		if w.Expected == 0 {
			var one int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id=$1`, sess.ID).Scan(&one)
			switch {
			case err == nil:
				return errs.New(errs.CodeStaleWrite, op, "session %s already exists", sess.ID)
			case !errors.Is(err, sql.ErrNoRows):
				return err
			}
			_, err = tx.ExecContext(ctx, `INSERT INTO sessions
				(id,checkpoint_id,user_id,attempt_number,status,version,data,created_at,updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				sess.ID, sess.CheckpointID, sess.UserID, sess.AttemptNumber, string(sess.Status),
				sess.Version, string(sj), sess.CreatedAt.UnixNano(), sess.UpdatedAt.UnixNano())
			if err != nil {
				return fmt.Errorf("insert session: %w", err)
			}
		} else {
			res, err := tx.ExecContext(ctx, `UPDATE sessions SET status=$1, version=$2, data=$3, updated_at=$4
				WHERE id=$5 AND version=$6`,
				string(sess.Status), sess.Version, string(sj), sess.UpdatedAt.UnixNano(), sess.ID, w.Expected)
			if err != nil {
				return fmt.Errorf("update session: %w", err)
			}
			if n, _ := res.RowsAffected(); n == 0 {
				var cur int64
				err := tx.QueryRowContext(ctx, `SELECT version FROM sessions WHERE id=$1`, sess.ID).Scan(&cur)
				if errors.Is(err, sql.ErrNoRows) {
					return errs.New(errs.CodeNotFound, op, "session %s not found", sess.ID)
				}
				if err != nil {
					return err
				}
				return errs.New(errs.CodeStaleWrite, op, "session %s at version %d, expected %d", sess.ID, cur, w.Expected)
			}
		}

		for _, r := range w.Responses {
			rj, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO responses (session_id,question_id,status,version,data)
				VALUES ($1,$2,$3,$4,$5)
				ON CONFLICT (session_id, question_id) DO UPDATE SET status=EXCLUDED.status, version=EXCLUDED.version, data=EXCLUDED.data`,
				r.SessionID, r.QuestionID, string(r.Status), r.Version, string(rj)); err != nil {
				return fmt.Errorf("upsert response %s: %w", r.QuestionID, err)
			}
		}
		for _, e := range w.Events {
			ej, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO session_events (id,session_id,typ,ts,seq,data)
				VALUES ($1,$2,$3,$4,$5,$6)
				ON CONFLICT (id) DO NOTHING`,
				e.ID, e.SessionID, string(e.Type), e.Timestamp.UnixNano(), e.Sequence, string(ej)); err != nil {
				return fmt.Errorf("insert event %s: %w", e.ID, err)
			}
		}
		for _, a := range w.Audit {
			aj, err := json.Marshal(a)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO audit_log (id,session_id,question_id,actor,action,data,created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				a.ID, a.SessionID, a.QuestionID, a.Actor, a.Action, string(aj), a.CreatedAt.UnixNano()); err != nil {
				return fmt.Errorf("insert audit: %w", err)
			}
		}
		return nil
	})
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (model.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id=$1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, errs.New(errs.CodeNotFound, "store.get_session", "session %s not found", id)
	}
	if err != nil {
		return model.Session{}, err
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return model.Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return sess, nil
}

func (s *SQLStore) ListSessions(ctx context.Context, opts ListOpts) ([]model.Session, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(opts.Statuses) > 0 {
		ph := make([]string, 0, len(opts.Statuses))
		for _, st := range opts.Statuses {
			ph = append(ph, arg(string(st)))
		}
		where = append(where, "status IN ("+strings.Join(ph, ",")+")")
	}
	if opts.CheckpointID != "" {
		where = append(where, "checkpoint_id="+arg(opts.CheckpointID))
	}
	if opts.UserID != "" {
		where = append(where, "user_id="+arg(opts.UserID))
	}
	q := `SELECT data FROM sessions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at, id"
	if opts.Limit > 0 {
		q += " LIMIT " + arg(opts.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var sess model.Session
		if err := json.Unmarshal([]byte(data), &sess); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountAttempts(ctx context.Context, checkpointID, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE checkpoint_id=$1 AND user_id=$2`,
		checkpointID, userID).Scan(&n)
	return n, err
}

func (s *SQLStore) ListResponses(ctx context.Context, sessionID string) ([]model.Response, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM responses WHERE session_id=$1 ORDER BY question_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Response{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r model.Response
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListEvents(ctx context.Context, sessionID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM session_events WHERE session_id=$1 ORDER BY ts, seq, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var e model.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	model.SortEvents(out)
	return out, nil
}

func (s *SQLStore) ListAudit(ctx context.Context, sessionID string) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM audit_log WHERE session_id=$1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AuditEntry
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var a model.AuditEntry
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
