package syncq

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-checkpoint/internal/db"
	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// SQLStore keeps the queue in sync_items and conflicts in sync_conflicts.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(conn *sql.DB) *SQLStore {
	return &SQLStore{db: conn}
}

func (s *SQLStore) InsertItem(ctx context.Context, it model.SyncItem) error {
	data, err := json.Marshal(it)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM sync_items WHERE id=$1`, it.ID).Scan(&one)
		switch {
		case err == nil:
			return errs.New(errs.CodeStaleWrite, "syncq.insert", "sync item %s already exists", it.ID)
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO sync_items
			(id,session_id,device_id,status,client_ts,next_attempt_at,retry_count,data,created_at,updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			it.ID, it.SessionID, it.DeviceID, string(it.Status), it.ClientTimestamp.UnixNano(),
			it.NextAttemptAt.UnixNano(), it.RetryCount, string(data), it.CreatedAt.UnixNano(), it.UpdatedAt.UnixNano())
		if err != nil {
			return fmt.Errorf("insert sync item: %w", err)
		}
		return nil
	})
}

func (s *SQLStore) UpdateItem(ctx context.Context, it model.SyncItem) error {
	data, err := json.Marshal(it)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE sync_items
		SET status=$1, next_attempt_at=$2, retry_count=$3, data=$4, updated_at=$5
		WHERE id=$6`,
		string(it.Status), it.NextAttemptAt.UnixNano(), it.RetryCount, string(data), it.UpdatedAt.UnixNano(), it.ID)
	if err != nil {
		return fmt.Errorf("update sync item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.New(errs.CodeNotFound, "syncq.update", "sync item %s not found", it.ID)
	}
	return nil
}

func (s *SQLStore) GetItem(ctx context.Context, id string) (model.SyncItem, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sync_items WHERE id=$1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncItem{}, errs.New(errs.CodeNotFound, "syncq.get", "sync item %s not found", id)
	}
	if err != nil {
		return model.SyncItem{}, err
	}
	var it model.SyncItem
	if err := json.Unmarshal([]byte(data), &it); err != nil {
		return model.SyncItem{}, fmt.Errorf("decode sync item %s: %w", id, err)
	}
	return it, nil
}

func (s *SQLStore) ListItems(ctx context.Context, sessionID string) ([]model.SyncItem, error) {
	q := `SELECT data FROM sync_items`
	var args []any
	if sessionID != "" {
		q += ` WHERE session_id=$1`
		args = append(args, sessionID)
	}
	q += ` ORDER BY client_ts, id`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.SyncItem
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var it model.SyncItem
		if err := json.Unmarshal([]byte(data), &it); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// claimSQL picks the session head that is pending, due and not blocked by an
// item of the same session already in flight.
const claimSQL = `
SELECT s.id FROM sync_items s
WHERE s.status = 'pending' AND s.next_attempt_at <= $1
  AND NOT EXISTS (
    SELECT 1 FROM sync_items o
    WHERE o.session_id = s.session_id
      AND o.status IN ('pending','processing','validated')
      AND (o.client_ts < s.client_ts OR (o.client_ts = s.client_ts AND o.id < s.id)))
  AND NOT EXISTS (
    SELECT 1 FROM sync_items p
    WHERE p.session_id = s.session_id AND p.status IN ('processing','validated'))
ORDER BY s.client_ts, s.id
LIMIT 1`

func (s *SQLStore) Claim(ctx context.Context, now time.Time) (model.SyncItem, bool, error) {
	var (
		out   model.SyncItem
		found bool
	)
	err := db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		var id, data string
		err := tx.QueryRowContext(ctx, claimSQL, now.UnixNano()).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT data FROM sync_items WHERE id=$1`, id).Scan(&data); err != nil {
			return err
		}
		var it model.SyncItem
		if err := json.Unmarshal([]byte(data), &it); err != nil {
			return fmt.Errorf("decode sync item %s: %w", id, err)
		}
		it.Status = model.SyncProcessing
		it.UpdatedAt = now
		b, err := json.Marshal(it)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE sync_items SET status=$1, data=$2, updated_at=$3
			WHERE id=$4 AND status='pending'`,
			string(it.Status), string(b), now.UnixNano(), id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 1 {
			out, found = it, true
		}
		return nil
	})
	return out, found, err
}

func (s *SQLStore) SaveConflict(ctx context.Context, c model.SyncConflict) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO sync_conflicts
		(id,sync_item_id,session_id,entity,entity_id,status,data,detected_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, data=EXCLUDED.data`,
		c.ID, c.SyncItemID, c.SessionID, string(c.Entity), c.EntityID, string(c.Status), string(data), c.DetectedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save conflict: %w", err)
	}
	return nil
}

func (s *SQLStore) GetConflict(ctx context.Context, id string) (model.SyncConflict, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sync_conflicts WHERE id=$1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncConflict{}, errs.New(errs.CodeNotFound, "syncq.get_conflict", "conflict %s not found", id)
	}
	if err != nil {
		return model.SyncConflict{}, err
	}
	var c model.SyncConflict
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return model.SyncConflict{}, fmt.Errorf("decode conflict %s: %w", id, err)
	}
	return c, nil
}

func (s *SQLStore) ListConflicts(ctx context.Context, f ConflictFilter) ([]model.SyncConflict, error) {
	var (
		where []string
		args  []any
	)
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		where = append(where, fmt.Sprintf("session_id=$%d", len(args)))
	}
	if f.SyncItemID != "" {
		args = append(args, f.SyncItemID)
		where = append(where, fmt.Sprintf("sync_item_id=$%d", len(args)))
	}
	if f.OpenOnly {
		args = append(args, string(model.ConflictResolved))
		where = append(where, fmt.Sprintf("status<>$%d", len(args)))
	}
	q := `SELECT data FROM sync_conflicts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY detected_at, id"
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.SyncConflict{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var c model.SyncConflict
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
