package syncq_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-checkpoint/internal/db"
	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
	"github.com/mind-engage/mindengage-checkpoint/internal/syncq"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := db.Open(context.Background(), db.DriverSQLite, "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func stores(t *testing.T) map[string]syncq.Store {
	return map[string]syncq.Store{
		"memory": syncq.NewMemoryStore(),
		"sqlite": syncq.NewSQLStore(openSQLite(t)),
	}
}

func item(id, session string, clientTS time.Time) model.SyncItem {
	return model.SyncItem{
		ID:              id,
		SessionID:       session,
		DeviceID:        "d1",
		Session:         model.SessionSnapshot{ID: session, CheckpointID: "cp1", UserID: "u1"},
		ClientTimestamp: clientTS,
		Status:          model.SyncPending,
		MaxRetries:      3,
		NextAttemptAt:   t0,
		CreatedAt:       t0,
		UpdatedAt:       t0,
	}
}

func TestClaimOrdersAndSerializesPerSession(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, it := range []model.SyncItem{
				item("a", "s1", t0.Add(2*time.Minute)),
				item("b", "s1", t0.Add(time.Minute)),
				item("c", "s2", t0.Add(3*time.Minute)),
			} {
				if err := st.InsertItem(ctx, it); err != nil {
					t.Fatal(err)
				}
			}
			wantCode(t, st.InsertItem(ctx, item("a", "s1", t0)), errs.CodeStaleWrite)

			claim := func() string {
				t.Helper()
				it, ok, err := st.Claim(ctx, t0)
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					return ""
				}
				if it.Status != model.SyncProcessing {
					t.Fatalf("claimed %s with status %s", it.ID, it.Status)
				}
				return it.ID
			}
			if got := claim(); got != "b" {
				t.Fatalf("first claim = %q, want b", got)
			}
			if got := claim(); got != "c" {
				t.Fatalf("second claim = %q, want c (s1 is busy)", got)
			}
			if got := claim(); got != "" {
				t.Fatalf("third claim = %q, want nothing", got)
			}

			b, err := st.GetItem(ctx, "b")
			if err != nil {
				t.Fatal(err)
			}
			b.Status = model.SyncCompleted
			if err := st.UpdateItem(ctx, b); err != nil {
				t.Fatal(err)
			}
			if got := claim(); got != "a" {
				t.Fatalf("claim after b = %q, want a", got)
			}

			items, _ := st.ListItems(ctx, "s1")
			if len(items) != 2 || items[0].ID != "b" || items[1].ID != "a" {
				t.Fatalf("list order = %+v", items)
			}
			_, err = st.GetItem(ctx, "zzz")
			wantCode(t, err, errs.CodeNotFound)
		})
	}
}

func TestClaimWaitsForBackoff(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			it := item("a", "s1", t0)
			it.NextAttemptAt = t0.Add(time.Minute)
			if err := st.InsertItem(ctx, it); err != nil {
				t.Fatal(err)
			}
			if _, ok, _ := st.Claim(ctx, t0); ok {
				t.Fatal("claimed before next attempt")
			}
			if _, ok, _ := st.Claim(ctx, t0.Add(time.Minute)); !ok {
				t.Fatal("not claimed once due")
			}
		})
	}
}

func TestConflictStorage(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := model.SyncConflict{
				ID: "c1", SyncItemID: "a", SessionID: "s1", Entity: model.EntityResponse, EntityID: "q1",
				Fields: []string{"payload"}, Strategy: model.StrategyMerge, Status: model.ConflictNeedsManual,
				Client:     model.ConflictVersion{Payload: choice("a")},
				Server:     model.ConflictVersion{Payload: choice("b"), Version: 4},
				DetectedAt: t0,
			}
			if err := st.SaveConflict(ctx, c); err != nil {
				t.Fatal(err)
			}
			other := c
			other.ID, other.SessionID, other.DetectedAt = "c2", "s2", t0.Add(time.Second)
			if err := st.SaveConflict(ctx, other); err != nil {
				t.Fatal(err)
			}

			got, err := st.GetConflict(ctx, "c1")
			if err != nil {
				t.Fatal(err)
			}
			if p, ok := got.Server.Payload.Answer.(model.ChoiceAnswer); !ok || p.Choice != "b" || got.Server.Version != 4 {
				t.Fatalf("round trip = %+v", got)
			}

			c.Status = model.ConflictResolved
			if err := st.SaveConflict(ctx, c); err != nil {
				t.Fatal(err)
			}
			open, _ := st.ListConflicts(ctx, syncq.ConflictFilter{OpenOnly: true})
			if len(open) != 1 || open[0].ID != "c2" {
				t.Fatalf("open = %+v", open)
			}
			s1, _ := st.ListConflicts(ctx, syncq.ConflictFilter{SessionID: "s1"})
			if len(s1) != 1 || s1[0].Status != model.ConflictResolved {
				t.Fatalf("s1 = %+v", s1)
			}
			_, err = st.GetConflict(ctx, "nope")
			wantCode(t, err, errs.CodeNotFound)
		})
	}
}

func TestBackoffDoublesUpToCap(t *testing.T) {
	b := syncq.DefaultBackoff
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{-1, time.Minute},
		{0, time.Minute},
		{1, 2 * time.Minute},
		{3, 8 * time.Minute},
		{6, time.Hour},
		{40, time.Hour},
	}
	for _, c := range cases {
		if got := b.Delay(c.retry); got != c.want {
			t.Errorf("Delay(%d) = %v, want %v", c.retry, got, c.want)
		}
	}
}
