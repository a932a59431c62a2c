package checkpoint_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mind-engage/mindengage-checkpoint/internal/checkpoint"
	"github.com/mind-engage/mindengage-checkpoint/internal/db"
	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
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

func TestSQLStoreRunsFullSession(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewSQLStore(openSQLite(t))
	clock := &fakeClock{t: t0}
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	svc := checkpoint.NewService(store, fakeDefs{"cp1": timedDef()}, bank(),
		checkpoint.WithClock(clock.Now), checkpoint.WithLogger(log))

	s, err := svc.StartSession(ctx, checkpoint.StartInput{CheckpointID: "cp1", UserID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SubmitResponse(ctx, s.ID, checkpoint.AnswerInput{QuestionID: "q2", Payload: choices("a", "c")}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.RecordEvent(ctx, s.ID, model.Event{ID: "focus-1", Type: model.EventFocusLost, Timestamp: t0}); err != nil {
			t.Fatal(err)
		}
	}
	sum, err := svc.SubmitSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Status != model.StatusCompleted || sum.Score != 2 || sum.MaxScore != 4 {
		t.Fatalf("summary = %+v", sum)
	}

	got, err := store.GetSession(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusCompleted || got.Version < 3 {
		t.Fatalf("stored session = %s v%d", got.Status, got.Version)
	}
	rs, err := store.ListResponses(ctx, s.ID)
	if err != nil || len(rs) != 3 {
		t.Fatalf("responses = %d, %v", len(rs), err)
	}
	q2, ok := rs[1].Payload.Answer.(model.MultiChoiceAnswer)
	if rs[1].QuestionID != "q2" || !ok || len(q2.Choices) != 2 || rs[1].PointsEarned != 2 {
		t.Fatalf("q2 round trip = %+v", rs[1])
	}
	evs, err := store.ListEvents(ctx, s.ID)
	if err != nil {
		t.Fatal(err)
	}
	var focus int
	for _, e := range evs {
		if e.ID == "focus-1" {
			focus++
		}
	}
	if focus != 1 {
		t.Fatalf("duplicate event stored %d times", focus)
	}
	if n, _ := store.CountAttempts(ctx, "cp1", "u1"); n != 1 {
		t.Fatalf("attempts = %d", n)
	}
	done, err := store.ListSessions(ctx, checkpoint.ListOpts{Statuses: []model.Status{model.StatusCompleted}, UserID: "u1"})
	if err != nil || len(done) != 1 {
		t.Fatalf("list completed = %d, %v", len(done), err)
	}
}

func TestSQLStoreVersionCheck(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewSQLStore(openSQLite(t))
	s := model.Session{ID: "s1", CheckpointID: "cp1", UserID: "u1", AttemptNumber: 1, Status: model.StatusInitializing, Version: 1, CreatedAt: t0, UpdatedAt: t0}

	if err := store.Commit(ctx, checkpoint.Write{Session: s}); err != nil {
		t.Fatal(err)
	}
	err := store.Commit(ctx, checkpoint.Write{Session: s})
	wantCode(t, err, errs.CodeStaleWrite)

	s.Version = 2
	s.Status = model.StatusInProgress
	err = store.Commit(ctx, checkpoint.Write{Session: s, Expected: 5})
	wantCode(t, err, errs.CodeStaleWrite)
	if err := store.Commit(ctx, checkpoint.Write{Session: s, Expected: 1}); err != nil {
		t.Fatal(err)
	}

	ghost := s
	ghost.ID = "ghost"
	err = store.Commit(ctx, checkpoint.Write{Session: ghost, Expected: 1})
	wantCode(t, err, errs.CodeNotFound)

	got, _ := store.GetSession(ctx, "s1")
	if got.Version != 2 || got.Status != model.StatusInProgress {
		t.Fatalf("stored = v%d %s", got.Version, got.Status)
	}
	_, err = store.GetSession(ctx, "missing")
	wantCode(t, err, errs.CodeNotFound)
}
