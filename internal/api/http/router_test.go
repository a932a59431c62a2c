package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	api "github.com/mind-engage/mindengage-checkpoint/internal/api/http"
	authmw "github.com/mind-engage/mindengage-checkpoint/internal/auth/middleware"
	"github.com/mind-engage/mindengage-checkpoint/internal/catalog"
	"github.com/mind-engage/mindengage-checkpoint/internal/checkpoint"
	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
	"github.com/mind-engage/mindengage-checkpoint/internal/outbox"
	"github.com/mind-engage/mindengage-checkpoint/internal/rbac"
	"github.com/mind-engage/mindengage-checkpoint/internal/syncq"
)

const catalogTOML = `
[[checkpoints]]
id = "cp1"
title = "Fractions"
time_limit_seconds = 600
  [checkpoints.thresholds]
  passing = 60.0
  [[checkpoints.questions]]
  question_id = "q1"
  [[checkpoints.questions]]
  question_id = "q2"

[[questions]]
id = "q1"
type = "multiple_choice"
points = 1.0
  [questions.key]
  choices = ["b"]

[[questions]]
id = "q2"
type = "true_false"
points = 1.0
  [questions.key]
  choices = ["true"]
`

type client struct {
	t   *testing.T
	srv *httptest.Server
}

func newServer(t *testing.T) (*client, *outbox.MemoryLog) {
	t.Helper()
	cat, err := catalog.Parse(catalogTOML)
	if err != nil {
		t.Fatal(err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	events := outbox.NewMemoryLog()
	pub := outbox.NewPublisher(events, "test")
	store := syncq.NewMemoryStore()
	svc := checkpoint.NewService(checkpoint.NewMemoryStore(), cat, cat,
		checkpoint.WithProfiles(cat),
		checkpoint.WithIdentity(cat),
		checkpoint.WithPublisher(pub),
		checkpoint.WithLogger(log),
		checkpoint.WithSyncGate(syncq.NewGate(store)))
	q := syncq.New(store, svc, syncq.WithLogger(log), syncq.WithPublisher(pub))
	h := api.NewRouter(api.Deps{
		Sessions: svc,
		Sync:     q,
		Outbox:   events,
		Auth:     authmw.NewAuthService("secret", "test"),
		Verifier: cat,
		DevAuth:  true,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &client{t: t, srv: srv}, events
}

// do sends a request as user/role and decodes the JSON body into out.
func (c *client) do(method, path, user, role string, body any, out any) int {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			c.t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := nethttp.NewRequest(method, c.srv.URL+path, rd)
	if err != nil {
		c.t.Fatal(err)
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
		req.Header.Set("X-User-Role", role)
	}
	res, err := c.srv.Client().Do(req)
	if err != nil {
		c.t.Fatal(err)
	}
	defer res.Body.Close()
	if out != nil {
		_ = json.NewDecoder(res.Body).Decode(out)
	}
	return res.StatusCode
}

type apiError struct {
	Error struct {
		Code errs.Code `json:"code"`
	} `json:"error"`
}

func TestSessionFlowOverHTTP(t *testing.T) {
	c, events := newServer(t)
	const learner = rbac.RoleLearner

	var sess model.Session
	if code := c.do("POST", "/sessions", "u1", learner, map[string]any{"checkpoint_id": "cp1", "user_id": "someone-else"}, &sess); code != 201 {
		t.Fatalf("start: %d", code)
	}
	if sess.UserID != "u1" || sess.Status != model.StatusInProgress {
		t.Fatalf("session = %+v", sess)
	}
	base := "/sessions/" + sess.ID

	for qid, choice := range map[string]string{"q1": "b", "q2": "true"} {
		body := map[string]any{"question_id": qid, "payload": model.Payload{Answer: model.ChoiceAnswer{Choice: choice}}}
		if code := c.do("POST", base+"/responses", "u1", learner, body, nil); code != 200 {
			t.Fatalf("answer %s: %d", qid, code)
		}
	}

	if code := c.do("GET", base, "u2", learner, nil, nil); code != nethttp.StatusForbidden {
		t.Fatalf("other learner read: %d", code)
	}
	if code := c.do("POST", base+"/pause", "u2", learner, nil, nil); code != nethttp.StatusForbidden {
		t.Fatalf("other learner pause: %d", code)
	}
	if code := c.do("GET", base, "m1", rbac.RoleMentor, nil, nil); code != 200 {
		t.Fatalf("mentor read: %d", code)
	}

	var sum model.Summary
	if code := c.do("POST", base+"/submit", "u1", learner, nil, &sum); code != 200 {
		t.Fatalf("submit: %d", code)
	}
	if sum.ScorePercentage != 100 || sum.Status != model.StatusCompleted {
		t.Fatalf("summary = %+v", sum)
	}

	var e apiError
	if code := c.do("POST", base+"/pause", "u1", learner, nil, &e); code != nethttp.StatusConflict || e.Error.Code != errs.CodeInvalidTransition {
		t.Fatalf("pause after submit: %d %+v", code, e)
	}
	if code := c.do("GET", "/sessions/nope", "u1", learner, nil, &e); code != 404 || e.Error.Code != errs.CodeNotFound {
		t.Fatalf("missing: %d %+v", code, e)
	}

	var evs []outbox.Event
	if code := c.do("GET", "/outbox?after=0", "u1", learner, nil, nil); code != nethttp.StatusForbidden {
		t.Fatalf("learner outbox: %d", code)
	}
	if code := c.do("GET", "/outbox?after=0", "ops", rbac.RoleOperator, nil, &evs); code != 200 {
		t.Fatalf("outbox: %d", code)
	}
	got := map[string]bool{}
	for _, ev := range evs {
		got[ev.Type] = true
	}
	if !got[checkpoint.NoteSessionStarted] || !got[checkpoint.NoteSessionCompleted] {
		t.Fatalf("outbox types = %v", got)
	}
	if n, _ := events.Since(context.Background(), 0, 1000); len(n) != len(evs) {
		t.Fatalf("outbox returned %d of %d", len(evs), len(n))
	}
}

func TestSyncEndpoints(t *testing.T) {
	c, _ := newServer(t)
	batch := syncq.Batch{
		DeviceID:        "tablet-1",
		Session:         model.SessionSnapshot{ID: "off-1", CheckpointID: "cp1", UserID: "u1", Status: model.StatusInProgress},
		Checksum:        "deadbeef",
		ClientTimestamp: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if code := c.do("POST", "/sync/batches", "u2", rbac.RoleLearner, batch, nil); code != nethttp.StatusForbidden {
		t.Fatalf("foreign batch: %d", code)
	}

	var rejected struct {
		Error struct {
			Code errs.Code `json:"code"`
		} `json:"error"`
		Item model.SyncItem `json:"item"`
	}
	if code := c.do("POST", "/sync/batches", "u1", rbac.RoleLearner, batch, &rejected); code != nethttp.StatusUnprocessableEntity {
		t.Fatalf("bad checksum: %d", code)
	}
	if rejected.Error.Code != errs.CodeChecksumMismatch || rejected.Item.Status != model.SyncInvalid {
		t.Fatalf("rejected = %+v", rejected)
	}

	var it model.SyncItem
	if code := c.do("GET", "/sync/batches/"+rejected.Item.ID, "u1", rbac.RoleLearner, nil, &it); code != 200 || it.ID != rejected.Item.ID {
		t.Fatalf("get item: %d %+v", code, it)
	}
	if code := c.do("GET", "/sync/batches/"+rejected.Item.ID, "u3", rbac.RoleLearner, nil, nil); code != nethttp.StatusForbidden {
		t.Fatalf("foreign item: %d", code)
	}

	var view model.SessionSyncView
	if code := c.do("GET", "/sessions/off-1/sync", "ops", rbac.RoleOperator, nil, &view); code != 200 || view.SessionID != "off-1" {
		t.Fatalf("sync view: %d %+v", code, view)
	}

	var conflicts []model.SyncConflict
	if code := c.do("GET", "/conflicts", "u1", rbac.RoleLearner, nil, nil); code != nethttp.StatusForbidden {
		t.Fatalf("learner conflicts: %d", code)
	}
	if code := c.do("GET", "/conflicts?open=1", "m1", rbac.RoleMentor, nil, &conflicts); code != 200 || len(conflicts) != 0 {
		t.Fatalf("conflicts: %d %+v", code, conflicts)
	}
	var e apiError
	if code := c.do("POST", "/conflicts/none/resolve", "ops", rbac.RoleOperator, map[string]any{"strategy": "server_wins"}, &e); code != 404 {
		t.Fatalf("resolve missing: %d %+v", code, e)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[errs.Code]int{
		errs.CodeNotFound:                 404,
		errs.CodeInvalidInput:             400,
		errs.CodeInvalidTransition:        409,
		errs.CodeChecksumMismatch:         422,
		errs.CodeIdentityRequired:         403,
		errs.CodeScoringUnavailable:       503,
		errs.CodeAccommodationNotApproved: 422,
	}
	for code, want := range cases {
		if got := api.StatusFor(errs.New(code, "test", "x")); got != want {
			t.Errorf("%s -> %d, want %d", code, got, want)
		}
	}
	if got := api.StatusFor(io.EOF); got != 500 {
		t.Errorf("plain error -> %d", got)
	}
}

func TestHealth(t *testing.T) {
	c, _ := newServer(t)
	if code := c.do("GET", "/healthz", "", "", nil, nil); code != 200 {
		t.Fatalf("healthz: %d", code)
	}
	if code := c.do("GET", "/sessions/x", "", "", nil, nil); code != nethttp.StatusUnauthorized {
		t.Fatalf("anonymous: %d", code)
	}
}
