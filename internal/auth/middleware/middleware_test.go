package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	auth "github.com/mind-engage/mindengage-checkpoint/internal/auth/middleware"
	"github.com/mind-engage/mindengage-checkpoint/internal/rbac"
)

type pins map[string]string

func (p pins) Verify(_ context.Context, userID, proof string) (bool, error) {
	return p[userID] != "" && p[userID] == proof, nil
}

// echo reports the identity the middleware attached.
var echo = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(auth.SubjectFromContext(r.Context()) + "/" + rbac.RoleFromContext(r.Context())))
})

func serve(h http.Handler, hdr map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestJWTMiddleware(t *testing.T) {
	a := auth.NewAuthService("secret", "mindengage")
	tok, err := a.IssueJWT("u1", rbac.RoleMentor)
	if err != nil {
		t.Fatal(err)
	}
	other, _ := auth.NewAuthService("other", "mindengage").IssueJWT("u1", rbac.RoleAdmin)

	h := auth.JWTMiddleware(a, false)(echo)
	if rec := serve(h, map[string]string{"Authorization": "Bearer " + tok}); rec.Code != 200 || rec.Body.String() != "u1/mentor" {
		t.Fatalf("valid token: %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve(h, map[string]string{"Authorization": "Bearer " + other}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("foreign token: %d", rec.Code)
	}
	if rec := serve(h, map[string]string{"X-User-ID": "u2"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("dev header accepted without dev mode: %d", rec.Code)
	}

	dev := auth.JWTMiddleware(a, true)(echo)
	if rec := serve(dev, map[string]string{"X-User-ID": "u2"}); rec.Body.String() != "u2/learner" {
		t.Fatalf("dev header: %q", rec.Body.String())
	}
	if rec := serve(dev, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: %d", rec.Code)
	}
}

func TestLoginHandler(t *testing.T) {
	a := auth.NewAuthService("secret", "mindengage")
	h := auth.LoginHandler(a, pins{"u1": "4321"}, false)
	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
		return rec
	}

	rec := post(`{"user_id":"u1","pin":"4321","role":"admin"}`)
	if rec.Code != 200 {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var out map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	c, err := a.Parse(out["access_token"])
	if err != nil {
		t.Fatal(err)
	}
	if c.Sub != "u1" || c.Role != rbac.RoleLearner {
		t.Fatalf("claims = %+v", c)
	}

	if rec := post(`{"user_id":"u1","pin":"0000"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong pin: %d", rec.Code)
	}
	if rec := post(`{"user_id":"u1"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no pin outside dev: %d", rec.Code)
	}
	if rec := post(`nope`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: %d", rec.Code)
	}
}
