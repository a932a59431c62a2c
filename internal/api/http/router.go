// Package http is the thin HTTP adapter over the session engine and the
// offline sync queue.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	authmw "github.com/mind-engage/mindengage-checkpoint/internal/auth/middleware"
	"github.com/mind-engage/mindengage-checkpoint/internal/outbox"
	"github.com/mind-engage/mindengage-checkpoint/internal/rbac"
)

type Deps struct {
	Sessions Sessions
	Sync     SyncQueue
	Outbox   outbox.Log // optional
	Auth     *authmw.AuthService
	Verifier authmw.Verifier
	// DevAuth trusts X-User-ID headers and PIN-less logins.
	DevAuth     bool
	CORSOrigins []string
	// RequestLog adds chi's request logger.
	RequestLog bool
	// Ready reports storage health for /readyz.
	Ready func(ctx context.Context) error
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	if d.RequestLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-User-ID", "X-User-Role"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(200)
	})
	if d.Verifier != nil {
		r.Post("/auth/login", authmw.LoginHandler(d.Auth, d.Verifier, d.DevAuth))
	}

	// Protected API (JWT → role in context → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(d.Auth, d.DevAuth))
		svc := d.Sessions

		pr.With(rbac.Require("session:start")).Post("/sessions", StartSessionHandler(svc))
		pr.Route("/sessions/{sessionID}", func(sr chi.Router) {
			sr.With(rbac.Require("session:view-own", "session:view-all")).Get("/", GetSessionHandler(svc))
			sr.With(rbac.Require("session:view-own", "session:view-all")).Get("/summary", SummaryHandler(svc))
			sr.With(rbac.Require("session:view-own", "session:view-all")).Get("/events", ListEventsHandler(svc))
			sr.With(rbac.Require("sync:view-own", "sync:view-all")).Get("/sync", SessionSyncHandler(svc, d.Sync))
			sr.With(rbac.Require("session:review", "session:view-all")).Get("/audit", AuditHandler(svc))
			sr.With(rbac.Require("session:review")).Post("/review", ReviewHandler(svc))
			sr.With(rbac.Require("session:run", "session:abandon-any")).Post("/abandon", AbandonHandler(svc))

			sr.Group(func(run chi.Router) {
				run.Use(rbac.Require("session:run"))
				run.Post("/begin", BeginHandler(svc))
				run.Post("/pause", transitionHandler(svc, svc.Pause))
				run.Post("/resume", transitionHandler(svc, svc.Resume))
				run.Post("/break", transitionHandler(svc, svc.StartBreak))
				run.Post("/break/end", transitionHandler(svc, svc.EndBreak))
				run.Post("/heartbeat", transitionHandler(svc, svc.Heartbeat))
				run.Post("/submit", SubmitSessionHandler(svc))
				run.Post("/responses", SubmitResponseHandler(svc))
				run.Post("/events", RecordEventHandler(svc))
				run.Post("/questions/{questionID}/view", QuestionHandler(svc, false))
				run.Post("/questions/{questionID}/skip", QuestionHandler(svc, true))
			})
		})

		pr.With(rbac.Require("sync:enqueue")).Post("/sync/batches", EnqueueBatchHandler(d.Sync))
		pr.With(rbac.Require("sync:view-own", "sync:view-all")).Get("/sync/batches/{itemID}", GetBatchHandler(d.Sync))
		pr.With(rbac.Require("sync:retry")).Post("/sync/batches/{itemID}/retry", RetryBatchHandler(d.Sync))

		pr.With(rbac.Require("conflict:view")).Get("/conflicts", ListConflictsHandler(d.Sync))
		pr.With(rbac.Require("conflict:resolve")).Post("/conflicts/{conflictID}/resolve", ResolveConflictHandler(d.Sync))

		if d.Outbox != nil {
			pr.With(rbac.Require("outbox:read")).Get("/outbox", OutboxHandler(d.Outbox))
		}
	})
	return r
}
