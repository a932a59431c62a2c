package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-checkpoint/internal/auth/middleware"
	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
	"github.com/mind-engage/mindengage-checkpoint/internal/outbox"
	"github.com/mind-engage/mindengage-checkpoint/internal/rbac"
	"github.com/mind-engage/mindengage-checkpoint/internal/syncq"
)

// SyncQueue is the offline sync queue as seen by the HTTP layer.
type SyncQueue interface {
	Enqueue(ctx context.Context, b syncq.Batch) (model.SyncItem, error)
	Item(ctx context.Context, id string) (model.SyncItem, error)
	SessionSyncStatus(ctx context.Context, sessionID string) (model.SessionSyncView, error)
	ListConflicts(ctx context.Context, f syncq.ConflictFilter) ([]model.SyncConflict, error)
	ResolveConflict(ctx context.Context, in syncq.ResolveInput) (model.SyncConflict, error)
	RetryFailed(ctx context.Context, id string) (model.SyncItem, error)
}

// POST /sync/batches
// A checksum mismatch answers 422 with the stored invalid item so the device
// can see the batch was rejected rather than lost.
func EnqueueBatchHandler(q SyncQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var b syncq.Batch
		if !decode(w, r, &b) {
			return
		}
		if b.Session.UserID != authmw.SubjectFromContext(r.Context()) && !rbac.Allowed(r.Context(), "sync:enqueue-any") {
			forbidden(w)
			return
		}
		it, err := q.Enqueue(r.Context(), b)
		switch {
		case errs.Is(err, errs.CodeChecksumMismatch) && it.ID != "":
			respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error": errorBody{Code: errs.CodeChecksumMismatch, Message: "checksum mismatch"},
				"item":  it,
			})
		case err != nil:
			writeError(w, err)
		default:
			respondJSON(w, http.StatusAccepted, it)
		}
	}
}

// GET /sync/batches/{itemID}
func GetBatchHandler(q SyncQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		it, err := q.Item(r.Context(), chi.URLParam(r, "itemID"))
		if err != nil {
			writeError(w, err)
			return
		}
		if it.Session.UserID != authmw.SubjectFromContext(r.Context()) && !rbac.Allowed(r.Context(), "sync:view-all") {
			forbidden(w)
			return
		}
		respondJSON(w, http.StatusOK, it)
	}
}

// POST /sync/batches/{itemID}/retry (operator)
func RetryBatchHandler(q SyncQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		it, err := q.RetryFailed(r.Context(), chi.URLParam(r, "itemID"))
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusAccepted, it)
	}
}

// GET /sessions/{sessionID}/sync
func SessionSyncHandler(svc Sessions, q SyncQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		sess, err := svc.GetSession(r.Context(), id)
		switch {
		case errs.Is(err, errs.CodeNotFound):
			// An offline session may still be queued for import.
			if !rbac.Allowed(r.Context(), "sync:view-all") {
				writeError(w, err)
				return
			}
		case err != nil:
			writeError(w, err)
			return
		case sess.UserID != authmw.SubjectFromContext(r.Context()) && !rbac.Allowed(r.Context(), "sync:view-all"):
			forbidden(w)
			return
		}
		view, err := q.SessionSyncStatus(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, view)
	}
}

// GET /conflicts?session_id=&open=1
func ListConflictsHandler(q SyncQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		qs := r.URL.Query()
		list, err := q.ListConflicts(r.Context(), syncq.ConflictFilter{
			SessionID: qs.Get("session_id"),
			OpenOnly:  qs.Get("open") == "1" || qs.Get("open") == "true",
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if list == nil {
			list = []model.SyncConflict{}
		}
		respondJSON(w, http.StatusOK, list)
	}
}

// POST /conflicts/{conflictID}/resolve {"strategy": "...", "merged_value": {...}}
func ResolveConflictHandler(q SyncQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in syncq.ResolveInput
		if !decode(w, r, &in) {
			return
		}
		in.ConflictID = chi.URLParam(r, "conflictID")
		in.Actor = authmw.SubjectFromContext(r.Context())
		c, err := q.ResolveConflict(r.Context(), in)
		if errs.Is(err, errs.CodeSyncConflict) {
			// The server copy moved; the refreshed conflict lets the caller
			// decide again.
			respondJSON(w, http.StatusConflict, map[string]any{
				"error":    errorBody{Code: errs.CodeSyncConflict, Message: "server copy changed"},
				"conflict": c,
			})
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, c)
	}
}

/* ---------- outbox ---------- */

// GET /outbox?after=&limit=
func OutboxHandler(l outbox.Log) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after := int64(parseIntDefault(r.URL.Query().Get("after"), 0))
		limit := min(parseIntDefault(r.URL.Query().Get("limit"), 100), 1000)
		if limit == 0 {
			limit = 100
		}
		evs, err := l.Since(r.Context(), after, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		if evs == nil {
			evs = []outbox.Event{}
		}
		respondJSON(w, http.StatusOK, evs)
	}
}
