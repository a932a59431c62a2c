package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-checkpoint/internal/auth/middleware"
	"github.com/mind-engage/mindengage-checkpoint/internal/checkpoint"
	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
	"github.com/mind-engage/mindengage-checkpoint/internal/rbac"
)

// Sessions is the session engine as seen by the HTTP layer.
type Sessions interface {
	StartSession(ctx context.Context, in checkpoint.StartInput) (model.Session, error)
	Begin(ctx context.Context, id, proof string) (model.Session, error)
	Pause(ctx context.Context, id string) (model.Session, error)
	Resume(ctx context.Context, id string) (model.Session, error)
	StartBreak(ctx context.Context, id string) (model.Session, error)
	EndBreak(ctx context.Context, id string) (model.Session, error)
	SubmitSession(ctx context.Context, id string) (model.Summary, error)
	Abandon(ctx context.Context, id, reason string) (model.Session, error)
	GetSession(ctx context.Context, id string) (model.Session, error)
	Summary(ctx context.Context, id string) (model.Summary, error)
	Responses(ctx context.Context, id string) ([]model.Response, error)
	Events(ctx context.Context, id string) ([]model.Event, error)
	Audit(ctx context.Context, id string) ([]model.AuditEntry, error)
	ViewQuestion(ctx context.Context, sessionID, questionID string) (model.Response, error)
	SkipQuestion(ctx context.Context, sessionID, questionID string) (model.Response, error)
	SubmitResponse(ctx context.Context, sessionID string, in checkpoint.AnswerInput) (model.Response, error)
	RecordEvent(ctx context.Context, sessionID string, ev model.Event) (model.Event, error)
	Heartbeat(ctx context.Context, sessionID string) (model.Session, error)
	Review(ctx context.Context, in checkpoint.ReviewInput) (model.Summary, error)
}

/* ---------- ownership ---------- */

// authorize loads the session in the URL and checks the caller owns it or
// holds staffPerm. It writes the response itself when it returns false.
func authorize(w http.ResponseWriter, r *http.Request, svc Sessions, staffPerm string) (model.Session, bool) {
	sess, err := svc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return model.Session{}, false
	}
	sub := authmw.SubjectFromContext(r.Context())
	if sess.UserID == sub || (staffPerm != "" && rbac.Allowed(r.Context(), staffPerm)) {
		return sess, true
	}
	forbidden(w)
	return model.Session{}, false
}

/* ---------- lifecycle ---------- */

// POST /sessions
func StartSessionHandler(svc Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in checkpoint.StartInput
		if !decode(w, r, &in) {
			return
		}
		in.UserID = authmw.SubjectFromContext(r.Context())
		sess, err := svc.StartSession(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusCreated, sess)
	}
}

// GET /sessions/{sessionID}
func GetSessionHandler(svc Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := authorize(w, r, svc, "session:view-all")
		if !ok {
			return
		}
		responses, err := svc.Responses(r.Context(), sess.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"session": sess, "responses": responses})
	}
}

// transitionHandler serves the bodiless owner-only transitions.
func transitionHandler(svc Sessions, fn func(ctx context.Context, id string) (model.Session, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := authorize(w, r, svc, "")
		if !ok {
			return
		}
		out, err := fn(r.Context(), sess.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, out)
	}
}

// POST /sessions/{sessionID}/begin {"identity_proof": "..."}
func BeginHandler(svc Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := authorize(w, r, svc, "")
		if !ok {
			return
		}
		var req struct {
			Proof string `json:"identity_proof"`
		}
		if r.ContentLength != 0 && !decode(w, r, &req) {
			return
		}
		out, err := svc.Begin(r.Context(), sess.ID, req.Proof)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, out)
	}
}

// POST /sessions/{sessionID}/submit
func SubmitSessionHandler(svc Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := authorize(w, r, svc, "")
		if !ok {
			return
		}
		sum, err := svc.SubmitSession(r.Context(), sess.ID)
		switch {
		case errs.Is(err, errs.CodeScoringUnavailable):
			respondJSON(w, http.StatusAccepted, sum)
		case err != nil:
			writeError(w, err)
		default:
			respondJSON(w, http.StatusOK, sum)
		}
	}
}

// POST /sessions/{sessionID}/abandon {"reason": "..."}
func AbandonHandler(svc Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := authorize(w, r, svc, "session:abandon-any")
		if !ok {
			return
		}
		var req struct {
			Reason string `json:"reason"`
		}
		if r.ContentLength != 0 && !decode(w, r, &req) {
			return
		}
		out, err := svc.Abandon(r.Context(), sess.ID, req.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, out)
	}
}

// GET /sessions/{sessionID}/summary
func SummaryHandler(svc Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := authorize(w, r, svc, "session:view-all")
		if !ok {
			return
		}
		sum, err := svc.Summary(r.Context(), sess.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, sum)
	}
}

/* ---------- responses & events ---------- */

// POST /sessions/{sessionID}/responses
func SubmitResponseHandler(svc Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := authorize(w, r, svc, "")
		if !ok {
			return
		}
		var in checkpoint.AnswerInput
		if !decode(w, r, &in) {
			return
		}
		resp, err := svc.SubmitResponse(r.Context(), sess.ID, in)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

// POST /sessions/{sessionID}/questions/{questionID}/view and /skip
func QuestionHandler(svc Sessions, skip bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := authorize(w, r, svc, "")
		if !ok {
			return
		}
		qid := chi.URLParam(r, "questionID")
		var (
			resp model.Response
			err  error
		)
		if skip {
			resp, err = svc.SkipQuestion(r.Context(), sess.ID, qid)
		} else {
			resp, err = svc.ViewQuestion(r.Context(), sess.ID, qid)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

// POST /sessions/{sessionID}/events
func RecordEventHandler(svc Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := authorize(w, r, svc, "")
		if !ok {
			return
		}
		var ev model.Event
		if !decode(w, r, &ev) {
			return
		}
		out, err := svc.RecordEvent(r.Context(), sess.ID, ev)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, out)
	}
}

// GET /sessions/{sessionID}/events
func ListEventsHandler(svc Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := authorize(w, r, svc, "session:view-all")
		if !ok {
			return
		}
		evs, err := svc.Events(r.Context(), sess.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, evs)
	}
}

/* ---------- review ---------- */

// POST /sessions/{sessionID}/review (mentor)
func ReviewHandler(svc Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in checkpoint.ReviewInput
		if !decode(w, r, &in) {
			return
		}
		in.SessionID = chi.URLParam(r, "sessionID")
		in.Reviewer = authmw.SubjectFromContext(r.Context())
		sum, err := svc.Review(r.Context(), in)
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, sum)
	}
}

// GET /sessions/{sessionID}/audit (staff)
func AuditHandler(svc Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := svc.Audit(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, entries)
	}
}
