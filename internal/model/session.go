package model

import "time"

// Status is the lifecycle state of a checkpoint session.
type Status string

const (
	StatusInitializing     Status = "initializing"
	StatusInProgress       Status = "in_progress"
	StatusPaused           Status = "paused"
	StatusOnBreak          Status = "on_break"
	StatusSubmitted        Status = "submitted"
	StatusTimedOut         Status = "timed_out"
	StatusScored           Status = "scored"
	StatusCompleted        Status = "completed"
	StatusAbandoned        Status = "abandoned"
	StatusFlaggedForReview Status = "flagged_for_review"
	StatusReviewed         Status = "reviewed"
)

// AllStatuses lists every state in lifecycle order.
var AllStatuses = []Status{
	StatusInitializing, StatusInProgress, StatusPaused, StatusOnBreak,
	StatusSubmitted, StatusTimedOut, StatusScored, StatusCompleted,
	StatusAbandoned, StatusFlaggedForReview, StatusReviewed,
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Final reports whether no further lifecycle transition is possible.
func (s Status) Final() bool {
	return s == StatusCompleted || s == StatusReviewed || s == StatusAbandoned
}

// Live reports whether the learner can still change answers.
func (s Status) Live() bool {
	return s == StatusInProgress || s == StatusPaused || s == StatusOnBreak
}

// AwaitingScore reports whether the session was closed but not yet scored.
func (s Status) AwaitingScore() bool {
	return s == StatusSubmitted || s == StatusTimedOut
}

// HandedIn reports whether the attempt was submitted or timed out, whatever
// happened to it afterwards.
func (s Status) HandedIn() bool {
	return s.Closed() && s != StatusAbandoned
}

// Closed reports whether answers are frozen (submitted or later).
func (s Status) Closed() bool {
	return !s.Live() && s != StatusInitializing
}

type SubmitReason string

const (
	SubmitExplicit    SubmitReason = "explicit"
	SubmitTimeExpired SubmitReason = "time_expired"
)

// BreakPolicy is the effective break allowance for a session.
type BreakPolicy struct {
	Allowed         bool `json:"allowed"`
	MaxBreaks       int  `json:"max_breaks,omitempty"`        // 0 = unlimited
	MaxBreakSeconds int  `json:"max_break_seconds,omitempty"` // 0 = unlimited
}

// Session is one learner attempt at a checkpoint.
type Session struct {
	ID            string `json:"id"`
	CheckpointID  string `json:"checkpoint_id"`
	UserID        string `json:"user_id"`
	CommunityID   string `json:"community_id,omitempty"`
	AttemptNumber int    `json:"attempt_number"`
	Status        Status `json:"status"`

	StartedAt        *time.Time  `json:"started_at,omitempty"`
	TimeLimitSeconds *int        `json:"time_limit_seconds,omitempty"`
	TimeMultiplier   float64     `json:"time_multiplier"`
	ElapsedSeconds   int         `json:"time_elapsed_seconds"`
	ClockStartedAt   *time.Time  `json:"clock_started_at,omitempty"`
	Breaks           BreakPolicy `json:"break_policy"`
	BreaksTaken      int         `json:"breaks_taken"`
	BreakSecondsUsed int         `json:"break_seconds_used"`
	BreakStartedAt   *time.Time  `json:"break_started_at,omitempty"`
	Formats          []string    `json:"formats,omitempty"`

	QuestionsTotal       int `json:"questions_total"`
	QuestionsAnswered    int `json:"questions_answered"`
	QuestionsSkipped     int `json:"questions_skipped"`
	CurrentQuestionIndex int `json:"current_question_index"`

	Score           float64 `json:"score"`
	MaxScore        float64 `json:"max_score"`
	ScorePercentage float64 `json:"score_percentage"`
	Grade           Grade   `json:"grade,omitempty"`
	RequiresReview  bool    `json:"requires_review"`

	IsOffline       bool   `json:"is_offline"`
	OfflineChecksum string `json:"offline_checksum,omitempty"`
	SyncValidated   bool   `json:"sync_validated"`
	ImportedFrom    string `json:"imported_from,omitempty"` // sync item that created the session

	// LastSyncItem is the last batch replayed into the session and
	// LastSyncVersion the version that replay left. LastSyncDevice is set
	// only when that batch was built on the then-current server copy.
	LastSyncItem    string `json:"last_sync_item,omitempty"`
	LastSyncDevice  string `json:"last_sync_device,omitempty"`
	LastSyncVersion int64  `json:"last_sync_version,omitempty"`

	IntegrityFlagged bool     `json:"integrity_flagged"`
	IntegrityFlags   []string `json:"integrity_flags,omitempty"`

	SubmitReason   SubmitReason `json:"submit_reason,omitempty"`
	LastActivityAt *time.Time   `json:"last_activity_at,omitempty"`
	SubmittedAt    *time.Time   `json:"submitted_at,omitempty"`
	ScoredAt       *time.Time   `json:"scored_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	ReviewedBy     string       `json:"reviewed_by,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResponseStatus tracks a single question within a session.
type ResponseStatus string

const (
	ResponseNotViewed ResponseStatus = "not_viewed"
	ResponseViewed    ResponseStatus = "viewed"
	ResponseAnswered  ResponseStatus = "answered"
	ResponseFlagged   ResponseStatus = "flagged"
	ResponseSkipped   ResponseStatus = "skipped"
)

// Response is one row per (session, question).
type Response struct {
	SessionID  string         `json:"session_id"`
	QuestionID string         `json:"question_id"`
	Payload    Payload        `json:"payload"`
	Status     ResponseStatus `json:"status"`

	ViewedAt          *time.Time `json:"viewed_at,omitempty"`
	AnsweredAt        *time.Time `json:"answered_at,omitempty"`
	OfflineAnsweredAt *time.Time `json:"offline_answered_at,omitempty"`
	TimeSpentSeconds  int        `json:"time_spent_seconds"`

	PointsEarned    float64    `json:"points_earned"`
	PointsPossible  float64    `json:"points_possible"`
	IsCorrect       bool       `json:"is_correct"`
	PartialCredit   float64    `json:"partial_credit"`
	ScoreConfidence Confidence `json:"score_confidence,omitempty"`
	RequiresReview  bool       `json:"requires_review"`
	Feedback        []string   `json:"feedback,omitempty"`
	Scored          bool       `json:"scored"`

	Synced   bool   `json:"synced"`
	Checksum string `json:"checksum,omitempty"`

	OverriddenBy   string `json:"overridden_by,omitempty"`
	OverrideReason string `json:"override_reason,omitempty"`

	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LatestAnswerAt is the answer time used for merge ordering: the offline
// timestamp when present, otherwise the server-side answer time.
func (r Response) LatestAnswerAt() time.Time {
	switch {
	case r.OfflineAnsweredAt != nil:
		return *r.OfflineAnsweredAt
	case r.AnsweredAt != nil:
		return *r.AnsweredAt
	}
	return time.Time{}
}

// Summary is the scored result handed to progress tracking and credentialing.
type Summary struct {
	SessionID        string   `json:"session_id"`
	Status           Status   `json:"status"`
	Score            float64  `json:"score"`
	MaxScore         float64  `json:"max_score"`
	ScorePercentage  float64  `json:"score_percentage"`
	Grade            Grade    `json:"grade"`
	RequiresReview   bool     `json:"requires_review"`
	IntegrityFlagged bool     `json:"integrity_flagged"`
	IntegrityFlags   []string `json:"integrity_flags,omitempty"`
	PendingReview    bool     `json:"pending_review"`
}

// SummaryOf projects the scoring outputs of s.
func SummaryOf(s Session) Summary {
	return Summary{
		SessionID:        s.ID,
		Status:           s.Status,
		Score:            s.Score,
		MaxScore:         s.MaxScore,
		ScorePercentage:  s.ScorePercentage,
		Grade:            s.Grade,
		RequiresReview:   s.RequiresReview,
		IntegrityFlagged: s.IntegrityFlagged,
		IntegrityFlags:   append([]string(nil), s.IntegrityFlags...),
		PendingReview:    s.Status == StatusFlaggedForReview,
	}
}

// AuditEntry records an explicit override of scored data.
type AuditEntry struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	QuestionID string    `json:"question_id,omitempty"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Before     string    `json:"before,omitempty"`
	After      string    `json:"after,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
