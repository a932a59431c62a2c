package model

import "time"

// SyncStatus is the processing state of a queued offline batch.
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncProcessing SyncStatus = "processing"
	SyncValidated  SyncStatus = "validated"
	SyncInvalid    SyncStatus = "invalid"
	SyncCompleted  SyncStatus = "completed"
	SyncFailed     SyncStatus = "failed"
)

// Terminal reports whether the item will never be processed again.
func (s SyncStatus) Terminal() bool {
	return s == SyncInvalid || s == SyncCompleted || s == SyncFailed
}

// SessionSnapshot is the client's view of a session at batch time.
type SessionSnapshot struct {
	ID                   string     `json:"id"`
	CheckpointID         string     `json:"checkpoint_id"`
	UserID               string     `json:"user_id"`
	CommunityID          string     `json:"community_id,omitempty"`
	Status               Status     `json:"status"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	ElapsedSeconds       int        `json:"time_elapsed_seconds"`
	CurrentQuestionIndex int        `json:"current_question_index"`
	BaseVersion          int64      `json:"base_version"` // last server version the client saw
	IdentityVerified     bool       `json:"identity_verified,omitempty"`
}

// ResponseSnapshot is one offline-held response.
type ResponseSnapshot struct {
	QuestionID        string         `json:"question_id"`
	Payload           Payload        `json:"payload"`
	Status            ResponseStatus `json:"status"`
	AnsweredAt        *time.Time     `json:"answered_at,omitempty"`
	OfflineAnsweredAt *time.Time     `json:"offline_answered_at,omitempty"`
	TimeSpentSeconds  int            `json:"time_spent_seconds"`
	Checksum          string         `json:"checksum,omitempty"`
}

// AnswerTime mirrors Response.LatestAnswerAt for snapshots.
func (r ResponseSnapshot) AnswerTime() time.Time {
	switch {
	case r.OfflineAnsweredAt != nil:
		return *r.OfflineAnsweredAt
	case r.AnsweredAt != nil:
		return *r.AnsweredAt
	}
	return time.Time{}
}

// SyncItem is a submitted offline batch.
type SyncItem struct {
	ID              string             `json:"id"`
	DeviceID        string             `json:"device_id"`
	SessionID       string             `json:"session_id"`
	Session         SessionSnapshot    `json:"session"`
	Responses       []ResponseSnapshot `json:"responses"`
	Events          []Event            `json:"events"`
	Checksum        string             `json:"checksum"`
	ClientTimestamp time.Time          `json:"client_timestamp"`
	Status          SyncStatus         `json:"status"`
	RetryCount      int                `json:"retry_count"`
	MaxRetries      int                `json:"max_retries"`
	NextAttemptAt   time.Time          `json:"next_attempt_at"`
	ErrorMessage    string             `json:"error_message,omitempty"`
	ConflictCount   int                `json:"conflict_count"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	ProcessedAt     *time.Time         `json:"processed_at,omitempty"`
}

type ConflictEntity string

const (
	EntitySession  ConflictEntity = "session"
	EntityResponse ConflictEntity = "response"
)

type Strategy string

const (
	StrategyServerWins Strategy = "server_wins"
	StrategyClientWins Strategy = "client_wins"
	StrategyMerge      Strategy = "merge"
	StrategyManual     Strategy = "manual"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyServerWins, StrategyClientWins, StrategyMerge, StrategyManual:
		return true
	}
	return false
}

type ConflictStatus string

const (
	ConflictDetected    ConflictStatus = "detected"
	ConflictNeedsManual ConflictStatus = "needs_manual"
	ConflictResolved    ConflictStatus = "resolved"
)

// ConflictVersion is one side of a conflict. Session conflicts use Status and
// ElapsedSeconds; response conflicts use Payload and AnsweredAt.
type ConflictVersion struct {
	Status         Status         `json:"status,omitempty"`
	ElapsedSeconds int            `json:"time_elapsed_seconds,omitempty"`
	Payload        Payload        `json:"payload"`
	ResponseStatus ResponseStatus `json:"response_status,omitempty"`
	AnsweredAt     *time.Time     `json:"answered_at,omitempty"`
	Version        int64          `json:"version"`
}

// SyncConflict records a disagreement between the client and server copy of
// one entity. Conflicts are resolved, never deleted.
type SyncConflict struct {
	ID         string           `json:"id"`
	SyncItemID string           `json:"sync_item_id"`
	SessionID  string           `json:"session_id"`
	Entity     ConflictEntity   `json:"entity"`
	EntityID   string           `json:"entity_id"`
	Fields     []string         `json:"fields"`
	Client     ConflictVersion  `json:"client"`
	Server     ConflictVersion  `json:"server"`
	Strategy   Strategy         `json:"strategy"`
	Status     ConflictStatus   `json:"status"`
	Merged     *ConflictVersion `json:"merged,omitempty"`
	Resolution string           `json:"resolution,omitempty"`
	ResolvedBy string           `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time       `json:"resolved_at,omitempty"`
	DetectedAt time.Time        `json:"detected_at"`
}

// Open reports whether the conflict still awaits a decision.
func (c SyncConflict) Open() bool { return c.Status != ConflictResolved }

// SessionSyncView is the learner-facing sync state of a session.
type SessionSyncView struct {
	SessionID     string `json:"session_id"`
	State         string `json:"state"` // pending|synced|conflict|failed|none
	PendingItems  int    `json:"pending_items"`
	FailedItems   int    `json:"failed_items"`
	OpenConflicts int    `json:"open_conflicts"`
	LastError     string `json:"last_error,omitempty"`
}
