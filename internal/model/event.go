package model

import (
	"sort"
	"time"
)

type EventType string

const (
	EventSessionStarted  EventType = "session_started"
	EventQuestionViewed  EventType = "question_viewed"
	EventAnswerSaved     EventType = "answer_saved"
	EventHeartbeat       EventType = "heartbeat"
	EventTabSwitch       EventType = "tab_switch"
	EventFocusLost       EventType = "focus_lost"
	EventFocusGained     EventType = "focus_gained"
	EventCopyAttempt     EventType = "copy_attempt"
	EventPasteAttempt    EventType = "paste_attempt"
	EventRightClick      EventType = "right_click"
	EventFullscreenExit  EventType = "fullscreen_exit"
	EventScreenshot      EventType = "screenshot_attempt"
	EventDevtoolsOpen    EventType = "devtools_open"
	EventNetworkOffline  EventType = "network_offline"
	EventNetworkOnline   EventType = "network_online"
	EventSessionPaused   EventType = "session_paused"
	EventSessionResumed  EventType = "session_resumed"
	EventBreakStarted    EventType = "break_started"
	EventBreakEnded      EventType = "break_ended"
	EventSessionSubmit   EventType = "session_submitted"
	EventSessionTimedOut EventType = "session_timed_out"
)

var knownEvents = map[EventType]bool{
	EventSessionStarted: true, EventQuestionViewed: true, EventAnswerSaved: true,
	EventHeartbeat: true, EventTabSwitch: true, EventFocusLost: true,
	EventFocusGained: true, EventCopyAttempt: true, EventPasteAttempt: true,
	EventRightClick: true, EventFullscreenExit: true, EventScreenshot: true,
	EventDevtoolsOpen: true, EventNetworkOffline: true, EventNetworkOnline: true,
	EventSessionPaused: true, EventSessionResumed: true, EventBreakStarted: true,
	EventBreakEnded: true, EventSessionSubmit: true, EventSessionTimedOut: true,
}

func (t EventType) Valid() bool { return knownEvents[t] }

type EventSource string

const (
	SourceClient EventSource = "client"
	SourceServer EventSource = "server"
	SourceSync   EventSource = "sync"
)

// EventData is the typed body of a session event. Fields are populated per
// event family: question events carry QuestionID, focus events carry
// AwayMillis, clipboard events carry TextLength.
type EventData struct {
	QuestionID string `json:"question_id,omitempty"`
	AwayMillis int64  `json:"away_ms,omitempty"`
	TextLength int    `json:"text_length,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Event is an append-only session log entry. It is never mutated after the
// store accepts it.
type Event struct {
	ID               string      `json:"id"`
	SessionID        string      `json:"session_id"`
	Type             EventType   `json:"type"`
	Data             EventData   `json:"data"`
	Timestamp        time.Time   `json:"timestamp"`
	Sequence         int64       `json:"sequence"`
	Source           EventSource `json:"source"`
	Suspicious       bool        `json:"suspicious"`
	SuspiciousReason string      `json:"suspicious_reason,omitempty"`
}

// SortEvents orders events by timestamp, then client sequence, then id, so
// replays never depend on arrival order.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return a.ID < b.ID
	})
}
