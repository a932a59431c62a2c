// Package integrity classifies session events as suspicious using the rules
// configured on a checkpoint. Analysis is pure: the same ordered event list
// always yields the same report.
package integrity

import (
	"sort"
	"strings"
	"time"

	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// Mark is one rule hit on one event.
type Mark struct {
	EventID string          `json:"event_id"`
	Type    model.EventType `json:"type"`
	Code    string          `json:"code"`
	At      time.Time       `json:"at"`
}

// Report is the result of analysing a session's event list.
type Report struct {
	Marks   []Mark   `json:"marks"`
	Flags   []string `json:"flags,omitempty"` // distinct codes, sorted
	Flagged bool     `json:"flagged"`
}

// Default returns the integrity settings applied when a checkpoint enables
// monitoring without rules of its own.
func Default() model.IntegritySettings {
	return model.IntegritySettings{
		Enabled:            true,
		MaxSuspiciousMarks: 3,
		FrequencyRules: []model.FrequencyRule{
			{Type: model.EventTabSwitch, Count: 5, WindowSeconds: 300, Code: "EXCESSIVE_TAB_SWITCHING"},
			{Type: model.EventFocusLost, Count: 5, WindowSeconds: 300, Code: "FREQUENT_FOCUS_LOSS"},
			{Type: model.EventCopyAttempt, Count: 3, WindowSeconds: 600, Code: "REPEATED_COPY"},
			{Type: model.EventDevtoolsOpen, Count: 1, Code: "DEVTOOLS_OPENED"},
			{Type: model.EventScreenshot, Count: 1, Code: "SCREENSHOT_ATTEMPT"},
		},
		SequenceRules: []model.SequenceRule{
			{First: model.EventTabSwitch, Then: model.EventPasteAttempt, WithinSeconds: 30, Code: "PASTE_AFTER_TAB_SWITCH"},
			{First: model.EventFocusLost, Then: model.EventAnswerSaved, WithinSeconds: 5, Code: "ANSWER_AFTER_FOCUS_LOSS"},
		},
	}
}

// Effective returns s, or Default when s is enabled but carries no rules.
func Effective(s model.IntegritySettings) model.IntegritySettings {
	if s.Enabled && len(s.FrequencyRules) == 0 && len(s.SequenceRules) == 0 {
		d := Default()
		if s.MaxSuspiciousMarks > 0 {
			d.MaxSuspiciousMarks = s.MaxSuspiciousMarks
		}
		return d
	}
	return s
}

// Analyze applies settings to events. events need not be sorted; a sorted
// copy is analysed so arrival order never changes the outcome. A session is
// flagged once its mark count exceeds MaxSuspiciousMarks.
func Analyze(events []model.Event, settings model.IntegritySettings) Report {
	var rep Report
	if !settings.Enabled || len(events) == 0 {
		return rep
	}
	evs := append([]model.Event(nil), events...)
	model.SortEvents(evs)

	for _, r := range settings.FrequencyRules {
		rep.Marks = append(rep.Marks, frequency(evs, r)...)
	}
	for _, r := range settings.SequenceRules {
		rep.Marks = append(rep.Marks, sequence(evs, r)...)
	}
	sort.SliceStable(rep.Marks, func(i, j int) bool {
		a, b := rep.Marks[i], rep.Marks[j]
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		if a.EventID != b.EventID {
			return a.EventID < b.EventID
		}
		return a.Code < b.Code
	})

	seen := map[string]bool{}
	for _, m := range rep.Marks {
		if !seen[m.Code] {
			seen[m.Code] = true
			rep.Flags = append(rep.Flags, m.Code)
		}
	}
	sort.Strings(rep.Flags)
	rep.Flagged = len(rep.Marks) > settings.MaxSuspiciousMarks
	return rep
}

// Annotate returns a copy of events with Suspicious and SuspiciousReason set
// from rep.
func Annotate(events []model.Event, rep Report) []model.Event {
	codes := map[string][]string{}
	for _, m := range rep.Marks {
		codes[m.EventID] = append(codes[m.EventID], m.Code)
	}
	out := make([]model.Event, len(events))
	for i, e := range events {
		if c, ok := codes[e.ID]; ok {
			e.Suspicious = true
			e.SuspiciousReason = strings.Join(c, ",")
		}
		out[i] = e
	}
	return out
}

// frequency marks every event of r.Type that is at least the Count-th such
// event inside the trailing window.
func frequency(evs []model.Event, r model.FrequencyRule) []Mark {
	if r.Count <= 0 {
		return nil
	}
	window := time.Duration(r.WindowSeconds) * time.Second
	var marks []Mark
	var recent []time.Time
	for _, e := range evs {
		if e.Type != r.Type {
			continue
		}
		recent = append(recent, e.Timestamp)
		if window > 0 {
			for len(recent) > 0 && e.Timestamp.Sub(recent[0]) > window {
				recent = recent[1:]
			}
		}
		if len(recent) >= r.Count {
			marks = append(marks, Mark{EventID: e.ID, Type: e.Type, Code: r.Code, At: e.Timestamp})
		}
	}
	return marks
}

// sequence marks each r.Then event that follows an r.First event within
// WithinSeconds.
func sequence(evs []model.Event, r model.SequenceRule) []Mark {
	within := time.Duration(r.WithinSeconds) * time.Second
	var marks []Mark
	var last *time.Time
	for _, e := range evs {
		switch e.Type {
		case r.First:
			ts := e.Timestamp
			last = &ts
		case r.Then:
			if last != nil && e.Timestamp.Sub(*last) <= within {
				marks = append(marks, Mark{EventID: e.ID, Type: e.Type, Code: r.Code, At: e.Timestamp})
			}
		}
	}
	return marks
}
