package model

// Definition is a configured checkpoint as published by curriculum authoring.
// It is read-only to the engine and immutable while a session is active.
type Definition struct {
	ID                 string              `json:"id" toml:"id"`
	Title              string              `json:"title" toml:"title"`
	CommunityID        string              `json:"community_id,omitempty" toml:"community_id"`
	TimeLimitSeconds   *int                `json:"time_limit_seconds,omitempty" toml:"time_limit_seconds"` // nil = unlimited
	MaxAttempts        int                 `json:"max_attempts,omitempty" toml:"max_attempts"`             // 0 = unlimited
	RequireIdentity    bool                `json:"require_identity,omitempty" toml:"require_identity"`
	AllowPause         bool                `json:"allow_pause,omitempty" toml:"allow_pause"`
	IdleTimeoutSeconds int                 `json:"idle_timeout_seconds,omitempty" toml:"idle_timeout_seconds"`
	Thresholds         Thresholds          `json:"thresholds" toml:"thresholds"`
	Accommodations     AccommodationPolicy `json:"accommodations" toml:"accommodations"`
	AllowedFormats     []string            `json:"allowed_formats,omitempty" toml:"allowed_formats"`
	Integrity          IntegritySettings   `json:"integrity" toml:"integrity"`
	Scoring            ScoringConfig       `json:"scoring" toml:"scoring"`
	Questions          []QuestionRef       `json:"questions" toml:"questions"`
}

// QuestionRef places a bank question in a checkpoint with a weight that
// overrides the bank's default points when non-zero.
type QuestionRef struct {
	QuestionID string  `json:"question_id" toml:"question_id"`
	Weight     float64 `json:"weight,omitempty" toml:"weight"`
}

// Thresholds are percentage cut-offs. Zero merit/distinction disables the tier.
type Thresholds struct {
	Passing     float64 `json:"passing" toml:"passing"`
	Merit       float64 `json:"merit,omitempty" toml:"merit"`
	Distinction float64 `json:"distinction,omitempty" toml:"distinction"`
}

type Grade string

const (
	GradeFail        Grade = "fail"
	GradePass        Grade = "pass"
	GradeMerit       Grade = "merit"
	GradeDistinction Grade = "distinction"
)

// AccommodationPolicy is what the checkpoint permits, independent of learner.
type AccommodationPolicy struct {
	AllowExtendedTime bool    `json:"allow_extended_time" toml:"allow_extended_time"`
	MaxTimeMultiplier float64 `json:"max_time_multiplier,omitempty" toml:"max_time_multiplier"` // 0 = no cap
	AllowBreaks       bool    `json:"allow_breaks" toml:"allow_breaks"`
	MaxBreaks         int     `json:"max_breaks,omitempty" toml:"max_breaks"`                 // 0 = no cap
	MaxBreakSeconds   int     `json:"max_break_seconds,omitempty" toml:"max_break_seconds"` // 0 = no cap
}

// ScoringConfig carries partial-credit and review rules for a checkpoint.
type ScoringConfig struct {
	PartialCredit     bool       `json:"partial_credit" toml:"partial_credit"`
	MinPartialCredit  float64    `json:"min_partial_credit,omitempty" toml:"min_partial_credit"`
	ReviewBelow       Confidence `json:"review_below,omitempty" toml:"review_below"` // default medium
	MaxEditDistance   int        `json:"max_edit_distance,omitempty" toml:"max_edit_distance"`
	FuzzyCreditFactor float64    `json:"fuzzy_credit_factor,omitempty" toml:"fuzzy_credit_factor"`
}

// IntegritySettings configures the integrity monitor for a checkpoint.
type IntegritySettings struct {
	Enabled            bool            `json:"enabled" toml:"enabled"`
	MaxSuspiciousMarks int             `json:"max_suspicious_marks" toml:"max_suspicious_marks"`
	FrequencyRules     []FrequencyRule `json:"frequency_rules,omitempty" toml:"frequency_rules"`
	SequenceRules      []SequenceRule  `json:"sequence_rules,omitempty" toml:"sequence_rules"`
}

// FrequencyRule marks events once Count events of Type occur within
// WindowSeconds. A zero window means the whole session.
type FrequencyRule struct {
	Type          EventType `json:"type" toml:"type"`
	Count         int       `json:"count" toml:"count"`
	WindowSeconds int       `json:"window_seconds,omitempty" toml:"window_seconds"`
	Code          string    `json:"code" toml:"code"`
}

// SequenceRule marks an event of type Then that follows an event of type
// First within WithinSeconds.
type SequenceRule struct {
	First         EventType `json:"first" toml:"first"`
	Then          EventType `json:"then" toml:"then"`
	WithinSeconds int       `json:"within_seconds" toml:"within_seconds"`
	Code          string    `json:"code" toml:"code"`
}

// Question is a question-bank entry as consumed for scoring.
type Question struct {
	ID           string       `json:"id" toml:"id"`
	Type         QuestionType `json:"type" toml:"type"`
	Points       float64      `json:"points" toml:"points"`
	Key          AnswerKey    `json:"key" toml:"key"`
	Rubric       *Rubric      `json:"rubric,omitempty" toml:"rubric"`
	AlwaysReview bool         `json:"always_review,omitempty" toml:"always_review"`
}

// AnswerKey holds the correct answer for each question family. Only the
// fields relevant to the question type are populated.
type AnswerKey struct {
	Choices   []string          `json:"choices,omitempty" toml:"choices"`     // accepted options (mc, tf, multi-select)
	Numeric   string            `json:"numeric,omitempty" toml:"numeric"`     // target value
	Tolerance string            `json:"tolerance,omitempty" toml:"tolerance"` // "tol=0.01" or "reltol=0.05"
	Pairs     map[string]string `json:"pairs,omitempty" toml:"pairs"`
	Blanks    [][]string        `json:"blanks,omitempty" toml:"blanks"` // accepted alternatives per blank
	Order     []string          `json:"order,omitempty" toml:"order"`
	Accepted  []string          `json:"accepted,omitempty" toml:"accepted"` // short-answer exemplars
	Keywords  []string          `json:"keywords,omitempty" toml:"keywords"`
}

type Rubric struct {
	Criteria []Criterion `json:"criteria" toml:"criteria"`
	Max      float64     `json:"max_points" toml:"max_points"`
}

type Criterion struct {
	Key       string   `json:"key" toml:"key"`
	Desc      string   `json:"desc" toml:"desc"`
	MaxPoints float64  `json:"max_points" toml:"max_points"`
	Keywords  []string `json:"keywords,omitempty" toml:"keywords"`
}

// Confidence is the scoring engine's certainty in an assisted score.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Rank orders confidences; unknown values rank below low.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceLow:
		return 1
	case ConfidenceMedium:
		return 2
	case ConfidenceHigh:
		return 3
	}
	return 0
}
