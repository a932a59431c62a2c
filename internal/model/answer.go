package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionNumeric        QuestionType = "numeric"
	QuestionMultipleSelect QuestionType = "multiple_select"
	QuestionMatching       QuestionType = "matching"
	QuestionFillBlank      QuestionType = "fill_blank"
	QuestionOrdering       QuestionType = "ordering"
	QuestionShortAnswer    QuestionType = "short_answer"
	QuestionEssay          QuestionType = "essay"
	QuestionOral           QuestionType = "oral"
)

// ScoringMode groups question types by how they are scored.
type ScoringMode int

const (
	ScoringExact ScoringMode = iota
	ScoringPartial
	ScoringAssisted
)

// Mode returns the scoring family of t. ok is false for unknown types.
func (t QuestionType) Mode() (ScoringMode, bool) {
	switch t {
	case QuestionMultipleChoice, QuestionTrueFalse, QuestionNumeric:
		return ScoringExact, true
	case QuestionMultipleSelect, QuestionMatching, QuestionFillBlank, QuestionOrdering:
		return ScoringPartial, true
	case QuestionShortAnswer, QuestionEssay, QuestionOral:
		return ScoringAssisted, true
	}
	return 0, false
}

// AnswerKind tags the Answer variant on the wire.
type AnswerKind string

const (
	AnswerChoice   AnswerKind = "choice"
	AnswerChoices  AnswerKind = "choices"
	AnswerNumeric  AnswerKind = "numeric"
	AnswerMatching AnswerKind = "matching"
	AnswerBlanks   AnswerKind = "blanks"
	AnswerOrdering AnswerKind = "ordering"
	AnswerText     AnswerKind = "text"
	AnswerMedia    AnswerKind = "media"
)

// Answer is a closed union of learner response shapes.
type Answer interface {
	Kind() AnswerKind
	isAnswer()
}

type ChoiceAnswer struct {
	Choice string `json:"choice"`
}

type MultiChoiceAnswer struct {
	Choices []string `json:"choices"`
}

type NumericAnswer struct {
	Value string `json:"value"`
}

// MatchingAnswer maps left-hand prompt ids to right-hand option ids.
type MatchingAnswer struct {
	Pairs map[string]string `json:"pairs"`
}

type BlanksAnswer struct {
	Blanks []string `json:"blanks"`
}

type OrderingAnswer struct {
	Order []string `json:"order"`
}

type TextAnswer struct {
	Text string `json:"text"`
}

// MediaAnswer references a recorded oral response. Transcript is optional and
// filled by the client or a speech service.
type MediaAnswer struct {
	URI             string `json:"uri"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Transcript      string `json:"transcript,omitempty"`
}

func (ChoiceAnswer) Kind() AnswerKind      { return AnswerChoice }
func (MultiChoiceAnswer) Kind() AnswerKind { return AnswerChoices }
func (NumericAnswer) Kind() AnswerKind     { return AnswerNumeric }
func (MatchingAnswer) Kind() AnswerKind    { return AnswerMatching }
func (BlanksAnswer) Kind() AnswerKind      { return AnswerBlanks }
func (OrderingAnswer) Kind() AnswerKind    { return AnswerOrdering }
func (TextAnswer) Kind() AnswerKind        { return AnswerText }
func (MediaAnswer) Kind() AnswerKind       { return AnswerMedia }

func (ChoiceAnswer) isAnswer()      {}
func (MultiChoiceAnswer) isAnswer() {}
func (NumericAnswer) isAnswer()     {}
func (MatchingAnswer) isAnswer()    {}
func (BlanksAnswer) isAnswer()      {}
func (OrderingAnswer) isAnswer()    {}
func (TextAnswer) isAnswer()        {}
func (MediaAnswer) isAnswer()       {}

// AnswerKindFor returns the variant a question type expects.
func AnswerKindFor(t QuestionType) (AnswerKind, bool) {
	switch t {
	case QuestionMultipleChoice, QuestionTrueFalse:
		return AnswerChoice, true
	case QuestionMultipleSelect:
		return AnswerChoices, true
	case QuestionNumeric:
		return AnswerNumeric, true
	case QuestionMatching:
		return AnswerMatching, true
	case QuestionFillBlank:
		return AnswerBlanks, true
	case QuestionOrdering:
		return AnswerOrdering, true
	case QuestionShortAnswer, QuestionEssay:
		return AnswerText, true
	case QuestionOral:
		return AnswerMedia, true
	}
	return "", false
}

// Payload wraps an Answer for storage and transport as
// {"kind": "...", "value": {...}}. A zero Payload encodes as null.
type Payload struct {
	Answer Answer
}

type payloadWire struct {
	Kind  AnswerKind      `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func (p Payload) IsZero() bool { return p.Answer == nil }

func (p Payload) MarshalJSON() ([]byte, error) {
	if p.Answer == nil {
		return []byte("null"), nil
	}
	v, err := json.Marshal(p.Answer)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payloadWire{Kind: p.Answer.Kind(), Value: v})
}

func (p *Payload) UnmarshalJSON(b []byte) error {
	if len(bytes.TrimSpace(b)) == 0 || bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		p.Answer = nil
		return nil
	}
	var w payloadWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	var a Answer
	var err error
	switch w.Kind {
	case AnswerChoice:
		var v ChoiceAnswer
		err = json.Unmarshal(w.Value, &v)
		a = v
	case AnswerChoices:
		var v MultiChoiceAnswer
		err = json.Unmarshal(w.Value, &v)
		a = v
	case AnswerNumeric:
		var v NumericAnswer
		err = json.Unmarshal(w.Value, &v)
		a = v
	case AnswerMatching:
		var v MatchingAnswer
		err = json.Unmarshal(w.Value, &v)
		a = v
	case AnswerBlanks:
		var v BlanksAnswer
		err = json.Unmarshal(w.Value, &v)
		a = v
	case AnswerOrdering:
		var v OrderingAnswer
		err = json.Unmarshal(w.Value, &v)
		a = v
	case AnswerText:
		var v TextAnswer
		err = json.Unmarshal(w.Value, &v)
		a = v
	case AnswerMedia:
		var v MediaAnswer
		err = json.Unmarshal(w.Value, &v)
		a = v
	default:
		return fmt.Errorf("unknown answer kind %q", w.Kind)
	}
	if err != nil {
		return fmt.Errorf("answer %s: %w", w.Kind, err)
	}
	p.Answer = a
	return nil
}

// SamePayload reports whether two payloads carry the same answer value.
// Map keys are ordered by encoding/json so the comparison is stable.
func SamePayload(a, b Payload) bool {
	if a.Answer == nil || b.Answer == nil {
		return a.Answer == nil && b.Answer == nil
	}
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	if err1 != nil || err2 != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
