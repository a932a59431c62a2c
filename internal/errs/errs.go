// Package errs defines the error taxonomy shared by the session engine,
// the scoring engine and the offline sync pipeline.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies a class of failure. Callers branch on codes, not messages.
type Code string

const (
	CodeInvalidTransition        Code = "INVALID_TRANSITION"
	CodeChecksumMismatch         Code = "CHECKSUM_MISMATCH"
	CodeStaleWrite               Code = "STALE_WRITE"
	CodeSyncConflict             Code = "SYNC_CONFLICT"
	CodeAccommodationNotApproved Code = "ACCOMMODATION_NOT_APPROVED"
	CodeScoringUnavailable       Code = "SCORING_UNAVAILABLE"
	CodeRetryExhausted           Code = "RETRY_EXHAUSTED"
	CodeNotFound                 Code = "NOT_FOUND"
	CodeInvalidInput             Code = "INVALID_INPUT"
	CodeIdentityRequired         Code = "IDENTITY_REQUIRED"
	CodeAttemptsExhausted        Code = "ATTEMPTS_EXHAUSTED"
)

// Sentinels for errors.Is. Matching is by code only.
var (
	ErrInvalidTransition        = &Error{Code: CodeInvalidTransition}
	ErrChecksumMismatch         = &Error{Code: CodeChecksumMismatch}
	ErrStaleWrite               = &Error{Code: CodeStaleWrite}
	ErrSyncConflict             = &Error{Code: CodeSyncConflict}
	ErrAccommodationNotApproved = &Error{Code: CodeAccommodationNotApproved}
	ErrScoringUnavailable       = &Error{Code: CodeScoringUnavailable}
	ErrRetryExhausted           = &Error{Code: CodeRetryExhausted}
	ErrNotFound                 = &Error{Code: CodeNotFound}
	ErrInvalidInput             = &Error{Code: CodeInvalidInput}
	ErrIdentityRequired         = &Error{Code: CodeIdentityRequired}
	ErrAttemptsExhausted        = &Error{Code: CodeAttemptsExhausted}
)

// Error carries enough context for a caller to act: which operation, which
// entity and, where relevant, which field.
type Error struct {
	Code   Code
	Op     string
	Entity string
	Field  string
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Code))
	b.WriteString("]")
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Entity != "" {
		b.WriteString(" ")
		b.WriteString(e.Entity)
	}
	if e.Field != "" {
		b.WriteString(" (")
		b.WriteString(e.Field)
		b.WriteString(")")
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New builds an error with a formatted message.
func New(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// WithEntity returns a copy of e naming the entity and field involved.
func (e *Error) WithEntity(entity, field string) *Error {
	c := *e
	c.Entity = entity
	c.Field = field
	return &c
}

// CodeOf extracts the code of the first *Error in the chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// Permanent reports whether retrying err cannot succeed. Uncoded errors
// (I/O, timeouts, driver errors) are treated as transient.
func Permanent(err error) bool {
	switch CodeOf(err) {
	case CodeInvalidTransition, CodeChecksumMismatch, CodeAccommodationNotApproved,
		CodeRetryExhausted, CodeNotFound, CodeInvalidInput, CodeIdentityRequired,
		CodeAttemptsExhausted:
		return true
	}
	return false
}
