// Package accommodation turns a learner's approved accessibility profile and a
// checkpoint's accommodation policy into effective session limits.
package accommodation

import (
	"fmt"
	"math"
	"strings"

	"github.com/mind-engage/mindengage-checkpoint/internal/errs"
	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// Profile is the learner's approved accommodations, as supplied by the
// accessibility profile store. The zero value approves nothing.
type Profile struct {
	UserID          string   `json:"user_id" toml:"user_id"`
	ExtendedTime    bool     `json:"extended_time" toml:"extended_time"`
	TimeMultiplier  float64  `json:"time_multiplier" toml:"time_multiplier"`
	BreaksApproved  bool     `json:"breaks_approved" toml:"breaks_approved"`
	MaxBreaks       int      `json:"max_breaks,omitempty" toml:"max_breaks"`
	MaxBreakSeconds int      `json:"max_break_seconds,omitempty" toml:"max_break_seconds"`
	Formats         []string `json:"formats,omitempty" toml:"formats"`
}

// Request lists accommodations asked for at session start. A nil *Request
// means "apply whatever is approved".
type Request struct {
	ExtendedTime bool     `json:"extended_time,omitempty"`
	Breaks       bool     `json:"breaks,omitempty"`
	Formats      []string `json:"formats,omitempty"`
}

// Resolution is the effective accommodation set for one session.
type Resolution struct {
	TimeLimitSeconds *int              `json:"time_limit_seconds,omitempty"`
	Multiplier       float64           `json:"multiplier"`
	Breaks           model.BreakPolicy `json:"breaks"`
	Formats          []string          `json:"formats,omitempty"`
}

// Resolve computes effective limits for def and the learner profile p.
// Requested accommodations the learner is not approved for are rejected with
// ACCOMMODATION_NOT_APPROVED rather than silently granted.
func Resolve(def model.Definition, p Profile, req *Request) (Resolution, error) {
	pol := def.Accommodations
	if req != nil {
		if req.ExtendedTime && !p.ExtendedTime {
			return Resolution{}, notApproved("extended_time", "learner has no approved extended time")
		}
		if req.ExtendedTime && !pol.AllowExtendedTime {
			return Resolution{}, notApproved("extended_time", fmt.Sprintf("checkpoint %s does not allow extended time", def.ID))
		}
		if req.Breaks && !p.BreaksApproved {
			return Resolution{}, notApproved("breaks", "learner has no approved breaks")
		}
		if req.Breaks && !pol.AllowBreaks {
			return Resolution{}, notApproved("breaks", fmt.Sprintf("checkpoint %s does not allow breaks", def.ID))
		}
		for _, f := range req.Formats {
			if !containsFold(p.Formats, f) {
				return Resolution{}, notApproved("formats", fmt.Sprintf("format %q is not approved", f))
			}
			if len(def.AllowedFormats) > 0 && !containsFold(def.AllowedFormats, f) {
				return Resolution{}, notApproved("formats", fmt.Sprintf("format %q is not offered by checkpoint %s", f, def.ID))
			}
		}
	}

	wantTime := p.ExtendedTime && (req == nil || req.ExtendedTime)
	wantBreaks := p.BreaksApproved && (req == nil || req.Breaks)

	res := Resolution{Multiplier: 1}
	if wantTime && pol.AllowExtendedTime && p.TimeMultiplier > 1 {
		m := p.TimeMultiplier
		if pol.MaxTimeMultiplier > 0 && m > pol.MaxTimeMultiplier {
			m = pol.MaxTimeMultiplier
		}
		if m > 1 {
			res.Multiplier = m
		}
	}
	if def.TimeLimitSeconds != nil {
		limit := EffectiveLimit(*def.TimeLimitSeconds, res.Multiplier)
		res.TimeLimitSeconds = &limit
	}

	if wantBreaks && pol.AllowBreaks {
		res.Breaks = model.BreakPolicy{
			Allowed:         true,
			MaxBreaks:       minLimit(pol.MaxBreaks, p.MaxBreaks),
			MaxBreakSeconds: minLimit(pol.MaxBreakSeconds, p.MaxBreakSeconds),
		}
	}

	switch {
	case req != nil && len(req.Formats) > 0:
		res.Formats = append([]string(nil), req.Formats...)
	case len(p.Formats) > 0 && len(def.AllowedFormats) > 0:
		res.Formats = intersectFold(def.AllowedFormats, p.Formats)
	case len(def.AllowedFormats) > 0:
		res.Formats = append([]string(nil), def.AllowedFormats...)
	}
	return res, nil
}

// EffectiveLimit scales base by multiplier, rounding to whole seconds.
func EffectiveLimit(base int, multiplier float64) int {
	if multiplier <= 1 {
		return base
	}
	return int(math.Round(float64(base) * multiplier))
}

func notApproved(field, msg string) error {
	return &errs.Error{
		Code:   errs.CodeAccommodationNotApproved,
		Op:     "accommodation.resolve",
		Entity: "accommodation",
		Field:  field,
		Msg:    msg,
	}
}

// minLimit intersects two caps where 0 means unlimited.
func minLimit(a, b int) int {
	switch {
	case a <= 0:
		return max(b, 0)
	case b <= 0:
		return a
	}
	return min(a, b)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func intersectFold(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, v := range a {
		if containsFold(b, v) {
			out = append(out, v)
		}
	}
	return out
}
