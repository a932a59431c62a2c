package grading

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/mind-engage/mindengage-checkpoint/internal/model"
)

// tolerance is parsed from an answer key such as "tol=0.01" (absolute),
// "reltol=0.05" (relative to the key) or both. Negative means unset.
type tolerance struct {
	abs, rel float64
}

func parseTolerance(s string) tolerance {
	t := tolerance{abs: -1, rel: -1}
	split := func(r rune) bool { return r == ',' || r == ';' || r == ' ' }
	for _, term := range strings.FieldsFunc(strings.ToLower(s), split) {
		name, raw, ok := strings.Cut(term, "=")
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		switch name {
		case "tol":
			t.abs = v
		case "reltol":
			t.rel = v
		}
	}
	return t
}

func (t tolerance) accepts(got, want float64) bool {
	d := math.Abs(got - want)
	switch {
	case d == 0:
		return true
	case t.abs >= 0 && d <= t.abs:
		return true
	case t.rel >= 0 && d <= t.rel*math.Abs(want):
		return true
	}
	return false
}

// leadingNumber parses s, or failing that its first word, so "104 kg" reads
// as 104.
func leadingNumber(s string) (float64, bool) {
	words := strings.Fields(s)
	if len(words) == 0 {
		return 0, false
	}
	for _, cand := range []string{strings.Join(words, " "), words[0]} {
		if v, err := strconv.ParseFloat(cand, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

type numericStrategy struct{}

func (numericStrategy) Grade(_ context.Context, q Q, a model.Answer) (Result, error) {
	key := strings.TrimSpace(q.Key.Numeric)
	if key == "" {
		return Result{}, missingKey(q)
	}
	given := strings.TrimSpace(a.(model.NumericAnswer).Value)
	if given == key {
		return exact(q, true), nil
	}
	want, okKey := leadingNumber(key)
	got, okGiven := leadingNumber(given)
	if !okKey || !okGiven {
		return exact(q, false), nil
	}
	return exact(q, parseTolerance(q.Key.Tolerance).accepts(got, want)), nil
}
