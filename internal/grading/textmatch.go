package grading

import (
	"strings"
	"unicode"
)

// normalize lowercases s, drops punctuation and collapses whitespace runs to
// a single space.
func normalize(s string) string {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Join(strings.Fields(stripped), " ")
}

// levenshtein is the unit-cost edit distance between a and b in runes.
func levenshtein(a, b string) int {
	src, dst := []rune(a), []rune(b)
	prev := make([]int, len(dst)+1)
	cur := make([]int, len(dst)+1)
	for j := range prev {
		prev[j] = j
	}
	for i, sr := range src {
		cur[0] = i + 1
		for j, dr := range dst {
			sub := prev[j]
			if sr != dr {
				sub++
			}
			cur[j+1] = min(prev[j+1]+1, cur[j]+1, sub)
		}
		prev, cur = cur, prev
	}
	return prev[len(dst)]
}

// keywordCoverage reports how many of keywords occur as whole-word phrases
// in text. Keywords that normalize to nothing are not counted.
func keywordCoverage(text string, keywords []string) (found, total int) {
	padded := " " + normalize(text) + " "
	for _, kw := range keywords {
		nk := normalize(kw)
		if nk == "" {
			continue
		}
		total++
		if strings.Contains(padded, " "+nk+" ") {
			found++
		}
	}
	return found, total
}
