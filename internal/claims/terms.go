package claims

import (
	"sort"
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "were": true, "was": true, "are": true,
	"has": true, "have": true, "had": true, "not": true, "but": true,
	"into": true, "than": true, "then": true, "their": true, "there": true,
	"which": true, "when": true, "also": true, "been": true, "its": true,
}

// Terms returns the sorted, deduplicated content terms of text: lowercased
// alphanumeric tokens of at least three characters that are not stopwords.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if len(f) < 3 || stopwords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Overlap returns the fraction of a's terms that also appear in b. It is 0
// when a has no terms.
func Overlap(a, b []string) float64 {
	if len(a) == 0 {
		return 0
	}
	set := make(map[string]bool, len(b))
	for _, t := range b {
		set[t] = true
	}
	hit := 0
	for _, t := range a {
		if set[t] {
			hit++
		}
	}
	return float64(hit) / float64(len(a))
}

// Jaccard returns |a ∩ b| / |a ∪ b| over two term sets.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	inter := 0
	union := len(set)
	for _, t := range b {
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}
