// Package claims splits source and answer text into claim-sized statements
// and normalizes them into comparable term sets. Everything here is pure and
// deterministic.
package claims

import (
	"strings"
	"unicode"
)

// MinLength is the shortest fragment kept as a claim. Shorter pieces
// ("Results:", "See above.") carry no checkable statement.
const MinLength = 20

// Split breaks text into claims: markdown list items, then sentences, then
// "(1) ... (2) ..." enumerations, then substantial semicolon clauses.
// Fragments shorter than MinLength are dropped.
func Split(text string) []string {
	return SplitMin(text, MinLength)
}

// SplitMin is Split with a caller-chosen minimum length.
func SplitMin(text string, minLen int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []string
	for _, block := range listItems(text) {
		for _, sentence := range Sentences(block) {
			for _, item := range enumerated(sentence) {
				for _, part := range semicolonClauses(item) {
					part = strings.TrimSpace(part)
					if len(part) >= minLen {
						out = append(out, part)
					}
				}
			}
		}
	}
	return out
}

// Sentences splits on . ! ? when followed by whitespace and then an
// uppercase letter, digit, bracket, or quote. Decimals ("6.5") and inline
// abbreviations ("e.g. the") do not split.
func Sentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0

	emit := func(end int) {
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
	}

	for i := 0; i < len(runes); i++ {
		if runes[i] != '.' && runes[i] != '!' && runes[i] != '?' {
			continue
		}
		j := i + 1
		// Citation markers directly after the stop belong to the sentence.
		for j < len(runes) && runes[j] == '[' {
			k := j + 1
			for k < len(runes) && unicode.IsDigit(runes[k]) {
				k++
			}
			if k < len(runes) && runes[k] == ']' && k > j+1 {
				j = k + 1
				i = k
				continue
			}
			break
		}
		ws := j
		for ws < len(runes) && unicode.IsSpace(runes[ws]) {
			ws++
		}
		if ws >= len(runes) {
			emit(j)
			start = ws
			continue
		}
		if ws == j {
			continue
		}
		next := runes[ws]
		if unicode.IsUpper(next) || unicode.IsDigit(next) || next == '(' || next == '"' || next == '\'' || next == '[' {
			emit(j)
			start = ws
		}
	}
	if start < len(runes) {
		emit(len(runes))
	}
	return out
}

func enumerated(s string) []string {
	var parts []string
	var cur strings.Builder
	runes := []rune(s)

	for i := 0; i < len(runes); i++ {
		if runes[i] == '(' && i+2 < len(runes) && unicode.IsDigit(runes[i+1]) {
			j := i + 1
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			if j < len(runes) && runes[j] == ')' {
				if before := strings.TrimSpace(cur.String()); before != "" {
					parts = append(parts, before)
				}
				cur.Reset()
				cur.WriteString(string(runes[i : j+1]))
				i = j
				continue
			}
		}
		cur.WriteRune(runes[i])
	}
	if rest := strings.TrimSpace(cur.String()); rest != "" {
		parts = append(parts, rest)
	}
	if len(parts) <= 1 {
		return []string{s}
	}
	return parts
}

func isListLine(trimmed string) bool {
	return (strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ")) && len(trimmed) > 2
}

func listItems(text string) []string {
	lines := strings.Split(text, "\n")
	hasList := false
	for _, line := range lines {
		if isListLine(strings.TrimSpace(line)) {
			hasList = true
			break
		}
	}
	if !hasList {
		return []string{text}
	}

	var parts []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			parts = append(parts, s)
		}
		cur.Reset()
	}
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if isListLine(trimmed) {
			flush()
			parts = append(parts, strings.TrimSpace(trimmed[2:]))
			continue
		}
		if cur.Len() > 0 {
			cur.WriteRune(' ')
		}
		cur.WriteString(trimmed)
	}
	flush()
	return parts
}

func semicolonClauses(text string) []string {
	if !strings.Contains(text, ";") {
		return []string{text}
	}
	raw := strings.Split(text, ";")
	for _, part := range raw {
		if len(strings.TrimSpace(part)) < MinLength {
			return []string{text}
		}
	}
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
