package quality

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	absoluteRe = regexp.MustCompile(`(?i)\b(always|never|guaranteed|proves?|definitely|certainly|undeniably|all studies|no doubt)\b|\b100\s?%`)
	hedgeRe    = regexp.MustCompile(`(?i)\b(may|might|suggests?|likely|possibly|appears?|could)\b`)
	markerRe   = regexp.MustCompile(`\[\d+\]`)

	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	ssnRe   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	phoneRe = regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?\(?\b\d{3}\)?[\s.-]\d{3}[\s.-]\d{4}\b`)
	cardRe  = regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`)
)

// isUnguardedAbsolute reports whether s makes an absolute claim without any
// hedging language.
func isUnguardedAbsolute(s string) bool {
	return absoluteRe.MatchString(s) && !hedgeRe.MatchString(s)
}

// hasCitationMarker reports whether an answer sentence cites a source inline.
func hasCitationMarker(s string) bool {
	return markerRe.MatchString(s)
}

// PIIKind names the first kind of personally identifying content found in s,
// or "" when s is clean.
func PIIKind(s string) string {
	switch {
	case emailRe.MatchString(s):
		return "email"
	case ssnRe.MatchString(s):
		return "ssn"
	case phoneRe.MatchString(s):
		return "phone"
	}
	for _, m := range cardRe.FindAllString(s, -1) {
		if luhn(m) {
			return "card_number"
		}
	}
	return ""
}

// luhn validates the digits of s with the Luhn checksum. Separators are
// ignored.
func luhn(s string) bool {
	var digits []int
	for _, r := range s {
		if unicode.IsDigit(r) {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0 && strings.Trim(s, "0 -") != ""
}
