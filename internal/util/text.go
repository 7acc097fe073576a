package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonWord = regexp.MustCompile(`[^a-z0-9]+`)
	lower   = cases.Lower(language.Und)
)

// Slugify turns a display name into a lower-case, underscore separated
// attribute name: "Annual Revenue (€)" -> "annual_revenue".
func Slugify(raw string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, raw)
	if err != nil {
		s = raw
	}
	s = lower.String(strings.TrimSpace(s))
	s = nonWord.ReplaceAllString(s, "_")

	return strings.Trim(s, "_")
}
