package report

import (
	"strings"
	"unicode"
)

// Slug turns an application name into a path segment: lowercase, runs of
// anything that is not a letter or digit become one hyphen, no leading or
// trailing hyphen.
func Slug(name string) string {
	var b strings.Builder
	prevWasSeparator := false
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			prevWasSeparator = false
		} else if !prevWasSeparator {
			b.WriteRune('-')
			prevWasSeparator = true
		}
	}
	return strings.Trim(b.String(), "-")
}
