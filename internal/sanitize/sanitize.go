// Package sanitize cleans free text submitted through public forms.
package sanitize

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// Text strips all markup, trims surrounding space and truncates to max runes.
// A max of zero or less means no limit.
func Text(s string, max int) string {
	// StrictPolicy escapes entities; undo that so "Fish & Chips" survives.
	cleaned := strings.TrimSpace(html.UnescapeString(strict.Sanitize(s)))
	if max > 0 && utf8.RuneCountInString(cleaned) > max {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:max]))
	}
	return cleaned
}
