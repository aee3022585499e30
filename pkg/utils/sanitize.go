package utils

import (
	"regexp"
	"strings"
	"unicode"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// CleanText strips markup and control characters from free text such as an
// issue description. Newlines and tabs survive.
func CleanText(input string) string {
	stripped := tagPattern.ReplaceAllString(input, "")

	var result strings.Builder
	result.Grow(len(stripped))
	for _, r := range stripped {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// CleanToken normalizes a short enumerated value such as an issue type or
// severity: single line, no markup, upper case.
func CleanToken(input string) string {
	cleaned := CleanText(input)
	cleaned = strings.Join(strings.Fields(cleaned), "_")
	return strings.ToUpper(cleaned)
}
