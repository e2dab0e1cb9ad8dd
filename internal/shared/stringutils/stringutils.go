package stringutils

import (
	"regexp"
	"strings"
)

var reSpace = regexp.MustCompile(`\s+`)

// Truncate shortens a string to at most n characters, adding "..." if it was truncated.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// CollapseWhitespace replaces every run of whitespace (including newlines)
// with a single space and trims the ends.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(reSpace.ReplaceAllString(s, " "))
}
