// Package stringutil provides utility functions for string manipulation.
package stringutil

import "strings"

// Ellipsis flattens a string onto one line and shortens it to maxLength,
// appending "..." when truncation occurs. When maxLength is 3 or less the
// string is cut without the ellipsis.
func Ellipsis(s string, maxLength int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")

	if maxLength < 0 {
		return ""
	}
	if len(s) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return s[:maxLength]
	}
	return s[:maxLength-3] + "..."
}
