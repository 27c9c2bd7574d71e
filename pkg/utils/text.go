// Package utils provides shared helpers for logging, vector math, and text display.
package utils

import "strings"

// Truncate prepares a catalog string for a single terminal line. Runs of whitespace,
// including newlines from multi-line catalog names, collapse to one space. If the
// result is longer than maxLen runes it is cut at a rune boundary and "..." appended.
// A maxLen of 0 or less disables the cut.
func Truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return strings.TrimRight(string(runes[:maxLen]), " ") + "..."
}
