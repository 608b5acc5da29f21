package logutil

import (
	"strings"
	"unicode"
)

// maxLogField bounds a single user-supplied value in a log line.
const maxLogField = 256

// SanitizeForLog flattens a user-supplied string onto one log line: line
// breaks and tabs become spaces, other control characters are dropped, and
// the result is cut at maxLogField runes.
func SanitizeForLog(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	if runes := []rune(s); len(runes) > maxLogField {
		return string(runes[:maxLogField]) + "..."
	}
	return s
}
