package util

import (
	"regexp"
	"strings"
)

var controlChars = regexp.MustCompile(`[\x00-\x1F\x7F]+`)

// SanitizeForLog removes control characters and newlines from user content before logging.
func SanitizeForLog(s string) string {
	if s == "" {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", " ")
	return controlChars.ReplaceAllString(s, " ")
}

// SanitizeAndTruncate sanitizes s and cuts it to at most max bytes.
func SanitizeAndTruncate(s string, max int) string {
	s = SanitizeForLog(s)
	if max > 0 && len(s) > max {
		s = s[:max]
	}
	return s
}
