package nl2sql

import (
	"regexp"
	"strings"
)

var (
	fencePattern  = regexp.MustCompile("(?i)```(sql)?")
	selectPattern = regexp.MustCompile(`(?is)(SELECT\s+.+?)(;|$)`)
)

// Extract returns the first SELECT statement in text, without its terminator.
// The boolean is false when text contains no SELECT.
func Extract(text string) (string, bool) {
	cleaned := strings.TrimSpace(fencePattern.ReplaceAllString(text, ""))
	match := selectPattern.FindStringSubmatch(cleaned)
	if match == nil {
		return "", false
	}
	statement := strings.TrimSpace(match[1])
	if statement == "" {
		return "", false
	}
	return statement, true
}
