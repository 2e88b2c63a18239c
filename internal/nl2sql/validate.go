package nl2sql

import (
	"regexp"
	"strings"
)

// forbiddenPattern is a textual heuristic: it also rejects quoted literals that
// happen to contain one of the words, and it cannot catch keyword-free side effects.
var forbiddenPattern = regexp.MustCompile(`(?i)\b(update|delete|insert|drop|alter|create|truncate)\b`)

type Verdict struct {
	Valid     bool
	Statement string
	Reason    string
}

// Validate accepts a present statement that starts with select and contains
// none of the blacklisted words.
func Validate(statement string, ok bool) Verdict {
	statement = strings.TrimSpace(statement)
	if !ok || statement == "" {
		return Verdict{Reason: "no statement"}
	}
	if word := forbiddenPattern.FindString(statement); word != "" {
		return Verdict{Statement: statement, Reason: "forbidden keyword " + strings.ToUpper(word)}
	}
	if !strings.HasPrefix(strings.ToLower(statement), "select") {
		return Verdict{Statement: statement, Reason: "statement is not a SELECT"}
	}
	return Verdict{Valid: true, Statement: statement}
}
