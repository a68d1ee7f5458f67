package logger

import "strings"

// RedactEmail masks an email address for safe logging. Tokenized reply
// addresses keep their "reply+" marker so log lines stay attributable to
// the reply pipeline without leaking the thread token.
// "john.doe@example.com" → "jo***@example.com"
// "reply+tok123@mail.acme.com" → "reply+to***@mail.acme.com"
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***@***"
	}
	if token, found := strings.CutPrefix(local, "reply+"); found {
		return "reply+" + maskPart(token) + "@" + domain
	}
	return maskPart(local) + "@" + domain
}

// maskPart keeps at most the first two characters. Short parts are fully
// masked so two-letter local parts are not recoverable.
func maskPart(s string) string {
	if len(s) <= 2 {
		return "***"
	}
	return s[:2] + "***"
}
