package security

import "regexp"

// redactionPatterns match secret material that must never reach stored logs
// or WebSocket frames. The first capture group (when present) is the part
// kept; the remainder is replaced.
var redactionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(SECRET_\w+=)\S+`),
	regexp.MustCompile(`(API_KEY=)\S+`),
	regexp.MustCompile(`(PASSWORD=)\S+`),
	regexp.MustCompile(`(TOKEN=)\S+`),
	regexp.MustCompile(`(PRIVATE_KEY=)\S+`),
	regexp.MustCompile(`\bsk_[A-Za-z0-9_]+`),
}

// Redact replaces secret-shaped substrings of a log line with [REDACTED].
// Applied to every line before it is persisted or streamed.
func Redact(text string) string {
	for _, pattern := range redactionPatterns {
		if pattern.NumSubexp() > 0 {
			text = pattern.ReplaceAllString(text, "${1}[REDACTED]")
		} else {
			text = pattern.ReplaceAllString(text, "[REDACTED]")
		}
	}
	return text
}
