// Package redact removes sensitive material from strings before they are
// logged or surfaced in error responses. The proxy handles upstream API
// keys, bearer tokens, and signed CDN URLs, none of which belong in logs.
package redact

import "regexp"

// Redaction placeholders.
const (
	RedactedKeyPlaceholder = "[REDACTED_KEY]"
	RedactedURLPlaceholder = "[REDACTED_URL_PARAMS]"
)

var (
	// Bearer tokens and api-key style headers or assignments.
	bearerRegex = regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-.~+/]{8,}`)
	apiKeyRegex = regexp.MustCompile(
		`(?i)(api[_-]?key|token|secret|authorization)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`,
	)

	// Signed URL query strings. CDN asset links carry signatures and
	// expirations in the query part; the path alone is enough for logs.
	signedURLRegex = regexp.MustCompile(`(https?://[^\s?"']+)\?[^\s"']+`)
)

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}

	result := bearerRegex.ReplaceAllString(input, RedactedKeyPlaceholder)
	result = apiKeyRegex.ReplaceAllString(result, "$1$2"+RedactedKeyPlaceholder)
	result = signedURLRegex.ReplaceAllString(result, "$1?"+RedactedURLPlaceholder)
	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
