package logger

import (
	"regexp"
	"strings"
)

// tokenPrefixLen is how many leading characters of a push token survive redaction
const tokenPrefixLen = 6

var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),
	regexp.MustCompile(`(?i)((api|access|auth|token|secret|key|passw(or)?d)[0-9a-z\-_\.]*[\s:=]+)([^;,\s]{5,})`),
}

// urlCredentials matches the password of a user:password@host URL
var urlCredentials = regexp.MustCompile(`(://[^:/@\s]*:)[^@\s]+@`)

// RedactSensitiveData replaces credentials embedded in free text with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range sensitivePatterns {
		input = pattern.ReplaceAllString(input, "${1}[REDACTED]")
	}
	return urlCredentials.ReplaceAllString(input, "${1}[REDACTED]@")
}

// Token creates a field for a push token or credential, keeping only a short prefix
func Token(key, value string) Field {
	return Field{Key: internKey(key), Value: MaskToken(value)}
}

// MaskToken returns the first few characters of value followed by an ellipsis
func MaskToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if len(value) <= tokenPrefixLen {
		return "***"
	}
	return value[:tokenPrefixLen] + "..."
}
