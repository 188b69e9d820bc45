package logger

import (
	"log/slog"
	"strings"
)

// Key name fragments whose values are never logged.
var sensitiveKeyPatterns = []string{
	"passphrase",
	"password",
	"secret",
	"encryption_key",
	"credential",
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// redactSensitive replaces values of sensitive keys, recursing into groups.
func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindGroup:
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	case slog.KindString:
		if a.Value.String() != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	}
	return a
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}

// RedactString masks a secret for display, keeping two characters at
// each end of values long enough to stay unguessable.
func RedactString(value string) string {
	if value == "" {
		return ""
	}
	if len(value) < 12 {
		return "***"
	}
	return value[:2] + "..." + value[len(value)-2:]
}
