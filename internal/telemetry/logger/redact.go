// Package logger provides structured logging for SeqMesh.
package logger

import (
	"log/slog"
	"strings"
)

// FIX fields whose values must never reach a log sink.
var sensitiveFIXTags = []string{
	"554",  // Password
	"925",  // NewPassword
	"1400", // EncryptedPassword
	"1402", // EncryptedNewPassword
}

// Sensitive key patterns that should be redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"passphrase",
	"secret",
	"credential",
	"auth",
	"bearer",
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// fixFieldSeparators are the field delimiters seen in logged FIX messages:
// SOH on the wire, '|' in human-readable dumps.
const fixFieldSeparators = "\x01|"

// redactSensitive checks if an attribute contains sensitive data
// and redacts it if necessary.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindString {
		strVal := a.Value.String()

		keyLower := strings.ToLower(a.Key)
		for _, pattern := range sensitiveKeyPatterns {
			if strings.Contains(keyLower, pattern) {
				if strVal != "" {
					return slog.String(a.Key, redactedValue)
				}
				return a
			}
		}

		if LooksLikeFIX(strVal) {
			return slog.String(a.Key, RedactFIX(strVal))
		}
	}

	// Handle nested groups recursively
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	}

	return a
}

// LooksLikeFIX reports whether value starts with a FIX BeginString field.
func LooksLikeFIX(value string) bool {
	return strings.HasPrefix(value, "8=FIX")
}

// RedactFIX masks the values of password fields in a FIX message,
// leaving every other field intact.
func RedactFIX(msg string) string {
	var b strings.Builder
	b.Grow(len(msg))

	start := 0
	for start <= len(msg) {
		end := strings.IndexAny(msg[start:], fixFieldSeparators)
		var field string
		if end < 0 {
			field = msg[start:]
		} else {
			field = msg[start : start+end]
		}

		b.WriteString(redactField(field))

		if end < 0 {
			break
		}
		b.WriteByte(msg[start+end])
		start += end + 1
	}

	return b.String()
}

func redactField(field string) string {
	tag, _, ok := strings.Cut(field, "=")
	if !ok {
		return field
	}
	for _, t := range sensitiveFIXTags {
		if tag == t {
			return tag + "=" + redactedValue
		}
	}
	return field
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
