package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

var secretKeys = map[string]struct{}{
	"authorization": {},
	"jwt_secret":    {},
	"passphrase":    {},
	"password":      {},
	"token":         {},
	"dsn":           {},
}

// IsSecret reports whether values logged under key must be masked.
func IsSecret(key string) bool {
	_, ok := secretKeys[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// MaskField returns an attribute whose value is redacted when key names a
// secret. Empty values are kept so missing configuration stays visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || !IsSecret(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
