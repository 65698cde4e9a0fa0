package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys that are safe to log verbatim. Everything else passed through MaskField
// is treated as a secret (JWT signing keys, keystore passphrases, RPC tokens).
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"apartment": {},
	"profile":   {},
	"phase":     {},
	"action":    {},
	"signature": {},
	"wallet":    {},
}

// IsAllowlisted reports whether the provided key is exempt from redaction.
func IsAllowlisted(key string) bool {
	_, ok := redactionAllowlist[strings.ToLower(strings.TrimSpace(key))]
	return ok
}

// RedactionAllowlist returns the sorted allowlisted keys.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskField returns an attribute whose value is redacted unless the key is
// allowlisted. Empty values pass through so missing configuration stays
// visible.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// MaskURL strips userinfo and query strings from an endpoint before logging,
// since RPC providers commonly embed API keys there.
func MaskURL(key, raw string) slog.Attr {
	trimmed := raw
	if at := strings.Index(trimmed, "@"); at >= 0 {
		if scheme := strings.Index(trimmed, "://"); scheme >= 0 && scheme < at {
			trimmed = trimmed[:scheme+3] + RedactedValue + trimmed[at:]
		}
	}
	if q := strings.Index(trimmed, "?"); q >= 0 {
		trimmed = trimmed[:q] + "?" + RedactedValue
	}
	return slog.String(key, trimmed)
}
