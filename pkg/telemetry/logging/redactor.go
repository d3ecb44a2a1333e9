package logging

import (
	"log/slog"
	"strings"
)

// sensitiveKeys are attribute names whose values are always masked.
var sensitiveKeys = map[string]bool{
	"credential": true,
	"api_key":    true,
	"key":        true,
}

// MaskCredentials is a slog ReplaceAttr hook. String values of attributes
// named credential, api_key or key are replaced with RedactAPIKey output.
// Groups are matched on the attribute's own name.
func MaskCredentials(_ []string, a slog.Attr) slog.Attr {
	if !sensitiveKeys[strings.ToLower(a.Key)] {
		return a
	}
	if a.Value.Kind() != slog.KindString {
		return slog.String(a.Key, "***")
	}
	return slog.String(a.Key, RedactAPIKey(a.Value.String()))
}

// RedactAPIKey masks a credential, keeping a four character prefix and
// suffix when the value is long enough that they reveal little.
func RedactAPIKey(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 12:
		return "***"
	default:
		return s[:4] + "..." + s[len(s)-4:]
	}
}
