package logger

import (
	"fmt"
	"log/slog"
	"regexp"
)

// MinBase64Run is the shortest run of base64 alphabet characters treated as
// an encoded payload rather than ordinary text.
const MinBase64Run = 200

var base64Run = regexp.MustCompile(`(?:data:[A-Za-z0-9.+/-]+;base64,)?[A-Za-z0-9+/_-]{200,}={0,2}`)

// RedactString replaces every long base64-looking run in s with a short
// placeholder recording only its length.
func RedactString(s string) string {
	if len(s) < MinBase64Run {
		return s
	}
	return base64Run.ReplaceAllStringFunc(s, Placeholder)
}

// Placeholder is the fixed-shape stand-in for a redacted payload.
func Placeholder(payload string) string {
	return fmt.Sprintf("<base64 omitted: %d chars>", len(payload))
}

// LooksLikeBase64 reports whether s is entirely one long base64 run.
func LooksLikeBase64(s string) bool {
	if len(s) < MinBase64Run {
		return false
	}
	loc := base64Run.FindStringIndex(s)
	return loc != nil && loc[0] == 0 && loc[1] == len(s)
}

// RedactAttr is a slog ReplaceAttr hook that scrubs string values.
func RedactAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if s := a.Value.String(); len(s) >= MinBase64Run {
			return slog.String(a.Key, RedactString(s))
		}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			if s := err.Error(); len(s) >= MinBase64Run {
				return slog.String(a.Key, RedactString(s))
			}
		}
	}
	return a
}
