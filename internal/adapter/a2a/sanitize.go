package a2a

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/logger"
)

// DefaultDumpLimit bounds payload dumps attached to errors and log lines.
const DefaultDumpLimit = 2048

// Sanitize renders payload for diagnostics: base64-looking strings are
// replaced by a placeholder and the result is cut to at most limit bytes.
// Non-JSON input is scrubbed as plain text.
func Sanitize(payload []byte, limit int) string {
	if limit <= 0 {
		limit = DefaultDumpLimit
	}

	var v any
	var out string
	if err := json.Unmarshal(payload, &v); err == nil {
		b, err := marshalRaw(scrubValue(v))
		if err != nil {
			out = logger.RedactString(string(payload))
		} else {
			out = b
		}
	} else {
		out = logger.RedactString(string(payload))
	}
	return truncate(out, limit)
}

// SanitizeValue is Sanitize for an in-memory value.
func SanitizeValue(v any, limit int) string {
	b, err := json.Marshal(v)
	if err != nil {
		return truncate(logger.RedactString(fmt.Sprint(v)), limit)
	}
	return Sanitize(b, limit)
}

func scrubValue(v any) any {
	switch t := v.(type) {
	case string:
		if logger.LooksLikeBase64(t) {
			return logger.Placeholder(t)
		}
		return logger.RedactString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = scrubValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = scrubValue(val)
		}
		return out
	default:
		return v
	}
}

// marshalRaw encodes v without HTML escaping so placeholders stay readable.
func marshalRaw(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func truncate(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultDumpLimit
	}
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s...(truncated %d bytes)", s[:cut], len(s)-cut)
}
