package a2a

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

// mimeFormats maps MIME types to the short format names used by model APIs.
var mimeFormats = map[string]string{
	"image/jpeg":       "jpeg",
	"image/jpg":        "jpeg",
	"image/png":        "png",
	"image/gif":        "gif",
	"image/webp":       "webp",
	"video/mp4":        "mp4",
	"video/quicktime":  "mov",
	"video/x-matroska": "mkv",
	"video/webm":       "webm",
	"video/x-flv":      "flv",
	"video/mpeg":       "mpeg",
	"video/x-ms-wmv":   "wmv",
	"video/3gpp":       "three_gp",
}

// FormatForMIME translates a MIME type into a format name. Untabulated
// types fall back to their subtype.
func FormatForMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if f, ok := mimeFormats[mime]; ok {
		return f
	}
	if _, sub, ok := strings.Cut(mime, "/"); ok {
		return NormalizeFormat(sub)
	}
	return NormalizeFormat(mime)
}

// NormalizeFormat canonicalizes a format name ("JPG" -> "jpeg", "3gp" -> "three_gp").
// MIME types such as a browser's file.type go through FormatForMIME.
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if strings.Contains(f, "/") {
		return FormatForMIME(f)
	}
	switch f {
	case "jpg":
		return "jpeg"
	case "3gp", "3gpp":
		return "three_gp"
	case "quicktime":
		return "mov"
	case "x-matroska":
		return "mkv"
	}
	return f
}

// MIMEForMedia returns the wire MIME type "<kind>/<format>". Receivers map
// it back through FormatForMIME.
func MIMEForMedia(kind domain.MediaKind, format string) string {
	return string(kind) + "/" + NormalizeFormat(format)
}

// KindForMIME returns the media kind for a MIME type.
func KindForMIME(mime string) (domain.MediaKind, bool) {
	switch {
	case strings.HasPrefix(strings.ToLower(mime), "image/"):
		return domain.MediaImage, true
	case strings.HasPrefix(strings.ToLower(mime), "video/"):
		return domain.MediaVideo, true
	}
	return "", false
}

// NormalizeBase64 strips surrounding whitespace and any "data:<mime>;base64,"
// prefix, then checks the remainder decodes under the standard alphabet.
// Embedded line breaks (as produced by MIME encoders) are removed too.
func NormalizeBase64(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(s), "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return "", fmt.Errorf("data URI has no payload")
		}
		s = strings.TrimSpace(s[comma+1:])
	}
	s = strings.NewReplacer("\r", "", "\n", "").Replace(s)
	if s == "" {
		return "", fmt.Errorf("base64 payload is empty")
	}
	if _, err := base64.StdEncoding.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid base64: %w", err)
	}
	return s, nil
}
