package domain

// MediaKind is the broad class of an attachment.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Media is an image or video attached to a request. Exactly one of
// Base64 (inline bytes) or URI (remote object reference) is expected;
// when both are set the URI wins.
type Media struct {
	Kind   MediaKind `json:"type"`
	Format string    `json:"format"`
	Base64 string    `json:"data,omitempty"`
	URI    string    `json:"uri,omitempty"`
}

// MIMEType returns "<kind>/<format>".
func (m Media) MIMEType() string {
	return string(m.Kind) + "/" + m.Format
}

// IsRemote reports whether the media is a remote reference.
func (m Media) IsRemote() bool { return m.URI != "" }
