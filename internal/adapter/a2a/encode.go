package a2a

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

// EncodeOptions carries the optional message fields.
type EncodeOptions struct {
	ContextID string
	TaskID    string
	Metadata  map[string]any
}

// NewMessageID returns "msg-" followed by 16 hex characters.
func NewMessageID() string {
	id := uuid.New()
	return "msg-" + strings.ReplaceAll(id.String(), "-", "")[:16]
}

// Encode builds the message for task with optional media. A remote media
// reference becomes a file part and is preferred over inline bytes; inline
// bytes become a data part after base64 normalization. The task text is
// always the trailing part.
func Encode(task string, media *domain.Media, opts EncodeOptions) (Message, error) {
	if strings.TrimSpace(task) == "" {
		return Message{}, domain.NewDomainError("A2A.Encode", domain.ErrValidation, "task is empty")
	}

	parts := make([]Part, 0, 2)
	if media != nil {
		p, err := mediaPart(*media)
		if err != nil {
			return Message{}, err
		}
		parts = append(parts, p)
	}
	parts = append(parts, TextPart{Text: task})

	return Message{
		MessageID: NewMessageID(),
		Role:      RoleUser,
		Parts:     parts,
		ContextID: opts.ContextID,
		TaskID:    opts.TaskID,
		Metadata:  opts.Metadata,
	}, nil
}

func mediaPart(m domain.Media) (Part, error) {
	if m.Kind != domain.MediaImage && m.Kind != domain.MediaVideo {
		return nil, domain.NewDomainError("A2A.Encode", domain.ErrValidation,
			fmt.Sprintf("unsupported media kind %q", m.Kind))
	}
	format := NormalizeFormat(m.Format)
	if format == "" {
		format = defaultFormat(m.Kind)
	}
	mime := MIMEForMedia(m.Kind, format)

	if uri := strings.TrimSpace(m.URI); uri != "" {
		return FilePart{URI: uri, MIMEType: mime}, nil
	}
	if strings.TrimSpace(m.Base64) == "" {
		return nil, domain.NewDomainError("A2A.Encode", domain.ErrValidation,
			"media has neither inline bytes nor a remote reference")
	}
	b64, err := NormalizeBase64(m.Base64)
	if err != nil {
		return nil, domain.NewDomainError("A2A.Encode", domain.ErrValidation, err.Error())
	}
	return DataPart{MIMEType: mime, Base64: b64}, nil
}

func defaultFormat(kind domain.MediaKind) string {
	if kind == domain.MediaVideo {
		return "mp4"
	}
	return "jpeg"
}

// newRequestBody renders a complete "message/send" envelope.
func newRequestBody(id int64, msg Message, userID, sessionID string) ([]byte, error) {
	params, err := json.Marshal(SendParams{Message: msg, UserID: userID, SessionID: sessionID})
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	idRaw, _ := json.Marshal(id)
	return json.Marshal(Request{
		JSONRPC: JSONRPCVersion,
		Method:  MethodMessageSend,
		Params:  params,
		ID:      idRaw,
	})
}
