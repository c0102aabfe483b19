// Package a2a implements the agent-to-agent wire protocol: JSON-RPC 2.0
// "message/send" envelopes carrying text, inline media and remote media
// references, a client that calls named workers, and the worker-side server.
package a2a

import (
	"encoding/json"
	"fmt"
)

// Protocol constants.
const (
	JSONRPCVersion    = "2.0"
	MethodMessageSend = "message/send"
	RoleUser          = "user"
	RoleAgent         = "agent"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Request is a JSON-RPC "message/send" request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// SendParams is the params object of a "message/send" request.
type SendParams struct {
	Message   Message `json:"message"`
	UserID    string  `json:"user_id,omitempty"`
	SessionID string  `json:"session_id,omitempty"`
}

// Response is a JSON-RPC reply. Exactly one of Result or Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Message is the A2A message carried in params.message. Parts are ordered
// media first, text last.
type Message struct {
	MessageID string         `json:"messageId"`
	Role      string         `json:"role"`
	Parts     []Part         `json:"parts"`
	ContextID string         `json:"contextId,omitempty"`
	TaskID    string         `json:"taskId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PartKind discriminates the closed set of part variants.
type PartKind string

const (
	PartText PartKind = "text"
	PartFile PartKind = "file"
	PartData PartKind = "data"
)

// Part is one segment of a message. The variant set is closed: TextPart,
// FilePart and DataPart.
type Part interface {
	Kind() PartKind
	isPart()
}

// TextPart carries plain UTF-8 text.
type TextPart struct {
	Text string
}

// FilePart references media stored elsewhere (e.g. an s3:// URI). It never
// carries bytes.
type FilePart struct {
	URI      string
	MIMEType string
}

// DataPart carries media inline as standard base64.
type DataPart struct {
	MIMEType string
	Base64   string
}

func (TextPart) Kind() PartKind { return PartText }
func (FilePart) Kind() PartKind { return PartFile }
func (DataPart) Kind() PartKind { return PartData }

func (TextPart) isPart() {}
func (FilePart) isPart() {}
func (DataPart) isPart() {}

type textPartWire struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type filePartWire struct {
	Type     string `json:"type"`
	FileURI  string `json:"fileUri"`
	MIMEType string `json:"mimeType"`
}

type dataPayload struct {
	Base64 string `json:"base64"`
}

type dataPartWire struct {
	Type     string      `json:"type"`
	MIMEType string      `json:"mimeType"`
	Data     dataPayload `json:"data"`
}

func (p TextPart) MarshalJSON() ([]byte, error) {
	return json.Marshal(textPartWire{Type: string(PartText), Text: p.Text})
}

func (p FilePart) MarshalJSON() ([]byte, error) {
	return json.Marshal(filePartWire{Type: string(PartFile), FileURI: p.URI, MIMEType: p.MIMEType})
}

func (p DataPart) MarshalJSON() ([]byte, error) {
	return json.Marshal(dataPartWire{Type: string(PartData), MIMEType: p.MIMEType, Data: dataPayload{Base64: p.Base64}})
}

// UnmarshalJSON decodes parts by their "type" (or "kind") discriminator.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	var aux struct {
		alias
		Parts []json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*m = Message(aux.alias)
	m.Parts = make([]Part, 0, len(aux.Parts))
	for i, raw := range aux.Parts {
		p, err := decodePart(raw)
		if err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
		m.Parts = append(m.Parts, p)
	}
	return nil
}

// partWire is the union of every part shape seen on the wire.
type partWire struct {
	Type     string          `json:"type"`
	Kind     string          `json:"kind"`
	Text     string          `json:"text"`
	FileURI  string          `json:"fileUri"`
	MIMEType string          `json:"mimeType"`
	Data     json.RawMessage `json:"data"`
	File     *struct {
		URI      string `json:"uri"`
		MIMEType string `json:"mimeType"`
		Bytes    string `json:"bytes"`
	} `json:"file"`
}

func decodePart(raw json.RawMessage) (Part, error) {
	var w partWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	kind := w.Type
	if kind == "" {
		kind = w.Kind
	}

	switch PartKind(kind) {
	case PartText:
		return TextPart{Text: w.Text}, nil
	case PartFile:
		if w.File != nil {
			if w.File.URI == "" && w.File.Bytes != "" {
				return DataPart{MIMEType: w.File.MIMEType, Base64: w.File.Bytes}, nil
			}
			return FilePart{URI: w.File.URI, MIMEType: w.File.MIMEType}, nil
		}
		return FilePart{URI: w.FileURI, MIMEType: w.MIMEType}, nil
	case PartData:
		b64, err := dataBase64(w.Data)
		if err != nil {
			return nil, err
		}
		return DataPart{MIMEType: w.MIMEType, Base64: b64}, nil
	default:
		return nil, fmt.Errorf("unsupported part type %q", kind)
	}
}

// dataBase64 accepts the data member as {"base64": "..."} or a bare string.
func dataBase64(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("data part has no data")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var obj dataPayload
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", fmt.Errorf("data part: %w", err)
	}
	return obj.Base64, nil
}
