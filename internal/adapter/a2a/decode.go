package a2a

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

// ExtractAnswer derives the canonical answer from a JSON-RPC result of any
// shape. It tries, in order: a plain string, artifacts[].parts,
// message.parts, bare parts, a content block list, top-level content/text,
// and finally the string form of the whole result. Only the warning logged
// for that last case is sanitized. It never fails.
func ExtractAnswer(raw json.RawMessage, logger *slog.Logger) domain.Answer {
	raw = bytes.TrimSpace(raw)

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return domain.Answer{Text: s}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return domain.Answer{Text: stringify(raw)}
	}

	ans := domain.Answer{Usage: extractUsage(obj)}
	for _, strategy := range []func(map[string]json.RawMessage) (string, bool){
		fromArtifacts,
		fromMessage,
		fromParts,
		fromContentBlocks,
		fromTopLevel,
	} {
		if text, ok := strategy(obj); ok {
			ans.Text = text
			return ans
		}
	}

	if logger != nil {
		logger.Warn("could not extract text from a2a result, returning string form",
			"keys", sortedKeys(obj),
			"result", Sanitize(raw, 0))
	}
	ans.Text = stringify(raw)
	return ans
}

// partShape is the subset of a part needed for text extraction.
type partShape struct {
	Kind string  `json:"kind"`
	Type string  `json:"type"`
	Text *string `json:"text"`
}

func (p partShape) isText() bool {
	kind := p.Kind
	if kind == "" {
		kind = p.Type
	}
	return kind == string(PartText) && p.Text != nil
}

// textsFromParts collects non-empty text parts, unwrapping double-encoded
// {"text": ...} objects one level.
func textsFromParts(raw json.RawMessage) []string {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	var texts []string
	for _, pr := range parts {
		var p partShape
		if err := json.Unmarshal(pr, &p); err != nil || !p.isText() || *p.Text == "" {
			continue
		}
		texts = append(texts, unwrapText(*p.Text))
	}
	return texts
}

// unwrapText returns the inner text when s is a JSON object with a "text"
// member, otherwise s.
func unwrapText(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return s
	}
	var inner map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
		return s
	}
	t, ok := inner["text"]
	if !ok {
		return s
	}
	var str string
	if err := json.Unmarshal(t, &str); err == nil {
		return str
	}
	return stringify(t)
}

func joined(texts []string) (string, bool) {
	if len(texts) == 0 {
		return "", false
	}
	return strings.Join(texts, "\n"), true
}

func fromArtifacts(obj map[string]json.RawMessage) (string, bool) {
	raw, ok := obj["artifacts"]
	if !ok {
		return "", false
	}
	var artifacts []struct {
		Parts json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(raw, &artifacts); err != nil {
		return "", false
	}
	var texts []string
	for _, a := range artifacts {
		texts = append(texts, textsFromParts(a.Parts)...)
	}
	return joined(texts)
}

func fromMessage(obj map[string]json.RawMessage) (string, bool) {
	raw, ok := obj["message"]
	if !ok {
		return "", false
	}
	var msg struct {
		Parts json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Parts == nil {
		return "", false
	}
	return joined(textsFromParts(msg.Parts))
}

func fromParts(obj map[string]json.RawMessage) (string, bool) {
	raw, ok := obj["parts"]
	if !ok {
		return "", false
	}
	return joined(textsFromParts(raw))
}

// contentBlock is one entry of a content list; a block carries text or
// nests one more level of content.
type contentBlock struct {
	Text    *string         `json:"text"`
	Content json.RawMessage `json:"content"`
}

func fromContentBlocks(obj map[string]json.RawMessage) (string, bool) {
	raw, ok := obj["content"]
	if !ok {
		return "", false
	}
	var blocks []json.RawMessage
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", false
	}
	var texts []string
	for _, br := range blocks {
		var b contentBlock
		if err := json.Unmarshal(br, &b); err != nil {
			continue
		}
		if b.Text != nil {
			texts = append(texts, *b.Text)
			continue
		}
		if len(b.Content) == 0 {
			continue
		}
		var nested string
		if err := json.Unmarshal(b.Content, &nested); err == nil {
			texts = append(texts, nested)
			continue
		}
		var subs []json.RawMessage
		if err := json.Unmarshal(b.Content, &subs); err != nil {
			continue
		}
		for _, sr := range subs {
			var sub contentBlock
			if err := json.Unmarshal(sr, &sub); err == nil && sub.Text != nil {
				texts = append(texts, *sub.Text)
			}
		}
	}
	return joined(texts)
}

// fromTopLevel handles a scalar or list "content", then "text".
func fromTopLevel(obj map[string]json.RawMessage) (string, bool) {
	for _, key := range []string{"content", "text"} {
		raw, ok := obj[key]
		if !ok || isEmptyJSON(raw) {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err == nil {
			var texts []string
			for _, it := range items {
				var s string
				if err := json.Unmarshal(it, &s); err == nil {
					texts = append(texts, s)
					continue
				}
				var b contentBlock
				if err := json.Unmarshal(it, &b); err == nil && b.Text != nil {
					texts = append(texts, *b.Text)
				}
			}
			return joined(texts)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, true
		}
		return stringify(raw), true
	}
	return "", false
}

// usageShape accepts both camelCase (Bedrock) and snake_case token counts.
type usageShape struct {
	InputTokens      int `json:"inputTokens"`
	OutputTokens     int `json:"outputTokens"`
	TotalTokens      int `json:"totalTokens"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokensSnake int `json:"total_tokens"`
}

func (u usageShape) toDomain() *domain.Usage {
	out := domain.Usage{
		PromptTokens:     u.InputTokens + u.PromptTokens,
		CompletionTokens: u.OutputTokens + u.CompletionTokens,
		TotalTokens:      u.TotalTokens + u.TotalTokensSnake,
	}
	if out.TotalTokens == 0 {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	if out.TotalTokens == 0 {
		return nil
	}
	return &out
}

func extractUsage(obj map[string]json.RawMessage) *domain.Usage {
	if raw, ok := obj["usage"]; ok {
		var u usageShape
		if err := json.Unmarshal(raw, &u); err == nil {
			return u.toDomain()
		}
	}
	if raw, ok := obj["metadata"]; ok {
		var meta struct {
			Usage *usageShape `json:"usage"`
		}
		if err := json.Unmarshal(raw, &meta); err == nil && meta.Usage != nil {
			return meta.Usage.toDomain()
		}
	}
	return nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", `""`, "[]", "{}", "false", "0":
		return true
	}
	return false
}

func stringify(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func sortedKeys(obj map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
