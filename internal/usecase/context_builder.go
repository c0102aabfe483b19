package usecase

import (
	"fmt"
	"strings"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

// maxContextChars bounds one remembered message in the system prompt.
const maxContextChars = 2000

// ContextBuilder constructs the model request for one agent turn.
type ContextBuilder struct {
	systemPrompt string
	model        string
	maxTokens    int
}

// NewContextBuilder creates a new context builder.
func NewContextBuilder(systemPrompt, model string, maxTokens int) *ContextBuilder {
	return &ContextBuilder{
		systemPrompt: systemPrompt,
		model:        model,
		maxTokens:    maxTokens,
	}
}

// SystemPrompt returns the configured system prompt.
func (cb *ContextBuilder) SystemPrompt() string { return cb.systemPrompt }

// Build assembles: system prompt + remembered context + the turn's messages.
// Remembered context goes into the system prompt rather than the message
// list so that providers requiring a leading user turn accept it.
func (cb *ContextBuilder) Build(
	history []domain.Message,
	memoryContext []domain.MemoryRecord,
	tools []domain.ToolSchema,
) domain.ChatRequest {
	system := cb.systemPrompt
	if len(memoryContext) > 0 {
		system += "\n\n## Conversation Context\n" + FormatContext(memoryContext)
	}

	messages := make([]domain.Message, len(history))
	copy(messages, history)

	return domain.ChatRequest{
		Model:     cb.model,
		System:    system,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: cb.maxTokens,
	}
}

// FormatContext renders records as a bullet list, oldest first.
func FormatContext(records []domain.MemoryRecord) string {
	var sb strings.Builder
	for _, r := range records {
		content := r.Content
		if len(content) > maxContextChars {
			content = content[:maxContextChars] + "..."
		}
		fmt.Fprintf(&sb, "- %s: %s\n", r.Role, strings.ReplaceAll(content, "\n", " "))
	}
	return sb.String()
}
