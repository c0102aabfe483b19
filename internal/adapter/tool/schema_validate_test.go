package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

// stubTool is a minimal tool for testing schema validation.
type stubTool struct {
	name   string
	schema json.RawMessage
	result *domain.ToolResult
	calls  int
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        s.name,
		Description: "stub",
		Parameters:  s.schema,
	}
}
func (s *stubTool) Execute(_ context.Context, _ json.RawMessage) (*domain.ToolResult, error) {
	s.calls++
	return s.result, nil
}

var nameSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"name": {"type": "string"}
	},
	"required": ["name"]
}`)

func TestSchemaValidation_ValidParams(t *testing.T) {
	inner := &stubTool{name: "test", schema: nameSchema, result: &domain.ToolResult{Content: "ok"}}

	wrapped, err := WithSchemaValidation(inner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := wrapped.Execute(context.Background(), json.RawMessage(`{"name":"alice"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if result.Content != "ok" {
		t.Errorf("expected 'ok', got %q", result.Content)
	}
}

func TestSchemaValidation_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		params string
		want   string
	}{
		{"missing required", `{}`, "do not match schema"},
		{"wrong type", `{"name":42}`, "do not match schema"},
		{"empty params", ``, "do not match schema"},
		{"bad json", `{nope`, "invalid JSON arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &stubTool{name: "test", schema: nameSchema}
			wrapped, err := WithSchemaValidation(inner)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			result, err := wrapped.Execute(context.Background(), json.RawMessage(tt.params))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected error result")
			}
			if !strings.Contains(result.Content, tt.want) {
				t.Errorf("content = %q, want substring %q", result.Content, tt.want)
			}
			if inner.calls != 0 {
				t.Error("inner tool should not run on invalid arguments")
			}
		})
	}
}

func TestSchemaValidation_NoSchema_Passthrough(t *testing.T) {
	for _, schema := range []json.RawMessage{nil, json.RawMessage(`null`)} {
		inner := &stubTool{name: "test", schema: schema}

		wrapped, err := WithSchemaValidation(inner)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if wrapped != inner {
			t.Errorf("expected passthrough for schema %q", string(schema))
		}
	}
}

func TestSchemaValidation_CompilationError(t *testing.T) {
	inner := &stubTool{
		name:   "test",
		schema: json.RawMessage(`{"type": "invalid_type"}`),
	}

	if _, err := WithSchemaValidation(inner); err == nil {
		t.Fatal("expected error for invalid schema")
	}
}

func TestSchemaValidation_DelegatesMetadata(t *testing.T) {
	inner := &stubTool{
		name:   "my_tool",
		schema: json.RawMessage(`{"type": "object", "properties": {"x": {"type":"string"}}}`),
	}

	wrapped, err := WithSchemaValidation(inner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if wrapped.Name() != "my_tool" {
		t.Errorf("Name() = %q, want %q", wrapped.Name(), "my_tool")
	}
	if wrapped.Description() != "stub" {
		t.Errorf("Description() = %q, want %q", wrapped.Description(), "stub")
	}
	if wrapped.Schema().Name != "my_tool" {
		t.Errorf("Schema().Name = %q, want %q", wrapped.Schema().Name, "my_tool")
	}
}
