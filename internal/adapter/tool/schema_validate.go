package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
)

// validatingTool checks arguments against the tool's compiled JSON Schema
// before delegating. Violations come back as error results so the model can
// correct its call.
type validatingTool struct {
	domain.Tool
	schema *jsonschema.Schema
}

// WithSchemaValidation wraps t so that Execute validates params first.
// A tool without a schema is returned as is.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil
	}

	url := t.Name() + ".schema.json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}
	return &validatingTool{Tool: t, schema: compiled}, nil
}

func (v *validatingTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	var doc interface{}
	if err := json.Unmarshal(params, &doc); err != nil {
		return ErrResult("invalid JSON arguments: %v", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return ErrResult("arguments do not match schema: %v", err)
	}
	return v.Tool.Execute(ctx, params)
}
