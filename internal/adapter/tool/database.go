package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/domain"
	"github.com/CloudTypes/agentcore-scaffold-sub000/internal/infra/tracer"
)

// Row is one record of a mock table.
type Row map[string]any

// DatabaseTool answers read-only queries against a small in-memory dataset.
// It stands in for a real database during demos and tests.
type DatabaseTool struct {
	tables map[string][]Row
	logger *slog.Logger
}

// NewDatabaseTool creates the query tool over the built-in sample tables.
func NewDatabaseTool(logger *slog.Logger) *DatabaseTool {
	return NewDatabaseToolWithTables(map[string][]Row{
		"users": {
			{"id": 1, "name": "Alice", "email": "alice@example.com"},
			{"id": 2, "name": "Bob", "email": "bob@example.com"},
		},
		"products": {
			{"id": 1, "name": "Widget", "price": 29.99},
			{"id": 2, "name": "Gadget", "price": 49.99},
		},
	}, logger)
}

// NewDatabaseToolWithTables creates the query tool over caller-supplied data.
func NewDatabaseToolWithTables(tables map[string][]Row, logger *slog.Logger) *DatabaseTool {
	return &DatabaseTool{tables: tables, logger: logger}
}

func (t *DatabaseTool) Name() string { return "database_query" }
func (t *DatabaseTool) Description() string {
	return "Query a table and return matching rows as JSON. Optionally filter on one field; matching is case-insensitive. Tables: users, products."
}

func (t *DatabaseTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"table": {"type": "string", "description": "Table to query"},
				"filter_field": {"type": "string", "description": "Field to filter on"},
				"filter_value": {"type": "string", "description": "Value the field must equal"}
			},
			"required": ["table"],
			"additionalProperties": false
		}`),
	}
}

type databaseParams struct {
	Table       string `json:"table"`
	FilterField string `json:"filter_field"`
	FilterValue string `json:"filter_value"`
}

func (t *DatabaseTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.database_query", t.logger, params,
		func(_ context.Context, span trace.Span, p databaseParams) (any, error) {
			if err := RequireField("table", p.Table); err != nil {
				return ErrResult("%v", err)
			}
			span.SetAttributes(tracer.StringAttr("database.table", p.Table))

			rows, ok := t.tables[p.Table]
			if !ok {
				return ErrResult("Table '%s' not found", p.Table)
			}

			// A filter applies only when both halves are given.
			if p.FilterField != "" && p.FilterValue != "" {
				rows = filterRows(rows, p.FilterField, p.FilterValue)
			}
			span.SetAttributes(tracer.IntAttr("database.rows", len(rows)))

			if rows == nil {
				rows = []Row{}
			}
			return rows, nil
		})
}

func filterRows(rows []Row, field, value string) []Row {
	var out []Row
	for _, r := range rows {
		v, ok := r[field]
		if !ok {
			continue
		}
		if strings.EqualFold(fmt.Sprint(v), value) {
			out = append(out, r)
		}
	}
	return out
}
