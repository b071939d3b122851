package qanat

import (
	"context"
	"encoding/json"
)

// Tool defines an agent capability with one or more tool functions.
// Execute returns a Go error only for infrastructure faults; expected
// failures (bad input, missing file, empty search) come back inside
// ToolResult.Error so the model can read them and recover.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// ToolRegistry holds all registered tools and dispatches execution.
// Populated at init and read-only afterwards.
type ToolRegistry struct {
	tools []Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{}
}

// Add registers a tool.
func (r *ToolRegistry) Add(t Tool) {
	r.tools = append(r.tools, t)
}

// AllDefinitions returns tool definitions from all registered tools.
func (r *ToolRegistry) AllDefinitions() []ToolDefinition {
	var defs []ToolDefinition
	for _, t := range r.tools {
		defs = append(defs, t.Definitions()...)
	}
	return defs
}

// Has reports whether a tool with the given name is registered.
func (r *ToolRegistry) Has(name string) bool {
	for _, t := range r.tools {
		for _, d := range t.Definitions() {
			if d.Name == name {
				return true
			}
		}
	}
	return false
}

// Execute dispatches a tool call by name. Unknown names produce a tool
// error result, not a Go error, so the model can correct itself.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error) {
	for _, t := range r.tools {
		for _, d := range t.Definitions() {
			if d.Name == name {
				return t.Execute(ctx, name, args)
			}
		}
	}
	return ToolResult{Error: "unknown tool: " + name}, nil
}
