// Package openaicompat provides shared types, body building, and response
// parsing for OpenAI-compatible API providers (DashScope, OpenAI, OpenRouter).
package openaicompat

import "encoding/json"

// --- Request types ---

// ChatRequest is the OpenAI chat completions request body.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Seed        *int      `json:"seed,omitempty"`
	ToolChoice  any       `json:"tool_choice,omitempty"`
}

// Message is a single message in the OpenAI chat format.
type Message struct {
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ToolCallRequest `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	Name       string            `json:"name,omitempty"`
}

// Tool wraps a function definition in the OpenAI tool format.
type Tool struct {
	Type     string   `json:"type"` // always "function"
	Function Function `json:"function"`
}

// Function describes a callable function for tool use.
type Function struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCallRequest represents a tool call in an OpenAI API response or request.
type ToolCallRequest struct {
	Index    int          `json:"index"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"` // "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and arguments (as a JSON string).
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// --- Response types ---

// ChatResponse is the OpenAI chat completions response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is a single completion choice.
type Choice struct {
	Index        int            `json:"index"`
	Message      *ChoiceMessage `json:"message,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

// ChoiceMessage is the message content within a choice.
type ChoiceMessage struct {
	Role      string            `json:"role,omitempty"`
	Content   string            `json:"content,omitempty"`
	ToolCalls []ToolCallRequest `json:"tool_calls,omitempty"`
	Refusal   string            `json:"refusal,omitempty"`
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
