package qanat

import "encoding/json"

// --- Domain types (database records) ---

// Roles for stored messages and LLM protocol messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one persisted row of a conversation. Messages are immutable
// once written and ordered within a conversation by CreatedAt ascending,
// ties broken by ID.
type Message struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id,omitempty"` // empty = stored as NULL
	Role           string `json:"role"`              // "user", "assistant", "tool"
	Content        string `json:"content"`
	Sources        string `json:"sources,omitempty"` // serialised []SourceRef, assistant rows only
	CreatedAt      int64  `json:"created_at"`        // unix seconds
}

// SourceRef is one retrieval citation attached to an assistant message.
type SourceRef struct {
	Filename string  `json:"filename"`
	Excerpt  string  `json:"excerpt"`
	Score    float32 `json:"score"`
}

// EncodeSources serialises refs for the Message.Sources column.
// Returns "" for an empty list so the column stays NULL.
func EncodeSources(refs []SourceRef) string {
	if len(refs) == 0 {
		return ""
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return ""
	}
	return string(data)
}

// DecodeSources parses a Message.Sources column value.
func DecodeSources(s string) []SourceRef {
	if s == "" {
		return nil
	}
	var refs []SourceRef
	if err := json.Unmarshal([]byte(s), &refs); err != nil {
		return nil
	}
	return refs
}

// --- LLM protocol types ---

// ChatMessage is one entry of the message list sent to a chat model.
type ChatMessage struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured tool invocation requested by the model.
type ToolCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

// ChatRequest carries the ordered message list and, when tool use is
// wanted, the definitions the model may call.
type ChatRequest struct {
	Messages []ChatMessage    `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// ChatResponse is a single model reply: either final Content or one or
// more ToolCalls to execute.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage across the model calls of one turn.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// ToolDefinition describes one callable tool to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: text}
}

func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, Content: content, ToolCallID: callID}
}
