// Package ollama provides chat and embedding clients for a local Ollama
// server using its native API (/api/chat, /api/embed). Tool definitions
// travel in the OpenAI function schema that Ollama accepts; responses are
// non-streaming, the way the turn pipeline consumes them.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	qanat "github.com/nevindra/qanat"
)

const (
	// DefaultBaseURL is the stock local Ollama endpoint.
	DefaultBaseURL = "http://localhost:11434"
	// DefaultChatModel is the chat model used when none is configured.
	DefaultChatModel = "qwen2.5:7b"
	// DefaultTimeout bounds one chat call. Local models load lazily, so
	// the first call can be slow.
	DefaultTimeout = 120 * time.Second
)

// --- Wire types (Ollama native chat API) ---

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Tools    []wireTool    `json:"tools,omitempty"`
	Options  *wireOptions  `json:"options,omitempty"`
}

type wireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
	// Ollama pairs tool results by name, not by call id.
	ToolName string `json:"tool_name,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"` // always "function"
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type wireToolCall struct {
	Function wireCall `json:"function"`
}

type wireCall struct {
	Index     int            `json:"index,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type wireOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type chatResponse struct {
	Message         wireMessage `json:"message"`
	Done            bool        `json:"done"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
	Error           string      `json:"error,omitempty"`
}

// Provider is a qanat.Provider over the Ollama chat API.
type Provider struct {
	baseURL     string
	model       string
	client      *http.Client
	name        string
	temperature *float64
	numPredict  int
}

// New creates an Ollama chat provider with the stock defaults
// (localhost, qwen2.5:7b, 120 s timeout).
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL: DefaultBaseURL,
		model:   DefaultChatModel,
		client:  &http.Client{Timeout: DefaultTimeout},
		name:    "ollama",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "ollama").
func (p *Provider) Name() string { return p.name }

// Model returns the configured chat model id.
func (p *Provider) Model() string { return p.model }

// Chat sends one non-streaming chat request. When req.Tools is non-empty
// the response may carry ToolCalls instead of final content.
func (p *Provider) Chat(ctx context.Context, req qanat.ChatRequest) (qanat.ChatResponse, error) {
	body := chatRequest{
		Model:    p.model,
		Messages: buildMessages(req.Messages),
		Stream:   false,
		Tools:    buildTools(req.Tools),
	}
	if p.temperature != nil || p.numPredict > 0 {
		body.Options = &wireOptions{Temperature: p.temperature, NumPredict: p.numPredict}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return qanat.ChatResponse{}, &qanat.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return qanat.ChatResponse{}, &qanat.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return qanat.ChatResponse{}, &qanat.ErrLLM{Provider: p.name, Message: fmt.Sprintf("send request: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return qanat.ChatResponse{}, &qanat.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(data),
			RetryAfter: qanat.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var wire chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return qanat.ChatResponse{}, &qanat.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if wire.Error != "" {
		return qanat.ChatResponse{}, &qanat.ErrLLM{Provider: p.name, Message: wire.Error}
	}

	return qanat.ChatResponse{
		Content:   wire.Message.Content,
		ToolCalls: parseToolCalls(wire.Message.ToolCalls),
		Usage: qanat.Usage{
			InputTokens:  wire.PromptEvalCount,
			OutputTokens: wire.EvalCount,
		},
	}, nil
}

// buildMessages converts the portable message list into Ollama wire
// messages. Tool results need the tool name rather than the call id, so
// assistant tool calls are tracked to resolve the pairing.
func buildMessages(messages []qanat.ChatMessage) []wireMessage {
	callName := make(map[string]string)
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.Role == qanat.RoleAssistant && len(m.ToolCalls) > 0:
			wm := wireMessage{Role: m.Role, Content: m.Content}
			for i, tc := range m.ToolCalls {
				callName[tc.ID] = tc.Name
				wm.ToolCalls = append(wm.ToolCalls, wireToolCall{Function: wireCall{
					Index:     i,
					Name:      tc.Name,
					Arguments: argsToMap(tc.Args),
				}})
			}
			out = append(out, wm)
		case m.Role == qanat.RoleTool:
			name := callName[m.ToolCallID]
			if name == "" {
				name = m.ToolCallID
			}
			out = append(out, wireMessage{Role: m.Role, Content: m.Content, ToolName: name})
		default:
			out = append(out, wireMessage{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

func buildTools(tools []qanat.ToolDefinition) []wireTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]wireTool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		out = append(out, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// parseToolCalls converts wire tool calls into qanat.ToolCalls. Ollama
// returns structured argument objects and no call ids; ids are
// synthesised from the call index so tool results can be paired back.
func parseToolCalls(calls []wireToolCall) []qanat.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]qanat.ToolCall, 0, len(calls))
	for i, tc := range calls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		raw, err := json.Marshal(args)
		if err != nil {
			raw = json.RawMessage(`{}`)
		}
		out = append(out, qanat.ToolCall{
			ID:   fmt.Sprintf("call_%d_%s", i, tc.Function.Name),
			Name: tc.Function.Name,
			Args: raw,
		})
	}
	return out
}

// argsToMap parses the stored argument object for the wire format.
func argsToMap(raw json.RawMessage) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// Compile-time interface check.
var _ qanat.Provider = (*Provider)(nil)
