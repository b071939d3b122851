package openaicompat

import (
	"encoding/json"

	qanat "github.com/nevindra/qanat"
)

// ParseResponse converts an OpenAI-format ChatResponse to a qanat ChatResponse.
// It extracts content, tool calls, and usage from choices[0].
func ParseResponse(resp ChatResponse) (qanat.ChatResponse, error) {
	var out qanat.ChatResponse

	if len(resp.Choices) == 0 {
		return out, nil
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Content = choice.Message.Content
		out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
	}

	if resp.Usage != nil {
		out.Usage = qanat.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}

	return out, nil
}

// ParseToolCalls converts OpenAI tool call requests to qanat ToolCalls.
// OpenAI returns function.arguments as a JSON string; we parse it into json.RawMessage.
func ParseToolCalls(tcs []ToolCallRequest) []qanat.ToolCall {
	if len(tcs) == 0 {
		return nil
	}

	out := make([]qanat.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		args := json.RawMessage(tc.Function.Arguments)
		// Validate that arguments is valid JSON; if not, fall back to an empty object.
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out = append(out, qanat.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return out
}
