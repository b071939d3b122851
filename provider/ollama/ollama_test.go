package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	qanat "github.com/nevindra/qanat"
)

func TestProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/chat" {
			t.Errorf("expected path /api/chat, got %s", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content-type: %s", r.Header.Get("Content-Type"))
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "qwen2.5:7b" {
			t.Errorf("expected model qwen2.5:7b, got %s", req.Model)
		}
		if req.Stream {
			t.Error("expected stream=false")
		}
		if len(req.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(req.Messages))
		}
		if req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Errorf("unexpected roles: %s, %s", req.Messages[0].Role, req.Messages[1].Role)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{
			Message:         wireMessage{Role: "assistant", Content: "你好！"},
			Done:            true,
			PromptEvalCount: 15,
			EvalCount:       4,
		})
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))

	resp, err := p.Chat(context.Background(), qanat.ChatRequest{
		Messages: []qanat.ChatMessage{
			qanat.SystemMessage("你是一个助手。"),
			qanat.UserMessage("你好"),
		},
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}

	if resp.Content != "你好！" {
		t.Errorf("expected content '你好！', got %q", resp.Content)
	}
	if resp.Usage.InputTokens != 15 {
		t.Errorf("expected 15 input tokens, got %d", resp.Usage.InputTokens)
	}
	if resp.Usage.OutputTokens != 4 {
		t.Errorf("expected 4 output tokens, got %d", resp.Usage.OutputTokens)
	}
	if len(resp.ToolCalls) != 0 {
		t.Errorf("expected no tool calls, got %d", len(resp.ToolCalls))
	}
}

func TestProvider_ChatToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if len(req.Tools) != 1 {
			t.Fatalf("expected 1 tool, got %d", len(req.Tools))
		}
		if req.Tools[0].Type != "function" {
			t.Errorf("expected tool type 'function', got %q", req.Tools[0].Type)
		}
		if req.Tools[0].Function.Name != "get_weather" {
			t.Errorf("expected tool name 'get_weather', got %q", req.Tools[0].Function.Name)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{
			Message: wireMessage{
				Role: "assistant",
				ToolCalls: []wireToolCall{{Function: wireCall{
					Name:      "get_weather",
					Arguments: map[string]any{"city": "北京"},
				}}},
			},
			Done: true,
		})
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))

	resp, err := p.Chat(context.Background(), qanat.ChatRequest{
		Messages: []qanat.ChatMessage{qanat.UserMessage("北京天气如何？")},
		Tools: []qanat.ToolDefinition{{
			Name:        "get_weather",
			Description: "Get weather",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`),
		}},
	})
	if err != nil {
		t.Fatalf("Chat with tools returned error: %v", err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	// Ollama returns no call ids, so one is synthesised from the index.
	if resp.ToolCalls[0].ID != "call_0_get_weather" {
		t.Errorf("expected id 'call_0_get_weather', got %q", resp.ToolCalls[0].ID)
	}
	if resp.ToolCalls[0].Name != "get_weather" {
		t.Errorf("expected name 'get_weather', got %q", resp.ToolCalls[0].Name)
	}

	var args map[string]any
	if err := json.Unmarshal(resp.ToolCalls[0].Args, &args); err != nil {
		t.Fatalf("failed to parse args: %v", err)
	}
	if args["city"] != "北京" {
		t.Errorf("expected city '北京', got %v", args["city"])
	}
}

func TestProvider_ChatToolResultMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if len(req.Messages) != 3 {
			t.Fatalf("expected 3 messages, got %d", len(req.Messages))
		}
		asst := req.Messages[1]
		if len(asst.ToolCalls) != 1 {
			t.Fatalf("expected 1 assistant tool call, got %d", len(asst.ToolCalls))
		}
		if asst.ToolCalls[0].Function.Name != "calculate" {
			t.Errorf("expected call name 'calculate', got %q", asst.ToolCalls[0].Function.Name)
		}
		if asst.ToolCalls[0].Function.Arguments["expression"] != "1+1" {
			t.Errorf("unexpected arguments: %v", asst.ToolCalls[0].Function.Arguments)
		}
		// Tool results are paired by name, resolved from the call id.
		toolMsg := req.Messages[2]
		if toolMsg.Role != "tool" {
			t.Errorf("expected role 'tool', got %q", toolMsg.Role)
		}
		if toolMsg.ToolName != "calculate" {
			t.Errorf("expected tool_name 'calculate', got %q", toolMsg.ToolName)
		}
		if toolMsg.Content != "2" {
			t.Errorf("expected content '2', got %q", toolMsg.Content)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{
			Message: wireMessage{Role: "assistant", Content: "1+1等于2。"},
			Done:    true,
		})
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))

	resp, err := p.Chat(context.Background(), qanat.ChatRequest{
		Messages: []qanat.ChatMessage{
			qanat.UserMessage("1+1等于几？"),
			{
				Role: qanat.RoleAssistant,
				ToolCalls: []qanat.ToolCall{{
					ID:   "call_0_calculate",
					Name: "calculate",
					Args: json.RawMessage(`{"expression":"1+1"}`),
				}},
			},
			qanat.ToolResultMessage("call_0_calculate", "2"),
		},
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Content != "1+1等于2。" {
		t.Errorf("unexpected content: %q", resp.Content)
	}
}

func TestProvider_ChatHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":"model is loading"}`))
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))

	_, err := p.Chat(context.Background(), qanat.ChatRequest{
		Messages: []qanat.ChatMessage{qanat.UserMessage("Hi")},
	})
	if err == nil {
		t.Fatal("expected error for 503 response")
	}

	httpErr, ok := err.(*qanat.ErrHTTP)
	if !ok {
		t.Fatalf("expected *qanat.ErrHTTP, got %T", err)
	}
	if httpErr.Status != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", httpErr.Status)
	}
	if httpErr.RetryAfter != 3*time.Second {
		t.Errorf("expected retry-after 3s, got %v", httpErr.RetryAfter)
	}
}

func TestProvider_ChatErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"error":"model 'missing' not found"}`))
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL))

	_, err := p.Chat(context.Background(), qanat.ChatRequest{
		Messages: []qanat.ChatMessage{qanat.UserMessage("Hi")},
	})
	if err == nil {
		t.Fatal("expected error for error field in response")
	}

	llmErr, ok := err.(*qanat.ErrLLM)
	if !ok {
		t.Fatalf("expected *qanat.ErrLLM, got %T", err)
	}
	if llmErr.Provider != "ollama" {
		t.Errorf("expected provider 'ollama', got %q", llmErr.Provider)
	}
	if llmErr.Message != "model 'missing' not found" {
		t.Errorf("unexpected message: %q", llmErr.Message)
	}
}

func TestProvider_ChatOptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}

		if req.Options == nil {
			t.Fatal("expected options in request")
		}
		if req.Options.Temperature == nil || *req.Options.Temperature != 0.3 {
			t.Errorf("expected temperature 0.3, got %v", req.Options.Temperature)
		}
		if req.Options.NumPredict != 512 {
			t.Errorf("expected num_predict 512, got %d", req.Options.NumPredict)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{
			Message: wireMessage{Role: "assistant", Content: "OK"},
			Done:    true,
		})
	}))
	defer srv.Close()

	p := New(WithBaseURL(srv.URL), WithTemperature(0.3), WithNumPredict(512))

	_, err := p.Chat(context.Background(), qanat.ChatRequest{
		Messages: []qanat.ChatMessage{qanat.UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
}

func TestProvider_Defaults(t *testing.T) {
	p := New()
	if p.Name() != "ollama" {
		t.Errorf("expected default name 'ollama', got %q", p.Name())
	}
	if p.Model() != DefaultChatModel {
		t.Errorf("expected default model %q, got %q", DefaultChatModel, p.Model())
	}
	if p.baseURL != DefaultBaseURL {
		t.Errorf("expected default base URL %q, got %q", DefaultBaseURL, p.baseURL)
	}

	p = New(WithBaseURL("http://gpu-box:11434/"), WithModel("qwen2.5:32b"), WithName("ollama-local"))
	if p.baseURL != "http://gpu-box:11434" {
		t.Errorf("expected trailing slash trimmed, got %q", p.baseURL)
	}
	if p.Model() != "qwen2.5:32b" {
		t.Errorf("expected model 'qwen2.5:32b', got %q", p.Model())
	}
	if p.Name() != "ollama-local" {
		t.Errorf("expected name 'ollama-local', got %q", p.Name())
	}
}
