package models

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stepforge/agentd/internal/config"
	"github.com/stepforge/agentd/internal/engine"
	"github.com/stepforge/agentd/internal/tool"
)

func testTools() []tool.Schema {
	return []tool.Schema{{
		Name:        "calculator",
		Description: "do math",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"a": map[string]any{"type": "number"}},
		},
	}}
}

func TestAnthropicComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("missing api key header, got %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("missing anthropic-version header")
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.System != "be helpful" {
			t.Errorf("system prompt not forwarded: %q", req.System)
		}
		if len(req.Tools) != 1 || req.Tools[0].Name != "calculator" {
			t.Errorf("tools not forwarded: %+v", req.Tools)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "msg_1",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"stop_reason": "tool_use",
			"content": [
				{"type": "text", "text": "Let me compute that."},
				{"type": "tool_use", "id": "toolu_1", "name": "calculator", "input": {"a": 5}}
			]
		}`))
	}))
	defer server.Close()

	p := NewAnthropicProvider(config.ProviderConfig{APIKey: "test-key", BaseURL: server.URL})
	resp, err := p.Complete(context.Background(), engine.CompletionRequest{
		Model:        "claude-sonnet-4-5",
		SystemPrompt: "be helpful",
		Messages:     []engine.ChatMessage{{Role: "user", Content: "what is 2+3?"}},
		Tools:        testTools(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Content != "Let me compute that." {
		t.Errorf("unexpected content %q", resp.Content)
	}
	if resp.ToolCall == nil {
		t.Fatal("expected tool call")
	}
	if resp.ToolCall.ID != "toolu_1" || resp.ToolCall.Name != "calculator" {
		t.Errorf("unexpected tool call: %+v", resp.ToolCall)
	}
	if resp.ToolCall.Args["a"] != float64(5) {
		t.Errorf("unexpected args: %v", resp.ToolCall.Args)
	}
}

func TestAnthropicToolResultWireShape(t *testing.T) {
	var captured anthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(`{"content": [{"type": "text", "text": "5"}], "stop_reason": "end_turn"}`))
	}))
	defer server.Close()

	p := NewAnthropicProvider(config.ProviderConfig{APIKey: "k", BaseURL: server.URL})
	_, err := p.Complete(context.Background(), engine.CompletionRequest{
		Model: "claude-sonnet-4-5",
		Messages: []engine.ChatMessage{
			{Role: "user", Content: "2+3?"},
			{Role: "assistant", ToolCall: &engine.ToolCall{ID: "toolu_1", Name: "calculator", Args: map[string]any{"a": 5.0}}},
			{Role: "tool", ToolName: "calculator", ToolCallID: "toolu_1", Content: "5"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(captured.Messages) != 3 {
		t.Fatalf("expected 3 wire messages, got %d", len(captured.Messages))
	}

	// The assistant turn carries the tool_use block.
	asst := captured.Messages[1]
	if asst.Role != "assistant" || len(asst.Content) != 1 || asst.Content[0].Type != "tool_use" {
		t.Errorf("unexpected assistant turn: %+v", asst)
	}

	// The tool result travels as a user-role tool_result block keyed by
	// the originating tool_use id.
	result := captured.Messages[2]
	if result.Role != "user" {
		t.Errorf("tool result should be user role, got %s", result.Role)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "tool_result" {
		t.Fatalf("unexpected result blocks: %+v", result.Content)
	}
	if result.Content[0].ToolUseID != "toolu_1" || result.Content[0].Content != "5" {
		t.Errorf("tool result not correlated: %+v", result.Content[0])
	}
}

func TestAnthropicAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"type": "error", "error": {"type": "rate_limit_error", "message": "slow down"}}`))
	}))
	defer server.Close()

	p := NewAnthropicProvider(config.ProviderConfig{APIKey: "k", BaseURL: server.URL})
	_, err := p.Complete(context.Background(), engine.CompletionRequest{Model: "m"})
	if err == nil {
		t.Fatal("expected API error")
	}
}

func TestOpenAIComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer token, got %q", got)
		}

		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		// System prompt is prepended as a system message.
		if len(req.Messages) == 0 || req.Messages[0].Role != "system" {
			t.Errorf("expected leading system message, got %+v", req.Messages)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "calculator" {
			t.Errorf("tools not forwarded: %+v", req.Tools)
		}

		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "calculator", "arguments": "{\"a\": 5}"}
					}]
				}
			}]
		}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(config.ProviderConfig{APIKey: "test-key", BaseURL: server.URL})
	resp, err := p.Complete(context.Background(), engine.CompletionRequest{
		Model:        "gpt-4o",
		SystemPrompt: "be helpful",
		Messages:     []engine.ChatMessage{{Role: "user", Content: "2+3?"}},
		Tools:        testTools(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.ToolCall == nil {
		t.Fatal("expected tool call")
	}
	if resp.ToolCall.ID != "call_1" || resp.ToolCall.Name != "calculator" {
		t.Errorf("unexpected tool call: %+v", resp.ToolCall)
	}
	// JSON-string arguments are parsed into a map.
	if resp.ToolCall.Args["a"] != float64(5) {
		t.Errorf("arguments not parsed: %v", resp.ToolCall.Args)
	}
}

func TestOpenAIToolFeedbackWireShape(t *testing.T) {
	var captured openAIRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "5"}, "finish_reason": "stop"}]}`))
	}))
	defer server.Close()

	p := NewOpenAIProvider(config.ProviderConfig{APIKey: "k", BaseURL: server.URL})
	_, err := p.Complete(context.Background(), engine.CompletionRequest{
		Model: "gpt-4o",
		Messages: []engine.ChatMessage{
			{Role: "user", Content: "2+3?"},
			{Role: "assistant", ToolCall: &engine.ToolCall{ID: "call_1", Name: "calculator", Args: map[string]any{"a": 5.0}}},
			{Role: "tool", ToolName: "calculator", ToolCallID: "call_1", Content: "5"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(captured.Messages) != 3 {
		t.Fatalf("expected 3 wire messages, got %d", len(captured.Messages))
	}
	asst := captured.Messages[1]
	if len(asst.ToolCalls) != 1 || asst.ToolCalls[0].ID != "call_1" {
		t.Errorf("assistant tool_calls not forwarded: %+v", asst)
	}
	result := captured.Messages[2]
	if result.Role != "tool" || result.ToolCallID != "call_1" || result.Content != "5" {
		t.Errorf("tool feedback not correlated: %+v", result)
	}
}

func TestOllamaComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}

		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Stream {
			t.Error("streaming must be disabled")
		}

		w.Write([]byte(`{
			"model": "llama3.1",
			"done": true,
			"message": {
				"role": "assistant",
				"content": "",
				"tool_calls": [{"function": {"name": "calculator", "arguments": {"a": 5}}}]
			}
		}`))
	}))
	defer server.Close()

	p := NewOllamaProvider(config.ProviderConfig{BaseURL: server.URL})
	resp, err := p.Complete(context.Background(), engine.CompletionRequest{
		Model:    "llama3.1",
		Messages: []engine.ChatMessage{{Role: "user", Content: "2+3?"}},
		Tools:    testTools(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.ToolCall == nil {
		t.Fatal("expected tool call")
	}
	if resp.ToolCall.Name != "calculator" || resp.ToolCall.Args["a"] != float64(5) {
		t.Errorf("unexpected tool call: %+v", resp.ToolCall)
	}
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.ProviderConfig
		wantErr bool
	}{
		{"anthropic with key", config.ProviderConfig{Type: "anthropic", APIKey: "k", Model: "m"}, false},
		{"anthropic without key", config.ProviderConfig{Type: "anthropic", Model: "m"}, true},
		{"openai with key", config.ProviderConfig{Type: "openai", APIKey: "k", Model: "m"}, false},
		{"ollama without key", config.ProviderConfig{Type: "ollama", Model: "m"}, false},
		{"unknown", config.ProviderConfig{Type: "bard", Model: "m"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewProvider(tc.cfg)
			if tc.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
