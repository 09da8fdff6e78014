package engine

import (
	"context"

	"github.com/stepforge/agentd/internal/tool"
)

// ChatMessage is one entry in the conversation sent to the completion
// service.
type ChatMessage struct {
	Role       string    `json:"role"` // "user", "assistant", "tool"
	Content    string    `json:"content"`
	ToolCall   *ToolCall `json:"tool_call,omitempty"`    // assistant messages that requested a tool
	ToolName   string    `json:"tool_name,omitempty"`    // tool messages carrying a result
	ToolCallID string    `json:"tool_call_id,omitempty"` // correlates a tool message with its call
}

// ToolCall is a directive from the completion service to invoke one
// named tool with an argument mapping. ID is provider-assigned and
// echoed back on the result message; providers that have no call IDs
// leave it empty.
type ToolCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// CompletionRequest carries the conversation and the currently enabled
// tool schemas to the completion service.
type CompletionRequest struct {
	Model        string        `json:"model"`
	SystemPrompt string        `json:"system_prompt,omitempty"`
	Messages     []ChatMessage `json:"messages"`
	Tools        []tool.Schema `json:"tools,omitempty"`
	MaxTokens    int           `json:"max_tokens,omitempty"`
}

// CompletionResponse is the service's reply: free text, a tool call,
// or both. When both are present the tool call takes precedence; the
// text is recorded as the rationale for the call.
type CompletionResponse struct {
	Content      string    `json:"content"`
	ToolCall     *ToolCall `json:"tool_call,omitempty"`
	Model        string    `json:"model,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
}

// Provider is the completion service contract. Any failure is fatal
// for the current run.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
