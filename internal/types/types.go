// Package types provides the run/step data model shared across the
// engine, store, and api packages to avoid import cycles.
package types

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// StepKind identifies the shape of a step payload.
type StepKind string

const (
	StepUserRequest   StepKind = "user-request"
	StepAgentThought  StepKind = "agent-thought"
	StepToolCall      StepKind = "tool-call"
	StepToolResult    StepKind = "tool-result"
	StepFinalResponse StepKind = "final-response"
)

// Run is one end-to-end agent execution for a single user message.
type Run struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Response  string    `json:"response,omitempty"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`

	// Steps is populated on read paths (GetRun); the engine appends
	// steps through its tracker, never through this slice.
	Steps []Step `json:"steps,omitempty"`
}

// Step is one atomic, ordered event in a run's history. Steps are
// append-only: once written they are never mutated or removed except
// by deleting the whole run.
type Step struct {
	RunID     string      `json:"run_id"`
	Seq       int         `json:"seq"`
	Kind      StepKind    `json:"kind"`
	Payload   StepPayload `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

// StepPayload carries the kind-dependent step content. Text is used by
// user-request, agent-thought, and final-response steps; the tool
// fields by tool-call and tool-result steps. The tool name is stored
// by value so registry changes never invalidate recorded history.
type StepPayload struct {
	Text   string         `json:"text,omitempty"`
	Tool   string         `json:"tool,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Result string         `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// TextPayload builds the payload for a text-shaped step.
func TextPayload(text string) StepPayload {
	return StepPayload{Text: text}
}

// ToolCallPayload builds the payload for a tool-call step.
func ToolCallPayload(tool string, args map[string]any) StepPayload {
	return StepPayload{Tool: tool, Args: args}
}

// ToolResultPayload builds the payload for a successful tool-result step.
func ToolResultPayload(tool, result string) StepPayload {
	return StepPayload{Tool: tool, Result: result}
}

// ToolErrorPayload builds the payload for a failed tool-result step.
func ToolErrorPayload(tool, errMsg string) StepPayload {
	return StepPayload{Tool: tool, Error: errMsg}
}

// IsTerminal reports whether the run has reached a final status.
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}
