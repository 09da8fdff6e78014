// Package engine drives the reasoning/tool-call loop: it transforms
// one user message into one final response while recording every
// intermediate step through a per-run tracker.
//
// State machine:
//
//	Started → Thinking → (ToolDispatch → ToolObserved → Thinking)* → Responding → Done
//
// with Failed reachable from any non-terminal state. Recoverable tool
// errors (unknown name, bad arguments, domain failures) become
// tool-result steps fed back to the model; only completion-service and
// persistence failures, or an exhausted step budget, fail the run.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stepforge/agentd/internal/registry"
	"github.com/stepforge/agentd/internal/tool"
	"github.com/stepforge/agentd/internal/types"
)

// ErrBudgetExceeded marks a run that consumed its whole step budget
// without producing a final answer.
var ErrBudgetExceeded = errors.New("step budget exceeded")

const (
	defaultMaxSteps    = 10
	defaultToolTimeout = 30 * time.Second
)

// Option configures an Engine.
type Option func(*Engine)

// WithMaxSteps bounds the number of Thinking cycles per run.
func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithSystemPrompt sets the system prompt sent on every cycle.
func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) { e.systemPrompt = prompt }
}

// WithModel selects the model identifier passed to the provider.
func WithModel(model string) Option {
	return func(e *Engine) { e.model = model }
}

// WithMaxTokens caps the completion length requested per cycle.
func WithMaxTokens(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithToolTimeout bounds a single tool execution.
func WithToolTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.toolTimeout = d
		}
	}
}

// WithStepObserver wires a listener that sees every step right after
// it is durably appended.
func WithStepObserver(fn StepObserver) Option {
	return func(e *Engine) { e.observe = fn }
}

// Engine executes runs. It is safe for concurrent use: each run gets
// its own tracker and shares only the read-mostly registry.
type Engine struct {
	registry *registry.Registry
	provider Provider
	store    RunStore
	logger   *slog.Logger

	model        string
	systemPrompt string
	maxSteps     int
	maxTokens    int
	toolTimeout  time.Duration
	observe      StepObserver
}

// New creates an engine.
func New(reg *registry.Registry, provider Provider, store RunStore, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		registry:    reg,
		provider:    provider,
		store:       store,
		logger:      logger.With("component", "engine"),
		maxSteps:    defaultMaxSteps,
		toolTimeout: defaultToolTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one user message to completion. The returned run is
// always populated, including for failed runs; err is non-nil only for
// run-fatal conditions (budget exceeded, provider or store failure)
// and identifies the cause. Steps recorded before a failure are
// retained; the tracker never rolls back history.
func (e *Engine) Run(ctx context.Context, message string) (*types.Run, error) {
	run := &types.Run{
		ID:        uuid.NewString(),
		Message:   message,
		Status:    types.RunStatusRunning,
		CreatedAt: time.Now().UTC(),
	}

	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	tracker := newTracker(run.ID, e.store, e.observe)
	logger := e.logger.With("run_id", run.ID)

	// Started: the user message is the first recorded step.
	if _, err := tracker.Append(ctx, types.StepUserRequest, types.TextPayload(message)); err != nil {
		return e.fail(ctx, run, tracker, fmt.Errorf("append step: %w", err))
	}

	messages := []ChatMessage{{Role: "user", Content: message}}

	for cycle := 0; cycle < e.maxSteps; cycle++ {
		// Thinking: the enabled schema set is re-read every cycle, so
		// toggling a tool mid-run takes effect on the next consult.
		req := CompletionRequest{
			Model:        e.model,
			SystemPrompt: e.systemPrompt,
			Messages:     messages,
			Tools:        e.registry.EnabledSchemas(),
			MaxTokens:    e.maxTokens,
		}

		resp, err := e.provider.Complete(ctx, req)
		if err != nil {
			return e.fail(ctx, run, tracker, fmt.Errorf("completion service: %w", err))
		}

		// A tool directive takes precedence over simultaneous answer
		// text: act before concluding.
		if resp.ToolCall != nil {
			if resp.Content != "" {
				if _, err := tracker.Append(ctx, types.StepAgentThought, types.TextPayload(resp.Content)); err != nil {
					return e.fail(ctx, run, tracker, fmt.Errorf("append step: %w", err))
				}
			}

			messages = append(messages, ChatMessage{
				Role:     "assistant",
				Content:  resp.Content,
				ToolCall: resp.ToolCall,
			})

			if err := e.dispatch(ctx, tracker, resp.ToolCall, &messages); err != nil {
				return e.fail(ctx, run, tracker, err)
			}
			continue
		}

		// Responding: final answer.
		if _, err := tracker.Append(ctx, types.StepFinalResponse, types.TextPayload(resp.Content)); err != nil {
			return e.fail(ctx, run, tracker, fmt.Errorf("append step: %w", err))
		}

		run.Response = resp.Content
		run.Status = types.RunStatusCompleted
		run.EndedAt = time.Now().UTC()
		run.Steps = tracker.Steps()

		if err := e.store.FinalizeRun(ctx, run); err != nil {
			return run, fmt.Errorf("finalize run: %w", err)
		}

		logger.Info("run completed", "cycles", cycle+1, "steps", len(run.Steps))
		return run, nil
	}

	logger.Warn("run exceeded step budget", "max_steps", e.maxSteps)
	return e.fail(ctx, run, tracker, ErrBudgetExceeded)
}

// dispatch handles ToolDispatch → ToolObserved for one directive. The
// returned error is non-nil only for persistence failures; tool-level
// errors (unknown name, invalid arguments, execution failure) are
// recorded as error tool-results and fed back into the conversation so
// the model can recover.
func (e *Engine) dispatch(ctx context.Context, tracker *Tracker, call *ToolCall, messages *[]ChatMessage) error {
	if _, err := tracker.Append(ctx, types.StepToolCall, types.ToolCallPayload(call.Name, call.Args)); err != nil {
		return fmt.Errorf("append step: %w", err)
	}

	result, execErr := e.executeTool(ctx, call)

	var payload types.StepPayload
	var feedback string
	if execErr != nil {
		payload = types.ToolErrorPayload(call.Name, execErr.Error())
		feedback = "Error: " + execErr.Error()
		e.logger.Debug("tool call failed", "tool", call.Name, "error", execErr)
	} else {
		payload = types.ToolResultPayload(call.Name, result)
		feedback = result
	}

	if _, err := tracker.Append(ctx, types.StepToolResult, payload); err != nil {
		return fmt.Errorf("append step: %w", err)
	}

	*messages = append(*messages, ChatMessage{
		Role:       "tool",
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Content:    feedback,
	})
	return nil
}

// executeTool looks up, validates, and runs one tool call.
func (e *Engine) executeTool(ctx context.Context, call *ToolCall) (string, error) {
	t, err := e.registry.Lookup(call.Name)
	if err != nil {
		return "", err
	}

	if err := tool.ValidateArgs(t, call.Args); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, e.toolTimeout)
	defer cancel()

	return t.Execute(ctx, call.Args)
}

// fail marks the run failed with an identifiable cause, keeping every
// step recorded so far, and reports the cause to the caller.
func (e *Engine) fail(ctx context.Context, run *types.Run, tracker *Tracker, cause error) (*types.Run, error) {
	run.Status = types.RunStatusFailed
	run.Error = cause.Error()
	run.EndedAt = time.Now().UTC()
	run.Steps = tracker.Steps()

	if err := e.store.FinalizeRun(ctx, run); err != nil {
		e.logger.Error("failed to finalize failed run", "run_id", run.ID, "error", err)
	}
	return run, cause
}
