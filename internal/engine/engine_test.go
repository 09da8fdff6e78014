package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stepforge/agentd/internal/registry"
	"github.com/stepforge/agentd/internal/tool"
	"github.com/stepforge/agentd/internal/types"
)

// scriptedProvider replays a fixed sequence of completions and records
// every request it sees.
type scriptedProvider struct {
	responses []*CompletionResponse
	err       error
	requests  []CompletionRequest
	calls     int
}

func (p *scriptedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if p.calls >= len(p.responses) {
		return nil, fmt.Errorf("no scripted response for call %d", p.calls)
	}
	resp := p.responses[p.calls]
	p.calls++
	return resp, nil
}

// memStore is an in-memory RunStore.
type memStore struct {
	mu        sync.Mutex
	runs      map[string]*types.Run
	steps     map[string][]types.Step
	appendErr error
}

func newMemStore() *memStore {
	return &memStore{
		runs:  make(map[string]*types.Run),
		steps: make(map[string][]types.Step),
	}
}

func (s *memStore) CreateRun(ctx context.Context, run *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *memStore) AppendStep(ctx context.Context, step types.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.steps[step.RunID] = append(s.steps[step.RunID], step)
	return nil
}

func (s *memStore) FinalizeRun(ctx context.Context, run *types.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *memStore) stepsFor(runID string) []types.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.steps[runID]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func testRegistry(t *testing.T, tools ...tool.Tool) *registry.Registry {
	t.Helper()
	if len(tools) == 0 {
		tools = []tool.Tool{tool.NewCalculator()}
	}
	reg, err := registry.New(testLogger(), tools...)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func textResponse(content string) *CompletionResponse {
	return &CompletionResponse{Content: content, FinishReason: "stop"}
}

func toolResponse(content, id, name string, args map[string]any) *CompletionResponse {
	return &CompletionResponse{
		Content:      content,
		ToolCall:     &ToolCall{ID: id, Name: name, Args: args},
		FinishReason: "tool_use",
	}
}

// checkSeq asserts the recorded sequence is gapless and 0-based.
func checkSeq(t *testing.T, steps []types.Step) {
	t.Helper()
	for i, s := range steps {
		if s.Seq != i {
			t.Errorf("step %d has seq %d, want %d", i, s.Seq, i)
		}
	}
}

func TestRunWithoutTools(t *testing.T) {
	provider := &scriptedProvider{responses: []*CompletionResponse{
		textResponse("Paris is the capital of France."),
	}}
	store := newMemStore()
	eng := New(testRegistry(t), provider, store, testLogger())

	run, err := eng.Run(context.Background(), "What is the capital of France?")
	if err != nil {
		t.Fatal(err)
	}

	if run.Status != types.RunStatusCompleted {
		t.Errorf("expected completed, got %s", run.Status)
	}
	if run.Response != "Paris is the capital of France." {
		t.Errorf("unexpected response: %q", run.Response)
	}

	// A tool-free run is exactly user-request then final-response.
	steps := run.Steps
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	checkSeq(t, steps)
	if steps[0].Kind != types.StepUserRequest || steps[1].Kind != types.StepFinalResponse {
		t.Errorf("unexpected step kinds: %s, %s", steps[0].Kind, steps[1].Kind)
	}
	if run.EndedAt.IsZero() {
		t.Error("completed run missing end time")
	}
}

func TestRunWithToolChain(t *testing.T) {
	provider := &scriptedProvider{responses: []*CompletionResponse{
		toolResponse("Adding the numbers first.", "tc_1", "calculator",
			map[string]any{"operation": "add", "a": float64(5), "b": float64(10)}),
		toolResponse("", "tc_2", "calculator",
			map[string]any{"operation": "multiply", "a": float64(15), "b": float64(3)}),
		textResponse("The result is 45."),
	}}
	store := newMemStore()
	eng := New(testRegistry(t), provider, store, testLogger())

	run, err := eng.Run(context.Background(), "What is (5 + 10) * 3?")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != types.RunStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", run.Status, run.Error)
	}

	steps := run.Steps
	checkSeq(t, steps)

	// user-request, agent-thought, tool-call, tool-result,
	// tool-call, tool-result, final-response.
	wantKinds := []types.StepKind{
		types.StepUserRequest,
		types.StepAgentThought,
		types.StepToolCall,
		types.StepToolResult,
		types.StepToolCall,
		types.StepToolResult,
		types.StepFinalResponse,
	}
	if len(steps) != len(wantKinds) {
		t.Fatalf("expected %d steps, got %d", len(wantKinds), len(steps))
	}
	for i, want := range wantKinds {
		if steps[i].Kind != want {
			t.Errorf("step %d: got %s, want %s", i, steps[i].Kind, want)
		}
	}

	if steps[3].Payload.Result != "15" {
		t.Errorf("first tool result: got %q, want 15", steps[3].Payload.Result)
	}
	if steps[5].Payload.Result != "45" {
		t.Errorf("second tool result: got %q, want 45", steps[5].Payload.Result)
	}

	// Every tool-call is immediately followed by its tool-result.
	for i, s := range steps {
		if s.Kind == types.StepToolCall {
			if i+1 >= len(steps) || steps[i+1].Kind != types.StepToolResult {
				t.Errorf("tool-call at %d not followed by tool-result", i)
			}
		}
	}

	// The tool result was fed back to the model on the next cycle.
	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" || last.Content != "15" {
		t.Errorf("expected tool feedback message, got role=%s content=%q", last.Role, last.Content)
	}
}

func TestRunUnknownToolContinues(t *testing.T) {
	provider := &scriptedProvider{responses: []*CompletionResponse{
		toolResponse("", "tc_1", "teleporter", map[string]any{}),
		textResponse("I cannot do that, sorry."),
	}}
	store := newMemStore()
	eng := New(testRegistry(t), provider, store, testLogger())

	run, err := eng.Run(context.Background(), "Teleport me home")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != types.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}

	steps := run.Steps
	checkSeq(t, steps)
	if len(steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(steps))
	}
	if steps[2].Kind != types.StepToolResult {
		t.Fatalf("expected tool-result at step 2, got %s", steps[2].Kind)
	}
	if steps[2].Payload.Error == "" {
		t.Error("expected error payload for unknown tool")
	}
	if steps[2].Payload.Result != "" {
		t.Error("error tool-result must not carry a result")
	}
}

func TestRunInvalidArgsContinues(t *testing.T) {
	provider := &scriptedProvider{responses: []*CompletionResponse{
		toolResponse("", "tc_1", "calculator",
			map[string]any{"operation": "add", "a": "five", "b": float64(10)}),
		textResponse("Let me rephrase."),
	}}
	store := newMemStore()
	eng := New(testRegistry(t), provider, store, testLogger())

	run, err := eng.Run(context.Background(), "add five and ten")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != types.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}

	// The validation failure reached the model as an error feedback.
	second := provider.requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != "tool" {
		t.Fatalf("expected tool message, got %s", last.Role)
	}
	if !strings.HasPrefix(last.Content, "Error:") {
		t.Errorf("expected error feedback, got %q", last.Content)
	}
}

func TestRunBudgetExceeded(t *testing.T) {
	// The model asks for a tool on every cycle and never answers.
	loop := toolResponse("", "tc", "calculator",
		map[string]any{"operation": "add", "a": float64(1), "b": float64(1)})
	provider := &scriptedProvider{responses: []*CompletionResponse{loop, loop, loop}}
	store := newMemStore()
	eng := New(testRegistry(t), provider, store, testLogger(), WithMaxSteps(3))

	run, err := eng.Run(context.Background(), "loop forever")
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}
	if run.Status != types.RunStatusFailed {
		t.Errorf("expected failed, got %s", run.Status)
	}
	if run.Error == "" {
		t.Error("failed run missing error cause")
	}

	// No final-response step; everything recorded so far is retained.
	steps := run.Steps
	checkSeq(t, steps)
	for _, s := range steps {
		if s.Kind == types.StepFinalResponse {
			t.Error("budget-exceeded run must not have a final-response step")
		}
	}
	if len(steps) != 1+3*2 {
		t.Errorf("expected 7 steps (request + 3 call/result pairs), got %d", len(steps))
	}
}

func TestRunProviderFailure(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("upstream unavailable")}
	store := newMemStore()
	eng := New(testRegistry(t), provider, store, testLogger())

	run, err := eng.Run(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected provider failure to fail the run")
	}
	if run.Status != types.RunStatusFailed {
		t.Errorf("expected failed, got %s", run.Status)
	}

	// The user-request step recorded before the failure survives.
	if len(run.Steps) != 1 || run.Steps[0].Kind != types.StepUserRequest {
		t.Errorf("unexpected retained steps: %+v", run.Steps)
	}
}

func TestRunMidRunDisable(t *testing.T) {
	reg := testRegistry(t)
	provider := &scriptedProvider{responses: []*CompletionResponse{
		toolResponse("", "tc_1", "calculator",
			map[string]any{"operation": "add", "a": float64(1), "b": float64(2)}),
		textResponse("done"),
	}}
	store := newMemStore()

	// Disable the tool right after its first execution.
	eng := New(reg, provider, store, testLogger(), WithStepObserver(func(s types.Step) {
		if s.Kind == types.StepToolResult {
			if err := reg.SetEnabled("calculator", false); err != nil {
				t.Error(err)
			}
		}
	}))

	run, err := eng.Run(context.Background(), "1+2")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != types.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}

	// The first cycle advertised the tool, the second did not.
	if len(provider.requests) != 2 {
		t.Fatalf("expected 2 completions, got %d", len(provider.requests))
	}
	if len(provider.requests[0].Tools) != 1 {
		t.Errorf("first cycle should advertise 1 tool, got %d", len(provider.requests[0].Tools))
	}
	if len(provider.requests[1].Tools) != 0 {
		t.Errorf("second cycle should advertise 0 tools, got %d", len(provider.requests[1].Tools))
	}
}

func TestRunDispatchToDisabledTool(t *testing.T) {
	reg := testRegistry(t)
	if err := reg.SetEnabled("calculator", false); err != nil {
		t.Fatal(err)
	}

	provider := &scriptedProvider{responses: []*CompletionResponse{
		toolResponse("", "tc_1", "calculator",
			map[string]any{"operation": "add", "a": float64(1), "b": float64(2)}),
		textResponse("fine"),
	}}
	store := newMemStore()
	eng := New(reg, provider, store, testLogger())

	run, err := eng.Run(context.Background(), "1+2")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != types.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if run.Steps[2].Payload.Error == "" {
		t.Error("expected error tool-result for disabled tool")
	}
}

func TestRunStepsPersistedIncrementally(t *testing.T) {
	provider := &scriptedProvider{responses: []*CompletionResponse{
		textResponse("hi"),
	}}
	store := newMemStore()
	eng := New(testRegistry(t), provider, store, testLogger())

	run, err := eng.Run(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}

	persisted := store.stepsFor(run.ID)
	if len(persisted) != len(run.Steps) {
		t.Fatalf("store has %d steps, run has %d", len(persisted), len(run.Steps))
	}
	checkSeq(t, persisted)
}

func TestRunObserverSeesEveryStep(t *testing.T) {
	provider := &scriptedProvider{responses: []*CompletionResponse{
		toolResponse("thinking", "tc_1", "calculator",
			map[string]any{"operation": "add", "a": float64(2), "b": float64(2)}),
		textResponse("4"),
	}}
	store := newMemStore()

	var seen []types.StepKind
	eng := New(testRegistry(t), provider, store, testLogger(),
		WithStepObserver(func(s types.Step) { seen = append(seen, s.Kind) }))

	run, err := eng.Run(context.Background(), "2+2")
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != len(run.Steps) {
		t.Errorf("observer saw %d steps, run has %d", len(seen), len(run.Steps))
	}
}

func TestRunThoughtOnlyWithText(t *testing.T) {
	// A directive without rationale text produces no agent-thought step.
	provider := &scriptedProvider{responses: []*CompletionResponse{
		toolResponse("", "tc_1", "calculator",
			map[string]any{"operation": "add", "a": float64(1), "b": float64(1)}),
		textResponse("2"),
	}}
	store := newMemStore()
	eng := New(testRegistry(t), provider, store, testLogger())

	run, err := eng.Run(context.Background(), "1+1")
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range run.Steps {
		if s.Kind == types.StepAgentThought {
			t.Error("unexpected agent-thought step for empty rationale")
		}
	}
}

func TestRunAppendFailureFailsRun(t *testing.T) {
	store := newMemStore()
	store.appendErr = errors.New("disk full")
	provider := &scriptedProvider{responses: []*CompletionResponse{textResponse("hi")}}
	eng := New(testRegistry(t), provider, store, testLogger())

	run, err := eng.Run(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected persistence failure to fail the run")
	}
	if run.Status != types.RunStatusFailed {
		t.Errorf("expected failed, got %s", run.Status)
	}
}
