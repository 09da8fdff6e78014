package engine

import (
	"context"
	"sync"
	"time"

	"github.com/stepforge/agentd/internal/types"
)

// RunStore is the persistence contract the engine drives. The store
// must serialize writes per run so step ordering is preserved; the
// engine is the only writer for its run while it is in flight.
type RunStore interface {
	CreateRun(ctx context.Context, run *types.Run) error
	AppendStep(ctx context.Context, step types.Step) error
	FinalizeRun(ctx context.Context, run *types.Run) error
}

// StepObserver is notified after each step is durably appended. Used
// to feed live step streams; it must not block for long.
type StepObserver func(step types.Step)

// Tracker owns the ordered, append-only step sequence for exactly one
// run. Append assigns the next sequence index atomically; two appends
// never share an index. A tracker is not meant to be shared across
// runs, but Steps may be read concurrently with appends.
type Tracker struct {
	runID   string
	store   RunStore
	observe StepObserver

	mu    sync.Mutex
	steps []types.Step
}

func newTracker(runID string, store RunStore, observe StepObserver) *Tracker {
	return &Tracker{runID: runID, store: store, observe: observe}
}

// Append records one step: it assigns the next index, timestamps the
// step, persists it, and notifies the observer. A persistence failure
// is fatal for the run; steps recorded before it are retained.
func (t *Tracker) Append(ctx context.Context, kind types.StepKind, payload types.StepPayload) (types.Step, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	step := types.Step{
		RunID:     t.runID,
		Seq:       len(t.steps),
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	if err := t.store.AppendStep(ctx, step); err != nil {
		return types.Step{}, err
	}

	t.steps = append(t.steps, step)
	if t.observe != nil {
		t.observe(step)
	}
	return step, nil
}

// Steps returns a copy of the recorded sequence so far.
func (t *Tracker) Steps() []types.Step {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]types.Step, len(t.steps))
	copy(out, t.steps)
	return out
}
