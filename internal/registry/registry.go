// Package registry maintains the authoritative set of tool
// descriptors: registration at startup, enabled-schema projection for
// the completion service, lookup for dispatch, and the enable/disable
// management operation.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stepforge/agentd/internal/tool"
)

var (
	// ErrNotFound is returned for lookups and toggles on unknown tool names.
	ErrNotFound = errors.New("tool not found")

	// ErrDisabled is returned when dispatch targets a disabled tool.
	ErrDisabled = errors.New("tool is disabled")
)

// Descriptor is the registered metadata and enabled state for a tool.
// The name never changes; enabled is the only mutable field.
type Descriptor struct {
	Name        string       `json:"name"`
	Label       string       `json:"label"`
	Description string       `json:"description"`
	Params      []tool.Param `json:"params"`
	Enabled     bool         `json:"enabled"`
}

type entry struct {
	tool        tool.Tool
	description string
	enabled     bool
}

// Registry holds the registered tools. Reads vastly outnumber the only
// mutation (SetEnabled), so an RWMutex guards the table.
type Registry struct {
	mu     sync.RWMutex
	order  []string
	tools  map[string]*entry
	logger *slog.Logger
}

// New registers every tool exactly once. A duplicate name is a
// configuration error that prevents startup.
func New(logger *slog.Logger, tools ...tool.Tool) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &Registry{
		tools:  make(map[string]*entry, len(tools)),
		logger: logger.With("component", "registry"),
	}

	for _, t := range tools {
		name := t.Name()
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("duplicate tool name %q", name)
		}
		r.tools[name] = &entry{tool: t, description: t.Description(), enabled: true}
		r.order = append(r.order, name)
		r.logger.Info("registered tool", "name", name)
	}

	return r, nil
}

// Lookup returns the tool for dispatch. Unknown names fail with
// ErrNotFound, disabled tools with ErrDisabled; the engine converts
// both into error tool-result steps rather than aborting the run.
func (r *Registry) Lookup(name string) (tool.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if !e.enabled {
		return nil, fmt.Errorf("%w: %q", ErrDisabled, name)
	}
	return e.tool, nil
}

// EnabledSchemas returns the LLM-facing schemas of enabled tools, in
// registration order. Disabled tools are excluded but their
// descriptors remain queryable.
func (r *Registry) EnabledSchemas() []tool.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]tool.Schema, 0, len(r.order))
	for _, name := range r.order {
		e := r.tools[name]
		if !e.enabled {
			continue
		}
		s := tool.BuildSchema(e.tool)
		s.Description = e.description
		schemas = append(schemas, s)
	}
	return schemas
}

// Descriptors returns every registered descriptor, enabled or not, in
// registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.describe(name))
	}
	return out
}

// Describe returns the descriptor for one tool.
func (r *Registry) Describe(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.tools[name]; !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return r.describe(name), nil
}

func (r *Registry) describe(name string) Descriptor {
	e := r.tools[name]
	return Descriptor{
		Name:        name,
		Label:       e.tool.Label(),
		Description: e.description,
		Params:      e.tool.Params(),
		Enabled:     e.enabled,
	}
}

// SetEnabled toggles a tool. Unknown names fail with ErrNotFound;
// setting an already-set state is idempotent.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if e.enabled != enabled {
		e.enabled = enabled
		r.logger.Info("tool toggled", "name", name, "enabled", enabled)
	}
	return nil
}
