// Package tool defines the capability contract every agent tool
// implements, plus the built-in tool set (calculator, web search,
// file access) and strict argument validation against a declared
// parameter schema.
package tool

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Tool is the contract every capability implements. Execution is
// synchronous from the engine's perspective and returns a single text
// outcome or an error. Side effects are tool-specific and opaque.
type Tool interface {
	// Name returns the stable, unique tool identifier.
	Name() string

	// Label returns a short human-readable display name.
	Label() string

	// Description returns free text advertised to the completion service.
	Description() string

	// Params returns the declared parameter schema.
	Params() []Param

	// Execute runs the tool with validated arguments.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Param describes one named parameter in a tool's schema.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "number", "integer", "boolean"
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Schema is the LLM-facing JSON Schema projection of a tool, sent to
// the completion service for function calling.
type Schema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// BuildSchema converts a tool's declared parameters into a JSON Schema
// object of the shape LLM APIs expect.
func BuildSchema(t Tool) Schema {
	properties := make(map[string]any)
	var required []string

	for _, p := range t.Params() {
		properties[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	parameters := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		parameters["required"] = required
	}

	return Schema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  parameters,
	}
}

// ValidationError reports arguments that do not satisfy a tool's
// parameter schema. It is recoverable: the engine feeds it back to the
// model as a tool-result step instead of failing the run.
type ValidationError struct {
	Tool    string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// ValidateArgs checks args against the declared parameters. Validation
// is strict: a missing required parameter or a value of the wrong type
// is an error, never a silent coercion. Unknown argument names are
// rejected so the model gets a precise correction hint.
func ValidateArgs(t Tool, args map[string]any) error {
	params := t.Params()
	byName := make(map[string]Param, len(params))
	var problems []string

	for _, p := range params {
		byName[p.Name] = p
		if !p.Required {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			problems = append(problems, fmt.Sprintf("missing required parameter %q", p.Name))
		}
	}

	for name, value := range args {
		p, ok := byName[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown parameter %q", name))
			continue
		}
		if !typeMatches(p.Type, value) {
			problems = append(problems, fmt.Sprintf("parameter %q must be of type %s", name, p.Type))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Tool: t.Name(), Problems: problems}
	}
	return nil
}

// typeMatches checks a JSON-decoded value against a schema type.
// encoding/json decodes every number to float64, so "integer" accepts
// a float64 only when it carries no fractional part.
func typeMatches(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == math.Trunc(f)
	case "boolean":
		_, ok := value.(bool)
		return ok
	default:
		return false
	}
}
