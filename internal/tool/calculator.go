package tool

import (
	"context"
	"fmt"
	"strconv"
)

// Calculator performs basic arithmetic. Division by zero is a domain
// execution error, surfaced to the model rather than failing the run.
type Calculator struct{}

// NewCalculator creates the calculator tool.
func NewCalculator() *Calculator { return &Calculator{} }

func (c *Calculator) Name() string  { return "calculator" }
func (c *Calculator) Label() string { return "Calculator" }

func (c *Calculator) Description() string {
	return "Perform basic arithmetic on two numbers. Supported operations: add, subtract, multiply, divide."
}

func (c *Calculator) Params() []Param {
	return []Param{
		{Name: "operation", Type: "string", Description: "One of: add, subtract, multiply, divide", Required: true},
		{Name: "a", Type: "number", Description: "First operand", Required: true},
		{Name: "b", Type: "number", Description: "Second operand", Required: true},
	}
}

func (c *Calculator) Execute(ctx context.Context, args map[string]any) (string, error) {
	op, _ := args["operation"].(string)
	a, _ := args["a"].(float64)
	b, _ := args["b"].(float64)

	var result float64
	switch op {
	case "add":
		result = a + b
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return "", fmt.Errorf("division by zero")
		}
		result = a / b
	default:
		return "", fmt.Errorf("unsupported operation %q", op)
	}

	return strconv.FormatFloat(result, 'f', -1, 64), nil
}
