package tools

import (
	"context"
	"fmt"
	"math"
	"time"
)

// ClockTool reports the current time. Args: "tz" (IANA zone, optional),
// "format" (Go layout, optional).
type ClockTool struct{}

func (t *ClockTool) Name() string { return "clock" }

func (t *ClockTool) Description() string {
	return `Returns the current date and time. Args: "tz" (IANA timezone name, default local), "format" (Go time layout, default RFC3339).`
}

func (t *ClockTool) Execute(_ context.Context, args map[string]any) (string, error) {
	now := time.Now()
	if tz, ok := args["tz"].(string); ok && tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", tz)
		}
		now = now.In(loc)
	}
	layout := time.RFC3339
	if f, ok := args["format"].(string); ok && f != "" {
		layout = f
	}
	return now.Format(layout), nil
}

// CalculatorTool performs one arithmetic operation. Args: "a", "b"
// (numbers), "op" (one of + - * / ^ %).
type CalculatorTool struct{}

func (t *CalculatorTool) Name() string { return "calc" }

func (t *CalculatorTool) Description() string {
	return `Performs arithmetic. Args: "a" and "b" (numbers), "op" (one of "+", "-", "*", "/", "^", "%").`
}

func (t *CalculatorTool) Execute(_ context.Context, args map[string]any) (string, error) {
	a, err := number(args, "a")
	if err != nil {
		return "", err
	}
	b, err := number(args, "b")
	if err != nil {
		return "", err
	}
	op, _ := args["op"].(string)

	var result float64
	switch op {
	case "+":
		result = a + b
	case "-":
		result = a - b
	case "*":
		result = a * b
	case "/":
		if b == 0 {
			return "", fmt.Errorf("division by zero")
		}
		result = a / b
	case "^":
		result = math.Pow(a, b)
	case "%":
		if b == 0 {
			return "", fmt.Errorf("modulo by zero")
		}
		result = math.Mod(a, b)
	default:
		return "", fmt.Errorf("unknown op %q", op)
	}

	if result == math.Trunc(result) && math.Abs(result) < 1e15 {
		return fmt.Sprintf("%d", int64(result)), nil
	}
	return fmt.Sprintf("%g", result), nil
}

func number(args map[string]any, key string) (float64, error) {
	switch v := args[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("arg %q must be a number", key)
	}
}
