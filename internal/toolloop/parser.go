package toolloop

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Request is the structured tool invocation a brain embeds in its output: a
// single well-formed object naming a tool and its arguments.
type Request struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// ParseError reports malformed structured output that survived the repair
// pass. Callers treat it as "no request" rather than failing the query.
type ParseError struct {
	Raw    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("tool request parse: %s", e.Reason)
}

// ParseRequest extracts a tool request from free-form model output.
//
// Returns (nil, nil) when the output carries no tool request at all, the
// request when one parses, and a *ParseError when something that looks like
// a request cannot be repaired into one.
func ParseRequest(text string) (*Request, error) {
	if !strings.Contains(text, `"tool"`) {
		return nil, nil
	}

	// Pass 1: the cleaned output is itself the object.
	cleaned := stripFences(text)
	if req, ok := decodeRequest(cleaned); ok {
		return req, nil
	}

	// Pass 2 (repair): take the widest brace window and decode that. Models
	// often wrap the object in prose or leave the fence half-closed.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if req, ok := decodeRequest(text[start : end+1]); ok {
			return req, nil
		}
		// Narrow from the right: trailing prose may contain stray braces.
		for e := end; e > start; e = strings.LastIndex(text[:e], "}") {
			if req, ok := decodeRequest(text[start : e+1]); ok {
				return req, nil
			}
		}
	}

	return nil, &ParseError{Raw: text, Reason: "tool marker present but no parsable request object"}
}

// decodeRequest attempts a strict decode of one candidate snippet.
func decodeRequest(s string) (*Request, bool) {
	var req Request
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &req); err != nil {
		return nil, false
	}
	if req.Tool == "" {
		return nil, false
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}
	return &req, true
}

// stripFences removes markdown code fences around model output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
