// Package tools provides the built-in tool registry consumed by the tool
// execution loop. Applications embedding the router can register their own
// tools alongside (or instead of) the built-ins.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Tool is one executable capability a brain may request.
type Tool interface {
	// Name is the identifier brains use in tool requests.
	Name() string
	// Description tells brains what the tool does and what args it takes.
	Description() string
	// Execute runs the tool. The result is plain text fed back to the brain.
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry is a thread-safe named tool collection. It satisfies the tool
// loop's execution contract.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	log   zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		log:   log.With().Str("component", "tools").Logger(),
	}
}

// NewBuiltinRegistry creates a registry pre-loaded with the built-in tools.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(&ClockTool{})
	_ = r.Register(&CalculatorTool{})
	return r
}

// Register adds a tool. Duplicate names error.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return fmt.Errorf("tool must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Names lists registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Execute runs a named tool and returns its textual result.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}

	start := time.Now()
	result, err := t.Execute(ctx, args)
	r.log.Debug().
		Str("tool", name).
		Dur("elapsed", time.Since(start)).
		Err(err).
		Msg("tool executed")
	return result, err
}
