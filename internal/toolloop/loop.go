package toolloop

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/normanking/arbiter/internal/llm"
	"github.com/normanking/arbiter/pkg/brain"
)

// DefaultMaxCycles bounds the loop. Reaching the bound returns the last
// response as final even if it still requests a tool; this guarantee must
// not be relaxed without a separately reasoned cancellation policy.
const DefaultMaxCycles = 5

// state names the loop's phases for tracing. Termination is enforced by the
// cycle counter, not by state transitions.
type state string

const (
	stateAwaitingParse state = "awaiting_parse"
	stateToolRequested state = "tool_requested"
	stateExecuting     state = "executing"
	stateReinvoking    state = "reinvoking"
	stateDone          state = "done"
)

// Invoker issues one full model call for a brain. Satisfied by *llm.Chain.
type Invoker interface {
	Invoke(ctx context.Context, b *brain.Brain, prompt string, ov *llm.Overrides) (*llm.Invocation, error)
}

// Outcome is the result of one loop run.
type Outcome struct {
	FinalText string `json:"final_text"`
	ToolsUsed []Call `json:"tools_used,omitempty"`
	Cycles    int    `json:"cycles"`
}

// Loop drives tool execution for a single query.
type Loop struct {
	registry  Registry
	invoker   Invoker
	maxCycles int
	log       zerolog.Logger
	onCall    func(Call)
}

// Option configures a Loop.
type Option func(*Loop)

// WithMaxCycles overrides the cycle bound.
func WithMaxCycles(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxCycles = n
		}
	}
}

// WithCallObserver registers a callback fired after each tool execution.
func WithCallObserver(fn func(Call)) Option {
	return func(l *Loop) { l.onCall = fn }
}

// New creates a tool loop over the given registry and invoker.
func New(registry Registry, invoker Invoker, opts ...Option) *Loop {
	l := &Loop{
		registry:  registry,
		invoker:   invoker,
		maxCycles: DefaultMaxCycles,
		log:       log.With().Str("component", "toolloop").Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run executes the loop starting from an already-produced response. Each
// cycle is one tool execution plus one re-invocation of the same brain.
// Parse failures and tool errors are absorbed: the former end the loop, the
// latter are fed back as context for the next call.
func (l *Loop) Run(ctx context.Context, initial string, b *brain.Brain, query, history string) *Outcome {
	out := &Outcome{FinalText: initial}
	if l.registry == nil || l.invoker == nil {
		return out
	}

	current := initial
	for cycle := 0; cycle < l.maxCycles; cycle++ {
		l.trace(stateAwaitingParse, cycle)
		req, err := ParseRequest(current)
		if err != nil {
			// Unrepairable request object: treat as no request.
			l.log.Debug().Err(err).Msg("discarding unparsable tool request")
			break
		}
		if req == nil {
			break
		}
		l.trace(stateToolRequested, cycle)

		call := Call{Tool: req.Tool, Args: req.Args}
		l.trace(stateExecuting, cycle)
		result, execErr := l.registry.Execute(ctx, req.Tool, req.Args)
		if execErr != nil {
			call.Err = (&ExecutionError{Tool: req.Tool, Err: execErr}).Error()
			l.log.Warn().Str("tool", req.Tool).Err(execErr).Msg("tool failed, feeding error back")
		} else {
			call.Result = result
		}
		out.ToolsUsed = append(out.ToolsUsed, call)
		if l.onCall != nil {
			l.onCall(call)
		}

		l.trace(stateReinvoking, cycle)
		inv, invErr := l.invoker.Invoke(ctx, b, l.reinvokePrompt(query, history, out.ToolsUsed), nil)
		out.Cycles++
		if invErr != nil {
			// Reinvocation exhausted all providers; the last good response
			// stands as final.
			l.log.Warn().Err(invErr).Msg("reinvocation failed, keeping last response")
			break
		}
		current = inv.Text
		out.FinalText = current
	}

	l.trace(stateDone, out.Cycles)
	return out
}

// trace logs a state transition for debugging runaway tool sequences.
func (l *Loop) trace(s state, cycle int) {
	l.log.Trace().Str("state", string(s)).Int("cycle", cycle).Msg("tool loop transition")
}

// reinvokePrompt folds the tool transcript back into the context for the
// next full call on the same brain.
func (l *Loop) reinvokePrompt(query, history string, calls []Call) string {
	var sb strings.Builder
	if history != "" {
		sb.WriteString("Conversation so far:\n")
		sb.WriteString(history)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "User query: %s\n\nTool results so far:\n", query)
	for _, c := range calls {
		if c.Err != "" {
			fmt.Fprintf(&sb, "- %s -> ERROR: %s\n", c.Tool, c.Err)
		} else {
			fmt.Fprintf(&sb, "- %s -> %s\n", c.Tool, c.Result)
		}
	}
	sb.WriteString("\nContinue answering the query. Use the tool results above; request another tool only if strictly necessary.")
	return sb.String()
}
