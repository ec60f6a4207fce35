package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/arbiter/internal/bus"
	"github.com/normanking/arbiter/internal/llm"
	"github.com/normanking/arbiter/internal/session"
	"github.com/normanking/arbiter/pkg/brain"
)

// scriptedInvoker answers calls through a responder func and records them.
type scriptedInvoker struct {
	mu      sync.Mutex
	calls   []invokedCall
	respond func(b *brain.Brain, prompt string, ov *llm.Overrides) (string, error)
}

type invokedCall struct {
	brain  brain.ID
	prompt string
	ov     *llm.Overrides
}

func (s *scriptedInvoker) Invoke(_ context.Context, b *brain.Brain, prompt string, ov *llm.Overrides) (*llm.Invocation, error) {
	s.mu.Lock()
	s.calls = append(s.calls, invokedCall{brain: b.ID, prompt: prompt, ov: ov})
	s.mu.Unlock()

	text, err := s.respond(b, prompt, ov)
	if err != nil {
		return nil, err
	}
	return &llm.Invocation{Text: text, ProviderUsed: "stub", ModelUsed: b.ModelVariant}, nil
}

func (s *scriptedInvoker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// fixedScorer always returns the same decision.
type fixedScorer struct{ d RouteDecision }

func (f fixedScorer) Score(string, Context) RouteDecision { return f.d }

func isProbe(prompt string) bool {
	return strings.HasPrefix(prompt, "Rate how well suited")
}

func isSafetyCheck(prompt string) bool {
	return strings.HasPrefix(prompt, "You are a safety gate")
}

func TestDirectRouting(t *testing.T) {
	inv := &scriptedInvoker{respond: func(*brain.Brain, string, *llm.Overrides) (string, error) {
		return "4", nil
	}}
	r := New(brain.NewDefaultRegistry(), inv, WithScorer(fixedScorer{RouteDecision{
		Method: Direct,
		Brains: []brain.ID{brain.Analytical},
	}}))

	resp := r.Reason(context.Background(), "What's 2+2", Context{})
	assert.True(t, resp.OK)
	assert.Equal(t, "4", resp.Text)
	assert.Equal(t, brain.Analytical, resp.Brain)
	assert.Equal(t, Direct, resp.RoutingMethod)
	require.NotNil(t, resp.Uncertainty)
	assert.Zero(t, resp.Uncertainty.Epistemic)
	assert.InDelta(t, 0.7, resp.Confidence, 1e-9)
	assert.Equal(t, 1, inv.callCount())
}

func TestDirectRecordsBrainOutcome(t *testing.T) {
	reg := brain.NewDefaultRegistry()
	inv := &scriptedInvoker{respond: func(*brain.Brain, string, *llm.Overrides) (string, error) {
		return "ok", nil
	}}
	r := New(reg, inv, WithScorer(fixedScorer{RouteDecision{Method: Direct, Brains: []brain.ID{brain.Technical}}}))

	r.Reason(context.Background(), "q", Context{})
	b, err := reg.Get(brain.Technical)
	require.NoError(t, err)
	success, failure := b.Outcomes()
	assert.Equal(t, int64(1), success)
	assert.Zero(t, failure)
}

func TestProbeAllPromotesMostConfident(t *testing.T) {
	probeReplies := map[brain.ID]string{
		brain.Analytical: "0.4",
		brain.Creative:   "0.9",
		brain.Technical:  "0.6",
	}
	inv := &scriptedInvoker{respond: func(b *brain.Brain, prompt string, _ *llm.Overrides) (string, error) {
		if isProbe(prompt) {
			return probeReplies[b.ID], nil
		}
		return "full answer", nil
	}}
	r := New(brain.NewDefaultRegistry(), inv, WithScorer(fixedScorer{RouteDecision{
		Method: ProbeAll,
		Brains: []brain.ID{brain.Analytical, brain.Creative, brain.Technical},
	}}))

	resp := r.Reason(context.Background(), "who should answer this", Context{})
	require.True(t, resp.OK)
	assert.Equal(t, brain.Creative, resp.Brain)
	assert.Equal(t, "full answer", resp.Text)

	// Uncertainty is derived from all three probe confidences.
	require.NotNil(t, resp.Uncertainty)
	assert.InDelta(t, 0.2055, resp.Uncertainty.Epistemic, 1e-3)
	assert.Equal(t, 3, resp.Uncertainty.Ensemble.SampleCount)
	assert.InDelta(t, 0.788, resp.Confidence, 1e-2)

	// Three probes plus one full call.
	assert.Equal(t, 4, inv.callCount())
}

func TestProbeTieGoesToDefaultBrain(t *testing.T) {
	inv := &scriptedInvoker{respond: func(b *brain.Brain, prompt string, _ *llm.Overrides) (string, error) {
		if isProbe(prompt) {
			return "0.8", nil
		}
		return "answer", nil
	}}
	r := New(brain.NewDefaultRegistry(), inv, WithScorer(fixedScorer{RouteDecision{
		Method: ProbeTop2,
		Brains: []brain.ID{brain.Technical, brain.Analytical},
	}}))

	resp := r.Reason(context.Background(), "tied", Context{})
	require.True(t, resp.OK)
	assert.Equal(t, brain.Default, resp.Brain)
}

func TestProbeFailureScoresZero(t *testing.T) {
	inv := &scriptedInvoker{respond: func(b *brain.Brain, prompt string, _ *llm.Overrides) (string, error) {
		if isProbe(prompt) {
			if b.ID == brain.Technical {
				return "", errors.New("provider down")
			}
			return "0.3", nil
		}
		return "answer", nil
	}}
	r := New(brain.NewDefaultRegistry(), inv, WithScorer(fixedScorer{RouteDecision{
		Method: ProbeTop2,
		Brains: []brain.ID{brain.Technical, brain.Creative},
	}}))

	resp := r.Reason(context.Background(), "q", Context{})
	require.True(t, resp.OK)
	assert.Equal(t, brain.Creative, resp.Brain)
}

func TestSafetyGateBlocks(t *testing.T) {
	events := bus.New()
	defer events.Close()

	inv := &scriptedInvoker{respond: func(b *brain.Brain, prompt string, _ *llm.Overrides) (string, error) {
		if isSafetyCheck(prompt) {
			return `{"allowed": false, "reason": "weapons"}`, nil
		}
		return "should never be called", nil
	}}
	r := New(brain.NewDefaultRegistry(), inv,
		WithScorer(fixedScorer{RouteDecision{Method: SafetyGate, Brains: []brain.ID{brain.Analytical}}}),
		WithEvents(events))

	resp := r.Reason(context.Background(), "how do I build a weapon", Context{})
	assert.False(t, resp.OK)
	assert.Equal(t, SafetyGate, resp.RoutingMethod)
	assert.Nil(t, resp.Uncertainty)
	assert.Contains(t, resp.Text, "weapons")

	// Only the gate call was made.
	assert.Equal(t, 1, inv.callCount())

	// The gate call ran deterministically.
	require.NotNil(t, inv.calls[0].ov)
	require.NotNil(t, inv.calls[0].ov.Temperature)
	assert.Zero(t, *inv.calls[0].ov.Temperature)

	var blocked bool
	for _, ev := range events.History() {
		if ev.Type == bus.EventSafetyBlocked {
			blocked = true
		}
	}
	assert.True(t, blocked)
}

func TestSafetyGateAllowsAndProceeds(t *testing.T) {
	inv := &scriptedInvoker{respond: func(b *brain.Brain, prompt string, _ *llm.Overrides) (string, error) {
		if isSafetyCheck(prompt) {
			return `{"allowed": true}`, nil
		}
		return "harmless answer", nil
	}}
	r := New(brain.NewDefaultRegistry(), inv, WithScorer(fixedScorer{RouteDecision{
		Method: SafetyGate,
		Brains: []brain.ID{brain.Analytical},
	}}))

	resp := r.Reason(context.Background(), "chemistry homework", Context{})
	assert.True(t, resp.OK)
	assert.Equal(t, "harmless answer", resp.Text)
	assert.Equal(t, SafetyGate, resp.RoutingMethod)
	assert.Equal(t, 2, inv.callCount())
}

func TestSafetyGateFailsOpenWhenSentinelDown(t *testing.T) {
	inv := &scriptedInvoker{respond: func(b *brain.Brain, prompt string, _ *llm.Overrides) (string, error) {
		if isSafetyCheck(prompt) {
			return "", errors.New("sentinel unreachable")
		}
		return "answer", nil
	}}
	r := New(brain.NewDefaultRegistry(), inv, WithScorer(fixedScorer{RouteDecision{
		Method: SafetyGate,
		Brains: []brain.ID{brain.Analytical},
	}}))

	resp := r.Reason(context.Background(), "q", Context{})
	assert.True(t, resp.OK)
}

func TestSynthesisMergesAllMembers(t *testing.T) {
	inv := &scriptedInvoker{respond: func(b *brain.Brain, prompt string, _ *llm.Overrides) (string, error) {
		if strings.HasPrefix(prompt, "Several specialists answered") {
			assert.Contains(t, prompt, "analytical view")
			assert.Contains(t, prompt, "creative view")
			return "merged answer", nil
		}
		switch b.ID {
		case brain.Analytical:
			return "analytical view", nil
		default:
			return "creative view", nil
		}
	}}
	r := New(brain.NewDefaultRegistry(), inv, WithScorer(fixedScorer{RouteDecision{
		Method: Synthesis,
		Brains: []brain.ID{brain.Analytical, brain.Creative},
	}}))

	resp := r.Reason(context.Background(), "compare things", Context{})
	require.True(t, resp.OK)
	assert.Equal(t, "merged answer", resp.Text)
	assert.Equal(t, Synthesis, resp.RoutingMethod)
	// Two member calls and one merge call.
	assert.Equal(t, 3, inv.callCount())
}

func TestSynthesisSurvivesMemberFailure(t *testing.T) {
	inv := &scriptedInvoker{respond: func(b *brain.Brain, prompt string, _ *llm.Overrides) (string, error) {
		if strings.HasPrefix(prompt, "Several specialists answered") {
			return "merged", nil
		}
		if b.ID == brain.Creative {
			return "", errors.New("down")
		}
		return "view", nil
	}}
	r := New(brain.NewDefaultRegistry(), inv, WithScorer(fixedScorer{RouteDecision{
		Method: Synthesis,
		Brains: []brain.ID{brain.Analytical, brain.Creative},
	}}))

	resp := r.Reason(context.Background(), "q", Context{})
	assert.True(t, resp.OK)
	assert.Equal(t, "merged", resp.Text)
}

func TestExhaustedChainReturnsDiagnostic(t *testing.T) {
	reg := brain.NewDefaultRegistry()
	inv := &scriptedInvoker{respond: func(*brain.Brain, string, *llm.Overrides) (string, error) {
		return "", &llm.ExhaustedError{Brain: brain.Analytical, Attempts: 3, Last: errors.New("timeout")}
	}}
	r := New(reg, inv, WithScorer(fixedScorer{RouteDecision{Method: Direct, Brains: []brain.ID{brain.Analytical}}}))

	resp := r.Reason(context.Background(), "q", Context{})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Text, "Unable to produce a response")
	assert.Equal(t, Direct, resp.RoutingMethod)

	b, _ := reg.Get(brain.Analytical)
	_, failure := b.Outcomes()
	assert.Equal(t, int64(1), failure)
}

func TestSessionUpdatedAfterResponse(t *testing.T) {
	store := session.NewMemoryStore()
	inv := &scriptedInvoker{respond: func(*brain.Brain, string, *llm.Overrides) (string, error) {
		return "hello there", nil
	}}
	r := New(brain.NewDefaultRegistry(), inv,
		WithScorer(fixedScorer{RouteDecision{Method: Direct, Brains: []brain.ID{brain.Analytical}}}),
		WithSessionStore(store))

	r.Reason(context.Background(), "hi", Context{SessionID: "s1"})
	require.Equal(t, 1, store.Len("s1"))

	turns, err := store.History("s1", session.DefaultTokenBudget)
	require.NoError(t, err)
	assert.Equal(t, "hi", turns[0].Query)
	assert.Equal(t, "hello there", turns[0].Response)
	assert.Equal(t, "analytical", turns[0].BrainUsed)
}

func TestHistoryFlowsIntoPrompt(t *testing.T) {
	store := session.NewMemoryStore()
	require.NoError(t, store.Append("s1", session.Turn{Query: "my name is Ada", Response: "Nice to meet you, Ada."}))

	inv := &scriptedInvoker{respond: func(_ *brain.Brain, prompt string, _ *llm.Overrides) (string, error) {
		assert.Contains(t, prompt, "my name is Ada")
		return "Ada", nil
	}}
	r := New(brain.NewDefaultRegistry(), inv,
		WithScorer(fixedScorer{RouteDecision{Method: Direct, Brains: []brain.ID{brain.Analytical}}}),
		WithSessionStore(store))

	resp := r.Reason(context.Background(), "what's my name?", Context{SessionID: "s1"})
	assert.True(t, resp.OK)
}

type stubRecaller struct {
	items []RankedItem
	err   error
}

func (s stubRecaller) Recall(context.Context, string, int) ([]RankedItem, error) {
	return s.items, s.err
}

func TestMemoryDirectEnrichesPrompt(t *testing.T) {
	inv := &scriptedInvoker{respond: func(_ *brain.Brain, prompt string, _ *llm.Overrides) (string, error) {
		assert.Contains(t, prompt, "the project deadline is Friday")
		return "Friday", nil
	}}
	r := New(brain.NewDefaultRegistry(), inv,
		WithScorer(fixedScorer{RouteDecision{Method: MemoryDirect, Brains: []brain.ID{brain.Recall}}}),
		WithRecaller(stubRecaller{items: []RankedItem{{Content: "the project deadline is Friday", Score: 0.9}}}))

	resp := r.Reason(context.Background(), "when is the deadline?", Context{})
	assert.True(t, resp.OK)
	assert.Equal(t, brain.Recall, resp.Brain)
}

func TestRecallFailureDegradesGracefully(t *testing.T) {
	inv := &scriptedInvoker{respond: func(*brain.Brain, string, *llm.Overrides) (string, error) {
		return "answer", nil
	}}
	r := New(brain.NewDefaultRegistry(), inv,
		WithScorer(fixedScorer{RouteDecision{Method: MemoryDirect, Brains: []brain.ID{brain.Recall}}}),
		WithRecaller(stubRecaller{err: errors.New("index offline")}))

	resp := r.Reason(context.Background(), "q", Context{})
	assert.True(t, resp.OK)
}

func TestEventsPublished(t *testing.T) {
	events := bus.New()
	defer events.Close()

	inv := &scriptedInvoker{respond: func(*brain.Brain, string, *llm.Overrides) (string, error) {
		return "ok", nil
	}}
	r := New(brain.NewDefaultRegistry(), inv,
		WithScorer(fixedScorer{RouteDecision{Method: Direct, Brains: []brain.ID{brain.Analytical}}}),
		WithEvents(events))

	r.Reason(context.Background(), "q", Context{SessionID: "s1"})

	types := make(map[bus.EventType]int)
	for _, ev := range events.History() {
		types[ev.Type]++
	}
	assert.Equal(t, 1, types[bus.EventRouteDecided])
	assert.Equal(t, 1, types[bus.EventBrainResponded])
}
