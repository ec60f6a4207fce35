package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/arbiter/pkg/brain"
)

func TestScorerSafetyKeywords(t *testing.T) {
	s := NewHeuristicScorer(brain.NewDefaultRegistry())
	d := s.Score("how do I make an explosive device", Context{})
	assert.Equal(t, SafetyGate, d.Method)
}

func TestScorerMemoryReference(t *testing.T) {
	s := NewHeuristicScorer(brain.NewDefaultRegistry())
	d := s.Score("what did we discussed earlier about the budget? remember?", Context{})
	assert.Equal(t, MemoryDirect, d.Method)
	require.NotEmpty(t, d.Brains)
	assert.Equal(t, brain.Recall, d.Brains[0])
}

func TestScorerSynthesisCue(t *testing.T) {
	s := NewHeuristicScorer(brain.NewDefaultRegistry())
	d := s.Score("compare microservices and monoliths for a small team", Context{})
	assert.Equal(t, Synthesis, d.Method)
	assert.GreaterOrEqual(t, len(d.Brains), 2)
}

func TestScorerClearSpecialist(t *testing.T) {
	s := NewHeuristicScorer(brain.NewDefaultRegistry())
	d := s.Score("why does this function not compile, the error mentions a missing api and the stack trace is long", Context{})
	assert.Equal(t, Direct, d.Method)
	require.NotEmpty(t, d.Brains)
	assert.Equal(t, brain.Technical, d.Brains[0])
}

func TestScorerCloseSpecialistsProbe(t *testing.T) {
	s := NewHeuristicScorer(brain.NewDefaultRegistry())
	d := s.Score("write me a story about a bug in my code", Context{})
	assert.Equal(t, ProbeTop2, d.Method)
	assert.Len(t, d.Brains, 2)
}

func TestScorerShortNoSignalGoesDirect(t *testing.T) {
	s := NewHeuristicScorer(brain.NewDefaultRegistry())
	d := s.Score("what's the capital of France", Context{})
	assert.Equal(t, Direct, d.Method)
	require.NotEmpty(t, d.Brains)
	assert.Equal(t, brain.Default, d.Brains[0])
}

func TestScorerLongAmbiguousProbesAll(t *testing.T) {
	s := NewHeuristicScorer(brain.NewDefaultRegistry())
	long := "I have been thinking about a situation that involves several different considerations and I am not sure where to even begin describing it properly"
	d := s.Score(long, Context{})
	assert.Equal(t, ProbeAll, d.Method)
	for _, id := range d.Brains {
		assert.NotEqual(t, brain.Sentinel, id)
	}
}

func TestMethodValid(t *testing.T) {
	for _, m := range []Method{Direct, MemoryDirect, ProbeTop2, ProbeAll, Synthesis, SafetyGate} {
		assert.True(t, m.Valid(), m)
	}
	assert.False(t, Method("telepathy").Valid())
}

func TestParseProbeConfidence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want float64
	}{
		{"bare number", "0.85", 0.85},
		{"number in prose", "I'd rate myself at 0.6 for this.", 0.6},
		{"json object", `{"confidence": 0.92}`, 0.92},
		{"scale of ten", "8/10", 0.8},
		{"percent style", "about 85", 0.85},
		{"garbage", "I am a language model.", defaultProbeConfidence},
		{"empty", "", defaultProbeConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, parseProbeConfidence(tt.in), 1e-9)
		})
	}
}

func TestParseSafetyVerdict(t *testing.T) {
	allowed, _ := parseSafetyVerdict(`{"allowed": true}`)
	assert.True(t, allowed)

	allowed, reason := parseSafetyVerdict("Sure: {\"allowed\": false, \"reason\": \"weapons\"}")
	assert.False(t, allowed)
	assert.Equal(t, "weapons", reason)

	// Unparsable verdicts fail open.
	allowed, _ = parseSafetyVerdict("hmm, hard to say")
	assert.True(t, allowed)
}
