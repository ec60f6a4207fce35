// Package review adds an optional second pass over produced answers: a
// critique call scores the response, and a failed critique triggers exactly
// one revision attempt. Review never blocks delivery — on any failure the
// original response is returned with review metadata attached.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/normanking/arbiter/internal/llm"
	"github.com/normanking/arbiter/pkg/brain"
)

const (
	// DefaultConfidenceThreshold triggers review for low-confidence answers.
	DefaultConfidenceThreshold = 0.55

	// DefaultSampleRate randomly reviews a small share of everything else.
	DefaultSampleRate = 0.05

	// DefaultPassScore is the critique score at or above which a response
	// passes.
	DefaultPassScore = 0.6
)

// sensitiveKeywords force a review regardless of confidence.
var sensitiveKeywords = []string{
	"medical", "diagnosis", "legal", "lawsuit", "financial advice",
	"investment", "medication", "dosage", "tax",
}

// technicalMarkers identify technical content for the always-review rule on
// high-stakes brains.
var technicalMarkers = []string{"```", "func ", "SELECT ", "class ", "def ", "error:"}

// Result is the outcome of one critique.
type Result struct {
	Passed      bool     `json:"passed"`
	Score       float64  `json:"score"`
	Feedback    string   `json:"feedback,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`

	// Revised is set when a revision attempt replaced the response text.
	Revised bool `json:"revised,omitempty"`
}

// Invoker issues one full model call for a brain. Satisfied by *llm.Chain.
type Invoker interface {
	Invoke(ctx context.Context, b *brain.Brain, prompt string, ov *llm.Overrides) (*llm.Invocation, error)
}

// Reviewer critiques responses and drives the single revision cycle.
type Reviewer struct {
	invoker    Invoker
	critic     *brain.Brain
	threshold  float64
	sampleRate float64
	passScore  float64
	log        zerolog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// Option configures a Reviewer.
type Option func(*Reviewer)

// WithConfidenceThreshold overrides the low-confidence trigger.
func WithConfidenceThreshold(t float64) Option {
	return func(r *Reviewer) { r.threshold = t }
}

// WithSampleRate overrides the random sampling rate.
func WithSampleRate(rate float64) Option {
	return func(r *Reviewer) { r.sampleRate = rate }
}

// WithRand seeds the sampler deterministically; used in tests.
func WithRand(rng *rand.Rand) Option {
	return func(r *Reviewer) { r.rng = rng }
}

// New creates a Reviewer. The critic brain runs critiques at temperature 0;
// revisions go back to whichever brain produced the original response.
func New(invoker Invoker, critic *brain.Brain, opts ...Option) *Reviewer {
	r := &Reviewer{
		invoker:    invoker,
		critic:     critic,
		threshold:  DefaultConfidenceThreshold,
		sampleRate: DefaultSampleRate,
		passScore:  DefaultPassScore,
		log:        log.With().Str("component", "review").Logger(),
		rng:        rand.New(rand.NewSource(rand.Int63())),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ShouldReview decides whether a response earns the second pass: low
// confidence, domain-sensitive keywords, random sampling, or technical
// content from a high-stakes brain.
func (r *Reviewer) ShouldReview(producer *brain.Brain, query, response string, confidence float64) bool {
	if confidence < r.threshold {
		return true
	}

	lower := strings.ToLower(query + " " + response)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}

	if producer != nil && producer.HasTag(brain.TagHighStakes) {
		for _, marker := range technicalMarkers {
			if strings.Contains(response, marker) {
				return true
			}
		}
	}

	r.mu.Lock()
	sampled := r.rng.Float64() < r.sampleRate
	r.mu.Unlock()
	return sampled
}

// Review critiques a response with a deterministic call to the critic
// brain. Any failure along the way degrades to a pass: review must never
// prevent a response from shipping.
func (r *Reviewer) Review(ctx context.Context, query, response string) *Result {
	temp := 0.0
	inv, err := r.invoker.Invoke(ctx, r.critic, critiquePrompt(query, response), &llm.Overrides{
		Temperature: &temp,
		MaxTokens:   512,
	})
	if err != nil {
		r.log.Warn().Err(err).Msg("critique call failed, passing response through")
		return &Result{Passed: true, Score: 1}
	}

	parsed, ok := parseCritique(inv.Text)
	if !ok {
		r.log.Debug().Msg("critique output unparsable, passing response through")
		return &Result{Passed: true, Score: 1}
	}

	parsed.Passed = parsed.Score >= r.passScore
	return parsed
}

// Revise asks the producing brain for one improved response, incorporating
// the critique verbatim. Returns "" when revision fails or yields nothing;
// the caller then keeps the original.
func (r *Reviewer) Revise(ctx context.Context, producer *brain.Brain, query, response string, rev *Result) string {
	inv, err := r.invoker.Invoke(ctx, producer, revisionPrompt(query, response, rev), nil)
	if err != nil {
		r.log.Warn().Err(err).Str("brain", producer.ID.String()).Msg("revision failed, keeping original")
		return ""
	}
	return strings.TrimSpace(inv.Text)
}

// critique is the JSON shape the critic is asked to emit.
type critique struct {
	Score       float64  `json:"score"`
	Feedback    string   `json:"feedback"`
	Suggestions []string `json:"suggestions"`
}

// parseCritique pulls the critique object out of model output, tolerating
// fences and surrounding prose.
func parseCritique(text string) (*Result, bool) {
	s := strings.TrimSpace(text)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, false
	}

	var c critique
	if err := json.Unmarshal([]byte(s[start:end+1]), &c); err != nil {
		return nil, false
	}
	if c.Score < 0 {
		c.Score = 0
	}
	if c.Score > 1 {
		c.Score = 1
	}
	return &Result{Score: c.Score, Feedback: c.Feedback, Suggestions: c.Suggestions}, true
}

func critiquePrompt(query, response string) string {
	return fmt.Sprintf(`You are a strict reviewer. Score the answer below for correctness, completeness, and safety.

Question:
%s

Answer:
%s

Reply with only a JSON object: {"score": <0..1>, "feedback": "<one paragraph>", "suggestions": ["<improvement>", ...]}`, query, response)
}

func revisionPrompt(query, response string, rev *Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Your previous answer to the question %q was reviewed and found lacking.\n\n", query)
	fmt.Fprintf(&sb, "Previous answer:\n%s\n\n", response)
	fmt.Fprintf(&sb, "Reviewer feedback:\n%s\n", rev.Feedback)
	for _, s := range rev.Suggestions {
		fmt.Fprintf(&sb, "- %s\n", s)
	}
	sb.WriteString("\nWrite an improved answer. Respond with the answer only.")
	return sb.String()
}
