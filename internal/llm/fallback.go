package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/normanking/arbiter/pkg/brain"
)

// Per-candidate timeouts. Cloud endpoints either answer quickly or are
// down; the local daemon may need to page a model in.
const (
	CloudCandidateTimeout = 30 * time.Second
	LocalCandidateTimeout = 60 * time.Second
)

// defaultBackups lists known-good backup model variants per cloud provider,
// tried on the same provider after the brain's configured variant fails.
var defaultBackups = map[string][]string{
	"openai":    {"gpt-4o-mini", "gpt-3.5-turbo"},
	"anthropic": {"claude-3-5-haiku-20241022"},
}

// Attempt records the outcome of one candidate call. Ephemeral; consumed by
// observers and stats only.
type Attempt struct {
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latency_ms"`
	Tokens    int    `json:"tokens,omitempty"`
	ErrKind   string `json:"err_kind,omitempty"` // timeout, empty, error
}

// Invocation is the result of a successful chain invocation.
type Invocation struct {
	Text         string    `json:"text"`
	TokenCount   int       `json:"token_count"`
	ProviderUsed string    `json:"provider_used"`
	ModelUsed    string    `json:"model_used"`
	Attempts     []Attempt `json:"attempts"`
}

// ExhaustedError reports that every candidate in the chain failed. It
// carries the last underlying error for diagnostics.
type ExhaustedError struct {
	Brain    brain.ID
	Attempts int
	Trail    []Attempt
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d provider candidates exhausted for brain %s: %v", e.Attempts, e.Brain, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// IsExhausted reports whether err is a chain exhaustion.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}

// AsExhausted extracts the exhaustion detail from err, if present.
func AsExhausted(err error) (*ExhaustedError, bool) {
	var ee *ExhaustedError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// Overrides adjusts a single invocation away from the brain's configured
// defaults. Used for probes (tiny budgets) and the safety gate (temp 0).
type Overrides struct {
	Temperature  *float64
	MaxTokens    int
	SystemPrompt string
}

// AttemptObserver is notified of every candidate attempt, success or
// failure. Observers must be fast and must not panic the chain.
type AttemptObserver func(Attempt)

// candidate is one (provider, model) pair in the ordered fallback list.
type candidate struct {
	provider Provider
	model    string
	local    bool
}

// Chain tries an ordered list of provider candidates until one succeeds.
// Single-candidate failures are absorbed here and never reach the caller;
// only full exhaustion surfaces, as *ExhaustedError.
type Chain struct {
	primary   Provider
	secondary Provider
	local     Provider
	backups   map[string][]string

	stats    *Stats
	observer AttemptObserver
	log      zerolog.Logger

	cloudTimeout time.Duration
	localTimeout time.Duration
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithSecondary adds a secondary cloud provider tried after the primary's
// candidates are exhausted.
func WithSecondary(p Provider) ChainOption {
	return func(c *Chain) { c.secondary = p }
}

// WithLocal adds the local last-resort provider.
func WithLocal(p Provider) ChainOption {
	return func(c *Chain) { c.local = p }
}

// WithBackups overrides the known-good backup variant table.
func WithBackups(backups map[string][]string) ChainOption {
	return func(c *Chain) { c.backups = backups }
}

// WithStats attaches an existing stats store instead of a fresh one.
func WithStats(s *Stats) ChainOption {
	return func(c *Chain) { c.stats = s }
}

// WithAttemptObserver registers a per-attempt callback.
func WithAttemptObserver(fn AttemptObserver) ChainOption {
	return func(c *Chain) { c.observer = fn }
}

// WithCandidateTimeouts overrides the per-candidate timeouts.
func WithCandidateTimeouts(cloud, local time.Duration) ChainOption {
	return func(c *Chain) {
		if cloud > 0 {
			c.cloudTimeout = cloud
		}
		if local > 0 {
			c.localTimeout = local
		}
	}
}

// NewChain creates a fallback chain rooted at the primary cloud provider.
func NewChain(primary Provider, opts ...ChainOption) *Chain {
	c := &Chain{
		primary:      primary,
		backups:      defaultBackups,
		stats:        NewStats(),
		log:          log.With().Str("component", "fallback").Logger(),
		cloudTimeout: CloudCandidateTimeout,
		localTimeout: LocalCandidateTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Stats returns the chain's statistics store.
func (c *Chain) Stats() *Stats {
	return c.stats
}

// candidates builds the ordered candidate list for a brain: the brain's
// configured variant on the primary, then the primary's backup variants,
// then the secondary cloud, then the local daemon.
func (c *Chain) candidates(b *brain.Brain) []candidate {
	var cands []candidate

	if c.primary != nil && c.primary.Available() {
		cands = append(cands, candidate{provider: c.primary, model: b.ModelVariant})
		for _, variant := range c.backups[c.primary.Name()] {
			if variant == b.ModelVariant {
				continue
			}
			cands = append(cands, candidate{provider: c.primary, model: variant})
		}
	}
	if c.secondary != nil && c.secondary.Available() {
		cands = append(cands, candidate{provider: c.secondary})
	}
	if c.local != nil && c.local.Available() {
		cands = append(cands, candidate{provider: c.local, local: true})
	}
	return cands
}

// Invoke runs the prompt against the candidate list and returns the first
// success. Timeout, non-2xx, and empty-body responses all count as
// candidate failures; the next candidate is tried without raising. Every
// attempt updates the provider's atomic counters.
func (c *Chain) Invoke(ctx context.Context, b *brain.Brain, prompt string, ov *Overrides) (*Invocation, error) {
	cands := c.candidates(b)
	if len(cands) == 0 {
		return nil, &ExhaustedError{Brain: b.ID, Last: fmt.Errorf("no providers configured")}
	}

	req := &ChatRequest{
		Messages:    []Message{{Role: "user", Content: prompt}},
		MaxTokens:   b.MaxTokens,
		Temperature: b.Temperature,
	}
	if ov != nil {
		if ov.Temperature != nil {
			req.Temperature = *ov.Temperature
		}
		if ov.MaxTokens > 0 {
			req.MaxTokens = ov.MaxTokens
		}
		req.SystemPrompt = ov.SystemPrompt
	}

	var attempts []Attempt
	var lastErr error

	for _, cand := range cands {
		timeout := c.cloudTimeout
		if cand.local {
			timeout = c.localTimeout
		}

		callReq := *req
		callReq.Model = cand.model

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		resp, err := cand.provider.Chat(callCtx, &callReq)
		cancel()
		latency := time.Since(start)

		att := Attempt{
			Provider:  cand.provider.Name(),
			Model:     cand.model,
			LatencyMs: latency.Milliseconds(),
		}

		switch {
		case err != nil:
			att.ErrKind = classifyErr(err)
			lastErr = err
		case strings.TrimSpace(resp.Content) == "":
			att.ErrKind = "empty"
			lastErr = fmt.Errorf("%s: empty response body", cand.provider.Name())
		default:
			att.OK = true
			att.Tokens = resp.TokenCount()
			if att.Model == "" {
				att.Model = resp.Model
			}
		}

		if att.OK {
			c.stats.RecordSuccess(att.Provider)
		} else {
			c.stats.RecordFailure(att.Provider)
		}
		if c.observer != nil {
			c.observer(att)
		}
		attempts = append(attempts, att)

		if !att.OK {
			c.log.Warn().
				Str("provider", att.Provider).
				Str("model", att.Model).
				Str("err_kind", att.ErrKind).
				Dur("latency", latency).
				Msg("candidate failed, trying next")
			continue
		}

		return &Invocation{
			Text:         resp.Content,
			TokenCount:   resp.TokenCount(),
			ProviderUsed: att.Provider,
			ModelUsed:    att.Model,
			Attempts:     attempts,
		}, nil
	}

	return nil, &ExhaustedError{Brain: b.ID, Attempts: len(attempts), Trail: attempts, Last: lastErr}
}

// classifyErr buckets a candidate failure for attempt records.
func classifyErr(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

// TokenCount returns the response's total token count, preferring the
// provider-reported figure and falling back to a length estimate.
func (r *ChatResponse) TokenCount() int {
	if r.TokensUsed > 0 {
		return r.TokensUsed
	}
	return len(r.Content) / 4
}
