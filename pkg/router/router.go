package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/normanking/arbiter/internal/bus"
	"github.com/normanking/arbiter/internal/llm"
	"github.com/normanking/arbiter/internal/metrics"
	"github.com/normanking/arbiter/internal/review"
	"github.com/normanking/arbiter/internal/session"
	"github.com/normanking/arbiter/internal/toolloop"
	"github.com/normanking/arbiter/internal/uncertainty"
	"github.com/normanking/arbiter/pkg/brain"
)

// Invoker issues one full model call for a brain, riding the provider
// fallback chain. Satisfied by *llm.Chain.
type Invoker interface {
	Invoke(ctx context.Context, b *brain.Brain, prompt string, ov *llm.Overrides) (*llm.Invocation, error)
}

// Router executes routing decisions end to end. Construct once, share
// across queries; all shared state lives behind the registry and stores.
type Router struct {
	registry *brain.Registry
	invoker  Invoker
	scorer   Scorer
	store    session.Store
	tools    toolloop.Registry
	reviewer *review.Reviewer
	recaller Recaller
	events   *bus.Bus
	budget   int
	cycles   int
	log      zerolog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithScorer replaces the default heuristic scorer.
func WithScorer(s Scorer) Option {
	return func(r *Router) { r.scorer = s }
}

// WithSessionStore enables conversation history.
func WithSessionStore(s session.Store) Option {
	return func(r *Router) { r.store = s }
}

// WithTools enables the bounded tool execution loop.
func WithTools(reg toolloop.Registry) Option {
	return func(r *Router) { r.tools = reg }
}

// WithReviewer enables selective response review.
func WithReviewer(rev *review.Reviewer) Option {
	return func(r *Router) { r.reviewer = rev }
}

// WithRecaller enables knowledge lookups for MemoryDirect routing.
func WithRecaller(rec Recaller) Option {
	return func(r *Router) { r.recaller = rec }
}

// WithEvents publishes routing lifecycle events to a bus.
func WithEvents(b *bus.Bus) Option {
	return func(r *Router) { r.events = b }
}

// WithTokenBudget overrides the session history token budget.
func WithTokenBudget(n int) Option {
	return func(r *Router) { r.budget = n }
}

// WithToolCycles overrides the tool loop's maximum cycle count.
func WithToolCycles(n int) Option {
	return func(r *Router) { r.cycles = n }
}

// New builds a Router over a registry and an invoker.
func New(registry *brain.Registry, invoker Invoker, opts ...Option) *Router {
	r := &Router{
		registry: registry,
		invoker:  invoker,
		budget:   session.DefaultTokenBudget,
		log:      log.With().Str("component", "router").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.scorer == nil {
		r.scorer = NewHeuristicScorer(registry)
	}
	return r
}

// Reason routes a query to the right brain(s) and returns the final
// response. It never returns an error: every failure mode becomes a well
// formed RoutedResponse with OK false and a diagnostic text.
func (r *Router) Reason(ctx context.Context, query string, qctx Context) RoutedResponse {
	start := time.Now()
	decision := r.scorer.Score(query, qctx)
	metrics.RecordDecision(decision.Method.String())
	r.publishDecision(decision, qctx)
	r.log.Debug().
		Str("method", decision.Method.String()).
		Str("reason", decision.Reason).
		Str("session", qctx.SessionID).
		Msg("route decided")

	history := r.renderHistory(qctx.SessionID)
	knowledge := r.enrich(ctx, decision.Method, query, qctx)

	resp := r.execute(ctx, decision, query, qctx, history, knowledge)
	resp.ElapsedMs = time.Since(start).Milliseconds()

	status := "ok"
	switch {
	case resp.RoutingMethod == SafetyGate && !resp.OK:
		status = "blocked"
	case !resp.OK:
		status = "error"
	}
	metrics.RecordReasonLatency(resp.RoutingMethod.String(), status, time.Since(start).Seconds())
	if resp.OK {
		metrics.RecordConfidence(resp.Brain.String(), resp.Confidence)
	}
	return resp
}

func (r *Router) execute(ctx context.Context, decision RouteDecision, query string, qctx Context, history string, knowledge []RankedItem) RoutedResponse {
	switch decision.Method {
	case SafetyGate:
		return r.runSafetyGate(ctx, decision, query, qctx, history, knowledge)
	case ProbeTop2, ProbeAll:
		return r.runProbes(ctx, decision, query, qctx, history, knowledge)
	case Synthesis:
		return r.runSynthesis(ctx, decision, query, qctx, history, knowledge)
	default:
		return r.runDirect(ctx, decision, query, qctx, history, knowledge)
	}
}

// runDirect handles Direct and MemoryDirect: one full call to the first
// named brain.
func (r *Router) runDirect(ctx context.Context, decision RouteDecision, query string, qctx Context, history string, knowledge []RankedItem) RoutedResponse {
	b, err := r.registry.Get(firstBrain(decision))
	if err != nil {
		return diagnostic(decision.Method, firstBrain(decision), err, 0)
	}

	preds := []uncertainty.Prediction{{Confidence: r.priorConfidence(b)}}
	unc := uncertainty.Estimate(preds, query, r.signals(qctx, knowledge))

	return r.fullCall(ctx, decision.Method, b, query, qctx, history, knowledge, &unc)
}

// runSafetyGate consults the sentinel at temperature 0 before anything
// else. A refusal stops processing; an unavailable sentinel fails open.
func (r *Router) runSafetyGate(ctx context.Context, decision RouteDecision, query string, qctx Context, history string, knowledge []RankedItem) RoutedResponse {
	sentinel, err := r.registry.Get(brain.Sentinel)
	if err == nil {
		temp := 0.0
		inv, gateErr := r.invoker.Invoke(ctx, sentinel, safetyPrompt(query), &llm.Overrides{
			Temperature: &temp,
			MaxTokens:   128,
		})
		if gateErr != nil {
			r.log.Warn().Err(gateErr).Msg("safety gate unavailable, continuing")
		} else {
			r.publishAttempts(inv.Attempts, qctx)
			if allowed, reason := parseSafetyVerdict(inv.Text); !allowed {
				r.publishBlocked(query, reason, qctx)
				text := "I can't help with that request."
				if reason != "" {
					text = fmt.Sprintf("I can't help with that request: %s", reason)
				}
				resp := refusal(SafetyGate, brain.Sentinel, text, 0)
				r.appendTurn(qctx.SessionID, query, brain.Sentinel, text, 0)
				return resp
			}
		}
	}

	b, err := r.registry.Get(firstBrain(decision))
	if err != nil {
		return diagnostic(SafetyGate, firstBrain(decision), err, 0)
	}
	preds := []uncertainty.Prediction{{Confidence: r.priorConfidence(b)}}
	unc := uncertainty.Estimate(preds, query, r.signals(qctx, knowledge))
	return r.fullCall(ctx, SafetyGate, b, query, qctx, history, knowledge, &unc)
}

// runProbes fans out cheap self-rating calls, waits for all of them, and
// promotes the most confident brain to a full call. Uncertainty comes from
// the probe confidences, computed before the full call.
func (r *Router) runProbes(ctx context.Context, decision RouteDecision, query string, qctx Context, history string, knowledge []RankedItem) RoutedResponse {
	brains := r.resolve(decision.Brains)
	if len(brains) == 0 {
		return diagnostic(decision.Method, brain.Default, fmt.Errorf("no enabled brains to probe"), 0)
	}

	confs := make([]float64, len(brains))
	var wg sync.WaitGroup
	for i, b := range brains {
		wg.Add(1)
		go func(i int, b *brain.Brain) {
			defer wg.Done()
			confs[i] = r.probe(ctx, b, query, qctx)
		}(i, b)
	}
	wg.Wait()

	winner := brains[0]
	best := confs[0]
	for i := 1; i < len(brains); i++ {
		if confs[i] > best {
			winner, best = brains[i], confs[i]
		} else if confs[i] == best && brains[i].ID == brain.Default && winner.ID != brain.Default {
			winner = brains[i]
		}
	}

	preds := make([]uncertainty.Prediction, len(confs))
	for i, c := range confs {
		preds[i] = uncertainty.Prediction{Confidence: c}
	}
	unc := uncertainty.Estimate(preds, query, r.signals(qctx, knowledge))

	r.log.Debug().
		Str("winner", winner.ID.String()).
		Floats64("probe_confidences", confs).
		Msg("probe round complete")

	return r.fullCall(ctx, decision.Method, winner, query, qctx, history, knowledge, &unc)
}

// runSynthesis issues full calls to every named brain in parallel, then a
// dedicated merge call on the default brain once all have completed.
func (r *Router) runSynthesis(ctx context.Context, decision RouteDecision, query string, qctx Context, history string, knowledge []RankedItem) RoutedResponse {
	brains := r.resolve(decision.Brains)
	if len(brains) == 0 {
		return diagnostic(Synthesis, brain.Default, fmt.Errorf("no enabled brains for synthesis"), 0)
	}

	prompt := buildPrompt(query, history, knowledge)
	outputs := make([]brainOutput, len(brains))
	var wg sync.WaitGroup
	for i, b := range brains {
		wg.Add(1)
		go func(i int, b *brain.Brain) {
			defer wg.Done()
			inv, err := r.invoker.Invoke(ctx, b, prompt, nil)
			if err != nil {
				r.registry.RecordOutcome(b.ID, false)
				r.log.Warn().Err(err).Str("brain", b.ID.String()).Msg("synthesis member failed")
				return
			}
			r.registry.RecordOutcome(b.ID, true)
			r.publishAttempts(inv.Attempts, qctx)
			outputs[i] = brainOutput{id: b.ID, text: inv.Text, confidence: r.priorConfidence(b)}
		}(i, b)
	}
	wg.Wait()

	var parts []brainOutput
	var preds []uncertainty.Prediction
	for _, out := range outputs {
		if out.text == "" {
			continue
		}
		parts = append(parts, out)
		preds = append(preds, uncertainty.Prediction{Confidence: out.confidence})
	}
	if len(parts) == 0 {
		return diagnostic(Synthesis, brain.Default, fmt.Errorf("all synthesis members failed"), 0)
	}

	unc := uncertainty.Estimate(preds, query, r.signals(qctx, knowledge))

	merger, err := r.registry.Get(brain.Default)
	if err != nil {
		return diagnostic(Synthesis, brain.Default, err, 0)
	}
	inv, err := r.invoker.Invoke(ctx, merger, synthesisPrompt(query, parts), nil)
	if err != nil {
		r.registry.RecordOutcome(merger.ID, false)
		return diagnostic(Synthesis, merger.ID, err, 0)
	}
	r.registry.RecordOutcome(merger.ID, true)
	r.publishAttempts(inv.Attempts, qctx)

	return r.finish(ctx, Synthesis, merger, query, qctx, history, inv.Text, &unc)
}

// fullCall performs the promoted full call plus everything downstream of
// it: tool loop, review, session append, events.
func (r *Router) fullCall(ctx context.Context, method Method, b *brain.Brain, query string, qctx Context, history string, knowledge []RankedItem, unc *uncertainty.Result) RoutedResponse {
	inv, err := r.invoker.Invoke(ctx, b, buildPrompt(query, history, knowledge), nil)
	if err != nil {
		r.registry.RecordOutcome(b.ID, false)
		if exhausted, ok := llm.AsExhausted(err); ok {
			r.publishAttempts(exhausted.Trail, qctx)
		}
		r.log.Error().Err(err).Str("brain", b.ID.String()).Msg("full call failed")
		return diagnostic(method, b.ID, err, 0)
	}
	r.registry.RecordOutcome(b.ID, true)
	r.publishAttempts(inv.Attempts, qctx)

	return r.finish(ctx, method, b, query, qctx, history, inv.Text, unc)
}

// finish runs the tool loop and reviewer over produced text, updates the
// session, and assembles the response.
func (r *Router) finish(ctx context.Context, method Method, b *brain.Brain, query string, qctx Context, history, text string, unc *uncertainty.Result) RoutedResponse {
	var toolsUsed []string
	if r.tools != nil {
		loopOpts := []toolloop.Option{toolloop.WithCallObserver(func(call toolloop.Call) {
			r.publishToolCall(call, qctx)
		})}
		if r.cycles > 0 {
			loopOpts = append(loopOpts, toolloop.WithMaxCycles(r.cycles))
		}
		loop := toolloop.New(r.tools, r.invoker, loopOpts...)
		outcome := loop.Run(ctx, text, b, query, history)
		text = outcome.FinalText
		for _, call := range outcome.ToolsUsed {
			toolsUsed = append(toolsUsed, call.Tool)
		}
		metrics.RecordToolCycles(outcome.Cycles)
	}

	confidence := unc.Ensemble.Mean
	text = r.maybeReview(ctx, b, query, text, confidence, qctx)

	r.appendTurn(qctx.SessionID, query, b.ID, text, confidence)
	r.publishResponse(b.ID, method, confidence, qctx)

	return RoutedResponse{
		OK:            true,
		Text:          text,
		Brain:         b.ID,
		Confidence:    confidence,
		Uncertainty:   unc,
		RoutingMethod: method,
		ToolsUsed:     toolsUsed,
	}
}

func (r *Router) maybeReview(ctx context.Context, b *brain.Brain, query, text string, confidence float64, qctx Context) string {
	if r.reviewer == nil || !r.reviewer.ShouldReview(b, query, text, confidence) {
		return text
	}

	res := r.reviewer.Review(ctx, query, text)
	outcome := "passed"
	if !res.Passed {
		if revised := r.reviewer.Revise(ctx, b, query, text, res); revised != "" {
			text = revised
			res.Revised = true
			outcome = "revised"
		} else {
			outcome = "failed_open"
		}
	}
	metrics.RecordReview(outcome)
	r.publishReview(b.ID, res, qctx)
	return text
}

// probe asks one brain to self-rate its fitness for the query. Failures
// score zero so the brain loses the round without failing it.
func (r *Router) probe(ctx context.Context, b *brain.Brain, query string, qctx Context) float64 {
	inv, err := r.invoker.Invoke(ctx, b, probePrompt(query), &llm.Overrides{MaxTokens: probeMaxTokens})
	if err != nil {
		r.log.Warn().Err(err).Str("brain", b.ID.String()).Msg("probe failed")
		return 0
	}
	r.publishAttempts(inv.Attempts, qctx)
	return parseProbeConfidence(inv.Text)
}

// priorConfidence derives a prediction confidence from a brain's recorded
// outcome history, defaulting to 0.7 with no history.
func (r *Router) priorConfidence(b *brain.Brain) float64 {
	success, failure := b.Outcomes()
	total := success + failure
	if total == 0 {
		return 0.7
	}
	ratio := float64(success) / float64(total)
	if ratio < 0.05 {
		ratio = 0.05
	}
	if ratio > 0.999 {
		ratio = 0.999
	}
	return ratio
}

func (r *Router) renderHistory(sessionID string) string {
	if r.store == nil || sessionID == "" {
		return ""
	}
	turns, err := r.store.History(sessionID, r.budget)
	if err != nil {
		r.log.Warn().Err(err).Str("session", sessionID).Msg("history lookup failed")
		return ""
	}
	return session.Render(turns)
}

// enrich merges caller-supplied knowledge with a recall lookup when the
// method calls for one. Lookup failure degrades to no enrichment.
func (r *Router) enrich(ctx context.Context, method Method, query string, qctx Context) []RankedItem {
	knowledge := qctx.Knowledge
	if method != MemoryDirect || r.recaller == nil {
		return knowledge
	}
	items, err := r.recaller.Recall(ctx, query, recallLimit)
	if err != nil {
		r.log.Warn().Err(err).Msg("recall lookup failed")
		return knowledge
	}
	return append(knowledge, items...)
}

func (r *Router) signals(qctx Context, knowledge []RankedItem) uncertainty.ContextSignals {
	turns := 0
	if r.store != nil && qctx.SessionID != "" {
		if ms, ok := r.store.(*session.MemoryStore); ok {
			turns = ms.Len(qctx.SessionID)
		} else if hist, err := r.store.History(qctx.SessionID, r.budget); err == nil {
			turns = len(hist)
		}
	}
	return uncertainty.ContextSignals{
		HistoryTurns:   turns,
		KnowledgeItems: len(knowledge),
	}
}

func (r *Router) resolve(ids []brain.ID) []*brain.Brain {
	var out []*brain.Brain
	for _, id := range ids {
		b, err := r.registry.Get(id)
		if err != nil || !b.Enabled {
			continue
		}
		out = append(out, b)
	}
	return out
}

func (r *Router) appendTurn(sessionID, query string, id brain.ID, response string, confidence float64) {
	if r.store == nil || sessionID == "" {
		return
	}
	err := r.store.Append(sessionID, session.Turn{
		Query:      query,
		BrainUsed:  id.String(),
		Response:   response,
		Confidence: confidence,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("session", sessionID).Msg("session append failed")
	}
}

func firstBrain(decision RouteDecision) brain.ID {
	if len(decision.Brains) > 0 {
		return decision.Brains[0]
	}
	return brain.Default
}

// Event publication. All fire-and-forget: bus errors are ignored.

func (r *Router) publishDecision(decision RouteDecision, qctx Context) {
	if r.events == nil {
		return
	}
	ev := bus.NewEvent(bus.EventRouteDecided)
	ev.SessionID = qctx.SessionID
	ev.Method = decision.Method.String()
	ev.Brain = firstBrain(decision).String()
	ev.Content = decision.Reason
	_ = r.events.Publish(ev)
}

func (r *Router) publishAttempts(attempts []llm.Attempt, qctx Context) {
	for _, a := range attempts {
		outcome := "success"
		if !a.OK {
			outcome = a.ErrKind
		}
		metrics.RecordProviderAttempt(a.Provider, outcome)
		if r.events == nil {
			continue
		}
		ev := bus.NewEvent(bus.EventProviderAttempted)
		ev.SessionID = qctx.SessionID
		ev.Provider = a.Provider
		ev.Model = a.Model
		ev.DurationMs = a.LatencyMs
		if !a.OK {
			ev.Error = a.ErrKind
		}
		_ = r.events.Publish(ev)
	}
}

func (r *Router) publishToolCall(call toolloop.Call, qctx Context) {
	if r.events == nil {
		return
	}
	ev := bus.NewEvent(bus.EventToolExecuted)
	ev.SessionID = qctx.SessionID
	ev.Tool = call.Tool
	ev.Error = call.Err
	_ = r.events.Publish(ev)
}

func (r *Router) publishReview(id brain.ID, res *review.Result, qctx Context) {
	if r.events == nil {
		return
	}
	ev := bus.NewEvent(bus.EventReviewCompleted)
	ev.SessionID = qctx.SessionID
	ev.Brain = id.String()
	ev.Confidence = res.Score
	ev.Content = res.Feedback
	_ = r.events.Publish(ev)
}

func (r *Router) publishResponse(id brain.ID, method Method, confidence float64, qctx Context) {
	if r.events == nil {
		return
	}
	ev := bus.NewEvent(bus.EventBrainResponded)
	ev.SessionID = qctx.SessionID
	ev.Brain = id.String()
	ev.Method = method.String()
	ev.Confidence = confidence
	_ = r.events.Publish(ev)
}

func (r *Router) publishBlocked(query, reason string, qctx Context) {
	if r.events == nil {
		return
	}
	ev := bus.NewEvent(bus.EventSafetyBlocked)
	ev.SessionID = qctx.SessionID
	ev.Brain = brain.Sentinel.String()
	ev.Method = SafetyGate.String()
	ev.Content = query
	ev.Error = reason
	_ = r.events.Publish(ev)
}
