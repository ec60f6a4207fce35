// Package router decides which brain answers a query and by which method,
// then drives the full pipeline: safety gating, probes, provider fallback,
// uncertainty estimation, bounded tool execution, and selective review.
package router

import (
	"context"
	"fmt"

	"github.com/normanking/arbiter/internal/uncertainty"
	"github.com/normanking/arbiter/pkg/brain"
)

// Method is the routing strategy chosen for one query.
type Method string

const (
	// Direct routes one full call to a single brain.
	Direct Method = "Direct"

	// MemoryDirect is Direct preceded by a recall lookup; the retrieved
	// knowledge is folded into the prompt.
	MemoryDirect Method = "MemoryDirect"

	// ProbeTop2 probes the two highest-scoring brains and promotes the
	// more confident one to a full call.
	ProbeTop2 Method = "ProbeTop2"

	// ProbeAll probes every enabled brain; the maximum-confidence probe
	// wins the full call.
	ProbeAll Method = "ProbeAll"

	// Synthesis fans out full calls to several brains and merges their
	// outputs with a dedicated synthesis call.
	Synthesis Method = "Synthesis"

	// SafetyGate precedes processing with a deterministic sentinel call
	// that may refuse the query outright.
	SafetyGate Method = "SafetyGate"
)

// Valid reports whether m is one of the six methods.
func (m Method) Valid() bool {
	switch m {
	case Direct, MemoryDirect, ProbeTop2, ProbeAll, Synthesis, SafetyGate:
		return true
	}
	return false
}

func (m Method) String() string { return string(m) }

// RouteDecision is the scorer's verdict for one query.
type RouteDecision struct {
	Method Method
	// Brains are the candidates, in score order. Direct methods use the
	// first entry; probe methods use all of them; Synthesis calls each.
	Brains []brain.ID
	// Reason is a short human-readable cause for the decision.
	Reason string
}

// RoutedResponse is the result of one Reason call. It is always well formed:
// failures set OK false and put a diagnostic in Text, never an empty payload.
type RoutedResponse struct {
	OK            bool                `json:"ok"`
	Text          string              `json:"text"`
	Brain         brain.ID            `json:"brain"`
	Confidence    float64             `json:"confidence"`
	Uncertainty   *uncertainty.Result `json:"uncertainty,omitempty"`
	RoutingMethod Method              `json:"routing_method"`
	ToolsUsed     []string            `json:"tools_used,omitempty"`
	ElapsedMs     int64               `json:"elapsed_ms"`
}

// Context carries per-query caller state into Reason.
type Context struct {
	SessionID string
	// Knowledge is pre-retrieved background material, if the caller has
	// any. Reason may add to it via the Recaller.
	Knowledge []RankedItem
	// Metadata is opaque caller data; the router only logs it.
	Metadata map[string]string
}

// RankedItem is one piece of retrieved background knowledge.
type RankedItem struct {
	Content string
	Score   float64
	Source  string
}

// Recaller looks up background knowledge for a query. Implementations live
// outside this module; a nil Recaller degrades to no enrichment.
type Recaller interface {
	Recall(ctx context.Context, query string, limit int) ([]RankedItem, error)
}

func refusal(method Method, b brain.ID, text string, elapsedMs int64) RoutedResponse {
	return RoutedResponse{
		OK:            false,
		Text:          text,
		Brain:         b,
		RoutingMethod: method,
		ElapsedMs:     elapsedMs,
	}
}

func diagnostic(method Method, b brain.ID, err error, elapsedMs int64) RoutedResponse {
	return RoutedResponse{
		OK:            false,
		Text:          fmt.Sprintf("Unable to produce a response: %v", err),
		Brain:         b,
		RoutingMethod: method,
		ElapsedMs:     elapsedMs,
	}
}
