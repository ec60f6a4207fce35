package router

import (
	"regexp"
	"strings"

	"github.com/normanking/arbiter/pkg/brain"
)

// Scorer classifies a query/context pair into a routing decision. The router
// executes the consequences; the scorer only picks method and candidates.
type Scorer interface {
	Score(query string, qctx Context) RouteDecision
}

// HeuristicScorer is the default scorer: keyword and shape heuristics over
// the query text. It is deliberately cheap; anything it cannot place with
// confidence falls through to a probe method.
type HeuristicScorer struct {
	registry *brain.Registry
}

// NewHeuristicScorer builds the default scorer over a registry.
func NewHeuristicScorer(registry *brain.Registry) *HeuristicScorer {
	return &HeuristicScorer{registry: registry}
}

var (
	safetyPattern = regexp.MustCompile(`(?i)\b(weapon|explosive|malware|exploit|ransom|poison|self.?harm|suicide|kill|steal credentials|bypass security)\b`)
	memoryPattern = regexp.MustCompile(`(?i)\b(remember|last time|earlier (you|we)|we (discussed|talked about)|previously|as i (said|mentioned))\b`)

	synthesisPattern = regexp.MustCompile(`(?i)\b(compare|contrast|pros and cons|trade.?offs|multiple perspectives|both sides|weigh)\b`)
)

// categoryKeywords score queries toward specialist brains.
var categoryKeywords = map[brain.ID][]string{
	brain.Technical: {"code", "function", "bug", "compile", "error", "api", "sql", "deploy", "regex", "algorithm", "debug", "stack trace"},
	brain.Creative:  {"story", "poem", "imagine", "brainstorm", "name for", "slogan", "lyrics", "creative", "write me a"},
	brain.Empathy:   {"feel", "feeling", "worried", "anxious", "sad", "grief", "relationship", "friend", "advice about my", "upset"},
	brain.Recall:    {"remember", "recall", "what did i", "previously", "last session"},
}

// Score classifies the query. Order of checks matters: safety first, then
// memory references, then specialist scoring with probe fallbacks.
func (s *HeuristicScorer) Score(query string, qctx Context) RouteDecision {
	lower := strings.ToLower(query)

	if safetyPattern.MatchString(query) {
		return RouteDecision{
			Method: SafetyGate,
			Brains: []brain.ID{brain.Default},
			Reason: "risk keywords present",
		}
	}

	if memoryPattern.MatchString(query) {
		return RouteDecision{
			Method: MemoryDirect,
			Brains: []brain.ID{brain.Recall},
			Reason: "references prior conversation",
		}
	}

	if synthesisPattern.MatchString(query) {
		return RouteDecision{
			Method: Synthesis,
			Brains: []brain.ID{brain.Analytical, brain.Creative, brain.Technical},
			Reason: "multi-perspective request",
		}
	}

	scores := s.keywordScores(lower)
	top, second := topTwo(scores)

	switch {
	case top.score == 0:
		// Nothing matched. Short questions go straight to the default
		// brain; longer ambiguous ones are worth a full probe round.
		if len(query) < 80 {
			return RouteDecision{
				Method: Direct,
				Brains: []brain.ID{brain.Default},
				Reason: "no specialist signal",
			}
		}
		return RouteDecision{
			Method: ProbeAll,
			Brains: s.enabled(),
			Reason: "ambiguous long query",
		}
	case second.score > 0 && top.score-second.score <= 1:
		return RouteDecision{
			Method: ProbeTop2,
			Brains: []brain.ID{top.id, second.id},
			Reason: "two specialists score closely",
		}
	default:
		return RouteDecision{
			Method: Direct,
			Brains: []brain.ID{top.id},
			Reason: "clear specialist match",
		}
	}
}

type scored struct {
	id    brain.ID
	score int
}

func (s *HeuristicScorer) keywordScores(lower string) []scored {
	var out []scored
	for _, id := range brain.All() {
		kws, ok := categoryKeywords[id]
		if !ok {
			continue
		}
		if b, err := s.registry.Get(id); err != nil || !b.Enabled {
			continue
		}
		n := 0
		for _, kw := range kws {
			if strings.Contains(lower, kw) {
				n++
			}
		}
		if n > 0 {
			out = append(out, scored{id: id, score: n})
		}
	}
	return out
}

// topTwo returns the two best-scoring entries. Registration order (which
// follows brain.All) is the tie-break, keeping results deterministic.
func topTwo(scores []scored) (scored, scored) {
	var first, second scored
	for _, sc := range scores {
		switch {
		case sc.score > first.score:
			second = first
			first = sc
		case sc.score > second.score:
			second = sc
		}
	}
	return first, second
}

func (s *HeuristicScorer) enabled() []brain.ID {
	brains := s.registry.List("")
	ids := make([]brain.ID, 0, len(brains))
	for _, b := range brains {
		// The sentinel only speaks through the safety gate.
		if b.ID == brain.Sentinel {
			continue
		}
		ids = append(ids, b.ID)
	}
	return ids
}
