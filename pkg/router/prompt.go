package router

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/normanking/arbiter/pkg/brain"
)

const (
	// probeMaxTokens keeps confidence probes cheap.
	probeMaxTokens = 64

	// recallLimit bounds how many knowledge items a lookup may add.
	recallLimit = 5

	// defaultProbeConfidence is assumed when a probe reply is unparsable.
	defaultProbeConfidence = 0.5
)

func buildPrompt(query, history string, knowledge []RankedItem) string {
	var sb strings.Builder
	if len(knowledge) > 0 {
		sb.WriteString("Relevant background:\n")
		for _, item := range knowledge {
			fmt.Fprintf(&sb, "- %s\n", strings.TrimSpace(item.Content))
		}
		sb.WriteString("\n")
	}
	if history != "" {
		sb.WriteString(history)
		sb.WriteString("\n\n")
	}
	sb.WriteString(query)
	return sb.String()
}

func probePrompt(query string) string {
	return fmt.Sprintf(`Rate how well suited you are to answer the question below, on a scale from 0.0 (not at all) to 1.0 (perfectly suited). Reply with only the number.

Question: %s`, query)
}

func synthesisPrompt(query string, parts []brainOutput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Several specialists answered the question %q independently. Merge their answers into one coherent response, resolving any disagreement.\n\n", query)
	for _, p := range parts {
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", p.id, strings.TrimSpace(p.text))
	}
	sb.WriteString("Merged answer:")
	return sb.String()
}

func safetyPrompt(query string) string {
	return fmt.Sprintf(`You are a safety gate. Decide whether the request below may be answered by a general-purpose assistant.

Request: %s

Reply with only a JSON object: {"allowed": true|false, "reason": "<short reason>"}`, query)
}

type brainOutput struct {
	id         brain.ID
	text       string
	confidence float64
}

var numberPattern = regexp.MustCompile(`\d*\.?\d+`)

// parseProbeConfidence reads a self-rating out of probe output. Accepts a
// bare number, a number embedded in prose, or {"confidence": x}; anything
// else is treated as a neutral 0.5.
func parseProbeConfidence(text string) float64 {
	s := strings.TrimSpace(text)

	var obj struct {
		Confidence *float64 `json:"confidence"`
	}
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err == nil && obj.Confidence != nil {
				return clampConfidence(*obj.Confidence)
			}
		}
	}

	if m := numberPattern.FindString(s); m != "" {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			// Ratings like "8/10" or "85" arrive occasionally.
			if v > 1 && v <= 10 {
				v /= 10
			} else if v > 10 && v <= 100 {
				v /= 100
			}
			return clampConfidence(v)
		}
	}
	return defaultProbeConfidence
}

// parseSafetyVerdict reads the gate's JSON verdict. Unparsable output fails
// open: the gate only blocks on an explicit refusal.
func parseSafetyVerdict(text string) (allowed bool, reason string) {
	s := strings.TrimSpace(text)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return true, ""
	}
	var obj struct {
		Allowed *bool  `json:"allowed"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil || obj.Allowed == nil {
		return true, ""
	}
	return *obj.Allowed, obj.Reason
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
