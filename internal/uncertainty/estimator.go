// Package uncertainty quantifies how much a routed response should be
// trusted. Epistemic uncertainty measures disagreement across parallel brain
// outputs; aleatoric uncertainty is estimated from the query surface and the
// richness of the surrounding context.
package uncertainty

import (
	"math"
	"strings"
)

const (
	// epsilon keeps inverse-variance weights finite.
	epsilon = 1e-6

	// maxConfidence clamps confidence inputs away from exactly 1.0 so the
	// ensemble weight 1/(1-confidence+eps) cannot blow up.
	maxConfidence = 0.999

	// defaultConfidence stands in when a lone prediction carries none.
	defaultConfidence = 0.7

	aleatoricBase = 0.3

	shortQueryLen = 30
	longQueryLen  = 500

	// abundantKnowledge is the retrieved-item count past which context is
	// considered rich enough to reduce aleatoric uncertainty.
	abundantKnowledge = 5
)

// ambiguityPhrases raise aleatoric uncertainty when present in a query.
var ambiguityPhrases = []string{
	"maybe", "perhaps", "not sure", "either", "or something",
	"kind of", "sort of", "i think", "possibly", "might be",
	"what if", "could be", "depends",
}

// Prediction is one brain's self-assessed confidence for a query.
type Prediction struct {
	Confidence float64 `json:"confidence"`
}

// Ensemble summarizes the prediction set.
type Ensemble struct {
	Mean        float64 `json:"mean"`
	Variance    float64 `json:"variance"`
	SampleCount int     `json:"sample_count"`
}

// Result is the combined uncertainty estimate. All fields lie in [0,1].
type Result struct {
	Epistemic float64  `json:"epistemic"`
	Aleatoric float64  `json:"aleatoric"`
	Total     float64  `json:"total"`
	Ensemble  Ensemble `json:"ensemble"`
}

// ContextSignals carries the context-richness inputs to the aleatoric
// estimate.
type ContextSignals struct {
	// HistoryTurns is the number of prior conversation turns available.
	HistoryTurns int

	// KnowledgeItems is the number of retrieved background items. Zero also
	// covers the degraded no-recall-available case.
	KnowledgeItems int
}

// Estimate computes the uncertainty for a set of predictions about one query.
//
// With zero or one prediction there is no disagreement to measure, so
// epistemic is 0 and the total is purely aleatoric. With several, epistemic
// is the population standard deviation of the confidences and the ensemble
// mean is inverse-variance weighted, pulling toward the more confident
// predictions.
func Estimate(preds []Prediction, query string, sig ContextSignals) Result {
	aleatoric := estimateAleatoric(query, sig)

	if len(preds) <= 1 {
		mean := defaultConfidence
		if len(preds) == 1 {
			mean = clamp01(preds[0].Confidence)
		}
		return Result{
			Epistemic: 0,
			Aleatoric: aleatoric,
			Total:     aleatoric,
			Ensemble: Ensemble{
				Mean:        mean,
				Variance:    0,
				SampleCount: len(preds),
			},
		}
	}

	confs := make([]float64, len(preds))
	for i, p := range preds {
		confs[i] = clamp01(p.Confidence)
	}

	mean := 0.0
	for _, c := range confs {
		mean += c
	}
	mean /= float64(len(confs))

	variance := 0.0
	for _, c := range confs {
		d := c - mean
		variance += d * d
	}
	variance /= float64(len(confs))

	epistemic := math.Sqrt(variance)
	total := math.Min(1, math.Sqrt(epistemic*epistemic+aleatoric*aleatoric))

	return Result{
		Epistemic: epistemic,
		Aleatoric: aleatoric,
		Total:     total,
		Ensemble: Ensemble{
			Mean:        weightedMean(confs),
			Variance:    variance,
			SampleCount: len(confs),
		},
	}
}

// weightedMean is the inverse-variance-weighted average of confidences,
// weight proportional to 1/(1-confidence+eps). Confidences are clamped
// below 1.0 before weighting.
func weightedMean(confs []float64) float64 {
	var sum, weightSum float64
	for _, c := range confs {
		if c > maxConfidence {
			c = maxConfidence
		}
		w := 1 / (1 - c + epsilon)
		sum += w * c
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}

// estimateAleatoric scores the irreducible uncertainty of the query itself:
// ambiguous phrasing, awkward length, and thin context all raise it, while
// abundant retrieved knowledge lowers it.
func estimateAleatoric(query string, sig ContextSignals) float64 {
	a := aleatoricBase
	lower := strings.ToLower(query)

	for _, phrase := range ambiguityPhrases {
		if strings.Contains(lower, phrase) {
			a += 0.15
			break
		}
	}
	if strings.Count(query, "?") > 1 {
		a += 0.1
	}
	if len(query) < shortQueryLen {
		a += 0.1
	}
	if len(query) > longQueryLen {
		a += 0.1
	}
	if sig.HistoryTurns == 0 {
		a += 0.1
	}
	switch {
	case sig.KnowledgeItems == 0:
		a += 0.1
	case sig.KnowledgeItems >= abundantKnowledge:
		a -= 0.1
	}

	return clamp01(a)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
