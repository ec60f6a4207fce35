package brain

import "sync/atomic"

// Brain is a configured reasoning backend. Configuration fields are
// immutable after registration; only the outcome counters mutate, and those
// only through atomic increments.
type Brain struct {
	// ID is the brain's identity in the closed ID set.
	ID ID

	// ModelVariant is the model this brain runs on (provider-specific name).
	ModelVariant string

	// Temperature for full calls. The sentinel brain runs at 0.
	Temperature float64

	// MaxTokens bounds response length for full calls.
	MaxTokens int

	// CapabilityTags describe what this brain is good at.
	CapabilityTags []string

	// Weight is the brain's relative priority when several could serve.
	Weight float64

	// Enabled brains participate in probe fan-outs; disabled ones are
	// skipped everywhere except direct lookup.
	Enabled bool

	success atomic.Int64
	failure atomic.Int64
}

// RecordOutcome increments the success or failure counter. Safe for
// concurrent use and never blocks readers.
func (b *Brain) RecordOutcome(ok bool) {
	if ok {
		b.success.Add(1)
	} else {
		b.failure.Add(1)
	}
}

// Outcomes returns the accumulated success and failure counts.
func (b *Brain) Outcomes() (success, failure int64) {
	return b.success.Load(), b.failure.Load()
}

// HasTag reports whether the brain carries the given capability tag.
func (b *Brain) HasTag(tag string) bool {
	for _, t := range b.CapabilityTags {
		if t == tag {
			return true
		}
	}
	return false
}
