// Package brain defines the reasoning backends ("brains") available to the
// router and the registry that tracks their configuration and outcomes.
package brain

// ID identifies a reasoning backend. The set is closed: routing decisions
// can only name one of the constants below, so an invalid brain name is a
// construction-time error rather than a runtime string-match failure.
type ID string

const (
	// Analytical is the general-purpose reasoning brain. It is also the
	// designated default: probe ties resolve to it.
	Analytical ID = "analytical"
	// Creative handles open-ended generation, brainstorming, and writing.
	Creative ID = "creative"
	// Technical handles code, math, and precise step-by-step work.
	Technical ID = "technical"
	// Empathy handles social and emotionally sensitive conversations.
	Empathy ID = "empathy"
	// Recall answers questions grounded in stored conversation context.
	Recall ID = "recall"
	// Sentinel is the deterministic safety brain used by the safety gate.
	Sentinel ID = "sentinel"
)

// Default is the brain that wins probe ties and serves unclassified queries.
const Default = Analytical

// All returns every defined brain ID in a stable order.
func All() []ID {
	return []ID{Analytical, Creative, Technical, Empathy, Recall, Sentinel}
}

// String returns the string representation of the ID.
func (id ID) String() string {
	return string(id)
}

// Valid returns true if the ID names a known brain.
func (id ID) Valid() bool {
	switch id {
	case Analytical, Creative, Technical, Empathy, Recall, Sentinel:
		return true
	default:
		return false
	}
}

// Capability tags used to filter brains in registry lookups.
const (
	TagGeneral    = "general"
	TagCreative   = "creative"
	TagCode       = "code"
	TagSocial     = "social"
	TagMemory     = "memory"
	TagSafety     = "safety"
	TagHighStakes = "high_stakes"
)
