package llm

import (
	"sync"
	"sync/atomic"
)

// Outcome is a snapshot of one provider's aggregate counters.
type Outcome struct {
	Success int64 `json:"success"`
	Failure int64 `json:"failure"`
}

// counter holds a provider's live counters. Increments are atomic so
// concurrent invocations never lose counts.
type counter struct {
	success atomic.Int64
	failure atomic.Int64
}

// Stats is the explicit per-provider statistics store. It is passed by
// handle to whoever needs it rather than living as a package singleton, so
// ownership stays with the fallback chain that creates it.
type Stats struct {
	mu       sync.RWMutex
	counters map[string]*counter
}

// NewStats creates an empty stats store.
func NewStats() *Stats {
	return &Stats{counters: make(map[string]*counter)}
}

// get returns the counter for a provider, creating it on first use.
func (s *Stats) get(provider string) *counter {
	s.mu.RLock()
	c, ok := s.counters[provider]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.counters[provider]; ok {
		return c
	}
	c = &counter{}
	s.counters[provider] = c
	return c
}

// RecordSuccess increments the provider's success counter.
func (s *Stats) RecordSuccess(provider string) {
	s.get(provider).success.Add(1)
}

// RecordFailure increments the provider's failure counter.
func (s *Stats) RecordFailure(provider string) {
	s.get(provider).failure.Add(1)
}

// Snapshot returns a copy of all counters.
func (s *Stats) Snapshot() map[string]Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Outcome, len(s.counters))
	for name, c := range s.counters {
		out[name] = Outcome{
			Success: c.success.Load(),
			Failure: c.failure.Load(),
		}
	}
	return out
}

// Provider returns the snapshot for a single provider.
func (s *Stats) Provider(provider string) Outcome {
	c := s.get(provider)
	return Outcome{
		Success: c.success.Load(),
		Failure: c.failure.Load(),
	}
}
