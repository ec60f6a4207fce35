package brain

import (
	"fmt"
	"sync"
)

// ErrNotFound is returned by Get for unregistered brain IDs.
var ErrNotFound = fmt.Errorf("brain not found")

// Registry holds the brain table. Registration happens once at startup;
// afterwards the registry is read-mostly, so lookups take a read lock and
// outcome recording goes straight to the brain's atomic counters.
type Registry struct {
	mu     sync.RWMutex
	brains map[ID]*Brain
	order  []ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{brains: make(map[ID]*Brain)}
}

// Register adds a brain. It fails on invalid IDs and on duplicates:
// no brain may be registered twice.
func (r *Registry) Register(b *Brain) error {
	if b == nil {
		return fmt.Errorf("register: nil brain")
	}
	if !b.ID.Valid() {
		return fmt.Errorf("register: invalid brain id %q", b.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.brains[b.ID]; exists {
		return fmt.Errorf("register: brain %s already registered", b.ID)
	}
	r.brains[b.ID] = b
	r.order = append(r.order, b.ID)
	return nil
}

// Get retrieves a brain by ID.
func (r *Registry) Get(id ID) (*Brain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.brains[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return b, nil
}

// List returns enabled brains in registration order. If tag is non-empty,
// only brains carrying that capability tag are returned.
func (r *Registry) List(tag string) []*Brain {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Brain, 0, len(r.order))
	for _, id := range r.order {
		b := r.brains[id]
		if !b.Enabled {
			continue
		}
		if tag != "" && !b.HasTag(tag) {
			continue
		}
		result = append(result, b)
	}
	return result
}

// RecordOutcome increments the named brain's success or failure counter.
// Unknown IDs are ignored; stats recording must never fail a caller.
func (r *Registry) RecordOutcome(id ID, ok bool) {
	r.mu.RLock()
	b, exists := r.brains[id]
	r.mu.RUnlock()
	if exists {
		b.RecordOutcome(ok)
	}
}

// Count returns the number of registered brains.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.brains)
}

// NewDefaultRegistry seeds a registry with the standard six brains. Model
// variants follow the usual deployment: cloud models for the heavyweight
// brains, a small variant for probes-and-recall work.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	defaults := []*Brain{
		{
			ID:             Analytical,
			ModelVariant:   "gpt-4o",
			Temperature:    0.7,
			MaxTokens:      2048,
			CapabilityTags: []string{TagGeneral},
			Weight:         1.0,
			Enabled:        true,
		},
		{
			ID:             Creative,
			ModelVariant:   "gpt-4o",
			Temperature:    0.95,
			MaxTokens:      2048,
			CapabilityTags: []string{TagCreative},
			Weight:         0.8,
			Enabled:        true,
		},
		{
			ID:             Technical,
			ModelVariant:   "gpt-4o",
			Temperature:    0.2,
			MaxTokens:      4096,
			CapabilityTags: []string{TagCode, TagHighStakes},
			Weight:         0.9,
			Enabled:        true,
		},
		{
			ID:             Empathy,
			ModelVariant:   "gpt-4o-mini",
			Temperature:    0.8,
			MaxTokens:      1024,
			CapabilityTags: []string{TagSocial},
			Weight:         0.6,
			Enabled:        true,
		},
		{
			ID:             Recall,
			ModelVariant:   "gpt-4o-mini",
			Temperature:    0.3,
			MaxTokens:      1024,
			CapabilityTags: []string{TagMemory},
			Weight:         0.5,
			Enabled:        true,
		},
		{
			ID:             Sentinel,
			ModelVariant:   "gpt-4o-mini",
			Temperature:    0,
			MaxTokens:      512,
			CapabilityTags: []string{TagSafety, TagHighStakes},
			Weight:         1.0,
			Enabled:        true,
		},
	}

	for _, b := range defaults {
		// Registration of a fresh registry with the closed ID set cannot
		// collide, so errors here would be a programming bug.
		if err := r.Register(b); err != nil {
			panic(err)
		}
	}
	return r
}
