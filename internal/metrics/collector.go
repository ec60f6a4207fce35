package metrics

import (
	"sync"
	"time"

	"github.com/normanking/arbiter/internal/bus"
)

// Collector subscribes to the event bus and aggregates per-process routing
// activity for in-band display (the CLI's verbose summary). Prometheus
// collectors cover scraping; this covers "what just happened".
type Collector struct {
	mu    sync.RWMutex
	stats ActivityStats
	sub   bus.SubscriptionID
	b     *bus.Bus
}

// ActivityStats summarizes routing activity since the collector started.
type ActivityStats struct {
	StartTime         time.Time
	Decisions         int
	DecisionsByMethod map[string]int
	ProviderAttempts  int
	ProviderFailures  int
	Responses         int
	ToolCalls         int
	Reviews           int
	SafetyBlocks      int
	LastEventTime     time.Time
}

// NewCollector attaches a collector to a bus. Detach with Stop.
func NewCollector(b *bus.Bus) *Collector {
	c := &Collector{
		b: b,
		stats: ActivityStats{
			StartTime:         time.Now(),
			DecisionsByMethod: make(map[string]int),
		},
	}
	c.sub = b.Subscribe("", c.handle)
	return c
}

func (c *Collector) handle(ev bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.LastEventTime = ev.Timestamp
	switch ev.Type {
	case bus.EventRouteDecided:
		c.stats.Decisions++
		c.stats.DecisionsByMethod[ev.Method]++
	case bus.EventProviderAttempted:
		c.stats.ProviderAttempts++
		if ev.Error != "" {
			c.stats.ProviderFailures++
		}
	case bus.EventBrainResponded:
		c.stats.Responses++
	case bus.EventToolExecuted:
		c.stats.ToolCalls++
	case bus.EventReviewCompleted:
		c.stats.Reviews++
	case bus.EventSafetyBlocked:
		c.stats.SafetyBlocks++
	}
}

// Snapshot returns a copy of the aggregated stats.
func (c *Collector) Snapshot() ActivityStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := c.stats
	out.DecisionsByMethod = make(map[string]int, len(c.stats.DecisionsByMethod))
	for k, v := range c.stats.DecisionsByMethod {
		out.DecisionsByMethod[k] = v
	}
	return out
}

// Stop detaches the collector from the bus.
func (c *Collector) Stop() {
	_ = c.b.Unsubscribe(c.sub)
}
