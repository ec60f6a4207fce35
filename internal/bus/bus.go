package bus

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultHistorySize is the number of recent events retained for replay.
	DefaultHistorySize = 1000

	// subscriberBuffer is the per-subscriber channel depth. A full buffer
	// drops events for that subscriber rather than stalling publishers.
	subscriberBuffer = 100
)

// SubscriptionID identifies one registered subscriber.
type SubscriptionID string

type subscription struct {
	id        SubscriptionID
	eventType EventType // "" matches every event
	handler   func(Event)
	ch        chan Event
	done      chan struct{}
}

// Bus is a thread-safe pub/sub fan-out for routing events. Handlers run on
// dedicated goroutines so a slow or panicking observer cannot affect the
// routing path.
type Bus struct {
	mu          sync.RWMutex
	subs        map[SubscriptionID]*subscription
	byType      map[EventType]map[SubscriptionID]*subscription
	wildcards   map[SubscriptionID]*subscription
	subCounter  atomic.Uint64

	historyMu   sync.RWMutex
	history     []Event
	historySize int

	wg     sync.WaitGroup
	closed atomic.Bool
}

// New creates a bus retaining DefaultHistorySize events.
func New() *Bus {
	return NewWithHistory(DefaultHistorySize)
}

// NewWithHistory creates a bus with a custom replay buffer size.
func NewWithHistory(historySize int) *Bus {
	return &Bus{
		subs:        make(map[SubscriptionID]*subscription),
		byType:      make(map[EventType]map[SubscriptionID]*subscription),
		wildcards:   make(map[SubscriptionID]*subscription),
		history:     make([]Event, 0, historySize),
		historySize: historySize,
	}
}

// Subscribe registers a handler for one event type. An empty eventType
// subscribes to everything.
func (b *Bus) Subscribe(eventType EventType, handler func(Event)) SubscriptionID {
	id := SubscriptionID(fmt.Sprintf("sub-%d", b.subCounter.Add(1)))
	sub := &subscription{
		id:        id,
		eventType: eventType,
		handler:   handler,
		ch:        make(chan Event, subscriberBuffer),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	b.subs[id] = sub
	if eventType == "" {
		b.wildcards[id] = sub
	} else {
		if b.byType[eventType] == nil {
			b.byType[eventType] = make(map[SubscriptionID]*subscription)
		}
		b.byType[eventType][id] = sub
	}
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run(sub)
	return id
}

// run drains one subscriber's channel. Handler panics are contained here.
func (b *Bus) run(sub *subscription) {
	defer b.wg.Done()
	for {
		select {
		case event := <-sub.ch:
			b.dispatch(sub, event)
		case <-sub.done:
			return
		}
	}
}

func (b *Bus) dispatch(sub *subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("component", "bus").
				Str("subscription", string(sub.id)).
				Str("event_type", string(event.Type)).
				Interface("panic", r).
				Msg("subscriber handler panicked")
		}
	}()
	sub.handler(event)
}

// Unsubscribe removes a subscription and stops its goroutine.
func (b *Bus) Unsubscribe(id SubscriptionID) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}

	b.mu.Lock()
	sub, ok := b.subs[id]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("subscription %s not found", id)
	}
	delete(b.subs, id)
	delete(b.wildcards, id)
	if typed, ok := b.byType[sub.eventType]; ok {
		delete(typed, id)
		if len(typed) == 0 {
			delete(b.byType, sub.eventType)
		}
	}
	b.mu.Unlock()

	close(sub.done)
	return nil
}

// Publish delivers an event to every matching subscriber without blocking.
// Subscribers whose buffers are full miss the event.
func (b *Bus) Publish(event Event) error {
	if b.closed.Load() {
		return fmt.Errorf("bus is closed")
	}

	b.record(event)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.wildcards {
		select {
		case sub.ch <- event:
		default:
		}
	}
	for _, sub := range b.byType[event.Type] {
		select {
		case sub.ch <- event:
		default:
		}
	}
	return nil
}

func (b *Bus) record(event Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	b.history = append(b.history, event)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}
}

// History returns a copy of retained events, oldest first.
func (b *Bus) History() []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// Recent returns up to n of the most recent events, oldest first.
func (b *Bus) Recent(n int) []Event {
	b.historyMu.RLock()
	defer b.historyMu.RUnlock()
	if n > len(b.history) {
		n = len(b.history)
	}
	out := make([]Event, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close stops all subscriber goroutines. Further publishes error.
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("bus already closed")
	}

	b.mu.Lock()
	for _, sub := range b.subs {
		close(sub.done)
	}
	b.subs = make(map[SubscriptionID]*subscription)
	b.byType = make(map[EventType]map[SubscriptionID]*subscription)
	b.wildcards = make(map[SubscriptionID]*subscription)
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
