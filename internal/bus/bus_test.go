package bus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSubscribeAndPublish(t *testing.T) {
	b := New()
	defer b.Close()

	var got atomic.Value
	b.Subscribe(EventRouteDecided, func(e Event) { got.Store(e) })

	ev := NewEvent(EventRouteDecided)
	ev.Brain = "technical"
	ev.Method = "probe_top2"
	require.NoError(t, b.Publish(ev))

	waitFor(t, func() bool { return got.Load() != nil })
	received := got.Load().(Event)
	assert.Equal(t, "technical", received.Brain)
	assert.Equal(t, "probe_top2", received.Method)
	assert.NotEmpty(t, received.ID)
	assert.False(t, received.Timestamp.IsZero())
}

func TestTypedSubscriberIgnoresOtherTypes(t *testing.T) {
	b := New()
	defer b.Close()

	var count atomic.Int64
	b.Subscribe(EventSafetyBlocked, func(Event) { count.Add(1) })

	require.NoError(t, b.Publish(NewEvent(EventRouteDecided)))
	require.NoError(t, b.Publish(NewEvent(EventSafetyBlocked)))

	waitFor(t, func() bool { return count.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), count.Load())
}

func TestWildcardReceivesEverything(t *testing.T) {
	b := New()
	defer b.Close()

	var count atomic.Int64
	b.Subscribe("", func(Event) { count.Add(1) })

	for _, typ := range []EventType{EventRouteDecided, EventToolExecuted, EventReviewCompleted} {
		require.NoError(t, b.Publish(NewEvent(typ)))
	}
	waitFor(t, func() bool { return count.Load() == 3 })
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	defer b.Close()

	var count atomic.Int64
	id := b.Subscribe(EventBrainResponded, func(Event) { count.Add(1) })
	require.NoError(t, b.Publish(NewEvent(EventBrainResponded)))
	waitFor(t, func() bool { return count.Load() == 1 })

	require.NoError(t, b.Unsubscribe(id))
	assert.Zero(t, b.SubscriberCount())

	require.NoError(t, b.Publish(NewEvent(EventBrainResponded)))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), count.Load())

	assert.Error(t, b.Unsubscribe(id))
}

func TestHistoryRing(t *testing.T) {
	b := NewWithHistory(5)
	defer b.Close()

	for i := 0; i < 8; i++ {
		ev := NewEvent(EventProviderAttempted)
		ev.Provider = fmt.Sprintf("p%d", i)
		require.NoError(t, b.Publish(ev))
	}

	hist := b.History()
	require.Len(t, hist, 5)
	assert.Equal(t, "p3", hist[0].Provider)
	assert.Equal(t, "p7", hist[4].Provider)

	recent := b.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "p6", recent[0].Provider)
	assert.Equal(t, "p7", recent[1].Provider)

	assert.Len(t, b.Recent(100), 5)
}

func TestPanickingHandlerDoesNotKillBus(t *testing.T) {
	b := New()
	defer b.Close()

	var count atomic.Int64
	b.Subscribe(EventToolExecuted, func(Event) { panic("boom") })
	b.Subscribe(EventToolExecuted, func(Event) { count.Add(1) })

	require.NoError(t, b.Publish(NewEvent(EventToolExecuted)))
	require.NoError(t, b.Publish(NewEvent(EventToolExecuted)))
	waitFor(t, func() bool { return count.Load() == 2 })
}

func TestPublishAfterClose(t *testing.T) {
	b := New()
	require.NoError(t, b.Close())
	assert.Error(t, b.Publish(NewEvent(EventRouteDecided)))
	assert.Error(t, b.Close())
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	defer b.Close()

	var count atomic.Int64
	b.Subscribe("", func(Event) { count.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = b.Publish(NewEvent(EventBrainResponded))
			}
		}()
	}
	wg.Wait()

	// Delivery may drop under pressure; history never does.
	assert.Len(t, b.History(), 200)
}
