package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) add(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) get(i int) Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[i]
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewBus(10, nil)
	defer bus.Close()

	var c collector
	unsub := bus.Subscribe(EventAlarmTransition, c.add)
	defer unsub()

	bus.Publish(EventAlarmTransition, map[string]any{"from": "idle", "to": "pending"})

	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)
	got := c.get(0)
	assert.Equal(t, EventAlarmTransition, got.Type)
	assert.Equal(t, "pending", got.Data["to"])
	assert.False(t, got.Timestamp.IsZero())
}

func TestBus_OnlyMatchingType(t *testing.T) {
	bus := NewBus(10, nil)
	defer bus.Close()

	var commands, matches collector
	defer bus.Subscribe(EventCommand, commands.add)()
	defer bus.Subscribe(EventMessageMatched, matches.add)()

	bus.Publish(EventCommand, map[string]any{"action": "start_alarm"})
	bus.Publish(EventCommand, map[string]any{"action": "stop_alarm"})

	require.Eventually(t, func() bool { return commands.len() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, matches.len())
}

func TestBus_NonBlocking(t *testing.T) {
	bus := NewBus(1, nil)
	defer bus.Close()

	release := make(chan struct{})
	defer close(release)
	defer bus.Subscribe(EventStatusChanged, func(Event) { <-release })()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(EventStatusChanged, map[string]any{"text": i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10, nil)
	defer bus.Close()

	var c collector
	unsub := bus.Subscribe(EventObservation, c.add)
	bus.Publish(EventObservation, map[string]any{"registered": true})
	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)

	unsub()
	unsub()
	bus.Publish(EventObservation, map[string]any{"registered": false})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, c.len())
}

func TestBus_PanicRecovery(t *testing.T) {
	bus := NewBus(10, nil)
	defer bus.Close()

	var c collector
	defer bus.Subscribe(EventRulesRefreshed, func(e Event) {
		if e.Data["boom"] == true {
			panic("boom")
		}
		c.add(e)
	})()

	bus.Publish(EventRulesRefreshed, map[string]any{"boom": true})
	bus.Publish(EventRulesRefreshed, map[string]any{"boom": false})

	require.Eventually(t, func() bool { return c.len() == 1 }, time.Second, 5*time.Millisecond)
}
