// Package events carries in-process notifications between daemon
// components and records them to an append-only audit log.
package events

import (
	"log/slog"
	"sync"
	"time"
)

type EventType string

const (
	// EventAlarmTransition is published on every alarm state change.
	// Data: from, to, fire_at (pending only).
	EventAlarmTransition EventType = "alarm_transition"
	// EventCommand is published for every dispatched do-action command.
	// Data: action, code.
	EventCommand EventType = "command"
	// EventMessageMatched is published when an inbound message contains
	// the keyword. Data: path, from.
	EventMessageMatched EventType = "message_matched"
	// EventObservation is published when content observation is toggled.
	// Data: registered.
	EventObservation EventType = "observation"
	// EventStatusChanged is published with each emitted status text.
	// Data: text.
	EventStatusChanged EventType = "status_changed"
	// EventRulesRefreshed is published after the rule summary reloads.
	// Data: global_groups, app_size, app_group_size.
	EventRulesRefreshed EventType = "rules_refreshed"
)

// AllEventTypes lists every event type the daemon publishes.
var AllEventTypes = []EventType{
	EventAlarmTransition,
	EventCommand,
	EventMessageMatched,
	EventObservation,
	EventStatusChanged,
	EventRulesRefreshed,
}

type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]any
}

type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe hub. Each subscriber has its own
// buffered channel and goroutine; when the channel is full the event is
// dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	logger      *slog.Logger
	now         func() time.Time
}

func NewBus(bufferSize int, logger *slog.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
		logger:      logger.With("component", "events"),
		now:         time.Now,
	}
}

// Subscribe registers fn for eventType and returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	go func() {
		for event := range ch {
			b.deliver(fn, event)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subs := b.subscribers[eventType]
			for i, subCh := range subs {
				if subCh == ch {
					b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
					close(ch)
					break
				}
			}
		})
	}
}

func (b *Bus) deliver(fn Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked", "event", event.Type, "panic", r)
		}
	}()
	fn(event)
}

// Publish sends an event to all subscribers of eventType without blocking.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Timestamp: b.now().UTC(),
		Data:      data,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
			b.logger.Debug("subscriber full, event dropped", "event", eventType)
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
}
