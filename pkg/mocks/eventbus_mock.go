// Package mocks provides test doubles for the event bus and snapshot cache.
package mocks

import (
	"context"
	"sync"

	"github.com/dukex/worktemplate/pkg/eventbus"
	"github.com/dukex/worktemplate/pkg/events"
	"github.com/stretchr/testify/mock"
)

// MockEventBus is a mock implementation of eventbus.EventBus interface.
type MockEventBus struct {
	mock.Mock
}

func (m *MockEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	args := m.Called(ctx, key, event)

	return args.Error(0)
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	args := m.Called(eventType, handler)

	return args.Error(0)
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockEventBus) Close() error {
	args := m.Called()

	return args.Error(0)
}

func (m *MockEventBus) GenerateID() string {
	args := m.Called()

	return args.String(0)
}

// RecordedEvent is one call to EventRecorder.Publish.
type RecordedEvent struct {
	Key   string
	Event eventbus.Event
}

// EventRecorder is an eventbus.EventPublisher that keeps everything it is given.
type EventRecorder struct {
	mu     sync.Mutex
	events []RecordedEvent
}

func (r *EventRecorder) Publish(_ context.Context, key string, event eventbus.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, RecordedEvent{Key: key, Event: event})

	return nil
}

// Events returns a copy of the recorded events in publish order.
func (r *EventRecorder) Events() []RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]RecordedEvent(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *EventRecorder) Types() []events.EventType {
	recorded := r.Events()
	types := make([]events.EventType, 0, len(recorded))

	for _, entry := range recorded {
		types = append(types, entry.Event.GetType())
	}

	return types
}

// Count returns how many events of the given type were recorded.
func (r *EventRecorder) Count(eventType events.EventType) int {
	count := 0

	for _, t := range r.Types() {
		if t == eventType {
			count++
		}
	}

	return count
}

func (r *EventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = nil
}
