// Package eventbus publishes and consumes lifecycle events over Watermill.
//
// The binaries in this module only publish. EventSubscriber and Decode are the
// consumer contract for notification collaborators running out of process:
// they Handle the event types they care about, Subscribe, and receive the
// typed event that Decode rebuilds from the message payload.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/worktemplate/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// ErrUnknownEventType is returned by Decode for types without a payload struct.
var ErrUnknownEventType = errors.New("unknown event type")

// decoders maps every known event type to a constructor for its payload.
var decoders = map[events.EventType]func() any{
	events.TemplateVersionPublishedEvent:      func() any { return &events.TemplateVersionPublished{} },
	events.InstanceCreatedEvent:               func() any { return &events.InstanceCreated{} },
	events.InstanceCompletedEvent:             func() any { return &events.InstanceCompleted{} },
	events.InstanceCancelledEvent:             func() any { return &events.InstanceCancelled{} },
	events.StepReadyEvent:                     func() any { return &events.StepReady{} },
	events.StepStartedEvent:                   func() any { return &events.StepStarted{} },
	events.StepCompletedEvent:                 func() any { return &events.StepCompleted{} },
	events.StepSkippedEvent:                   func() any { return &events.StepSkipped{} },
	events.StepOverdueEvent:                   func() any { return &events.StepOverdue{} },
	events.ApprovalRequestedEvent:             func() any { return &events.ApprovalRequested{} },
	events.ApprovalDecidedEvent:               func() any { return &events.ApprovalDecided{} },
	events.DeliverableVersionPublishedEvent:   func() any { return &events.DeliverableVersionPublished{} },
	events.DeliverableIntegrityViolationEvent: func() any { return &events.DeliverableIntegrityViolation{} },
}

// Decode unmarshals payload into the struct registered for eventType.
func Decode(eventType events.EventType, payload []byte) (any, error) {
	decode, known := decoders[eventType]
	if !known {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	event := decode()
	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", eventType, err)
	}

	return event, nil
}
