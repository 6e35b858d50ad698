package eventbus_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/worktemplate/pkg/channels/gochannel"
	"github.com/dukex/worktemplate/pkg/eventbus"
	"github.com/dukex/worktemplate/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, slog.Default())
	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

func TestWatermillEventBus_PublishAndHandle(t *testing.T) {
	bus := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *events.InstanceCreated, 1)

	require.NoError(t, bus.Handle(events.InstanceCreatedEvent, func(_ context.Context, event any) error {
		created, ok := event.(*events.InstanceCreated)
		if !ok {
			return errors.New("unexpected payload")
		}

		received <- created

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	event := events.InstanceCreated{
		BaseEvent:  events.NewBaseEvent(events.InstanceCreatedEvent, "tenant-1"),
		InstanceID: "instance-1",
		ProjectID:  "project-1",
		TemplateID: "template-1",
		VersionID:  "version-1",
		StepCount:  3,
	}
	require.NoError(t, bus.Publish(ctx, "instance-1", event))

	select {
	case got := <-received:
		assert.Equal(t, "instance-1", got.InstanceID)
		assert.Equal(t, "tenant-1", got.TenantID)
		assert.Equal(t, 3, got.StepCount)
		assert.Equal(t, events.InstanceCreatedEvent, got.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_IgnoresUnhandledTypes(t *testing.T) {
	bus := newBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	completed := make(chan string, 1)

	require.NoError(t, bus.Handle(events.InstanceCompletedEvent, func(_ context.Context, event any) error {
		completed <- event.(*events.InstanceCompleted).InstanceID

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	require.NoError(t, bus.Publish(ctx, "instance-1", events.InstanceCancelled{
		BaseEvent:  events.NewBaseEvent(events.InstanceCancelledEvent, "tenant-1"),
		InstanceID: "instance-1",
	}))
	require.NoError(t, bus.Publish(ctx, "instance-2", events.InstanceCompleted{
		BaseEvent:  events.NewBaseEvent(events.InstanceCompletedEvent, "tenant-1"),
		InstanceID: "instance-2",
	}))

	select {
	case id := <-completed:
		assert.Equal(t, "instance-2", id)
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newBus(t)

	assert.NotEmpty(t, bus.GenerateID())
	assert.NotEqual(t, bus.GenerateID(), bus.GenerateID())
}

func TestDecode(t *testing.T) {
	event, err := eventbus.Decode(events.StepOverdueEvent, []byte(`{"type":"step.overdue","instance_id":"i-1","step_key":"review"}`))
	require.NoError(t, err)

	overdue, ok := event.(*events.StepOverdue)
	require.True(t, ok)
	assert.Equal(t, "i-1", overdue.InstanceID)
	assert.Equal(t, "review", overdue.StepKey)

	_, err = eventbus.Decode("workflow.triggered", []byte(`{}`))
	require.ErrorIs(t, err, eventbus.ErrUnknownEventType)

	_, err = eventbus.Decode(events.StepOverdueEvent, []byte(`not json`))
	require.Error(t, err)
}
