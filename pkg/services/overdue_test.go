package services

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/worktemplate/pkg/events"
	"github.com/dukex/worktemplate/pkg/mocks"
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstances_SweepOverdue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	review := task("review", 1)
	review.SLAHours = ptr(2)
	instance := env.instantiate(t, "sla", review, task("ship", 2, "review"))

	later := &mocks.EventRecorder{}
	clock := testNow.Add(3 * time.Hour)
	sweeper := NewInstances(env.persistence,
		WithClock(func() time.Time { return clock }),
		WithPublisher(later),
	)

	notified, err := sweeper.SweepOverdue(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, notified)
	require.Len(t, later.Events(), 1)

	overdue, ok := later.Events()[0].Event.(events.StepOverdue)
	require.True(t, ok)
	assert.Equal(t, "review", overdue.StepKey)
	assert.Equal(t, time.Hour, overdue.OverdueBy)
	assert.Equal(t, instance.ID, later.Events()[0].Key)

	step := stepByKey(t, env.reload(t, instance.ID), "review")
	assert.Equal(t, models.StepStatusReady, step.Status, "overdue never changes status")
	require.NotNil(t, step.OverdueNotifiedAt)

	notified, err = sweeper.SweepOverdue(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, notified, "a step is notified once")
	assert.Len(t, later.Events(), 1)
}

func TestInstances_SweepOverdueIgnoresFinishedWork(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	done := task("done", 1)
	done.SLAHours = ptr(1)
	cancelled := task("cancelled", 1)
	cancelled.SLAHours = ptr(1)

	first := env.instantiate(t, "finished", done)
	_, err := env.instances.Start(ctx, stepByKey(t, first, "done").ID, nil)
	require.NoError(t, err)
	_, err = env.instances.Complete(ctx, stepByKey(t, first, "done").ID, nil)
	require.NoError(t, err)

	second := env.instantiate(t, "cancelled", cancelled)
	_, err = env.instances.Cancel(ctx, second.ID, nil)
	require.NoError(t, err)

	sweeper := NewInstances(env.persistence, WithClock(func() time.Time { return testNow.Add(5 * time.Hour) }))

	notified, err := sweeper.SweepOverdue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, notified)
}
