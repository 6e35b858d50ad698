package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/worktemplate/pkg/events"
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstances_LinearChainCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	instance := env.instantiate(t, "linear", task("a", 1), task("b", 2, "a"), task("c", 3, "b"))

	assert.Equal(t, models.InstanceStatusPending, instance.Status)
	assert.Equal(t, map[string]models.StepStatus{
		"a": models.StepStatusReady,
		"b": models.StepStatusBlocked,
		"c": models.StepStatusBlocked,
	}, statuses(instance))

	a := stepByKey(t, instance, "a")
	b := stepByKey(t, instance, "b")
	c := stepByKey(t, instance, "c")

	_, err := env.instances.Start(ctx, b.ID, nil)
	require.ErrorIs(t, err, ErrPreconditionFailed)

	started, err := env.instances.Start(ctx, a.ID, ptr("alice"))
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusInProgress, started.Status)
	assert.Equal(t, "alice", *started.StartedBy)
	assert.Equal(t, models.InstanceStatusRunning, env.reload(t, instance.ID).Status)

	_, err = env.instances.Complete(ctx, a.ID, ptr("alice"))
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusReady, statuses(env.reload(t, instance.ID))["b"])
	assert.Equal(t, models.StepStatusBlocked, statuses(env.reload(t, instance.ID))["c"])

	for _, id := range []string{b.ID, c.ID} {
		_, err = env.instances.Transition(ctx, id, TransitionRequest{Target: models.StepStatusInProgress})
		require.NoError(t, err)

		_, err = env.instances.Transition(ctx, id, TransitionRequest{Target: models.StepStatusCompleted})
		require.NoError(t, err)
	}

	finished := env.reload(t, instance.ID)
	assert.Equal(t, models.InstanceStatusCompleted, finished.Status)
	require.NotNil(t, finished.CompletedAt)

	assert.Equal(t, 1, env.recorder.Count(events.InstanceCreatedEvent))
	assert.Equal(t, 3, env.recorder.Count(events.StepReadyEvent))
	assert.Equal(t, 3, env.recorder.Count(events.StepStartedEvent))
	assert.Equal(t, 3, env.recorder.Count(events.StepCompletedEvent))
	assert.Equal(t, 1, env.recorder.Count(events.InstanceCompletedEvent))

	_, err = env.instances.Skip(ctx, a.ID, nil)
	require.ErrorIs(t, err, ErrPreconditionFailed)
}

func TestInstances_DiamondWaitsForEveryDependency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	instance := env.instantiate(t, "diamond",
		task("a", 1),
		task("b", 2, "a"),
		task("c", 3, "a"),
		task("d", 4, "b", "c"),
	)

	a := stepByKey(t, instance, "a")

	_, err := env.instances.Start(ctx, a.ID, nil)
	require.NoError(t, err)
	_, err = env.instances.Complete(ctx, a.ID, nil)
	require.NoError(t, err)

	current := env.reload(t, instance.ID)
	assert.Equal(t, models.StepStatusReady, statuses(current)["b"])
	assert.Equal(t, models.StepStatusReady, statuses(current)["c"])
	assert.Equal(t, models.StepStatusBlocked, statuses(current)["d"])

	b := stepByKey(t, current, "b")
	_, err = env.instances.Start(ctx, b.ID, nil)
	require.NoError(t, err)
	_, err = env.instances.Complete(ctx, b.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, models.StepStatusBlocked, statuses(env.reload(t, instance.ID))["d"])

	_, err = env.instances.Skip(ctx, stepByKey(t, current, "c").ID, ptr("bob"))
	require.NoError(t, err)

	current = env.reload(t, instance.ID)
	assert.Equal(t, models.StepStatusSkipped, statuses(current)["c"])
	assert.Equal(t, models.StepStatusReady, statuses(current)["d"])
	assert.Equal(t, models.InstanceStatusRunning, current.Status)
}

func TestInstances_ConcurrentStartHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	instance := env.instantiate(t, "race", task("a", 1))
	a := stepByKey(t, instance, "a")

	const workers = 8

	var wg sync.WaitGroup

	errs := make([]error, workers)

	for i := range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, errs[i] = env.instances.Start(ctx, a.ID, ptr("worker"))
		}()
	}

	wg.Wait()

	succeeded := 0

	for _, err := range errs {
		if err == nil {
			succeeded++

			continue
		}

		require.ErrorIs(t, err, ErrPreconditionFailed)
	}

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, env.recorder.Count(events.StepStartedEvent))
}

func TestInstances_CompleteRequiresFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	collect := task("collect", 1)
	collect.Type = models.StepTypeForm
	collect.Fields = []FieldInput{textField("name", true), textField("notes", false)}

	instance := env.instantiate(t, "form", collect)
	step := stepByKey(t, instance, "collect")

	_, err := env.instances.Start(ctx, step.ID, nil)
	require.NoError(t, err)

	_, err = env.instances.Complete(ctx, step.ID, nil)
	require.ErrorIs(t, err, ErrPreconditionFailed)

	var precondition *PreconditionError
	require.ErrorAs(t, err, &precondition)
	assert.Equal(t, []string{"name"}, precondition.MissingFields)

	_, err = env.values.SetValue(ctx, step.ID, "name", SetValueRequest{Value: "Ada"})
	require.NoError(t, err)

	completed, err := env.instances.Complete(ctx, step.ID, ptr("alice"))
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusCompleted, completed.Status)
}

func TestInstances_Instantiate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	intake := task("intake", 1)
	intake.AssigneeRule = "user:alice"
	intake.SLAHours = ptr(4)
	intake.Fields = []FieldInput{
		{FieldKey: "priority", Label: "Priority", Type: models.FieldTypeString, DefaultValue: "normal"},
	}

	review := task("review", 2, "intake")
	review.AssigneeRule = "role:legal"

	instance := env.instantiate(t, "intake", intake, review)

	assert.Equal(t, "tenant-1", instance.TenantID)
	assert.Equal(t, "project-1", instance.ProjectID)

	first := stepByKey(t, instance, "intake")
	require.NotNil(t, first.Assignee)
	assert.Equal(t, "alice", *first.Assignee)
	require.NotNil(t, first.Deadline)
	assert.Equal(t, testNow.Add(4*time.Hour), *first.Deadline)
	require.Len(t, first.SnapshotFields, 1)

	second := stepByKey(t, instance, "review")
	assert.Nil(t, second.Assignee)
	assert.Nil(t, second.Deadline)

	value, err := env.values.GetValue(ctx, first.ID, "priority")
	require.NoError(t, err)
	require.NotNil(t, value.Value.String)
	assert.Equal(t, "normal", *value.Value.String)
}

func TestInstances_InstantiateRequiresPublishedVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	draft := env.draft(t, "draft-only", task("a", 1))

	_, err := env.instances.Instantiate(ctx, draft.ID, InstantiateRequest{ProjectID: "project-1"})
	require.ErrorIs(t, err, ErrVersionNotPublished)

	_, err = env.instances.Instantiate(ctx, "missing", InstantiateRequest{ProjectID: "project-1"})
	assert.True(t, IsNotFound(err))

	published := env.published(t, "archived", task("a", 1))

	_, err = env.instances.Instantiate(ctx, published.ID, InstantiateRequest{})
	require.ErrorIs(t, err, ErrValidationFailed)

	_, err = env.templates.ArchiveTemplate(ctx, published.TemplateID)
	require.NoError(t, err)

	_, err = env.instances.Instantiate(ctx, published.ID, InstantiateRequest{ProjectID: "project-1"})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestInstances_SnapshotIsolation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	collect := task("collect", 1)
	collect.Fields = []FieldInput{textField("name", true)}

	published := env.published(t, "isolated", collect)

	instance, err := env.instances.Instantiate(ctx, published.ID, InstantiateRequest{ProjectID: "project-1"})
	require.NoError(t, err)

	next, err := env.templates.CreateDraftVersion(ctx, published.TemplateID, CreateVersionRequest{Version: "2.0.0", FromVersionID: published.ID})
	require.NoError(t, err)

	_, err = env.templates.AddField(ctx, next.ID, "collect", textField("email", true))
	require.NoError(t, err)

	_, err = env.templates.UpdateField(ctx, next.ID, "collect", "name", textField("name", false))
	require.NoError(t, err)

	_, err = env.templates.Publish(ctx, next.ID, nil)
	require.NoError(t, err)

	step := stepByKey(t, env.reload(t, instance.ID), "collect")
	require.Len(t, step.SnapshotFields, 1)
	assert.Equal(t, "name", step.SnapshotFields[0].FieldKey)
	assert.True(t, step.SnapshotFields[0].Required)

	_, err = env.values.SetValue(ctx, step.ID, "email", SetValueRequest{Value: "a@example.com"})
	require.ErrorIs(t, err, ErrUnknownField)
}

func TestInstances_FieldAssigneeResolvesWhenReady(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	intake := task("intake", 1)
	intake.Fields = []FieldInput{textField("owner", true)}

	review := task("review", 2, "intake")
	review.AssigneeRule = "field:intake.owner"

	instance := env.instantiate(t, "assign", intake, review)
	first := stepByKey(t, instance, "intake")

	assert.Nil(t, stepByKey(t, instance, "review").Assignee)

	_, err := env.instances.Start(ctx, first.ID, nil)
	require.NoError(t, err)

	_, err = env.values.SetValue(ctx, first.ID, "owner", SetValueRequest{Value: "bob"})
	require.NoError(t, err)

	_, err = env.instances.Complete(ctx, first.ID, nil)
	require.NoError(t, err)

	second := stepByKey(t, env.reload(t, instance.ID), "review")
	assert.Equal(t, models.StepStatusReady, second.Status)
	require.NotNil(t, second.Assignee)
	assert.Equal(t, "bob", *second.Assignee)

	assigned, err := env.instances.AssignStep(ctx, second.ID, AssignRequest{Assignee: "carol"})
	require.NoError(t, err)
	assert.Equal(t, "carol", *assigned.Assignee)
}

func TestInstances_Cancel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	instance := env.instantiate(t, "cancel", task("a", 1), task("b", 2, "a"))
	a := stepByKey(t, instance, "a")

	_, err := env.instances.Start(ctx, a.ID, nil)
	require.NoError(t, err)

	cancelled, err := env.instances.Cancel(ctx, instance.ID, ptr("admin"))
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)
	assert.Equal(t, map[string]models.StepStatus{
		"a": models.StepStatusSkipped,
		"b": models.StepStatusSkipped,
	}, statuses(cancelled))

	assert.Equal(t, 1, env.recorder.Count(events.InstanceCancelledEvent))
	assert.Equal(t, 2, env.recorder.Count(events.StepSkippedEvent))
	assert.Equal(t, 0, env.recorder.Count(events.InstanceCompletedEvent))

	again, err := env.instances.Cancel(ctx, instance.ID, ptr("admin"))
	require.NoError(t, err)
	assert.Equal(t, models.InstanceStatusCancelled, again.Status)
	assert.Equal(t, 1, env.recorder.Count(events.InstanceCancelledEvent))

	_, err = env.instances.Start(ctx, a.ID, nil)
	require.ErrorIs(t, err, ErrPreconditionFailed)

	_, err = env.values.SetValue(ctx, a.ID, "anything", SetValueRequest{Value: "x"})
	require.ErrorIs(t, err, ErrUnknownField)
}

func TestInstances_TransitionValidatesTarget(t *testing.T) {
	env := newTestEnv(t)

	instance := env.instantiate(t, "target", task("a", 1))

	_, err := env.instances.Transition(context.Background(), stepByKey(t, instance, "a").ID, TransitionRequest{Target: models.StepStatusBlocked})
	require.ErrorIs(t, err, ErrValidationFailed)

	_, err = env.instances.Start(context.Background(), "missing", nil)
	assert.True(t, IsNotFound(err))
}
