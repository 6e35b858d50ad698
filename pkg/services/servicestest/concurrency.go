// Package servicestest races service operations against a persistence backend.
package servicestest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/worktemplate/pkg/events"
	"github.com/dukex/worktemplate/pkg/mocks"
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
	"github.com/dukex/worktemplate/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Workers is how many goroutines race for the same transition.
const Workers = 8

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) persistence.Persistence

var now = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type env struct {
	recorder  *mocks.EventRecorder
	templates *services.Templates
	instances *services.Instances
}

func newEnv(p persistence.Persistence) *env {
	recorder := &mocks.EventRecorder{}
	opts := []services.Option{
		services.WithClock(func() time.Time { return now }),
		services.WithPublisher(recorder),
	}

	return &env{
		recorder:  recorder,
		templates: services.NewTemplates(p, opts...),
		instances: services.NewInstances(p, opts...),
	}
}

func task(key string, order int, dependsOn ...string) services.StepInput {
	return services.StepInput{
		StepKey:   key,
		Name:      "Step " + key,
		Type:      models.StepTypeTask,
		StepOrder: order,
		DependsOn: dependsOn,
	}
}

func (e *env) draft(t *testing.T, code string, steps ...services.StepInput) *models.WorkTemplateVersion {
	t.Helper()

	ctx := context.Background()

	template, err := e.templates.CreateTemplate(ctx, services.CreateTemplateRequest{TenantID: "tenant-1", Code: code, Name: "Template " + code})
	require.NoError(t, err)

	version, err := e.templates.CreateDraftVersion(ctx, template.ID, services.CreateVersionRequest{Version: "1.0.0"})
	require.NoError(t, err)

	for _, step := range steps {
		_, err := e.templates.AddStep(ctx, version.ID, step)
		require.NoError(t, err)
	}

	return version
}

func (e *env) instantiate(t *testing.T, code string, steps ...services.StepInput) map[string]*models.WorkInstanceStep {
	t.Helper()

	ctx := context.Background()
	version := e.draft(t, code, steps...)

	_, err := e.templates.Publish(ctx, version.ID, nil)
	require.NoError(t, err)

	instance, err := e.instances.Instantiate(ctx, version.ID, services.InstantiateRequest{ProjectID: "project-1"})
	require.NoError(t, err)

	byKey := make(map[string]*models.WorkInstanceStep, len(instance.Steps))
	for _, step := range instance.Steps {
		byKey[step.StepKey] = step
	}

	return byKey
}

// race runs fn from Workers goroutines at once and returns their errors.
func race(fn func() error) []error {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, Workers)
	)

	for i := range Workers {
		wg.Add(1)

		go func() {
			defer wg.Done()
			<-start

			errs[i] = fn()
		}()
	}

	close(start)
	wg.Wait()

	return errs
}

// winners counts nil errors and requires every other error to match loser.
func winners(t *testing.T, errs []error, loser error) int {
	t.Helper()

	won := 0

	for _, err := range errs {
		if err == nil {
			won++

			continue
		}

		require.ErrorIs(t, err, loser)
	}

	return won
}

// RunConcurrency races starts, publishes and join completions on stores from newStore.
func RunConcurrency(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("StartHasOneWinner", func(t *testing.T) { testConcurrentStart(t, newEnv(newStore(t))) })
	t.Run("PublishHasOneWinner", func(t *testing.T) { testConcurrentPublish(t, newEnv(newStore(t))) })
	t.Run("JoinBecomesReadyOnce", func(t *testing.T) { testConcurrentJoin(t, newEnv(newStore(t))) })
}

func testConcurrentStart(t *testing.T, e *env) {
	ctx := context.Background()
	steps := e.instantiate(t, "race-start", task("a", 1), task("b", 2, "a"))

	errs := race(func() error {
		_, err := e.instances.Start(ctx, steps["a"].ID, nil)

		return err
	})

	assert.Equal(t, 1, winners(t, errs, services.ErrPreconditionFailed))
	assert.Equal(t, 1, e.recorder.Count(events.StepStartedEvent))

	errs = race(func() error {
		_, err := e.instances.Start(ctx, steps["b"].ID, nil)

		return err
	})

	assert.Equal(t, 0, winners(t, errs, services.ErrPreconditionFailed))

	step, err := e.instances.GetStep(ctx, steps["a"].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusInProgress, step.Status)
}

func testConcurrentPublish(t *testing.T, e *env) {
	ctx := context.Background()
	version := e.draft(t, "race-publish", task("a", 1), task("b", 2, "a"))

	var (
		mu        sync.Mutex
		published *models.WorkTemplateVersion
	)

	errs := race(func() error {
		v, err := e.templates.Publish(ctx, version.ID, nil)
		if err == nil {
			mu.Lock()
			published = v
			mu.Unlock()
		}

		return err
	})

	require.Equal(t, 1, winners(t, errs, services.ErrAlreadyPublished))
	require.NotNil(t, published)
	assert.Equal(t, 1, e.recorder.Count(events.TemplateVersionPublishedEvent))

	stored, err := e.templates.GetVersion(ctx, version.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PublishedAt)
	assert.True(t, stored.PublishedAt.Equal(*published.PublishedAt))
	require.NotNil(t, stored.ContentSnapshot)
	assert.Equal(t, []string{"a", "b"}, stored.ContentSnapshot.Order)
}

func testConcurrentJoin(t *testing.T, e *env) {
	ctx := context.Background()
	steps := e.instantiate(t, "race-join",
		task("a", 1),
		task("b", 2, "a"),
		task("c", 3, "a"),
		task("d", 4, "b", "c"),
	)

	_, err := e.instances.Start(ctx, steps["a"].ID, nil)
	require.NoError(t, err)
	_, err = e.instances.Complete(ctx, steps["a"].ID, nil)
	require.NoError(t, err)

	for _, key := range []string{"b", "c"} {
		_, err := e.instances.Start(ctx, steps[key].ID, nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup

	start := make(chan struct{})
	errs := make([]error, 2)

	for i, key := range []string{"b", "c"} {
		wg.Add(1)

		go func() {
			defer wg.Done()
			<-start

			_, errs[i] = e.instances.Complete(ctx, steps[key].ID, nil)
		}()
	}

	close(start)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	d, err := e.instances.GetStep(ctx, steps["d"].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepStatusReady, d.Status)

	ready := 0

	for _, recorded := range e.recorder.Events() {
		if event, ok := recorded.Event.(events.StepReady); ok && event.StepKey == "d" {
			ready++
		}
	}

	assert.Equal(t, 1, ready)
}
