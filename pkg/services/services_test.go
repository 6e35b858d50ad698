package services

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/worktemplate/pkg/mocks"
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
	"github.com/dukex/worktemplate/pkg/persistence/file"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	persistence  persistence.Persistence
	recorder     *mocks.EventRecorder
	templates    *Templates
	instances    *Instances
	values       *FieldValues
	approvals    *Approvals
	deliverables *Deliverables
}

func newTestEnvWith(t *testing.T, p persistence.Persistence) *testEnv {
	t.Helper()

	recorder := &mocks.EventRecorder{}
	opts := []Option{
		WithClock(func() time.Time { return testNow }),
		WithPublisher(recorder),
	}

	return &testEnv{
		persistence:  p,
		recorder:     recorder,
		templates:    NewTemplates(p, opts...),
		instances:    NewInstances(p, opts...),
		values:       NewFieldValues(p, opts...),
		approvals:    NewApprovals(p, opts...),
		deliverables: NewDeliverables(p, opts...),
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	return newTestEnvWith(t, file.NewMemoryPersistence())
}

func ptr[T any](v T) *T {
	return &v
}

func task(key string, order int, dependsOn ...string) StepInput {
	return StepInput{
		StepKey:   key,
		Name:      "Step " + key,
		Type:      models.StepTypeTask,
		StepOrder: order,
		DependsOn: dependsOn,
	}
}

func textField(key string, required bool) FieldInput {
	return FieldInput{FieldKey: key, Label: key, Type: models.FieldTypeString, Required: required}
}

// draft creates a template with one draft version holding the given steps.
func (e *testEnv) draft(t *testing.T, code string, steps ...StepInput) *models.WorkTemplateVersion {
	t.Helper()

	ctx := context.Background()

	template, err := e.templates.CreateTemplate(ctx, CreateTemplateRequest{TenantID: "tenant-1", Code: code, Name: "Template " + code})
	require.NoError(t, err)

	version, err := e.templates.CreateDraftVersion(ctx, template.ID, CreateVersionRequest{Version: "1.0.0"})
	require.NoError(t, err)

	for _, step := range steps {
		_, err := e.templates.AddStep(ctx, version.ID, step)
		require.NoError(t, err)
	}

	return version
}

// published creates and publishes a version holding the given steps.
func (e *testEnv) published(t *testing.T, code string, steps ...StepInput) *models.WorkTemplateVersion {
	t.Helper()

	version := e.draft(t, code, steps...)

	published, err := e.templates.Publish(context.Background(), version.ID, ptr("publisher"))
	require.NoError(t, err)

	return published
}

// instantiate publishes the steps and creates an instance from them.
func (e *testEnv) instantiate(t *testing.T, code string, steps ...StepInput) *models.WorkInstance {
	t.Helper()

	version := e.published(t, code, steps...)

	instance, err := e.instances.Instantiate(context.Background(), version.ID, InstantiateRequest{ProjectID: "project-1", CreatedBy: ptr("creator")})
	require.NoError(t, err)

	return instance
}

func stepByKey(t *testing.T, instance *models.WorkInstance, key string) *models.WorkInstanceStep {
	t.Helper()

	for _, step := range instance.Steps {
		if step.StepKey == key {
			return step
		}
	}

	t.Fatalf("step %s not found", key)

	return nil
}

func (e *testEnv) reload(t *testing.T, instanceID string) *models.WorkInstance {
	t.Helper()

	instance, err := e.instances.GetInstance(context.Background(), instanceID)
	require.NoError(t, err)

	return instance
}

func statuses(instance *models.WorkInstance) map[string]models.StepStatus {
	result := make(map[string]models.StepStatus, len(instance.Steps))
	for _, step := range instance.Steps {
		result[step.StepKey] = step.Status
	}

	return result
}
