// Package persistencetest holds the behavioural checks every persistence backend must pass.
package persistencetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
	"github.com/dukex/worktemplate/pkg/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) persistence.Persistence

var errRollback = errors.New("rollback")

// Run exercises the repositories of the store returned by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("Templates", func(t *testing.T) { testTemplates(t, newStore(t)) })
	t.Run("Versions", func(t *testing.T) { testVersions(t, newStore(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("View", func(t *testing.T) { testView(t, newStore(t)) })
	t.Run("Instances", func(t *testing.T) { testInstances(t, newStore(t)) })
	t.Run("FieldValues", func(t *testing.T) { testFieldValues(t, newStore(t)) })
	t.Run("Approvals", func(t *testing.T) { testApprovals(t, newStore(t)) })
	t.Run("Deliverables", func(t *testing.T) { testDeliverables(t, newStore(t)) })
	t.Run("Overdue", func(t *testing.T) { testOverdue(t, newStore(t)) })
}

func transact(t *testing.T, p persistence.Persistence, fn func(ctx context.Context, tx persistence.Tx) error) {
	t.Helper()

	require.NoError(t, p.Transact(t.Context(), fn))
}

// seedInstance stores a template, a version with a -> b and an instance of it.
func seedInstance(t *testing.T, p persistence.Persistence) *models.WorkInstance {
	t.Helper()

	template := testutil.CreateTestTemplate()
	a := testutil.CreateTestStep("a", 1)
	testutil.CreateTestField(a, "name", models.FieldTypeString)
	version := testutil.CreateTestVersion(template, "1.0.0", a, testutil.CreateTestStep("b", 2, "a"))
	instance := testutil.CreateTestInstance(version, "project-1")

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		if err := tx.Templates().Create(ctx, template); err != nil {
			return err
		}

		if err := tx.Versions().Create(ctx, version); err != nil {
			return err
		}

		return tx.Instances().Create(ctx, instance)
	})

	return instance
}

func testTemplates(t *testing.T, p persistence.Persistence) {
	template := testutil.CreateTestTemplate(func(w *models.WorkTemplate) { w.Code = "onboarding" })

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		return tx.Templates().Create(ctx, template)
	})

	err := p.Transact(t.Context(), func(ctx context.Context, tx persistence.Tx) error {
		duplicate := testutil.CreateTestTemplate(func(w *models.WorkTemplate) { w.Code = "onboarding" })

		return tx.Templates().Create(ctx, duplicate)
	})
	require.ErrorIs(t, err, persistence.ErrTemplateCodeExists)

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		byCode, err := tx.Templates().GetByCode(ctx, template.TenantID, "onboarding")
		require.NoError(t, err)
		assert.Equal(t, template.ID, byCode.ID)

		byCode.Status = models.TemplateStatusArchived
		byCode.UpdatedAt = testutil.Now.Add(time.Hour)
		require.NoError(t, tx.Templates().Update(ctx, byCode))

		archived := models.TemplateStatusArchived
		listed, err := tx.Templates().List(ctx, persistence.ListTemplatesOptions{TenantID: template.TenantID, Status: &archived})
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, models.TemplateStatusArchived, listed[0].Status)

		_, err = tx.Templates().GetByID(ctx, "00000000-0000-0000-0000-000000000000")
		assert.True(t, persistence.IsTemplateNotFound(err))

		return nil
	})
}

func testVersions(t *testing.T, p persistence.Persistence) {
	template := testutil.CreateTestTemplate()
	version := testutil.CreateTestVersion(template, "1.0.0")

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		if err := tx.Templates().Create(ctx, template); err != nil {
			return err
		}

		return tx.Versions().Create(ctx, version)
	})

	err := p.Transact(t.Context(), func(ctx context.Context, tx persistence.Tx) error {
		return tx.Versions().Create(ctx, testutil.CreateTestVersion(template, "1.0.0"))
	})
	require.ErrorIs(t, err, persistence.ErrVersionExists)

	second := testutil.CreateTestStep("second", 2, "first")
	second.VersionID = version.ID
	first := testutil.CreateTestStep("first", 1)
	first.VersionID = version.ID

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		require.NoError(t, tx.Versions().SaveStep(ctx, second))
		require.NoError(t, tx.Versions().SaveStep(ctx, first))

		field := &models.WorkTemplateField{
			ID: uuid.New().String(), StepID: second.ID, FieldKey: "score",
			Label: "Score", Type: models.FieldTypeNumber, Validation: &models.ValidationRules{Max: float(10)},
		}

		return tx.Versions().SaveField(ctx, field)
	})

	err = p.Transact(t.Context(), func(ctx context.Context, tx persistence.Tx) error {
		clash := testutil.CreateTestStep("first", 3)
		clash.VersionID = version.ID

		return tx.Versions().SaveStep(ctx, clash)
	})
	require.ErrorIs(t, err, persistence.ErrStepKeyExists)

	snapshot := &models.VersionSnapshot{
		TemplateID: template.ID,
		VersionID:  version.ID,
		TenantID:   template.TenantID,
		Version:    "1.0.0",
		Order:      []string{"first", "second"},
		Steps:      []*models.WorkTemplateStep{first, second},
	}

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		stored, err := tx.Versions().GetForUpdate(ctx, version.ID)
		require.NoError(t, err)
		require.Len(t, stored.Steps, 2)
		assert.Equal(t, "first", stored.Steps[0].StepKey)
		assert.Equal(t, []string{"first"}, stored.Steps[1].DependsOn)
		require.Len(t, stored.Steps[1].Fields, 1)
		assert.Equal(t, "score", stored.Steps[1].Fields[0].FieldKey)

		return tx.Versions().MarkPublished(ctx, version.ID, testutil.Now, nil, snapshot)
	})

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		stored, err := tx.Versions().GetByID(ctx, version.ID)
		require.NoError(t, err)
		require.True(t, stored.IsPublished())
		require.NotNil(t, stored.ContentSnapshot)
		assert.Equal(t, []string{"first", "second"}, stored.ContentSnapshot.Order)
		assert.True(t, testutil.Now.Equal(*stored.PublishedAt))

		versions, err := tx.Versions().ListByTemplate(ctx, template.ID)
		require.NoError(t, err)
		assert.Len(t, versions, 1)

		return nil
	})
}

func float(v float64) *float64 {
	return &v
}

func testRollback(t *testing.T, p persistence.Persistence) {
	template := testutil.CreateTestTemplate()

	err := p.Transact(t.Context(), func(ctx context.Context, tx persistence.Tx) error {
		if err := tx.Templates().Create(ctx, template); err != nil {
			return err
		}

		return errRollback
	})
	require.ErrorIs(t, err, errRollback)

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		_, err := tx.Templates().GetByID(ctx, template.ID)
		assert.True(t, persistence.IsTemplateNotFound(err))

		return nil
	})
}

func testView(t *testing.T, p persistence.Persistence) {
	instance := seedInstance(t, p)
	a := instance.Steps[0]
	template := testutil.CreateTestTemplate()

	err := p.View(t.Context(), func(ctx context.Context, tx persistence.Tx) error {
		loaded, err := tx.Instances().GetByID(ctx, instance.ID)
		require.NoError(t, err)
		assert.Equal(t, instance.ID, loaded.ID)

		steps, err := tx.Instances().ListSteps(ctx, instance.ID)
		require.NoError(t, err)
		assert.Len(t, steps, len(instance.Steps))

		locked, err := tx.Instances().GetStepForUpdate(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusReady, locked.Status)

		locked.Status = models.StepStatusSkipped
		require.ErrorIs(t, tx.Instances().CompareAndSwapStep(ctx, locked, models.StepStatusReady), persistence.ErrReadOnly)

		return tx.Templates().Create(ctx, template)
	})
	require.ErrorIs(t, err, persistence.ErrReadOnly)

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		_, err := tx.Templates().GetByID(ctx, template.ID)
		assert.True(t, persistence.IsTemplateNotFound(err))

		step, err := tx.Instances().GetStep(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusReady, step.Status)

		return nil
	})
}

func testInstances(t *testing.T, p persistence.Persistence) {
	instance := seedInstance(t, p)
	a := instance.Steps[0]

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		locked, err := tx.Instances().GetStepForUpdate(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StepStatusReady, locked.Status)
		require.Len(t, locked.SnapshotFields, 1)

		locked.Status = models.StepStatusInProgress
		locked.StartedAt = &testutil.Now

		return tx.Instances().CompareAndSwapStep(ctx, locked, models.StepStatusReady)
	})

	err := p.Transact(t.Context(), func(ctx context.Context, tx persistence.Tx) error {
		stale, err := tx.Instances().GetStep(ctx, a.ID)
		require.NoError(t, err)

		stale.Status = models.StepStatusSkipped

		return tx.Instances().CompareAndSwapStep(ctx, stale, models.StepStatusReady)
	})
	require.ErrorIs(t, err, persistence.ErrStaleStepStatus)

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		steps, err := tx.Instances().ListSteps(ctx, instance.ID)
		require.NoError(t, err)
		require.Len(t, steps, 2)
		assert.Equal(t, models.StepStatusInProgress, steps[0].Status)
		assert.Equal(t, models.StepStatusBlocked, steps[1].Status)

		locked, err := tx.Instances().GetForUpdate(ctx, instance.ID)
		require.NoError(t, err)

		locked.Status = models.InstanceStatusRunning
		require.NoError(t, tx.Instances().Update(ctx, locked))

		running := models.InstanceStatusRunning
		listed, err := tx.Instances().List(ctx, persistence.ListInstancesOptions{ProjectID: "project-1", Status: &running})
		require.NoError(t, err)
		assert.Len(t, listed, 1)

		count, err := tx.Instances().CountByVersion(ctx, instance.VersionID)
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		return nil
	})

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		require.NoError(t, tx.FieldValues().Upsert(ctx, testutil.CreateTestFieldValue(a.ID, "name", models.StringValue("x"))))

		return tx.Instances().Delete(ctx, instance.ID)
	})

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		_, err := tx.Instances().GetByID(ctx, instance.ID)
		assert.True(t, persistence.IsInstanceNotFound(err))

		_, err = tx.FieldValues().Get(ctx, a.ID, "name")
		assert.True(t, persistence.IsNotFound(err))

		return nil
	})
}

func testFieldValues(t *testing.T, p persistence.Persistence) {
	instance := seedInstance(t, p)
	stepID := instance.Steps[0].ID

	first := testutil.CreateTestFieldValue(stepID, "name", models.StringValue("first"))

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		return tx.FieldValues().Upsert(ctx, first)
	})

	second := testutil.CreateTestFieldValue(stepID, "name", models.StringValue("second"))
	second.UpdatedAt = testutil.Now.Add(time.Minute)

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		return tx.FieldValues().Upsert(ctx, second)
	})

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		values, err := tx.FieldValues().ListByStep(ctx, stepID)
		require.NoError(t, err)
		require.Len(t, values, 1)
		assert.Equal(t, first.ID, values[0].ID)
		assert.Equal(t, "second", *values[0].Value.String)

		return nil
	})
}

func testApprovals(t *testing.T, p persistence.Persistence) {
	instance := seedInstance(t, p)
	stepID := instance.Steps[0].ID

	older := testutil.CreateTestApproval(stepID, testutil.Now)
	newer := testutil.CreateTestApproval(stepID, testutil.Now.Add(time.Hour))

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		require.NoError(t, tx.Approvals().Create(ctx, older))

		older.Decision = models.ApprovalDecisionRejected
		decided := testutil.Now.Add(time.Minute)
		older.DecidedAt = &decided

		require.NoError(t, tx.Approvals().Decide(ctx, older))

		return tx.Approvals().Create(ctx, newer)
	})

	err := p.Transact(t.Context(), func(ctx context.Context, tx persistence.Tx) error {
		older.Decision = models.ApprovalDecisionApproved

		return tx.Approvals().Decide(ctx, older)
	})
	require.ErrorIs(t, err, persistence.ErrStaleApprovalDecision)

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		latest, err := tx.Approvals().Latest(ctx, stepID)
		require.NoError(t, err)
		assert.Equal(t, newer.ID, latest.ID)
		assert.True(t, latest.IsPending())

		all, err := tx.Approvals().ListByStep(ctx, stepID)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, older.ID, all[0].ID)
		assert.Equal(t, models.ApprovalDecisionRejected, all[0].Decision)

		_, err = tx.Approvals().Latest(ctx, instance.Steps[1].ID)
		assert.True(t, persistence.IsApprovalNotFound(err))

		return nil
	})
}

func testDeliverables(t *testing.T, p persistence.Persistence) {
	deliverable := testutil.CreateTestDeliverable()
	version := testutil.CreateTestDeliverableVersion(deliverable.ID, "1.0.0", []byte("hello"), "sha256:abc")

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		require.NoError(t, tx.Deliverables().CreateTemplate(ctx, deliverable))

		return tx.Deliverables().CreateVersion(ctx, version)
	})

	err := p.Transact(t.Context(), func(ctx context.Context, tx persistence.Tx) error {
		return tx.Deliverables().CreateVersion(ctx, testutil.CreateTestDeliverableVersion(deliverable.ID, "1.0.0", []byte("x"), "sha256:def"))
	})
	require.ErrorIs(t, err, persistence.ErrDeliverableVersionExists)

	err = p.Transact(t.Context(), func(ctx context.Context, tx persistence.Tx) error {
		return tx.Deliverables().CreateTemplate(ctx, testutil.CreateTestDeliverable(func(d *models.DeliverableTemplate) {
			d.Code = deliverable.Code
		}))
	})
	require.ErrorIs(t, err, persistence.ErrDeliverableCodeExists)

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		stored, err := tx.Deliverables().GetVersion(ctx, version.ID)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), stored.Content)
		assert.Nil(t, stored.IntegrityFlaggedAt)

		listed, err := tx.Deliverables().ListVersions(ctx, deliverable.ID)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Empty(t, listed[0].Content)
		assert.Equal(t, int64(5), listed[0].Size)

		return tx.Deliverables().FlagIntegrity(ctx, version.ID, testutil.Now)
	})

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		stored, err := tx.Deliverables().GetVersion(ctx, version.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.IntegrityFlaggedAt)

		templates, err := tx.Deliverables().ListTemplates(ctx, deliverable.TenantID)
		require.NoError(t, err)
		assert.Len(t, templates, 1)

		return nil
	})
}

func testOverdue(t *testing.T, p persistence.Persistence) {
	instance := seedInstance(t, p)
	a := instance.Steps[0]

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		step, err := tx.Instances().GetStep(ctx, a.ID)
		require.NoError(t, err)

		deadline := testutil.Now.Add(time.Hour)
		step.Deadline = &deadline

		return tx.Instances().CompareAndSwapStep(ctx, step, models.StepStatusReady)
	})

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		due, err := tx.Instances().ListOverdueSteps(ctx, testutil.Now, 10)
		require.NoError(t, err)
		assert.Empty(t, due)

		due, err = tx.Instances().ListOverdueSteps(ctx, testutil.Now.Add(2*time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, a.ID, due[0].ID)

		return tx.Instances().MarkOverdueNotified(ctx, a.ID, testutil.Now.Add(2*time.Hour))
	})

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		due, err := tx.Instances().ListOverdueSteps(ctx, testutil.Now.Add(3*time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, due)

		err = tx.Instances().MarkOverdueNotified(ctx, a.ID, testutil.Now.Add(3*time.Hour))
		require.ErrorIs(t, err, persistence.ErrStaleStepStatus)

		err = tx.Instances().MarkOverdueNotified(ctx, uuid.NewString(), testutil.Now)
		require.ErrorIs(t, err, persistence.ErrInstanceStepNotFound)

		return nil
	})

	b := instance.Steps[1]

	transact(t, p, func(ctx context.Context, tx persistence.Tx) error {
		step, err := tx.Instances().GetStep(ctx, b.ID)
		require.NoError(t, err)

		deadline := testutil.Now.Add(time.Hour)
		step.Deadline = &deadline

		require.NoError(t, tx.Instances().CompareAndSwapStep(ctx, step, models.StepStatusBlocked))

		due, err := tx.Instances().ListOverdueSteps(ctx, testutil.Now.Add(2*time.Hour), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, b.ID, due[0].ID)

		step.Status = models.StepStatusSkipped
		require.NoError(t, tx.Instances().CompareAndSwapStep(ctx, step, models.StepStatusBlocked))

		err = tx.Instances().MarkOverdueNotified(ctx, b.ID, testutil.Now.Add(2*time.Hour))
		require.ErrorIs(t, err, persistence.ErrStaleStepStatus)

		return nil
	})
}
