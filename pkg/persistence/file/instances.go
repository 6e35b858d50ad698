package file

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
)

type instanceRepository struct {
	state *state
}

func (r *instanceRepository) Create(_ context.Context, instance *models.WorkInstance) error {
	stored := instance.Clone()

	for _, step := range stored.Steps {
		r.state.InstanceSteps[step.ID] = step
	}

	stored.Steps = nil
	r.state.Instances[instance.ID] = stored

	return nil
}

func (r *instanceRepository) GetByID(_ context.Context, id string) (*models.WorkInstance, error) {
	instance, ok := r.state.Instances[id]
	if !ok {
		return nil, persistence.NewEntityError("GetByID", "instance", id, persistence.ErrInstanceNotFound)
	}

	return instance.Clone(), nil
}

func (r *instanceRepository) GetForUpdate(ctx context.Context, id string) (*models.WorkInstance, error) {
	return r.GetByID(ctx, id)
}

func (r *instanceRepository) List(_ context.Context, opts persistence.ListInstancesOptions) ([]*models.WorkInstance, error) {
	instances := make([]*models.WorkInstance, 0)

	for _, instance := range r.state.Instances {
		if opts.TenantID != "" && instance.TenantID != opts.TenantID {
			continue
		}

		if opts.ProjectID != "" && instance.ProjectID != opts.ProjectID {
			continue
		}

		if opts.VersionID != "" && instance.VersionID != opts.VersionID {
			continue
		}

		if opts.Status != nil && instance.Status != *opts.Status {
			continue
		}

		instances = append(instances, instance.Clone())
	}

	slices.SortFunc(instances, func(a, b *models.WorkInstance) int {
		return compareCreated(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})

	return paginate(instances, opts.Limit, opts.Offset), nil
}

func (r *instanceRepository) Update(_ context.Context, instance *models.WorkInstance) error {
	if _, ok := r.state.Instances[instance.ID]; !ok {
		return persistence.NewEntityError("Update", "instance", instance.ID, persistence.ErrInstanceNotFound)
	}

	stored := instance.Clone()
	stored.Steps = nil
	r.state.Instances[instance.ID] = stored

	return nil
}

func (r *instanceRepository) Delete(_ context.Context, id string) error {
	if _, ok := r.state.Instances[id]; !ok {
		return persistence.NewEntityError("Delete", "instance", id, persistence.ErrInstanceNotFound)
	}

	for stepID, step := range r.state.InstanceSteps {
		if step.InstanceID != id {
			continue
		}

		for key, value := range r.state.FieldValues {
			if value.InstanceStepID == stepID {
				delete(r.state.FieldValues, key)
			}
		}

		for _, approvalID := range r.state.StepApprovals[stepID] {
			delete(r.state.Approvals, approvalID)
		}

		delete(r.state.StepApprovals, stepID)
		delete(r.state.InstanceSteps, stepID)
	}

	delete(r.state.Instances, id)

	return nil
}

func (r *instanceRepository) CountByVersion(_ context.Context, versionID string) (int, error) {
	count := 0

	for _, instance := range r.state.Instances {
		if instance.VersionID == versionID {
			count++
		}
	}

	return count, nil
}

func (r *instanceRepository) ListSteps(_ context.Context, instanceID string) ([]*models.WorkInstanceStep, error) {
	steps := make([]*models.WorkInstanceStep, 0)

	for _, step := range r.state.InstanceSteps {
		if step.InstanceID == instanceID {
			steps = append(steps, step.Clone())
		}
	}

	slices.SortFunc(steps, func(a, b *models.WorkInstanceStep) int {
		if c := cmp.Compare(a.StepOrder, b.StepOrder); c != 0 {
			return c
		}

		return cmp.Compare(a.StepKey, b.StepKey)
	})

	return steps, nil
}

func (r *instanceRepository) GetStep(_ context.Context, stepID string) (*models.WorkInstanceStep, error) {
	step, ok := r.state.InstanceSteps[stepID]
	if !ok {
		return nil, persistence.NewEntityError("GetStep", "instance_step", stepID, persistence.ErrInstanceStepNotFound)
	}

	return step.Clone(), nil
}

func (r *instanceRepository) GetStepForUpdate(ctx context.Context, stepID string) (*models.WorkInstanceStep, error) {
	return r.GetStep(ctx, stepID)
}

func (r *instanceRepository) GetStepForShare(ctx context.Context, stepID string) (*models.WorkInstanceStep, error) {
	return r.GetStep(ctx, stepID)
}

func (r *instanceRepository) CompareAndSwapStep(_ context.Context, step *models.WorkInstanceStep, expected models.StepStatus) error {
	stored, ok := r.state.InstanceSteps[step.ID]
	if !ok {
		return persistence.NewEntityError("CompareAndSwapStep", "instance_step", step.ID, persistence.ErrInstanceStepNotFound)
	}

	if stored.Status != expected {
		return persistence.NewEntityError("CompareAndSwapStep", "instance_step", step.ID, persistence.ErrStaleStepStatus)
	}

	updated := step.Clone()
	// Definition columns are immutable after instantiation.
	updated.SnapshotFields = stored.SnapshotFields
	updated.DependsOn = stored.DependsOn
	r.state.InstanceSteps[step.ID] = updated

	return nil
}

func (r *instanceRepository) ListOverdueSteps(_ context.Context, now time.Time, limit int) ([]*models.WorkInstanceStep, error) {
	steps := make([]*models.WorkInstanceStep, 0)

	for _, step := range r.state.InstanceSteps {
		if step.OverdueNotifiedAt != nil || !step.IsOverdue(now) {
			continue
		}

		instance, ok := r.state.Instances[step.InstanceID]
		if !ok || instance.Status.IsTerminal() {
			continue
		}

		steps = append(steps, step.Clone())
	}

	slices.SortFunc(steps, func(a, b *models.WorkInstanceStep) int {
		return compareCreated(*a.Deadline, *b.Deadline, a.ID, b.ID)
	})

	return paginate(steps, limit, 0), nil
}

func (r *instanceRepository) MarkOverdueNotified(_ context.Context, stepID string, at time.Time) error {
	step, ok := r.state.InstanceSteps[stepID]
	if !ok {
		return persistence.NewEntityError("MarkOverdueNotified", "instance_step", stepID, persistence.ErrInstanceStepNotFound)
	}

	if step.OverdueNotifiedAt != nil || step.Status.IsTerminal() {
		return persistence.NewEntityError("MarkOverdueNotified", "instance_step", stepID, persistence.ErrStaleStepStatus)
	}

	notified := at
	step.OverdueNotifiedAt = &notified

	return nil
}
