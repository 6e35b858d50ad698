package file

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
)

type fieldValueRepository struct {
	state *state
}

func (r *fieldValueRepository) Upsert(_ context.Context, value *models.WorkInstanceFieldValue) error {
	if _, ok := r.state.InstanceSteps[value.InstanceStepID]; !ok {
		return persistence.NewEntityError("Upsert", "instance_step", value.InstanceStepID, persistence.ErrInstanceStepNotFound)
	}

	key := fieldValueKey(value.InstanceStepID, value.FieldKey)
	stored := value.Clone()

	if existing, ok := r.state.FieldValues[key]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
		value.ID = existing.ID
		value.CreatedAt = existing.CreatedAt
	}

	r.state.FieldValues[key] = stored

	return nil
}

func (r *fieldValueRepository) Get(_ context.Context, instanceStepID, fieldKey string) (*models.WorkInstanceFieldValue, error) {
	value, ok := r.state.FieldValues[fieldValueKey(instanceStepID, fieldKey)]
	if !ok {
		return nil, persistence.NewEntityError("Get", "field_value", fieldKey, persistence.ErrFieldValueNotFound)
	}

	return value.Clone(), nil
}

func (r *fieldValueRepository) ListByStep(_ context.Context, instanceStepID string) ([]*models.WorkInstanceFieldValue, error) {
	values := make([]*models.WorkInstanceFieldValue, 0)

	for _, value := range r.state.FieldValues {
		if value.InstanceStepID == instanceStepID {
			values = append(values, value.Clone())
		}
	}

	slices.SortFunc(values, func(a, b *models.WorkInstanceFieldValue) int {
		return cmp.Compare(a.FieldKey, b.FieldKey)
	})

	return values, nil
}

type approvalRepository struct {
	state *state
}

func (r *approvalRepository) Create(_ context.Context, approval *models.Approval) error {
	if _, ok := r.state.InstanceSteps[approval.InstanceStepID]; !ok {
		return persistence.NewEntityError("Create", "instance_step", approval.InstanceStepID, persistence.ErrInstanceStepNotFound)
	}

	for _, id := range r.state.StepApprovals[approval.InstanceStepID] {
		if r.state.Approvals[id].IsPending() {
			return persistence.NewEntityError("Create", "approval", approval.ID, persistence.ErrApprovalPending)
		}
	}

	r.state.Approvals[approval.ID] = approval.Clone()
	r.state.StepApprovals[approval.InstanceStepID] = append(r.state.StepApprovals[approval.InstanceStepID], approval.ID)

	return nil
}

func (r *approvalRepository) GetByID(_ context.Context, id string) (*models.Approval, error) {
	approval, ok := r.state.Approvals[id]
	if !ok {
		return nil, persistence.NewEntityError("GetByID", "approval", id, persistence.ErrApprovalNotFound)
	}

	return approval.Clone(), nil
}

func (r *approvalRepository) Latest(_ context.Context, instanceStepID string) (*models.Approval, error) {
	ids := r.state.StepApprovals[instanceStepID]
	if len(ids) == 0 {
		return nil, persistence.NewEntityError("Latest", "approval", instanceStepID, persistence.ErrApprovalNotFound)
	}

	return r.state.Approvals[ids[len(ids)-1]].Clone(), nil
}

func (r *approvalRepository) ListByStep(_ context.Context, instanceStepID string) ([]*models.Approval, error) {
	ids := r.state.StepApprovals[instanceStepID]
	approvals := make([]*models.Approval, 0, len(ids))

	for _, id := range ids {
		approvals = append(approvals, r.state.Approvals[id].Clone())
	}

	return approvals, nil
}

func (r *approvalRepository) Decide(_ context.Context, approval *models.Approval) error {
	stored, ok := r.state.Approvals[approval.ID]
	if !ok {
		return persistence.NewEntityError("Decide", "approval", approval.ID, persistence.ErrApprovalNotFound)
	}

	if !stored.IsPending() {
		return persistence.NewEntityError("Decide", "approval", approval.ID, persistence.ErrStaleApprovalDecision)
	}

	r.state.Approvals[approval.ID] = approval.Clone()

	return nil
}

type deliverableRepository struct {
	state *state
}

func (r *deliverableRepository) CreateTemplate(_ context.Context, template *models.DeliverableTemplate) error {
	for _, existing := range r.state.Deliverables {
		if existing.TenantID == template.TenantID && existing.Code == template.Code {
			return persistence.NewEntityError("CreateTemplate", "deliverable", template.ID, persistence.ErrDeliverableCodeExists)
		}
	}

	r.state.Deliverables[template.ID] = template.Clone()

	return nil
}

func (r *deliverableRepository) GetTemplate(_ context.Context, id string) (*models.DeliverableTemplate, error) {
	template, ok := r.state.Deliverables[id]
	if !ok {
		return nil, persistence.NewEntityError("GetTemplate", "deliverable", id, persistence.ErrDeliverableTemplateNotFound)
	}

	return template.Clone(), nil
}

func (r *deliverableRepository) ListTemplates(_ context.Context, tenantID string) ([]*models.DeliverableTemplate, error) {
	templates := make([]*models.DeliverableTemplate, 0)

	for _, template := range r.state.Deliverables {
		if tenantID == "" || template.TenantID == tenantID {
			templates = append(templates, template.Clone())
		}
	}

	slices.SortFunc(templates, func(a, b *models.DeliverableTemplate) int {
		return compareCreated(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})

	return templates, nil
}

func (r *deliverableRepository) CreateVersion(_ context.Context, version *models.DeliverableTemplateVersion) error {
	if _, ok := r.state.Deliverables[version.DeliverableTemplateID]; !ok {
		return persistence.NewEntityError("CreateVersion", "deliverable", version.DeliverableTemplateID, persistence.ErrDeliverableTemplateNotFound)
	}

	for _, existing := range r.state.DeliverableVersions {
		if existing.DeliverableTemplateID == version.DeliverableTemplateID && existing.Version == version.Version {
			return persistence.NewEntityError("CreateVersion", "deliverable_version", version.ID, persistence.ErrDeliverableVersionExists)
		}
	}

	r.state.DeliverableVersions[version.ID] = version.Clone()

	return nil
}

func (r *deliverableRepository) GetVersion(_ context.Context, id string) (*models.DeliverableTemplateVersion, error) {
	version, ok := r.state.DeliverableVersions[id]
	if !ok {
		return nil, persistence.NewEntityError("GetVersion", "deliverable_version", id, persistence.ErrDeliverableVersionNotFound)
	}

	return version.Clone(), nil
}

func (r *deliverableRepository) ListVersions(_ context.Context, templateID string) ([]*models.DeliverableTemplateVersion, error) {
	versions := make([]*models.DeliverableTemplateVersion, 0)

	for _, version := range r.state.DeliverableVersions {
		if version.DeliverableTemplateID != templateID {
			continue
		}

		meta := version.Clone()
		meta.Content = nil
		versions = append(versions, meta)
	}

	slices.SortFunc(versions, func(a, b *models.DeliverableTemplateVersion) int {
		return compareCreated(a.PublishedAt, b.PublishedAt, a.ID, b.ID)
	})

	return versions, nil
}

func (r *deliverableRepository) FlagIntegrity(_ context.Context, versionID string, at time.Time) error {
	version, ok := r.state.DeliverableVersions[versionID]
	if !ok {
		return persistence.NewEntityError("FlagIntegrity", "deliverable_version", versionID, persistence.ErrDeliverableVersionNotFound)
	}

	flagged := at
	version.IntegrityFlaggedAt = &flagged

	return nil
}
