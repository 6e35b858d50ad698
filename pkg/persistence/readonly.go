package persistence

import (
	"context"
	"time"

	"github.com/dukex/worktemplate/pkg/models"
)

// ReadOnly wraps tx so that every repository write fails with ErrReadOnly.
func ReadOnly(tx Tx) Tx {
	return readOnlyTx{tx: tx}
}

func readOnlyError(op, entity string) error {
	return NewEntityError(op, entity, "", ErrReadOnly)
}

type readOnlyTx struct {
	tx Tx
}

func (r readOnlyTx) Templates() TemplateRepository {
	return readOnlyTemplates{r.tx.Templates()}
}

func (r readOnlyTx) Versions() VersionRepository {
	return readOnlyVersions{r.tx.Versions()}
}

func (r readOnlyTx) Instances() InstanceRepository {
	return readOnlyInstances{r.tx.Instances()}
}

func (r readOnlyTx) FieldValues() FieldValueRepository {
	return readOnlyFieldValues{r.tx.FieldValues()}
}

func (r readOnlyTx) Approvals() ApprovalRepository {
	return readOnlyApprovals{r.tx.Approvals()}
}

func (r readOnlyTx) Deliverables() DeliverableRepository {
	return readOnlyDeliverables{r.tx.Deliverables()}
}

type readOnlyTemplates struct{ TemplateRepository }

func (readOnlyTemplates) Create(context.Context, *models.WorkTemplate) error {
	return readOnlyError("Create", "template")
}

func (readOnlyTemplates) Update(context.Context, *models.WorkTemplate) error {
	return readOnlyError("Update", "template")
}

func (readOnlyTemplates) Delete(context.Context, string) error {
	return readOnlyError("Delete", "template")
}

type readOnlyVersions struct{ VersionRepository }

// GetForUpdate takes no lock in a view.
func (r readOnlyVersions) GetForUpdate(ctx context.Context, id string) (*models.WorkTemplateVersion, error) {
	return r.GetByID(ctx, id)
}

func (readOnlyVersions) Create(context.Context, *models.WorkTemplateVersion) error {
	return readOnlyError("Create", "version")
}

func (readOnlyVersions) Touch(context.Context, string, time.Time) error {
	return readOnlyError("Touch", "version")
}

func (readOnlyVersions) MarkPublished(context.Context, string, time.Time, *string, *models.VersionSnapshot) error {
	return readOnlyError("MarkPublished", "version")
}

func (readOnlyVersions) Delete(context.Context, string) error {
	return readOnlyError("Delete", "version")
}

func (readOnlyVersions) SaveStep(context.Context, *models.WorkTemplateStep) error {
	return readOnlyError("SaveStep", "step")
}

func (readOnlyVersions) DeleteStep(context.Context, string) error {
	return readOnlyError("DeleteStep", "step")
}

func (readOnlyVersions) SaveField(context.Context, *models.WorkTemplateField) error {
	return readOnlyError("SaveField", "field")
}

func (readOnlyVersions) DeleteField(context.Context, string) error {
	return readOnlyError("DeleteField", "field")
}

type readOnlyInstances struct{ InstanceRepository }

func (r readOnlyInstances) GetForUpdate(ctx context.Context, id string) (*models.WorkInstance, error) {
	return r.GetByID(ctx, id)
}

func (r readOnlyInstances) GetStepForUpdate(ctx context.Context, stepID string) (*models.WorkInstanceStep, error) {
	return r.GetStep(ctx, stepID)
}

func (r readOnlyInstances) GetStepForShare(ctx context.Context, stepID string) (*models.WorkInstanceStep, error) {
	return r.GetStep(ctx, stepID)
}

func (readOnlyInstances) Create(context.Context, *models.WorkInstance) error {
	return readOnlyError("Create", "instance")
}

func (readOnlyInstances) Update(context.Context, *models.WorkInstance) error {
	return readOnlyError("Update", "instance")
}

func (readOnlyInstances) Delete(context.Context, string) error {
	return readOnlyError("Delete", "instance")
}

func (readOnlyInstances) CompareAndSwapStep(context.Context, *models.WorkInstanceStep, models.StepStatus) error {
	return readOnlyError("CompareAndSwapStep", "instance_step")
}

func (readOnlyInstances) MarkOverdueNotified(context.Context, string, time.Time) error {
	return readOnlyError("MarkOverdueNotified", "instance_step")
}

type readOnlyFieldValues struct{ FieldValueRepository }

func (readOnlyFieldValues) Upsert(context.Context, *models.WorkInstanceFieldValue) error {
	return readOnlyError("Upsert", "field_value")
}

type readOnlyApprovals struct{ ApprovalRepository }

func (readOnlyApprovals) Create(context.Context, *models.Approval) error {
	return readOnlyError("Create", "approval")
}

func (readOnlyApprovals) Decide(context.Context, *models.Approval) error {
	return readOnlyError("Decide", "approval")
}

type readOnlyDeliverables struct{ DeliverableRepository }

func (readOnlyDeliverables) CreateTemplate(context.Context, *models.DeliverableTemplate) error {
	return readOnlyError("CreateTemplate", "deliverable")
}

func (readOnlyDeliverables) CreateVersion(context.Context, *models.DeliverableTemplateVersion) error {
	return readOnlyError("CreateVersion", "deliverable_version")
}

func (readOnlyDeliverables) FlagIntegrity(context.Context, string, time.Time) error {
	return readOnlyError("FlagIntegrity", "deliverable_version")
}
