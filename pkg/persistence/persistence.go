// Package persistence provides the data storage abstraction for templates, instances and deliverables.
package persistence

import (
	"context"
	"time"

	"github.com/dukex/worktemplate/pkg/models"
)

// Persistence is a transactional store. Every state-mutating operation runs
// inside a single Transact call and commits all-or-nothing.
type Persistence interface {
	Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// View runs fn against a consistent read-only view. Writes fail with ErrReadOnly.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Tx exposes the repositories bound to one unit of work.
type Tx interface {
	Templates() TemplateRepository
	Versions() VersionRepository
	Instances() InstanceRepository
	FieldValues() FieldValueRepository
	Approvals() ApprovalRepository
	Deliverables() DeliverableRepository
}

// ListTemplatesOptions filters template listings.
type ListTemplatesOptions struct {
	TenantID string
	Status   *models.TemplateStatus
	Limit    int
	Offset   int
}

type TemplateRepository interface {
	Create(ctx context.Context, template *models.WorkTemplate) error
	GetByID(ctx context.Context, id string) (*models.WorkTemplate, error)
	GetByCode(ctx context.Context, tenantID, code string) (*models.WorkTemplate, error)
	List(ctx context.Context, opts ListTemplatesOptions) ([]*models.WorkTemplate, error)
	Update(ctx context.Context, template *models.WorkTemplate) error
	Delete(ctx context.Context, id string) error
}

// VersionRepository stores versions together with their steps and fields.
type VersionRepository interface {
	Create(ctx context.Context, version *models.WorkTemplateVersion) error
	// GetByID loads the version with steps ordered by step_order and fields by position.
	GetByID(ctx context.Context, id string) (*models.WorkTemplateVersion, error)
	// GetForUpdate is GetByID holding an exclusive lock on the version row until the unit of work ends.
	GetForUpdate(ctx context.Context, id string) (*models.WorkTemplateVersion, error)
	ListByTemplate(ctx context.Context, templateID string) ([]*models.WorkTemplateVersion, error)
	Touch(ctx context.Context, id string, at time.Time) error
	MarkPublished(ctx context.Context, id string, publishedAt time.Time, publishedBy *string, snapshot *models.VersionSnapshot) error
	Delete(ctx context.Context, id string) error

	SaveStep(ctx context.Context, step *models.WorkTemplateStep) error
	DeleteStep(ctx context.Context, stepID string) error
	SaveField(ctx context.Context, field *models.WorkTemplateField) error
	DeleteField(ctx context.Context, fieldID string) error
}

// ListInstancesOptions filters instance listings.
type ListInstancesOptions struct {
	TenantID  string
	ProjectID string
	VersionID string
	Status    *models.InstanceStatus
	Limit     int
	Offset    int
}

type InstanceRepository interface {
	Create(ctx context.Context, instance *models.WorkInstance) error
	GetByID(ctx context.Context, id string) (*models.WorkInstance, error)
	// GetForUpdate locks the instance row, serializing step transitions of one instance.
	GetForUpdate(ctx context.Context, id string) (*models.WorkInstance, error)
	List(ctx context.Context, opts ListInstancesOptions) ([]*models.WorkInstance, error)
	Update(ctx context.Context, instance *models.WorkInstance) error
	Delete(ctx context.Context, id string) error
	CountByVersion(ctx context.Context, versionID string) (int, error)

	ListSteps(ctx context.Context, instanceID string) ([]*models.WorkInstanceStep, error)
	GetStep(ctx context.Context, stepID string) (*models.WorkInstanceStep, error)
	// GetStepForUpdate locks the step row exclusively.
	GetStepForUpdate(ctx context.Context, stepID string) (*models.WorkInstanceStep, error)
	// GetStepForShare locks the step row against concurrent transitions while allowing other shared holders.
	GetStepForShare(ctx context.Context, stepID string) (*models.WorkInstanceStep, error)
	// CompareAndSwapStep persists the step only if its stored status still equals expected.
	// It returns ErrStaleStepStatus when another writer got there first.
	CompareAndSwapStep(ctx context.Context, step *models.WorkInstanceStep, expected models.StepStatus) error
	ListOverdueSteps(ctx context.Context, now time.Time, limit int) ([]*models.WorkInstanceStep, error)
	// MarkOverdueNotified records the notification of an open, not yet notified step.
	// It returns ErrStaleStepStatus when the step finished or was notified meanwhile.
	MarkOverdueNotified(ctx context.Context, stepID string, at time.Time) error
}

type FieldValueRepository interface {
	// Upsert writes one row per (instance step, field key).
	Upsert(ctx context.Context, value *models.WorkInstanceFieldValue) error
	Get(ctx context.Context, instanceStepID, fieldKey string) (*models.WorkInstanceFieldValue, error)
	ListByStep(ctx context.Context, instanceStepID string) ([]*models.WorkInstanceFieldValue, error)
}

type ApprovalRepository interface {
	Create(ctx context.Context, approval *models.Approval) error
	GetByID(ctx context.Context, id string) (*models.Approval, error)
	// Latest returns the most recently requested approval of the step.
	Latest(ctx context.Context, instanceStepID string) (*models.Approval, error)
	ListByStep(ctx context.Context, instanceStepID string) ([]*models.Approval, error)
	// Decide records a decision only while the stored decision is still pending.
	// It returns ErrStaleApprovalDecision otherwise.
	Decide(ctx context.Context, approval *models.Approval) error
}

type DeliverableRepository interface {
	CreateTemplate(ctx context.Context, template *models.DeliverableTemplate) error
	GetTemplate(ctx context.Context, id string) (*models.DeliverableTemplate, error)
	ListTemplates(ctx context.Context, tenantID string) ([]*models.DeliverableTemplate, error)

	CreateVersion(ctx context.Context, version *models.DeliverableTemplateVersion) error
	// GetVersion returns the version including its content.
	GetVersion(ctx context.Context, id string) (*models.DeliverableTemplateVersion, error)
	// ListVersions returns version metadata without content.
	ListVersions(ctx context.Context, templateID string) ([]*models.DeliverableTemplateVersion, error)
	FlagIntegrity(ctx context.Context, versionID string, at time.Time) error
}
