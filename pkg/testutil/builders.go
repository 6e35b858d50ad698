// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/google/uuid"
)

// Now is the fixed timestamp every builder stamps on its records.
var Now = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

// CreateTestTemplate creates a draft WorkTemplate with default values that can be overridden.
func CreateTestTemplate(overrides ...func(*models.WorkTemplate)) *models.WorkTemplate {
	template := &models.WorkTemplate{
		ID:          uuid.New().String(),
		TenantID:    "tenant-test",
		Code:        "tpl-" + uuid.New().String()[:8],
		Name:        "Test Template",
		Description: "A template for testing",
		Status:      models.TemplateStatusDraft,
		CreatedAt:   Now,
		UpdatedAt:   Now,
	}

	for _, override := range overrides {
		override(template)
	}

	return template
}

// CreateTestVersion creates a draft version of the template.
func CreateTestVersion(template *models.WorkTemplate, version string, steps ...*models.WorkTemplateStep) *models.WorkTemplateVersion {
	v := &models.WorkTemplateVersion{
		ID:         uuid.New().String(),
		TemplateID: template.ID,
		TenantID:   template.TenantID,
		Version:    version,
		CreatedAt:  Now,
		UpdatedAt:  Now,
		Steps:      []*models.WorkTemplateStep{},
	}

	for _, step := range steps {
		step.VersionID = v.ID
		v.Steps = append(v.Steps, step)
	}

	return v
}

// CreateTestStep creates a task step definition.
func CreateTestStep(key string, order int, dependsOn ...string) *models.WorkTemplateStep {
	if dependsOn == nil {
		dependsOn = []string{}
	}

	return &models.WorkTemplateStep{
		ID:        uuid.New().String(),
		StepKey:   key,
		Name:      "Step " + key,
		Type:      models.StepTypeTask,
		StepOrder: order,
		DependsOn: dependsOn,
		Fields:    []*models.WorkTemplateField{},
		CreatedAt: Now,
		UpdatedAt: Now,
	}
}

// CreateTestField creates a field definition attached to the step.
func CreateTestField(step *models.WorkTemplateStep, key string, fieldType models.FieldType) *models.WorkTemplateField {
	field := &models.WorkTemplateField{
		ID:       uuid.New().String(),
		StepID:   step.ID,
		FieldKey: key,
		Label:    key,
		Type:     fieldType,
		Position: len(step.Fields) + 1,
	}

	step.Fields = append(step.Fields, field)

	return field
}

// CreateTestInstance creates a pending instance of the version with one step per step definition.
// Root steps are ready, the rest blocked.
func CreateTestInstance(version *models.WorkTemplateVersion, projectID string) *models.WorkInstance {
	instance := &models.WorkInstance{
		ID:         uuid.New().String(),
		TenantID:   version.TenantID,
		ProjectID:  projectID,
		TemplateID: version.TemplateID,
		VersionID:  version.ID,
		Status:     models.InstanceStatusPending,
		CreatedAt:  Now,
		UpdatedAt:  Now,
	}

	for _, definition := range version.Steps {
		status := models.StepStatusBlocked
		if len(definition.DependsOn) == 0 {
			status = models.StepStatusReady
		}

		instance.Steps = append(instance.Steps, &models.WorkInstanceStep{
			ID:             uuid.New().String(),
			InstanceID:     instance.ID,
			StepKey:        definition.StepKey,
			Name:           definition.Name,
			Type:           definition.Type,
			StepOrder:      definition.StepOrder,
			DependsOn:      append([]string{}, definition.DependsOn...),
			SnapshotFields: models.CloneFields(definition.Fields),
			Status:         status,
			CreatedAt:      Now,
			UpdatedAt:      Now,
		})
	}

	return instance
}

// CreateTestApproval creates a pending approval on the step.
func CreateTestApproval(stepID string, requestedAt time.Time) *models.Approval {
	return &models.Approval{
		ID:             uuid.New().String(),
		InstanceStepID: stepID,
		Decision:       models.ApprovalDecisionPending,
		RequestedAt:    requestedAt,
	}
}

// CreateTestFieldValue creates a stored value for the step.
func CreateTestFieldValue(stepID, fieldKey string, value models.FieldValue) *models.WorkInstanceFieldValue {
	return &models.WorkInstanceFieldValue{
		ID:             uuid.New().String(),
		InstanceStepID: stepID,
		FieldKey:       fieldKey,
		Value:          value,
		CreatedAt:      Now,
		UpdatedAt:      Now,
	}
}

// CreateTestDeliverable creates a deliverable template.
func CreateTestDeliverable(overrides ...func(*models.DeliverableTemplate)) *models.DeliverableTemplate {
	deliverable := &models.DeliverableTemplate{
		ID:        uuid.New().String(),
		TenantID:  "tenant-test",
		Code:      "dlv-" + uuid.New().String()[:8],
		Name:      "Test Deliverable",
		CreatedAt: Now,
	}

	for _, override := range overrides {
		override(deliverable)
	}

	return deliverable
}

// CreateTestDeliverableVersion creates a version carrying the given content and checksum.
func CreateTestDeliverableVersion(deliverableID, version string, content []byte, checksum string) *models.DeliverableTemplateVersion {
	return &models.DeliverableTemplateVersion{
		ID:                    uuid.New().String(),
		DeliverableTemplateID: deliverableID,
		Version:               version,
		Content:               content,
		ContentType:           "text/plain",
		Checksum:              checksum,
		Size:                  int64(len(content)),
		PublishedAt:           Now,
	}
}
