// Package models provides the core domain models for work templates, instances and deliverables.
package models

import (
	"slices"
	"time"
)

type TemplateStatus string

const (
	TemplateStatusDraft     TemplateStatus = "draft"
	TemplateStatusPublished TemplateStatus = "published"
	TemplateStatusArchived  TemplateStatus = "archived"
)

// StepType is the fixed vocabulary of step kinds a template can declare.
type StepType string

const (
	StepTypeTask     StepType = "task"
	StepTypeApproval StepType = "approval"
	StepTypeForm     StepType = "form"
	StepTypeExternal StepType = "external"
)

// Valid reports whether the step type belongs to the supported vocabulary.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeTask, StepTypeApproval, StepTypeForm, StepTypeExternal:
		return true
	default:
		return false
	}
}

// WorkTemplate is a tenant-scoped, reusable process definition.
type WorkTemplate struct {
	ID          string         `json:"id"`
	TenantID    string         `json:"tenant_id"             validate:"required"`
	Code        string         `json:"code"                  validate:"required,max=100"`
	Name        string         `json:"name"                  validate:"required,max=255"`
	Description string         `json:"description"`
	Status      TemplateStatus `json:"status"`
	CreatedBy   *string        `json:"created_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

func (t *WorkTemplate) Clone() *WorkTemplate {
	if t == nil {
		return nil
	}

	clone := *t
	clone.CreatedBy = copyStringPointer(t.CreatedBy)

	return &clone
}

// WorkTemplateVersion is a semantically versioned revision of a template.
// Once PublishedAt is set the version, its steps and its fields are frozen.
type WorkTemplateVersion struct {
	ID              string              `json:"id"`
	TemplateID      string              `json:"template_id"`
	TenantID        string              `json:"tenant_id"`
	Version         string              `json:"version"`
	Notes           string              `json:"notes,omitempty"`
	CreatedBy       *string             `json:"created_by,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	PublishedAt     *time.Time          `json:"published_at,omitempty"`
	PublishedBy     *string             `json:"published_by,omitempty"`
	ContentSnapshot *VersionSnapshot    `json:"content_snapshot,omitempty"`
	Steps           []*WorkTemplateStep `json:"steps"`
}

// VersionSnapshot is the denormalized content written at publish time.
type VersionSnapshot struct {
	TemplateID  string              `json:"template_id"`
	VersionID   string              `json:"version_id"`
	TenantID    string              `json:"tenant_id"`
	Version     string              `json:"version"`
	Order       []string            `json:"order"`
	Steps       []*WorkTemplateStep `json:"steps"`
	PublishedAt time.Time           `json:"published_at"`
}

// IsPublished reports whether the version has been frozen.
func (v *WorkTemplateVersion) IsPublished() bool {
	return v.PublishedAt != nil
}

// Step returns the step with the given key, or nil.
func (v *WorkTemplateVersion) Step(key string) *WorkTemplateStep {
	for _, step := range v.Steps {
		if step.StepKey == key {
			return step
		}
	}

	return nil
}

// Clone returns a deep copy of the version including steps and fields.
func (v *WorkTemplateVersion) Clone() *WorkTemplateVersion {
	if v == nil {
		return nil
	}

	clone := *v
	clone.CreatedBy = copyStringPointer(v.CreatedBy)
	clone.PublishedBy = copyStringPointer(v.PublishedBy)
	clone.PublishedAt = copyTimePointer(v.PublishedAt)
	clone.ContentSnapshot = v.ContentSnapshot.Clone()
	clone.Steps = cloneSteps(v.Steps)

	return &clone
}

// Clone returns a deep copy of the snapshot.
func (s *VersionSnapshot) Clone() *VersionSnapshot {
	if s == nil {
		return nil
	}

	clone := *s
	clone.Order = slices.Clone(s.Order)
	clone.Steps = cloneSteps(s.Steps)

	return &clone
}

// Step returns the snapshotted step with the given key, or nil.
func (s *VersionSnapshot) Step(key string) *WorkTemplateStep {
	for _, step := range s.Steps {
		if step.StepKey == key {
			return step
		}
	}

	return nil
}

// WorkTemplateStep is one node of a version's dependency graph.
type WorkTemplateStep struct {
	ID           string               `json:"id"`
	VersionID    string               `json:"version_id"`
	StepKey      string               `json:"step_key"                validate:"required,max=100"`
	Name         string               `json:"name"                    validate:"required,max=255"`
	Description  string               `json:"description,omitempty"`
	Type         StepType             `json:"type"                    validate:"required,oneof=task approval form external"`
	StepOrder    int                  `json:"step_order"`
	DependsOn    []string             `json:"depends_on"`
	AssigneeRule string               `json:"assignee_rule,omitempty"`
	SLAHours     *int                 `json:"sla_hours,omitempty"     validate:"omitempty,min=1"`
	Fields       []*WorkTemplateField `json:"fields"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Field returns the field with the given key, or nil.
func (s *WorkTemplateStep) Field(key string) *WorkTemplateField {
	for _, field := range s.Fields {
		if field.FieldKey == key {
			return field
		}
	}

	return nil
}

// Clone returns a deep copy of the step and its fields.
func (s *WorkTemplateStep) Clone() *WorkTemplateStep {
	if s == nil {
		return nil
	}

	clone := *s
	clone.DependsOn = slices.Clone(s.DependsOn)
	clone.SLAHours = copyIntPointer(s.SLAHours)
	clone.Fields = CloneFields(s.Fields)

	return &clone
}

func cloneSteps(steps []*WorkTemplateStep) []*WorkTemplateStep {
	if steps == nil {
		return nil
	}

	cloned := make([]*WorkTemplateStep, 0, len(steps))
	for _, step := range steps {
		cloned = append(cloned, step.Clone())
	}

	return cloned
}

func copyStringPointer(s *string) *string {
	if s == nil {
		return nil
	}

	value := *s

	return &value
}

func copyIntPointer(i *int) *int {
	if i == nil {
		return nil
	}

	value := *i

	return &value
}

func copyFloatPointer(f *float64) *float64 {
	if f == nil {
		return nil
	}

	value := *f

	return &value
}

func copyTimePointer(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	value := *t

	return &value
}

func copyMap(original map[string]any) map[string]any {
	if original == nil {
		return nil
	}

	copied := make(map[string]any, len(original))
	for k, v := range original {
		switch value := v.(type) {
		case map[string]any:
			copied[k] = copyMap(value)
		case []any:
			copied[k] = copySlice(value)
		default:
			copied[k] = v
		}
	}

	return copied
}

func copySlice(original []any) []any {
	copied := make([]any, len(original))
	for i, v := range original {
		switch value := v.(type) {
		case map[string]any:
			copied[i] = copyMap(value)
		case []any:
			copied[i] = copySlice(value)
		default:
			copied[i] = v
		}
	}

	return copied
}

func copyValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		return copyMap(value)
	case []any:
		return copySlice(value)
	default:
		return v
	}
}
