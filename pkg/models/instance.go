package models

import (
	"slices"
	"time"
)

type InstanceStatus string

const (
	InstanceStatusPending   InstanceStatus = "pending"
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusCancelled InstanceStatus = "cancelled"
)

// IsTerminal reports whether the instance can no longer change.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusCancelled
}

type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusReady      StepStatus = "ready"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusBlocked    StepStatus = "blocked"
	StepStatusSkipped    StepStatus = "skipped"
)

// IsTerminal reports whether the step status satisfies dependents.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusSkipped
}

// WorkInstance is a running execution of one published template version for a project.
type WorkInstance struct {
	ID          string              `json:"id"`
	TenantID    string              `json:"tenant_id"`
	ProjectID   string              `json:"project_id"`
	TemplateID  string              `json:"template_id"`
	VersionID   string              `json:"version_id"`
	Status      InstanceStatus      `json:"status"`
	CreatedBy   *string             `json:"created_by,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
	StartedAt   *time.Time          `json:"started_at,omitempty"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	CancelledAt *time.Time          `json:"cancelled_at,omitempty"`
	CancelledBy *string             `json:"cancelled_by,omitempty"`
	Steps       []*WorkInstanceStep `json:"steps,omitempty"`
}

// Clone returns a copy of the instance without sharing step pointers.
func (i *WorkInstance) Clone() *WorkInstance {
	if i == nil {
		return nil
	}

	clone := *i
	clone.CreatedBy = copyStringPointer(i.CreatedBy)
	clone.StartedAt = copyTimePointer(i.StartedAt)
	clone.CompletedAt = copyTimePointer(i.CompletedAt)
	clone.CancelledAt = copyTimePointer(i.CancelledAt)
	clone.CancelledBy = copyStringPointer(i.CancelledBy)

	if i.Steps != nil {
		clone.Steps = make([]*WorkInstanceStep, 0, len(i.Steps))
		for _, step := range i.Steps {
			clone.Steps = append(clone.Steps, step.Clone())
		}
	}

	return &clone
}

// WorkInstanceStep is the runtime copy of a template step inside an instance.
// SnapshotFields is materialized at instantiation and never re-read from the template.
type WorkInstanceStep struct {
	ID                string               `json:"id"`
	InstanceID        string               `json:"instance_id"`
	StepKey           string               `json:"step_key"`
	Name              string               `json:"name"`
	Type              StepType             `json:"type"`
	StepOrder         int                  `json:"step_order"`
	DependsOn         []string             `json:"depends_on"`
	AssigneeRule      string               `json:"assignee_rule,omitempty"`
	Assignee          *string              `json:"assignee,omitempty"`
	SLAHours          *int                 `json:"sla_hours,omitempty"`
	SnapshotFields    []*WorkTemplateField `json:"snapshot_fields"`
	Status            StepStatus           `json:"status"`
	Deadline          *time.Time           `json:"deadline,omitempty"`
	StartedAt         *time.Time           `json:"started_at,omitempty"`
	StartedBy         *string              `json:"started_by,omitempty"`
	CompletedAt       *time.Time           `json:"completed_at,omitempty"`
	CompletedBy       *string              `json:"completed_by,omitempty"`
	SkippedAt         *time.Time           `json:"skipped_at,omitempty"`
	SkippedBy         *string              `json:"skipped_by,omitempty"`
	OverdueNotifiedAt *time.Time           `json:"overdue_notified_at,omitempty"`
	CreatedAt         time.Time            `json:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// Field returns the snapshot definition of the given field key, or nil.
func (s *WorkInstanceStep) Field(key string) *WorkTemplateField {
	for _, field := range s.SnapshotFields {
		if field.FieldKey == key {
			return field
		}
	}

	return nil
}

func (s *WorkInstanceStep) Clone() *WorkInstanceStep {
	if s == nil {
		return nil
	}

	clone := *s
	clone.DependsOn = slices.Clone(s.DependsOn)
	clone.Assignee = copyStringPointer(s.Assignee)
	clone.SLAHours = copyIntPointer(s.SLAHours)
	clone.SnapshotFields = CloneFields(s.SnapshotFields)
	clone.Deadline = copyTimePointer(s.Deadline)
	clone.StartedAt = copyTimePointer(s.StartedAt)
	clone.StartedBy = copyStringPointer(s.StartedBy)
	clone.CompletedAt = copyTimePointer(s.CompletedAt)
	clone.CompletedBy = copyStringPointer(s.CompletedBy)
	clone.SkippedAt = copyTimePointer(s.SkippedAt)
	clone.SkippedBy = copyStringPointer(s.SkippedBy)
	clone.OverdueNotifiedAt = copyTimePointer(s.OverdueNotifiedAt)

	return &clone
}

// IsOverdue reports whether an open step has passed its deadline.
func (s *WorkInstanceStep) IsOverdue(now time.Time) bool {
	if s.Deadline == nil || s.Status.IsTerminal() {
		return false
	}

	return now.After(*s.Deadline)
}
