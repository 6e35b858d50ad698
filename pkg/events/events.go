// Package events defines event types and structures for template and instance lifecycle notifications.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topic every lifecycle event is published to.
const Topic = "worktemplate.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Template store events.
	TemplateVersionPublishedEvent EventType = "template.version.published"

	// Instance lifecycle events.
	InstanceCreatedEvent   EventType = "instance.created"
	InstanceCompletedEvent EventType = "instance.completed"
	InstanceCancelledEvent EventType = "instance.cancelled"

	// Step lifecycle events.
	StepReadyEvent     EventType = "step.ready"
	StepStartedEvent   EventType = "step.started"
	StepCompletedEvent EventType = "step.completed"
	StepSkippedEvent   EventType = "step.skipped"
	StepOverdueEvent   EventType = "step.overdue"

	// Approval events.
	ApprovalRequestedEvent EventType = "approval.requested"
	ApprovalDecidedEvent   EventType = "approval.decided"

	// Deliverable events.
	DeliverableVersionPublishedEvent   EventType = "deliverable.version.published"
	DeliverableIntegrityViolationEvent EventType = "deliverable.integrity_violation"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	TenantID  string         `json:"tenant_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type TemplateVersionPublished struct {
	BaseEvent

	TemplateID  string   `json:"template_id"`
	VersionID   string   `json:"version_id"`
	Version     string   `json:"version"`
	StepOrder   []string `json:"step_order"`
	PublishedBy *string  `json:"published_by,omitempty"`
}

func (e TemplateVersionPublished) GetType() EventType {
	return TemplateVersionPublishedEvent
}

type InstanceCreated struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	ProjectID  string `json:"project_id"`
	TemplateID string `json:"template_id"`
	VersionID  string `json:"version_id"`
	StepCount  int    `json:"step_count"`
}

func (e InstanceCreated) GetType() EventType {
	return InstanceCreatedEvent
}

type InstanceCompleted struct {
	BaseEvent

	InstanceID string `json:"instance_id"`
	ProjectID  string `json:"project_id"`
}

func (e InstanceCompleted) GetType() EventType {
	return InstanceCompletedEvent
}

type InstanceCancelled struct {
	BaseEvent

	InstanceID  string  `json:"instance_id"`
	ProjectID   string  `json:"project_id"`
	CancelledBy *string `json:"cancelled_by,omitempty"`
}

func (e InstanceCancelled) GetType() EventType {
	return InstanceCancelledEvent
}

// StepEvent carries the fields shared by every step transition.
type StepEvent struct {
	BaseEvent

	InstanceID     string     `json:"instance_id"`
	InstanceStepID string     `json:"instance_step_id"`
	StepKey        string     `json:"step_key"`
	Status         string     `json:"status"`
	Actor          *string    `json:"actor,omitempty"`
	Assignee       *string    `json:"assignee,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`
}

type StepReady struct {
	StepEvent
}

func (e StepReady) GetType() EventType {
	return StepReadyEvent
}

type StepStarted struct {
	StepEvent
}

func (e StepStarted) GetType() EventType {
	return StepStartedEvent
}

type StepCompleted struct {
	StepEvent
}

func (e StepCompleted) GetType() EventType {
	return StepCompletedEvent
}

type StepSkipped struct {
	StepEvent
}

func (e StepSkipped) GetType() EventType {
	return StepSkippedEvent
}

type StepOverdue struct {
	StepEvent

	OverdueBy time.Duration `json:"overdue_by"`
}

func (e StepOverdue) GetType() EventType {
	return StepOverdueEvent
}

type ApprovalRequested struct {
	BaseEvent

	ApprovalID     string  `json:"approval_id"`
	InstanceID     string  `json:"instance_id"`
	InstanceStepID string  `json:"instance_step_id"`
	StepKey        string  `json:"step_key"`
	RequestedBy    *string `json:"requested_by,omitempty"`
	Assignee       *string `json:"assignee,omitempty"`
}

func (e ApprovalRequested) GetType() EventType {
	return ApprovalRequestedEvent
}

type ApprovalDecided struct {
	BaseEvent

	ApprovalID     string  `json:"approval_id"`
	InstanceID     string  `json:"instance_id"`
	InstanceStepID string  `json:"instance_step_id"`
	StepKey        string  `json:"step_key"`
	Decision       string  `json:"decision"`
	ApproverID     *string `json:"approver_id,omitempty"`
	Comment        *string `json:"comment,omitempty"`
}

func (e ApprovalDecided) GetType() EventType {
	return ApprovalDecidedEvent
}

type DeliverableVersionPublished struct {
	BaseEvent

	DeliverableID string `json:"deliverable_id"`
	VersionID     string `json:"version_id"`
	Version       string `json:"version"`
	Checksum      string `json:"checksum"`
	Size          int64  `json:"size"`
}

func (e DeliverableVersionPublished) GetType() EventType {
	return DeliverableVersionPublishedEvent
}

type DeliverableIntegrityViolation struct {
	BaseEvent

	DeliverableID string `json:"deliverable_id"`
	VersionID     string `json:"version_id"`
	Expected      string `json:"expected"`
	Actual        string `json:"actual"`
}

func (e DeliverableIntegrityViolation) GetType() EventType {
	return DeliverableIntegrityViolationEvent
}

func NewBaseEvent(eventType EventType, tenantID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		TenantID:  tenantID,
		Metadata:  make(map[string]any),
	}
}
