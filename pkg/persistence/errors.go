package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrTemplateNotFound indicates a work template was not found by the given identifier.
	ErrTemplateNotFound = errors.New("work template not found")

	// ErrVersionNotFound indicates a template version was not found.
	ErrVersionNotFound = errors.New("template version not found")

	// ErrStepNotFound indicates a template step was not found.
	ErrStepNotFound = errors.New("template step not found")

	// ErrFieldNotFound indicates a template field was not found.
	ErrFieldNotFound = errors.New("template field not found")

	// ErrInstanceNotFound indicates a work instance was not found.
	ErrInstanceNotFound = errors.New("work instance not found")

	// ErrInstanceStepNotFound indicates a work instance step was not found.
	ErrInstanceStepNotFound = errors.New("instance step not found")

	// ErrFieldValueNotFound indicates no value has been stored for the field.
	ErrFieldValueNotFound = errors.New("field value not found")

	// ErrApprovalNotFound indicates an approval was not found.
	ErrApprovalNotFound = errors.New("approval not found")

	// ErrDeliverableTemplateNotFound indicates a deliverable template was not found.
	ErrDeliverableTemplateNotFound = errors.New("deliverable template not found")

	// ErrDeliverableVersionNotFound indicates a deliverable version was not found.
	ErrDeliverableVersionNotFound = errors.New("deliverable version not found")

	// ErrTemplateCodeExists indicates the (tenant, code) pair is already taken.
	ErrTemplateCodeExists = errors.New("template code already exists")

	// ErrVersionExists indicates the (template, version) pair is already taken.
	ErrVersionExists = errors.New("template version already exists")

	// ErrStepKeyExists indicates the step key is already used in the version.
	ErrStepKeyExists = errors.New("step key already exists")

	// ErrFieldKeyExists indicates the field key is already used in the step.
	ErrFieldKeyExists = errors.New("field key already exists")

	// ErrDeliverableCodeExists indicates the (tenant, code) pair is already taken by a deliverable template.
	ErrDeliverableCodeExists = errors.New("deliverable code already exists")

	// ErrDeliverableVersionExists indicates the (deliverable, version) pair is already taken.
	ErrDeliverableVersionExists = errors.New("deliverable version already exists")

	// ErrStaleStepStatus indicates a compare-and-swap on a step status lost the race.
	ErrStaleStepStatus = errors.New("step status changed concurrently")

	// ErrApprovalPending indicates the step already has an undecided approval.
	ErrApprovalPending = errors.New("approval already pending")

	// ErrStaleApprovalDecision indicates an approval was decided concurrently.
	ErrStaleApprovalDecision = errors.New("approval already decided")

	// ErrReadOnly indicates a write was attempted inside a View.
	ErrReadOnly = errors.New("write in read-only unit of work")
)

// EntityError wraps repository errors with the entity and operation involved.
type EntityError struct {
	Op     string // Operation being performed (e.g., "GetByID", "Create", "Delete")
	Entity string // Entity kind (e.g., "template", "instance_step")
	ID     string // Entity identifier if applicable
	Err    error  // Underlying error
}

func (e *EntityError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.Entity, e.Err)
	}

	return fmt.Sprintf("%s operation failed for %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for entity errors.
func (e *EntityError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEntityError creates a new entity error with context.
func NewEntityError(op, entity, id string, err error) *EntityError {
	return &EntityError{
		Op:     op,
		Entity: entity,
		ID:     id,
		Err:    err,
	}
}

// IsNotFound checks if an error indicates any entity was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrStepNotFound) ||
		errors.Is(err, ErrFieldNotFound) ||
		errors.Is(err, ErrInstanceNotFound) ||
		errors.Is(err, ErrInstanceStepNotFound) ||
		errors.Is(err, ErrFieldValueNotFound) ||
		errors.Is(err, ErrApprovalNotFound) ||
		errors.Is(err, ErrDeliverableTemplateNotFound) ||
		errors.Is(err, ErrDeliverableVersionNotFound)
}

// IsTemplateNotFound checks if an error indicates a work template was not found.
func IsTemplateNotFound(err error) bool {
	return errors.Is(err, ErrTemplateNotFound)
}

// IsVersionNotFound checks if an error indicates a template version was not found.
func IsVersionNotFound(err error) bool {
	return errors.Is(err, ErrVersionNotFound)
}

// IsInstanceNotFound checks if an error indicates a work instance was not found.
func IsInstanceNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}

// IsInstanceStepNotFound checks if an error indicates an instance step was not found.
func IsInstanceStepNotFound(err error) bool {
	return errors.Is(err, ErrInstanceStepNotFound)
}

// IsApprovalNotFound checks if an error indicates an approval was not found.
func IsApprovalNotFound(err error) bool {
	return errors.Is(err, ErrApprovalNotFound)
}
