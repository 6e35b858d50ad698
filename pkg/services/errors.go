// Package services provides the template store, instance engine, field value store,
// approval subsystem and deliverable store on top of the persistence layer.
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/worktemplate/pkg/dependency"
	"github.com/dukex/worktemplate/pkg/fields"
	"github.com/dukex/worktemplate/pkg/persistence"
)

// Definition errors - the template store rejects the change (409 or 422 responses).
var (
	ErrDuplicateCode      = errors.New("duplicate code")
	ErrDuplicateVersion   = errors.New("duplicate version")
	ErrDuplicateStepKey   = errors.New("duplicate step key")
	ErrDuplicateFieldKey  = errors.New("duplicate field key")
	ErrVersionImmutable   = errors.New("version is immutable once published")
	ErrCyclicDependency   = dependency.ErrCyclicDependency
	ErrDanglingDependency = dependency.ErrDanglingDependency
	ErrAlreadyPublished   = errors.New("version already published")
	ErrInvalidState       = errors.New("invalid state")
	ErrEmptyVersion       = errors.New("version has no steps")
	ErrInvalidDefinition  = fields.ErrInvalidDefinition
)

// Runtime state errors - the requested transition is not allowed right now.
var (
	ErrPreconditionFailed  = errors.New("precondition failed")
	ErrInvalidStepType     = errors.New("invalid step type")
	ErrDuplicateRequest    = errors.New("approval already pending")
	ErrAlreadyDecided      = errors.New("approval already decided")
	ErrVersionNotPublished = errors.New("version not published")
)

// Data errors - a field value was rejected.
var (
	ErrUnknownField     = errors.New("unknown field")
	ErrTypeMismatch     = fields.ErrTypeMismatch
	ErrValidationFailed = fields.ErrValidationFailed
)

// Integrity errors - stored content does not match its checksum.
var (
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrIntegrityViolation = errors.New("integrity violation")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newError(op string, err error, format string, args ...any) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    ErrorCode(err),
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// PreconditionError lists what kept a step from completing.
type PreconditionError struct {
	Op            string
	StepKey       string
	Status        string
	MissingFields []string
	InvalidFields []string
	Approval      string
}

func (e *PreconditionError) Error() string {
	var reasons []string

	if e.Status != "" {
		reasons = append(reasons, "status is "+e.Status)
	}

	if len(e.MissingFields) > 0 {
		reasons = append(reasons, "missing required fields: "+strings.Join(e.MissingFields, ", "))
	}

	if len(e.InvalidFields) > 0 {
		reasons = append(reasons, "invalid fields: "+strings.Join(e.InvalidFields, ", "))
	}

	if e.Approval != "" {
		reasons = append(reasons, "approval is "+e.Approval)
	}

	return fmt.Sprintf("%s: %v for step %s: %s", e.Op, ErrPreconditionFailed, e.StepKey, strings.Join(reasons, "; "))
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionFailed
}

// IsDefinitionError checks if an error rejects a template definition change.
func IsDefinitionError(err error) bool {
	return errors.Is(err, ErrDuplicateCode) ||
		errors.Is(err, ErrDuplicateVersion) ||
		errors.Is(err, ErrDuplicateStepKey) ||
		errors.Is(err, ErrDuplicateFieldKey) ||
		errors.Is(err, ErrVersionImmutable) ||
		errors.Is(err, ErrCyclicDependency) ||
		errors.Is(err, ErrDanglingDependency) ||
		errors.Is(err, ErrAlreadyPublished) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrEmptyVersion) ||
		errors.Is(err, ErrInvalidDefinition)
}

// IsRuntimeStateError checks if an error rejects a runtime transition.
func IsRuntimeStateError(err error) bool {
	return errors.Is(err, ErrPreconditionFailed) ||
		errors.Is(err, ErrInvalidStepType) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrAlreadyDecided) ||
		errors.Is(err, ErrVersionNotPublished)
}

// IsDataError checks if an error rejects a field value.
func IsDataError(err error) bool {
	return errors.Is(err, ErrUnknownField) ||
		errors.Is(err, ErrTypeMismatch) ||
		errors.Is(err, ErrValidationFailed)
}

// IsIntegrityError checks if an error reports checksum problems.
func IsIntegrityError(err error) bool {
	return errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrIntegrityViolation)
}

// IsNotFound checks if an error reports an unknown identifier.
func IsNotFound(err error) bool {
	return persistence.IsNotFound(err)
}

// IsConflictError checks if an error should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrPreconditionFailed) ||
		errors.Is(err, ErrAlreadyDecided) ||
		errors.Is(err, ErrAlreadyPublished) ||
		errors.Is(err, ErrDuplicateCode) ||
		errors.Is(err, ErrDuplicateVersion) ||
		errors.Is(err, ErrDuplicateStepKey) ||
		errors.Is(err, ErrDuplicateFieldKey) ||
		errors.Is(err, ErrDuplicateRequest) ||
		errors.Is(err, ErrVersionImmutable) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrVersionNotPublished)
}

// IsValidationError checks if an error should return HTTP 422.
func IsValidationError(err error) bool {
	return IsDataError(err) ||
		errors.Is(err, ErrCyclicDependency) ||
		errors.Is(err, ErrDanglingDependency) ||
		errors.Is(err, ErrInvalidStepType) ||
		errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrEmptyVersion) ||
		errors.Is(err, ErrInvalidDefinition)
}

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrDuplicateCode, "duplicate_code"},
	{ErrDuplicateVersion, "duplicate_version"},
	{ErrDuplicateStepKey, "duplicate_step_key"},
	{ErrDuplicateFieldKey, "duplicate_field_key"},
	{ErrVersionImmutable, "version_immutable"},
	{ErrCyclicDependency, "cyclic_dependency"},
	{ErrDanglingDependency, "dangling_dependency"},
	{ErrAlreadyPublished, "already_published"},
	{ErrInvalidState, "invalid_state"},
	{ErrEmptyVersion, "empty_version"},
	{ErrInvalidDefinition, "invalid_definition"},
	{ErrPreconditionFailed, "precondition_failed"},
	{ErrInvalidStepType, "invalid_step_type"},
	{ErrDuplicateRequest, "duplicate_request"},
	{ErrAlreadyDecided, "already_decided"},
	{ErrVersionNotPublished, "version_not_published"},
	{ErrUnknownField, "unknown_field"},
	{ErrTypeMismatch, "type_mismatch"},
	{ErrValidationFailed, "validation_failed"},
	{ErrChecksumMismatch, "checksum_mismatch"},
	{ErrIntegrityViolation, "integrity_violation"},
}

// ErrorCode returns the snake_case kind of a service error, or "internal_error".
func ErrorCode(err error) string {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}

	if IsNotFound(err) {
		return "not_found"
	}

	return "internal_error"
}
