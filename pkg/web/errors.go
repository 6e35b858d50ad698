package web

import (
	"errors"

	"github.com/dukex/worktemplate/pkg/dependency"
	"github.com/dukex/worktemplate/pkg/fields"
	"github.com/dukex/worktemplate/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

// problem adds the extension members clients use to point at the offending input.
type problem struct {
	*problems.Problem

	FieldKey      string                 `json:"field_key,omitempty"`
	Rule          string                 `json:"rule,omitempty"`
	StepKey       string                 `json:"step_key,omitempty"`
	MissingFields []string               `json:"missing_fields,omitempty"`
	InvalidFields []string               `json:"invalid_fields,omitempty"`
	Approval      string                 `json:"approval,omitempty"`
	Cycle         []string               `json:"cycle,omitempty"`
	References    []dependency.Reference `json:"references,omitempty"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("bad_request").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

func statusFor(err error) int {
	switch {
	case services.IsNotFound(err):
		return fiber.StatusNotFound
	case services.IsConflictError(err):
		return fiber.StatusConflict
	case services.IsValidationError(err):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

// handleServiceError maps the service error taxonomy onto RFC 7807 responses.
func handleServiceError(c fiber.Ctx, err error) error {
	status := statusFor(err)
	code := services.ErrorCode(err)

	if status == fiber.StatusInternalServerError && code == "internal_error" {
		return internalError(c, err)
	}

	body := problem{
		Problem: problems.NewStatusProblem(status).
			WithInstance(c.Path()).
			WithType(code).
			WithDetail(err.Error()),
	}

	var fieldErr *fields.Error
	if errors.As(err, &fieldErr) {
		body.FieldKey = fieldErr.FieldKey
		body.Rule = fieldErr.Rule
	}

	var precondition *services.PreconditionError
	if errors.As(err, &precondition) {
		body.StepKey = precondition.StepKey
		body.MissingFields = precondition.MissingFields
		body.InvalidFields = precondition.InvalidFields
		body.Approval = precondition.Approval
	}

	var cycle *dependency.CycleError
	if errors.As(err, &cycle) {
		body.Cycle = cycle.Cycle
	}

	var dangling *dependency.DanglingError
	if errors.As(err, &dangling) {
		body.References = dangling.References
	}

	return c.Status(status).JSON(body)
}
