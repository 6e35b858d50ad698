package web

import (
	"github.com/dukex/worktemplate/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) GetFieldValues(c fiber.Ctx) error {
	values, err := h.fieldValues.GetValues(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(values)
}

// SetFieldValue answers 200 for stored writes and 202 for writes to hidden fields.
func (h *APIHandlers) SetFieldValue(c fiber.Ctx) error {
	var req services.SetValueRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req.Actor = orActor(c, req.Actor)

	result, err := h.fieldValues.SetValue(c.Context(), c.Params("id"), c.Params("fieldKey"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	if !result.Stored {
		return c.Status(fiber.StatusAccepted).JSON(result)
	}

	return c.JSON(result)
}

func (h *APIHandlers) RequestApproval(c fiber.Ctx) error {
	var req services.RequestApprovalRequest
	if err := bindJSON(c, &req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req.RequestedBy = orActor(c, req.RequestedBy)

	approval, err := h.approvals.RequestApproval(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(approval)
}

func (h *APIHandlers) ListApprovals(c fiber.Ctx) error {
	approvals, err := h.approvals.ListApprovals(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"approvals": approvals})
}

func (h *APIHandlers) GetApproval(c fiber.Ctx) error {
	approval, err := h.approvals.GetApproval(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(approval)
}

func (h *APIHandlers) DecideApproval(c fiber.Ctx) error {
	var req services.DecideRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req.ApproverID = orActor(c, req.ApproverID)

	approval, err := h.approvals.Decide(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(approval)
}
