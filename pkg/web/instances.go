package web

import (
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
	"github.com/dukex/worktemplate/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) Instantiate(c fiber.Ctx) error {
	var req services.InstantiateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req.CreatedBy = orActor(c, req.CreatedBy)

	instance, err := h.instances.Instantiate(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(instance)
}

func (h *APIHandlers) ListInstances(c fiber.Ctx) error {
	var query ListInstancesQuery
	if err := h.bindQuery(c, &query); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	opts := persistence.ListInstancesOptions{
		TenantID:  query.TenantID,
		ProjectID: query.ProjectID,
		VersionID: query.VersionID,
		Limit:     query.Limit,
		Offset:    query.Offset,
	}

	if query.Status != "" {
		status := models.InstanceStatus(query.Status)
		opts.Status = &status
	}

	instances, err := h.instances.ListInstances(c.Context(), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"instances": instances,
		"pagination": fiber.Map{
			"limit":  query.Limit,
			"offset": query.Offset,
		},
	})
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	instance, err := h.instances.GetInstance(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	var req CancelRequest
	if err := bindJSON(c, &req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	instance, err := h.instances.Cancel(c.Context(), c.Params("id"), orActor(c, req.Actor))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) DeleteInstance(c fiber.Ctx) error {
	if err := h.instances.DeleteInstance(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetStep(c fiber.Ctx) error {
	step, err := h.instances.GetStep(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(step)
}

func (h *APIHandlers) TransitionStep(c fiber.Ctx) error {
	var req services.TransitionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req.Actor = orActor(c, req.Actor)

	step, err := h.instances.Transition(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(step)
}

func (h *APIHandlers) AssignStep(c fiber.Ctx) error {
	var req services.AssignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req.Actor = orActor(c, req.Actor)

	step, err := h.instances.AssignStep(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(step)
}
