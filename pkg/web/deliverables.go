package web

import (
	"github.com/dukex/worktemplate/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) CreateDeliverable(c fiber.Ctx) error {
	var req services.CreateDeliverableRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req.CreatedBy = orActor(c, req.CreatedBy)

	template, err := h.deliverables.CreateTemplate(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(template)
}

func (h *APIHandlers) ListDeliverables(c fiber.Ctx) error {
	templates, err := h.deliverables.ListTemplates(c.Context(), c.Query("tenant_id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"deliverables": templates})
}

func (h *APIHandlers) GetDeliverable(c fiber.Ctx) error {
	template, err := h.deliverables.GetTemplate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

// PublishDeliverableVersion expects content base64 encoded, as encoding/json does for byte slices.
func (h *APIHandlers) PublishDeliverableVersion(c fiber.Ctx) error {
	var req services.PublishDeliverableRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req.PublishedBy = orActor(c, req.PublishedBy)

	version, err := h.deliverables.PublishVersion(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(version)
}

func (h *APIHandlers) ListDeliverableVersions(c fiber.Ctx) error {
	versions, err := h.deliverables.ListVersions(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"versions": versions})
}

func (h *APIHandlers) GetDeliverableVersion(c fiber.Ctx) error {
	version, err := h.deliverables.GetVersion(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}
