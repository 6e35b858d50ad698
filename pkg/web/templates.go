package web

import (
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
	"github.com/dukex/worktemplate/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) CreateTemplate(c fiber.Ctx) error {
	var req services.CreateTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req.CreatedBy = orActor(c, req.CreatedBy)

	template, err := h.templates.CreateTemplate(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(template)
}

func (h *APIHandlers) ListTemplates(c fiber.Ctx) error {
	var query ListTemplatesQuery
	if err := h.bindQuery(c, &query); err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	opts := persistence.ListTemplatesOptions{
		TenantID: query.TenantID,
		Limit:    query.Limit,
		Offset:   query.Offset,
	}

	if query.Status != "" {
		status := models.TemplateStatus(query.Status)
		opts.Status = &status
	}

	templates, err := h.templates.ListTemplates(c.Context(), opts)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"templates": templates,
		"pagination": fiber.Map{
			"limit":  query.Limit,
			"offset": query.Offset,
		},
	})
}

func (h *APIHandlers) GetTemplate(c fiber.Ctx) error {
	template, err := h.templates.GetTemplate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) UpdateTemplate(c fiber.Ctx) error {
	var req services.UpdateTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	template, err := h.templates.UpdateTemplate(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) ArchiveTemplate(c fiber.Ctx) error {
	template, err := h.templates.ArchiveTemplate(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) DeleteTemplate(c fiber.Ctx) error {
	if err := h.templates.DeleteTemplate(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateVersion(c fiber.Ctx) error {
	var req services.CreateVersionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	req.CreatedBy = orActor(c, req.CreatedBy)

	version, err := h.templates.CreateDraftVersion(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(version)
}

func (h *APIHandlers) ListVersions(c fiber.Ctx) error {
	versions, err := h.templates.ListVersions(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"versions": versions})
}

func (h *APIHandlers) GetVersion(c fiber.Ctx) error {
	version, err := h.templates.GetVersion(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}

func (h *APIHandlers) DeleteVersion(c fiber.Ctx) error {
	if err := h.templates.DeleteVersion(c.Context(), c.Params("id")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) GetSnapshot(c fiber.Ctx) error {
	snapshot, err := h.templates.GetPublishedSnapshot(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(snapshot)
}

func (h *APIHandlers) AddStep(c fiber.Ctx) error {
	var req services.StepInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	step, err := h.templates.AddStep(c.Context(), c.Params("id"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(step)
}

func (h *APIHandlers) UpdateStep(c fiber.Ctx) error {
	var req services.StepInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	step, err := h.templates.UpdateStep(c.Context(), c.Params("id"), c.Params("stepKey"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(step)
}

func (h *APIHandlers) RemoveStep(c fiber.Ctx) error {
	if err := h.templates.RemoveStep(c.Context(), c.Params("id"), c.Params("stepKey")); err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) AddField(c fiber.Ctx) error {
	var req services.FieldInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	field, err := h.templates.AddField(c.Context(), c.Params("id"), c.Params("stepKey"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(field)
}

func (h *APIHandlers) UpdateField(c fiber.Ctx) error {
	var req services.FieldInput
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	field, err := h.templates.UpdateField(c.Context(), c.Params("id"), c.Params("stepKey"), c.Params("fieldKey"), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(field)
}

func (h *APIHandlers) RemoveField(c fiber.Ctx) error {
	err := h.templates.RemoveField(c.Context(), c.Params("id"), c.Params("stepKey"), c.Params("fieldKey"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) PublishVersion(c fiber.Ctx) error {
	var req PublishRequest
	if err := bindJSON(c, &req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	version, err := h.templates.Publish(c.Context(), c.Params("id"), orActor(c, req.PublishedBy))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(version)
}
