// Package web exposes the template store, instance engine, field values, approvals and
// deliverables over a REST API.
package web

import (
	"context"
	"time"

	"github.com/dukex/worktemplate/pkg/services"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Services groups the domain services served by the API.
type Services struct {
	Templates    *services.Templates
	Instances    *services.Instances
	FieldValues  *services.FieldValues
	Approvals    *services.Approvals
	Deliverables *services.Deliverables
}

type APIHandlers struct {
	templates    *services.Templates
	instances    *services.Instances
	fieldValues  *services.FieldValues
	approvals    *services.Approvals
	deliverables *services.Deliverables
	validator    *validator.Validate
	health       HealthChecker
}

func NewAPIHandlers(svc Services, validator *validator.Validate, health HealthChecker) *APIHandlers {
	return &APIHandlers{
		templates:    svc.Templates,
		instances:    svc.Instances,
		fieldValues:  svc.FieldValues,
		approvals:    svc.Approvals,
		deliverables: svc.Deliverables,
		validator:    validator,
		health:       health,
	}
}

// Register mounts every route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	router.Get("/health", h.HealthCheck)

	t := router.Group("/templates")
	t.Post("/", h.CreateTemplate)
	t.Get("/", h.ListTemplates)
	t.Get("/:id", h.GetTemplate)
	t.Patch("/:id", h.UpdateTemplate)
	t.Delete("/:id", h.DeleteTemplate)
	t.Post("/:id/archive", h.ArchiveTemplate)
	t.Post("/:id/versions", h.CreateVersion)
	t.Get("/:id/versions", h.ListVersions)

	v := router.Group("/versions")
	v.Get("/:id", h.GetVersion)
	v.Delete("/:id", h.DeleteVersion)
	v.Get("/:id/snapshot", h.GetSnapshot)
	v.Post("/:id/steps", h.AddStep)
	v.Patch("/:id/steps/:stepKey", h.UpdateStep)
	v.Delete("/:id/steps/:stepKey", h.RemoveStep)
	v.Post("/:id/steps/:stepKey/fields", h.AddField)
	v.Patch("/:id/steps/:stepKey/fields/:fieldKey", h.UpdateField)
	v.Delete("/:id/steps/:stepKey/fields/:fieldKey", h.RemoveField)
	v.Post("/:id/publish", h.PublishVersion)
	v.Post("/:id/instances", h.Instantiate)

	i := router.Group("/instances")
	i.Get("/", h.ListInstances)
	i.Get("/:id", h.GetInstance)
	i.Post("/:id/cancel", h.CancelInstance)
	i.Delete("/:id", h.DeleteInstance)

	s := router.Group("/instance-steps")
	s.Get("/:id", h.GetStep)
	s.Post("/:id/transitions", h.TransitionStep)
	s.Post("/:id/assignee", h.AssignStep)
	s.Get("/:id/fields", h.GetFieldValues)
	s.Put("/:id/fields/:fieldKey", h.SetFieldValue)
	s.Post("/:id/approvals", h.RequestApproval)
	s.Get("/:id/approvals", h.ListApprovals)

	router.Post("/approvals/:id/decision", h.DecideApproval)
	router.Get("/approvals/:id", h.GetApproval)

	d := router.Group("/deliverables")
	d.Post("/", h.CreateDeliverable)
	d.Get("/", h.ListDeliverables)
	d.Get("/:id", h.GetDeliverable)
	d.Post("/:id/versions", h.PublishDeliverableVersion)
	d.Get("/:id/versions", h.ListDeliverableVersions)

	router.Get("/deliverable-versions/:id", h.GetDeliverableVersion)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{Status: "healthy", Message: "worktemplate API is healthy"}
	response.Checks.Persistence = "ok"

	status := fiber.StatusOK

	if err := h.health.HealthCheck(ctx); err != nil {
		response.Status = "unhealthy"
		response.Message = "worktemplate API is unhealthy"
		response.Checks.Persistence = err.Error()
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(response)
}

// actor returns the X-Actor-ID header, nil when absent.
func actor(c fiber.Ctx) *string {
	value := c.Get(ActorHeader)
	if value == "" {
		return nil
	}

	return &value
}

func orActor(c fiber.Ctx, value *string) *string {
	if value != nil {
		return value
	}

	return actor(c)
}

// bindJSON decodes an optional body. Empty bodies leave req untouched.
func bindJSON(c fiber.Ctx, req any) error {
	if len(c.Body()) == 0 {
		return nil
	}

	return c.Bind().JSON(req)
}

func (h *APIHandlers) bindQuery(c fiber.Ctx, req any) error {
	if err := c.Bind().Query(req); err != nil {
		return err
	}

	return h.validator.Struct(req)
}
