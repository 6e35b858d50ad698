package services

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/dukex/worktemplate/pkg/dependency"
	"github.com/dukex/worktemplate/pkg/events"
	"github.com/dukex/worktemplate/pkg/fields"
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/otelhelper"
	"github.com/dukex/worktemplate/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// Templates manages work templates, their draft versions and publication.
type Templates struct {
	*core
}

func NewTemplates(p persistence.Persistence, opts ...Option) *Templates {
	return &Templates{core: newCore(p, "templates", opts)}
}

type CreateTemplateRequest struct {
	TenantID    string  `json:"tenant_id"   validate:"required,max=100"`
	Code        string  `json:"code"        validate:"required,max=100"`
	Name        string  `json:"name"        validate:"required,max=255"`
	Description string  `json:"description"`
	CreatedBy   *string `json:"created_by,omitempty"`
}

type UpdateTemplateRequest struct {
	Name        *string `json:"name,omitempty"        validate:"omitempty,min=1,max=255"`
	Description *string `json:"description,omitempty"`
}

type CreateVersionRequest struct {
	Version       string  `json:"version"                   validate:"required,max=50"`
	Notes         string  `json:"notes,omitempty"`
	CreatedBy     *string `json:"created_by,omitempty"`
	FromVersionID string  `json:"from_version_id,omitempty"`
}

// StepInput declares a step. Fields are only read by AddStep.
type StepInput struct {
	StepKey      string          `json:"step_key"                validate:"required,max=100"`
	Name         string          `json:"name"                    validate:"required,max=255"`
	Description  string          `json:"description,omitempty"`
	Type         models.StepType `json:"type"                    validate:"required"`
	StepOrder    int             `json:"step_order"`
	DependsOn    []string        `json:"depends_on,omitempty"    validate:"dive,required"`
	AssigneeRule string          `json:"assignee_rule,omitempty"`
	SLAHours     *int            `json:"sla_hours,omitempty"     validate:"omitempty,min=1"`
	Fields       []FieldInput    `json:"fields,omitempty"        validate:"dive"`
}

type FieldInput struct {
	FieldKey     string                  `json:"field_key"               validate:"required,max=100"`
	Label        string                  `json:"label"                   validate:"required,max=255"`
	Type         models.FieldType        `json:"type"                    validate:"required"`
	Required     bool                    `json:"required"`
	DefaultValue any                     `json:"default_value,omitempty"`
	Validation   *models.ValidationRules `json:"validation,omitempty"`
	Options      []string                `json:"options,omitempty"`
	VisibleWhen  *models.VisibilityRule  `json:"visible_when,omitempty"`
	Position     int                     `json:"position"`
}

// CanonicalVersion parses a semantic version and returns its canonical form.
func CanonicalVersion(version string) (string, error) {
	parsed, err := semver.NewVersion(version)
	if err != nil {
		return "", fmt.Errorf("%w: invalid semantic version %q: %w", ErrInvalidDefinition, version, err)
	}

	return parsed.String(), nil
}

func (s *Templates) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (template *models.WorkTemplate, err error) {
	ctx, end := s.span(ctx, "templates.CreateTemplate", attribute.String(otelhelper.TenantIDKey, req.TenantID))
	defer end(&err)

	if err := s.check("CreateTemplate", req, ErrInvalidDefinition); err != nil {
		return nil, err
	}

	now := s.clock()
	template = &models.WorkTemplate{
		ID:          newID(),
		TenantID:    req.TenantID,
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		Status:      models.TemplateStatusDraft,
		CreatedBy:   req.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		return translate(tx.Templates().Create(ctx, template))
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "template created", "template_id", template.ID, "tenant_id", template.TenantID, "code", template.Code)

	return template, nil
}

func (s *Templates) GetTemplate(ctx context.Context, id string) (*models.WorkTemplate, error) {
	var template *models.WorkTemplate

	err := s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		template, err = tx.Templates().GetByID(ctx, id)

		return err
	})

	return template, err
}

func (s *Templates) ListTemplates(ctx context.Context, opts persistence.ListTemplatesOptions) ([]*models.WorkTemplate, error) {
	var templates []*models.WorkTemplate

	err := s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		templates, err = tx.Templates().List(ctx, opts)

		return err
	})

	return templates, err
}

func (s *Templates) UpdateTemplate(ctx context.Context, id string, req UpdateTemplateRequest) (*models.WorkTemplate, error) {
	if err := s.check("UpdateTemplate", req, ErrInvalidDefinition); err != nil {
		return nil, err
	}

	var template *models.WorkTemplate

	err := s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		var err error

		template, err = tx.Templates().GetByID(ctx, id)
		if err != nil {
			return err
		}

		if template.Status == models.TemplateStatusArchived {
			return newError("UpdateTemplate", ErrInvalidState, "template %s is archived", id)
		}

		if req.Name != nil {
			template.Name = *req.Name
		}

		if req.Description != nil {
			template.Description = *req.Description
		}

		template.UpdatedAt = s.clock()

		return tx.Templates().Update(ctx, template)
	})
	if err != nil {
		return nil, err
	}

	return template, nil
}

// ArchiveTemplate stops new drafts, publications and instances. Running instances are untouched.
func (s *Templates) ArchiveTemplate(ctx context.Context, id string) (*models.WorkTemplate, error) {
	var template *models.WorkTemplate

	err := s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		var err error

		template, err = tx.Templates().GetByID(ctx, id)
		if err != nil {
			return err
		}

		if template.Status == models.TemplateStatusArchived {
			return nil
		}

		template.Status = models.TemplateStatusArchived
		template.UpdatedAt = s.clock()

		return tx.Templates().Update(ctx, template)
	})
	if err != nil {
		return nil, err
	}

	return template, nil
}

// DeleteTemplate removes a template that never published a version.
func (s *Templates) DeleteTemplate(ctx context.Context, id string) error {
	return s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		if _, err := tx.Templates().GetByID(ctx, id); err != nil {
			return err
		}

		versions, err := tx.Versions().ListByTemplate(ctx, id)
		if err != nil {
			return err
		}

		for _, version := range versions {
			if version.IsPublished() {
				return newError("DeleteTemplate", ErrInvalidState, "template %s has published version %s", id, version.Version)
			}
		}

		return tx.Templates().Delete(ctx, id)
	})
}

// CreateDraftVersion opens a new draft. With FromVersionID the steps and fields
// of that version are copied into the draft.
func (s *Templates) CreateDraftVersion(ctx context.Context, templateID string, req CreateVersionRequest) (version *models.WorkTemplateVersion, err error) {
	ctx, end := s.span(ctx, "templates.CreateDraftVersion", attribute.String(otelhelper.TemplateIDKey, templateID))
	defer end(&err)

	if err := s.check("CreateDraftVersion", req, ErrInvalidDefinition); err != nil {
		return nil, err
	}

	canonical, err := CanonicalVersion(req.Version)
	if err != nil {
		return nil, newError("CreateDraftVersion", err, "version %q", req.Version)
	}

	err = s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		template, err := tx.Templates().GetByID(ctx, templateID)
		if err != nil {
			return err
		}

		if template.Status == models.TemplateStatusArchived {
			return newError("CreateDraftVersion", ErrInvalidState, "template %s is archived", templateID)
		}

		now := s.clock()
		draft := &models.WorkTemplateVersion{
			ID:         newID(),
			TemplateID: template.ID,
			TenantID:   template.TenantID,
			Version:    canonical,
			Notes:      req.Notes,
			CreatedBy:  req.CreatedBy,
			CreatedAt:  now,
			UpdatedAt:  now,
			Steps:      []*models.WorkTemplateStep{},
		}

		if err := translate(tx.Versions().Create(ctx, draft)); err != nil {
			return err
		}

		if req.FromVersionID != "" {
			if err := s.copySteps(ctx, tx, req.FromVersionID, draft); err != nil {
				return err
			}
		}

		version, err = tx.Versions().GetByID(ctx, draft.ID)

		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "draft version created", "template_id", templateID, "version_id", version.ID, "version", version.Version)

	return version, nil
}

func (s *Templates) copySteps(ctx context.Context, tx persistence.Tx, sourceID string, draft *models.WorkTemplateVersion) error {
	source, err := tx.Versions().GetByID(ctx, sourceID)
	if err != nil {
		return err
	}

	if source.TemplateID != draft.TemplateID {
		return newError("CreateDraftVersion", ErrInvalidDefinition, "version %s belongs to another template", sourceID)
	}

	for _, step := range source.Steps {
		copied := step.Clone()
		copied.ID = newID()
		copied.VersionID = draft.ID
		copied.Fields = nil
		copied.CreatedAt = draft.CreatedAt
		copied.UpdatedAt = draft.CreatedAt

		if err := translate(tx.Versions().SaveStep(ctx, copied)); err != nil {
			return err
		}

		for _, field := range step.Fields {
			copiedField := field.Clone()
			copiedField.ID = newID()
			copiedField.StepID = copied.ID

			if err := translate(tx.Versions().SaveField(ctx, copiedField)); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Templates) GetVersion(ctx context.Context, id string) (*models.WorkTemplateVersion, error) {
	var version *models.WorkTemplateVersion

	err := s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		version, err = tx.Versions().GetByID(ctx, id)

		return err
	})

	return version, err
}

func (s *Templates) ListVersions(ctx context.Context, templateID string) ([]*models.WorkTemplateVersion, error) {
	var versions []*models.WorkTemplateVersion

	err := s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		if _, err := tx.Templates().GetByID(ctx, templateID); err != nil {
			return err
		}

		var err error
		versions, err = tx.Versions().ListByTemplate(ctx, templateID)

		return err
	})

	return versions, err
}

func (s *Templates) DeleteVersion(ctx context.Context, id string) error {
	return s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		if _, err := s.loadDraft(ctx, tx, "DeleteVersion", id); err != nil {
			return err
		}

		return tx.Versions().Delete(ctx, id)
	})
}

// GetPublishedSnapshot returns the content frozen at publish time.
func (s *Templates) GetPublishedSnapshot(ctx context.Context, versionID string) (*models.VersionSnapshot, error) {
	return s.publishedSnapshot(ctx, versionID)
}

// loadDraft locks a version for modification and rejects published ones.
func (s *Templates) loadDraft(ctx context.Context, tx persistence.Tx, op, versionID string) (*models.WorkTemplateVersion, error) {
	version, err := tx.Versions().GetForUpdate(ctx, versionID)
	if err != nil {
		return nil, err
	}

	if version.IsPublished() {
		return nil, newError(op, ErrVersionImmutable, "version %s was published at %s", version.Version, version.PublishedAt.Format(time.RFC3339))
	}

	return version, nil
}

func (s *Templates) checkStep(op string, in StepInput) error {
	if err := s.check(op, in, ErrInvalidDefinition); err != nil {
		return err
	}

	if !in.Type.Valid() {
		return newError(op, ErrInvalidDefinition, "unknown step type %q", in.Type)
	}

	if _, err := ParseAssigneeRule(in.AssigneeRule); err != nil {
		return newError(op, err, "step %s", in.StepKey)
	}

	return nil
}

func applyStep(step *models.WorkTemplateStep, in StepInput) {
	step.StepKey = in.StepKey
	step.Name = in.Name
	step.Description = in.Description
	step.Type = in.Type
	step.StepOrder = in.StepOrder
	step.DependsOn = dedupe(in.DependsOn)
	step.AssigneeRule = in.AssigneeRule
	step.SLAHours = in.SLAHours
}

func dedupe(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if !slices.Contains(out, key) {
			out = append(out, key)
		}
	}

	return out
}

func (s *Templates) buildField(op, stepID string, in FieldInput) (*models.WorkTemplateField, error) {
	if err := s.check(op, in, ErrInvalidDefinition); err != nil {
		return nil, err
	}

	field := &models.WorkTemplateField{
		StepID:       stepID,
		FieldKey:     in.FieldKey,
		Label:        in.Label,
		Type:         in.Type,
		Required:     in.Required,
		DefaultValue: in.DefaultValue,
		Validation:   in.Validation,
		Options:      slices.Clone(in.Options),
		VisibleWhen:  in.VisibleWhen,
		Position:     in.Position,
	}

	if err := fields.CheckDefinition(field); err != nil {
		return nil, newError(op, err, "field %s", in.FieldKey)
	}

	return field, nil
}

// AddStep appends a step, with any inline fields, to a draft version.
func (s *Templates) AddStep(ctx context.Context, versionID string, in StepInput) (step *models.WorkTemplateStep, err error) {
	ctx, end := s.span(ctx, "templates.AddStep",
		attribute.String(otelhelper.VersionIDKey, versionID),
		attribute.String(otelhelper.StepKeyKey, in.StepKey))
	defer end(&err)

	if err := s.checkStep("AddStep", in); err != nil {
		return nil, err
	}

	err = s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		if _, err := s.loadDraft(ctx, tx, "AddStep", versionID); err != nil {
			return err
		}

		now := s.clock()
		step = &models.WorkTemplateStep{
			ID:        newID(),
			VersionID: versionID,
			Fields:    []*models.WorkTemplateField{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		applyStep(step, in)

		if err := translate(tx.Versions().SaveStep(ctx, step)); err != nil {
			return err
		}

		for _, fieldInput := range in.Fields {
			field, err := s.buildField("AddStep", step.ID, fieldInput)
			if err != nil {
				return err
			}

			field.ID = newID()

			if err := translate(tx.Versions().SaveField(ctx, field)); err != nil {
				return err
			}

			step.Fields = append(step.Fields, field)
		}

		return tx.Versions().Touch(ctx, versionID, now)
	})
	if err != nil {
		return nil, err
	}

	return step, nil
}

// UpdateStep replaces the definition of a step on a draft version. Its fields are kept.
func (s *Templates) UpdateStep(ctx context.Context, versionID, stepKey string, in StepInput) (*models.WorkTemplateStep, error) {
	if err := s.checkStep("UpdateStep", in); err != nil {
		return nil, err
	}

	var step *models.WorkTemplateStep

	err := s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		version, err := s.loadDraft(ctx, tx, "UpdateStep", versionID)
		if err != nil {
			return err
		}

		step = version.Step(stepKey)
		if step == nil {
			return persistence.NewEntityError("UpdateStep", "step", stepKey, persistence.ErrStepNotFound)
		}

		applyStep(step, in)
		step.UpdatedAt = s.clock()

		if err := translate(tx.Versions().SaveStep(ctx, step)); err != nil {
			return err
		}

		return tx.Versions().Touch(ctx, versionID, step.UpdatedAt)
	})
	if err != nil {
		return nil, err
	}

	return step, nil
}

func (s *Templates) RemoveStep(ctx context.Context, versionID, stepKey string) error {
	return s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		version, err := s.loadDraft(ctx, tx, "RemoveStep", versionID)
		if err != nil {
			return err
		}

		step := version.Step(stepKey)
		if step == nil {
			return persistence.NewEntityError("RemoveStep", "step", stepKey, persistence.ErrStepNotFound)
		}

		if err := tx.Versions().DeleteStep(ctx, step.ID); err != nil {
			return err
		}

		return tx.Versions().Touch(ctx, versionID, s.clock())
	})
}

// AddField declares a typed field on a step of a draft version.
func (s *Templates) AddField(ctx context.Context, versionID, stepKey string, in FieldInput) (*models.WorkTemplateField, error) {
	var field *models.WorkTemplateField

	err := s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		version, err := s.loadDraft(ctx, tx, "AddField", versionID)
		if err != nil {
			return err
		}

		step := version.Step(stepKey)
		if step == nil {
			return persistence.NewEntityError("AddField", "step", stepKey, persistence.ErrStepNotFound)
		}

		field, err = s.buildField("AddField", step.ID, in)
		if err != nil {
			return err
		}

		field.ID = newID()

		if err := translate(tx.Versions().SaveField(ctx, field)); err != nil {
			return err
		}

		return tx.Versions().Touch(ctx, versionID, s.clock())
	})
	if err != nil {
		return nil, err
	}

	return field, nil
}

func (s *Templates) UpdateField(ctx context.Context, versionID, stepKey, fieldKey string, in FieldInput) (*models.WorkTemplateField, error) {
	var field *models.WorkTemplateField

	err := s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		version, err := s.loadDraft(ctx, tx, "UpdateField", versionID)
		if err != nil {
			return err
		}

		step := version.Step(stepKey)
		if step == nil {
			return persistence.NewEntityError("UpdateField", "step", stepKey, persistence.ErrStepNotFound)
		}

		existing := step.Field(fieldKey)
		if existing == nil {
			return persistence.NewEntityError("UpdateField", "field", fieldKey, persistence.ErrFieldNotFound)
		}

		field, err = s.buildField("UpdateField", step.ID, in)
		if err != nil {
			return err
		}

		field.ID = existing.ID

		if err := translate(tx.Versions().SaveField(ctx, field)); err != nil {
			return err
		}

		return tx.Versions().Touch(ctx, versionID, s.clock())
	})
	if err != nil {
		return nil, err
	}

	return field, nil
}

func (s *Templates) RemoveField(ctx context.Context, versionID, stepKey, fieldKey string) error {
	return s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		version, err := s.loadDraft(ctx, tx, "RemoveField", versionID)
		if err != nil {
			return err
		}

		step := version.Step(stepKey)
		if step == nil {
			return persistence.NewEntityError("RemoveField", "step", stepKey, persistence.ErrStepNotFound)
		}

		field := step.Field(fieldKey)
		if field == nil {
			return persistence.NewEntityError("RemoveField", "field", fieldKey, persistence.ErrFieldNotFound)
		}

		if err := tx.Versions().DeleteField(ctx, field.ID); err != nil {
			return err
		}

		return tx.Versions().Touch(ctx, versionID, s.clock())
	})
}

// Publish validates the dependency graph and freezes the version with a denormalized snapshot.
// The version row stays locked for the whole unit, so a concurrent second call sees AlreadyPublished.
func (s *Templates) Publish(ctx context.Context, versionID string, publishedBy *string) (published *models.WorkTemplateVersion, err error) {
	ctx, end := s.span(ctx, "templates.Publish", attribute.String(otelhelper.VersionIDKey, versionID))
	defer end(&err)

	err = s.run(ctx, func(ctx context.Context, tx persistence.Tx, out *outbox) error {
		version, err := tx.Versions().GetForUpdate(ctx, versionID)
		if err != nil {
			return err
		}

		if version.IsPublished() {
			return newError("Publish", ErrAlreadyPublished, "version %s", version.Version)
		}

		template, err := tx.Templates().GetByID(ctx, version.TemplateID)
		if err != nil {
			return err
		}

		if template.Status == models.TemplateStatusArchived {
			return newError("Publish", ErrInvalidState, "template %s is archived", template.ID)
		}

		if len(version.Steps) == 0 {
			return newError("Publish", ErrEmptyVersion, "version %s", version.Version)
		}

		order, err := dependency.Resolve(dependency.FromTemplateSteps(version.Steps))
		if err != nil {
			return newError("Publish", err, "version %s", version.Version)
		}

		if err := checkReferences(version); err != nil {
			return err
		}

		now := s.clock()
		snapshot := &models.VersionSnapshot{
			TemplateID:  version.TemplateID,
			VersionID:   version.ID,
			TenantID:    version.TenantID,
			Version:     version.Version,
			Order:       order,
			Steps:       make([]*models.WorkTemplateStep, 0, len(order)),
			PublishedAt: now,
		}

		for _, key := range order {
			snapshot.Steps = append(snapshot.Steps, version.Step(key).Clone())
		}

		if err := tx.Versions().MarkPublished(ctx, version.ID, now, publishedBy, snapshot); err != nil {
			return err
		}

		if template.Status == models.TemplateStatusDraft {
			template.Status = models.TemplateStatusPublished
			template.UpdatedAt = now

			if err := tx.Templates().Update(ctx, template); err != nil {
				return err
			}
		}

		out.add(version.ID, events.TemplateVersionPublished{
			BaseEvent:   s.baseEvent(events.TemplateVersionPublishedEvent, version.TenantID),
			TemplateID:  version.TemplateID,
			VersionID:   version.ID,
			Version:     version.Version,
			StepOrder:   order,
			PublishedBy: publishedBy,
		})

		published, err = tx.Versions().GetByID(ctx, version.ID)

		return err
	})
	if err != nil {
		return nil, err
	}

	s.cacheSnapshot(ctx, published.ContentSnapshot)
	s.logger.InfoContext(ctx, "version published", "version_id", published.ID, "version", published.Version, "steps", len(published.Steps))

	return published, nil
}

// checkReferences verifies visibility rules and field assignee rules point at
// fields that exist in the version.
func checkReferences(version *models.WorkTemplateVersion) error {
	for _, step := range version.Steps {
		for _, field := range step.Fields {
			if field.VisibleWhen != nil && step.Field(field.VisibleWhen.Field) == nil {
				return newError("Publish", ErrInvalidDefinition,
					"field %s.%s is shown depending on unknown field %s", step.StepKey, field.FieldKey, field.VisibleWhen.Field)
			}
		}

		rule, err := ParseAssigneeRule(step.AssigneeRule)
		if err != nil {
			return newError("Publish", err, "step %s", step.StepKey)
		}

		if rule.Kind != AssigneeField {
			continue
		}

		source := version.Step(rule.StepKey)
		if source == nil || source.Field(rule.FieldKey) == nil {
			return newError("Publish", ErrInvalidDefinition,
				"step %s is assigned from unknown field %s.%s", step.StepKey, rule.StepKey, rule.FieldKey)
		}

		if t := source.Field(rule.FieldKey).Type; t != models.FieldTypeString && t != models.FieldTypeEnum {
			return newError("Publish", ErrInvalidDefinition,
				"step %s is assigned from %s field %s.%s", step.StepKey, t, rule.StepKey, rule.FieldKey)
		}
	}

	return nil
}
