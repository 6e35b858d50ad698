package services

import (
	"context"
	"errors"

	"github.com/dukex/worktemplate/pkg/checksum"
	"github.com/dukex/worktemplate/pkg/events"
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/otelhelper"
	"github.com/dukex/worktemplate/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// Deliverables stores versioned deliverable content and guards it with checksums.
type Deliverables struct {
	*core
}

func NewDeliverables(p persistence.Persistence, opts ...Option) *Deliverables {
	return &Deliverables{core: newCore(p, "deliverables", opts)}
}

type CreateDeliverableRequest struct {
	TenantID       string  `json:"tenant_id"                  validate:"required,max=100"`
	Code           string  `json:"code"                       validate:"required,max=100"`
	Name           string  `json:"name"                       validate:"required,max=255"`
	Description    string  `json:"description,omitempty"`
	WorkTemplateID *string `json:"work_template_id,omitempty"`
	CreatedBy      *string `json:"created_by,omitempty"`
}

type PublishDeliverableRequest struct {
	Version           string  `json:"version"                       validate:"required,max=50"`
	Content           []byte  `json:"content"                       validate:"required"`
	ContentType       string  `json:"content_type,omitempty"        validate:"max=255"`
	Checksum          string  `json:"checksum"                      validate:"required"`
	DocumentID        *string `json:"document_id,omitempty"`
	DocumentVersionID *string `json:"document_version_id,omitempty"`
	PublishedBy       *string `json:"published_by,omitempty"`
}

func (s *Deliverables) CreateTemplate(ctx context.Context, req CreateDeliverableRequest) (*models.DeliverableTemplate, error) {
	if err := s.check("CreateDeliverable", req, ErrInvalidDefinition); err != nil {
		return nil, err
	}

	template := &models.DeliverableTemplate{
		ID:             newID(),
		TenantID:       req.TenantID,
		Code:           req.Code,
		Name:           req.Name,
		Description:    req.Description,
		WorkTemplateID: req.WorkTemplateID,
		CreatedBy:      req.CreatedBy,
		CreatedAt:      s.clock(),
	}

	err := s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		if req.WorkTemplateID != nil {
			work, err := tx.Templates().GetByID(ctx, *req.WorkTemplateID)
			if err != nil {
				return err
			}

			if work.TenantID != req.TenantID {
				return newError("CreateDeliverable", ErrInvalidDefinition, "work template %s belongs to another tenant", work.ID)
			}
		}

		return translate(tx.Deliverables().CreateTemplate(ctx, template))
	})
	if err != nil {
		return nil, err
	}

	return template, nil
}

func (s *Deliverables) GetTemplate(ctx context.Context, id string) (*models.DeliverableTemplate, error) {
	var template *models.DeliverableTemplate

	err := s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		template, err = tx.Deliverables().GetTemplate(ctx, id)

		return err
	})

	return template, err
}

func (s *Deliverables) ListTemplates(ctx context.Context, tenantID string) ([]*models.DeliverableTemplate, error) {
	var templates []*models.DeliverableTemplate

	err := s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error
		templates, err = tx.Deliverables().ListTemplates(ctx, tenantID)

		return err
	})

	return templates, err
}

// PublishVersion stores immutable content after checking the supplied checksum against it.
func (s *Deliverables) PublishVersion(ctx context.Context, templateID string, req PublishDeliverableRequest) (version *models.DeliverableTemplateVersion, err error) {
	ctx, end := s.span(ctx, "deliverables.PublishVersion", attribute.String(otelhelper.DeliverableIDKey, templateID))
	defer end(&err)

	if err := s.check("PublishDeliverableVersion", req, ErrValidationFailed); err != nil {
		return nil, err
	}

	canonical, err := CanonicalVersion(req.Version)
	if err != nil {
		return nil, newError("PublishDeliverableVersion", err, "version %q", req.Version)
	}

	expected, err := checksum.Parse(req.Checksum)
	if err != nil {
		if errors.Is(err, checksum.ErrUnknownAlgorithm) {
			return nil, newError("PublishDeliverableVersion", ErrInvalidDefinition, "%v", err)
		}

		return nil, newError("PublishDeliverableVersion", ErrChecksumMismatch, "%v", err)
	}

	actual, ok, err := checksum.Verify(expected, req.Content)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, newError("PublishDeliverableVersion", ErrChecksumMismatch, "expected %s, computed %s", expected, actual)
	}

	version = &models.DeliverableTemplateVersion{
		ID:                    newID(),
		DeliverableTemplateID: templateID,
		Version:               canonical,
		Content:               req.Content,
		ContentType:           req.ContentType,
		Checksum:              expected.String(),
		Size:                  int64(len(req.Content)),
		DocumentID:            req.DocumentID,
		DocumentVersionID:     req.DocumentVersionID,
		PublishedBy:           req.PublishedBy,
		PublishedAt:           s.clock(),
	}

	err = s.run(ctx, func(ctx context.Context, tx persistence.Tx, out *outbox) error {
		template, err := tx.Deliverables().GetTemplate(ctx, templateID)
		if err != nil {
			return err
		}

		if err := translate(tx.Deliverables().CreateVersion(ctx, version)); err != nil {
			return err
		}

		out.add(template.ID, events.DeliverableVersionPublished{
			BaseEvent:     s.baseEvent(events.DeliverableVersionPublishedEvent, template.TenantID),
			DeliverableID: template.ID,
			VersionID:     version.ID,
			Version:       version.Version,
			Checksum:      version.Checksum,
			Size:          version.Size,
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "deliverable version published", "deliverable_id", templateID, "version", canonical, "size", version.Size)

	return version, nil
}

// GetVersion returns a version with its content after re-verifying the checksum.
// On mismatch the version is flagged and IntegrityViolation is returned; content is never served.
func (s *Deliverables) GetVersion(ctx context.Context, id string) (version *models.DeliverableTemplateVersion, err error) {
	ctx, end := s.span(ctx, "deliverables.GetVersion", attribute.String(otelhelper.DeliverableIDKey, id))
	defer end(&err)

	var template *models.DeliverableTemplate

	err = s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		var err error

		version, err = tx.Deliverables().GetVersion(ctx, id)
		if err != nil {
			return err
		}

		template, err = tx.Deliverables().GetTemplate(ctx, version.DeliverableTemplateID)

		return err
	})
	if err != nil {
		return nil, err
	}

	expected, err := checksum.Parse(version.Checksum)
	if err != nil {
		s.flagIntegrity(ctx, template, version, "unparseable")

		return nil, newError("GetDeliverableVersion", ErrIntegrityViolation, "stored checksum of %s is unreadable: %v", id, err)
	}

	actual, ok, err := checksum.Verify(expected, version.Content)
	if err != nil {
		return nil, err
	}

	if !ok {
		s.flagIntegrity(ctx, template, version, actual.String())

		return nil, newError("GetDeliverableVersion", ErrIntegrityViolation, "version %s: expected %s, computed %s", id, expected, actual)
	}

	return version, nil
}

// flagIntegrity marks a version corrupted in its own unit of work so the flag survives the failed read.
func (s *Deliverables) flagIntegrity(ctx context.Context, template *models.DeliverableTemplate, version *models.DeliverableTemplateVersion, actual string) {
	s.logger.ErrorContext(ctx, "deliverable integrity violation",
		"deliverable_id", template.ID,
		"version_id", version.ID,
		"expected", version.Checksum,
		"actual", actual)

	if version.IntegrityFlaggedAt != nil {
		return
	}

	err := s.run(ctx, func(ctx context.Context, tx persistence.Tx, out *outbox) error {
		if err := tx.Deliverables().FlagIntegrity(ctx, version.ID, s.clock()); err != nil {
			return err
		}

		out.add(template.ID, events.DeliverableIntegrityViolation{
			BaseEvent:     s.baseEvent(events.DeliverableIntegrityViolationEvent, template.TenantID),
			DeliverableID: template.ID,
			VersionID:     version.ID,
			Expected:      version.Checksum,
			Actual:        actual,
		})

		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to flag deliverable version", "version_id", version.ID, "error", err)
	}
}

// ListVersions returns version metadata without content.
func (s *Deliverables) ListVersions(ctx context.Context, templateID string) ([]*models.DeliverableTemplateVersion, error) {
	var versions []*models.DeliverableTemplateVersion

	err := s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		if _, err := tx.Deliverables().GetTemplate(ctx, templateID); err != nil {
			return err
		}

		var err error
		versions, err = tx.Deliverables().ListVersions(ctx, templateID)

		return err
	})

	return versions, err
}
