package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
)

type deliverableRepository struct {
	tx     *sql.Tx
	logger *slog.Logger
}

const deliverableColumns = `
	id
  , tenant_id
  , code
  , name
  , description
  , work_template_id
  , created_by
  , created_at`

// deliverableVersionMeta omits content so listings stay cheap.
const deliverableVersionMeta = `
	id
  , deliverable_template_id
  , version
  , content_type
  , checksum
  , size
  , document_id
  , document_version_id
  , published_by
  , published_at
  , integrity_flagged_at`

func (r *deliverableRepository) CreateTemplate(ctx context.Context, template *models.DeliverableTemplate) error {
	query := `
		INSERT INTO deliverable_templates (id, tenant_id, code, name, description, work_template_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.tx.ExecContext(ctx, query,
		template.ID,
		template.TenantID,
		template.Code,
		template.Name,
		template.Description,
		nullString(template.WorkTemplateID),
		nullString(template.CreatedBy),
		template.CreatedAt.UTC(),
	)
	if isForeignKeyViolation(err) {
		return persistence.NewEntityError("CreateTemplate", "template", *template.WorkTemplateID, persistence.ErrTemplateNotFound)
	}

	return mapError("CreateTemplate", "deliverable", template.ID, err)
}

func (r *deliverableRepository) GetTemplate(ctx context.Context, id string) (*models.DeliverableTemplate, error) {
	row := r.tx.QueryRowContext(ctx, "SELECT"+deliverableColumns+" FROM deliverable_templates WHERE id = $1", id)

	template, err := scanDeliverable(row)
	if err != nil {
		return nil, notFound("GetTemplate", "deliverable", id, err, persistence.ErrDeliverableTemplateNotFound)
	}

	return template, nil
}

func (r *deliverableRepository) ListTemplates(ctx context.Context, tenantID string) ([]*models.DeliverableTemplate, error) {
	rows, err := r.tx.QueryContext(ctx,
		"SELECT"+deliverableColumns+" FROM deliverable_templates WHERE $1 = '' OR tenant_id = $1 ORDER BY created_at, id",
		tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliverable templates: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	templates := make([]*models.DeliverableTemplate, 0)

	for rows.Next() {
		template, err := scanDeliverable(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deliverable template: %w", err)
		}

		templates = append(templates, template)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating deliverable templates: %w", err)
	}

	return templates, nil
}

func (r *deliverableRepository) CreateVersion(ctx context.Context, version *models.DeliverableTemplateVersion) error {
	query := `
		INSERT INTO deliverable_template_versions (
			id, deliverable_template_id, version, content, content_type, checksum, size,
			document_id, document_version_id, published_by, published_at, integrity_flagged_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	content := version.Content
	if content == nil {
		content = []byte{}
	}

	_, err := r.tx.ExecContext(ctx, query,
		version.ID,
		version.DeliverableTemplateID,
		version.Version,
		content,
		version.ContentType,
		version.Checksum,
		version.Size,
		nullString(version.DocumentID),
		nullString(version.DocumentVersionID),
		nullString(version.PublishedBy),
		version.PublishedAt.UTC(),
		nullTime(version.IntegrityFlaggedAt),
	)
	if isForeignKeyViolation(err) {
		return persistence.NewEntityError("CreateVersion", "deliverable", version.DeliverableTemplateID, persistence.ErrDeliverableTemplateNotFound)
	}

	return mapError("CreateVersion", "deliverable_version", version.ID, err)
}

func (r *deliverableRepository) GetVersion(ctx context.Context, id string) (*models.DeliverableTemplateVersion, error) {
	row := r.tx.QueryRowContext(ctx,
		"SELECT"+deliverableVersionMeta+", content FROM deliverable_template_versions WHERE id = $1", id)

	var content []byte

	version, err := scanDeliverableVersion(row, &content)
	if err != nil {
		return nil, notFound("GetVersion", "deliverable_version", id, err, persistence.ErrDeliverableVersionNotFound)
	}

	version.Content = content

	return version, nil
}

func (r *deliverableRepository) ListVersions(ctx context.Context, templateID string) ([]*models.DeliverableTemplateVersion, error) {
	rows, err := r.tx.QueryContext(ctx,
		"SELECT"+deliverableVersionMeta+" FROM deliverable_template_versions WHERE deliverable_template_id = $1 ORDER BY published_at, id",
		templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliverable versions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	versions := make([]*models.DeliverableTemplateVersion, 0)

	for rows.Next() {
		version, err := scanDeliverableVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deliverable version: %w", err)
		}

		versions = append(versions, version)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating deliverable versions: %w", err)
	}

	return versions, nil
}

func (r *deliverableRepository) FlagIntegrity(ctx context.Context, versionID string, at time.Time) error {
	result, err := r.tx.ExecContext(ctx,
		"UPDATE deliverable_template_versions SET integrity_flagged_at = $2 WHERE id = $1", versionID, at.UTC())
	if err != nil {
		return mapError("FlagIntegrity", "deliverable_version", versionID, err)
	}

	return expectRow(result, "FlagIntegrity", "deliverable_version", versionID, persistence.ErrDeliverableVersionNotFound)
}

func scanDeliverable(row scanner) (*models.DeliverableTemplate, error) {
	var (
		template                  models.DeliverableTemplate
		workTemplateID, createdBy sql.NullString
	)

	err := row.Scan(
		&template.ID,
		&template.TenantID,
		&template.Code,
		&template.Name,
		&template.Description,
		&workTemplateID,
		&createdBy,
		&template.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	template.WorkTemplateID = stringPointer(workTemplateID)
	template.CreatedBy = stringPointer(createdBy)
	template.CreatedAt = template.CreatedAt.UTC()

	return &template, nil
}

// scanDeliverableVersion scans the metadata columns followed by any extra destinations.
func scanDeliverableVersion(row scanner, extra ...any) (*models.DeliverableTemplateVersion, error) {
	var (
		version                                    models.DeliverableTemplateVersion
		documentID, documentVersionID, publishedBy sql.NullString
		flaggedAt                                  sql.NullTime
	)

	dest := []any{
		&version.ID,
		&version.DeliverableTemplateID,
		&version.Version,
		&version.ContentType,
		&version.Checksum,
		&version.Size,
		&documentID,
		&documentVersionID,
		&publishedBy,
		&version.PublishedAt,
		&flaggedAt,
	}

	err := row.Scan(append(dest, extra...)...)
	if err != nil {
		return nil, err
	}

	version.DocumentID = stringPointer(documentID)
	version.DocumentVersionID = stringPointer(documentVersionID)
	version.PublishedBy = stringPointer(publishedBy)
	version.PublishedAt = version.PublishedAt.UTC()
	version.IntegrityFlaggedAt = timePointer(flaggedAt)

	return &version, nil
}
