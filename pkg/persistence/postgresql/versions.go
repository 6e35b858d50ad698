package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
)

type versionRepository struct {
	tx     *sql.Tx
	logger *slog.Logger
}

const versionColumns = `
	id
  , template_id
  , tenant_id
  , version
  , notes
  , created_by
  , created_at
  , updated_at
  , published_at
  , published_by
  , content_snapshot`

func (r *versionRepository) Create(ctx context.Context, version *models.WorkTemplateVersion) error {
	query := `
		INSERT INTO work_template_versions (id, template_id, tenant_id, version, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.tx.ExecContext(ctx, query,
		version.ID,
		version.TemplateID,
		version.TenantID,
		version.Version,
		version.Notes,
		nullString(version.CreatedBy),
		version.CreatedAt.UTC(),
		version.UpdatedAt.UTC(),
	)

	return mapError("Create", "version", version.ID, err)
}

func (r *versionRepository) GetByID(ctx context.Context, id string) (*models.WorkTemplateVersion, error) {
	return r.get(ctx, "GetByID", id, "")
}

func (r *versionRepository) GetForUpdate(ctx context.Context, id string) (*models.WorkTemplateVersion, error) {
	return r.get(ctx, "GetForUpdate", id, " FOR UPDATE")
}

func (r *versionRepository) get(ctx context.Context, op, id, lock string) (*models.WorkTemplateVersion, error) {
	row := r.tx.QueryRowContext(ctx, "SELECT"+versionColumns+" FROM work_template_versions WHERE id = $1"+lock, id)

	version, err := scanVersion(row)
	if err != nil {
		return nil, notFound(op, "version", id, err, persistence.ErrVersionNotFound)
	}

	version.Steps, err = r.loadSteps(ctx, id)
	if err != nil {
		return nil, err
	}

	return version, nil
}

func (r *versionRepository) ListByTemplate(ctx context.Context, templateID string) ([]*models.WorkTemplateVersion, error) {
	rows, err := r.tx.QueryContext(ctx,
		"SELECT"+versionColumns+" FROM work_template_versions WHERE template_id = $1 ORDER BY created_at, id", templateID)
	if err != nil {
		return nil, fmt.Errorf("failed to query versions: %w", err)
	}

	versions := make([]*models.WorkTemplateVersion, 0)

	for rows.Next() {
		version, err := scanVersion(rows)
		if err != nil {
			closeRows(ctx, r.logger, rows)

			return nil, fmt.Errorf("failed to scan version: %w", err)
		}

		versions = append(versions, version)
	}

	err = rows.Err()
	closeRows(ctx, r.logger, rows)

	if err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	for _, version := range versions {
		version.Steps, err = r.loadSteps(ctx, version.ID)
		if err != nil {
			return nil, err
		}
	}

	return versions, nil
}

func (r *versionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	result, err := r.tx.ExecContext(ctx, "UPDATE work_template_versions SET updated_at = $2 WHERE id = $1", id, at.UTC())
	if err != nil {
		return mapError("Touch", "version", id, err)
	}

	return expectRow(result, "Touch", "version", id, persistence.ErrVersionNotFound)
}

func (r *versionRepository) MarkPublished(ctx context.Context, id string, publishedAt time.Time, publishedBy *string, snapshot *models.VersionSnapshot) error {
	content, err := jsonValue(snapshot)
	if err != nil {
		return err
	}

	query := `
		UPDATE work_template_versions
		SET published_at = $2, published_by = $3, content_snapshot = $4, updated_at = $2
		WHERE id = $1
	`

	result, err := r.tx.ExecContext(ctx, query, id, publishedAt.UTC(), nullString(publishedBy), content)
	if err != nil {
		return mapError("MarkPublished", "version", id, err)
	}

	return expectRow(result, "MarkPublished", "version", id, persistence.ErrVersionNotFound)
}

func (r *versionRepository) Delete(ctx context.Context, id string) error {
	result, err := r.tx.ExecContext(ctx, "DELETE FROM work_template_versions WHERE id = $1", id)
	if err != nil {
		return mapError("Delete", "version", id, err)
	}

	return expectRow(result, "Delete", "version", id, persistence.ErrVersionNotFound)
}

func (r *versionRepository) SaveStep(ctx context.Context, step *models.WorkTemplateStep) error {
	dependsOn, err := jsonValue(dependencies(step.DependsOn))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO work_template_steps (
			id, version_id, step_key, name, description, step_type, step_order,
			depends_on, assignee_rule, sla_hours, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			step_key = EXCLUDED.step_key,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			step_type = EXCLUDED.step_type,
			step_order = EXCLUDED.step_order,
			depends_on = EXCLUDED.depends_on,
			assignee_rule = EXCLUDED.assignee_rule,
			sla_hours = EXCLUDED.sla_hours,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.tx.ExecContext(ctx, query,
		step.ID,
		step.VersionID,
		step.StepKey,
		step.Name,
		step.Description,
		step.Type,
		step.StepOrder,
		dependsOn,
		step.AssigneeRule,
		nullInt(step.SLAHours),
		step.CreatedAt.UTC(),
		step.UpdatedAt.UTC(),
	)

	return mapError("SaveStep", "step", step.StepKey, err)
}

func (r *versionRepository) DeleteStep(ctx context.Context, stepID string) error {
	result, err := r.tx.ExecContext(ctx, "DELETE FROM work_template_steps WHERE id = $1", stepID)
	if err != nil {
		return mapError("DeleteStep", "step", stepID, err)
	}

	return expectRow(result, "DeleteStep", "step", stepID, persistence.ErrStepNotFound)
}

func (r *versionRepository) SaveField(ctx context.Context, field *models.WorkTemplateField) error {
	defaultValue, err := jsonValue(field.DefaultValue)
	if err != nil {
		return err
	}

	validation, err := jsonValue(field.Validation)
	if err != nil {
		return err
	}

	options, err := jsonValue(field.Options)
	if err != nil {
		return err
	}

	visibleWhen, err := jsonValue(field.VisibleWhen)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO work_template_fields (
			id, step_id, field_key, label, field_type, required,
			default_value, validation, options, visible_when, position
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			field_key = EXCLUDED.field_key,
			label = EXCLUDED.label,
			field_type = EXCLUDED.field_type,
			required = EXCLUDED.required,
			default_value = EXCLUDED.default_value,
			validation = EXCLUDED.validation,
			options = EXCLUDED.options,
			visible_when = EXCLUDED.visible_when,
			position = EXCLUDED.position
	`

	_, err = r.tx.ExecContext(ctx, query,
		field.ID,
		field.StepID,
		field.FieldKey,
		field.Label,
		field.Type,
		field.Required,
		defaultValue,
		validation,
		options,
		visibleWhen,
		field.Position,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return persistence.NewEntityError("SaveField", "step", field.StepID, persistence.ErrStepNotFound)
		}

		return mapError("SaveField", "field", field.FieldKey, err)
	}

	return nil
}

func (r *versionRepository) DeleteField(ctx context.Context, fieldID string) error {
	result, err := r.tx.ExecContext(ctx, "DELETE FROM work_template_fields WHERE id = $1", fieldID)
	if err != nil {
		return mapError("DeleteField", "field", fieldID, err)
	}

	return expectRow(result, "DeleteField", "field", fieldID, persistence.ErrFieldNotFound)
}

// loadSteps reads the steps of a version ordered by step_order, each with its fields ordered by position.
func (r *versionRepository) loadSteps(ctx context.Context, versionID string) ([]*models.WorkTemplateStep, error) {
	query := `
		SELECT
			id
		  , version_id
		  , step_key
		  , name
		  , description
		  , step_type
		  , step_order
		  , depends_on
		  , assignee_rule
		  , sla_hours
		  , created_at
		  , updated_at
		FROM work_template_steps
		WHERE version_id = $1
		ORDER BY step_order, step_key
	`

	rows, err := r.tx.QueryContext(ctx, query, versionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}

	steps := make([]*models.WorkTemplateStep, 0)
	byID := make(map[string]*models.WorkTemplateStep)

	for rows.Next() {
		var (
			step      models.WorkTemplateStep
			dependsOn []byte
			slaHours  sql.NullInt64
		)

		err := rows.Scan(
			&step.ID,
			&step.VersionID,
			&step.StepKey,
			&step.Name,
			&step.Description,
			&step.Type,
			&step.StepOrder,
			&dependsOn,
			&step.AssigneeRule,
			&slaHours,
			&step.CreatedAt,
			&step.UpdatedAt,
		)
		if err != nil {
			closeRows(ctx, r.logger, rows)

			return nil, fmt.Errorf("failed to scan step: %w", err)
		}

		step.DependsOn = []string{}
		if err := decodeJSON(dependsOn, &step.DependsOn); err != nil {
			closeRows(ctx, r.logger, rows)

			return nil, err
		}

		step.SLAHours = intPointer(slaHours)
		step.CreatedAt = step.CreatedAt.UTC()
		step.UpdatedAt = step.UpdatedAt.UTC()
		step.Fields = []*models.WorkTemplateField{}

		steps = append(steps, &step)
		byID[step.ID] = &step
	}

	err = rows.Err()
	closeRows(ctx, r.logger, rows)

	if err != nil {
		return nil, fmt.Errorf("error iterating steps: %w", err)
	}

	if len(steps) == 0 {
		return steps, nil
	}

	err = r.loadFields(ctx, versionID, byID)
	if err != nil {
		return nil, err
	}

	return steps, nil
}

func (r *versionRepository) loadFields(ctx context.Context, versionID string, byID map[string]*models.WorkTemplateStep) error {
	query := `
		SELECT
			f.id
		  , f.step_id
		  , f.field_key
		  , f.label
		  , f.field_type
		  , f.required
		  , f.default_value
		  , f.validation
		  , f.options
		  , f.visible_when
		  , f.position
		FROM work_template_fields f
		JOIN work_template_steps s ON s.id = f.step_id
		WHERE s.version_id = $1
		ORDER BY f.position, f.field_key
	`

	rows, err := r.tx.QueryContext(ctx, query, versionID)
	if err != nil {
		return fmt.Errorf("failed to query fields: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	for rows.Next() {
		var (
			field                                        models.WorkTemplateField
			defaultValue, validation, options, visibleIf []byte
		)

		err := rows.Scan(
			&field.ID,
			&field.StepID,
			&field.FieldKey,
			&field.Label,
			&field.Type,
			&field.Required,
			&defaultValue,
			&validation,
			&options,
			&visibleIf,
			&field.Position,
		)
		if err != nil {
			return fmt.Errorf("failed to scan field: %w", err)
		}

		err = errors.Join(
			decodeJSON(defaultValue, &field.DefaultValue),
			decodeJSON(validation, &field.Validation),
			decodeJSON(options, &field.Options),
			decodeJSON(visibleIf, &field.VisibleWhen),
		)
		if err != nil {
			return err
		}

		if step, ok := byID[field.StepID]; ok {
			step.Fields = append(step.Fields, &field)
		}
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating fields: %w", err)
	}

	return nil
}

func scanVersion(row scanner) (*models.WorkTemplateVersion, error) {
	var (
		version     models.WorkTemplateVersion
		createdBy   sql.NullString
		publishedAt sql.NullTime
		publishedBy sql.NullString
		snapshot    []byte
	)

	err := row.Scan(
		&version.ID,
		&version.TemplateID,
		&version.TenantID,
		&version.Version,
		&version.Notes,
		&createdBy,
		&version.CreatedAt,
		&version.UpdatedAt,
		&publishedAt,
		&publishedBy,
		&snapshot,
	)
	if err != nil {
		return nil, err
	}

	version.CreatedBy = stringPointer(createdBy)
	version.CreatedAt = version.CreatedAt.UTC()
	version.UpdatedAt = version.UpdatedAt.UTC()
	version.PublishedAt = timePointer(publishedAt)
	version.PublishedBy = stringPointer(publishedBy)

	if len(snapshot) > 0 {
		version.ContentSnapshot = &models.VersionSnapshot{}
		if err := decodeJSON(snapshot, version.ContentSnapshot); err != nil {
			return nil, err
		}
	}

	return &version, nil
}

func dependencies(keys []string) []string {
	if keys == nil {
		return []string{}
	}

	return keys
}
