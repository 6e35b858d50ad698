package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
)

type templateRepository struct {
	tx *sql.Tx
}

const templateColumns = `
	id
  , tenant_id
  , code
  , name
  , description
  , status
  , created_by
  , created_at
  , updated_at`

func (r *templateRepository) Create(ctx context.Context, template *models.WorkTemplate) error {
	query := `
		INSERT INTO work_templates (id, tenant_id, code, name, description, status, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.tx.ExecContext(ctx, query,
		template.ID,
		template.TenantID,
		template.Code,
		template.Name,
		template.Description,
		template.Status,
		nullString(template.CreatedBy),
		template.CreatedAt.UTC(),
		template.UpdatedAt.UTC(),
	)

	return mapError("Create", "template", template.ID, err)
}

func (r *templateRepository) GetByID(ctx context.Context, id string) (*models.WorkTemplate, error) {
	row := r.tx.QueryRowContext(ctx, "SELECT"+templateColumns+" FROM work_templates WHERE id = $1", id)

	template, err := scanTemplate(row)
	if err != nil {
		return nil, notFound("GetByID", "template", id, err, persistence.ErrTemplateNotFound)
	}

	return template, nil
}

func (r *templateRepository) GetByCode(ctx context.Context, tenantID, code string) (*models.WorkTemplate, error) {
	row := r.tx.QueryRowContext(ctx, "SELECT"+templateColumns+" FROM work_templates WHERE tenant_id = $1 AND code = $2", tenantID, code)

	template, err := scanTemplate(row)
	if err != nil {
		return nil, notFound("GetByCode", "template", code, err, persistence.ErrTemplateNotFound)
	}

	return template, nil
}

func (r *templateRepository) List(ctx context.Context, opts persistence.ListTemplatesOptions) ([]*models.WorkTemplate, error) {
	var (
		conditions []string
		args       []any
	)

	if opts.TenantID != "" {
		args = append(args, opts.TenantID)
		conditions = append(conditions, fmt.Sprintf("tenant_id = $%d", len(args)))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := "SELECT" + templateColumns + " FROM work_templates"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY created_at, id" + pageClause(opts.Limit, opts.Offset, &args)

	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	templates := make([]*models.WorkTemplate, 0)

	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}

		templates = append(templates, template)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating templates: %w", err)
	}

	return templates, nil
}

func (r *templateRepository) Update(ctx context.Context, template *models.WorkTemplate) error {
	query := `
		UPDATE work_templates
		SET name = $2, description = $3, status = $4, updated_at = $5
		WHERE id = $1
	`

	result, err := r.tx.ExecContext(ctx, query, template.ID, template.Name, template.Description, template.Status, template.UpdatedAt.UTC())
	if err != nil {
		return mapError("Update", "template", template.ID, err)
	}

	return expectRow(result, "Update", "template", template.ID, persistence.ErrTemplateNotFound)
}

func (r *templateRepository) Delete(ctx context.Context, id string) error {
	result, err := r.tx.ExecContext(ctx, "DELETE FROM work_templates WHERE id = $1", id)
	if err != nil {
		return mapError("Delete", "template", id, err)
	}

	return expectRow(result, "Delete", "template", id, persistence.ErrTemplateNotFound)
}

func scanTemplate(row scanner) (*models.WorkTemplate, error) {
	var (
		template  models.WorkTemplate
		createdBy sql.NullString
	)

	err := row.Scan(
		&template.ID,
		&template.TenantID,
		&template.Code,
		&template.Name,
		&template.Description,
		&template.Status,
		&createdBy,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	template.CreatedBy = stringPointer(createdBy)
	template.CreatedAt = template.CreatedAt.UTC()
	template.UpdatedAt = template.UpdatedAt.UTC()

	return &template, nil
}

// pageClause appends LIMIT and OFFSET placeholders when requested.
func pageClause(limit, offset int, args *[]any) string {
	clause := ""

	if limit > 0 {
		*args = append(*args, limit)
		clause += fmt.Sprintf(" LIMIT $%d", len(*args))
	}

	if offset > 0 {
		*args = append(*args, offset)
		clause += fmt.Sprintf(" OFFSET $%d", len(*args))
	}

	return clause
}
