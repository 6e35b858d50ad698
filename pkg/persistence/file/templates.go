package file

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
)

type templateRepository struct {
	state *state
}

func (r *templateRepository) Create(_ context.Context, template *models.WorkTemplate) error {
	for _, existing := range r.state.Templates {
		if existing.TenantID == template.TenantID && existing.Code == template.Code {
			return persistence.NewEntityError("Create", "template", template.ID, persistence.ErrTemplateCodeExists)
		}
	}

	r.state.Templates[template.ID] = template.Clone()

	return nil
}

func (r *templateRepository) GetByID(_ context.Context, id string) (*models.WorkTemplate, error) {
	template, ok := r.state.Templates[id]
	if !ok {
		return nil, persistence.NewEntityError("GetByID", "template", id, persistence.ErrTemplateNotFound)
	}

	return template.Clone(), nil
}

func (r *templateRepository) GetByCode(_ context.Context, tenantID, code string) (*models.WorkTemplate, error) {
	for _, template := range r.state.Templates {
		if template.TenantID == tenantID && template.Code == code {
			return template.Clone(), nil
		}
	}

	return nil, persistence.NewEntityError("GetByCode", "template", code, persistence.ErrTemplateNotFound)
}

func (r *templateRepository) List(_ context.Context, opts persistence.ListTemplatesOptions) ([]*models.WorkTemplate, error) {
	templates := make([]*models.WorkTemplate, 0)

	for _, template := range r.state.Templates {
		if opts.TenantID != "" && template.TenantID != opts.TenantID {
			continue
		}

		if opts.Status != nil && template.Status != *opts.Status {
			continue
		}

		templates = append(templates, template.Clone())
	}

	slices.SortFunc(templates, func(a, b *models.WorkTemplate) int {
		return compareCreated(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})

	return paginate(templates, opts.Limit, opts.Offset), nil
}

func (r *templateRepository) Update(_ context.Context, template *models.WorkTemplate) error {
	if _, ok := r.state.Templates[template.ID]; !ok {
		return persistence.NewEntityError("Update", "template", template.ID, persistence.ErrTemplateNotFound)
	}

	r.state.Templates[template.ID] = template.Clone()

	return nil
}

func (r *templateRepository) Delete(_ context.Context, id string) error {
	if _, ok := r.state.Templates[id]; !ok {
		return persistence.NewEntityError("Delete", "template", id, persistence.ErrTemplateNotFound)
	}

	for versionID, version := range r.state.Versions {
		if version.TemplateID == id {
			delete(r.state.Versions, versionID)
		}
	}

	delete(r.state.Templates, id)

	return nil
}

func compareCreated(a, b time.Time, aID, bID string) int {
	if c := a.Compare(b); c != 0 {
		return c
	}

	return cmp.Compare(aID, bID)
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}

		items = items[offset:]
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
