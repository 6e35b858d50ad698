package file

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
)

type versionRepository struct {
	state *state
}

func (r *versionRepository) Create(_ context.Context, version *models.WorkTemplateVersion) error {
	for _, existing := range r.state.Versions {
		if existing.TemplateID == version.TemplateID && existing.Version == version.Version {
			return persistence.NewEntityError("Create", "version", version.ID, persistence.ErrVersionExists)
		}
	}

	stored := version.Clone()
	stored.Steps = []*models.WorkTemplateStep{}
	r.state.Versions[version.ID] = stored

	return nil
}

func (r *versionRepository) GetByID(_ context.Context, id string) (*models.WorkTemplateVersion, error) {
	version, ok := r.state.Versions[id]
	if !ok {
		return nil, persistence.NewEntityError("GetByID", "version", id, persistence.ErrVersionNotFound)
	}

	return sortedVersion(version.Clone()), nil
}

func (r *versionRepository) GetForUpdate(ctx context.Context, id string) (*models.WorkTemplateVersion, error) {
	return r.GetByID(ctx, id)
}

func (r *versionRepository) ListByTemplate(_ context.Context, templateID string) ([]*models.WorkTemplateVersion, error) {
	versions := make([]*models.WorkTemplateVersion, 0)

	for _, version := range r.state.Versions {
		if version.TemplateID == templateID {
			versions = append(versions, sortedVersion(version.Clone()))
		}
	}

	slices.SortFunc(versions, func(a, b *models.WorkTemplateVersion) int {
		return compareCreated(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})

	return versions, nil
}

func (r *versionRepository) Touch(_ context.Context, id string, at time.Time) error {
	version, ok := r.state.Versions[id]
	if !ok {
		return persistence.NewEntityError("Touch", "version", id, persistence.ErrVersionNotFound)
	}

	version.UpdatedAt = at

	return nil
}

func (r *versionRepository) MarkPublished(_ context.Context, id string, publishedAt time.Time, publishedBy *string, snapshot *models.VersionSnapshot) error {
	version, ok := r.state.Versions[id]
	if !ok {
		return persistence.NewEntityError("MarkPublished", "version", id, persistence.ErrVersionNotFound)
	}

	at := publishedAt
	version.PublishedAt = &at
	version.UpdatedAt = publishedAt
	version.ContentSnapshot = snapshot.Clone()

	if publishedBy != nil {
		by := *publishedBy
		version.PublishedBy = &by
	}

	return nil
}

func (r *versionRepository) Delete(_ context.Context, id string) error {
	if _, ok := r.state.Versions[id]; !ok {
		return persistence.NewEntityError("Delete", "version", id, persistence.ErrVersionNotFound)
	}

	delete(r.state.Versions, id)

	return nil
}

func (r *versionRepository) SaveStep(_ context.Context, step *models.WorkTemplateStep) error {
	version, ok := r.state.Versions[step.VersionID]
	if !ok {
		return persistence.NewEntityError("SaveStep", "version", step.VersionID, persistence.ErrVersionNotFound)
	}

	index := -1

	for i, existing := range version.Steps {
		if existing.ID == step.ID {
			index = i

			continue
		}

		if existing.StepKey == step.StepKey {
			return persistence.NewEntityError("SaveStep", "step", step.StepKey, persistence.ErrStepKeyExists)
		}
	}

	stored := step.Clone()

	if index >= 0 {
		// Fields are managed through SaveField; keep what is stored.
		stored.Fields = version.Steps[index].Fields
		version.Steps[index] = stored

		return nil
	}

	if stored.Fields == nil {
		stored.Fields = []*models.WorkTemplateField{}
	}

	version.Steps = append(version.Steps, stored)

	return nil
}

func (r *versionRepository) DeleteStep(_ context.Context, stepID string) error {
	for _, version := range r.state.Versions {
		for i, step := range version.Steps {
			if step.ID == stepID {
				version.Steps = slices.Delete(version.Steps, i, i+1)

				return nil
			}
		}
	}

	return persistence.NewEntityError("DeleteStep", "step", stepID, persistence.ErrStepNotFound)
}

func (r *versionRepository) SaveField(_ context.Context, field *models.WorkTemplateField) error {
	step := r.findStep(field.StepID)
	if step == nil {
		return persistence.NewEntityError("SaveField", "step", field.StepID, persistence.ErrStepNotFound)
	}

	index := -1

	for i, existing := range step.Fields {
		if existing.ID == field.ID {
			index = i

			continue
		}

		if existing.FieldKey == field.FieldKey {
			return persistence.NewEntityError("SaveField", "field", field.FieldKey, persistence.ErrFieldKeyExists)
		}
	}

	if index >= 0 {
		step.Fields[index] = field.Clone()

		return nil
	}

	step.Fields = append(step.Fields, field.Clone())

	return nil
}

func (r *versionRepository) DeleteField(_ context.Context, fieldID string) error {
	for _, version := range r.state.Versions {
		for _, step := range version.Steps {
			for i, field := range step.Fields {
				if field.ID == fieldID {
					step.Fields = slices.Delete(step.Fields, i, i+1)

					return nil
				}
			}
		}
	}

	return persistence.NewEntityError("DeleteField", "field", fieldID, persistence.ErrFieldNotFound)
}

func (r *versionRepository) findStep(stepID string) *models.WorkTemplateStep {
	for _, version := range r.state.Versions {
		for _, step := range version.Steps {
			if step.ID == stepID {
				return step
			}
		}
	}

	return nil
}

func sortedVersion(version *models.WorkTemplateVersion) *models.WorkTemplateVersion {
	slices.SortFunc(version.Steps, func(a, b *models.WorkTemplateStep) int {
		if c := cmp.Compare(a.StepOrder, b.StepOrder); c != 0 {
			return c
		}

		return cmp.Compare(a.StepKey, b.StepKey)
	})

	for _, step := range version.Steps {
		slices.SortFunc(step.Fields, func(a, b *models.WorkTemplateField) int {
			if c := cmp.Compare(a.Position, b.Position); c != 0 {
				return c
			}

			return cmp.Compare(a.FieldKey, b.FieldKey)
		})
	}

	return version
}
