// Package templatefile reads work template definitions from YAML and applies them through the template store.
package templatefile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
	"github.com/dukex/worktemplate/pkg/services"
	"gopkg.in/yaml.v3"
)

var ErrEmptyDefinition = errors.New("templatefile: definition payload is empty")

// Definition is one template version as written in YAML.
type Definition struct {
	Code        string `yaml:"code"`
	Name        string `yaml:"name"`
	Description string `yaml:"description,omitempty"`
	Version     string `yaml:"version"`
	Notes       string `yaml:"notes,omitempty"`
	Steps       []Step `yaml:"steps"`
}

type Step struct {
	Key         string          `yaml:"key"`
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Type        models.StepType `yaml:"type"`
	Order       *int            `yaml:"order,omitempty"`
	DependsOn   []string        `yaml:"depends_on,omitempty"`
	Assignee    string          `yaml:"assignee,omitempty"`
	SLAHours    *int            `yaml:"sla_hours,omitempty"`
	Fields      []Field         `yaml:"fields,omitempty"`
}

type Field struct {
	Key         string                  `yaml:"key"`
	Label       string                  `yaml:"label"`
	Type        models.FieldType        `yaml:"type"`
	Required    bool                    `yaml:"required,omitempty"`
	Default     any                     `yaml:"default,omitempty"`
	Validation  *models.ValidationRules `yaml:"validation,omitempty"`
	Options     []string                `yaml:"options,omitempty"`
	VisibleWhen *models.VisibilityRule  `yaml:"visible_when,omitempty"`
}

// Parse decodes every YAML document in data. Unknown keys are rejected.
func Parse(data []byte) ([]Definition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDefinition
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	definitions := make([]Definition, 0, 1)

	for {
		var def Definition

		err := decoder.Decode(&def)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("templatefile: decode definition: %w", err)
		}

		if err := def.Validate(); err != nil {
			return nil, err
		}

		definitions = append(definitions, def)
	}

	if len(definitions) == 0 {
		return nil, ErrEmptyDefinition
	}

	return definitions, nil
}

func LoadReader(r io.Reader) ([]Definition, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("templatefile: read definition: %w", err)
	}

	return Parse(content)
}

func LoadFile(path string) ([]Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("templatefile: read %s: %w", path, err)
	}

	definitions, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("templatefile: %s: %w", path, err)
	}

	return definitions, nil
}

// Validate checks what the file format itself requires. Graph and field
// rules are left to the template store.
func (d Definition) Validate() error {
	var errs []error

	if d.Code == "" {
		errs = append(errs, errors.New("code is required"))
	}

	if d.Name == "" {
		errs = append(errs, fmt.Errorf("template %s: name is required", d.Code))
	}

	if d.Version == "" {
		errs = append(errs, fmt.Errorf("template %s: version is required", d.Code))
	}

	for i, step := range d.Steps {
		if step.Key == "" {
			errs = append(errs, fmt.Errorf("template %s: step %d: key is required", d.Code, i))
		}

		for j, field := range step.Fields {
			if field.Key == "" {
				errs = append(errs, fmt.Errorf("template %s: step %s: field %d: key is required", d.Code, step.Key, j))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("templatefile: %w", errors.Join(errs...))
	}

	return nil
}

// StepInputs converts the steps for the template store. Steps without an
// explicit order follow file order; fields follow file order.
func (d Definition) StepInputs() []services.StepInput {
	inputs := make([]services.StepInput, 0, len(d.Steps))

	for i, step := range d.Steps {
		order := i + 1
		if step.Order != nil {
			order = *step.Order
		}

		name := step.Name
		if name == "" {
			name = step.Key
		}

		input := services.StepInput{
			StepKey:      step.Key,
			Name:         name,
			Description:  step.Description,
			Type:         step.Type,
			StepOrder:    order,
			DependsOn:    step.DependsOn,
			AssigneeRule: step.Assignee,
			SLAHours:     step.SLAHours,
		}

		if input.Type == "" {
			input.Type = models.StepTypeTask
		}

		for position, field := range step.Fields {
			label := field.Label
			if label == "" {
				label = field.Key
			}

			input.Fields = append(input.Fields, services.FieldInput{
				FieldKey:     field.Key,
				Label:        label,
				Type:         field.Type,
				Required:     field.Required,
				DefaultValue: field.Default,
				Validation:   field.Validation,
				Options:      field.Options,
				VisibleWhen:  field.VisibleWhen,
				Position:     position,
			})
		}

		inputs = append(inputs, input)
	}

	return inputs
}

// ApplyOptions scopes an import.
type ApplyOptions struct {
	TenantID string
	Actor    *string
	Publish  bool
}

type Result struct {
	Template *models.WorkTemplate
	Version  *models.WorkTemplateVersion
	Created  bool
}

// Apply creates the template when its code is new, then adds the definition
// as a draft version and optionally publishes it. A failure leaves the draft
// behind for inspection.
func Apply(ctx context.Context, templates *services.Templates, def Definition, opts ApplyOptions) (*Result, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	result := &Result{}

	template, err := findTemplate(ctx, templates, opts.TenantID, def.Code)
	if err != nil {
		return nil, err
	}

	if template == nil {
		template, err = templates.CreateTemplate(ctx, services.CreateTemplateRequest{
			TenantID:    opts.TenantID,
			Code:        def.Code,
			Name:        def.Name,
			Description: def.Description,
			CreatedBy:   opts.Actor,
		})
		if err != nil {
			return nil, fmt.Errorf("create template %s: %w", def.Code, err)
		}

		result.Created = true
	}

	result.Template = template

	version, err := templates.CreateDraftVersion(ctx, template.ID, services.CreateVersionRequest{
		Version:   def.Version,
		Notes:     def.Notes,
		CreatedBy: opts.Actor,
	})
	if err != nil {
		return nil, fmt.Errorf("create version %s of %s: %w", def.Version, def.Code, err)
	}

	for _, step := range def.StepInputs() {
		if _, err := templates.AddStep(ctx, version.ID, step); err != nil {
			return nil, fmt.Errorf("add step %s to %s %s: %w", step.StepKey, def.Code, version.Version, err)
		}
	}

	if opts.Publish {
		version, err = templates.Publish(ctx, version.ID, opts.Actor)
		if err != nil {
			return nil, fmt.Errorf("publish %s %s: %w", def.Code, def.Version, err)
		}
	} else {
		version, err = templates.GetVersion(ctx, version.ID)
		if err != nil {
			return nil, err
		}
	}

	result.Version = version

	return result, nil
}

func findTemplate(ctx context.Context, templates *services.Templates, tenantID, code string) (*models.WorkTemplate, error) {
	existing, err := templates.ListTemplates(ctx, persistence.ListTemplatesOptions{TenantID: tenantID})
	if err != nil {
		return nil, err
	}

	for _, template := range existing {
		if template.Code == code {
			return template, nil
		}
	}

	return nil, nil
}
