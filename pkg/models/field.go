package models

import (
	"slices"
)

// FieldType is the declared runtime type of a step field.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDate     FieldType = "date"
	FieldTypeDateTime FieldType = "datetime"
	FieldTypeEnum     FieldType = "enum"
	FieldTypeJSON     FieldType = "json"
)

func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeString, FieldTypeNumber, FieldTypeDate, FieldTypeDateTime, FieldTypeEnum, FieldTypeJSON:
		return true
	default:
		return false
	}
}

// WorkTemplateField declares one typed value captured by a step.
type WorkTemplateField struct {
	ID           string           `json:"id"`
	StepID       string           `json:"step_id"`
	FieldKey     string           `json:"field_key"              validate:"required,max=100"`
	Label        string           `json:"label"                  validate:"required,max=255"`
	Type         FieldType        `json:"type"                   validate:"required,oneof=string number date datetime enum json"`
	Required     bool             `json:"required"`
	DefaultValue any              `json:"default_value,omitempty"`
	Validation   *ValidationRules `json:"validation,omitempty"`
	Options      []string         `json:"options,omitempty"`
	VisibleWhen  *VisibilityRule  `json:"visible_when,omitempty"`
	Position     int              `json:"position"`
}

// ValidationRules are declarative constraints evaluated on every write.
type ValidationRules struct {
	Min       *float64       `json:"min,omitempty"        yaml:"min,omitempty"`
	Max       *float64       `json:"max,omitempty"        yaml:"max,omitempty"`
	MinLength *int           `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength *int           `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Pattern   string         `json:"pattern,omitempty"    yaml:"pattern,omitempty"`
	MinDate   string         `json:"min_date,omitempty"   yaml:"min_date,omitempty"`
	MaxDate   string         `json:"max_date,omitempty"   yaml:"max_date,omitempty"`
	Schema    map[string]any `json:"schema,omitempty"     yaml:"schema,omitempty"`
}

type VisibilityOperator string

const (
	VisibilityOperatorEq        VisibilityOperator = "eq"
	VisibilityOperatorNeq       VisibilityOperator = "neq"
	VisibilityOperatorIn        VisibilityOperator = "in"
	VisibilityOperatorNotIn     VisibilityOperator = "not_in"
	VisibilityOperatorGt        VisibilityOperator = "gt"
	VisibilityOperatorGte       VisibilityOperator = "gte"
	VisibilityOperatorLt        VisibilityOperator = "lt"
	VisibilityOperatorLte       VisibilityOperator = "lte"
	VisibilityOperatorExists    VisibilityOperator = "exists"
	VisibilityOperatorNotExists VisibilityOperator = "not_exists"
)

// VisibilityRule shows a field only while a sibling field satisfies a condition.
type VisibilityRule struct {
	Field    string             `json:"field"           yaml:"field"`
	Operator VisibilityOperator `json:"operator"        yaml:"operator"`
	Value    any                `json:"value,omitempty" yaml:"value,omitempty"`
}

func (f *WorkTemplateField) Clone() *WorkTemplateField {
	if f == nil {
		return nil
	}

	clone := *f
	clone.DefaultValue = copyValue(f.DefaultValue)
	clone.Options = slices.Clone(f.Options)

	if f.Validation != nil {
		rules := *f.Validation
		rules.Min = copyFloatPointer(f.Validation.Min)
		rules.Max = copyFloatPointer(f.Validation.Max)
		rules.MinLength = copyIntPointer(f.Validation.MinLength)
		rules.MaxLength = copyIntPointer(f.Validation.MaxLength)
		rules.Schema = copyMap(f.Validation.Schema)
		clone.Validation = &rules
	}

	if f.VisibleWhen != nil {
		rule := *f.VisibleWhen
		rule.Value = copyValue(f.VisibleWhen.Value)
		clone.VisibleWhen = &rule
	}

	return &clone
}

// CloneFields deep-copies a field list.
func CloneFields(fields []*WorkTemplateField) []*WorkTemplateField {
	if fields == nil {
		return nil
	}

	cloned := make([]*WorkTemplateField, 0, len(fields))
	for _, field := range fields {
		cloned = append(cloned, field.Clone())
	}

	return cloned
}
