package fields_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/worktemplate/pkg/fields"
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func TestCoerce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		fieldType models.FieldType
		raw       any
		wantErr   bool
		check     func(t *testing.T, v models.FieldValue)
	}{
		{
			name:      "string accepts string",
			fieldType: models.FieldTypeString,
			raw:       "hello",
			check: func(t *testing.T, v models.FieldValue) {
				t.Helper()
				require.NotNil(t, v.String)
				assert.Equal(t, "hello", *v.String)
			},
		},
		{name: "string rejects number", fieldType: models.FieldTypeString, raw: 42.0, wantErr: true},
		{
			name:      "number accepts int",
			fieldType: models.FieldTypeNumber,
			raw:       7,
			check: func(t *testing.T, v models.FieldValue) {
				t.Helper()
				require.NotNil(t, v.Number)
				assert.InDelta(t, 7.0, *v.Number, 0)
			},
		},
		{
			name:      "number accepts json.Number",
			fieldType: models.FieldTypeNumber,
			raw:       json.Number("3.5"),
			check: func(t *testing.T, v models.FieldValue) {
				t.Helper()
				assert.InDelta(t, 3.5, *v.Number, 0)
			},
		},
		{name: "number rejects numeric string", fieldType: models.FieldTypeNumber, raw: "abc", wantErr: true},
		{
			name:      "date accepts calendar string",
			fieldType: models.FieldTypeDate,
			raw:       "2024-02-29",
			check: func(t *testing.T, v models.FieldValue) {
				t.Helper()
				require.NotNil(t, v.Date)
				assert.Equal(t, "2024-02-29", v.Date.Format(models.DateLayout))
				assert.Nil(t, v.DateTime)
			},
		},
		{name: "date rejects datetime string", fieldType: models.FieldTypeDate, raw: "2024-02-29T10:00:00Z", wantErr: true},
		{
			name:      "datetime normalizes to UTC",
			fieldType: models.FieldTypeDateTime,
			raw:       "2024-03-01T10:00:00+02:00",
			check: func(t *testing.T, v models.FieldValue) {
				t.Helper()
				require.NotNil(t, v.DateTime)
				assert.Equal(t, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC), *v.DateTime)
			},
		},
		{name: "datetime rejects bool", fieldType: models.FieldTypeDateTime, raw: true, wantErr: true},
		{
			name:      "json accepts object",
			fieldType: models.FieldTypeJSON,
			raw:       map[string]any{"a": 1.0},
			check: func(t *testing.T, v models.FieldValue) {
				t.Helper()
				assert.JSONEq(t, `{"a":1}`, string(v.JSON))
			},
		},
		{name: "json rejects invalid raw message", fieldType: models.FieldTypeJSON, raw: json.RawMessage(`{`), wantErr: true},
		{name: "nil is rejected", fieldType: models.FieldTypeString, raw: nil, wantErr: true},
		{name: "enum rejects number", fieldType: models.FieldTypeEnum, raw: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			field := &models.WorkTemplateField{FieldKey: "f", Type: tt.fieldType}

			value, err := fields.Coerce(field, tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, fields.ErrTypeMismatch)

				var fieldErr *fields.Error
				require.ErrorAs(t, err, &fieldErr)
				assert.Equal(t, "f", fieldErr.FieldKey)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.fieldType, value.Type)
			tt.check(t, value)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		field    *models.WorkTemplateField
		raw      any
		wantRule string
	}{
		{
			name:  "number within range",
			field: &models.WorkTemplateField{FieldKey: "amount", Type: models.FieldTypeNumber, Validation: &models.ValidationRules{Min: ptr(0.0), Max: ptr(100.0)}},
			raw:   50,
		},
		{
			name:     "number above max",
			field:    &models.WorkTemplateField{FieldKey: "amount", Type: models.FieldTypeNumber, Validation: &models.ValidationRules{Max: ptr(100.0)}},
			raw:      101,
			wantRule: fields.RuleMax,
		},
		{
			name:     "number below min",
			field:    &models.WorkTemplateField{FieldKey: "amount", Type: models.FieldTypeNumber, Validation: &models.ValidationRules{Min: ptr(1.0)}},
			raw:      0,
			wantRule: fields.RuleMin,
		},
		{
			name:     "string pattern mismatch",
			field:    &models.WorkTemplateField{FieldKey: "code", Type: models.FieldTypeString, Validation: &models.ValidationRules{Pattern: `^[A-Z]{3}$`}},
			raw:      "abc",
			wantRule: fields.RulePattern,
		},
		{
			name:  "string pattern match",
			field: &models.WorkTemplateField{FieldKey: "code", Type: models.FieldTypeString, Validation: &models.ValidationRules{Pattern: `^[A-Z]{3}$`}},
			raw:   "ABC",
		},
		{
			name:     "string too long counts runes",
			field:    &models.WorkTemplateField{FieldKey: "name", Type: models.FieldTypeString, Validation: &models.ValidationRules{MaxLength: ptr(3)}},
			raw:      "ação!",
			wantRule: fields.RuleMaxLength,
		},
		{
			name:     "enum outside options",
			field:    &models.WorkTemplateField{FieldKey: "tier", Type: models.FieldTypeEnum, Options: []string{"gold", "silver"}},
			raw:      "bronze",
			wantRule: fields.RuleOptions,
		},
		{
			name:  "enum inside options",
			field: &models.WorkTemplateField{FieldKey: "tier", Type: models.FieldTypeEnum, Options: []string{"gold", "silver"}},
			raw:   "gold",
		},
		{
			name:     "date before min",
			field:    &models.WorkTemplateField{FieldKey: "due", Type: models.FieldTypeDate, Validation: &models.ValidationRules{MinDate: "2024-01-01"}},
			raw:      "2023-12-31",
			wantRule: fields.RuleMinDate,
		},
		{
			name:     "datetime after max",
			field:    &models.WorkTemplateField{FieldKey: "at", Type: models.FieldTypeDateTime, Validation: &models.ValidationRules{MaxDate: "2024-01-01T00:00:00Z"}},
			raw:      "2024-01-01T00:00:01Z",
			wantRule: fields.RuleMaxDate,
		},
		{
			name: "json schema violation",
			field: &models.WorkTemplateField{FieldKey: "meta", Type: models.FieldTypeJSON, Validation: &models.ValidationRules{Schema: map[string]any{
				"type":     "object",
				"required": []any{"owner"},
			}}},
			raw:      map[string]any{"team": "x"},
			wantRule: fields.RuleSchema,
		},
		{
			name: "json schema satisfied",
			field: &models.WorkTemplateField{FieldKey: "meta", Type: models.FieldTypeJSON, Validation: &models.ValidationRules{Schema: map[string]any{
				"type":     "object",
				"required": []any{"owner"},
			}}},
			raw: map[string]any{"owner": "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			value, err := fields.Coerce(tt.field, tt.raw)
			require.NoError(t, err)

			err = fields.Validate(tt.field, value)
			if tt.wantRule == "" {
				assert.NoError(t, err)

				return
			}

			require.ErrorIs(t, err, fields.ErrValidationFailed)

			var fieldErr *fields.Error
			require.ErrorAs(t, err, &fieldErr)
			assert.Equal(t, tt.wantRule, fieldErr.Rule)
			assert.Equal(t, tt.field.FieldKey, fieldErr.FieldKey)
		})
	}
}

func TestCheckDefinition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		field   *models.WorkTemplateField
		wantErr error
	}{
		{name: "valid string", field: &models.WorkTemplateField{FieldKey: "a", Type: models.FieldTypeString}},
		{name: "unknown type", field: &models.WorkTemplateField{FieldKey: "a", Type: "blob"}, wantErr: fields.ErrInvalidDefinition},
		{name: "enum without options", field: &models.WorkTemplateField{FieldKey: "a", Type: models.FieldTypeEnum}, wantErr: fields.ErrInvalidDefinition},
		{name: "bad pattern", field: &models.WorkTemplateField{FieldKey: "a", Type: models.FieldTypeString, Validation: &models.ValidationRules{Pattern: "("}}, wantErr: fields.ErrInvalidDefinition},
		{name: "default of wrong type", field: &models.WorkTemplateField{FieldKey: "a", Type: models.FieldTypeNumber, DefaultValue: "x"}, wantErr: fields.ErrTypeMismatch},
		{name: "default breaking rule", field: &models.WorkTemplateField{FieldKey: "a", Type: models.FieldTypeNumber, DefaultValue: 5, Validation: &models.ValidationRules{Max: ptr(1.0)}}, wantErr: fields.ErrValidationFailed},
		{name: "self-referencing visibility", field: &models.WorkTemplateField{FieldKey: "a", Type: models.FieldTypeString, VisibleWhen: &models.VisibilityRule{Field: "a", Operator: models.VisibilityOperatorExists}}, wantErr: fields.ErrInvalidDefinition},
		{name: "in without list", field: &models.WorkTemplateField{FieldKey: "a", Type: models.FieldTypeString, VisibleWhen: &models.VisibilityRule{Field: "b", Operator: models.VisibilityOperatorIn, Value: "x"}}, wantErr: fields.ErrInvalidDefinition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := fields.CheckDefinition(tt.field)
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestIsVisible(t *testing.T) {
	t.Parallel()

	siblings := map[string]models.FieldValue{
		"kind":   models.EnumValue("external"),
		"amount": models.NumberValue(1500),
	}

	tests := []struct {
		name     string
		rule     *models.VisibilityRule
		expected bool
	}{
		{name: "no rule", rule: nil, expected: true},
		{name: "eq match", rule: &models.VisibilityRule{Field: "kind", Operator: models.VisibilityOperatorEq, Value: "external"}, expected: true},
		{name: "eq mismatch", rule: &models.VisibilityRule{Field: "kind", Operator: models.VisibilityOperatorEq, Value: "internal"}, expected: false},
		{name: "neq on missing sibling", rule: &models.VisibilityRule{Field: "other", Operator: models.VisibilityOperatorNeq, Value: "x"}, expected: true},
		{name: "eq on missing sibling", rule: &models.VisibilityRule{Field: "other", Operator: models.VisibilityOperatorEq, Value: "x"}, expected: false},
		{name: "in list", rule: &models.VisibilityRule{Field: "kind", Operator: models.VisibilityOperatorIn, Value: []any{"a", "external"}}, expected: true},
		{name: "not in list", rule: &models.VisibilityRule{Field: "kind", Operator: models.VisibilityOperatorNotIn, Value: []string{"external"}}, expected: false},
		{name: "gt integer literal", rule: &models.VisibilityRule{Field: "amount", Operator: models.VisibilityOperatorGt, Value: 1000}, expected: true},
		{name: "lte", rule: &models.VisibilityRule{Field: "amount", Operator: models.VisibilityOperatorLte, Value: 1000.0}, expected: false},
		{name: "exists", rule: &models.VisibilityRule{Field: "amount", Operator: models.VisibilityOperatorExists}, expected: true},
		{name: "not exists", rule: &models.VisibilityRule{Field: "missing", Operator: models.VisibilityOperatorNotExists}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			field := &models.WorkTemplateField{FieldKey: "target", Type: models.FieldTypeString, VisibleWhen: tt.rule}

			visible, err := fields.IsVisible(field, siblings)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, visible)
		})
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	snapshot := []*models.WorkTemplateField{
		{FieldKey: "kind", Type: models.FieldTypeEnum, Required: true, Options: []string{"internal", "external"}},
		{FieldKey: "vendor", Type: models.FieldTypeString, Required: true, VisibleWhen: &models.VisibilityRule{Field: "kind", Operator: models.VisibilityOperatorEq, Value: "external"}},
		{FieldKey: "notes", Type: models.FieldTypeString},
	}

	evaluation, err := fields.Evaluate(snapshot, map[string]models.FieldValue{
		"kind": models.EnumValue("internal"),
	})
	require.NoError(t, err)
	assert.True(t, evaluation.Complete())
	assert.Equal(t, []string{"vendor"}, evaluation.Hidden)

	evaluation, err = fields.Evaluate(snapshot, map[string]models.FieldValue{
		"kind": models.EnumValue("external"),
	})
	require.NoError(t, err)
	assert.False(t, evaluation.Complete())
	assert.Equal(t, []string{"vendor"}, evaluation.Missing)

	evaluation, err = fields.Evaluate(snapshot, map[string]models.FieldValue{})
	require.NoError(t, err)
	assert.Equal(t, []string{"kind"}, evaluation.Missing)
}
