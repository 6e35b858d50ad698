package fields

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/dukex/worktemplate/pkg/models"
)

func checkVisibilityRule(rule *models.VisibilityRule) error {
	if rule.Field == "" {
		return fmt.Errorf("visibility rule requires a field")
	}

	switch rule.Operator {
	case models.VisibilityOperatorEq, models.VisibilityOperatorNeq,
		models.VisibilityOperatorGt, models.VisibilityOperatorGte,
		models.VisibilityOperatorLt, models.VisibilityOperatorLte:
		return nil
	case models.VisibilityOperatorIn, models.VisibilityOperatorNotIn:
		if _, ok := toList(rule.Value); !ok {
			return fmt.Errorf("operator %s requires a list value", rule.Operator)
		}

		return nil
	case models.VisibilityOperatorExists, models.VisibilityOperatorNotExists:
		return nil
	default:
		return fmt.Errorf("unknown visibility operator %q", rule.Operator)
	}
}

// IsVisible evaluates the field's visibility rule against the sibling values of the same step.
// A field without a rule is always visible.
func IsVisible(field *models.WorkTemplateField, siblings map[string]models.FieldValue) (bool, error) {
	rule := field.VisibleWhen
	if rule == nil {
		return true, nil
	}

	if err := checkVisibilityRule(rule); err != nil {
		return false, err
	}

	sibling, present := siblings[rule.Field]
	present = present && !sibling.IsZero()

	switch rule.Operator {
	case models.VisibilityOperatorExists:
		return present, nil
	case models.VisibilityOperatorNotExists:
		return !present, nil
	}

	if !present {
		return rule.Operator == models.VisibilityOperatorNeq || rule.Operator == models.VisibilityOperatorNotIn, nil
	}

	actual := sibling.Interface()

	switch rule.Operator {
	case models.VisibilityOperatorEq:
		return equalValues(actual, rule.Value), nil
	case models.VisibilityOperatorNeq:
		return !equalValues(actual, rule.Value), nil
	case models.VisibilityOperatorIn, models.VisibilityOperatorNotIn:
		list, _ := toList(rule.Value)
		found := false

		for _, candidate := range list {
			if equalValues(actual, candidate) {
				found = true

				break
			}
		}

		if rule.Operator == models.VisibilityOperatorIn {
			return found, nil
		}

		return !found, nil
	default:
		c, ok := compareValues(actual, rule.Value)
		if !ok {
			return false, nil
		}

		switch rule.Operator {
		case models.VisibilityOperatorGt:
			return c > 0, nil
		case models.VisibilityOperatorGte:
			return c >= 0, nil
		case models.VisibilityOperatorLt:
			return c < 0, nil
		default:
			return c <= 0, nil
		}
	}
}

func equalValues(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)

		return ok && af == bf
	}

	return reflect.DeepEqual(a, normalizeRuleValue(b))
}

func compareValues(a, b any) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		if !ok {
			return 0, false
		}

		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)

	if !aok || !bok {
		return 0, false
	}

	return strings.Compare(as, bs), true
}

func toList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, 0, len(list))
		for _, s := range list {
			out = append(out, s)
		}

		return out, true
	default:
		return nil, false
	}
}

// normalizeRuleValue turns integer literals from YAML into the float64 shape JSON decoding yields.
func normalizeRuleValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = normalizeRuleValue(item)
		}

		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = normalizeRuleValue(item)
		}

		return out
	default:
		if f, ok := toFloat(v); ok {
			return f
		}

		return v
	}
}

// Evaluation is the completion view of a step's fields against its stored values.
type Evaluation struct {
	Visible []string `json:"visible"`
	Hidden  []string `json:"hidden"`
	Missing []string `json:"missing"`
	Invalid []string `json:"invalid"`
}

// Complete reports whether every required visible field is populated and valid.
func (e *Evaluation) Complete() bool {
	return len(e.Missing) == 0 && len(e.Invalid) == 0
}

// Evaluate classifies every field of a step snapshot. Hidden fields are
// excluded from the required check.
func Evaluate(fields []*models.WorkTemplateField, values map[string]models.FieldValue) (*Evaluation, error) {
	evaluation := &Evaluation{
		Visible: []string{},
		Hidden:  []string{},
		Missing: []string{},
		Invalid: []string{},
	}

	for _, field := range fields {
		visible, err := IsVisible(field, values)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate visibility of %s: %w", field.FieldKey, err)
		}

		if !visible {
			evaluation.Hidden = append(evaluation.Hidden, field.FieldKey)

			continue
		}

		evaluation.Visible = append(evaluation.Visible, field.FieldKey)

		value, ok := values[field.FieldKey]
		if !ok || value.IsZero() {
			if field.Required {
				evaluation.Missing = append(evaluation.Missing, field.FieldKey)
			}

			continue
		}

		if value.Type != field.Type || Validate(field, value) != nil {
			evaluation.Invalid = append(evaluation.Invalid, field.FieldKey)
		}
	}

	return evaluation, nil
}
