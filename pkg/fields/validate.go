package fields

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidDefinition indicates a field declaration that can never be satisfied or evaluated.
var ErrInvalidDefinition = errors.New("invalid field definition")

const (
	RuleMinLength = "min_length"
	RuleMaxLength = "max_length"
	RulePattern   = "pattern"
	RuleMin       = "min"
	RuleMax       = "max"
	RuleMinDate   = "min_date"
	RuleMaxDate   = "max_date"
	RuleOptions   = "options"
	RuleSchema    = "schema"
	RuleRequired  = "required"
)

var patternCache sync.Map

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	patternCache.Store(pattern, re)

	return re, nil
}

func violation(field *models.WorkTemplateField, rule, detail string) error {
	return &Error{FieldKey: field.FieldKey, Rule: rule, Detail: detail, Err: ErrValidationFailed}
}

// Validate checks a coerced value against the field's declared rules.
func Validate(field *models.WorkTemplateField, value models.FieldValue) error {
	if field.Type == models.FieldTypeEnum {
		if value.String == nil || !slices.Contains(field.Options, *value.String) {
			return violation(field, RuleOptions, fmt.Sprintf("value must be one of [%s]", strings.Join(field.Options, ", ")))
		}
	}

	rules := field.Validation
	if rules == nil {
		return nil
	}

	switch field.Type {
	case models.FieldTypeString, models.FieldTypeEnum:
		return validateString(field, rules, *value.String)
	case models.FieldTypeNumber:
		return validateNumber(field, rules, *value.Number)
	case models.FieldTypeDate:
		return validateTime(field, rules, *value.Date, models.DateLayout)
	case models.FieldTypeDateTime:
		return validateTime(field, rules, *value.DateTime, time.RFC3339Nano)
	case models.FieldTypeJSON:
		return validateSchema(field, rules, value)
	}

	return nil
}

func validateString(field *models.WorkTemplateField, rules *models.ValidationRules, s string) error {
	length := utf8.RuneCountInString(s)

	if rules.MinLength != nil && length < *rules.MinLength {
		return violation(field, RuleMinLength, fmt.Sprintf("length %d is below %d", length, *rules.MinLength))
	}

	if rules.MaxLength != nil && length > *rules.MaxLength {
		return violation(field, RuleMaxLength, fmt.Sprintf("length %d exceeds %d", length, *rules.MaxLength))
	}

	if rules.Pattern != "" {
		re, err := compilePattern(rules.Pattern)
		if err != nil {
			return violation(field, RulePattern, fmt.Sprintf("invalid pattern: %v", err))
		}

		if !re.MatchString(s) {
			return violation(field, RulePattern, fmt.Sprintf("value does not match %q", rules.Pattern))
		}
	}

	return nil
}

func validateNumber(field *models.WorkTemplateField, rules *models.ValidationRules, n float64) error {
	if rules.Min != nil && n < *rules.Min {
		return violation(field, RuleMin, fmt.Sprintf("%v is below minimum %v", n, *rules.Min))
	}

	if rules.Max != nil && n > *rules.Max {
		return violation(field, RuleMax, fmt.Sprintf("%v exceeds maximum %v", n, *rules.Max))
	}

	return nil
}

func validateTime(field *models.WorkTemplateField, rules *models.ValidationRules, t time.Time, layout string) error {
	if rules.MinDate != "" {
		bound, err := time.Parse(layout, rules.MinDate)
		if err != nil {
			return violation(field, RuleMinDate, fmt.Sprintf("invalid bound %q", rules.MinDate))
		}

		if t.Before(bound) {
			return violation(field, RuleMinDate, fmt.Sprintf("%s is before %s", t.Format(layout), rules.MinDate))
		}
	}

	if rules.MaxDate != "" {
		bound, err := time.Parse(layout, rules.MaxDate)
		if err != nil {
			return violation(field, RuleMaxDate, fmt.Sprintf("invalid bound %q", rules.MaxDate))
		}

		if t.After(bound) {
			return violation(field, RuleMaxDate, fmt.Sprintf("%s is after %s", t.Format(layout), rules.MaxDate))
		}
	}

	return nil
}

func validateSchema(field *models.WorkTemplateField, rules *models.ValidationRules, value models.FieldValue) error {
	if len(rules.Schema) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(rules.Schema)
	dataLoader := gojsonschema.NewBytesLoader(value.JSON)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return violation(field, RuleSchema, err.Error())
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return violation(field, RuleSchema, strings.Join(errs, "; "))
	}

	return nil
}

// CheckDefinition verifies a field declaration: known type, enum options,
// compilable pattern and schema, parseable date bounds and a conforming default.
func CheckDefinition(field *models.WorkTemplateField) error {
	invalid := func(detail string) error {
		return &Error{FieldKey: field.FieldKey, Detail: detail, Err: ErrInvalidDefinition}
	}

	if !field.Type.Valid() {
		return invalid(fmt.Sprintf("unknown field type %q", field.Type))
	}

	if field.Type == models.FieldTypeEnum && len(field.Options) == 0 {
		return invalid("enum fields require options")
	}

	if rules := field.Validation; rules != nil {
		if rules.Pattern != "" {
			if _, err := compilePattern(rules.Pattern); err != nil {
				return invalid(fmt.Sprintf("invalid pattern: %v", err))
			}
		}

		if len(rules.Schema) > 0 {
			if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(rules.Schema)); err != nil {
				return invalid(fmt.Sprintf("invalid schema: %v", err))
			}
		}

		layout := time.RFC3339Nano
		if field.Type == models.FieldTypeDate {
			layout = models.DateLayout
		}

		for _, bound := range []string{rules.MinDate, rules.MaxDate} {
			if bound == "" {
				continue
			}

			if _, err := time.Parse(layout, bound); err != nil {
				return invalid(fmt.Sprintf("invalid date bound %q", bound))
			}
		}
	}

	if field.VisibleWhen != nil {
		if err := checkVisibilityRule(field.VisibleWhen); err != nil {
			return invalid(err.Error())
		}

		if field.VisibleWhen.Field == field.FieldKey {
			return invalid("visibility rule cannot reference its own field")
		}
	}

	if field.DefaultValue != nil {
		value, err := Coerce(field, field.DefaultValue)
		if err != nil {
			return err
		}

		if err := Validate(field, value); err != nil {
			return err
		}
	}

	return nil
}
