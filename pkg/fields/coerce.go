// Package fields implements typing, validation and conditional visibility of step fields.
package fields

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/dukex/worktemplate/pkg/models"
)

var (
	// ErrTypeMismatch indicates a value whose runtime type does not match the declared field type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrValidationFailed indicates a value that breaks one of the field's declared rules.
	ErrValidationFailed = errors.New("validation failed")
)

// Error carries the offending field key and rule alongside the sentinel.
type Error struct {
	FieldKey string
	Rule     string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("field %s: %v (%s): %s", e.FieldKey, e.Err, e.Rule, e.Detail)
	}

	return fmt.Sprintf("field %s: %v: %s", e.FieldKey, e.Err, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func typeMismatch(field *models.WorkTemplateField, raw any) error {
	return &Error{
		FieldKey: field.FieldKey,
		Rule:     "type",
		Detail:   fmt.Sprintf("expected %s, got %T", field.Type, raw),
		Err:      ErrTypeMismatch,
	}
}

// Coerce converts a raw input into the tagged value for the field's declared type.
func Coerce(field *models.WorkTemplateField, raw any) (models.FieldValue, error) {
	if raw == nil {
		return models.FieldValue{}, typeMismatch(field, raw)
	}

	switch field.Type {
	case models.FieldTypeString:
		s, ok := raw.(string)
		if !ok {
			return models.FieldValue{}, typeMismatch(field, raw)
		}

		return models.StringValue(s), nil

	case models.FieldTypeEnum:
		s, ok := raw.(string)
		if !ok {
			return models.FieldValue{}, typeMismatch(field, raw)
		}

		return models.EnumValue(s), nil

	case models.FieldTypeNumber:
		n, ok := toFloat(raw)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return models.FieldValue{}, typeMismatch(field, raw)
		}

		return models.NumberValue(n), nil

	case models.FieldTypeDate:
		switch v := raw.(type) {
		case time.Time:
			return models.DateValue(v), nil
		case string:
			parsed, err := time.Parse(models.DateLayout, v)
			if err != nil {
				return models.FieldValue{}, typeMismatch(field, raw)
			}

			return models.DateValue(parsed), nil
		default:
			return models.FieldValue{}, typeMismatch(field, raw)
		}

	case models.FieldTypeDateTime:
		switch v := raw.(type) {
		case time.Time:
			return models.DateTimeValue(v), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, v)
			if err != nil {
				return models.FieldValue{}, typeMismatch(field, raw)
			}

			return models.DateTimeValue(parsed), nil
		default:
			return models.FieldValue{}, typeMismatch(field, raw)
		}

	case models.FieldTypeJSON:
		var payload []byte

		switch v := raw.(type) {
		case json.RawMessage:
			if !json.Valid(v) {
				return models.FieldValue{}, typeMismatch(field, raw)
			}

			payload = v
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return models.FieldValue{}, typeMismatch(field, raw)
			}

			payload = encoded
		}

		return models.JSONValue(payload), nil

	default:
		return models.FieldValue{}, &Error{
			FieldKey: field.FieldKey,
			Rule:     "type",
			Detail:   fmt.Sprintf("unsupported field type %q", field.Type),
			Err:      ErrTypeMismatch,
		}
	}
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	default:
		return 0, false
	}
}
