package models

import (
	"bytes"
	"encoding/json"
	"slices"
	"time"
)

const DateLayout = "2006-01-02"

// FieldValue is a tagged union holding exactly one typed column, selected by Type.
// Enum values are carried in String.
type FieldValue struct {
	Type     FieldType       `json:"type"`
	String   *string         `json:"string,omitempty"`
	Number   *float64        `json:"number,omitempty"`
	Date     *time.Time      `json:"date,omitempty"`
	DateTime *time.Time      `json:"datetime,omitempty"`
	JSON     json.RawMessage `json:"json,omitempty"`
}

func StringValue(s string) FieldValue {
	return FieldValue{Type: FieldTypeString, String: &s}
}

func EnumValue(s string) FieldValue {
	return FieldValue{Type: FieldTypeEnum, String: &s}
}

func NumberValue(n float64) FieldValue {
	return FieldValue{Type: FieldTypeNumber, Number: &n}
}

func DateValue(t time.Time) FieldValue {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

	return FieldValue{Type: FieldTypeDate, Date: &d}
}

func DateTimeValue(t time.Time) FieldValue {
	dt := t.UTC()

	return FieldValue{Type: FieldTypeDateTime, DateTime: &dt}
}

func JSONValue(raw json.RawMessage) FieldValue {
	return FieldValue{Type: FieldTypeJSON, JSON: slices.Clone(raw)}
}

// IsZero reports whether no column is populated.
func (v FieldValue) IsZero() bool {
	return v.String == nil && v.Number == nil && v.Date == nil && v.DateTime == nil && len(v.JSON) == 0
}

// Interface returns the populated column as a plain Go value.
// Dates render as YYYY-MM-DD and datetimes as RFC 3339 strings.
func (v FieldValue) Interface() any {
	switch {
	case v.String != nil:
		return *v.String
	case v.Number != nil:
		return *v.Number
	case v.Date != nil:
		return v.Date.Format(DateLayout)
	case v.DateTime != nil:
		return v.DateTime.Format(time.RFC3339Nano)
	case len(v.JSON) > 0:
		var decoded any

		decoder := json.NewDecoder(bytes.NewReader(v.JSON))
		decoder.UseNumber()

		if err := decoder.Decode(&decoded); err != nil {
			return nil
		}

		return normalizeNumbers(decoded)
	default:
		return nil
	}
}

func normalizeNumbers(v any) any {
	switch value := v.(type) {
	case json.Number:
		if f, err := value.Float64(); err == nil {
			return f
		}

		return value.String()
	case map[string]any:
		for k, item := range value {
			value[k] = normalizeNumbers(item)
		}

		return value
	case []any:
		for i, item := range value {
			value[i] = normalizeNumbers(item)
		}

		return value
	default:
		return v
	}
}

func (v FieldValue) Clone() FieldValue {
	clone := v
	clone.String = copyStringPointer(v.String)
	clone.Number = copyFloatPointer(v.Number)
	clone.Date = copyTimePointer(v.Date)
	clone.DateTime = copyTimePointer(v.DateTime)
	clone.JSON = slices.Clone(v.JSON)

	return clone
}

// WorkInstanceFieldValue is the stored value of one field on one instance step.
type WorkInstanceFieldValue struct {
	ID             string     `json:"id"`
	InstanceStepID string     `json:"instance_step_id"`
	FieldKey       string     `json:"field_key"`
	Value          FieldValue `json:"value"`
	UpdatedBy      *string    `json:"updated_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (f *WorkInstanceFieldValue) Clone() *WorkInstanceFieldValue {
	if f == nil {
		return nil
	}

	clone := *f
	clone.Value = f.Value.Clone()
	clone.UpdatedBy = copyStringPointer(f.UpdatedBy)

	return &clone
}
