package services

import (
	"context"

	"github.com/dukex/worktemplate/pkg/fields"
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/otelhelper"
	"github.com/dukex/worktemplate/pkg/persistence"
	"go.opentelemetry.io/otel/attribute"
)

// FieldValues stores typed values against the field snapshot of an instance step.
type FieldValues struct {
	*core
}

func NewFieldValues(p persistence.Persistence, opts ...Option) *FieldValues {
	return &FieldValues{core: newCore(p, "field_values", opts)}
}

type SetValueRequest struct {
	Value any     `json:"value"`
	Actor *string `json:"actor,omitempty"`
}

// SetValueResult reports what happened to a write. Writes to hidden fields are accepted but not stored.
type SetValueResult struct {
	Value  *models.WorkInstanceFieldValue `json:"value,omitempty"`
	Stored bool                           `json:"stored"`
	Hidden bool                           `json:"hidden"`
}

// StepValues is the completion view of one instance step.
type StepValues struct {
	InstanceStepID string                           `json:"instance_step_id"`
	Values         []*models.WorkInstanceFieldValue `json:"values"`
	Evaluation     *fields.Evaluation               `json:"evaluation"`
}

// SetValue type-checks and validates a value against the step's field snapshot, then upserts it.
// The step row is share-locked so a concurrent completion sees either all or none of the write.
func (s *FieldValues) SetValue(ctx context.Context, stepID, fieldKey string, req SetValueRequest) (result *SetValueResult, err error) {
	ctx, end := s.span(ctx, "field_values.SetValue",
		attribute.String(otelhelper.InstanceStepIDKey, stepID),
		attribute.String(otelhelper.FieldKeyKey, fieldKey))
	defer end(&err)

	err = s.run(ctx, func(ctx context.Context, tx persistence.Tx, _ *outbox) error {
		step, err := tx.Instances().GetStepForShare(ctx, stepID)
		if err != nil {
			return err
		}

		field := step.Field(fieldKey)
		if field == nil {
			return &fields.Error{FieldKey: fieldKey, Detail: "not declared on step " + step.StepKey, Err: ErrUnknownField}
		}

		if step.Status.IsTerminal() {
			return &PreconditionError{Op: "SetValue", StepKey: step.StepKey, Status: string(step.Status)}
		}

		value, err := fields.Coerce(field, req.Value)
		if err != nil {
			return err
		}

		existing, err := tx.FieldValues().ListByStep(ctx, stepID)
		if err != nil {
			return err
		}

		visible, err := fields.IsVisible(field, valueMap(existing))
		if err != nil {
			return err
		}

		if !visible {
			result = &SetValueResult{Hidden: true}

			return nil
		}

		if err := fields.Validate(field, value); err != nil {
			return err
		}

		now := s.clock()
		stored := &models.WorkInstanceFieldValue{
			ID:             newID(),
			InstanceStepID: stepID,
			FieldKey:       fieldKey,
			Value:          value,
			UpdatedBy:      req.Actor,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		if err := tx.FieldValues().Upsert(ctx, stored); err != nil {
			return err
		}

		result = &SetValueResult{Value: stored, Stored: true}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Stored {
		s.logger.DebugContext(ctx, "ignored write to hidden field", "instance_step_id", stepID, "field_key", fieldKey)
	}

	return result, nil
}

// GetValues returns the stored values of a step with their completion evaluation.
func (s *FieldValues) GetValues(ctx context.Context, stepID string) (*StepValues, error) {
	var view *StepValues

	err := s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		step, err := tx.Instances().GetStep(ctx, stepID)
		if err != nil {
			return err
		}

		values, err := tx.FieldValues().ListByStep(ctx, stepID)
		if err != nil {
			return err
		}

		evaluation, err := fields.Evaluate(step.SnapshotFields, valueMap(values))
		if err != nil {
			return err
		}

		view = &StepValues{InstanceStepID: stepID, Values: values, Evaluation: evaluation}

		return nil
	})

	return view, err
}

// GetValue returns a single stored value.
func (s *FieldValues) GetValue(ctx context.Context, stepID, fieldKey string) (*models.WorkInstanceFieldValue, error) {
	var value *models.WorkInstanceFieldValue

	err := s.read(ctx, func(ctx context.Context, tx persistence.Tx) error {
		step, err := tx.Instances().GetStep(ctx, stepID)
		if err != nil {
			return err
		}

		if step.Field(fieldKey) == nil {
			return &fields.Error{FieldKey: fieldKey, Detail: "not declared on step " + step.StepKey, Err: ErrUnknownField}
		}

		value, err = tx.FieldValues().Get(ctx, stepID, fieldKey)

		return err
	})

	return value, err
}

// Evaluate reports which fields of the step are visible, hidden, missing or invalid.
func (s *FieldValues) Evaluate(ctx context.Context, stepID string) (*fields.Evaluation, error) {
	view, err := s.GetValues(ctx, stepID)
	if err != nil {
		return nil, err
	}

	return view.Evaluation, nil
}
