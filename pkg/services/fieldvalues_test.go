package services

import (
	"context"
	"testing"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decisionStep() StepInput {
	step := task("decide", 1)
	step.Type = models.StepTypeForm
	step.Fields = []FieldInput{
		{FieldKey: "decision", Label: "Decision", Type: models.FieldTypeEnum, Required: true, Options: []string{"yes", "no"}, Position: 1},
		{
			FieldKey: "reason", Label: "Reason", Type: models.FieldTypeString, Required: true, Position: 2,
			VisibleWhen: &models.VisibilityRule{Field: "decision", Operator: models.VisibilityOperatorEq, Value: "no"},
		},
		{
			FieldKey: "score", Label: "Score", Type: models.FieldTypeNumber, Position: 3,
			Validation: &models.ValidationRules{Min: ptr(0.0), Max: ptr(10.0)},
		},
	}

	return step
}

func TestFieldValues_ConditionalVisibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	instance := env.instantiate(t, "visibility", decisionStep())
	step := stepByKey(t, instance, "decide")

	result, err := env.values.SetValue(ctx, step.ID, "reason", SetValueRequest{Value: "too expensive"})
	require.NoError(t, err)
	assert.False(t, result.Stored)
	assert.True(t, result.Hidden)

	_, err = env.values.GetValue(ctx, step.ID, "reason")
	assert.True(t, IsNotFound(err))

	_, err = env.values.SetValue(ctx, step.ID, "decision", SetValueRequest{Value: "no"})
	require.NoError(t, err)

	evaluation, err := env.values.Evaluate(ctx, step.ID)
	require.NoError(t, err)
	assert.Contains(t, evaluation.Visible, "reason")
	assert.Equal(t, []string{"reason"}, evaluation.Missing)

	result, err = env.values.SetValue(ctx, step.ID, "reason", SetValueRequest{Value: "too expensive", Actor: ptr("alice")})
	require.NoError(t, err)
	assert.True(t, result.Stored)
	assert.Equal(t, "alice", *result.Value.UpdatedBy)

	_, err = env.values.SetValue(ctx, step.ID, "decision", SetValueRequest{Value: "yes"})
	require.NoError(t, err)

	view, err := env.values.GetValues(ctx, step.ID)
	require.NoError(t, err)
	assert.Contains(t, view.Evaluation.Hidden, "reason")
	assert.Empty(t, view.Evaluation.Missing)
	assert.True(t, view.Evaluation.Complete())
	assert.Len(t, view.Values, 2)

	_, err = env.instances.Start(ctx, step.ID, nil)
	require.NoError(t, err)

	_, err = env.instances.Complete(ctx, step.ID, nil)
	require.NoError(t, err)
}

func TestFieldValues_SetValueErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	instance := env.instantiate(t, "errors", decisionStep())
	step := stepByKey(t, instance, "decide")

	_, err := env.values.SetValue(ctx, step.ID, "unknown", SetValueRequest{Value: "x"})
	require.ErrorIs(t, err, ErrUnknownField)
	assert.True(t, IsDataError(err))

	_, err = env.values.SetValue(ctx, step.ID, "score", SetValueRequest{Value: "seven"})
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = env.values.GetValue(ctx, step.ID, "score")
	assert.True(t, IsNotFound(err), "rejected write leaves no row")

	_, err = env.values.SetValue(ctx, step.ID, "score", SetValueRequest{Value: 11.0})
	require.ErrorIs(t, err, ErrValidationFailed)

	stored, err := env.values.SetValue(ctx, step.ID, "score", SetValueRequest{Value: 7.5})
	require.NoError(t, err)
	require.NotNil(t, stored.Value.Value.Number)
	assert.InDelta(t, 7.5, *stored.Value.Value.Number, 0.0001)

	updated, err := env.values.SetValue(ctx, step.ID, "score", SetValueRequest{Value: 3.0})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, *updated.Value.Value.Number, 0.0001)

	view, err := env.values.GetValues(ctx, step.ID)
	require.NoError(t, err)
	assert.Len(t, view.Values, 1, "upsert keeps one row per field")

	_, err = env.values.SetValue(ctx, "missing", "score", SetValueRequest{Value: 1.0})
	assert.True(t, IsNotFound(err))
}

func TestFieldValues_TerminalStepRejectsWrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	instance := env.instantiate(t, "terminal", decisionStep(), task("after", 2, "decide"))
	step := stepByKey(t, instance, "decide")

	_, err := env.instances.Skip(ctx, step.ID, nil)
	require.NoError(t, err)

	_, err = env.values.SetValue(ctx, step.ID, "score", SetValueRequest{Value: 1.0})
	require.ErrorIs(t, err, ErrPreconditionFailed)

	_, err = env.values.SetValue(ctx, step.ID, "score", SetValueRequest{Value: "one"})
	require.ErrorIs(t, err, ErrPreconditionFailed)
}
