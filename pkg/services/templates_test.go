package services

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/worktemplate/pkg/dependency"
	"github.com/dukex/worktemplate/pkg/events"
	"github.com/dukex/worktemplate/pkg/models"
	"github.com/dukex/worktemplate/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplates_CreateTemplate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	template, err := env.templates.CreateTemplate(ctx, CreateTemplateRequest{TenantID: "tenant-1", Code: "onboarding", Name: "Onboarding"})
	require.NoError(t, err)
	assert.Equal(t, models.TemplateStatusDraft, template.Status)
	assert.Equal(t, testNow, template.CreatedAt)

	_, err = env.templates.CreateTemplate(ctx, CreateTemplateRequest{TenantID: "tenant-1", Code: "onboarding", Name: "Again"})
	require.ErrorIs(t, err, ErrDuplicateCode)
	assert.Equal(t, "duplicate_code", ErrorCode(err))

	other, err := env.templates.CreateTemplate(ctx, CreateTemplateRequest{TenantID: "tenant-2", Code: "onboarding", Name: "Other tenant"})
	require.NoError(t, err)
	assert.NotEqual(t, template.ID, other.ID)

	_, err = env.templates.CreateTemplate(ctx, CreateTemplateRequest{TenantID: "tenant-1", Name: "No code"})
	require.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestTemplates_CreateDraftVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	template, err := env.templates.CreateTemplate(ctx, CreateTemplateRequest{TenantID: "tenant-1", Code: "audit", Name: "Audit"})
	require.NoError(t, err)

	version, err := env.templates.CreateDraftVersion(ctx, template.ID, CreateVersionRequest{Version: "v1.0"})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version.Version)
	assert.Equal(t, "tenant-1", version.TenantID)
	assert.False(t, version.IsPublished())

	_, err = env.templates.CreateDraftVersion(ctx, template.ID, CreateVersionRequest{Version: "1.0.0"})
	require.ErrorIs(t, err, ErrDuplicateVersion)

	_, err = env.templates.CreateDraftVersion(ctx, template.ID, CreateVersionRequest{Version: "not-a-version"})
	require.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = env.templates.CreateDraftVersion(ctx, "missing", CreateVersionRequest{Version: "1.0.0"})
	assert.True(t, IsNotFound(err))

	_, err = env.templates.ArchiveTemplate(ctx, template.ID)
	require.NoError(t, err)

	_, err = env.templates.CreateDraftVersion(ctx, template.ID, CreateVersionRequest{Version: "2.0.0"})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestTemplates_Publish(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	version := env.draft(t, "linear",
		task("review", 2, "draft"),
		task("draft", 1),
		task("ship", 3, "review"),
	)

	published, err := env.templates.Publish(ctx, version.ID, ptr("alice"))
	require.NoError(t, err)
	require.NotNil(t, published.PublishedAt)
	require.NotNil(t, published.ContentSnapshot)
	assert.Equal(t, testNow, *published.PublishedAt)
	assert.Equal(t, []string{"draft", "review", "ship"}, published.ContentSnapshot.Order)
	assert.Equal(t, "alice", *published.PublishedBy)

	template, err := env.templates.GetTemplate(ctx, version.TemplateID)
	require.NoError(t, err)
	assert.Equal(t, models.TemplateStatusPublished, template.Status)

	assert.Equal(t, 1, env.recorder.Count(events.TemplateVersionPublishedEvent))

	_, err = env.templates.Publish(ctx, version.ID, nil)
	require.ErrorIs(t, err, ErrAlreadyPublished)

	again, err := env.templates.GetVersion(ctx, version.ID)
	require.NoError(t, err)
	assert.Equal(t, *published.PublishedAt, *again.PublishedAt)
	assert.Equal(t, 1, env.recorder.Count(events.TemplateVersionPublishedEvent))
}

func TestTemplates_PublishRejectsInvalidGraphs(t *testing.T) {
	tests := []struct {
		name      string
		steps     []StepInput
		expectErr error
		check     func(t *testing.T, err error)
	}{
		{
			name:      "cycle",
			steps:     []StepInput{task("a", 1, "c"), task("b", 2, "a"), task("c", 3, "b")},
			expectErr: ErrCyclicDependency,
			check: func(t *testing.T, err error) {
				var cycle *dependency.CycleError
				require.ErrorAs(t, err, &cycle)
				assert.Equal(t, []string{"a", "c", "b", "a"}, cycle.Cycle)
			},
		},
		{
			name:      "self reference",
			steps:     []StepInput{task("a", 1, "a")},
			expectErr: ErrCyclicDependency,
		},
		{
			name:      "dangling",
			steps:     []StepInput{task("a", 1), task("b", 2, "ghost")},
			expectErr: ErrDanglingDependency,
			check: func(t *testing.T, err error) {
				var dangling *dependency.DanglingError
				require.ErrorAs(t, err, &dangling)
				assert.Equal(t, []dependency.Reference{{Step: "b", Missing: "ghost"}}, dangling.References)
			},
		},
		{
			name:      "empty",
			steps:     nil,
			expectErr: ErrEmptyVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			version := env.draft(t, "graph", tt.steps...)

			_, err := env.templates.Publish(context.Background(), version.ID, nil)
			require.ErrorIs(t, err, tt.expectErr)
			assert.True(t, IsDefinitionError(err))

			if tt.check != nil {
				tt.check(t, err)
			}

			stored, err := env.templates.GetVersion(context.Background(), version.ID)
			require.NoError(t, err)
			assert.False(t, stored.IsPublished())
			assert.Empty(t, env.recorder.Events())
		})
	}
}

func TestTemplates_PublishedVersionIsImmutable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stepWithField := task("collect", 1)
	stepWithField.Fields = []FieldInput{textField("name", true)}

	version := env.published(t, "frozen", stepWithField)

	_, err := env.templates.AddStep(ctx, version.ID, task("extra", 2))
	require.ErrorIs(t, err, ErrVersionImmutable)

	_, err = env.templates.UpdateStep(ctx, version.ID, "collect", task("collect", 5))
	require.ErrorIs(t, err, ErrVersionImmutable)

	require.ErrorIs(t, env.templates.RemoveStep(ctx, version.ID, "collect"), ErrVersionImmutable)

	_, err = env.templates.AddField(ctx, version.ID, "collect", textField("email", false))
	require.ErrorIs(t, err, ErrVersionImmutable)

	_, err = env.templates.UpdateField(ctx, version.ID, "collect", "name", textField("name", false))
	require.ErrorIs(t, err, ErrVersionImmutable)

	require.ErrorIs(t, env.templates.RemoveField(ctx, version.ID, "collect", "name"), ErrVersionImmutable)
	require.ErrorIs(t, env.templates.DeleteVersion(ctx, version.ID), ErrVersionImmutable)
	require.ErrorIs(t, env.templates.DeleteTemplate(ctx, version.TemplateID), ErrInvalidState)

	stored, err := env.templates.GetVersion(ctx, version.ID)
	require.NoError(t, err)
	require.Len(t, stored.Steps, 1)
	require.Len(t, stored.Steps[0].Fields, 1)
	assert.True(t, stored.Steps[0].Fields[0].Required)
}

func TestTemplates_StepAndFieldDefinitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	version := env.draft(t, "definitions", task("collect", 1))

	_, err := env.templates.AddStep(ctx, version.ID, task("collect", 2))
	require.ErrorIs(t, err, ErrDuplicateStepKey)

	bad := task("bad", 2)
	bad.Type = "meeting"
	_, err = env.templates.AddStep(ctx, version.ID, bad)
	require.ErrorIs(t, err, ErrInvalidDefinition)

	badRule := task("assign", 2)
	badRule.AssigneeRule = "team:ops"
	_, err = env.templates.AddStep(ctx, version.ID, badRule)
	require.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = env.templates.AddField(ctx, version.ID, "collect", textField("name", true))
	require.NoError(t, err)

	_, err = env.templates.AddField(ctx, version.ID, "collect", textField("name", false))
	require.ErrorIs(t, err, ErrDuplicateFieldKey)

	_, err = env.templates.AddField(ctx, version.ID, "collect", FieldInput{FieldKey: "size", Label: "Size", Type: models.FieldTypeEnum})
	require.ErrorIs(t, err, ErrInvalidDefinition)

	_, err = env.templates.AddField(ctx, version.ID, "collect", FieldInput{
		FieldKey: "count", Label: "Count", Type: models.FieldTypeNumber, DefaultValue: "three",
	})
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = env.templates.AddField(ctx, version.ID, "collect", FieldInput{
		FieldKey: "score", Label: "Score", Type: models.FieldTypeNumber, DefaultValue: 11,
		Validation: &models.ValidationRules{Max: ptr(10.0)},
	})
	require.ErrorIs(t, err, ErrValidationFailed)

	_, err = env.templates.AddField(ctx, version.ID, "missing", textField("x", false))
	require.True(t, IsNotFound(err))

	updated, err := env.templates.UpdateStep(ctx, version.ID, "collect", StepInput{
		StepKey: "collect", Name: "Collect data", Type: models.StepTypeForm, StepOrder: 1, SLAHours: ptr(4),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StepTypeForm, updated.Type)

	stored, err := env.templates.GetVersion(ctx, version.ID)
	require.NoError(t, err)
	require.Len(t, stored.Steps, 1)
	assert.Equal(t, "Collect data", stored.Steps[0].Name)
	require.Len(t, stored.Steps[0].Fields, 1, "fields survive a step update")

	require.NoError(t, env.templates.RemoveField(ctx, version.ID, "collect", "name"))
	require.NoError(t, env.templates.RemoveStep(ctx, version.ID, "collect"))

	stored, err = env.templates.GetVersion(ctx, version.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Steps)
}

func TestTemplates_PublishChecksReferences(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	hidden := task("form", 1)
	hidden.Fields = []FieldInput{{
		FieldKey: "reason", Label: "Reason", Type: models.FieldTypeString,
		VisibleWhen: &models.VisibilityRule{Field: "decision", Operator: models.VisibilityOperatorEq, Value: "no"},
	}}

	version := env.draft(t, "refs", hidden)

	_, err := env.templates.Publish(ctx, version.ID, nil)
	require.ErrorIs(t, err, ErrInvalidDefinition)

	assigned := task("assign", 2, "form")
	assigned.AssigneeRule = "field:form.owner"

	other := env.draft(t, "assign-refs", task("form", 1), assigned)

	_, err = env.templates.Publish(ctx, other.ID, nil)
	require.ErrorIs(t, err, ErrInvalidDefinition)
}

func TestTemplates_CreateDraftFromVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	collect := task("collect", 1)
	collect.Fields = []FieldInput{textField("name", true)}

	published := env.published(t, "copy", collect, task("review", 2, "collect"))

	next, err := env.templates.CreateDraftVersion(ctx, published.TemplateID, CreateVersionRequest{
		Version: "1.1.0", FromVersionID: published.ID,
	})
	require.NoError(t, err)
	require.Len(t, next.Steps, 2)
	assert.NotEqual(t, published.Steps[0].ID, next.Steps[0].ID)
	assert.Equal(t, []string{"collect"}, next.Step("review").DependsOn)
	require.Len(t, next.Step("collect").Fields, 1)
	assert.Equal(t, next.Step("collect").ID, next.Step("collect").Fields[0].StepID)

	_, err = env.templates.AddField(ctx, next.ID, "collect", textField("email", true))
	require.NoError(t, err)

	original, err := env.templates.GetVersion(ctx, published.ID)
	require.NoError(t, err)
	assert.Len(t, original.Step("collect").Fields, 1)
}

func TestTemplates_DeleteTemplate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	version := env.draft(t, "temp", task("a", 1))

	require.NoError(t, env.templates.DeleteTemplate(ctx, version.TemplateID))

	_, err := env.templates.GetVersion(ctx, version.ID)
	assert.True(t, errors.Is(err, persistence.ErrVersionNotFound))
}

func TestTemplates_ListTemplates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.published(t, "one", task("a", 1))
	env.draft(t, "two", task("a", 1))

	all, err := env.templates.ListTemplates(ctx, persistence.ListTemplatesOptions{TenantID: "tenant-1"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	published := models.TemplateStatusPublished
	onlyPublished, err := env.templates.ListTemplates(ctx, persistence.ListTemplatesOptions{TenantID: "tenant-1", Status: &published})
	require.NoError(t, err)
	require.Len(t, onlyPublished, 1)
	assert.Equal(t, "one", onlyPublished[0].Code)
}

func TestParseAssigneeRule(t *testing.T) {
	tests := []struct {
		rule    string
		want    AssigneeRule
		wantErr bool
	}{
		{rule: "", want: AssigneeRule{}},
		{rule: "user:42", want: AssigneeRule{Kind: AssigneeUser, Value: "42"}},
		{rule: "role:legal", want: AssigneeRule{Kind: AssigneeRole, Value: "legal"}},
		{rule: "field:intake.owner", want: AssigneeRule{Kind: AssigneeField, Value: "intake.owner", StepKey: "intake", FieldKey: "owner"}},
		{rule: "field:intake", wantErr: true},
		{rule: "user:", wantErr: true},
		{rule: "group:x", wantErr: true},
		{rule: "plain", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			got, err := ParseAssigneeRule(tt.rule)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidDefinition)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
