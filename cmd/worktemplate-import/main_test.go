package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/worktemplate/pkg/persistence"
	"github.com/dukex/worktemplate/pkg/persistence/file"
	"github.com/dukex/worktemplate/pkg/services"
	"github.com/dukex/worktemplate/pkg/templatefile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const definition = `
code: audit
name: Audit
version: 1.0.0
steps:
  - key: collect
    name: Collect evidence
  - key: sign
    name: Sign off
    type: approval
    depends_on: [collect]
`

func writeDefinition(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestImportFiles(t *testing.T) {
	ctx := context.Background()
	templates := services.NewTemplates(file.NewMemoryPersistence())
	path := writeDefinition(t, t.TempDir(), "audit.yaml", definition)

	err := importFiles(ctx, slog.Default(), templates, []string{path}, templatefile.ApplyOptions{TenantID: "acme", Publish: true})
	require.NoError(t, err)

	list, err := templates.ListTemplates(ctx, persistence.ListTemplatesOptions{TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	versions, err := templates.ListVersions(ctx, list[0].ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.NotNil(t, versions[0].PublishedAt)
}

func TestCommand_PersistsToFileDatabase(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinition(t, dir, "audit.yaml", definition)
	root := filepath.Join(dir, "db")

	err := newCommand(slog.Default()).Run(context.Background(), []string{
		"worktemplate-import", "--database-url", "file://" + root, "--tenant", "acme", "--actor", "ops", path,
	})
	require.NoError(t, err)

	p, err := file.NewPersistence(root)
	require.NoError(t, err)

	list, err := services.NewTemplates(p).ListTemplates(context.Background(), persistence.ListTemplatesOptions{TenantID: "acme"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].CreatedBy)
	assert.Equal(t, "ops", *list[0].CreatedBy)
}

func TestCommand_RequiresFiles(t *testing.T) {
	err := newCommand(slog.Default()).Run(context.Background(), []string{
		"worktemplate-import", "--database-url", "memory://", "--tenant", "acme",
	})
	require.ErrorIs(t, err, errNoFiles)
}
