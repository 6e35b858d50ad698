package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/worktemplate/pkg/persistence"
	"github.com/dukex/worktemplate/pkg/persistence/persistencetest"
	"github.com/dukex/worktemplate/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPersistence(t *testing.T) {
	root := t.TempDir()

	p, err := NewPersistence("file://" + root)
	require.NoError(t, err)
	assert.Equal(t, root, p.root)

	memory := NewMemoryPersistence()
	assert.Empty(t, memory.root)
	require.NoError(t, memory.HealthCheck(t.Context()))
}

func TestPersistence_Close(t *testing.T) {
	p := NewMemoryPersistence()
	assert.NoError(t, p.Close(t.Context()))
}

func TestPersistence_Repositories(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Persistence {
		p, err := NewPersistence(t.TempDir())
		require.NoError(t, err)

		return p
	})
}

func TestPersistence_MemoryRepositories(t *testing.T) {
	persistencetest.Run(t, func(_ *testing.T) persistence.Persistence {
		return NewMemoryPersistence()
	})
}

func TestPersistence_StateSurvivesReopen(t *testing.T) {
	root := t.TempDir()

	p, err := NewPersistence(root)
	require.NoError(t, err)

	template := testutil.CreateTestTemplate()

	err = p.Transact(t.Context(), func(ctx context.Context, tx persistence.Tx) error {
		return tx.Templates().Create(ctx, template)
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, stateFile))
	assert.NoFileExists(t, filepath.Join(root, stateFile+".tmp"))

	reopened, err := NewPersistence(root)
	require.NoError(t, err)

	err = reopened.Transact(t.Context(), func(ctx context.Context, tx persistence.Tx) error {
		stored, err := tx.Templates().GetByID(ctx, template.ID)
		require.NoError(t, err)
		assert.Equal(t, template.Code, stored.Code)

		return nil
	})
	require.NoError(t, err)
}

func TestPersistence_CorruptStateFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, stateFile), []byte("{not json"), 0o600))

	_, err := NewPersistence(root)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decode state file")
}

func TestPersistence_CancelledContext(t *testing.T) {
	p := NewMemoryPersistence()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	called := false
	err := p.Transact(ctx, func(context.Context, persistence.Tx) error {
		called = true

		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestPersistence_HealthCheckMissingRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "store")

	p, err := NewPersistence(root)
	require.NoError(t, err)
	require.NoError(t, p.HealthCheck(t.Context()))

	require.NoError(t, os.RemoveAll(root))
	assert.Error(t, p.HealthCheck(t.Context()))
}
