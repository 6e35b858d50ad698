package services_test

import (
	"testing"

	"github.com/dukex/worktemplate/pkg/persistence"
	"github.com/dukex/worktemplate/pkg/persistence/file"
	"github.com/dukex/worktemplate/pkg/services/servicestest"
	"github.com/stretchr/testify/require"
)

func TestConcurrency_Memory(t *testing.T) {
	servicestest.RunConcurrency(t, func(t *testing.T) persistence.Persistence {
		return file.NewMemoryPersistence()
	})
}

func TestConcurrency_File(t *testing.T) {
	servicestest.RunConcurrency(t, func(t *testing.T) persistence.Persistence {
		p, err := file.NewPersistence(t.TempDir())
		require.NoError(t, err)

		return p
	})
}
