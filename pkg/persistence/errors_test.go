package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/worktemplate/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("entity error matches its sentinel", func(t *testing.T) {
		err := persistence.NewEntityError("GetByID", "template", "template-123", persistence.ErrTemplateNotFound)

		assert.True(t, persistence.IsTemplateNotFound(err))
		assert.True(t, persistence.IsNotFound(err))
		assert.True(t, errors.Is(err, persistence.ErrTemplateNotFound))
		assert.False(t, errors.Is(err, persistence.ErrVersionNotFound))
	})

	t.Run("entity error contains context", func(t *testing.T) {
		err := persistence.NewEntityError("GetStep", "instance_step", "step-456", persistence.ErrInstanceStepNotFound)

		assert.Contains(t, err.Error(), "GetStep")
		assert.Contains(t, err.Error(), "instance_step step-456")
		assert.Contains(t, err.Error(), "instance step not found")
	})

	t.Run("entity error without id", func(t *testing.T) {
		err := persistence.NewEntityError("List", "instance", "", persistence.ErrInstanceNotFound)

		assert.Equal(t, "List operation failed for instance: work instance not found", err.Error())
	})

	t.Run("conflicts are not not-found", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", persistence.NewEntityError("Create", "template", "t", persistence.ErrTemplateCodeExists))

		assert.False(t, persistence.IsNotFound(err))
		assert.True(t, errors.Is(err, persistence.ErrTemplateCodeExists))
	})

	t.Run("every not-found sentinel is recognized", func(t *testing.T) {
		for _, sentinel := range []error{
			persistence.ErrTemplateNotFound,
			persistence.ErrVersionNotFound,
			persistence.ErrStepNotFound,
			persistence.ErrFieldNotFound,
			persistence.ErrInstanceNotFound,
			persistence.ErrInstanceStepNotFound,
			persistence.ErrFieldValueNotFound,
			persistence.ErrApprovalNotFound,
			persistence.ErrDeliverableTemplateNotFound,
			persistence.ErrDeliverableVersionNotFound,
		} {
			assert.True(t, persistence.IsNotFound(sentinel), sentinel.Error())
		}
	})
}
