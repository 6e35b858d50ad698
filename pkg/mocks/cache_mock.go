package mocks

import (
	"context"

	"github.com/dukex/worktemplate/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockSnapshotCache is a mock implementation of cache.SnapshotCache interface.
type MockSnapshotCache struct {
	mock.Mock
}

func (m *MockSnapshotCache) Get(ctx context.Context, versionID string) (*models.VersionSnapshot, error) {
	args := m.Called(ctx, versionID)

	snapshot, _ := args.Get(0).(*models.VersionSnapshot)

	return snapshot, args.Error(1)
}

func (m *MockSnapshotCache) Set(ctx context.Context, snapshot *models.VersionSnapshot) error {
	args := m.Called(ctx, snapshot)

	return args.Error(0)
}
