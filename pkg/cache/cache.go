// Package cache keeps published version snapshots close to the instance engine.
//
// Published versions never change, so entries never need invalidation; the TTL only bounds memory.
package cache

import (
	"context"

	"github.com/dukex/worktemplate/pkg/models"
)

// SnapshotCache stores published snapshots by version id. A miss returns (nil, nil).
type SnapshotCache interface {
	Get(ctx context.Context, versionID string) (*models.VersionSnapshot, error)
	Set(ctx context.Context, snapshot *models.VersionSnapshot) error
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) (*models.VersionSnapshot, error) {
	return nil, nil
}

func (Noop) Set(context.Context, *models.VersionSnapshot) error {
	return nil
}
