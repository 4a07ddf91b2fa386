package objectstore

import (
	"context"

	"github.com/qcx/diario-pipeline/pkg/config"
)

// New returns an S3Store when object-store archival is enabled, or a
// MemoryStore (never erroring, never persisted) when it is not - callers
// always get a usable Store and never need to branch on cfg.Enabled
// themselves.
func New(ctx context.Context, cfg *config.ObjectStoreConfig) (Store, error) {
	if !cfg.Enabled {
		return NewMemoryStore(cfg.PublicBaseURL), nil
	}
	return NewS3Store(ctx, cfg)
}
