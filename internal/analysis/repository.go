package analysis

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no row matches the dedup key.
var ErrNotFound = errors.New("analysis: not found")

// Repository is the storage port for AnalysisResult rows, keyed by
// (territory, gazette, configHash[, cityFilter]).
type Repository interface {
	Get(ctx context.Context, territoryID, gazetteID, configHash, cityFilter string) (*Result, error)
	Insert(ctx context.Context, r *Result) error
}
