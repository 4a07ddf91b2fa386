package ocr

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no OCR result exists for a gazette.
var ErrNotFound = errors.New("ocr: not found")

// Repository is the relational fallback tier behind the KV cache.
type Repository interface {
	// Get returns the OCR result for a gazette id, or ErrNotFound.
	Get(ctx context.Context, gazetteID string) (*Result, error)
	// Insert writes a new OCR result. Callers must check Get first;
	// inserting over an existing gazette_id is a no-op success (the
	// "insert-or-ignore then read-back" pattern), since a redelivered
	// OCR message must not fail on the second write.
	Insert(ctx context.Context, r *Result) error
}
