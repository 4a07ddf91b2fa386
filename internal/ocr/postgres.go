package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/qcx/diario-pipeline/pkg/database"
	"github.com/qcx/diario-pipeline/pkg/telemetry"
)

// PostgresRepository is the production Repository implementation.
type PostgresRepository struct {
	db database.DB
}

// NewPostgresRepository wraps a DB handle.
func NewPostgresRepository(db database.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, gazetteID string) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "ocr.Get")
	defer span.End()

	const query = `
		SELECT gazette_id, extracted_text, text_length, confidence,
		       COALESCE(language, ''), method, metadata, created_at
		FROM ocr_results
		WHERE gazette_id = $1
	`

	res := &Result{}
	var metadata []byte
	err := r.db.QueryRow(ctx, query, gazetteID).Scan(
		&res.GazetteID, &res.ExtractedText, &res.TextLength, &res.Confidence,
		&res.Language, &res.Method, &metadata, &res.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ocr: get: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &res.Metadata); err != nil {
			return nil, fmt.Errorf("ocr: unmarshal metadata: %w", err)
		}
	}
	return res, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, res *Result) error {
	ctx, span := telemetry.StartSpan(ctx, "ocr.Insert")
	defer span.End()

	metadata := res.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("ocr: marshal metadata: %w", err)
	}

	const query = `
		INSERT INTO ocr_results (
			gazette_id, extracted_text, text_length, confidence, language, method, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (gazette_id) DO NOTHING
		RETURNING created_at
	`

	err = r.db.QueryRow(ctx, query,
		res.GazetteID, res.ExtractedText, res.TextLength, res.Confidence,
		nullIfEmpty(res.Language), res.Method, encoded,
	).Scan(&res.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict hit: another worker already inserted this gazette's
			// OCR result. Not an error - the caller reads it back.
			return nil
		}
		return fmt.Errorf("ocr: insert: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
