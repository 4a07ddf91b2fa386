package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

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

func (r *PostgresRepository) Get(ctx context.Context, territoryID, gazetteID, configHash, cityFilter string) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "analysis.Get")
	defer span.End()

	const query = `
		SELECT analysis_id, COALESCE(job_id, ''), territory_id, gazette_id, config_hash, city_filter,
		       COALESCE(publication_date, '0001-01-01'), total_findings, high_confidence_findings,
		       categories, keywords, findings, summary, metadata, analyzed_at
		FROM analysis_results
		WHERE territory_id = $1 AND gazette_id = $2 AND config_hash = $3 AND city_filter = $4
	`
	return r.scan(ctx, query, territoryID, gazetteID, configHash, cityFilter)
}

func (r *PostgresRepository) Insert(ctx context.Context, res *Result) error {
	ctx, span := telemetry.StartSpan(ctx, "analysis.Insert")
	defer span.End()

	findings, err := json.Marshal(res.Findings)
	if err != nil {
		return fmt.Errorf("analysis: marshal findings: %w", err)
	}
	summary := res.Summary
	if summary == nil {
		summary = map[string]any{}
	}
	summaryRaw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("analysis: marshal summary: %w", err)
	}
	metadata := res.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataRaw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("analysis: marshal metadata: %w", err)
	}

	const query = `
		INSERT INTO analysis_results (
			analysis_id, job_id, territory_id, gazette_id, config_hash, city_filter,
			publication_date, total_findings, high_confidence_findings,
			categories, keywords, findings, summary, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (territory_id, gazette_id, config_hash, city_filter) DO NOTHING
		RETURNING analyzed_at
	`
	err = r.db.QueryRow(ctx, query,
		res.AnalysisID, res.JobID, res.TerritoryID, res.GazetteID, res.ConfigHash, res.CityFilter,
		res.PublicationDate, res.TotalFindings, res.HighConfidenceFindings,
		res.Categories, res.Keywords, findings, summaryRaw, metadataRaw,
	).Scan(&res.AnalyzedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("analysis: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scan(ctx context.Context, query string, args ...any) (*Result, error) {
	res := &Result{}
	var categories, keywords pgtype.Array[string]
	var findingsRaw, summaryRaw, metadataRaw []byte

	err := r.db.QueryRow(ctx, query, args...).Scan(
		&res.AnalysisID, &res.JobID, &res.TerritoryID, &res.GazetteID, &res.ConfigHash, &res.CityFilter,
		&res.PublicationDate, &res.TotalFindings, &res.HighConfidenceFindings,
		&categories, &keywords, &findingsRaw, &summaryRaw, &metadataRaw, &res.AnalyzedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("analysis: scan: %w", err)
	}
	res.Categories = categories.Elements
	res.Keywords = keywords.Elements
	if len(findingsRaw) > 0 {
		if err := json.Unmarshal(findingsRaw, &res.Findings); err != nil {
			return nil, fmt.Errorf("analysis: unmarshal findings: %w", err)
		}
	}
	if len(summaryRaw) > 0 {
		if err := json.Unmarshal(summaryRaw, &res.Summary); err != nil {
			return nil, fmt.Errorf("analysis: unmarshal summary: %w", err)
		}
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &res.Metadata); err != nil {
			return nil, fmt.Errorf("analysis: unmarshal metadata: %w", err)
		}
	}
	return res, nil
}
