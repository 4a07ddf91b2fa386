package crawljob

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

func (r *PostgresRepository) Create(ctx context.Context, j *Job) error {
	ctx, span := telemetry.StartSpan(ctx, "crawljob.Create")
	defer span.End()

	metadata := j.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("crawljob: marshal metadata: %w", err)
	}

	const query = `
		INSERT INTO crawl_jobs (job_id, status, total_spiders, start_date, end_date, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		j.JobID, j.Status, j.TotalSpiders, j.StartDate, j.EndDate, raw,
	).Scan(&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("crawljob: create: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, jobID string) (*Job, error) {
	ctx, span := telemetry.StartSpan(ctx, "crawljob.GetByID")
	defer span.End()

	const query = `
		SELECT job_id, status, total_spiders, completed_spiders, failed_spiders,
		       COALESCE(start_date, '0001-01-01'), COALESCE(end_date, '0001-01-01'),
		       metadata, created_at, updated_at
		FROM crawl_jobs
		WHERE job_id = $1
	`
	j := &Job{}
	var metadata []byte
	err := r.db.QueryRow(ctx, query, jobID).Scan(
		&j.JobID, &j.Status, &j.TotalSpiders, &j.CompletedSpiders, &j.FailedSpiders,
		&j.StartDate, &j.EndDate, &metadata, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("crawljob: get by id: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &j.Metadata); err != nil {
			return nil, fmt.Errorf("crawljob: unmarshal metadata: %w", err)
		}
	}
	return j, nil
}

func (r *PostgresRepository) IncrementCompleted(ctx context.Context, jobID string) error {
	ctx, span := telemetry.StartSpan(ctx, "crawljob.IncrementCompleted")
	defer span.End()

	const query = `UPDATE crawl_jobs SET completed_spiders = completed_spiders + 1, updated_at = now() WHERE job_id = $1`
	_, err := r.db.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("crawljob: increment completed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) IncrementFailed(ctx context.Context, jobID string) error {
	ctx, span := telemetry.StartSpan(ctx, "crawljob.IncrementFailed")
	defer span.End()

	const query = `UPDATE crawl_jobs SET failed_spiders = failed_spiders + 1, updated_at = now() WHERE job_id = $1`
	_, err := r.db.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("crawljob: increment failed: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetStatus(ctx context.Context, jobID string, status string) error {
	ctx, span := telemetry.StartSpan(ctx, "crawljob.SetStatus")
	defer span.End()

	const query = `UPDATE crawl_jobs SET status = $1, updated_at = now() WHERE job_id = $2`
	_, err := r.db.Exec(ctx, query, status, jobID)
	if err != nil {
		return fmt.Errorf("crawljob: set status: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AppendEvent(ctx context.Context, e *Event) error {
	ctx, span := telemetry.StartSpan(ctx, "crawljob.AppendEvent")
	defer span.End()

	detail := e.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("crawljob: marshal detail: %w", err)
	}

	const query = `
		INSERT INTO crawl_job_events (job_id, event_type, status, duration_ms, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING event_id, recorded_at
	`
	err = r.db.QueryRow(ctx, query, e.JobID, e.EventType, e.Status, e.DurationMS, raw).
		Scan(&e.EventID, &e.RecordedAt)
	if err != nil {
		return fmt.Errorf("crawljob: append event: %w", err)
	}
	return nil
}
