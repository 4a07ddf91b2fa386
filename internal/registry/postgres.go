package registry

import (
	"context"
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

func (r *PostgresRepository) FindByURL(ctx context.Context, pdfURL string) (*Gazette, error) {
	ctx, span := telemetry.StartSpan(ctx, "registry.FindByURL")
	defer span.End()

	const query = `
		SELECT gazette_id, territory_id, pdf_url, publication_date, edition_number,
		       is_extra_edition, power, COALESCE(pdf_object_key, ''), status, created_at, updated_at
		FROM gazettes
		WHERE pdf_url = $1
	`

	g := &Gazette{}
	var power string
	err := r.db.QueryRow(ctx, query, pdfURL).Scan(
		&g.GazetteID, &g.TerritoryID, &g.PDFURL, &g.PublicationDate, &g.EditionNumber,
		&g.IsExtraEdition, &power, &g.PDFObjectKey, &g.Status, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("registry: find by url: %w", err)
	}
	g.Power = Power(power)
	return g, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, g *Gazette) error {
	ctx, span := telemetry.StartSpan(ctx, "registry.Insert")
	defer span.End()

	const query = `
		INSERT INTO gazettes (
			gazette_id, territory_id, pdf_url, publication_date, edition_number,
			is_extra_edition, power, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		g.GazetteID, g.TerritoryID, g.PDFURL, g.PublicationDate, g.EditionNumber,
		g.IsExtraEdition, string(g.Power), g.Status,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("registry: insert gazette: %w", err)
	}
	return nil
}

func (r *PostgresRepository) CompareAndSwapStatus(ctx context.Context, gazetteID string, fromAny []string, to string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "registry.CompareAndSwapStatus")
	defer span.End()

	const query = `
		UPDATE gazettes
		SET status = $1, updated_at = now()
		WHERE gazette_id = $2 AND status = ANY($3)
	`

	tag, err := r.db.Exec(ctx, query, to, gazetteID, fromAny)
	if err != nil {
		return false, fmt.Errorf("registry: cas status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) SetStatus(ctx context.Context, gazetteID string, status string) error {
	ctx, span := telemetry.StartSpan(ctx, "registry.SetStatus")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.GazetteAttributes(gazetteID, "")...)

	const query = `UPDATE gazettes SET status = $1, updated_at = now() WHERE gazette_id = $2`
	_, err := r.db.Exec(ctx, query, status, gazetteID)
	if err != nil {
		return fmt.Errorf("registry: set status: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetObjectKey(ctx context.Context, gazetteID string, key string) error {
	ctx, span := telemetry.StartSpan(ctx, "registry.SetObjectKey")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.GazetteAttributes(gazetteID, "")...)

	const query = `
		UPDATE gazettes
		SET pdf_object_key = $1, updated_at = now()
		WHERE gazette_id = $2 AND pdf_object_key IS NULL
	`
	_, err := r.db.Exec(ctx, query, key, gazetteID)
	if err != nil {
		return fmt.Errorf("registry: set object key: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, gazetteID string) (*Gazette, error) {
	ctx, span := telemetry.StartSpan(ctx, "registry.GetByID")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.GazetteAttributes(gazetteID, "")...)

	const query = `
		SELECT gazette_id, territory_id, pdf_url, publication_date, edition_number,
		       is_extra_edition, power, COALESCE(pdf_object_key, ''), status, created_at, updated_at
		FROM gazettes
		WHERE gazette_id = $1
	`

	g := &Gazette{}
	var power string
	err := r.db.QueryRow(ctx, query, gazetteID).Scan(
		&g.GazetteID, &g.TerritoryID, &g.PDFURL, &g.PublicationDate, &g.EditionNumber,
		&g.IsExtraEdition, &power, &g.PDFObjectKey, &g.Status, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("registry: get gazette: %w", err)
	}
	g.Power = Power(power)
	return g, nil
}

func (r *PostgresRepository) CreateCrawl(ctx context.Context, c *GazetteCrawl) error {
	ctx, span := telemetry.StartSpan(ctx, "registry.CreateCrawl")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.GazetteAttributes(c.GazetteID, c.TerritoryID)...)
	telemetry.SetAttributes(ctx, telemetry.CrawlAttributes(c.CrawlID, c.JobID)...)

	const query = `
		INSERT INTO gazette_crawls (
			crawl_id, job_id, territory_id, spider_id, gazette_id, scraped_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		c.CrawlID, c.JobID, c.TerritoryID, c.SpiderID, c.GazetteID, c.ScrapedAt, c.Status,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("registry: create crawl: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetCrawlStatus(ctx context.Context, crawlID string, status string) error {
	ctx, span := telemetry.StartSpan(ctx, "registry.SetCrawlStatus")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.CrawlAttributes(crawlID, "")...)

	const query = `UPDATE gazette_crawls SET status = $1, updated_at = now() WHERE crawl_id = $2`
	_, err := r.db.Exec(ctx, query, status, crawlID)
	if err != nil {
		return fmt.Errorf("registry: set crawl status: %w", err)
	}
	return nil
}

// CompleteCrawl links analysisID to crawlID and sets status in one
// transaction, via database.WithTransaction, so a reader never observes
// the row mid-way between the two writes.
func (r *PostgresRepository) CompleteCrawl(ctx context.Context, crawlID string, analysisID string, status string) error {
	ctx, span := telemetry.StartSpan(ctx, "registry.CompleteCrawl")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.CrawlAttributes(crawlID, "")...)

	err := database.WithTransaction(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE gazette_crawls SET analysis_result_id = $1, updated_at = now() WHERE crawl_id = $2`,
			analysisID, crawlID,
		); err != nil {
			return fmt.Errorf("link analysis: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE gazette_crawls SET status = $1, updated_at = now() WHERE crawl_id = $2`,
			status, crawlID,
		); err != nil {
			return fmt.Errorf("set crawl status: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("registry: complete crawl: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetCrawlByID(ctx context.Context, crawlID string) (*GazetteCrawl, error) {
	ctx, span := telemetry.StartSpan(ctx, "registry.GetCrawlByID")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.CrawlAttributes(crawlID, "")...)

	c, err := r.scanCrawl(ctx, `
		SELECT crawl_id, job_id, territory_id, spider_id, gazette_id, scraped_at,
		       status, COALESCE(analysis_result_id, ''), created_at, updated_at
		FROM gazette_crawls
		WHERE crawl_id = $1
	`, crawlID)
	return c, err
}

func (r *PostgresRepository) FindCrawl(ctx context.Context, jobID, gazetteID string) (*GazetteCrawl, error) {
	ctx, span := telemetry.StartSpan(ctx, "registry.FindCrawl")
	defer span.End()

	c, err := r.scanCrawl(ctx, `
		SELECT crawl_id, job_id, territory_id, spider_id, gazette_id, scraped_at,
		       status, COALESCE(analysis_result_id, ''), created_at, updated_at
		FROM gazette_crawls
		WHERE job_id = $1 AND gazette_id = $2
	`, jobID, gazetteID)
	return c, err
}

func (r *PostgresRepository) scanCrawl(ctx context.Context, query string, args ...any) (*GazetteCrawl, error) {
	c := &GazetteCrawl{}
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&c.CrawlID, &c.JobID, &c.TerritoryID, &c.SpiderID, &c.GazetteID, &c.ScrapedAt,
		&c.Status, &c.AnalysisResultID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("registry: scan crawl: %w", err)
	}
	return c, nil
}
