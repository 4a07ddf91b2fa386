package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/qcx/diario-pipeline/pkg/apperror"
	"github.com/qcx/diario-pipeline/pkg/telemetry"
)

// preOCRStatuses are the gazette statuses ClaimForProcessing may enter
// ocr_processing from - every non-terminal-OCR state.
var preOCRStatuses = []string{StatusPending, StatusUploaded, StatusOCRRetrying}

// urlResolver is the URL-canonicalization dependency of Service, satisfied
// structurally by *Resolver; narrowed here so tests can substitute a fake
// without a live HTTP round trip.
type urlResolver interface {
	Resolve(ctx context.Context, rawURL string) (string, error)
}

// Service implements the Registry's public operations on top of a
// Repository and a URL Resolver.
type Service struct {
	repo     Repository
	resolver urlResolver
}

// NewService builds a registry Service.
func NewService(repo Repository, resolver urlResolver) *Service {
	return &Service{repo: repo, resolver: resolver}
}

// FindOrCreate resolves the candidate's URL to canonical form, then
// inserts a pending row if absent or returns the existing one.
func (s *Service) FindOrCreate(ctx context.Context, candidate Candidate) (*Gazette, error) {
	ctx, span := telemetry.StartSpan(ctx, "registry.Service.FindOrCreate")
	defer span.End()
	telemetry.SetAttributes(ctx, attribute.String("gazette.territory_id", candidate.TerritoryID))

	canonical, err := s.resolver.Resolve(ctx, candidate.PDFURL)
	if err != nil {
		if errors.Is(err, ErrPrivateAddress) {
			return nil, apperror.New(apperror.CodeValidation, "pdf url resolves to a private address").
				WithField("pdf_url").WithRetryable(false)
		}
		if errors.Is(err, ErrInvalidURL) || errors.Is(err, ErrTooManyRedirects) {
			return nil, apperror.New(apperror.CodeValidation, err.Error()).WithField("pdf_url").WithRetryable(false)
		}
		return nil, apperror.New(apperror.CodeExternalAPI, fmt.Sprintf("resolve pdf url: %v", err))
	}

	existing, err := s.repo.FindByURL(ctx, canonical)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, apperror.New(apperror.CodeStorage, fmt.Sprintf("find gazette: %v", err))
	}

	g := &Gazette{
		GazetteID:       uuid.NewString(),
		TerritoryID:     candidate.TerritoryID,
		PDFURL:          canonical,
		PublicationDate: candidate.PublicationDate,
		EditionNumber:   candidate.EditionNumber,
		IsExtraEdition:  candidate.IsExtraEdition,
		Power:           candidate.Power,
		Status:          StatusPending,
	}
	if g.Power == "" {
		g.Power = PowerExecutive
	}

	if err := s.repo.Insert(ctx, g); err != nil {
		// Concurrent insert-or-ignore: another worker may have beaten us
		// to it under the pdf_url UNIQUE constraint; read back instead of
		// failing.
		if existing, findErr := s.repo.FindByURL(ctx, canonical); findErr == nil {
			return existing, nil
		}
		return nil, apperror.New(apperror.CodeStorage, fmt.Sprintf("insert gazette: %v", err))
	}
	return g, nil
}

// ClaimForProcessing compare-and-swaps a gazette's status into
// ocr_processing. Returns false if another worker already holds the
// claim - the single-flight primitive gating the OCR stage.
func (s *Service) ClaimForProcessing(ctx context.Context, gazetteID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "registry.Service.ClaimForProcessing")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.GazetteAttributes(gazetteID, "")...)

	ok, err := s.repo.CompareAndSwapStatus(ctx, gazetteID, preOCRStatuses, StatusOCRProcessing)
	if err != nil {
		return false, apperror.New(apperror.CodeStorage, fmt.Sprintf("claim for processing: %v", err))
	}
	return ok, nil
}

// SetStatus sets a gazette's status unconditionally.
func (s *Service) SetStatus(ctx context.Context, gazetteID string, status string) error {
	ctx, span := telemetry.StartSpan(ctx, "registry.Service.SetStatus")
	defer span.End()

	if err := s.repo.SetStatus(ctx, gazetteID, status); err != nil {
		return apperror.New(apperror.CodeStorage, fmt.Sprintf("set status: %v", err))
	}
	return nil
}

// SetObjectKey records the archive key for a gazette's PDF.
func (s *Service) SetObjectKey(ctx context.Context, gazetteID string, key string) error {
	ctx, span := telemetry.StartSpan(ctx, "registry.Service.SetObjectKey")
	defer span.End()

	if err := s.repo.SetObjectKey(ctx, gazetteID, key); err != nil {
		return apperror.New(apperror.CodeStorage, fmt.Sprintf("set object key: %v", err))
	}
	return nil
}

// GetGazette loads a gazette by id.
func (s *Service) GetGazette(ctx context.Context, gazetteID string) (*Gazette, error) {
	g, err := s.repo.GetByID(ctx, gazetteID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.NewWithField(apperror.CodeNotFound, "gazette not found", "gazette_id")
		}
		return nil, apperror.New(apperror.CodeStorage, fmt.Sprintf("get gazette: %v", err))
	}
	return g, nil
}

// CreateCrawl inserts a GazetteCrawl row for a new ingestion attempt.
// Redelivery-safe: if the (job, gazette) pair already has a row, it is
// returned instead of creating a duplicate.
func (s *Service) CreateCrawl(ctx context.Context, attempt CrawlAttempt) (*GazetteCrawl, error) {
	ctx, span := telemetry.StartSpan(ctx, "registry.Service.CreateCrawl")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.GazetteAttributes(attempt.GazetteID, attempt.TerritoryID)...)

	if existing, err := s.repo.FindCrawl(ctx, attempt.JobID, attempt.GazetteID); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, apperror.New(apperror.CodeStorage, fmt.Sprintf("find crawl: %v", err))
	}

	c := &GazetteCrawl{
		CrawlID:     uuid.NewString(),
		JobID:       attempt.JobID,
		TerritoryID: attempt.TerritoryID,
		SpiderID:    attempt.SpiderID,
		GazetteID:   attempt.GazetteID,
		ScrapedAt:   attempt.ScrapedAt,
		Status:      CrawlStatusCreated,
	}
	if err := s.repo.CreateCrawl(ctx, c); err != nil {
		if existing, findErr := s.repo.FindCrawl(ctx, attempt.JobID, attempt.GazetteID); findErr == nil {
			return existing, nil
		}
		return nil, apperror.New(apperror.CodeStorage, fmt.Sprintf("create crawl: %v", err))
	}
	return c, nil
}

// SetCrawlStatus updates a crawl row's status.
func (s *Service) SetCrawlStatus(ctx context.Context, crawlID string, status string) error {
	ctx, span := telemetry.StartSpan(ctx, "registry.Service.SetCrawlStatus")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.CrawlAttributes(crawlID, "")...)

	if err := s.repo.SetCrawlStatus(ctx, crawlID, status); err != nil {
		return apperror.New(apperror.CodeStorage, fmt.Sprintf("set crawl status: %v", err))
	}
	return nil
}

// CompleteCrawl links analysisID to a crawl row and marks it with a
// terminal status in one transaction - the city-level analysis path's
// final write, where the two facts must land together.
func (s *Service) CompleteCrawl(ctx context.Context, crawlID string, analysisID string, status string) error {
	ctx, span := telemetry.StartSpan(ctx, "registry.Service.CompleteCrawl")
	defer span.End()
	telemetry.SetAttributes(ctx, telemetry.CrawlAttributes(crawlID, "")...)

	if err := s.repo.CompleteCrawl(ctx, crawlID, analysisID, status); err != nil {
		return apperror.New(apperror.CodeStorage, fmt.Sprintf("complete crawl: %v", err))
	}
	return nil
}

// GetCrawl loads a crawl row by id.
func (s *Service) GetCrawl(ctx context.Context, crawlID string) (*GazetteCrawl, error) {
	c, err := s.repo.GetCrawlByID(ctx, crawlID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperror.NewWithField(apperror.CodeNotFound, "crawl not found", "crawl_id")
		}
		return nil, apperror.New(apperror.CodeStorage, fmt.Sprintf("get crawl: %v", err))
	}
	return c, nil
}
