package registry

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a gazette or crawl row does not exist.
var ErrNotFound = errors.New("registry: not found")

// ErrClaimLost is returned by ClaimForProcessing when another worker
// already holds the claim.
var ErrClaimLost = errors.New("registry: claim lost")

// Repository is the durable store behind the Registry service. A single
// implementation (Postgres) backs production; tests use an in-memory
// fake implementing the same interface.
type Repository interface {
	// FindByURL returns the gazette with the given canonical pdf_url, or
	// ErrNotFound.
	FindByURL(ctx context.Context, pdfURL string) (*Gazette, error)
	// Insert creates a new gazette row with status = pending. Callers
	// must have already checked FindByURL; a UNIQUE violation on pdf_url
	// is surfaced as an error (the service layer recovers with a second
	// FindByURL, the "insert-or-ignore then read-back" pattern).
	Insert(ctx context.Context, g *Gazette) error

	// CompareAndSwapStatus transitions a gazette from one of fromAny into
	// to, returning false (no error) if the row's current status is not
	// in fromAny - the CAS primitive behind ClaimForProcessing.
	CompareAndSwapStatus(ctx context.Context, gazetteID string, fromAny []string, to string) (bool, error)
	// SetStatus sets status unconditionally.
	SetStatus(ctx context.Context, gazetteID string, status string) error
	// SetObjectKey sets pdf_object_key once; subsequent calls are no-ops
	// per the "never changes once set" invariant.
	SetObjectKey(ctx context.Context, gazetteID string, key string) error
	// GetByID loads a gazette by id.
	GetByID(ctx context.Context, gazetteID string) (*Gazette, error)

	// CreateCrawl inserts a new GazetteCrawl row with status = created.
	CreateCrawl(ctx context.Context, c *GazetteCrawl) error
	// SetCrawlStatus updates a crawl row's status.
	SetCrawlStatus(ctx context.Context, crawlID string, status string) error
	// CompleteCrawl links an analysis result to a crawl row and marks it
	// with a terminal status in a single transaction - the city-level
	// analysis path writes both facts atomically rather than leaving a
	// window where a crawl is "success" but not yet linked, or linked but
	// not yet "success".
	CompleteCrawl(ctx context.Context, crawlID string, analysisID string, status string) error
	// GetCrawlByID loads a crawl row by id.
	GetCrawlByID(ctx context.Context, crawlID string) (*GazetteCrawl, error)
	// FindCrawl returns the existing crawl for (jobID, gazetteID), or
	// ErrNotFound - used to dedupe a redelivered crawl message per
	// the "enqueue the same crawl message twice" invariant.
	FindCrawl(ctx context.Context, jobID, gazetteID string) (*GazetteCrawl, error)
}
