// Package registry is the durable store of gazettes and crawl attempts
// (C1): the authoritative record governing when to reprocess a document,
// reuse cached OCR/analysis work, or drop it.
package registry

import "time"

// Gazette statuses track the crawl/OCR/analysis lifecycle; the
// transitions between them are driven by OCRStage.handle in
// internal/stage/ocr.go.
const (
	StatusPending       = "pending"
	StatusUploaded      = "uploaded"
	StatusOCRProcessing = "ocr_processing"
	StatusOCRRetrying   = "ocr_retrying"
	StatusOCRFailure    = "ocr_failure"
	StatusOCRSuccess    = "ocr_success"
)

// GazetteCrawl statuses.
const (
	CrawlStatusCreated         = "created"
	CrawlStatusProcessing      = "processing"
	CrawlStatusAnalysisPending = "analysis_pending"
	CrawlStatusSuccess         = "success"
	CrawlStatusFailed          = "failed"
)

// Power is the branch of government that published a gazette.
type Power string

const (
	PowerExecutive            Power = "executive"
	PowerLegislative          Power = "legislative"
	PowerExecutiveLegislative Power = "executive_legislative"
)

// Gazette is one row per canonical document.
type Gazette struct {
	GazetteID       string
	TerritoryID     string
	PDFURL          string
	PublicationDate time.Time
	EditionNumber   string
	IsExtraEdition  bool
	Power           Power
	PDFObjectKey    string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// GazetteCrawl is one row per (job, gazette) ingestion attempt.
type GazetteCrawl struct {
	CrawlID          string
	JobID            string
	TerritoryID      string
	SpiderID         string
	GazetteID        string
	ScrapedAt        time.Time
	Status           string
	AnalysisResultID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Candidate is what a spider hands to find_or_create before URL
// resolution and id assignment.
type Candidate struct {
	TerritoryID     string
	PDFURL          string
	PublicationDate time.Time
	EditionNumber   string
	IsExtraEdition  bool
	Power           Power
}

// CrawlAttempt is what the crawl stage hands to create_crawl.
type CrawlAttempt struct {
	JobID       string
	TerritoryID string
	SpiderID    string
	GazetteID   string
	ScrapedAt   time.Time
}
