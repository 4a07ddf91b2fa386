// Package messages defines the JSON payloads carried on the four queues
// (crawl, ocr, analysis, webhook) that hand work between pipeline stages.
// Each stage consumer unmarshals exactly the message it owns; nothing
// here depends on internal/stage, keeping the wire format independent of
// consumer wiring.
package messages

import "time"

// DateRange bounds a crawl by the gazette's own publication date.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Crawl is the message enqueued once per spider invocation by the
// dispatcher (C4), consumed by the crawl stage (C5).
type Crawl struct {
	SpiderID     string         `json:"spiderId"`
	TerritoryID  string         `json:"territoryId"`
	SpiderType   string         `json:"spiderType"`
	GazetteScope string         `json:"gazetteScope"` // city, state
	Config       map[string]any `json:"config,omitempty"`
	DateRange    DateRange      `json:"dateRange"`
	RetryCount   int            `json:"retryCount,omitempty"`
	CrawlJobID   string         `json:"crawlJobId"`
}

// GazetteRef is the subset of a registry Gazette a downstream stage needs,
// carried by value on the queue so a consumer never has to load the row
// just to learn its own inputs.
type GazetteRef struct {
	GazetteID       string    `json:"gazetteId"`
	TerritoryID     string    `json:"territoryId"`
	PDFURL          string    `json:"pdfUrl"`
	PublicationDate time.Time `json:"publicationDate"`
	EditionNumber   string    `json:"editionNumber,omitempty"`
	IsExtraEdition  bool      `json:"isExtraEdition,omitempty"`
	Power           string    `json:"power,omitempty"`
}

// GazetteCrawlRef is the subset of a GazetteCrawl row a downstream stage
// needs.
type GazetteCrawlRef struct {
	CrawlID     string    `json:"crawlId"`
	JobID       string    `json:"jobId"`
	TerritoryID string    `json:"territoryId"`
	SpiderID    string    `json:"spiderId"`
	GazetteID   string    `json:"gazetteId"`
	ScrapedAt   time.Time `json:"scrapedAt"`
}

// SpiderConfig is the subset of a catalog entry the analysis stage needs
// to decide scope and territory filtering.
type SpiderConfig struct {
	SpiderID     string `json:"spiderId"`
	SpiderType   string `json:"spiderType"`
	GazetteScope string `json:"gazetteScope"`
}

// OCR is the message enqueued by the crawl stage (C5), consumed by the
// OCR stage (C6).
type OCR struct {
	JobID        string          `json:"jobId"`
	GazetteCrawl GazetteCrawlRef `json:"gazetteCrawl"`
	Gazette      GazetteRef      `json:"gazette"`
	SpiderConfig SpiderConfig    `json:"spiderConfig"`
	CrawlJobID   string          `json:"crawlJobId"`
	QueuedAt     time.Time       `json:"queuedAt"`
}

// Analysis is the message enqueued by the OCR stage (C6), consumed by the
// analysis stage (C7).
type Analysis struct {
	JobID        string          `json:"jobId"`
	GazetteCrawl GazetteCrawlRef `json:"gazetteCrawl"`
	Gazette      GazetteRef      `json:"gazette"`
	OCRResultID  string          `json:"ocrResult"`
	SpiderConfig SpiderConfig    `json:"spiderConfig"`
	CrawlJobID   string          `json:"crawlJobId"`
	QueuedAt     time.Time       `json:"queuedAt"`
}

// AnalysisCallback is the payload rendered into webhook deliveries and
// carried by the Webhook message.
type AnalysisCallback struct {
	AnalysisResultID       string    `json:"analysisResultId"`
	GazetteCrawlID         string    `json:"gazetteCrawlId"`
	TerritoryID            string    `json:"territoryId"`
	SpiderID               string    `json:"spiderId"`
	FindingsCount          int       `json:"findingsCount"`
	Categories             []string  `json:"categories"`
	HighConfidenceFindings int       `json:"highConfidenceFindings"`
	Keywords               []string  `json:"keywords"`
	JobID                  string    `json:"jobId"`
	GazetteID              string    `json:"gazetteId"`
	PublicationDate        time.Time `json:"publicationDate"`
	AnalyzedAt             time.Time `json:"analyzedAt"`
}

// Webhook is the message enqueued by the analysis stage (C7), consumed by
// the webhook stage (C8).
type Webhook struct {
	Type      string           `json:"type"` // analysis_complete
	Payload   AnalysisCallback `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
}
