// Package crawljob is the CrawlJob aggregate (C4): one row per dispatcher
// invocation, tracking a batch of per-spider crawls end to end, plus an
// append-only progress-event log. The counters on the job row are
// monotonic hints updated from multiple stages without a shared
// transaction; the event log, not the counters, is the source of truth
// for "what actually happened".
package crawljob

import "time"

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event types recorded in the progress log, one per stage transition.
const (
	EventCrawlStart    = "crawl_start"
	EventCrawlEnd      = "crawl_end"
	EventOCRStart      = "ocr_start"
	EventOCREnd        = "ocr_end"
	EventAnalysisStart = "analysis_start"
	EventAnalysisEnd   = "analysis_end"
	EventWebhookSent   = "webhook_sent"
)

// Job is one CrawlJob aggregate row.
type Job struct {
	JobID            string
	Status           string
	TotalSpiders     int
	CompletedSpiders int
	FailedSpiders    int
	StartDate        time.Time
	EndDate          time.Time
	Metadata         map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Event is one append-only progress record.
type Event struct {
	EventID    int64
	JobID      string
	EventType  string
	Status     string
	DurationMS *int64
	Detail     map[string]any
	RecordedAt time.Time
}
