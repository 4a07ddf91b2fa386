package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Standard attribute keys shared across spans emitted by the dispatcher and
// the stage consumers.
const (
	// Gazette / registry
	AttrGazetteID    = "gazette.id"
	AttrTerritoryID  = "gazette.territory_id"
	AttrCrawlID      = "crawl.id"
	AttrJobID        = "crawl.job_id"
	AttrSpiderID     = "spider.id"
	AttrSpiderType   = "spider.type"
	AttrPDFURL       = "gazette.pdf_url"

	// OCR
	AttrOCRCacheResult = "ocr.cache_result"
	AttrOCRDuration    = "ocr.duration_ms"

	// Analysis
	AttrAnalyzer        = "analysis.analyzer"
	AttrAnalysisPhase   = "analysis.phase"
	AttrConfigHash      = "analysis.config_hash"
	AttrFindingsCount   = "analysis.findings_count"
	AttrCityFilter      = "analysis.city_filter"

	// Webhook
	AttrSubscriptionID = "webhook.subscription_id"
	AttrDeliveryAttempt = "webhook.attempt"
)

// CrawlSpiderAttributes returns the attributes identifying a crawl job and
// the spider that ran it.
func CrawlSpiderAttributes(crawlID, jobID, spiderID, spiderType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCrawlID, crawlID),
		attribute.String(AttrJobID, jobID),
		attribute.String(AttrSpiderID, spiderID),
		attribute.String(AttrSpiderType, spiderType),
	}
}

// OCRAttributes returns the attributes describing an OCR cache lookup.
func OCRAttributes(cacheResult string, durationMs int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrOCRCacheResult, cacheResult),
		attribute.Int64(AttrOCRDuration, durationMs),
	}
}

// AnalysisAttributes returns the attributes describing an analyzer run.
func AnalysisAttributes(analyzer, phase, configHash string, findingsCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrAnalyzer, analyzer),
		attribute.String(AttrAnalysisPhase, phase),
		attribute.String(AttrConfigHash, configHash),
		attribute.Int(AttrFindingsCount, findingsCount),
	}
}

// WebhookAttributes returns the attributes describing a webhook delivery
// attempt.
func WebhookAttributes(subscriptionID string, attempt int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSubscriptionID, subscriptionID),
		attribute.Int(AttrDeliveryAttempt, attempt),
	}
}
