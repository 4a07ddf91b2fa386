// Package ocr is the deduplicated OCR subsystem (C2): a two-tier cache
// (fast KV, relational fallback) keyed by canonical PDF URL, fronted by a
// per-URL single-flight so a burst of redeliveries for the same document
// never calls the external OCR service more than once concurrently.
package ocr

import (
	"encoding/base64"
	"time"

	"github.com/qcx/diario-pipeline/pkg/cache"
)

// Result is one OCR extraction, one row per gazette.
type Result struct {
	GazetteID     string
	ExtractedText string
	TextLength    int
	Confidence    *float64
	Language      string
	Method        string
	Metadata      map[string]any
	CreatedAt     time.Time
}

// cacheKey is the KV cache key format: ocr:<base64url(pdf_url)>.
func cacheKey(pdfURL string) string {
	return cache.NamespacedKey("ocr", base64.URLEncoding.EncodeToString([]byte(pdfURL)))
}
