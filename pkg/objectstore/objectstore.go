// Package objectstore archives gazette PDFs to an S3-compatible bucket
// (Cloudflare R2 in production). Archival is always best-effort: callers
// log and continue past a failed Put rather than failing the OCR stage.
package objectstore

import (
	"context"
	"encoding/base64"
	"errors"
)

// ErrDisabled is returned by operations when the object store is
// configured off (ObjectStoreConfig.Enabled == false).
var ErrDisabled = errors.New("objectstore: disabled")

// Store puts and fetches the public URL for archived PDFs.
type Store interface {
	// Put uploads body under the canonical key for pdfURL, returning the
	// object key that was stored (see KeyFor).
	Put(ctx context.Context, pdfURL string, body []byte, contentType string) (key string, err error)
	// PublicURL returns the externally reachable URL for a stored object
	// key, or "" if the store has no public base URL configured.
	PublicURL(key string) string
}

// KeyFor computes the object-store key for a canonical PDF URL:
// pdfs/<base64url(pdf_url)>.pdf.
func KeyFor(pdfURL string) string {
	return "pdfs/" + base64.URLEncoding.EncodeToString([]byte(pdfURL)) + ".pdf"
}
