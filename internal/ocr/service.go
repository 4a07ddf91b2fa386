package ocr

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/qcx/diario-pipeline/pkg/apperror"
	"github.com/qcx/diario-pipeline/pkg/cache"
	"github.com/qcx/diario-pipeline/pkg/telemetry"
)

// extractor is the external OCR call, satisfied by *Client; narrowed to an
// interface so tests can substitute a fake without a live HTTP endpoint.
type extractor interface {
	Extract(ctx context.Context, documentURL string) (text string, pageCount int, err error)
}

// Service is the two-tier OCR cache/store (C2): KV cache in front of a
// relational fallback, with a per-PDF-URL single-flight collapsing
// concurrent redeliveries of the same document into one external OCR call.
type Service struct {
	cache    cache.Cache
	repo     Repository
	client   extractor
	cacheTTL time.Duration
	flight   singleflight.Group
}

// NewService builds the OCR cache/store.
func NewService(c cache.Cache, repo Repository, client extractor, cacheTTL time.Duration) *Service {
	return &Service{cache: c, repo: repo, client: client, cacheTTL: cacheTTL}
}

// Lookup checks the KV cache, then the relational store, for an existing
// OCR result. A store hit rehydrates the KV cache.
// Returns ErrNotFound (not an error result) on a clean miss at both tiers.
func (s *Service) Lookup(ctx context.Context, pdfURL, gazetteID string) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "ocr.Service.Lookup")
	defer span.End()

	if body, err := s.cache.Get(ctx, cacheKey(pdfURL)); err == nil {
		return &Result{GazetteID: gazetteID, ExtractedText: string(body), TextLength: len(body)}, nil
	}

	res, err := s.repo.Get(ctx, gazetteID)
	if err != nil {
		return nil, err
	}
	_ = s.cache.Set(ctx, cacheKey(pdfURL), []byte(res.ExtractedText), s.cacheTTL)
	return res, nil
}

// FetchAndStore invokes the external OCR service for documentURL, collapsing
// concurrent callers for the same pdfURL into a single call, then
// writes the result through to both the store and the KV cache.
func (s *Service) FetchAndStore(ctx context.Context, pdfURL, gazetteID, documentURL string) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "ocr.Service.FetchAndStore")
	defer span.End()

	v, err, _ := s.flight.Do(pdfURL, func() (any, error) {
		return s.fetchAndStoreOnce(ctx, pdfURL, gazetteID, documentURL)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (s *Service) fetchAndStoreOnce(ctx context.Context, pdfURL, gazetteID, documentURL string) (*Result, error) {
	// Another redelivery may have already populated the cache while this
	// call waited to become the single-flight leader.
	if res, err := s.Lookup(ctx, pdfURL, gazetteID); err == nil {
		return res, nil
	}

	text, pageCount, err := s.client.Extract(ctx, documentURL)
	if err != nil {
		return nil, apperror.New(apperror.CodeExternalAPI, fmt.Sprintf("ocr extract: %v", err))
	}

	res := &Result{
		GazetteID:     gazetteID,
		ExtractedText: text,
		TextLength:    len(text),
		Method:        "mistral",
		Metadata:      map[string]any{"page_count": pageCount},
	}
	if err := s.repo.Insert(ctx, res); err != nil {
		return nil, apperror.New(apperror.CodeStorage, fmt.Sprintf("ocr insert: %v", err))
	}
	if err := s.cache.Set(ctx, cacheKey(pdfURL), []byte(text), s.cacheTTL); err != nil {
		return nil, apperror.New(apperror.CodeStorage, fmt.Sprintf("ocr cache set: %v", err))
	}
	return res, nil
}
