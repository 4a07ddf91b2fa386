package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/qcx/diario-pipeline/pkg/config"
	"github.com/qcx/diario-pipeline/pkg/httpclient"
)

// pageSeparator joins per-page markdown into one document.
const pageSeparator = "\n\n---\n\n"

type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url,omitempty"`
}

type ocrRequest struct {
	Model              string      `json:"model"`
	Document           ocrDocument `json:"document"`
	IncludeImageBase64 bool        `json:"include_image_base64"`
}

type ocrPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type ocrResponse struct {
	Pages []ocrPage `json:"pages"`
	Model string    `json:"model"`
	Usage struct {
		PagesProcessed int `json:"pages_processed"`
		DocSizeBytes   int `json:"doc_size_bytes"`
	} `json:"usage_info"`
}

// Client calls the external OCR service (Mistral-shaped request/response).
type Client struct {
	http    *httpclient.Client
	baseURL string
	apiKey  string
	model   string
}

// NewClient builds a Client over pkg/httpclient with a single attempt per
// call (no in-process retry) and a circuit breaker, the same resilience
// posture as the webhook client.
func NewClient(cfg *config.OCRConfig) *Client {
	hc := httpclient.New(
		config.RetryConfig{MaxAttempts: 1},
		httpclient.WithTimeout(cfg.Timeout),
		httpclient.WithBreaker("ocr-api", cfg.BreakerMaxFailures, cfg.BreakerOpenTimeout),
	)
	return &Client{
		http:    hc,
		baseURL: strings.TrimRight(cfg.APIBaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
	}
}

// Extract submits documentURL to the OCR service and returns the
// concatenated markdown text plus page count.
func (c *Client) Extract(ctx context.Context, documentURL string) (text string, pageCount int, err error) {
	body, err := json.Marshal(ocrRequest{
		Model:              c.model,
		Document:           ocrDocument{Type: "document_url", DocumentURL: documentURL},
		IncludeImageBase64: false,
	})
	if err != nil {
		return "", 0, fmt.Errorf("ocr: marshal request: %w", err)
	}

	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ocr", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("ocr: extract: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("ocr: extract: unexpected status %d", resp.StatusCode)
	}

	var parsed ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", 0, fmt.Errorf("ocr: decode response: %w", err)
	}

	pages := make([]string, len(parsed.Pages))
	for i, p := range parsed.Pages {
		pages[i] = p.Markdown
	}
	return strings.Join(pages, pageSeparator), len(parsed.Pages), nil
}
