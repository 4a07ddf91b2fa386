package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/qcx/diario-pipeline/pkg/config"
	"github.com/qcx/diario-pipeline/pkg/httpclient"
)

// deliveryPayload is the JSON body posted to a subscriber.
type deliveryPayload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Client delivers rendered webhook payloads over HTTP through
// pkg/httpclient with a single attempt per call and a circuit breaker,
// the same way the OCR client does.
type Client struct {
	http *httpclient.Client
}

// NewClient builds a Client from the pipeline-wide webhook defaults.
// Per-delivery retry policy (subscription-specific maxAttempts/backoffMs)
// is applied by the caller (Service.deliverWithRetry), since it varies per
// subscription rather than per process.
func NewClient(cfg *config.WebhookConfig) *Client {
	hc := httpclient.New(
		config.RetryConfig{MaxAttempts: 1},
		httpclient.WithTimeout(cfg.DeliveryTimeout),
		httpclient.WithBreaker("webhook-delivery", cfg.BreakerMaxFailures, cfg.BreakerOpenTimeout),
	)
	return &Client{http: hc}
}

// DeliveryResult captures one HTTP attempt's outcome.
type DeliveryResult struct {
	StatusCode int
	Body       string
	Duration   time.Duration
}

// Deliver POSTs event/data to sub's webhook URL with sub's configured
// authentication. A non-2xx response is not itself a Go error: the
// caller decides retry/give-up based on StatusCode.
func (c *Client) Deliver(ctx context.Context, sub Subscription, event string, data any) (DeliveryResult, error) {
	body, err := json.Marshal(deliveryPayload{Event: event, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		return DeliveryResult{}, fmt.Errorf("webhook: marshal payload: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.WebhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		applyAuth(req, sub.Auth)
		return req, nil
	})
	duration := time.Since(start)
	if err != nil {
		return DeliveryResult{Duration: duration}, fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return DeliveryResult{StatusCode: resp.StatusCode, Body: string(respBody), Duration: duration}, nil
}

func applyAuth(req *http.Request, auth Auth) {
	switch auth.Type {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	case "custom":
		for k, v := range auth.Headers {
			req.Header.Set(k, v)
		}
	}
}
