package webhook

import (
	"context"
	"strconv"
	"time"

	"github.com/qcx/diario-pipeline/internal/messages"
	"github.com/qcx/diario-pipeline/pkg/config"
	"github.com/qcx/diario-pipeline/pkg/logger"
)

// deliverer is the narrow interface Service needs from Client, mirroring
// internal/analysis's aiCompleter seam for testability.
type deliverer interface {
	Deliver(ctx context.Context, sub Subscription, event string, data any) (DeliveryResult, error)
}

// Service matches an AnalysisCallback against active subscriptions and
// delivers it to each match, enforcing the per-subscription max_deliveries
// ledger.
type Service struct {
	subs       SubscriptionRepository
	deliveries DeliveryRepository
	client     deliverer
	defaults   config.WebhookConfig
}

// NewService builds a Service.
func NewService(subs SubscriptionRepository, deliveries DeliveryRepository, client deliverer, defaults config.WebhookConfig) *Service {
	return &Service{subs: subs, deliveries: deliveries, client: client, defaults: defaults}
}

// Notify delivers payload to every active, matching subscription. A
// subscriber that has already exhausted its max_deliveries quota for this
// analysis_id is skipped without attempting delivery. Delivery failures
// for one subscriber never prevent delivery to another.
func (s *Service) Notify(ctx context.Context, analysisID string, payload messages.AnalysisCallback) error {
	subs, err := s.subs.ListActive(ctx)
	if err != nil {
		return err
	}

	event := DetermineEvent(payload)

	for _, sub := range subs {
		if !Matches(sub, payload) {
			continue
		}

		limit, unlimited, err := parseMaxDeliveries(sub.MaxDeliveries)
		if err != nil {
			logger.Log.Error("webhook: invalid max_deliveries, skipping subscription", "error", err, "subscription_id", sub.SubscriptionID)
			continue
		}
		if !unlimited {
			sent, err := s.deliveries.CountSuccessful(ctx, sub.SubscriptionID, analysisID)
			if err != nil {
				logger.Log.Error("webhook: count successful deliveries", "error", err, "subscription_id", sub.SubscriptionID)
				continue
			}
			if sent >= limit {
				continue
			}
		}

		s.deliverWithRetry(ctx, sub, analysisID, event, payload)
	}
	return nil
}

// deliverWithRetry attempts delivery up to the subscription's (or the
// pipeline default's) max attempts, with exponential backoff from its
// configured base, recording every attempt.
func (s *Service) deliverWithRetry(ctx context.Context, sub Subscription, analysisID, event string, payload messages.AnalysisCallback) {
	maxAttempts := sub.RetryPolicy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.defaults.DefaultMaxAttempts
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := time.Duration(sub.RetryPolicy.BackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = s.defaults.DefaultBackoff
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff * time.Duration(1<<uint(attempt-2))):
			}
		}

		result, err := s.client.Deliver(ctx, sub, event, payload)
		d := &Delivery{
			SubscriptionID: sub.SubscriptionID,
			AnalysisID:     analysisID,
			Attempt:        attempt,
		}
		durationMs := result.Duration.Milliseconds()
		d.DeliveryTimeMs = &durationMs

		switch {
		case err != nil:
			d.Status = StatusFailed
			d.ResponseBody = err.Error()
		case result.StatusCode >= 200 && result.StatusCode < 300:
			d.Status = StatusSent
			d.StatusCode = &result.StatusCode
			d.ResponseBody = result.Body
		case attempt < maxAttempts:
			d.Status = StatusRetry
			d.StatusCode = &result.StatusCode
			d.ResponseBody = result.Body
		default:
			d.Status = StatusFailed
			d.StatusCode = &result.StatusCode
			d.ResponseBody = result.Body
		}

		if insertErr := s.deliveries.Insert(ctx, d); insertErr != nil {
			logger.Log.Error("webhook: record delivery", "error", insertErr, "subscription_id", sub.SubscriptionID)
		}

		if d.Status == StatusSent {
			return
		}
	}
}

// parseMaxDeliveries parses the subscriptions.max_deliveries column: the
// literal "always", or a positive integer string.
func parseMaxDeliveries(raw string) (limit int, unlimited bool, err error) {
	if raw == "" || raw == MaxDeliveriesAlways {
		return 0, true, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, err
	}
	return n, false, nil
}
