package stage

import (
	"context"
	"encoding/json"

	"github.com/qcx/diario-pipeline/internal/messages"
	"github.com/qcx/diario-pipeline/internal/webhook"
	"github.com/qcx/diario-pipeline/pkg/config"
	"github.com/qcx/diario-pipeline/pkg/logger"
	"github.com/qcx/diario-pipeline/pkg/queue"
	"github.com/qcx/diario-pipeline/pkg/telemetry"
)

// WebhookStage is the queue consumer for C8: matches an AnalysisCallback
// against active subscriptions and delivers it to each.
type WebhookStage struct {
	queue   queue.Queue
	webhook *webhook.Service
	cfg     config.QueueConfig
}

// NewWebhookStage builds the webhook stage consumer.
func NewWebhookStage(q queue.Queue, svc *webhook.Service, cfg config.QueueConfig) *WebhookStage {
	return &WebhookStage{queue: q, webhook: svc, cfg: cfg}
}

func (s *WebhookStage) Name() string { return "webhook" }

func (s *WebhookStage) Run(ctx context.Context) error {
	return consumeLoop(ctx, s.queue, queue.Webhook, s.Name(), s.cfg.BlockDuration, s.handle)
}

// handle delegates every match-and-deliver decision to webhook.Service:
// one subscriber's delivery failure never blocks another's, and delivery
// retries are handled inside Notify's own backoff loop, not by message
// redelivery. Only a failure to list subscriptions is worth retrying the
// whole message for.
func (s *WebhookStage) handle(ctx context.Context, msg *queue.Message) (retry bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "stage.WebhookStage.handle")
	defer span.End()

	var m messages.Webhook
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		logger.Log.Error("webhook: malformed message", "error", err, "message_id", msg.ID)
		return false, err
	}
	telemetry.SetAttributes(ctx, telemetry.GazetteAttributes(m.Payload.GazetteID, m.Payload.TerritoryID)...)
	telemetry.SetAttributes(ctx, telemetry.CrawlAttributes(m.Payload.GazetteCrawlID, m.Payload.JobID)...)

	if err := s.webhook.Notify(ctx, m.Payload.AnalysisResultID, m.Payload); err != nil {
		if msg.Deliveries < s.cfg.MaxDeliveryAttempts {
			return true, err
		}
		logger.Log.Error("webhook: exhausted delivery attempts listing subscriptions", "error", err, "analysis_id", m.Payload.AnalysisResultID, "severity", "critical")
		return false, err
	}
	return false, nil
}
