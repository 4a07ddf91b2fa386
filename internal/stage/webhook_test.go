package stage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcx/diario-pipeline/internal/messages"
	"github.com/qcx/diario-pipeline/internal/webhook"
	"github.com/qcx/diario-pipeline/pkg/config"
	"github.com/qcx/diario-pipeline/pkg/queue"
)

// fakeSubRepo is a minimal webhook.SubscriptionRepository, extended over
// the package's own test fake with an injectable ListActive error so the
// stage's retry-on-list-failure path can be exercised from outside
// package webhook.
type fakeSubRepo struct {
	subs []webhook.Subscription
	err  error
}

func (f *fakeSubRepo) ListActive(ctx context.Context) ([]webhook.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.subs, nil
}

type fakeDeliveryRepo struct {
	inserted []*webhook.Delivery
}

func (f *fakeDeliveryRepo) CountSuccessful(ctx context.Context, subscriptionID, analysisID string) (int, error) {
	return 0, nil
}

func (f *fakeDeliveryRepo) Insert(ctx context.Context, d *webhook.Delivery) error {
	f.inserted = append(f.inserted, d)
	return nil
}

// fakeWebhookClient stands in for the outbound HTTP delivery.
type fakeWebhookClient struct {
	calls      int
	statusCode int
}

func (f *fakeWebhookClient) Deliver(ctx context.Context, sub webhook.Subscription, event string, data any) (webhook.DeliveryResult, error) {
	f.calls++
	return webhook.DeliveryResult{StatusCode: f.statusCode}, nil
}

func newWebhookStageForTest(subs *fakeSubRepo, client *fakeWebhookClient) (*WebhookStage, queue.Queue) {
	deliveries := &fakeDeliveryRepo{}
	svc := webhook.NewService(subs, deliveries, client, config.WebhookConfig{DefaultMaxAttempts: 1})
	q := queue.NewMemoryQueue()
	return NewWebhookStage(q, svc, config.QueueConfig{MaxDeliveryAttempts: 3}), q
}

func webhookMessageFor(analysisID string) *queue.Message {
	m := messages.Webhook{
		Type:    "analysis_complete",
		Payload: messages.AnalysisCallback{AnalysisResultID: analysisID},
	}
	body, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return &queue.Message{ID: "1", Body: body, Deliveries: 1}
}

func TestWebhookStage_Handle_NotifySuccessAcks(t *testing.T) {
	subs := &fakeSubRepo{subs: []webhook.Subscription{{SubscriptionID: "sub-1", MaxDeliveries: "always"}}}
	client := &fakeWebhookClient{statusCode: 200}
	stage, _ := newWebhookStageForTest(subs, client)

	retry, err := stage.handle(context.Background(), webhookMessageFor("analysis-1"))
	require.NoError(t, err)
	assert.False(t, retry)
	assert.Equal(t, 1, client.calls)
}

func TestWebhookStage_Handle_PartialDeliveryFailureStillAcks(t *testing.T) {
	subs := &fakeSubRepo{subs: []webhook.Subscription{
		{SubscriptionID: "sub-1", MaxDeliveries: "always"},
		{SubscriptionID: "sub-2", MaxDeliveries: "always"},
	}}
	client := &fakeWebhookClient{statusCode: 500}
	stage, _ := newWebhookStageForTest(subs, client)

	retry, err := stage.handle(context.Background(), webhookMessageFor("analysis-1"))
	require.NoError(t, err)
	assert.False(t, retry)
	assert.Equal(t, 2, client.calls, "a failed delivery to one subscriber never blocks another")
}

func TestWebhookStage_Handle_ListActiveFailureRetries(t *testing.T) {
	subs := &fakeSubRepo{err: assert.AnError}
	client := &fakeWebhookClient{statusCode: 200}
	stage, _ := newWebhookStageForTest(subs, client)

	msg := webhookMessageFor("analysis-1")
	msg.Deliveries = 1

	retry, err := stage.handle(context.Background(), msg)
	assert.True(t, retry)
	assert.Error(t, err)
	assert.Equal(t, 0, client.calls)
}

func TestWebhookStage_Handle_ListActiveFailureExhaustedStopsRetrying(t *testing.T) {
	subs := &fakeSubRepo{err: assert.AnError}
	client := &fakeWebhookClient{statusCode: 200}
	stage, _ := newWebhookStageForTest(subs, client)

	msg := webhookMessageFor("analysis-1")
	msg.Deliveries = 3

	retry, err := stage.handle(context.Background(), msg)
	assert.False(t, retry)
	assert.Error(t, err)
}

func TestWebhookStage_Handle_MalformedMessageIsNotRetried(t *testing.T) {
	subs := &fakeSubRepo{}
	client := &fakeWebhookClient{statusCode: 200}
	stage, _ := newWebhookStageForTest(subs, client)

	retry, err := stage.handle(context.Background(), &queue.Message{ID: "1", Body: []byte("not json"), Deliveries: 1})

	assert.False(t, retry)
	assert.Error(t, err)
}
