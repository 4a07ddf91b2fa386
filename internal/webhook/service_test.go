package webhook

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcx/diario-pipeline/internal/messages"
	"github.com/qcx/diario-pipeline/pkg/config"
)

type fakeSubRepository struct {
	subs []Subscription
}

func (f *fakeSubRepository) ListActive(ctx context.Context) ([]Subscription, error) {
	return f.subs, nil
}

type fakeDeliveryRepository struct {
	mu       sync.Mutex
	sent     map[string]int // subscriptionID:analysisID -> successful count
	inserted []*Delivery
}

func newFakeDeliveryRepository() *fakeDeliveryRepository {
	return &fakeDeliveryRepository{sent: make(map[string]int)}
}

func (f *fakeDeliveryRepository) CountSuccessful(ctx context.Context, subscriptionID, analysisID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[subscriptionID+":"+analysisID], nil
}

func (f *fakeDeliveryRepository) Insert(ctx context.Context, d *Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, d)
	if d.Status == StatusSent {
		f.sent[d.SubscriptionID+":"+d.AnalysisID]++
	}
	return nil
}

type fakeDeliverer struct {
	mu      sync.Mutex
	calls   int
	results []DeliveryResult
	err     error
}

func (f *fakeDeliverer) Deliver(ctx context.Context, sub Subscription, event string, data any) (DeliveryResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if f.err != nil {
		return DeliveryResult{}, f.err
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return f.results[len(f.results)-1], nil
}

func TestService_Notify_SkipsNonMatchingSubscriptions(t *testing.T) {
	subs := &fakeSubRepository{subs: []Subscription{
		{SubscriptionID: "sub-1", MaxDeliveries: "always", Filters: Filters{Categories: []string{"concurso"}}},
	}}
	deliveries := newFakeDeliveryRepository()
	client := &fakeDeliverer{results: []DeliveryResult{{StatusCode: 200}}}
	svc := NewService(subs, deliveries, client, config.WebhookConfig{DefaultMaxAttempts: 3})

	err := svc.Notify(context.Background(), "analysis-1", messages.AnalysisCallback{Categories: []string{"licitacao"}})
	require.NoError(t, err)
	assert.Equal(t, 0, client.calls)
}

func TestService_Notify_DeliversToMatchingActiveSubscription(t *testing.T) {
	subs := &fakeSubRepository{subs: []Subscription{
		{SubscriptionID: "sub-1", MaxDeliveries: "always"},
	}}
	deliveries := newFakeDeliveryRepository()
	client := &fakeDeliverer{results: []DeliveryResult{{StatusCode: 200}}}
	svc := NewService(subs, deliveries, client, config.WebhookConfig{DefaultMaxAttempts: 3})

	err := svc.Notify(context.Background(), "analysis-1", messages.AnalysisCallback{})
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)
	require.Len(t, deliveries.inserted, 1)
	assert.Equal(t, StatusSent, deliveries.inserted[0].Status)
}

func TestService_Notify_StopsRetryingAfterFirstSuccess(t *testing.T) {
	subs := &fakeSubRepository{subs: []Subscription{
		{SubscriptionID: "sub-1", MaxDeliveries: "always"},
	}}
	deliveries := newFakeDeliveryRepository()
	client := &fakeDeliverer{results: []DeliveryResult{{StatusCode: 500}, {StatusCode: 200}}}
	svc := NewService(subs, deliveries, client, config.WebhookConfig{DefaultMaxAttempts: 3, DefaultBackoff: 0})

	err := svc.Notify(context.Background(), "analysis-1", messages.AnalysisCallback{})
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
	require.Len(t, deliveries.inserted, 2)
	assert.Equal(t, StatusRetry, deliveries.inserted[0].Status)
	assert.Equal(t, StatusSent, deliveries.inserted[1].Status)
}

func TestService_Notify_MarksFailedAfterExhaustingAttempts(t *testing.T) {
	subs := &fakeSubRepository{subs: []Subscription{
		{SubscriptionID: "sub-1", MaxDeliveries: "always", RetryPolicy: RetryPolicy{MaxAttempts: 2}},
	}}
	deliveries := newFakeDeliveryRepository()
	client := &fakeDeliverer{results: []DeliveryResult{{StatusCode: 500}}}
	svc := NewService(subs, deliveries, client, config.WebhookConfig{DefaultBackoff: 0})

	err := svc.Notify(context.Background(), "analysis-1", messages.AnalysisCallback{})
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
	require.Len(t, deliveries.inserted, 2)
	assert.Equal(t, StatusRetry, deliveries.inserted[0].Status)
	assert.Equal(t, StatusFailed, deliveries.inserted[1].Status)
}

func TestService_Notify_SkipsSubscriptionThatExhaustedMaxDeliveries(t *testing.T) {
	subs := &fakeSubRepository{subs: []Subscription{
		{SubscriptionID: "sub-1", MaxDeliveries: "1"},
	}}
	deliveries := newFakeDeliveryRepository()
	deliveries.sent["sub-1:analysis-1"] = 1
	client := &fakeDeliverer{results: []DeliveryResult{{StatusCode: 200}}}
	svc := NewService(subs, deliveries, client, config.WebhookConfig{DefaultMaxAttempts: 3})

	err := svc.Notify(context.Background(), "analysis-1", messages.AnalysisCallback{})
	require.NoError(t, err)
	assert.Equal(t, 0, client.calls)
}

func TestService_Notify_OneSubscriberFailureDoesNotBlockAnother(t *testing.T) {
	subs := &fakeSubRepository{subs: []Subscription{
		{SubscriptionID: "sub-1", MaxDeliveries: "always"},
		{SubscriptionID: "sub-2", MaxDeliveries: "always"},
	}}
	deliveries := newFakeDeliveryRepository()
	client := &fakeDeliverer{err: assert.AnError}
	svc := NewService(subs, deliveries, client, config.WebhookConfig{DefaultMaxAttempts: 1})

	err := svc.Notify(context.Background(), "analysis-1", messages.AnalysisCallback{})
	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
	for _, d := range deliveries.inserted {
		assert.Equal(t, StatusFailed, d.Status)
	}
}
