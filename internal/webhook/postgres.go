package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/qcx/diario-pipeline/pkg/database"
	"github.com/qcx/diario-pipeline/pkg/telemetry"
)

// PostgresRepository implements SubscriptionRepository and
// DeliveryRepository against the subscriptions/webhook_deliveries tables
// (migrations/00006_subscriptions.sql).
type PostgresRepository struct {
	db database.DB
}

// NewPostgresRepository wraps a DB handle.
func NewPostgresRepository(db database.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ListActive(ctx context.Context) ([]Subscription, error) {
	ctx, span := telemetry.StartSpan(ctx, "webhook.ListActive")
	defer span.End()

	const query = `
		SELECT subscription_id, client_id, webhook_url, filters, auth, retry_policy,
		       max_deliveries, active, created_at
		FROM subscriptions
		WHERE active = TRUE
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("webhook: list active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		var filtersRaw, authRaw, retryRaw []byte
		if err := rows.Scan(
			&sub.SubscriptionID, &sub.ClientID, &sub.WebhookURL,
			&filtersRaw, &authRaw, &retryRaw,
			&sub.MaxDeliveries, &sub.Active, &sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("webhook: scan subscription: %w", err)
		}
		if len(filtersRaw) > 0 {
			if err := json.Unmarshal(filtersRaw, &sub.Filters); err != nil {
				return nil, fmt.Errorf("webhook: unmarshal filters: %w", err)
			}
		}
		if len(authRaw) > 0 {
			if err := json.Unmarshal(authRaw, &sub.Auth); err != nil {
				return nil, fmt.Errorf("webhook: unmarshal auth: %w", err)
			}
		}
		if len(retryRaw) > 0 {
			if err := json.Unmarshal(retryRaw, &sub.RetryPolicy); err != nil {
				return nil, fmt.Errorf("webhook: unmarshal retry policy: %w", err)
			}
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("webhook: list active subscriptions: %w", err)
	}
	return subs, nil
}

func (r *PostgresRepository) CountSuccessful(ctx context.Context, subscriptionID, analysisID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "webhook.CountSuccessful")
	defer span.End()

	const query = `
		SELECT COUNT(*) FROM webhook_deliveries
		WHERE subscription_id = $1 AND analysis_id = $2 AND status = $3
	`
	var count int
	err := r.db.QueryRow(ctx, query, subscriptionID, analysisID, StatusSent).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("webhook: count successful deliveries: %w", err)
	}
	return count, nil
}

func (r *PostgresRepository) Insert(ctx context.Context, d *Delivery) error {
	ctx, span := telemetry.StartSpan(ctx, "webhook.InsertDelivery")
	defer span.End()

	const query = `
		INSERT INTO webhook_deliveries (
			subscription_id, analysis_id, attempt, status, status_code, response_body, delivery_time_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING delivery_id, delivered_at
	`
	err := r.db.QueryRow(ctx, query,
		d.SubscriptionID, d.AnalysisID, d.Attempt, d.Status, d.StatusCode, d.ResponseBody, d.DeliveryTimeMs,
	).Scan(&d.DeliveryID, &d.DeliveredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("webhook: insert delivery: %w", err)
	}
	return nil
}
