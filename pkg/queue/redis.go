package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/qcx/diario-pipeline/pkg/config"
)

const (
	fieldBody       = "body"
	fieldDeliveries = "deliveries"
)

// RedisQueue implements Queue on top of Redis Streams with consumer
// groups, one group per queue shared by every process (ConsumerGroup in
// config), and one consumer name per process instance (ConsumerName).
type RedisQueue struct {
	client  *redis.Client
	group   string
	name    string
	claimed time.Duration // visibility timeout before a pending message is reclaimed
}

// NewRedisQueue dials Redis and verifies connectivity. The consumer group
// is created lazily per queue the first time it is used, since a stream
// must exist before XGROUP CREATE can target it.
func NewRedisQueue(cfg *config.QueueConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis queue ping failed: %w", err)
	}

	group := cfg.ConsumerGroup
	if group == "" {
		group = "diario-pipeline"
	}
	name := cfg.ConsumerName
	if name == "" {
		name = "consumer-1"
	}
	claimed := cfg.VisibilityTimeout
	if claimed <= 0 {
		claimed = 30 * time.Second
	}

	return &RedisQueue{client: client, group: group, name: name, claimed: claimed}, nil
}

func (q *RedisQueue) ensureGroup(ctx context.Context, stream string) error {
	err := q.client.XGroupCreateMkStream(ctx, stream, q.group, "$").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		if isBusyGroupErr(err) {
			return nil
		}
		return err
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

func (q *RedisQueue) Send(ctx context.Context, stream string, body []byte) error {
	if err := q.ensureGroup(ctx, stream); err != nil {
		return err
	}
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{fieldBody: body, fieldDeliveries: "0"},
	}).Err()
}

func (q *RedisQueue) SendBatch(ctx context.Context, stream string, bodies [][]byte) (int, error) {
	if err := q.ensureGroup(ctx, stream); err != nil {
		return 0, err
	}

	pipe := q.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(bodies))
	for i, body := range bodies {
		cmds[i] = pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]any{fieldBody: body, fieldDeliveries: "0"},
		})
	}
	_, err := pipe.Exec(ctx)

	sent := 0
	var firstErr error
	for _, cmd := range cmds {
		if cmd.Err() != nil {
			if firstErr == nil {
				firstErr = cmd.Err()
			}
			continue
		}
		sent++
	}
	if firstErr == nil {
		firstErr = err
	}
	return sent, firstErr
}

// Receive first looks for new messages, then falls back to reclaiming
// messages that have sat unacknowledged past the visibility timeout -
// the redelivery path for a consumer that crashed mid-processing.
func (q *RedisQueue) Receive(ctx context.Context, stream string, block time.Duration) (*Message, error) {
	if err := q.ensureGroup(ctx, stream); err != nil {
		return nil, err
	}

	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.name,
		Streams:  []string{stream, ">"},
		Count:    1,
		Block:    block,
	}).Result()
	if err == nil && len(res) > 0 && len(res[0].Messages) > 0 {
		return toMessage(res[0].Messages[0]), nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	msgs, _, claimErr := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    q.group,
		Consumer: q.name,
		MinIdle:  q.claimed,
		Start:    "0",
		Count:    1,
	}).Result()
	if claimErr != nil {
		return nil, claimErr
	}
	if len(msgs) == 0 {
		return nil, ErrNoMessages
	}
	// The stored field only counts re-enqueues; add the reclaims the group
	// has recorded for this entry beyond its first read.
	msg := toMessage(msgs[0])
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream, Group: q.group, Start: msgs[0].ID, End: msgs[0].ID, Count: 1,
	}).Result()
	if err == nil && len(pending) == 1 && pending[0].RetryCount > 1 {
		msg.Deliveries += int(pending[0].RetryCount) - 1
	}
	return msg, nil
}

func toMessage(m redis.XMessage) *Message {
	deliveries := 1
	body, _ := m.Values[fieldBody].(string)
	if raw, ok := m.Values[fieldDeliveries].(string); ok {
		if n, err := strconv.Atoi(raw); err == nil {
			deliveries = n + 1
		}
	}
	return &Message{ID: m.ID, Body: []byte(body), Deliveries: deliveries}
}

func (q *RedisQueue) Ack(ctx context.Context, stream string, messageID string) error {
	return q.client.XAck(ctx, stream, q.group, messageID).Err()
}

// Retry re-enqueues the message with its delivery count incremented, then
// acknowledges the original entry so it leaves the pending-entries list.
// Re-enqueuing (rather than XClaim-and-leave-pending) means a redelivered
// message survives even if the original consumer process never comes back.
func (q *RedisQueue) Retry(ctx context.Context, stream string, messageID string) error {
	entries, err := q.client.XRange(ctx, stream, messageID, messageID).Result()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return q.client.XAck(ctx, stream, q.group, messageID).Err()
	}

	msg := toMessage(entries[0])
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{fieldBody: string(msg.Body), fieldDeliveries: strconv.Itoa(msg.Deliveries)},
	}).Err(); err != nil {
		return err
	}
	return q.client.XAck(ctx, stream, q.group, messageID).Err()
}

func (q *RedisQueue) Depth(ctx context.Context, stream string) (int64, error) {
	length, err := q.client.XLen(ctx, stream).Result()
	if err != nil {
		return 0, err
	}
	return length, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
