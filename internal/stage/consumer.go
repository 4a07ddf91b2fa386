// Package stage hosts the four queue consumers (C5-C8): crawl, OCR,
// analysis, webhook. Each implements pkg/server.Runnable and shares the
// same receive/handle/acknowledge loop.
package stage

import (
	"context"
	"errors"
	"time"

	"github.com/qcx/diario-pipeline/pkg/logger"
	"github.com/qcx/diario-pipeline/pkg/queue"
)

// handlerFunc processes one message. retry reports whether the message
// should be made visible again for another consumer attempt; err is
// logged but never itself decides retry-vs-ack, since a handler that has
// exhausted its own attempt budget must still ack to avoid a poison-
// message loop.
type handlerFunc func(ctx context.Context, msg *queue.Message) (retry bool, err error)

// consumeLoop repeatedly receives from queueName and dispatches to
// handle until ctx is canceled.
func consumeLoop(ctx context.Context, q queue.Queue, queueName, stageName string, block time.Duration, handle handlerFunc) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, err := q.Receive(ctx, queueName, block)
		if err != nil {
			if errors.Is(err, queue.ErrNoMessages) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			logger.Log.Error("stage: receive failed", "stage", stageName, "queue", queueName, "error", err)
			continue
		}

		retry, handleErr := handle(ctx, msg)
		if handleErr != nil {
			logger.Log.Error("stage: handler error", "stage", stageName, "queue", queueName, "error", handleErr, "message_id", msg.ID, "deliveries", msg.Deliveries)
		}

		if retry {
			if err := q.Retry(ctx, queueName, msg.ID); err != nil {
				logger.Log.Error("stage: retry failed", "stage", stageName, "queue", queueName, "error", err, "message_id", msg.ID)
			}
			continue
		}
		if err := q.Ack(ctx, queueName, msg.ID); err != nil {
			logger.Log.Error("stage: ack failed", "stage", stageName, "queue", queueName, "error", err, "message_id", msg.ID)
		}
	}
}
