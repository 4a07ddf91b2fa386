// Package queue provides a durable, redeliverable message queue used to
// connect the pipeline's four stages (crawl, ocr, analysis, webhook). The
// Redis Streams backend is the production implementation; an in-memory
// backend is provided for tests.
package queue

import (
	"context"
	"errors"
	"time"
)

// Well-known queue names, one per pipeline stage.
const (
	Crawl    = "crawl"
	OCR      = "ocr"
	Analysis = "analysis"
	Webhook  = "webhook"
)

// ErrNoMessages is returned by Receive when the poll interval elapses
// without a message becoming available.
var ErrNoMessages = errors.New("queue: no messages available")

// Message is one unit of work read off a queue. ID identifies the message
// within the broker (used to Ack/Retry it); Body is the stage's own
// message payload, JSON-encoded by the producer and left for the
// consumer to unmarshal; Deliveries is the number of times this message
// has been handed to a consumer, including the current delivery.
type Message struct {
	ID         string
	Body       []byte
	Deliveries int
}

// Queue is the durable, multi-consumer queue abstraction every stage
// consumer is built against. Implementations must guarantee at-least-once
// delivery: a message is not permanently removed until Ack is called, and
// Retry makes it visible again for another consumer (in the same group or
// a restarted one) without waiting for visibility timeout to expire.
type Queue interface {
	// Send enqueues a single message body onto the named queue.
	Send(ctx context.Context, queue string, body []byte) error
	// SendBatch enqueues many message bodies in one round trip. It returns
	// the number of bodies successfully enqueued and the first error
	// encountered; callers fall back to per-message Send on partial failure.
	SendBatch(ctx context.Context, queue string, bodies [][]byte) (sent int, err error)
	// Receive blocks up to block waiting for the next available message on
	// the named queue for the given consumer group/name, claiming ownership
	// for visibility. Returns ErrNoMessages if none arrived within block.
	Receive(ctx context.Context, queue string, block time.Duration) (*Message, error)
	// Ack permanently removes a message after successful processing.
	Ack(ctx context.Context, queue string, messageID string) error
	// Retry makes a message visible again for redelivery, incrementing its
	// delivery count. Used when a handler fails but wants another attempt
	// instead of dead-lettering.
	Retry(ctx context.Context, queue string, messageID string) error
	// Depth reports the approximate number of undelivered/pending messages
	// on the named queue, for the queue_depth gauge.
	Depth(ctx context.Context, queue string) (int64, error)
	// Close releases the underlying connection.
	Close() error
}
