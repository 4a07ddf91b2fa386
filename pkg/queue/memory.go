package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue implementation for tests. It does not
// survive process restarts and has no real visibility-timeout reclaim -
// Retry puts the message straight back at the tail of the same stream's
// pending list for the next Receive call.
type MemoryQueue struct {
	mu      sync.Mutex
	streams map[string]*memoryStream
}

type memoryStream struct {
	pending []*Message
	inFlite map[string]*Message
	nextID  int
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{streams: make(map[string]*memoryStream)}
}

func (q *MemoryQueue) stream(name string) *memoryStream {
	s, ok := q.streams[name]
	if !ok {
		s = &memoryStream{inFlite: make(map[string]*Message)}
		q.streams[name] = s
	}
	return s
}

func (q *MemoryQueue) Send(ctx context.Context, queueName string, body []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stream(queueName)
	s.nextID++
	msg := &Message{ID: strconv.Itoa(s.nextID), Body: append([]byte(nil), body...), Deliveries: 1}
	s.pending = append(s.pending, msg)
	return nil
}

func (q *MemoryQueue) SendBatch(ctx context.Context, queueName string, bodies [][]byte) (int, error) {
	for _, body := range bodies {
		if err := q.Send(ctx, queueName, body); err != nil {
			return 0, err
		}
	}
	return len(bodies), nil
}

func (q *MemoryQueue) Receive(ctx context.Context, queueName string, block time.Duration) (*Message, error) {
	deadline := time.Now().Add(block)
	for {
		if msg, ok := q.tryReceive(queueName); ok {
			return msg, nil
		}
		if block <= 0 || time.Now().After(deadline) {
			return nil, ErrNoMessages
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) tryReceive(queueName string) (*Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stream(queueName)
	if len(s.pending) == 0 {
		return nil, false
	}
	msg := s.pending[0]
	s.pending = s.pending[1:]
	s.inFlite[msg.ID] = msg
	return msg, true
}

func (q *MemoryQueue) Ack(ctx context.Context, queueName string, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stream(queueName)
	delete(s.inFlite, messageID)
	return nil
}

func (q *MemoryQueue) Retry(ctx context.Context, queueName string, messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stream(queueName)
	msg, ok := s.inFlite[messageID]
	if !ok {
		return nil
	}
	delete(s.inFlite, messageID)

	s.nextID++
	redelivered := &Message{ID: strconv.Itoa(s.nextID), Body: msg.Body, Deliveries: msg.Deliveries + 1}
	s.pending = append(s.pending, redelivered)
	return nil
}

func (q *MemoryQueue) Depth(ctx context.Context, queueName string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stream(queueName)
	return int64(len(s.pending) + len(s.inFlite)), nil
}

func (q *MemoryQueue) Close() error {
	return nil
}

