package crawljob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a job id has no matching row.
var ErrNotFound = errors.New("crawljob: not found")

// Repository is the storage port for the CrawlJob aggregate and its
// progress-event log.
type Repository interface {
	Create(ctx context.Context, j *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	IncrementCompleted(ctx context.Context, jobID string) error
	IncrementFailed(ctx context.Context, jobID string) error
	SetStatus(ctx context.Context, jobID string, status string) error
	AppendEvent(ctx context.Context, e *Event) error
}
