package crawljob

import (
	"context"
	"time"
)

// Service wraps Repository with the timed-event convention used by every
// stage: record a *_start event, do the work, record the matching *_end
// event with its elapsed duration. The counters it also increments are
// advisory only; nothing downstream treats them as authoritative.
type Service struct {
	repo Repository
}

// NewService builds a crawl-job service over repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Open creates a new CrawlJob in status "running" and returns it.
func (s *Service) Open(ctx context.Context, jobID string, totalSpiders int, start, end time.Time, metadata map[string]any) (*Job, error) {
	j := &Job{
		JobID:        jobID,
		Status:       StatusRunning,
		TotalSpiders: totalSpiders,
		StartDate:    start,
		EndDate:      end,
		Metadata:     metadata,
	}
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

// RecordStart appends a *_start event and returns a closer that appends
// the matching *_end event (with elapsed duration and status) when called.
func (s *Service) RecordStart(ctx context.Context, jobID, eventType string, detail map[string]any) func(status string, endDetail map[string]any) {
	_ = s.repo.AppendEvent(ctx, &Event{
		JobID:     jobID,
		EventType: eventType,
		Status:    "started",
		Detail:    detail,
	})
	started := time.Now()

	return func(status string, endDetail map[string]any) {
		elapsed := time.Since(started).Milliseconds()
		_ = s.repo.AppendEvent(ctx, &Event{
			JobID:      jobID,
			EventType:  eventType,
			Status:     status,
			DurationMS: &elapsed,
			Detail:     endDetail,
		})
	}
}

// MarkSpiderCompleted bumps the completed-spiders counter, or the
// failed-spiders counter when failed is true; if this was the
// job's last outstanding spider it also transitions the job to a terminal
// status derived from whether any spider failed.
func (s *Service) MarkSpiderCompleted(ctx context.Context, jobID string, failed bool) error {
	if failed {
		if err := s.repo.IncrementFailed(ctx, jobID); err != nil {
			return err
		}
	} else {
		if err := s.repo.IncrementCompleted(ctx, jobID); err != nil {
			return err
		}
	}

	j, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if j.CompletedSpiders+j.FailedSpiders < j.TotalSpiders {
		return nil
	}
	status := StatusCompleted
	if j.FailedSpiders > 0 {
		status = StatusFailed
	}
	return s.repo.SetStatus(ctx, jobID, status)
}
