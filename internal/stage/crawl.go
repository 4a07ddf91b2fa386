package stage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/qcx/diario-pipeline/internal/crawljob"
	"github.com/qcx/diario-pipeline/internal/messages"
	"github.com/qcx/diario-pipeline/internal/registry"
	"github.com/qcx/diario-pipeline/internal/spider"
	"github.com/qcx/diario-pipeline/pkg/apperror"
	"github.com/qcx/diario-pipeline/pkg/config"
	"github.com/qcx/diario-pipeline/pkg/logger"
	"github.com/qcx/diario-pipeline/pkg/queue"
	"github.com/qcx/diario-pipeline/pkg/telemetry"
)

// CrawlStage is the queue consumer for C5: instantiates a spider per
// message, streams its gazettes into the registry, and hands each one
// off to OCR.
type CrawlStage struct {
	queue    queue.Queue
	registry *registry.Service
	jobs     *crawljob.Service
	cfg      config.QueueConfig
}

// NewCrawlStage builds the crawl stage consumer.
func NewCrawlStage(q queue.Queue, reg *registry.Service, jobs *crawljob.Service, cfg config.QueueConfig) *CrawlStage {
	return &CrawlStage{queue: q, registry: reg, jobs: jobs, cfg: cfg}
}

func (s *CrawlStage) Name() string { return "crawl" }

func (s *CrawlStage) Run(ctx context.Context) error {
	return consumeLoop(ctx, s.queue, queue.Crawl, s.Name(), s.cfg.BlockDuration, s.handle)
}

func (s *CrawlStage) handle(ctx context.Context, msg *queue.Message) (retry bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "stage.CrawlStage.handle")
	defer span.End()

	var m messages.Crawl
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		logger.Log.Error("crawl: malformed message", "error", err, "message_id", msg.ID)
		return false, err
	}
	telemetry.SetAttributes(ctx, telemetry.SpiderAttributes(m.SpiderID, m.GazetteScope)...)

	cfg := spider.Config{
		ID:             m.SpiderID,
		TerritoryID:    m.TerritoryID,
		SpiderType:     m.SpiderType,
		GazetteScope:   spider.Scope(m.GazetteScope),
		PlatformConfig: m.Config,
	}
	sp, err := spider.New(cfg)
	if err != nil {
		logger.Log.Error("crawl: instantiate spider", "error", err, "spider_id", m.SpiderID)
		return false, err
	}

	done := s.jobs.RecordStart(ctx, m.CrawlJobID, crawljob.EventCrawlStart, map[string]any{
		"spiderId":    m.SpiderID,
		"territoryId": m.TerritoryID,
	})

	gazettes, errs := sp.Crawl(ctx, spider.DateRange{Start: m.DateRange.Start, End: m.DateRange.End})

	count := 0
	var crawlErr error
loop:
	for {
		select {
		case candidate, ok := <-gazettes:
			if !ok {
				gazettes = nil
				if errs == nil {
					break loop
				}
				continue
			}
			if err := s.enqueueGazette(ctx, m, candidate); err != nil {
				logger.Log.Error("crawl: enqueue gazette", "error", err, "spider_id", m.SpiderID, "territory_id", m.TerritoryID)
				continue
			}
			count++
		case e, ok := <-errs:
			if !ok {
				errs = nil
				if gazettes == nil {
					break loop
				}
				continue
			}
			crawlErr = e
			break loop
		case <-ctx.Done():
			break loop
		}
	}

	if crawlErr != nil {
		done("failed", map[string]any{"count": count, "requests": sp.RequestCount(), "error": crawlErr.Error()})
		logger.Log.Error("crawl: spider failed", "error", crawlErr, "spider_id", m.SpiderID, "territory_id", m.TerritoryID)
		if markErr := s.jobs.MarkSpiderCompleted(ctx, m.CrawlJobID, true); markErr != nil {
			logger.Log.Error("crawl: mark spider completed", "error", markErr, "job_id", m.CrawlJobID)
		}
		return true, crawlErr
	}

	done("completed", map[string]any{"count": count, "requests": sp.RequestCount()})
	if err := s.jobs.MarkSpiderCompleted(ctx, m.CrawlJobID, false); err != nil {
		logger.Log.Error("crawl: mark spider completed", "error", err, "job_id", m.CrawlJobID)
	}
	return false, nil
}

// enqueueGazette is the GazetteEnqueuer:
// find_or_create → create_crawl → enqueue OCR message.
func (s *CrawlStage) enqueueGazette(ctx context.Context, m messages.Crawl, candidate registry.Candidate) error {
	gazette, err := s.registry.FindOrCreate(ctx, candidate)
	if err != nil {
		return err
	}

	crawl, err := s.registry.CreateCrawl(ctx, registry.CrawlAttempt{
		JobID:       m.CrawlJobID,
		TerritoryID: m.TerritoryID,
		SpiderID:    m.SpiderID,
		GazetteID:   gazette.GazetteID,
		ScrapedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	ocrMsg := messages.OCR{
		JobID: crawl.JobID,
		GazetteCrawl: messages.GazetteCrawlRef{
			CrawlID:     crawl.CrawlID,
			JobID:       crawl.JobID,
			TerritoryID: crawl.TerritoryID,
			SpiderID:    crawl.SpiderID,
			GazetteID:   crawl.GazetteID,
			ScrapedAt:   crawl.ScrapedAt,
		},
		Gazette: messages.GazetteRef{
			GazetteID:       gazette.GazetteID,
			TerritoryID:     gazette.TerritoryID,
			PDFURL:          gazette.PDFURL,
			PublicationDate: gazette.PublicationDate,
			EditionNumber:   gazette.EditionNumber,
			IsExtraEdition:  gazette.IsExtraEdition,
			Power:           string(gazette.Power),
		},
		SpiderConfig: messages.SpiderConfig{
			SpiderID:     m.SpiderID,
			SpiderType:   m.SpiderType,
			GazetteScope: m.GazetteScope,
		},
		CrawlJobID: m.CrawlJobID,
		QueuedAt:   time.Now().UTC(),
	}
	body, err := json.Marshal(ocrMsg)
	if err != nil {
		return apperror.New(apperror.CodeWorkerInternal, "marshal ocr message")
	}
	return s.queue.Send(ctx, queue.OCR, body)
}
