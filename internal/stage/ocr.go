package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/qcx/diario-pipeline/internal/crawljob"
	"github.com/qcx/diario-pipeline/internal/messages"
	"github.com/qcx/diario-pipeline/internal/ocr"
	"github.com/qcx/diario-pipeline/internal/registry"
	"github.com/qcx/diario-pipeline/pkg/apperror"
	"github.com/qcx/diario-pipeline/pkg/config"
	"github.com/qcx/diario-pipeline/pkg/logger"
	"github.com/qcx/diario-pipeline/pkg/objectstore"
	"github.com/qcx/diario-pipeline/pkg/queue"
	"github.com/qcx/diario-pipeline/pkg/telemetry"
)

// pdfUserAgent mimics a browser so origin sites serving PDFs behind bot
// filters still respond.
const pdfUserAgent = "Mozilla/5.0 (compatible; diario-pipeline/1.0; +https://diario-pipeline.example)"

// ocrFetchTimeout is the deadline for the PDF download preceding
// archival; separate from the external OCR call's own 120s timeout.
const ocrFetchTimeout = 30 * time.Second

// OCRStage is the queue consumer for C6: the state-dependent gazette
// claim, the cache/store lookup, best-effort archival, and the external
// OCR call.
type OCRStage struct {
	queue    queue.Queue
	registry *registry.Service
	jobs     *crawljob.Service
	ocr      *ocr.Service
	objects  objectstore.Store
	httpc    *http.Client
	cfg      config.QueueConfig
}

// NewOCRStage builds the OCR stage consumer.
func NewOCRStage(q queue.Queue, reg *registry.Service, jobs *crawljob.Service, svc *ocr.Service, objects objectstore.Store, cfg config.QueueConfig) *OCRStage {
	return &OCRStage{
		queue:    q,
		registry: reg,
		jobs:     jobs,
		ocr:      svc,
		objects:  objects,
		httpc:    &http.Client{Timeout: ocrFetchTimeout},
		cfg:      cfg,
	}
}

func (s *OCRStage) Name() string { return "ocr" }

func (s *OCRStage) Run(ctx context.Context) error {
	return consumeLoop(ctx, s.queue, queue.OCR, s.Name(), s.cfg.BlockDuration, s.handle)
}

func (s *OCRStage) handle(ctx context.Context, msg *queue.Message) (retry bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "stage.OCRStage.handle")
	defer span.End()

	var m messages.OCR
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		logger.Log.Error("ocr: malformed message", "error", err, "message_id", msg.ID)
		return false, err
	}
	telemetry.SetAttributes(ctx, telemetry.GazetteAttributes(m.Gazette.GazetteID, m.Gazette.TerritoryID)...)
	telemetry.SetAttributes(ctx, telemetry.CrawlAttributes(m.GazetteCrawl.CrawlID, m.JobID)...)

	gazette, err := s.registry.GetGazette(ctx, m.Gazette.GazetteID)
	if err != nil {
		return s.failOrRetry(ctx, m, msg, err)
	}

	switch gazette.Status {
	case registry.StatusOCRProcessing, registry.StatusOCRRetrying:
		return true, nil
	case registry.StatusOCRSuccess:
		s.archiveBestEffort(ctx, gazette)
		if err := s.forwardToAnalysis(ctx, m); err != nil {
			return s.failOrRetry(ctx, m, msg, err)
		}
		return false, nil
	case registry.StatusOCRFailure:
		if err := s.registry.SetStatus(ctx, gazette.GazetteID, registry.StatusOCRRetrying); err != nil {
			return s.failOrRetry(ctx, m, msg, err)
		}
	default: // pending, uploaded
		claimed, err := s.registry.ClaimForProcessing(ctx, gazette.GazetteID)
		if err != nil {
			return s.failOrRetry(ctx, m, msg, err)
		}
		if !claimed {
			return true, nil
		}
	}

	done := s.jobs.RecordStart(ctx, m.JobID, crawljob.EventOCRStart, map[string]any{
		"gazetteId": gazette.GazetteID,
	})

	if res, err := s.ocr.Lookup(ctx, gazette.PDFURL, gazette.GazetteID); err == nil {
		done("cache_hit", map[string]any{"text_length": res.TextLength})
		if err := s.succeed(ctx, m, gazette); err != nil {
			return s.failOrRetry(ctx, m, msg, err)
		}
		return false, nil
	}

	s.archiveBestEffort(ctx, gazette)

	documentURL := gazette.PDFURL
	if gazette.PDFObjectKey != "" {
		if publicURL := s.objects.PublicURL(gazette.PDFObjectKey); publicURL != "" {
			documentURL = publicURL
		}
	}

	res, err := s.ocr.FetchAndStore(ctx, gazette.PDFURL, gazette.GazetteID, documentURL)
	if err != nil {
		done("failed", map[string]any{"error": err.Error()})
		return s.failOrRetry(ctx, m, msg, err)
	}

	done("completed", map[string]any{"text_length": res.TextLength})
	if err := s.succeed(ctx, m, gazette); err != nil {
		return s.failOrRetry(ctx, m, msg, err)
	}
	return false, nil
}

// archiveBestEffort downloads and archives the PDF if it hasn't been
// already. Never fails the stage: archiving is a best-effort step.
func (s *OCRStage) archiveBestEffort(ctx context.Context, gazette *registry.Gazette) {
	if gazette.PDFObjectKey != "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gazette.PDFURL, nil)
	if err != nil {
		logger.Log.Warn("ocr: build archive request", "error", err, "gazette_id", gazette.GazetteID)
		return
	}
	req.Header.Set("User-Agent", pdfUserAgent)

	resp, err := s.httpc.Do(req)
	if err != nil {
		logger.Log.Warn("ocr: archive fetch failed", "error", err, "gazette_id", gazette.GazetteID)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		logger.Log.Warn("ocr: archive fetch status", "status", resp.StatusCode, "gazette_id", gazette.GazetteID)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		logger.Log.Warn("ocr: archive read body", "error", err, "gazette_id", gazette.GazetteID)
		return
	}

	key, err := s.objects.Put(ctx, gazette.PDFURL, body, "application/pdf")
	if err != nil {
		logger.Log.Warn("ocr: archive put failed", "error", err, "gazette_id", gazette.GazetteID)
		return
	}
	if err := s.registry.SetObjectKey(ctx, gazette.GazetteID, key); err != nil {
		logger.Log.Warn("ocr: record object key failed", "error", err, "gazette_id", gazette.GazetteID)
		return
	}
	gazette.PDFObjectKey = key
}

// succeed transitions the gazette/crawl rows and forwards to analysis.
func (s *OCRStage) succeed(ctx context.Context, m messages.OCR, gazette *registry.Gazette) error {
	if err := s.registry.SetStatus(ctx, gazette.GazetteID, registry.StatusOCRSuccess); err != nil {
		return err
	}
	return s.forwardToAnalysis(ctx, m)
}

func (s *OCRStage) forwardToAnalysis(ctx context.Context, m messages.OCR) error {
	if err := s.registry.SetCrawlStatus(ctx, m.GazetteCrawl.CrawlID, registry.CrawlStatusAnalysisPending); err != nil {
		return err
	}

	body, err := json.Marshal(messages.Analysis{
		JobID:        m.JobID,
		GazetteCrawl: m.GazetteCrawl,
		Gazette:      m.Gazette,
		OCRResultID:  m.Gazette.GazetteID,
		SpiderConfig: m.SpiderConfig,
		CrawlJobID:   m.CrawlJobID,
		QueuedAt:     time.Now().UTC(),
	})
	if err != nil {
		return apperror.New(apperror.CodeWorkerInternal, "marshal analysis message")
	}
	return s.queue.Send(ctx, queue.Analysis, body)
}

// failOrRetry is the attempt-budget check shared by every error path:
// retry while deliveries remain, otherwise mark the owning rows
// terminal-failed and log a critical error, then ack to prevent a
// poison-message loop.
func (s *OCRStage) failOrRetry(ctx context.Context, m messages.OCR, msg *queue.Message, cause error) (retry bool, err error) {
	if msg.Deliveries < s.cfg.MaxDeliveryAttempts {
		return true, cause
	}

	logger.Log.Error("ocr: exhausted delivery attempts", "error", cause, "gazette_id", m.Gazette.GazetteID, "crawl_id", m.GazetteCrawl.CrawlID, "severity", "critical")
	if err := s.registry.SetStatus(ctx, m.Gazette.GazetteID, registry.StatusOCRFailure); err != nil {
		logger.Log.Error("ocr: set gazette failure status", "error", err, "gazette_id", m.Gazette.GazetteID)
	}
	if err := s.registry.SetCrawlStatus(ctx, m.GazetteCrawl.CrawlID, registry.CrawlStatusFailed); err != nil {
		logger.Log.Error("ocr: set crawl failure status", "error", err, "crawl_id", m.GazetteCrawl.CrawlID)
	}
	return false, fmt.Errorf("ocr: %s: %w", m.Gazette.GazetteID, cause)
}
