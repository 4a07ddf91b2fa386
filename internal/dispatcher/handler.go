package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/qcx/diario-pipeline/internal/crawljob"
	"github.com/qcx/diario-pipeline/internal/messages"
	"github.com/qcx/diario-pipeline/internal/spider"
	"github.com/qcx/diario-pipeline/pkg/config"
	"github.com/qcx/diario-pipeline/pkg/logger"
	"github.com/qcx/diario-pipeline/pkg/queue"
	"github.com/qcx/diario-pipeline/pkg/telemetry"
)

// defaultBatchSize is used when config.QueueConfig.CrawlBatchSize is unset.
const defaultBatchSize = 100

// Handler serves POST /crawl and GET / for the pipeline's single HTTP
// entry point.
type Handler struct {
	registry  *spider.Registry
	jobs      *crawljob.Service
	queue     queue.Queue
	batchSize int
}

// NewHandler builds the crawl dispatcher handler. queueCfg.CrawlBatchSize
// sizes the SendBatch groups used to enqueue a crawl request's spiders.
func NewHandler(registry *spider.Registry, jobs *crawljob.Service, q queue.Queue, queueCfg config.QueueConfig) *Handler {
	batchSize := queueCfg.CrawlBatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Handler{registry: registry, jobs: jobs, queue: q, batchSize: batchSize}
}

// Routes registers the dispatcher's endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/crawl", h.handleCrawl)
	mux.HandleFunc("/", h.handleLiveness)
}

func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "diario-pipeline",
		"status":  "ok",
	})
}

func (h *Handler) handleCrawl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, span := telemetry.StartSpan(r.Context(), "dispatcher.handleCrawl")
	defer span.End()

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "malformed request body"})
		return
	}

	territoryIDs, err := parseCities(req.Cities)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	scope, err := parseScope(req.ScopeFilter)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	start, end, err := parseDateRange(req.StartDate, req.EndDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	configs := h.registry.Resolve(territoryIDs, scope)
	if len(configs) == 0 {
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: "no spiders matched the request"})
		return
	}

	jobID := uuid.NewString()
	if _, err := h.jobs.Open(ctx, jobID, len(configs), start, end, map[string]any{
		"scopeFilter": req.ScopeFilter,
	}); err != nil {
		logger.Log.Error("dispatcher: failed to open crawl job", "error", err, "job_id", jobID)
		writeJSON(w, http.StatusInternalServerError, Response{Success: false, Error: "failed to open crawl job"})
		return
	}

	cities := make([]string, 0, len(configs))
	bodies := make([][]byte, 0, len(configs))
	for _, cfg := range configs {
		cities = append(cities, cfg.TerritoryID)
		msg := messages.Crawl{
			SpiderID:     cfg.ID,
			TerritoryID:  cfg.TerritoryID,
			SpiderType:   cfg.SpiderType,
			GazetteScope: string(cfg.GazetteScope),
			Config:       cfg.PlatformConfig,
			DateRange:    messages.DateRange{Start: start, End: end},
			CrawlJobID:   jobID,
		}
		body, err := json.Marshal(msg)
		if err != nil {
			logger.Log.Error("dispatcher: failed to marshal crawl message", "error", err, "spider_id", cfg.ID)
			continue
		}
		bodies = append(bodies, body)
	}

	enqueued, failed := h.enqueueBatches(ctx, bodies)

	resp := Response{
		TasksEnqueued: enqueued,
		Cities:        cities,
		CrawlJobID:    jobID,
	}
	switch {
	case failed == 0:
		resp.Success = true
		writeJSON(w, http.StatusOK, resp)
	case enqueued > 0:
		resp.Success = true
		resp.Error = fmt.Sprintf("%d of %d crawl messages failed to enqueue", failed, len(bodies))
		writeJSON(w, http.StatusMultiStatus, resp)
	default:
		resp.Success = false
		resp.Error = "failed to enqueue any crawl message"
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

// enqueueBatches sends bodies in groups of h.batchSize, falling back to
// individual sends within any batch that fails outright.
func (h *Handler) enqueueBatches(ctx context.Context, bodies [][]byte) (enqueued, failed int) {
	for start := 0; start < len(bodies); start += h.batchSize {
		end := start + h.batchSize
		if end > len(bodies) {
			end = len(bodies)
		}
		group := bodies[start:end]

		sent, err := h.queue.SendBatch(ctx, queue.Crawl, group)
		enqueued += sent
		if err == nil {
			continue
		}

		for _, body := range group[sent:] {
			if sendErr := h.queue.Send(ctx, queue.Crawl, body); sendErr != nil {
				failed++
				continue
			}
			enqueued++
		}
	}
	return enqueued, failed
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
