package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/qcx/diario-pipeline/internal/analysis"
	"github.com/qcx/diario-pipeline/internal/crawljob"
	"github.com/qcx/diario-pipeline/internal/messages"
	"github.com/qcx/diario-pipeline/internal/ocr"
	"github.com/qcx/diario-pipeline/internal/registry"
	"github.com/qcx/diario-pipeline/internal/spider"
	"github.com/qcx/diario-pipeline/pkg/apperror"
	"github.com/qcx/diario-pipeline/pkg/config"
	"github.com/qcx/diario-pipeline/pkg/logger"
	"github.com/qcx/diario-pipeline/pkg/queue"
	"github.com/qcx/diario-pipeline/pkg/telemetry"
)

// AnalysisStage is the queue consumer for C7: scope decision, pipeline
// construction, the two dedup paths (city-level single pass, state-level
// per-territory filter), and the webhook callback fan-out.
type AnalysisStage struct {
	queue    queue.Queue
	registry *registry.Service
	jobs     *crawljob.Service
	analysis *analysis.Service
	ocr      *ocr.Service
	spiders  *spider.Registry
	pipeline *analysis.Pipeline
	cfg      config.AnalysisConfig
	queueCfg config.QueueConfig
}

// NewAnalysisStage builds the analysis stage consumer. The analyzer
// pipeline is assembled once from cfg.EnabledAnalyzers and reused across
// every message.
func NewAnalysisStage(q queue.Queue, reg *registry.Service, jobs *crawljob.Service, analysisSvc *analysis.Service, ocrSvc *ocr.Service, spiders *spider.Registry, cfg config.AnalysisConfig, queueCfg config.QueueConfig) *AnalysisStage {
	return &AnalysisStage{
		queue:    q,
		registry: reg,
		jobs:     jobs,
		analysis: analysisSvc,
		ocr:      ocrSvc,
		spiders:  spiders,
		pipeline: buildPipeline(cfg),
		cfg:      cfg,
		queueCfg: queueCfg,
	}
}

// buildPipeline constructs the analyzer set named in cfg.EnabledAnalyzers,
// at the priorities the keyword/concurso/entity/ai ordering assumes:
// pattern analyzers first, AI last.
func buildPipeline(cfg config.AnalysisConfig) *analysis.Pipeline {
	var analyzers []analysis.Analyzer
	for _, name := range cfg.EnabledAnalyzers {
		switch name {
		case analysis.TypeKeyword:
			analyzers = append(analyzers, analysis.NewKeywordAnalyzer("keyword", 1, analysis.DefaultKeywordRules, cfg.CustomKeywords))
		case analysis.TypeConcurso:
			analyzers = append(analyzers, analysis.NewConcursoAnalyzer("concurso", 2, cfg.ConcursoProximityWindow))
		case analysis.TypeEntity:
			analyzers = append(analyzers, analysis.NewEntityAnalyzer("entity", 3))
		case analysis.TypeAI:
			analyzers = append(analyzers, analysis.NewAIAnalyzer("ai", 10, analysis.NewAnthropicAnalyzer(&cfg)))
		}
	}
	return analysis.NewPipeline(analyzers)
}

func (s *AnalysisStage) Name() string { return "analysis" }

func (s *AnalysisStage) Run(ctx context.Context) error {
	return consumeLoop(ctx, s.queue, queue.Analysis, s.Name(), s.queueCfg.BlockDuration, s.handle)
}

func (s *AnalysisStage) handle(ctx context.Context, msg *queue.Message) (retry bool, err error) {
	ctx, span := telemetry.StartSpan(ctx, "stage.AnalysisStage.handle")
	defer span.End()

	var m messages.Analysis
	if err := json.Unmarshal(msg.Body, &m); err != nil {
		logger.Log.Error("analysis: malformed message", "error", err, "message_id", msg.ID)
		return false, err
	}
	telemetry.SetAttributes(ctx, telemetry.GazetteAttributes(m.Gazette.GazetteID, m.Gazette.TerritoryID)...)
	telemetry.SetAttributes(ctx, telemetry.CrawlAttributes(m.GazetteCrawl.CrawlID, m.JobID)...)

	if err := s.registry.SetCrawlStatus(ctx, m.GazetteCrawl.CrawlID, registry.CrawlStatusProcessing); err != nil {
		return s.failOrRetry(ctx, m, msg, err)
	}

	done := s.jobs.RecordStart(ctx, m.JobID, crawljob.EventAnalysisStart, map[string]any{
		"gazetteId": m.Gazette.GazetteID,
		"scope":     m.SpiderConfig.GazetteScope,
	})

	ocrRes, err := s.ocr.Lookup(ctx, m.Gazette.PDFURL, m.Gazette.GazetteID)
	if err != nil {
		done("failed", map[string]any{"error": err.Error()})
		return s.failOrRetry(ctx, m, msg, err)
	}

	sig := analysis.Signature{
		Version:          s.cfg.Version,
		EnabledAnalyzers: s.cfg.EnabledAnalyzers,
		CustomKeywords:   s.cfg.CustomKeywords,
		TerritoryID:      m.Gazette.TerritoryID,
	}
	configHash := sig.Hash()

	isState := spider.Scope(m.SpiderConfig.GazetteScope) == spider.ScopeState
	if isState {
		err = s.runStateLevel(ctx, m, ocrRes.ExtractedText, configHash)
	} else {
		err = s.runCityLevel(ctx, m, ocrRes.ExtractedText, configHash)
	}
	if err != nil {
		done("failed", map[string]any{"error": err.Error()})
		return s.failOrRetry(ctx, m, msg, err)
	}

	done("completed", nil)
	// State-level splits into one analysis per matched city, so there is
	// no single result to link to the crawl row - only the terminal
	// status is set here. The city-level path links its one result and
	// sets the status together in runCityLevel's CompleteCrawl call.
	if isState {
		if err := s.registry.SetCrawlStatus(ctx, m.GazetteCrawl.CrawlID, registry.CrawlStatusSuccess); err != nil {
			return s.failOrRetry(ctx, m, msg, err)
		}
	}
	return false, nil
}

// runCityLevel runs one pipeline pass over the whole
// document, linked directly to the crawl row.
func (s *AnalysisStage) runCityLevel(ctx context.Context, m messages.Analysis, text, configHash string) error {
	territoryID := m.Gazette.TerritoryID
	jobID := analysis.JobID(territoryID, m.Gazette.GazetteID, configHash)

	result, err := s.analysis.Execute(ctx, territoryID, m.Gazette.GazetteID, configHash, "", func() (*analysis.Result, error) {
		findings, analysisCtx := s.pipeline.Run(ctx, text)
		return buildResult(jobID, m, territoryID, configHash, "", findings, analysisCtx), nil
	})
	if err != nil {
		return err
	}

	if err := s.registry.CompleteCrawl(ctx, m.GazetteCrawl.CrawlID, result.AnalysisID, registry.CrawlStatusSuccess); err != nil {
		return err
	}
	return s.notifyWebhook(ctx, m, result, m.SpiderConfig.SpiderID)
}

// runStateLevel splits the state gazette across every city spider
// registered for the state, running an independent pipeline pass (and
// emitting an independent webhook callback) per matched territory. A
// territory whose paragraphs never mention it is skipped entirely.
func (s *AnalysisStage) runStateLevel(ctx context.Context, m messages.Analysis, text, configHash string) error {
	cities := s.spiders.CitiesInState(m.Gazette.TerritoryID)
	if len(cities) == 0 {
		logger.Log.Warn("analysis: no cities registered for state", "territory_id", m.Gazette.TerritoryID, "gazette_id", m.Gazette.GazetteID)
		return nil
	}

	for _, city := range cities {
		cityRegex := analysis.CityRegex(city.CityName)
		filtered := analysis.FilterByCity(text, cityRegex)
		if !filtered.Matched {
			continue
		}

		jobID := analysis.JobID(city.TerritoryID, m.Gazette.GazetteID, configHash)
		result, err := s.analysis.Execute(ctx, city.TerritoryID, m.Gazette.GazetteID, configHash, city.CityName, func() (*analysis.Result, error) {
			findings, analysisCtx := s.pipeline.Run(ctx, filtered.FilteredText)
			res := buildResult(jobID, m, city.TerritoryID, configHash, city.CityName, findings, analysisCtx)
			res.Metadata["territoryFilter"] = map[string]any{
				"cityName":           city.CityName,
				"cityRegex":          cityRegex.String(),
				"filteredTextLength": filtered.FilteredTextLength,
				"originalTextLength": filtered.OriginalTextLength,
			}
			return res, nil
		})
		if err != nil {
			return err
		}
		if err := s.notifyWebhook(ctx, m, result, city.ID); err != nil {
			return err
		}
	}
	return nil
}

// buildResult assembles an AnalysisResult row from a completed pipeline
// run. The concurso analyzer never sets data.category itself (it signals
// via documentType), so a detected concurso finding is folded into
// Categories here explicitly - this is what lets the webhook stage's
// DetermineEvent recognise "concurso.detected".
func buildResult(analysisID string, m messages.Analysis, territoryID, configHash, cityFilter string, findings []analysis.Finding, analysisCtx *analysis.Context) *analysis.Result {
	categories := analysisCtx.SortedCategories()
	if hasConcursoFinding(findings) {
		categories = append(categories, "concurso")
		sort.Strings(categories)
	}

	return &analysis.Result{
		AnalysisID:             analysisID,
		JobID:                  m.JobID,
		TerritoryID:            territoryID,
		GazetteID:              m.Gazette.GazetteID,
		ConfigHash:             configHash,
		CityFilter:             cityFilter,
		PublicationDate:        m.Gazette.PublicationDate,
		TotalFindings:          countNonFailure(findings),
		HighConfidenceFindings: len(analysisCtx.HighConfidence),
		Categories:             categories,
		Keywords:               collectKeywords(findings),
		Findings:               findings,
		Summary: map[string]any{
			"primaryDocumentType": analysisCtx.PrimaryDocumentType(),
		},
		Metadata: map[string]any{
			"configSignature": configHash,
		},
	}
}

func hasConcursoFinding(findings []analysis.Finding) bool {
	for _, f := range findings {
		if f.Type != analysis.TypeConcurso {
			continue
		}
		if status, ok := f.Data["status"].(string); ok && status == "failure" {
			continue
		}
		return true
	}
	return false
}

func countNonFailure(findings []analysis.Finding) int {
	n := 0
	for _, f := range findings {
		if status, ok := f.Data["status"].(string); ok && status == "failure" {
			continue
		}
		n++
	}
	return n
}

func collectKeywords(findings []analysis.Finding) []string {
	seen := map[string]bool{}
	var out []string
	for _, f := range findings {
		kw, ok := f.Data["keyword"].(string)
		if !ok || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	sort.Strings(out)
	return out
}

func (s *AnalysisStage) notifyWebhook(ctx context.Context, m messages.Analysis, result *analysis.Result, spiderID string) error {
	callback := messages.AnalysisCallback{
		AnalysisResultID:       result.AnalysisID,
		GazetteCrawlID:         m.GazetteCrawl.CrawlID,
		TerritoryID:            result.TerritoryID,
		SpiderID:               spiderID,
		FindingsCount:          result.TotalFindings,
		Categories:             result.Categories,
		HighConfidenceFindings: result.HighConfidenceFindings,
		Keywords:               result.Keywords,
		JobID:                  m.JobID,
		GazetteID:              result.GazetteID,
		PublicationDate:        result.PublicationDate,
		AnalyzedAt:             result.AnalyzedAt,
	}
	body, err := json.Marshal(messages.Webhook{
		Type:      "analysis_complete",
		Payload:   callback,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return apperror.New(apperror.CodeWorkerInternal, "marshal webhook message")
	}
	return s.queue.Send(ctx, queue.Webhook, body)
}

// failOrRetry mirrors the OCR stage's attempt-budget check: retry while
// deliveries remain, otherwise mark the crawl terminal-failed and ack
// to stop the poison-message loop.
func (s *AnalysisStage) failOrRetry(ctx context.Context, m messages.Analysis, msg *queue.Message, cause error) (retry bool, err error) {
	if msg.Deliveries < s.queueCfg.MaxDeliveryAttempts {
		return true, cause
	}

	logger.Log.Error("analysis: exhausted delivery attempts", "error", cause, "gazette_id", m.Gazette.GazetteID, "crawl_id", m.GazetteCrawl.CrawlID, "severity", "critical")
	if err := s.registry.SetCrawlStatus(ctx, m.GazetteCrawl.CrawlID, registry.CrawlStatusFailed); err != nil {
		logger.Log.Error("analysis: set crawl failure status", "error", err, "crawl_id", m.GazetteCrawl.CrawlID)
	}
	return false, fmt.Errorf("analysis: %s: %w", m.Gazette.GazetteID, cause)
}
