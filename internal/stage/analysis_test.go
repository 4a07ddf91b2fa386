package stage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcx/diario-pipeline/internal/analysis"
	"github.com/qcx/diario-pipeline/internal/crawljob"
	"github.com/qcx/diario-pipeline/internal/messages"
	"github.com/qcx/diario-pipeline/internal/ocr"
	"github.com/qcx/diario-pipeline/internal/registry"
	"github.com/qcx/diario-pipeline/internal/spider"
	"github.com/qcx/diario-pipeline/pkg/cache"
	"github.com/qcx/diario-pipeline/pkg/config"
	"github.com/qcx/diario-pipeline/pkg/queue"
)

// fakeAnalysisRepo is a minimal in-memory analysis.Repository.
type fakeAnalysisRepo struct {
	results map[string]*analysis.Result
}

func newFakeAnalysisRepo() *fakeAnalysisRepo {
	return &fakeAnalysisRepo{results: make(map[string]*analysis.Result)}
}

func (f *fakeAnalysisRepo) key(territoryID, gazetteID, configHash, cityFilter string) string {
	return territoryID + "|" + gazetteID + "|" + configHash + "|" + cityFilter
}

func (f *fakeAnalysisRepo) Get(ctx context.Context, territoryID, gazetteID, configHash, cityFilter string) (*analysis.Result, error) {
	r, ok := f.results[f.key(territoryID, gazetteID, configHash, cityFilter)]
	if !ok {
		return nil, analysis.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeAnalysisRepo) Insert(ctx context.Context, r *analysis.Result) error {
	k := f.key(r.TerritoryID, r.GazetteID, r.ConfigHash, r.CityFilter)
	if _, exists := f.results[k]; exists {
		return nil
	}
	cp := *r
	f.results[k] = &cp
	return nil
}

func testAnalysisConfig() config.AnalysisConfig {
	return config.AnalysisConfig{
		Version:          "v1",
		EnabledAnalyzers: []string{analysis.TypeKeyword, analysis.TypeConcurso},
	}
}

func newAnalysisStageForTest(t *testing.T, gazetteRepo *fakeGazetteRepo, gazetteID, ocrText string) (*AnalysisStage, *fakeAnalysisRepo, queue.Queue) {
	t.Helper()

	registrySvc := registry.NewService(gazetteRepo, passthroughResolver{})
	jobsSvc := crawljob.NewService(&fakeJobRepo{})

	ocrRepo := newFakeOCRRepo()
	if gazetteID != "" {
		ocrRepo.results[gazetteID] = &ocr.Result{GazetteID: gazetteID, ExtractedText: ocrText, TextLength: len(ocrText)}
	}
	ocrSvc := ocr.NewService(cache.NewMemoryCache(cache.DefaultOptions()), ocrRepo, &fakeExtractor{text: ocrText}, time.Hour)

	analysisRepo := newFakeAnalysisRepo()
	analysisSvc := analysis.NewService(cache.NewMemoryCache(cache.DefaultOptions()), analysisRepo, time.Hour)

	spiders, err := spider.NewRegistry()
	require.NoError(t, err)

	q := queue.NewMemoryQueue()

	stage := NewAnalysisStage(q, registrySvc, jobsSvc, analysisSvc, ocrSvc, spiders, testAnalysisConfig(), config.QueueConfig{MaxDeliveryAttempts: 3})
	return stage, analysisRepo, q
}

func analysisMessageFor(jobID, crawlID, gazetteID, territoryID, scope, spiderID string) *queue.Message {
	m := messages.Analysis{
		JobID:        jobID,
		GazetteCrawl: messages.GazetteCrawlRef{CrawlID: crawlID, JobID: jobID, GazetteID: gazetteID, TerritoryID: territoryID},
		Gazette:      messages.GazetteRef{GazetteID: gazetteID, TerritoryID: territoryID, PDFURL: "https://example.invalid/" + gazetteID + ".pdf", PublicationDate: time.Now().UTC()},
		SpiderConfig: messages.SpiderConfig{SpiderID: spiderID, GazetteScope: scope},
		CrawlJobID:   jobID,
	}
	body, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return &queue.Message{ID: "1", Body: body, Deliveries: 1}
}

func TestAnalysisStage_Handle_CityLevelLinksAnalysisAndNotifies(t *testing.T) {
	gazetteRepo := newFakeGazetteRepo()
	seedGazette(gazetteRepo, "gaz-1", "https://example.invalid/gaz-1.pdf", registry.StatusOCRSuccess)
	seedCrawl(gazetteRepo, "crawl-1", "job-1", "gaz-1")

	stage, analysisRepo, q := newAnalysisStageForTest(t, gazetteRepo, "gaz-1", "routine municipal text, nothing special")

	retry, err := stage.handle(context.Background(), analysisMessageFor("job-1", "crawl-1", "gaz-1", "3550308", "city", "sp_sao_paulo"))
	require.NoError(t, err)
	assert.False(t, retry)

	assert.Len(t, analysisRepo.results, 1)

	depth, err := q.Depth(context.Background(), queue.Webhook)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	msg, err := q.Receive(context.Background(), queue.Webhook, 0)
	require.NoError(t, err)
	var webhookMsg messages.Webhook
	require.NoError(t, json.Unmarshal(msg.Body, &webhookMsg))
	assert.Equal(t, "analysis_complete", webhookMsg.Type)
	assert.Equal(t, "gaz-1", webhookMsg.Payload.GazetteID)
}

func TestAnalysisStage_Handle_CityLevelConcursoFindingAddsCategory(t *testing.T) {
	gazetteRepo := newFakeGazetteRepo()
	seedGazette(gazetteRepo, "gaz-2", "https://example.invalid/gaz-2.pdf", registry.StatusOCRSuccess)
	seedCrawl(gazetteRepo, "crawl-2", "job-2", "gaz-2")

	stage, analysisRepo, _ := newAnalysisStageForTest(t, gazetteRepo, "gaz-2", "EDITAL DE ABERTURA do concurso público número 1")

	retry, err := stage.handle(context.Background(), analysisMessageFor("job-2", "crawl-2", "gaz-2", "3550308", "city", "sp_sao_paulo"))
	require.NoError(t, err)
	assert.False(t, retry)

	var result *analysis.Result
	for _, r := range analysisRepo.results {
		result = r
	}
	require.NotNil(t, result)
	assert.Contains(t, result.Categories, "concurso")
}

func TestAnalysisStage_Handle_StateLevelSplitsPerCity(t *testing.T) {
	gazetteRepo := newFakeGazetteRepo()
	seedGazette(gazetteRepo, "gaz-3", "https://example.invalid/gaz-3.pdf", registry.StatusOCRSuccess)
	seedCrawl(gazetteRepo, "crawl-3", "job-3", "gaz-3")

	text := "Ato do Estado.\n\nDecreto sobre São Paulo e seus bairros.\n\nOutra matéria qualquer, sem cidade."
	stage, analysisRepo, q := newAnalysisStageForTest(t, gazetteRepo, "gaz-3", text)

	retry, err := stage.handle(context.Background(), analysisMessageFor("job-3", "crawl-3", "gaz-3", "SP", "state", "sp_state"))
	require.NoError(t, err)
	assert.False(t, retry)

	require.Len(t, analysisRepo.results, 1)
	var result *analysis.Result
	for _, r := range analysisRepo.results {
		result = r
	}
	assert.Equal(t, "3550308", result.TerritoryID)
	assert.Equal(t, "São Paulo", result.CityFilter)

	filter, ok := result.Metadata["territoryFilter"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "São Paulo", filter["cityName"])

	depth, err := q.Depth(context.Background(), queue.Webhook)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestAnalysisStage_Handle_MalformedMessageIsNotRetried(t *testing.T) {
	gazetteRepo := newFakeGazetteRepo()
	stage, _, _ := newAnalysisStageForTest(t, gazetteRepo, "", "")

	retry, err := stage.handle(context.Background(), &queue.Message{ID: "1", Body: []byte("not json"), Deliveries: 1})

	assert.False(t, retry)
	assert.Error(t, err)
}

func TestAnalysisStage_Handle_DeliveryExhaustionMarksCrawlFailed(t *testing.T) {
	gazetteRepo := newFakeGazetteRepo()
	// No gazette/crawl seeded: SetCrawlStatus is a no-op in the fake, but
	// the OCR lookup fails since no result was ever stored, forcing
	// failOrRetry's terminal path once deliveries are exhausted.
	stage, _, _ := newAnalysisStageForTest(t, gazetteRepo, "", "")

	msg := analysisMessageFor("job-4", "crawl-4", "gaz-missing", "3550308", "city", "sp_sao_paulo")
	msg.Deliveries = 3

	retry, err := stage.handle(context.Background(), msg)

	assert.False(t, retry)
	assert.Error(t, err)
}
