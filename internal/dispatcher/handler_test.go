package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qcx/diario-pipeline/internal/crawljob"
	"github.com/qcx/diario-pipeline/internal/spider"
	"github.com/qcx/diario-pipeline/pkg/config"
	"github.com/qcx/diario-pipeline/pkg/queue"
)

type fakeJobRepository struct {
	mu     sync.Mutex
	jobs   map[string]*crawljob.Job
	events []*crawljob.Event
}

func newFakeJobRepository() *fakeJobRepository {
	return &fakeJobRepository{jobs: make(map[string]*crawljob.Job)}
}

func (f *fakeJobRepository) Create(ctx context.Context, j *crawljob.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *j
	f.jobs[j.JobID] = &cp
	return nil
}

func (f *fakeJobRepository) GetByID(ctx context.Context, jobID string) (*crawljob.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, crawljob.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (f *fakeJobRepository) IncrementCompleted(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].CompletedSpiders++
	return nil
}

func (f *fakeJobRepository) IncrementFailed(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].FailedSpiders++
	return nil
}

func (f *fakeJobRepository) SetStatus(ctx context.Context, jobID string, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[jobID].Status = status
	return nil
}

func (f *fakeJobRepository) AppendEvent(ctx context.Context, e *crawljob.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeJobRepository, *queue.MemoryQueue) {
	t.Helper()
	reg, err := spider.NewRegistry()
	require.NoError(t, err)

	repo := newFakeJobRepository()
	jobs := crawljob.NewService(repo)
	q := queue.NewMemoryQueue()

	return NewHandler(reg, jobs, q, config.QueueConfig{CrawlBatchSize: 100}), repo, q
}

func doCrawlRequest(t *testing.T, h *Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/crawl", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	h.handleCrawl(rec, req)
	return rec
}

func TestHandleCrawl_AllCities_EnqueuesOneMessagePerSpider(t *testing.T) {
	h, _, q := newTestHandler(t)

	rec := doCrawlRequest(t, h, map[string]any{"cities": "all"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 5, resp.TasksEnqueued) // 3 city spiders + 2 state spiders
	assert.NotEmpty(t, resp.CrawlJobID)

	depth, err := q.Depth(context.Background(), queue.Crawl)
	require.NoError(t, err)
	assert.Equal(t, int64(5), depth)
}

func TestHandleCrawl_ScopeFilterRestrictsToState(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doCrawlRequest(t, h, map[string]any{"cities": "all", "scopeFilter": "state"})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TasksEnqueued)
}

func TestHandleCrawl_SpecificCities(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doCrawlRequest(t, h, map[string]any{"cities": []string{"3550308"}})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TasksEnqueued)
	assert.Equal(t, []string{"3550308"}, resp.Cities)
}

func TestHandleCrawl_NoMatchingSpidersIsBadRequest(t *testing.T) {
	h, _, _ := newTestHandler(t)

	rec := doCrawlRequest(t, h, map[string]any{"cities": []string{"0000000"}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestHandleCrawl_MalformedBodyIsBadRequest(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/crawl", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	h.handleCrawl(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleCrawl_OpensACrawlJobCoveringEverySpider(t *testing.T) {
	h, repo, _ := newTestHandler(t)

	rec := doCrawlRequest(t, h, map[string]any{"cities": "all"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	job, err := repo.GetByID(context.Background(), resp.CrawlJobID)
	require.NoError(t, err)
	assert.Equal(t, 5, job.TotalSpiders)
	assert.Equal(t, crawljob.StatusRunning, job.Status)
}

func TestHandleLiveness_ReturnsOK(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.handleLiveness(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
