package mcp

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/jobs"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/orchestrate"
	"catalog-scraper/pkg/storage"
)

// storingRunner writes two records for the job, then waits for release or cancellation
type storingRunner struct {
	store   storage.RecordWriter
	release chan struct{}
}

func (r *storingRunner) RunWithProgress(ctx context.Context, job models.ScrapeJob, progress orchestrate.ProgressFunc) (*models.RunSummary, error) {
	brand := "Samsung"
	recs := []models.ProductRecord{
		{NaturalKey: job.ID + ":1", Name: "Samsung Galaxy A15", Brand: &brand, Platform: job.Platform},
		{NaturalKey: job.ID + ":2", Name: "Nokia 105", Platform: job.Platform},
	}
	for _, rec := range recs {
		if err := r.store.Upsert(context.WithoutCancel(ctx), job.ID, rec); err != nil {
			return nil, err
		}
	}
	progress(models.PageOutcome{PageNumber: 1, Status: models.PageStatusSuccess, RecordCount: 2}, 2)

	cancelled := false
	select {
	case <-r.release:
	case <-ctx.Done():
		cancelled = true
	}
	return &models.RunSummary{JobID: job.ID, Platform: job.Platform, TotalRecords: 2, Cancelled: cancelled}, nil
}

func newTestServer(t *testing.T) (*Server, *storingRunner) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := storage.NewInMemoryStore(16, logrus.NewEntry(logger))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	appCfg := &config.AppConfig{Platforms: config.DefaultPlatforms()}
	runner := &storingRunner{store: store, release: make(chan struct{})}
	manager := jobs.NewManager(appCfg, runner, nil, logrus.NewEntry(logger))
	t.Cleanup(func() {
		manager.CancelAll()
		manager.Wait()
	})

	s, err := NewServer(&ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: "config.yaml",
		Transport:  "stdio",
		Logger:     logger,
		Jobs:       manager,
		Store:      store,
	})
	require.NoError(t, err)
	return s, runner
}

func callTool(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultJSON(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotNil(t, res)
	require.False(t, res.IsError, "tool returned error: %v", res.Content)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func errorText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.True(t, res.IsError)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func startJob(t *testing.T, s *Server) string {
	t.Helper()
	res, err := s.handleScrapeProducts(context.Background(), callTool("scrape_products", map[string]any{
		"platform":     "jumia",
		"query_or_url": "samsung",
		"max_pages":    2,
	}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	jobID, _ := out["job_id"].(string)
	require.NotEmpty(t, jobID)
	return jobID
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(&ServerConfig{})
	assert.Error(t, err)

	_, err = NewServer(&ServerConfig{AppConfig: &config.AppConfig{}})
	assert.ErrorContains(t, err, "job manager")
}

func TestHandleListPlatforms(t *testing.T) {
	s, _ := newTestServer(t)
	res, err := s.handleListPlatforms(context.Background(), callTool("list_platforms", nil))
	require.NoError(t, err)

	out := resultJSON(t, res)
	assert.EqualValues(t, 2, out["total_platforms"])
	platforms := out["platforms"].([]any)
	first := platforms[0].(map[string]any)
	assert.Equal(t, "jumia", first["key"])
	assert.Equal(t, "http", first["fetch_strategy"])
	second := platforms[1].(map[string]any)
	assert.Equal(t, "kilimall", second["key"])
	assert.Equal(t, "render", second["fetch_strategy"])
}

func TestHandleScrapeProducts(t *testing.T) {
	t.Run("starts job with defaults applied", func(t *testing.T) {
		s, runner := newTestServer(t)
		defer close(runner.release)

		res, err := s.handleScrapeProducts(context.Background(), callTool("scrape_products", map[string]any{
			"platform":     "Jumia",
			"query_or_url": "samsung phones",
		}))
		require.NoError(t, err)
		out := resultJSON(t, res)
		assert.Equal(t, "started", out["status"])
		assert.Equal(t, "jumia", out["platform"])
		assert.Equal(t, "search", out["mode"])
		assert.EqualValues(t, orchestrate.DefaultMaxPages, out["max_pages"])
		assert.Equal(t, "json", out["output_format"])
	})

	t.Run("missing arguments", func(t *testing.T) {
		s, _ := newTestServer(t)
		res, err := s.handleScrapeProducts(context.Background(), callTool("scrape_products", map[string]any{"platform": "jumia"}))
		require.NoError(t, err)
		assert.Contains(t, errorText(t, res), "query_or_url")
	})

	t.Run("invalid job reported as tool error", func(t *testing.T) {
		s, _ := newTestServer(t)
		res, err := s.handleScrapeProducts(context.Background(), callTool("scrape_products", map[string]any{
			"platform":     "jumia",
			"query_or_url": "tv",
			"mode":         "browse",
		}))
		require.NoError(t, err)
		assert.Contains(t, errorText(t, res), "invalid job")
		assert.Empty(t, s.jobs.List())
	})

	t.Run("explicit zero pages rejected", func(t *testing.T) {
		s, _ := newTestServer(t)
		res, err := s.handleScrapeProducts(context.Background(), callTool("scrape_products", map[string]any{
			"platform":     "jumia",
			"query_or_url": "tv",
			"max_pages":    0,
		}))
		require.NoError(t, err)
		assert.Contains(t, errorText(t, res), "max_pages")
		assert.Empty(t, s.jobs.List())
	})
}

func TestHandleGetJobStatus(t *testing.T) {
	s, runner := newTestServer(t)
	jobID := startJob(t, s)

	require.Eventually(t, func() bool {
		job, _ := s.jobs.Get(jobID)
		return job.PagesDone == 1
	}, 2*time.Second, 5*time.Millisecond)

	res, err := s.handleGetJobStatus(context.Background(), callTool("get_job_status", map[string]any{"job_id": jobID}))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.Equal(t, "running", out["status"])
	assert.EqualValues(t, 1, out["pages_done"])
	assert.EqualValues(t, 2, out["pages_total"])
	assert.EqualValues(t, 2, out["products_stored"])
	assert.NotContains(t, out, "completed_at")

	close(runner.release)
	s.jobs.Wait()

	res, err = s.handleGetJobStatus(context.Background(), callTool("get_job_status", map[string]any{"job_id": jobID}))
	require.NoError(t, err)
	out = resultJSON(t, res)
	assert.Equal(t, "completed", out["status"])
	assert.Contains(t, out, "completed_at")
	summary := out["summary"].(map[string]any)
	assert.EqualValues(t, 2, summary["total_records"])

	t.Run("unknown job", func(t *testing.T) {
		res, err := s.handleGetJobStatus(context.Background(), callTool("get_job_status", map[string]any{"job_id": "nope"}))
		require.NoError(t, err)
		assert.Contains(t, errorText(t, res), "not found")
	})
}

func TestHandleCancelJob(t *testing.T) {
	s, _ := newTestServer(t)
	jobID := startJob(t, s)

	res, err := s.handleCancelJob(context.Background(), callTool("cancel_job", map[string]any{"job_id": jobID}))
	require.NoError(t, err)
	assert.Equal(t, "cancelling", resultJSON(t, res)["status"])

	s.jobs.Wait()
	res, err = s.handleGetJobStatus(context.Background(), callTool("get_job_status", map[string]any{"job_id": jobID}))
	require.NoError(t, err)
	assert.Equal(t, "cancelled", resultJSON(t, res)["status"])

	res, err = s.handleCancelJob(context.Background(), callTool("cancel_job", map[string]any{"job_id": jobID}))
	require.NoError(t, err)
	assert.Equal(t, "not_running", resultJSON(t, res)["status"])

	res, err = s.handleCancelJob(context.Background(), callTool("cancel_job", map[string]any{"job_id": "nope"}))
	require.NoError(t, err)
	assert.Contains(t, errorText(t, res), "not found")
}

func TestHandleListJobProducts(t *testing.T) {
	s, runner := newTestServer(t)
	jobID := startJob(t, s)
	close(runner.release)
	s.jobs.Wait()

	t.Run("all products in stored order", func(t *testing.T) {
		res, err := s.handleListJobProducts(context.Background(), callTool("list_job_products", map[string]any{"job_id": jobID}))
		require.NoError(t, err)
		out := resultJSON(t, res)
		assert.EqualValues(t, 2, out["total_matches"])
		products := out["products"].([]any)
		require.Len(t, products, 2)
		assert.Equal(t, "Samsung Galaxy A15", products[0].(map[string]any)["name"])
	})

	t.Run("query matches brand", func(t *testing.T) {
		res, err := s.handleListJobProducts(context.Background(), callTool("list_job_products", map[string]any{
			"job_id": jobID,
			"query":  "SAMSUNG",
		}))
		require.NoError(t, err)
		out := resultJSON(t, res)
		assert.EqualValues(t, 1, out["total_matches"])
		assert.Equal(t, "SAMSUNG", out["query"])
	})

	t.Run("max results caps returned", func(t *testing.T) {
		res, err := s.handleListJobProducts(context.Background(), callTool("list_job_products", map[string]any{
			"job_id":      jobID,
			"max_results": 1,
		}))
		require.NoError(t, err)
		out := resultJSON(t, res)
		assert.EqualValues(t, 2, out["total_matches"])
		assert.EqualValues(t, 1, out["returned"])
	})

	t.Run("unknown job is empty", func(t *testing.T) {
		res, err := s.handleListJobProducts(context.Background(), callTool("list_job_products", map[string]any{"job_id": "nope"}))
		require.NoError(t, err)
		out := resultJSON(t, res)
		assert.EqualValues(t, 0, out["total_matches"])
	})
}

func TestHandleGetStats(t *testing.T) {
	s, runner := newTestServer(t)
	startJob(t, s)
	close(runner.release)
	s.jobs.Wait()

	res, err := s.handleGetStats(context.Background(), callTool("get_stats", nil))
	require.NoError(t, err)
	out := resultJSON(t, res)
	assert.EqualValues(t, 1, out["total_jobs"])
	assert.EqualValues(t, 1, out["completed"])
	assert.EqualValues(t, 100, out["success_rate"])
	assert.EqualValues(t, 1, out["stored_jobs"])
}

func TestFilterProducts(t *testing.T) {
	brand := "Tecno"
	recs := []models.ProductRecord{
		{Name: "Spark 20", Brand: &brand},
		{Name: "Nokia 105"},
		{Name: "nokia G21"},
	}

	assert.Len(t, filterProducts(recs, ""), 3)
	assert.Len(t, filterProducts(recs, "NOKIA"), 2)
	assert.Len(t, filterProducts(recs, "tecno"), 1)
	assert.Empty(t, filterProducts(recs, "apple"))
	assert.NotNil(t, filterProducts(nil, "x"))
}
