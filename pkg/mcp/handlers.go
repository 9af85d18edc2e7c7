package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/jobs"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/orchestrate"
	"catalog-scraper/pkg/utils"
)

const (
	defaultMaxResults = 20
	maxResultsCeiling = 200
)

// handleListPlatforms handles the list_platforms tool
func (s *Server) handleListPlatforms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	keys := make([]string, 0, len(s.cfg.AppConfig.Platforms))
	for k := range s.cfg.AppConfig.Platforms {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	running := make(map[string]int)
	for _, job := range s.jobs.List() {
		if !job.Status.Finished() {
			running[string(job.Request.Platform)]++
		}
	}

	platforms := make([]map[string]interface{}, 0, len(keys))
	for _, key := range keys {
		p := s.cfg.AppConfig.Platforms[key]
		info := map[string]interface{}{
			"key":              key,
			"base_url":         p.BaseURL,
			"fetch_strategy":   config.GetEffectiveFetchStrategy(p),
			"min_delay":        config.GetEffectiveMinDelay(p, s.cfg.AppConfig).String(),
			"default_category": p.DefaultCategory,
			"supported":        models.ParsePlatform(key).IsValid(),
		}
		if p.MaxPageLimit > 0 {
			info["max_page_limit"] = p.MaxPageLimit
		}
		if n := running[key]; n > 0 {
			info["running_jobs"] = n
		}
		platforms = append(platforms, info)
	}

	result := map[string]interface{}{
		"platforms":       platforms,
		"config_path":     s.cfg.ConfigPath,
		"total_platforms": len(platforms),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleScrapeProducts handles the scrape_products tool
func (s *Server) handleScrapeProducts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	platform := request.GetString("platform", "")
	if platform == "" {
		return mcp.NewToolResultError("platform parameter is required"), nil
	}
	query := request.GetString("query_or_url", "")
	if query == "" {
		return mcp.NewToolResultError("query_or_url parameter is required"), nil
	}

	req := models.ScrapeJob{
		Platform:     models.Platform(platform),
		Mode:         models.Mode(request.GetString("mode", string(models.ModeSearch))),
		QueryOrURL:   query,
		MaxPages:     request.GetInt("max_pages", orchestrate.DefaultMaxPages),
		OutputFormat: models.OutputFormat(request.GetString("output_format", "")),
	}

	job, err := s.jobs.Start(req)
	if err != nil {
		if errors.Is(err, utils.ErrInvalidJob) {
			return mcp.NewToolResultError(fmt.Sprintf("invalid job: %v", err)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to start job: %v", err)), nil
	}

	result := map[string]interface{}{
		"status":        "started",
		"message":       "Scrape started successfully",
		"job_id":        job.ID,
		"platform":      job.Request.Platform,
		"mode":          job.Request.Mode,
		"query_or_url":  job.Request.QueryOrURL,
		"max_pages":     job.Request.MaxPages,
		"output_format": job.Request.OutputFormat,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job, ok := s.jobs.Get(jobID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := map[string]interface{}{
		"job_id":          job.ID,
		"platform":        job.Request.Platform,
		"query_or_url":    job.Request.QueryOrURL,
		"status":          job.Status,
		"started_at":      job.StartedAt.Format(time.RFC3339),
		"pages_done":      job.PagesDone,
		"pages_total":     job.PagesTotal,
		"products_stored": job.ProductsStored,
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}
	if job.OutputPath != "" {
		result["output_path"] = job.OutputPath
	}
	if job.Summary != nil {
		result["summary"] = job.Summary
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job, ok := s.jobs.Get(jobID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}
	if !s.jobs.Cancel(jobID) {
		result := map[string]interface{}{
			"status":  "not_running",
			"message": fmt.Sprintf("Job already finished with status '%s'", job.Status),
			"job_id":  jobID,
		}
		return mcp.NewToolResultText(formatJSON(result)), nil
	}

	result := map[string]interface{}{
		"status":  string(jobs.StatusCancelling),
		"message": "Cancellation requested; pages already in flight will still be stored",
		"job_id":  jobID,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListJobProducts handles the list_job_products tool
func (s *Server) handleListJobProducts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	query := strings.TrimSpace(request.GetString("query", ""))
	maxResults := request.GetInt("max_results", defaultMaxResults)
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if maxResults > maxResultsCeiling {
		maxResults = maxResultsCeiling
	}

	records, err := s.store.ListByJob(ctx, jobID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read products: %v", err)), nil
	}

	matched := filterProducts(records, query)
	total := len(matched)
	if len(matched) > maxResults {
		matched = matched[:maxResults]
	}

	response := map[string]interface{}{
		"job_id":        jobID,
		"products":      matched,
		"total_matches": total,
		"returned":      len(matched),
	}
	if query != "" {
		response["query"] = query
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetStats handles the get_stats tool
func (s *Server) handleGetStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := s.jobs.Stats()
	result := map[string]interface{}{
		"total_jobs":   stats.Total,
		"running":      stats.Running,
		"completed":    stats.Completed,
		"failed":       stats.Failed,
		"cancelled":    stats.Cancelled,
		"success_rate": stats.SuccessRate,
	}
	if jobIDs, err := s.store.Jobs(ctx); err == nil {
		result["stored_jobs"] = len(jobIDs)
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// filterProducts keeps records whose name or brand contains query, case-insensitively.
// An empty query keeps everything.
func filterProducts(records []models.ProductRecord, query string) []models.ProductRecord {
	matched := make([]models.ProductRecord, 0, len(records))
	if query == "" {
		return append(matched, records...)
	}
	q := strings.ToLower(query)
	for _, rec := range records {
		if strings.Contains(strings.ToLower(rec.Name), q) {
			matched = append(matched, rec)
			continue
		}
		if rec.Brand != nil && strings.Contains(strings.ToLower(*rec.Brand), q) {
			matched = append(matched, rec)
		}
	}
	return matched
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
