package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/jobs"
	"catalog-scraper/pkg/storage"
)

const (
	serverName    = "catalog-scraper"
	serverVersion = "0.4.0"
)

// ServerConfig holds configuration for the MCP server
type ServerConfig struct {
	AppConfig  *config.AppConfig
	ConfigPath string
	Transport  string // "stdio" or "sse"
	Port       int
	Logger     *logrus.Logger
	Jobs       *jobs.Manager
	Store      storage.RecordReader
}

// Server exposes scrape jobs and stored products as MCP tools
type Server struct {
	mcpServer *server.MCPServer
	cfg       *ServerConfig
	log       *logrus.Entry
	jobs      *jobs.Manager
	store     storage.RecordReader
}

// NewServer creates a new MCP server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("AppConfig is required")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job manager is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("record store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	mcpServer := server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithLogging(),
	)

	s := &Server{
		mcpServer: mcpServer,
		cfg:       cfg,
		log:       cfg.Logger.WithField("component", "mcp"),
		jobs:      cfg.Jobs,
		store:     cfg.Store,
	}
	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	listPlatformsTool := mcp.NewTool("list_platforms",
		mcp.WithDescription("List the marketplaces that can be scraped and their settings"),
	)
	s.mcpServer.AddTool(listPlatformsTool, s.handleListPlatforms)

	scrapeTool := mcp.NewTool("scrape_products",
		mcp.WithDescription("Start a background scrape of a platform's product listings. Returns immediately with a job ID."),
		mcp.WithString("platform",
			mcp.Required(),
			mcp.Description("Platform key (e.g., 'jumia', 'kilimall')"),
		),
		mcp.WithString("query_or_url",
			mcp.Required(),
			mcp.Description("Search term in search mode, listing URL in category mode"),
		),
		mcp.WithString("mode",
			mcp.Description("'search' (default) or 'category'"),
		),
		mcp.WithNumber("max_pages",
			mcp.Description("Pages to scrape (default: 3, max: 10)"),
		),
		mcp.WithString("output_format",
			mcp.Description("Export format written when the job finishes: 'json' (default) or 'csv'"),
		),
	)
	s.mcpServer.AddTool(scrapeTool, s.handleScrapeProducts)

	getJobStatusTool := mcp.NewTool("get_job_status",
		mcp.WithDescription("Get the status, progress and summary of a scrape job"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID returned by scrape_products"),
		),
	)
	s.mcpServer.AddTool(getJobStatusTool, s.handleGetJobStatus)

	cancelJobTool := mcp.NewTool("cancel_job",
		mcp.WithDescription("Stop a running scrape job. Pages already in flight are still stored."),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID to cancel"),
		),
	)
	s.mcpServer.AddTool(cancelJobTool, s.handleCancelJob)

	listProductsTool := mcp.NewTool("list_job_products",
		mcp.WithDescription("List the products stored by a job, optionally filtered by name or brand"),
		mcp.WithString("job_id",
			mcp.Required(),
			mcp.Description("The job ID whose products to list"),
		),
		mcp.WithString("query",
			mcp.Description("Case-insensitive substring matched against name and brand (optional)"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of products to return (default: 20, max: 200)"),
		),
	)
	s.mcpServer.AddTool(listProductsTool, s.handleListJobProducts)

	statsTool := mcp.NewTool("get_stats",
		mcp.WithDescription("Aggregate counts of scrape jobs started by this server"),
	)
	s.mcpServer.AddTool(statsTool, s.handleGetStats)

	s.log.Infof("Registered %d MCP tools", 6)
}

// Run starts the MCP server with the configured transport
func (s *Server) Run() error {
	switch s.cfg.Transport {
	case "stdio":
		s.log.Info("Starting MCP server with stdio transport")
		return server.ServeStdio(s.mcpServer)
	case "sse":
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.log.Infof("Starting MCP server with SSE transport on %s", addr)
		sseServer := server.NewSSEServer(s.mcpServer)
		return sseServer.Start(addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, sse)", s.cfg.Transport)
	}
}

// Shutdown cancels running jobs and waits for them to store what they have
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down MCP server...")
	s.jobs.CancelAll()

	done := make(chan struct{})
	go func() {
		s.jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for jobs to stop: %w", ctx.Err())
	}
}
