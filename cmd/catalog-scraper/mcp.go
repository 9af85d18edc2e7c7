package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"catalog-scraper/pkg/jobs"
	"catalog-scraper/pkg/mcp"
)

// shutdownTimeout bounds how long the server waits for cancelled jobs to store their pages
const shutdownTimeout = 30 * time.Second

// runMcpServer handles the mcp-server subcommand
func runMcpServer(args []string) {
	fs := flag.NewFlagSet("mcp-server", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (built-in platform settings if empty)")
	transport := fs.String("transport", "stdio", "Transport type (stdio, sse)")
	port := fs.Int("port", 8080, "HTTP port (for sse transport)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: catalog-scraper mcp-server [options]

Start an MCP (Model Context Protocol) server for AI tool integration.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport
  catalog-scraper mcp-server -config config.yaml

  # Start with SSE transport on port 8080
  catalog-scraper mcp-server -config config.yaml -transport sse -port 8080

Available MCP Tools:
  list_platforms     List configured platforms
  scrape_products    Start a background scrape job
  get_job_status     Status, progress and summary of a job
  cancel_job         Stop a running job
  list_job_products  List the products a job stored
  get_stats          Aggregate job counts
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doMcpServer(*configFile, *transport, *port, *logLevel, os.Stdout, os.Stderr))
}

// doMcpServer is the testable implementation of the MCP server
func doMcpServer(configPath, transport string, port int, logLevel string, stdout, stderr io.Writer) int {
	if transport != "stdio" && transport != "sse" {
		fmt.Fprintf(stderr, "Unknown transport: %s (supported: stdio, sse)\n", transport)
		return 1
	}

	// MCP protocol uses stdout, logs go to stderr
	log := setupLogger(logLevel, stderr)

	appCfg, err := loadAndValidateConfig(configPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}

	p, err := newPipeline(appCfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer p.close()

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	p.startBackground(bgCtx)

	manager := jobs.NewManager(appCfg, p.coordinator, p.exportJob, log.WithField("app", "catalog-scraper"))

	server, err := mcp.NewServer(&mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: configPath,
		Transport:  transport,
		Port:       port,
		Logger:     log,
		Jobs:       manager,
		Store:      p.store,
	})
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting MCP server (transport: %s)", transport)
		errCh <- server.Run()
	}()

	exitCode := 0
	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(stderr, "MCP server error: %v\n", err)
			exitCode = 1
		}
	case sig := <-sigChan:
		log.Warnf("Received signal %v, shutting down...", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Shutdown: %v", err)
		exitCode = 1
	}
	return exitCode
}
