package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/export"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/orchestrate"
	"catalog-scraper/pkg/storage"
	"catalog-scraper/pkg/utils"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "scrape":
		runScrape(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "list-platforms":
		runListPlatforms(os.Args[2:])
	case "export":
		runExport(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("catalog-scraper %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `catalog-scraper - E-commerce product listing scraper

Usage:
  catalog-scraper <command> [options]

Commands:
  scrape          Scrape listing pages for one or more platforms
  validate        Validate configuration file
  list-platforms  List configured platforms
  export          Export a stored job's products as JSON or CSV
  mcp-server      Start MCP server for AI tool integration
  version         Show version info

Run 'catalog-scraper <command> -h' for command-specific help.`)
}

// loadConfig loads the config file, or the built-in defaults when path is empty
func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		return config.LoadDefaults(), nil
	}
	return config.Load(path)
}

// setupLogger creates a configured logrus.Logger writing to out
func setupLogger(logLevelStr string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", logLevelStr, err)
	} else {
		log.SetLevel(level)
	}
	return log
}

// loadAndValidateConfig loads the config, applies defaults and logs warnings
func loadAndValidateConfig(configPath string, log *logrus.Logger) (*config.AppConfig, error) {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	warnings, _ := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	for _, key := range appCfg.PlatformKeys() {
		platformWarnings, err := appCfg.Platforms[key].Validate()
		if err != nil {
			return nil, fmt.Errorf("platform '%s': %w", key, err)
		}
		for _, w := range platformWarnings {
			log.Warnf("[%s] %s", key, w)
		}
	}
	// log_level from the config only ever makes logging more verbose than the flag
	if appCfg.LogLevel != "" {
		if level, err := logrus.ParseLevel(appCfg.LogLevel); err == nil && level > log.GetLevel() {
			log.SetLevel(level)
		}
	}
	return appCfg, nil
}

// scrapeOptions carries the scrape command's flags
type scrapeOptions struct {
	Platforms string // comma-separated
	Mode      string
	Query     string
	MaxPages  int
	Format    string
	JobID     string
	LogLevel  string
	NoExport  bool
}

// jobs builds one ScrapeJob per requested platform
func (o scrapeOptions) jobs() []models.ScrapeJob {
	var jobs []models.ScrapeJob
	for _, p := range strings.Split(o.Platforms, ",") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		jobs = append(jobs, models.ScrapeJob{
			ID:           o.JobID,
			Platform:     models.ParsePlatform(p),
			Mode:         models.Mode(o.Mode),
			QueryOrURL:   o.Query,
			MaxPages:     o.MaxPages,
			OutputFormat: models.OutputFormat(o.Format),
		})
	}
	return jobs
}

// runScrape handles the scrape subcommand
func runScrape(args []string) {
	fs := flag.NewFlagSet("scrape", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (built-in platform settings if empty)")
	var opts scrapeOptions
	fs.StringVar(&opts.Platforms, "platform", "", "Platform key, or comma-separated keys to scrape in parallel (required)")
	fs.StringVar(&opts.Mode, "mode", string(models.ModeSearch), "Job mode: search or category")
	fs.StringVar(&opts.Query, "query", "", "Search term (search mode) or listing URL (category mode)")
	fs.IntVar(&opts.MaxPages, "max-pages", orchestrate.DefaultMaxPages, "Pages to scrape (1-10)")
	fs.StringVar(&opts.Format, "format", string(models.OutputJSON), "Export format: json or csv")
	fs.StringVar(&opts.JobID, "job-id", "", "Job ID (random if empty; only valid with a single platform)")
	fs.StringVar(&opts.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	fs.BoolVar(&opts.NoExport, "no-export", false, "Only store records, skip writing the export file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: catalog-scraper scrape [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  catalog-scraper scrape -platform jumia -query \"samsung phones\" -max-pages 3\n")
		fmt.Fprintf(os.Stderr, "  catalog-scraper scrape -platform jumia,kilimall -query tv -format csv\n")
		fmt.Fprintf(os.Stderr, "  catalog-scraper scrape -platform kilimall -mode category -query https://www.kilimall.co.ke/category/tvs\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(doScrape(ctx, *configFile, opts, os.Stdout, os.Stderr))
}

// doScrape runs the requested jobs and prints one result line per job.
// Returns exit code (0 = every job ran, 1 = a job was invalid or setup failed).
func doScrape(ctx context.Context, configPath string, opts scrapeOptions, stdout, stderr io.Writer) int {
	log := setupLogger(opts.LogLevel, stderr)
	appCfg, err := loadAndValidateConfig(configPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	jobs := opts.jobs()
	if len(jobs) == 0 {
		fmt.Fprintln(stderr, "Error: -platform is required")
		return 1
	}
	if len(jobs) > 1 && opts.JobID != "" {
		fmt.Fprintln(stderr, "Error: -job-id can only be used with a single platform")
		return 1
	}
	for i, job := range jobs {
		prepared, err := orchestrate.PrepareJob(job, appCfg)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		jobs[i] = prepared
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

	results := p.coordinator.RunBatch(ctx, jobs)

	exitCode := 0
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(stdout, "%s\tFAILED\t%v\n", r.Job.Platform, r.Err)
			exitCode = 1
			continue
		}
		s := r.Summary
		line := fmt.Sprintf("%s\t%s\trecords=%d pages_ok=%d pages_partial=%d pages_failed=%d",
			s.Platform, s.JobID, s.TotalRecords, s.PagesSucceeded, s.PagesPartial, s.PagesFailed)
		if s.Cancelled {
			line += " cancelled"
		}
		if !opts.NoExport {
			path, err := p.exportJob(r.Job)
			if err != nil {
				log.Errorf("Export of job %s failed: %v", s.JobID, err)
				exitCode = 1
			} else {
				line += " output=" + path
			}
		}
		fmt.Fprintln(stdout, line)
	}
	return exitCode
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	platform := fs.String("platform", "", "Platform key to validate (optional, validates all if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: catalog-scraper validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, *platform, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath, platformKey string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, _ := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}

	keys := appCfg.PlatformKeys()
	if platformKey != "" {
		if appCfg.Platform(platformKey) == nil {
			fmt.Fprintf(stderr, "Error: platform '%s' not found in config\n", platformKey)
			return 1
		}
		keys = []string{platformKey}
	}

	hasError := false
	for _, key := range keys {
		p := appCfg.Platforms[key]
		platformWarnings, err := p.Validate()
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: [%s] %v\n", key, err)
			hasError = true
			continue
		}
		if !models.ParsePlatform(key).IsValid() {
			fmt.Fprintf(stderr, "ERROR: [%s] no extractor for this platform (supported: %v)\n", key, models.Platforms)
			hasError = true
			continue
		}
		for _, w := range platformWarnings {
			fmt.Fprintf(stdout, "WARN: [%s] %s\n", key, w)
		}
		fmt.Fprintf(stdout, "OK: [%s]\n", key)
	}
	if hasError {
		return 1
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// runListPlatforms handles the list-platforms subcommand
func runListPlatforms(args []string) {
	fs := flag.NewFlagSet("list-platforms", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (built-in platform settings if empty)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: catalog-scraper list-platforms [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doListPlatforms(*configFile, os.Stdout, os.Stderr))
}

// doListPlatforms lists platforms and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doListPlatforms(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	appCfg.Validate()

	source := configPath
	if source == "" {
		source = "built-in settings"
	}
	fmt.Fprintf(stdout, "Platforms in %s:\n\n", source)
	for _, key := range appCfg.PlatformKeys() {
		p := appCfg.Platforms[key]
		fmt.Fprintf(stdout, "  %s\n", key)
		fmt.Fprintf(stdout, "    Base URL: %s\n", p.BaseURL)
		fmt.Fprintf(stdout, "    Fetch Strategy: %s\n", config.GetEffectiveFetchStrategy(p))
		fmt.Fprintf(stdout, "    Min Delay: %v (+%v jitter)\n", config.GetEffectiveMinDelay(p, appCfg), p.DelayJitter)
		if p.MaxPageLimit > 0 {
			fmt.Fprintf(stdout, "    Max Page Limit: %d\n", p.MaxPageLimit)
		}
		if p.DefaultCategory != "" {
			fmt.Fprintf(stdout, "    Default Category: %s\n", p.DefaultCategory)
		}
		fmt.Fprintln(stdout)
	}
	return 0
}

// runExport handles the export subcommand
func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (built-in settings if empty)")
	jobID := fs.String("job-id", "", "Job ID to export (lists stored jobs if empty)")
	format := fs.String("format", string(models.OutputJSON), "Export format: json or csv")
	output := fs.String("output", "", "Output file ('-' for stdout, default: <output_base_dir>/<platform>_<query>_<job>.<format>)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: catalog-scraper export [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doExport(*configFile, *jobID, *format, *output, os.Stdout, os.Stderr))
}

// doExport writes a stored job's records, or lists stored job IDs when jobID is empty.
// Returns exit code (0 = success, 1 = error).
func doExport(configPath, jobID, format, output string, stdout, stderr io.Writer) int {
	log := setupLogger("warn", stderr)
	appCfg, err := loadAndValidateConfig(configPath, log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	outFormat := models.OutputFormat(strings.ToLower(strings.TrimSpace(format)))
	if !outFormat.IsValid() {
		fmt.Fprintf(stderr, "Error: format must be '%s' or '%s', got '%s'\n", models.OutputJSON, models.OutputCSV, format)
		return 1
	}

	store, err := storage.NewBadgerStore(appCfg.StateDir, appCfg.StoreCacheSize, log.WithField("app", "catalog-scraper"))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	ctx := context.Background()
	if jobID == "" {
		jobIDs, err := store.Jobs(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Stored jobs in %s:\n", appCfg.StateDir)
		for _, id := range jobIDs {
			fmt.Fprintf(stdout, "  %s\n", id)
		}
		return 0
	}

	records, err := store.ListByJob(ctx, jobID)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(records) == 0 {
		fmt.Fprintf(stderr, "Error: no records stored for job '%s'\n", jobID)
		return 1
	}

	if output == "-" {
		if err := export.Write(stdout, outFormat, records, appCfg.AbsentMarker); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	job := models.ScrapeJob{ID: jobID, Platform: records[0].Platform, OutputFormat: outFormat}
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", utils.WrapErrorf(utils.ErrFilesystem, "create '%s': %v", output, err))
			return 1
		}
		writeErr := export.Write(f, outFormat, records, appCfg.AbsentMarker)
		if closeErr := f.Close(); writeErr == nil {
			writeErr = closeErr
		}
		if writeErr != nil {
			fmt.Fprintf(stderr, "Error: %v\n", writeErr)
			return 1
		}
		fmt.Fprintf(stdout, "Exported %d records to %s\n", len(records), output)
		return 0
	}

	path, err := export.WriteFile(appCfg.OutputBaseDir, job, records, appCfg.AbsentMarker, log.WithField("component", "export"))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Exported %d records to %s\n", len(records), path)
	return 0
}
