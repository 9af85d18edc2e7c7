// Package orchestrate validates scrape jobs, runs them through the platform
// worker, streams records into the store and folds the run summary.
package orchestrate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/metrics"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/storage"
	"catalog-scraper/pkg/utils"
	"catalog-scraper/pkg/worker"
)

// Job defaults applied by PrepareJob
const (
	DefaultMaxPages = 3
	MaxPagesCeiling = 10
)

// PageRunner runs the pages of one job, emitting one result per dispatched page.
// *worker.Worker implements it.
type PageRunner interface {
	Run(ctx context.Context, job models.ScrapeJob, emit func(worker.PageResult)) (worker.RunReport, error)
}

// ProgressFunc observes a job page by page, after the page's records were written
type ProgressFunc func(outcome models.PageOutcome, stored int)

// Coordinator runs scrape jobs end to end
type Coordinator struct {
	cfg     *config.AppConfig
	runner  PageRunner
	store   storage.RecordWriter
	metrics *metrics.Metrics
	log     *logrus.Entry
	now     func() time.Time
}

// NewCoordinator creates a Coordinator. m may be nil.
func NewCoordinator(cfg *config.AppConfig, runner PageRunner, store storage.RecordWriter, m *metrics.Metrics, log *logrus.Entry) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		runner:  runner,
		store:   store,
		metrics: m,
		log:     log.WithField("component", "coordinator"),
		now:     time.Now,
	}
}

// PrepareJob validates job against cfg and applies defaults: max_pages
// capped at 10, output format json, a fresh uuid when ID is empty.
// max_pages below 1 is invalid; callers fill in DefaultMaxPages when the
// request did not name a page count.
// Every validation failure wraps utils.ErrInvalidJob.
func PrepareJob(job models.ScrapeJob, cfg *config.AppConfig) (models.ScrapeJob, error) {
	job.Platform = models.ParsePlatform(string(job.Platform))
	if !job.Platform.IsValid() {
		return job, fmt.Errorf("%w: unsupported platform '%s' (supported: %v)", utils.ErrInvalidJob, job.Platform, models.Platforms)
	}
	if cfg.Platform(string(job.Platform)) == nil {
		return job, fmt.Errorf("%w: platform '%s' is not configured", utils.ErrInvalidJob, job.Platform)
	}

	job.Mode = models.Mode(strings.ToLower(strings.TrimSpace(string(job.Mode))))
	if !job.Mode.IsValid() {
		return job, fmt.Errorf("%w: mode must be '%s' or '%s', got '%s'", utils.ErrInvalidJob, models.ModeSearch, models.ModeCategory, job.Mode)
	}
	job.QueryOrURL = strings.TrimSpace(job.QueryOrURL)
	if job.QueryOrURL == "" {
		return job, fmt.Errorf("%w: query_or_url is required", utils.ErrInvalidJob)
	}

	if job.MaxPages < 1 {
		return job, fmt.Errorf("%w: max_pages must be at least 1, got %d", utils.ErrInvalidJob, job.MaxPages)
	}
	if job.MaxPages > MaxPagesCeiling {
		job.MaxPages = MaxPagesCeiling
	}

	job.OutputFormat = models.OutputFormat(strings.ToLower(strings.TrimSpace(string(job.OutputFormat))))
	if job.OutputFormat == "" {
		job.OutputFormat = models.OutputJSON
	}
	if !job.OutputFormat.IsValid() {
		return job, fmt.Errorf("%w: output_format must be '%s' or '%s', got '%s'", utils.ErrInvalidJob, models.OutputJSON, models.OutputCSV, job.OutputFormat)
	}

	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	return job, nil
}

// Run executes job and returns its summary. Only an invalid job is returned
// as an error; page and store failures are counted in the summary.
func (c *Coordinator) Run(ctx context.Context, job models.ScrapeJob) (*models.RunSummary, error) {
	return c.RunWithProgress(ctx, job, nil)
}

// RunWithProgress is Run with a per-page observer. progress may be nil.
//
// Records are written as pages arrive. Writes use a context detached from
// ctx's cancellation so pages that were in flight when ctx was cancelled are
// still persisted. The summary is built after the worker has returned.
func (c *Coordinator) RunWithProgress(ctx context.Context, job models.ScrapeJob, progress ProgressFunc) (*models.RunSummary, error) {
	prepared, err := PrepareJob(job, c.cfg)
	if err != nil {
		c.log.WithField("platform", job.Platform).Errorf("Rejected job: %v", err)
		return nil, err
	}
	job = prepared

	jobLog := c.log.WithFields(logrus.Fields{"job_id": job.ID, "platform": job.Platform})
	jobLog.WithFields(logrus.Fields{
		"mode":      job.Mode,
		"query":     job.QueryOrURL,
		"max_pages": job.MaxPages,
	}).Info("Starting scrape job")

	c.metrics.JobStarted()
	defer c.metrics.JobFinished()

	platform := string(job.Platform)
	builder := newSummaryBuilder(job, c.now().UTC())
	storeCtx := context.WithoutCancel(ctx)

	emit := func(res worker.PageResult) {
		stored := 0
		for _, rec := range res.Records {
			rec.JobID = job.ID
			if err := c.store.Upsert(storeCtx, job.ID, rec); err != nil {
				builder.addStoreError()
				c.metrics.IncStoreError(platform)
				jobLog.WithFields(logrus.Fields{
					"natural_key": rec.NaturalKey,
					"error_type":  utils.CategorizeError(err),
				}).Errorf("Failed to store record: %v", err)
				continue
			}
			stored++
			builder.addRecord(rec)
			c.metrics.IncStored(platform)
		}
		builder.addPage(res.Outcome)
		if progress != nil {
			progress(res.Outcome, stored)
		}
	}

	report, err := c.runner.Run(ctx, job, emit)
	if err != nil {
		jobLog.Errorf("Job failed before dispatch: %v", err)
		return nil, err
	}

	summary := builder.build(c.now().UTC(), report.Cancelled)
	c.logSummary(jobLog, summary)
	return summary, nil
}

// JobResult is the outcome of one job in a batch
type JobResult struct {
	Job      models.ScrapeJob
	Summary  *models.RunSummary
	Err      error
	Duration time.Duration
}

// RunBatch runs several jobs in parallel and waits for all of them.
// Results are returned in the order of jobs.
func (c *Coordinator) RunBatch(ctx context.Context, jobs []models.ScrapeJob) []JobResult {
	startTime := c.now()
	c.log.Infof("Starting %d scrape jobs in parallel", len(jobs))

	results := make([]JobResult, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := c.now()
			summary, err := c.Run(ctx, job)
			if summary != nil {
				job.ID = summary.JobID
			}
			results[i] = JobResult{Job: job, Summary: summary, Err: err, Duration: c.now().Sub(start)}
		}()
	}
	wg.Wait()

	c.logBatchSummary(results, c.now().Sub(startTime))
	return results
}

// logSummary logs a banner summary of one job
func (c *Coordinator) logSummary(jobLog *logrus.Entry, s *models.RunSummary) {
	jobLog.Info("============================================")
	jobLog.Infof("Job %s (%s) finished in %v", s.JobID, s.Platform, s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	if s.Cancelled {
		jobLog.Warn("Job was cancelled; results cover the pages that completed")
	}
	jobLog.Infof("Pages: %d success, %d partial, %d failed", s.PagesSucceeded, s.PagesPartial, s.PagesFailed)
	for _, p := range s.Pages {
		if p.Status == models.PageStatusFailed {
			jobLog.Infof("  page %d: FAILED (%s) %s", p.PageNumber, p.ErrorType, p.Reason)
		}
	}
	jobLog.Infof("Records stored: %d (store errors: %d)", s.TotalRecords, s.StoreErrors)
	if len(s.TopBrands) > 0 {
		brands := make([]string, 0, len(s.TopBrands))
		for _, b := range s.TopBrands {
			brands = append(brands, fmt.Sprintf("%s=%d", b.Brand, b.Count))
		}
		jobLog.Infof("Top brands: %s", strings.Join(brands, ", "))
	}
	jobLog.Info("============================================")
}

// logBatchSummary logs a summary of all job results
func (c *Coordinator) logBatchSummary(results []JobResult, totalDuration time.Duration) {
	c.log.Info("============================================")
	c.log.Infof("Batch completed in %v", totalDuration.Round(time.Millisecond))

	successCount, failCount, totalRecords := 0, 0, 0
	for _, r := range results {
		if r.Err != nil {
			failCount++
			c.log.Infof("  %s: FAILED - %v", r.Job.Platform, r.Err)
			continue
		}
		successCount++
		totalRecords += r.Summary.TotalRecords
		c.log.Infof("  %s: %d records, %d/%d pages ok in %v", r.Job.Platform, r.Summary.TotalRecords,
			r.Summary.PagesSucceeded+r.Summary.PagesPartial, len(r.Summary.Pages), r.Duration.Round(time.Millisecond))
	}

	c.log.Info("--------------------------------------------")
	c.log.Infof("Total: %d jobs (%d success, %d failed), %d records stored", len(results), successCount, failCount, totalRecords)
	c.log.Info("============================================")
}
