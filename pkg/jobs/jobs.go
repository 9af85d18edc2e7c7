// Package jobs runs scrape jobs in the background and tracks their status and progress.
package jobs

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/orchestrate"
)

// Status represents the current state of a background job
type Status string

const (
	StatusRunning    Status = "running"
	StatusCancelling Status = "cancelling" // Cancel requested; in-flight pages are still being stored
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Finished reports whether the job has reached a terminal state
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Runner executes one job with a per-page observer. *orchestrate.Coordinator implements it.
type Runner interface {
	RunWithProgress(ctx context.Context, job models.ScrapeJob, progress orchestrate.ProgressFunc) (*models.RunSummary, error)
}

// ExportFunc writes a finished job's records somewhere and returns the location
type ExportFunc func(job models.ScrapeJob) (string, error)

// Job is a snapshot of a background scrape job
type Job struct {
	ID             string             `json:"id"`
	Request        models.ScrapeJob   `json:"request"`
	Status         Status             `json:"status"`
	StartedAt      time.Time          `json:"started_at"`
	CompletedAt    time.Time          `json:"completed_at,omitempty"`
	PagesDone      int                `json:"pages_done"`
	PagesTotal     int                `json:"pages_total"`
	ProductsStored int                `json:"products_stored"`
	ErrorMessage   string             `json:"error_message,omitempty"`
	OutputPath     string             `json:"output_path,omitempty"`
	Summary        *models.RunSummary `json:"summary,omitempty"`

	cancel context.CancelFunc
}

// Stats aggregates every job the manager has seen
type Stats struct {
	Total       int     `json:"total"`
	Running     int     `json:"running"` // Includes jobs still cancelling
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Cancelled   int     `json:"cancelled"`
	SuccessRate float64 `json:"success_rate"` // completed / total, percent
}

// Manager manages background scrape jobs
type Manager struct {
	cfg    *config.AppConfig
	runner Runner
	export ExportFunc
	log    *logrus.Entry
	now    func() time.Time

	mu   sync.RWMutex
	jobs map[string]*Job
	wg   sync.WaitGroup
}

// NewManager creates a job manager. export may be nil, in which case finished
// jobs are only kept in the store.
func NewManager(cfg *config.AppConfig, runner Runner, export ExportFunc, log *logrus.Entry) *Manager {
	return &Manager{
		cfg:    cfg,
		runner: runner,
		export: export,
		log:    log.WithField("component", "jobs"),
		now:    time.Now,
		jobs:   make(map[string]*Job),
	}
}

// Start validates req and runs it in the background. Invalid requests are
// rejected here and never tracked.
func (m *Manager) Start(req models.ScrapeJob) (Job, error) {
	prepared, err := orchestrate.PrepareJob(req, m.cfg)
	if err != nil {
		return Job{}, err
	}

	m.mu.Lock()
	if existing, ok := m.jobs[prepared.ID]; ok {
		m.mu.Unlock()
		return Job{}, fmt.Errorf("job '%s' already exists (status %s)", existing.ID, existing.Status)
	}
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:         prepared.ID,
		Request:    prepared,
		Status:     StatusRunning,
		StartedAt:  m.now(),
		PagesTotal: prepared.MaxPages,
		cancel:     cancel,
	}
	m.jobs[job.ID] = job
	snapshot := *job
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(ctx, cancel, prepared)

	m.log.WithFields(logrus.Fields{
		"job_id":   prepared.ID,
		"platform": prepared.Platform,
		"query":    prepared.QueryOrURL,
	}).Info("Started background job")
	return snapshot, nil
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, req models.ScrapeJob) {
	defer m.wg.Done()
	defer cancel()

	progress := func(_ models.PageOutcome, stored int) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if job, ok := m.jobs[req.ID]; ok {
			job.PagesDone++
			job.ProductsStored += stored
		}
	}

	summary, err := m.runner.RunWithProgress(ctx, req, progress)

	var outputPath, exportErr string
	if err == nil && m.export != nil {
		path, expErr := m.export(req)
		if expErr != nil {
			exportErr = expErr.Error()
			m.log.WithField("job_id", req.ID).Errorf("Export failed: %v", expErr)
		}
		outputPath = path
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[req.ID]
	if !ok {
		return
	}
	job.Summary = summary
	job.OutputPath = outputPath
	job.CompletedAt = m.now()
	switch {
	case err != nil:
		job.Status = StatusFailed
		job.ErrorMessage = err.Error()
	case summary != nil && summary.Cancelled, summary == nil && job.Status == StatusCancelling:
		job.Status = StatusCancelled
	default:
		job.Status = StatusCompleted
		job.ErrorMessage = exportErr
	}
	m.log.WithFields(logrus.Fields{"job_id": req.ID, "status": job.Status}).Info("Background job finished")
}

// Get returns a snapshot of the job with the given ID
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns snapshots of all jobs, oldest first
func (m *Manager) List() []Job {
	m.mu.RLock()
	list := make([]Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		list = append(list, *job)
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].StartedAt.Before(list[j].StartedAt)
	})
	return list
}

// Cancel stops a running job. Pages already in flight still complete and are
// stored; the job reports StatusCancelling until they have been, then
// StatusCancelled, or StatusCompleted when no plan page was left undispatched.
// Returns false if the job is unknown or already finished.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status.Finished() {
		return false
	}
	job.cancel()
	job.Status = StatusCancelling
	return true
}

// CancelAll cancels every running job
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if !job.Status.Finished() {
			job.cancel()
			job.Status = StatusCancelling
		}
	}
}

// Wait blocks until every started job has returned
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Stats counts jobs by status
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s Stats
	for _, job := range m.jobs {
		s.Total++
		switch job.Status {
		case StatusRunning, StatusCancelling:
			s.Running++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = math.Round(float64(s.Completed)/float64(s.Total)*10000) / 100
	}
	return s
}
