// Package worker runs one scrape job's pages through fetch, extract and normalize.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/extract"
	"catalog-scraper/pkg/fetch"
	"catalog-scraper/pkg/metrics"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/normalize"
	"catalog-scraper/pkg/paginate"
	"catalog-scraper/pkg/utils"
)

// PageResult is emitted once per dispatched page.
// Records are in extraction order; they are empty when the page failed.
type PageResult struct {
	Outcome models.PageOutcome
	Records []models.ProductRecord
	Empty   bool // Page parsed but had no product containers
}

// RunReport describes how a job's dispatch loop ended
type RunReport struct {
	Dispatched int  // Pages handed to the fetcher
	Cancelled  bool // Cancellation stopped dispatch while plan pages remained
}

// Worker drives the pages of a job for one platform.
// It is safe to run several jobs on one Worker concurrently; the shared
// PlatformSlots and rate clocks keep the per-platform limits.
type Worker struct {
	cfg        *config.AppConfig
	fetcher    fetch.PageFetcher
	slots      *fetch.PlatformSlots
	normalizer *normalize.Normalizer
	metrics    *metrics.Metrics
	log        *logrus.Entry
	now        func() time.Time

	mu    sync.Mutex
	state models.WorkerState
}

// New creates a Worker. slots and m may be nil.
func New(cfg *config.AppConfig, fetcher fetch.PageFetcher, slots *fetch.PlatformSlots, m *metrics.Metrics, log *logrus.Entry) *Worker {
	log = log.WithField("component", "worker")
	return &Worker{
		cfg:        cfg,
		fetcher:    fetcher,
		slots:      slots,
		normalizer: normalize.NewNormalizer(cfg.DiscountPolicy, log),
		metrics:    m,
		log:        log,
		now:        time.Now,
		state:      models.StateIdle,
	}
}

// State returns the most recent state transition
func (w *Worker) State() models.WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s models.WorkerState, log *logrus.Entry) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	log.WithField("state", s).Trace("Worker state")
}

// Run fetches, extracts and normalizes every page of the job, calling emit
// once per dispatched page in page order. emit is never called concurrently.
//
// An invalid job fails before any fetch. Page-level failures are reported
// through emit and never returned. Cancellation of ctx stops further
// dispatch; pages already in flight complete and are still emitted. The
// report only marks the run cancelled when pages were actually left undone.
func (w *Worker) Run(ctx context.Context, job models.ScrapeJob, emit func(PageResult)) (RunReport, error) {
	jobLog := w.log.WithFields(logrus.Fields{"job_id": job.ID, "platform": job.Platform})
	w.setState(models.StateIdle, jobLog)

	platformCfg := w.cfg.Platform(string(job.Platform))
	plan, err := paginate.NewPlan(job, platformCfg)
	if err != nil {
		w.setState(models.StateFatalError, jobLog)
		return RunReport{}, err
	}
	extractor, err := extract.For(job.Platform, platformCfg)
	if err != nil {
		w.setState(models.StateFatalError, jobLog)
		return RunReport{}, fmt.Errorf("%w: %w", utils.ErrInvalidJob, err)
	}

	lookAhead := w.cfg.LookAhead
	if lookAhead < 1 {
		lookAhead = 1
	}
	stopOnEmpty := config.GetEffectiveStopOnEmptyPage(platformCfg, w.cfg)
	timeout := config.GetEffectiveRequestTimeout(platformCfg, w.cfg)

	jobLog.WithFields(logrus.Fields{
		"pages":         plan.Len(),
		"look_ahead":    lookAhead,
		"stop_on_empty": stopOnEmpty,
	}).Info("Starting platform worker")

	// Each dispatched page gets a one-slot channel; the emitter drains them in
	// dispatch order so emit sees pages in plan order.
	ordered := make(chan chan *PageResult, lookAhead)
	emitDone := make(chan struct{})
	go func() {
		defer close(emitDone)
		for ch := range ordered {
			if res := <-ch; res != nil {
				emit(*res)
			}
		}
	}()

	var stop, cancelled atomic.Bool
	var dispatched atomic.Int64
	var g errgroup.Group
	g.SetLimit(lookAhead)

	for plan.Remaining() > 0 {
		if ctx.Err() != nil {
			jobLog.Info("Cancellation observed, not dispatching further pages")
			cancelled.Store(true)
			break
		}
		if stop.Load() {
			jobLog.Info("Empty page reached, not dispatching further pages")
			break
		}
		req, ok := plan.Next()
		if !ok {
			break
		}

		ch := make(chan *PageResult, 1)
		ordered <- ch
		g.Go(func() error {
			// Re-checked after the look-ahead slot frees up
			if stop.Load() {
				ch <- nil
				return nil
			}
			if ctx.Err() != nil {
				cancelled.Store(true)
				ch <- nil
				return nil
			}
			dispatched.Add(1)
			res := w.runPage(ctx, extractor, req, timeout, jobLog)
			if res.Empty && stopOnEmpty {
				stop.Store(true)
			}
			ch <- &res
			return nil
		})
	}

	_ = g.Wait()
	close(ordered)
	<-emitDone

	w.setState(models.StateAggregating, jobLog)
	if err := plan.Err(); err != nil {
		jobLog.Warnf("Pagination ended early: %v", err)
	}
	w.setState(models.StateComplete, jobLog)
	return RunReport{Dispatched: int(dispatched.Load()), Cancelled: cancelled.Load()}, nil
}

// runPage produces the single outcome for one page
func (w *Worker) runPage(ctx context.Context, extractor extract.Extractor, req models.PageRequest, timeout time.Duration, jobLog *logrus.Entry) PageResult {
	pageLog := jobLog.WithFields(logrus.Fields{"page": req.PageNumber, "url": req.URL})
	platform := string(req.Platform)
	res := PageResult{Outcome: models.PageOutcome{PageNumber: req.PageNumber, URL: req.URL}}

	if w.slots != nil {
		if err := w.slots.Acquire(ctx, req.Platform); err != nil {
			w.fail(&res, platform, "could not acquire a fetch slot", err, pageLog)
			return res
		}
		defer w.slots.Release(req.Platform)
	}

	w.setState(models.StateFetching, pageLog)
	fetched := w.fetcher.Fetch(ctx, req, timeout)
	if !fetched.OK() {
		reason := fmt.Sprintf("fetch %s after %d attempt(s)", fetched.Status, fetched.Attempts)
		if fetched.StatusCode > 0 {
			reason = fmt.Sprintf("fetch %s (status %d) after %d attempt(s)", fetched.Status, fetched.StatusCode, fetched.Attempts)
		}
		w.fail(&res, platform, reason, fetched.Err, pageLog)
		return res
	}

	w.setState(models.StateExtracting, pageLog)
	blocks, err := extractor.Extract(fetched.Content)
	if err != nil {
		w.fail(&res, platform, "page content could not be parsed", err, pageLog)
		return res
	}
	if len(blocks) == 0 {
		res.Empty = true
	}

	w.setState(models.StateNormalizing, pageLog)
	scrapedAt := w.now()
	res.Records = make([]models.ProductRecord, 0, len(blocks))
	for _, block := range blocks {
		rec, err := w.normalizer.Normalize(block, scrapedAt)
		if err != nil {
			res.Outcome.Rejected++
			w.metrics.IncRejected(platform, utils.CategorizeError(err))
			pageLog.Debugf("Dropped product block: %v", err)
			continue
		}
		res.Records = append(res.Records, rec)
	}

	res.Outcome.RecordCount = len(res.Records)
	res.Outcome.FieldGaps = fieldGaps(res.Records)
	if len(res.Outcome.FieldGaps) == 0 {
		res.Outcome.Status = models.PageStatusSuccess
	} else {
		res.Outcome.Status = models.PageStatusPartial
		res.Outcome.ErrorType = utils.CategorizeError(utils.ErrFieldGap)
	}
	w.metrics.IncPage(platform, string(res.Outcome.Status))

	pageLog.WithFields(logrus.Fields{
		"status":   res.Outcome.Status,
		"records":  res.Outcome.RecordCount,
		"rejected": res.Outcome.Rejected,
		"blocks":   len(blocks),
	}).Info("Page processed")
	return res
}

func (w *Worker) fail(res *PageResult, platform, reason string, err error, pageLog *logrus.Entry) {
	res.Outcome.Status = models.PageStatusFailed
	res.Outcome.Reason = reason
	if err != nil {
		res.Outcome.Reason = fmt.Sprintf("%s: %v", reason, err)
	}
	res.Outcome.ErrorType = utils.CategorizeError(err)
	res.Records = nil
	w.metrics.IncPage(platform, string(models.PageStatusFailed))
	pageLog.WithField("error_type", res.Outcome.ErrorType).Warnf("Page failed: %s", res.Outcome.Reason)
}

// fieldGaps counts, per tracked field, the records missing it. Nil when none.
func fieldGaps(records []models.ProductRecord) map[string]int {
	var gaps map[string]int
	for i := range records {
		for _, f := range models.TrackedFields {
			if records[i].HasField(f) {
				continue
			}
			if gaps == nil {
				gaps = make(map[string]int)
			}
			gaps[string(f)]++
		}
	}
	return gaps
}
