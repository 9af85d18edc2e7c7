package fetch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/metrics"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/utils"
)

// renderer loads a URL in a browser and returns the rendered document
type renderer interface {
	Render(ctx context.Context, target renderTarget) (html string, status int, err error)
	Close() error
}

type renderTarget struct {
	URL          string
	UserAgent    string
	WaitSelector string
	Timeout      time.Duration
	SettleDelay  time.Duration
}

// RenderFetcher loads listing pages in headless Chromium and captures the DOM
// after client-side rendering. It honours the same rate clocks and retry policy
// as HTTPFetcher.
type RenderFetcher struct {
	renderer renderer
	cfg      *config.AppConfig
	clocks   *RateClocks
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

// NewRenderFetcher creates a RenderFetcher backed by go-rod.
// The browser is launched on first use and shared by all pages.
func NewRenderFetcher(cfg *config.AppConfig, clocks *RateClocks, m *metrics.Metrics, log *logrus.Entry) *RenderFetcher {
	log = log.WithField("component", "render_fetcher")
	return &RenderFetcher{
		renderer: &rodRenderer{settings: cfg.Render, log: log},
		cfg:      cfg,
		clocks:   clocks,
		metrics:  m,
		log:      log,
	}
}

// Fetch renders the page, retrying render failures and 5xx/429 responses
func (f *RenderFetcher) Fetch(ctx context.Context, req models.PageRequest, timeout time.Duration) models.FetchResult {
	result := models.FetchResult{Request: req}
	reqLog := f.log.WithFields(logrus.Fields{"platform": req.Platform, "page": req.PageNumber, "url": req.URL})

	if !validPageURL(req.URL) {
		result.Status = models.FetchStatusNetworkError
		result.Err = fmt.Errorf("%w: %w: %q", utils.ErrFetchPermanent, utils.ErrInvalidURL, req.URL)
		return result
	}
	if timeout <= 0 {
		timeout = f.cfg.RequestTimeout
	}

	platform := string(req.Platform)
	pCfg := f.cfg.Platform(platform)
	target := renderTarget{
		URL:         req.URL,
		UserAgent:   config.GetEffectiveUserAgent(pCfg, f.cfg),
		Timeout:     timeout,
		SettleDelay: f.cfg.Render.SettleDelay,
	}
	if pCfg != nil {
		target.WaitSelector = pCfg.WaitSelector
	}

	clock := f.clocks.For(req.Platform)
	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return finishCancelled(result, ctx.Err(), lastErr)
		}
		if attempt > 0 {
			delay := backoffDelay(attempt, f.cfg.InitialRetryDelay, f.cfg.MaxRetryDelay)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).Warn("Retrying render...")
			f.metrics.IncRetry(platform)
			if err := sleepCtx(ctx, delay); err != nil {
				return finishCancelled(result, err, lastErr)
			}
		}
		waited, err := clock.Wait(ctx)
		f.metrics.ObserveRateWait(platform, waited)
		if err != nil {
			return finishCancelled(result, err, lastErr)
		}

		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		html, status, err := f.renderer.Render(attemptCtx, target)
		cancel()
		result.Attempts = attempt + 1
		result.StatusCode = status

		switch {
		case err != nil:
			result.Status = models.FetchStatusNetworkError
			if utils.IsTimeout(err) {
				result.Status = models.FetchStatusTimeout
			}
			lastErr = fmt.Errorf("%w: %w: %w", utils.ErrFetchTransient, utils.ErrRenderFailed, err)
			reqLog.WithField("attempt", attempt).Warnf("Render failed: %v", err)
		case status >= 500:
			result.Status = models.FetchStatusHTTPError
			lastErr = fmt.Errorf("%w: %w: status %d", utils.ErrFetchTransient, utils.ErrServerHTTPError, status)
		case status == http.StatusTooManyRequests:
			result.Status = models.FetchStatusHTTPError
			lastErr = fmt.Errorf("%w: %w: status %d", utils.ErrFetchTransient, utils.ErrRateLimited, status)
		case status >= 400:
			f.metrics.ObserveFetch(platform, string(models.FetchStatusHTTPError), time.Since(start))
			result.Status = models.FetchStatusHTTPError
			result.Err = fmt.Errorf("%w: %w: status %d %s", utils.ErrFetchPermanent, utils.ErrClientHTTPError, status, http.StatusText(status))
			return result
		default:
			f.metrics.ObserveFetch(platform, string(models.FetchStatusOK), time.Since(start))
			reqLog.WithField("bytes", len(html)).Debug("Rendered page")
			result.Status = models.FetchStatusOK
			result.Content = []byte(html)
			result.Err = nil
			return result
		}
		f.metrics.ObserveFetch(platform, string(result.Status), time.Since(start))
	}

	reqLog.Errorf("All %d render attempts failed. Last error: %v", f.cfg.MaxRetries+1, lastErr)
	result.Err = fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	return result
}

// Close shuts the browser down if it was started
func (f *RenderFetcher) Close() error {
	return f.renderer.Close()
}

// rodRenderer drives a lazily launched Chromium through go-rod
type rodRenderer struct {
	settings config.RenderConfig
	log      *logrus.Entry

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
}

func (r *rodRenderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser != nil {
		return r.browser, nil
	}

	l := launcher.New().Headless(!r.settings.ShowBrowser).NoSandbox(r.settings.NoSandbox)
	if r.settings.BrowserBin != "" {
		l = l.Bin(r.settings.BrowserBin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	r.log.WithField("control_url", controlURL).Info("Headless browser started")
	r.browser = browser
	r.launcher = l
	return browser, nil
}

func (r *rodRenderer) Render(ctx context.Context, target renderTarget) (string, int, error) {
	browser, err := r.connect()
	if err != nil {
		return "", 0, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", 0, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: target.UserAgent}); err != nil {
		return "", 0, fmt.Errorf("set user agent: %w", err)
	}

	p := page.Context(ctx)
	e := proto.NetworkResponseReceived{}
	wait := p.WaitEvent(&e)
	if err := p.Navigate(target.URL); err != nil {
		return "", 0, fmt.Errorf("navigate: %w", err)
	}
	wait()
	if e.Response == nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		return "", 0, fmt.Errorf("no response received for %s", target.URL)
	}
	status := e.Response.Status
	if status >= 400 {
		return "", status, nil
	}

	if err := p.WaitLoad(); err != nil {
		return "", status, fmt.Errorf("wait load: %w", err)
	}
	if target.WaitSelector != "" {
		// A listing page with no results never shows the selector; keep the DOM anyway
		if _, err := p.Element(target.WaitSelector); err != nil {
			r.log.WithFields(logrus.Fields{"url": target.URL, "selector": target.WaitSelector}).Debugf("Wait selector not found: %v", err)
		}
	}
	if target.SettleDelay > 0 {
		if err := sleepCtx(ctx, target.SettleDelay); err != nil {
			return "", status, err
		}
	}

	html, err := page.HTML()
	if err != nil {
		return "", status, fmt.Errorf("capture html: %w", err)
	}
	return html, status, nil
}

func (r *rodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.browser == nil {
		return nil
	}
	err := r.browser.Close()
	r.launcher.Kill()
	r.browser = nil
	r.launcher = nil
	return err
}
