package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/metrics"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/utils"
)

// maxBodyBytes caps how much of a listing page is read
const maxBodyBytes = 16 << 20

// PageFetcher retrieves one listing page.
// Failures are reported in the result, never as a panic or separate error.
type PageFetcher interface {
	Fetch(ctx context.Context, req models.PageRequest, timeout time.Duration) models.FetchResult
}

// HTTPFetcher fetches listing pages with plain GET requests.
// Transient failures (timeouts, network errors, 5xx, 429) are retried with
// exponential backoff and jitter; other 4xx and malformed URLs fail at once.
type HTTPFetcher struct {
	client  *http.Client
	cfg     *config.AppConfig
	clocks  *RateClocks
	metrics *metrics.Metrics
	log     *logrus.Entry
}

// NewHTTPFetcher creates an HTTPFetcher. metrics may be nil.
func NewHTTPFetcher(client *http.Client, cfg *config.AppConfig, clocks *RateClocks, m *metrics.Metrics, log *logrus.Entry) *HTTPFetcher {
	return &HTTPFetcher{
		client:  client,
		cfg:     cfg,
		clocks:  clocks,
		metrics: m,
		log:     log.WithField("component", "http_fetcher"),
	}
}

// Fetch performs the request with retries.
// An attempt already on the wire runs to completion or to its own timeout even
// if ctx is cancelled; cancellation only stops further attempts.
func (f *HTTPFetcher) Fetch(ctx context.Context, req models.PageRequest, timeout time.Duration) models.FetchResult {
	result := models.FetchResult{Request: req}
	reqLog := f.log.WithFields(logrus.Fields{"platform": req.Platform, "page": req.PageNumber, "url": req.URL})

	target, err := url.Parse(req.URL)
	if err != nil || !validPageURL(req.URL) {
		result.Status = models.FetchStatusNetworkError
		result.Err = fmt.Errorf("%w: %w: %q", utils.ErrFetchPermanent, utils.ErrInvalidURL, req.URL)
		reqLog.Warn("Malformed page URL, not fetching")
		return result
	}
	if timeout <= 0 {
		timeout = f.cfg.RequestTimeout
	}

	platform := string(req.Platform)
	clock := f.clocks.For(req.Platform)
	userAgent := config.GetEffectiveUserAgent(f.cfg.Platform(platform), f.cfg)
	maxRetries := f.cfg.MaxRetries
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return finishCancelled(result, ctx.Err(), lastErr)
		}

		if attempt > 0 {
			delay := backoffDelay(attempt, f.cfg.InitialRetryDelay, f.cfg.MaxRetryDelay)
			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": delay}).Warn("Retrying request...")
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
		body, code, status, err := f.do(ctx, target, userAgent, timeout)
		result.Attempts = attempt + 1
		result.StatusCode = code
		attemptLog := reqLog.WithFields(logrus.Fields{"attempt": attempt, "status_code": code})

		switch {
		case err != nil:
			result.Status = models.FetchStatusNetworkError
			if utils.IsTimeout(err) {
				result.Status = models.FetchStatusTimeout
			}
			lastErr = fmt.Errorf("%w: %w", utils.ErrFetchTransient, err)
			attemptLog.Warnf("Network error: %v", err)

		case code >= 200 && code < 300:
			f.metrics.ObserveFetch(platform, string(models.FetchStatusOK), time.Since(start))
			attemptLog.WithField("bytes", len(body)).Debug("Successfully fetched")
			result.Status = models.FetchStatusOK
			result.Content = body
			result.Err = nil
			return result

		case code >= 500:
			result.Status = models.FetchStatusHTTPError
			lastErr = fmt.Errorf("%w: %w: status %d", utils.ErrFetchTransient, utils.ErrServerHTTPError, code)
			attemptLog.Warn("Server error, retrying...")

		case code == http.StatusTooManyRequests:
			result.Status = models.FetchStatusHTTPError
			lastErr = fmt.Errorf("%w: %w: status %d", utils.ErrFetchTransient, utils.ErrRateLimited, code)
			attemptLog.Warn("Received 429 Too Many Requests, retrying...")

		case code >= 400:
			f.metrics.ObserveFetch(platform, string(models.FetchStatusHTTPError), time.Since(start))
			attemptLog.Warn("Client error (4xx), not retrying")
			result.Status = models.FetchStatusHTTPError
			result.Err = fmt.Errorf("%w: %w: status %d %s", utils.ErrFetchPermanent, utils.ErrClientHTTPError, code, status)
			return result

		default:
			f.metrics.ObserveFetch(platform, string(models.FetchStatusHTTPError), time.Since(start))
			attemptLog.Warnf("Non-retryable/unexpected status: %d", code)
			result.Status = models.FetchStatusHTTPError
			result.Err = fmt.Errorf("%w: %w: status %d %s", utils.ErrFetchPermanent, utils.ErrOtherHTTPError, code, status)
			return result
		}
		f.metrics.ObserveFetch(platform, string(result.Status), time.Since(start))
	}

	reqLog.Errorf("All %d fetch attempts failed. Last error: %v", maxRetries+1, lastErr)
	result.Err = fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	return result
}

// do performs one GET with its own deadline. The attempt context ignores
// cancellation of ctx so an in-flight request is never torn down mid-way.
func (f *HTTPFetcher) do(ctx context.Context, target *url.URL, userAgent string, timeout time.Duration) ([]byte, int, string, error) {
	attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, 0, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, resp.StatusCode, resp.Status, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, resp.Status, fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	return body, resp.StatusCode, resp.Status, nil
}

// finishCancelled completes a result whose retries were cut short by ctx
func finishCancelled(result models.FetchResult, ctxErr, lastErr error) models.FetchResult {
	if result.Status == "" || result.Status == models.FetchStatusOK {
		result.Status = models.FetchStatusNetworkError
	}
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		result.Status = models.FetchStatusTimeout
	}
	if lastErr != nil {
		result.Err = fmt.Errorf("fetch cancelled (%v) after error: %w", ctxErr, lastErr)
	} else {
		result.Err = fmt.Errorf("fetch cancelled: %w", ctxErr)
	}
	return result
}

func validPageURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Host != "" && (u.Scheme == "http" || u.Scheme == "https")
}

// backoffDelay returns initial*2^(attempt-1) capped at maxDelay, with +/-10% jitter
func backoffDelay(attempt int, initial, maxDelay time.Duration) time.Duration {
	delay := time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
	if delay <= 0 || (maxDelay > 0 && delay > maxDelay) {
		delay = maxDelay
	}
	if delay <= 0 {
		return 0
	}
	var jitter time.Duration
	if r := int64(delay) / 5; r > 0 {
		jitter = time.Duration(rand.Int63n(r)) - delay/10
	}
	if delay+jitter < 0 {
		return 0
	}
	return delay + jitter
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
