package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/fetch"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/utils"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testConfig(lookAhead int) *config.AppConfig {
	return &config.AppConfig{
		RequestTimeout: time.Second,
		LookAhead:      lookAhead,
		DiscountPolicy: config.DiscountPolicyComputed,
		Platforms: map[string]*config.PlatformConfig{
			"jumia": {
				BaseURL:         "https://www.jumia.co.ke",
				DefaultCategory: "Phones",
				KnownBrands:     []string{"Nokia"},
			},
		},
	}
}

func searchJob(pages int) models.ScrapeJob {
	return models.ScrapeJob{
		ID:         "job-1",
		Platform:   models.PlatformJumia,
		Mode:       models.ModeSearch,
		QueryOrURL: "phones",
		MaxPages:   pages,
	}
}

// product describes one article.prd in a generated Jumia listing
type product struct {
	name, price, old, discount, rating, reviews string
}

func fullProduct(name string) product {
	return product{
		name: name, price: "KSh 9,000", old: "KSh 10,000", discount: "10%",
		rating: "4.5 out of 5", reviews: "(12)",
	}
}

func jumiaListing(products ...product) string {
	var b strings.Builder
	b.WriteString("<html><body><div class=\"row\">")
	for i, p := range products {
		b.WriteString(`<article class="prd">`)
		fmt.Fprintf(&b, `<a class="core" href="/p-%d.html" data-ga4-item_brand="Acme">`, i)
		fmt.Fprintf(&b, `<img class="img" data-src="https://img.example/%d.jpg">`, i)
		if p.name != "" {
			fmt.Fprintf(&b, `<h3 class="name">%s</h3>`, p.name)
		}
		fmt.Fprintf(&b, `<div class="prc">%s</div>`, p.price)
		if p.old != "" {
			fmt.Fprintf(&b, `<div class="s-prc-w"><div class="old">%s</div><div class="bdg _dsct">%s</div></div>`, p.old, p.discount)
		}
		if p.rating != "" {
			fmt.Fprintf(&b, `<div class="rev"><div class="stars _s">%s</div>%s</div>`, p.rating, p.reviews)
		}
		b.WriteString("</a></article>")
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

type pageFunc func(ctx context.Context, req models.PageRequest) models.FetchResult

func okResult(html string) models.FetchResult {
	return models.FetchResult{Status: models.FetchStatusOK, StatusCode: 200, Content: []byte(html), Attempts: 1}
}

func okPage(html string) pageFunc {
	return func(context.Context, models.PageRequest) models.FetchResult {
		return okResult(html)
	}
}

// scriptedFetcher serves canned results per page number and records calls
type scriptedFetcher struct {
	mu    sync.Mutex
	pages map[int]pageFunc
	calls []int
}

func (f *scriptedFetcher) Fetch(ctx context.Context, req models.PageRequest, _ time.Duration) models.FetchResult {
	f.mu.Lock()
	f.calls = append(f.calls, req.PageNumber)
	fn := f.pages[req.PageNumber]
	f.mu.Unlock()

	if fn == nil {
		fn = okPage(jumiaListing())
	}
	res := fn(ctx, req)
	res.Request = req
	return res
}

func (f *scriptedFetcher) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

func collect(t *testing.T, w *Worker, ctx context.Context, job models.ScrapeJob) []PageResult {
	t.Helper()
	results, _ := collectReport(t, w, ctx, job)
	return results
}

func collectReport(t *testing.T, w *Worker, ctx context.Context, job models.ScrapeJob) ([]PageResult, RunReport) {
	t.Helper()
	var results []PageResult
	report, err := w.Run(ctx, job, func(r PageResult) { results = append(results, r) })
	require.NoError(t, err)
	return results, report
}

func TestRun_InvalidJobFailsBeforeFetch(t *testing.T) {
	jobs := map[string]models.ScrapeJob{
		"zero pages":       searchJob(0),
		"unknown platform": {Platform: "shopify", Mode: models.ModeSearch, QueryOrURL: "x", MaxPages: 1},
		"empty query":      {Platform: models.PlatformJumia, Mode: models.ModeSearch, QueryOrURL: " ", MaxPages: 1},
		"relative category": {
			Platform: models.PlatformJumia, Mode: models.ModeCategory, QueryOrURL: "/phones/", MaxPages: 1,
		},
	}

	for name, job := range jobs {
		t.Run(name, func(t *testing.T) {
			f := &scriptedFetcher{}
			w := New(testConfig(1), f, nil, nil, testLogger())

			emitted := 0
			_, err := w.Run(context.Background(), job, func(PageResult) { emitted++ })
			require.Error(t, err)
			assert.True(t, errors.Is(err, utils.ErrInvalidJob))
			assert.Empty(t, f.Calls())
			assert.Zero(t, emitted)
			assert.Equal(t, models.StateFatalError, w.State())
		})
	}
}

func TestRun_OneOutcomePerPage(t *testing.T) {
	timeoutErr := fmt.Errorf("%w: %w", utils.ErrRetryFailed, fmt.Errorf("%w: %w", utils.ErrFetchTransient, context.DeadlineExceeded))
	partial := fullProduct("Phone C")
	partial.rating, partial.reviews = "", ""

	f := &scriptedFetcher{pages: map[int]pageFunc{
		1: okPage(jumiaListing(fullProduct("Phone A"), fullProduct("Phone B"))),
		2: func(context.Context, models.PageRequest) models.FetchResult {
			return models.FetchResult{Status: models.FetchStatusTimeout, Attempts: 4, Err: timeoutErr}
		},
		3: okPage(jumiaListing(partial, fullProduct("Phone D"))),
	}}
	w := New(testConfig(2), f, nil, nil, testLogger())

	results := collect(t, w, context.Background(), searchJob(3))
	require.Len(t, results, 3)

	first := results[0].Outcome
	assert.Equal(t, 1, first.PageNumber)
	assert.Equal(t, models.PageStatusSuccess, first.Status)
	assert.Equal(t, 2, first.RecordCount)
	assert.Empty(t, first.FieldGaps)
	assert.Equal(t, "https://www.jumia.co.ke/catalog/?q=phones&page=1", first.URL)

	second := results[1]
	assert.Equal(t, models.PageStatusFailed, second.Outcome.Status)
	assert.Equal(t, "RetryFailed_NetworkTimeout", second.Outcome.ErrorType)
	assert.Contains(t, second.Outcome.Reason, "timeout")
	assert.Empty(t, second.Records)

	third := results[2].Outcome
	assert.Equal(t, models.PageStatusPartial, third.Status)
	assert.Equal(t, 2, third.RecordCount)
	assert.Equal(t, map[string]int{"rating": 1, "review_count": 1}, third.FieldGaps)

	assert.Equal(t, models.StateComplete, w.State())
}

func TestRun_RecordsInExtractionOrder(t *testing.T) {
	f := &scriptedFetcher{pages: map[int]pageFunc{
		1: okPage(jumiaListing(fullProduct("Zeta"), fullProduct("Alpha"), fullProduct("Mu"))),
	}}
	w := New(testConfig(1), f, nil, nil, testLogger())

	results := collect(t, w, context.Background(), searchJob(1))
	require.Len(t, results, 1)

	var names []string
	for _, r := range results[0].Records {
		names = append(names, r.Name)
		assert.Equal(t, models.PlatformJumia, r.Platform)
		require.NotNil(t, r.DiscountPct)
		assert.Equal(t, 10, *r.DiscountPct)
	}
	assert.Equal(t, []string{"Zeta", "Alpha", "Mu"}, names)
}

func TestRun_PagesEmittedInPlanOrder(t *testing.T) {
	release := make(chan struct{})
	f := &scriptedFetcher{pages: map[int]pageFunc{
		1: func(context.Context, models.PageRequest) models.FetchResult {
			<-release
			return okResult(jumiaListing(fullProduct("Slow")))
		},
		2: okPage(jumiaListing(fullProduct("Fast 2"))),
		3: func(context.Context, models.PageRequest) models.FetchResult {
			// Page 1 is held until a later page has finished
			defer close(release)
			return okResult(jumiaListing(fullProduct("Fast 3")))
		},
	}}
	w := New(testConfig(3), f, nil, nil, testLogger())

	results := collect(t, w, context.Background(), searchJob(3))
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i+1, r.Outcome.PageNumber)
	}
	assert.Equal(t, "Slow", results[0].Records[0].Name)
}

func TestRun_ParseErrorDoesNotBlockLaterPages(t *testing.T) {
	f := &scriptedFetcher{pages: map[int]pageFunc{
		1: okPage(jumiaListing(fullProduct("One"))),
		2: okPage(`{"error":"captcha"}`),
		3: okPage(jumiaListing(fullProduct("Three"))),
	}}
	w := New(testConfig(1), f, nil, nil, testLogger())

	results := collect(t, w, context.Background(), searchJob(3))
	require.Len(t, results, 3)
	assert.Equal(t, models.PageStatusFailed, results[1].Outcome.Status)
	assert.Equal(t, "Content_ParseError", results[1].Outcome.ErrorType)
	assert.Equal(t, models.PageStatusSuccess, results[2].Outcome.Status)
	assert.Equal(t, []int{1, 2, 3}, f.Calls())
}

func TestRun_NamelessBlocksRejected(t *testing.T) {
	nameless := fullProduct("")
	f := &scriptedFetcher{pages: map[int]pageFunc{
		1: okPage(jumiaListing(fullProduct("Kept"), nameless)),
	}}
	w := New(testConfig(1), f, nil, nil, testLogger())

	results := collect(t, w, context.Background(), searchJob(1))
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Outcome.RecordCount)
	assert.Equal(t, 1, results[0].Outcome.Rejected)
	assert.Equal(t, models.PageStatusSuccess, results[0].Outcome.Status)
}

func TestRun_StopOnEmptyPage(t *testing.T) {
	cfg := testConfig(1)
	stop := true
	cfg.Platforms["jumia"].StopOnEmptyPage = &stop

	f := &scriptedFetcher{pages: map[int]pageFunc{
		1: okPage(jumiaListing(fullProduct("One"))),
		2: okPage(jumiaListing()),
		3: okPage(jumiaListing(fullProduct("Three"))),
	}}
	w := New(cfg, f, nil, nil, testLogger())

	results := collect(t, w, context.Background(), searchJob(5))
	require.Len(t, results, 2)
	assert.True(t, results[1].Empty)
	assert.Equal(t, models.PageStatusSuccess, results[1].Outcome.Status)
	assert.Zero(t, results[1].Outcome.RecordCount)
	assert.Equal(t, []int{1, 2}, f.Calls())
}

func TestRun_EmptyPageContinuesByDefault(t *testing.T) {
	f := &scriptedFetcher{pages: map[int]pageFunc{
		1: okPage(jumiaListing()),
	}}
	w := New(testConfig(1), f, nil, nil, testLogger())

	results := collect(t, w, context.Background(), searchJob(3))
	assert.Len(t, results, 3)
}

func TestRun_CancellationStopsDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &scriptedFetcher{pages: map[int]pageFunc{
		1: func(context.Context, models.PageRequest) models.FetchResult {
			// Cancelled while the page is in flight; the fetch still completes
			cancel()
			return okResult(jumiaListing(fullProduct("In flight")))
		},
	}}
	w := New(testConfig(1), f, nil, nil, testLogger())

	results, report := collectReport(t, w, ctx, searchJob(5))
	require.Len(t, results, 1)
	assert.Equal(t, models.PageStatusSuccess, results[0].Outcome.Status)
	assert.Equal(t, "In flight", results[0].Records[0].Name)
	assert.Equal(t, []int{1}, f.Calls())
	assert.True(t, report.Cancelled)
	assert.Equal(t, 1, report.Dispatched)
}

func TestRun_CancelAfterLastPageIsNotCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &scriptedFetcher{pages: map[int]pageFunc{
		2: func(context.Context, models.PageRequest) models.FetchResult {
			// Every page is already dispatched when the caller gives up
			cancel()
			return okResult(jumiaListing(fullProduct("Last")))
		},
	}}
	w := New(testConfig(1), f, nil, nil, testLogger())

	results, report := collectReport(t, w, ctx, searchJob(2))
	require.Len(t, results, 2)
	assert.Equal(t, []int{1, 2}, f.Calls())
	assert.False(t, report.Cancelled)
	assert.Equal(t, 2, report.Dispatched)
	assert.Equal(t, models.StateComplete, w.State())
}

func TestRun_PlatformPageLimitCapsPlan(t *testing.T) {
	cfg := testConfig(2)
	cfg.Platforms["jumia"].MaxPageLimit = 2

	f := &scriptedFetcher{}
	w := New(cfg, f, nil, nil, testLogger())

	results := collect(t, w, context.Background(), searchJob(10))
	assert.Len(t, results, 2)
	assert.ElementsMatch(t, []int{1, 2}, f.Calls())
}

func TestRun_OverHTTP(t *testing.T) {
	cfg := testConfig(2)
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, "https://www.jumia.co.ke/catalog/?q=nokia+105&page=1",
		httpmock.NewStringResponder(http.StatusOK, jumiaListing(fullProduct("Nokia 105"), fullProduct("Nokia 110"))))
	transport.RegisterResponder(http.MethodGet, "https://www.jumia.co.ke/catalog/?q=nokia+105&page=2",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "busy"))

	log := testLogger()
	client := &http.Client{Transport: transport}
	fetcher := fetch.NewHTTPFetcher(client, cfg, fetch.NewRateClocks(cfg, log), nil, log)
	slots := fetch.NewPlatformSlots(cfg, log)
	w := New(cfg, fetcher, slots, nil, log)

	job := searchJob(2)
	job.QueryOrURL = "nokia 105"
	results := collect(t, w, context.Background(), job)
	require.Len(t, results, 2)

	assert.Equal(t, models.PageStatusSuccess, results[0].Outcome.Status)
	require.Len(t, results[0].Records, 2)
	rec := results[0].Records[0]
	require.NotNil(t, rec.ProductURL)
	assert.Equal(t, "https://www.jumia.co.ke/p-0.html", *rec.ProductURL)
	assert.Equal(t, "jumia:https://www.jumia.co.ke/p-0.html", rec.NaturalKey)

	assert.Equal(t, models.PageStatusFailed, results[1].Outcome.Status)
	assert.Equal(t, "RetryFailed_HTTPServer", results[1].Outcome.ErrorType)

	assert.Equal(t, 2, transport.GetTotalCallCount())
	assert.Zero(t, slots.Active(models.PlatformJumia), "slots released after every page")
}

func TestFieldGaps(t *testing.T) {
	assert.Nil(t, fieldGaps(nil))

	price := int64(100)
	recs := []models.ProductRecord{{Name: "a", Price: &price}, {Name: "b"}}
	gaps := fieldGaps(recs)
	assert.Equal(t, 1, gaps["price"])
	assert.Equal(t, 2, gaps["brand"])
	_, hasName := gaps["name"]
	assert.False(t, hasName)
	_, hasShipping := gaps["shipping"]
	assert.False(t, hasShipping, "shipping is not a tracked field")
}
