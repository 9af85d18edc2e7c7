// Package paginate turns a scrape job into the ordered list of listing pages to fetch.
package paginate

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/utils"
)

// PageParam is the query parameter carrying the 1-based page index on every supported platform
const PageParam = "page"

// searchPaths maps a platform to the path of its search listing
var searchPaths = map[models.Platform]string{
	models.PlatformJumia:    "/catalog/",
	models.PlatformKilimall: "/search",
}

// Plan is a lazy, finite, non-restartable sequence of PageRequests.
// Page numbers start at 1 and increase by one. Not safe for concurrent use.
type Plan struct {
	platform models.Platform
	build    func(page int) (string, error)
	total    int
	next     int
	err      error
}

// NewPlan builds the page plan for job. The number of pages is job.MaxPages,
// further capped by the platform's MaxPageLimit when that is known (>0).
func NewPlan(job models.ScrapeJob, platformCfg *config.PlatformConfig) (*Plan, error) {
	if job.MaxPages < 1 {
		return nil, fmt.Errorf("%w: max_pages must be at least 1, got %d", utils.ErrInvalidJob, job.MaxPages)
	}
	if platformCfg == nil || platformCfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: platform '%s' has no base URL configured", utils.ErrInvalidJob, job.Platform)
	}

	total := job.MaxPages
	if platformCfg.MaxPageLimit > 0 && platformCfg.MaxPageLimit < total {
		total = platformCfg.MaxPageLimit
	}

	p := &Plan{platform: job.Platform, total: total, next: 1}

	switch job.Mode {
	case models.ModeSearch:
		query := strings.TrimSpace(job.QueryOrURL)
		if query == "" {
			return nil, fmt.Errorf("%w: search query is empty", utils.ErrInvalidJob)
		}
		path, ok := searchPaths[job.Platform]
		if !ok {
			return nil, fmt.Errorf("%w: no search URL convention for platform '%s'", utils.ErrInvalidJob, job.Platform)
		}
		base := strings.TrimRight(platformCfg.BaseURL, "/") + path
		p.build = func(page int) (string, error) {
			return SearchURL(base, query, page), nil
		}
	case models.ModeCategory:
		raw := strings.TrimSpace(job.QueryOrURL)
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, fmt.Errorf("%w: category URL '%s' must be an absolute http(s) URL", utils.ErrInvalidJob, raw)
		}
		p.build = func(page int) (string, error) {
			return CategoryPageURL(raw, page)
		}
	default:
		return nil, fmt.Errorf("%w: unknown mode '%s'", utils.ErrInvalidJob, job.Mode)
	}

	return p, nil
}

// Next returns the next PageRequest, or false once the plan is exhausted
func (p *Plan) Next() (models.PageRequest, bool) {
	if p.next > p.total || p.err != nil {
		return models.PageRequest{}, false
	}
	page := p.next
	u, err := p.build(page)
	if err != nil {
		p.err = err
		return models.PageRequest{}, false
	}
	p.next++
	return models.PageRequest{Platform: p.platform, PageNumber: page, URL: u}, true
}

// Len is the total number of pages in the plan
func (p *Plan) Len() int {
	return p.total
}

// Remaining is the number of pages not yet handed out
func (p *Plan) Remaining() int {
	if p.err != nil {
		return 0
	}
	return p.total - p.next + 1
}

// Err reports a URL construction failure that ended the plan early
func (p *Plan) Err() error {
	return p.err
}

// SearchURL renders "<base>?q=<escaped query>&page=<n>"
func SearchURL(base, query string, page int) string {
	return base + "?q=" + url.QueryEscape(query) + "&" + PageParam + "=" + strconv.Itoa(page)
}

// CategoryPageURL returns the URL verbatim for page 1; later pages get page=<n>,
// replacing any page parameter already in the URL
func CategoryPageURL(raw string, page int) (string, error) {
	if page <= 1 {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrParsing, err)
	}
	q := u.Query()
	q.Set(PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
