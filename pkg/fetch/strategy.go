package fetch

import (
	"context"
	"time"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/models"
)

// Router picks the fetch strategy configured for each request's platform
type Router struct {
	cfg    *config.AppConfig
	http   PageFetcher
	render PageFetcher
}

// NewRouter creates a Router. render may be nil, in which case every platform uses httpFetcher.
func NewRouter(cfg *config.AppConfig, httpFetcher, render PageFetcher) *Router {
	return &Router{cfg: cfg, http: httpFetcher, render: render}
}

// Fetch delegates to the platform's strategy
func (r *Router) Fetch(ctx context.Context, req models.PageRequest, timeout time.Duration) models.FetchResult {
	if r.render != nil && config.GetEffectiveFetchStrategy(r.cfg.Platform(string(req.Platform))) == config.FetchStrategyRender {
		return r.render.Fetch(ctx, req, timeout)
	}
	return r.http.Fetch(ctx, req, timeout)
}
