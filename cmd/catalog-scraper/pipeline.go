package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/export"
	"catalog-scraper/pkg/fetch"
	"catalog-scraper/pkg/metrics"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/orchestrate"
	"catalog-scraper/pkg/storage"
	"catalog-scraper/pkg/worker"
)

// pipeline holds the long-lived components shared by the scrape and mcp-server commands
type pipeline struct {
	cfg         *config.AppConfig
	log         *logrus.Logger
	store       *storage.BadgerStore
	render      *fetch.RenderFetcher
	metrics     *metrics.Metrics
	coordinator *orchestrate.Coordinator
}

// newPipeline opens the store and wires fetchers, worker and coordinator
func newPipeline(appCfg *config.AppConfig, log *logrus.Logger) (*pipeline, error) {
	entry := log.WithField("app", "catalog-scraper")

	store, err := storage.NewBadgerStore(appCfg.StateDir, appCfg.StoreCacheSize, entry)
	if err != nil {
		return nil, fmt.Errorf("open product store: %w", err)
	}

	m := metrics.New()
	clocks := fetch.NewRateClocks(appCfg, entry)
	httpFetcher := fetch.NewHTTPFetcher(fetch.NewClient(appCfg.HTTPClientSettings, entry), appCfg, clocks, m, entry)

	var render *fetch.RenderFetcher
	for _, key := range appCfg.PlatformKeys() {
		if config.GetEffectiveFetchStrategy(appCfg.Platform(key)) == config.FetchStrategyRender {
			render = fetch.NewRenderFetcher(appCfg, clocks, m, entry)
			break
		}
	}
	var renderFetcher fetch.PageFetcher
	if render != nil {
		renderFetcher = render
	}

	router := fetch.NewRouter(appCfg, httpFetcher, renderFetcher)
	slots := fetch.NewPlatformSlots(appCfg, entry)
	w := worker.New(appCfg, router, slots, m, entry)

	return &pipeline{
		cfg:         appCfg,
		log:         log,
		store:       store,
		render:      render,
		metrics:     m,
		coordinator: orchestrate.NewCoordinator(appCfg, w, store, m, entry),
	}, nil
}

// startBackground runs store GC and, when configured, the metrics endpoint until ctx ends
func (p *pipeline) startBackground(ctx context.Context) {
	go p.store.RunGC(ctx, p.cfg.DBGCInterval)

	if p.cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.metrics.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: p.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		p.log.Infof("Serving metrics at http://%s/metrics", p.cfg.MetricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Errorf("Metrics server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

// exportJob writes the stored records of job to the output directory
func (p *pipeline) exportJob(job models.ScrapeJob) (string, error) {
	records, err := p.store.ListByJob(context.Background(), job.ID)
	if err != nil {
		return "", err
	}
	return export.WriteFile(p.cfg.OutputBaseDir, job, records, p.cfg.AbsentMarker, p.log.WithField("component", "export"))
}

// close releases the browser and the store
func (p *pipeline) close() {
	if p.render != nil {
		if err := p.render.Close(); err != nil {
			p.log.Warnf("Error closing browser: %v", err)
		}
	}
	if err := p.store.Close(); err != nil {
		p.log.Errorf("Error closing product store: %v", err)
	}
}
