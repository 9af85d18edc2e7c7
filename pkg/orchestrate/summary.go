package orchestrate

import (
	"math"
	"sort"
	"time"

	"catalog-scraper/pkg/models"
)

// TopBrandsLimit caps RunSummary.TopBrands
const TopBrandsLimit = 10

// summaryBuilder folds stored records and page outcomes into a RunSummary.
// Not safe for concurrent use; the worker's emit callback is serialized.
type summaryBuilder struct {
	summary models.RunSummary
	records []models.ProductRecord
	index   map[string]int // natural key -> position in records
}

func newSummaryBuilder(job models.ScrapeJob, startedAt time.Time) *summaryBuilder {
	return &summaryBuilder{
		summary: models.RunSummary{
			JobID:     job.ID,
			Platform:  job.Platform,
			StartedAt: startedAt,
		},
		index: make(map[string]int),
	}
}

// addRecord counts a persisted record. A key written twice in one run is
// counted once with its latest values, matching what the store holds.
func (b *summaryBuilder) addRecord(rec models.ProductRecord) {
	if i, ok := b.index[rec.NaturalKey]; ok {
		b.records[i] = rec
		return
	}
	b.index[rec.NaturalKey] = len(b.records)
	b.records = append(b.records, rec)
}

func (b *summaryBuilder) addStoreError() {
	b.summary.StoreErrors++
}

func (b *summaryBuilder) addPage(outcome models.PageOutcome) {
	b.summary.Pages = append(b.summary.Pages, outcome)
	switch outcome.Status {
	case models.PageStatusSuccess:
		b.summary.PagesSucceeded++
	case models.PageStatusPartial:
		b.summary.PagesPartial++
	case models.PageStatusFailed:
		b.summary.PagesFailed++
	}
}

func (b *summaryBuilder) build(finishedAt time.Time, cancelled bool) *models.RunSummary {
	s := b.summary
	s.FinishedAt = finishedAt
	s.Cancelled = cancelled
	s.TotalRecords = len(b.records)
	s.SuccessRateByField = successRates(b.records)
	s.TopBrands = topBrands(b.records, TopBrandsLimit)
	sort.SliceStable(s.Pages, func(i, j int) bool { return s.Pages[i].PageNumber < s.Pages[j].PageNumber })
	return &s
}

// successRates returns, per tracked field, the percentage of records carrying it.
// Every tracked field is present in the map; with no records all rates are 0.
func successRates(records []models.ProductRecord) map[string]float64 {
	rates := make(map[string]float64, len(models.TrackedFields))
	for _, f := range models.TrackedFields {
		if len(records) == 0 {
			rates[string(f)] = 0
			continue
		}
		have := 0
		for i := range records {
			if records[i].HasField(f) {
				have++
			}
		}
		rates[string(f)] = math.Round(float64(have)/float64(len(records))*10000) / 100
	}
	return rates
}

// topBrands counts brands descending, ties broken by first appearance
func topBrands(records []models.ProductRecord, limit int) []models.BrandCount {
	var counts []models.BrandCount
	pos := make(map[string]int)
	for i := range records {
		if records[i].Brand == nil || *records[i].Brand == "" {
			continue
		}
		brand := *records[i].Brand
		if p, ok := pos[brand]; ok {
			counts[p].Count++
			continue
		}
		pos[brand] = len(counts)
		counts = append(counts, models.BrandCount{Brand: brand, Count: 1})
	}

	sort.SliceStable(counts, func(i, j int) bool { return counts[i].Count > counts[j].Count })
	if limit > 0 && len(counts) > limit {
		counts = counts[:limit]
	}
	if counts == nil {
		counts = []models.BrandCount{}
	}
	return counts
}
