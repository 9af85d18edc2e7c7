// Package export renders a job's stored records as CSV or JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/utils"
)

// Columns is the fixed CSV header order
var Columns = []string{
	"name", "price", "original_price", "discount_pct", "rating", "review_count",
	"image_url", "product_url", "brand", "category", "platform", "scraped_at",
}

// Write renders records in the given format
func Write(w io.Writer, format models.OutputFormat, records []models.ProductRecord, absentMarker string) error {
	switch format {
	case models.OutputCSV:
		return WriteCSV(w, records, absentMarker)
	case models.OutputJSON, "":
		return WriteJSON(w, records)
	}
	return fmt.Errorf("unsupported output format '%s'", format)
}

// WriteCSV writes a header row then one row per record. Missing values are
// rendered as absentMarker, or config.DefaultAbsentMarker when it is empty.
func WriteCSV(w io.Writer, records []models.ProductRecord, absentMarker string) error {
	if absentMarker == "" {
		absentMarker = config.DefaultAbsentMarker
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i := range records {
		if err := cw.Write(csvRow(&records[i], absentMarker)); err != nil {
			return fmt.Errorf("write csv row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(r *models.ProductRecord, absent string) []string {
	str := func(p *string) string {
		if p == nil {
			return absent
		}
		return *p
	}
	i64 := func(p *int64) string {
		if p == nil {
			return absent
		}
		return strconv.FormatInt(*p, 10)
	}
	num := func(p *int) string {
		if p == nil {
			return absent
		}
		return strconv.Itoa(*p)
	}

	rating := absent
	if r.Rating != nil {
		rating = strconv.FormatFloat(*r.Rating, 'f', -1, 64)
	}
	name := r.Name
	if name == "" {
		name = absent
	}
	scrapedAt := absent
	if !r.ScrapedAt.IsZero() {
		scrapedAt = r.ScrapedAt.UTC().Format(time.RFC3339)
	}

	return []string{
		name,
		i64(r.Price),
		i64(r.OriginalPrice),
		num(r.DiscountPct),
		rating,
		num(r.ReviewCount),
		str(r.ImageURL),
		str(r.ProductURL),
		str(r.Brand),
		str(r.Category),
		string(r.Platform),
		scrapedAt,
	}
}

// WriteJSON writes records as an indented JSON array; missing values are null.
// An empty slice is written as [].
func WriteJSON(w io.Writer, records []models.ProductRecord) error {
	if records == nil {
		records = []models.ProductRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("%w: encode records: %v", utils.ErrParsing, err)
	}
	return nil
}

// FileName returns "<platform>_<query>_<job id prefix>.<format>", safe for any filesystem.
// Empty parts are left out.
func FileName(job models.ScrapeJob) string {
	format := job.OutputFormat
	if format == "" {
		format = models.OutputJSON
	}
	id := job.ID
	if len(id) > 8 {
		id = id[:8]
	}
	base := utils.SanitizeFilename(string(job.Platform))
	if strings.TrimSpace(job.QueryOrURL) != "" {
		base += "_" + utils.SanitizeFilename(job.QueryOrURL)
	}
	if id != "" {
		base += "_" + utils.SanitizeFilename(id)
	}
	return base + "." + string(format)
}

// WriteFile writes records for job under baseDir and returns the file path.
// An existing file of the same name is replaced.
func WriteFile(baseDir string, job models.ScrapeJob, records []models.ProductRecord, absentMarker string, log *logrus.Entry) (string, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return "", fmt.Errorf("%w: create output directory '%s': %w", utils.ErrFilesystem, baseDir, err)
	}

	path := filepath.Join(baseDir, FileName(job))
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("%w: create '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}

	writeErr := Write(f, job.OutputFormat, records, absentMarker)
	if writeErr == nil {
		writeErr = f.Sync()
	}
	if closeErr := f.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: write '%s': %w", utils.ErrFilesystem, path, writeErr)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: rename to '%s': %w", utils.ErrFilesystem, path, err)
	}

	log.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"format":  job.OutputFormat,
		"records": len(records),
	}).Infof("Exported records to %s", path)
	return path, nil
}
