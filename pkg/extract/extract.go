// Package extract locates product containers in listing markup and pulls raw field strings.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/utils"
)

// Extractor turns one listing page into raw product blocks.
// Zero containers is a valid empty result; only unparseable content is an error.
type Extractor interface {
	Platform() models.Platform
	Extract(content []byte) ([]models.RawProductBlock, error)
}

// For returns the extractor variant for a platform
func For(platform models.Platform, cfg *config.PlatformConfig) (Extractor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: platform '%s' is not configured", utils.ErrInvalidJob, platform)
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("%w: platform '%s' base_url '%s' is not absolute", utils.ErrConfigValidation, platform, cfg.BaseURL)
	}
	brands := NewBrandMatcher(cfg.KnownBrands)

	switch platform {
	case models.PlatformJumia:
		return &JumiaExtractor{base: base, brands: brands, defaultCategory: cfg.DefaultCategory}, nil
	case models.PlatformKilimall:
		return &KilimallExtractor{base: base, brands: brands, defaultCategory: cfg.DefaultCategory}, nil
	}
	return nil, fmt.Errorf("%w: no extractor for platform '%s'", utils.ErrInvalidJob, platform)
}

// parseDocument rejects content that is not markup at all before handing it to goquery.
// The HTML parser accepts any byte sequence, so "looks like markup" is checked up front.
func parseDocument(content []byte) (*goquery.Document, error) {
	trimmed := bytes.TrimLeftFunc(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf")), unicode.IsSpace)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty content", utils.ErrExtractionParse)
	}
	if trimmed[0] != '<' {
		preview := trimmed
		if len(preview) > 40 {
			preview = preview[:40]
		}
		return nil, fmt.Errorf("%w: content does not start with markup: %q", utils.ErrExtractionParse, preview)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrExtractionParse, err)
	}
	return doc, nil
}

// findContainers returns the matches of the first selector that finds anything
func findContainers(doc *goquery.Document, selectors ...string) *goquery.Selection {
	for _, sel := range selectors {
		if found := doc.Find(sel); found.Length() > 0 {
			return found
		}
	}
	return doc.Find(selectors[0])
}

// text returns the collapsed text of the first match, or ""
func text(s *goquery.Selection, selector string) string {
	return cleanText(s.Find(selector).First().Text())
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// resolve makes ref absolute against base. Returns "" for empty refs,
// javascript: links and data: URIs.
func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == "#" {
		return ""
	}
	lower := strings.ToLower(ref)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "javascript:") {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

// imageURL prefers the lazy-load attribute over src, skipping inline placeholders
func imageURL(base *url.URL, img *goquery.Selection) string {
	if img.Length() == 0 {
		return ""
	}
	for _, attr := range []string{"data-src", "src"} {
		if v, ok := img.Attr(attr); ok {
			if abs := resolve(base, v); abs != "" {
				return abs
			}
		}
	}
	return ""
}

// collectTexts gathers the distinct non-empty texts of every match, in document order
func collectTexts(s *goquery.Selection, selector string) []string {
	var out []string
	seen := make(map[string]bool)
	s.Find(selector).Each(func(_ int, el *goquery.Selection) {
		t := cleanText(el.Text())
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	})
	return out
}
