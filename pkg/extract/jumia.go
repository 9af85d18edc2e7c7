package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"catalog-scraper/pkg/models"
)

// Jumia listing grids render one article.prd per product; some category
// layouts use div.prd or only carry the tracking attribute.
var jumiaContainerSelectors = []string{"article.prd", "div.prd", `[data-track-onclick="eecProduct"]`}

var (
	jumiaFreeShipping = regexp.MustCompile(`(?i)free.*ship`)
	// "(487)" next to the stars; a listing without reviews has none
	jumiaReviewCount = regexp.MustCompile(`\(\s*\d[\d,]*\s*\)`)
	jumiaTextBadges   = []struct {
		pattern *regexp.Regexp
		badge   string
	}{
		{regexp.MustCompile(`(?i)official.*store`), "Official Store"},
		{regexp.MustCompile(`(?i)verified`), "Verified"},
		{regexp.MustCompile(`(?i)best.*seller|popular`), "Best Seller"},
	}
)

// JumiaExtractor reads Jumia's server-rendered catalog grid
type JumiaExtractor struct {
	base            *url.URL
	brands          *BrandMatcher
	defaultCategory string
}

// Platform implements Extractor
func (e *JumiaExtractor) Platform() models.Platform { return models.PlatformJumia }

// Extract implements Extractor
func (e *JumiaExtractor) Extract(content []byte) ([]models.RawProductBlock, error) {
	doc, err := parseDocument(content)
	if err != nil {
		return nil, err
	}

	containers := findContainers(doc, jumiaContainerSelectors...)
	blocks := make([]models.RawProductBlock, 0, containers.Length())
	containers.Each(func(_ int, c *goquery.Selection) {
		blocks = append(blocks, e.block(c))
	})
	return blocks, nil
}

func (e *JumiaExtractor) block(c *goquery.Selection) models.RawProductBlock {
	b := models.NewRawProductBlock(models.PlatformJumia)

	name := text(c, "h3.name")
	b.Set(models.FieldName, name)

	link := c.Find("a.core").First()
	if href, ok := link.Attr("href"); ok {
		b.Set(models.FieldProductURL, resolve(e.base, href))
	}

	b.Set(models.FieldPrice, text(c, "div.prc"))
	b.Set(models.FieldOriginalPrice, text(c, ".s-prc-w .old"))
	discount := text(c, ".s-prc-w .bdg._dsct")
	b.Set(models.FieldDiscount, discount)

	// "4.2 out of 5" inside the stars element, "(487)" alongside it
	rev := c.Find("div.rev").First()
	if rev.Length() > 0 {
		b.Set(models.FieldRating, cleanText(rev.Find(".stars._s").First().Text()))
		b.Set(models.FieldReviewCount, jumiaReviewCount.FindString(rev.Text()))
	}

	b.Set(models.FieldImageURL, imageURL(e.base, c.Find("img.img").First()))

	brand, _ := link.Attr("data-ga4-item_brand")
	if brand = strings.TrimSpace(brand); brand == "" {
		brand = e.brands.Leading(name)
	}
	b.Set(models.FieldBrand, brand)

	category, _ := link.Attr("data-ga4-item_category4")
	if category = strings.TrimSpace(category); category == "" {
		category = e.defaultCategory
	}
	b.Set(models.FieldCategory, category)

	b.Set(models.FieldShipping, e.shipping(c))
	b.Set(models.FieldBadges, strings.Join(e.badges(c, discount), models.BadgeSeparator))
	return b
}

func (e *JumiaExtractor) shipping(c *goquery.Selection) string {
	if strings.Contains(strings.ToLower(text(c, "div.bdg._dsc")), "free") {
		return "Free shipping"
	}
	if jumiaFreeShipping.MatchString(c.Text()) {
		return "Free shipping"
	}
	return ""
}

func (e *JumiaExtractor) badges(c *goquery.Selection, discount string) []string {
	var badges []string
	seen := map[string]bool{discount: true}
	for _, t := range collectTexts(c, "div.bdg") {
		if !seen[t] {
			seen[t] = true
			badges = append(badges, t)
		}
	}
	all := c.Text()
	for _, tb := range jumiaTextBadges {
		if !seen[tb.badge] && tb.pattern.MatchString(all) {
			seen[tb.badge] = true
			badges = append(badges, tb.badge)
		}
	}
	return badges
}
