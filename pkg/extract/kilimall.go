package extract

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"catalog-scraper/pkg/models"
)

const kilimallContainerSelector = ".listing-item .product-item"

// KilimallExtractor reads Kilimall's client-rendered listing grid as captured after rendering
type KilimallExtractor struct {
	base            *url.URL
	brands          *BrandMatcher
	defaultCategory string
}

// Platform implements Extractor
func (e *KilimallExtractor) Platform() models.Platform { return models.PlatformKilimall }

// Extract implements Extractor
func (e *KilimallExtractor) Extract(content []byte) ([]models.RawProductBlock, error) {
	doc, err := parseDocument(content)
	if err != nil {
		return nil, err
	}

	containers := doc.Find(kilimallContainerSelector)
	blocks := make([]models.RawProductBlock, 0, containers.Length())
	containers.Each(func(_ int, c *goquery.Selection) {
		blocks = append(blocks, e.block(c))
	})
	return blocks, nil
}

func (e *KilimallExtractor) block(c *goquery.Selection) models.RawProductBlock {
	b := models.NewRawProductBlock(models.PlatformKilimall)

	name := text(c, ".product-title")
	b.Set(models.FieldName, name)

	if href, ok := c.Find(`a[href*="/listing/"]`).First().Attr("href"); ok {
		b.Set(models.FieldProductURL, resolve(e.base, href))
	}

	b.Set(models.FieldPrice, text(c, ".product-price"))
	b.Set(models.FieldOriginalPrice, text(c, ".product-origin-price, .origin-price"))
	b.Set(models.FieldDiscount, text(c, ".product-discount, .discount-tag"))
	b.Set(models.FieldImageURL, imageURL(e.base, c.Find(".product-image img").First()))

	// Star widget: rating is filled icons over total icons
	stars := c.Find(".rate .van-rate").First()
	if total := stars.Find(".van-rate__item").Length(); total > 0 {
		full := stars.Find(".van-rate__icon--full").Length()
		b.Set(models.FieldRating, fmt.Sprintf("%d/%d", full, total))
	}
	b.Set(models.FieldReviewCount, text(c, ".reviews"))

	brand := e.brands.Anywhere(name)
	if brand == "" {
		brand = FirstWord(name)
	}
	b.Set(models.FieldBrand, brand)
	b.Set(models.FieldCategory, e.defaultCategory)

	b.Set(models.FieldShipping, text(c, ".logistics-tag .tag-name"))
	b.Set(models.FieldBadges, strings.Join(collectTexts(c, ".mark-box > div"), models.BadgeSeparator))
	return b
}
