package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"catalog-scraper/pkg/config"
	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/utils"
)

// Normalizer converts RawProductBlocks into canonical ProductRecords.
// It is stateless apart from its settings and safe for concurrent use.
type Normalizer struct {
	discountPolicy string
	log            *logrus.Entry
}

// NewNormalizer creates a Normalizer applying the given discount policy
// (config.DiscountPolicyComputed or config.DiscountPolicySource)
func NewNormalizer(discountPolicy string, log *logrus.Entry) *Normalizer {
	if discountPolicy != config.DiscountPolicySource {
		discountPolicy = config.DiscountPolicyComputed
	}
	return &Normalizer{
		discountPolicy: discountPolicy,
		log:            log.WithField("component", "normalizer"),
	}
}

// Normalize builds a ProductRecord from a raw block.
// The only rejection is a missing or blank name (ErrMissingName); every other
// unparseable field is left nil on the record.
func (n *Normalizer) Normalize(block models.RawProductBlock, scrapedAt time.Time) (models.ProductRecord, error) {
	rawName, _ := block.Get(models.FieldName)
	name := cleanText(rawName)
	if name == "" {
		return models.ProductRecord{}, fmt.Errorf("%w: platform %s", utils.ErrMissingName, block.Platform)
	}

	rec := models.ProductRecord{
		Name:      name,
		Platform:  block.Platform,
		ScrapedAt: scrapedAt.UTC(),
	}

	if s, ok := block.Get(models.FieldPrice); ok {
		rec.Price = ParsePrice(s)
	}
	if s, ok := block.Get(models.FieldOriginalPrice); ok {
		rec.OriginalPrice = ParsePrice(s)
	}
	if rec.Price != nil && rec.OriginalPrice != nil && *rec.OriginalPrice < *rec.Price {
		// An "old price" below the current one is not a markdown; keep only the current price
		n.log.WithFields(logrus.Fields{
			"name": name, "price": *rec.Price, "original_price": *rec.OriginalPrice,
		}).Debug("Original price below price, dropping original price")
		rec.OriginalPrice = nil
	}

	ratingRaw, hasRating := block.Get(models.FieldRating)
	if hasRating {
		rec.Rating, rec.RatingClamped = ParseRating(ratingRaw)
		if rec.RatingClamped {
			n.log.WithFields(logrus.Fields{"name": name, "raw": ratingRaw}).Debug("Rating out of range, clamped")
		}
	}
	if s, ok := block.Get(models.FieldReviewCount); ok {
		rec.ReviewCount = ParseReviewCount(s)
	}
	if rec.ReviewCount == nil && hasRating {
		rec.ReviewCount = ReviewCountFromRating(ratingRaw)
	}

	rec.DiscountPct = n.resolveDiscount(block, &rec)

	rec.ImageURL = optionalText(block, models.FieldImageURL)
	rec.ProductURL = optionalText(block, models.FieldProductURL)
	rec.Brand = optionalText(block, models.FieldBrand)
	rec.Category = optionalText(block, models.FieldCategory)
	rec.Shipping = optionalText(block, models.FieldShipping)
	rec.Badges = splitBadges(block)

	rec.NaturalKey = NaturalKey(rec.Platform, rec.ProductURL, rec.Name, rec.Price)
	return rec, nil
}

// resolveDiscount picks between the value computed from the price pair and the
// platform's own discount string according to the configured policy
func (n *Normalizer) resolveDiscount(block models.RawProductBlock, rec *models.ProductRecord) *int {
	var computed, source *int
	if rec.Price != nil && rec.OriginalPrice != nil {
		computed = ComputeDiscount(*rec.Price, *rec.OriginalPrice)
	}
	if s, ok := block.Get(models.FieldDiscount); ok {
		source = ParseDiscount(s)
	}

	switch {
	case computed == nil:
		return source
	case source == nil:
		return computed
	}

	if *computed != *source {
		n.log.WithFields(logrus.Fields{
			"name":     rec.Name,
			"computed": *computed,
			"source":   *source,
			"policy":   n.discountPolicy,
		}).Warn("Discount string disagrees with price pair")
		if n.discountPolicy == config.DiscountPolicySource {
			return source
		}
	}
	return computed
}

func optionalText(block models.RawProductBlock, field models.Field) *string {
	s, ok := block.Get(field)
	if !ok {
		return nil
	}
	s = cleanText(s)
	if s == "" {
		return nil
	}
	return &s
}

func splitBadges(block models.RawProductBlock) []string {
	s, ok := block.Get(models.FieldBadges)
	if !ok {
		return nil
	}
	var badges []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(s, models.BadgeSeparator) {
		b := cleanText(part)
		if b == "" {
			continue
		}
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}
		badges = append(badges, b)
	}
	return badges
}
