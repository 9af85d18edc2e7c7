package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	// First numeric run, commas as thousand separators, optional decimal part
	amountPattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)
	// "4.7/5", "4.2 out of 5", "8 / 10"
	ratingScalePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:/|out of)\s*(\d+(?:\.\d+)?)`)
	decimalPattern     = regexp.MustCompile(`\d+(?:\.\d+)?`)
	integerRunPattern  = regexp.MustCompile(`\d[\d,]*`)
	// "(123)", "(123 reviews)", "123 ratings"
	parenCountPattern  = regexp.MustCompile(`\(\s*(\d[\d,]*)\s*(?:reviews?|ratings?|verified ratings?)?\s*\)`)
	wordedCountPattern = regexp.MustCompile(`(\d[\d,]*)\s+(?:reviews?|ratings?|verified ratings?)`)
	percentPattern     = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
)

// MaxRating is the top of the canonical rating scale
const MaxRating = 5.0

// ParsePrice extracts a money amount from strings like "KSh 45,000" or "KES 1,299.00".
// Currency markers and thousand separators are ignored; for ranges the lower bound wins.
// Returns nil when no amount can be recovered.
func ParsePrice(raw string) *int64 {
	match := amountPattern.FindString(raw)
	if match == "" {
		return nil
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil || value < 0 {
		return nil
	}
	amount := int64(math.Round(value))
	return &amount
}

// ParseRating reads "<value>/<scale>", "<value> out of <scale>" or a bare decimal
// and rescales it to 0-5. Values outside the range are clamped and reported.
func ParseRating(raw string) (rating *float64, clamped bool) {
	var value float64
	if m := ratingScalePattern.FindStringSubmatch(raw); m != nil {
		v, errV := strconv.ParseFloat(m[1], 64)
		scale, errS := strconv.ParseFloat(m[2], 64)
		if errV != nil || errS != nil || scale <= 0 {
			return nil, false
		}
		value = v
		if scale != MaxRating {
			value = v / scale * MaxRating
		}
	} else {
		// Ignore trailing "(123 reviews)" so the count is not read as the rating
		head, _, _ := strings.Cut(raw, "(")
		m := decimalPattern.FindString(head)
		if m == "" {
			return nil, false
		}
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return nil, false
		}
		value = v
	}

	if value < 0 {
		value, clamped = 0, true
	} else if value > MaxRating {
		value, clamped = MaxRating, true
	}
	value = math.Round(value*100) / 100
	return &value, clamped
}

// ParseReviewCount extracts the review count from strings like "(487)", "123 reviews" or "1,204".
// A parenthesized count is preferred; otherwise the leading integer run is used.
func ParseReviewCount(raw string) *int {
	if m := parenCountPattern.FindStringSubmatch(raw); m != nil {
		return atoiCommas(m[1])
	}
	return atoiCommas(integerRunPattern.FindString(raw))
}

// ReviewCountFromRating recovers a count embedded in a rating string, e.g. "4.7/5 (123 reviews)".
// Unlike ParseReviewCount it never falls back to the first number, which is the rating itself.
func ReviewCountFromRating(raw string) *int {
	if m := parenCountPattern.FindStringSubmatch(raw); m != nil {
		return atoiCommas(m[1])
	}
	if m := wordedCountPattern.FindStringSubmatch(raw); m != nil {
		return atoiCommas(m[1])
	}
	return nil
}

// ParseDiscount reads a percentage such as "-25%" or "25 % off" into 0-100.
func ParseDiscount(raw string) *int {
	m := percentPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	pct := clampPct(int(math.Round(v)))
	return &pct
}

// ComputeDiscount returns round((original-price)/original*100).
// Returns nil unless original > 0 and 0 <= price <= original.
func ComputeDiscount(price, original int64) *int {
	if original <= 0 || price < 0 || price > original {
		return nil
	}
	pct := int(math.Round(float64(original-price) / float64(original) * 100))
	pct = clampPct(pct)
	return &pct
}

func clampPct(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func atoiCommas(s string) *int {
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(strings.ReplaceAll(s, ",", ""))
	if err != nil || n < 0 {
		return nil
	}
	return &n
}

// cleanText collapses internal whitespace and trims the ends
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
