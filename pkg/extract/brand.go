package extract

import (
	"strings"
	"unicode"
)

// BrandMatcher infers a brand from a product name using a list of known brands
type BrandMatcher struct {
	known []string // display form
	upper []string // matching form
}

// NewBrandMatcher creates a matcher over the given brand names
func NewBrandMatcher(known []string) *BrandMatcher {
	m := &BrandMatcher{}
	for _, b := range known {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		m.known = append(m.known, b)
		m.upper = append(m.upper, strings.ToUpper(b))
	}
	return m
}

// Leading returns the known brand that is the first word of name, or ""
func (m *BrandMatcher) Leading(name string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return ""
	}
	first := strings.ToUpper(strings.TrimFunc(words[0], isPunct))
	for i, b := range m.upper {
		if b == first {
			return m.known[i]
		}
	}
	return ""
}

// Anywhere returns the first known brand appearing as a whole word in name, or ""
func (m *BrandMatcher) Anywhere(name string) string {
	words := strings.FieldsFunc(strings.ToUpper(name), func(r rune) bool {
		return unicode.IsSpace(r) || isPunct(r)
	})
	for i, b := range m.upper {
		for _, w := range words {
			if w == b {
				return m.known[i]
			}
		}
	}
	return ""
}

// FirstWord returns the first word of name when it is longer than one character
func FirstWord(name string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return ""
	}
	w := strings.TrimFunc(words[0], isPunct)
	if len([]rune(w)) <= 1 {
		return ""
	}
	return w
}

func isPunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
