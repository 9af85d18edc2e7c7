package models

import "time"

// ScrapeJob is one bounded scrape request for a single platform.
// It is treated as immutable once handed to the coordinator.
type ScrapeJob struct {
	ID           string       `json:"id,omitempty"`
	Platform     Platform     `json:"platform"`
	Mode         Mode         `json:"mode"`
	QueryOrURL   string       `json:"query_or_url"`
	MaxPages     int          `json:"max_pages,omitempty"`
	OutputFormat OutputFormat `json:"output_format,omitempty"`
}

// PageRequest identifies one listing page to fetch
type PageRequest struct {
	Platform   Platform `json:"platform"`
	PageNumber int      `json:"page_number"` // 1-based
	URL        string   `json:"url"`
}

// FetchResult is the outcome of fetching a single PageRequest.
// Content is only set when Status is FetchStatusOK.
type FetchResult struct {
	Request    PageRequest
	Status     FetchStatus
	StatusCode int    // HTTP status of the last attempt, 0 if no response was received
	Content    []byte // Raw page markup
	Attempts   int    // Number of attempts made, including the first
	Err        error  // Wrapped error describing the failure (nil on success)
}

// OK reports whether the fetch produced usable content
func (r FetchResult) OK() bool {
	return r.Status == FetchStatusOK
}

// RawProductBlock holds the raw field strings extracted for one product container.
// A nil entry (or a missing key) means the field could not be located.
type RawProductBlock struct {
	Platform Platform
	Fields   map[Field]*string
}

// BadgeSeparator joins several badges inside the single raw badges field
const BadgeSeparator = "|"

// NewRawProductBlock returns an empty block for the platform
func NewRawProductBlock(platform Platform) RawProductBlock {
	return RawProductBlock{Platform: platform, Fields: make(map[Field]*string, len(AllFields))}
}

// Set stores a raw value; empty strings are recorded as unavailable.
func (b RawProductBlock) Set(field Field, value string) {
	if value == "" {
		b.Fields[field] = nil
		return
	}
	v := value
	b.Fields[field] = &v
}

// Get returns the raw value and whether it is present
func (b RawProductBlock) Get(field Field) (string, bool) {
	v, ok := b.Fields[field]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// ProductRecord is the canonical, persisted form of a product listing.
// Optional fields are pointers; nil means the value was unavailable.
type ProductRecord struct {
	NaturalKey    string    `json:"natural_key"`
	JobID         string    `json:"job_id,omitempty"`
	Name          string    `json:"name"`
	Price         *int64    `json:"price"`
	OriginalPrice *int64    `json:"original_price"`
	DiscountPct   *int      `json:"discount_pct"`
	Rating        *float64  `json:"rating"`
	RatingClamped bool      `json:"rating_clamped,omitempty"` // Source rating was outside 0-5 after rescaling
	ReviewCount   *int      `json:"review_count"`
	ImageURL      *string   `json:"image_url"`
	ProductURL    *string   `json:"product_url"`
	Brand         *string   `json:"brand"`
	Category      *string   `json:"category"`
	Shipping      *string   `json:"shipping,omitempty"`
	Badges        []string  `json:"badges,omitempty"`
	Platform      Platform  `json:"platform"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

// HasField reports whether the record carries a value for the given field.
// Used for per-field success rates.
func (r *ProductRecord) HasField(field Field) bool {
	switch field {
	case FieldName:
		return r.Name != ""
	case FieldPrice:
		return r.Price != nil
	case FieldOriginalPrice:
		return r.OriginalPrice != nil
	case FieldDiscount:
		return r.DiscountPct != nil
	case FieldRating:
		return r.Rating != nil
	case FieldReviewCount:
		return r.ReviewCount != nil
	case FieldImageURL:
		return r.ImageURL != nil
	case FieldProductURL:
		return r.ProductURL != nil
	case FieldBrand:
		return r.Brand != nil
	case FieldCategory:
		return r.Category != nil
	case FieldShipping:
		return r.Shipping != nil
	case FieldBadges:
		return len(r.Badges) > 0
	}
	return false
}

// BrandCount is one entry of RunSummary.TopBrands
type BrandCount struct {
	Brand string `json:"brand" yaml:"brand"`
	Count int    `json:"count" yaml:"count"`
}

// PageOutcome records what happened to one page of a job
type PageOutcome struct {
	PageNumber  int            `json:"page_number"`
	URL         string         `json:"url"`
	Status      PageStatus     `json:"status"`
	RecordCount int            `json:"record_count"`
	FieldGaps   map[string]int `json:"field_gaps,omitempty"` // field -> records missing it
	Rejected    int            `json:"rejected,omitempty"`   // blocks dropped for lacking a name
	Reason      string         `json:"reason,omitempty"`
	ErrorType   string         `json:"error_type,omitempty"` // utils.CategorizeError label
}

// RunSummary is computed once per job and returned to the caller; it is not persisted.
type RunSummary struct {
	JobID              string             `json:"job_id"`
	Platform           Platform           `json:"platform"`
	TotalRecords       int                `json:"total_records"`
	SuccessRateByField map[string]float64 `json:"success_rate_by_field"` // percentage 0-100
	TopBrands          []BrandCount       `json:"top_brands"`
	Pages              []PageOutcome      `json:"pages"`
	PagesSucceeded     int                `json:"pages_succeeded"`
	PagesPartial       int                `json:"pages_partial"`
	PagesFailed        int                `json:"pages_failed"`
	StoreErrors        int                `json:"store_errors"`
	Cancelled          bool               `json:"cancelled,omitempty"`
	StartedAt          time.Time          `json:"started_at"`
	FinishedAt         time.Time          `json:"finished_at"`
}
