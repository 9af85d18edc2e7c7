package models

import "strings"

// Platform names a supported source marketplace
type Platform string

const (
	PlatformJumia    Platform = "jumia"
	PlatformKilimall Platform = "kilimall"
)

// Platforms lists every platform with an extractor, in display order
var Platforms = []Platform{PlatformJumia, PlatformKilimall}

// ParsePlatform normalizes user input (case, surrounding space) into a Platform
func ParsePlatform(s string) Platform {
	return Platform(strings.ToLower(strings.TrimSpace(s)))
}

// String implements fmt.Stringer for logging
func (p Platform) String() string {
	if p == "" {
		return "unset"
	}
	return string(p)
}

// IsValid returns true if the platform is supported
func (p Platform) IsValid() bool {
	switch p {
	case PlatformJumia, PlatformKilimall:
		return true
	}
	return false
}

// Mode selects how the job's QueryOrURL is interpreted
type Mode string

const (
	ModeSearch   Mode = "search"   // QueryOrURL is a search term
	ModeCategory Mode = "category" // QueryOrURL is a category listing URL
)

// String implements fmt.Stringer for logging
func (m Mode) String() string {
	if m == "" {
		return "unset"
	}
	return string(m)
}

// IsValid returns true if the mode is known
func (m Mode) IsValid() bool {
	return m == ModeSearch || m == ModeCategory
}

// OutputFormat is the export shape requested by the job
type OutputFormat string

const (
	OutputJSON OutputFormat = "json"
	OutputCSV  OutputFormat = "csv"
)

// String implements fmt.Stringer for logging
func (f OutputFormat) String() string {
	if f == "" {
		return "unset"
	}
	return string(f)
}

// IsValid returns true if the format is known
func (f OutputFormat) IsValid() bool {
	return f == OutputJSON || f == OutputCSV
}

// FetchStatus classifies a FetchResult
type FetchStatus string

const (
	FetchStatusOK           FetchStatus = "ok"
	FetchStatusHTTPError    FetchStatus = "http_error"
	FetchStatusNetworkError FetchStatus = "network_error"
	FetchStatusTimeout      FetchStatus = "timeout"
)

// String implements fmt.Stringer for logging
func (s FetchStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known value
func (s FetchStatus) IsValid() bool {
	switch s {
	case FetchStatusOK, FetchStatusHTTPError, FetchStatusNetworkError, FetchStatusTimeout:
		return true
	}
	return false
}

// PageStatus is the per-page outcome emitted by a platform worker
type PageStatus string

const (
	PageStatusUnset   PageStatus = ""
	PageStatusSuccess PageStatus = "success" // All records carried every tracked field
	PageStatusPartial PageStatus = "partial" // Records produced, some fields missing
	PageStatusFailed  PageStatus = "failed"  // Fetch or parse failed; no records
)

// String implements fmt.Stringer for logging
func (s PageStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s PageStatus) IsValid() bool {
	switch s {
	case PageStatusSuccess, PageStatusPartial, PageStatusFailed:
		return true
	}
	return false
}

// WorkerState is a state of the per-job platform worker machine
type WorkerState string

const (
	StateIdle        WorkerState = "idle"
	StateFetching    WorkerState = "fetching"
	StateExtracting  WorkerState = "extracting"
	StateNormalizing WorkerState = "normalizing"
	StateAggregating WorkerState = "aggregating"
	StateComplete    WorkerState = "complete"
	StateFatalError  WorkerState = "fatal_error"
)

// IsTerminal reports whether no further transitions can happen
func (s WorkerState) IsTerminal() bool {
	return s == StateComplete || s == StateFatalError
}

// Field names a product attribute carried from extraction to the record
type Field string

const (
	FieldName          Field = "name"
	FieldPrice         Field = "price"
	FieldOriginalPrice Field = "original_price"
	FieldDiscount      Field = "discount"
	FieldRating        Field = "rating"
	FieldReviewCount   Field = "review_count"
	FieldImageURL      Field = "image_url"
	FieldProductURL    Field = "product_url"
	FieldBrand         Field = "brand"
	FieldCategory      Field = "category"
	FieldShipping      Field = "shipping"
	FieldBadges        Field = "badges"
)

// AllFields lists every field in record order
var AllFields = []Field{
	FieldName, FieldPrice, FieldOriginalPrice, FieldDiscount, FieldRating, FieldReviewCount,
	FieldImageURL, FieldProductURL, FieldBrand, FieldCategory, FieldShipping, FieldBadges,
}

// TrackedFields are the fields reported in per-field success rates and page field gaps.
// Shipping and badges are optional decorations and never count as gaps.
var TrackedFields = []Field{
	FieldName, FieldPrice, FieldOriginalPrice, FieldDiscount, FieldRating, FieldReviewCount,
	FieldImageURL, FieldProductURL, FieldBrand, FieldCategory,
}
