package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// --- Job-level errors ---
var (
	ErrInvalidJob       = errors.New("invalid job")                    // Malformed job; nothing is dispatched
	ErrConfigValidation = errors.New("configuration validation error") // Bad config file values
)

// --- Fetch errors ---
// Fetch failures carry one of ErrFetchTransient / ErrFetchPermanent plus a more specific cause.
var (
	ErrFetchTransient   = errors.New("transient fetch failure")          // Timeout, 5xx, 429, connection reset
	ErrFetchPermanent   = errors.New("permanent fetch failure")          // 4xx other than 429, malformed URL
	ErrRetryFailed      = errors.New("request failed after all retries") // Wraps the last transient error
	ErrClientHTTPError  = errors.New("client HTTP error (4xx)")
	ErrServerHTTPError  = errors.New("server HTTP error (5xx)")
	ErrRateLimited      = errors.New("rate limited by server (429)")
	ErrOtherHTTPError   = errors.New("other HTTP error (non-2xx)")
	ErrInvalidURL       = errors.New("malformed page URL")
	ErrRequestCreation  = errors.New("failed to create HTTP request")
	ErrResponseBodyRead = errors.New("failed to read response body")
	ErrRenderFailed     = errors.New("page render failed")
	ErrSemaphoreTimeout = errors.New("timeout acquiring platform slot")
)

// --- Extraction / normalization errors ---
var (
	ErrExtractionParse = errors.New("content could not be parsed as markup")
	ErrMissingName     = errors.New("product name missing")        // The only rejecting field
	ErrFieldGap        = errors.New("field could not be extracted") // Recorded as nil, never returned from Normalize
	ErrParsing         = errors.New("parsing error")                // Wraps JSON/URL/number parse failures
)

// --- Persistence errors ---
var (
	ErrStore      = errors.New("store write failed") // One record lost for this run
	ErrDatabase   = errors.New("database error")     // Wraps badger errors
	ErrFilesystem = errors.New("filesystem error")
)

// WrapErrorf annotates err with a formatted message while keeping it matchable with errors.Is.
// Returns nil when err is nil.
func WrapErrorf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// IsTransient reports whether a fetch error may succeed on a later attempt
func IsTransient(err error) bool {
	return errors.Is(err, ErrFetchTransient) && !errors.Is(err, ErrFetchPermanent)
}

// IsTimeout reports whether err stems from a deadline (context or net timeout)
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// CategorizeError maps an error to a predefined category string for logging, page outcomes and metrics.
func CategorizeError(err error) string {
	if err == nil {
		return "None"
	}

	switch {
	case errors.Is(err, ErrInvalidJob):
		return "Job_Invalid"
	case errors.Is(err, ErrConfigValidation):
		return "Config_Validation"
	case errors.Is(err, ErrRetryFailed):
		switch {
		case errors.Is(err, ErrServerHTTPError):
			return "RetryFailed_HTTPServer"
		case errors.Is(err, ErrRateLimited):
			return "RetryFailed_RateLimited"
		case IsTimeout(err):
			return "RetryFailed_NetworkTimeout"
		case errors.Is(err, syscall.ECONNRESET) || strings.Contains(err.Error(), "reset by peer"):
			return "RetryFailed_ConnectionReset"
		case strings.Contains(err.Error(), "connection refused"):
			return "RetryFailed_ConnectionRefused"
		case strings.Contains(err.Error(), "no such host"):
			return "RetryFailed_DNSLookup"
		case errors.Is(err, ErrRenderFailed):
			return "RetryFailed_Render"
		}
		return "RetryFailed_NetworkOther"
	case errors.Is(err, ErrInvalidURL):
		return "Fetch_InvalidURL"
	case errors.Is(err, ErrRateLimited):
		return "HTTP_429"
	case errors.Is(err, ErrClientHTTPError):
		errMsg := err.Error()
		for _, code := range []string{"400", "401", "403", "404", "410"} {
			if strings.Contains(errMsg, "status "+code) {
				return "HTTP_" + code
			}
		}
		return "HTTP_4xx"
	case errors.Is(err, ErrServerHTTPError):
		return "HTTP_5xx"
	case errors.Is(err, ErrOtherHTTPError):
		return "HTTP_OtherStatus"
	case errors.Is(err, ErrRenderFailed):
		return "Fetch_Render"
	case errors.Is(err, ErrRequestCreation):
		return "Internal_RequestCreation"
	case errors.Is(err, ErrResponseBodyRead):
		return "Network_BodyRead"
	case errors.Is(err, ErrSemaphoreTimeout):
		return "Resource_SemaphoreTimeout"
	case errors.Is(err, ErrExtractionParse):
		return "Content_ParseError"
	case errors.Is(err, ErrMissingName):
		return "Record_MissingName"
	case errors.Is(err, ErrFieldGap):
		return "Record_FieldGap"
	case errors.Is(err, ErrStore):
		return "Store_Write"
	case errors.Is(err, ErrDatabase):
		return "Database_Other"
	case errors.Is(err, ErrParsing):
		errMsg := err.Error()
		if strings.Contains(errMsg, "URL") {
			return "Content_ParsingURL"
		}
		if strings.Contains(errMsg, "JSON") {
			return "Content_ParsingJSON"
		}
		return "Content_ParsingOther"
	case errors.Is(err, ErrFilesystem):
		if errors.Is(err, os.ErrPermission) {
			return "Filesystem_Permission"
		}
		if errors.Is(err, os.ErrNotExist) {
			return "Filesystem_NotExist"
		}
		return "Filesystem_Other"
	}

	// --- Fallback checks for unwrapped underlying errors ---
	if errors.Is(err, context.Canceled) {
		return "System_ContextCanceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "System_ContextDeadlineExceeded"
	}
	if IsTimeout(err) {
		return "Network_Timeout"
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return "Network_ConnectionReset"
	}

	lowerErrMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowerErrMsg, "timeout"):
		return "Network_TimeoutGeneric"
	case strings.Contains(lowerErrMsg, "connection refused"):
		return "Network_ConnectionRefused"
	case strings.Contains(lowerErrMsg, "no such host"):
		return "Network_DNSLookup"
	case strings.Contains(lowerErrMsg, "reset by peer"):
		return "Network_ConnectionReset"
	case strings.Contains(lowerErrMsg, "tls") || strings.Contains(lowerErrMsg, "certificate"):
		return "Network_TLS"
	}

	return "Unknown"
}
