package normalize

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"catalog-scraper/pkg/models"
	"catalog-scraper/pkg/utils"
)

// CanonicalProductURL standardizes a product URL for deduplication.
// Scheme and host are lowercased, default ports dropped, the trailing slash trimmed
// and fragment and query removed (tracking parameters vary between listings).
// Returns "" for anything that is not an absolute http(s) URL.
func CanonicalProductURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	canon := *u
	canon.Scheme = strings.ToLower(canon.Scheme)
	if canon.Scheme != "http" && canon.Scheme != "https" {
		return ""
	}
	canon.Host = strings.ToLower(canon.Host)

	if host, port, err := net.SplitHostPort(canon.Host); err == nil {
		if (canon.Scheme == "http" && port == "80") || (canon.Scheme == "https" && port == "443") {
			canon.Host = host
		}
	}

	if canon.Path == "" {
		canon.Path = "/"
	} else if len(canon.Path) > 1 {
		canon.Path = strings.TrimRight(canon.Path, "/")
		if canon.Path == "" {
			canon.Path = "/"
		}
	}
	canon.RawPath = ""
	canon.Fragment = ""
	canon.RawFragment = ""
	canon.RawQuery = ""
	canon.ForceQuery = false
	canon.User = nil

	return canon.String()
}

// NaturalKey derives the dedup identity of a record.
// With a usable product URL: "<platform>:<canonical url>".
// Otherwise: "<platform>:nk:<sha256(lower(name)|price)>", price rendered as "none" when absent.
func NaturalKey(platform models.Platform, productURL *string, name string, price *int64) string {
	if productURL != nil {
		if canon := CanonicalProductURL(*productURL); canon != "" {
			return string(platform) + ":" + canon
		}
	}
	priceKey := "none"
	if price != nil {
		priceKey = strconv.FormatInt(*price, 10)
	}
	return string(platform) + ":nk:" + utils.HashParts(strings.ToLower(cleanText(name)), priceKey)
}
