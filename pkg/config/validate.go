package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"catalog-scraper/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// DefaultDelay
	if c.DefaultDelay < 0 {
		warnings = append(warnings, "default_delay cannot be negative, defaulting to 1s")
		c.DefaultDelay = time.Second
	}

	// RequestTimeout
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// LookAhead
	if c.LookAhead <= 0 {
		c.LookAhead = 2
	}

	// MaxConcurrentPages
	if c.MaxConcurrentPages <= 0 {
		c.MaxConcurrentPages = 2
	}

	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 2 * time.Minute
	}

	// DiscountPolicy
	switch strings.ToLower(c.DiscountPolicy) {
	case "":
		c.DiscountPolicy = DiscountPolicyComputed
	case DiscountPolicyComputed, DiscountPolicySource:
		c.DiscountPolicy = strings.ToLower(c.DiscountPolicy)
	default:
		warnings = append(warnings, fmt.Sprintf(
			"discount_policy '%s' is unknown (use '%s' or '%s'), defaulting to '%s'",
			c.DiscountPolicy, DiscountPolicyComputed, DiscountPolicySource, DiscountPolicyComputed))
		c.DiscountPolicy = DiscountPolicyComputed
	}

	if c.AbsentMarker == "" {
		c.AbsentMarker = DefaultAbsentMarker
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './scraped_products'")
		c.OutputBaseDir = "./scraped_products"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './scraper_state'")
		c.StateDir = "./scraper_state"
	}

	if c.StoreCacheSize <= 0 {
		c.StoreCacheSize = 1024
	}
	if c.DBGCInterval <= 0 {
		c.DBGCInterval = 10 * time.Minute
	}

	c.validateHTTPClientSettings()
	c.validateRenderSettings()

	// Platforms
	if len(c.Platforms) == 0 {
		warnings = append(warnings, "no platforms configured, using built-in jumia and kilimall settings")
		c.Platforms = DefaultPlatforms()
	}
	for key, p := range c.Platforms {
		if p == nil {
			p = &PlatformConfig{}
			c.Platforms[key] = p
		}
		applyPlatformDefaults(key, p)
	}

	return warnings, nil // AppConfig validation never fails fatally
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 4
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

func (c *AppConfig) validateRenderSettings() {
	if c.Render.SettleDelay < 0 {
		c.Render.SettleDelay = 0
	}
}

// PlatformKeys returns configured platform keys in sorted order
func (c *AppConfig) PlatformKeys() []string {
	keys := make([]string, 0, len(c.Platforms))
	for k := range c.Platforms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks PlatformConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
func (p *PlatformConfig) Validate() (warnings []string, err error) {
	// Required: BaseURL, absolute http(s)
	if p.BaseURL == "" {
		return nil, fmt.Errorf("%w: platform needs base_url", utils.ErrConfigValidation)
	}
	u, parseErr := url.Parse(p.BaseURL)
	if parseErr != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: base_url '%s' must be an absolute http(s) URL", utils.ErrConfigValidation, p.BaseURL)
	}
	p.BaseURL = strings.TrimRight(p.BaseURL, "/")

	// FetchStrategy
	switch p.FetchStrategy {
	case "":
		p.FetchStrategy = FetchStrategyHTTP
	case FetchStrategyHTTP, FetchStrategyRender:
	default:
		return nil, fmt.Errorf("%w: fetch_strategy '%s' must be '%s' or '%s'",
			utils.ErrConfigValidation, p.FetchStrategy, FetchStrategyHTTP, FetchStrategyRender)
	}

	if p.MinDelay < 0 {
		warnings = append(warnings, "Platform min_delay cannot be negative, setting to 0")
		p.MinDelay = 0
	}
	if p.DelayJitter < 0 {
		warnings = append(warnings, "Platform delay_jitter cannot be negative, setting to 0")
		p.DelayJitter = 0
	}
	if p.MaxPageLimit < 0 {
		warnings = append(warnings, "Platform max_page_limit cannot be negative, setting to 0 (unknown)")
		p.MaxPageLimit = 0
	}
	if p.MaxConcurrentPages < 0 {
		warnings = append(warnings, "Platform max_concurrent_pages cannot be negative, using global setting")
		p.MaxConcurrentPages = 0
	}
	if p.FetchStrategy == FetchStrategyHTTP && p.WaitSelector != "" {
		warnings = append(warnings, "Platform wait_selector only applies to the render fetch strategy")
	}

	return warnings, nil
}
