package config

import "time"

// Fetch strategies selectable per platform
const (
	FetchStrategyHTTP   = "http"   // Plain HTTP GET of the listing page
	FetchStrategyRender = "render" // Headless browser render, then capture the DOM
)

// Discount policies applied when a source discount string disagrees with the price pair
const (
	DiscountPolicyComputed = "computed" // Prefer round((original-price)/original*100)
	DiscountPolicySource   = "source"   // Prefer the platform's own discount badge
)

// PlatformConfig holds configuration specific to one source platform
type PlatformConfig struct {
	BaseURL            string        `yaml:"base_url"`
	FetchStrategy      string        `yaml:"fetch_strategy,omitempty"`
	UserAgent          string        `yaml:"user_agent,omitempty"`
	MinDelay           time.Duration `yaml:"min_delay,omitempty"`    // Minimum spacing between requests to this platform
	DelayJitter        time.Duration `yaml:"delay_jitter,omitempty"` // Extra random spacing in [0, jitter)
	RequestTimeout     time.Duration `yaml:"request_timeout,omitempty"`
	MaxPageLimit       int           `yaml:"max_page_limit,omitempty"` // Platform's own pagination cap, 0 = unknown
	MaxConcurrentPages int           `yaml:"max_concurrent_pages,omitempty"`
	StopOnEmptyPage    *bool         `yaml:"stop_on_empty_page,omitempty"`
	WaitSelector       string        `yaml:"wait_selector,omitempty"` // Render strategy only
	DefaultCategory    string        `yaml:"default_category,omitempty"`
	KnownBrands        []string      `yaml:"known_brands,omitempty"`
}

// RenderConfig holds settings for the headless browser fetch strategy
type RenderConfig struct {
	BrowserBin  string        `yaml:"browser_bin,omitempty"` // Empty lets the launcher download/locate Chromium
	ShowBrowser bool          `yaml:"show_browser,omitempty"`
	NoSandbox   bool          `yaml:"no_sandbox,omitempty"`
	SettleDelay time.Duration `yaml:"settle_delay,omitempty"` // Extra wait after load for late listing scripts
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent        string                     `yaml:"default_user_agent"`
	DefaultDelay            time.Duration              `yaml:"default_delay"`
	RequestTimeout          time.Duration              `yaml:"request_timeout"`
	MaxRetries              int                        `yaml:"max_retries,omitempty"`
	InitialRetryDelay       time.Duration              `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay           time.Duration              `yaml:"max_retry_delay,omitempty"`
	LookAhead               int                        `yaml:"look_ahead,omitempty"` // Pages in flight per job
	MaxConcurrentPages      int                        `yaml:"max_concurrent_pages,omitempty"`
	SemaphoreAcquireTimeout time.Duration              `yaml:"semaphore_acquire_timeout,omitempty"`
	StopOnEmptyPage         bool                       `yaml:"stop_on_empty_page,omitempty"`
	DiscountPolicy          string                     `yaml:"discount_policy,omitempty"`
	AbsentMarker            string                     `yaml:"absent_marker,omitempty"` // CSV rendering of missing values
	OutputBaseDir           string                     `yaml:"output_base_dir"`
	StateDir                string                     `yaml:"state_dir"`
	StoreCacheSize          int                        `yaml:"store_cache_size,omitempty"`
	DBGCInterval            time.Duration              `yaml:"db_gc_interval,omitempty"`
	MetricsAddr             string                     `yaml:"metrics_addr,omitempty"`
	LogLevel                string                     `yaml:"log_level,omitempty"`
	Render                  RenderConfig               `yaml:"render,omitempty"`
	HTTPClientSettings      HTTPClientConfig           `yaml:"http_client_settings,omitempty"`
	Platforms               map[string]*PlatformConfig `yaml:"platforms"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"`
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil = default, true = force, false = disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
}

// Platform returns the named platform config, or nil if it is not configured
func (c *AppConfig) Platform(key string) *PlatformConfig {
	if c == nil || c.Platforms == nil {
		return nil
	}
	return c.Platforms[key]
}

// GetEffectiveUserAgent determines the User-Agent header for a platform
func GetEffectiveUserAgent(p *PlatformConfig, appCfg *AppConfig) string {
	if p != nil && p.UserAgent != "" {
		return p.UserAgent
	}
	if appCfg.DefaultUserAgent != "" {
		return appCfg.DefaultUserAgent
	}
	return DefaultUserAgent
}

// GetEffectiveMinDelay determines the minimum request spacing for a platform
func GetEffectiveMinDelay(p *PlatformConfig, appCfg *AppConfig) time.Duration {
	if p != nil && p.MinDelay > 0 {
		return p.MinDelay
	}
	return appCfg.DefaultDelay
}

// GetEffectiveRequestTimeout determines the per-attempt fetch timeout
func GetEffectiveRequestTimeout(p *PlatformConfig, appCfg *AppConfig) time.Duration {
	if p != nil && p.RequestTimeout > 0 {
		return p.RequestTimeout
	}
	return appCfg.RequestTimeout
}

// GetEffectiveMaxConcurrentPages determines how many pages of one platform may be in flight
func GetEffectiveMaxConcurrentPages(p *PlatformConfig, appCfg *AppConfig) int {
	if p != nil && p.MaxConcurrentPages > 0 {
		return p.MaxConcurrentPages
	}
	if appCfg.MaxConcurrentPages > 0 {
		return appCfg.MaxConcurrentPages
	}
	return 1
}

// GetEffectiveStopOnEmptyPage reports whether a page with no product containers ends the job
func GetEffectiveStopOnEmptyPage(p *PlatformConfig, appCfg *AppConfig) bool {
	if p != nil && p.StopOnEmptyPage != nil {
		return *p.StopOnEmptyPage
	}
	return appCfg.StopOnEmptyPage
}

// GetEffectiveFetchStrategy determines how pages of a platform are fetched
func GetEffectiveFetchStrategy(p *PlatformConfig) string {
	if p == nil || p.FetchStrategy == "" {
		return FetchStrategyHTTP
	}
	return p.FetchStrategy
}
