package config

import "time"

// DefaultUserAgent is sent when neither the platform nor the app config sets one
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// DefaultAbsentMarker renders a missing value in CSV exports
const DefaultAbsentMarker = "N/A"

// DefaultPlatforms returns the built-in platform settings.
// A fresh map is returned on every call so callers may modify it.
func DefaultPlatforms() map[string]*PlatformConfig {
	return map[string]*PlatformConfig{
		"jumia": {
			BaseURL:            "https://www.jumia.co.ke",
			FetchStrategy:      FetchStrategyHTTP,
			MinDelay:           1 * time.Second,
			DelayJitter:        1 * time.Second,
			MaxPageLimit:       50,
			MaxConcurrentPages: 2,
			DefaultCategory:    "Mobile Phones",
			KnownBrands: []string{
				"Samsung", "Apple", "Tecno", "Infinix", "Xiaomi", "Oppo", "Vivo", "Nokia",
				"Huawei", "Itel", "Realme", "OnePlus", "Google", "Motorola", "Sony", "LG",
			},
		},
		"kilimall": {
			BaseURL:            "https://www.kilimall.co.ke",
			FetchStrategy:      FetchStrategyRender,
			MinDelay:           2 * time.Second,
			DelayJitter:        2 * time.Second,
			MaxPageLimit:       3, // Listings past page 3 repeat or come back empty
			MaxConcurrentPages: 1,
			WaitSelector:       ".listing-item",
			DefaultCategory:    "Electronics",
			KnownBrands: []string{
				"Vitron", "Samsung", "LG", "Hisense", "TCL", "Sony", "Skyworth", "Tecno",
				"Infinix", "Xiaomi", "Ramtons", "Von", "Mika", "Armco", "Nunix", "Bruhm",
			},
		},
	}
}

// applyPlatformDefaults fills zero fields of p from the built-in settings for the same key
func applyPlatformDefaults(key string, p *PlatformConfig) {
	def, ok := DefaultPlatforms()[key]
	if !ok {
		return
	}
	if p.BaseURL == "" {
		p.BaseURL = def.BaseURL
	}
	if p.FetchStrategy == "" {
		p.FetchStrategy = def.FetchStrategy
	}
	if p.MinDelay == 0 {
		p.MinDelay = def.MinDelay
	}
	if p.DelayJitter == 0 {
		p.DelayJitter = def.DelayJitter
	}
	if p.MaxPageLimit == 0 {
		p.MaxPageLimit = def.MaxPageLimit
	}
	if p.MaxConcurrentPages == 0 {
		p.MaxConcurrentPages = def.MaxConcurrentPages
	}
	if p.WaitSelector == "" {
		p.WaitSelector = def.WaitSelector
	}
	if p.DefaultCategory == "" {
		p.DefaultCategory = def.DefaultCategory
	}
	if len(p.KnownBrands) == 0 {
		p.KnownBrands = def.KnownBrands
	}
}
