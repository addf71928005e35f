package config

import "time"

// CacheConfig defines settings for the availability cache.  When Enabled
// is false or no Redis client is configured, every availability read goes
// to the store.  TTL bounds how stale a cached seat list may be; entries
// are also dropped on every reservation transition.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadCacheConfig reads environment variables to build a CacheConfig.
func LoadCacheConfig() CacheConfig {
	cfg := CacheConfig{
		Enabled: envBool("CACHE_ENABLED", true),
		TTL:     envDur("CACHE_TTL", 5*time.Second),
		Prefix:  envStr("CACHE_PREFIX", "avail"),
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Second
	}
	return cfg
}
