package cache

import "time"

// Config holds configuration for a loading cache
type Config struct {
	// Name is used for logging purposes to identify the cache (required)
	Name string `mapstructure:"name"`
	// MaxSize is the maximum number of entries; the least recently used entry is evicted beyond it
	// default: 10000
	MaxSize uint64 `mapstructure:"max_size"`
	// TTL is the time an entry lives after it was written
	// default: 30 * time.Minute
	TTL time.Duration `mapstructure:"ttl"`
	// RefreshAfterWrite is the age after which a read triggers a background refresh; must be below TTL
	// default: 5 * time.Minute
	RefreshAfterWrite time.Duration `mapstructure:"refresh_after_write"`
	// FetchTimeout bounds each Loader call
	// default: 10 * time.Second
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// DefaultConfig returns the default configuration for a loading cache
// Note: Name has no default value and must be explicitly set by the user
func DefaultConfig() *Config {
	return &Config{
		MaxSize:           10000,
		TTL:               30 * time.Minute,
		RefreshAfterWrite: 5 * time.Minute,
		FetchTimeout:      10 * time.Second,
	}
}

// MergeDefaults fills zero fields with their default values
func (c *Config) MergeDefaults() {
	defaults := DefaultConfig()
	if c.MaxSize == 0 {
		c.MaxSize = defaults.MaxSize
	}
	if c.TTL == 0 {
		c.TTL = defaults.TTL
	}
	if c.RefreshAfterWrite == 0 {
		c.RefreshAfterWrite = defaults.RefreshAfterWrite
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = defaults.FetchTimeout
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Name == "" {
		return ErrInvalidName(c.Name)
	}
	if c.TTL <= 0 {
		return ErrInvalidTTL(c.TTL)
	}
	if c.RefreshAfterWrite <= 0 || c.RefreshAfterWrite >= c.TTL {
		return ErrInvalidRefreshAfterWrite(c.RefreshAfterWrite, c.TTL)
	}
	if c.FetchTimeout <= 0 {
		return ErrInvalidFetchTimeout(c.FetchTimeout)
	}
	return nil
}
