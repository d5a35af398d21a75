package object

import "github.com/dailyyoga/mongoconfigs/cache"

// Config holds configuration for typed objects
type Config struct {
	// Cache configures the object cache
	Cache *cache.Config `mapstructure:"cache"`
}

// DefaultConfig returns the default configuration for typed objects
func DefaultConfig() *Config {
	return &Config{Cache: defaultCacheConfig()}
}

func defaultCacheConfig() *cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Name = "objects"
	return cfg
}

// MergeDefaults fills zero fields with their default values
func (c *Config) MergeDefaults() {
	if c.Cache == nil {
		c.Cache = defaultCacheConfig()
	}
	if c.Cache.Name == "" {
		c.Cache.Name = "objects"
	}
	c.Cache.MergeDefaults()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Cache == nil {
		return cache.ErrInvalidName("")
	}
	return c.Cache.Validate()
}
