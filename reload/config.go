package reload

// Config holds configuration for the reload coordinator
type Config struct {
	// MaxConcurrency bounds how many ids a batch reloads at once
	// default: 4
	MaxConcurrency int `mapstructure:"max_concurrency"`
	// Schedule is a 6-field cron spec (with seconds) for periodic full reloads; empty disables them
	// example: "0 */15 * * * *"
	Schedule string `mapstructure:"schedule"`
}

// DefaultConfig returns the default configuration for the reload coordinator
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency: 4,
	}
}

// MergeDefaults fills zero fields with their default values
func (c *Config) MergeDefaults() {
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MaxConcurrency <= 0 {
		return ErrInvalidMaxConcurrency(c.MaxConcurrency)
	}
	return nil
}
