package mongostore

import "time"

// Config is the configuration for the MongoDB store
type Config struct {
	// URI is the connection string (required)
	URI string `mapstructure:"uri"`
	// Database holds every config and message collection (required)
	Database string `mapstructure:"database"`
	// default: 10s
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// default: 5s
	ServerSelectionTimeout time.Duration `mapstructure:"server_selection_timeout"`
	// MaxPoolSize caps the driver connection pool
	// default: 50
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
}

// DefaultConfig returns the default configuration for the MongoDB store
func DefaultConfig() *Config {
	return &Config{
		URI:                    "mongodb://localhost:27017",
		Database:               "configs",
		ConnectTimeout:         10 * time.Second,
		ServerSelectionTimeout: 5 * time.Second,
		MaxPoolSize:            50,
	}
}

// MergeDefaults fills zero fields with their default values
func (c *Config) MergeDefaults() {
	defaults := DefaultConfig()
	if c.URI == "" {
		c.URI = defaults.URI
	}
	if c.Database == "" {
		c.Database = defaults.Database
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaults.ConnectTimeout
	}
	if c.ServerSelectionTimeout == 0 {
		c.ServerSelectionTimeout = defaults.ServerSelectionTimeout
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = defaults.MaxPoolSize
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.URI == "" {
		return ErrInvalidConfig("uri is required")
	}
	if c.Database == "" {
		return ErrInvalidConfig("database is required")
	}
	if c.ConnectTimeout <= 0 {
		return ErrInvalidConfig("connect_timeout must be greater than 0")
	}
	if c.ServerSelectionTimeout <= 0 {
		return ErrInvalidConfig("server_selection_timeout must be greater than 0")
	}
	return nil
}
