package changefeed

import "time"

// Config holds configuration for change feed listeners
type Config struct {
	// MaxReconnectAttempts is the number of consecutive failed reconnects before the listener gives up
	// default: 10
	MaxReconnectAttempts int `mapstructure:"max_reconnect_attempts"`
	// BackoffBase is the delay before the first reconnect; it doubles on every further attempt
	// default: 500 * time.Millisecond
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	// BackoffMax caps the reconnect delay. A stream that stayed open this long resets the attempt count.
	// default: 30 * time.Second
	BackoffMax time.Duration `mapstructure:"backoff_max"`
	// BufferSize is the initial capacity of the event buffer between the cursor and the handler
	// default: 64
	BufferSize int `mapstructure:"buffer_size"`
	// CloseTimeout bounds releasing the store cursor on shutdown
	// default: 5 * time.Second
	CloseTimeout time.Duration `mapstructure:"close_timeout"`
}

// DefaultConfig returns the default configuration for change feed listeners
func DefaultConfig() *Config {
	return &Config{
		MaxReconnectAttempts: 10,
		BackoffBase:          500 * time.Millisecond,
		BackoffMax:           30 * time.Second,
		BufferSize:           64,
		CloseTimeout:         5 * time.Second,
	}
}

// MergeDefaults fills zero fields with their default values
func (c *Config) MergeDefaults() {
	defaults := DefaultConfig()
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = defaults.MaxReconnectAttempts
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = defaults.BackoffBase
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = defaults.BackoffMax
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaults.BufferSize
	}
	if c.CloseTimeout == 0 {
		c.CloseTimeout = defaults.CloseTimeout
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MaxReconnectAttempts <= 0 {
		return ErrInvalidMaxReconnectAttempts(c.MaxReconnectAttempts)
	}
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		return ErrInvalidBackoff(c.BackoffBase, c.BackoffMax)
	}
	if c.BufferSize <= 0 {
		return ErrInvalidBufferSize(c.BufferSize)
	}
	if c.CloseTimeout <= 0 {
		return ErrInvalidCloseTimeout(c.CloseTimeout)
	}
	return nil
}
