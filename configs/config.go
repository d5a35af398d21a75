package configs

import (
	"github.com/dailyyoga/mongoconfigs/broadcast"
	"github.com/dailyyoga/mongoconfigs/changefeed"
	"github.com/dailyyoga/mongoconfigs/message"
	"github.com/dailyyoga/mongoconfigs/object"
	"github.com/dailyyoga/mongoconfigs/reload"
	"github.com/dailyyoga/mongoconfigs/routine"
)

// Config holds the configuration of every engine component
type Config struct {
	Pool       *routine.PoolConfig `mapstructure:"pool"`
	Message    *message.Config     `mapstructure:"message"`
	Object     *object.Config      `mapstructure:"object"`
	ChangeFeed *changefeed.Config  `mapstructure:"changefeed"`
	Reload     *reload.Config      `mapstructure:"reload"`
	Broadcast  *broadcast.Config   `mapstructure:"broadcast"`
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() *Config {
	pool := routine.DefaultPoolConfig()
	pool.Name = "configs"
	return &Config{
		Pool:       pool,
		Message:    message.DefaultConfig(),
		Object:     object.DefaultConfig(),
		ChangeFeed: changefeed.DefaultConfig(),
		Reload:     reload.DefaultConfig(),
		Broadcast:  broadcast.DefaultConfig(),
	}
}

// MergeDefaults fills nil sections and zero fields with their default values
func (c *Config) MergeDefaults() {
	defaults := DefaultConfig()
	if c.Pool == nil {
		c.Pool = defaults.Pool
	}
	if c.Message == nil {
		c.Message = defaults.Message
	}
	if c.Object == nil {
		c.Object = defaults.Object
	}
	if c.ChangeFeed == nil {
		c.ChangeFeed = defaults.ChangeFeed
	}
	if c.Reload == nil {
		c.Reload = defaults.Reload
	}
	if c.Broadcast == nil {
		c.Broadcast = defaults.Broadcast
	}
	c.Pool.MergeDefaults()
	c.Message.MergeDefaults()
	c.Object.MergeDefaults()
	c.ChangeFeed.MergeDefaults()
	c.Reload.MergeDefaults()
	c.Broadcast.MergeDefaults()
}

// Validate validates every section
func (c *Config) Validate() error {
	if c.Pool == nil || c.Message == nil || c.Object == nil || c.ChangeFeed == nil || c.Reload == nil || c.Broadcast == nil {
		return ErrMissingSection
	}
	if err := c.Pool.Validate(); err != nil {
		return err
	}
	if err := c.Message.Validate(); err != nil {
		return err
	}
	if err := c.Object.Validate(); err != nil {
		return err
	}
	if err := c.ChangeFeed.Validate(); err != nil {
		return err
	}
	if err := c.Reload.Validate(); err != nil {
		return err
	}
	return c.Broadcast.Validate()
}
