package routine

import "runtime"

// PoolConfig holds configuration for the worker pool
type PoolConfig struct {
	// Name is attached to worker logs
	// default: "pool"
	Name string `mapstructure:"name"`
	// Size is the number of workers
	// default: runtime.NumCPU() * 2
	Size int `mapstructure:"size"`
	// QueueCapacity is the initial capacity of the submission queue; the queue grows past it
	// default: 64
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// DefaultPoolConfig returns the default configuration for the worker pool
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Name:          "pool",
		Size:          runtime.NumCPU() * 2,
		QueueCapacity: 64,
	}
}

// MergeDefaults fills zero fields with their default values
func (c *PoolConfig) MergeDefaults() {
	defaults := DefaultPoolConfig()
	if c.Name == "" {
		c.Name = defaults.Name
	}
	if c.Size == 0 {
		c.Size = defaults.Size
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = defaults.QueueCapacity
	}
}

// Validate validates the configuration
func (c *PoolConfig) Validate() error {
	if c.Size <= 0 {
		return ErrInvalidPoolSize(c.Size)
	}
	return nil
}
