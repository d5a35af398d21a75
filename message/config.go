package message

import (
	"slices"

	"github.com/dailyyoga/mongoconfigs/cache"
)

// Config holds configuration for message catalogs
type Config struct {
	// DefaultLanguage is the fallback for every lookup
	// default: "en"
	DefaultLanguage string `mapstructure:"default_language"`
	// SupportedLanguages lists the languages that may be requested; others resolve against DefaultLanguage
	// default: [DefaultLanguage]
	SupportedLanguages []string `mapstructure:"supported_languages"`
	// Collections are registered when the manager is created
	Collections []string `mapstructure:"collections"`
	// Cache configures the catalog cache
	Cache *cache.Config `mapstructure:"cache"`
}

// DefaultConfig returns the default configuration for message catalogs
func DefaultConfig() *Config {
	return &Config{
		DefaultLanguage:    "en",
		SupportedLanguages: []string{"en"},
		Cache:              defaultCacheConfig(),
	}
}

func defaultCacheConfig() *cache.Config {
	cfg := cache.DefaultConfig()
	cfg.Name = "messages"
	return cfg
}

// MergeDefaults fills zero fields with their default values
func (c *Config) MergeDefaults() {
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = "en"
	}
	if !slices.Contains(c.SupportedLanguages, c.DefaultLanguage) {
		c.SupportedLanguages = append(c.SupportedLanguages, c.DefaultLanguage)
	}
	if c.Cache == nil {
		c.Cache = defaultCacheConfig()
	}
	if c.Cache.Name == "" {
		c.Cache.Name = "messages"
	}
	c.Cache.MergeDefaults()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DefaultLanguage == "" {
		return ErrInvalidDefaultLanguage(c.DefaultLanguage)
	}
	for _, lang := range c.SupportedLanguages {
		if lang == "" {
			return ErrInvalidLanguage(lang)
		}
	}
	for _, name := range c.Collections {
		if name == "" {
			return ErrInvalidCollection(name)
		}
	}
	if c.Cache == nil {
		return cache.ErrInvalidName("")
	}
	return c.Cache.Validate()
}
